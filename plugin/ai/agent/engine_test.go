package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/meetingagent/plugin/ai/memory"
	"github.com/hrygo/meetingagent/server/service/schedule"
)

// testNow is Monday 2025-03-10 09:00 UTC.
var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// day returns hh:mm on testNow's date plus offset days.
func day(offset, hour, minute int) time.Time {
	return time.Date(2025, 3, 10+offset, hour, minute, 0, 0, time.UTC)
}

func timePtr(t time.Time) *time.Time {
	return &t
}

type testEngine struct {
	*Engine
	calendar  *mockCalendar
	memory    *memory.Service
	persister *memory.MockPersister
}

func newTestEngine(t *testing.T, mode Mode, mutate ...func(*Config)) *testEngine {
	t.Helper()
	calendar := newMockCalendar()
	persister := memory.NewMockPersister()
	mem := memory.NewService(persister, memory.DefaultConfig(), time.Second)
	t.Cleanup(mem.Close)

	config := DefaultConfig()
	config.DefaultMode = mode
	for _, fn := range mutate {
		fn(&config)
	}
	engine := NewEngine("alice", calendar, mem, config, WithClock(func() time.Time { return testNow }))
	return &testEngine{Engine: engine, calendar: calendar, memory: mem, persister: persister}
}

func (te *testEngine) history(t *testing.T) []memory.Record {
	t.Helper()
	m, err := te.memory.Session(context.Background(), "alice")
	require.NoError(t, err)
	return m.History()
}

func request(start time.Time, minutes int, participants ...string) *schedule.SchedulingRequest {
	return &schedule.SchedulingRequest{
		Title:           "Sync",
		Participants:    participants,
		Start:           timePtr(start),
		DurationMinutes: minutes,
	}
}

func TestDecide_NoConflictBooks(t *testing.T) {
	te := newTestEngine(t, ModeAutonomous)

	d, err := te.Decide(context.Background(), request(day(1, 10, 0), 30, "Bob"))
	require.NoError(t, err)

	assert.Equal(t, ActionBooked, d.Action)
	assert.Equal(t, 1.0, d.Confidence)
	require.NotNil(t, d.Meeting)
	assert.Equal(t, day(1, 10, 0).Unix(), d.Meeting.StartTs)
	assert.Equal(t, day(1, 10, 30).Unix(), d.Meeting.EndTs)
	assert.Equal(t, []State{StateReceived, StateConflictChecked, StateNoConflict, StateDecided, State(ActionBooked)}, d.Trace)
	assert.False(t, d.RequiresConfirmation)
	assert.NotEmpty(t, d.ID)
	assert.NotEmpty(t, d.RequestID)

	history := te.history(t)
	require.Len(t, history, 1)
	assert.Equal(t, "BOOKED", history[0].Action)
	assert.Equal(t, 10, history[0].Hour)
	assert.Equal(t, d.ID, history[0].ID)
	assert.Equal(t, 1, te.persister.SaveCount("alice"))
}

func TestDecide_ConflictAutonomousBooksAlternative(t *testing.T) {
	te := newTestEngine(t, ModeAutonomous)
	existing := te.calendar.add("Design", day(1, 10, 0), 60, "", "Bob")

	d, err := te.Decide(context.Background(), request(day(1, 10, 15), 30, "bob"))
	require.NoError(t, err)

	assert.Equal(t, ActionBooked, d.Action)
	assert.Equal(t, []int32{existing}, d.Conflicts)
	assert.GreaterOrEqual(t, d.Confidence, 0.60)
	assert.Less(t, d.Confidence, 0.85)
	require.NotNil(t, d.Meeting)
	assert.Equal(t, day(1, 9, 30).Unix(), d.Meeting.StartTs)
	assert.Contains(t, d.Trace, StateCandidatesGenerated)
	assert.Contains(t, d.Trace, StateScored)
	assert.Equal(t, 2, te.calendar.count())
}

func TestDecide_ConflictBalancedSuggests(t *testing.T) {
	te := newTestEngine(t, ModeBalanced)
	te.calendar.add("Design", day(1, 10, 0), 60, "", "Bob")

	d, err := te.Decide(context.Background(), request(day(1, 10, 15), 30, "Bob"))
	require.NoError(t, err)

	assert.Equal(t, ActionSuggested, d.Action)
	assert.True(t, d.RequiresConfirmation)
	assert.Nil(t, d.Meeting)
	assert.Contains(t, d.Diagnostic, "below BALANCED threshold 0.85")
	require.Len(t, d.Candidates, 3)
	assert.Equal(t, day(1, 9, 30), d.Candidates[0].Start)
	assert.Equal(t, day(1, 11, 0), d.Candidates[1].Start)
	for i, c := range d.Candidates {
		assert.False(t, c.Start.Before(day(1, 11, 0)) && c.End.After(day(1, 10, 0)), "candidate %d overlaps the conflict", i)
		if i > 0 {
			assert.LessOrEqual(t, c.Score, d.Candidates[i-1].Score)
		}
	}
	assert.Equal(t, 0, te.calendar.createCalls)
	assert.Equal(t, 1, te.calendar.count())
}

func TestDecide_AfterHoursMovesToNextOpening(t *testing.T) {
	te := newTestEngine(t, ModeAutonomous)

	d, err := te.Decide(context.Background(), request(day(1, 19, 0), 60, "Bob"))
	require.NoError(t, err)

	assert.Equal(t, day(2, 8, 0), d.Reference)
	assert.Equal(t, ActionBooked, d.Action)
	require.NotNil(t, d.Meeting)
	assert.Equal(t, day(2, 8, 0).Unix(), d.Meeting.StartTs)
	for _, c := range d.Candidates {
		assert.NotEqual(t, day(1, 19, 0), c.Start)
	}
}

func TestDecide_ExhaustedRejects(t *testing.T) {
	te := newTestEngine(t, ModeAutonomous)
	te.calendar.add("Offsite", testNow.Add(-24*time.Hour), 30*24*60, "", "Bob")

	d, err := te.Decide(context.Background(), request(day(1, 10, 0), 30, "Bob"))
	require.Error(t, err)

	var exhausted *ExhaustionError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, err, schedule.ErrSearchExhausted)
	assert.True(t, ClassifyError(err).IsConflict())

	require.NotNil(t, d)
	assert.Equal(t, ActionRejected, d.Action)
	assert.Contains(t, d.Diagnostic, "horizon=14 days")
	assert.Contains(t, d.Diagnostic, "step=15 minutes")
	assert.Contains(t, d.Trace, StateExhausted)
	assert.Empty(t, d.Candidates)

	history := te.history(t)
	require.Len(t, history, 1)
	assert.Equal(t, "REJECTED", history[0].Action)
	assert.Equal(t, -1, history[0].Hour)
}

func TestDecide_LearnsPreferredHour(t *testing.T) {
	te := newTestEngine(t, ModeAutonomous)
	ctx := context.Background()

	for _, offset := range []int{1, 2, 3, 4, 7} {
		d, err := te.Decide(ctx, request(day(offset, 10, 0), 30, "Bob"))
		require.NoError(t, err)
		require.Equal(t, ActionBooked, d.Action)

		_, degraded, err := te.Feedback(ctx, d.ID, 0.9)
		require.NoError(t, err)
		assert.False(t, degraded)
	}

	_, err := te.SetMode(ctx, ModeConservative)
	require.NoError(t, err)

	te.calendar.add("Short", day(8, 10, 0), 15, "", "Bob")
	te.calendar.add("Short", day(8, 16, 0), 15, "", "Bob")

	morning, err := te.Decide(ctx, request(day(8, 10, 0), 30, "Bob"))
	require.NoError(t, err)
	afternoon, err := te.Decide(ctx, request(day(8, 16, 0), 30, "Bob"))
	require.NoError(t, err)

	assert.Equal(t, ActionSuggested, morning.Action)
	assert.Equal(t, day(8, 10, 15), morning.Candidates[0].Start)
	assert.Equal(t, day(8, 16, 15), afternoon.Candidates[0].Start)
	assert.Greater(t, morning.Confidence, afternoon.Confidence)

	insight, err := te.Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, insight.Report.PreferredHour)
	assert.Equal(t, 5, insight.Report.Bookings)
	assert.Equal(t, string(ModeConservative), insight.Report.Mode)
}

func TestDecide_ConfirmationModesNeverBook(t *testing.T) {
	for _, mode := range []Mode{ModeConservative, ModeLearning} {
		t.Run(string(mode), func(t *testing.T) {
			te := newTestEngine(t, mode)

			d, err := te.Decide(context.Background(), request(day(1, 10, 0), 30, "Bob"))
			require.NoError(t, err)

			assert.Equal(t, ActionSuggested, d.Action)
			assert.Equal(t, 1.0, d.Confidence)
			assert.True(t, d.RequiresConfirmation)
			assert.Equal(t, mode, d.Mode)
			assert.Equal(t, 0, te.calendar.createCalls)

			history := te.history(t)
			require.Len(t, history, 1)
			if mode == ModeLearning {
				assert.Equal(t, 2.0, history[0].Boost)
			} else {
				assert.Equal(t, 1.0, history[0].Boost)
			}
		})
	}
}

func TestConfirm(t *testing.T) {
	te := newTestEngine(t, ModeConservative)
	ctx := context.Background()
	te.calendar.add("Design", day(1, 10, 0), 60, "", "Bob")
	req := request(day(1, 10, 15), 30, "Bob")

	suggested, err := te.Decide(ctx, req)
	require.NoError(t, err)
	require.Equal(t, ActionSuggested, suggested.Action)

	confirmed, err := te.Confirm(ctx, req, suggested.Candidates[0].Start)
	require.NoError(t, err)
	assert.Equal(t, ActionBooked, confirmed.Action)
	require.NotNil(t, confirmed.Meeting)
	assert.Equal(t, day(1, 9, 30).Unix(), confirmed.Meeting.StartTs)
	assert.Equal(t, 1.0, confirmed.Confidence)

	// The slot is now taken.
	again, err := te.Confirm(ctx, req, suggested.Candidates[0].Start)
	require.Error(t, err)
	assert.ErrorIs(t, err, schedule.ErrMeetingConflict)
	assert.Equal(t, ActionRejected, again.Action)
	assert.Equal(t, []int32{confirmed.Meeting.ID}, again.Conflicts)

	report := te.history(t)
	require.Len(t, report, 2)
	assert.Equal(t, "BOOKED", report[1].Action)
}

func TestDecide_ValidationBeforeStoreAccess(t *testing.T) {
	te := newTestEngine(t, ModeAutonomous)

	tests := []struct {
		name string
		req  *schedule.SchedulingRequest
	}{
		{name: "nil", req: nil},
		{name: "missing title", req: &schedule.SchedulingRequest{Start: timePtr(day(1, 10, 0)), DurationMinutes: 30}},
		{name: "zero duration", req: &schedule.SchedulingRequest{Title: "x", Start: timePtr(day(1, 10, 0))}},
		{name: "past start", req: &schedule.SchedulingRequest{Title: "x", Start: timePtr(day(-1, 10, 0)), DurationMinutes: 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := te.Decide(context.Background(), tt.req)
			require.Error(t, err)

			var validation *ValidationError
			assert.ErrorAs(t, err, &validation)
			assert.ErrorIs(t, err, schedule.ErrInvalidRequest)
			assert.Equal(t, ErrorClassPermanent, validation.Class())
			require.NotNil(t, d)
			assert.Equal(t, ActionRejected, d.Action)
		})
	}
	assert.Equal(t, 0, te.calendar.findCalls)
	assert.Equal(t, 0, te.persister.SaveCount("alice"))
}

func TestDecide_StoreUnavailable(t *testing.T) {
	te := newTestEngine(t, ModeAutonomous)
	te.calendar.findErr = errors.New("dial tcp: connection refused")

	d, err := te.Decide(context.Background(), request(day(1, 10, 0), 30, "Bob"))
	require.Error(t, err)

	var unavailable *StoreUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.True(t, unavailable.Transient())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, ClassifyError(err).IsTransient())
	assert.Equal(t, ActionRejected, d.Action)
	assert.Contains(t, d.Diagnostic, "connection refused")
	assert.Equal(t, int64(1), te.Metrics().Snapshot().CycleFailed)
}

func TestDecide_StoreTimeout(t *testing.T) {
	te := newTestEngine(t, ModeAutonomous, func(c *Config) {
		c.StoreTimeout = 20 * time.Millisecond
	})
	te.calendar.blockFind = true

	d, err := te.Decide(context.Background(), request(day(1, 10, 0), 30, "Bob"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ActionRejected, d.Action)
	assert.Empty(t, te.history(t))
}

func TestDecide_BookingNotPersisted(t *testing.T) {
	te := newTestEngine(t, ModeAutonomous)
	te.calendar.createErr = errors.New("disk full")

	d, err := te.Decide(context.Background(), request(day(1, 10, 0), 30, "Bob"))
	require.Error(t, err)

	var notPersisted *BookingNotPersistedError
	require.ErrorAs(t, err, &notPersisted)
	assert.ErrorIs(t, err, ErrBookingNotPersisted)
	assert.Equal(t, day(1, 10, 0), notPersisted.Start)
	assert.Equal(t, ActionRejected, d.Action)
	assert.Nil(t, d.Meeting)

	// The failure is remembered, without a slot to learn an hour from.
	history := te.history(t)
	require.Len(t, history, 1)
	assert.Equal(t, "REJECTED", history[0].Action)
	assert.Equal(t, -1, history[0].Hour)
	assert.Equal(t, history[0].ID, d.ID)
	assert.Equal(t, 1, te.persister.SaveCount("alice"))

	m, err := te.memory.Session(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, m.Report().Bookings)
}

func TestConfirm_BookingNotPersisted(t *testing.T) {
	te := newTestEngine(t, ModeConservative)
	te.calendar.createErr = errors.New("disk full")

	d, err := te.Confirm(context.Background(), request(day(1, 10, 0), 30, "Bob"), day(1, 10, 0))
	require.ErrorIs(t, err, ErrBookingNotPersisted)
	assert.Equal(t, ActionRejected, d.Action)

	history := te.history(t)
	require.Len(t, history, 1)
	assert.Equal(t, "REJECTED", history[0].Action)
}

func TestDecide_DegradedDurability(t *testing.T) {
	te := newTestEngine(t, ModeAutonomous)
	// Load the session before saves start failing.
	_, err := te.Mode(context.Background())
	require.NoError(t, err)
	te.persister.FailSave = true

	d, err := te.Decide(context.Background(), request(day(1, 10, 0), 30, "Bob"))
	require.NoError(t, err)

	assert.Equal(t, ActionBooked, d.Action)
	assert.True(t, d.DegradedDurability)
	assert.Equal(t, 1, te.calendar.count())
	assert.Len(t, te.history(t), 1)
	assert.True(t, te.memory.Degraded("alice"))
	assert.Equal(t, int64(1), te.Metrics().Snapshot().Degraded)
}

func TestDecide_Cancellation(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		te := newTestEngine(t, ModeAutonomous)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		d, err := te.Decide(ctx, request(day(1, 10, 0), 30, "Bob"))
		assert.Nil(t, d)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, te.calendar.findCalls)
	})

	t.Run("during calendar query", func(t *testing.T) {
		te := newTestEngine(t, ModeAutonomous)
		te.calendar.blockFind = true
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(10*time.Millisecond, cancel)

		d, err := te.Decide(ctx, request(day(1, 10, 0), 30, "Bob"))
		assert.Nil(t, d)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, te.calendar.createCalls)
		assert.Empty(t, te.history(t))
	})
}

func TestDecide_SoftConflictPolicy(t *testing.T) {
	tests := []struct {
		policy string
		want   Action
	}{
		{policy: "", want: ActionBooked},
		{policy: SoftPolicyInformational, want: ActionBooked},
		{policy: SoftPolicyBlock, want: ActionDeferred},
		{policy: "soft_conflicts > 0 && mode == 'AUTONOMOUS'", want: ActionDeferred},
		{policy: "soft_conflicts > 5", want: ActionBooked},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			policy, err := NewSoftConflictPolicy(tt.policy)
			require.NoError(t, err)
			te := newTestEngine(t, ModeAutonomous, func(c *Config) {
				c.SoftConflicts = policy
			})
			other := te.calendar.add("Carol 1:1", day(1, 10, 0), 60, "", "Carol")

			d, err := te.Decide(context.Background(), request(day(1, 10, 0), 30, "Bob"))
			require.NoError(t, err)

			assert.Equal(t, tt.want, d.Action)
			assert.Empty(t, d.Conflicts)
			assert.Equal(t, []int32{other}, d.SoftConflicts)
			require.NotEmpty(t, d.Candidates)
			assert.True(t, d.Candidates[0].Conflict)
			if tt.want == ActionDeferred {
				assert.True(t, d.RequiresConfirmation)
				assert.Equal(t, 1, te.calendar.count())
			} else {
				assert.Equal(t, 2, te.calendar.count())
			}
		})
	}
}

func TestDecide_DefaultStart(t *testing.T) {
	te := newTestEngine(t, ModeAutonomous)

	d, err := te.Decide(context.Background(), &schedule.SchedulingRequest{Title: "Catch up", DurationMinutes: 30})
	require.NoError(t, err)
	assert.Equal(t, ActionBooked, d.Action)
	assert.Equal(t, testNow.Add(time.Hour), d.Reference)
	assert.Equal(t, testNow.Add(time.Hour).Unix(), d.Meeting.StartTs)
}

func TestSetMode(t *testing.T) {
	te := newTestEngine(t, ModeBalanced)
	ctx := context.Background()

	mode, err := te.Mode(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeBalanced, mode)

	_, err = te.SetMode(ctx, Mode("RECKLESS"))
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)

	_, err = te.SetMode(ctx, ModeLearning)
	require.NoError(t, err)

	// A fresh service over the same persister sees the persisted mode.
	reloaded := memory.NewService(te.persister, memory.DefaultConfig(), time.Second)
	defer reloaded.Close()
	other := NewEngine("alice", te.calendar, reloaded, DefaultConfig())
	mode, err = other.Mode(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeLearning, mode)
}

func TestFeedback_Errors(t *testing.T) {
	te := newTestEngine(t, ModeAutonomous)
	ctx := context.Background()

	_, _, err := te.Feedback(ctx, "missing", 0.5)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.ErrorIs(t, err, memory.ErrRecordNotFound)

	d, err := te.Decide(ctx, request(day(1, 10, 0), 30, "Bob"))
	require.NoError(t, err)
	_, _, err = te.Feedback(ctx, d.ID, 1.5)
	assert.ErrorIs(t, err, memory.ErrInvalidFeedback)

	rec, _, err := te.Feedback(ctx, "", 0.7)
	require.NoError(t, err)
	assert.Equal(t, d.ID, rec.ID)
	require.NotNil(t, rec.Feedback)
	assert.Equal(t, 0.7, *rec.Feedback)
}

func TestAlertsAndReschedule(t *testing.T) {
	te := newTestEngine(t, ModeAutonomous)
	ctx := context.Background()
	id := te.calendar.add("Standup", testNow.Add(30*time.Minute), 15, "", "Bob")

	alerts, err := te.Alerts(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, alerts)
	assert.Equal(t, schedule.AlertMissingLocation, alerts[0].Kind)

	result, err := te.Reschedule(ctx, id, day(1, 9, 0))
	require.NoError(t, err)
	assert.Equal(t, day(1, 9, 0).Unix(), result.Meeting.StartTs)

	ok, err := te.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = te.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}
