package schedule

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGenerator(instances ...*MeetingInstance) *CandidateGenerator {
	index := NewCalendarIndex(at(-1, 0, 0), at(20, 0, 0), instances)
	return NewCandidateGenerator(DefaultGeneratorConfig(), NewConflictDetector(index))
}

func starts(candidates []*Candidate) []time.Time {
	out := make([]time.Time, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Start)
	}
	return out
}

func TestCandidateGenerator_NearestFirstAroundConflict(t *testing.T) {
	g := newTestGenerator(instance(1, at(0, 10, 0), time.Hour, "Bob"))

	candidates, err := g.Generate(GenerationRequest{
		Reference:    at(0, 10, 15),
		Duration:     30 * time.Minute,
		Participants: []string{"Bob"},
		NotBefore:    at(0, 0, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		at(0, 9, 30),
		at(0, 11, 0),
		at(0, 9, 15),
		at(0, 11, 15),
		at(0, 9, 0),
	}, starts(candidates))

	for _, c := range candidates {
		assert.False(t, c.Start.Before(at(0, 11, 0)) && at(0, 10, 0).Before(c.End), "candidate %s overlaps 10:00-11:00", c.Start)
		assert.False(t, c.Conflict)
	}
	assert.Equal(t, 45*time.Minute, candidates[0].Distance)
}

func TestCandidateGenerator_AfterHoursMovesToNextBusinessDay(t *testing.T) {
	g := newTestGenerator()

	ref := g.NormalizeReference(at(0, 19, 0), false)
	assert.Equal(t, at(1, 8, 0), ref)

	candidates, err := g.Generate(GenerationRequest{
		Reference: ref,
		Duration:  time.Hour,
		NotBefore: at(0, 18, 30),
	})
	require.NoError(t, err)
	require.Len(t, candidates, 5)
	assert.Equal(t, at(1, 8, 0), candidates[0].Start)
	for _, c := range candidates {
		assert.NotEqual(t, at(0, 19, 0), c.Start)
		assert.True(t, g.Eligible(c.Start, time.Hour, false))
	}
}

func TestCandidateGenerator_NormalizeReference(t *testing.T) {
	g := newTestGenerator()

	tests := []struct {
		name          string
		in            time.Time
		allowWeekends bool
		want          time.Time
	}{
		{"inside business hours", at(0, 10, 7), false, at(0, 10, 7)},
		{"before opening", at(0, 6, 0), false, at(0, 8, 0)},
		{"at closing", at(0, 18, 0), false, at(1, 8, 0)},
		{"friday evening skips weekend", at(4, 19, 0), false, at(7, 8, 0)},
		{"saturday", at(5, 11, 0), false, at(7, 8, 0)},
		{"saturday allowed", at(5, 11, 0), true, at(5, 11, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.NormalizeReference(tt.in, tt.allowWeekends))
		})
	}
}

func TestCandidateGenerator_Eligible(t *testing.T) {
	g := newTestGenerator()

	assert.True(t, g.Eligible(at(0, 8, 0), time.Hour, false))
	assert.True(t, g.Eligible(at(0, 17, 0), time.Hour, false))
	assert.False(t, g.Eligible(at(0, 17, 30), time.Hour, false), "runs past closing")
	assert.False(t, g.Eligible(at(0, 7, 45), 30*time.Minute, false), "starts before opening")
	assert.False(t, g.Eligible(at(5, 10, 0), time.Hour, false), "saturday")
	assert.True(t, g.Eligible(at(5, 10, 0), time.Hour, true))
}

func TestCandidateGenerator_NeverBeforeNotBefore(t *testing.T) {
	g := newTestGenerator(instance(1, at(0, 10, 0), 2*time.Hour, "Bob"))

	candidates, err := g.Generate(GenerationRequest{
		Reference:    at(0, 10, 0),
		Duration:     30 * time.Minute,
		Participants: []string{"Bob"},
		NotBefore:    at(0, 10, 0),
	})
	require.NoError(t, err)
	for _, c := range candidates {
		assert.False(t, c.Start.Before(at(0, 12, 0)), "candidate %s before now or inside conflict", c.Start)
	}
	assert.Equal(t, at(0, 12, 0), candidates[0].Start)
}

func TestCandidateGenerator_SoftConflictsAreKeptAndFlagged(t *testing.T) {
	g := newTestGenerator(instance(7, at(0, 10, 0), time.Hour, "Carol"))

	candidates, err := g.Generate(GenerationRequest{
		Reference:    at(0, 10, 0),
		Duration:     30 * time.Minute,
		Participants: []string{"Bob"},
		NotBefore:    at(0, 0, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, at(0, 10, 0), candidates[0].Start)
	assert.True(t, candidates[0].Conflict)
	assert.Equal(t, []int32{7}, candidates[0].ConflictIDs)
	assert.Equal(t, 1, candidates[0].SoftConflicts)
}

func TestCandidateGenerator_ExhaustedHorizon(t *testing.T) {
	g := newTestGenerator(instance(1, at(-1, 0, 0), 21*24*time.Hour, "Bob"))

	candidates, err := g.Generate(GenerationRequest{
		Reference:    at(0, 10, 0),
		Duration:     30 * time.Minute,
		Participants: []string{"Bob"},
		NotBefore:    at(0, 9, 0),
	})
	assert.Nil(t, candidates)
	require.ErrorIs(t, err, ErrSearchExhausted)

	var exhausted *ExhaustionError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 14*24*time.Hour, exhausted.Horizon)
	assert.Equal(t, 15*time.Minute, exhausted.Step)
	assert.Contains(t, err.Error(), "horizon=14 days")
	assert.Contains(t, err.Error(), "step=15 minutes")
	assert.Contains(t, err.Error(), "business_hours=08:00-18:00")
	assert.Contains(t, err.Error(), "weekends=excluded")
}

func TestCandidateGenerator_ReturnedCandidatesRecheckClean(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	people := []string{"Bob", "Carol", "Dana"}

	var instances []*MeetingInstance
	for i := 0; i < 200; i++ {
		start := at(rng.Intn(14), 8+rng.Intn(10), 15*rng.Intn(4))
		d := time.Duration(15*(1+rng.Intn(8))) * time.Minute
		instances = append(instances, instance(int32(i+1), start, d, people[rng.Intn(len(people))]))
	}
	g := newTestGenerator(instances...)

	for trial := 0; trial < 20; trial++ {
		participants := []string{people[rng.Intn(len(people))]}
		ref := g.NormalizeReference(at(rng.Intn(10), 8+rng.Intn(10), 0), false)
		candidates, err := g.Generate(GenerationRequest{
			Reference:    ref,
			Duration:     time.Duration(15*(1+rng.Intn(4))) * time.Minute,
			Participants: participants,
			NotBefore:    at(0, 0, 0),
		})
		if errors.Is(err, ErrSearchExhausted) {
			continue
		}
		require.NoError(t, err)

		var last time.Duration
		for _, c := range candidates {
			report := g.detector.Detect(c.Start, c.End, participants, "")
			assert.False(t, report.HasHard(), "candidate %s has a hard conflict", c.Start)
			assert.GreaterOrEqual(t, c.Distance, last, "candidates must be nearest first")
			last = c.Distance
		}
	}
}

func TestCandidateGenerator_RespectsMaxCandidates(t *testing.T) {
	config := DefaultGeneratorConfig()
	config.MaxCandidates = 2
	config.Step = 30 * time.Minute
	index := NewCalendarIndex(at(-1, 0, 0), at(20, 0, 0), nil)
	g := NewCandidateGenerator(config, NewConflictDetector(index))

	candidates, err := g.Generate(GenerationRequest{Reference: at(0, 12, 0), Duration: time.Hour, NotBefore: at(0, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(0, 12, 0), at(0, 11, 30)}, starts(candidates))
}

func TestCandidateGenerator_BusyCalendarExhausts(t *testing.T) {
	mockStore := &MockStoreForMeeting{}
	svc := NewService(mockStore, time.UTC)
	seedBusyWeeks(t, mockStore, -7, 4)

	cfg := DefaultGeneratorConfig()
	index, err := LoadCalendarIndex(context.Background(), svc, "alice", at(-7, 0, 0), at(0, 0, 0).Add(cfg.Horizon+time.Hour))
	require.NoError(t, err)

	g := NewCandidateGenerator(cfg, NewConflictDetector(index))
	_, err = g.Generate(GenerationRequest{
		Reference:    at(0, 9, 0),
		Duration:     15 * time.Minute,
		Participants: []string{"Bob"},
		NotBefore:    at(0, 0, 0),
	})
	var exhausted *ExhaustionError
	require.ErrorAs(t, err, &exhausted)
}
