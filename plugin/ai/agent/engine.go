package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrygo/meetingagent/internal/observability"
	"github.com/hrygo/meetingagent/plugin/ai/habit"
	"github.com/hrygo/meetingagent/plugin/ai/memory"
	"github.com/hrygo/meetingagent/server/service/schedule"
	"github.com/hrygo/meetingagent/store"
)

// Config holds the engine knobs shared by every identity.
type Config struct {
	// DefaultMode applies until an identity switches mode.
	DefaultMode   Mode
	Generator     schedule.GeneratorConfig
	Policies      PolicyTable
	SoftConflicts *SoftConflictPolicy
	// DefaultOffset places requests without a preferred start.
	DefaultOffset time.Duration
	// Lookback is how far before now the calendar index reaches.
	Lookback time.Duration
	// StoreTimeout bounds every calendar store call.
	StoreTimeout    time.Duration
	Alerts          schedule.AlertConfig
	ReportLookahead time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		DefaultMode:     ModeBalanced,
		Generator:       schedule.DefaultGeneratorConfig(),
		Policies:        DefaultPolicies(),
		DefaultOffset:   time.Hour,
		Lookback:        7 * 24 * time.Hour,
		StoreTimeout:    5 * time.Second,
		Alerts:          schedule.DefaultAlertConfig(),
		ReportLookahead: 7 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultMode == "" {
		c.DefaultMode = d.DefaultMode
	}
	c.Generator = schedule.NewCandidateGenerator(c.Generator, nil).Config()
	if len(c.Policies) == 0 {
		c.Policies = d.Policies
	}
	if c.DefaultOffset <= 0 {
		c.DefaultOffset = d.DefaultOffset
	}
	if c.Lookback <= 0 {
		c.Lookback = d.Lookback
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.Alerts.Lookahead <= 0 {
		c.Alerts = d.Alerts
	}
	if c.ReportLookahead <= 0 {
		c.ReportLookahead = d.ReportLookahead
	}
	return c
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger of decision cycles.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics shares a metrics collector.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// Engine is the decision engine of one identity. Calls on one Engine must be
// serialized, which the Registry does.
type Engine struct {
	userID   string
	calendar schedule.Service
	memory   *memory.Service
	config   Config

	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewEngine creates the engine of userID.
func NewEngine(userID string, calendar schedule.Service, mem *memory.Service, config Config, opts ...Option) *Engine {
	e := &Engine{
		userID:   userID,
		calendar: calendar,
		memory:   mem,
		config:   config.withDefaults(),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observability.NewMetrics(1000)
	}
	return e
}

// UserID returns the identity served by the engine.
func (e *Engine) UserID() string {
	return e.userID
}

// Metrics returns the cycle metrics collector.
func (e *Engine) Metrics() *observability.Metrics {
	return e.metrics
}

// Decide runs one decision cycle for req.
//
// A non-nil error always comes with a REJECTED decision describing it, except
// for cancellation which returns (nil, ctx.Err()) with nothing written.
func (e *Engine) Decide(ctx context.Context, req *schedule.SchedulingRequest) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := e.now()
	d := e.newDecision(now)
	reqCtx := observability.NewRequestContext(e.logger, e.userID, "")
	d.RequestID = reqCtx.RequestID
	ctx = observability.WithRequestContext(ctx, reqCtx)

	request, err := e.validate(req, now)
	if err != nil {
		reqCtx.Warn("request rejected", slog.String("error", err.Error()))
		return e.reject(reqCtx, d, err.Error()), err
	}
	reqCtx.Debug("request received", slog.String("summary", request.Summary()))

	mem, err := e.session(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return e.reject(reqCtx, d, err.Error()), err
	}
	mode := e.modeOf(mem)
	policy := e.config.Policies.For(mode)
	d.Mode = mode
	reqCtx.Mode = string(mode)

	slots := schedule.NewCandidateGenerator(e.config.Generator, nil)
	generator := slots.Config()
	allowWeekends := request.AllowWeekends || generator.IncludeWeekends
	duration := request.Duration()

	primary := e.defaultStart(now)
	if request.Start != nil {
		primary = *request.Start
	}

	reference := slots.NormalizeReference(primary, allowWeekends)
	d.Reference = reference

	// The index must cover the whole search range around the reference.
	windowEnd := reference.Add(generator.Horizon + duration)
	if end := primary.Add(duration); end.After(windowEnd) {
		windowEnd = end
	}
	index, err := e.loadIndex(ctx, now.Add(-e.config.Lookback), windowEnd)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		reqCtx.Error("calendar query failed", err)
		e.metrics.RecordFailure()
		return e.reject(reqCtx, d, err.Error()), err
	}

	detector := schedule.NewConflictDetector(index)
	candidateGenerator := schedule.NewCandidateGenerator(generator, detector)
	scorer := habit.NewScorer(mem.Weights(), mem.HourAffinities(), habit.BuildSnapshotFromIndex(index, e.snapshotConfig()), generator.Location)

	primaryEnd := primary.Add(duration)
	report := detector.Detect(primary, primaryEnd, request.Participants, request.Location)
	d.enter(StateConflictChecked)
	d.Conflicts = append(d.Conflicts, report.HardIDs()...)
	d.SoftConflicts = report.SoftIDs()
	reqCtx.Debug("conflicts checked",
		slog.Int("hard", len(report.Hard)),
		slog.Int("soft", len(report.Soft)))

	// Conflict-free requested slot: deterministic, no scoring needed.
	if !report.HasHard() && slots.Eligible(primary, duration, allowWeekends) {
		d.enter(StateNoConflict)
		candidate := &schedule.Candidate{
			Start:         primary,
			End:           primaryEnd,
			Score:         1,
			Conflict:      report.HasAny(),
			ConflictIDs:   report.IDs(),
			SoftConflicts: len(report.Soft),
		}
		d.Confidence = 1
		d.Candidates = []*schedule.Candidate{candidate}
		d.enter(StateDecided)
		features := scorer.Features(reference, primary, primaryEnd, candidate.SoftConflicts)
		return e.conclude(ctx, reqCtx, d, request, policy, candidate, features)
	}

	candidates, err := candidateGenerator.Generate(schedule.GenerationRequest{
		Reference:     reference,
		Duration:      duration,
		Participants:  request.Participants,
		Location:      request.Location,
		AllowWeekends: allowWeekends,
		NotBefore:     now,
	})
	if err != nil {
		d.enter(StateExhausted)
		d.enter(StateDecided)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.reject(reqCtx, d, err.Error())
		e.record(ctx, reqCtx, d, request, policy, nil, memory.FeatureVector{})
		return d, err
	}
	d.enter(StateCandidatesGenerated)

	ranked := scorer.Score(reference, candidates)
	d.enter(StateScored)
	top := ranked[0]
	d.Confidence = top.Score
	d.Candidates = ranked
	d.enter(StateDecided)
	reqCtx.Debug("candidates scored",
		slog.Int("count", len(ranked)),
		slog.Float64("confidence", top.Score))

	features := scorer.Features(reference, top.Start, top.End, top.SoftConflicts)
	return e.conclude(ctx, reqCtx, d, request, policy, top, features)
}

// conclude applies the mode policy to the chosen candidate and performs the
// writes of the outcome.
func (e *Engine) conclude(ctx context.Context, reqCtx *observability.RequestContext, d *Decision, request *schedule.SchedulingRequest, policy ModePolicy, chosen *schedule.Candidate, features memory.FeatureVector) (*Decision, error) {
	// Withdrawn before any write: leave no trace.
	if err := ctx.Err(); err != nil {
		reqCtx.Debug("request withdrawn before outcome")
		return nil, err
	}

	if !policy.CanAutoBook(d.Confidence) {
		d.Candidates = policy.Suggestions(d.Candidates)
		d.RequiresConfirmation = true
		e.finish(reqCtx, d, ActionSuggested, e.suggestionDiagnostic(d, policy))
		e.record(ctx, reqCtx, d, request, policy, chosen, features)
		return d, nil
	}

	blocked, err := e.config.SoftConflicts.Blocks(PolicyInput{
		SoftConflicts: chosen.SoftConflicts,
		Confidence:    d.Confidence,
		Mode:          d.Mode,
		Participants:  request.Participants,
	})
	if err != nil {
		reqCtx.Warn("soft conflict policy evaluation failed", slog.String("error", err.Error()))
	}
	if blocked {
		d.Candidates = policy.Suggestions(d.Candidates)
		d.RequiresConfirmation = true
		e.finish(reqCtx, d, ActionDeferred,
			fmt.Sprintf("slot %s overlaps meetings %v, confirmation required by soft conflict policy %q",
				chosen.Start.Format(time.RFC3339), chosen.ConflictIDs, e.config.SoftConflicts.String()))
		e.record(ctx, reqCtx, d, request, policy, chosen, features)
		return d, nil
	}

	meeting, err := e.create(ctx, request, chosen)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		bookingErr := &BookingNotPersistedError{Start: chosen.Start, End: chosen.End, Err: err}
		reqCtx.Error("booking not persisted", err,
			slog.Time("start", chosen.Start))
		e.metrics.RecordFailure()
		e.reject(reqCtx, d, bookingErr.Error())
		e.record(ctx, reqCtx, d, request, policy, nil, memory.FeatureVector{})
		return d, bookingErr
	}

	d.Meeting = meeting
	d.Candidates = []*schedule.Candidate{chosen}
	e.finish(reqCtx, d, ActionBooked, "")
	e.record(ctx, reqCtx, d, request, policy, chosen, features)
	return d, nil
}

// Confirm books start for req after a fresh conflict check. It is how a
// suggested or deferred candidate becomes a booking in every mode.
func (e *Engine) Confirm(ctx context.Context, req *schedule.SchedulingRequest, start time.Time) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := e.now()
	d := e.newDecision(now)
	reqCtx := observability.NewRequestContext(e.logger, e.userID, "")
	d.RequestID = reqCtx.RequestID
	ctx = observability.WithRequestContext(ctx, reqCtx)

	var confirmed schedule.SchedulingRequest
	if req != nil {
		confirmed = *req
	}
	confirmed.Start = &start
	confirmed.End = nil
	request, err := e.validate(&confirmed, now)
	if err != nil {
		return e.reject(reqCtx, d, err.Error()), err
	}

	mem, err := e.session(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return e.reject(reqCtx, d, err.Error()), err
	}
	d.Mode = e.modeOf(mem)
	reqCtx.Mode = string(d.Mode)
	policy := e.config.Policies.For(d.Mode)
	d.Reference = start

	end := start.Add(request.Duration())
	index, err := e.loadIndex(ctx, now.Add(-e.config.Lookback), end)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.metrics.RecordFailure()
		return e.reject(reqCtx, d, err.Error()), err
	}

	report := schedule.NewConflictDetector(index).Detect(start, end, request.Participants, request.Location)
	d.enter(StateConflictChecked)
	d.Conflicts = append(d.Conflicts, report.HardIDs()...)
	d.SoftConflicts = report.SoftIDs()
	if report.HasHard() {
		d.enter(StateDecided)
		conflictErr := &schedule.ConflictError{Conflicts: report.Hard}
		return e.reject(reqCtx, d, fmt.Sprintf("slot is no longer available: %v", conflictErr)), conflictErr
	}

	d.enter(StateNoConflict)
	chosen := &schedule.Candidate{
		Start:         start,
		End:           end,
		Score:         1,
		Conflict:      report.HasAny(),
		ConflictIDs:   report.IDs(),
		SoftConflicts: len(report.Soft),
	}
	d.Confidence = 1
	d.Candidates = []*schedule.Candidate{chosen}
	d.enter(StateDecided)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meeting, err := e.create(ctx, request, chosen)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		bookingErr := &BookingNotPersistedError{Start: start, End: end, Err: err}
		reqCtx.Error("confirmed booking not persisted", err)
		e.metrics.RecordFailure()
		e.reject(reqCtx, d, bookingErr.Error())
		e.record(ctx, reqCtx, d, request, policy, nil, memory.FeatureVector{})
		return d, bookingErr
	}

	d.Meeting = meeting
	e.finish(reqCtx, d, ActionBooked, "confirmed")
	scorer := habit.NewScorer(mem.Weights(), mem.HourAffinities(), habit.BuildSnapshotFromIndex(index, e.snapshotConfig()), e.config.Generator.Location)
	e.record(ctx, reqCtx, d, request, policy, chosen, scorer.Features(start, start, end, chosen.SoftConflicts))
	return d, nil
}

// Feedback applies a score in [0, 1] to a recorded decision. An empty
// recordID targets the latest decision.
func (e *Engine) Feedback(ctx context.Context, recordID string, score float64) (*memory.Record, bool, error) {
	var updated *memory.Record
	degraded, err := e.memory.Mutate(ctx, e.userID, func(m *memory.AgentMemory) error {
		rec, err := m.ApplyFeedback(recordID, score)
		if err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		if errors.Is(err, memory.ErrInvalidFeedback) || errors.Is(err, memory.ErrRecordNotFound) {
			return nil, false, &ValidationError{Err: err}
		}
		return nil, false, &StoreUnavailableError{Op: "load agent memory", Err: err}
	}
	if degraded {
		e.metrics.RecordDegraded()
	}
	slog.Info("feedback applied",
		"user_id", e.userID,
		"record_id", updated.ID,
		"score", score,
		"degraded", degraded)
	return updated, degraded, nil
}

// Mode returns the current mode of the identity.
func (e *Engine) Mode(ctx context.Context) (Mode, error) {
	mem, err := e.session(ctx)
	if err != nil {
		return "", err
	}
	return e.modeOf(mem), nil
}

// SetMode switches the identity's mode and persists it.
func (e *Engine) SetMode(ctx context.Context, mode Mode) (bool, error) {
	if _, ok := e.config.Policies[mode]; !ok {
		return false, &ValidationError{Err: fmt.Errorf("unknown agent mode %q", mode)}
	}
	degraded, err := e.memory.Mutate(ctx, e.userID, func(m *memory.AgentMemory) error {
		m.SetMode(string(mode))
		return nil
	})
	if err != nil {
		return false, &StoreUnavailableError{Op: "load agent memory", Err: err}
	}
	slog.Info("agent mode changed", "user_id", e.userID, "mode", mode)
	return degraded, nil
}

// Report returns the learning report with the current calendar context.
func (e *Engine) Report(ctx context.Context) (*habit.Insight, error) {
	mem, err := e.session(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()
	index, err := e.loadIndex(ctx, now.Add(-e.config.Lookback), now.Add(e.config.ReportLookahead))
	if err != nil {
		return nil, err
	}

	report := mem.Report()
	report.Mode = string(e.modeOf(mem))
	return habit.BuildInsight(e.userID, now,
		habit.BuildSnapshotFromIndex(index, e.snapshotConfig()),
		schedule.DetectAlerts(index, now, e.config.Alerts),
		report), nil
}

// Alerts returns the proactive alerts of the coming hours.
func (e *Engine) Alerts(ctx context.Context) ([]schedule.Alert, error) {
	now := e.now()
	index, err := e.loadIndex(ctx, now, now.Add(e.config.Alerts.Lookahead))
	if err != nil {
		return nil, err
	}
	return schedule.DetectAlerts(index, now, e.config.Alerts), nil
}

// Cancel cancels a meeting of the identity.
func (e *Engine) Cancel(ctx context.Context, id int32) (bool, error) {
	storeCtx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	defer cancel()
	return e.calendar.CancelMeeting(storeCtx, e.userID, id)
}

// Reschedule moves a meeting of the identity, re-checking conflicts.
func (e *Engine) Reschedule(ctx context.Context, id int32, newStart time.Time) (*schedule.RescheduleResult, error) {
	storeCtx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	defer cancel()
	return e.calendar.RescheduleMeeting(storeCtx, e.userID, id, newStart)
}

func (e *Engine) newDecision(now time.Time) *Decision {
	d := &Decision{
		UserID:     e.userID,
		Mode:       e.config.DefaultMode,
		Candidates: []*schedule.Candidate{},
		Conflicts:  []int32{},
		DecidedAt:  now,
	}
	d.enter(StateReceived)
	return d
}

func (e *Engine) validate(req *schedule.SchedulingRequest, now time.Time) (*schedule.SchedulingRequest, error) {
	if req == nil {
		return nil, &ValidationError{Err: fmt.Errorf("%w: request is nil", schedule.ErrInvalidRequest)}
	}
	request := *req
	request.Normalize()
	if err := request.Validate(now); err != nil {
		return nil, &ValidationError{Err: err}
	}
	return &request, nil
}

func (e *Engine) session(ctx context.Context) (*memory.AgentMemory, error) {
	mem, err := e.memory.Session(ctx, e.userID)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "load agent memory", Err: err}
	}
	return mem, nil
}

func (e *Engine) modeOf(mem *memory.AgentMemory) Mode {
	if mode, err := ParseMode(mem.Mode()); err == nil {
		return mode
	}
	return e.config.DefaultMode
}

// defaultStart is now plus the default offset, rounded up to the slot step.
func (e *Engine) defaultStart(now time.Time) time.Time {
	t := now.Add(e.config.DefaultOffset)
	step := e.config.Generator.Step
	rounded := t.Truncate(step)
	if rounded.Before(t) {
		rounded = rounded.Add(step)
	}
	return rounded
}

func (e *Engine) loadIndex(ctx context.Context, start, end time.Time) (*schedule.CalendarIndex, error) {
	queryCtx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	defer cancel()
	index, err := schedule.LoadCalendarIndex(queryCtx, e.calendar, e.userID, start, end)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "query calendar", Err: err}
	}
	return index, nil
}

func (e *Engine) create(ctx context.Context, request *schedule.SchedulingRequest, chosen *schedule.Candidate) (*store.Meeting, error) {
	createCtx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	defer cancel()
	return e.calendar.CreateMeeting(createCtx, e.userID, &schedule.CreateMeetingRequest{
		Title:          request.Title,
		Location:       request.Location,
		Participants:   request.Participants,
		Start:          chosen.Start,
		End:            chosen.End,
		RecurrenceRule: request.Recurrence,
		SourceText:     request.SourceText,
	})
}

func (e *Engine) snapshotConfig() habit.SnapshotConfig {
	return habit.SnapshotConfig{
		BusinessHours:   e.config.Generator.BusinessHours,
		IncludeWeekends: e.config.Generator.IncludeWeekends,
		Location:        e.config.Generator.Location,
	}
}

func (e *Engine) suggestionDiagnostic(d *Decision, policy ModePolicy) string {
	if !policy.AutoBook {
		return fmt.Sprintf("%s mode requires confirmation", d.Mode)
	}
	return fmt.Sprintf("confidence %.2f below %s threshold %.2f", d.Confidence, d.Mode, policy.Threshold)
}

func (e *Engine) reject(reqCtx *observability.RequestContext, d *Decision, diagnostic string) *Decision {
	e.finish(reqCtx, d, ActionRejected, diagnostic)
	return d
}

func (e *Engine) finish(reqCtx *observability.RequestContext, d *Decision, action Action, diagnostic string) {
	d.Action = action
	d.Diagnostic = diagnostic
	d.enter(State(action))
	e.metrics.RecordCycle(string(action), reqCtx.Duration())
	reqCtx.Info("decision made",
		slog.String(observability.LogFieldAction, string(action)),
		slog.Float64("confidence", d.Confidence),
		slog.Int("candidates", len(d.Candidates)),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
}

// record appends the outcome to the identity's memory. The write is detached
// from ctx: once an outcome exists it must be recorded.
func (e *Engine) record(ctx context.Context, reqCtx *observability.RequestContext, d *Decision, request *schedule.SchedulingRequest, policy ModePolicy, chosen *schedule.Candidate, features memory.FeatureVector) {
	hour := -1
	if chosen != nil {
		hour = chosen.Start.In(e.config.Generator.Location).Hour()
	}

	var appended memory.Record
	degraded, err := e.memory.Mutate(context.WithoutCancel(ctx), e.userID, func(m *memory.AgentMemory) error {
		appended = m.Append(memory.Record{
			Timestamp:  d.DecidedAt,
			Summary:    request.Summary(),
			Action:     string(d.Action),
			Mode:       string(d.Mode),
			Confidence: d.Confidence,
			Hour:       hour,
			Features:   features,
			Boost:      policy.LearningBoost,
		})
		return nil
	})
	if err != nil {
		reqCtx.Warn("failed to record decision", slog.String("error", err.Error()))
		d.DegradedDurability = true
		e.metrics.RecordDegraded()
		return
	}
	d.ID = appended.ID
	if degraded {
		reqCtx.Warn("decision recorded in memory only")
		d.DegradedDurability = true
		e.metrics.RecordDegraded()
	}
}
