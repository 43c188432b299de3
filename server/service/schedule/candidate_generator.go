package schedule

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrSearchExhausted is returned when no conflict-free slot exists within the horizon.
var ErrSearchExhausted = errors.New("candidate search exhausted")

// BusinessHours is the daily bookable window as offsets from local midnight.
type BusinessHours struct {
	Start time.Duration
	End   time.Duration
}

func (b BusinessHours) String() string {
	return fmt.Sprintf("%s-%s", clock(b.Start), clock(b.End))
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// GeneratorConfig holds the search constraints of the candidate walk.
type GeneratorConfig struct {
	Step            time.Duration
	Horizon         time.Duration
	MaxCandidates   int
	BusinessHours   BusinessHours
	IncludeWeekends bool
	Location        *time.Location
}

// DefaultGeneratorConfig returns 15 minute steps, a 14 day horizon, 5
// candidates and 08:00-18:00 weekdays in UTC.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Step:          DefaultSlotStep,
		Horizon:       DefaultSearchHorizon,
		MaxCandidates: DefaultMaxCandidates,
		BusinessHours: BusinessHours{Start: DefaultBusinessStart, End: DefaultBusinessEnd},
		Location:      time.UTC,
	}
}

// Candidate is a concrete bookable interval derived from a request.
type Candidate struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	// Score is filled by the context scorer.
	Score float64 `json:"score"`
	// Conflict is true iff the interval overlaps at least one confirmed meeting.
	// Generated candidates only ever carry soft overlaps.
	Conflict    bool    `json:"conflict"`
	ConflictIDs []int32 `json:"conflict_ids,omitempty"`
	// SoftConflicts is the number of soft overlaps.
	SoftConflicts int `json:"soft_conflicts"`
	// Distance is the absolute offset from the reference time.
	Distance time.Duration `json:"-"`
}

// GenerationRequest describes one candidate search.
type GenerationRequest struct {
	// Reference is the preferred start, already normalized to a business window.
	Reference     time.Time
	Duration      time.Duration
	Participants  []string
	Location      string
	AllowWeekends bool
	// NotBefore bounds the backward walk, normally "now".
	NotBefore time.Time
}

// ExhaustionError reports a search that found no candidate together with
// every constraint applied, so a caller can widen them and retry.
type ExhaustionError struct {
	Reference     time.Time
	Duration      time.Duration
	Horizon       time.Duration
	Step          time.Duration
	BusinessHours BusinessHours
	Weekends      bool
}

func (e *ExhaustionError) Error() string {
	weekends := "excluded"
	if e.Weekends {
		weekends = "included"
	}
	return fmt.Sprintf("no conflict-free slot found: horizon=%s, step=%d minutes, business_hours=%s, weekends=%s, duration=%d minutes, reference=%s",
		formatHorizon(e.Horizon),
		int(e.Step/time.Minute),
		e.BusinessHours,
		weekends,
		int(e.Duration/time.Minute),
		e.Reference.Format(time.RFC3339))
}

func (e *ExhaustionError) Unwrap() error {
	return ErrSearchExhausted
}

func formatHorizon(d time.Duration) string {
	day := 24 * time.Hour
	if d%day == 0 {
		return fmt.Sprintf("%d days", int(d/day))
	}
	return d.String()
}

// CandidateGenerator walks outward from a reference time collecting
// conflict-free intervals.
type CandidateGenerator struct {
	config   GeneratorConfig
	detector *ConflictDetector
}

// NewCandidateGenerator creates a generator. Zero config fields take defaults.
// detector may be nil when only Eligible and NormalizeReference are used.
func NewCandidateGenerator(config GeneratorConfig, detector *ConflictDetector) *CandidateGenerator {
	def := DefaultGeneratorConfig()
	if config.Step <= 0 {
		config.Step = def.Step
	}
	if config.Horizon <= 0 {
		config.Horizon = def.Horizon
	}
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = def.MaxCandidates
	}
	if config.BusinessHours.End <= config.BusinessHours.Start {
		config.BusinessHours = def.BusinessHours
	}
	if config.Location == nil {
		config.Location = def.Location
	}
	return &CandidateGenerator{config: config, detector: detector}
}

// Config returns the effective configuration.
func (g *CandidateGenerator) Config() GeneratorConfig {
	return g.config
}

// Generate returns up to MaxCandidates conflict-free candidates ordered by
// distance from the reference (earlier start first on equal distance).
// It returns an *ExhaustionError when none exist within the horizon.
func (g *CandidateGenerator) Generate(req GenerationRequest) ([]*Candidate, error) {
	allowWeekends := req.AllowWeekends || g.config.IncludeWeekends
	ref := req.Reference

	lower := ref.Add(-g.config.Horizon)
	if lower.Before(req.NotBefore) {
		lower = req.NotBefore
	}
	upper := ref.Add(g.config.Horizon)

	// Never test intervals the index cannot see.
	windowStart, windowEnd := g.detector.Index().Window()
	if lower.Before(windowStart) {
		lower = windowStart
	}
	if latest := windowEnd.Add(-req.Duration); upper.After(latest) {
		upper = latest
	}

	var candidates []*Candidate
	try := func(start time.Time) {
		if len(candidates) >= g.config.MaxCandidates {
			return
		}
		if start.Before(lower) || start.After(upper) {
			return
		}
		if !g.Eligible(start, req.Duration, allowWeekends) {
			return
		}
		end := start.Add(req.Duration)
		report := g.detector.Detect(start, end, req.Participants, req.Location)
		if report.HasHard() {
			return
		}
		candidates = append(candidates, &Candidate{
			Start:         start,
			End:           end,
			Conflict:      report.HasAny(),
			ConflictIDs:   report.IDs(),
			SoftConflicts: len(report.Soft),
			Distance:      absDuration(start.Sub(ref)),
		})
	}

	steps := 0
	for n := 0; len(candidates) < g.config.MaxCandidates; n++ {
		offset := time.Duration(n) * g.config.Step
		backward, forward := ref.Add(-offset), ref.Add(offset)
		if backward.Before(lower) && forward.After(upper) {
			break
		}
		if n > 0 {
			try(backward)
		}
		try(forward)
		steps = n
	}

	slog.Debug("candidate walk finished",
		"reference", ref,
		"steps", steps,
		"found", len(candidates))

	if len(candidates) == 0 {
		return nil, &ExhaustionError{
			Reference:     ref,
			Duration:      req.Duration,
			Horizon:       g.config.Horizon,
			Step:          g.config.Step,
			BusinessHours: g.config.BusinessHours,
			Weekends:      allowWeekends,
		}
	}
	return candidates, nil
}

// Eligible reports whether [start, start+duration) lies inside one business
// window on an allowed day.
func (g *CandidateGenerator) Eligible(start time.Time, duration time.Duration, allowWeekends bool) bool {
	local := start.In(g.config.Location)
	if !allowWeekends && isWeekend(local.Weekday()) {
		return false
	}
	open, closing := g.businessWindow(local)
	return !local.Before(open) && !local.Add(duration).After(closing)
}

// NormalizeReference keeps t when it falls on an allowed day before closing
// time, moving it up to the opening if it is early. Otherwise it returns the
// next business opening.
func (g *CandidateGenerator) NormalizeReference(t time.Time, allowWeekends bool) time.Time {
	allowWeekends = allowWeekends || g.config.IncludeWeekends
	local := t.In(g.config.Location)

	if allowWeekends || !isWeekend(local.Weekday()) {
		open, closing := g.businessWindow(local)
		if local.Before(open) {
			return open
		}
		if local.Before(closing) {
			return t
		}
	}

	for day := 1; day <= 7; day++ {
		next := local.AddDate(0, 0, day)
		if !allowWeekends && isWeekend(next.Weekday()) {
			continue
		}
		open, _ := g.businessWindow(next)
		return open
	}
	return t
}

func (g *CandidateGenerator) businessWindow(local time.Time) (time.Time, time.Time) {
	y, m, d := local.Date()
	at := func(offset time.Duration) time.Time {
		return time.Date(y, m, d, int(offset/time.Hour), int(offset%time.Hour/time.Minute), 0, 0, local.Location())
	}
	return at(g.config.BusinessHours.Start), at(g.config.BusinessHours.End)
}

func isWeekend(day time.Weekday) bool {
	return day == time.Saturday || day == time.Sunday
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
