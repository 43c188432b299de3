package insights

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/hrygo/meetingagent/plugin/ai/habit"
)

// DefaultSchedule runs the sweep every 15 minutes.
const DefaultSchedule = "*/15 * * * *"

// Runner periodically refreshes the insights and proactive alerts of every
// known identity.
type Runner struct {
	learner  *habit.Learner
	spec     string
	location *time.Location
	schedule cron.Schedule
	now      func() time.Time
}

// NewRunner creates an insight runner. spec is a five field cron expression
// or a descriptor such as "@every 10m".
func NewRunner(learner *habit.Learner, spec string, loc *time.Location) (*Runner, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if loc == nil {
		loc = time.UTC
	}
	schedule, err := parser().Parse(spec)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid insight schedule %q", spec)
	}
	return &Runner{
		learner:  learner,
		spec:     spec,
		location: loc,
		schedule: schedule,
		now:      time.Now,
	}, nil
}

func parser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// Next returns the next sweep time after t.
func (r *Runner) Next(t time.Time) time.Time {
	return r.schedule.Next(t.In(r.location))
}

// Interval returns the gap between the next two sweeps, the age after which a
// cached insight is stale.
func (r *Runner) Interval() time.Duration {
	next := r.Next(r.now())
	return r.Next(next).Sub(next)
}

// Run starts the background task and blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	// Process once on startup
	r.RunOnce(ctx)

	c := cron.New(cron.WithParser(parser()), cron.WithLocation(r.location))
	c.Schedule(r.schedule, cron.FuncJob(func() {
		r.RunOnce(ctx)
	}))
	c.Start()
	slog.Info("insight runner started", "schedule", r.spec)

	<-ctx.Done()
	<-c.Stop().Done()
	slog.Info("insight runner stopped")
}

// RunOnce sweeps all identities once (for manual trigger).
func (r *Runner) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	r.learner.RunAll(ctx, r.now())
}
