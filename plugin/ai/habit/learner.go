package habit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/meetingagent/plugin/ai/memory"
	"github.com/hrygo/meetingagent/server/service/schedule"
)

// LearnerConfig holds the insight sweep windows.
type LearnerConfig struct {
	// Lookback and Lookahead bound the snapshot window around now.
	Lookback  time.Duration
	Lookahead time.Duration
	Snapshot  SnapshotConfig
	Alerts    schedule.AlertConfig
	// StoreTimeout bounds each calendar query.
	StoreTimeout time.Duration
	// DefaultMode is reported for identities that never switched mode.
	DefaultMode string
}

// DefaultLearnerConfig returns a 7 day lookback and a 7 day lookahead.
func DefaultLearnerConfig() LearnerConfig {
	return LearnerConfig{
		Lookback:     7 * 24 * time.Hour,
		Lookahead:    7 * 24 * time.Hour,
		Snapshot:     DefaultSnapshotConfig(),
		Alerts:       schedule.DefaultAlertConfig(),
		StoreTimeout: 5 * time.Second,
	}
}

// Learner refreshes insights for every known identity.
type Learner struct {
	calendar schedule.Service
	memory   *memory.Service
	config   LearnerConfig

	clock func() time.Time

	mu     sync.RWMutex
	latest map[string]cachedInsight
	// generation counts invalidations per identity so a sweep that raced a
	// write does not repopulate the cache.
	generation map[string]uint64
}

type cachedInsight struct {
	insight  *Insight
	storedAt time.Time
}

// NewLearner creates a Learner.
func NewLearner(calendar schedule.Service, mem *memory.Service, config LearnerConfig) *Learner {
	return &Learner{
		calendar: calendar,
		memory:   mem,
		config:     config,
		clock:      time.Now,
		latest:     make(map[string]cachedInsight),
		generation: make(map[string]uint64),
	}
}

// RunAll refreshes the insights of all identities known to the memory service.
func (l *Learner) RunAll(ctx context.Context, now time.Time) {
	slog.Info("starting insight sweep")
	startTime := time.Now()

	userIDs, err := l.memory.Identities(ctx)
	if err != nil {
		slog.Error("failed to list identities", "error", err)
		return
	}
	if len(userIDs) == 0 {
		slog.Info("no identities found for insight sweep")
		return
	}

	successCount := 0
	errorCount := 0
	alertCount := 0
	for _, userID := range userIDs {
		select {
		case <-ctx.Done():
			slog.Warn("insight sweep interrupted", "processed", successCount)
			return
		default:
		}

		insight, err := l.RunOnce(ctx, userID, now)
		if err != nil {
			slog.Error("failed to build insight", "user_id", userID, "error", err)
			errorCount++
			continue
		}
		for _, alert := range insight.Alerts {
			slog.Info("proactive alert",
				"user_id", userID,
				"kind", alert.Kind,
				"urgency", alert.Urgency,
				"meeting_id", alert.MeetingID,
				"start", alert.Start)
		}
		alertCount += len(insight.Alerts)
		successCount++
	}

	slog.Info("insight sweep completed",
		"users_processed", successCount,
		"errors", errorCount,
		"alerts", alertCount,
		"duration_ms", time.Since(startTime).Milliseconds())
}

// RunOnce builds and caches the insight of one identity.
func (l *Learner) RunOnce(ctx context.Context, userID string, now time.Time) (*Insight, error) {
	l.mu.RLock()
	generation := l.generation[userID]
	l.mu.RUnlock()

	queryCtx, cancel := context.WithTimeout(ctx, l.config.StoreTimeout)
	defer cancel()
	index, err := schedule.LoadCalendarIndex(queryCtx, l.calendar, userID, now.Add(-l.config.Lookback), now.Add(l.config.Lookahead))
	if err != nil {
		return nil, err
	}

	mem, err := l.memory.Session(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := mem.Report()
	if report.Mode == "" {
		report.Mode = l.config.DefaultMode
	}
	insight := BuildInsight(userID, now,
		BuildSnapshotFromIndex(index, l.config.Snapshot),
		schedule.DetectAlerts(index, now, l.config.Alerts),
		report)

	l.mu.Lock()
	if l.generation[userID] == generation {
		l.latest[userID] = cachedInsight{insight: insight, storedAt: l.clock()}
	}
	l.mu.Unlock()
	return insight, nil
}

// Latest returns the cached insight of userID from the last sweep.
func (l *Learner) Latest(userID string) (*Insight, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cached, ok := l.latest[userID]
	return cached.insight, ok
}

// Fresh returns the cached insight of userID when it was stored less than
// maxAge ago and no write invalidated it since.
func (l *Learner) Fresh(userID string, maxAge time.Duration) (*Insight, bool) {
	if maxAge <= 0 {
		return nil, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	cached, ok := l.latest[userID]
	if !ok || l.clock().Sub(cached.storedAt) >= maxAge {
		return nil, false
	}
	return cached.insight, true
}

// Invalidate drops the cached insight of userID. Call it after any write to
// the identity's calendar or memory.
func (l *Learner) Invalidate(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.latest, userID)
	l.generation[userID]++
}
