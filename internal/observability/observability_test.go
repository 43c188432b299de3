package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestContext_Attrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	reqCtx := NewRequestContextWithID(logger, "req-1", "alice", "BALANCED")
	reqCtx.Info("decision made", slog.String(LogFieldAction, "BOOKED"))

	out := buf.String()
	assert.Contains(t, out, "request_id=req-1")
	assert.Contains(t, out, "user_id=alice")
	assert.Contains(t, out, "mode=BALANCED")
	assert.Contains(t, out, "action=BOOKED")
}

func TestRequestContext_Context(t *testing.T) {
	reqCtx := NewRequestContext(nil, "alice", "AUTONOMOUS")
	assert.NotEmpty(t, reqCtx.RequestID)

	ctx := WithRequestContext(context.Background(), reqCtx)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, reqCtx, got)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics(10)
	for i := 1; i <= 20; i++ {
		m.RecordCycle("BOOKED", time.Duration(i)*time.Millisecond)
	}
	m.RecordCycle("SUGGESTED", 5*time.Millisecond)
	m.RecordFailure()
	m.RecordDegraded()

	s := m.Snapshot()
	assert.Equal(t, int64(21), s.CycleTotal)
	assert.Equal(t, int64(1), s.CycleFailed)
	assert.Equal(t, int64(1), s.Degraded)
	assert.Equal(t, int64(20), s.Actions["BOOKED"])
	assert.Equal(t, int64(1), s.Actions["SUGGESTED"])
	// Only the last 10 durations are kept: 12..20 ms and 5 ms.
	assert.Equal(t, int64(20), s.P95DurationMs)

	m.Reset()
	assert.Zero(t, m.Snapshot().CycleTotal)
	assert.Empty(t, m.Snapshot().Actions)
}
