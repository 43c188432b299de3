package schedule

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/meetingagent/server/ai"
)

// monday is 2025-03-10 09:00 UTC.
var monday = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type mockChatter struct {
	response string
	err      error
	calls    int
	messages []ai.Message
}

func (m *mockChatter) Chat(_ context.Context, messages []ai.Message) (string, error) {
	m.calls++
	m.messages = messages
	return m.response, m.err
}

func newTestParser(llm ai.Chatter) *Parser {
	p := NewParser(llm, time.UTC)
	p.now = func() time.Time { return monday }
	return p
}

func TestParse_Rules(t *testing.T) {
	tests := []struct {
		text         string
		title        string
		participants []string
		start        *time.Time
		duration     int
		location     string
		recurrence   string
		priority     string
	}{
		{
			text:         "Schedule urgent call with client tomorrow at 2pm",
			title:        "urgent call",
			participants: []string{"client"},
			start:        ptr(time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC)),
			duration:     60,
			priority:     PriorityHigh,
		},
		{
			text:         "Book design review with Bob and Carol next friday 10:30 for 90 minutes in Room 4",
			title:        "design review",
			participants: []string{"Bob", "Carol"},
			start:        ptr(time.Date(2025, 3, 21, 10, 30, 0, 0, time.UTC)),
			duration:     90,
			location:     "Room 4",
			priority:     PriorityMedium,
		},
		{
			text:       "team standup every day at 9am",
			title:      "team standup",
			start:      ptr(time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)),
			duration:   15,
			recurrence: "daily",
			priority:   PriorityMedium,
		},
		{
			text:     "planning workshop on 2025-03-14, whenever works",
			title:    "planning workshop",
			start:    ptr(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)),
			duration: 120,
			priority: PriorityLow,
		},
		{
			text:     "quick sync",
			title:    "quick sync",
			duration: 15,
			priority: PriorityMedium,
		},
		{
			text:     "1:1 wednesday afternoon for 1.5 hours",
			title:    "1:1",
			start:    ptr(time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC)),
			duration: 90,
			priority: PriorityMedium,
		},
	}
	p := newTestParser(nil)
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			result, err := p.Parse(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, MethodRules, result.Method)

			req := result.Request
			assert.Equal(t, tt.title, req.Title)
			assert.ElementsMatch(t, tt.participants, req.Participants)
			if tt.start == nil {
				assert.Nil(t, req.Start)
			} else {
				require.NotNil(t, req.Start)
				assert.Equal(t, *tt.start, *req.Start)
			}
			assert.Equal(t, tt.duration, req.DurationMinutes)
			assert.Equal(t, tt.location, req.Location)
			assert.Equal(t, tt.recurrence, req.Recurrence)
			assert.Equal(t, tt.priority, req.Priority)
			assert.Equal(t, tt.text, req.SourceText)
		})
	}
}

func TestParse_InputErrors(t *testing.T) {
	p := newTestParser(nil)
	_, err := p.Parse(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.Parse(context.Background(), strings.Repeat("a", MaxInputLength+1))
	assert.ErrorIs(t, err, ErrInputTooLong)
}

func TestParse_LLM(t *testing.T) {
	llm := &mockChatter{response: "```json\n" + `{"title":"Roadmap","participants":["Dana"],"start_time":"2025-03-12 15:00","duration_minutes":45,"location":"","recurrence":"Weekly","priority":"urgent"}` + "\n```"}
	p := newTestParser(llm)

	result, err := p.Parse(context.Background(), "roadmap with Dana wednesday 3pm, it's urgent")
	require.NoError(t, err)
	assert.Equal(t, MethodLLM, result.Method)
	assert.Equal(t, 1, llm.calls)
	assert.Contains(t, llm.messages[0].Content, "2025-03-10 09:00")

	req := result.Request
	assert.Equal(t, "Roadmap", req.Title)
	assert.Equal(t, []string{"Dana"}, req.Participants)
	require.NotNil(t, req.Start)
	assert.Equal(t, time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC), *req.Start)
	assert.Equal(t, 45, req.DurationMinutes)
	assert.Equal(t, "weekly", req.Recurrence)
	// Unknown priority values are inferred from the text.
	assert.Equal(t, PriorityHigh, req.Priority)
}

func TestParse_LLMFallsBack(t *testing.T) {
	tests := []struct {
		name string
		llm  *mockChatter
	}{
		{"error", &mockChatter{err: errors.New("rate limited")}},
		{"not json", &mockChatter{response: "Sure! The meeting is tomorrow."}},
		{"no title", &mockChatter{response: `{"title":""}`}},
		{"bad start", &mockChatter{response: `{"title":"x","start_time":"tomorrow 3pm"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := newTestParser(tt.llm).Parse(context.Background(), "sync with Bob tomorrow at 3pm")
			require.NoError(t, err)
			assert.Equal(t, MethodRules, result.Method)
			assert.Equal(t, "sync", result.Request.Title)
			require.NotNil(t, result.Request.Start)
			assert.Equal(t, 15, result.Request.Start.Hour())
		})
	}
}

func TestInferHelpers(t *testing.T) {
	assert.Equal(t, PriorityHigh, InferPriority("ASAP please"))
	assert.Equal(t, PriorityLow, InferPriority("any time next week"))
	assert.Equal(t, PriorityMedium, InferPriority("sync"))

	assert.Equal(t, 30, InferDuration("30 min chat"))
	assert.Equal(t, 120, InferDuration("2 hours"))
	assert.Equal(t, 15, InferDuration("brief check-in"))
	assert.Equal(t, 120, InferDuration("design workshop"))
	assert.Equal(t, DefaultDurationMinutes, InferDuration("meeting"))
}

func ptr(t time.Time) *time.Time {
	return &t
}
