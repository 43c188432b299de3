// Package schedule turns free text into scheduling requests, using a
// language model when configured and regular expressions otherwise.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/meetingagent/plugin/ai/timeout"
	"github.com/hrygo/meetingagent/server/ai"
	calendar "github.com/hrygo/meetingagent/server/service/schedule"
)

const (
	// MaxInputLength bounds the request text in characters.
	MaxInputLength = 500
	maxTitleLength = 200
)

var (
	// ErrEmptyInput is returned for blank text.
	ErrEmptyInput = errors.New("empty input")
	// ErrInputTooLong is returned for text over MaxInputLength.
	ErrInputTooLong = errors.New("input too long")
)

// Parse methods.
const (
	MethodLLM   = "llm"
	MethodRules = "rules"
)

// ParseResult is a parsed request and how it was obtained. The request is
// untrusted: the engine validates it like any other input.
type ParseResult struct {
	Request *calendar.SchedulingRequest
	Method  string
}

// Parser handles natural language parsing for scheduling requests.
type Parser struct {
	llm      ai.Chatter
	location *time.Location
	now      func() time.Time
}

// NewParser creates a parser. llm may be nil, in which case only the rule
// based extraction runs.
func NewParser(llm ai.Chatter, loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{llm: llm, location: loc, now: time.Now}
}

// Parse parses text. A failing or malformed model answer falls back to the
// rules.
func (p *Parser) Parse(ctx context.Context, text string) (*ParseResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if n := len([]rune(text)); n > MaxInputLength {
		return nil, fmt.Errorf("%w: maximum %d characters, got %d", ErrInputTooLong, MaxInputLength, n)
	}

	now := p.now().In(p.location)
	if p.llm != nil {
		req, err := p.parseWithLLM(ctx, text, now)
		if err == nil {
			req.Normalize()
			return &ParseResult{Request: req, Method: MethodLLM}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("language model parse failed, using rules",
			"error", err,
			"input", truncate(text))
	}

	req := parseRules(text, now, p.location)
	req.Normalize()
	return &ParseResult{Request: req, Method: MethodRules}, nil
}

// llmRequest is the JSON structure asked from the model.
type llmRequest struct {
	Title           string   `json:"title"`
	Participants    []string `json:"participants"`
	StartTime       *string  `json:"start_time"`
	DurationMinutes int      `json:"duration_minutes"`
	Location        string   `json:"location"`
	Recurrence      string   `json:"recurrence"`
	Priority        string   `json:"priority"`
	AllowWeekends   bool     `json:"allow_weekends"`
}

func (p *Parser) parseWithLLM(ctx context.Context, text string, now time.Time) (*calendar.SchedulingRequest, error) {
	systemPrompt := fmt.Sprintf(`You extract meeting scheduling requests into strict JSON.

Current Time: %s (%s)
Timezone: %s

Output Schema (JSON Only):
{
  "title": "meeting subject without time, date or participant words",
  "participants": ["names or emails"],
  "start_time": "YYYY-MM-DD HH:mm" or null when no time is given,
  "duration_minutes": integer, 0 when not stated,
  "location": "location or empty string",
  "recurrence": "daily|weekly|biweekly|monthly or empty string",
  "priority": "high|medium|low",
  "allow_weekends": true only when the user explicitly asks for a weekend
}

Rules:
1. Resolve relative dates against Current Time.
2. Never invent participants or locations.
`, now.Format("2006-01-02 15:04"), now.Weekday(), p.location.String())

	llmCtx, cancel := context.WithTimeout(ctx, timeout.ParseTimeout)
	defer cancel()
	response, err := p.llm.Chat(llmCtx, []ai.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: text},
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("language model parse", "response", truncate(response))

	jsonStr := strings.TrimSpace(response)
	jsonStr = strings.TrimPrefix(jsonStr, "```json")
	jsonStr = strings.TrimPrefix(jsonStr, "```")
	jsonStr = strings.TrimSuffix(jsonStr, "```")

	var out llmRequest
	if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	return p.toRequest(out, text)
}

// toRequest converts the model answer, filling gaps with the rule helpers.
func (p *Parser) toRequest(out llmRequest, text string) (*calendar.SchedulingRequest, error) {
	req := &calendar.SchedulingRequest{
		Title:           strings.TrimSpace(out.Title),
		Participants:    out.Participants,
		DurationMinutes: out.DurationMinutes,
		Location:        out.Location,
		Recurrence:      strings.ToLower(strings.TrimSpace(out.Recurrence)),
		Priority:        strings.ToLower(strings.TrimSpace(out.Priority)),
		AllowWeekends:   out.AllowWeekends,
		SourceText:      text,
	}
	if req.Title == "" {
		return nil, fmt.Errorf("model response has no title")
	}
	if len(req.Title) > maxTitleLength {
		req.Title = req.Title[:maxTitleLength]
	}
	if out.StartTime != nil && strings.TrimSpace(*out.StartTime) != "" {
		start, err := time.ParseInLocation("2006-01-02 15:04", strings.TrimSpace(*out.StartTime), p.location)
		if err != nil {
			return nil, fmt.Errorf("model returned malformed start_time %q: %w", *out.StartTime, err)
		}
		req.Start = &start
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = InferDuration(text)
	}
	switch req.Priority {
	case PriorityHigh, PriorityMedium, PriorityLow:
	default:
		req.Priority = InferPriority(text)
	}
	return req, nil
}

func truncate(s string) string {
	if len(s) <= timeout.MaxTruncateLength {
		return s
	}
	return s[:timeout.MaxTruncateLength] + "..."
}
