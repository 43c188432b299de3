package schedule

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	calendar "github.com/hrygo/meetingagent/server/service/schedule"
)

var (
	titlePattern       = regexp.MustCompile(`(?i)^(?:please\s+)?(?:(?:schedule|book|set\s+up|arrange|plan|organi[sz]e)\b)?\s*(?:an?\s+|the\s+)?(.+?)(?:\s+(?:with|at|on|tomorrow|today|tonight|next|this|for|in|every|from|daily|weekly|monthly|biweekly|monday|tuesday|wednesday|thursday|friday|saturday|sunday|morning|afternoon|evening|noon)\b|$)`)
	participantPattern = regexp.MustCompile(`(?i)\bwith\s+(.+?)(?:\s+(?:at|on|tomorrow|today|next|this|for|in|every|from|about|daily|weekly|monthly|biweekly)\b|[.;]|$)`)
	participantSplit   = regexp.MustCompile(`(?i)\s*(?:,|\band\b|&)\s*`)
	locationPattern    = regexp.MustCompile(`(?i)\b(?:in|at)\s+((?:the\s+)?(?:[a-z0-9-]+\s+)?(?:room|office|cafe|hall|lab)(?:\s+(?:\d+[a-z]?|[a-z])\b)?)`)
	isoDatePattern     = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	weekdayPattern     = regexp.MustCompile(`(?i)\b(next\s+|this\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	clockPattern       = regexp.MustCompile(`(?i)(?:\bat\s+)?\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
)

var recurrenceKeywords = []struct {
	keywords []string
	pattern  string
}{
	{[]string{"every other week", "biweekly", "bi-weekly", "fortnightly"}, "biweekly"},
	{[]string{"every day", "daily"}, "daily"},
	{[]string{"every week", "weekly"}, "weekly"},
	{[]string{"every month", "monthly"}, "monthly"},
}

// parseRules extracts a request with regular expressions only.
func parseRules(text string, now time.Time, loc *time.Location) *calendar.SchedulingRequest {
	req := &calendar.SchedulingRequest{
		Title:           extractTitle(text),
		Participants:    extractParticipants(text),
		Location:        extractLocation(text),
		DurationMinutes: InferDuration(text),
		Recurrence:      extractRecurrence(text),
		Priority:        InferPriority(text),
		SourceText:      text,
	}
	if start, ok := extractStart(text, now.In(loc)); ok {
		req.Start = &start
		if wd := start.Weekday(); wd == time.Saturday || wd == time.Sunday {
			// An explicit weekend date is a deliberate choice.
			req.AllowWeekends = true
		}
	}
	return req
}

func extractTitle(text string) string {
	if m := titlePattern.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
		if title := strings.TrimSpace(m[1]); title != "" {
			return title
		}
	}
	return "Meeting"
}

func extractParticipants(text string) []string {
	m := participantPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	var participants []string
	for _, p := range participantSplit.Split(m[1], -1) {
		p = strings.TrimSpace(p)
		p = strings.TrimPrefix(p, "the ")
		if p != "" {
			participants = append(participants, p)
		}
	}
	return participants
}

func extractLocation(text string) string {
	if m := locationPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func extractRecurrence(text string) string {
	lower := strings.ToLower(text)
	for _, r := range recurrenceKeywords {
		if containsAny(lower, r.keywords) {
			return r.pattern
		}
	}
	return ""
}

// extractStart resolves a date and a clock time relative to now. A date
// without a time starts at 09:00. A time without a date is the next such
// time after now.
func extractStart(text string, now time.Time) (time.Time, bool) {
	date, hasDate := extractDate(text, now)
	hour, minute, hasClock := extractClock(text)
	if !hasDate && !hasClock {
		return time.Time{}, false
	}
	if !hasClock {
		hour, minute = 9, 0
	}
	if !hasDate {
		date = now
	}
	start := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, now.Location())
	if !hasDate && !start.After(now) {
		start = start.AddDate(0, 0, 1)
	}
	return start, true
}

func extractDate(text string, now time.Time) (time.Time, bool) {
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		if d, err := time.ParseInLocation("2006-01-02", m[1], now.Location()); err == nil {
			return d, true
		}
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "day after tomorrow"):
		return now.AddDate(0, 0, 2), true
	case strings.Contains(lower, "tomorrow"):
		return now.AddDate(0, 0, 1), true
	case strings.Contains(lower, "today"), strings.Contains(lower, "tonight"):
		return now, true
	}

	if m := weekdayPattern.FindStringSubmatch(lower); m != nil {
		target := weekdays[m[2]]
		if strings.HasPrefix(m[1], "next") {
			// The named day of the following Monday-based week.
			days := 8 - isoWeekday(now.Weekday()) + isoWeekday(target) - 1
			return now.AddDate(0, 0, days), true
		}
		days := (int(target) - int(now.Weekday()) + 7) % 7
		if days == 0 && !strings.HasPrefix(m[1], "this") {
			days = 7
		}
		return now.AddDate(0, 0, days), true
	}
	return time.Time{}, false
}

func isoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

func extractClock(text string) (int, int, bool) {
	lower := strings.ToLower(text)
	for _, m := range clockPattern.FindAllStringSubmatch(lower, -1) {
		explicit := strings.HasPrefix(m[0], "at")
		if m[2] == "" && m[3] == "" && !explicit {
			// A bare number is a count, not a time.
			continue
		}
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		switch m[3] {
		case "pm":
			if hour > 12 {
				return 0, 0, false
			}
			if hour < 12 {
				hour += 12
			}
		case "am":
			if hour > 12 {
				return 0, 0, false
			}
			if hour == 12 {
				hour = 0
			}
		default:
			// "at 3" means the afternoon.
			if m[2] == "" && hour >= 1 && hour <= 6 {
				hour += 12
			}
		}
		if hour > 23 || minute > 59 {
			return 0, 0, false
		}
		return hour, minute, true
	}

	switch {
	case strings.Contains(lower, "noon"):
		return 12, 0, true
	case strings.Contains(lower, "morning"):
		return 9, 0, true
	case strings.Contains(lower, "afternoon"):
		return 14, 0, true
	case strings.Contains(lower, "evening"), strings.Contains(lower, "tonight"):
		return 18, 0, true
	}
	return 0, 0, false
}
