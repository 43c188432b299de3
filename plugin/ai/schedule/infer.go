package schedule

import (
	"regexp"
	"strconv"
	"strings"
)

// Priorities inferred from request text.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// DefaultDurationMinutes applies when the text names no duration.
const DefaultDurationMinutes = 60

var (
	urgentKeywords   = []string{"urgent", "asap", "immediately", "critical", "important", "deadline"}
	flexibleKeywords = []string{"whenever", "flexible", "any time", "anytime"}

	hoursPattern   = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(?:hours?|hrs?|h)\b`)
	minutesPattern = regexp.MustCompile(`(?i)\b(\d+)\s*(?:minutes?|mins?|m)\b`)
)

// InferPriority maps urgency keywords to a priority.
func InferPriority(text string) string {
	lower := strings.ToLower(text)
	if containsAny(lower, urgentKeywords) {
		return PriorityHigh
	}
	if containsAny(lower, flexibleKeywords) {
		return PriorityLow
	}
	return PriorityMedium
}

// InferDuration returns an explicit duration in minutes when the text has
// one, otherwise a duration typical of the meeting kind.
func InferDuration(text string) int {
	if m := minutesPattern.FindStringSubmatch(text); m != nil {
		if minutes, err := strconv.Atoi(m[1]); err == nil && minutes > 0 {
			return minutes
		}
	}
	if m := hoursPattern.FindStringSubmatch(text); m != nil {
		if hours, err := strconv.ParseFloat(m[1], 64); err == nil && hours > 0 {
			return int(hours * 60)
		}
	}

	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, []string{"standup", "stand-up", "quick", "brief"}):
		return 15
	case containsAny(lower, []string{"workshop", "offsite", "brainstorm"}):
		return 120
	default:
		return DefaultDurationMinutes
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
