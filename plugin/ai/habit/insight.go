package habit

import (
	"fmt"
	"time"

	"github.com/hrygo/meetingagent/plugin/ai/memory"
	"github.com/hrygo/meetingagent/server/service/schedule"
)

const maxSuggestions = 5

// Insight is the proactive view of one identity's calendar and learning.
type Insight struct {
	UserID      string           `json:"user_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Snapshot    *ContextSnapshot `json:"snapshot"`
	StressLevel string           `json:"stress_level"`
	Report      memory.Report    `json:"report"`
	Alerts      []schedule.Alert `json:"alerts"`
	Suggestions []string         `json:"suggestions"`
}

// StressLevel labels a stress value as high, moderate or low.
func StressLevel(stress float64) string {
	switch {
	case stress > 0.7:
		return "high"
	case stress > 0.4:
		return "moderate"
	default:
		return "low"
	}
}

// BuildInsight combines a snapshot, alerts and the memory report.
func BuildInsight(userID string, now time.Time, snapshot *ContextSnapshot, alerts []schedule.Alert, report memory.Report) *Insight {
	if alerts == nil {
		alerts = []schedule.Alert{}
	}
	return &Insight{
		UserID:      userID,
		GeneratedAt: now,
		Snapshot:    snapshot,
		StressLevel: StressLevel(snapshot.Stress),
		Report:      report,
		Alerts:      alerts,
		Suggestions: Suggestions(snapshot, report),
	}
}

// Suggestions returns short personalized scheduling advice.
func Suggestions(snapshot *ContextSnapshot, report memory.Report) []string {
	suggestions := make([]string, 0, maxSuggestions)

	if snapshot.Stress > 0.7 {
		suggestions = append(suggestions,
			fmt.Sprintf("Calendar stress is high (%.0f%%) - consider shortening meetings by 15 minutes", snapshot.Stress*100))
	}
	if snapshot.ConflictFrequency > 0.2 {
		suggestions = append(suggestions,
			fmt.Sprintf("%.0f%% of your meetings overlap another one - review double bookings", snapshot.ConflictFrequency*100))
	}
	if report.Interactions >= 5 && report.SuccessRate < 0.5 {
		suggestions = append(suggestions,
			"Less than half of your requests were booked automatically - consider widening business hours or a more autonomous mode")
	}
	if report.PreferredHour >= 0 {
		suggestions = append(suggestions,
			fmt.Sprintf("Meetings around %02d:00 get your best feedback - prefer that slot", report.PreferredHour))
	}
	if snapshot.HasAvailableWeekday && snapshot.MeetingCount > 0 {
		suggestions = append(suggestions,
			fmt.Sprintf("%s appears to be your most available day", snapshot.MostAvailableWeekday))
	}

	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions
}
