package schedule

import (
	"fmt"
	"sort"
	"time"
)

// AlertKind identifies a proactive calendar issue.
type AlertKind string

const (
	// AlertMissingLocation flags a meeting starting soon without a location.
	AlertMissingLocation AlertKind = "MISSING_LOCATION"
	// AlertBackToBack flags a meeting with no breathing room around it.
	AlertBackToBack AlertKind = "BACK_TO_BACK"
)

// Alert is one proactive notice about an upcoming meeting.
type Alert struct {
	Kind      AlertKind `json:"kind"`
	Urgency   string    `json:"urgency"`
	MeetingID int32     `json:"meeting_id"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	Message   string    `json:"message"`
}

// AlertConfig tunes the proactive sweep.
type AlertConfig struct {
	// Lookahead is how far ahead meetings are inspected.
	Lookahead time.Duration
	// LocationLead is the lead time under which a missing location is urgent.
	LocationLead time.Duration
	// Buffer is the minimum gap expected between consecutive meetings.
	Buffer time.Duration
}

// DefaultAlertConfig returns a 7 day lookahead, 1 hour location lead and 5 minute buffer.
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		Lookahead:    7 * 24 * time.Hour,
		LocationLead: time.Hour,
		Buffer:       5 * time.Minute,
	}
}

// DetectAlerts inspects the indexed meetings starting in [now, now+Lookahead).
func DetectAlerts(index *CalendarIndex, now time.Time, config AlertConfig) []Alert {
	var alerts []Alert
	horizon := now.Add(config.Lookahead)

	for _, m := range index.Meetings() {
		if m.Start.Before(now) || !m.Start.Before(horizon) {
			continue
		}

		lead := m.Start.Sub(now)
		if m.Location == "" && lead < config.LocationLead {
			alerts = append(alerts, Alert{
				Kind:      AlertMissingLocation,
				Urgency:   "HIGH",
				MeetingID: m.ID,
				Title:     m.Title,
				Start:     m.Start,
				Message:   fmt.Sprintf("Meeting '%s' starts in %d minutes but has no location", m.Title, int(lead.Minutes())),
			})
		}

		neighbours := 0
		for _, other := range index.Overlapping(m.Start.Add(-config.Buffer), m.End.Add(config.Buffer)) {
			if other.ID != m.ID || !other.Start.Equal(m.Start) {
				neighbours++
			}
		}
		if neighbours > 0 {
			alerts = append(alerts, Alert{
				Kind:      AlertBackToBack,
				Urgency:   "MEDIUM",
				MeetingID: m.ID,
				Title:     m.Title,
				Start:     m.Start,
				Message:   fmt.Sprintf("Meeting '%s' has less than %d minutes to adjacent meetings - consider rescheduling", m.Title, int(config.Buffer.Minutes())),
			})
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Start.Before(alerts[j].Start)
	})
	return alerts
}
