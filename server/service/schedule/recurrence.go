package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/hrygo/meetingagent/store"
)

// parseRecurrence turns a pattern descriptor into a rule anchored at dtstart.
// Accepted descriptors are daily, weekly, biweekly, monthly or an RRULE body
// ("FREQ=WEEKLY;BYDAY=MO,WE", optionally prefixed with "RRULE:").
func parseRecurrence(pattern string, dtstart time.Time, until *time.Time) (*rrule.RRule, error) {
	opt := rrule.ROption{Dtstart: dtstart}

	switch strings.ToLower(strings.TrimSpace(pattern)) {
	case "daily":
		opt.Freq = rrule.DAILY
	case "weekly":
		opt.Freq = rrule.WEEKLY
	case "biweekly":
		opt.Freq = rrule.WEEKLY
		opt.Interval = 2
	case "monthly":
		opt.Freq = rrule.MONTHLY
	default:
		body := strings.TrimPrefix(strings.TrimSpace(pattern), "RRULE:")
		parsed, err := rrule.StrToROption(body)
		if err != nil {
			return nil, fmt.Errorf("invalid recurrence rule %q: %w", pattern, err)
		}
		parsed.Dtstart = dtstart
		opt = *parsed
	}

	if until != nil && (opt.Until.IsZero() || until.Before(opt.Until)) {
		opt.Until = *until
	}

	return rrule.NewRRule(opt)
}

// ValidateRecurrence reports whether pattern can be expanded.
func ValidateRecurrence(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return nil
	}
	_, err := parseRecurrence(pattern, time.Unix(0, 0).UTC(), nil)
	return err
}

// expandMeeting returns the instances of m intersecting [start, end).
// Non-recurring meetings yield at most one instance. A recurring meeting with
// more than limit instances in the window returns ErrExpansionLimit.
func expandMeeting(m *store.Meeting, start, end time.Time, loc *time.Location, limit int) ([]*MeetingInstance, error) {
	base := toInstance(m, loc)
	if !m.IsRecurring() {
		if base.Overlaps(start, end) {
			return []*MeetingInstance{base}, nil
		}
		return nil, nil
	}

	var until *time.Time
	if m.RecurrenceEndTs != nil {
		u := time.Unix(*m.RecurrenceEndTs, 0).In(loc)
		until = &u
	}
	rule, err := parseRecurrence(*m.RecurrenceRule, base.Start, until)
	if err != nil {
		return nil, err
	}

	duration := base.Duration()
	var instances []*MeetingInstance
	for _, occurrence := range rule.Between(start.Add(-duration), end, true) {
		instance := *base
		instance.Start = occurrence
		instance.End = occurrence.Add(duration)
		instance.IsRecurring = true
		instance.ParentUID = m.UID
		if !instance.Overlaps(start, end) {
			continue
		}
		if len(instances) >= limit {
			return nil, ErrExpansionLimit
		}
		instances = append(instances, &instance)
	}
	return instances, nil
}

func toInstance(m *store.Meeting, loc *time.Location) *MeetingInstance {
	participants := make([]string, len(m.Participants))
	copy(participants, m.Participants)
	return &MeetingInstance{
		ID:           m.ID,
		UID:          m.UID,
		Title:        m.Title,
		Location:     m.Location,
		Participants: participants,
		Start:        m.StartTime().In(loc),
		End:          m.EndTime().In(loc),
	}
}
