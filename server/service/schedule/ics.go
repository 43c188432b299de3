package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// ImportResult summarizes an iCalendar import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  []string `json:"skipped"`
}

// ImportICS reads VEVENTs from r and creates them as meetings of userID.
// Events that would create a hard conflict, are cancelled or lack a valid
// interval are skipped and reported.
func ImportICS(ctx context.Context, svc Service, userID string, r io.Reader, loc *time.Location) (*ImportResult, error) {
	if loc == nil {
		loc = time.UTC
	}

	result := &ImportResult{}
	decoder := ical.NewDecoder(r)
	for {
		cal, err := decoder.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, fmt.Errorf("failed to decode calendar: %w", err)
		}

		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			create, err := eventToRequest(comp, loc)
			if err != nil {
				result.Skipped = append(result.Skipped, err.Error())
				continue
			}
			if _, err := svc.CreateMeeting(ctx, userID, create); err != nil {
				if errors.Is(err, ErrMeetingConflict) || errors.Is(err, ErrInvalidMeeting) {
					result.Skipped = append(result.Skipped, fmt.Sprintf("%q: %v", create.Title, err))
					continue
				}
				return result, err
			}
			result.Imported++
		}
	}

	slog.Info("calendar import finished",
		"user_id", userID,
		"imported", result.Imported,
		"skipped", len(result.Skipped))
	return result, nil
}

func eventToRequest(comp *ical.Component, loc *time.Location) (*CreateMeetingRequest, error) {
	create := &CreateMeetingRequest{}

	if prop := comp.Props.Get(ical.PropSummary); prop != nil {
		create.Title = strings.TrimSpace(prop.Value)
	}
	if create.Title == "" {
		create.Title = "(untitled)"
	}
	if prop := comp.Props.Get(ical.PropStatus); prop != nil && strings.EqualFold(prop.Value, "CANCELLED") {
		return nil, fmt.Errorf("%q: cancelled", create.Title)
	}
	if prop := comp.Props.Get(ical.PropDescription); prop != nil {
		create.Description = prop.Value
	}
	if prop := comp.Props.Get(ical.PropLocation); prop != nil {
		create.Location = strings.TrimSpace(prop.Value)
	}

	start, err := eventTime(comp, ical.PropDateTimeStart, loc)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", create.Title, err)
	}
	end, err := eventTime(comp, ical.PropDateTimeEnd, loc)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", create.Title, err)
	}
	create.Start, create.End = start, end

	for _, attendee := range comp.Props.Values(ical.PropAttendee) {
		name := attendee.Params.Get(ical.ParamCommonName)
		if name == "" {
			name = strings.TrimPrefix(strings.TrimPrefix(attendee.Value, "mailto:"), "MAILTO:")
		}
		create.Participants = append(create.Participants, name)
	}

	if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil {
		create.RecurrenceRule = prop.Value
	}
	return create, nil
}

func eventTime(comp *ical.Component, name string, loc *time.Location) (time.Time, error) {
	prop := comp.Props.Get(name)
	if prop == nil {
		return time.Time{}, fmt.Errorf("missing %s", name)
	}
	t, err := prop.DateTime(loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", name, prop.Value, err)
	}
	return t.In(loc), nil
}
