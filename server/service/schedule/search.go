package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MaxSearchWindow bounds a listing so recurring expansion stays small.
const MaxSearchWindow = 92 * 24 * time.Hour

// SearchCriteria narrows a meeting listing. Empty fields match everything.
// Text matching is case-insensitive.
type SearchCriteria struct {
	Start       time.Time
	End         time.Time
	Title       string
	Participant string
	Location    string
}

// Matches reports whether the instance satisfies the text criteria.
func (c SearchCriteria) Matches(m *MeetingInstance) bool {
	if c.Title != "" && !containsFold(m.Title, c.Title) {
		return false
	}
	if c.Location != "" && !containsFold(m.Location, c.Location) {
		return false
	}
	if c.Participant != "" {
		found := false
		for _, p := range m.Participants {
			if strings.EqualFold(strings.TrimSpace(p), strings.TrimSpace(c.Participant)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SearchMeetings lists the meeting instances of userID in the criteria
// window, recurring meetings expanded, ordered by start.
func SearchMeetings(ctx context.Context, svc Service, userID string, criteria SearchCriteria) ([]*MeetingInstance, error) {
	if !criteria.Start.Before(criteria.End) {
		return nil, fmt.Errorf("%w: window start %s is not before end %s", ErrInvalidRequest,
			criteria.Start.Format(time.RFC3339), criteria.End.Format(time.RFC3339))
	}
	if criteria.End.Sub(criteria.Start) > MaxSearchWindow {
		return nil, fmt.Errorf("%w: window longer than %d days", ErrInvalidRequest, int(MaxSearchWindow/(24*time.Hour)))
	}

	instances, err := svc.FindMeetings(ctx, userID, criteria.Start, criteria.End)
	if err != nil {
		return nil, err
	}
	out := make([]*MeetingInstance, 0, len(instances))
	for _, m := range instances {
		if criteria.Matches(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(strings.TrimSpace(substr)))
}
