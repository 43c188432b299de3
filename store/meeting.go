package store

import (
	"context"
	"time"
)

// Meeting is the object representing a calendar commitment.
type Meeting struct {
	ID        int32
	UID       string
	CreatorID string
	RowStatus RowStatus
	CreatedTs int64
	UpdatedTs int64

	Title        string
	Description  string
	Location     string
	Participants []string
	StartTs      int64
	EndTs        int64

	// RecurrenceRule is a pattern descriptor (daily, weekly, biweekly, monthly) or an RRULE.
	RecurrenceRule  *string
	RecurrenceEndTs *int64

	// SourceText is the raw request text kept for audit.
	SourceText string
}

// FindMeeting is the find condition for meeting.
type FindMeeting struct {
	ID        *int32
	UID       *string
	CreatorID *string
	RowStatus *RowStatus

	// Window filter: meetings whose [start_ts, end_ts) intersects [StartTs, EndTs).
	StartTs *int64
	EndTs   *int64
	// IncludeRecurring also returns recurring meetings that started before the
	// window end regardless of their first occurrence.
	IncludeRecurring bool

	Limit *int
}

// UpdateMeeting is the update request for meeting.
type UpdateMeeting struct {
	ID              int32
	UpdatedTs       *int64
	RowStatus       *RowStatus
	Title           *string
	Description     *string
	Location        *string
	Participants    *[]string
	StartTs         *int64
	EndTs           *int64
	RecurrenceRule  *string
	RecurrenceEndTs *int64
}

// DeleteMeeting is the delete request for meeting.
type DeleteMeeting struct {
	ID int32
}

// IsRecurring reports whether the meeting carries a recurrence pattern.
func (m *Meeting) IsRecurring() bool {
	return m.RecurrenceRule != nil && *m.RecurrenceRule != ""
}

// StartTime returns the meeting start.
func (m *Meeting) StartTime() time.Time {
	return time.Unix(m.StartTs, 0)
}

// EndTime returns the meeting end.
func (m *Meeting) EndTime() time.Time {
	return time.Unix(m.EndTs, 0)
}

// Duration returns the meeting length.
func (m *Meeting) Duration() time.Duration {
	return time.Duration(m.EndTs-m.StartTs) * time.Second
}

// CreateMeeting creates a new meeting.
func (s *Store) CreateMeeting(ctx context.Context, create *Meeting) (*Meeting, error) {
	return s.driver.CreateMeeting(ctx, create)
}

// ListMeetings lists meetings with filter.
func (s *Store) ListMeetings(ctx context.Context, find *FindMeeting) ([]*Meeting, error) {
	return s.driver.ListMeetings(ctx, find)
}

// GetMeeting gets the first meeting matching the filter, or nil.
func (s *Store) GetMeeting(ctx context.Context, find *FindMeeting) (*Meeting, error) {
	list, err := s.driver.ListMeetings(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// UpdateMeeting updates a meeting.
func (s *Store) UpdateMeeting(ctx context.Context, update *UpdateMeeting) error {
	return s.driver.UpdateMeeting(ctx, update)
}

// DeleteMeeting deletes a meeting.
func (s *Store) DeleteMeeting(ctx context.Context, delete *DeleteMeeting) error {
	return s.driver.DeleteMeeting(ctx, delete)
}
