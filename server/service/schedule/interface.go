package schedule

import (
	"context"
	"time"

	"github.com/hrygo/meetingagent/store"
)

// Service is the calendar store boundary used by the decision engine.
// It owns meeting records; the engine only reads snapshots and proposes writes.
type Service interface {
	// FindMeetings returns confirmed meetings whose interval intersects [start, end),
	// ordered by start. Recurring meetings are expanded into instances.
	FindMeetings(ctx context.Context, userID string, start, end time.Time) ([]*MeetingInstance, error)

	// GetMeeting returns a meeting owned by userID, or ErrMeetingNotFound.
	GetMeeting(ctx context.Context, userID string, id int32) (*store.Meeting, error)

	// CreateMeeting validates the request, re-checks hard conflicts against
	// the latest committed state and persists the meeting.
	CreateMeeting(ctx context.Context, userID string, create *CreateMeetingRequest) (*store.Meeting, error)

	// CancelMeeting archives a meeting. It reports false when the meeting does
	// not exist or is already cancelled.
	CancelMeeting(ctx context.Context, userID string, id int32) (bool, error)

	// RescheduleMeeting moves a meeting to newStart keeping its duration.
	RescheduleMeeting(ctx context.Context, userID string, id int32, newStart time.Time) (*RescheduleResult, error)
}

// MeetingInstance is one concrete occurrence of a meeting (expanded from
// recurring meetings when needed).
type MeetingInstance struct {
	ID           int32
	UID          string
	Title        string
	Location     string
	Participants []string
	Start        time.Time
	End          time.Time
	// IsRecurring indicates if this is an instance of a recurring meeting
	IsRecurring bool
	// ParentUID is the UID of the base recurring meeting (if IsRecurring is true)
	ParentUID string
}

// Overlaps reports half-open intersection with [start, end).
func (m *MeetingInstance) Overlaps(start, end time.Time) bool {
	return m.Start.Before(end) && start.Before(m.End)
}

// Duration returns the instance length.
func (m *MeetingInstance) Duration() time.Duration {
	return m.End.Sub(m.Start)
}

// CreateMeetingRequest represents the request to create a meeting.
type CreateMeetingRequest struct {
	Title          string
	Description    string
	Location       string
	Participants   []string
	Start          time.Time
	End            time.Time
	RecurrenceRule string
	RecurrenceEnd  *time.Time
	// SourceText is the raw request text kept for audit.
	SourceText string
}

// RescheduleResult carries the moved meeting and a human readable notice.
type RescheduleResult struct {
	Meeting  *store.Meeting
	OldStart time.Time
	OldEnd   time.Time
	Notice   string
}
