package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRequest is returned for malformed scheduling requests.
var ErrInvalidRequest = errors.New("invalid scheduling request")

// MaxMeetingDuration bounds a single meeting.
const MaxMeetingDuration = 24 * time.Hour

// SchedulingRequest is a structured meeting request. It is treated as
// immutable for the duration of one decision cycle.
type SchedulingRequest struct {
	Title        string
	Participants []string
	// Start is the preferred start. When nil the engine uses now plus a default offset.
	Start *time.Time
	// End is optional; when set it must agree with DurationMinutes or define it.
	End             *time.Time
	DurationMinutes int
	Location        string
	Recurrence      string
	// AllowWeekends lets the candidate walk use Saturday and Sunday.
	AllowWeekends bool
	// Priority is informational: low, medium or high.
	Priority string
	// SourceText is the raw text the request was parsed from, kept for audit.
	SourceText string
}

// Duration returns the requested meeting length.
func (r *SchedulingRequest) Duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

// Interval returns the explicitly requested interval, if any.
func (r *SchedulingRequest) Interval() (time.Time, time.Time, bool) {
	if r.Start == nil {
		return time.Time{}, time.Time{}, false
	}
	return *r.Start, r.Start.Add(r.Duration()), true
}

// Normalize fills DurationMinutes from End when only End is given.
func (r *SchedulingRequest) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Location = strings.TrimSpace(r.Location)
	r.Participants = normalizeParticipants(r.Participants)
	if r.DurationMinutes == 0 && r.Start != nil && r.End != nil {
		r.DurationMinutes = int(r.End.Sub(*r.Start) / time.Minute)
	}
}

// Validate checks the request before any store access.
func (r *SchedulingRequest) Validate(now time.Time) error {
	if r == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if r.Start != nil && r.End != nil && !r.End.After(*r.Start) {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidRequest,
			r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	if r.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %d minutes", ErrInvalidRequest, r.DurationMinutes)
	}
	if r.Duration() > MaxMeetingDuration {
		return fmt.Errorf("%w: duration %d minutes exceeds %s", ErrInvalidRequest, r.DurationMinutes, MaxMeetingDuration)
	}
	if r.Start != nil && r.End != nil && !r.Start.Add(r.Duration()).Equal(*r.End) {
		return fmt.Errorf("%w: end does not match duration of %d minutes", ErrInvalidRequest, r.DurationMinutes)
	}
	if r.Start != nil && r.Start.Before(now.Truncate(time.Minute)) {
		return fmt.Errorf("%w: start %s is in the past", ErrInvalidRequest, r.Start.Format(time.RFC3339))
	}
	if err := ValidateRecurrence(r.Recurrence); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Summary is the short audit line stored with decision records.
func (r *SchedulingRequest) Summary() string {
	var b strings.Builder
	b.WriteString(r.Title)
	if r.Start != nil {
		fmt.Fprintf(&b, " @ %s", r.Start.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, " (%dm)", r.DurationMinutes)
	if len(r.Participants) > 0 {
		fmt.Fprintf(&b, " with %s", strings.Join(r.Participants, ", "))
	}
	return b.String()
}
