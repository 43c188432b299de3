// Package schedule provides the calendar side of the scheduling agent:
// meeting persistence behind a narrow store boundary, the per-cycle
// calendar index, conflict detection and candidate slot generation.
//
// Key features:
//   - Recurring meeting expansion using RRULE
//   - Hard/soft conflict classification by shared participant or location
//   - Nearest-first candidate walk within business hours
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hrygo/meetingagent/internal/observability"
	"github.com/hrygo/meetingagent/internal/util"
	"github.com/hrygo/meetingagent/store"
)

// Meeting-specific errors that can be checked with errors.Is.
var (
	// ErrMeetingConflict is returned when a write would create a hard conflict.
	ErrMeetingConflict = errors.New("meeting conflicts detected")
	// ErrMeetingNotFound is returned when a meeting does not exist for the user.
	ErrMeetingNotFound = errors.New("meeting not found")
	// ErrInvalidMeeting is returned for malformed meeting data.
	ErrInvalidMeeting = errors.New("invalid meeting")
	// ErrExpansionLimit is returned when a recurring meeting has more
	// instances in the query window than MaxInstances.
	ErrExpansionLimit = errors.New("recurring meeting expansion limit exceeded")
)

// ConflictError is a structured error listing the hard conflicts that blocked a write.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMeetingConflict, buildConflictError(e.Conflicts))
}

func (e *ConflictError) Unwrap() error {
	return ErrMeetingConflict
}

// MeetingIDs returns the identifiers of the conflicting meetings.
func (e *ConflictError) MeetingIDs() []int32 {
	return conflictIDs(e.Conflicts)
}

type service struct {
	store    Store
	location *time.Location
	now      func() time.Time
}

// Store is the interface for store operations needed by the schedule service.
type Store interface {
	CreateMeeting(ctx context.Context, create *store.Meeting) (*store.Meeting, error)
	ListMeetings(ctx context.Context, find *store.FindMeeting) ([]*store.Meeting, error)
	GetMeeting(ctx context.Context, find *store.FindMeeting) (*store.Meeting, error)
	UpdateMeeting(ctx context.Context, update *store.UpdateMeeting) error
}

// NewService creates a new schedule service. Times are interpreted in loc.
func NewService(store Store, loc *time.Location) Service {
	if loc == nil {
		loc = time.UTC
	}
	return &service{store: store, location: loc, now: time.Now}
}

// FindMeetings returns meetings between start and end time, with recurring meetings expanded.
func (s *service) FindMeetings(ctx context.Context, userID string, start, end time.Time) ([]*MeetingInstance, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: window start %s is not before end %s", ErrInvalidMeeting, start, end)
	}

	startTs, endTs := start.Unix(), end.Unix()
	normalStatus := store.Normal
	list, err := s.store.ListMeetings(ctx, &store.FindMeeting{
		CreatorID:        &userID,
		RowStatus:        &normalStatus,
		StartTs:          &startTs,
		EndTs:            &endTs,
		IncludeRecurring: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}

	// Every row reaches the index. A partial index would let the conflict
	// detector miss meetings, so an oversized expansion fails the query.
	var instances []*MeetingInstance
	for _, m := range list {
		expanded, err := expandMeeting(m, start, end, s.location, MaxInstances)
		if errors.Is(err, ErrExpansionLimit) {
			slog.Warn("recurring meeting expansion exceeds limit",
				"meeting_id", m.ID,
				"limit", MaxInstances,
				"user_id", userID)
			return nil, fmt.Errorf("meeting %d: %w", m.ID, err)
		}
		if err != nil {
			// A broken rule must not hide the base occurrence from conflict checks.
			slog.Warn("failed to expand recurring meeting",
				"meeting_id", m.ID,
				"rule", *m.RecurrenceRule,
				"error", err)
			if base := toInstance(m, s.location); base.Overlaps(start, end) {
				instances = append(instances, base)
			}
			continue
		}
		instances = append(instances, expanded...)
	}

	sortInstances(instances)
	return instances, nil
}

// GetMeeting returns a meeting owned by userID.
func (s *service) GetMeeting(ctx context.Context, userID string, id int32) (*store.Meeting, error) {
	existing, err := s.store.GetMeeting(ctx, &store.FindMeeting{ID: &id, CreatorID: &userID})
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}
	if existing == nil {
		return nil, ErrMeetingNotFound
	}
	return existing, nil
}

// CreateMeeting creates a new meeting with validation and conflict checking.
func (s *service) CreateMeeting(ctx context.Context, userID string, create *CreateMeetingRequest) (*store.Meeting, error) {
	start := time.Now()
	defer func() {
		requestID := ""
		if reqCtx, ok := observability.FromContext(ctx); ok {
			requestID = reqCtx.RequestID
		}
		slog.Debug("meeting create operation",
			"user_id", userID,
			"request_id", requestID,
			"title", create.Title,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	if err := validateCreate(create); err != nil {
		return nil, err
	}

	conflicts, err := s.hardConflicts(ctx, userID, create.Start, create.End, create.Participants, create.Location, 0)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, &ConflictError{Conflicts: conflicts}
	}

	if create.RecurrenceRule != "" {
		recurring, err := s.checkRecurringConflicts(ctx, userID, create)
		if err != nil {
			return nil, err
		}
		if len(recurring) > 0 {
			return nil, &ConflictError{Conflicts: recurring}
		}
	}

	meeting := &store.Meeting{
		UID:          util.GenUUID(),
		CreatorID:    userID,
		RowStatus:    store.Normal,
		Title:        strings.TrimSpace(create.Title),
		Description:  create.Description,
		Location:     strings.TrimSpace(create.Location),
		Participants: normalizeParticipants(create.Participants),
		StartTs:      create.Start.Unix(),
		EndTs:        create.End.Unix(),
		SourceText:   create.SourceText,
	}
	if create.RecurrenceRule != "" {
		rule := create.RecurrenceRule
		meeting.RecurrenceRule = &rule
	}
	if create.RecurrenceEnd != nil {
		ts := create.RecurrenceEnd.Unix()
		meeting.RecurrenceEndTs = &ts
	}

	created, err := s.store.CreateMeeting(ctx, meeting)
	if err != nil {
		return nil, fmt.Errorf("failed to create meeting: %w", err)
	}
	return created, nil
}

// CancelMeeting archives a meeting.
func (s *service) CancelMeeting(ctx context.Context, userID string, id int32) (bool, error) {
	existing, err := s.store.GetMeeting(ctx, &store.FindMeeting{ID: &id, CreatorID: &userID})
	if err != nil {
		return false, fmt.Errorf("failed to get meeting: %w", err)
	}
	if existing == nil || existing.RowStatus == store.Archived {
		return false, nil
	}

	archived := store.Archived
	now := s.now().Unix()
	if err := s.store.UpdateMeeting(ctx, &store.UpdateMeeting{
		ID:        id,
		RowStatus: &archived,
		UpdatedTs: &now,
	}); err != nil {
		return false, fmt.Errorf("failed to cancel meeting: %w", err)
	}

	slog.Info("meeting cancelled", "user_id", userID, "meeting_id", id, "title", existing.Title)
	return true, nil
}

// RescheduleMeeting moves a meeting keeping its duration.
func (s *service) RescheduleMeeting(ctx context.Context, userID string, id int32, newStart time.Time) (*RescheduleResult, error) {
	existing, err := s.GetMeeting(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if existing.RowStatus == store.Archived {
		return nil, fmt.Errorf("%w: meeting %d is cancelled", ErrInvalidMeeting, id)
	}

	oldStart := existing.StartTime().In(s.location)
	oldEnd := existing.EndTime().In(s.location)
	newEnd := newStart.Add(existing.Duration())
	conflicts, err := s.hardConflicts(ctx, userID, newStart, newEnd, existing.Participants, existing.Location, id)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, &ConflictError{Conflicts: conflicts}
	}

	startTs, endTs, now := newStart.Unix(), newEnd.Unix(), s.now().Unix()
	if err := s.store.UpdateMeeting(ctx, &store.UpdateMeeting{
		ID:        id,
		StartTs:   &startTs,
		EndTs:     &endTs,
		UpdatedTs: &now,
	}); err != nil {
		return nil, fmt.Errorf("failed to reschedule meeting: %w", err)
	}

	updated, err := s.GetMeeting(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get updated meeting: %w", err)
	}

	return &RescheduleResult{
		Meeting:  updated,
		OldStart: oldStart,
		OldEnd:   oldEnd,
		Notice:   RescheduleNotice(updated, oldStart, s.location),
	}, nil
}

// hardConflicts re-reads the calendar around [start, end) and returns the
// hard conflicts, ignoring the meeting with id exclude.
func (s *service) hardConflicts(ctx context.Context, userID string, start, end time.Time, participants []string, location string, exclude int32) ([]Conflict, error) {
	instances, err := s.FindMeetings(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to check conflicts: %w", err)
	}
	detector := NewConflictDetector(NewCalendarIndex(start, end, instances))
	report := detector.Detect(start, end, participants, location, exclude)
	return report.Hard, nil
}

// checkRecurringConflicts checks future instances of a recurring request.
func (s *service) checkRecurringConflicts(ctx context.Context, userID string, create *CreateMeetingRequest) ([]Conflict, error) {
	rule, err := parseRecurrence(create.RecurrenceRule, create.Start.In(s.location), create.RecurrenceEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMeeting, err)
	}

	windowEnd := create.Start.Add(RecurringCheckWindow)
	occurrences := rule.Between(create.Start, windowEnd, true)
	if len(occurrences) > MaxInstancesToCheck {
		occurrences = occurrences[:MaxInstancesToCheck]
	}
	if len(occurrences) == 0 {
		return nil, nil
	}

	duration := create.End.Sub(create.Start)
	instances, err := s.FindMeetings(ctx, userID, occurrences[0], occurrences[len(occurrences)-1].Add(duration))
	if err != nil {
		return nil, fmt.Errorf("failed to check recurring conflicts: %w", err)
	}
	detector := NewConflictDetector(NewCalendarIndex(occurrences[0], occurrences[len(occurrences)-1].Add(duration), instances))

	var conflicts []Conflict
	for _, occurrence := range occurrences {
		report := detector.Detect(occurrence, occurrence.Add(duration), create.Participants, create.Location, 0)
		conflicts = append(conflicts, report.Hard...)
	}
	return conflicts, nil
}

func validateCreate(create *CreateMeetingRequest) error {
	if create == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidMeeting)
	}
	if strings.TrimSpace(create.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidMeeting)
	}
	if create.Start.IsZero() || create.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidMeeting)
	}
	if !create.Start.Before(create.End) {
		return fmt.Errorf("%w: end must be after start", ErrInvalidMeeting)
	}
	if err := ValidateRecurrence(create.RecurrenceRule); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMeeting, err)
	}
	return nil
}

// normalizeParticipants trims names and drops empty and duplicate entries.
func normalizeParticipants(participants []string) []string {
	seen := make(map[string]bool, len(participants))
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		p = strings.TrimSpace(p)
		key := strings.ToLower(p)
		if p == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

func sortInstances(instances []*MeetingInstance) {
	sort.SliceStable(instances, func(i, j int) bool {
		if !instances[i].Start.Equal(instances[j].Start) {
			return instances[i].Start.Before(instances[j].Start)
		}
		return instances[i].ID < instances[j].ID
	})
}

// buildConflictError renders conflicts for error messages.
func buildConflictError(conflicts []Conflict) string {
	parts := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		parts = append(parts, fmt.Sprintf("%q (%s - %s, %s)",
			c.Meeting.Title,
			c.Meeting.Start.Format("2006-01-02 15:04"),
			c.Meeting.End.Format("15:04"),
			c.Reason))
	}
	return strings.Join(parts, "; ")
}

// RescheduleNotice renders the message sent to participants after a move.
func RescheduleNotice(m *store.Meeting, oldStart time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	newStart := m.StartTime().In(loc)
	var b strings.Builder
	fmt.Fprintf(&b, "Meeting Rescheduled: %s\n", m.Title)
	fmt.Fprintf(&b, "Original time: %s\n", oldStart.In(loc).Format("Monday, January 2, 2006 at 15:04"))
	fmt.Fprintf(&b, "New time: %s\n", newStart.Format("Monday, January 2, 2006 at 15:04"))
	fmt.Fprintf(&b, "Duration: %d minutes\n", int(m.Duration().Minutes()))
	if m.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", m.Location)
	}
	if len(m.Participants) > 0 {
		fmt.Fprintf(&b, "Participants: %s\n", strings.Join(m.Participants, ", "))
	}
	return b.String()
}
