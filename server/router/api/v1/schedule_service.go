package v1

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/meetingagent/plugin/ai/agent"
	nlp "github.com/hrygo/meetingagent/plugin/ai/schedule"
	apierrors "github.com/hrygo/meetingagent/server/internal/errors"
	"github.com/hrygo/meetingagent/server/service/schedule"
	"github.com/hrygo/meetingagent/store"
)

// MeetingRequest is the structured form of a scheduling request.
type MeetingRequest struct {
	Title           string     `json:"title"`
	Participants    []string   `json:"participants,omitempty"`
	Start           *time.Time `json:"start,omitempty"`
	End             *time.Time `json:"end,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	Location        string     `json:"location,omitempty"`
	Recurrence      string     `json:"recurrence,omitempty"`
	AllowWeekends   bool       `json:"allow_weekends,omitempty"`
	Priority        string     `json:"priority,omitempty"`
}

// ScheduleRequest carries either free text or a structured request.
type ScheduleRequest struct {
	Text    string          `json:"text,omitempty"`
	Request *MeetingRequest `json:"request,omitempty"`
}

// ConfirmRequest books a previously suggested start.
type ConfirmRequest struct {
	Request *MeetingRequest `json:"request"`
	Start   time.Time       `json:"start"`
}

// RescheduleRequest moves a meeting.
type RescheduleRequest struct {
	Start time.Time `json:"start"`
}

// MeetingView is the API form of a stored meeting.
type MeetingView struct {
	ID           int32     `json:"id"`
	UID          string    `json:"uid"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Location     string    `json:"location,omitempty"`
	Participants []string  `json:"participants"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Recurrence   string    `json:"recurrence,omitempty"`
	// Status is CONFIRMED or CANCELLED.
	Status string `json:"status"`
}

// InstanceView is one occurrence in a meeting listing.
type InstanceView struct {
	ID           int32     `json:"id"`
	UID          string    `json:"uid"`
	Title        string    `json:"title"`
	Location     string    `json:"location,omitempty"`
	Participants []string  `json:"participants"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Recurring    bool      `json:"recurring,omitempty"`
}

// DecisionResponse is a decision with its meeting in API form.
type DecisionResponse struct {
	*agent.Decision
	Meeting     *MeetingView `json:"meeting,omitempty"`
	ParseMethod string       `json:"parse_method,omitempty"`
}

func newMeetingView(m *store.Meeting, loc *time.Location) *MeetingView {
	if m == nil {
		return nil
	}
	participants := m.Participants
	if participants == nil {
		participants = []string{}
	}
	view := &MeetingView{
		ID:           m.ID,
		UID:          m.UID,
		Title:        m.Title,
		Description:  m.Description,
		Location:     m.Location,
		Participants: participants,
		Start:        m.StartTime().In(loc),
		End:          m.EndTime().In(loc),
		Status:       "CONFIRMED",
	}
	if m.RowStatus == store.Archived {
		view.Status = "CANCELLED"
	}
	if m.RecurrenceRule != nil {
		view.Recurrence = *m.RecurrenceRule
	}
	return view
}

func newInstanceView(m *schedule.MeetingInstance, loc *time.Location) InstanceView {
	participants := m.Participants
	if participants == nil {
		participants = []string{}
	}
	return InstanceView{
		ID:           m.ID,
		UID:          m.UID,
		Title:        m.Title,
		Location:     m.Location,
		Participants: participants,
		Start:        m.Start.In(loc),
		End:          m.End.In(loc),
		Recurring:    m.IsRecurring,
	}
}

func newDecisionResponse(d *agent.Decision, method string, loc *time.Location) *DecisionResponse {
	return &DecisionResponse{
		Decision:    d,
		Meeting:     newMeetingView(d.Meeting, loc),
		ParseMethod: method,
	}
}

func (r *MeetingRequest) toSchedulingRequest(source string) *schedule.SchedulingRequest {
	req := &schedule.SchedulingRequest{
		Title:           r.Title,
		Participants:    r.Participants,
		Start:           r.Start,
		End:             r.End,
		DurationMinutes: r.DurationMinutes,
		Location:        r.Location,
		Recurrence:      r.Recurrence,
		AllowWeekends:   r.AllowWeekends,
		Priority:        r.Priority,
		SourceText:      source,
	}
	// Structured requests must state their length, only free text is inferred.
	if req.Priority == "" {
		req.Priority = nlp.InferPriority(req.Title)
	}
	return req
}

// resolve builds the scheduling request from the body, parsing text when no
// structured request is given.
func (s *APIV1Service) resolve(ctx context.Context, body *ScheduleRequest) (*schedule.SchedulingRequest, string, error) {
	if body.Request != nil {
		return body.Request.toSchedulingRequest(body.Text), "", nil
	}
	if s.Parser == nil {
		return nil, "", apierrors.InvalidArgument("free text requests are not supported")
	}
	parsed, err := s.Parser.Parse(ctx, body.Text)
	if err != nil {
		return nil, "", err
	}
	return parsed.Request, parsed.Method, nil
}

// Schedule runs one decision cycle.
// POST /api/v1/schedule
func (s *APIV1Service) Schedule(c echo.Context) error {
	ctx, cancel, userID, err := s.begin(c)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	defer cancel()

	var body ScheduleRequest
	if err := c.Bind(&body); err != nil {
		return s.respondError(c, apierrors.InvalidArgument("malformed request body"), nil)
	}
	req, method, err := s.resolve(ctx, &body)
	if err != nil {
		return s.respondError(c, err, nil)
	}

	var decision *agent.Decision
	err = s.Registry.Do(ctx, userID, func(e *agent.Engine) error {
		var decideErr error
		decision, decideErr = e.Decide(ctx, req)
		return decideErr
	})
	if decision != nil {
		s.feed.Add(req.Title, decision)
	}
	if err != nil {
		return s.respondError(c, err, decision)
	}
	return c.JSON(http.StatusOK, newDecisionResponse(decision, method, s.Profile.Location()))
}

// Confirm books a suggested candidate.
// POST /api/v1/schedule/confirm
func (s *APIV1Service) Confirm(c echo.Context) error {
	ctx, cancel, userID, err := s.begin(c)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	defer cancel()

	var body ConfirmRequest
	if err := c.Bind(&body); err != nil || body.Request == nil || body.Start.IsZero() {
		return s.respondError(c, apierrors.InvalidArgument("request and start are required"), nil)
	}
	req := body.Request.toSchedulingRequest("")

	var decision *agent.Decision
	err = s.Registry.Do(ctx, userID, func(e *agent.Engine) error {
		var confirmErr error
		decision, confirmErr = e.Confirm(ctx, req, body.Start)
		return confirmErr
	})
	if decision != nil {
		s.feed.Add(req.Title, decision)
	}
	if err != nil {
		return s.respondError(c, err, decision)
	}
	return c.JSON(http.StatusOK, newDecisionResponse(decision, "", s.Profile.Location()))
}

// ListMeetings lists meetings in a window, optionally filtered by title,
// participant and location. The window defaults to seven days from today.
// GET /api/v1/meetings?start=&end=&title=&participant=&location=
func (s *APIV1Service) ListMeetings(c echo.Context) error {
	ctx, cancel, userID, err := s.begin(c)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	defer cancel()

	loc := s.Profile.Location()
	now := time.Now().In(loc)
	criteria := schedule.SearchCriteria{
		Start:       time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc),
		Title:       c.QueryParam("title"),
		Participant: c.QueryParam("participant"),
		Location:    c.QueryParam("location"),
	}
	if v := c.QueryParam("start"); v != "" {
		if criteria.Start, err = parseQueryTime(v, loc); err != nil {
			return s.respondError(c, apierrors.InvalidArgument("invalid start: "+err.Error()), nil)
		}
	}
	criteria.End = criteria.Start.AddDate(0, 0, 7)
	if v := c.QueryParam("end"); v != "" {
		if criteria.End, err = parseQueryTime(v, loc); err != nil {
			return s.respondError(c, apierrors.InvalidArgument("invalid end: "+err.Error()), nil)
		}
	}

	instances, err := schedule.SearchMeetings(ctx, s.Calendar, userID, criteria)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	views := make([]InstanceView, 0, len(instances))
	for _, m := range instances {
		views = append(views, newInstanceView(m, loc))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"start":    criteria.Start,
		"end":      criteria.End,
		"meetings": views,
	})
}

// GetMeeting returns one meeting of the caller.
// GET /api/v1/meetings/:id
func (s *APIV1Service) GetMeeting(c echo.Context) error {
	ctx, cancel, userID, err := s.begin(c)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	defer cancel()

	id, err := meetingID(c)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	meeting, err := s.Calendar.GetMeeting(ctx, userID, id)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, newMeetingView(meeting, s.Profile.Location()))
}

// parseQueryTime accepts RFC 3339 or a plain date in loc.
func parseQueryTime(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", value, loc)
}

// CancelMeeting cancels a meeting.
// DELETE /api/v1/meetings/:id
func (s *APIV1Service) CancelMeeting(c echo.Context) error {
	ctx, cancel, userID, err := s.begin(c)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	defer cancel()

	id, err := meetingID(c)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	var cancelled bool
	err = s.Registry.Do(ctx, userID, func(e *agent.Engine) error {
		var cancelErr error
		cancelled, cancelErr = e.Cancel(ctx, id)
		return cancelErr
	})
	if err != nil {
		return s.respondError(c, err, nil)
	}
	if !cancelled {
		return s.respondError(c, apierrors.NotFound("meeting not found or already cancelled"), nil)
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "cancelled": true})
}

// RescheduleMeeting moves a meeting keeping its duration.
// POST /api/v1/meetings/:id/reschedule
func (s *APIV1Service) RescheduleMeeting(c echo.Context) error {
	ctx, cancel, userID, err := s.begin(c)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	defer cancel()

	id, err := meetingID(c)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	var body RescheduleRequest
	if err := c.Bind(&body); err != nil || body.Start.IsZero() {
		return s.respondError(c, apierrors.InvalidArgument("start is required"), nil)
	}

	var result *schedule.RescheduleResult
	err = s.Registry.Do(ctx, userID, func(e *agent.Engine) error {
		var rescheduleErr error
		result, rescheduleErr = e.Reschedule(ctx, id, body.Start)
		return rescheduleErr
	})
	if err != nil {
		return s.respondError(c, err, nil)
	}
	loc := s.Profile.Location()
	return c.JSON(http.StatusOK, map[string]any{
		"meeting":   newMeetingView(result.Meeting, loc),
		"old_start": result.OldStart.In(loc),
		"old_end":   result.OldEnd.In(loc),
		"notice":    result.Notice,
	})
}

// ImportCalendar imports the VEVENTs of an iCalendar body.
// POST /api/v1/meetings/import
func (s *APIV1Service) ImportCalendar(c echo.Context) error {
	ctx, cancel, userID, err := s.begin(c)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	defer cancel()

	var result *schedule.ImportResult
	err = s.Registry.Do(ctx, userID, func(_ *agent.Engine) error {
		var importErr error
		result, importErr = schedule.ImportICS(ctx, s.Calendar, userID, c.Request().Body, s.Profile.Location())
		return importErr
	})
	if err != nil {
		return s.respondError(c, err, nil)
	}
	if result.Skipped == nil {
		result.Skipped = []string{}
	}
	return c.JSON(http.StatusOK, result)
}

func meetingID(c echo.Context) (int32, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil || id <= 0 {
		return 0, apierrors.InvalidArgument("invalid meeting id " + strconv.Quote(c.Param("id")))
	}
	return int32(id), nil
}
