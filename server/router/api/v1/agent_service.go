package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/meetingagent/plugin/ai/agent"
	"github.com/hrygo/meetingagent/plugin/ai/habit"
	"github.com/hrygo/meetingagent/plugin/ai/memory"
	apierrors "github.com/hrygo/meetingagent/server/internal/errors"
	"github.com/hrygo/meetingagent/server/service/schedule"
)

// InsightSourceHeader is set to "cache" when a read is served from the
// periodic sweep.
const InsightSourceHeader = "X-Insight-Source"

// FeedbackRequest scores a past decision. An empty RecordID targets the
// latest decision.
type FeedbackRequest struct {
	RecordID string   `json:"record_id,omitempty"`
	Score    *float64 `json:"score"`
}

// ModeRequest switches the autonomy mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// Feedback applies user feedback to the learning memory.
// POST /api/v1/feedback
func (s *APIV1Service) Feedback(c echo.Context) error {
	ctx, cancel, userID, err := s.begin(c)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	defer cancel()

	var body FeedbackRequest
	if err := c.Bind(&body); err != nil || body.Score == nil {
		return s.respondError(c, apierrors.InvalidArgument("score is required"), nil)
	}

	var record *memory.Record
	var degraded bool
	err = s.Registry.Do(ctx, userID, func(e *agent.Engine) error {
		var feedbackErr error
		record, degraded, feedbackErr = e.Feedback(ctx, body.RecordID, *body.Score)
		return feedbackErr
	})
	if err != nil {
		return s.respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"record":              record,
		"degraded_durability": degraded,
	})
}

// GetReport returns the agent report with the current calendar context.
// GET /api/v1/report
func (s *APIV1Service) GetReport(c echo.Context) error {
	ctx, cancel, userID, err := s.begin(c)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	defer cancel()

	if insight, ok := s.cachedInsight(userID); ok {
		c.Response().Header().Set(InsightSourceHeader, "cache")
		return c.JSON(http.StatusOK, insight)
	}
	var insight *habit.Insight
	err = s.Registry.Do(ctx, userID, func(e *agent.Engine) error {
		var reportErr error
		insight, reportErr = e.Report(ctx)
		return reportErr
	})
	if err != nil {
		return s.respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, insight)
}

// GetAlerts returns proactive alerts for upcoming meetings.
// GET /api/v1/alerts
func (s *APIV1Service) GetAlerts(c echo.Context) error {
	ctx, cancel, userID, err := s.begin(c)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	defer cancel()

	if insight, ok := s.cachedInsight(userID); ok {
		c.Response().Header().Set(InsightSourceHeader, "cache")
		return c.JSON(http.StatusOK, map[string]any{"alerts": insight.Alerts})
	}
	var alerts []schedule.Alert
	err = s.Registry.Do(ctx, userID, func(e *agent.Engine) error {
		var alertErr error
		alerts, alertErr = e.Alerts(ctx)
		return alertErr
	})
	if err != nil {
		return s.respondError(c, err, nil)
	}
	if alerts == nil {
		alerts = []schedule.Alert{}
	}
	return c.JSON(http.StatusOK, map[string]any{"alerts": alerts})
}

// GetMode returns the current autonomy mode.
// GET /api/v1/mode
func (s *APIV1Service) GetMode(c echo.Context) error {
	ctx, cancel, userID, err := s.begin(c)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	defer cancel()

	var mode agent.Mode
	err = s.Registry.Do(ctx, userID, func(e *agent.Engine) error {
		var modeErr error
		mode, modeErr = e.Mode(ctx)
		return modeErr
	})
	if err != nil {
		return s.respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, map[string]any{"mode": mode})
}

// SetMode switches the autonomy mode of the identity.
// PUT /api/v1/mode
func (s *APIV1Service) SetMode(c echo.Context) error {
	ctx, cancel, userID, err := s.begin(c)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	defer cancel()

	var body ModeRequest
	if err := c.Bind(&body); err != nil {
		return s.respondError(c, apierrors.InvalidArgument("malformed request body"), nil)
	}
	mode, err := agent.ParseMode(body.Mode)
	if err != nil {
		return s.respondError(c, apierrors.Wrap(err, apierrors.ErrCodeInvalidArgument, err.Error()), nil)
	}

	var degraded bool
	err = s.Registry.Do(ctx, userID, func(e *agent.Engine) error {
		var modeErr error
		degraded, modeErr = e.SetMode(ctx, mode)
		return modeErr
	})
	if err != nil {
		return s.respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"mode":                mode,
		"degraded_durability": degraded,
	})
}
