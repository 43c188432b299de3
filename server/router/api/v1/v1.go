package v1

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/meetingagent/internal/observability"
	"github.com/hrygo/meetingagent/internal/profile"
	"github.com/hrygo/meetingagent/plugin/ai/agent"
	"github.com/hrygo/meetingagent/plugin/ai/habit"
	nlp "github.com/hrygo/meetingagent/plugin/ai/schedule"
	"github.com/hrygo/meetingagent/plugin/ai/timeout"
	apierrors "github.com/hrygo/meetingagent/server/internal/errors"
	"github.com/hrygo/meetingagent/server/middleware"
	"github.com/hrygo/meetingagent/server/service/schedule"
)

// RequestParser turns free text into a scheduling request.
type RequestParser interface {
	Parse(ctx context.Context, text string) (*nlp.ParseResult, error)
}

// InsightCache serves the periodic sweep results between writes.
type InsightCache interface {
	Fresh(userID string, maxAge time.Duration) (*habit.Insight, bool)
	Invalidate(userID string)
}

type APIV1Service struct {
	Profile  *profile.Profile
	Registry *agent.Registry
	Calendar schedule.Service
	Parser   RequestParser
	Metrics  *observability.Metrics

	feed    *DecisionFeed
	limiter *middleware.RateLimiter

	insights      InsightCache
	insightMaxAge time.Duration
}

func NewAPIV1Service(profile *profile.Profile, registry *agent.Registry, calendar schedule.Service, parser RequestParser, metrics *observability.Metrics) *APIV1Service {
	if metrics == nil {
		metrics = observability.NewMetrics(1000)
	}
	return &APIV1Service{
		Profile:  profile,
		Registry: registry,
		Calendar: calendar,
		Parser:   parser,
		Metrics:  metrics,
		feed:     NewDecisionFeed(defaultFeedSize),
		limiter:  middleware.NewRateLimiter(profile.RateLimit, profile.RateBurst),
	}
}

// UseInsightCache serves report and alert reads from cache while its entries
// are younger than maxAge.
func (s *APIV1Service) UseInsightCache(cache InsightCache, maxAge time.Duration) {
	s.insights = cache
	s.insightMaxAge = maxAge
}

// cachedInsight returns the fresh cached insight of userID, if any.
func (s *APIV1Service) cachedInsight(userID string) (*habit.Insight, bool) {
	if s.insights == nil {
		return nil, false
	}
	return s.insights.Fresh(userID, s.insightMaxAge)
}

// invalidateInsights drops the caller's cached insight after every write.
func (s *APIV1Service) invalidateInsights(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		method := c.Request().Method
		if s.insights != nil && method != http.MethodGet && method != http.MethodHead {
			if userID := strings.TrimSpace(c.Request().Header.Get(middleware.IdentityHeader)); userID != "" {
				s.insights.Invalidate(userID)
			}
		}
		return err
	}
}

// Feed returns the recent decision log.
func (s *APIV1Service) Feed() *DecisionFeed {
	return s.feed
}

// RegisterGateway registers the HTTP API on the echo server.
func (s *APIV1Service) RegisterGateway(_ context.Context, echoServer *echo.Echo) error {
	group := echoServer.Group("/api/v1")
	group.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOriginFunc: func(_ string) (bool, error) {
			return true, nil
		},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, middleware.IdentityHeader},
	}))
	group.Use(s.limiter.Middleware())
	group.Use(s.invalidateInsights)

	group.POST("/schedule", s.Schedule)
	group.POST("/schedule/confirm", s.Confirm)
	group.GET("/meetings", s.ListMeetings)
	group.GET("/meetings/:id", s.GetMeeting)
	group.POST("/meetings/import", s.ImportCalendar)
	group.DELETE("/meetings/:id", s.CancelMeeting)
	group.POST("/meetings/:id/reschedule", s.RescheduleMeeting)

	group.POST("/feedback", s.Feedback)
	group.GET("/report", s.GetReport)
	group.GET("/alerts", s.GetAlerts)
	group.GET("/mode", s.GetMode)
	group.PUT("/mode", s.SetMode)

	group.GET("/decisions/feed.atom", s.GetDecisionFeed)
	group.GET("/system/metrics", s.GetMetricsOverview)
	return nil
}

// begin resolves the identity of the request and bounds its lifetime.
func (s *APIV1Service) begin(c echo.Context) (context.Context, context.CancelFunc, string, error) {
	userID := strings.TrimSpace(c.Request().Header.Get(middleware.IdentityHeader))
	if userID == "" {
		return nil, nil, "", apierrors.Unauthorized("missing " + middleware.IdentityHeader + " header")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout.RequestTimeout)
	return ctx, cancel, userID, nil
}

// respondError writes the error envelope. A rejected decision, when there
// is one, travels with the error so clients see the trace.
func (s *APIV1Service) respondError(c echo.Context, err error, decision *agent.Decision) error {
	apiErr := apierrors.FromError(err)
	status := apiErr.HTTPStatus()

	logger := slog.With("method", c.Request().Method, "path", c.Path(), "code", apiErr.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	} else {
		logger.Debug("request rejected", "error", err)
	}

	if secs := apiErr.RetryAfterSeconds(); secs > 0 {
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
	}
	body := apiErr.Body()
	if decision != nil {
		body["decision"] = newDecisionResponse(decision, "", s.Profile.Location())
	}
	return c.JSON(status, body)
}
