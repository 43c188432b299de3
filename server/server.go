package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/meetingagent/internal/profile"
	"github.com/hrygo/meetingagent/internal/version"
	"github.com/hrygo/meetingagent/plugin/ai/timeout"
	apiv1 "github.com/hrygo/meetingagent/server/router/api/v1"
	"github.com/hrygo/meetingagent/server/runner/insights"
	"github.com/hrygo/meetingagent/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store
	Agent   *Agent

	echoServer *echo.Echo
	runner     *insights.Runner
	cancel     context.CancelFunc
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	a, err := NewAgent(profile, store)
	if err != nil {
		return nil, err
	}
	runner, err := insights.NewRunner(a.Learner, profile.InsightSchedule, a.Location)
	if err != nil {
		a.Close()
		return nil, err
	}

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())

	s := &Server{
		Profile:    profile,
		Store:      store,
		Agent:      a,
		echoServer: echoServer,
		runner:     runner,
	}

	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.GetCurrentVersion(profile.Mode),
		})
	})

	apiV1Service := apiv1.NewAPIV1Service(profile, a.Registry, a.Calendar, a.Parser, a.Metrics)
	apiV1Service.UseInsightCache(a.Learner, runner.Interval())
	if err := apiV1Service.RegisterGateway(ctx, echoServer); err != nil {
		a.Close()
		return nil, errors.Wrap(err, "failed to register api")
	}
	return s, nil
}

// Start listens on the profile address and launches the background runners.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", address)
	}
	s.echoServer.Listener = listener

	runnerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	go s.runner.Run(runnerCtx)

	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	slog.Info("server started", "address", listener.Addr().String(), "version", version.GetCurrentVersion(s.Profile.Mode))
	return nil
}

// Shutdown stops accepting requests, waits for in-flight cycles and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, timeout.ShutdownTimeout)
	defer cancel()

	slog.Info("server shutting down")
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.Agent.Close()
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}
	slog.Info("server stopped properly")
}
