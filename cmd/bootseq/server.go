package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// server reports the readiness and metrics of a booted App.
type server struct {
	echo *echo.Echo
	app  *App
	log  *zap.Logger
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func newServer(app *App, gatherer prometheus.Gatherer, log *zap.Logger) *server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &server{echo: e, app: app, log: log}
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return s
}

// handleHealth reports 200 once the App is ready, and 503 before.
func (s *server) handleHealth(c echo.Context) error {
	if !s.app.Ready() {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "booting"})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ready"})
}

// Listen binds addr, so that requests are queued from now on even though Run has yet to be called.
func (s *server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.echo.Listener = ln
	return nil
}

// Addr returns the address the server listens on, or nil before Listen.
func (s *server) Addr() net.Addr {
	if s.echo.Listener == nil {
		return nil
	}
	return s.echo.Listener.Addr()
}

// Run serves until ctx is done, then shuts down gracefully within timeout. Listen must have been called.
func (s *server) Run(ctx context.Context, timeout time.Duration) error {
	if s.echo.Listener == nil {
		return errors.New("server is not listening")
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("starting http server", zap.Stringer("addr", s.Addr()))
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

// bootAndServe serves the readiness of app while it boots, and keeps serving once it is ready until ctx is done.
// A failed boot shuts the server down.
func bootAndServe(ctx context.Context, app *App, srv *server, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Run(ctx, timeout)
	}()

	if err := app.Boot(ctx); err != nil {
		cancel()
		<-errc
		return fmt.Errorf("boot failed: %w", err)
	}
	return <-errc
}
