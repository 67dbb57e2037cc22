// Package httpapi exposes the local HTTP surface consumed by UI components:
// notification state and list endpoints, an SSE stream of refresh signals,
// permission actions, and Prometheus metrics.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/expensems/emspush/internal/logging"
	"github.com/expensems/emspush/internal/notification"
	"github.com/expensems/emspush/internal/page"
	"github.com/expensems/emspush/internal/registration"
)

// Server serves the UI consumer boundary for one tab
type Server struct {
	echo     *echo.Echo
	tab      *page.Tab
	sync     *notification.Service
	manager  *registration.Manager
	registry *prometheus.Registry
	logger   *slog.Logger
}

// New creates the HTTP server; registry may be nil to omit /metrics
func New(tab *page.Tab, sync *notification.Service, manager *registration.Manager, registry *prometheus.Registry) *Server {
	logger := logging.ForService("httpapi")
	if logger == nil {
		logger = slog.Default().With("service", "httpapi")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		tab:      tab,
		sync:     sync,
		manager:  manager,
		registry: registry,
		logger:   logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.health)

	if s.registry != nil {
		s.echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	api := s.echo.Group("/api/v1")
	api.GET("/notifications", s.listNotifications)
	api.GET("/notifications/state", s.notificationState)
	api.GET("/notifications/stream", s.streamSignals)
	api.POST("/notifications/:id/read", s.markRead)
	api.POST("/notifications/read-all", s.markAllRead)
	api.DELETE("/notifications/:id", s.deleteNotification)
	api.DELETE("/notifications", s.deleteAll)
	api.POST("/permission/request", s.requestPermission)
	api.POST("/token/remove", s.removeToken)
}

// Start serves on the given port; blocks until Shutdown
func (s *Server) Start(port string) error {
	addr := fmt.Sprintf(":%s", port)
	s.logger.Info("http api listening", "addr", addr)
	err := s.echo.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listNotifications(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sync.Mirror().List())
}

func (s *Server) notificationState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.tab.State().Snapshot())
}

// streamSignals sends each bus signal as one SSE event. UI consumers treat
// any event as a cache invalidation and re-fetch the list endpoint.
func (s *Server) streamSignals(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	signals, ctx := s.tab.Bus().Subscribe()
	defer s.tab.Bus().Unsubscribe(signals)

	for {
		select {
		case sig := <-signals:
			if _, err := fmt.Fprintf(c.Response(),
				"event: refresh\ndata: {\"seq\": %d, \"tag\": %q}\n\n", sig.Seq, sig.Tag); err != nil {
				return nil
			}
			c.Response().Flush()
		case <-ctx.Done():
			return nil
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func (s *Server) markRead(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	if err := s.sync.MarkRead(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	s.tab.State().RefreshList()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) markAllRead(c echo.Context) error {
	if err := s.sync.MarkAllRead(c.Request().Context()); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	s.tab.State().RefreshList()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteNotification(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	if err := s.sync.Delete(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	s.tab.State().RefreshList()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteAll(c echo.Context) error {
	if err := s.sync.DeleteAll(c.Request().Context()); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	s.tab.State().RefreshList()
	return c.NoContent(http.StatusNoContent)
}

// requestPermission mirrors the permission-request UI: the response carries
// either the token or the class of failure for an inline message.
func (s *Server) requestPermission(c echo.Context) error {
	token := s.manager.RequestPermission(c.Request().Context())
	resp := map[string]any{"token": nil}
	if token != "" {
		resp["token"] = token
	}
	if err := s.manager.Err(); err != nil {
		resp["error"] = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) removeToken(c echo.Context) error {
	s.manager.RemoveToken(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}
