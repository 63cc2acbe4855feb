// Package http provides the HTTP API of the watershed daemon.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/watershed/internal/events"
	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
	"github.com/fyrsmithlabs/watershed/internal/vector"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MIMEGeoJSON is the media type of GeoJSON documents.
const MIMEGeoJSON = "application/geo+json"

// Batches runs batches and answers for their state. Both the in-process
// executor and the Temporal dispatcher implement it.
type Batches interface {
	Submit(ctx context.Context, b pipeline.Batch) (string, error)
	Status(ctx context.Context, id string) (events.BatchState, error)
	Report(ctx context.Context, id string) (*pipeline.Report, error)
}

// Server provides HTTP endpoints for batch submission and results.
type Server struct {
	echo    *echo.Echo
	batches Batches
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// BodyLimit caps request bodies, e.g. "10M" (default).
	BodyLimit string
}

// NewServer creates a new HTTP server.
func NewServer(batches Batches, logger *zap.Logger, cfg *Config) (*Server, error) {
	if batches == nil {
		return nil, fmt.Errorf("batches cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "10M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	metrics := NewHTTPMetrics(logger)
	e.Use(metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		batches: batches,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/batches", s.handleSubmit)
	v1.GET("/batches/:id", s.handleStatus)
	v1.GET("/batches/:id/report", s.handleReport)
	v1.GET("/batches/:id/geojson", s.handleGeoJSON)
	v1.GET("/batches/:id/references", s.handleReferences)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSubmit accepts a JSON SubmitRequest or a GeoJSON point collection.
// For GeoJSON the batch id, id and name fields and a fallback CRS come from
// the query string.
func (s *Server) handleSubmit(c echo.Context) error {
	var b pipeline.Batch
	format := formatJSON
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), MIMEGeoJSON) {
		points, err := vector.ReadPoints(c.Request().Body, vector.PointOptions{
			IDField:   c.QueryParam("id_field"),
			NameField: c.QueryParam("name_field"),
			CRS:       c.QueryParam("crs"),
		})
		if err != nil {
			s.logger.Warn("invalid point collection", zap.Error(err))
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		b = pipeline.Batch{ID: c.QueryParam("id"), Points: points}
		format = formatGeoJSON
	} else {
		var req SubmitRequest
		if err := c.Bind(&req); err != nil {
			s.logger.Warn("invalid submit request", zap.Error(err))
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		b = pipeline.Batch{ID: req.ID, Points: req.Points}
	}

	id, err := s.batches.Submit(c.Request().Context(), b)
	if err != nil {
		return s.httpError(err)
	}
	s.metrics.RecordSubmit(c.Request().Context(), format, len(b.Points))
	s.logger.Info("batch submitted", zap.String("batch.id", id), zap.Int("points", len(b.Points)))

	return c.JSON(http.StatusAccepted, SubmitResponse{
		BatchID:   id,
		StatusURL: "/api/v1/batches/" + id,
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	state, err := s.batches.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, StatusResponse{
		BatchID:   state.ID,
		Status:    string(state.Status),
		Done:      state.Done(),
		Counts:    CountPoints(state),
		Points:    state.Points,
		CreatedAt: state.CreatedAt,
		UpdatedAt: state.UpdatedAt,
	})
}

func (s *Server) handleReport(c echo.Context) error {
	report, err := s.batches.Report(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleGeoJSON(c echo.Context) error {
	report, err := s.batches.Report(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentType, MIMEGeoJSON)
	c.Response().WriteHeader(http.StatusOK)
	return vector.WriteResults(c.Response(), report.Results, report.CRS)
}

func (s *Server) handleReferences(c echo.Context) error {
	report, err := s.batches.Report(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentType, MIMEGeoJSON)
	c.Response().WriteHeader(http.StatusOK)
	return vector.WriteReferences(c.Response(), report.References(), report.CRS)
}

// httpError maps batch errors onto status codes.
func (s *Server) httpError(err error) error {
	switch {
	case errors.Is(err, pipeline.ErrBatchNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrBatchRunning):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, hydro.ErrEmptyBatch),
		errors.Is(err, hydro.ErrDuplicatePoint),
		errors.Is(err, hydro.ErrInvalidInputCRS):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
