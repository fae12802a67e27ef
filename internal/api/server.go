// Package api exposes the data layer over HTTP for UI clients.
//
// Routes:
//
//	GET    /health
//	GET    /metrics
//	GET    /api/tables/:table           list rows; query params filter by equality
//	POST   /api/tables/:table           insert a row
//	GET    /api/tables/:table/:id       fetch one row
//	PATCH  /api/tables/:table/:id       update fields of one row
//	DELETE /api/tables/:table/:id       delete one row
//	POST   /api/transactions            apply a batch of writes atomically
//	POST   /api/sync                    run a sync cycle now
//	GET    /api/sync/results            results of the last scheduled cycle
//	GET    /api/stock/valuation         stock on hand, valued
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/inventory"
	"github.com/roach88/stockline/internal/logging"
	"github.com/roach88/stockline/internal/metrics"
	"github.com/roach88/stockline/internal/scheduler"
	"github.com/roach88/stockline/internal/store"
	"github.com/roach88/stockline/internal/syncer"
)

// Server is the HTTP adapter.
type Server struct {
	store     *store.Store
	inventory *inventory.Service
	syncer    *syncer.Syncer
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics
	logger    *zap.Logger
	echo      *echo.Echo
}

// Option configures a Server.
type Option func(*Server)

// WithSyncer enables POST /api/sync.
func WithSyncer(sy *syncer.Syncer) Option {
	return func(s *Server) {
		s.syncer = sy
	}
}

// WithScheduler enables GET /api/sync/results.
func WithScheduler(sc *scheduler.Scheduler) Option {
	return func(s *Server) {
		s.scheduler = sc
	}
}

// WithMetrics instruments requests and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New builds a Server and its routes.
func New(st *store.Store, opts ...Option) *Server {
	s := &Server{
		store:  st,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.inventory = inventory.New(st, s.logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(logging.Middleware(s.logger))
	if s.metrics != nil {
		e.Use(s.metrics.Middleware())
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	e.GET("/health", s.health)

	api := e.Group("/api")
	api.GET("/tables/:table", s.listRows)
	api.POST("/tables/:table", s.insertRow)
	api.GET("/tables/:table/:id", s.getRow)
	api.PATCH("/tables/:table/:id", s.updateRow)
	api.DELETE("/tables/:table/:id", s.deleteRow)
	api.POST("/transactions", s.transaction)
	api.POST("/sync", s.syncNow)
	api.GET("/sync/results", s.syncResults)
	api.GET("/stock/valuation", s.valuation)

	s.echo = e
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Table   string `json:"table,omitempty"`
	Rule    string `json:"rule,omitempty"`
}

// StatusFor maps an error code to an HTTP status.
func StatusFor(code errs.Code) int {
	switch code {
	case errs.CodeConstraintViolation, errs.CodeReservationExceeded:
		return http.StatusConflict
	case errs.CodeInvalidTransition:
		return http.StatusUnprocessableEntity
	case errs.CodeNotInitialized:
		return http.StatusServiceUnavailable
	case errs.CodeNotFound, errs.CodeUnknownTable:
		return http.StatusNotFound
	case errs.CodeInvalidField:
		return http.StatusBadRequest
	case errs.CodeSyncTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	detail := ErrorDetail{Code: "INTERNAL", Message: err.Error()}

	var he *echo.HTTPError
	var de *errs.Error
	switch {
	case errors.As(err, &de):
		status = StatusFor(de.Code)
		detail = ErrorDetail{Code: string(de.Code), Message: de.Message, Table: de.Table, Rule: de.Rule}
	case errors.As(err, &he):
		status = he.Code
		detail = ErrorDetail{Code: http.StatusText(he.Code), Message: http.StatusText(he.Code)}
		if msg, ok := he.Message.(string); ok {
			detail.Message = msg
		}
	}

	if status >= http.StatusInternalServerError {
		logging.FromContext(c.Request().Context()).Error("request failed", zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, ErrorBody{Error: detail})
	}
	if err != nil {
		s.logger.Warn("write error response", zap.Error(err))
	}
}

func (s *Server) health(c echo.Context) error {
	if !s.store.Ready() {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "starting"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
