// Package api serves the reconciled radio state over HTTP
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/satstat/satstat/pkg/cell"
	"github.com/satstat/satstat/pkg/celldb"
	"github.com/satstat/satstat/pkg/geo"
	"github.com/satstat/satstat/pkg/logx"
	"github.com/satstat/satstat/pkg/radio"
	"github.com/satstat/satstat/pkg/telem"
)

const (
	defaultLimit  = 100
	maxLimit      = 1000
	defaultWindow = 10 * time.Minute
)

// Engine is the part of the reconciliation engine the API reads
type Engine interface {
	Snapshot() radio.Snapshot
	PollPending() bool
}

// History is the cycle history the API reads
type History interface {
	Samples(limit int) []telem.Sample
	Events(limit int) []telem.Event
	ServingTrend(window time.Duration) (telem.Trend, error)
	Stats() map[string]interface{}
	ExportJSON() ([]byte, error)
}

// CellLog is the persistent tower log the API reads
type CellLog interface {
	Recent(ctx context.Context, limit int) ([]celldb.Record, error)
	Count(ctx context.Context) (int, error)
}

// Locator resolves the serving cell to a position
type Locator interface {
	Locate(ctx context.Context) (geo.Location, error)
}

// Server provides the status API for satstatd
type Server struct {
	engine    Engine
	history   History
	cells     CellLog
	locator   Locator
	metrics   http.Handler
	logger    *logx.Logger
	version   string
	router    *gin.Engine
	server    *http.Server
	startTime time.Time
}

// Option configures optional server dependencies
type Option func(*Server)

// WithHistory exposes the cycle history endpoints
func WithHistory(h History) Option { return func(s *Server) { s.history = h } }

// WithCellLog exposes the persistent tower log
func WithCellLog(c CellLog) Option { return func(s *Server) { s.cells = c } }

// WithLocator exposes the serving cell position
func WithLocator(l Locator) Option { return func(s *Server) { s.locator = l } }

// WithMetrics mounts a metrics handler on /metrics
func WithMetrics(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// WithVersion sets the version reported by /health
func WithVersion(v string) Option { return func(s *Server) { s.version = v } }

// NewServer creates a new API server
func NewServer(engine Engine, logger *logx.Logger, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		logger:    logger.With("component", "api"),
		version:   "dev",
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/health", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/cells", s.handleCells)
		v1.GET("/cells/:family", s.handleFamily)
		v1.GET("/serving", s.handleServing)
		if s.history != nil {
			v1.GET("/history", s.handleHistory)
			v1.GET("/events", s.handleEvents)
			v1.GET("/trend", s.handleTrend)
			v1.GET("/export", s.handleExport)
		}
		if s.cells != nil {
			v1.GET("/towers", s.handleTowers)
		}
		if s.locator != nil {
			v1.GET("/location", s.handleLocation)
		}
	}
	return r
}

// Start starts the API server
func (s *Server) Start(port int) error {
	s.logger.Info("Starting API server", "port", port)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the API server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

type healthStatus struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Uptime      string         `json:"uptime"`
	Version     string         `json:"version"`
	LastCycle   *time.Time     `json:"last_cycle,omitempty"`
	Generation  int            `json:"generation"`
	PollPending bool           `json:"poll_pending"`
	Cells       map[string]int `json:"cells"`
	History     interface{}    `json:"history,omitempty"`
}

// handleHealth reports 503 until the first cycle has completed
func (s *Server) handleHealth(c *gin.Context) {
	snap := s.engine.Snapshot()
	status := healthStatus{
		Status:      "healthy",
		Timestamp:   time.Now(),
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		Version:     s.version,
		Generation:  snap.Generation,
		PollPending: s.engine.PollPending(),
		Cells:       familyCounts(snap),
	}
	if s.history != nil {
		status.History = s.history.Stats()
	}
	if snap.Time.IsZero() {
		status.Status = "starting"
		c.JSON(http.StatusServiceUnavailable, Response{Code: http.StatusServiceUnavailable, Message: "no cycle completed", Data: status})
		return
	}
	last := snap.Time
	status.LastCycle = &last
	success(c, status)
}

func (s *Server) handleCells(c *gin.Context) {
	success(c, s.engine.Snapshot())
}

func (s *Server) handleFamily(c *gin.Context) {
	family, ok := cell.ParseFamily(c.Param("family"))
	if !ok {
		notFound(c, fmt.Sprintf("unknown family %q", c.Param("family")))
		return
	}
	towers := s.engine.Snapshot().Cells(family)
	if towers == nil {
		towers = []cell.Tower{}
	}
	success(c, towers)
}

func (s *Server) handleServing(c *gin.Context) {
	snap := s.engine.Snapshot()
	success(c, gin.H{
		"serving":    snap.Serving,
		"generation": snap.Generation,
		"time":       snap.Time,
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	success(c, s.history.Samples(limit))
}

func (s *Server) handleEvents(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	success(c, s.history.Events(limit))
}

func (s *Server) handleTrend(c *gin.Context) {
	window := defaultWindow
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			badRequest(c, "invalid window")
			return
		}
		window = d
	}

	trend, err := s.history.ServingTrend(window)
	if errors.Is(err, telem.ErrInsufficientData) {
		notFound(c, err.Error())
		return
	}
	if err != nil {
		internalError(c, err.Error())
		return
	}
	success(c, trend)
}

// handleExport returns the raw history dump without the envelope
func (s *Server) handleExport(c *gin.Context) {
	data, err := s.history.ExportJSON()
	if err != nil {
		internalError(c, err.Error())
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) handleTowers(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	records, err := s.cells.Recent(ctx, limit)
	if err != nil {
		s.logger.Warn("Failed to read cell log", "error", err)
		internalError(c, "failed to read cell log")
		return
	}
	total, err := s.cells.Count(ctx)
	if err != nil {
		s.logger.Warn("Failed to count cell log", "error", err)
		internalError(c, "failed to read cell log")
		return
	}
	success(c, gin.H{"total": total, "towers": records})
}

func (s *Server) handleLocation(c *gin.Context) {
	loc, err := s.locator.Locate(c.Request.Context())
	if errors.Is(err, geo.ErrNoServingCell) {
		notFound(c, err.Error())
		return
	}
	if err != nil {
		fail(c, http.StatusBadGateway, err.Error())
		return
	}
	success(c, loc)
}

// limitParam writes a 400 and returns false on a malformed limit
func limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		badRequest(c, "limit must be a positive integer")
		return 0, false
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, true
}

func familyCounts(snap radio.Snapshot) map[string]int {
	counts := make(map[string]int, len(cell.Families))
	for _, f := range cell.Families {
		counts[f.String()] = len(snap.Cells(f))
	}
	return counts
}

// requestLogger logs every request at debug level
func requestLogger(logger *logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client", c.ClientIP(),
		)
	}
}
