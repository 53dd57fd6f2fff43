// Package httpserver exposes the log engine over HTTP: a JSON API, a
// websocket stream of grid updates and the prometheus /metrics endpoint.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tinytelemetry/sflogs/internal/logdata"
	"github.com/tinytelemetry/sflogs/internal/logging"
	"github.com/tinytelemetry/sflogs/internal/model"
	"github.com/tinytelemetry/sflogs/internal/purge"
)

const DefaultAddr = "127.0.0.1:3100"

// Engine is the narrow engine contract required by the HTTP API.
type Engine interface {
	GridData() []model.GridRow
	SearchLogs(text string) []model.LogRecord
	SearchFilter() string
	Settings() model.Settings
	LastRefresh() time.Time
	IsRefreshing() bool
	Refresh(ctx context.Context, isInitialLoad, isManualRefresh bool) error
	SetSearchFilter(text string)
	ClearSearch()
	SetCurrentUserOnly(ctx context.Context, enabled bool) error
	SetAutoRefresh(enabled bool) error
	SetRefreshInterval(d time.Duration) error
	Subscribe(fn func(logdata.ChangeEvent)) func()
	OnError(fn func(error)) func()
}

// LogBodies fetches formatted log bodies.
type LogBodies interface {
	Body(ctx context.Context, logID string) (string, error)
}

// Purger deletes every remote log.
type Purger interface {
	DeleteAll(ctx context.Context, progress func(purge.Progress)) (int, error)
}

// Server provides the HTTP API.
type Server struct {
	addr      string
	engine    Engine
	bodies    LogBodies
	purger    Purger
	hub       *Hub
	handler   *gin.Engine
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	unsubs    []func()
	log       zerolog.Logger
}

// NewServer creates a server and subscribes it to engine events. bodies
// and purger may be nil, which disables their routes.
func NewServer(addr string, engine Engine, bodies LogBodies, purger Purger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:      addr,
		engine:    engine,
		bodies:    bodies,
		purger:    purger,
		hub:       NewHub(),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		log:       logging.With("httpserver"),
	}
	s.handler = s.routes()
	s.unsubs = append(s.unsubs,
		engine.Subscribe(func(e logdata.ChangeEvent) {
			s.hub.Broadcast(newUpdateMessage(e.Rows, e.IsAutoRefresh))
		}),
		engine.OnError(func(err error) {
			s.hub.Broadcast(newErrorMessage(err))
		}),
	)
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/columns", s.handleColumns)
	r.GET("/api/logs", s.handleLogs)
	r.POST("/api/refresh", s.handleRefresh)
	r.PUT("/api/search", s.handleSetSearch)
	r.DELETE("/api/search", s.handleClearSearch)
	r.GET("/api/settings", s.handleGetSettings)
	r.PUT("/api/settings", s.handlePutSettings)
	if s.bodies != nil {
		r.GET("/api/logs/:id/body", s.handleLogBody)
	}
	if s.purger != nil {
		r.DELETE("/api/logs", s.handleDeleteAll)
	}
	r.GET("/api/stream", s.handleStream)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Handler:           s.handler,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	s.startTime = time.Now()

	go s.hub.Run(s.ctx)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("http server stopped")
		}
	}()
	s.log.Info().Str("addr", listener.Addr().String()).Msg("http api listening")
	return nil
}

// Stop unsubscribes from the engine and gracefully shuts down.
func (s *Server) Stop() error {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	last := s.engine.LastRefresh()
	var lastRefresh interface{}
	if !last.IsZero() {
		lastRefresh = last.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime":         time.Since(s.startTime).String(),
		"log_count":      len(s.engine.GridData()),
		"refreshing":     s.engine.IsRefreshing(),
		"last_refresh":   lastRefresh,
		"stream_clients": s.hub.Count(),
	})
}

func (s *Server) handleColumns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"columns": model.Columns})
}

func (s *Server) handleLogs(c *gin.Context) {
	if q, ok := c.GetQuery("q"); ok {
		rows := logdata.GridRows(s.engine.SearchLogs(q))
		c.JSON(http.StatusOK, gin.H{"data": rows, "search": q, "count": len(rows)})
		return
	}
	rows := s.engine.GridData()
	c.JSON(http.StatusOK, gin.H{"data": rows, "search": s.engine.SearchFilter(), "count": len(rows)})
}

func (s *Server) handleRefresh(c *gin.Context) {
	if err := s.engine.Refresh(c.Request.Context(), false, true); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	rows := s.engine.GridData()
	c.JSON(http.StatusOK, gin.H{"data": rows, "count": len(rows)})
}

func (s *Server) handleSetSearch(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	s.engine.SetSearchFilter(req.Text)
	rows := s.engine.GridData()
	c.JSON(http.StatusOK, gin.H{"data": rows, "search": req.Text, "count": len(rows)})
}

func (s *Server) handleClearSearch(c *gin.Context) {
	s.engine.ClearSearch()
	rows := s.engine.GridData()
	c.JSON(http.StatusOK, gin.H{"data": rows, "search": "", "count": len(rows)})
}

type settingsView struct {
	AutoRefresh     bool   `json:"autoRefresh"`
	RefreshInterval string `json:"refreshInterval"`
	CurrentUserOnly bool   `json:"currentUserOnly"`
}

func viewSettings(cfg model.Settings) settingsView {
	return settingsView{
		AutoRefresh:     cfg.AutoRefresh,
		RefreshInterval: cfg.RefreshInterval.String(),
		CurrentUserOnly: cfg.CurrentUserOnly,
	}
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, viewSettings(s.engine.Settings()))
}

func (s *Server) handlePutSettings(c *gin.Context) {
	var req struct {
		AutoRefresh     *bool   `json:"autoRefresh"`
		RefreshInterval *string `json:"refreshInterval"`
		CurrentUserOnly *bool   `json:"currentUserOnly"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	if req.RefreshInterval != nil {
		d, err := time.ParseDuration(*req.RefreshInterval)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid refreshInterval: " + err.Error()})
			return
		}
		if err := s.engine.SetRefreshInterval(d); err != nil {
			c.JSON(errorStatus(err), gin.H{"error": err.Error()})
			return
		}
	}
	if req.AutoRefresh != nil {
		if err := s.engine.SetAutoRefresh(*req.AutoRefresh); err != nil {
			c.JSON(errorStatus(err), gin.H{"error": err.Error()})
			return
		}
	}
	if req.CurrentUserOnly != nil {
		if err := s.engine.SetCurrentUserOnly(c.Request.Context(), *req.CurrentUserOnly); err != nil {
			c.JSON(errorStatus(err), gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, viewSettings(s.engine.Settings()))
}

func (s *Server) handleLogBody(c *gin.Context) {
	body, err := s.bodies.Body(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(body))
}

func (s *Server) handleDeleteAll(c *gin.Context) {
	n, err := s.purger.DeleteAll(c.Request.Context(), func(p purge.Progress) {
		s.hub.Broadcast(newProgressMessage(p))
	})
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error(), "deleted": n})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidInterval):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrAuth), errors.Is(err, model.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
