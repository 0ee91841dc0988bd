// Package server exposes run status over HTTP while a deploy is in flight.
//
// Ownership boundary:
// - /health, /metrics and /status routes
//
// - listener lifecycle (start before a run, shut down after)
//
// The server only reads run state; it never starts or steers tasks.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/deployctl/internal/auth"
	"github.com/danmuck/deployctl/internal/observability"
	"github.com/danmuck/deployctl/internal/tasks"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Run states reported by /status.
const (
	StateIdle      = "idle"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

var ErrNotStarted = errors.New("server: not started")

// Status is the /status payload.
type Status struct {
	State       string             `json:"state"`
	Application string             `json:"application,omitempty"`
	Stage       string             `json:"stage,omitempty"`
	RunID       string             `json:"run_id,omitempty"`
	Release     string             `json:"release,omitempty"`
	Started     *time.Time         `json:"started,omitempty"`
	Error       string             `json:"error,omitempty"`
	Tasks       []tasks.TaskReport `json:"tasks"`
}

// Options configures a Server. A nil Auth leaves every route open.
type Options struct {
	Addr        string
	CorsOrigins []string
	Auth        auth.Validator
	Logger      zerolog.Logger
}

type Server struct {
	addr     string
	router   *gin.Engine
	logger   zerolog.Logger
	appeared time.Time
	guard    auth.Validator

	mu       sync.RWMutex
	app      string
	stage    string
	report   *tasks.Report
	state    string
	failure  string
	listener net.Listener
	http     *http.Server
}

// New builds the router. Nothing listens until Start.
func New(opts Options) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.HTTPMiddleware(opts.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		addr:     opts.Addr,
		router:   r,
		logger:   opts.Logger,
		appeared: time.Now(),
		guard:    opts.Auth,
		state:    StateIdle,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// Track points /status at a run.
func (s *Server) Track(app, stage string, report *tasks.Report) {
	s.mu.Lock()
	s.app = app
	s.stage = stage
	s.report = report
	s.state = StateRunning
	s.failure = ""
	s.mu.Unlock()
}

// Finish records the run result.
func (s *Server) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateFailed
		s.failure = err.Error()
		return
	}
	s.state = StateSucceeded
}

// Snapshot returns the current /status payload.
func (s *Server) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		State:       s.state,
		Application: s.app,
		Stage:       s.stage,
		Error:       s.failure,
		Tasks:       []tasks.TaskReport{},
	}
	if s.report != nil {
		started := s.report.Started()
		st.RunID = s.report.RunID()
		st.Release = s.report.Release()
		st.Started = &started
		st.Tasks = s.report.Entries()
	}
	return st
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": "deployctl",
		})
	})

	protected := s.router.Group("/")
	if s.guard != nil {
		protected.Use(auth.Middleware(s.guard))
	}
	protected.GET("/metrics", gin.WrapH(promhttp.Handler()))
	protected.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Snapshot())
	})
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.listener = ln
	s.http = srv
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("status server stopped")
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.http
	s.mu.RUnlock()
	if srv == nil {
		return ErrNotStarted
	}
	return srv.Shutdown(ctx)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
