// Package server exposes run control and pipeline state over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/app"
	"github.com/raaihank/exdfilter/internal/config"
	"github.com/raaihank/exdfilter/internal/logger"
	"github.com/raaihank/exdfilter/internal/pipeline"
	"github.com/raaihank/exdfilter/internal/preset"
	"github.com/raaihank/exdfilter/internal/rsv"
	"github.com/raaihank/exdfilter/internal/rules"
	"github.com/raaihank/exdfilter/internal/websocket"
)

// Runner executes one full pipeline run.
type Runner interface {
	Run(ctx context.Context, opts app.RunOptions) (*app.Result, error)
}

// Run states reported by /api/runs/current.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RunStatus describes the current or most recent run.
type RunStatus struct {
	RunID      string            `json:"run_id"`
	State      string            `json:"state"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Summary    *pipeline.Summary `json:"summary,omitempty"`
	Report     *preset.Report    `json:"report,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Options wires the collaborators of a Server.
type Options struct {
	Config     config.ServerConfig
	WebSocket  config.WebSocketConfig
	Version    string
	ReportPath string
	Runner     Runner
	Rules      *rules.Watcher
	Tokens     *rsv.Store
	Logger     *logger.Logger
}

// Server represents the status and run-control HTTP server
type Server struct {
	config     config.ServerConfig
	wsConfig   config.WebSocketConfig
	version    string
	reportPath string
	runner     Runner
	rules      *rules.Watcher
	tokens     *rsv.Store
	logger     *logger.Logger
	router     *mux.Router
	server     *http.Server
	wsHub      *websocket.Hub

	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup

	mu     sync.Mutex
	status *RunStatus
}

// New creates a new server instance
func New(opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	hubConfig := websocket.HubConfig{
		MaxConnections:  opts.WebSocket.MaxConnections,
		ReadBufferSize:  opts.WebSocket.ReadBufferSize,
		WriteBufferSize: opts.WebSocket.WriteBufferSize,
		PingInterval:    opts.WebSocket.PingInterval,
		PongTimeout:     opts.WebSocket.PongTimeout,
		WriteTimeout:    opts.WebSocket.WriteTimeout,
		MaxMessageSize:  opts.WebSocket.MaxMessageSize,
		AllowedOrigins:  opts.WebSocket.AllowedOrigins,
		APIToken:        opts.Config.APIToken,
	}

	s := &Server{
		config:     opts.Config,
		wsConfig:   opts.WebSocket,
		version:    opts.Version,
		reportPath: opts.ReportPath,
		runner:     opts.Runner,
		rules:      opts.Rules,
		tokens:     opts.Tokens,
		logger:     opts.Logger.WithComponent("server"),
		router:     mux.NewRouter(),
		wsHub:      websocket.NewHub(hubConfig, opts.Logger.WithComponent("websocket").Logger),
		ctx:        ctx,
		cancel:     cancel,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Config.Port),
		Handler:      s.router,
		ReadTimeout:  opts.Config.ReadTimeout,
		WriteTimeout: opts.Config.WriteTimeout,
		IdleTimeout:  opts.Config.IdleTimeout,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	if s.wsConfig.Enabled {
		path := s.wsConfig.Path
		if path == "" {
			path = "/ws"
		}
		s.router.HandleFunc(path, s.wsHub.HandleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware)
	api.HandleFunc("/rules", s.handleRules).Methods("GET")
	api.HandleFunc("/tokens", s.handleTokens).Methods("GET")
	api.HandleFunc("/report", s.handleReport).Methods("GET")
	api.HandleFunc("/runs/current", s.handleCurrentRun).Methods("GET")
	api.Handle("/runs", s.authMiddleware(http.HandlerFunc(s.handleStartRun))).Methods("POST")
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the WebSocket hub and the HTTP server. It blocks until the
// server stops.
func (s *Server) Start() error {
	s.logger.Info("Starting exdfilter server",
		zap.Int("port", s.config.Port),
		zap.Bool("websocket", s.wsConfig.Enabled),
		zap.Bool("auth", s.config.APIToken != ""),
	)

	go s.wsHub.Run(s.ctx)

	return s.server.ListenAndServe()
}

// Stop cancels any active run, waits for it to finish and shuts the HTTP
// server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping exdfilter server")
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Active run did not stop before shutdown deadline")
	}

	return s.server.Shutdown(ctx)
}

// Hub returns the WebSocket hub for broadcasting events
func (s *Server) Hub() *websocket.Hub {
	return s.wsHub
}
