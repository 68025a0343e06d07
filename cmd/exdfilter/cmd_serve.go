package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/app"
	"github.com/raaihank/exdfilter/internal/config"
	"github.com/raaihank/exdfilter/internal/rules"
	"github.com/raaihank/exdfilter/internal/server"
)

// serveCmd runs the HTTP status API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the status API and trigger runs over HTTP",
	Long: `Starts an HTTP server exposing:

  GET  /health               liveness
  GET  /api/rules            merged rule set, reloaded when a rule document changes
  GET  /api/tokens           token store (?unresolved=true for missing primaries)
  GET  /api/report           last validation report
  GET  /api/runs/current     active or most recent run
  POST /api/runs             start a run (one at a time)
  GET  /ws                   live pass progress

Edits to the configuration file apply to the next run.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// liveRunner runs with the App built from the latest valid configuration.
type liveRunner struct {
	mu      sync.RWMutex
	current *app.App
	retired []*app.App
}

func (l *liveRunner) Run(ctx context.Context, opts app.RunOptions) (*app.Result, error) {
	l.mu.RLock()
	a := l.current
	l.mu.RUnlock()
	return a.Run(ctx, opts)
}

func (l *liveRunner) swap(a *app.App) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retired = append(l.retired, l.current)
	l.current = a
}

func (l *liveRunner) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	errs := []error{l.current.Close()}
	for _, a := range l.retired {
		errs = append(errs, a.Close())
	}
	return errors.Join(errs...)
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Info("Starting exdfilter",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	base := app.New(cfg, log)
	runner := &liveRunner{current: base}
	defer runner.Close()

	if err := base.Tokens().Load(); err != nil {
		log.Warn("Token store unreadable", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := rules.NewWatcher(base.Loader(), log.WithComponent("rules").Logger)
	go func() {
		if err := watcher.Run(ctx, nil); err != nil {
			log.Warn("Rule watcher stopped", zap.Error(err))
		}
	}()

	err := config.Watch(func(next *config.Config) {
		if target != "" {
			next.Paths.Target = target
		}
		runner.swap(app.New(next, log))
		log.Info("Configuration reloaded",
			zap.String("variant", string(next.Pipeline.Variant)),
		)
	}, func(err error) {
		log.Warn("Ignoring invalid configuration change", zap.Error(err))
	})
	if err != nil {
		log.Debug("Configuration hot reload disabled", zap.Error(err))
	}

	srv := server.New(server.Options{
		Config:     cfg.Server,
		WebSocket:  cfg.WebSocket,
		Version:    version,
		ReportPath: cfg.Paths.Report,
		Runner:     runner,
		Rules:      watcher,
		Tokens:     base.Tokens(),
		Logger:     log,
	})

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", zap.Error(err))
			return err
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give an active run and outstanding requests 30 seconds to complete
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()

		if err := srv.Stop(stopCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			return err
		}
		log.Info("Server shutdown complete")
	}
	return nil
}

var healthURL string

// healthCmd checks a running server
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that a running server answers /health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		url := healthURL
		if url == "" {
			url = fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)
		}
		return checkHealth(url)
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthURL, "url", "", "Health endpoint (default: localhost on server.port)")
}

// checkHealth performs a health check against a running server
func checkHealth(url string) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: HTTP %d", resp.StatusCode)
	}

	fmt.Println("Health check passed")
	return nil
}
