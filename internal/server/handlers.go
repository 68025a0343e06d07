package server

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/app"
	"github.com/raaihank/exdfilter/internal/preset"
	"github.com/raaihank/exdfilter/internal/rules"
	"github.com/raaihank/exdfilter/internal/websocket"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := s.status != nil && s.status.State == RunRunning
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"name":              "exdfilter",
		"version":           s.version,
		"run_in_progress":   running,
		"websocket_enabled": s.wsConfig.Enabled,
		"websocket_clients": s.wsHub.GetStats().ActiveConnections,
	})
}

// handleRules returns the merged rule set currently in effect
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if s.rules == nil {
		writeError(w, http.StatusServiceUnavailable, "rules are not loaded")
		return
	}
	rs := s.rules.Current()
	writeJSON(w, http.StatusOK, struct {
		Counts map[string]int `json:"counts"`
		Rules  rules.Document `json:"rules"`
	}{rs.Counts(), rs.Document()})
}

// handleTokens returns the token store, or only the unresolved tokens with
// ?unresolved=true
func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeError(w, http.StatusServiceUnavailable, "token store is disabled")
		return
	}

	if unresolved, _ := strconv.ParseBool(r.URL.Query().Get("unresolved")); unresolved {
		list := s.tokens.Unresolved()
		if list == nil {
			list = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": len(list), "tokens": list})
		return
	}

	tokens := s.tokens.Tokens()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(tokens), "tokens": tokens})
}

// handleReport returns the last saved validation report
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := preset.LoadReport(s.reportPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "no validation report yet")
			return
		}
		s.logger.Error("Failed to load validation report", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load validation report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleCurrentRun returns the active or most recent run
func (s *Server) handleCurrentRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.status == nil {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "no run has been started")
		return
	}
	status := *s.status
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, status)
}

// handleStartRun starts a run in the background. Only one run may be active.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.status != nil && s.status.State == RunRunning {
		current := *s.status
		s.mu.Unlock()
		writeJSON(w, http.StatusConflict, current)
		return
	}
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	s.status = &RunStatus{
		RunID:     uuid.NewString(),
		State:     RunRunning,
		StartedAt: time.Now(),
	}
	accepted := *s.status
	s.runs.Add(1)
	s.mu.Unlock()

	go s.execute(accepted.RunID)

	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) execute(runID string) {
	defer s.runs.Done()

	log := s.logger.WithRun(runID)
	log.Info("Run started")
	s.wsHub.PublishRunStatus(runID, websocket.RunStatusEvent{Status: "started"})

	var rs *rules.RuleSet
	if s.rules != nil {
		rs = s.rules.Current()
	}
	result, err := s.runner.Run(s.ctx, app.RunOptions{RunID: runID, Rules: rs, Sink: s.wsHub})

	finished := time.Now()
	event := websocket.RunStatusEvent{Status: RunCompleted}

	s.mu.Lock()
	status := s.status
	status.FinishedAt = &finished
	if result != nil {
		status.Summary = result.Summary
		status.Report = result.Report
		event.Summary = result.Summary
	}
	if err != nil {
		status.State = RunFailed
		status.Error = err.Error()
		event.Status = RunFailed
		event.Error = err.Error()
	} else {
		status.State = RunCompleted
	}
	s.mu.Unlock()

	if err != nil {
		log.Error("Run failed", zap.Error(err))
	} else {
		log.Info("Run completed", zap.Duration("duration", finished.Sub(status.StartedAt)))
	}
	s.wsHub.PublishRunStatus(runID, event)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
