package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dreschagin/rollout-controller/internal/application/port"
	"github.com/dreschagin/rollout-controller/internal/interfaces/http/middleware"
	"github.com/dreschagin/rollout-controller/internal/rollout"
	"github.com/dreschagin/rollout-controller/pkg/logger"
)

const maxRollbackRequestBytes = 64 * 1024

// RolloutController is the subset of the rollout manager the API exposes.
type RolloutController interface {
	Start() bool
	Pause()
	ProgressToNextStage(ctx context.Context) bool
	Rollback(ctx context.Context, reason string)
	PerformHealthCheck(ctx context.Context) (rollout.HealthCheckResult, error)
	State() rollout.State
	Metrics(ctx context.Context) (rollout.Metrics, error)
}

// RolloutAPIHandler exposes rollout lifecycle operations over HTTP.
type RolloutAPIHandler struct {
	controller  RolloutController
	transitions port.TransitionLog
	logger      *logger.Logger
}

// NewRolloutAPIHandler creates a new handler. The transition log is optional;
// when nil the transitions endpoint reports 404.
func NewRolloutAPIHandler(controller RolloutController, transitions port.TransitionLog, log *logger.Logger) *RolloutAPIHandler {
	return &RolloutAPIHandler{
		controller:  controller,
		transitions: transitions,
		logger:      log,
	}
}

// Start resumes automatic health and progression checks.
func (h *RolloutAPIHandler) Start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	started := h.controller.Start()
	if !started {
		middleware.WriteJSON(w, http.StatusConflict, map[string]interface{}{
			"started": false,
			"state":   h.controller.State(),
		})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"started": true,
		"state":   h.controller.State(),
	})
}

// Pause suspends automatic checks.
func (h *RolloutAPIHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.controller.Pause()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"paused": true,
		"state":  h.controller.State(),
	})
}

// Progress advances the rollout to the next stage.
func (h *RolloutAPIHandler) Progress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	advanced := h.controller.ProgressToNextStage(r.Context())
	status := http.StatusOK
	if !advanced {
		status = http.StatusConflict
	}

	middleware.WriteJSON(w, status, map[string]interface{}{
		"advanced": advanced,
		"state":    h.controller.State(),
	})
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

// Rollback reverts all traffic to the stable system.
func (h *RolloutAPIHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rollbackRequest
	if err := decodeJSONBody(r, &req); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rollback reason is required",
		})
		return
	}

	h.controller.Rollback(r.Context(), req.Reason)
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rolled_back": true,
		"state":       h.controller.State(),
	})
}

// HealthCheck runs an immediate health evaluation.
func (h *RolloutAPIHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := h.controller.PerformHealthCheck(r.Context())
	if err != nil {
		h.logger.Error("On-demand health check failed", err)
		middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": "telemetry is unavailable",
			"state": h.controller.State(),
		})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"result": result,
		"state":  h.controller.State(),
	})
}

// GetState returns the current rollout state snapshot.
func (h *RolloutAPIHandler) GetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, h.controller.State())
}

// GetMetrics returns the aggregated comparison metrics.
func (h *RolloutAPIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	metrics, err := h.controller.Metrics(r.Context())
	if err != nil {
		h.logger.Error("Failed to collect rollout metrics", err)
		middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "telemetry is unavailable",
		})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, metrics)
}

// GetTransitions returns recent stage transitions, newest first.
func (h *RolloutAPIHandler) GetTransitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.transitions == nil {
		middleware.WriteJSON(w, http.StatusNotFound, map[string]string{
			"error": "transition log is not configured",
		})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			middleware.WriteJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}

	target := h.controller.State().Target
	records, err := h.transitions.Recent(r.Context(), target, limit)
	if err != nil {
		h.logger.Error("Failed to read transition log", err, "target", target)
		middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "transition log is unavailable",
		})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"target":      target,
		"transitions": records,
	})
}

func decodeJSONBody(r *http.Request, dest interface{}) error {
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRollbackRequestBytes))
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty body decodes to zero value; field validation decides.
			return nil
		}
		return err
	}
	return nil
}
