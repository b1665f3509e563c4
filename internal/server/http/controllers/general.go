package controllers

import (
	"context"
	"net/http"

	tasksvc "github.com/rzbill/relay/internal/services/tasks"
	logpkg "github.com/rzbill/relay/pkg/log"
)

// HealthChecker reports storage/runtime health for the healthz endpoint.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// GeneralController handles health, liveness status, and journal reads.
type GeneralController struct {
	svc    *tasksvc.Service
	health HealthChecker
	logger logpkg.Logger
}

// NewGeneralController creates a general controller.
func NewGeneralController(svc *tasksvc.Service, health HealthChecker, logger logpkg.Logger) *GeneralController {
	return &GeneralController{svc: svc, health: health, logger: logger}
}

// RegisterRoutes registers general endpoints with the given mux.
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/healthz", c.handleHealth)
	mux.HandleFunc("/v1/status", c.handleStatus)
	mux.HandleFunc("/v1/logs", c.handleLogs)
}

func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if c.health != nil {
		if err := c.health.CheckHealth(r.Context()); err != nil {
			writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
			return
		}
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (c *GeneralController) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	view, err := c.svc.Liveness()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status read failed")
		return
	}
	writeJSON(w, view)
}

func (c *GeneralController) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entries, err := c.svc.Logs(limitParam(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "journal read failed")
		return
	}
	writeJSON(w, map[string]any{"entries": entries})
}
