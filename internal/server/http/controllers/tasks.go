package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rzbill/relay/internal/relay"
	tasksvc "github.com/rzbill/relay/internal/services/tasks"
	logpkg "github.com/rzbill/relay/pkg/log"
)

// TasksController handles task enqueue, polling, and request/await.
type TasksController struct {
	svc    *tasksvc.Service
	logger logpkg.Logger
}

// NewTasksController creates a tasks controller.
func NewTasksController(svc *tasksvc.Service, logger logpkg.Logger) *TasksController {
	return &TasksController{svc: svc, logger: logger}
}

// RegisterRoutes registers task endpoints with the given mux.
func (c *TasksController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/tasks", c.handleEnqueue)
	mux.HandleFunc("/v1/tasks/", c.handlePoll)
	mux.HandleFunc("/v1/requests", c.handleRequest)
}

type enqueueReq struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	TaskID  string          `json:"task_id"`
}

func (c *TasksController) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "missing type")
		return
	}
	taskID, err := c.svc.Enqueue(r.Context(), req.Type, req.Payload, req.TaskID)
	if err != nil {
		c.logger.Error("enqueue failed", logpkg.Err(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (c *TasksController) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	taskID := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
	if taskID == "" || strings.Contains(taskID, "/") {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	view, err := c.svc.Task(taskID)
	if err != nil {
		if errors.Is(err, tasksvc.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, view)
}

type requestReq struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	TimeoutMs int64           `json:"timeout_ms"`
}

func (c *TasksController) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req requestReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "missing type")
		return
	}
	reply, err := c.svc.Request(r.Context(), req.Type, req.Payload, time.Duration(req.TimeoutMs)*time.Millisecond)
	if err != nil {
		if errors.Is(err, relay.ErrAwaitTimeout) {
			writeError(w, http.StatusRequestTimeout, "no reply before deadline")
			return
		}
		c.logger.Error("request failed", logpkg.Err(err))
		writeError(w, http.StatusInternalServerError, "request failed")
		return
	}
	writeJSON(w, map[string]json.RawMessage{"payload": reply})
}
