package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	tasksvc "github.com/rzbill/relay/internal/services/tasks"
	logpkg "github.com/rzbill/relay/pkg/log"
)

// ResponsesController serves unsolicited client responses: long-poll pop and
// live SSE streaming with an optional CEL filter.
type ResponsesController struct {
	svc    *tasksvc.Service
	logger logpkg.Logger
}

// NewResponsesController creates a responses controller.
func NewResponsesController(svc *tasksvc.Service, logger logpkg.Logger) *ResponsesController {
	return &ResponsesController{svc: svc, logger: logger}
}

// RegisterRoutes registers response endpoints with the given mux.
func (c *ResponsesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/responses/next", c.handleNext)
	mux.HandleFunc("/v1/responses/stream", c.handleStream)
}

func (c *ResponsesController) handleNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	timeout := timeoutMsParam(r, 25*time.Second)
	raw, err := c.svc.NextResponse(r.Context(), timeout)
	if err != nil {
		if errors.Is(err, tasksvc.ErrNoResponse) {
			writeError(w, http.StatusRequestTimeout, "no response available")
			return
		}
		writeError(w, http.StatusInternalServerError, "pop failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func (c *ResponsesController) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	filter, err := tasksvc.CompileFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid filter: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	frames, cancel := c.svc.Subscribe()
	defer cancel()
	for {
		select {
		case <-r.Context().Done():
			return
		case f := <-frames:
			if !filter.Eval(f) {
				continue
			}
			b, _ := json.Marshal(f)
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(b); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
