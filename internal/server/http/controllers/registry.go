package controllers

import (
	"net/http"

	tasksvc "github.com/rzbill/relay/internal/services/tasks"
	logpkg "github.com/rzbill/relay/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	tasks     *TasksController
	responses *ResponsesController
	general   *GeneralController
}

// NewControllerRegistry initializes all controllers over the task service.
func NewControllerRegistry(svc *tasksvc.Service, health HealthChecker, logger logpkg.Logger) *ControllerRegistry {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	logger = logger.WithComponent("http")
	return &ControllerRegistry{
		tasks:     NewTasksController(svc, logger),
		responses: NewResponsesController(svc, logger),
		general:   NewGeneralController(svc, health, logger),
	}
}

// RegisterAllRoutes registers every endpoint with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.tasks.RegisterRoutes(mux)
	r.responses.RegisterRoutes(mux)
	r.general.RegisterRoutes(mux)
}
