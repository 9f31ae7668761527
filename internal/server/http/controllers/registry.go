package controllers

import (
	"net/http"

	"github.com/rzbill/spqs/internal/runtime"
	"github.com/rzbill/spqs/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
//
// It provides a centralized way to register all controller routes
// and manages the lifecycle of individual controllers.
type ControllerRegistry struct {
	general  *GeneralController
	messages *MessagesController
	queue    *QueueController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(rt *runtime.Runtime, logger log.Logger) *ControllerRegistry {
	if logger == nil {
		logger = log.NopLogger()
	}
	return &ControllerRegistry{
		general:  NewGeneralController(rt),
		messages: NewMessagesController(rt.Queue(), logger),
		queue:    NewQueueController(rt.Queue()),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
//
// This sets up health and metrics endpoints, the message endpoints
// (send, receive, stream, delete, extend) and the queue admin endpoints
// (depth, latency, count, purge).
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.messages.RegisterRoutes(mux)
	r.queue.RegisterRoutes(mux)
}
