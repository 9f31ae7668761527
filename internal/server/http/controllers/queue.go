package controllers

import (
	"net/http"

	"github.com/rzbill/spqs/internal/priorityqueue"
)

// QueueController handles queue-wide read and admin endpoints.
type QueueController struct {
	q *priorityqueue.Queue
}

// NewQueueController creates a new queue controller.
func NewQueueController(q *priorityqueue.Queue) *QueueController {
	return &QueueController{q: q}
}

// RegisterRoutes registers queue routes with the given mux.
func (c *QueueController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/queue/depth", c.handleDepth)
	mux.HandleFunc("/v1/queue/latency", c.handleLatency)
	mux.HandleFunc("/v1/queue/count", c.handleCount)
	mux.HandleFunc("/v1/queue/purge", c.handlePurge)
}

// handleDepth returns the indexed depth of every class.
// GET /v1/queue/depth
func (c *QueueController) handleDepth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	depths, err := c.q.QueueDepthByPriority(r.Context())
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, map[string]any{"depths": depths})
}

// handleLatency returns the smoothed processing latency of every class in
// milliseconds.
// GET /v1/queue/latency
func (c *QueueController) handleLatency(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	lat, err := c.q.ProcessingLatencyByPriority()
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, map[string]any{"latencyMs": lat})
}

// handleCount returns the transport's approximate message count.
// GET /v1/queue/count
func (c *QueueController) handleCount(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	n, err := c.q.ApproximateCount(r.Context())
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, map[string]int64{"count": n})
}

// handlePurge empties the transport and the index.
// POST /v1/queue/purge
func (c *QueueController) handlePurge(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if err := c.q.PurgeQueue(r.Context()); err != nil {
		writeQueueError(w, err)
		return
	}
	writeNoContent(w)
}
