package controllers

import (
	"net/http"
	"time"

	"github.com/rzbill/spqs/internal/priorityqueue"
	"github.com/rzbill/spqs/pkg/log"
)

// MessagesController handles the message endpoints of the priority queue.
type MessagesController struct {
	q      *priorityqueue.Queue
	logger log.Logger
}

// NewMessagesController creates a new messages controller.
func NewMessagesController(q *priorityqueue.Queue, logger log.Logger) *MessagesController {
	return &MessagesController{q: q, logger: logger.WithComponent("http.messages")}
}

// RegisterRoutes registers message routes with the given mux.
func (c *MessagesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/messages/send", c.handleSend)
	mux.HandleFunc("/v1/messages/receive", c.handleReceive)
	mux.HandleFunc("/v1/messages/stream", c.handleStream)
	mux.HandleFunc("/v1/messages/delete", c.handleDelete)
	mux.HandleFunc("/v1/messages/extend", c.handleExtend)
}

// handleSend enqueues one message.
// POST /v1/messages/send {"body":"...","priority":0}
func (c *MessagesController) handleSend(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req sendReq
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Priority == nil {
		writeError(w, http.StatusBadRequest, "priority is required")
		return
	}
	opts := []priorityqueue.SendOption{
		priorityqueue.WithAttributes(req.Attributes),
		priorityqueue.WithGroupID(req.GroupID),
		priorityqueue.WithDeduplicationID(req.DeduplicationID),
	}
	if req.DelaySeconds > 0 {
		opts = append(opts, priorityqueue.WithDelay(time.Duration(req.DelaySeconds)*time.Second))
	}
	id, err := c.q.SendMessage(r.Context(), req.Body, *req.Priority, opts...)
	if err != nil {
		c.logger.Warn("send failed", log.Int("priority", *req.Priority), log.Err(err))
		writeQueueError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"id": id})
}

func (req receiveReq) options() []priorityqueue.ReceiveOption {
	var opts []priorityqueue.ReceiveOption
	if req.MaxMessages > 0 {
		opts = append(opts, priorityqueue.WithMaxMessages(req.MaxMessages))
	}
	if req.VisibilityTimeoutSeconds != nil {
		opts = append(opts, priorityqueue.WithVisibilityTimeout(time.Duration(*req.VisibilityTimeoutSeconds)*time.Second))
	}
	if req.WaitTimeSeconds != nil {
		opts = append(opts, priorityqueue.WithWaitTime(time.Duration(*req.WaitTimeSeconds)*time.Second))
	}
	if req.IncludeAttributes {
		opts = append(opts, priorityqueue.WithIncludeAttributes(true))
	}
	return opts
}

// handleReceive returns a batch in priority order.
// POST /v1/messages/receive {"maxMessages":10}
func (c *MessagesController) handleReceive(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req receiveReq
	if !decodeBody(w, r, &req) {
		return
	}
	msgs, err := c.q.ReceiveMessages(r.Context(), req.options()...)
	if err != nil {
		c.logger.Warn("receive failed", log.Err(err))
		writeQueueError(w, err)
		return
	}
	out := make([]messageJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageJSON(m))
	}
	writeJSON(w, map[string]any{"messages": out})
}

// handleStream receives continuously and writes each message as an SSE
// event until the client goes away. Messages must still be deleted through
// /v1/messages/delete.
// GET /v1/messages/stream?max=10&wait=20&visibility=30
func (c *MessagesController) handleStream(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	req := receiveReq{MaxMessages: parseLimit(q.Get("max")), IncludeAttributes: parseBool(q.Get("attributes"))}
	if v := q.Get("wait"); v != "" {
		n := parseLimit(v)
		req.WaitTimeSeconds = &n
	}
	if v := q.Get("visibility"); v != "" {
		n := parseLimit(v)
		req.VisibilityTimeoutSeconds = &n
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	sink := sseSink{w: w, r: r}
	_ = sink.Flush()
	idle := time.NewTicker(streamIdleBackoff)
	defer idle.Stop()
	for {
		msgs, err := c.q.ReceiveMessages(r.Context(), req.options()...)
		if err != nil {
			if r.Context().Err() == nil {
				c.logger.Warn("stream receive failed", log.Err(err))
				_ = sink.SendError(err)
			}
			return
		}
		for _, m := range msgs {
			if err := sink.Send(toMessageJSON(m)); err != nil {
				return
			}
		}
		_ = sink.Flush()
		if len(msgs) > 0 {
			continue
		}
		// nothing indexed means no long poll happened; back off
		select {
		case <-r.Context().Done():
			return
		case <-idle.C:
		}
	}
}

// streamIdleBackoff paces the stream loop while the index is empty.
const streamIdleBackoff = 250 * time.Millisecond

// handleDelete deletes a delivery.
// POST /v1/messages/delete {"receiptToken":"...","id":"...","priority":1}
func (c *MessagesController) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req deleteReq
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ReceiptToken == "" {
		writeError(w, http.StatusBadRequest, "receiptToken is required")
		return
	}
	var ref *priorityqueue.MessageRef
	if req.ID != "" && req.Priority != nil {
		ref = &priorityqueue.MessageRef{ID: req.ID, Priority: *req.Priority}
	}
	if err := c.q.DeleteMessage(r.Context(), req.ReceiptToken, ref); err != nil {
		writeQueueError(w, err)
		return
	}
	writeNoContent(w)
}

// handleExtend changes the visibility timeout of a delivery.
// POST /v1/messages/extend {"receiptToken":"...","visibilityTimeoutSeconds":60}
func (c *MessagesController) handleExtend(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req extendReq
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ReceiptToken == "" || req.VisibilityTimeoutSeconds < 0 {
		writeError(w, http.StatusBadRequest, "receiptToken and a non-negative visibilityTimeoutSeconds are required")
		return
	}
	timeout := time.Duration(req.VisibilityTimeoutSeconds) * time.Second
	if err := c.q.ExtendVisibility(r.Context(), req.ReceiptToken, timeout); err != nil {
		writeQueueError(w, err)
		return
	}
	writeNoContent(w)
}
