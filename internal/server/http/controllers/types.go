package controllers

import (
	"time"

	"github.com/rzbill/spqs/internal/priorityqueue"
)

// Common request/response types for HTTP controllers

// sendReq represents a request to enqueue a message. Priority is required.
type sendReq struct {
	Body            string            `json:"body"`
	Priority        *int              `json:"priority"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	GroupID         string            `json:"groupId,omitempty"`
	DeduplicationID string            `json:"deduplicationId,omitempty"`
	DelaySeconds    int               `json:"delaySeconds,omitempty"`
}

// receiveReq represents a receive call. Unset fields use the queue defaults.
type receiveReq struct {
	MaxMessages              int  `json:"maxMessages,omitempty"`
	VisibilityTimeoutSeconds *int `json:"visibilityTimeoutSeconds,omitempty"`
	WaitTimeSeconds          *int `json:"waitTimeSeconds,omitempty"`
	IncludeAttributes        bool `json:"includeAttributes,omitempty"`
}

// deleteReq represents a delete. With id and priority the index entry is
// removed too.
type deleteReq struct {
	ReceiptToken string `json:"receiptToken"`
	ID           string `json:"id,omitempty"`
	Priority     *int   `json:"priority,omitempty"`
}

// extendReq represents a visibility change of one delivery.
type extendReq struct {
	ReceiptToken             string `json:"receiptToken"`
	VisibilityTimeoutSeconds int    `json:"visibilityTimeoutSeconds"`
}

// messageJSON is a received message on the wire.
type messageJSON struct {
	ID              string            `json:"id"`
	Body            string            `json:"body"`
	ReceiptToken    string            `json:"receiptToken"`
	Priority        int               `json:"priority"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	SentAt          time.Time         `json:"sentAt"`
	FirstReceivedAt time.Time         `json:"firstReceivedAt"`
	LastReceivedAt  time.Time         `json:"lastReceivedAt"`
	ReceiveCount    int64             `json:"receiveCount"`
}

func toMessageJSON(m priorityqueue.PriorityMessage) messageJSON {
	return messageJSON{
		ID:              m.ID,
		Body:            m.Body,
		ReceiptToken:    m.ReceiptToken,
		Priority:        m.Priority,
		Attributes:      m.Attributes,
		SentAt:          m.SentAt,
		FirstReceivedAt: m.FirstReceivedAt,
		LastReceivedAt:  m.LastReceivedAt,
		ReceiveCount:    m.ReceiveCount,
	}
}
