// Package transport defines the contract spqs expects from the durable
// at-least-once queue underneath the ordering index.
//
// Implementations: package sqs (an SQS-compatible queue) and package
// workqueue (the embedded Pebble queue). Every failure is returned as a
// *qerr.TransportError carrying the cause.
package transport

import (
	"context"
	"strconv"
	"time"
)

// PriorityAttribute is the string attribute that carries a message's
// priority class through the transport.
const PriorityAttribute = "Priority"

// SendRequest is one message to enqueue.
type SendRequest struct {
	Body     string
	Priority int
	// Attributes travel with the message as string pairs.
	Attributes map[string]string
	// GroupID and DeduplicationID are passed through for FIFO queues.
	GroupID         string
	DeduplicationID string
	// Delay postpones first visibility.
	Delay time.Duration
}

// ReceiveRequest describes one receive call.
type ReceiveRequest struct {
	MaxMessages       int
	VisibilityTimeout time.Duration
	// WaitTime bounds the long poll. Zero returns immediately.
	WaitTime          time.Duration
	IncludeAttributes bool
	// PreferredIDs are delivered first when they are available. Transports
	// that cannot address messages by id ignore it.
	PreferredIDs []string
}

// Message is a delivered message. ReceiptToken identifies this delivery and
// is required to delete the message or extend its lease.
type Message struct {
	ID           string
	Body         string
	ReceiptToken string
	Attributes   map[string]string
}

// Transport is the durable queue contract.
type Transport interface {
	Send(ctx context.Context, req SendRequest) (string, error)
	Receive(ctx context.Context, req ReceiveRequest) ([]Message, error)
	Delete(ctx context.Context, receiptToken string) error
	ExtendLease(ctx context.Context, receiptToken string, timeout time.Duration) error
	ApproximateCount(ctx context.Context) (int64, error)
	Purge(ctx context.Context) error
}

// Attributes returns the attribute map sent for req: its custom attributes
// plus PriorityAttribute.
func Attributes(req SendRequest) map[string]string {
	out := make(map[string]string, len(req.Attributes)+1)
	for k, v := range req.Attributes {
		out[k] = v
	}
	out[PriorityAttribute] = strconv.Itoa(req.Priority)
	return out
}
