package priorityqueue

import (
	"time"

	"github.com/rzbill/spqs/internal/metrics"
	"github.com/rzbill/spqs/pkg/log"
)

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithCollector sets the metrics collector. By default each Queue creates
// its own.
func WithCollector(c *metrics.Collector) Option {
	return func(q *Queue) { q.metrics = c }
}

// WithNamespace sets the ordering index key namespace.
func WithNamespace(ns string) Option {
	return func(q *Queue) { q.namespace = ns }
}

// WithClock replaces time.Now for index timestamps and latency tracking.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// SendOptions are the optional parts of a send.
type SendOptions struct {
	Attributes      map[string]string
	GroupID         string
	DeduplicationID string
	Delay           time.Duration
}

// SendOption configures SendOptions.
type SendOption func(*SendOptions)

// WithAttributes attaches string attributes to the message.
func WithAttributes(attrs map[string]string) SendOption {
	return func(o *SendOptions) { o.Attributes = attrs }
}

// WithGroupID sets the message group for FIFO transports.
func WithGroupID(id string) SendOption {
	return func(o *SendOptions) { o.GroupID = id }
}

// WithDeduplicationID sets the transport deduplication id.
func WithDeduplicationID(id string) SendOption {
	return func(o *SendOptions) { o.DeduplicationID = id }
}

// WithDelay postpones first delivery.
func WithDelay(d time.Duration) SendOption {
	return func(o *SendOptions) { o.Delay = d }
}

// ReceiveOptions override the configured receive defaults.
type ReceiveOptions struct {
	MaxMessages       int
	VisibilityTimeout time.Duration
	WaitTime          time.Duration
	IncludeAttributes bool
}

// ReceiveOption configures ReceiveOptions.
type ReceiveOption func(*ReceiveOptions)

// WithMaxMessages bounds the batch size.
func WithMaxMessages(n int) ReceiveOption {
	return func(o *ReceiveOptions) { o.MaxMessages = n }
}

// WithVisibilityTimeout sets the lease length of received messages.
func WithVisibilityTimeout(d time.Duration) ReceiveOption {
	return func(o *ReceiveOptions) { o.VisibilityTimeout = d }
}

// WithWaitTime sets the transport long-poll duration.
func WithWaitTime(d time.Duration) ReceiveOption {
	return func(o *ReceiveOptions) { o.WaitTime = d }
}

// WithIncludeAttributes asks the transport for every attribute.
func WithIncludeAttributes(include bool) ReceiveOption {
	return func(o *ReceiveOptions) { o.IncludeAttributes = include }
}
