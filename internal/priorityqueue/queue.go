// Package priorityqueue is the facade consumers use: it sends through the
// durable transport, tracks each message in the ordering index and hands out
// received messages in priority order.
//
// A Queue does not hold locks between calls. Many Queues may share one
// transport queue and one index namespace; the transport lease decides who
// actually gets a message.
package priorityqueue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rzbill/spqs/internal/dispatch"
	"github.com/rzbill/spqs/internal/index"
	"github.com/rzbill/spqs/internal/metrics"
	"github.com/rzbill/spqs/internal/qerr"
	"github.com/rzbill/spqs/internal/transport"
	"github.com/rzbill/spqs/pkg/log"
)

// Config holds the queue-wide defaults.
type Config struct {
	PriorityLevels      int
	VisibilityTimeout   time.Duration
	WaitTime            time.Duration
	StarvationThreshold int64
	MaxMessages         int
}

// DefaultConfig returns three classes, a 30s visibility timeout, a 20s long
// poll, a starvation threshold of 100 and batches of 10.
func DefaultConfig() Config {
	return Config{
		PriorityLevels:      3,
		VisibilityTimeout:   30 * time.Second,
		WaitTime:            20 * time.Second,
		StarvationThreshold: 100,
		MaxMessages:         10,
	}
}

// MessageRef is what DeleteMessage needs to drop a message from the index.
type MessageRef struct {
	ID       string
	Priority int
}

// PriorityMessage is a received message with its index metadata attached.
type PriorityMessage struct {
	ID              string
	Body            string
	ReceiptToken    string
	Priority        int
	Attributes      map[string]string
	SentAt          time.Time
	FirstReceivedAt time.Time
	LastReceivedAt  time.Time
	ReceiveCount    int64
}

// Ref returns the index reference of m.
func (m PriorityMessage) Ref() *MessageRef {
	return &MessageRef{ID: m.ID, Priority: m.Priority}
}

// Queue is the priority queue facade.
type Queue struct {
	cfg       Config
	transport transport.Transport
	idx       *index.Index
	engine    *dispatch.Engine
	metrics   *metrics.Collector
	logger    log.Logger
	namespace string
	now       func() time.Time
	connected atomic.Bool
}

// New builds a Queue over store and tr. Zero or negative fields of cfg take
// their DefaultConfig values, except WaitTime and StarvationThreshold where
// zero is a valid setting. The Queue owns store; Disconnect closes it.
func New(cfg Config, store index.Store, tr transport.Transport, opts ...Option) *Queue {
	def := DefaultConfig()
	if cfg.PriorityLevels <= 0 {
		cfg.PriorityLevels = def.PriorityLevels
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = def.VisibilityTimeout
	}
	if cfg.WaitTime < 0 {
		cfg.WaitTime = 0
	}
	if cfg.StarvationThreshold < 0 {
		cfg.StarvationThreshold = def.StarvationThreshold
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = def.MaxMessages
	}

	q := &Queue{cfg: cfg, transport: tr, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = log.NopLogger()
	}
	q.logger = q.logger.WithComponent("priorityqueue")
	if q.metrics == nil {
		q.metrics = metrics.NewCollector(cfg.PriorityLevels, metrics.WithClock(q.now))
	}
	q.idx = index.New(store, index.Options{
		Namespace: q.namespace,
		Levels:    cfg.PriorityLevels,
		Clock:     q.now,
		Logger:    q.logger,
	})
	q.engine = dispatch.NewEngine(q.idx, cfg.StarvationThreshold, q.logger)
	return q
}

// Config returns the effective configuration.
func (q *Queue) Config() Config { return q.cfg }

// Metrics returns the queue's collector.
func (q *Queue) Metrics() *metrics.Collector { return q.metrics }

// Index returns the ordering index.
func (q *Queue) Index() *index.Index { return q.idx }

// Connected reports whether Connect has succeeded and Disconnect has not been
// called since.
func (q *Queue) Connected() bool { return q.connected.Load() }

// Connect opens the index store session.
func (q *Queue) Connect(ctx context.Context) error {
	if err := q.idx.Connect(ctx); err != nil {
		return err
	}
	q.connected.Store(true)
	q.logger.Info("connected", log.Int("levels", q.cfg.PriorityLevels))
	return nil
}

// Disconnect closes the index store session. It is safe to call twice.
func (q *Queue) Disconnect() error {
	if !q.connected.Swap(false) {
		return nil
	}
	return q.idx.Close()
}

// Ping checks the index store.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.ready(); err != nil {
		return err
	}
	return q.idx.Ping(ctx)
}

func (q *Queue) ready() error {
	if !q.connected.Load() {
		return qerr.ErrNotConnected
	}
	return nil
}

func (q *Queue) checkPriority(priority int) error {
	if priority < 0 || priority >= q.cfg.PriorityLevels {
		return fmt.Errorf("%w: %d not in [0,%d)", qerr.ErrInvalidPriority, priority, q.cfg.PriorityLevels)
	}
	return nil
}

// SendMessage enqueues body at priority and returns the transport message
// id. If the transport send fails nothing is recorded in the index. If the
// index registration fails the message is already in the transport and the
// error is returned as is.
func (q *Queue) SendMessage(ctx context.Context, body string, priority int, opts ...SendOption) (string, error) {
	if err := q.ready(); err != nil {
		return "", err
	}
	if err := q.checkPriority(priority); err != nil {
		return "", err
	}
	var so SendOptions
	for _, opt := range opts {
		opt(&so)
	}

	id, err := q.transport.Send(ctx, transport.SendRequest{
		Body:            body,
		Priority:        priority,
		Attributes:      so.Attributes,
		GroupID:         so.GroupID,
		DeduplicationID: so.DeduplicationID,
		Delay:           so.Delay,
	})
	if err != nil {
		return "", err
	}
	if err := q.idx.Register(ctx, id, priority, index.Metadata{SentAt: q.now()}); err != nil {
		q.logger.Error("message sent but not indexed", log.Str("id", id), log.Int("priority", priority), log.Err(err))
		return "", err
	}
	q.refreshDepth(ctx, priority)
	return id, nil
}

// ReceiveMessages returns up to MaxMessages messages ordered by priority.
// When the index holds no candidates the transport is not called.
func (q *Queue) ReceiveMessages(ctx context.Context, opts ...ReceiveOption) ([]PriorityMessage, error) {
	if err := q.ready(); err != nil {
		return nil, err
	}
	ro := ReceiveOptions{
		MaxMessages:       q.cfg.MaxMessages,
		VisibilityTimeout: q.cfg.VisibilityTimeout,
		WaitTime:          q.cfg.WaitTime,
	}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.MaxMessages <= 0 {
		ro.MaxMessages = q.cfg.MaxMessages
	}

	candidates, mode, err := q.engine.SelectWithMode(ctx, ro.MaxMessages)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []PriorityMessage{}, nil
	}

	fetched, err := q.transport.Receive(ctx, transport.ReceiveRequest{
		MaxMessages:       ro.MaxMessages,
		VisibilityTimeout: ro.VisibilityTimeout,
		WaitTime:          ro.WaitTime,
		IncludeAttributes: ro.IncludeAttributes,
		PreferredIDs:      candidates,
	})
	if err != nil {
		return nil, err
	}

	meta := make(map[string]index.Metadata, len(fetched))
	for _, m := range fetched {
		md, ok, err := q.idx.GetMetadata(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			q.logger.Warn("dropping untracked message", log.Str("id", m.ID))
			continue
		}
		meta[m.ID] = md
	}

	ordered := Reconcile(candidates, fetched, meta)
	out := make([]PriorityMessage, 0, len(ordered))
	for _, m := range ordered {
		md, ok, err := q.idx.MarkReceived(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Deleted by another consumer between lookup and mark.
			continue
		}
		m.FirstReceivedAt = md.FirstReceivedAt
		m.LastReceivedAt = md.LastReceivedAt
		m.ReceiveCount = md.ReceiveCount
		q.metrics.StartProcessing(m.ID)
		out = append(out, m)
	}
	q.logger.Debug("received",
		log.Int("candidates", len(candidates)),
		log.Int("fetched", len(fetched)),
		log.Int("returned", len(out)),
		log.Str("mode", string(mode)))

	q.refreshDepths(ctx)
	return out, nil
}

// DeleteMessage deletes the delivery identified by receiptToken from the
// transport. With a non-nil ref the message is also removed from the index
// and its processing latency recorded. Without one the index entry stays
// behind until PurgeQueue.
func (q *Queue) DeleteMessage(ctx context.Context, receiptToken string, ref *MessageRef) error {
	if err := q.ready(); err != nil {
		return err
	}
	if ref != nil {
		if err := q.checkPriority(ref.Priority); err != nil {
			return err
		}
	}
	if err := q.transport.Delete(ctx, receiptToken); err != nil {
		return err
	}
	if ref == nil {
		return nil
	}
	if err := q.idx.Remove(ctx, ref.ID, ref.Priority); err != nil {
		return err
	}
	q.metrics.EndProcessing(ref.ID, ref.Priority)
	q.refreshDepth(ctx, ref.Priority)
	return nil
}

// Ack deletes a received message along with its index entry.
func (q *Queue) Ack(ctx context.Context, m PriorityMessage) error {
	return q.DeleteMessage(ctx, m.ReceiptToken, m.Ref())
}

// ExtendVisibility resets the lease of a delivery to timeout from now.
func (q *Queue) ExtendVisibility(ctx context.Context, receiptToken string, timeout time.Duration) error {
	if err := q.ready(); err != nil {
		return err
	}
	return q.transport.ExtendLease(ctx, receiptToken, timeout)
}

// QueueDepthByPriority reads the depth of every class from the index and
// records it in the collector.
func (q *Queue) QueueDepthByPriority(ctx context.Context) (map[int]int64, error) {
	if err := q.ready(); err != nil {
		return nil, err
	}
	depths, err := q.idx.DepthSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	q.metrics.UpdateDepths(depths)
	return depths, nil
}

// ProcessingLatencyByPriority returns the smoothed receive-to-delete latency
// of each class in milliseconds.
func (q *Queue) ProcessingLatencyByPriority() (map[int]float64, error) {
	if err := q.ready(); err != nil {
		return nil, err
	}
	return q.metrics.Latencies(), nil
}

// ApproximateCount returns the transport's own message count.
func (q *Queue) ApproximateCount(ctx context.Context) (int64, error) {
	if err := q.ready(); err != nil {
		return 0, err
	}
	return q.transport.ApproximateCount(ctx)
}

// PurgeQueue empties the transport and the index and resets the collector.
func (q *Queue) PurgeQueue(ctx context.Context) error {
	if err := q.ready(); err != nil {
		return err
	}
	if err := q.transport.Purge(ctx); err != nil {
		return err
	}
	n, err := q.idx.Purge(ctx)
	if err != nil {
		return err
	}
	q.metrics.Reset()
	q.logger.Info("purged", log.Int("indexed", n))
	return nil
}

// refreshDepth pushes the current depth of one class to the collector.
// Failures are logged; the operation that triggered the refresh has already
// succeeded.
func (q *Queue) refreshDepth(ctx context.Context, priority int) {
	d, err := q.idx.ClassDepth(ctx, priority)
	if err != nil {
		q.logger.Warn("depth refresh failed", log.Int("priority", priority), log.Err(err))
		return
	}
	q.metrics.UpdateDepth(priority, d)
}

func (q *Queue) refreshDepths(ctx context.Context) {
	depths, err := q.idx.DepthSnapshot(ctx)
	if err != nil {
		q.logger.Warn("depth refresh failed", log.Err(err))
		return
	}
	q.metrics.UpdateDepths(depths)
}
