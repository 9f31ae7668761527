package workqueue

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/rzbill/spqs/internal/qerr"
	pebblestore "github.com/rzbill/spqs/internal/storage/pebble"
	"github.com/rzbill/spqs/internal/transport"
	"github.com/rzbill/spqs/pkg/id"
	"github.com/rzbill/spqs/pkg/log"
)

// ErrInvalidReceipt is returned for a receipt that is malformed or no longer
// matches the message's current lease.
var ErrInvalidReceipt = errors.New("workqueue: invalid receipt")

// receiptCode is the TransportError code attached to ErrInvalidReceipt.
const receiptCode = "ReceiptHandleIsInvalid"

const (
	defaultVisibility   = 30 * time.Second
	defaultPollInterval = 50 * time.Millisecond
	defaultDedupWindow  = 5 * time.Minute
)

var _ transport.Transport = (*WorkQueue)(nil)

// Options tunes a WorkQueue. The zero value is usable.
type Options struct {
	// MaxAvailable throttles Send while this many messages are available
	// (0 disables).
	MaxAvailable int
	// ThrottleSleep is the recheck interval while throttled.
	ThrottleSleep time.Duration
	// PollInterval is the recheck interval of a long poll.
	PollInterval time.Duration
	// DedupWindow is how long a deduplication id suppresses repeats.
	DedupWindow time.Duration
	// Clock drives lease expiry and delays. Defaults to time.Now.
	Clock  func() time.Time
	Logger log.Logger
}

// WorkQueue is a lease-based FIFO queue on Pebble.
type WorkQueue struct {
	db        *pebblestore.DB
	namespace string
	queue     string
	ids       *id.Generator
	now       func() time.Time
	logger    log.Logger

	mu        sync.Mutex
	lastSeq   uint64
	available int

	notify chan struct{}

	maxAvailable  int
	throttleSleep time.Duration
	pollInterval  time.Duration
	dedupWindow   time.Duration

	// sweeper controls
	sweepMu   sync.Mutex
	sweepStop chan struct{}
	sweepDone chan struct{}
	sweepIntv time.Duration
	sweepMax  int
}

// OpenQueue initializes a WorkQueue and restores its counters from metadata.
func OpenQueue(db *pebblestore.DB, namespace, queue string, opts Options) (*WorkQueue, error) {
	if db == nil {
		return nil, errors.New("workqueue: nil database")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.NopLogger()
	}
	if opts.ThrottleSleep <= 0 {
		opts.ThrottleSleep = 10 * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = defaultDedupWindow
	}
	q := &WorkQueue{
		db:            db,
		namespace:     namespace,
		queue:         queue,
		ids:           id.NewGenerator(),
		now:           opts.Clock,
		logger:        opts.Logger.With(log.Component("workqueue"), log.Str("queue", queue)),
		notify:        make(chan struct{}, 1),
		maxAvailable:  opts.MaxAvailable,
		throttleSleep: opts.ThrottleSleep,
		pollInterval:  opts.PollInterval,
		dedupWindow:   opts.DedupWindow,
	}
	meta, err := db.Get(MetaKey(namespace, queue))
	switch {
	case err == nil && len(meta) >= 12:
		q.lastSeq = binary.BigEndian.Uint64(meta[0:8])
		q.available = int(binary.BigEndian.Uint32(meta[8:12]))
	case err != nil && !errors.Is(err, pebblestore.ErrNotFound):
		return nil, err
	}
	return q, nil
}

// putMeta stages lastSeq (8B) | available (4B).
func (q *WorkQueue) putMeta(b *pebble.Batch, lastSeq uint64, avail int) error {
	if avail < 0 {
		avail = 0
	}
	var meta [12]byte
	binary.BigEndian.PutUint64(meta[0:8], lastSeq)
	binary.BigEndian.PutUint32(meta[8:12], uint32(avail))
	return b.Set(MetaKey(q.namespace, q.queue), meta[:], nil)
}

// signal wakes one long-polling receiver.
func (q *WorkQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *WorkQueue) throttle(ctx context.Context) error {
	if q.maxAvailable <= 0 {
		return nil
	}
	for {
		q.mu.Lock()
		avail := q.available
		q.mu.Unlock()
		if avail < q.maxAvailable {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(q.throttleSleep):
		}
	}
}

// Send enqueues a message and returns its id. A repeated deduplication id
// within the window returns the original id without enqueueing.
func (q *WorkQueue) Send(ctx context.Context, req transport.SendRequest) (string, error) {
	if err := q.throttle(ctx); err != nil {
		return "", qerr.Transport("send", "", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	nowMs := q.now().UnixMilli()
	if req.DeduplicationID != "" {
		v, err := q.db.Get(DedupKey(q.namespace, q.queue, req.DeduplicationID))
		if err == nil && len(v) > 8 && int64(binary.BigEndian.Uint64(v[:8])) > nowMs {
			return string(v[8:]), nil
		}
	}

	msgID := q.ids.Next().String()
	seq := q.lastSeq + 1
	rec, err := encodeRecord(header{
		ID:              msgID,
		Attributes:      transport.Attributes(req),
		GroupID:         req.GroupID,
		DeduplicationID: req.DeduplicationID,
		SentMs:          nowMs,
	}, []byte(req.Body))
	if err != nil {
		return "", qerr.Transport("send", "", err)
	}

	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Set(MsgKey(q.namespace, q.queue, seq), rec, nil); err != nil {
		return "", qerr.Transport("send", "", err)
	}
	if err := b.Set(IDKey(q.namespace, q.queue, msgID), u64(seq), nil); err != nil {
		return "", qerr.Transport("send", "", err)
	}
	avail := q.available
	if req.Delay > 0 {
		ready := nowMs + req.Delay.Milliseconds()
		if err := b.Set(DelayKey(q.namespace, q.queue, ready, seq), nil, nil); err != nil {
			return "", qerr.Transport("send", "", err)
		}
	} else {
		if err := b.Set(AvailKey(q.namespace, q.queue, seq), nil, nil); err != nil {
			return "", qerr.Transport("send", "", err)
		}
		avail++
	}
	if req.DeduplicationID != "" {
		v := append(u64(uint64(nowMs+q.dedupWindow.Milliseconds())), msgID...)
		if err := b.Set(DedupKey(q.namespace, q.queue, req.DeduplicationID), v, nil); err != nil {
			return "", qerr.Transport("send", "", err)
		}
	}
	if err := q.putMeta(b, seq, avail); err != nil {
		return "", qerr.Transport("send", "", err)
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return "", qerr.Transport("send", "", err)
	}
	q.lastSeq = seq
	if avail != q.available {
		q.available = avail
		q.signal()
	}
	return msgID, nil
}

// Receive leases up to MaxMessages available messages. With a WaitTime it
// polls until a message arrives, the wait elapses or ctx is done.
func (q *WorkQueue) Receive(ctx context.Context, req transport.ReceiveRequest) ([]transport.Message, error) {
	n := req.MaxMessages
	if n <= 0 {
		n = 1
	}
	vis := req.VisibilityTimeout
	if vis <= 0 {
		vis = defaultVisibility
	}

	lr := leaseRequest{n: n, vis: vis, includeAttrs: req.IncludeAttributes, preferred: req.PreferredIDs}
	msgs, err := q.lease(ctx, lr)
	if err != nil || len(msgs) > 0 || req.WaitTime <= 0 {
		return msgs, err
	}

	deadline := time.NewTimer(req.WaitTime)
	defer deadline.Stop()
	poll := time.NewTicker(q.pollInterval)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, qerr.Transport("receive", "", ctx.Err())
		case <-deadline.C:
			return q.lease(ctx, lr)
		case <-q.notify:
		case <-poll.C:
		}
		msgs, err := q.lease(ctx, lr)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
	}
}

func (q *WorkQueue) lease(ctx context.Context, req leaseRequest) ([]transport.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	nowMs := q.now().UnixMilli()
	if _, err := q.promoteDueLocked(ctx, nowMs, 0); err != nil {
		return nil, qerr.Transport("receive", "", err)
	}
	if _, err := q.reclaimLocked(ctx, nowMs, 0); err != nil {
		return nil, qerr.Transport("receive", "", err)
	}

	b := q.db.NewBatch()
	defer b.Close()
	l := &leaser{
		q:     q,
		b:     b,
		exp:   nowMs + req.vis.Milliseconds(),
		attrs: req.includeAttrs,
		taken: make(map[uint64]bool),
		msgs:  make([]transport.Message, 0, req.n),
		avail: q.available,
	}

	for _, id := range req.preferred {
		if len(l.msgs) >= req.n {
			break
		}
		seq, found, err := q.seqOf(id)
		if err != nil {
			return nil, qerr.Transport("receive", "", err)
		}
		if !found || l.taken[seq] {
			continue
		}
		key := AvailKey(q.namespace, q.queue, seq)
		if _, err := q.db.Get(key); err != nil {
			if errors.Is(err, pebblestore.ErrNotFound) {
				continue
			}
			return nil, qerr.Transport("receive", "", err)
		}
		if err := l.take(key, seq); err != nil {
			return nil, qerr.Transport("receive", "", err)
		}
	}

	if len(l.msgs) < req.n {
		prefix := AvailPrefix(q.namespace, q.queue)
		iter, err := q.db.NewPrefixIter(prefix)
		if err != nil {
			return nil, qerr.Transport("receive", "", err)
		}
		for ok := iter.First(); ok && len(l.msgs) < req.n; ok = iter.Next() {
			k := iter.Key()
			if len(k) != len(prefix)+8 {
				continue
			}
			seq := binary.BigEndian.Uint64(k[len(prefix):])
			if l.taken[seq] {
				continue
			}
			if err := l.take(append([]byte(nil), k...), seq); err != nil {
				_ = iter.Close()
				return nil, qerr.Transport("receive", "", err)
			}
		}
		if err := iter.Error(); err != nil {
			_ = iter.Close()
			return nil, qerr.Transport("receive", "", err)
		}
		_ = iter.Close()
	}

	if len(l.taken) == 0 {
		return l.msgs, nil
	}
	if err := q.putMeta(b, q.lastSeq, l.avail); err != nil {
		return nil, qerr.Transport("receive", "", err)
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return nil, qerr.Transport("receive", "", err)
	}
	if l.avail < 0 {
		l.avail = 0
	}
	q.available = l.avail
	return l.msgs, nil
}

type leaseRequest struct {
	n            int
	vis          time.Duration
	includeAttrs bool
	preferred    []string
}

// leaser accumulates one lease batch.
type leaser struct {
	q     *WorkQueue
	b     *pebble.Batch
	exp   int64
	attrs bool
	taken map[uint64]bool
	msgs  []transport.Message
	avail int
}

// take moves seq from available to leased. Entries whose record is missing
// or corrupt are dropped from the available set without being delivered.
func (l *leaser) take(availKey []byte, seq uint64) error {
	q := l.q
	l.taken[seq] = true
	l.avail--
	if err := l.b.Delete(availKey, nil); err != nil {
		return err
	}
	val, err := q.db.Get(MsgKey(q.namespace, q.queue, seq))
	if err != nil {
		q.logger.Warn("dropping index entry without record", log.Int64("seq", int64(seq)), log.Err(err))
		return nil
	}
	h, body, err := decodeRecord(val)
	if err != nil {
		q.logger.Error("dropping corrupt record", log.Int64("seq", int64(seq)), log.Err(err))
		return l.b.Delete(MsgKey(q.namespace, q.queue, seq), nil)
	}
	nonce := uuid.New()
	if err := l.b.Set(LeaseKey(q.namespace, q.queue, seq), leaseValue(l.exp, nonce), nil); err != nil {
		return err
	}
	if err := l.b.Set(LeaseIdxKey(q.namespace, q.queue, l.exp, seq), nil, nil); err != nil {
		return err
	}
	l.msgs = append(l.msgs, transport.Message{
		ID:           h.ID,
		Body:         string(body),
		ReceiptToken: h.ID + "." + nonce.String(),
		Attributes:   selectAttributes(h.Attributes, l.attrs),
	})
	return nil
}

// Delete removes the message leased under receiptToken. Deleting a message
// that no longer exists succeeds.
func (q *WorkQueue) Delete(ctx context.Context, receiptToken string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgID, nonce, err := parseReceipt(receiptToken)
	if err != nil {
		return qerr.Transport("delete", receiptCode, err)
	}
	seq, found, err := q.seqOf(msgID)
	if err != nil {
		return qerr.Transport("delete", "", err)
	}
	if !found {
		return nil
	}
	exp, err := q.checkLease(seq, nonce)
	if err != nil {
		return qerr.Transport("delete", receiptCode, err)
	}

	b := q.db.NewBatch()
	defer b.Close()
	_ = b.Delete(MsgKey(q.namespace, q.queue, seq), nil)
	_ = b.Delete(IDKey(q.namespace, q.queue, msgID), nil)
	_ = b.Delete(LeaseKey(q.namespace, q.queue, seq), nil)
	_ = b.Delete(LeaseIdxKey(q.namespace, q.queue, exp, seq), nil)
	return qerr.Transport("delete", "", q.db.CommitBatch(ctx, b))
}

// ExtendLease moves the lease expiry to now+timeout. A zero timeout releases
// the message back to the head of the queue.
func (q *WorkQueue) ExtendLease(ctx context.Context, receiptToken string, timeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgID, nonce, err := parseReceipt(receiptToken)
	if err != nil {
		return qerr.Transport("extend", receiptCode, err)
	}
	seq, found, err := q.seqOf(msgID)
	if err != nil {
		return qerr.Transport("extend", "", err)
	}
	if !found {
		return qerr.Transport("extend", receiptCode, ErrInvalidReceipt)
	}
	oldExp, err := q.checkLease(seq, nonce)
	if err != nil {
		return qerr.Transport("extend", receiptCode, err)
	}

	b := q.db.NewBatch()
	defer b.Close()
	_ = b.Delete(LeaseIdxKey(q.namespace, q.queue, oldExp, seq), nil)
	if timeout <= 0 {
		_ = b.Delete(LeaseKey(q.namespace, q.queue, seq), nil)
		_ = b.Set(AvailKey(q.namespace, q.queue, seq), nil, nil)
		avail := q.available + 1
		if err := q.putMeta(b, q.lastSeq, avail); err != nil {
			return qerr.Transport("extend", "", err)
		}
		if err := q.db.CommitBatch(ctx, b); err != nil {
			return qerr.Transport("extend", "", err)
		}
		q.available = avail
		q.signal()
		return nil
	}
	exp := q.now().UnixMilli() + timeout.Milliseconds()
	_ = b.Set(LeaseKey(q.namespace, q.queue, seq), leaseValue(exp, nonce), nil)
	_ = b.Set(LeaseIdxKey(q.namespace, q.queue, exp, seq), nil, nil)
	return qerr.Transport("extend", "", q.db.CommitBatch(ctx, b))
}

// ApproximateCount returns the number of messages available for delivery.
func (q *WorkQueue) ApproximateCount(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	nowMs := q.now().UnixMilli()
	if _, err := q.promoteDueLocked(ctx, nowMs, 0); err != nil {
		return 0, qerr.Transport("count", "", err)
	}
	if _, err := q.reclaimLocked(ctx, nowMs, 0); err != nil {
		return 0, qerr.Transport("count", "", err)
	}
	return int64(q.available), nil
}

// Purge removes every message, lease and deduplication entry.
func (q *WorkQueue) Purge(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	prefix := QueuePrefix(q.namespace, q.queue)
	b := q.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(prefix, pebblestore.PrefixUpperBound(prefix), nil); err != nil {
		return qerr.Transport("purge", "", err)
	}
	if err := q.putMeta(b, q.lastSeq, 0); err != nil {
		return qerr.Transport("purge", "", err)
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return qerr.Transport("purge", "", err)
	}
	q.available = 0
	q.logger.Info("purged")
	return nil
}

// promoteDueLocked moves delayed messages that are due into the available
// index. Callers hold mu.
func (q *WorkQueue) promoteDueLocked(ctx context.Context, nowMs int64, max int) (int, error) {
	prefix := DelayPrefix(q.namespace, q.queue)
	iter, err := q.db.NewPrefixIter(prefix)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	b := q.db.NewBatch()
	defer b.Close()
	promoted := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		ready, seq, ok := splitTimeSeq(iter.Key(), len(prefix))
		if !ok {
			continue
		}
		if ready > nowMs {
			break
		}
		_ = b.Delete(iter.Key(), nil)
		_ = b.Set(AvailKey(q.namespace, q.queue, seq), nil, nil)
		promoted++
		if max > 0 && promoted >= max {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if promoted == 0 {
		return 0, nil
	}
	avail := q.available + promoted
	if err := q.putMeta(b, q.lastSeq, avail); err != nil {
		return 0, err
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	q.available = avail
	q.signal()
	return promoted, nil
}

// ReclaimExpired returns messages whose lease expired at or before nowMs to
// the available index at their original sequence. max<=0 means no limit.
func (q *WorkQueue) ReclaimExpired(ctx context.Context, nowMs int64, max int) (int, error) {
	if nowMs <= 0 {
		nowMs = q.now().UnixMilli()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.reclaimLocked(ctx, nowMs, max)
}

func (q *WorkQueue) reclaimLocked(ctx context.Context, nowMs int64, max int) (int, error) {
	prefix := LeaseIdxPrefix(q.namespace, q.queue)
	iter, err := q.db.NewPrefixIter(prefix)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	b := q.db.NewBatch()
	defer b.Close()
	reclaimed, stale := 0, 0
	for ok := iter.First(); ok; ok = iter.Next() {
		exp, seq, ok := splitTimeSeq(iter.Key(), len(prefix))
		if !ok {
			continue
		}
		if exp > nowMs {
			break
		}
		_ = b.Delete(iter.Key(), nil)
		cur, err := q.db.Get(LeaseKey(q.namespace, q.queue, seq))
		if err != nil || len(cur) < 8 || int64(binary.BigEndian.Uint64(cur[:8])) != exp {
			// superseded by an extension or already deleted
			stale++
			continue
		}
		_ = b.Delete(LeaseKey(q.namespace, q.queue, seq), nil)
		_ = b.Set(AvailKey(q.namespace, q.queue, seq), nil, nil)
		reclaimed++
		if max > 0 && reclaimed >= max {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if reclaimed == 0 && stale == 0 {
		return 0, nil
	}
	avail := q.available + reclaimed
	if err := q.putMeta(b, q.lastSeq, avail); err != nil {
		return 0, err
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	q.available = avail
	if reclaimed > 0 {
		q.logger.Debug("reclaimed expired leases", log.Int("count", reclaimed))
		q.signal()
	}
	return reclaimed, nil
}

func (q *WorkQueue) seqOf(msgID string) (uint64, bool, error) {
	v, err := q.db.Get(IDKey(q.namespace, q.queue, msgID))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(v) != 8 {
		return 0, false, ErrCorruptRecord
	}
	return binary.BigEndian.Uint64(v), true, nil
}

// checkLease returns the lease expiry when nonce matches the current lease.
func (q *WorkQueue) checkLease(seq uint64, nonce uuid.UUID) (int64, error) {
	v, err := q.db.Get(LeaseKey(q.namespace, q.queue, seq))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, ErrInvalidReceipt
	}
	if err != nil {
		return 0, err
	}
	if len(v) != 24 || string(v[8:]) != string(nonce[:]) {
		return 0, ErrInvalidReceipt
	}
	return int64(binary.BigEndian.Uint64(v[:8])), nil
}

func leaseValue(exp int64, nonce uuid.UUID) []byte {
	out := make([]byte, 24)
	binary.BigEndian.PutUint64(out[:8], uint64(exp))
	copy(out[8:], nonce[:])
	return out
}

func parseReceipt(r string) (string, uuid.UUID, error) {
	i := strings.LastIndexByte(r, '.')
	if i <= 0 {
		return "", uuid.UUID{}, ErrInvalidReceipt
	}
	nonce, err := uuid.Parse(r[i+1:])
	if err != nil {
		return "", uuid.UUID{}, ErrInvalidReceipt
	}
	return r[:i], nonce, nil
}

func selectAttributes(attrs map[string]string, all bool) map[string]string {
	if all {
		return attrs
	}
	out := map[string]string{}
	if p, ok := attrs[transport.PriorityAttribute]; ok {
		out[transport.PriorityAttribute] = p
	}
	return out
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
