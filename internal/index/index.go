package index

import (
	"context"
	"fmt"
	"time"

	"github.com/rzbill/spqs/internal/qerr"
	"github.com/rzbill/spqs/pkg/id"
	"github.com/rzbill/spqs/pkg/log"
)

// Options configures an Index.
type Options struct {
	// Namespace prefixes every key. Defaults to DefaultNamespace.
	Namespace string
	// Levels is the number of priority classes. Defaults to 3.
	Levels int
	// Clock supplies timestamps and scores. Defaults to time.Now.
	Clock  func() time.Time
	Logger log.Logger
}

// Index is the ordering index over a Store.
type Index struct {
	store  Store
	keys   Keys
	levels int
	now    func() time.Time
	scores *id.Ticker
	logger log.Logger
}

// New returns an Index over store. The store session is opened by Connect.
func New(store Store, opts Options) *Index {
	if opts.Levels <= 0 {
		opts.Levels = 3
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.NopLogger()
	}
	return &Index{
		store:  store,
		keys:   Keys{Namespace: opts.Namespace},
		levels: opts.Levels,
		now:    opts.Clock,
		scores: id.NewTicker(opts.Clock),
		logger: opts.Logger.WithComponent("index"),
	}
}

// Levels returns the configured number of priority classes.
func (x *Index) Levels() int { return x.levels }

// Keys returns the key builder in use.
func (x *Index) Keys() Keys { return x.keys }

func (x *Index) Connect(ctx context.Context) error { return x.store.Connect(ctx) }
func (x *Index) Ping(ctx context.Context) error    { return x.store.Ping(ctx) }
func (x *Index) Close() error                      { return x.store.Close() }

func (x *Index) checkPriority(priority int) error {
	if priority < 0 || priority >= x.levels {
		return fmt.Errorf("%w: %d not in [0,%d)", qerr.ErrInvalidPriority, priority, x.levels)
	}
	return nil
}

// Register writes the metadata record for id and adds id to its class set.
// Scores are microseconds since the epoch and strictly increase within one
// process, so registrations in the same microsecond keep insertion order.
func (x *Index) Register(ctx context.Context, msgID string, priority int, meta Metadata) error {
	if err := x.checkPriority(priority); err != nil {
		return err
	}
	meta.ID = msgID
	meta.Priority = priority
	if meta.SentAt.IsZero() {
		meta.SentAt = x.now()
	}
	b, err := encodeMetadata(meta)
	if err != nil {
		return fmt.Errorf("index: encode metadata: %w", err)
	}
	metaKey := x.keys.MetaKey(msgID)
	if err := x.store.SetValue(ctx, metaKey, b); err != nil {
		return qerr.Backend("set", metaKey, err)
	}
	classKey := x.keys.ClassKey(priority)
	if err := x.store.OrderedSetAdd(ctx, classKey, float64(x.scores.Next()), msgID); err != nil {
		return qerr.Backend("zadd", classKey, err)
	}
	x.logger.Debug("registered", log.Str("id", msgID), log.Int("priority", priority))
	return nil
}

// ClassDepth returns the number of ids in a class.
func (x *Index) ClassDepth(ctx context.Context, priority int) (int64, error) {
	if err := x.checkPriority(priority); err != nil {
		return 0, err
	}
	key := x.keys.ClassKey(priority)
	n, err := x.store.OrderedSetCardinality(ctx, key)
	if err != nil {
		return 0, qerr.Backend("zcard", key, err)
	}
	return n, nil
}

// PeekOldest returns up to n ids with the smallest scores in a class without
// removing them.
func (x *Index) PeekOldest(ctx context.Context, priority int, n int) ([]string, error) {
	if err := x.checkPriority(priority); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	key := x.keys.ClassKey(priority)
	ids, err := x.store.OrderedSetRange(ctx, key, 0, int64(n-1))
	if err != nil {
		return nil, qerr.Backend("zrange", key, err)
	}
	return ids, nil
}

// GetMetadata loads the record for id. found is false when absent.
func (x *Index) GetMetadata(ctx context.Context, msgID string) (Metadata, bool, error) {
	key := x.keys.MetaKey(msgID)
	b, found, err := x.store.GetValue(ctx, key)
	if err != nil {
		return Metadata{}, false, qerr.Backend("get", key, err)
	}
	if !found {
		return Metadata{}, false, nil
	}
	m, err := decodeMetadata(b)
	if err != nil {
		return Metadata{}, false, qerr.Backend("decode", key, err)
	}
	return m, true, nil
}

// MarkReceived records a delivery attempt. It returns the updated record, or
// found=false without writing anything when id has no record.
func (x *Index) MarkReceived(ctx context.Context, msgID string) (Metadata, bool, error) {
	m, found, err := x.GetMetadata(ctx, msgID)
	if err != nil || !found {
		return Metadata{}, false, err
	}
	now := x.now()
	m.ReceiveCount++
	m.LastReceivedAt = now
	if m.FirstReceivedAt.IsZero() {
		m.FirstReceivedAt = now
	}
	b, err := encodeMetadata(m)
	if err != nil {
		return Metadata{}, false, fmt.Errorf("index: encode metadata: %w", err)
	}
	key := x.keys.MetaKey(msgID)
	if err := x.store.SetValue(ctx, key, b); err != nil {
		return Metadata{}, false, qerr.Backend("set", key, err)
	}
	return m, true, nil
}

// Remove drops id from its class set, then deletes its metadata. A failure
// between the two steps leaves an orphan metadata record.
func (x *Index) Remove(ctx context.Context, msgID string, priority int) error {
	if err := x.checkPriority(priority); err != nil {
		return err
	}
	classKey := x.keys.ClassKey(priority)
	if err := x.store.OrderedSetRemove(ctx, classKey, msgID); err != nil {
		return qerr.Backend("zrem", classKey, err)
	}
	metaKey := x.keys.MetaKey(msgID)
	if err := x.store.DeleteValue(ctx, metaKey); err != nil {
		return qerr.Backend("del", metaKey, err)
	}
	x.logger.Debug("removed", log.Str("id", msgID), log.Int("priority", priority))
	return nil
}

// DepthSnapshot returns the depth of every configured class.
func (x *Index) DepthSnapshot(ctx context.Context) (map[int]int64, error) {
	out := make(map[int]int64, x.levels)
	for p := 0; p < x.levels; p++ {
		n, err := x.ClassDepth(ctx, p)
		if err != nil {
			return nil, err
		}
		out[p] = n
	}
	return out, nil
}

// purgeChunk bounds how many members Purge reads per range call.
const purgeChunk = 256

// Purge removes every id and its metadata from all classes. It returns the
// number of ids removed and is safe on an empty index.
func (x *Index) Purge(ctx context.Context) (int, error) {
	removed := 0
	for p := 0; p < x.levels; p++ {
		for {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			ids, err := x.PeekOldest(ctx, p, purgeChunk)
			if err != nil {
				return removed, err
			}
			if len(ids) == 0 {
				break
			}
			for _, msgID := range ids {
				if err := x.Remove(ctx, msgID, p); err != nil {
					return removed, err
				}
				removed++
			}
		}
	}
	if removed > 0 {
		x.logger.Info("purged index", log.Int("removed", removed))
	}
	return removed, nil
}
