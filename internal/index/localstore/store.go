// Package localstore implements the ordering index store on the embedded
// Pebble database, emulating Redis sorted sets with ordered keys.
//
// Layout (all under "ix/"):
//
//	ix/kv/{key}                         value
//	ix/z/{set}\x00{score:8}{member}     empty, ordered by score then member
//	ix/zm/{set}\x00{member}             score:8
//	ix/zc/{set}                         cardinality:8
//
// Scores are encoded so that byte order equals float order. Ties order by
// member bytes, matching Redis.
package localstore

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/spqs/internal/qerr"
	pebblestore "github.com/rzbill/spqs/internal/storage/pebble"
)

const (
	prefixKV     = "ix/kv/"
	prefixSet    = "ix/z/"
	prefixMember = "ix/zm/"
	prefixCard   = "ix/zc/"
)

// Store is a Pebble-backed index store. It does not own the database; the
// caller closes it after Close.
type Store struct {
	db *pebblestore.DB

	mu        sync.Mutex
	connected bool
}

// New returns a Store over db.
func New(db *pebblestore.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Connect(ctx context.Context) error {
	if s.db == nil {
		return qerr.Backend("connect", "", errors.New("localstore: nil database"))
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return qerr.ErrNotConnected
	}
	_, err := s.db.Get([]byte(prefixCard))
	if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return qerr.Backend("ping", "", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

// lock takes the store mutex and reports ErrNotConnected when closed.
func (s *Store) lock() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return qerr.ErrNotConnected
	}
	return nil
}

func (s *Store) SetValue(ctx context.Context, key string, value []byte) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(kvKey(key), value, nil); err != nil {
		return qerr.Backend("set", key, err)
	}
	return qerr.Backend("set", key, s.db.CommitBatch(ctx, b))
}

func (s *Store) GetValue(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.lock(); err != nil {
		return nil, false, err
	}
	defer s.mu.Unlock()
	v, err := s.db.Get(kvKey(key))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, qerr.Backend("get", key, err)
	}
	return v, true, nil
}

func (s *Store) DeleteValue(ctx context.Context, key string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(kvKey(key), nil); err != nil {
		return qerr.Backend("del", key, err)
	}
	return qerr.Backend("del", key, s.db.CommitBatch(ctx, b))
}

func (s *Store) OrderedSetAdd(ctx context.Context, key string, score float64, member string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	old, found, err := s.memberScore(key, member)
	if err != nil {
		return qerr.Backend("zadd", key, err)
	}
	card, err := s.card(key)
	if err != nil {
		return qerr.Backend("zadd", key, err)
	}
	enc := encodeScore(score)

	b := s.db.NewBatch()
	defer b.Close()
	if found {
		if err := b.Delete(setKey(key, old, member), nil); err != nil {
			return qerr.Backend("zadd", key, err)
		}
	} else {
		card++
	}
	if err := b.Set(setKey(key, enc, member), nil, nil); err != nil {
		return qerr.Backend("zadd", key, err)
	}
	if err := b.Set(memberKey(key, member), enc[:], nil); err != nil {
		return qerr.Backend("zadd", key, err)
	}
	if err := b.Set(cardKey(key), u64(uint64(card)), nil); err != nil {
		return qerr.Backend("zadd", key, err)
	}
	return qerr.Backend("zadd", key, s.db.CommitBatch(ctx, b))
}

func (s *Store) OrderedSetRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	n, err := s.card(key)
	if err != nil {
		return nil, qerr.Backend("zrange", key, err)
	}
	start, stop, ok := normalizeRange(start, stop, n)
	if !ok {
		return []string{}, nil
	}

	prefix := setPrefix(key)
	it, err := s.db.NewPrefixIter(prefix)
	if err != nil {
		return nil, qerr.Backend("zrange", key, err)
	}
	defer it.Close()

	out := make([]string, 0, stop-start+1)
	var rank int64
	for ok := it.First(); ok && rank <= stop; ok = it.Next() {
		if rank >= start {
			out = append(out, string(it.Key()[len(prefix)+8:]))
		}
		rank++
	}
	if err := it.Error(); err != nil {
		return nil, qerr.Backend("zrange", key, err)
	}
	return out, nil
}

func (s *Store) OrderedSetRemove(ctx context.Context, key string, member string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	score, found, err := s.memberScore(key, member)
	if err != nil {
		return qerr.Backend("zrem", key, err)
	}
	if !found {
		return nil
	}
	card, err := s.card(key)
	if err != nil {
		return qerr.Backend("zrem", key, err)
	}
	b := s.db.NewBatch()
	defer b.Close()
	_ = b.Delete(setKey(key, score, member), nil)
	_ = b.Delete(memberKey(key, member), nil)
	if card <= 1 {
		_ = b.Delete(cardKey(key), nil)
	} else {
		_ = b.Set(cardKey(key), u64(uint64(card-1)), nil)
	}
	return qerr.Backend("zrem", key, s.db.CommitBatch(ctx, b))
}

func (s *Store) OrderedSetCardinality(ctx context.Context, key string) (int64, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	n, err := s.card(key)
	if err != nil {
		return 0, qerr.Backend("zcard", key, err)
	}
	return n, nil
}

// card reads the cardinality counter. Callers hold mu.
func (s *Store) card(key string) (int64, error) {
	v, err := s.db.Get(cardKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, errors.New("localstore: corrupt cardinality")
	}
	return int64(binary.BigEndian.Uint64(v)), nil
}

// memberScore reads the encoded score of member. Callers hold mu.
func (s *Store) memberScore(key, member string) ([8]byte, bool, error) {
	var enc [8]byte
	v, err := s.db.Get(memberKey(key, member))
	if errors.Is(err, pebble.ErrNotFound) {
		return enc, false, nil
	}
	if err != nil {
		return enc, false, err
	}
	if len(v) != 8 {
		return enc, false, errors.New("localstore: corrupt member score")
	}
	copy(enc[:], v)
	return enc, true, nil
}

// normalizeRange applies Redis ZRANGE rank rules to a set of n members.
func normalizeRange(start, stop, n int64) (int64, int64, bool) {
	if n == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}

// encodeScore maps a float64 to 8 bytes whose byte order matches numeric order.
func encodeScore(f float64) [8]byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) == 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], bits)
	return out
}

func decodeScore(b [8]byte) float64 {
	bits := binary.BigEndian.Uint64(b[:])
	if bits&(1<<63) != 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

func kvKey(key string) []byte { return []byte(prefixKV + key) }

func setPrefix(key string) []byte { return []byte(prefixSet + key + "\x00") }

func setKey(key string, score [8]byte, member string) []byte {
	p := setPrefix(key)
	out := make([]byte, 0, len(p)+8+len(member))
	out = append(out, p...)
	out = append(out, score[:]...)
	return append(out, member...)
}

func memberKey(key, member string) []byte {
	return []byte(prefixMember + key + "\x00" + member)
}

func cardKey(key string) []byte { return []byte(prefixCard + key) }

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}
