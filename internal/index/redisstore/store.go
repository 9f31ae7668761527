// Package redisstore implements the ordering index store on Redis sorted
// sets and string keys via go-redis.
package redisstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rzbill/spqs/internal/qerr"
)

// Options configures the Redis connection.
type Options struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store is a Redis-backed index store.
type Store struct {
	opts Options

	mu     sync.RWMutex
	client *redis.Client
}

// New returns a Store. No connection is made until Connect.
func New(opts Options) *Store {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	return &Store{opts: opts}
}

// Connect opens the client and verifies it with PING.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}
	c := redis.NewClient(&redis.Options{
		Addr:         s.opts.Addr,
		Username:     s.opts.Username,
		Password:     s.opts.Password,
		DB:           s.opts.DB,
		DialTimeout:  s.opts.DialTimeout,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return qerr.Backend("connect", s.opts.Addr, err)
	}
	s.client = c
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	c, err := s.conn()
	if err != nil {
		return err
	}
	return qerr.Backend("ping", "", c.Ping(ctx).Err())
}

// Close releases the client. The store can be connected again afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *Store) conn() (*redis.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, qerr.ErrNotConnected
	}
	return s.client, nil
}

func (s *Store) SetValue(ctx context.Context, key string, value []byte) error {
	c, err := s.conn()
	if err != nil {
		return err
	}
	return qerr.Backend("set", key, c.Set(ctx, key, value, 0).Err())
}

func (s *Store) GetValue(ctx context.Context, key string) ([]byte, bool, error) {
	c, err := s.conn()
	if err != nil {
		return nil, false, err
	}
	v, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, qerr.Backend("get", key, err)
	}
	return v, true, nil
}

func (s *Store) DeleteValue(ctx context.Context, key string) error {
	c, err := s.conn()
	if err != nil {
		return err
	}
	return qerr.Backend("del", key, c.Del(ctx, key).Err())
}

func (s *Store) OrderedSetAdd(ctx context.Context, key string, score float64, member string) error {
	c, err := s.conn()
	if err != nil {
		return err
	}
	return qerr.Backend("zadd", key, c.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

func (s *Store) OrderedSetRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	c, err := s.conn()
	if err != nil {
		return nil, err
	}
	members, err := c.ZRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, qerr.Backend("zrange", key, err)
	}
	return members, nil
}

func (s *Store) OrderedSetRemove(ctx context.Context, key string, member string) error {
	c, err := s.conn()
	if err != nil {
		return err
	}
	return qerr.Backend("zrem", key, c.ZRem(ctx, key, member).Err())
}

func (s *Store) OrderedSetCardinality(ctx context.Context, key string) (int64, error) {
	c, err := s.conn()
	if err != nil {
		return 0, err
	}
	n, err := c.ZCard(ctx, key).Result()
	if err != nil {
		return 0, qerr.Backend("zcard", key, err)
	}
	return n, nil
}
