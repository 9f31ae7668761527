package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfgpkg "github.com/rzbill/spqs/internal/config"
	"github.com/rzbill/spqs/internal/index"
	"github.com/rzbill/spqs/internal/index/localstore"
	"github.com/rzbill/spqs/internal/index/redisstore"
	"github.com/rzbill/spqs/internal/metrics"
	"github.com/rzbill/spqs/internal/namespace"
	"github.com/rzbill/spqs/internal/priorityqueue"
	pebblestore "github.com/rzbill/spqs/internal/storage/pebble"
	"github.com/rzbill/spqs/internal/transport"
	sqstransport "github.com/rzbill/spqs/internal/transport/sqs"
	"github.com/rzbill/spqs/internal/workqueue"
	"github.com/rzbill/spqs/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger log.Logger
	// Registry receives the queue and storage metrics. A fresh registry is
	// created when nil.
	Registry *prometheus.Registry
	// SQSAPI replaces the AWS client built from the default credential chain.
	SQSAPI sqstransport.API
	// Clock replaces time.Now in the queue and the embedded transport.
	Clock func() time.Time
}

// Runtime wires storage, the ordering index, the transport and the priority
// queue facade for one process.
type Runtime struct {
	config   cfgpkg.Config
	logger   log.Logger
	registry *prometheus.Registry

	db    *pebblestore.DB
	wq    *workqueue.WorkQueue
	queue *priorityqueue.Queue
}

// Open validates the configuration and builds every component. Nothing
// talks to Redis until Connect.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NopLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	rt := &Runtime{config: cfg, logger: logger.WithComponent("runtime"), registry: reg}

	if cfg.NeedsStorage() {
		if err := rt.openStorage(); err != nil {
			return nil, err
		}
		if _, err := namespace.Ensure(rt.db, cfg.Index.Namespace, cfg.Transport.Queue, cfg.PriorityLevels, clock()); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	store, err := rt.indexStore()
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	tr, err := rt.transport(ctx, opts.SQSAPI, clock)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	collector := metrics.NewCollector(cfg.PriorityLevels, metrics.WithClock(clock))
	if err := reg.Register(collector); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("runtime: register metrics: %w", err)
	}
	rt.queue = priorityqueue.New(priorityqueue.Config{
		PriorityLevels:      cfg.PriorityLevels,
		VisibilityTimeout:   cfg.VisibilityTimeout(),
		WaitTime:            cfg.WaitTime(),
		StarvationThreshold: cfg.StarvationPreventionThreshold,
		MaxMessages:         cfg.MaxMessages,
	}, store, tr,
		priorityqueue.WithLogger(logger),
		priorityqueue.WithCollector(collector),
		priorityqueue.WithNamespace(cfg.Index.Namespace),
		priorityqueue.WithClock(clock),
	)
	rt.logger.Info("runtime opened",
		log.Str("index", cfg.Index.Backend),
		log.Str("transport", cfg.Transport.Backend),
		log.Int("levels", cfg.PriorityLevels))
	return rt, nil
}

func (r *Runtime) openStorage() error {
	dir := r.config.Storage.DataDir
	if dir == "" {
		dir = cfgpkg.DefaultDataDir()
	}
	fsync, err := pebblestore.ParseFsyncMode(r.config.Storage.Fsync)
	if err != nil {
		return err
	}
	sm, err := metrics.NewStorageMetrics(r.registry)
	if err != nil {
		return fmt.Errorf("runtime: register storage metrics: %w", err)
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: dir,
		Fsync:   fsync,
		Metrics: sm,
		Logger:  r.logger,
	})
	if err != nil {
		return err
	}
	r.db = db
	r.logger.Info("storage opened", log.Str("dir", dir))
	return nil
}

func (r *Runtime) indexStore() (index.Store, error) {
	switch r.config.Index.Backend {
	case cfgpkg.BackendRedis:
		rc := r.config.Index.Redis
		return redisstore.New(redisstore.Options{
			Addr:        rc.Addr,
			Username:    rc.Username,
			Password:    rc.Password,
			DB:          rc.DB,
			DialTimeout: time.Duration(rc.DialTimeoutMs) * time.Millisecond,
		}), nil
	case cfgpkg.BackendLocal:
		return localstore.New(r.db), nil
	}
	return nil, fmt.Errorf("runtime: unknown index backend %q", r.config.Index.Backend)
}

func (r *Runtime) transport(ctx context.Context, api sqstransport.API, clock func() time.Time) (transport.Transport, error) {
	tc := r.config.Transport
	switch tc.Backend {
	case cfgpkg.BackendSQS:
		sc := sqstransport.Config{
			QueueURL:  tc.SQS.QueueURL,
			QueueName: tc.Queue,
			Region:    tc.SQS.Region,
			Endpoint:  tc.SQS.Endpoint,
		}
		if api != nil {
			return sqstransport.NewWithAPI(ctx, api, sc, r.logger)
		}
		return sqstransport.New(ctx, sc, r.logger)
	case cfgpkg.BackendLocal:
		wq, err := workqueue.OpenQueue(r.db, r.config.Index.Namespace, tc.Queue, workqueue.Options{
			MaxAvailable: tc.Local.MaxAvailable,
			Clock:        clock,
			Logger:       r.logger,
		})
		if err != nil {
			return nil, err
		}
		wq.ConfigureSweeper(time.Duration(tc.Local.SweepIntervalMs)*time.Millisecond, tc.Local.SweepMaxPerTick)
		r.wq = wq
		return wq, nil
	}
	return nil, fmt.Errorf("runtime: unknown transport backend %q", tc.Backend)
}

// Connect opens the index session and starts the embedded transport's
// sweeper.
func (r *Runtime) Connect(ctx context.Context) error {
	if err := r.queue.Connect(ctx); err != nil {
		return err
	}
	if r.wq != nil {
		r.wq.StartSweeper()
	}
	return nil
}

// Close stops background work and releases every resource.
func (r *Runtime) Close() error {
	var errs []error
	if r.wq != nil {
		r.wq.StopSweeper()
	}
	if r.queue != nil {
		errs = append(errs, r.queue.Disconnect())
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
		r.db = nil
	}
	return errors.Join(errs...)
}

// CheckHealth pings the index store and, when open, the local database.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.queue == nil {
		return errors.New("runtime not open")
	}
	if err := r.queue.Ping(ctx); err != nil {
		return err
	}
	if r.db != nil {
		it, err := r.db.NewIter(nil)
		if err != nil {
			return err
		}
		return it.Close()
	}
	return nil
}

// Queue returns the priority queue facade.
func (r *Runtime) Queue() *priorityqueue.Queue { return r.queue }

// Registry returns the metrics registry.
func (r *Runtime) Registry() *prometheus.Registry { return r.registry }

// DB exposes the local database, nil when no local backend is configured.
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
