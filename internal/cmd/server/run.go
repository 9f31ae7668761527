package serverrun

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	cfgpkg "github.com/rzbill/spqs/internal/config"
	"github.com/rzbill/spqs/internal/runtime"
	grpcserver "github.com/rzbill/spqs/internal/server/grpc"
	httpserver "github.com/rzbill/spqs/internal/server/http"
	logpkg "github.com/rzbill/spqs/pkg/log"
)

// Overrides are command-line values applied over file and environment
// configuration. Empty fields leave the configuration unchanged.
type Overrides struct {
	DataDir          string
	HTTPAddr         string
	GRPCAddr         string
	LogLevel         string
	LogFormat        string
	IndexBackend     string
	TransportBackend string
	RedisAddr        string
	SQSQueueURL      string
	Queue            string
}

type Options struct {
	// ConfigPath is a JSON or YAML file. Ignored when Config is set.
	ConfigPath string
	Config     *cfgpkg.Config
	Overrides  Overrides
	// Ready, if set, is called with the bound addresses once both servers
	// are listening.
	Ready func(httpAddr, grpcAddr net.Addr)
}

// LoadConfig resolves the effective configuration: file (or opts.Config),
// then SPQS_* environment, then overrides, then validation.
func LoadConfig(opts Options) (cfgpkg.Config, error) {
	var cfg cfgpkg.Config
	if opts.Config != nil {
		cfg = *opts.Config
	} else {
		loaded, err := cfgpkg.Load(opts.ConfigPath)
		if err != nil {
			return cfgpkg.Config{}, err
		}
		cfg = loaded
		cfgpkg.FromEnv(&cfg)
	}
	o := opts.Overrides
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Storage.DataDir, o.DataDir)
	set(&cfg.Server.HTTPAddr, o.HTTPAddr)
	set(&cfg.Server.GRPCAddr, o.GRPCAddr)
	set(&cfg.Log.Level, o.LogLevel)
	set(&cfg.Log.Format, o.LogFormat)
	set(&cfg.Index.Backend, o.IndexBackend)
	set(&cfg.Transport.Backend, o.TransportBackend)
	set(&cfg.Index.Redis.Addr, o.RedisAddr)
	set(&cfg.Transport.SQS.QueueURL, o.SQSQueueURL)
	set(&cfg.Transport.Queue, o.Queue)
	if cfg.NeedsStorage() && cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = filepath.Join(cfgpkg.DefaultDataDir(), "store")
	}
	if err := cfg.Validate(); err != nil {
		return cfgpkg.Config{}, err
	}
	return cfg, nil
}

// NewLogger builds the process logger; defaults: level=info, format=text.
func NewLogger(lc cfgpkg.LogConfig) logpkg.Logger {
	lcfg := &logpkg.Config{Level: lc.Level, Format: lc.Format}
	if lcfg.Level == "" {
		lcfg.Level = "info"
	}
	if lcfg.Format == "" {
		lcfg.Format = "text"
	}
	logger, err := logpkg.ApplyConfig(lcfg)
	if err != nil {
		// Fallback to a sane default
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(lcfg.Level); e == nil {
			lvl = l
		}
		logger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	return logger
}

// Run starts the gRPC and HTTP servers and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}
	procLogger := NewLogger(cfg.Log)
	// Redirect stdlib logs to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(sctx, runtime.Options{Config: cfg, Logger: procLogger})
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.Connect(sctx); err != nil {
		return err
	}

	procLogger.Info("Starting spqs server",
		logpkg.Str("grpc", cfg.Server.GRPCAddr),
		logpkg.Str("http", cfg.Server.HTTPAddr),
		logpkg.Str("index", cfg.Index.Backend),
		logpkg.Str("transport", cfg.Transport.Backend),
		logpkg.Int("levels", cfg.PriorityLevels),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Str("format", cfg.Log.Format),
	)

	// Bind both listeners first so a bad address fails Run instead of a
	// background goroutine.
	hl, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		return err
	}
	gl, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		_ = hl.Close()
		return err
	}
	gsrv := grpcserver.New(rt, procLogger)
	hsrv := httpserver.New(rt, procLogger)
	if opts.Ready != nil {
		opts.Ready(hl.Addr(), gl.Addr())
	}

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := gsrv.Serve(sctx, gl); err != nil && sctx.Err() == nil {
			procLogger.Error("grpc server stopped", logpkg.Err(err))
			errCh <- err
		}
	}()
	go func() {
		defer wg.Done()
		if err := hsrv.Serve(sctx, hl); err != nil && sctx.Err() == nil {
			procLogger.Error("http server stopped", logpkg.Err(err))
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-sctx.Done():
	case runErr = <-errCh:
		stop()
	}
	// Shut down servers before closing the runtime to avoid races.
	gsrv.Close()
	hsrv.Close()
	wg.Wait()
	if errors.Is(runErr, net.ErrClosed) {
		runErr = nil
	}
	procLogger.Info("spqs server stopped")
	return runErr
}
