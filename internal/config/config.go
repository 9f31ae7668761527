package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by IndexConfig.Backend and TransportConfig.Backend.
const (
	BackendLocal = "local"
	BackendRedis = "redis"
	BackendSQS   = "sqs"
)

// SQSMaxMessages is the SQS limit on messages per receive call.
const SQSMaxMessages = 10

// Config is the top-level configuration loaded from file/env.
type Config struct {
	PriorityLevels                int   `json:"priorityLevels" yaml:"priorityLevels"`
	VisibilityTimeoutSeconds      int   `json:"visibilityTimeoutSeconds" yaml:"visibilityTimeoutSeconds"`
	WaitTimeSeconds               int   `json:"waitTimeSeconds" yaml:"waitTimeSeconds"`
	StarvationPreventionThreshold int64 `json:"starvationPreventionThreshold" yaml:"starvationPreventionThreshold"`
	// MaxMessages bounds one receive batch; at most SQSMaxMessages with sqs.
	MaxMessages int `json:"maxMessages" yaml:"maxMessages"`

	Index     IndexConfig     `json:"index" yaml:"index"`
	Transport TransportConfig `json:"transport" yaml:"transport"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// IndexConfig selects and configures the ordering index store.
type IndexConfig struct {
	// Backend is "redis" or "local" (Pebble, single node).
	Backend   string      `json:"backend" yaml:"backend"`
	Namespace string      `json:"namespace" yaml:"namespace"`
	Redis     RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr          string `json:"addr" yaml:"addr"`
	Username      string `json:"username" yaml:"username"`
	Password      string `json:"password" yaml:"password"`
	DB            int    `json:"db" yaml:"db"`
	DialTimeoutMs int    `json:"dialTimeoutMs" yaml:"dialTimeoutMs"`
}

// TransportConfig selects and configures the durable transport.
type TransportConfig struct {
	// Backend is "sqs" or "local" (embedded Pebble work queue).
	Backend string     `json:"backend" yaml:"backend"`
	Queue   string     `json:"queue" yaml:"queue"`
	SQS     SQSConfig  `json:"sqs" yaml:"sqs"`
	Local   LocalQueue `json:"local" yaml:"local"`
}

// SQSConfig locates the SQS queue.
type SQSConfig struct {
	QueueURL string `json:"queueUrl" yaml:"queueUrl"`
	Region   string `json:"region" yaml:"region"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// LocalQueue tunes the embedded work queue.
type LocalQueue struct {
	SweepIntervalMs int `json:"sweepIntervalMs" yaml:"sweepIntervalMs"`
	SweepMaxPerTick int `json:"sweepMaxPerTick" yaml:"sweepMaxPerTick"`
	MaxAvailable    int `json:"maxAvailable" yaml:"maxAvailable"`
}

// StorageConfig configures the Pebble database shared by the local backends.
type StorageConfig struct {
	DataDir string `json:"dataDir" yaml:"dataDir"`
	// Fsync is always, interval or never.
	Fsync string `json:"fsync" yaml:"fsync"`
}

// ServerConfig holds listen addresses.
type ServerConfig struct {
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`
	GRPCAddr string `json:"grpcAddr" yaml:"grpcAddr"`
}

// LogConfig selects level and format of the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		PriorityLevels:                3,
		VisibilityTimeoutSeconds:      30,
		WaitTimeSeconds:               20,
		StarvationPreventionThreshold: 100,
		MaxMessages:                   10,
		Index: IndexConfig{
			Backend:   BackendLocal,
			Namespace: "spqs",
			Redis:     RedisConfig{Addr: "localhost:6379", DialTimeoutMs: 5000},
		},
		Transport: TransportConfig{
			Backend: BackendLocal,
			Queue:   "default",
			Local:   LocalQueue{SweepIntervalMs: 1000, SweepMaxPerTick: 1000},
		},
		Storage: StorageConfig{Fsync: "interval"},
		Server:  ServerConfig{HTTPAddr: ":8080", GRPCAddr: ":9090"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// VisibilityTimeout returns VisibilityTimeoutSeconds as a duration.
func (c Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutSeconds) * time.Second
}

// WaitTime returns WaitTimeSeconds as a duration.
func (c Config) WaitTime() time.Duration {
	return time.Duration(c.WaitTimeSeconds) * time.Second
}

// Load reads configuration from a JSON or YAML file (by extension) over
// Default(). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	if c.PriorityLevels < 1 {
		bad("priorityLevels must be at least 1, got %d", c.PriorityLevels)
	}
	if c.VisibilityTimeoutSeconds < 0 || c.VisibilityTimeoutSeconds > 43200 {
		bad("visibilityTimeoutSeconds must be in [0,43200], got %d", c.VisibilityTimeoutSeconds)
	}
	if c.WaitTimeSeconds < 0 || c.WaitTimeSeconds > 20 {
		bad("waitTimeSeconds must be in [0,20], got %d", c.WaitTimeSeconds)
	}
	if c.StarvationPreventionThreshold < 0 {
		bad("starvationPreventionThreshold must not be negative, got %d", c.StarvationPreventionThreshold)
	}
	if c.MaxMessages < 1 {
		bad("maxMessages must be at least 1, got %d", c.MaxMessages)
	}
	switch c.Index.Backend {
	case BackendLocal:
	case BackendRedis:
		if c.Index.Redis.Addr == "" {
			bad("index.redis.addr is required for the redis backend")
		}
	default:
		bad("index.backend must be %q or %q, got %q", BackendRedis, BackendLocal, c.Index.Backend)
	}
	if c.Index.Namespace == "" {
		bad("index.namespace is required")
	}
	switch c.Transport.Backend {
	case BackendLocal:
		if c.Transport.Queue == "" {
			bad("transport.queue is required for the local backend")
		}
	case BackendSQS:
		if c.Transport.SQS.QueueURL == "" && c.Transport.Queue == "" {
			bad("transport.sqs.queueUrl or transport.queue is required for the sqs backend")
		}
	default:
		bad("transport.backend must be %q or %q, got %q", BackendSQS, BackendLocal, c.Transport.Backend)
	}
	if c.Transport.Backend == BackendSQS && c.MaxMessages > SQSMaxMessages {
		bad("maxMessages must be at most %d for the sqs backend, got %d", SQSMaxMessages, c.MaxMessages)
	}
	switch c.Storage.Fsync {
	case "", "always", "interval", "never":
	default:
		bad("storage.fsync must be always, interval or never, got %q", c.Storage.Fsync)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}

// NeedsStorage reports whether any backend keeps data in the local Pebble
// database.
func (c Config) NeedsStorage() bool {
	return c.Index.Backend == BackendLocal || c.Transport.Backend == BackendLocal
}
