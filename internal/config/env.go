package config

import (
	"os"
	"strconv"
)

// FromEnv overlays SPQS_* environment variables onto cfg. Unparseable
// numbers are ignored.
func FromEnv(cfg *Config) {
	envInt("SPQS_PRIORITY_LEVELS", &cfg.PriorityLevels)
	envInt("SPQS_VISIBILITY_TIMEOUT_SECONDS", &cfg.VisibilityTimeoutSeconds)
	envInt("SPQS_WAIT_TIME_SECONDS", &cfg.WaitTimeSeconds)
	if v := os.Getenv("SPQS_STARVATION_PREVENTION_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.StarvationPreventionThreshold = n
		}
	}
	envInt("SPQS_MAX_MESSAGES", &cfg.MaxMessages)

	envString("SPQS_INDEX_BACKEND", &cfg.Index.Backend)
	envString("SPQS_INDEX_NAMESPACE", &cfg.Index.Namespace)
	envString("SPQS_REDIS_ADDR", &cfg.Index.Redis.Addr)
	envString("SPQS_REDIS_USERNAME", &cfg.Index.Redis.Username)
	envString("SPQS_REDIS_PASSWORD", &cfg.Index.Redis.Password)
	envInt("SPQS_REDIS_DB", &cfg.Index.Redis.DB)

	envString("SPQS_TRANSPORT_BACKEND", &cfg.Transport.Backend)
	envString("SPQS_QUEUE", &cfg.Transport.Queue)
	envString("SPQS_SQS_QUEUE_URL", &cfg.Transport.SQS.QueueURL)
	envString("SPQS_SQS_REGION", &cfg.Transport.SQS.Region)
	envString("SPQS_SQS_ENDPOINT", &cfg.Transport.SQS.Endpoint)

	envString("SPQS_DATA_DIR", &cfg.Storage.DataDir)
	envString("SPQS_FSYNC", &cfg.Storage.Fsync)
	envString("SPQS_HTTP_ADDR", &cfg.Server.HTTPAddr)
	envString("SPQS_GRPC_ADDR", &cfg.Server.GRPCAddr)
	envString("SPQS_LOG_LEVEL", &cfg.Log.Level)
	envString("SPQS_LOG_FORMAT", &cfg.Log.Format)
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
