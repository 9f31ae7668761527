package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/spqs/internal/cmd/client"
	serverrun "github.com/rzbill/spqs/internal/cmd/server"
	logpkg "github.com/rzbill/spqs/pkg/log"
)

func main() {
	// initialize logger for CLI
	// Respect SPQS_LOG_LEVEL for both CLI and server start output
	level := os.Getenv("SPQS_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger
	logpkg.RedirectStdLog(logger)

	rootCmd := clientcmd.NewRoot(clientcmd.DefaultBaseURL)
	rootCmd.Short = "Priority queue over SQS and Redis"
	rootCmd.Long = "spqs layers strict priority ordering with starvation prevention over a FIFO message queue. This CLI runs the server and talks to it over HTTP."

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start spqs server (gRPC and HTTP)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			flag := func(name string) string {
				v, _ := cmd.Flags().GetString(name)
				return v
			}
			opts := serverrun.Options{
				ConfigPath: flag("config"),
				Overrides: serverrun.Overrides{
					DataDir:          flag("data-dir"),
					HTTPAddr:         flag("http"),
					GRPCAddr:         flag("grpc"),
					LogLevel:         flag("log-level"),
					LogFormat:        flag("log-format"),
					IndexBackend:     flag("index"),
					TransportBackend: flag("transport"),
					RedisAddr:        flag("redis-addr"),
					SQSQueueURL:      flag("sqs-queue-url"),
					Queue:            flag("queue"),
				},
			}
			if err := serverrun.Run(context.Background(), opts); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	f := serverStartCmd.Flags()
	f.String("config", os.Getenv("SPQS_CONFIG"), "Config file (.json, .yaml or .yml)")
	f.String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	f.String("http", "", "HTTP listen address (default :8080)")
	f.String("grpc", "", "gRPC listen address (default :9090)")
	f.String("log-level", "", "Log level: debug|info|warn|error")
	f.String("log-format", "", "Log format: text|json (default text)")
	f.String("index", "", "Priority index backend: local|redis")
	f.String("transport", "", "Message transport: local|sqs")
	f.String("redis-addr", "", "Redis address when --index=redis")
	f.String("sqs-queue-url", "", "SQS queue URL when --transport=sqs")
	f.String("queue", "", "Queue name")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
