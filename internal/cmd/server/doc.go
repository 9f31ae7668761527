// Package serverrun exposes a shared Run entrypoint used by the CLI to start
// the spqs runtime with gRPC and HTTP servers, handling configuration,
// logging, lifecycle and shutdown.
//
// Example:
//
//	opts := serverrun.Options{ConfigPath: "/etc/spqs.yaml", Overrides: serverrun.Overrides{HTTPAddr: ":8080"}}
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, opts)
package serverrun
