// Package grpcserver hosts the gRPC server for spqs. It serves the standard
// grpc.health.v1 service backed by the runtime health check, plus server
// reflection.
//
// Example:
//
//	s := grpcserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":9090")
package grpcserver
