// Package httpserver provides the REST gateway for spqs: JSON endpoints for
// send, receive, delete and visibility changes, queue depth and latency
// reads, purge, an SSE receive stream, health and Prometheus metrics.
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: config.Default()})
//	_ = rt.Connect(ctx)
//	s := httpserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
