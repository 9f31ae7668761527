// Package runtime wires configuration, storage, the ordering index, the
// transport and the priority queue facade into one spqs process. It exposes
// Open/Connect/Close, a health check and accessors used by the servers.
//
// With both backends set to "local" everything lives in one Pebble database
// and no external service is needed.
//
// Example:
//
//	cfg := config.Default()
//	cfg.Storage.DataDir = "./data"
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//	if err := rt.Connect(ctx); err != nil {
//	    return err
//	}
//	id, err := rt.Queue().SendMessage(ctx, "hello", 0)
package runtime
