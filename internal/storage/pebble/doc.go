// Package pebblestore wraps the embedded Pebble database shared by the local
// ordering index and the embedded transport.
//
// It applies one fsync policy to every write, reports latencies to an
// optional MetricsHook and routes Pebble's own log lines into spqs logging.
// Prefix helpers cover the scan and range-delete patterns both consumers use.
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(ctx, b)
//	b.Close()
package pebblestore
