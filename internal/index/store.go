package index

import "context"

// Store is the storage contract behind the ordering index.
//
// Every method returns qerr.ErrNotConnected before Connect succeeds and a
// *qerr.BackendError for any I/O failure.
type Store interface {
	Connect(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	SetValue(ctx context.Context, key string, value []byte) error
	// GetValue reports found=false for a missing key.
	GetValue(ctx context.Context, key string) (value []byte, found bool, err error)
	DeleteValue(ctx context.Context, key string) error

	// OrderedSetAdd inserts member or updates its score.
	OrderedSetAdd(ctx context.Context, key string, score float64, member string) error
	// OrderedSetRange returns members ascending by score between the
	// inclusive ranks start and stop. Negative ranks count from the end.
	OrderedSetRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	OrderedSetRemove(ctx context.Context, key string, member string) error
	OrderedSetCardinality(ctx context.Context, key string) (int64, error)
}
