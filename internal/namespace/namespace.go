// Package namespace persists the shape of an index namespace in the local
// store so a data directory cannot be reopened with a different number of
// priority classes.
package namespace

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pebblestore "github.com/rzbill/spqs/internal/storage/pebble"
)

// ErrLevelsMismatch is returned when a namespace was created with a
// different number of priority classes than requested.
var ErrLevelsMismatch = errors.New("namespace: priority levels mismatch")

// Meta holds namespace metadata.
type Meta struct {
	Name           string `json:"name"`
	Queue          string `json:"queue"`
	PriorityLevels int    `json:"priorityLevels"`
	CreatedAtMs    int64  `json:"createdAtMs"`
}

var (
	nsMetaPrefix = []byte("nsmeta/")
)

// nsMetaKey builds metadata key for a namespace.
func nsMetaKey(ns string) []byte {
	k := make([]byte, 0, len(nsMetaPrefix)+len(ns))
	k = append(k, nsMetaPrefix...)
	k = append(k, ns...)
	return k
}

// Ensure creates the namespace meta record if absent and returns the
// effective meta. An existing record with a different level count yields
// ErrLevelsMismatch; the queue name is informational and updated in place.
func Ensure(db *pebblestore.DB, name, queue string, levels int, now time.Time) (Meta, error) {
	key := nsMetaKey(name)
	b, err := db.Get(key)
	switch {
	case err == nil && len(b) > 0:
		var m Meta
		if jerr := json.Unmarshal(b, &m); jerr == nil {
			if m.PriorityLevels != levels {
				return m, fmt.Errorf("%w: %q has %d, configured %d", ErrLevelsMismatch, name, m.PriorityLevels, levels)
			}
			if m.Queue == queue {
				return m, nil
			}
			m.Queue = queue
			return m, put(db, key, m)
		}
		// fallthrough to rewrite if corrupted
	case err != nil && !errors.Is(err, pebblestore.ErrNotFound):
		return Meta{}, err
	}
	m := Meta{Name: name, Queue: queue, PriorityLevels: levels, CreatedAtMs: now.UnixMilli()}
	return m, put(db, key, m)
}

// Get returns the stored meta for name, or pebblestore.ErrNotFound.
func Get(db *pebblestore.DB, name string) (Meta, error) {
	b, err := db.Get(nsMetaKey(name))
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, fmt.Errorf("namespace: decode %q: %w", name, err)
	}
	return m, nil
}

func put(db *pebblestore.DB, key []byte, m Meta) error {
	bytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return db.Set(key, bytes)
}
