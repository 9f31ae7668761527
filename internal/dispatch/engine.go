// Package dispatch decides which message ids to offer a consumer next.
//
// Below the starvation threshold selection is strict priority: the oldest
// ids of class 0, then class 1, and so on until the batch is full. Once any
// class other than 0 grows past the threshold, the batch is split across all
// non-empty classes by Allocate so that no class waits indefinitely.
//
// Selections are hints. Depth checks and peeks are separate index calls, so
// a batch may be short or overlap with a concurrent consumer's batch.
package dispatch

import (
	"context"

	"github.com/rzbill/spqs/pkg/log"
)

// Index is the part of the ordering index the engine reads.
type Index interface {
	Levels() int
	ClassDepth(ctx context.Context, priority int) (int64, error)
	PeekOldest(ctx context.Context, priority int, n int) ([]string, error)
}

// Mode names the selection policy applied to a batch.
type Mode string

const (
	ModeNormal     Mode = "normal"
	ModeStarvation Mode = "starvation"
)

// Engine selects dispatch candidates from an Index.
type Engine struct {
	idx       Index
	threshold int64
	logger    log.Logger
}

// NewEngine returns an Engine that enters starvation mode when a class other
// than 0 holds more than threshold ids.
func NewEngine(idx Index, threshold int64, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NopLogger()
	}
	return &Engine{idx: idx, threshold: threshold, logger: logger.WithComponent("dispatch")}
}

// Threshold returns the starvation threshold.
func (e *Engine) Threshold() int64 { return e.threshold }

// Select returns up to maxMessages candidate ids in ascending class order.
func (e *Engine) Select(ctx context.Context, maxMessages int) ([]string, error) {
	ids, _, err := e.SelectWithMode(ctx, maxMessages)
	return ids, err
}

// SelectWithMode is Select that also reports the policy used.
func (e *Engine) SelectWithMode(ctx context.Context, maxMessages int) ([]string, Mode, error) {
	if maxMessages <= 0 {
		return nil, ModeNormal, nil
	}
	levels := e.idx.Levels()
	depths := make([]int64, levels)
	for c := 0; c < levels; c++ {
		d, err := e.idx.ClassDepth(ctx, c)
		if err != nil {
			return nil, ModeNormal, err
		}
		depths[c] = d
	}

	if !Starving(depths, e.threshold) {
		ids, err := e.greedy(ctx, depths, maxMessages)
		return ids, ModeNormal, err
	}

	alloc := Allocate(depths, maxMessages)
	e.logger.Debug("starvation prevention active", log.Any("depths", depths), log.Any("allocation", alloc))
	out := make([]string, 0, maxMessages)
	for c, n := range alloc {
		if n == 0 {
			continue
		}
		ids, err := e.idx.PeekOldest(ctx, c, n)
		if err != nil {
			return nil, ModeStarvation, err
		}
		out = append(out, ids...)
	}
	return out, ModeStarvation, nil
}

func (e *Engine) greedy(ctx context.Context, depths []int64, maxMessages int) ([]string, error) {
	out := make([]string, 0, maxMessages)
	for c, d := range depths {
		if d == 0 {
			continue
		}
		ids, err := e.idx.PeekOldest(ctx, c, maxMessages-len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, ids...)
		if len(out) >= maxMessages {
			break
		}
	}
	return out, nil
}
