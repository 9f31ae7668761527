package workqueue

import (
	"context"
	"math/rand"
	"time"

	"github.com/rzbill/spqs/pkg/log"
)

// ConfigureSweeper sets background sweeper options.
func (q *WorkQueue) ConfigureSweeper(interval time.Duration, maxPerTick int) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if maxPerTick <= 0 {
		maxPerTick = 1024
	}
	q.sweepMu.Lock()
	q.sweepIntv = interval
	q.sweepMax = maxPerTick
	q.sweepMu.Unlock()
}

// StartSweeper runs a background loop that returns expired leases and due
// delayed messages to availability. Calling it twice is a no-op.
func (q *WorkQueue) StartSweeper() {
	q.sweepMu.Lock()
	defer q.sweepMu.Unlock()
	if q.sweepStop != nil {
		return
	}
	if q.sweepIntv <= 0 {
		q.sweepIntv = 500 * time.Millisecond
	}
	if q.sweepMax <= 0 {
		q.sweepMax = 1024
	}
	interval, maxPerTick := q.sweepIntv, q.sweepMax
	stop := make(chan struct{})
	done := make(chan struct{})
	q.sweepStop, q.sweepDone = stop, done
	go func() {
		defer close(done)
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		for {
			select {
			case <-stop:
				return
			case <-time.After(interval + time.Duration(rng.Int63n(int64(interval/10+1)))):
				q.sweepOnce(maxPerTick)
			}
		}
	}()
}

func (q *WorkQueue) sweepOnce(maxPerTick int) {
	ctx := context.Background()
	q.mu.Lock()
	defer q.mu.Unlock()
	nowMs := q.now().UnixMilli()
	if _, err := q.promoteDueLocked(ctx, nowMs, maxPerTick); err != nil {
		q.logger.Warn("promote delayed failed", log.Err(err))
	}
	if _, err := q.reclaimLocked(ctx, nowMs, maxPerTick); err != nil {
		q.logger.Warn("reclaim expired failed", log.Err(err))
	}
}

// StopSweeper stops the background sweeper and waits for it to exit.
func (q *WorkQueue) StopSweeper() {
	q.sweepMu.Lock()
	stop, done := q.sweepStop, q.sweepDone
	q.sweepStop, q.sweepDone = nil, nil
	q.sweepMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}
