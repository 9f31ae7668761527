// Package metrics keeps per-class queue depth and smoothed processing
// latency for one priority queue, and exports them to Prometheus.
//
// A Collector is an explicit instance owned by its queue. Nothing here is
// package-global, so several queues in one process never share counters.
package metrics

import (
	"sync"
	"time"
)

// Alpha is the smoothing factor of the latency moving average.
const Alpha = 0.1

// Collector tracks depth and latency per priority class.
//
// Latency is the time from StartProcessing to EndProcessing, folded into an
// exponential moving average: new = (1-Alpha)*old + Alpha*sample, or sample
// while old is zero. Starts that never see an end stay until Reset.
type Collector struct {
	mu      sync.Mutex
	levels  int
	depth   []int64
	latency []float64
	starts  map[string]time.Time
	now     func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// NewCollector returns a Collector for levels priority classes.
func NewCollector(levels int, opts ...Option) *Collector {
	if levels < 0 {
		levels = 0
	}
	c := &Collector{
		levels:  levels,
		depth:   make([]int64, levels),
		latency: make([]float64, levels),
		starts:  make(map[string]time.Time),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Collector) valid(priority int) bool { return priority >= 0 && priority < c.levels }

// UpdateDepth records the latest depth of one class.
func (c *Collector) UpdateDepth(priority int, depth int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid(priority) {
		c.depth[priority] = depth
	}
}

// UpdateDepths records several classes at once.
func (c *Collector) UpdateDepths(depths map[int]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for p, d := range depths {
		if c.valid(p) {
			c.depth[p] = d
		}
	}
}

// StartProcessing marks the start of processing for id. A repeated start
// restarts the measurement.
func (c *Collector) StartProcessing(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts[id] = c.now()
}

// EndProcessing closes the measurement for id and folds it into the class
// average. Unknown ids and out-of-range classes are ignored.
func (c *Collector) EndProcessing(id string, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start, ok := c.starts[id]
	if !ok {
		return
	}
	delete(c.starts, id)
	if !c.valid(priority) {
		return
	}
	sample := float64(c.now().Sub(start)) / float64(time.Millisecond)
	if sample < 0 {
		sample = 0
	}
	old := c.latency[priority]
	if old == 0 {
		c.latency[priority] = sample
		return
	}
	c.latency[priority] = (1-Alpha)*old + Alpha*sample
}

// Depths returns the last recorded depth of every class.
func (c *Collector) Depths() map[int]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]int64, c.levels)
	for p, d := range c.depth {
		out[p] = d
	}
	return out
}

// Latencies returns the smoothed latency of every class in milliseconds.
func (c *Collector) Latencies() map[int]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]float64, c.levels)
	for p, l := range c.latency {
		out[p] = l
	}
	return out
}

// InFlight returns the number of open measurements.
func (c *Collector) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.starts)
}

// Reset zeroes depths and latencies and drops open measurements.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for p := range c.depth {
		c.depth[p] = 0
		c.latency[p] = 0
	}
	c.starts = make(map[string]time.Time)
}
