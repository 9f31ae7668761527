package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	depthDesc = prometheus.NewDesc(
		"spqs_queue_depth",
		"Ordering index depth per priority class.",
		[]string{"priority"}, nil,
	)
	latencyDesc = prometheus.NewDesc(
		"spqs_processing_latency_ms",
		"Smoothed receive-to-delete latency per priority class in milliseconds.",
		[]string{"priority"}, nil,
	)
	inFlightDesc = prometheus.NewDesc(
		"spqs_in_flight_messages",
		"Messages received and not yet deleted by this process.",
		nil, nil,
	)
)

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- depthDesc
	ch <- latencyDesc
	ch <- inFlightDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for p := 0; p < c.levels; p++ {
		label := strconv.Itoa(p)
		ch <- prometheus.MustNewConstMetric(depthDesc, prometheus.GaugeValue, float64(c.depth[p]), label)
		ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, c.latency[p], label)
	}
	ch <- prometheus.MustNewConstMetric(inFlightDesc, prometheus.GaugeValue, float64(len(c.starts)))
}

// StorageMetrics observes the embedded Pebble database.
type StorageMetrics struct {
	writes      prometheus.Histogram
	reads       prometheus.Histogram
	commits     prometheus.Histogram
	commitBytes prometheus.Counter
}

// NewStorageMetrics registers storage histograms with reg.
func NewStorageMetrics(reg prometheus.Registerer) (*StorageMetrics, error) {
	m := &StorageMetrics{
		writes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spqs_storage_write_seconds",
			Help:    "Latency of single-key writes to the embedded store.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		reads: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spqs_storage_read_seconds",
			Help:    "Latency of point reads from the embedded store.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
		commits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spqs_storage_commit_seconds",
			Help:    "Latency of batch commits to the embedded store.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		commitBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spqs_storage_commit_bytes_total",
			Help: "Bytes committed to the embedded store.",
		}),
	}
	for _, col := range []prometheus.Collector{m.writes, m.reads, m.commits, m.commitBytes} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *StorageMetrics) ObserveWrite(elapsed time.Duration, _ int) {
	m.writes.Observe(elapsed.Seconds())
}

func (m *StorageMetrics) ObserveRead(elapsed time.Duration, _ int) {
	m.reads.Observe(elapsed.Seconds())
}

func (m *StorageMetrics) ObserveBatchCommit(elapsed time.Duration, _ int, bytes int) {
	m.commits.Observe(elapsed.Seconds())
	m.commitBytes.Add(float64(bytes))
}
