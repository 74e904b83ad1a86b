package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

const promNamespace = "gobrubeck"

// Collector exposes Stats to Prometheus. It only reads; interval counters are reported
// as gauges of the last completed sample.
type Collector struct {
	stats *Stats

	metrics          *prometheus.Desc
	errors           *prometheus.Desc
	uniqueKeys       *prometheus.Desc
	memory           *prometheus.Desc
	rejectedKeys     *prometheus.Desc
	secure           *prometheus.Desc
	intervalDuration *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Collector for s.
func NewCollector(s *Stats) *Collector {
	return &Collector{
		stats: s,
		metrics: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "", "metrics_last_interval"),
			"Statements ingested during the last internal sample interval.", nil, nil),
		errors: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "", "errors_last_interval"),
			"Statements dropped as malformed during the last internal sample interval.", nil, nil),
		uniqueKeys: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "", "unique_keys"),
			"Distinct metric keys in the store.", nil, nil),
		memory: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "", "memory_bytes"),
			"Bytes reserved for metric storage.", nil, nil),
		rejectedKeys: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "", "rejected_keys_estimate"),
			"Estimated distinct keys dropped because the store is at capacity.", nil, nil),
		secure: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "secure", "rejected_last_interval"),
			"Secure datagrams rejected during the last internal sample interval.", []string{"reason"}, nil),
		intervalDuration: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "", "last_interval_seconds"),
			"Length of the last internal sample interval.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.metrics
	ch <- c.errors
	ch <- c.uniqueKeys
	ch <- c.memory
	ch <- c.rejectedKeys
	ch <- c.secure
	ch <- c.intervalDuration
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	last := c.stats.Last()
	live := c.stats.Live()
	ch <- prometheus.MustNewConstMetric(c.metrics, prometheus.GaugeValue, float64(last.Metrics))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.GaugeValue, float64(last.Errors))
	ch <- prometheus.MustNewConstMetric(c.uniqueKeys, prometheus.GaugeValue, float64(live.UniqueKeys))
	ch <- prometheus.MustNewConstMetric(c.memory, prometheus.GaugeValue, float64(live.Memory))
	ch <- prometheus.MustNewConstMetric(c.rejectedKeys, prometheus.GaugeValue, float64(live.RejectedKeys))
	ch <- prometheus.MustNewConstMetric(c.secure, prometheus.GaugeValue, float64(last.SecureFailed), "failed")
	ch <- prometheus.MustNewConstMetric(c.secure, prometheus.GaugeValue, float64(last.SecureFromFuture), "from_future")
	ch <- prometheus.MustNewConstMetric(c.secure, prometheus.GaugeValue, float64(last.SecureDelayed), "delayed")
	ch <- prometheus.MustNewConstMetric(c.secure, prometheus.GaugeValue, float64(last.SecureReplayed), "replayed")
	ch <- prometheus.MustNewConstMetric(c.intervalDuration, prometheus.GaugeValue, last.Interval.Seconds())
}
