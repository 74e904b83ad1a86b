// Package metric holds the per-key aggregation record and the algorithms that fold
// statsd writes into it and reduce it once per flush.
package metric

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlassian/gobrubeck"
	"github.com/atlassian/gobrubeck/pkg/histogram"
	"github.com/atlassian/gobrubeck/pkg/stats"
)

// Emit receives one derived key of a sampled metric.
type Emit func(kind gobrubeck.Kind, key string, value float64)

// Percentile is a reported histogram percentile and the suffix it is reported under.
type Percentile struct {
	Value float64
	Name  string
}

// ParsePercentiles parses percentiles given as fractions in (0, 1]. The suffix of
// "0.75" is "75" and the suffix of "0.999" is "999".
func ParsePercentiles(s []string) ([]Percentile, error) {
	out := make([]Percentile, 0, len(s))
	for _, raw := range s {
		raw = strings.TrimSpace(raw)
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid percentile %q: %v", raw, err)
		}
		if !(v > 0 && v <= 1) {
			return nil, fmt.Errorf("percentile %q out of range (0, 1]", raw)
		}
		name := strings.TrimPrefix(raw, "0.")
		if v == 1 {
			name = "100"
		}
		out = append(out, Percentile{Value: v, Name: strings.Replace(name, ".", "_", -1)})
	}
	return out, nil
}

// Config holds the histogram reduction settings shared by every metric of a server.
type Config struct {
	Threshold   float64
	Percentiles []Percentile
}

// DefaultConfig returns the histogram settings used when nothing is configured.
func DefaultConfig() *Config {
	pcts, err := ParsePercentiles(gobrubeck.DefaultPercentiles)
	if err != nil {
		panic(err)
	}
	return &Config{
		Threshold:   gobrubeck.DefaultHistogramThreshold,
		Percentiles: pcts,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !(c.Threshold > 0 && c.Threshold <= 1) {
		return fmt.Errorf("histogram threshold %v out of range (0, 1]", c.Threshold)
	}
	return nil
}

func (c *Config) percentileValues() []float64 {
	v := make([]float64, len(c.Percentiles))
	for i, p := range c.Percentiles {
		v[i] = p.Value
	}
	return v
}

// Metric is the aggregation record of one key. Key, Kind and Shard never change
// after Init. The payload is guarded by a mutex; the activity state and hit counter
// are atomic.
type Metric struct {
	hits  uint64 // atomic, first to keep 64-bit alignment
	state uint32 // atomic gobrubeck.State

	Key   string
	Kind  gobrubeck.Kind
	Shard int

	mu       sync.Mutex
	value    float64
	previous float64
	histo    histogram.Histogram
	pcts     []float64

	config  *Config
	stats   *stats.Stats
	subKeys []string
}

// New creates an Active metric. Most metrics are allocated by the store and set up
// with Init instead.
func New(key string, kind gobrubeck.Kind, shard int, config *Config, st *stats.Stats) *Metric {
	m := &Metric{}
	m.Init(key, kind, shard, config, st)
	return m
}

// Init prepares a zero Metric. st is only used by INTERNAL metrics and config only
// by HISTOGRAM and TIMER ones.
func (m *Metric) Init(key string, kind gobrubeck.Kind, shard int, config *Config, st *stats.Stats) {
	m.Key = key
	m.Kind = kind
	m.Shard = shard
	m.config = config
	m.stats = st
	switch kind {
	case gobrubeck.HISTOGRAM, gobrubeck.TIMER:
		m.pcts = config.percentileValues()
		m.subKeys = histogramKeys(key, config)
	case gobrubeck.INTERNAL:
		m.subKeys = internalKeys(key)
	}
	atomic.StoreUint32(&m.state, uint32(gobrubeck.ACTIVE))
}

const (
	hCount = iota
	hCountPS
	hMin
	hMax
	hSum
	hMean
	hMedian
	hStd
	hUpper
	hMeanT
	hSumT
	hCountT
	hPercentiles
)

func histogramKeys(key string, config *Config) []string {
	n := strconv.Itoa(int(math.Round(config.Threshold * 100)))
	keys := []string{
		hCount:   key + ".count",
		hCountPS: key + ".count_ps",
		hMin:     key + ".min",
		hMax:     key + ".max",
		hSum:     key + ".sum",
		hMean:    key + ".mean",
		hMedian:  key + ".median",
		hStd:     key + ".std",
		hUpper:   key + ".upper_" + n,
		hMeanT:   key + ".mean_" + n,
		hSumT:    key + ".sum_" + n,
		hCountT:  key + ".count_" + n,
	}
	for _, p := range config.Percentiles {
		keys = append(keys, key+".percentile."+p.Name)
	}
	return keys
}

const (
	iMetrics = iota
	iErrors
	iUniqueKeys
	iMemory
	iRejectedKeys
	iSecureFailed
	iSecureFromFuture
	iSecureDelayed
	iSecureReplayed
)

func internalKeys(key string) []string {
	return []string{
		iMetrics:          key + ".metrics",
		iErrors:           key + ".errors",
		iUniqueKeys:       key + ".unique_keys",
		iMemory:           key + ".memory",
		iRejectedKeys:     key + ".rejected_keys",
		iSecureFailed:     key + ".secure.failed",
		iSecureFromFuture: key + ".secure.from_future",
		iSecureDelayed:    key + ".secure.delayed",
		iSecureReplayed:   key + ".secure.replayed",
	}
}

// Record folds one write into the metric and marks it Active. sampleFreq is the
// inverse of the client's sample rate.
func (m *Metric) Record(value, sampleFreq float64, modifiers gobrubeck.Modifier) {
	switch m.Kind {
	case gobrubeck.GAUGE:
		m.mu.Lock()
		if modifiers&gobrubeck.Relative != 0 {
			m.value += value
		} else {
			m.value = value
		}
		m.mu.Unlock()
	case gobrubeck.METER:
		value *= sampleFreq
		m.mu.Lock()
		m.value += value
		m.mu.Unlock()
	case gobrubeck.COUNTER:
		value *= sampleFreq
		m.mu.Lock()
		if m.previous > 0 {
			if value >= m.previous {
				m.value += value - m.previous
			} else {
				// the client restarted its count
				m.value += value
			}
		}
		m.previous = value
		m.mu.Unlock()
	case gobrubeck.HISTOGRAM, gobrubeck.TIMER:
		m.mu.Lock()
		m.histo.Push(value, sampleFreq)
		m.mu.Unlock()
	case gobrubeck.INTERNAL:
		return
	}
	atomic.StoreUint32(&m.state, uint32(gobrubeck.ACTIVE))
}

// Sample reduces the metric and calls emit once per derived key. interval is the
// flush interval of the calling shard and scales per second values; now closes the
// sample interval of INTERNAL metrics.
func (m *Metric) Sample(now time.Time, interval time.Duration, emit Emit) {
	switch m.Kind {
	case gobrubeck.GAUGE:
		m.mu.Lock()
		value := m.value
		m.setState(gobrubeck.INACTIVE)
		m.mu.Unlock()
		emit(m.Kind, m.Key, value)
	case gobrubeck.METER, gobrubeck.COUNTER:
		m.mu.Lock()
		value := m.value
		m.value = 0
		m.setState(gobrubeck.INACTIVE)
		m.mu.Unlock()
		emit(m.Kind, m.Key, value)
	case gobrubeck.HISTOGRAM, gobrubeck.TIMER:
		m.mu.Lock()
		s := m.histo.Sample(m.config.Threshold, m.pcts)
		m.setState(gobrubeck.INACTIVE)
		m.mu.Unlock()
		m.emitHistogram(s, interval, emit)
	case gobrubeck.INTERNAL:
		m.mu.Lock()
		snap := m.stats.Sample(now)
		m.setState(gobrubeck.ACTIVE)
		m.mu.Unlock()
		m.emitInternal(snap, emit)
	}
}

func (m *Metric) emitHistogram(s histogram.Sample, interval time.Duration, emit Emit) {
	k := m.subKeys
	var perSecond float64
	if interval > 0 {
		perSecond = s.Count / interval.Seconds()
	}
	emit(m.Kind, k[hCount], s.Count)
	emit(m.Kind, k[hCountPS], perSecond)
	emit(m.Kind, k[hMin], s.Lower)
	emit(m.Kind, k[hMax], s.Upper)
	emit(m.Kind, k[hSum], s.Sum)
	emit(m.Kind, k[hMean], s.Mean)
	emit(m.Kind, k[hMedian], s.Median)
	emit(m.Kind, k[hStd], s.Std)
	emit(m.Kind, k[hUpper], s.UpperT)
	emit(m.Kind, k[hMeanT], s.MeanT)
	emit(m.Kind, k[hSumT], s.SumT)
	emit(m.Kind, k[hCountT], s.CountT)
	for i, v := range s.Percentiles {
		emit(m.Kind, k[hPercentiles+i], v)
	}
}

func (m *Metric) emitInternal(s stats.Snapshot, emit Emit) {
	k := m.subKeys
	emit(m.Kind, k[iMetrics], float64(s.Metrics))
	emit(m.Kind, k[iErrors], float64(s.Errors))
	emit(m.Kind, k[iUniqueKeys], float64(s.UniqueKeys))
	emit(m.Kind, k[iMemory], float64(s.Memory))
	emit(m.Kind, k[iRejectedKeys], float64(s.RejectedKeys))
	emit(m.Kind, k[iSecureFailed], float64(s.SecureFailed))
	emit(m.Kind, k[iSecureFromFuture], float64(s.SecureFromFuture))
	emit(m.Kind, k[iSecureDelayed], float64(s.SecureDelayed))
	emit(m.Kind, k[iSecureReplayed], float64(s.SecureReplayed))
}

// setState stores s unless the metric was disabled by hand.
func (m *Metric) setState(s gobrubeck.State) {
	for {
		cur := atomic.LoadUint32(&m.state)
		if cur == uint32(gobrubeck.DISABLED) || atomic.CompareAndSwapUint32(&m.state, cur, uint32(s)) {
			return
		}
	}
}

// State returns the activity state.
func (m *Metric) State() gobrubeck.State {
	return gobrubeck.State(atomic.LoadUint32(&m.state))
}

// Expire moves the metric one state down unless it is already DISABLED.
func (m *Metric) Expire() {
	for {
		cur := atomic.LoadUint32(&m.state)
		if cur == uint32(gobrubeck.DISABLED) {
			return
		}
		if atomic.CompareAndSwapUint32(&m.state, cur, cur-1) {
			return
		}
	}
}

// Disable stops the metric from being flushed until it is written again.
func (m *Metric) Disable() {
	atomic.StoreUint32(&m.state, uint32(gobrubeck.DISABLED))
}

// Hit counts one lookup of the metric for flow tracking.
func (m *Metric) Hit() {
	atomic.AddUint64(&m.hits, 1)
}

// Hits returns the number of lookups counted by Hit.
func (m *Metric) Hits() uint64 {
	return atomic.LoadUint64(&m.hits)
}
