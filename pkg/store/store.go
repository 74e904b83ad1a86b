// Package store implements the fixed-capacity concurrent map from metric keys to
// metric records.
package store

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/axiomhq/hyperloglog"
	"github.com/cespare/xxhash/v2"

	"github.com/atlassian/gobrubeck"
	"github.com/atlassian/gobrubeck/internal/arena"
	"github.com/atlassian/gobrubeck/pkg/metric"
	"github.com/atlassian/gobrubeck/pkg/shard"
	"github.com/atlassian/gobrubeck/pkg/stats"
)

const (
	bucketCount = 64

	metricsPerNode = 1024
)

type bucket struct {
	mu      sync.RWMutex
	metrics map[string]*metric.Metric
}

// Options configures a Store.
type Options struct {
	// Capacity is the maximum number of distinct keys.
	Capacity int
	// FlowTracking counts a hit on a metric for every lookup of an existing key.
	FlowTracking bool
	Metric       *metric.Config
	Sharder      *shard.Sharder
	Stats        *stats.Stats
}

// Store maps keys to metrics. Keys are never removed. Once the capacity is reached
// no new key is ever admitted, while existing keys keep working.
type Store struct {
	size       int64  // atomic, reserved slots
	atCapacity uint32 // atomic, sticky

	capacity     int64
	flowTracking bool
	config       *metric.Config
	sharder      *shard.Sharder
	stats        *stats.Stats

	buckets [bucketCount]bucket
	metrics *arena.Arena[metric.Metric]
	keys    *arena.Arena[byte]

	rejectedMu sync.Mutex
	rejected   *hyperloglog.Sketch
}

// New creates an empty Store.
func New(opts Options) (*Store, error) {
	if opts.Capacity < 1 {
		return nil, errors.New("store capacity must be positive")
	}
	if opts.Sharder == nil || opts.Stats == nil {
		return nil, errors.New("store requires a sharder and stats")
	}
	if opts.Metric == nil {
		opts.Metric = metric.DefaultConfig()
	}
	s := &Store{
		capacity:     int64(opts.Capacity),
		flowTracking: opts.FlowTracking,
		config:       opts.Metric,
		sharder:      opts.Sharder,
		stats:        opts.Stats,
		metrics:      arena.New[metric.Metric](metricsPerNode, 1),
		keys:         arena.New[byte](arena.DefaultNodeSize, arena.DefaultBlockSize),
		rejected:     hyperloglog.New14(),
	}
	for i := range s.buckets {
		s.buckets[i].metrics = make(map[string]*metric.Metric)
	}
	return s, nil
}

func (s *Store) bucketFor(hash uint64) *bucket {
	return &s.buckets[hash%bucketCount]
}

// Find returns the metric of key, or nil.
func (s *Store) Find(key string) *metric.Metric {
	b := s.bucketFor(xxhash.Sum64String(key))
	b.mu.RLock()
	m := b.metrics[key]
	b.mu.RUnlock()
	return m
}

// FindOrCreate returns the metric of key, creating it with kind if the key is new.
// An existing metric keeps its kind. It returns nil when the key is new and the
// Store is full. key is copied on creation and may be reused by the caller.
func (s *Store) FindOrCreate(key []byte, kind gobrubeck.Kind) *metric.Metric {
	if len(key) == 0 {
		return nil
	}
	b := s.bucketFor(xxhash.Sum64(key))

	b.mu.RLock()
	m := b.metrics[string(key)]
	b.mu.RUnlock()
	if m != nil {
		s.hit(m)
		return m
	}

	if atomic.LoadUint32(&s.atCapacity) != 0 {
		s.reject(key)
		return nil
	}

	b.mu.Lock()
	if m = b.metrics[string(key)]; m != nil {
		// lost the race against a concurrent insert
		b.mu.Unlock()
		s.hit(m)
		return m
	}
	if !s.reserve() {
		b.mu.Unlock()
		s.reject(key)
		return nil
	}
	k := s.copyKey(key)
	m = s.metrics.Alloc()
	m.Init(k, kind, s.sharder.ShardFor(k), s.config, s.stats)
	b.metrics[k] = m
	b.mu.Unlock()

	s.sharder.Register(m)
	s.stats.IncUniqueKeys()
	return m
}

func (s *Store) hit(m *metric.Metric) {
	if s.flowTracking {
		m.Hit()
	}
}

// reserve claims a slot, setting the sticky full flag when none is left.
func (s *Store) reserve() bool {
	for {
		size := atomic.LoadInt64(&s.size)
		if size >= s.capacity {
			atomic.StoreUint32(&s.atCapacity, 1)
			return false
		}
		if atomic.CompareAndSwapInt64(&s.size, size, size+1) {
			return true
		}
	}
}

func (s *Store) copyKey(key []byte) string {
	buf := s.keys.AllocSlice(len(key))
	copy(buf, key)
	return unsafe.String(&buf[0], len(buf))
}

func (s *Store) reject(key []byte) {
	s.rejectedMu.Lock()
	s.rejected.Insert(key)
	s.rejectedMu.Unlock()
}

// Foreach calls visit for every metric, one bucket at a time under its read lock.
// Metrics inserted during the walk may or may not be visited. visit must not call
// FindOrCreate.
func (s *Store) Foreach(visit func(*metric.Metric)) {
	for i := range s.buckets {
		b := &s.buckets[i]
		b.mu.RLock()
		for _, m := range b.metrics {
			visit(m)
		}
		b.mu.RUnlock()
	}
}

// Len returns the number of keys.
func (s *Store) Len() int {
	return int(atomic.LoadInt64(&s.size))
}

// Capacity returns the maximum number of keys.
func (s *Store) Capacity() int {
	return int(s.capacity)
}

// AtCapacity reports whether a new key was ever refused.
func (s *Store) AtCapacity() bool {
	return atomic.LoadUint32(&s.atCapacity) != 0
}

// RejectedEstimate returns the estimated number of distinct keys refused at capacity.
func (s *Store) RejectedEstimate() uint64 {
	s.rejectedMu.Lock()
	defer s.rejectedMu.Unlock()
	return s.rejected.Estimate()
}

// MemoryBytes returns the memory reserved for metric records, keys and shard lists.
func (s *Store) MemoryBytes() uint64 {
	return s.metrics.Stats().Bytes + s.keys.Stats().Bytes + s.sharder.MemoryBytes()
}
