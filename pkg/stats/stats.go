// Package stats holds the process wide counters of the daemon. A single Stats is
// created at startup and handed to every component that counts something.
package stats

import (
	"sync/atomic"
	"time"
)

// Snapshot is a copy of the counters. Interval counters (Metrics, Errors and the
// Secure ones) cover the time between two samples; the rest are gauges.
type Snapshot struct {
	Metrics          uint64
	Errors           uint64
	UniqueKeys       uint64
	Memory           uint64
	RejectedKeys     uint64
	SecureFailed     uint64
	SecureFromFuture uint64
	SecureDelayed    uint64
	SecureReplayed   uint64
	// Interval is the time covered by the interval counters. Zero in live values.
	Interval time.Duration
}

// PerSecond scales an interval counter to a per second rate.
func (s Snapshot) PerSecond(v uint64) float64 {
	if s.Interval <= 0 {
		return 0
	}
	return float64(v) / s.Interval.Seconds()
}

// Stats counts ingestion results. All methods are safe for concurrent use.
type Stats struct {
	// Counter fields below must be read/written only using atomic instructions.
	// 64-bit fields must be the first fields in the struct to guarantee proper memory alignment.
	// See https://golang.org/pkg/sync/atomic/#pkg-note-BUG
	metrics          uint64
	errors           uint64
	uniqueKeys       uint64
	memory           uint64
	rejectedKeys     uint64
	secureFailed     uint64
	secureFromFuture uint64
	secureDelayed    uint64
	secureReplayed   uint64

	lastSample int64 // unix nanos of the last Sample

	last atomic.Pointer[Snapshot]
}

// New creates a Stats whose first sample interval starts at now.
func New(now time.Time) *Stats {
	s := &Stats{
		lastSample: now.UnixNano(),
	}
	s.last.Store(&Snapshot{})
	return s
}

func (s *Stats) AddMetrics(n uint64) {
	atomic.AddUint64(&s.metrics, n)
}

func (s *Stats) AddErrors(n uint64) {
	atomic.AddUint64(&s.errors, n)
}

func (s *Stats) IncUniqueKeys() {
	atomic.AddUint64(&s.uniqueKeys, 1)
}

func (s *Stats) IncSecureFailed() {
	atomic.AddUint64(&s.secureFailed, 1)
}

func (s *Stats) IncSecureFromFuture() {
	atomic.AddUint64(&s.secureFromFuture, 1)
}

func (s *Stats) IncSecureDelayed() {
	atomic.AddUint64(&s.secureDelayed, 1)
}

func (s *Stats) IncSecureReplayed() {
	atomic.AddUint64(&s.secureReplayed, 1)
}

// SetMemory records the number of bytes held by metric storage.
func (s *Stats) SetMemory(bytes uint64) {
	atomic.StoreUint64(&s.memory, bytes)
}

// SetRejectedKeys records the estimated number of distinct keys dropped at capacity.
func (s *Stats) SetRejectedKeys(n uint64) {
	atomic.StoreUint64(&s.rejectedKeys, n)
}

// Live returns the current values without resetting anything.
func (s *Stats) Live() Snapshot {
	return Snapshot{
		Metrics:          atomic.LoadUint64(&s.metrics),
		Errors:           atomic.LoadUint64(&s.errors),
		UniqueKeys:       atomic.LoadUint64(&s.uniqueKeys),
		Memory:           atomic.LoadUint64(&s.memory),
		RejectedKeys:     atomic.LoadUint64(&s.rejectedKeys),
		SecureFailed:     atomic.LoadUint64(&s.secureFailed),
		SecureFromFuture: atomic.LoadUint64(&s.secureFromFuture),
		SecureDelayed:    atomic.LoadUint64(&s.secureDelayed),
		SecureReplayed:   atomic.LoadUint64(&s.secureReplayed),
	}
}

// Sample resets the interval counters and returns their values since the previous
// Sample. The result is also kept for Last.
func (s *Stats) Sample(now time.Time) Snapshot {
	prev := atomic.SwapInt64(&s.lastSample, now.UnixNano())
	snap := Snapshot{
		Metrics:          atomic.SwapUint64(&s.metrics, 0),
		Errors:           atomic.SwapUint64(&s.errors, 0),
		UniqueKeys:       atomic.LoadUint64(&s.uniqueKeys),
		Memory:           atomic.LoadUint64(&s.memory),
		RejectedKeys:     atomic.LoadUint64(&s.rejectedKeys),
		SecureFailed:     atomic.SwapUint64(&s.secureFailed, 0),
		SecureFromFuture: atomic.SwapUint64(&s.secureFromFuture, 0),
		SecureDelayed:    atomic.SwapUint64(&s.secureDelayed, 0),
		SecureReplayed:   atomic.SwapUint64(&s.secureReplayed, 0),
		Interval:         time.Duration(now.UnixNano() - prev),
	}
	s.last.Store(&snap)
	return snap
}

// Last returns the result of the most recent Sample.
func (s *Stats) Last() Snapshot {
	return *s.last.Load()
}
