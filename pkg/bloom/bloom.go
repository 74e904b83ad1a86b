// Package bloom implements bloom filters with lock-free test-and-set, and a ring of
// them indexed by time bucket.
package bloom

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// DefaultErrorRate is the false positive rate of filters sized by the secure sampler.
const DefaultErrorRate = 0.001

// Filter is a bloom filter addressed by a pair of 32 bit hashes using double hashing.
type Filter struct {
	words  []atomic.Uint32
	bits   uint64
	hashes uint64
}

// New returns a Filter sized for entries items at the given false positive rate.
func New(entries int, errorRate float64) (*Filter, error) {
	if entries < 1 {
		return nil, fmt.Errorf("bloom: entries must be positive, got %d", entries)
	}
	if errorRate <= 0 || errorRate >= 1 {
		return nil, fmt.Errorf("bloom: error rate must be in (0, 1), got %v", errorRate)
	}
	ln2 := math.Ln2
	bpe := -math.Log(errorRate) / (ln2 * ln2)
	bits := uint64(math.Ceil(float64(entries) * bpe))
	return &Filter{
		words:  make([]atomic.Uint32, (bits+31)/32),
		bits:   bits,
		hashes: uint64(math.Ceil(ln2 * bpe)),
	}, nil
}

// Bits returns the number of addressable bits.
func (f *Filter) Bits() uint64 {
	return f.bits
}

// Hashes returns the number of bits set per entry.
func (f *Filter) Hashes() uint64 {
	return f.hashes
}

// TestAndSet sets every bit addressed by (a, b) and reports whether all of them were
// already set, i.e. whether the entry was probably added before.
func (f *Filter) TestAndSet(a, b uint32) bool {
	hits := uint64(0)
	for i := uint64(0); i < f.hashes; i++ {
		x := (uint64(a) + i*uint64(b)) % f.bits
		mask := uint32(1) << (x & 31)
		if f.words[x>>5].Or(mask)&mask != 0 {
			hits++
		}
	}
	return hits == f.hashes
}

// Reset clears every bit. Concurrent TestAndSet calls may observe a partially
// cleared filter; Bank serializes the two.
func (f *Filter) Reset() {
	for i := range f.words {
		f.words[i].Store(0)
	}
}

// Bank is a ring of filters, one per second. Advance clears the filters of new
// seconds under the write lock, so no Check of a second can run before its filter
// has been cleared.
type Bank struct {
	last int64 // atomic, the newest second advanced to; written under mu

	mu      sync.RWMutex // read held while checking, write held while clearing
	filters []*Filter
}

// NewBank creates a ring of n filters, each sized for entries items.
func NewBank(n, entries int, errorRate float64) (*Bank, error) {
	if n < 1 {
		return nil, fmt.Errorf("bloom: bank needs at least one bucket, got %d", n)
	}
	b := &Bank{
		filters: make([]*Filter, n),
	}
	for i := range b.filters {
		f, err := New(entries, errorRate)
		if err != nil {
			return nil, err
		}
		b.filters[i] = f
	}
	return b, nil
}

// Len returns the number of buckets in the ring.
func (b *Bank) Len() int {
	return len(b.filters)
}

// Check tests and sets (x, y) in the filter of the given bucket, reporting whether it
// was already present.
func (b *Bank) Check(bucket uint64, x, y uint32) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filters[bucket%uint64(len(b.filters))].TestAndSet(x, y)
}

// Advance moves the ring forward to second, clearing the filter of every second
// after the previous one up to and including second. Older seconds are ignored.
func (b *Bank) Advance(second int64) {
	if second <= atomic.LoadInt64(&b.last) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	last := atomic.LoadInt64(&b.last)
	if second <= last {
		return
	}
	n := int64(len(b.filters))
	from := last + 1
	if from < second-n+1 {
		from = second - n + 1
	}
	for sec := from; sec <= second; sec++ {
		b.filters[uint64(sec)%uint64(n)].Reset()
	}
	atomic.StoreInt64(&b.last, second)
}

// Last returns the newest second the ring was advanced to.
func (b *Bank) Last() int64 {
	return atomic.LoadInt64(&b.last)
}
