package fixtures

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atlassian/gobrubeck"
)

// Sample is one value captured by CapturingEncoder.
type Sample struct {
	Kind  gobrubeck.Kind
	Key   string
	Value float64
	Ts    time.Time
}

// CapturingEncoder is a gobrubeck.Encoder keeping every flushed sample in memory.
// Samples passed to Sample only become visible after Flush.
type CapturingEncoder struct {
	// ConnectErr, when set, is returned by Connect.
	ConnectErr func() error

	mu       sync.Mutex
	pending  []Sample
	flushed  [][]Sample
	connects int
}

var _ gobrubeck.Encoder = (*CapturingEncoder)(nil)

func (c *CapturingEncoder) Name() string    { return "capturing" }
func (c *CapturingEncoder) Address() string { return "memory" }
func (c *CapturingEncoder) Close() error    { return nil }
func (c *CapturingEncoder) Sent() uint64    { return 0 }

func (c *CapturingEncoder) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.ConnectErr != nil {
		return c.ConnectErr()
	}
	return nil
}

func (c *CapturingEncoder) Connected() bool {
	return c.ConnectErr == nil || c.ConnectErr() == nil
}

func (c *CapturingEncoder) Sample(kind gobrubeck.Kind, key string, value float64, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, Sample{Kind: kind, Key: key, Value: value, Ts: ts})
}

func (c *CapturingEncoder) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushed = append(c.flushed, c.pending)
	c.pending = nil
	return nil
}

// Flushes returns the samples of every completed flush, each sorted by key.
func (c *CapturingEncoder) Flushes() [][]Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]Sample, len(c.flushed))
	for i, f := range c.flushed {
		out[i] = append([]Sample(nil), f...)
		sort.Slice(out[i], SortCompare(out[i]))
	}
	return out
}

// Connects returns the number of Connect calls.
func (c *CapturingEncoder) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// SortCompare func for samples so they can be compared with require.EqualValues
// Invoke with sort.Slice(x, SortCompare(x))
func SortCompare(ss []Sample) func(i, j int) bool {
	return func(i, j int) bool {
		return ss[i].Key < ss[j].Key
	}
}
