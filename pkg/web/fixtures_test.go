package web

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlassian/gobrubeck"
	"github.com/atlassian/gobrubeck/internal/fixtures"
	"github.com/atlassian/gobrubeck/pkg/shard"
	"github.com/atlassian/gobrubeck/pkg/stats"
	"github.com/atlassian/gobrubeck/pkg/store"
)

type fakeBackend struct {
	shard   int
	encoder gobrubeck.Encoder
}

func (b fakeBackend) Shard() int                 { return b.shard }
func (b fakeBackend) Frequency() time.Duration   { return 10 * time.Second }
func (b fakeBackend) Encoder() gobrubeck.Encoder { return b.encoder }

type fakeSampler struct{}

func (fakeSampler) Name() string        { return "statsd" }
func (fakeSampler) Address() string     { return ":8126" }
func (fakeSampler) Workers() int        { return 4 }
func (fakeSampler) CurrentFlow() uint64 { return 42 }

func newTestStore(t *testing.T, flowTracking bool) (*store.Store, *stats.Stats) {
	sharder, err := shard.New(1)
	require.NoError(t, err)
	st := stats.New(time.Unix(0, 0))
	s, err := store.New(store.Options{
		Capacity:     16,
		FlowTracking: flowTracking,
		Sharder:      sharder,
		Stats:        st,
	})
	require.NoError(t, err)
	return s, st
}

func newTestServer(t *testing.T, opts Options) *Server {
	if opts.Store == nil {
		s, st := newTestStore(t, opts.FlowTracking)
		opts.Store = s
		opts.Stats = st
	}
	hs, err := NewServer(opts, fixtures.NewTestLogger(t))
	require.NoError(t, err)
	return hs
}
