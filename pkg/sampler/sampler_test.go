package sampler

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ash2k/stager/wait"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlassian/gobrubeck"
	"github.com/atlassian/gobrubeck/internal/fixtures"
	"github.com/atlassian/gobrubeck/internal/lexer"
	"github.com/atlassian/gobrubeck/pkg/fakesocket"
	"github.com/atlassian/gobrubeck/pkg/metric"
	"github.com/atlassian/gobrubeck/pkg/shard"
	"github.com/atlassian/gobrubeck/pkg/stats"
	"github.com/atlassian/gobrubeck/pkg/store"
)

func newDeps(t *testing.T, sf SocketFactory) (Deps, *store.Store, *stats.Stats) {
	sharder, err := shard.New(1)
	require.NoError(t, err)
	st := stats.New(time.Unix(0, 0))
	s, err := store.New(store.Options{
		Capacity: 1024,
		Sharder:  sharder,
		Stats:    st,
	})
	require.NoError(t, err)
	return Deps{
		Store:          s,
		Stats:          st,
		Logger:         fixtures.NewTestLogger(t),
		BadLineLimiter: NewBadLineLimiter(600),
		SocketFactory:  sf,
	}, s, st
}

func queueFactory(conns ...net.PacketConn) SocketFactory {
	var mu sync.Mutex
	return func(address string, reuse bool) (net.PacketConn, error) {
		mu.Lock()
		defer mu.Unlock()
		c := conns[0]
		conns = conns[1:]
		return c, nil
	}
}

func sampleValue(t *testing.T, m *metric.Metric) float64 {
	require.NotNil(t, m)
	var v float64
	m.Sample(time.Unix(1, 0), time.Second, func(kind gobrubeck.Kind, key string, value float64) {
		if key == m.Key {
			v = value
		}
	})
	return v
}

func TestHandlePacket(t *testing.T) {
	t.Parallel()
	deps, s, st := newDeps(t, nil)
	in := newIngester(deps, deps.Logger)
	var lex lexer.Lexer

	in.handlePacket(&lex, []byte("a:1|c\na:2|c|@0.5\n\nb:7|g\nbad|x\nc c:1|g"), fakesocket.FakeAddr)

	live := st.Live()
	assert.EqualValues(t, 4, live.Metrics)
	assert.EqualValues(t, 1, live.Errors)
	assert.Equal(t, 5.0, sampleValue(t, s.Find("a")))
	assert.Equal(t, 7.0, sampleValue(t, s.Find("b")))
	assert.NotNil(t, s.Find("c_c"))
}

func TestFlow(t *testing.T) {
	t.Parallel()
	var f flow
	f.add(3)
	f.add(2)
	assert.Zero(t, f.CurrentFlow())
	f.SwapFlow()
	assert.EqualValues(t, 5, f.CurrentFlow())
	f.SwapFlow()
	assert.Zero(t, f.CurrentFlow())
}

func TestNewBadLineLimiter(t *testing.T) {
	t.Parallel()
	assert.Nil(t, NewBadLineLimiter(0))
	assert.NotNil(t, NewBadLineLimiter(60))
}

func TestNewFromViper(t *testing.T) {
	t.Parallel()
	deps, _, _ := newDeps(t, nil)

	v := viper.New()
	v.Set(ParamType, TypeStatsd)
	v.Set(ParamAddress, "127.0.0.1:0")
	v.Set(ParamWorkers, 2)
	smp, err := NewFromViper(v, deps)
	require.NoError(t, err)
	assert.Equal(t, TypeStatsd, smp.Name())
	assert.Equal(t, 2, smp.Workers())

	v = viper.New()
	v.Set(ParamType, TypeStatsdSecure)
	v.Set(ParamHMACKey, "secret")
	smp, err = NewFromViper(v, deps)
	require.NoError(t, err)
	assert.Equal(t, TypeStatsdSecure, smp.Name())
	assert.Equal(t, DefaultAddress, smp.Address())

	v = viper.New()
	v.Set(ParamType, TypeStatsdSecure)
	_, err = NewFromViper(v, deps)
	assert.Error(t, err, "missing key")

	v = viper.New()
	v.Set(ParamType, "carrier-pigeon")
	_, err = NewFromViper(v, deps)
	assert.Error(t, err)
}

func TestStatsdRun(t *testing.T) {
	t.Parallel()
	conn := fakesocket.NewQueuePacketConn(
		[]byte("a:1|c\nb:2|g\n"),
		[]byte("bad|x"),
		[]byte("a:3|c"),
	)
	deps, s, st := newDeps(t, queueFactory(conn))
	smp, err := NewStatsd(deps, "fake", 2, false, 1)
	require.NoError(t, err)
	require.NoError(t, smp.Listen())
	assert.Equal(t, fakesocket.FakeAddr.String(), smp.Address())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var wg wait.Group
	wg.StartWithContext(ctx, smp.Run)

	require.Eventually(t, func() bool {
		live := st.Live()
		return live.Metrics == 3 && live.Errors == 1
	}, 2*time.Second, time.Millisecond)
	cancel()
	wg.Wait()

	assert.Equal(t, 4.0, sampleValue(t, s.Find("a")))
	assert.Equal(t, 2.0, sampleValue(t, s.Find("b")))
	smp.SwapFlow()
	assert.EqualValues(t, 3, smp.CurrentFlow())
	assert.Equal(t, fakesocket.ErrAlreadyClosedConnection, conn.Close(), "Run closes the socket")
}

func TestStatsdMultiSock(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var reuses []bool
	factory := func(address string, reuse bool) (net.PacketConn, error) {
		mu.Lock()
		defer mu.Unlock()
		reuses = append(reuses, reuse)
		return fakesocket.NewQueuePacketConn([]byte("k:1|c")), nil
	}
	deps, s, st := newDeps(t, factory)
	smp, err := NewStatsd(deps, "fake", 3, true, 1)
	require.NoError(t, err)
	require.NoError(t, smp.Listen())
	assert.Equal(t, []bool{true, true, true}, reuses)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var wg wait.Group
	wg.StartWithContext(ctx, smp.Run)
	require.Eventually(t, func() bool {
		return st.Live().Metrics == 3
	}, 2*time.Second, time.Millisecond)
	cancel()
	wg.Wait()
	assert.Equal(t, 3.0, sampleValue(t, s.Find("k")))
}

func TestStatsdBatchReceive(t *testing.T) {
	t.Parallel()
	deps, s, st := newDeps(t, DefaultSocketFactory)
	smp, err := NewStatsd(deps, "127.0.0.1:0", 2, false, 8)
	require.NoError(t, err)
	require.NoError(t, smp.Listen())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var wg wait.Group
	wg.StartWithContext(ctx, smp.Run)

	c, err := net.Dial("udp", smp.Address())
	require.NoError(t, err)
	defer c.Close()
	for i := 0; i < 10; i++ {
		_, err := c.Write([]byte("batched:1|c\nbatched.gauge:5|g"))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return st.Live().Metrics == 20
	}, 3*time.Second, time.Millisecond)
	cancel()
	wg.Wait()
	assert.Equal(t, 10.0, sampleValue(t, s.Find("batched")))
	assert.Equal(t, 5.0, sampleValue(t, s.Find("batched.gauge")))
}

func TestNewStatsdInvalid(t *testing.T) {
	t.Parallel()
	deps, _, _ := newDeps(t, nil)
	_, err := NewStatsd(deps, ":0", 0, false, 1)
	assert.Error(t, err)
}

func BenchmarkHandlePacket(b *testing.B) {
	sharder, _ := shard.New(1)
	st := stats.New(time.Now())
	s, _ := store.New(store.Options{Capacity: 1 << 16, Sharder: sharder, Stats: st})
	in := ingester{store: s, stats: st, logger: logrus.New()}
	var lex lexer.Lexer
	packet := []byte("a.b.c:1|c\nd.e.f:2|ms\ng.h.i:3|g|@0.5")
	buf := make([]byte, len(packet))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		copy(buf, packet)
		in.handlePacket(&lex, buf, nil)
	}
}
