package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ash2k/stager/wait"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilinna/clock"

	"github.com/atlassian/gobrubeck"
	"github.com/atlassian/gobrubeck/internal/fixtures"
	"github.com/atlassian/gobrubeck/pkg/healthcheck"
	"github.com/atlassian/gobrubeck/pkg/metric"
	"github.com/atlassian/gobrubeck/pkg/util"
)

type metricSlice []*metric.Metric

func (s metricSlice) Each(visit func(*metric.Metric)) {
	for _, m := range s {
		visit(m)
	}
}

func testMetrics() metricSlice {
	cfg := metric.DefaultConfig()
	g := metric.New("g", gobrubeck.GAUGE, 0, cfg, nil)
	g.Record(3, 1, 0)
	c := metric.New("c", gobrubeck.METER, 0, cfg, nil)
	c.Record(2, 1, 0)
	c.Record(5, 1, 0)
	off := metric.New("off", gobrubeck.GAUGE, 0, cfg, nil)
	off.Record(1, 1, 0)
	off.Disable()
	return metricSlice{g, c, off}
}

func newTestWorker(t *testing.T, metrics MetricList, enc gobrubeck.Encoder, config Config) *Worker {
	if config.Frequency == 0 {
		config.Frequency = time.Second
	}
	w, err := NewWorker(1, metrics, enc, config, fixtures.NewTestLogger(t))
	require.NoError(t, err)
	return w
}

func TestFlush(t *testing.T) {
	t.Parallel()
	enc := &fixtures.CapturingEncoder{}
	w := newTestWorker(t, testMetrics(), enc, Config{})

	now := time.Unix(100, 0)
	w.Flush(context.Background(), now)

	expected := [][]fixtures.Sample{{
		{Kind: gobrubeck.METER, Key: "c", Value: 7, Ts: now},
		{Kind: gobrubeck.GAUGE, Key: "g", Value: 3, Ts: now},
	}}
	assert.Equal(t, expected, enc.Flushes())
	assert.Equal(t, Stats{Samples: 2, Flushes: 1}, w.Stats())

	// The meter was reset, the gauge keeps its value while it is not expired.
	w.Flush(context.Background(), now.Add(time.Second))
	flushes := enc.Flushes()
	require.Len(t, flushes, 2)
	assert.Equal(t, []fixtures.Sample{
		{Kind: gobrubeck.METER, Key: "c", Value: 0, Ts: now.Add(time.Second)},
		{Kind: gobrubeck.GAUGE, Key: "g", Value: 3, Ts: now.Add(time.Second)},
	}, flushes[1])
}

func TestFlushHistogramUsesFrequency(t *testing.T) {
	t.Parallel()
	h := metric.New("h", gobrubeck.TIMER, 0, metric.DefaultConfig(), nil)
	for i := 0; i < 10; i++ {
		h.Record(float64(i), 1, 0)
	}
	enc := &fixtures.CapturingEncoder{}
	w := newTestWorker(t, metricSlice{h}, enc, Config{Frequency: 5 * time.Second})
	w.Flush(context.Background(), time.Unix(100, 0))

	values := map[string]float64{}
	for _, s := range enc.Flushes()[0] {
		values[s.Key] = s.Value
	}
	assert.Equal(t, 10.0, values["h.count"])
	assert.Equal(t, 2.0, values["h.count_ps"])
}

func TestFlushConnectFailure(t *testing.T) {
	t.Parallel()
	connectErr := errors.New("connection refused")
	var failing = true
	enc := &fixtures.CapturingEncoder{
		ConnectErr: func() error {
			if failing {
				return connectErr
			}
			return nil
		},
	}
	metrics := testMetrics()
	w := newTestWorker(t, metrics, enc, Config{})

	now := time.Unix(100, 0)
	w.Flush(context.Background(), now)
	assert.Empty(t, enc.Flushes())
	assert.Equal(t, Stats{ConnectErrors: 1}, w.Stats())
	_, status := w.DeepChecks()[0]()
	assert.Equal(t, healthcheck.Unhealthy, status)

	failing = false
	w.Flush(context.Background(), now.Add(time.Second))
	flushes := enc.Flushes()
	require.Len(t, flushes, 1)
	// Nothing was lost while disconnected.
	assert.Equal(t, 7.0, flushes[0][0].Value)
	_, status = w.DeepChecks()[0]()
	assert.Equal(t, healthcheck.Healthy, status)
}

func TestFlushBackoff(t *testing.T) {
	t.Parallel()
	connects := 0
	enc := &fixtures.MockEncoder{
		TB:     t,
		FnName: func() string { return "mock" },
		FnConnect: func(ctx context.Context) error {
			connects++
			return errors.New("down")
		},
	}
	w := newTestWorker(t, metricSlice{}, enc, Config{
		Backoff: util.NewBackoffFactory(1.0, time.Hour, 10*time.Second, 0),
	})

	start := time.Unix(1000, 0)
	w.Flush(context.Background(), start)
	require.Equal(t, 1, connects)
	retryAt := w.retryAt
	require.True(t, retryAt.After(start))

	// Ticks before the retry time do not attempt to connect.
	w.Flush(context.Background(), start.Add(time.Second))
	assert.Equal(t, 1, connects)

	w.Flush(context.Background(), retryAt)
	assert.Equal(t, 2, connects)
}

func TestFlushError(t *testing.T) {
	t.Parallel()
	enc := &fixtures.MockEncoder{
		TB:          t,
		FnName:      func() string { return "mock" },
		FnConnect:   func(ctx context.Context) error { return nil },
		FnConnected: func() bool { return true },
		FnSample:    func(kind gobrubeck.Kind, key string, value float64, ts time.Time) {},
		FnFlush:     func() error { return errors.New("broken pipe") },
	}
	w := newTestWorker(t, testMetrics(), enc, Config{})
	w.Flush(context.Background(), time.Unix(100, 0))
	assert.Equal(t, Stats{Samples: 2, FlushErrors: 1}, w.Stats())

	checks := w.DeepChecks()
	require.Len(t, checks, 2)
	_, status := checks[0]()
	assert.Equal(t, healthcheck.Healthy, status)
	_, status = checks[1]()
	assert.Equal(t, healthcheck.Unhealthy, status)
}

func TestRun(t *testing.T) {
	t.Parallel()
	configs := map[string]Config{
		"free running": {Frequency: time.Second},
		"aligned":      {Frequency: time.Second, Aligned: true, AlignOffset: 100 * time.Millisecond},
	}
	for name, config := range configs {
		config := config
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			clck := clock.NewMock(time.Unix(0, 0))
			ctx = clock.Context(ctx, clck)

			closed := make(chan struct{})
			enc := &fixtures.MockEncoder{
				TB:          t,
				FnName:      func() string { return "mock" },
				FnAddress:   func() string { return "nowhere" },
				FnConnect:   func(ctx context.Context) error { return nil },
				FnSample:    func(kind gobrubeck.Kind, key string, value float64, ts time.Time) {},
				FnFlush:     func() error { return nil },
				FnClose:     func() error { close(closed); return nil },
				FnConnected: func() bool { return true },
			}
			w := newTestWorker(t, testMetrics(), enc, config)

			var wg wait.Group
			wg.StartWithContext(ctx, w.Run)
			require.Eventually(t, func() bool {
				fixtures.NextStep(ctx, clck)
				return w.Stats().Flushes >= 2
			}, 2*time.Second, time.Millisecond)
			cancel()
			wg.Wait()

			select {
			case <-closed:
			default:
				t.Fatal("encoder was not closed")
			}
		})
	}
}

func TestNewWorkerInvalid(t *testing.T) {
	t.Parallel()
	enc := &fixtures.CapturingEncoder{}
	logger := fixtures.NewTestLogger(t)
	_, err := NewWorker(0, metricSlice{}, enc, Config{Frequency: 0}, logger)
	assert.Error(t, err)
	_, err = NewWorker(0, metricSlice{}, enc, Config{Frequency: time.Second, Aligned: true, AlignOffset: time.Second}, logger)
	assert.Error(t, err)
}

func TestConfigFromViper(t *testing.T) {
	t.Parallel()
	v := viper.New()
	cfg, err := ConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, DefaultFrequency, cfg.Frequency)
	assert.False(t, cfg.Aligned)
	assert.NotNil(t, cfg.Backoff)

	v = viper.New()
	v.Set(ParamFrequency, "2s")
	v.Set(ParamAligned, true)
	v.Set(ParamAlignOffset, "500ms")
	cfg, err = ConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Frequency)
	assert.True(t, cfg.Aligned)
	assert.Equal(t, 500*time.Millisecond, cfg.AlignOffset)

	v = viper.New()
	v.Set("retry-policy", "sometimes")
	_, err = ConfigFromViper(v)
	assert.Error(t, err)
}
