// Package backend runs the per-shard flush workers that sample metrics into encoders.
package backend

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tilinna/clock"
	"golang.org/x/time/rate"

	"github.com/atlassian/gobrubeck"
	internalutil "github.com/atlassian/gobrubeck/internal/util"
	"github.com/atlassian/gobrubeck/pkg/healthcheck"
	"github.com/atlassian/gobrubeck/pkg/metric"
	"github.com/atlassian/gobrubeck/pkg/util"
)

// MetricList is the list of metrics owned by one shard.
type MetricList interface {
	Each(visit func(*metric.Metric))
}

// Worker periodically samples the metrics of one shard into an encoder.
type Worker struct {
	// Counter fields below must be read/written only using atomic instructions.
	// 64-bit fields must be the first fields in the struct to guarantee proper memory alignment.
	// See https://golang.org/pkg/sync/atomic/#pkg-note-BUG
	samples        uint64
	flushes        uint64
	connectErrors  uint64
	flushErrors    uint64
	lastFlush      int64 // Unix timestamp in nsec.
	lastFlushError int64 // Unix timestamp in nsec.

	shard       int
	frequency   time.Duration
	aligned     bool
	alignOffset time.Duration
	encoder     gobrubeck.Encoder
	metrics     MetricList
	logger      logrus.FieldLogger

	backoffFactory util.BackoffFactory
	retry          backoff.BackOff
	retryAt        time.Time
	warnings       *rate.Limiter
}

// Config is the scheduling configuration of a Worker.
type Config struct {
	Frequency   time.Duration
	Aligned     bool
	AlignOffset time.Duration
	// Backoff paces reconnection attempts. Nil retries on every tick.
	Backoff util.BackoffFactory
}

// ConfigFromViper reads the scheduling configuration of a backend table.
func ConfigFromViper(v *viper.Viper) (Config, error) {
	v.SetDefault(ParamFrequency, DefaultFrequency)
	v.SetDefault(ParamAligned, DefaultAligned)
	v.SetDefault(ParamAlignOffset, DefaultAlignOffset)
	bf, err := util.GetRetryFromViper(v)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Frequency:   v.GetDuration(ParamFrequency),
		Aligned:     v.GetBool(ParamAligned),
		AlignOffset: v.GetDuration(ParamAlignOffset),
		Backoff:     bf,
	}, nil
}

// NewWorker creates the flush worker of shard.
func NewWorker(shard int, metrics MetricList, encoder gobrubeck.Encoder, config Config, logger logrus.FieldLogger) (*Worker, error) {
	if config.Frequency <= 0 {
		return nil, fmt.Errorf("%s must be positive", ParamFrequency)
	}
	if config.Aligned && (config.AlignOffset < 0 || config.AlignOffset >= config.Frequency) {
		return nil, fmt.Errorf("%s must be in [0, %s)", ParamAlignOffset, ParamFrequency)
	}
	return &Worker{
		shard:          shard,
		frequency:      config.Frequency,
		aligned:        config.Aligned,
		alignOffset:    config.AlignOffset,
		encoder:        encoder,
		metrics:        metrics,
		backoffFactory: config.Backoff,
		warnings:       rate.NewLimiter(rate.Every(time.Minute), 1),
		logger: logger.WithFields(logrus.Fields{
			"backend": encoder.Name(),
			"shard":   shard,
		}),
	}, nil
}

func (w *Worker) makeTicker(ctx context.Context) (<-chan time.Time, func()) {
	if w.aligned {
		flushTicker := internalutil.NewAlignedTickerWithContext(ctx, w.frequency, w.alignOffset)
		return flushTicker.C, flushTicker.Stop
	}
	clck := clock.FromContext(ctx)
	flushTicker := clck.NewTicker(w.frequency)
	return flushTicker.C, flushTicker.Stop
}

// Run flushes every frequency until the context is done, then closes the encoder.
func (w *Worker) Run(ctx context.Context) {
	ch, stop := w.makeTicker(ctx)
	defer stop()
	defer func() {
		if err := w.encoder.Close(); err != nil {
			w.logger.WithError(err).Warn("Error closing encoder")
		}
	}()

	w.logger.WithFields(logrus.Fields{
		"address":   w.encoder.Address(),
		"frequency": w.frequency,
	}).Info("Backend started")
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ch:
			w.Flush(ctx, now)
		}
	}
}

// Flush samples every enabled metric of the shard into the encoder, timestamped
// with now. Nothing is sampled while the encoder cannot connect, so the values keep
// accumulating until the next successful flush.
func (w *Worker) Flush(ctx context.Context, now time.Time) {
	if now.Before(w.retryAt) {
		return
	}
	if err := w.encoder.Connect(ctx); err != nil {
		atomic.AddUint64(&w.connectErrors, 1)
		w.scheduleRetry(now)
		if w.warnings.Allow() {
			w.logger.WithError(err).Warn("Failed to connect")
		}
		return
	}
	w.retry = nil
	w.retryAt = time.Time{}

	var samples uint64
	emit := func(kind gobrubeck.Kind, key string, value float64) {
		w.encoder.Sample(kind, key, value, now)
		samples++
	}
	w.metrics.Each(func(m *metric.Metric) {
		if m.State() > gobrubeck.DISABLED {
			m.Sample(now, w.frequency, emit)
		}
	})
	atomic.AddUint64(&w.samples, samples)

	if err := w.encoder.Flush(); err != nil {
		atomic.AddUint64(&w.flushErrors, 1)
		atomic.StoreInt64(&w.lastFlushError, now.UnixNano())
		w.logger.WithError(err).Error("Sending metrics to backend failed")
		return
	}
	atomic.AddUint64(&w.flushes, 1)
	atomic.StoreInt64(&w.lastFlush, now.UnixNano())
}

func (w *Worker) scheduleRetry(now time.Time) {
	if w.backoffFactory == nil {
		return
	}
	if w.retry == nil {
		w.retry = w.backoffFactory()
	}
	next := w.retry.NextBackOff()
	if next == backoff.Stop {
		// Exhausted the policy, start over rather than giving up on the shard.
		w.retry.Reset()
		next = 0
	}
	w.retryAt = now.Add(next)
}

// Shard returns the shard index.
func (w *Worker) Shard() int {
	return w.shard
}

// Frequency returns the interval between flushes.
func (w *Worker) Frequency() time.Duration {
	return w.frequency
}

// Encoder returns the encoder the worker writes to.
func (w *Worker) Encoder() gobrubeck.Encoder {
	return w.encoder
}

// Stats is a copy of the counters of a Worker.
type Stats struct {
	Samples       uint64
	Flushes       uint64
	ConnectErrors uint64
	FlushErrors   uint64
}

// Stats returns the worker counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Samples:       atomic.LoadUint64(&w.samples),
		Flushes:       atomic.LoadUint64(&w.flushes),
		ConnectErrors: atomic.LoadUint64(&w.connectErrors),
		FlushErrors:   atomic.LoadUint64(&w.flushErrors),
	}
}

// DeepChecks reports whether the encoder is connected and whether the last flush failed.
func (w *Worker) DeepChecks() []healthcheck.HealthcheckFunc {
	return []healthcheck.HealthcheckFunc{w.connectedCheck, w.flushCheck}
}

func (w *Worker) connectedCheck() (string, healthcheck.HealthyStatus) {
	if !w.encoder.Connected() {
		return fmt.Sprintf("backend %s (shard %d) disconnected", w.encoder.Name(), w.shard), healthcheck.Unhealthy
	}
	return fmt.Sprintf("backend %s (shard %d) connected", w.encoder.Name(), w.shard), healthcheck.Healthy
}

func (w *Worker) flushCheck() (string, healthcheck.HealthyStatus) {
	lastFlush := atomic.LoadInt64(&w.lastFlush)
	lastFlushError := atomic.LoadInt64(&w.lastFlushError)
	if lastFlushError > lastFlush {
		return fmt.Sprintf("backend %s (shard %d) last flush failed", w.encoder.Name(), w.shard), healthcheck.Unhealthy
	}
	return fmt.Sprintf("backend %s (shard %d) flushing", w.encoder.Name(), w.shard), healthcheck.Healthy
}
