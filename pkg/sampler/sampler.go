// Package sampler receives statsd datagrams over UDP and records the statements they
// carry into the metric store.
package sampler

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/libp2p/go-reuseport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/atlassian/gobrubeck"
	"github.com/atlassian/gobrubeck/internal/lexer"
	"github.com/atlassian/gobrubeck/pkg/metric"
	"github.com/atlassian/gobrubeck/pkg/stats"
)

// ip packet size is stored in two bytes and that is how big in theory the packet can be.
// In practice it is highly unlikely but still possible to get packets bigger than usual MTU of 1500.
const packetSizeUDP = 0xffff

// MetricStore finds or creates the metric a statement is recorded into.
type MetricStore interface {
	FindOrCreate(key []byte, kind gobrubeck.Kind) *metric.Metric
}

// Sampler is an ingestion endpoint.
type Sampler interface {
	gobrubeck.Runner
	// Name returns the configured type of the sampler.
	Name() string
	// Address returns the listen address.
	Address() string
	// Workers returns the number of receiving goroutines.
	Workers() int
	// Listen opens the sockets. It must be called once, before Run.
	Listen() error
	// SwapFlow moves the datagrams counted since the previous call into CurrentFlow.
	SwapFlow()
	// CurrentFlow returns the datagram count of the last completed flow interval.
	CurrentFlow() uint64
}

// SocketFactory is an indirection layer over net.ListenPacket() to allow for different implementations.
// reuse requests a socket with SO_REUSEPORT set.
type SocketFactory func(address string, reuse bool) (net.PacketConn, error)

// DefaultSocketFactory opens UDP sockets, using go-reuseport when reuse is set.
func DefaultSocketFactory(address string, reuse bool) (net.PacketConn, error) {
	if reuse {
		return reuseport.ListenPacket("udp", address)
	}
	return net.ListenPacket("udp", address)
}

// Deps are the shared components a sampler records into.
type Deps struct {
	Store  MetricStore
	Stats  *stats.Stats
	Logger logrus.FieldLogger
	// BadLineLimiter rate limits the debug log of unparseable lines. Nil disables it.
	BadLineLimiter *rate.Limiter
	// MaxKeyLength overrides the longest accepted key when positive.
	MaxKeyLength int
	// SocketFactory defaults to DefaultSocketFactory.
	SocketFactory SocketFactory
}

// NewBadLineLimiter returns a limiter allowing perMinute log lines, or nil when
// perMinute is not positive.
func NewBadLineLimiter(perMinute float64) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perMinute/60.0), 1)
}

// NewFromViper creates the sampler described by v. The "type" key selects the
// implementation.
func NewFromViper(v *viper.Viper, deps Deps) (Sampler, error) {
	if deps.SocketFactory == nil {
		deps.SocketFactory = DefaultSocketFactory
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	switch name := v.GetString(ParamType); name {
	case TypeStatsd:
		return NewStatsdFromViper(v, deps)
	case TypeStatsdSecure:
		return NewSecureFromViper(v, deps)
	default:
		return nil, fmt.Errorf("unknown sampler type %q", name)
	}
}

// flow counts datagrams and publishes the count once per interval.
type flow struct {
	// Counter fields below must be read/written only using atomic instructions.
	// 64-bit fields must be the first fields in the struct to guarantee proper memory alignment.
	// See https://golang.org/pkg/sync/atomic/#pkg-note-BUG
	inflow  uint64
	current uint64
}

func (f *flow) add(n uint64) {
	atomic.AddUint64(&f.inflow, n)
}

func (f *flow) SwapFlow() {
	atomic.StoreUint64(&f.current, atomic.SwapUint64(&f.inflow, 0))
}

func (f *flow) CurrentFlow() uint64 {
	return atomic.LoadUint64(&f.current)
}

// ingester parses datagram payloads and records their statements.
type ingester struct {
	store    MetricStore
	stats    *stats.Stats
	logger   logrus.FieldLogger
	badLines *rate.Limiter
	maxKey   int
}

func newIngester(deps Deps, logger logrus.FieldLogger) ingester {
	return ingester{
		store:    deps.Store,
		stats:    deps.Stats,
		logger:   logger,
		badLines: deps.BadLineLimiter,
		maxKey:   deps.MaxKeyLength,
	}
}

// handlePacket records every statement in msg. msg is modified in place.
func (in *ingester) handlePacket(lex *lexer.Lexer, msg []byte, addr net.Addr) {
	var parsed, failed uint64
	var m lexer.Message
	for {
		idx := bytes.IndexByte(msg, '\n')
		var line []byte
		// protocol does not require line to end in \n
		if idx == -1 { // \n not found
			if len(msg) == 0 {
				break
			}
			line = msg
			msg = nil
		} else { // usual case
			line = msg[:idx]
			msg = msg[idx+1:]
		}
		if len(line) == 0 {
			continue
		}
		if err := lex.Run(line, &m); err != nil {
			failed++
			in.logBadLine(line, addr, err)
			continue
		}
		parsed++
		if mt := in.store.FindOrCreate(m.Key, m.Kind); mt != nil {
			mt.Record(m.Value, m.SampleFreq, m.Modifiers)
		}
	}
	if parsed > 0 {
		in.stats.AddMetrics(parsed)
	}
	if failed > 0 {
		in.stats.AddErrors(failed)
	}
}

func (in *ingester) logBadLine(line []byte, addr net.Addr, err error) {
	if in.badLines == nil || !in.badLines.Allow() {
		return
	}
	// logging as debug to avoid spamming logs when a bad actor sends
	// badly formatted messages
	in.logger.WithFields(logrus.Fields{
		"line": string(line),
		"from": addrString(addr),
		"code": int(err.(lexer.ErrorCode)),
	}).WithError(err).Debug("Error parsing line")
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	return addr.String()
}

// readError decides whether a receive loop should stop after err. It logs the
// error unless the context is done.
func readError(ctx context.Context, logger logrus.FieldLogger, err error) (stop bool) {
	select {
	case <-ctx.Done():
		return true
	default:
	}
	if netErr, ok := err.(net.Error); ok && !netErr.Temporary() {
		logger.WithError(err).Error("Non-temporary error reading from socket")
		return true
	}
	logger.WithError(err).Warn("Error reading from socket")
	return false
}
