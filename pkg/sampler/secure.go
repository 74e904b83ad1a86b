package sampler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net"
	"time"

	"github.com/ash2k/stager/wait"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tilinna/clock"

	"github.com/atlassian/gobrubeck/internal/lexer"
	"github.com/atlassian/gobrubeck/pkg/bloom"
)

const (
	// MACSize is the size of the HMAC-SHA256 heading a secure datagram.
	MACSize = sha256.Size
	// HeaderSize is the size of the secure envelope before the statements:
	// MAC, 8 byte little endian unix timestamp in seconds and a 4 byte nonce.
	HeaderSize = MACSize + 8 + 4

	securePacketSize = 1024
	// MaxSecurePayload is the largest statement payload a secure datagram can carry.
	MaxSecurePayload = securePacketSize - HeaderSize
)

// SealEnvelope wraps payload in a secure envelope signed with key.
func SealEnvelope(key []byte, ts time.Time, nonce uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint64(buf[MACSize:], uint64(ts.Unix()))
	binary.LittleEndian.PutUint32(buf[MACSize+8:], nonce)
	copy(buf[HeaderSize:], payload)
	mac := hmac.New(sha256.New, key)
	mac.Write(buf[MACSize:])
	mac.Sum(buf[:0])
	return buf
}

// Secure receives statsd datagrams wrapped in an HMAC envelope and drops the ones
// that fail authentication, are too old or from the future, or were already seen.
type Secure struct {
	flow
	ingester

	address string
	workers int
	key     []byte
	drift   int64 // seconds
	replays *bloom.Bank

	socketFactory SocketFactory
	conn          net.PacketConn
}

// NewSecureFromViper creates a Secure sampler from its configuration table.
func NewSecureFromViper(v *viper.Viper, deps Deps) (*Secure, error) {
	v.SetDefault(ParamAddress, DefaultAddress)
	v.SetDefault(ParamWorkers, 1)
	v.SetDefault(ParamMaxDrift, DefaultMaxDrift)
	v.SetDefault(ParamReplayLen, DefaultReplayLen)
	return NewSecure(
		deps,
		v.GetString(ParamAddress),
		v.GetInt(ParamWorkers),
		[]byte(v.GetString(ParamHMACKey)),
		v.GetDuration(ParamMaxDrift),
		v.GetInt(ParamReplayLen),
	)
}

// NewSecure creates a Secure sampler. maxDrift is rounded down to whole seconds and
// sizes the ring of replay filters; replayLen is the number of datagrams per second
// each filter is sized for.
func NewSecure(deps Deps, address string, workers int, key []byte, maxDrift time.Duration, replayLen int) (*Secure, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%s: %s is required", TypeStatsdSecure, ParamHMACKey)
	}
	if workers < 1 {
		return nil, fmt.Errorf("%s: %s must be positive", TypeStatsdSecure, ParamWorkers)
	}
	drift := int64(maxDrift / time.Second)
	if drift < 1 {
		return nil, fmt.Errorf("%s: %s must be at least 1s", TypeStatsdSecure, ParamMaxDrift)
	}
	replays, err := bloom.NewBank(int(drift), replayLen, bloom.DefaultErrorRate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", TypeStatsdSecure, err)
	}
	if deps.SocketFactory == nil {
		deps.SocketFactory = DefaultSocketFactory
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	logger := deps.Logger.WithFields(logrus.Fields{
		"sampler": TypeStatsdSecure,
		"address": address,
	})
	return &Secure{
		ingester:      newIngester(deps, logger),
		address:       address,
		workers:       workers,
		key:           key,
		drift:         drift,
		replays:       replays,
		socketFactory: deps.SocketFactory,
	}, nil
}

func (s *Secure) Name() string {
	return TypeStatsdSecure
}

func (s *Secure) Address() string {
	return s.address
}

func (s *Secure) Workers() int {
	return s.workers
}

// Listen opens the socket shared by all workers.
func (s *Secure) Listen() error {
	c, err := s.socketFactory(s.address, false)
	if err != nil {
		return fmt.Errorf("%s: failed to listen on %s: %w", TypeStatsdSecure, s.address, err)
	}
	s.conn = c
	if c.LocalAddr() != nil {
		s.address = c.LocalAddr().String()
	}
	return nil
}

// Run receives until the context is done, then closes the socket.
func (s *Secure) Run(ctx context.Context) {
	if s.conn == nil {
		s.logger.Error("Sampler is not listening")
		return
	}
	var wg wait.Group
	defer wg.Wait()
	for i := 0; i < s.workers; i++ {
		wg.StartWithContext(ctx, s.receive)
	}
	s.logger.WithField("workers", s.workers).Info("Sampler online")

	<-ctx.Done()
	if err := s.conn.Close(); err != nil {
		s.logger.WithError(err).Warn("Error closing socket")
	}
}

func (s *Secure) receive(ctx context.Context) {
	clck := clock.FromContext(ctx)
	var lex lexer.Lexer
	lex.MaxKey = s.maxKey
	mac := hmac.New(sha256.New, s.key)
	sum := make([]byte, 0, MACSize)
	buf := make([]byte, securePacketSize)
	for {
		nbytes, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if readError(ctx, s.logger, err) {
				return
			}
			continue
		}
		s.add(1)
		s.handleDatagram(&lex, mac, sum, buf[:nbytes], addr, clck.Now())
	}
}

var (
	errShortDatagram = errors.New("short datagram")
	errBadMAC        = errors.New("authentication failed")
	errFromFuture    = errors.New("timestamp from the future")
	errDelayed       = errors.New("timestamp too old")
	errReplayed      = errors.New("replayed datagram")
)

// handleDatagram verifies the envelope of msg and records its statements.
func (s *Secure) handleDatagram(lex *lexer.Lexer, mac hash.Hash, sum, msg []byte, addr net.Addr, now time.Time) {
	err := s.verify(mac, sum, msg, now.Unix())
	switch err {
	case nil:
		s.handlePacket(lex, msg[HeaderSize:], addr)
		return
	case errShortDatagram, errBadMAC:
		s.stats.IncSecureFailed()
	case errFromFuture:
		s.stats.IncSecureFromFuture()
	case errDelayed:
		s.stats.IncSecureDelayed()
	case errReplayed:
		s.stats.IncSecureReplayed()
	}
	s.logger.WithError(err).WithField("from", addrString(addr)).Debug("Dropped secure datagram")
}

func (s *Secure) verify(mac hash.Hash, sum, msg []byte, now int64) error {
	if len(msg) < HeaderSize {
		return errShortDatagram
	}
	mac.Reset()
	mac.Write(msg[MACSize:])
	if !hmac.Equal(mac.Sum(sum[:0]), msg[:MACSize]) {
		return errBadMAC
	}

	s.replays.Advance(now)

	ts := int64(binary.LittleEndian.Uint64(msg[MACSize:]))
	if ts > now || ts < 0 {
		return errFromFuture
	}
	// A timestamp drift seconds old maps to the bucket cleared for now.
	if now-ts >= s.drift {
		return errDelayed
	}

	a := binary.LittleEndian.Uint32(msg[0:4])
	b := binary.LittleEndian.Uint32(msg[4:8])
	if s.replays.Check(uint64(ts%s.drift), a, b) {
		return errReplayed
	}
	return nil
}
