package sampler

import (
	"context"
	"fmt"
	"net"

	"github.com/ash2k/stager/wait"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/net/ipv4"

	"github.com/atlassian/gobrubeck/internal/lexer"
)

// Statsd receives plain statsd datagrams.
type Statsd struct {
	flow
	ingester

	address   string
	workers   int
	multiSock bool
	multiMsg  int

	socketFactory SocketFactory
	conns         []net.PacketConn
}

// NewStatsdFromViper creates a Statsd sampler from its configuration table.
func NewStatsdFromViper(v *viper.Viper, deps Deps) (*Statsd, error) {
	v.SetDefault(ParamAddress, DefaultAddress)
	v.SetDefault(ParamWorkers, DefaultWorkers)
	v.SetDefault(ParamMultiMsg, DefaultMultiMsg)
	v.SetDefault(ParamMultiSock, false)
	return NewStatsd(
		deps,
		v.GetString(ParamAddress),
		v.GetInt(ParamWorkers),
		v.GetBool(ParamMultiSock),
		v.GetInt(ParamMultiMsg),
	)
}

// NewStatsd creates a Statsd sampler with workers receiving goroutines. With multiSock
// every worker opens its own socket. multiMsg greater than 1 reads datagrams in batches.
func NewStatsd(deps Deps, address string, workers int, multiSock bool, multiMsg int) (*Statsd, error) {
	if workers < 1 {
		return nil, fmt.Errorf("%s: %s must be positive", TypeStatsd, ParamWorkers)
	}
	if multiMsg < 1 {
		multiMsg = 1
	}
	if deps.SocketFactory == nil {
		deps.SocketFactory = DefaultSocketFactory
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	logger := deps.Logger.WithFields(logrus.Fields{
		"sampler": TypeStatsd,
		"address": address,
	})
	return &Statsd{
		ingester:      newIngester(deps, logger),
		address:       address,
		workers:       workers,
		multiSock:     multiSock,
		multiMsg:      multiMsg,
		socketFactory: deps.SocketFactory,
	}, nil
}

func (s *Statsd) Name() string {
	return TypeStatsd
}

func (s *Statsd) Address() string {
	return s.address
}

func (s *Statsd) Workers() int {
	return s.workers
}

// Listen opens one socket, or one per worker with multisock.
func (s *Statsd) Listen() error {
	n := 1
	if s.multiSock {
		n = s.workers
	}
	for i := 0; i < n; i++ {
		c, err := s.socketFactory(s.address, s.multiSock)
		if err != nil {
			s.closeAll()
			return fmt.Errorf("%s: failed to listen on %s: %w", TypeStatsd, s.address, err)
		}
		s.conns = append(s.conns, c)
	}
	if len(s.conns) > 0 && s.conns[0].LocalAddr() != nil {
		// resolves port 0
		s.address = s.conns[0].LocalAddr().String()
	}
	return nil
}

// Run receives until the context is done, then closes the sockets.
func (s *Statsd) Run(ctx context.Context) {
	if len(s.conns) == 0 {
		s.logger.Error("Sampler is not listening")
		return
	}
	var wg wait.Group
	defer wg.Wait()
	for i := 0; i < s.workers; i++ {
		c := s.conns[i%len(s.conns)]
		if s.multiMsg > 1 {
			wg.StartWithContext(ctx, func(ctx context.Context) {
				s.receiveBatch(ctx, c)
			})
		} else {
			wg.StartWithContext(ctx, func(ctx context.Context) {
				s.receive(ctx, c)
			})
		}
	}
	s.logger.WithFields(logrus.Fields{
		"workers":  s.workers,
		"sockets":  len(s.conns),
		"multimsg": s.multiMsg,
	}).Info("Sampler online")

	<-ctx.Done()
	// This makes receivers error out and stop
	s.closeAll()
}

func (s *Statsd) closeAll() {
	for _, c := range s.conns {
		if err := c.Close(); err != nil {
			s.logger.WithError(err).Warn("Error closing socket")
		}
	}
}

func (s *Statsd) receive(ctx context.Context, c net.PacketConn) {
	var lex lexer.Lexer
	lex.MaxKey = s.maxKey
	buf := make([]byte, packetSizeUDP)
	for {
		// This will error out when the socket is closed.
		nbytes, addr, err := c.ReadFrom(buf)
		if err != nil {
			if readError(ctx, s.logger, err) {
				return
			}
			continue
		}
		s.add(1)
		s.handlePacket(&lex, buf[:nbytes], addr)
	}
}

// receiveBatch reads up to multiMsg datagrams per call, using recvmmsg where available.
func (s *Statsd) receiveBatch(ctx context.Context, c net.PacketConn) {
	var lex lexer.Lexer
	lex.MaxKey = s.maxKey
	pc := ipv4.NewPacketConn(c)
	msgs := make([]ipv4.Message, s.multiMsg)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, packetSizeUDP)}
	}
	for {
		n, err := pc.ReadBatch(msgs, 0)
		if err != nil {
			if readError(ctx, s.logger, err) {
				return
			}
			continue
		}
		s.add(uint64(n))
		for i := 0; i < n; i++ {
			s.handlePacket(&lex, msgs[i].Buffers[0][:msgs[i].N], msgs[i].Addr)
		}
	}
}
