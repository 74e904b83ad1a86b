// Package sender holds the TCP connection handling shared by the stream encoders.
package sender

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Sender writes whole flushes to a TCP connection, dialing it on demand. It is used
// by a single shard worker; only Connected and Sent are safe for concurrent use.
type Sender struct {
	// Counter fields below must be read/written only using atomic instructions.
	// 64-bit fields must be the first fields in the struct to guarantee proper memory alignment.
	// See https://golang.org/pkg/sync/atomic/#pkg-note-BUG
	sent      uint64
	connected uint32

	Logger       logrus.FieldLogger
	Network      string
	Address      string
	DialTimeout  time.Duration
	WriteTimeout time.Duration

	conn net.Conn
}

// Connect dials the address unless a connection is already up.
func (s *Sender) Connect(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}
	network := s.Network
	if network == "" {
		network = "tcp"
	}
	d := net.Dialer{Timeout: s.DialTimeout}
	conn, err := d.DialContext(ctx, network, s.Address)
	if err != nil {
		return err
	}
	s.conn = conn
	atomic.StoreUint32(&s.connected, 1)
	s.Logger.Info("Connected")
	return nil
}

// Connected reports whether a connection is up.
func (s *Sender) Connected() bool {
	return atomic.LoadUint32(&s.connected) == 1
}

// Write writes p in full. A failed write drops the connection so that the next
// Connect dials again.
func (s *Sender) Write(p []byte) error {
	if s.conn == nil {
		return net.ErrClosed
	}
	if s.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout)); err != nil {
			s.disconnect(err)
			return err
		}
	}
	n, err := s.conn.Write(p)
	atomic.AddUint64(&s.sent, uint64(n))
	if err != nil {
		s.disconnect(err)
		return err
	}
	return nil
}

func (s *Sender) disconnect(err error) {
	s.Logger.WithError(err).Warn("Disconnected")
	_ = s.conn.Close()
	s.conn = nil
	atomic.StoreUint32(&s.connected, 0)
}

// Sent returns the number of bytes written.
func (s *Sender) Sent() uint64 {
	return atomic.LoadUint64(&s.sent)
}

// Close closes the connection if it is up.
func (s *Sender) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	atomic.StoreUint32(&s.connected, 0)
	return err
}
