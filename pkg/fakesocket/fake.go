// Package fakesocket provides an in-memory net.PacketConn for sampler tests.
package fakesocket

import (
	"errors"
	"net"
	"sync"
	"time"
)

// FakeAddr is the address every fake datagram comes from.
var FakeAddr = &net.UDPAddr{
	IP:   net.IPv4(127, 0, 0, 1),
	Port: 8181,
}

var (
	ErrClosedConnection        = errors.New("connection is closed")
	ErrAlreadyClosedConnection = errors.New("connection is already closed")
)

// QueuePacketConn is a net.PacketConn returning queued datagrams in order. Reads
// block once the queue is drained, until the connection is closed.
type QueuePacketConn struct {
	packets   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// NewQueuePacketConn creates a QueuePacketConn with the given datagrams queued.
func NewQueuePacketConn(packets ...[]byte) *QueuePacketConn {
	qpc := &QueuePacketConn{
		packets: make(chan []byte, len(packets)+64),
		closed:  make(chan struct{}),
	}
	for _, p := range packets {
		qpc.packets <- p
	}
	return qpc
}

// Push queues another datagram.
func (qpc *QueuePacketConn) Push(p []byte) {
	qpc.packets <- p
}

// ReadFrom copies the next queued datagram into b, truncating it like a real
// datagram socket would.
func (qpc *QueuePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case <-qpc.closed:
		return 0, nil, ErrClosedConnection
	case p := <-qpc.packets:
		return copy(b, p), FakeAddr, nil
	}
}

// WriteTo discards b.
func (qpc *QueuePacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	select {
	case <-qpc.closed:
		return 0, ErrClosedConnection
	default:
		return len(b), nil
	}
}

// Close unblocks pending reads. Closing twice returns ErrAlreadyClosedConnection.
func (qpc *QueuePacketConn) Close() error {
	err := ErrAlreadyClosedConnection
	qpc.closeOnce.Do(func() {
		close(qpc.closed)
		err = nil
	})
	return err
}

func (qpc *QueuePacketConn) LocalAddr() net.Addr                { return FakeAddr }
func (qpc *QueuePacketConn) SetDeadline(t time.Time) error      { return nil }
func (qpc *QueuePacketConn) SetReadDeadline(t time.Time) error  { return nil }
func (qpc *QueuePacketConn) SetWriteDeadline(t time.Time) error { return nil }
