package sender

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlassian/gobrubeck/internal/fixtures"
)

func TestSenderWrite(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, e := l.Accept()
		if !assert.NoError(t, e) {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	s := &Sender{
		Logger:       fixtures.NewTestLogger(t),
		Address:      l.Addr().String(),
		DialTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
	assert.False(t, s.Connected())
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()), "connect is idempotent")
	assert.True(t, s.Connected())

	require.NoError(t, s.Write([]byte("hello ")))
	require.NoError(t, s.Write([]byte("world\n")))
	assert.EqualValues(t, 12, s.Sent())
	require.NoError(t, s.Close())
	assert.False(t, s.Connected())

	select {
	case data := <-received:
		assert.Equal(t, "hello world\n", string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestSenderConnectFailure(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	s := &Sender{
		Logger:      fixtures.NewTestLogger(t),
		Address:     addr,
		DialTimeout: time.Second,
	}
	assert.Error(t, s.Connect(context.Background()))
	assert.False(t, s.Connected())
	assert.Error(t, s.Write([]byte("x")))
	assert.NoError(t, s.Close())
}
