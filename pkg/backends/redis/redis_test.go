package redis

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlassian/gobrubeck"
	"github.com/atlassian/gobrubeck/internal/fixtures"
)

// fakeRedis answers PING, LPUSH and LTRIM over the RESP protocol and records
// every command it receives.
type fakeRedis struct {
	l net.Listener

	mu       sync.Mutex
	commands [][]string
}

func newFakeRedis(t *testing.T) *fakeRedis {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeRedis{l: l}
	go f.serve()
	t.Cleanup(func() { _ = l.Close() })
	return f
}

func (f *fakeRedis) serve() {
	for {
		conn, err := f.l.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeRedis) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		cmd, err := readCommand(r)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		f.mu.Unlock()
		var reply string
		switch strings.ToUpper(cmd[0]) {
		case "PING":
			reply = "+PONG\r\n"
		case "LPUSH":
			reply = ":1\r\n"
		case "LTRIM", "SELECT", "AUTH":
			reply = "+OK\r\n"
		default:
			reply = "-ERR unknown command\r\n"
		}
		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\r\n"), nil
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("unexpected %q", line)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, err
	}
	cmd := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := readLine(r)
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimPrefix(header, "$"))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		cmd = append(cmd, string(buf[:size]))
	}
	return cmd, nil
}

func (f *fakeRedis) Commands() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.commands...)
}

func newTestClient(t *testing.T, addr string) *Client {
	c, err := NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: time.Second,
		MaxRetries:  0,
	}, "test:history", 10, fixtures.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestFlushPushesDocument(t *testing.T) {
	t.Parallel()
	server := newFakeRedis(t)
	c := newTestClient(t, server.l.Addr().String())

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())

	ts := time.Unix(1600000000, 0)
	c.Sample(gobrubeck.METER, "hits", 4, ts)
	c.Sample(gobrubeck.GAUGE, "temp", 21.5, ts)
	c.Sample(gobrubeck.TIMER, "lat.count", 2, ts)
	c.Sample(gobrubeck.INTERNAL, "gobrubeck.metrics", 6, ts)
	require.NoError(t, c.Flush())
	assert.NotZero(t, c.Sent())

	cmds := server.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "ping", strings.ToLower(cmds[0][0]))
	assert.Equal(t, []string{"ltrim", "test:history", "0", "9"}, lower0(cmds[2]))

	push := cmds[1]
	require.Len(t, push, 3)
	assert.Equal(t, "lpush", strings.ToLower(push[0]))
	assert.Equal(t, "test:history", push[1])
	var doc Publish
	require.NoError(t, json.Unmarshal([]byte(push[2]), &doc))
	assert.Equal(t, Publish{
		Counters:  map[string]float64{"hits": 4},
		Gauges:    map[string]float64{"temp": 21.5},
		Timers:    map[string]float64{"lat.count": 2},
		Internal:  map[string]float64{"gobrubeck.metrics": 6},
		TimeStamp: 1600000000,
		DateTime:  "Sun Sep 13 2020 12:26:40 GMT+0000 (UTC)",
	}, doc)
	assert.EqualValues(t, len(push[2]), c.Sent())
}

func lower0(cmd []string) []string {
	out := append([]string(nil), cmd...)
	out[0] = strings.ToLower(out[0])
	return out
}

func TestEmptyFlushWritesNothing(t *testing.T) {
	t.Parallel()
	server := newFakeRedis(t)
	c := newTestClient(t, server.l.Addr().String())
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Flush())
	assert.Len(t, server.Commands(), 1, "only the ping")
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c := newTestClient(t, addr)
	assert.Error(t, c.Connect(context.Background()))
	assert.False(t, c.Connected())
}

func TestNewClientFromViper(t *testing.T) {
	t.Parallel()
	enc, err := NewClientFromViper(viper.New(), fixtures.NewTestLogger(t))
	require.NoError(t, err)
	c := enc.(*Client)
	assert.Equal(t, DefaultAddress, c.Address())
	assert.Equal(t, DefaultListKey, c.listKey)
	assert.EqualValues(t, DefaultMaxLength, c.maxLength)

	v := viper.New()
	v.Set(ParamMaxLength, 0)
	_, err = NewClientFromViper(v, fixtures.NewTestLogger(t))
	assert.Error(t, err)
}
