// Package carbon implements the Graphite carbon encoder, speaking either the
// plaintext or the pickle protocol.
package carbon

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/atlassian/gobrubeck"
	"github.com/atlassian/gobrubeck/pkg/backends/sender"
)

const (
	// EncoderName is the name of this encoder.
	EncoderName = "carbon"
	// DefaultAddress is the default address of the carbon server.
	DefaultAddress = "127.0.0.1:2003"
	// DefaultDialTimeout is the default net.Dial timeout.
	DefaultDialTimeout = 5 * time.Second
	// DefaultWriteTimeout is the default socket write timeout.
	DefaultWriteTimeout = 30 * time.Second
)

const (
	ParamAddress            = "address"
	ParamDialTimeout        = "dial-timeout"
	ParamWriteTimeout       = "write-timeout"
	ParamPickle             = "pickle"
	ParamNamespaceGlobal    = "namespace-global"
	ParamNamespaceCounter   = "namespace-counter"
	ParamNamespaceTimer     = "namespace-timer"
	ParamNamespaceHistogram = "namespace-histogram"
	ParamNamespaceGauge     = "namespace-gauge"
)

// plainBufferSize is the size at which buffered plaintext lines are written out early.
const plainBufferSize = 64 * 1024

// Namespaces are the key prefixes of the carbon encoder. Global is prepended to
// every key, the others to the keys of their kinds. Counter covers meters too.
type Namespaces struct {
	Global    string
	Counter   string
	Timer     string
	Histogram string
	Gauge     string
}

func (ns Namespaces) prefixes() [gobrubeck.INTERNAL + 1]string {
	var p [gobrubeck.INTERNAL + 1]string
	p[gobrubeck.GAUGE] = combine(ns.Global, ns.Gauge)
	p[gobrubeck.METER] = combine(ns.Global, ns.Counter)
	p[gobrubeck.COUNTER] = combine(ns.Global, ns.Counter)
	p[gobrubeck.HISTOGRAM] = combine(ns.Global, ns.Histogram)
	p[gobrubeck.TIMER] = combine(ns.Global, ns.Timer)
	p[gobrubeck.INTERNAL] = combine(ns.Global, "")
	for i := range p {
		if p[i] != "" {
			p[i] += "."
		}
	}
	return p
}

// Client is a gobrubeck.Encoder writing to a carbon server.
type Client struct {
	sender   sender.Sender
	prefixes [gobrubeck.INTERNAL + 1]string
	pickle   bool

	plain   []byte
	pickler pickler
	err     error // first write error of the current flush
}

// NewClientFromViper constructs a carbon encoder from its backend table.
func NewClientFromViper(v *viper.Viper, logger logrus.FieldLogger) (gobrubeck.Encoder, error) {
	v.SetDefault(ParamAddress, DefaultAddress)
	v.SetDefault(ParamDialTimeout, DefaultDialTimeout)
	v.SetDefault(ParamWriteTimeout, DefaultWriteTimeout)
	v.SetDefault(ParamPickle, false)
	return NewClient(
		v.GetString(ParamAddress),
		v.GetDuration(ParamDialTimeout),
		v.GetDuration(ParamWriteTimeout),
		v.GetBool(ParamPickle),
		Namespaces{
			Global:    v.GetString(ParamNamespaceGlobal),
			Counter:   v.GetString(ParamNamespaceCounter),
			Timer:     v.GetString(ParamNamespaceTimer),
			Histogram: v.GetString(ParamNamespaceHistogram),
			Gauge:     v.GetString(ParamNamespaceGauge),
		},
		logger,
	)
}

// NewClient constructs a carbon encoder.
func NewClient(address string, dialTimeout, writeTimeout time.Duration, pickle bool, ns Namespaces, logger logrus.FieldLogger) (*Client, error) {
	if address == "" {
		return nil, fmt.Errorf("[%s] address is required", EncoderName)
	}
	if dialTimeout <= 0 {
		return nil, fmt.Errorf("[%s] dialTimeout should be positive", EncoderName)
	}
	if writeTimeout < 0 {
		return nil, fmt.Errorf("[%s] writeTimeout should be non-negative", EncoderName)
	}
	logger = logger.WithFields(logrus.Fields{
		"encoder": EncoderName,
		"address": address,
	})
	logger.WithFields(logrus.Fields{
		"dial-timeout":  dialTimeout,
		"write-timeout": writeTimeout,
		"pickle":        pickle,
		"namespace":     ns.Global,
	}).Info("created encoder")

	c := &Client{
		sender: sender.Sender{
			Logger:       logger,
			Address:      address,
			DialTimeout:  dialTimeout,
			WriteTimeout: writeTimeout,
		},
		prefixes: ns.prefixes(),
		pickle:   pickle,
	}
	c.pickler.reset()
	return c, nil
}

// Name returns the name of the encoder.
func (c *Client) Name() string {
	return EncoderName
}

func (c *Client) Address() string {
	return c.sender.Address
}

func (c *Client) Connect(ctx context.Context) error {
	return c.sender.Connect(ctx)
}

func (c *Client) Connected() bool {
	return c.sender.Connected()
}

func (c *Client) Sent() uint64 {
	return c.sender.Sent()
}

func (c *Client) Close() error {
	return c.sender.Close()
}

func (c *Client) name(kind gobrubeck.Kind, key string) string {
	if int(kind) < len(c.prefixes) {
		return c.prefixes[kind] + key
	}
	return key
}

// Sample buffers one value.
func (c *Client) Sample(kind gobrubeck.Kind, key string, value float64, ts time.Time) {
	name := c.name(kind, key)
	if c.pickle {
		if c.pickler.items > 0 && len(c.pickler.buf)+pickleItemSize+len(name) >= pickleBufferSize {
			c.writePickle()
		}
		c.pickler.push(name, ts.Unix(), value)
		return
	}
	c.plain = appendPlaintext(c.plain, name, value, ts.Unix())
	if len(c.plain) >= plainBufferSize {
		c.writePlain()
	}
}

// appendPlaintext appends a "name value timestamp\n" line.
func appendPlaintext(buf []byte, name string, value float64, ts int64) []byte {
	buf = append(buf, name...)
	buf = append(buf, ' ')
	buf = strconv.AppendFloat(buf, value, 'f', -1, 64)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, ts, 10)
	return append(buf, '\n')
}

func (c *Client) write(p []byte) {
	if c.err != nil {
		// the connection is gone, drop the rest of this flush
		return
	}
	c.err = c.sender.Write(p)
}

func (c *Client) writePlain() {
	c.write(c.plain)
	c.plain = c.plain[:0]
}

func (c *Client) writePickle() {
	c.write(c.pickler.finish())
	c.pickler.reset()
}

// Flush writes out everything buffered since the previous flush.
func (c *Client) Flush() error {
	if c.pickle {
		if c.pickler.items > 0 {
			c.writePickle()
		}
	} else if len(c.plain) > 0 {
		c.writePlain()
	}
	err := c.err
	c.err = nil
	return err
}

func combine(prefix, suffix string) string {
	prefix = strings.Trim(prefix, ".")
	suffix = strings.Trim(suffix, ".")
	if prefix != "" && suffix != "" {
		return prefix + "." + suffix
	}
	if prefix != "" {
		return prefix
	}
	return suffix
}
