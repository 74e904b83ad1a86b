// Package opentsdb implements an encoder for the OpenTSDB telnet protocol.
package opentsdb

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
	EncoderName = "opentsdb"
	// DefaultAddress is the default address of the OpenTSDB server.
	DefaultAddress = "127.0.0.1:4242"
	// DefaultDialTimeout is the default net.Dial timeout.
	DefaultDialTimeout = 5 * time.Second
	// DefaultWriteTimeout is the default socket write timeout.
	DefaultWriteTimeout = 30 * time.Second
)

const (
	ParamAddress      = "address"
	ParamDialTimeout  = "dial-timeout"
	ParamWriteTimeout = "write-timeout"
	// ParamTags is the name of parameter with the tags appended to every put, as "k=v k=v".
	ParamTags = "tags"
)

const bufSize = 64 * 1024

// Client is a gobrubeck.Encoder writing "put" lines to OpenTSDB.
type Client struct {
	sender sender.Sender
	tags   string
	buf    []byte
	err    error
}

// NewClientFromViper constructs an OpenTSDB encoder from its backend table.
func NewClientFromViper(v *viper.Viper, logger logrus.FieldLogger) (gobrubeck.Encoder, error) {
	v.SetDefault(ParamAddress, DefaultAddress)
	v.SetDefault(ParamDialTimeout, DefaultDialTimeout)
	v.SetDefault(ParamWriteTimeout, DefaultWriteTimeout)
	return NewClient(
		v.GetString(ParamAddress),
		v.GetDuration(ParamDialTimeout),
		v.GetDuration(ParamWriteTimeout),
		v.GetString(ParamTags),
		logger,
	)
}

// NewClient constructs an OpenTSDB encoder. OpenTSDB requires at least one tag per
// data point.
func NewClient(address string, dialTimeout, writeTimeout time.Duration, tags string, logger logrus.FieldLogger) (*Client, error) {
	if address == "" {
		return nil, fmt.Errorf("[%s] address is required", EncoderName)
	}
	if dialTimeout <= 0 {
		return nil, fmt.Errorf("[%s] dialTimeout should be positive", EncoderName)
	}
	tags = strings.Join(strings.Fields(tags), " ")
	if tags == "" {
		return nil, fmt.Errorf("[%s] %s is required", EncoderName, ParamTags)
	}
	for _, tag := range strings.Fields(tags) {
		if k, v, ok := strings.Cut(tag, "="); !ok || k == "" || v == "" {
			return nil, fmt.Errorf("[%s] invalid tag %q, expected k=v", EncoderName, tag)
		}
	}
	logger = logger.WithFields(logrus.Fields{
		"encoder": EncoderName,
		"address": address,
	})
	logger.WithField("tags", tags).Info("created encoder")
	return &Client{
		sender: sender.Sender{
			Logger:       logger,
			Address:      address,
			DialTimeout:  dialTimeout,
			WriteTimeout: writeTimeout,
		},
		tags: tags,
	}, nil
}

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

// Sample buffers a "put key ts value tags" line.
func (c *Client) Sample(kind gobrubeck.Kind, key string, value float64, ts time.Time) {
	c.buf = append(c.buf, "put "...)
	c.buf = append(c.buf, key...)
	c.buf = append(c.buf, ' ')
	c.buf = strconv.AppendInt(c.buf, ts.Unix(), 10)
	c.buf = append(c.buf, ' ')
	c.buf = strconv.AppendFloat(c.buf, value, 'f', -1, 64)
	c.buf = append(c.buf, ' ')
	c.buf = append(c.buf, c.tags...)
	c.buf = append(c.buf, '\n')
	if len(c.buf) >= bufSize {
		c.write()
	}
}

func (c *Client) write() {
	if c.err == nil {
		c.err = c.sender.Write(c.buf)
	}
	c.buf = c.buf[:0]
}

// Flush writes out the buffered lines.
func (c *Client) Flush() error {
	if len(c.buf) > 0 {
		c.write()
	}
	err := c.err
	c.err = nil
	return err
}
