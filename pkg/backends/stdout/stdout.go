// Package stdout implements an encoder printing flushes to standard output, for debugging.
package stdout

import (
	"context"
	"io"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/atlassian/gobrubeck")

// EncoderName is the name of this encoder.
const EncoderName = "stdout"

// Client is a gobrubeck.Encoder writing "kind key value timestamp" lines.
type Client struct {
	sent uint64 // atomic

	w   io.Writer
	buf []byte
}

// NewClientFromViper constructs a stdout encoder.
func NewClientFromViper(v *viper.Viper, logger logrus.FieldLogger) (gobrubeck.Encoder, error) {
	return NewClient(os.Stdout), nil
}

// NewClient constructs an encoder writing to w. Closing the encoder does not close w.
func NewClient(w io.Writer) *Client {
	return &Client{
		w: w,
	}
}

func (c *Client) Name() string {
	return EncoderName
}

func (c *Client) Address() string {
	return "-"
}

func (c *Client) Connect(ctx context.Context) error {
	return nil
}

func (c *Client) Connected() bool {
	return true
}

func (c *Client) Sent() uint64 {
	return atomic.LoadUint64(&c.sent)
}

func (c *Client) Close() error {
	return nil
}

func (c *Client) Sample(kind gobrubeck.Kind, key string, value float64, ts time.Time) {
	c.buf = append(c.buf, kind.String()...)
	c.buf = append(c.buf, ' ')
	c.buf = append(c.buf, key...)
	c.buf = append(c.buf, ' ')
	c.buf = strconv.AppendFloat(c.buf, value, 'f', -1, 64)
	c.buf = append(c.buf, ' ')
	c.buf = strconv.AppendInt(c.buf, ts.Unix(), 10)
	c.buf = append(c.buf, '\n')
}

func (c *Client) Flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	n, err := c.w.Write(c.buf)
	atomic.AddUint64(&c.sent, uint64(n))
	c.buf = c.buf[:0]
	return err
}
