// Package redis implements an encoder keeping a capped history of flushes in a
// Redis list, one JSON document per flush.
package redis

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/atlassian/gobrubeck"
)

const (
	// EncoderName is the name of this encoder.
	EncoderName = "redis"
	// DefaultAddress is the default address of the Redis server.
	DefaultAddress = "127.0.0.1:6379"
	// DefaultListKey is the default key of the history list.
	DefaultListKey = "gobrubeck:history"
	// DefaultMaxLength is the default number of flushes kept in the list.
	DefaultMaxLength = 9600
	// DefaultDialTimeout is the default connection timeout.
	DefaultDialTimeout = 5 * time.Second
	// DefaultWriteTimeout is the default socket write timeout.
	DefaultWriteTimeout = 30 * time.Second
)

const (
	ParamAddress      = "address"
	ParamPassword     = "password"
	ParamDB           = "db"
	ParamListKey      = "list-key"
	ParamMaxLength    = "max-length"
	ParamDialTimeout  = "dial-timeout"
	ParamWriteTimeout = "write-timeout"
)

const dateTimeFormat = "Mon Jan _2 2006 15:04:05 GMT+0000 (UTC)"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Publish is the document pushed for every flush.
type Publish struct {
	Counters  map[string]float64 `json:"counters"`
	Gauges    map[string]float64 `json:"gauges"`
	Timers    map[string]float64 `json:"timers"`
	Internal  map[string]float64 `json:"internal"`
	TimeStamp int64              `json:"timestamp"`
	DateTime  string             `json:"datetime"`
}

func newPublish() *Publish {
	return &Publish{
		Counters: map[string]float64{},
		Gauges:   map[string]float64{},
		Timers:   map[string]float64{},
		Internal: map[string]float64{},
	}
}

// Client is a gobrubeck.Encoder writing to Redis.
type Client struct {
	// Counter fields below must be read/written only using atomic instructions.
	// 64-bit fields must be the first fields in the struct to guarantee proper memory alignment.
	// See https://golang.org/pkg/sync/atomic/#pkg-note-BUG
	sent      uint64
	connected uint32

	options   *redis.Options
	listKey   string
	maxLength int64
	logger    logrus.FieldLogger

	client  *redis.Client
	pending *Publish
	samples int
}

// NewClientFromViper constructs a Redis encoder from its backend table.
func NewClientFromViper(v *viper.Viper, logger logrus.FieldLogger) (gobrubeck.Encoder, error) {
	v.SetDefault(ParamAddress, DefaultAddress)
	v.SetDefault(ParamListKey, DefaultListKey)
	v.SetDefault(ParamMaxLength, DefaultMaxLength)
	v.SetDefault(ParamDB, 0)
	v.SetDefault(ParamDialTimeout, DefaultDialTimeout)
	v.SetDefault(ParamWriteTimeout, DefaultWriteTimeout)
	return NewClient(
		&redis.Options{
			Addr:         v.GetString(ParamAddress),
			Password:     v.GetString(ParamPassword),
			DB:           v.GetInt(ParamDB),
			DialTimeout:  v.GetDuration(ParamDialTimeout),
			WriteTimeout: v.GetDuration(ParamWriteTimeout),
			MaxRetries:   0,
		},
		v.GetString(ParamListKey),
		v.GetInt64(ParamMaxLength),
		logger,
	)
}

// NewClient constructs a Redis encoder. The connection is established by Connect.
func NewClient(options *redis.Options, listKey string, maxLength int64, logger logrus.FieldLogger) (*Client, error) {
	if options.Addr == "" {
		return nil, fmt.Errorf("[%s] address is required", EncoderName)
	}
	if listKey == "" {
		return nil, fmt.Errorf("[%s] %s is required", EncoderName, ParamListKey)
	}
	if maxLength < 1 {
		return nil, fmt.Errorf("[%s] %s must be positive", EncoderName, ParamMaxLength)
	}
	logger = logger.WithFields(logrus.Fields{
		"encoder": EncoderName,
		"address": options.Addr,
	})
	logger.WithFields(logrus.Fields{
		"list-key":   listKey,
		"max-length": maxLength,
	}).Info("created encoder")
	return &Client{
		options:   options,
		listKey:   listKey,
		maxLength: maxLength,
		logger:    logger,
		pending:   newPublish(),
	}, nil
}

func (c *Client) Name() string {
	return EncoderName
}

func (c *Client) Address() string {
	return c.options.Addr
}

// Connect checks that Redis is available.
func (c *Client) Connect(ctx context.Context) error {
	if c.client == nil {
		c.client = redis.NewClient(c.options)
	}
	if c.Connected() {
		return nil
	}
	if err := c.client.WithContext(ctx).Ping().Err(); err != nil {
		return err
	}
	atomic.StoreUint32(&c.connected, 1)
	c.logger.Info("Connected")
	return nil
}

func (c *Client) Connected() bool {
	return atomic.LoadUint32(&c.connected) == 1
}

func (c *Client) Sent() uint64 {
	return atomic.LoadUint64(&c.sent)
}

func (c *Client) Close() error {
	atomic.StoreUint32(&c.connected, 0)
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// Sample adds one value to the pending document.
func (c *Client) Sample(kind gobrubeck.Kind, key string, value float64, ts time.Time) {
	p := c.pending
	switch kind {
	case gobrubeck.METER, gobrubeck.COUNTER:
		p.Counters[key] = value
	case gobrubeck.GAUGE:
		p.Gauges[key] = value
	case gobrubeck.HISTOGRAM, gobrubeck.TIMER:
		p.Timers[key] = value
	default:
		p.Internal[key] = value
	}
	p.TimeStamp = ts.Unix()
	p.DateTime = ts.UTC().Format(dateTimeFormat)
	c.samples++
}

// Flush pushes the pending document and trims the list to the maximum length.
func (c *Client) Flush() error {
	if c.samples == 0 {
		return nil
	}
	doc, err := json.Marshal(c.pending)
	c.pending = newPublish()
	c.samples = 0
	if err != nil {
		return fmt.Errorf("[%s] failed to marshal flush: %v", EncoderName, err)
	}
	if c.client == nil {
		return fmt.Errorf("[%s] not connected", EncoderName)
	}
	_, err = c.client.Pipelined(func(p redis.Pipeliner) error {
		p.LPush(c.listKey, doc)
		p.LTrim(c.listKey, 0, c.maxLength-1)
		return nil
	})
	if err != nil {
		atomic.StoreUint32(&c.connected, 0)
		c.logger.WithError(err).Warn("Redis write failed")
		return err
	}
	atomic.AddUint64(&c.sent, uint64(len(doc)))
	return nil
}
