package gobrubeck

import (
	"context"
	"time"
)

// Runnable is a long running function intended to be launched in a goroutine.
type Runnable func(ctx context.Context)

// Runner is something that has a Run method.
type Runner interface {
	Run(ctx context.Context)
}

// Encoder writes flushed samples to a downstream system. An Encoder is owned by a
// single shard worker and is never called concurrently.
type Encoder interface {
	// Name returns the name of the encoder.
	Name() string
	// Address returns the downstream address, for status reporting.
	Address() string
	// Connect establishes the downstream connection if it is not already up.
	Connect(ctx context.Context) error
	// Connected reports whether the last Connect succeeded and no write failed since.
	// Safe for concurrent use.
	Connected() bool
	// Sample is called once per derived key during a flush.
	Sample(kind Kind, key string, value float64, ts time.Time)
	// Flush completes a flush, writing out anything buffered by Sample.
	Flush() error
	// Sent returns the number of bytes written downstream. Safe for concurrent use.
	Sent() uint64
	// Close releases the downstream connection.
	Close() error
}
