package util

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/spf13/viper"
)

// Reconnect policy keys, read from each backend table.
const (
	ParamRetryPolicy   = "retry-policy"
	ParamRetryInterval = "retry-interval"
	ParamRetryMaxCount = "retry-max-count"
	ParamRetryMaxTime  = "retry-max-time"
)

const (
	RetryDisabled    = "disabled"
	RetryConstant    = "constant"
	RetryExponential = "exponential"
)

const (
	DefaultRetryPolicy   = RetryExponential
	DefaultRetryInterval = time.Second
	DefaultRetryMaxCount = 0 // unlimited
	DefaultRetryMaxTime  = 15 * time.Second
)

// BackoffFactory creates a fresh backoff for every reconnect sequence.
type BackoffFactory func() backoff.BackOff

// NewBackoffFactory returns a factory of randomized backoffs starting at interval and
// growing by multiplier, so a multiplier of 1 is a jittered constant interval. A
// sequence stops after maxElapsedTime, or after maxRetries attempts when non-zero.
func NewBackoffFactory(multiplier float64, maxElapsedTime, interval time.Duration, maxRetries uint64) BackoffFactory {
	return func() backoff.BackOff {
		var bo backoff.BackOff = &backoff.ExponentialBackOff{
			InitialInterval:     interval,
			RandomizationFactor: backoff.DefaultRandomizationFactor,
			Multiplier:          multiplier,
			MaxInterval:         backoff.DefaultMaxInterval,
			MaxElapsedTime:      maxElapsedTime,
			Clock:               backoff.SystemClock,
		}
		bo.Reset()
		if maxRetries > 0 {
			bo = backoff.WithMaxRetries(bo, maxRetries)
		}
		return bo
	}
}

// GetRetryFromViper builds the reconnect policy of a backend table.
func GetRetryFromViper(v *viper.Viper) (BackoffFactory, error) {
	v.SetDefault(ParamRetryPolicy, DefaultRetryPolicy)
	v.SetDefault(ParamRetryInterval, DefaultRetryInterval)
	v.SetDefault(ParamRetryMaxCount, DefaultRetryMaxCount)
	v.SetDefault(ParamRetryMaxTime, DefaultRetryMaxTime)

	interval := v.GetDuration(ParamRetryInterval)
	maxCount := v.GetInt64(ParamRetryMaxCount)
	maxTime := v.GetDuration(ParamRetryMaxTime)
	switch {
	case interval <= 0:
		return nil, fmt.Errorf("%s must be positive, got %v", ParamRetryInterval, interval)
	case maxCount < 0:
		return nil, fmt.Errorf("%s must not be negative, got %d", ParamRetryMaxCount, maxCount)
	case maxTime <= 0:
		return nil, fmt.Errorf("%s must be positive, got %v", ParamRetryMaxTime, maxTime)
	}

	switch policy := v.GetString(ParamRetryPolicy); policy {
	case RetryDisabled:
		return func() backoff.BackOff { return &backoff.StopBackOff{} }, nil
	case RetryConstant:
		return NewBackoffFactory(1, maxTime, interval, uint64(maxCount)), nil
	case RetryExponential:
		return NewBackoffFactory(backoff.DefaultMultiplier, maxTime, interval, uint64(maxCount)), nil
	default:
		return nil, fmt.Errorf("%s %q is not one of %s, %s or %s",
			ParamRetryPolicy, policy, RetryDisabled, RetryConstant, RetryExponential)
	}
}
