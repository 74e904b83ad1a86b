package gobrubeck

import (
	"fmt"
)

// Kind is the aggregation algorithm used by a metric.
type Kind uint8

const (
	// GAUGE holds the last written value.
	GAUGE Kind = iota
	// METER accumulates values over a flush interval.
	METER
	// COUNTER accumulates deltas between monotonic snapshots.
	COUNTER
	// HISTOGRAM aggregates values into a statistical summary.
	HISTOGRAM
	// TIMER is a HISTOGRAM that reports durations.
	TIMER
	// INTERNAL reports the daemon's own counters.
	INTERNAL
)

func (k Kind) String() string {
	switch k {
	case GAUGE:
		return "gauge"
	case METER:
		return "meter"
	case COUNTER:
		return "counter"
	case HISTOGRAM:
		return "histogram"
	case TIMER:
		return "timer"
	case INTERNAL:
		return "internal"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Symbol returns the wire protocol type symbol of the kind.
func (k Kind) Symbol() string {
	switch k {
	case GAUGE:
		return "g"
	case METER:
		return "c"
	case COUNTER:
		return "C"
	case HISTOGRAM:
		return "h"
	case TIMER:
		return "ms"
	case INTERNAL:
		return "i"
	}
	return "?"
}

// Modifier is a set of flags altering how a value is recorded.
type Modifier uint8

const (
	// Relative makes a gauge write add to the stored value instead of replacing it.
	Relative Modifier = 1 << iota
)

// State is the activity state of a metric. Each expiry tick moves a metric that
// was not written one step down; DISABLED metrics are not flushed.
type State uint32

const (
	DISABLED State = iota
	INACTIVE
	ACTIVE
)

func (s State) String() string {
	switch s {
	case DISABLED:
		return "disabled"
	case INACTIVE:
		return "inactive"
	case ACTIVE:
		return "active"
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}
