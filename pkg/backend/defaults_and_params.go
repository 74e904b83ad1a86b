package backend

import (
	"time"
)

const (
	// DefaultFrequency is the default interval between flushes of a shard.
	DefaultFrequency = 10 * time.Second
	// DefaultAligned is the default setting whether flushes are aligned to the wall clock.
	DefaultAligned = false
	// DefaultAlignOffset is the default offset of aligned flushes.
	DefaultAlignOffset = time.Duration(0)
)

const (
	// ParamType is the name of parameter with the encoder type of a backend.
	ParamType = "type"
	// ParamFrequency is the name of parameter with the interval between flushes.
	ParamFrequency = "frequency"
	// ParamAligned is the name of parameter aligning flushes to multiples of the frequency.
	ParamAligned = "aligned"
	// ParamAlignOffset is the name of parameter with the offset of aligned flushes.
	ParamAlignOffset = "align-offset"
)
