package sampler

import (
	"time"
)

const (
	// TypeStatsd is the type of the plain statsd sampler.
	TypeStatsd = "statsd"
	// TypeStatsdSecure is the type of the HMAC authenticated statsd sampler.
	TypeStatsdSecure = "statsd-secure"
)

const (
	// DefaultAddress is the default listen address of a sampler.
	DefaultAddress = ":8126"
	// DefaultWorkers is the default number of receiving goroutines of the statsd sampler.
	DefaultWorkers = 4
	// DefaultMultiMsg is the default number of datagrams read per batch, 1 disables batching.
	DefaultMultiMsg = 1
	// DefaultMaxDrift is the default maximum age of a secure datagram.
	DefaultMaxDrift = 3 * time.Second
	// DefaultReplayLen is the default number of datagrams per second the replay filter is sized for.
	DefaultReplayLen = 8192
)

const (
	// ParamType is the name of parameter with the sampler type.
	ParamType = "type"
	// ParamAddress is the name of parameter with the listen address.
	ParamAddress = "address"
	// ParamWorkers is the name of parameter with the number of receiving goroutines.
	ParamWorkers = "workers"
	// ParamMultiSock is the name of parameter giving each worker its own SO_REUSEPORT socket.
	ParamMultiSock = "multisock"
	// ParamMultiMsg is the name of parameter with the number of datagrams read per batch.
	ParamMultiMsg = "multimsg"
	// ParamHMACKey is the name of parameter with the shared secret of the secure sampler.
	ParamHMACKey = "hmac-key"
	// ParamMaxDrift is the name of parameter with the maximum age of a secure datagram.
	ParamMaxDrift = "max-drift"
	// ParamReplayLen is the name of parameter with the replay filter size.
	ParamReplayLen = "replay-len"
)
