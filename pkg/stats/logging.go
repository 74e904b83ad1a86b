package stats

import (
	"github.com/sirupsen/logrus"
)

// Fields renders the snapshot as log fields, with interval counters as rates.
func (s Snapshot) Fields() logrus.Fields {
	return logrus.Fields{
		"metrics_per_second":   s.PerSecond(s.Metrics),
		"errors_per_second":    s.PerSecond(s.Errors),
		"unique_keys":          s.UniqueKeys,
		"memory":               s.Memory,
		"rejected_keys":        s.RejectedKeys,
		"secure_failed":        s.SecureFailed,
		"secure_from_future":   s.SecureFromFuture,
		"secure_delayed":       s.SecureDelayed,
		"secure_replayed":      s.SecureReplayed,
		"sample_interval_secs": s.Interval.Seconds(),
	}
}

// Log writes the snapshot to logger at Info level.
func Log(logger logrus.FieldLogger, s Snapshot, extra logrus.Fields) {
	logger.WithFields(s.Fields()).WithFields(extra).Info("stats")
}
