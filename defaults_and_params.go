package gobrubeck

import (
	"time"

	"github.com/spf13/pflag"
)

// DefaultPercentiles is the default list of reported histogram percentiles.
var DefaultPercentiles = []string{"0.75", "0.95", "0.98", "0.99", "0.999"}

const (
	// DefaultServerName is the default name of the internal metric prefix.
	DefaultServerName = "gobrubeck"
	// DefaultCapacity is the default maximum number of distinct metric keys.
	DefaultCapacity = 1 << 20
	// DefaultExpire is the default interval between expiry ticks.
	DefaultExpire = 20 * time.Second
	// DefaultDumpfile is where SIGUSR2 writes the list of known keys.
	DefaultDumpfile = "/tmp/gobrubeck.dump"
	// DefaultHTTPAddr is the default address of the admin API.
	DefaultHTTPAddr = "127.0.0.1:8080"
	// DefaultStatsInterval is the default interval between aggregate stats log lines.
	DefaultStatsInterval = 60 * time.Second
	// DefaultHistogramThreshold is the default threshold for trimmed histogram statistics.
	DefaultHistogramThreshold = 0.9
	// DefaultBadLinesPerMinute is the default number of bad lines to allow to log per minute.
	DefaultBadLinesPerMinute = 0
	// DefaultMaxKeyLength is the longest accepted metric key.
	DefaultMaxKeyLength = 256
)

const (
	// ParamServerName is the name of parameter with the server name.
	ParamServerName = "server-name"
	// ParamCapacity is the name of parameter with the maximum number of distinct keys.
	ParamCapacity = "capacity"
	// ParamExpire is the name of parameter with the expiry tick interval, 0 disables expiry.
	ParamExpire = "expire"
	// ParamDumpfile is the name of parameter with the key dump path.
	ParamDumpfile = "dumpfile"
	// ParamHTTPAddr is the name of parameter with the admin API address, empty disables it.
	ParamHTTPAddr = "http"
	// ParamHTTPEnableExpire is the name of parameter enabling the POST /expire/{key} route.
	ParamHTTPEnableExpire = "http-enable-expire"
	// ParamFlowTracking is the name of parameter enabling per-metric hit counting.
	ParamFlowTracking = "flow-tracking"
	// ParamStatsInterval is the name of parameter with the interval between aggregate stats log lines.
	ParamStatsInterval = "stats-interval"
	// ParamHistogramThreshold is the name of parameter with the trimmed statistics threshold.
	ParamHistogramThreshold = "histogram-threshold"
	// ParamPercentiles is the name of parameter with the list of reported percentiles.
	ParamPercentiles = "percentiles"
	// ParamBadLinesPerMinute is the name of parameter with the number of bad lines to allow to log per minute.
	ParamBadLinesPerMinute = "bad-lines-per-minute"
	// ParamLogFile is the name of parameter with the log file path, empty logs to stderr.
	ParamLogFile = "log-file"
	// ParamBackends is the name of the list of backend tables.
	ParamBackends = "backends"
	// ParamSamplers is the name of the list of sampler tables.
	ParamSamplers = "samplers"
)

// AddFlags adds flags to the specified FlagSet.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(ParamServerName, DefaultServerName, "Name of this server, used as the internal metric key")
	fs.Int(ParamCapacity, DefaultCapacity, "Maximum number of distinct metric keys")
	fs.Duration(ParamExpire, DefaultExpire, "Interval between metric expiry ticks, 0 to disable expiry")
	fs.String(ParamDumpfile, DefaultDumpfile, "File to write the list of known keys to on SIGUSR2")
	fs.String(ParamHTTPAddr, DefaultHTTPAddr, "Address of the admin API, empty to disable")
	fs.Bool(ParamHTTPEnableExpire, false, "Enable the POST /expire/{key} admin route")
	fs.Bool(ParamFlowTracking, false, "Count hits per metric for the /flow_stats admin route")
	fs.Duration(ParamStatsInterval, DefaultStatsInterval, "Interval between aggregate stats log lines")
	fs.Float64(ParamHistogramThreshold, DefaultHistogramThreshold, "Threshold for trimmed histogram statistics")
	fs.StringSlice(ParamPercentiles, DefaultPercentiles, "Reported histogram percentiles")
	fs.Float64(ParamBadLinesPerMinute, DefaultBadLinesPerMinute, "Number of bad lines to allow to log per minute")
	fs.String(ParamLogFile, "", "File to log to, reopened on SIGHUP. Logs to stderr when empty")
}
