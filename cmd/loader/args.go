package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
)

type commandOptions struct {
	Target       string `short:"a" long:"address"                 default:"127.0.0.1:8126" description:"Address to send metrics"                 `
	MetricPrefix string `short:"p" long:"metric-prefix"           default:"loadtest."      description:"Metric name prefix"                      `
	MetricSuffix string `          long:"metric-suffix"           default:".%d"            description:"Metric suffix with cardinality marker"   `
	Rate         uint   `short:"r" long:"rate"                    default:"1000"           description:"Target packets per second"               `
	DatagramSize uint   `          long:"buffer-size"             default:"1500"           description:"Maximum size of datagram to send"        `
	Workers      uint   `short:"w" long:"workers"                 default:"1"              description:"Number of parallel workers to use"       `
	SecureKey    string `short:"k" long:"secure-key"                                       description:"Wrap datagrams in an HMAC envelope signed with this key"`
	Counts       struct {
		Meter     uint64 `short:"m" long:"meter-count"                                  description:"Number of meters to send"                `
		Counter   uint64 `short:"c" long:"counter-count"                                description:"Number of counters to send"              `
		Gauge     uint64 `short:"g" long:"gauge-count"                                  description:"Number of gauges to send"                `
		Histogram uint64 `short:"H" long:"histogram-count"                              description:"Number of histograms to send"            `
		Timer     uint64 `short:"t" long:"timer-count"                                  description:"Number of timers to send"                `
	} `group:"Metric count"`
	NameCard struct {
		Meter     uint `long:"meter-cardinality"       default:"1"                        description:"Cardinality of meter names"              `
		Counter   uint `long:"counter-cardinality"     default:"1"                        description:"Cardinality of counter names"            `
		Gauge     uint `long:"gauge-cardinality"       default:"1"                        description:"Cardinality of gauge names"              `
		Histogram uint `long:"histogram-cardinality"   default:"1"                        description:"Cardinality of histogram names"          `
		Timer     uint `long:"timer-cardinality"       default:"1"                        description:"Cardinality of timer names"              `
	} `group:"Name cardinality"`
	ValueRange struct {
		Meter     uint `long:"meter-value-limit"       default:"0"                        description:"Maximum value of meters minus one"       `
		Counter   uint `long:"counter-value-limit"     default:"1000"                     description:"Maximum value of counters"               `
		Gauge     uint `long:"gauge-value-limit"       default:"1"                        description:"Maximum value of gauges"                 `
		Histogram uint `long:"histogram-value-limit"   default:"1"                        description:"Maximum value of histograms"             `
		Timer     uint `long:"timer-value-limit"       default:"1"                        description:"Maximum value of timers"                 `
	} `group:"Value range"`
}

func (o *commandOptions) total() uint64 {
	return o.Counts.Meter + o.Counts.Counter + o.Counts.Gauge + o.Counts.Histogram + o.Counts.Timer
}

func parseArgs(args []string) commandOptions {
	opts, err := parseOptions(args)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "\n\nerror parsing command line: %v\n", err)
		os.Exit(1)
	}
	return opts
}

// parseOptions parses and validates args. Help requests exit the process.
func parseOptions(args []string) (commandOptions, error) {
	var opts commandOptions
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.LongDescription = "" +
		"Sends random statsd statements to a gobrubeck sampler. With --secure-key every\n" +
		"datagram is sealed in an HMAC envelope for the statsd-secure sampler, and the\n" +
		"datagram size is capped to what a secure sampler accepts."

	positional, err := parser.ParseArgs(args)
	if err != nil {
		if !isHelp(err) {
			parser.WriteHelp(os.Stderr)
			return opts, err
		}
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}

	if len(positional) != 0 {
		parser.WriteHelp(os.Stderr)
		return opts, fmt.Errorf("no positional arguments allowed")
	}
	if opts.total() == 0 {
		return opts, fmt.Errorf("at least one of meter-count, counter-count, gauge-count, histogram-count, or timer-count must be non-zero")
	}
	if opts.Workers == 0 || opts.Rate < opts.Workers {
		return opts, fmt.Errorf("rate must be at least the number of workers, and workers must be positive")
	}
	return opts, nil
}

// isHelp reports whether err is the parser's request to print help. err may be nil.
func isHelp(err error) bool {
	if err == nil {
		return false
	}
	flagError, ok := err.(*flags.Error)
	if !ok {
		return false
	}
	return flagError.Type == flags.ErrHelp
}
