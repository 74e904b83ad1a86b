package main

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/atlassian/gobrubeck"
)

type metricData struct {
	count           uint64 // atomic
	kind            gobrubeck.Kind
	nameFormat      string
	nameCardinality uint
	valueLimit      uint
}

type metricGenerator struct {
	rnd   *rand.Rand
	kinds []*metricData
}

func newMetricGenerator(rnd *rand.Rand, opts *commandOptions, share uint64) *metricGenerator {
	md := func(kind gobrubeck.Kind, count uint64, card, limit uint) *metricData {
		return &metricData{
			count:           count / share,
			kind:            kind,
			nameFormat:      fmt.Sprintf("%s%s%s", opts.MetricPrefix, kind, opts.MetricSuffix),
			nameCardinality: card,
			valueLimit:      limit,
		}
	}
	return &metricGenerator{
		rnd: rnd,
		kinds: []*metricData{
			md(gobrubeck.METER, opts.Counts.Meter, opts.NameCard.Meter, opts.ValueRange.Meter),
			md(gobrubeck.COUNTER, opts.Counts.Counter, opts.NameCard.Counter, opts.ValueRange.Counter),
			md(gobrubeck.GAUGE, opts.Counts.Gauge, opts.NameCard.Gauge, opts.ValueRange.Gauge),
			md(gobrubeck.HISTOGRAM, opts.Counts.Histogram, opts.NameCard.Histogram, opts.ValueRange.Histogram),
			md(gobrubeck.TIMER, opts.Counts.Timer, opts.NameCard.Timer, opts.ValueRange.Timer),
		},
	}
}

func (md *metricData) remaining() uint64 {
	return atomic.LoadUint64(&md.count)
}

func (md *metricData) genValue(r *rand.Rand) string {
	switch md.kind {
	case gobrubeck.METER:
		return strconv.Itoa(1 + r.Intn(int(md.valueLimit+1)))
	case gobrubeck.HISTOGRAM, gobrubeck.TIMER:
		return strconv.FormatFloat(r.Float64()*float64(md.valueLimit), 'g', -1, 64)
	default:
		if md.valueLimit == 0 {
			return "0"
		}
		return strconv.Itoa(r.Intn(int(md.valueLimit)))
	}
}

func (md *metricData) next(sb *strings.Builder, r *rand.Rand) {
	atomic.AddUint64(&md.count, ^uint64(0))
	sb.WriteString(fmt.Sprintf(md.nameFormat, r.Intn(int(md.nameCardinality))))
	sb.WriteByte(':')
	sb.WriteString(md.genValue(r))
	sb.WriteByte('|')
	sb.WriteString(md.kind.Symbol())
	sb.WriteByte('\n')
}

// next writes one random statement to sb, or returns false when every count is
// exhausted.
func (mg *metricGenerator) next(sb *strings.Builder) bool {
	// We can safely read these non-atomically, because this goroutine is the only one that writes to them.
	var total uint64
	for _, md := range mg.kinds {
		total += md.count
	}
	if total == 0 {
		return false
	}

	n := uint64(mg.rnd.Int63n(int64(total)))
	for _, md := range mg.kinds {
		if n < md.count {
			md.next(sb, mg.rnd)
			return true
		}
		n -= md.count
	}
	return false
}
