// Package histogram implements the bounded value buffer behind histogram and timer
// metrics and reduces it to summary statistics once per flush.
package histogram

import (
	"math"
	"sort"
)

const (
	// MinCapacity is the capacity of the buffer on first growth.
	MinCapacity = 16
	// MaxCapacity bounds the number of values retained between two samples. Values
	// pushed beyond it are dropped but still counted.
	MaxCapacity = 65535
)

// Histogram accumulates values between two calls to Sample. It is not safe for
// concurrent use; the owning metric serializes access.
type Histogram struct {
	values []float64
	count  float64 // weighted by sample frequency, may exceed len(values)
}

// Sample is the reduction of a Histogram over one flush interval. Fields suffixed
// with T are restricted to the values at or below the threshold rank.
type Sample struct {
	Count  float64
	Lower  float64
	Upper  float64
	Sum    float64
	Mean   float64
	Median float64
	Std    float64

	CountT float64
	UpperT float64
	SumT   float64
	MeanT  float64

	Percentiles []float64
}

// Push records value observed with the given sample frequency (the inverse of the
// client's sample rate).
func (h *Histogram) Push(value, sampleFreq float64) {
	h.count += sampleFreq
	if len(h.values) == cap(h.values) {
		if cap(h.values) >= MaxCapacity {
			return
		}
		newCap := cap(h.values) * 2
		if newCap < MinCapacity {
			newCap = MinCapacity
		}
		if newCap > MaxCapacity {
			newCap = MaxCapacity
		}
		grown := make([]float64, len(h.values), newCap)
		copy(grown, h.values)
		h.values = grown
	}
	h.values = append(h.values, value)
}

// Len returns the number of retained values.
func (h *Histogram) Len() int {
	return len(h.values)
}

// Cap returns the capacity of the value buffer.
func (h *Histogram) Cap() int {
	return cap(h.values)
}

// Count returns the weighted number of observations since the last Sample.
func (h *Histogram) Count() float64 {
	return h.count
}

// rank returns the 1-based nearest rank of percentile p over size values.
func rank(p float64, size int) int {
	r := int(math.Floor(p*float64(size) + 0.5))
	if r < 1 {
		return 1
	}
	if r > size {
		return size
	}
	return r
}

// Sample reduces the buffered values and resets the Histogram, keeping its capacity.
// threshold selects the trimmed statistics; one percentile is returned per entry of
// percentiles, in the same order. An empty Histogram yields a zero Sample.
func (h *Histogram) Sample(threshold float64, percentiles []float64) Sample {
	s := Sample{
		Percentiles: make([]float64, len(percentiles)),
	}
	size := len(h.values)
	if size == 0 {
		h.count = 0
		return s
	}
	values := h.values
	sort.Float64s(values)

	scale := h.count / float64(size)
	rankT := rank(threshold, size)

	var sum, sumT float64
	for i, v := range values {
		sum += v
		if i < rankT {
			sumT += v
		}
	}

	s.Count = h.count
	s.Lower = values[0]
	s.Upper = values[size-1]
	s.Sum = sum * scale
	s.Mean = s.Sum / s.Count
	s.Median = values[rank(0.5, size)-1]

	s.CountT = math.Floor(h.count*threshold + 0.5)
	s.UpperT = values[rankT-1]
	s.SumT = sumT * scale
	if s.CountT > 0 {
		s.MeanT = s.SumT / s.CountT
	}

	var sqDiff float64
	for _, v := range values {
		d := v - s.Mean
		sqDiff += d * d
	}
	s.Std = math.Sqrt(sqDiff / float64(size))

	for i, p := range percentiles {
		s.Percentiles[i] = values[rank(p, size)-1]
	}

	h.values = h.values[:0]
	h.count = 0
	return s
}
