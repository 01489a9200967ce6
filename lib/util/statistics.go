// Package util provides the building blocks shared by the store and the reclaimer.
// This file implements a size histogram for cheap tracking of record sizes.
// The histogram uses exponential buckets so that a handful of counters cover
// values from a few bytes up to gigabytes.
package util

import (
	"math"
	"sync/atomic"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
}

// NewStats computes mean, standard deviation, minimum and maximum of values.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	lo, hi := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}

	return Stats{
		StdDeviation: math.Sqrt(sq / float64(len(values))),
		Min:          lo,
		Max:          hi,
		Mean:         mean,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// sizeBoundaries are the upper bounds (inclusive) of all but the last bucket
var sizeBoundaries = []int{
	0, 16, 64, 256, 1024, 4096, // empty records up to 4KB
	16384, 65536, 262144, 1048576, // up to 1MB
	4194304, 16777216, 67108864, // up to 64MB
	268435456, 1073741824, // up to 1GB
}

// SizeHistogram tracks the distribution of record sizes.
// Samples are counted with atomics, concurrent AddSample calls never wait on each other.
type SizeHistogram struct {
	buckets []atomic.Int64
	count   atomic.Int64
	sum     atomic.Int64
}

// NewSizeHistogram creates an empty histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{
		buckets: make([]atomic.Int64, len(sizeBoundaries)+1),
	}
}

// AddSample records one size
//
// Thread-safe: This method is safe for concurrent use and lock-free
func (h *SizeHistogram) AddSample(size int) {
	idx := len(sizeBoundaries)
	for i, b := range sizeBoundaries {
		if size <= b {
			idx = i
			break
		}
	}

	h.buckets[idx].Add(1)
	h.sum.Add(int64(size))
	h.count.Add(1)
}

// Count returns the number of samples
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) Count() int64 {
	return h.count.Load()
}

// AverageSize returns the mean of all samples
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) AverageSize() int {
	count := h.count.Load()
	if count == 0 {
		return 0
	}
	return int(h.sum.Load() / count)
}

// PercentileEstimate estimates the given percentile (0-100) from the bucket midpoints.
// While samples are added the estimate is based on the buckets read so far.
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) PercentileEstimate(percentile int) int {
	if percentile < 0 || percentile > 100 {
		return 0
	}

	counts := make([]int64, len(h.buckets))
	var total int64
	for i := range h.buckets {
		counts[i] = h.buckets[i].Load()
		total += counts[i]
	}
	if total == 0 {
		return 0
	}

	target := max(int64(math.Ceil(float64(total)*float64(percentile)/100.0)), 1)

	var seen int64
	for i, c := range counts {
		seen += c
		if seen < target {
			continue
		}
		switch {
		case i == 0:
			return sizeBoundaries[0]
		case i < len(sizeBoundaries):
			return (sizeBoundaries[i-1] + sizeBoundaries[i]) / 2
		default:
			// nothing known above the last boundary, assume twice its size
			return sizeBoundaries[len(sizeBoundaries)-1] * 2
		}
	}
	return 0
}

// MedianEstimate is PercentileEstimate(50)
func (h *SizeHistogram) MedianEstimate() int {
	return h.PercentileEstimate(50)
}
