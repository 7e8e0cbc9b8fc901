package main

import "sort"

// SampleWindow is a bounded FIFO of drop-rate samples.
//
// Values are kept in arrival order; once the window holds Cap samples, each Push
// evicts the oldest one. The zero value is unusable, construct with NewSampleWindow.
type SampleWindow struct {
	values []float64
	cap    int
}

// NewSampleWindow returns an empty window holding at most capacity samples.
func NewSampleWindow(capacity int) SampleWindow {
	if capacity < 1 {
		capacity = 1
	}
	return SampleWindow{
		values: make([]float64, 0, capacity),
		cap:    capacity,
	}
}

// Push appends v, evicting the oldest sample on overflow.
func (w *SampleWindow) Push(v float64) {
	if len(w.values) >= w.cap {
		copy(w.values, w.values[1:])
		w.values = w.values[:len(w.values)-1]
	}
	w.values = append(w.values, v)
}

// Len returns the number of buffered samples.
func (w *SampleWindow) Len() int { return len(w.values) }

// Cap returns the configured window size.
func (w *SampleWindow) Cap() int { return w.cap }

// Reset drops all samples but keeps the capacity.
func (w *SampleWindow) Reset() {
	w.values = w.values[:0]
}

// Values returns a copy of the samples, oldest first.
func (w *SampleWindow) Values() []float64 {
	out := make([]float64, len(w.values))
	copy(out, w.values)
	return out
}

// TrimmedMean discards exactly one minimum and one maximum sample and averages
// the rest. It returns 0 when fewer than three samples are buffered.
func (w *SampleWindow) TrimmedMean() float64 {
	return trimmedMean(w.values)
}

func trimmedMean(values []float64) float64 {
	n := len(values)
	if n < minTrimmedSamples {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted[1 : n-1] {
		sum += v
	}
	return sum / float64(n-2)
}

// meanInt64 is the plain arithmetic mean of the calibration samples.
func meanInt64(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}
