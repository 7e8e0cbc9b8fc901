package main

import (
	"math"
	"reflect"
	"testing"
)

func TestTrimmedMean(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"two samples", []float64{4, 8}, 0},
		{"three samples", []float64{9, 1, 5}, 5},
		{"drops one min and one max", []float64{1, 5, 2, 8, 3}, 10.0 / 3.0},
		{"duplicated extremes", []float64{1, 1, 7, 7}, 4},
		{"all equal", []float64{2, 2, 2, 2, 2}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := trimmedMean(tt.values)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("trimmedMean(%v) = %v, want %v", tt.values, got, tt.want)
			}
		})
	}
}

func TestTrimmedMean_DoesNotReorderInput(t *testing.T) {
	in := []float64{3, 1, 2}
	_ = trimmedMean(in)
	if !reflect.DeepEqual(in, []float64{3, 1, 2}) {
		t.Fatalf("input was modified: %v", in)
	}
}

func TestSampleWindow_EvictsOldest(t *testing.T) {
	w := NewSampleWindow(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		w.Push(v)
		if w.Len() > w.Cap() {
			t.Fatalf("window grew past capacity: %d > %d", w.Len(), w.Cap())
		}
	}

	if got := w.Values(); !reflect.DeepEqual(got, []float64{3, 4, 5}) {
		t.Fatalf("expected [3 4 5], got %v", got)
	}
	if got := w.TrimmedMean(); got != 4 {
		t.Fatalf("expected trimmed mean 4, got %v", got)
	}

	w.Reset()
	if w.Len() != 0 || w.Cap() != 3 {
		t.Fatalf("reset should keep capacity: len=%d cap=%d", w.Len(), w.Cap())
	}
}

func TestSampleWindow_ValuesIsACopy(t *testing.T) {
	w := NewSampleWindow(2)
	w.Push(1)
	vals := w.Values()
	vals[0] = 99
	if got := w.Values()[0]; got != 1 {
		t.Fatalf("window mutated through Values(): %v", got)
	}
}

func TestMeanInt64(t *testing.T) {
	if got := meanInt64(nil); got != 0 {
		t.Fatalf("expected 0 for no samples, got %v", got)
	}
	if got := meanInt64([]int64{1, 2, 3, 4, 0, 2, 2, 2, 2, 2}); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
}
