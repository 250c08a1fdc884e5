// Package edge computes fixed-width window statistics at the boundaries of a
// spectrum region. The windows anchor the background model used by both the
// regression and the summation estimators.
package edge

import (
	"errors"
	"math"
)

// Errors returned by New.
var (
	ErrLengthMismatch = errors.New("edge: x and y must have same length")
	ErrInvalidBounds  = errors.New("edge: invalid window bounds")
)

// Window holds count statistics over an inclusive index range of a spectrum.
// It is derived once and never modified.
type Window struct {
	Start int // first index (inclusive)
	End   int // last index (inclusive)

	Sum     float64
	Width   float64 // number of samples
	Average float64

	// Variance is the Poisson variance of Average (Sum / Width²). This is the
	// quantity propagated into background areas.
	Variance float64

	// SampleVariance is the population variance of the counts themselves.
	SampleVariance float64

	Min      float64
	Max      float64
	Midpoint float64 // x midpoint of the window

	left, right float64
}

// New computes window statistics over y[left..right] in a single pass using
// Welford's algorithm for the sample variance.
func New(x, y []float64, left, right int) (Window, error) {
	if len(x) != len(y) {
		return Window{}, ErrLengthMismatch
	}

	if left < 0 || right < left || right >= len(y) {
		return Window{}, ErrInvalidBounds
	}

	w := Window{
		Start: left,
		End:   right,
		Min:   y[left],
		Max:   y[left],
		left:  x[left],
		right: x[right],
	}

	var mean, m2 float64

	for i := left; i <= right; i++ {
		v := y[i]
		w.Sum += v

		n := float64(i - left + 1)
		delta := v - mean
		mean += delta / n
		m2 += delta * (v - mean)

		if v < w.Min {
			w.Min = v
		}

		if v > w.Max {
			w.Max = v
		}
	}

	w.Width = float64(right - left + 1)
	w.Average = w.Sum / w.Width
	w.Variance = w.Sum / (w.Width * w.Width)
	w.SampleVariance = m2 / w.Width
	w.Midpoint = w.left + (w.right-w.left)/2

	return w, nil
}

// Left returns the x value at Start.
func (w Window) Left() float64 { return w.left }

// Right returns the x value at End.
func (w Window) Right() float64 { return w.right }

// Sigma returns the standard deviation of Average.
func (w Window) Sigma() float64 {
	return math.Sqrt(w.Variance)
}

// Shift returns a copy of w with its indices offset by delta. Statistics and
// x values are unchanged; this is used when the owning range is re-based.
func (w Window) Shift(delta int) Window {
	w.Start += delta
	w.End += delta

	return w
}
