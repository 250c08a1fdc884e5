// Package background builds the linear background models anchored on the two
// edge windows of a region.
//
// Two flavours exist. The regression background is a bounded polynomial that
// a peak fit may vary; the summation background is the fixed line used by the
// SUM4 estimator. They are computed independently and must never be mixed.
package background

import (
	"math"

	"github.com/cwbudde/algo-gamma/fitting/param"
	"github.com/cwbudde/algo-gamma/fitting/poly"
	"github.com/cwbudde/algo-gamma/stats/edge"
)

// line returns the offset, intercept and slope of the straight line through
// (x[lb.End], lb.Average) and (x[rb.Start], rb.Average).
func line(lb, rb edge.Window) (offset, intercept, slope, run float64) {
	offset = lb.Right()
	intercept = lb.Average
	run = rb.Left() - lb.Right()

	if run > 0 {
		slope = (rb.Average - lb.Average) / run
	}

	return offset, intercept, slope, run
}

// Regression returns the bounded background used inside peak regressions.
//
// The intercept may move within the min/max envelope of both windows. The
// slope is bounded between zero and the steepest line the envelopes permit
// on the side of the higher-average window. Flat edges collapse the bounds,
// which fixes the coefficient during the fit.
func Regression(lb, rb edge.Window) poly.Polynomial {
	offset, intercept, slope, run := line(lb, rb)

	lo := math.Min(lb.Min, rb.Min)
	hi := math.Max(lb.Max, rb.Max)

	var slo, shi float64

	if run > 0 {
		if rb.Average >= lb.Average {
			shi = (rb.Max - lb.Min) / run
		} else {
			slo = (rb.Min - lb.Max) / run
		}
	}

	return poly.Polynomial{
		XOffset: offset,
		Coeffs: []param.Param{
			param.New("a0", intercept, lo, hi).Clamp(),
			param.New("a1", slope, slo, shi).Clamp(),
		},
	}
}

// Summation returns the fixed two-point background used by SUM4.
func Summation(lb, rb edge.Window) poly.Polynomial {
	offset, intercept, slope, _ := line(lb, rb)

	return poly.Polynomial{
		XOffset: offset,
		Coeffs: []param.Param{
			param.New("a0", intercept, intercept, intercept),
			param.New("a1", slope, slope, slope),
		},
	}
}

// Subtract returns y - bg(x).
func Subtract(x, y []float64, bg poly.Polynomial) []float64 {
	out := make([]float64, len(y))
	for i := range y {
		out[i] = y[i] - bg.Eval(x[i])
	}

	return out
}
