// Package sum4 implements the SUM4 summation estimator for gamma-ray peaks.
//
// SUM4 is a shape-free cross-check of a parametric fit. Over a peak window it
// sums the raw counts (gross area), subtracts the trapezoid under the
// two-point summation background (background area) and reports the net area,
// the count-weighted centroid and an FWHM estimate from the second moment.
//
// Uncertainties propagate Poisson statistics: the gross area has variance
// equal to its counts and the background area inherits the variance of the
// two edge-window averages.
//
// # Currie classification
//
// The detection quality follows Currie's low-level counting criteria with the
// background-area deviation σ_B:
//
//	Lc = 2.33 σ_B          (critical level)
//	Ld = 2.71 + 4.65 σ_B   (detection limit)
//
// Net areas above Ld are [Detectable], above Lc [CriticalExceeded] and
// otherwise [NotSignificant]. Equality falls to the lower class.
//
// The estimator never reads regression results. Callers must pass the
// summation background, not the regression background.
package sum4
