// Package shape implements the peak-shape models fitted to gamma-ray spectra.
//
// Two models are provided:
//
//   - [Gaussian]: center, height and half width at half maximum. Used to
//     estimate candidates and for cheap Gaussian-only regressions.
//   - [Hypermet]: a Gaussian core with optional step, low-energy tail and
//     left/right skew components. Each component carries its own bounds and
//     enable flag.
//
// # Estimation
//
// [EstimateGaussian] derives a seed from a candidate window in closed form by
// fitting a parabola to ln(y), weighted by y². Windows with fewer than three
// positive counts, or whose log-parabola opens upwards, yield an invalid
// estimate. Callers check [Gaussian.Valid] against the window bounds and
// discard the candidate otherwise.
//
// # Joint regression
//
// [FitGaussians] and [FitHypermets] regress every peak of a region
// simultaneously, together with the region's bounded background. All peaks
// share one width and one set of shape components; centers and heights are
// individual. The shared terms keep close doublets from trading width for
// height.
//
//	fit, err := shape.FitHypermets(x, y, seeds, bg, shape.DefaultOptions())
//	for _, h := range fit.Peaks {
//		fmt.Println(h.Center.Value, h.Area())
//	}
package shape
