// Package conv provides the linear convolution routines used by the peak
// finder.
//
// Two strategies are offered:
//
//   - Direct convolution: O(N*M) time-domain accumulation built on
//     algo-vecmath block kernels, for single regions of interest.
//   - Overlap-add (OLA): FFT-based block convolution on algo-fft plans, for
//     full spectra of thousands of channels.
//
// # Usage
//
// For one-shot convolution, use the simple functions:
//
//	full, err := conv.Convolve(counts, kernel) // auto-selects the algorithm
//	same, err := conv.Same(counts, kernel)     // centred, len(counts) long
//
// For repeated convolution with the same kernel, create a reusable convolver:
//
//	oa, err := conv.NewOverlapAdd(kernel, 0)
//	full, err := oa.Process(counts)
//
// # Algorithm Selection
//
// [Convolve] uses direct convolution while len(signal)*len(kernel) stays at
// or below [DirectWorkLimit] and overlap-add above it. [UseFFT] reports the
// choice.
package conv
