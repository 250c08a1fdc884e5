package conv

import (
	"errors"

	"github.com/cwbudde/algo-vecmath"
)

// Errors returned by convolution functions.
var (
	ErrEmptyInput       = errors.New("conv: empty input")
	ErrEmptyKernel      = errors.New("conv: empty kernel")
	ErrLengthMismatch   = errors.New("conv: buffer length mismatch")
	ErrInvalidBlockSize = errors.New("conv: invalid block size")
)

// DirectWorkLimit is the largest len(signal)*len(kernel) that Convolve
// computes in the time domain.
const DirectWorkLimit = 1 << 16

// UseFFT reports whether Convolve takes the overlap-add path for a signal
// and kernel of the given lengths.
func UseFFT(signalLen, kernelLen int) bool {
	return signalLen*kernelLen > DirectWorkLimit
}

// Direct performs direct time-domain linear convolution of a and b.
// Returns a new slice of length len(a) + len(b) - 1.
func Direct(a, b []float64) ([]float64, error) {
	if len(a) == 0 {
		return nil, ErrEmptyInput
	}

	if len(b) == 0 {
		return nil, ErrEmptyKernel
	}

	result := make([]float64, len(a)+len(b)-1)
	DirectTo(result, a, b)

	return result, nil
}

// DirectTo performs direct convolution, writing to a pre-allocated destination.
// dst must have length len(a) + len(b) - 1.
func DirectTo(dst, a, b []float64) {
	for i := range dst {
		dst[i] = 0
	}

	m := len(b)

	// vectorise the inner loop once the kernel is long enough to pay for it
	const blockThreshold = 4
	if m < blockThreshold {
		for i, av := range a {
			for j, bv := range b {
				dst[i+j] += av * bv
			}
		}

		return
	}

	temp := make([]float64, m)
	for i, av := range a {
		if av == 0 {
			continue
		}

		vecmath.ScaleBlock(temp, b, av)
		vecmath.AddBlockInPlace(dst[i:i+m], temp)
	}
}

// Convolve performs linear convolution with automatic algorithm selection.
func Convolve(a, b []float64) ([]float64, error) {
	if len(a) == 0 {
		return nil, ErrEmptyInput
	}

	if len(b) == 0 {
		return nil, ErrEmptyKernel
	}

	// Ensure a is the longer signal for efficient processing
	if len(b) > len(a) {
		a, b = b, a
	}

	if !UseFFT(len(a), len(b)) {
		return Direct(a, b)
	}

	return OverlapAddConvolve(a, b)
}

// Same convolves signal with kernel and returns the centred part of the
// result with the length of signal. Output index i aligns kernel centre
// (len(kernel)-1)/2 with signal index i.
func Same(signal, kernel []float64) ([]float64, error) {
	full, err := Convolve(signal, kernel)
	if err != nil {
		return nil, err
	}

	start := (len(kernel) - 1) / 2

	return full[start : start+len(signal)], nil
}

// nextPowerOf2 returns the next power of 2 >= n.
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}

	p := 1
	for p < n {
		p *= 2
	}

	return p
}
