package finder

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/algo-gamma/dsp/conv"
)

// Kernel returns the zero-area square-wave kernel of block width w.
func Kernel(w int) []float64 {
	k := make([]float64, 3*w)
	for i := range k {
		switch {
		case i < w, i >= 2*w:
			k[i] = -1
		default:
			k[i] = 2
		}
	}

	return k
}

// FindPeaks searches the residual and returns the number of filtered
// candidates. Empty data or a kernel width below one yields no candidates.
func (f *Finder) FindPeaks(cfg Config) int {
	f.clearSearch()

	n := len(f.X)
	w := cfg.SquareWidth

	if n == 0 || w < 1 || 3*w > n {
		f.fwTheoretical()
		return 0
	}

	f.Significance = f.significance(w)

	minWidth := max(cfg.MinWidth, 1)

	for a := 0; a < n; {
		if !(f.Significance[a] > cfg.Sigma) {
			a++
			continue
		}

		b := a
		for b+1 < n && f.Significance[b+1] > cfg.Sigma {
			b++
		}

		if b-a+1 >= minWidth {
			f.addCandidate(a, b, w, cfg.MinAmplitude)
		}

		a = b + 1
	}

	f.fwTheoretical()

	return len(f.Filtered)
}

// significance returns response/noise with the kernel centre at each index.
// Bins where the kernel overhangs the data are zero.
func (f *Finder) significance(w int) []float64 {
	n := len(f.X)
	kernel := Kernel(w)

	kernel2 := make([]float64, len(kernel))
	for i, k := range kernel {
		kernel2[i] = k * k
	}

	counts := make([]float64, n)
	for i, v := range f.Y {
		counts[i] = math.Max(v, 0)
	}

	out := make([]float64, n)

	response, err := conv.Same(f.YResid, kernel)
	if err != nil {
		return out
	}

	variance, err := conv.Same(counts, kernel2)
	if err != nil {
		return out
	}

	lead := (len(kernel) - 1) / 2
	trail := len(kernel) - 1 - lead

	// FFT round-off leaves tiny variances over empty channels.
	floor := 1e-12 * floats.Max(variance)

	for i := lead; i < n-trail; i++ {
		if variance[i] > floor {
			out[i] = response[i] / math.Sqrt(variance[i])
		}
	}

	return out
}

// addCandidate widens the run [a, b] and records it.
func (f *Finder) addCandidate(a, b, w int, minAmplitude float64) {
	r := f.YResid
	n := len(r)
	reach := 4*w + 4

	left := a
	for left > 0 && a-left < reach && r[left-1] < r[left] {
		left--
	}

	right := b
	for right < n-1 && right-b < reach && r[right+1] < r[right] {
		right++
	}

	center := a
	for i := a + 1; i <= b; i++ {
		if f.Significance[i] > f.Significance[center] {
			center = i
		}
	}

	f.Lefts = append(f.Lefts, left)
	f.Rights = append(f.Rights, right)
	f.Centers = append(f.Centers, center)

	if f.Amplitude(left, right, center) >= minAmplitude {
		f.Filtered = append(f.Filtered, len(f.Lefts)-1)
	}
}

// Amplitude returns the residual at center above the straight line joining
// the residual at left and right.
func (f *Finder) Amplitude(left, right, center int) float64 {
	r := f.YResid
	if right == left {
		return r[center] - r[left]
	}

	t := (f.X[center] - f.X[left]) / (f.X[right] - f.X[left])
	base := r[left] + t*(r[right]-r[left])

	return r[center] - base
}

// fwTheoretical fills FWTheoretical from the FWHM curve, or from half the
// median filtered window width when no curve is set.
func (f *Finder) fwTheoretical() {
	n := len(f.X)
	f.FWTheoretical = make([]float64, n)

	if f.FWHM != nil {
		for i, x := range f.X {
			f.FWTheoretical[i] = f.FWHM(x)
		}

		return
	}

	if len(f.Filtered) == 0 {
		return
	}

	widths := make([]float64, len(f.Filtered))
	for i, k := range f.Filtered {
		widths[i] = float64(f.Rights[k] - f.Lefts[k] + 1)
	}

	slices.Sort(widths)

	fw := widths[len(widths)/2] / 2
	for i := range f.FWTheoretical {
		f.FWTheoretical[i] = fw
	}
}
