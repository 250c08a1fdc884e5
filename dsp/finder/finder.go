// Package finder locates candidate peaks in a count spectrum.
//
// The residual is convolved with a zero-area square-wave kernel of width w,
// [-1]*w [2]*w [-1]*w, which cancels any locally linear background. Each
// response is divided by its Poisson noise, sqrt(kernel² ⊛ counts), giving a
// significance in standard deviations. Runs of bins above the threshold
// become candidates; each run is widened while the residual keeps falling so
// the window covers the flanks of the peak.
package finder

import (
	"errors"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Errors returned by Finder methods.
var (
	ErrLengthMismatch = errors.New("finder: x and y must have same length")
	ErrInvalidRange   = errors.New("finder: invalid index range")
)

// Config holds search parameters.
type Config struct {
	// SquareWidth is the width w of each kernel block in bins.
	SquareWidth int
	// Sigma is the significance threshold in standard deviations.
	Sigma float64
	// MinWidth is the shortest run of significant bins kept as a candidate.
	MinWidth int
	// MinAmplitude is the least net height over the window baseline for a
	// candidate to pass the filter.
	MinAmplitude float64
}

// DefaultConfig returns w=3, 3σ, runs of at least one bin, no amplitude cut.
func DefaultConfig() Config {
	return Config{SquareWidth: 3, Sigma: 3, MinWidth: 1}
}

// Finder holds one spectrum range and the results of the last search.
type Finder struct {
	X []float64
	Y []float64

	YResid      []float64
	YFit        []float64
	YBackground []float64

	Significance []float64

	// Candidate windows, one entry per significant run (inclusive indices).
	Lefts   []int
	Rights  []int
	Centers []int

	// Filtered indexes the candidates that passed MinAmplitude.
	Filtered []int

	// FWTheoretical is the expected FWHM in bins at each index.
	FWTheoretical []float64

	// FWHM, when set, gives the expected FWHM in bins at a bin position.
	FWHM func(bin float64) float64
}

// New returns a Finder over copies of x and y.
func New(x, y []float64) (*Finder, error) {
	f := &Finder{}
	if err := f.SetData(x, y); err != nil {
		return nil, err
	}

	return f, nil
}

// SetData replaces the spectrum and clears all derived state. The residual
// is reset to the counts.
func (f *Finder) SetData(x, y []float64) error {
	if len(x) != len(y) {
		return ErrLengthMismatch
	}

	f.X = slices.Clone(x)
	f.Y = slices.Clone(y)
	f.YFit = make([]float64, len(y))
	f.YBackground = make([]float64, len(y))
	f.ResetResidual()

	return nil
}

// Len returns the number of bins.
func (f *Finder) Len() int { return len(f.X) }

// Empty reports whether the finder holds no data.
func (f *Finder) Empty() bool { return len(f.X) == 0 }

// Clone returns a deep copy of f.
func (f *Finder) Clone() *Finder {
	return &Finder{
		X:             slices.Clone(f.X),
		Y:             slices.Clone(f.Y),
		YResid:        slices.Clone(f.YResid),
		YFit:          slices.Clone(f.YFit),
		YBackground:   slices.Clone(f.YBackground),
		Significance:  slices.Clone(f.Significance),
		Lefts:         slices.Clone(f.Lefts),
		Rights:        slices.Clone(f.Rights),
		Centers:       slices.Clone(f.Centers),
		Filtered:      slices.Clone(f.Filtered),
		FWTheoretical: slices.Clone(f.FWTheoretical),
		FWHM:          f.FWHM,
	}
}

// Range returns a new Finder over indices [left, right] (inclusive). The
// FWHM curve is carried over.
func (f *Finder) Range(left, right int) (*Finder, error) {
	if left < 0 || right < left || right >= len(f.X) {
		return nil, ErrInvalidRange
	}

	sub, err := New(f.X[left:right+1], f.Y[left:right+1])
	if err != nil {
		return nil, err
	}

	sub.FWHM = f.FWHM

	return sub, nil
}

// Index returns the index of the first bin whose x is >= bin, or Len().
func (f *Finder) Index(bin float64) int {
	i, _ := slices.BinarySearch(f.X, bin)
	return i
}

// ResetResidual sets the residual back to the raw counts.
func (f *Finder) ResetResidual() {
	f.YResid = slices.Clone(f.Y)
	f.clearSearch()
}

// SubtractBackground sets the residual to counts minus bg.
func (f *Finder) SubtractBackground(bg []float64) error {
	if len(bg) != len(f.Y) {
		return ErrLengthMismatch
	}

	f.YResid = make([]float64, len(f.Y))
	floats.SubTo(f.YResid, f.Y, bg)
	f.clearSearch()

	return nil
}

// SetFit stores the full fit and its background (including steps and
// tails) and sets the residual to counts minus fit.
func (f *Finder) SetFit(fit, background []float64) error {
	if len(fit) != len(f.Y) || len(background) != len(f.Y) {
		return ErrLengthMismatch
	}

	f.YFit = slices.Clone(fit)
	f.YBackground = slices.Clone(background)
	f.YResid = make([]float64, len(f.Y))
	floats.SubTo(f.YResid, f.Y, fit)
	f.clearSearch()

	return nil
}

func (f *Finder) clearSearch() {
	f.Significance = nil
	f.Lefts = nil
	f.Rights = nil
	f.Centers = nil
	f.Filtered = nil
}

// Count returns the number of filtered candidates.
func (f *Finder) Count() int { return len(f.Filtered) }

// Window returns the inclusive index window and center index of the i-th
// filtered candidate.
func (f *Finder) Window(i int) (left, right, center int) {
	k := f.Filtered[i]
	return f.Lefts[k], f.Rights[k], f.Centers[k]
}
