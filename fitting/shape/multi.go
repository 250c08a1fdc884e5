package shape

import (
	"errors"
	"math"

	"github.com/cwbudde/algo-gamma/fitting/param"
	"github.com/cwbudde/algo-gamma/fitting/poly"
	"github.com/cwbudde/algo-gamma/internal/lsq"
)

// Errors returned by the joint fits.
var (
	ErrNoSeeds     = errors.New("shape: no seed peaks to fit")
	ErrInvalidSeed = errors.New("shape: seed width must be positive")
)

// Options controls joint regressions.
type Options struct {
	// Method is the minimiser, "lbfgs" or "nelder-mead".
	Method        string
	MaxIterations int

	// WidthTolerance bounds the shared width to [w/t, w*t] around the seed
	// width w of the tallest peak.
	WidthTolerance float64
}

// DefaultOptions returns LBFGS options with a width tolerance of 3.
func DefaultOptions() Options {
	o := lsq.DefaultOptions()

	return Options{
		Method:         string(o.Method),
		MaxIterations:  o.MaxIterations,
		WidthTolerance: 3,
	}
}

func (o Options) solver() lsq.Options {
	return lsq.Options{Method: lsq.Method(o.Method), MaxIterations: o.MaxIterations}
}

func (o Options) widthBounds(w float64) (float64, float64) {
	t := o.WidthTolerance
	if t <= 1 {
		t = 3
	}

	return w / t, w * t
}

// GaussianFit is the result of FitGaussians.
type GaussianFit struct {
	Peaks      []Gaussian
	Background poly.Polynomial
	RSquared   float64
	ChiSq      float64
	Warning    error // minimiser stopped early
}

// HypermetFit is the result of FitHypermets.
type HypermetFit struct {
	Peaks      []Hypermet
	Background poly.Polynomial
	RSquared   float64
	ChiSq      float64
	Warning    error // minimiser stopped early
}

// tallest returns the index of the largest seed height.
func tallest(n int, height func(int) float64) int {
	best := 0
	for i := 1; i < n; i++ {
		if height(i) > height(best) {
			best = i
		}
	}

	return best
}

// peakParams appends bounded center and height parameters for a seed.
// Centers may move by slack, one seed FWHM, and stay inside the data range.
func peakParams(ps []param.Param, x []float64, center, height, slack float64) []param.Param {
	lo := math.Max(center-slack, x[0])
	hi := math.Min(center+slack, x[len(x)-1])

	if lo > hi {
		lo, hi = x[0], x[len(x)-1]
	}

	top := 4 * math.Max(height, 1)

	return append(ps,
		param.New("center", center, lo, hi).Clamp(),
		param.New("height", math.Max(height, 0), 0, top).Clamp(),
	)
}

func evalBackground(p []float64, n int, offset, x float64) float64 {
	t := x - offset

	var y float64
	for i := n - 1; i >= 0; i-- {
		y = y*t + p[i]
	}

	return y
}

// FitGaussians regresses seeds and bg jointly against (x, y) with one shared
// width.
func FitGaussians(x, y []float64, seeds []Gaussian, bg poly.Polynomial, o Options) (GaussianFit, error) {
	if len(seeds) == 0 {
		return GaussianFit{}, ErrNoSeeds
	}

	if len(x) == 0 || len(x) != len(y) {
		return GaussianFit{}, lsq.ErrLengthMismatch
	}

	nbg := len(bg.Coeffs)
	ps := append([]param.Param(nil), bg.Coeffs...)

	top := seeds[tallest(len(seeds), func(i int) float64 { return seeds[i].Height.Value })]
	w0 := top.HWHM.Value
	if !(w0 > 0) {
		return GaussianFit{}, ErrInvalidSeed
	}

	wlo, whi := o.widthBounds(w0)
	ps = append(ps, param.New("hwhm", w0, wlo, whi).Clamp())

	for _, s := range seeds {
		ps = peakParams(ps, x, s.Center.Value, s.Height.Value, 2*w0)
	}

	n := len(seeds)
	offset := bg.XOffset

	model := func(p []float64, xi float64) float64 {
		v := evalBackground(p, nbg, offset, xi)
		w := p[nbg]

		for k := range n {
			d := (xi - p[nbg+1+2*k]) / w
			v += p[nbg+2+2*k] * math.Exp(-math.Ln2*d*d)
		}

		return v
	}

	res, err := lsq.Fit(lsq.Problem{X: x, Y: y, Params: ps, Model: model}, o.solver())
	if err != nil {
		return GaussianFit{}, err
	}

	fit := GaussianFit{
		Background: poly.Polynomial{XOffset: offset, Coeffs: res.Params[:nbg:nbg]},
		RSquared:   res.RSquared,
		ChiSq:      res.ChiSq,
		Warning:    res.Warning,
	}
	fit.Background.RSquared = res.RSquared

	width := res.Params[nbg]
	for k := range n {
		fit.Peaks = append(fit.Peaks, Gaussian{
			Center: res.Params[nbg+1+2*k],
			Height: res.Params[nbg+2+2*k],
			HWHM:   width,
		})
	}

	return fit, nil
}

// FitHypermets regresses seeds and bg jointly against (x, y). The width and
// the component terms are shared and seeded from the tallest peak.
func FitHypermets(x, y []float64, seeds []Hypermet, bg poly.Polynomial, o Options) (HypermetFit, error) {
	if len(seeds) == 0 {
		return HypermetFit{}, ErrNoSeeds
	}

	if len(x) == 0 || len(x) != len(y) {
		return HypermetFit{}, lsq.ErrLengthMismatch
	}

	nbg := len(bg.Coeffs)
	ps := append([]param.Param(nil), bg.Coeffs...)

	top := seeds[tallest(len(seeds), func(i int) float64 { return seeds[i].Height.Value })]
	w0 := top.Width.Value
	if !(w0 > 0) {
		return HypermetFit{}, ErrInvalidSeed
	}

	wlo, whi := o.widthBounds(w0)
	comp := top.Components()

	ps = append(ps,
		param.New("width", w0, wlo, whi).Clamp(),
		comp.Step.Clamp(),
		comp.TailAmp.Clamp(),
		comp.TailSlope.Clamp(),
		comp.LSkewAmp.Clamp(),
		comp.LSkewSlope.Clamp(),
		comp.RSkewAmp.Clamp(),
		comp.RSkewSlope.Clamp(),
	)

	const shared = 8

	for _, s := range seeds {
		ps = peakParams(ps, x, s.Center.Value, s.Height.Value, 2*sqrtLn2*w0)
	}

	n := len(seeds)
	offset := bg.XOffset

	// template carries the enable flags; values are overwritten per call
	template := Hypermet{}
	template.SetComponents(comp)

	fill := func(h *Hypermet, p []float64, k int) {
		h.Width.Value = p[nbg]
		h.Step.Value = p[nbg+1]
		h.TailAmp.Value = p[nbg+2]
		h.TailSlope.Value = p[nbg+3]
		h.LSkewAmp.Value = p[nbg+4]
		h.LSkewSlope.Value = p[nbg+5]
		h.RSkewAmp.Value = p[nbg+6]
		h.RSkewSlope.Value = p[nbg+7]
		h.Center.Value = p[nbg+shared+2*k]
		h.Height.Value = p[nbg+shared+1+2*k]
	}

	model := func(p []float64, xi float64) float64 {
		v := evalBackground(p, nbg, offset, xi)
		h := template

		for k := range n {
			fill(&h, p, k)
			v += h.Eval(xi)
		}

		return v
	}

	res, err := lsq.Fit(lsq.Problem{X: x, Y: y, Params: ps, Model: model}, o.solver())
	if err != nil {
		return HypermetFit{}, err
	}

	fit := HypermetFit{
		Background: poly.Polynomial{XOffset: offset, Coeffs: res.Params[:nbg:nbg]},
		RSquared:   res.RSquared,
		ChiSq:      res.ChiSq,
		Warning:    res.Warning,
	}
	fit.Background.RSquared = res.RSquared

	sh := res.Params[nbg : nbg+shared]
	for k := range n {
		h := Hypermet{
			Width:    sh[0],
			Center:   res.Params[nbg+shared+2*k],
			Height:   res.Params[nbg+shared+1+2*k],
			RSquared: res.RSquared,
		}
		h.SetComponents(Components{
			Step:       sh[1],
			TailAmp:    sh[2],
			TailSlope:  sh[3],
			LSkewAmp:   sh[4],
			LSkewSlope: sh[5],
			RSkewAmp:   sh[6],
			RSkewSlope: sh[7],
		})
		fit.Peaks = append(fit.Peaks, h)
	}

	return fit, nil
}
