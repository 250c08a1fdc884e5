package shape

import (
	"math"

	"github.com/cwbudde/algo-gamma/fitting/param"
	"github.com/cwbudde/algo-gamma/fitting/poly"
	"gonum.org/v1/gonum/floats"
)

// Gaussian is h * exp(-ln2 * ((x-c)/hwhm)²).
type Gaussian struct {
	Center param.Param `yaml:"center"`
	Height param.Param `yaml:"height"`
	HWHM   param.Param `yaml:"hwhm"`
}

// NewGaussian returns a Gaussian with unbounded parameters.
func NewGaussian(center, height, hwhm float64) Gaussian {
	inf := math.Inf(1)

	return Gaussian{
		Center: param.New("center", center, -inf, inf),
		Height: param.New("height", height, -inf, inf),
		HWHM:   param.New("hwhm", hwhm, -inf, inf),
	}
}

// EstimateGaussian returns a closed-form Gaussian estimate for the window
// (x, y). Only positive counts contribute. The zero Gaussian is returned when
// no estimate exists; it fails Valid.
func EstimateGaussian(x, y []float64) Gaussian {
	if len(x) != len(y) || len(x) < 3 {
		return Gaussian{}
	}

	var xs, ls, sig []float64

	for i, v := range y {
		if v > 0 {
			xs = append(xs, x[i])
			ls = append(ls, math.Log(v))
			sig = append(sig, 1/v)
		}
	}

	if len(xs) < 3 {
		return Gaussian{}
	}

	offset := x[floats.MaxIdx(y)]

	p, err := poly.Fit(xs, ls, sig, 2, offset)
	if err != nil {
		return Gaussian{}
	}

	a, b, c := p.Coeffs[0].Value, p.Coeffs[1].Value, p.Coeffs[2].Value
	if !(c < 0) {
		return Gaussian{}
	}

	return NewGaussian(
		offset-b/(2*c),
		math.Exp(a-b*b/(4*c)),
		math.Sqrt(-math.Ln2/c),
	)
}

// Valid reports whether g is a physical candidate for the window
// (left, right): positive height and width, center strictly inside.
func (g Gaussian) Valid(left, right float64) bool {
	c := g.Center.Value

	return g.Height.Value > 0 && g.HWHM.Value > 0 && left < c && c < right
}

// Eval evaluates g at x.
func (g Gaussian) Eval(x float64) float64 {
	if g.HWHM.Value == 0 {
		return 0
	}

	d := (x - g.Center.Value) / g.HWHM.Value

	return g.Height.Value * math.Exp(-math.Ln2*d*d)
}

// FWHM returns the full width at half maximum.
func (g Gaussian) FWHM() param.Value {
	return param.Value{Val: 2 * g.HWHM.Value, Sigma: 2 * g.HWHM.Uncert}
}

// Area returns the integral of g with the uncertainty propagated from the
// height and width.
func (g Gaussian) Area() param.Value {
	k := math.Sqrt(math.Pi / math.Ln2)
	h, w := g.Height, g.HWHM

	return param.Value{
		Val:   k * h.Value * w.Value,
		Sigma: k * math.Hypot(h.Uncert*w.Value, w.Uncert*h.Value),
	}
}
