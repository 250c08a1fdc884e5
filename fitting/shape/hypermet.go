package shape

import (
	"math"

	"github.com/cwbudde/algo-gamma/fitting/param"
)

var sqrtLn2 = math.Sqrt(math.Ln2)

// Hypermet is a Gaussian core exp(-((x-c)/w)²) with optional step, tail and
// skew components, all scaled by the peak height.
type Hypermet struct {
	Center param.Param `yaml:"center"`
	Height param.Param `yaml:"height"`
	Width  param.Param `yaml:"width"`

	Step       param.Param `yaml:"step"`
	TailAmp    param.Param `yaml:"tail_amplitude"`
	TailSlope  param.Param `yaml:"tail_slope"`
	LSkewAmp   param.Param `yaml:"left_skew_amplitude"`
	LSkewSlope param.Param `yaml:"left_skew_slope"`
	RSkewAmp   param.Param `yaml:"right_skew_amplitude"`
	RSkewSlope param.Param `yaml:"right_skew_slope"`

	RSquared float64 `yaml:"rsquared"`
}

// Components holds the initial values, bounds and enable flags of the
// non-Gaussian Hypermet terms.
type Components struct {
	Step       param.Param `yaml:"step"`
	TailAmp    param.Param `yaml:"tail_amplitude"`
	TailSlope  param.Param `yaml:"tail_slope"`
	LSkewAmp   param.Param `yaml:"left_skew_amplitude"`
	LSkewSlope param.Param `yaml:"left_skew_slope"`
	RSkewAmp   param.Param `yaml:"right_skew_amplitude"`
	RSkewSlope param.Param `yaml:"right_skew_slope"`
}

// DefaultComponents returns the usual component bounds with every component
// disabled.
func DefaultComponents() Components {
	c := Components{
		Step:       param.New("step", 1e-10, 1e-10, 0.75),
		TailAmp:    param.New("tail_amplitude", 1e-10, 1e-10, 0.015),
		TailSlope:  param.New("tail_slope", 2.75, 2.5, 50),
		LSkewAmp:   param.New("left_skew_amplitude", 1e-10, 1e-10, 0.75),
		LSkewSlope: param.New("left_skew_slope", 0.5, 0.3, 2),
		RSkewAmp:   param.New("right_skew_amplitude", 1e-10, 1e-10, 0.75),
		RSkewSlope: param.New("right_skew_slope", 0.5, 0.3, 2),
	}

	c.SetStep(false)
	c.SetTail(false)
	c.SetLeftSkew(false)
	c.SetRightSkew(false)

	return c
}

// SetStep enables or disables the step term.
func (c *Components) SetStep(on bool) { c.Step.Enabled = on }

// SetTail enables or disables the tail amplitude and slope.
func (c *Components) SetTail(on bool) {
	c.TailAmp.Enabled = on
	c.TailSlope.Enabled = on
}

// SetLeftSkew enables or disables the left skew amplitude and slope.
func (c *Components) SetLeftSkew(on bool) {
	c.LSkewAmp.Enabled = on
	c.LSkewSlope.Enabled = on
}

// SetRightSkew enables or disables the right skew amplitude and slope.
func (c *Components) SetRightSkew(on bool) {
	c.RSkewAmp.Enabled = on
	c.RSkewSlope.Enabled = on
}

// FromGaussian seeds a Hypermet from a Gaussian. The Hypermet width is
// hwhm/sqrt(ln2); uncertainties are carried over.
func FromGaussian(g Gaussian, comp Components) Hypermet {
	inf := math.Inf(1)

	h := Hypermet{
		Center: param.New("center", g.Center.Value, -inf, inf),
		Height: param.New("height", g.Height.Value, -inf, inf),
		Width:  param.New("width", g.HWHM.Value/sqrtLn2, -inf, inf),
	}
	h.Center.Uncert = g.Center.Uncert
	h.Height.Uncert = g.Height.Uncert
	h.Width.Uncert = g.HWHM.Uncert / sqrtLn2
	h.SetComponents(comp)

	return h
}

// SetComponents replaces the component terms of h.
func (h *Hypermet) SetComponents(c Components) {
	h.Step = c.Step
	h.TailAmp = c.TailAmp
	h.TailSlope = c.TailSlope
	h.LSkewAmp = c.LSkewAmp
	h.LSkewSlope = c.LSkewSlope
	h.RSkewAmp = c.RSkewAmp
	h.RSkewSlope = c.RSkewSlope
}

// Components returns the component terms of h.
func (h Hypermet) Components() Components {
	return Components{
		Step:       h.Step,
		TailAmp:    h.TailAmp,
		TailSlope:  h.TailSlope,
		LSkewAmp:   h.LSkewAmp,
		LSkewSlope: h.LSkewSlope,
		RSkewAmp:   h.RSkewAmp,
		RSkewSlope: h.RSkewSlope,
	}
}

// IsGaussian reports whether every non-Gaussian component is disabled.
func (h Hypermet) IsGaussian() bool {
	return !h.Step.Enabled && !h.TailAmp.Enabled && !h.LSkewAmp.Enabled && !h.RSkewAmp.Enabled
}

// Gaussian returns the Gaussian core of h.
func (h Hypermet) Gaussian() Gaussian {
	g := NewGaussian(h.Center.Value, h.Height.Value, h.Width.Value*sqrtLn2)
	g.Center.Uncert = h.Center.Uncert
	g.Height.Uncert = h.Height.Uncert
	g.HWHM.Uncert = h.Width.Uncert * sqrtLn2

	return g
}

// skew evaluates exp((w/2s)² ± xc/s) * erfc(w/2s ± xc/w), with sign -1 for
// the right-hand variant.
func skew(xc, w, slope, sign float64) float64 {
	if slope == 0 || w == 0 {
		return 0
	}

	k := 0.5 * w / slope
	e := k*k + sign*xc/slope
	z := k + sign*xc/w

	// asymptotic erfc(z) ~ exp(-z²)/(z√π) once exp(e) would overflow
	if e > 700 && z > 0 {
		return math.Exp(e-z*z) / (z * math.SqrtPi)
	}

	return math.Exp(e) * math.Erfc(z)
}

// EvalPeak evaluates the Gaussian and skew terms at x.
func (h Hypermet) EvalPeak(x float64) float64 {
	w := h.Width.Value
	if w == 0 {
		return 0
	}

	xc := x - h.Center.Value
	g := math.Exp(-(xc / w) * (xc / w))

	var l, r float64
	if h.LSkewAmp.Enabled {
		l = h.LSkewAmp.Value * skew(xc, w, h.LSkewSlope.Value, 1)
	}

	if h.RSkewAmp.Enabled {
		r = h.RSkewAmp.Value * skew(xc, w, h.RSkewSlope.Value, -1)
	}

	return h.Height.Value * (g + 0.5*(l+r))
}

// EvalStepTail evaluates the step and tail terms at x. These sit on the
// background rather than belonging to the peak area.
func (h Hypermet) EvalStepTail(x float64) float64 {
	w := h.Width.Value
	if w == 0 {
		return 0
	}

	xc := x - h.Center.Value

	var step, tail float64
	if h.Step.Enabled {
		step = h.Step.Value * math.Erfc(xc/w)
	}

	if h.TailAmp.Enabled {
		tail = h.TailAmp.Value * skew(xc, w, h.TailSlope.Value, 1)
	}

	return h.Height.Value * 0.5 * (step + tail)
}

// Eval evaluates the full shape at x.
func (h Hypermet) Eval(x float64) float64 {
	return h.EvalPeak(x) + h.EvalStepTail(x)
}

// Area returns the integral of EvalPeak.
func (h Hypermet) Area() param.Value {
	hv, w := h.Height.Value, h.Width.Value
	core := w * math.Sqrt(math.Pi)

	shape := core
	if h.LSkewAmp.Enabled {
		shape += h.LSkewAmp.Value * h.LSkewSlope.Value
	}

	if h.RSkewAmp.Enabled {
		shape += h.RSkewAmp.Value * h.RSkewSlope.Value
	}

	sigma := math.Hypot(h.Height.Uncert*shape, h.Width.Uncert*hv*math.Sqrt(math.Pi))

	return param.Value{Val: hv * shape, Sigma: sigma}
}

// FWHM returns the full width at half maximum of the Gaussian core.
func (h Hypermet) FWHM() param.Value {
	k := 2 * sqrtLn2

	return param.Value{Val: k * h.Width.Value, Sigma: k * h.Width.Uncert}
}
