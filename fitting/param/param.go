// Package param provides bounded fit parameters and value/uncertainty pairs.
package param

import (
	"fmt"
	"math"
	"strconv"
)

// Param is a single regression parameter. A disabled parameter is held at
// zero and never varied by a fit.
type Param struct {
	Name    string  `yaml:"name,omitempty"`
	Value   float64 `yaml:"value"`
	Uncert  float64 `yaml:"uncert,omitempty"`
	Lower   float64 `yaml:"lower"`
	Upper   float64 `yaml:"upper"`
	Enabled bool    `yaml:"enabled"`
}

// New returns an enabled parameter with the given initial value and bounds.
// Bounds are swapped if given in the wrong order.
func New(name string, value, lower, upper float64) Param {
	if lower > upper {
		lower, upper = upper, lower
	}

	return Param{
		Name:    name,
		Value:   value,
		Lower:   lower,
		Upper:   upper,
		Enabled: true,
	}
}

// Fixed reports whether a fit must leave p untouched: disabled parameters
// and parameters whose bounds leave no room to move.
func (p Param) Fixed() bool {
	if !p.Enabled {
		return true
	}

	width := p.Upper - p.Lower
	if math.IsInf(width, 1) {
		return false
	}

	return !(width > 1e-12*math.Max(1, math.Abs(p.Upper)))
}

// Bounded reports whether both bounds of p are finite.
func (p Param) Bounded() bool {
	return !math.IsInf(p.Lower, 0) && !math.IsInf(p.Upper, 0)
}

// Contains reports whether v lies within the bounds of p.
func (p Param) Contains(v float64) bool {
	return v >= p.Lower && v <= p.Upper
}

// Clamp returns p with Value limited to its bounds.
func (p Param) Clamp() Param {
	if p.Value < p.Lower {
		p.Value = p.Lower
	}

	if p.Value > p.Upper {
		p.Value = p.Upper
	}

	return p
}

// Disable returns p disabled and zeroed.
func (p Param) Disable() Param {
	p.Enabled = false
	p.Value = 0
	p.Uncert = 0

	return p
}

// Effective returns the value a model should use: zero when disabled.
func (p Param) Effective() float64 {
	if !p.Enabled {
		return 0
	}

	return p.Value
}

// Result returns the value and uncertainty of p as a Value.
func (p Param) Result() Value {
	return Value{Val: p.Value, Sigma: p.Uncert}
}

// Value is a measured quantity with a one-sigma uncertainty.
type Value struct {
	Val   float64 `yaml:"value"`
	Sigma float64 `yaml:"sigma"`
}

// IsFinite reports whether both the value and its uncertainty are finite.
func (v Value) IsFinite() bool {
	return !math.IsNaN(v.Val) && !math.IsInf(v.Val, 0) &&
		!math.IsNaN(v.Sigma) && !math.IsInf(v.Sigma, 0)
}

// ErrorPercent returns the relative uncertainty in percent, or +Inf when
// the value is zero.
func (v Value) ErrorPercent() float64 {
	if v.Val == 0 {
		return math.Inf(1)
	}

	return math.Abs(v.Sigma/v.Val) * 100
}

// String formats v as "value ± sigma" with the value rounded to the first
// significant digit of its uncertainty.
func (v Value) String() string {
	if v.Sigma <= 0 || !v.IsFinite() {
		return strconv.FormatFloat(v.Val, 'g', 10, 64)
	}

	decimals := 1 - int(math.Floor(math.Log10(v.Sigma)))
	if decimals < 0 {
		decimals = 0
	}

	return fmt.Sprintf("%.*f ± %.*f", decimals, v.Val, decimals, v.Sigma)
}

// Sum returns a+b with uncertainties added in quadrature.
func Sum(a, b Value) Value {
	return Value{Val: a.Val + b.Val, Sigma: math.Hypot(a.Sigma, b.Sigma)}
}

// Diff returns a-b with uncertainties added in quadrature.
func Diff(a, b Value) Value {
	return Value{Val: a.Val - b.Val, Sigma: math.Hypot(a.Sigma, b.Sigma)}
}
