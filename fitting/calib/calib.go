// Package calib maps bins to physical units.
package calib

import (
	"math"

	"github.com/cwbudde/algo-gamma/fitting/poly"
)

// Calibration is a polynomial in bin space recorded at a given ADC bit depth.
// Bins of a spectrum with a different depth are rescaled before evaluation.
type Calibration struct {
	Units string          `yaml:"units,omitempty"`
	Bits  int             `yaml:"bits,omitempty"`
	Model poly.Polynomial `yaml:"model"`
}

// New returns a calibration for the given units, bit depth and coefficients.
func New(units string, bits int, coeffs ...float64) Calibration {
	return Calibration{Units: units, Bits: bits, Model: poly.New(0, coeffs...)}
}

// Valid reports whether c has a usable model.
func (c Calibration) Valid() bool {
	return c.Model.Valid()
}

func (c Calibration) scale(bits int) float64 {
	if bits <= 0 || c.Bits <= 0 || bits == c.Bits {
		return 1
	}

	return math.Ldexp(1, c.Bits-bits)
}

// Transform evaluates c at bin, a bin of a spectrum recorded at bits. An
// invalid calibration returns bin unchanged.
func (c Calibration) Transform(bin float64, bits int) float64 {
	if !c.Valid() {
		return bin
	}

	return c.Model.Eval(bin * c.scale(bits))
}

// Derivative returns d(value)/d(bin) at bin.
func (c Calibration) Derivative(bin float64, bits int) float64 {
	if !c.Valid() {
		return 1
	}

	s := c.scale(bits)

	return c.Model.Derivative(bin*s) * s
}

// Inverse returns the bin at which c evaluates to value, or NaN when it
// cannot be found.
func (c Calibration) Inverse(value float64, bits int) float64 {
	if !c.Valid() {
		return value
	}

	return c.Model.Inverse(value, 1e-9) / c.scale(bits)
}
