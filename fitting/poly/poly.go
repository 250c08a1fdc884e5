// Package poly implements polynomials with bounded coefficients. They serve
// as background models inside peak regressions and as calibration curves.
package poly

import (
	"errors"
	"math"
	"strconv"

	"github.com/cwbudde/algo-gamma/fitting/param"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Errors returned by Fit.
var (
	ErrLengthMismatch  = errors.New("poly: x, y and sigma must have same length")
	ErrUnderdetermined = errors.New("poly: not enough points for requested degree")
	ErrSingular        = errors.New("poly: singular normal matrix")
)

const maxInverseIterations = 100

// Polynomial evaluates sum_k c_k * (x - XOffset)^k. Coefficient k is stored
// at index k.
type Polynomial struct {
	Coeffs   []param.Param `yaml:"coefficients"`
	XOffset  float64       `yaml:"xoffset"`
	RSquared float64       `yaml:"rsquared,omitempty"`
}

// New returns a polynomial with unbounded coefficients set to values.
func New(xoffset float64, values ...float64) Polynomial {
	p := Polynomial{XOffset: xoffset, Coeffs: make([]param.Param, len(values))}
	for i, v := range values {
		p.Coeffs[i] = param.New(coeffName(i), v, math.Inf(-1), math.Inf(1))
	}

	return p
}

func coeffName(degree int) string {
	return "a" + strconv.Itoa(degree)
}

// Degree returns the highest coefficient index, or -1 for an empty
// polynomial.
func (p Polynomial) Degree() int {
	return len(p.Coeffs) - 1
}

// Valid reports whether p has at least one coefficient.
func (p Polynomial) Valid() bool {
	return len(p.Coeffs) > 0
}

// Values returns the coefficient values in ascending order.
func (p Polynomial) Values() []float64 {
	out := make([]float64, len(p.Coeffs))
	for i, c := range p.Coeffs {
		out[i] = c.Value
	}

	return out
}

// WithValues returns a copy of p whose coefficient values are replaced by
// values. Bounds are kept.
func (p Polynomial) WithValues(values []float64) Polynomial {
	q := p.Clone()
	for i := range q.Coeffs {
		if i < len(values) {
			q.Coeffs[i].Value = values[i]
		}
	}

	return q
}

// Clone returns a deep copy of p.
func (p Polynomial) Clone() Polynomial {
	q := p
	if p.Coeffs != nil {
		q.Coeffs = make([]param.Param, len(p.Coeffs))
		copy(q.Coeffs, p.Coeffs)
	}

	return q
}

// Eval evaluates p at x using Horner's scheme.
func (p Polynomial) Eval(x float64) float64 {
	return evalValues(p.Coeffs, x-p.XOffset)
}

func evalValues(coeffs []param.Param, t float64) float64 {
	var y float64
	for i := len(coeffs) - 1; i >= 0; i-- {
		y = y*t + coeffs[i].Value
	}

	return y
}

// EvalAll evaluates p at every x.
func (p Polynomial) EvalAll(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = p.Eval(v)
	}

	return out
}

// Derivative evaluates dp/dx at x.
func (p Polynomial) Derivative(x float64) float64 {
	t := x - p.XOffset

	var y float64
	for i := len(p.Coeffs) - 1; i >= 1; i-- {
		y = y*t + float64(i)*p.Coeffs[i].Value
	}

	return y
}

// Inverse solves p(x) = y by Newton iteration starting at XOffset. It
// returns NaN when the iteration does not converge to within eps.
func (p Polynomial) Inverse(y, eps float64) float64 {
	if !p.Valid() {
		return math.NaN()
	}

	if eps <= 0 {
		eps = 1e-10
	}

	x0 := p.XOffset
	for range maxInverseIterations {
		d := p.Derivative(x0)
		if d == 0 {
			return math.NaN()
		}

		x1 := x0 + (y-p.Eval(x0))/d
		if math.Abs(x1-x0) <= eps {
			return x1
		}

		x0 = x1
	}

	return math.NaN()
}

// Fit performs a weighted linear least-squares fit of a polynomial of the
// given degree about xoffset. sigma may be nil for unit weights. Coefficient
// uncertainties come from the diagonal of the covariance matrix scaled by the
// reduced chi-square.
func Fit(x, y, sigma []float64, degree int, xoffset float64) (Polynomial, error) {
	if len(x) != len(y) || (sigma != nil && len(sigma) != len(x)) {
		return Polynomial{}, ErrLengthMismatch
	}

	n := len(x)
	m := degree + 1

	if degree < 0 || n < m {
		return Polynomial{}, ErrUnderdetermined
	}

	a := mat.NewDense(n, m, nil)
	b := mat.NewVecDense(n, nil)

	for i := range n {
		w := 1.0
		if sigma != nil && sigma[i] > 0 {
			w = 1 / sigma[i]
		}

		t := x[i] - xoffset
		pow := 1.0

		for k := range m {
			a.Set(i, k, w*pow)
			pow *= t
		}

		b.SetVec(i, w*y[i])
	}

	var normal mat.SymDense
	normal.SymOuterK(1, a.T())

	var chol mat.Cholesky
	if ok := chol.Factorize(&normal); !ok {
		return Polynomial{}, ErrSingular
	}

	var atb mat.VecDense
	atb.MulVec(a.T(), b)

	var coeffs mat.VecDense
	if err := chol.SolveVecTo(&coeffs, &atb); err != nil {
		return Polynomial{}, ErrSingular
	}

	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return Polynomial{}, ErrSingular
	}

	p := Polynomial{XOffset: xoffset, Coeffs: make([]param.Param, m)}
	for k := range m {
		p.Coeffs[k] = param.New(coeffName(k), coeffs.AtVec(k), math.Inf(-1), math.Inf(1))
	}

	fitted := p.EvalAll(x)

	var chi2 float64
	for i := range n {
		r := y[i] - fitted[i]
		if sigma != nil && sigma[i] > 0 {
			r /= sigma[i]
		}

		chi2 += r * r
	}

	scale := 1.0
	if dof := n - m; dof > 0 {
		scale = chi2 / float64(dof)
	}

	for k := range m {
		p.Coeffs[k].Uncert = math.Sqrt(math.Abs(cov.At(k, k)) * scale)
	}

	p.RSquared = stat.RSquaredFrom(fitted, y, nil)

	return p, nil
}
