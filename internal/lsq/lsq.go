// Package lsq fits bounded parametric models to counting data by minimising
// chi-square with gonum/optimize.
//
// Bounds are enforced by reparameterisation: the optimiser works on an
// unconstrained vector u and each bounded parameter is recovered as
//
//	p = lo + (hi-lo)*(sin(u)+1)/2
//
// Half-open bounds use the square-root transform, unbounded parameters are
// passed through. Disabled parameters and parameters with collapsed bounds
// are held constant.
package lsq

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-gamma/fitting/param"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// Errors returned by Fit.
var (
	ErrLengthMismatch = errors.New("lsq: x, y and sigma must have same length")
	ErrEmpty          = errors.New("lsq: no data points")
	ErrNonFinite      = errors.New("lsq: fit produced non-finite parameters")
	ErrUnknownMethod  = errors.New("lsq: unknown minimisation method")
)

// Method names a minimisation algorithm.
type Method string

// Supported methods.
const (
	LBFGS      Method = "lbfgs"
	NelderMead Method = "nelder-mead"
)

// penalty replaces non-finite chi-square values so line searches can back
// off instead of aborting.
const penalty = 1e300

// Model evaluates the fitted function at x for the full parameter vector p.
type Model func(p []float64, x float64) float64

// Problem describes a weighted least-squares fit.
type Problem struct {
	X, Y []float64

	// Sigma holds per-point standard deviations. When nil the Poisson
	// estimate sqrt(max(y, 1)) is used.
	Sigma []float64

	Params []param.Param
	Model  Model
}

// Options controls the minimiser.
type Options struct {
	Method        Method
	MaxIterations int
}

// DefaultOptions returns LBFGS with a generous iteration cap.
func DefaultOptions() Options {
	return Options{Method: LBFGS, MaxIterations: 500}
}

// Result is the outcome of Fit.
type Result struct {
	Params      []param.Param
	ChiSq       float64
	DOF         int
	RSquared    float64
	Evaluations int
	Status      optimize.Status

	// Warning is set when the minimiser stopped early or reported an error
	// after reaching a usable point. Params hold the best point found.
	Warning error
}

// Values returns the fitted parameter values.
func (r Result) Values() []float64 {
	out := make([]float64, len(r.Params))
	for i, p := range r.Params {
		out[i] = p.Value
	}

	return out
}

// Fit minimises chi-square for problem p.
func Fit(p Problem, o Options) (Result, error) {
	if len(p.X) != len(p.Y) || (p.Sigma != nil && len(p.Sigma) != len(p.X)) {
		return Result{}, ErrLengthMismatch
	}

	if len(p.X) == 0 {
		return Result{}, ErrEmpty
	}

	method, err := o.method()
	if err != nil {
		return Result{}, err
	}

	sigma := p.Sigma
	if sigma == nil {
		sigma = PoissonSigma(p.Y)
	}

	t := newTransform(p.Params)
	full := make([]float64, len(p.Params))
	evals := 0

	chi2 := func(values []float64) float64 {
		evals++

		var sum float64
		for i, x := range p.X {
			r := (p.Y[i] - p.Model(values, x)) / sigma[i]
			sum += r * r
		}

		return sum
	}

	result := Result{Params: cloneParams(p.Params)}

	if len(t.free) > 0 {
		objective := func(u []float64) float64 {
			t.apply(full, u)

			c := chi2(full)
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return penalty
			}

			return c
		}

		problem := optimize.Problem{
			Func: objective,
			Grad: func(grad, u []float64) {
				fd.Gradient(grad, objective, u, &fd.Settings{Formula: fd.Central})
			},
		}

		settings := &optimize.Settings{
			MajorIterations: o.MaxIterations,
			Converger: &optimize.FunctionConverge{
				Absolute:   1e-10,
				Relative:   1e-10,
				Iterations: o.stallIterations(),
			},
		}

		res, err := optimize.Minimize(problem, t.initial(), settings, method)
		if res == nil {
			return Result{}, fmt.Errorf("lsq: %w", err)
		}

		t.apply(full, res.X)
		result.Status = res.Status

		result.Warning = err
		if result.Warning == nil && res.Status.Early() {
			result.Warning = res.Status.Err()
		}
	} else {
		t.apply(full, nil)
	}

	for i := range result.Params {
		result.Params[i].Value = full[i]
		result.Params[i].Uncert = 0
	}

	for _, v := range full {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Result{}, ErrNonFinite
		}
	}

	result.ChiSq = chi2(full)
	result.DOF = len(p.X) - len(t.free)

	fitted := make([]float64, len(p.X))
	for i, x := range p.X {
		fitted[i] = p.Model(full, x)
	}

	result.RSquared = stat.RSquaredFrom(fitted, p.Y, nil)
	if math.IsNaN(result.ChiSq) || math.IsInf(result.ChiSq, 0) {
		return Result{}, ErrNonFinite
	}

	if len(t.free) > 0 {
		uncertainties(&result, p, sigma, full, t.free)
	}

	result.Evaluations = evals

	return result, nil
}

// PoissonSigma returns sqrt(max(y, 1)) for each count.
func PoissonSigma(y []float64) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = math.Sqrt(math.Max(v, 1))
	}

	return out
}

func (o Options) method() (optimize.Method, error) {
	switch o.Method {
	case "", LBFGS:
		return &optimize.LBFGS{}, nil
	case NelderMead:
		return &optimize.NelderMead{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, o.Method)
	}
}

// stallIterations is the number of iterations without improvement of the best
// point before the minimiser stops. A simplex often keeps its best vertex for
// many iterations while it contracts.
func (o Options) stallIterations() int {
	if o.Method == NelderMead {
		return 200
	}

	return 25
}

// uncertainties fills Uncert from cov = (JᵀJ)⁻¹ · χ²/dof, where J is the
// Jacobian of the weighted residuals with respect to the free parameters.
// A singular normal matrix leaves the uncertainties at NaN.
func uncertainties(r *Result, p Problem, sigma, full []float64, free []int) {
	vals := make([]float64, len(full))
	copy(vals, full)

	residuals := func(dst, x []float64) {
		for k, idx := range free {
			vals[idx] = x[k]
		}

		for i, xi := range p.X {
			dst[i] = (p.Y[i] - p.Model(vals, xi)) / sigma[i]
		}
	}

	at := make([]float64, len(free))
	for k, idx := range free {
		at[k] = full[idx]
	}

	jac := mat.NewDense(len(p.X), len(free), nil)
	fd.Jacobian(jac, residuals, at, &fd.JacobianSettings{Formula: fd.Central})

	var normal mat.SymDense
	normal.SymOuterK(1, jac.T())

	var (
		chol mat.Cholesky
		cov  mat.SymDense
	)

	if !chol.Factorize(&normal) || chol.InverseTo(&cov) != nil {
		for _, idx := range free {
			r.Params[idx].Uncert = math.NaN()
		}

		return
	}

	scale := 1.0
	if r.DOF > 0 {
		scale = r.ChiSq / float64(r.DOF)
	}

	for k, idx := range free {
		r.Params[idx].Uncert = math.Sqrt(math.Abs(cov.At(k, k)) * scale)
	}
}

func cloneParams(ps []param.Param) []param.Param {
	out := make([]param.Param, len(ps))
	copy(out, ps)

	return out
}
