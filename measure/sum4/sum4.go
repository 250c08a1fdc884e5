package sum4

import (
	"errors"
	"math"

	"github.com/cwbudde/algo-gamma/fitting/param"
	"github.com/cwbudde/algo-gamma/fitting/poly"
	"github.com/cwbudde/algo-gamma/stats/edge"
	"github.com/cwbudde/algo-vecmath"
)

// Errors returned by Calculate.
var (
	ErrLengthMismatch = errors.New("sum4: x and y must have same length")
	ErrInvalidBounds  = errors.New("sum4: invalid peak window")
	ErrEdgeOverlap    = errors.New("sum4: peak window overlaps a background edge")
)

// Currie critical-level factors for the standard 5% false-positive and
// false-negative rates.
const (
	currieLc      = 2.33
	currieLdConst = 2.71
	currieLd      = 4.65
)

// Quality is the Currie detection class of a peak.
type Quality int

const (
	Unknown Quality = iota
	// Detectable: net area above the detection limit Ld.
	Detectable
	// CriticalExceeded: net area above the critical level Lc but not Ld.
	CriticalExceeded
	// NotSignificant: net area at or below Lc.
	NotSignificant
)

// String implements fmt.Stringer.
func (q Quality) String() string {
	switch q {
	case Detectable:
		return "detectable"
	case CriticalExceeded:
		return "critical"
	case NotSignificant:
		return "insignificant"
	default:
		return "unknown"
	}
}

// Classify returns the Currie class of net given the standard deviation of
// the background area. A net area equal to a limit falls into the lower
// class.
func Classify(net, sigmaB float64) Quality {
	switch {
	case net > currieLdConst+currieLd*sigmaB:
		return Detectable
	case net > currieLc*sigmaB:
		return CriticalExceeded
	default:
		return NotSignificant
	}
}

// Result is a SUM4 estimate for one peak window.
type Result struct {
	Left  int `yaml:"left"`
	Right int `yaml:"right"`

	PeakWidth      float64     `yaml:"-"`
	BackgroundArea param.Value `yaml:"-"`
	GrossArea      param.Value `yaml:"-"`
	PeakArea       param.Value `yaml:"-"`
	Centroid       param.Value `yaml:"-"`
	FWHM           float64     `yaml:"-"`

	CriticalLevel  float64 `yaml:"-"`
	DetectionLimit float64 `yaml:"-"`
	Quality        Quality `yaml:"-"`
}

// Valid reports whether r holds a computed window.
func (r Result) Valid() bool {
	return r.PeakWidth > 0
}

// Calculate computes the SUM4 estimate over y[left..right] (inclusive)
// against the summation background bg anchored on lb and rb. The window must
// lie strictly between lb.End and rb.Start.
func Calculate(x, y []float64, left, right int, bg poly.Polynomial, lb, rb edge.Window) (Result, error) {
	if len(x) != len(y) {
		return Result{}, ErrLengthMismatch
	}

	if left < 0 || right < left || right >= len(y) {
		return Result{}, ErrInvalidBounds
	}

	if left <= lb.End || right >= rb.Start {
		return Result{}, ErrEdgeOverlap
	}

	r := Result{Left: left, Right: right}
	r.PeakWidth = float64(right - left + 1)

	xs := x[left : right+1]
	ys := y[left : right+1]

	half := r.PeakWidth / 2
	r.BackgroundArea = param.Value{
		Val:   half * (bg.Eval(xs[0]) + bg.Eval(xs[len(xs)-1])),
		Sigma: half * math.Sqrt(lb.Variance+rb.Variance),
	}

	gross := vecmath.Sum(ys)
	r.GrossArea = param.Value{Val: gross, Sigma: math.Sqrt(math.Max(gross, 0))}
	r.PeakArea = param.Diff(r.GrossArea, r.BackgroundArea)

	net := make([]float64, len(ys))
	for i := range ys {
		net[i] = ys[i] - bg.Eval(xs[i])
	}

	r.Centroid = param.Value{Val: (xs[0] + xs[len(xs)-1]) / 2, Sigma: math.NaN()}

	// Net counts of mixed sign can put the weighted mean outside the window.
	if total := vecmath.Sum(net); total > 0 {
		c := vecmath.DotProduct(net, xs) / total

		if c >= xs[0] && c <= xs[len(xs)-1] {
			var spread, sigma2 float64
			for i, xi := range xs {
				d := xi - c
				spread += net[i] * d * d
				sigma2 += math.Max(ys[i], 0) * d * d
			}

			variance := spread / total
			r.Centroid = param.Value{Val: c, Sigma: math.Sqrt(sigma2) / total}

			if variance > 0 {
				r.FWHM = 2 * math.Sqrt(2*math.Ln2*variance)
			}
		}
	}

	sigmaB := r.BackgroundArea.Sigma
	r.CriticalLevel = currieLc * sigmaB
	r.DetectionLimit = currieLdConst + currieLd*sigmaB
	r.Quality = Classify(r.PeakArea.Val, sigmaB)

	return r, nil
}

// Window returns the inclusive index window center ± width·fwhm, clamped to
// lie strictly between lb.End and rb.Start. ok is false when no bin fits.
func Window(x []float64, center, fwhm, width float64, lb, rb edge.Window) (left, right int, ok bool) {
	lo := center - width*fwhm
	hi := center + width*fwhm

	left, right = lb.End+1, rb.Start-1
	if left > right {
		return 0, 0, false
	}

	for left < right && x[left] < lo {
		left++
	}

	for right > left && x[right] > hi {
		right--
	}

	return left, right, true
}
