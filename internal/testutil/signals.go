package testutil

import (
	"math"
	"math/rand"
)

// Peak describes a Gaussian line injected into a synthetic spectrum. Sigma
// is the standard deviation in bins.
type Peak struct {
	Center float64
	Height float64
	Sigma  float64
}

// Area returns the analytic integral of p.
func (p Peak) Area() float64 {
	return p.Height * p.Sigma * math.Sqrt(2*math.Pi)
}

// Bins returns 0, 1, ..., n-1.
func Bins(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}

	return out
}

// Spectrum returns n bins of a flat background plus the given peaks. The
// counts are exact, no noise is added.
func Spectrum(n int, background float64, peaks ...Peak) (x, y []float64) {
	x = Bins(n)
	y = DC(background, n)

	for i, xi := range x {
		for _, p := range peaks {
			d := (xi - p.Center) / p.Sigma
			y[i] += p.Height * math.Exp(-0.5*d*d)
		}
	}

	return x, y
}

// Noisy returns y with deterministic counting noise of standard deviation
// sqrt(y) added, rounded to whole counts and floored at zero.
func Noisy(seed int64, y []float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, len(y))

	for i, v := range y {
		n := math.Round(v + rng.NormFloat64()*math.Sqrt(math.Max(v, 0)))
		out[i] = math.Max(n, 0)
	}

	return out
}

// DC generates a constant-valued signal.
func DC(value float64, length int) []float64 {
	out := make([]float64, length)
	for i := range out {
		out[i] = value
	}

	return out
}
