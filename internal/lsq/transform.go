package lsq

import (
	"math"

	"github.com/cwbudde/algo-gamma/fitting/param"
)

const edgeLimit = 1 - 1e-6

type boundKind int

const (
	unbounded boundKind = iota
	lowerOnly
	upperOnly
	twoSided
)

// transform maps the unconstrained optimiser vector onto the full parameter
// vector.
type transform struct {
	params []param.Param
	kinds  []boundKind
	free   []int
}

func newTransform(ps []param.Param) *transform {
	t := &transform{params: ps, kinds: make([]boundKind, len(ps))}

	for i, p := range ps {
		if p.Fixed() {
			continue
		}

		t.free = append(t.free, i)

		lo := !math.IsInf(p.Lower, -1)
		hi := !math.IsInf(p.Upper, 1)

		switch {
		case lo && hi:
			t.kinds[i] = twoSided
		case lo:
			t.kinds[i] = lowerOnly
		case hi:
			t.kinds[i] = upperOnly
		}
	}

	return t
}

// initial returns the unconstrained starting point for the clamped initial
// parameter values.
func (t *transform) initial() []float64 {
	u := make([]float64, len(t.free))

	for k, idx := range t.free {
		p := t.params[idx].Clamp()

		switch t.kinds[idx] {
		case twoSided:
			// keep off the turning points of sin, where the gradient vanishes
			s := 2*(p.Value-p.Lower)/(p.Upper-p.Lower) - 1
			u[k] = math.Asin(math.Max(-edgeLimit, math.Min(edgeLimit, s)))
		case lowerOnly:
			d := p.Value - p.Lower + 1
			u[k] = math.Sqrt(d*d - 1)
		case upperOnly:
			d := p.Upper - p.Value + 1
			u[k] = math.Sqrt(d*d - 1)
		default:
			u[k] = p.Value
		}
	}

	return u
}

// apply writes the parameter vector for u into dst. Fixed parameters take
// their effective value; a nil u yields the initial values.
func (t *transform) apply(dst, u []float64) {
	for i, p := range t.params {
		dst[i] = p.Effective()
	}

	if u == nil {
		return
	}

	for k, idx := range t.free {
		p := t.params[idx]

		switch t.kinds[idx] {
		case twoSided:
			dst[idx] = p.Lower + (p.Upper-p.Lower)*(math.Sin(u[k])+1)/2
		case lowerOnly:
			dst[idx] = p.Lower - 1 + math.Sqrt(u[k]*u[k]+1)
		case upperOnly:
			dst[idx] = p.Upper + 1 - math.Sqrt(u[k]*u[k]+1)
		default:
			dst[idx] = u[k]
		}
	}
}
