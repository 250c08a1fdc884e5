// Package peak holds fitted and summation peak records.
package peak

import (
	"cmp"
	"math"
	"slices"

	"github.com/google/uuid"

	"github.com/cwbudde/algo-gamma/fitting/param"
	"github.com/cwbudde/algo-gamma/fitting/settings"
	"github.com/cwbudde/algo-gamma/fitting/shape"
	"github.com/cwbudde/algo-gamma/measure/sum4"
)

// Peak is one emission line. ID is assigned at creation and survives refits
// that keep the peak; Center is derived from the shape or the SUM4 centroid.
type Peak struct {
	ID uuid.UUID

	Center     param.Value
	Energy     param.Value
	FWHM       param.Value // bins
	FWHMEnergy float64

	// Hypermet is meaningful only when Parametric is set.
	Hypermet   shape.Hypermet
	Parametric bool

	SUM4 sum4.Result

	// Counts per second of live time from the regression and SUM4 areas.
	AreaRate float64
	SumRate  float64
}

// New returns a regression peak with a fresh ID.
func New(h shape.Hypermet, s settings.Settings) Peak {
	p := Peak{ID: uuid.New(), Hypermet: h, Parametric: true}
	p.Calibrate(s)

	return p
}

// Summation returns a peak defined only by a SUM4 window.
func Summation(r sum4.Result, s settings.Settings) Peak {
	p := Peak{ID: uuid.New(), SUM4: r}
	p.Calibrate(s)

	return p
}

// IsSummation reports whether p has no regression shape.
func (p Peak) IsSummation() bool { return !p.Parametric }

// Area returns the regression area, or the SUM4 net area for summation
// peaks.
func (p Peak) Area() param.Value {
	if p.Parametric {
		return p.Hypermet.Area()
	}

	return p.SUM4.PeakArea
}

// WithSUM4 returns p with r as its summation result and rates refreshed.
func (p Peak) WithSUM4(r sum4.Result, s settings.Settings) Peak {
	p.SUM4 = r
	p.Calibrate(s)

	return p
}

// Calibrate recomputes center, energy, widths and rates from the shape or
// the SUM4 result.
func (p *Peak) Calibrate(s settings.Settings) {
	if p.Parametric {
		p.Center = p.Hypermet.Center.Result()
		p.FWHM = p.Hypermet.FWHM()
	} else {
		p.Center = p.SUM4.Centroid
		p.FWHM = param.Value{Val: p.SUM4.FWHM}
	}

	e := s.Energy(p.Center.Val)
	slope := math.Abs(s.EnergyCal.Derivative(p.Center.Val, s.Bits))
	p.Energy = param.Value{Val: e, Sigma: slope * p.Center.Sigma}

	half := p.FWHM.Val / 2
	p.FWHMEnergy = s.Energy(p.Center.Val+half) - s.Energy(p.Center.Val-half)

	p.AreaRate = 0
	if p.Parametric {
		p.AreaRate = s.Rate(p.Hypermet.Area().Val)
	}

	p.SumRate = s.Rate(p.SUM4.PeakArea.Val)
}

// SortByCenter orders peaks by center, breaking ties by ID.
func SortByCenter(ps []Peak) {
	slices.SortFunc(ps, func(a, b Peak) int {
		if c := cmp.Compare(a.Center.Val, b.Center.Val); c != 0 {
			return c
		}

		return cmp.Compare(a.ID.String(), b.ID.String())
	})
}

// SortByEnergy orders peaks by energy, breaking ties by center.
func SortByEnergy(ps []Peak) {
	slices.SortFunc(ps, func(a, b Peak) int {
		if c := cmp.Compare(a.Energy.Val, b.Energy.Val); c != 0 {
			return c
		}

		return cmp.Compare(a.Center.Val, b.Center.Val)
	})
}

// IDs returns the IDs of ps in order.
func IDs(ps []Peak) []uuid.UUID {
	ids := make([]uuid.UUID, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}

	return ids
}
