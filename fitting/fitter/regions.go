package fitter

import (
	"math"

	"go.uber.org/zap"

	"github.com/cwbudde/algo-gamma/dsp/finder"
	"github.com/cwbudde/algo-gamma/fitting/roi"
	"github.com/cwbudde/algo-gamma/fitting/settings"
)

// FindRegions replaces the regions with clusters of the spectrum-wide
// candidates and returns how many were created. Candidates closer than
// twice the background margin are merged; each cluster is then widened by
// its margin, and the gaps between neighbours are shared at their midpoint.
func (f *Fitter) FindRegions() (int, error) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	parent := f.parent()
	if parent == nil {
		return 0, ErrNoData
	}

	s := f.Settings()
	parent.ResetResidual()
	parent.FindPeaks(s.Search())

	ls, rs := clusters(parent, s)

	regions := map[float64]*roi.ROI{}

	for i := range ls {
		r := f.newROI()
		if err := r.SetData(parent, parent.X[ls[i]], parent.X[rs[i]]); err != nil {
			f.logger.Debug("region skipped",
				zap.Float64("left", parent.X[ls[i]]),
				zap.Float64("right", parent.X[rs[i]]),
				zap.Error(err),
			)

			continue
		}

		regions[r.Left()] = r
	}

	f.mu.Lock()
	f.regions = regions
	f.mu.Unlock()

	f.logger.Info("regions found",
		zap.Int("candidates", parent.Count()),
		zap.Int("regions", len(regions)),
	)

	return len(regions), nil
}

// clusters returns the inclusive index ranges of the regions covering the
// filtered candidates of fd.
func clusters(fd *finder.Finder, s settings.Settings) (ls, rs []int) {
	n := fd.Count()
	if n == 0 {
		return nil, nil
	}

	last := fd.Len() - 1

	margin := func(i int) int {
		if i >= len(fd.FWTheoretical) {
			return 0
		}

		m := s.ROIExtendBackground * fd.FWTheoretical[i]
		if math.IsNaN(m) || m < 0 {
			return 0
		}

		return int(m)
	}

	emit := func(l, r int) {
		m := margin(r)
		l = max(l-m, 0)
		r = min(r+m, last)

		if s.Energy(fd.X[r]) <= s.FinderCutoffEnergy {
			return
		}

		ls = append(ls, l)
		rs = append(rs, r)
	}

	l, r, _ := fd.Window(0)

	for i := 1; i < n; i++ {
		li, ri, _ := fd.Window(i)

		if li < r+2*margin(r) {
			l = min(l, li)
			r = max(r, ri)

			continue
		}

		emit(l, r)
		l, r = li, ri
	}

	emit(l, r)

	for i := 0; i+1 < len(ls); i++ {
		if ls[i+1]-rs[i] == 1 {
			continue
		}

		mid := (ls[i+1] + rs[i]) / 2
		rs[i] = mid - 1
		ls[i+1] = mid + 1
	}

	return ls, rs
}
