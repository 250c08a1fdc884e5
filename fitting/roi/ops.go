package roi

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cwbudde/algo-gamma/dsp/finder"
	"github.com/cwbudde/algo-gamma/fitting/peak"
	"github.com/cwbudde/algo-gamma/fitting/settings"
	"github.com/cwbudde/algo-gamma/stats/edge"
)

// SetData takes the bins [left, right] of parent as the region range,
// places the background edges at its ends and searches it. Peaks and
// history are cleared.
func (r *ROI) SetData(parent *finder.Finder, left, right float64) error {
	li, ri, err := span(parent, left, right)
	if err != nil {
		return err
	}

	sub, err := parent.Range(li, ri)
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	s := r.settings

	f := newFit(sub)
	if err := f.initEdges(s.BackgroundEdgeSamples); err != nil {
		return err
	}

	f.finder.FindPeaks(s.Search())

	if err := f.settle(); err != nil {
		return err
	}

	r.mu.Lock()
	r.history = nil
	r.current = -1
	r.mu.Unlock()

	r.commit(f, "Set data")

	return nil
}

// AutoFit replaces all peaks with a fresh search and joint regression of the
// accepted candidates. When no regression is possible the candidates are
// recorded as summation peaks. A cancelled context leaves the region as is.
func (r *ROI) AutoFit(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.cur
	if cur.empty() {
		return ErrEmpty
	}

	if ctx.Err() != nil {
		return nil
	}

	trial := cur.clone()
	if err := r.autoFit(trial, r.settings); err != nil {
		return err
	}

	r.commit(trial, "Autofit")

	return nil
}

// IterativeFit repeatedly adds the largest acceptable residual candidate and
// refits, keeping a step only when R² is finite and strictly improves. The
// loop ends at the iteration cap, at the first rejected step, or when ctx is
// done; accepted steps are kept in every case.
func (r *ROI) IterativeFit(ctx context.Context) (Refinement, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.cur
	if cur.empty() {
		return Refinement{}, ErrEmpty
	}

	if !cur.hasParametric() {
		return Refinement{}, ErrNothingToFit
	}

	s := r.settings
	ref := Refinement{RSquared: []float64{cur.rsq}}
	prev := cur.rsq

	for i := range s.ResidMaxIterations {
		if ctx.Err() != nil {
			ref.Cancelled = true
			r.logger.Debug("refinement cancelled", zap.Int("iteration", i))

			break
		}

		trial := cur.clone()
		trial.finder.FindPeaks(s.ResidualSearch())

		if !r.addFromResid(trial, s, 0, false) {
			r.logger.Debug("no residual peak added", zap.Int("iteration", i))
			break
		}

		if math.IsNaN(trial.rsq) || math.IsInf(trial.rsq, 0) || !(trial.rsq > prev) {
			r.logger.Debug("refit not improved",
				zap.Float64("rsquared", trial.rsq),
				zap.Float64("previous", prev),
			)

			break
		}

		prev = trial.rsq
		cur = trial
		r.commit(trial, fmt.Sprintf("Refit %d", i+1))

		ref.Accepted++
		ref.RSquared = append(ref.RSquared, prev)
	}

	return ref, nil
}

// AddPeak adds a peak in [left, right]. Inside the region the residual
// candidate nearest the window center is regressed with the other peaks;
// failing that a summation peak is recorded over the window. A window
// reaching outside the region widens it first and falls back to a full
// AutoFit.
func (r *ROI) AddPeak(ctx context.Context, parent *finder.Finder, left, right float64) error {
	if !(left <= right) {
		return ErrInvalidBounds
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.cur
	if cur.empty() {
		return ErrEmpty
	}

	s := r.settings
	hint := (left + right) / 2

	if cur.overlaps(left) && cur.overlaps(right) {
		trial := cur.clone()
		if err := searchResidual(trial, s.ResidualSearch()); err != nil {
			return err
		}

		if !s.SummationOnly && r.addFromResid(trial, s, hint, true) {
			r.commit(trial, "Add peak")
			return nil
		}

		trial = cur.clone()

		li, ri, err := span(trial.finder, left, right)
		if err != nil {
			return err
		}

		p, ok := summationPeak(trial, s, li, ri)
		if !ok {
			return ErrEdgeOverlap
		}

		trial.add(p)

		if err := trial.settle(); err != nil {
			return err
		}

		r.commit(trial, "Add summation peak")

		return nil
	}

	lo := math.Min(left, cur.finder.X[0])
	hi := math.Max(right, cur.finder.X[cur.finder.Len()-1])

	li, ri, err := span(parent, lo, hi)
	if err != nil {
		return err
	}

	sub, err := parent.Range(li, ri)
	if err != nil {
		return err
	}

	trial := cur.clone()
	trial.finder = sub
	trial.shiftWindows(parent.Index(cur.finder.X[0]) - li)

	if err := trial.initEdges(s.BackgroundEdgeSamples); err != nil {
		return err
	}

	trial.cull()

	if err := trial.subtractBackground(); err != nil {
		return err
	}

	trial.finder.FindPeaks(s.Search())

	if !s.SummationOnly && r.addFromResid(trial, s, hint, true) {
		r.commit(trial, "Add peak on exterior")
		return nil
	}

	if ctx.Err() != nil {
		return nil
	}

	if err := r.autoFit(trial, s); err != nil {
		return err
	}

	r.commit(trial, "Autofit on exterior")

	return nil
}

// searchResidual runs cfg over the residual. Without a regression model the
// residual is the counts above the background.
func searchResidual(f *fit, cfg finder.Config) error {
	if !f.hasParametric() {
		if err := f.subtractBackground(); err != nil {
			return err
		}
	}

	f.finder.FindPeaks(cfg)

	return nil
}

// RemovePeaks deletes the peaks with the given IDs and refits the rest. It
// returns the number removed; unknown IDs are ignored.
func (r *ROI) RemovePeaks(ids ...uuid.UUID) (int, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	trial := r.cur.clone()

	removed := 0
	for _, id := range ids {
		if _, ok := trial.peaks[id]; ok {
			delete(trial.peaks, id)
			removed++
		}
	}

	if removed == 0 {
		return 0, nil
	}

	trial.reindex()

	if err := r.refit(trial, r.settings); err != nil {
		return 0, err
	}

	r.commit(trial, "Remove peaks")

	return removed, nil
}

// refit rebuilds f after a change. Without regression peaks only the SUM4
// results are refreshed.
func (r *ROI) refit(f *fit, s settings.Settings) error {
	err := r.rebuild(f, s)
	if err == nil {
		return nil
	}

	if !errors.Is(err, ErrNothingToFit) {
		return err
	}

	resum(f, s)

	return f.settle()
}

// ReplacePeak swaps in p for the peak with the same ID without refitting.
func (r *ROI) ReplacePeak(p peak.Peak) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, ok := r.cur.peaks[p.ID]; !ok {
		return ErrUnknownPeak
	}

	s := r.settings
	trial := r.cur.clone()

	p.Calibrate(s)

	if !trial.inside(p.Center.Val) {
		return ErrEdgeOverlap
	}

	if p.Parametric {
		p = withSUM4(trial, s, p)
	}

	trial.add(p)

	if err := trial.settle(); err != nil {
		return err
	}

	r.commit(trial, "Replace peak")

	return nil
}

// AdjustLB moves the left background edge to the parent bins [left, right].
// The region then starts at left. Peaks no longer strictly between the edges
// are removed and the rest refitted.
func (r *ROI) AdjustLB(parent *finder.Finder, left, right float64) error {
	return r.adjustEdge(parent, left, right, true)
}

// AdjustRB moves the right background edge to the parent bins
// [left, right]. The region then ends at right.
func (r *ROI) AdjustRB(parent *finder.Finder, left, right float64) error {
	return r.adjustEdge(parent, left, right, false)
}

func (r *ROI) adjustEdge(parent *finder.Finder, left, right float64, isLeft bool) error {
	li, ri, err := span(parent, left, right)
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.cur
	if cur.empty() {
		return ErrEmpty
	}

	start := parent.Index(cur.finder.X[0])
	end := start + cur.finder.Len() - 1

	if isLeft {
		if !(parent.X[ri] < cur.rb.Left()) {
			return ErrEdgeOverlap
		}

		start = li
	} else {
		if !(parent.X[li] > cur.lb.Right()) {
			return ErrEdgeOverlap
		}

		end = ri
	}

	sub, err := parent.Range(start, end)
	if err != nil {
		return err
	}

	trial := cur.clone()
	trial.finder = sub

	delta := parent.Index(cur.finder.X[0]) - start
	trial.shiftWindows(delta)

	if isLeft {
		trial.lb, err = edge.New(sub.X, sub.Y, 0, ri-start)
		trial.rb = cur.rb.Shift(delta)
	} else {
		trial.rb, err = edge.New(sub.X, sub.Y, li-start, ri-start)
	}

	if err != nil {
		return err
	}

	if trial.lb.End >= trial.rb.Start {
		return ErrEdgeOverlap
	}

	trial.initBackground()

	if n := trial.cull(); n > 0 {
		r.logger.Debug("culled peaks outside edges", zap.Int("count", n))
	}

	s := r.settings
	description := "Adjust LB"

	if !isLeft {
		description = "Adjust RB"
	}

	if err := r.refit(trial, s); err != nil {
		r.logger.Debug("refit after edge change failed", zap.Error(err))

		resum(trial, s)
		trial.cull()

		if err := trial.render(); err != nil {
			return err
		}

		trial.state = Stale
	}

	r.commit(trial, description)

	return nil
}
