package roi

import (
	"fmt"
	"maps"
	"math"
	"slices"

	vecmath "github.com/cwbudde/algo-vecmath"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/cwbudde/algo-gamma/dsp/finder"
	"github.com/cwbudde/algo-gamma/fitting/background"
	"github.com/cwbudde/algo-gamma/fitting/peak"
	"github.com/cwbudde/algo-gamma/fitting/poly"
	"github.com/cwbudde/algo-gamma/fitting/settings"
	"github.com/cwbudde/algo-gamma/fitting/shape"
	"github.com/cwbudde/algo-gamma/measure/sum4"
	"github.com/cwbudde/algo-gamma/stats/edge"
)

// fit is one complete region state. A committed fit is never modified;
// operations work on a clone.
type fit struct {
	finder *finder.Finder

	lb, rb        edge.Window
	background    poly.Polynomial
	sumBackground poly.Polynomial

	peaks map[uuid.UUID]peak.Peak
	order []uuid.UUID // by center

	rsq   float64
	state State
}

func newFit(f *finder.Finder) *fit {
	return &fit{finder: f, peaks: map[uuid.UUID]peak.Peak{}}
}

func (f *fit) clone() *fit {
	c := *f
	if f.finder != nil {
		c.finder = f.finder.Clone()
	}

	c.background = f.background.Clone()
	c.sumBackground = f.sumBackground.Clone()
	c.peaks = maps.Clone(f.peaks)
	c.order = slices.Clone(f.order)

	return &c
}

func (f *fit) empty() bool {
	return f.finder == nil || f.finder.Empty()
}

func (f *fit) left() float64 {
	if f.empty() {
		return 0
	}

	return f.finder.X[0]
}

func (f *fit) overlaps(bin float64) bool {
	if f.empty() {
		return false
	}

	return bin >= f.finder.X[0] && bin <= f.finder.X[f.finder.Len()-1]
}

// inside reports whether bin lies strictly between the background edges.
func (f *fit) inside(bin float64) bool {
	return bin > f.lb.Right() && bin < f.rb.Left()
}

func (f *fit) add(p peak.Peak) {
	f.peaks[p.ID] = p
	f.reindex()
}

func (f *fit) reindex() {
	ps := slices.Collect(maps.Values(f.peaks))
	peak.SortByCenter(ps)

	f.order = make([]uuid.UUID, len(ps))
	for i, p := range ps {
		f.order[i] = p.ID
	}
}

func (f *fit) list() []peak.Peak {
	out := make([]peak.Peak, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.peaks[id])
	}

	return out
}

func (f *fit) hasParametric() bool {
	for _, p := range f.peaks {
		if p.Parametric {
			return true
		}
	}

	return false
}

// shiftWindows moves every SUM4 window by delta bins after the region range
// was re-based.
func (f *fit) shiftWindows(delta int) {
	if delta == 0 {
		return
	}

	for id, p := range f.peaks {
		p.SUM4.Left += delta
		p.SUM4.Right += delta
		f.peaks[id] = p
	}
}

// cull drops peaks whose center is not strictly between the edges.
func (f *fit) cull() int {
	n := 0

	for id, p := range f.peaks {
		if !f.inside(p.Center.Val) {
			delete(f.peaks, id)
			n++
		}
	}

	f.reindex()

	return n
}

// initEdges places both background edges at the ends of the range.
func (f *fit) initEdges(samples int) error {
	n := f.finder.Len()
	if samples < 1 || n < 2*samples+1 {
		return fmt.Errorf("%w: %d bins cannot hold two edges of %d", ErrInvalidBounds, n, samples)
	}

	lb, err := edge.New(f.finder.X, f.finder.Y, 0, samples-1)
	if err != nil {
		return err
	}

	rb, err := edge.New(f.finder.X, f.finder.Y, n-samples, n-1)
	if err != nil {
		return err
	}

	f.lb, f.rb = lb, rb
	f.initBackground()

	return nil
}

// initBackground derives both backgrounds from the current edges.
func (f *fit) initBackground() {
	f.background = background.Regression(f.lb, f.rb)
	f.sumBackground = background.Summation(f.lb, f.rb)
}

// subtractBackground sets the residual to the counts above the regression
// background.
func (f *fit) subtractBackground() error {
	return f.finder.SubtractBackground(f.background.EvalAll(f.finder.X))
}

// render evaluates the model over the range, stores it in the finder so the
// residual is current, and updates R².
func (f *fit) render() error {
	x := f.finder.X

	bg := f.background.EvalAll(x)
	full := slices.Clone(bg)
	stepTail := make([]float64, len(x))
	core := make([]float64, len(x))

	for _, id := range f.order {
		p := f.peaks[id]
		if !p.Parametric {
			continue
		}

		for i, xi := range x {
			stepTail[i] = p.Hypermet.EvalStepTail(xi)
			core[i] = p.Hypermet.EvalPeak(xi)
		}

		vecmath.AddBlockInPlace(bg, stepTail)
		vecmath.AddBlockInPlace(full, stepTail)
		vecmath.AddBlockInPlace(full, core)
	}

	if err := f.finder.SetFit(full, bg); err != nil {
		return fmt.Errorf("roi: render: %w", err)
	}

	f.rsq = stat.RSquaredFrom(full, f.finder.Y, nil)

	return nil
}

// settle renders f and sets its state from its peaks.
func (f *fit) settle() error {
	f.reindex()

	if err := f.render(); err != nil {
		return err
	}

	if len(f.peaks) > 0 {
		f.state = Fitted
	} else {
		f.state = Searched
	}

	return nil
}

// summationPeak computes a SUM4 peak over [left, right], clipped to lie
// strictly between the edges. ok is false when the window is empty or its
// centroid falls outside the edges.
func summationPeak(f *fit, s settings.Settings, left, right int) (peak.Peak, bool) {
	left = max(left, f.lb.End+1)
	right = min(right, f.rb.Start-1)

	if left > right {
		return peak.Peak{}, false
	}

	res, err := sum4.Calculate(f.finder.X, f.finder.Y, left, right, f.sumBackground, f.lb, f.rb)
	if err != nil {
		return peak.Peak{}, false
	}

	p := peak.Summation(res, s)
	if !f.inside(p.Center.Val) {
		return peak.Peak{}, false
	}

	return p, true
}

// withSUM4 attaches the SUM4 estimate over the default window of a
// regression peak.
func withSUM4(f *fit, s settings.Settings, p peak.Peak) peak.Peak {
	l, r, ok := sum4.Window(f.finder.X, p.Center.Val, p.FWHM.Val, s.SumWindowFWHM, f.lb, f.rb)
	if !ok {
		return p.WithSUM4(sum4.Result{}, s)
	}

	res, err := sum4.Calculate(f.finder.X, f.finder.Y, l, r, f.sumBackground, f.lb, f.rb)
	if err != nil {
		return p.WithSUM4(sum4.Result{}, s)
	}

	return p.WithSUM4(res, s)
}

// resum recomputes every SUM4 result against the current edges. Summation
// peaks whose window no longer fits are dropped.
func resum(f *fit, s settings.Settings) {
	for id, p := range f.peaks {
		if p.Parametric {
			f.peaks[id] = withSUM4(f, s, p)
			continue
		}

		q, ok := summationPeak(f, s, p.SUM4.Left, p.SUM4.Right)
		if !ok {
			delete(f.peaks, id)
			continue
		}

		q.ID = id
		f.peaks[id] = q
	}
}

// rebuild jointly refits every regression peak with the background and
// replaces them. Summation peaks are kept with recomputed SUM4. f is left
// untouched on error.
func (r *ROI) rebuild(f *fit, s settings.Settings) error {
	var (
		seeds []shape.Hypermet
		ids   []uuid.UUID
	)

	gaussian := true

	for _, id := range f.order {
		p := f.peaks[id]
		if !p.Parametric {
			continue
		}

		seeds = append(seeds, p.Hypermet)
		ids = append(ids, id)
		gaussian = gaussian && p.Hypermet.IsGaussian()
	}

	if len(seeds) == 0 {
		return ErrNothingToFit
	}

	top := 0
	for i := range seeds {
		if seeds[i].Height.Value > seeds[top].Height.Value {
			top = i
		}
	}

	seeds[0], seeds[top] = seeds[top], seeds[0]
	ids[0], ids[top] = ids[top], ids[0]

	x, y := f.finder.X, f.finder.Y

	var (
		shapes []shape.Hypermet
		bg     poly.Polynomial
	)

	if gaussian {
		gs := make([]shape.Gaussian, len(seeds))
		for i, h := range seeds {
			gs[i] = h.Gaussian()
		}

		res, err := shape.FitGaussians(x, y, gs, f.background, s.FitOptions())
		if err != nil {
			return fmt.Errorf("roi: gaussian fit: %w", err)
		}

		if res.Warning != nil {
			r.logger.Debug("gaussian fit stopped early", zap.Error(res.Warning))
		}

		for _, g := range res.Peaks {
			h := shape.FromGaussian(g, shape.DefaultComponents())
			h.RSquared = res.RSquared
			shapes = append(shapes, h)
		}

		bg = res.Background
	} else {
		res, err := shape.FitHypermets(x, y, seeds, f.background, s.FitOptions())
		if err != nil {
			return fmt.Errorf("roi: hypermet fit: %w", err)
		}

		if res.Warning != nil {
			r.logger.Debug("hypermet fit stopped early", zap.Error(res.Warning))
		}

		shapes = res.Peaks
		bg = res.Background
	}

	peaks := map[uuid.UUID]peak.Peak{}
	for id, p := range f.peaks {
		if !p.Parametric {
			peaks[id] = p
		}
	}

	kept := 0

	for i, h := range shapes {
		c, ht := h.Center.Value, h.Height.Value
		if math.IsNaN(c) || math.IsInf(c, 0) || !(ht > 0) || math.IsInf(ht, 0) || !f.inside(c) {
			r.logger.Debug("discarding non-physical peak", zap.Float64("center", c), zap.Float64("height", ht))
			continue
		}

		p := peak.New(h, s)
		p.ID = ids[i]
		peaks[p.ID] = p
		kept++
	}

	if kept == 0 {
		return fmt.Errorf("%w: no physical peaks after regression", ErrNothingToFit)
	}

	trial := *f
	trial.background = bg
	trial.peaks = peaks
	resum(&trial, s)

	if err := trial.settle(); err != nil {
		return err
	}

	*f = trial

	return nil
}

// candidate estimates a Gaussian over candidate window i of the finder
// residual. ok is false for non-physical estimates.
func candidate(f *fit, i int) (shape.Gaussian, bool) {
	l, r, _ := f.finder.Window(i)
	x := f.finder.X

	g := shape.EstimateGaussian(x[l:r+1], f.finder.YResid[l:r+1])
	if !g.Valid(x[l], x[r]) || !f.inside(g.Center.Value) {
		return shape.Gaussian{}, false
	}

	return g, true
}

// tooClose reports whether center lies within ResidTooClose FWHM of an
// existing peak.
func tooClose(f *fit, s settings.Settings, center float64) bool {
	for _, p := range f.peaks {
		if math.Abs(center-p.Center.Val) < s.ResidTooClose*p.FWHM.Val {
			return true
		}
	}

	return false
}

// addFromResid adds one peak from the last residual search and rebuilds.
// With a hint the candidate nearest the hint is used; otherwise the largest
// acceptable one.
func (r *ROI) addFromResid(f *fit, s settings.Settings, hint float64, useHint bool) bool {
	n := f.finder.Count()
	if n == 0 {
		return false
	}

	var (
		best  shape.Gaussian
		found bool
	)

	if useHint {
		target, diff := 0, math.Inf(1)

		for i := range n {
			_, _, c := f.finder.Window(i)
			if d := math.Abs(f.finder.X[c] - hint); d < diff {
				target, diff = i, d
			}
		}

		best, found = candidate(f, target)
		found = found && !tooClose(f, s, best.Center.Value)
	} else {
		var biggest float64

		for i := range n {
			g, ok := candidate(f, i)
			if !ok {
				continue
			}

			if tooClose(f, s, g.Center.Value) {
				r.logger.Debug("residual candidate too close", zap.Float64("center", g.Center.Value))
				continue
			}

			if a := g.Area().Val; a > biggest {
				best, biggest, found = g, a, true
			}
		}
	}

	if !found {
		return false
	}

	f.add(peak.New(shape.FromGaussian(best, s.Components), s))

	if err := r.rebuild(f, s); err != nil {
		r.logger.Debug("rebuild after residual add failed", zap.Error(err))
		return false
	}

	return true
}

// autoFit searches the raw counts and regresses every acceptable candidate
// jointly, falling back to summation peaks when no regression is possible.
func (r *ROI) autoFit(f *fit, s settings.Settings) error {
	f.peaks = map[uuid.UUID]peak.Peak{}
	f.order = nil
	f.finder.ResetResidual()

	if err := f.initEdges(s.BackgroundEdgeSamples); err != nil {
		return err
	}

	f.finder.FindPeaks(s.Search())
	f.state = Searched

	n := f.finder.Count()
	if n == 0 {
		return f.settle()
	}

	x := f.finder.X
	net := background.Subtract(x, f.finder.Y, f.background)

	if !s.SummationOnly {
		for i := range n {
			l, rr, _ := f.finder.Window(i)

			g := shape.EstimateGaussian(x[l:rr+1], net[l:rr+1])
			if !g.Valid(x[l], x[rr]) || !f.inside(g.Center.Value) {
				continue
			}

			f.add(peak.New(shape.FromGaussian(g, s.Components), s))
		}

		if len(f.peaks) > 0 {
			err := r.rebuild(f, s)
			if err == nil {
				r.logger.Debug("initial fit", zap.Float64("left", x[0]), zap.Float64("rsquared", f.rsq))
				return nil
			}

			r.logger.Debug("regression failed, using summation peaks", zap.Error(err))
		}
	}

	f.peaks = map[uuid.UUID]peak.Peak{}

	for i := range n {
		l, rr, _ := f.finder.Window(i)
		if p, ok := summationPeak(f, s, l, rr); ok {
			f.peaks[p.ID] = p
		}
	}

	return f.settle()
}
