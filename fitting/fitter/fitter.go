// Package fitter analyses a whole spectrum as a set of regions of interest.
//
// A Fitter owns the full spectrum, searches it for candidates, clusters them
// into regions and routes peak edits to the region that owns them. Regions
// are keyed by their first bin. Operations that change the region
// collection are serialised; regions are fitted concurrently once built.
package fitter

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/algo-gamma/dsp/finder"
	"github.com/cwbudde/algo-gamma/fitting/peak"
	"github.com/cwbudde/algo-gamma/fitting/roi"
	"github.com/cwbudde/algo-gamma/fitting/settings"
	"github.com/cwbudde/algo-gamma/fitting/spectrum"
)

// Errors returned by Fitter operations.
var (
	ErrNoData        = errors.New("fitter: no spectrum")
	ErrUnknownRegion = errors.New("fitter: unknown region")
)

// Fitter holds one spectrum and its regions.
type Fitter struct {
	writeMu sync.Mutex

	mu       sync.RWMutex
	settings settings.Settings
	spectrum *spectrum.Spectrum
	finder   *finder.Finder
	regions  map[float64]*roi.ROI

	logger *zap.Logger
}

// Option configures a new Fitter.
type Option func(*Fitter)

// WithLogger sets the logger passed to the fitter and its regions.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fitter) {
		if l != nil {
			f.logger = l
		}
	}
}

// New returns a Fitter without data.
func New(s settings.Settings, opts ...Option) *Fitter {
	f := &Fitter{
		settings: s,
		regions:  map[float64]*roi.ROI{},
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	return f
}

// SetData takes a copy of sp with leading and trailing empty bins removed.
// The bit depth and acquisition times of sp override the settings when set.
// Existing regions are dropped.
func (f *Fitter) SetData(sp *spectrum.Spectrum) error {
	if sp == nil {
		return ErrNoData
	}

	trimmed, err := spectrum.New(sp.Bins, sp.Counts)
	if err != nil {
		return fmt.Errorf("fitter: %w", err)
	}

	trimmed.Name = sp.Name
	trimmed.Bits = sp.Bits
	trimmed.LiveTime = sp.LiveTime
	trimmed.RealTime = sp.RealTime
	trimmed.Trim()

	if trimmed.Len() == 0 {
		return ErrNoData
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	s := f.Settings()

	if sp.Bits > 0 {
		s.Bits = sp.Bits
	}

	if sp.LiveTime > 0 {
		s.LiveTime = sp.LiveTime
	}

	if sp.RealTime > 0 {
		s.RealTime = sp.RealTime
	}

	fd, err := finder.New(trimmed.Bins, trimmed.Counts)
	if err != nil {
		return err
	}

	fd.FWHM = s.FWHMFunc()
	fd.FindPeaks(s.Search())

	f.mu.Lock()
	f.settings = s
	f.spectrum = trimmed
	f.finder = fd
	f.regions = map[float64]*roi.ROI{}
	f.mu.Unlock()

	f.logger.Info("spectrum loaded",
		zap.String("name", trimmed.Name),
		zap.Int("bins", trimmed.Len()),
		zap.Float64("total_count", trimmed.TotalCount()),
		zap.Int("candidates", fd.Count()),
	)

	return nil
}

// ApplySettings replaces the settings used for new regions. Existing
// regions keep theirs.
func (f *Fitter) ApplySettings(s settings.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	f.settings = s

	if f.finder != nil {
		f.finder.FWHM = s.FWHMFunc()

		if len(f.regions) == 0 {
			f.finder.FindPeaks(s.Search())
		}
	}

	return nil
}

// Settings returns the fitter settings.
func (f *Fitter) Settings() settings.Settings {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.settings
}

// Spectrum returns the trimmed spectrum, or nil before SetData.
func (f *Fitter) Spectrum() *spectrum.Spectrum {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.spectrum
}

func (f *Fitter) parent() *finder.Finder {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.finder
}

func (f *Fitter) newROI() *roi.ROI {
	return roi.New(f.Settings(), roi.WithLogger(f.logger))
}

// Regions returns the regions ordered by their first bin.
func (f *Fitter) Regions() []*roi.ROI {
	f.mu.RLock()
	defer f.mu.RUnlock()

	keys := slices.Sorted(maps.Keys(f.regions))

	out := make([]*roi.ROI, len(keys))
	for i, k := range keys {
		out[i] = f.regions[k]
	}

	return out
}

// Region returns the region starting at key.
func (f *Fitter) Region(key float64) (*roi.ROI, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	r, ok := f.regions[key]

	return r, ok
}

// ParentOf returns the region holding the peak with the given ID.
func (f *Fitter) ParentOf(id uuid.UUID) (*roi.ROI, bool) {
	for _, r := range f.Regions() {
		if r.Contains(id) {
			return r, true
		}
	}

	return nil, false
}

// Peaks returns the peaks of every region ordered by energy.
func (f *Fitter) Peaks() []peak.Peak {
	var out []peak.Peak
	for _, r := range f.Regions() {
		out = append(out, r.Peaks()...)
	}

	peak.SortByEnergy(out)

	return out
}

func (f *Fitter) insert(r *roi.ROI) {
	f.mu.Lock()
	f.regions[r.Left()] = r
	f.mu.Unlock()
}

// rekey files r under its current first bin after an edit that may have
// moved it.
func (f *Fitter) rekey(old float64, r *roi.ROI) {
	left := r.Left()
	if left == old {
		return
	}

	f.mu.Lock()
	delete(f.regions, old)
	f.regions[left] = r
	f.mu.Unlock()

	f.logger.Debug("region moved", zap.Float64("from", old), zap.Float64("to", left))
}

// DeleteROI removes the region starting at key and reports whether it
// existed.
func (f *Fitter) DeleteROI(key float64) bool {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.regions[key]; !ok {
		return false
	}

	delete(f.regions, key)

	return true
}

// FitRegions auto-fits every region and refines it from the residuals.
// Regions are fitted by up to Settings.Workers goroutines. A cancelled
// context stops refinement early and keeps what was accepted.
func (f *Fitter) FitRegions(ctx context.Context) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	regions := f.Regions()
	s := f.Settings()

	workers := s.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, r := range regions {
		g.Go(func() error {
			return f.fitRegion(gctx, r)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	f.logger.Info("regions fitted",
		zap.Int("regions", len(regions)),
		zap.Int("peaks", len(f.Peaks())),
		zap.Int("workers", workers),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("cancelled", ctx.Err() != nil),
	)

	return nil
}

func (f *Fitter) fitRegion(ctx context.Context, r *roi.ROI) error {
	if err := r.AutoFit(ctx); err != nil {
		return fmt.Errorf("fitter: region %v: %w", r.Left(), err)
	}

	if r.Settings().SummationOnly {
		return nil
	}

	ref, err := r.IterativeFit(ctx)
	if errors.Is(err, roi.ErrNothingToFit) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("fitter: region %v: %w", r.Left(), err)
	}

	f.logger.Debug("region refined",
		zap.Float64("left", r.Left()),
		zap.Float64("right", r.Right()),
		zap.Int("accepted", ref.Accepted),
		zap.Float64("rsquared", r.RSquared()),
		zap.Bool("cancelled", ref.Cancelled),
	)

	return nil
}

// gap returns the parent indices [lo, hi] free of every region other than
// self, around pivot.
func gap(parent *finder.Finder, regions []*roi.ROI, self *roi.ROI, pivot float64) (lo, hi int) {
	lo, hi = 0, parent.Len()-1

	for _, o := range regions {
		if o == self {
			continue
		}

		switch {
		case o.Left() < pivot:
			lo = max(lo, parent.Index(o.Right())+1)
		case o.Left() > pivot:
			hi = min(hi, parent.Index(o.Left())-1)
		}
	}

	return lo, hi
}

// lastIndex returns the index of the last bin whose x is <= bin, or -1.
func lastIndex(parent *finder.Finder, bin float64) int {
	i := parent.Index(bin)
	if i == parent.Len() || parent.X[i] > bin {
		i--
	}

	return i
}

// AddPeak adds a peak in [left, right]. The first region overlapping the
// window handles it, with the window clipped to the free bins around that
// region. Otherwise a new region is created over the window widened by one
// background edge on each side, clipped to the spectrum and the neighbouring
// regions, and auto-fitted.
func (f *Fitter) AddPeak(ctx context.Context, left, right float64) error {
	if !(left <= right) {
		return roi.ErrInvalidBounds
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	parent := f.parent()
	if parent == nil {
		return ErrNoData
	}

	regions := f.Regions()

	for _, r := range regions {
		if !r.OverlapsRange(left, right) {
			continue
		}

		old := r.Left()
		lo, hi := gap(parent, regions, r, old)

		l, rr := math.Max(left, parent.X[lo]), math.Min(right, parent.X[hi])
		if l > rr {
			return roi.ErrEdgeOverlap
		}

		if err := r.AddPeak(ctx, parent, l, rr); err != nil {
			return err
		}

		f.rekey(old, r)

		return nil
	}

	lo, hi := gap(parent, regions, nil, left)

	li := max(parent.Index(left), lo)
	ri := min(lastIndex(parent, right), hi)

	if li > ri {
		return roi.ErrInvalidBounds
	}

	pad := f.Settings().BackgroundEdgeSamples
	li, ri = max(li-pad, lo), min(ri+pad, hi)

	r := f.newROI()
	if err := r.SetData(parent, parent.X[li], parent.X[ri]); err != nil {
		return err
	}

	if err := r.AutoFit(ctx); err != nil {
		return err
	}

	f.insert(r)
	f.logger.Debug("region created for peak",
		zap.Float64("left", r.Left()),
		zap.Float64("right", r.Right()),
	)

	return nil
}

// ReplacePeak hands p to the region holding its ID.
func (f *Fitter) ReplacePeak(p peak.Peak) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	r, ok := f.ParentOf(p.ID)
	if !ok {
		return roi.ErrUnknownPeak
	}

	return r.ReplacePeak(p)
}

// RemovePeaks removes the peaks with the given IDs from every region and
// returns how many were removed.
func (f *Fitter) RemovePeaks(ids ...uuid.UUID) (int, error) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	total := 0

	for _, r := range f.Regions() {
		n, err := r.RemovePeaks(ids...)
		if err != nil {
			return total, err
		}

		total += n
	}

	return total, nil
}

// AdjustLB moves the left background edge of the region at key.
func (f *Fitter) AdjustLB(key, left, right float64) error {
	return f.adjust(key, left, right, (*roi.ROI).AdjustLB)
}

// AdjustRB moves the right background edge of the region at key.
func (f *Fitter) AdjustRB(key, left, right float64) error {
	return f.adjust(key, left, right, (*roi.ROI).AdjustRB)
}

// adjust applies op to the region at key. The new edge must stay clear of
// the neighbouring regions.
func (f *Fitter) adjust(key, left, right float64, op func(*roi.ROI, *finder.Finder, float64, float64) error) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	parent := f.parent()
	if parent == nil {
		return ErrNoData
	}

	r, ok := f.Region(key)
	if !ok {
		return ErrUnknownRegion
	}

	lo, hi := gap(parent, f.Regions(), r, key)
	if parent.Index(left) < lo || lastIndex(parent, right) > hi {
		return roi.ErrEdgeOverlap
	}

	if err := op(r, parent, left, right); err != nil {
		return err
	}

	f.rekey(key, r)

	return nil
}
