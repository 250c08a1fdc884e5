// Package roi fits one region of interest of a spectrum.
//
// A region owns a private copy of its bin range, two background edge
// windows, a regression background, a summation background and a set of
// peaks. Every successful mutation builds a new state on a copy and swaps it
// in under a lock, so readers never observe a half-applied fit. Each swap is
// recorded in an append-only history that Rollback can return to.
//
// Peaks are keyed by a stable ID and kept in a separate index sorted by
// center, which is rebuilt after every change.
package roi

import (
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cwbudde/algo-gamma/dsp/finder"
	"github.com/cwbudde/algo-gamma/fitting/peak"
	"github.com/cwbudde/algo-gamma/fitting/poly"
	"github.com/cwbudde/algo-gamma/fitting/settings"
	"github.com/cwbudde/algo-gamma/stats/edge"
)

// Errors returned by ROI operations. A failed operation leaves the region
// unchanged.
var (
	ErrEmpty         = errors.New("roi: no data")
	ErrInvalidBounds = errors.New("roi: invalid bounds")
	ErrEdgeOverlap   = errors.New("roi: background edges overlap")
	ErrHistoryIndex  = errors.New("roi: history index out of range")
	ErrNothingToFit  = errors.New("roi: no regression peaks to fit")
	ErrUnknownPeak   = errors.New("roi: unknown peak")
)

// State is the lifecycle stage of a region.
type State int

const (
	// Empty regions hold no data.
	Empty State = iota
	// Searched regions have data and candidates but no peaks.
	Searched
	// Fitted regions hold peaks consistent with the current background.
	Fitted
	// Stale regions changed their edges but could not refit their peaks.
	Stale
)

func (s State) String() string {
	switch s {
	case Searched:
		return "searched"
	case Fitted:
		return "fitted"
	case Stale:
		return "stale"
	default:
		return "empty"
	}
}

// ROI is one region of interest. It is safe for concurrent use; mutating
// operations are serialised.
type ROI struct {
	writeMu sync.Mutex

	mu       sync.RWMutex
	settings settings.Settings
	override bool
	cur      *fit
	history  []Snapshot
	current  int

	logger *zap.Logger
}

// Option configures a new ROI.
type Option func(*ROI)

// WithLogger sets the logger used for fit diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(r *ROI) {
		if l != nil {
			r.logger = l
		}
	}
}

// New returns an empty region using s.
func New(s settings.Settings, opts ...Option) *ROI {
	r := &ROI{
		settings: s,
		cur:      &fit{peaks: map[uuid.UUID]peak.Peak{}},
		current:  -1,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// Refinement reports the outcome of IterativeFit.
type Refinement struct {
	// Accepted counts the residual peaks kept.
	Accepted int
	// RSquared holds the starting R² followed by the R² of each accepted
	// step. It never decreases.
	RSquared []float64
	// Cancelled is set when the context ended the loop early.
	Cancelled bool
}

// Curves are the rendered model over the region bins.
type Curves struct {
	X          []float64
	Counts     []float64
	Fit        []float64
	Background []float64 // background plus steps and tails
	Residual   []float64
}

func (r *ROI) state() *fit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.cur
}

// Settings returns the settings in effect for the region.
func (r *ROI) Settings() settings.Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.settings
}

// OverrideSettings replaces the region settings. They are written to the
// region document.
func (r *ROI) OverrideSettings(s settings.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	r.settings = s
	r.override = true
	r.mu.Unlock()

	return nil
}

// State returns the lifecycle stage.
func (r *ROI) State() State { return r.state().state }

// Empty reports whether the region has no data.
func (r *ROI) Empty() bool { return r.state().empty() }

// Left returns the first bin of the region, or zero when empty.
func (r *ROI) Left() float64 {
	f := r.state()
	if f.empty() {
		return 0
	}

	return f.finder.X[0]
}

// Right returns the last bin of the region, or zero when empty.
func (r *ROI) Right() float64 {
	f := r.state()
	if f.empty() {
		return 0
	}

	return f.finder.X[f.finder.Len()-1]
}

// Overlaps reports whether bin lies within the region.
func (r *ROI) Overlaps(bin float64) bool {
	return r.state().overlaps(bin)
}

// OverlapsRange reports whether [left, right] intersects the region.
func (r *ROI) OverlapsRange(left, right float64) bool {
	f := r.state()
	if f.empty() {
		return false
	}

	return f.overlaps(left) || f.overlaps(right) ||
		(left <= f.finder.X[0] && right >= f.finder.X[f.finder.Len()-1])
}

// LB returns the left background edge.
func (r *ROI) LB() edge.Window { return r.state().lb }

// RB returns the right background edge.
func (r *ROI) RB() edge.Window { return r.state().rb }

// Background returns the regression background.
func (r *ROI) Background() poly.Polynomial { return r.state().background.Clone() }

// SumBackground returns the two-point background used by SUM4.
func (r *ROI) SumBackground() poly.Polynomial { return r.state().sumBackground.Clone() }

// RSquared returns the coefficient of determination of the current model.
func (r *ROI) RSquared() float64 { return r.state().rsq }

// Peaks returns the peaks ordered by center.
func (r *ROI) Peaks() []peak.Peak { return r.state().list() }

// Peak returns the peak with the given ID.
func (r *ROI) Peak(id uuid.UUID) (peak.Peak, bool) {
	p, ok := r.state().peaks[id]
	return p, ok
}

// Contains reports whether the region holds a peak with the given ID.
func (r *ROI) Contains(id uuid.UUID) bool {
	_, ok := r.state().peaks[id]
	return ok
}

// Curves returns copies of the rendered model.
func (r *ROI) Curves() Curves {
	f := r.state()
	if f.empty() {
		return Curves{}
	}

	return Curves{
		X:          slices.Clone(f.finder.X),
		Counts:     slices.Clone(f.finder.Y),
		Fit:        slices.Clone(f.finder.YFit),
		Background: slices.Clone(f.finder.YBackground),
		Residual:   slices.Clone(f.finder.YResid),
	}
}

// Clone returns an independent region with the same state and history.
func (r *ROI) Clone() *ROI {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return &ROI{
		settings: r.settings,
		override: r.override,
		cur:      r.cur,
		history:  slices.Clone(r.history),
		current:  r.current,
		logger:   r.logger,
	}
}

// commit swaps f in as the current state and records it. The caller holds
// writeMu; f must not be modified afterwards.
func (r *ROI) commit(f *fit, description string) {
	snap := newSnapshot(f, description)

	r.mu.Lock()
	r.cur = f
	r.history = append(r.history, snap)
	r.current = len(r.history) - 1
	r.mu.Unlock()

	r.logger.Debug("roi state recorded",
		zap.String("step", description),
		zap.Float64("left", f.left()),
		zap.Int("peaks", len(f.peaks)),
		zap.Float64("rsquared", f.rsq),
	)
}

// span returns the parent indices of the bins in [left, right].
func span(parent *finder.Finder, left, right float64) (int, int, error) {
	if parent == nil || parent.Empty() {
		return 0, 0, ErrEmpty
	}

	if !(left <= right) {
		return 0, 0, ErrInvalidBounds
	}

	li := parent.Index(left)

	ri := parent.Index(right)
	if ri == parent.Len() || parent.X[ri] > right {
		ri--
	}

	if li >= parent.Len() || ri < 0 || li > ri {
		return 0, 0, ErrInvalidBounds
	}

	return li, ri, nil
}
