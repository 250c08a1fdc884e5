package roi

import (
	"slices"

	"go.uber.org/zap"

	"github.com/cwbudde/algo-gamma/fitting/peak"
	"github.com/cwbudde/algo-gamma/fitting/poly"
	"github.com/cwbudde/algo-gamma/stats/edge"
)

// Snapshot is one recorded region state.
type Snapshot struct {
	Description string

	LB, RB     edge.Window
	Background poly.Polynomial
	Peaks      []peak.Peak
	RSquared   float64
	State      State

	fit *fit
}

func newSnapshot(f *fit, description string) Snapshot {
	return Snapshot{
		Description: description,
		LB:          f.lb,
		RB:          f.rb,
		Background:  f.background.Clone(),
		Peaks:       f.list(),
		RSquared:    f.rsq,
		State:       f.state,
		fit:         f,
	}
}

// History returns the recorded states, oldest first.
func (r *ROI) History() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := slices.Clone(r.history)
	for i := range out {
		out[i].Peaks = slices.Clone(out[i].Peaks)
		out[i].Background = out[i].Background.Clone()
	}

	return out
}

// Current returns the history index of the current state, or -1 before the
// first recorded state.
func (r *ROI) Current() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.current
}

// Rollback makes history entry i the current state. The history itself is
// not extended.
func (r *ROI) Rollback(i int) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if i < 0 || i >= len(r.history) {
		return ErrHistoryIndex
	}

	r.cur = r.history[i].fit
	r.current = i

	r.logger.Debug("roi rolled back", zap.Int("index", i), zap.String("step", r.history[i].Description))

	return nil
}
