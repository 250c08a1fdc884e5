package roi

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/algo-gamma/dsp/finder"
	"github.com/cwbudde/algo-gamma/fitting/peak"
	"github.com/cwbudde/algo-gamma/fitting/poly"
	"github.com/cwbudde/algo-gamma/fitting/settings"
	"github.com/cwbudde/algo-gamma/fitting/shape"
	"github.com/cwbudde/algo-gamma/stats/edge"
)

// Bounds is an inclusive bin range.
type Bounds struct {
	Left  float64 `yaml:"left"`
	Right float64 `yaml:"right"`
}

// PeakDocument is the stored form of a peak. Either part may be absent.
type PeakDocument struct {
	ID       string          `yaml:"id,omitempty"`
	SUM4     *Bounds         `yaml:"sum4,omitempty"`
	Hypermet *shape.Hypermet `yaml:"hypermet,omitempty"`
}

// Document is the stored form of a region.
type Document struct {
	LB         Bounds             `yaml:"lb"`
	RB         Bounds             `yaml:"rb"`
	Background *poly.Polynomial   `yaml:"background,omitempty"`
	Settings   *settings.Settings `yaml:"settings,omitempty"`
	Peaks      []PeakDocument     `yaml:"peaks,omitempty"`
}

// Marshal encodes d as YAML.
func (d Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// ParseDocument decodes a YAML region document.
func ParseDocument(data []byte) (Document, error) {
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Document{}, fmt.Errorf("roi: parse document: %w", err)
	}

	return d, nil
}

func bounds(w edge.Window) Bounds {
	return Bounds{Left: w.Left(), Right: w.Right()}
}

// Document returns the stored form of the current state.
func (r *ROI) Document() Document {
	r.mu.RLock()
	f, s, override := r.cur, r.settings, r.override
	r.mu.RUnlock()

	if f.empty() {
		return Document{}
	}

	bg := f.background.Clone()
	d := Document{LB: bounds(f.lb), RB: bounds(f.rb), Background: &bg}

	if override {
		d.Settings = &s
	}

	x := f.finder.X

	for _, p := range f.list() {
		pd := PeakDocument{ID: p.ID.String()}

		if p.SUM4.Valid() {
			pd.SUM4 = &Bounds{Left: x[p.SUM4.Left], Right: x[p.SUM4.Right]}
		}

		if p.Parametric {
			h := p.Hypermet
			pd.Hypermet = &h
		}

		d.Peaks = append(d.Peaks, pd)
	}

	return d
}

// Load replaces the region with doc over the bins of parent. Missing parts
// take defaults and peaks that cannot be placed are skipped.
func (r *ROI) Load(parent *finder.Finder, doc Document) error {
	s := r.Settings()
	override := false

	if doc.Settings != nil {
		if err := doc.Settings.Validate(); err != nil {
			return err
		}

		s, override = *doc.Settings, true
	}

	lbl, lbr, err := span(parent, doc.LB.Left, doc.LB.Right)
	if err != nil {
		return fmt.Errorf("roi: left edge: %w", err)
	}

	rbl, rbr, err := span(parent, doc.RB.Left, doc.RB.Right)
	if err != nil {
		return fmt.Errorf("roi: right edge: %w", err)
	}

	if lbr >= rbl {
		return ErrEdgeOverlap
	}

	sub, err := parent.Range(lbl, rbr)
	if err != nil {
		return err
	}

	f := newFit(sub)

	if f.lb, err = edge.New(sub.X, sub.Y, 0, lbr-lbl); err != nil {
		return err
	}

	if f.rb, err = edge.New(sub.X, sub.Y, rbl-lbl, rbr-lbl); err != nil {
		return err
	}

	f.initBackground()

	if doc.Background != nil && doc.Background.Valid() {
		f.background = doc.Background.Clone()
	}

	for i, pd := range doc.Peaks {
		p, ok := loadPeak(f, s, pd)
		if !ok || !f.inside(p.Center.Val) {
			r.logger.Debug("skipping stored peak", zap.Int("index", i))
			continue
		}

		f.peaks[p.ID] = p
	}

	if err := f.settle(); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	r.settings = s
	r.override = override
	r.history = nil
	r.current = -1
	r.mu.Unlock()

	r.commit(f, "Loaded")

	return nil
}

func loadPeak(f *fit, s settings.Settings, pd PeakDocument) (peak.Peak, bool) {
	var (
		p  peak.Peak
		ok bool
	)

	switch {
	case pd.Hypermet != nil:
		p, ok = peak.New(*pd.Hypermet, s), true

		if pd.SUM4 != nil {
			if l, r, err := span(f.finder, pd.SUM4.Left, pd.SUM4.Right); err == nil {
				if q, fits := summationPeak(f, s, l, r); fits {
					p = p.WithSUM4(q.SUM4, s)
					break
				}
			}
		}

		p = withSUM4(f, s, p)
	case pd.SUM4 != nil:
		l, r, err := span(f.finder, pd.SUM4.Left, pd.SUM4.Right)
		if err != nil {
			return peak.Peak{}, false
		}

		p, ok = summationPeak(f, s, l, r)
	}

	if !ok {
		return peak.Peak{}, false
	}

	if id, err := uuid.Parse(pd.ID); err == nil {
		p.ID = id
	}

	return p, true
}
