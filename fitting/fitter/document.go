package fitter

import (
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/algo-gamma/fitting/roi"
	"github.com/cwbudde/algo-gamma/fitting/settings"
)

// Document is the stored form of a fitted spectrum.
type Document struct {
	Spectrum string             `yaml:"spectrum,omitempty"`
	Settings *settings.Settings `yaml:"settings,omitempty"`
	Regions  []roi.Document     `yaml:"regions,omitempty"`
}

// Marshal encodes d as YAML.
func (d Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// ParseDocument decodes a YAML fitter document.
func ParseDocument(data []byte) (Document, error) {
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Document{}, fmt.Errorf("fitter: parse document: %w", err)
	}

	return d, nil
}

// Document returns the stored form of the settings and every region.
func (f *Fitter) Document() Document {
	s := f.Settings()
	d := Document{Settings: &s}

	if sp := f.Spectrum(); sp != nil {
		d.Spectrum = sp.Name
	}

	for _, r := range f.Regions() {
		d.Regions = append(d.Regions, r.Document())
	}

	return d
}

// Load replaces the regions with those of doc over the current spectrum and
// returns how many were restored. Regions that cannot be placed are
// skipped.
func (f *Fitter) Load(doc Document) (int, error) {
	if doc.Settings != nil {
		if err := f.ApplySettings(*doc.Settings); err != nil {
			return 0, err
		}
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	parent := f.parent()
	if parent == nil {
		return 0, ErrNoData
	}

	regions := map[float64]*roi.ROI{}

	for i, rd := range doc.Regions {
		r := f.newROI()
		if err := r.Load(parent, rd); err != nil {
			f.logger.Warn("skipping stored region", zap.Int("index", i), zap.Error(err))
			continue
		}

		regions[r.Left()] = r
	}

	f.mu.Lock()
	f.regions = regions
	f.mu.Unlock()

	f.logger.Info("regions loaded", zap.Int("regions", len(regions)))

	return len(regions), nil
}
