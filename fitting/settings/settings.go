// Package settings holds the configuration of a spectrum fit.
//
// Settings start from DefaultSettings and may be adjusted with functional
// options, a YAML file (Load) and GAMMAFIT_* environment variables
// (ApplyEnv). Validate rejects configurations that cannot produce a fit.
package settings

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/algo-gamma/dsp/finder"
	"github.com/cwbudde/algo-gamma/fitting/calib"
	"github.com/cwbudde/algo-gamma/fitting/shape"
	"github.com/cwbudde/algo-gamma/internal/lsq"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GAMMAFIT_"

// ErrInvalid wraps every Validate failure.
var ErrInvalid = errors.New("settings: invalid")

// Settings configures peak search, regression and summation.
type Settings struct {
	Bits int `yaml:"bits"`

	EnergyCal calib.Calibration `yaml:"energy_calibration"`
	FWHMCal   calib.Calibration `yaml:"fwhm_calibration"`

	LiveTime time.Duration `yaml:"live_time"`
	RealTime time.Duration `yaml:"real_time"`

	// BackgroundEdgeSamples is the width of each ROI background edge.
	BackgroundEdgeSamples int `yaml:"background_edge_samples"`

	// Spectrum-wide search.
	SquareWidth  int     `yaml:"square_width"`
	Sigma        float64 `yaml:"sigma"`
	MinWidth     int     `yaml:"min_width"`
	MinAmplitude float64 `yaml:"min_amplitude"`

	// Residual search during refinement.
	ResidSquareWidth   int     `yaml:"resid_square_width"`
	ResidSigma         float64 `yaml:"resid_sigma"`
	ResidMinAmplitude  float64 `yaml:"resid_min_amplitude"`
	ResidMaxIterations int     `yaml:"resid_max_iterations"`

	// ResidTooClose is the least distance, in FWHM of the nearer existing
	// peak, between a residual candidate and a peak already in the model.
	ResidTooClose float64 `yaml:"resid_too_close"`

	// ROIExtendBackground widens each region by this many local FWHM.
	ROIExtendBackground float64 `yaml:"roi_extend_background"`

	// FinderCutoffEnergy drops regions that end at or below this energy.
	FinderCutoffEnergy float64 `yaml:"finder_cutoff_energy"`

	// SumWindowFWHM is the SUM4 half-window in FWHM.
	SumWindowFWHM float64 `yaml:"sum_window_fwhm"`

	// SummationOnly skips regression and records SUM4 peaks only.
	SummationOnly bool `yaml:"summation_only"`

	Components shape.Components `yaml:"hypermet"`

	WidthTolerance float64 `yaml:"width_tolerance"`
	Method         string  `yaml:"method"`
	MaxIterations  int     `yaml:"max_iterations"`

	// Workers bounds concurrent region fits. Zero means one per CPU.
	Workers int `yaml:"workers"`
}

// Option mutates Settings.
type Option func(*Settings)

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	search := finder.DefaultConfig()
	fit := shape.DefaultOptions()

	return Settings{
		Bits:                  14,
		BackgroundEdgeSamples: 7,

		SquareWidth:  search.SquareWidth,
		Sigma:        search.Sigma,
		MinWidth:     search.MinWidth,
		MinAmplitude: search.MinAmplitude,

		ResidSquareWidth:   2,
		ResidSigma:         3,
		ResidMinAmplitude:  5,
		ResidMaxIterations: 5,
		ResidTooClose:      1,

		ROIExtendBackground: 0.6,
		SumWindowFWHM:       1.5,

		Components:     shape.DefaultComponents(),
		WidthTolerance: fit.WidthTolerance,
		Method:         fit.Method,
		MaxIterations:  fit.MaxIterations,
	}
}

// WithBits sets the ADC bit depth of the spectrum.
func WithBits(bits int) Option {
	return func(s *Settings) {
		if bits > 0 {
			s.Bits = bits
		}
	}
}

// WithEnergyCalibration sets the bin to energy calibration.
func WithEnergyCalibration(c calib.Calibration) Option {
	return func(s *Settings) {
		if c.Valid() {
			s.EnergyCal = c
		}
	}
}

// WithFWHMCalibration sets the energy to FWHM calibration.
func WithFWHMCalibration(c calib.Calibration) Option {
	return func(s *Settings) {
		if c.Valid() {
			s.FWHMCal = c
		}
	}
}

// WithTimes sets live and real acquisition time.
func WithTimes(live, real time.Duration) Option {
	return func(s *Settings) {
		if live >= 0 && real >= 0 {
			s.LiveTime = live
			s.RealTime = real
		}
	}
}

// WithEdgeSamples sets the background edge width.
func WithEdgeSamples(n int) Option {
	return func(s *Settings) {
		if n > 0 {
			s.BackgroundEdgeSamples = n
		}
	}
}

// WithSearch sets the spectrum-wide search parameters.
func WithSearch(cfg finder.Config) Option {
	return func(s *Settings) {
		if cfg.SquareWidth > 0 && cfg.Sigma > 0 {
			s.SquareWidth = cfg.SquareWidth
			s.Sigma = cfg.Sigma
			s.MinWidth = cfg.MinWidth
			s.MinAmplitude = cfg.MinAmplitude
		}
	}
}

// WithResidualSearch sets the refinement search parameters.
func WithResidualSearch(cfg finder.Config) Option {
	return func(s *Settings) {
		if cfg.SquareWidth > 0 && cfg.Sigma > 0 {
			s.ResidSquareWidth = cfg.SquareWidth
			s.ResidSigma = cfg.Sigma
			s.ResidMinAmplitude = cfg.MinAmplitude
		}
	}
}

// WithResidIterations caps refinement iterations.
func WithResidIterations(n int) Option {
	return func(s *Settings) {
		if n >= 0 {
			s.ResidMaxIterations = n
		}
	}
}

// WithResidTooClose sets the residual separation in FWHM.
func WithResidTooClose(f float64) Option {
	return func(s *Settings) {
		if f >= 0 {
			s.ResidTooClose = f
		}
	}
}

// WithSummationOnly toggles summation-only mode.
func WithSummationOnly(on bool) Option {
	return func(s *Settings) { s.SummationOnly = on }
}

// WithComponents sets the Hypermet component defaults.
func WithComponents(c shape.Components) Option {
	return func(s *Settings) { s.Components = c }
}

// WithMethod selects the minimiser.
func WithMethod(method string) Option {
	return func(s *Settings) {
		switch lsq.Method(method) {
		case lsq.LBFGS, lsq.NelderMead:
			s.Method = method
		}
	}
}

// WithWorkers bounds concurrent region fits.
func WithWorkers(n int) Option {
	return func(s *Settings) {
		if n >= 0 {
			s.Workers = n
		}
	}
}

// ApplyOptions applies zero or more options to the default settings.
func ApplyOptions(opts ...Option) Settings {
	s := DefaultSettings()
	s.Apply(opts...)

	return s
}

// Apply applies options to s in order. Nil options are skipped.
func (s *Settings) Apply(opts ...Option) {
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
}

// Load reads YAML settings from path on top of the defaults.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: read %s: %w", path, err)
	}

	s := DefaultSettings()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("settings: parse %s: %w", path, err)
	}

	return s, nil
}

// envOverrides lists the scalar settings that may come from the environment.
// Unset variables leave the current values untouched.
type envOverrides struct {
	Bits                  int           `env:"BITS"`
	LiveTime              time.Duration `env:"LIVE_TIME"`
	RealTime              time.Duration `env:"REAL_TIME"`
	BackgroundEdgeSamples int           `env:"EDGE_SAMPLES"`
	SquareWidth           int           `env:"SQUARE_WIDTH"`
	Sigma                 float64       `env:"SIGMA"`
	MinAmplitude          float64       `env:"MIN_AMPLITUDE"`
	ResidMaxIterations    int           `env:"RESID_MAX_ITERATIONS"`
	ResidTooClose         float64       `env:"RESID_TOO_CLOSE"`
	ROIExtendBackground   float64       `env:"ROI_EXTEND_BACKGROUND"`
	FinderCutoffEnergy    float64       `env:"FINDER_CUTOFF_ENERGY"`
	SumWindowFWHM         float64       `env:"SUM_WINDOW_FWHM"`
	SummationOnly         bool          `env:"SUMMATION_ONLY"`
	Method                string        `env:"METHOD"`
	MaxIterations         int           `env:"MAX_ITERATIONS"`
	Workers               int           `env:"WORKERS"`
}

// ApplyEnv overrides s from GAMMAFIT_* variables. environ replaces the
// process environment when non-nil.
func (s *Settings) ApplyEnv(environ map[string]string) error {
	o := envOverrides{
		Bits:                  s.Bits,
		LiveTime:              s.LiveTime,
		RealTime:              s.RealTime,
		BackgroundEdgeSamples: s.BackgroundEdgeSamples,
		SquareWidth:           s.SquareWidth,
		Sigma:                 s.Sigma,
		MinAmplitude:          s.MinAmplitude,
		ResidMaxIterations:    s.ResidMaxIterations,
		ResidTooClose:         s.ResidTooClose,
		ROIExtendBackground:   s.ROIExtendBackground,
		FinderCutoffEnergy:    s.FinderCutoffEnergy,
		SumWindowFWHM:         s.SumWindowFWHM,
		SummationOnly:         s.SummationOnly,
		Method:                s.Method,
		MaxIterations:         s.MaxIterations,
		Workers:               s.Workers,
	}

	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return fmt.Errorf("settings: parse env: %w", err)
	}

	s.Bits = o.Bits
	s.LiveTime = o.LiveTime
	s.RealTime = o.RealTime
	s.BackgroundEdgeSamples = o.BackgroundEdgeSamples
	s.SquareWidth = o.SquareWidth
	s.Sigma = o.Sigma
	s.MinAmplitude = o.MinAmplitude
	s.ResidMaxIterations = o.ResidMaxIterations
	s.ResidTooClose = o.ResidTooClose
	s.ROIExtendBackground = o.ROIExtendBackground
	s.FinderCutoffEnergy = o.FinderCutoffEnergy
	s.SumWindowFWHM = o.SumWindowFWHM
	s.SummationOnly = o.SummationOnly
	s.Method = o.Method
	s.MaxIterations = o.MaxIterations
	s.Workers = o.Workers

	return nil
}

// Validate reports the first setting that cannot produce a fit.
func (s Settings) Validate() error {
	switch {
	case s.Bits <= 0:
		return fmt.Errorf("%w: bits %d", ErrInvalid, s.Bits)
	case s.BackgroundEdgeSamples < 1:
		return fmt.Errorf("%w: background edge samples %d", ErrInvalid, s.BackgroundEdgeSamples)
	case s.SquareWidth < 1 || s.ResidSquareWidth < 1:
		return fmt.Errorf("%w: square width must be at least 1", ErrInvalid)
	case !(s.Sigma > 0) || !(s.ResidSigma > 0):
		return fmt.Errorf("%w: sigma must be positive", ErrInvalid)
	case s.ResidMaxIterations < 0:
		return fmt.Errorf("%w: resid max iterations %d", ErrInvalid, s.ResidMaxIterations)
	case s.ResidTooClose < 0 || s.ROIExtendBackground < 0:
		return fmt.Errorf("%w: negative distance factor", ErrInvalid)
	case !(s.SumWindowFWHM > 0):
		return fmt.Errorf("%w: sum window %v", ErrInvalid, s.SumWindowFWHM)
	case s.LiveTime < 0 || s.RealTime < 0:
		return fmt.Errorf("%w: negative acquisition time", ErrInvalid)
	case s.Workers < 0:
		return fmt.Errorf("%w: workers %d", ErrInvalid, s.Workers)
	}

	switch lsq.Method(s.Method) {
	case lsq.LBFGS, lsq.NelderMead:
	default:
		return fmt.Errorf("%w: method %q", ErrInvalid, s.Method)
	}

	return nil
}

// Search returns the spectrum-wide finder configuration.
func (s Settings) Search() finder.Config {
	return finder.Config{
		SquareWidth:  s.SquareWidth,
		Sigma:        s.Sigma,
		MinWidth:     s.MinWidth,
		MinAmplitude: s.MinAmplitude,
	}
}

// ResidualSearch returns the finder configuration for residual refinement.
func (s Settings) ResidualSearch() finder.Config {
	return finder.Config{
		SquareWidth:  s.ResidSquareWidth,
		Sigma:        s.ResidSigma,
		MinWidth:     s.MinWidth,
		MinAmplitude: s.ResidMinAmplitude,
	}
}

// FitOptions returns the joint regression options.
func (s Settings) FitOptions() shape.Options {
	return shape.Options{
		Method:         s.Method,
		MaxIterations:  s.MaxIterations,
		WidthTolerance: s.WidthTolerance,
	}
}

// Energy returns the calibrated energy of bin.
func (s Settings) Energy(bin float64) float64 {
	return s.EnergyCal.Transform(bin, s.Bits)
}

// FWHMBins returns the expected FWHM in bins at bin, or NaN when either
// calibration is missing.
func (s Settings) FWHMBins(bin float64) float64 {
	if !s.EnergyCal.Valid() || !s.FWHMCal.Valid() {
		return math.NaN()
	}

	slope := s.EnergyCal.Derivative(bin, s.Bits)
	if slope == 0 {
		return math.NaN()
	}

	fw := s.FWHMCal.Model.Eval(s.Energy(bin))

	return math.Abs(fw / slope)
}

// FWHMFunc returns FWHMBins as a finder curve, or nil when it is undefined.
func (s Settings) FWHMFunc() func(float64) float64 {
	if !s.EnergyCal.Valid() || !s.FWHMCal.Valid() {
		return nil
	}

	return s.FWHMBins
}

// Rate returns counts per second of live time, or zero when no live time
// is set.
func (s Settings) Rate(counts float64) float64 {
	if s.LiveTime <= 0 {
		return 0
	}

	return counts / s.LiveTime.Seconds()
}
