// Command gammafit finds and fits the peaks of a gamma-ray spectrum.
//
// Usage:
//
//	gammafit [flags] spectrum.csv
//
// The spectrum is read as "bin,count" records (a single count column is
// also accepted). Settings come from the defaults, then -config, then
// GAMMAFIT_* environment variables, then flags.
//
// Examples:
//
//	gammafit cs137.csv
//	gammafit -config hpge.yaml -workers 4 -report cs137.txt cs137.csv
//	gammafit -load cs137.yaml -summation-only cs137.csv
//	gammafit -save cs137.yaml -db results.db cs137.csv
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cwbudde/algo-gamma/fitting/fitter"
	"github.com/cwbudde/algo-gamma/fitting/settings"
	"github.com/cwbudde/algo-gamma/fitting/spectrum"
	"github.com/cwbudde/algo-gamma/fitting/store"
)

type options struct {
	config        string
	report        string
	save          string
	load          string
	db            string
	name          string
	workers       int
	liveTime      time.Duration
	realTime      time.Duration
	verbose       bool
	summationOnly bool
	input         string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options

	fs := flag.NewFlagSet("gammafit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.config, "config", "", "YAML settings file")
	fs.StringVar(&o.report, "report", "", "write the peak report to this file instead of stdout")
	fs.StringVar(&o.save, "save", "", "write the fitted regions as YAML to this file")
	fs.StringVar(&o.load, "load", "", "restore regions from this YAML file instead of searching")
	fs.StringVar(&o.db, "db", "", "store the peak table in this SQLite database")
	fs.StringVar(&o.name, "name", "", "spectrum name (default: input file name)")
	fs.IntVar(&o.workers, "workers", 0, "regions fitted concurrently (0: one per CPU)")
	fs.DurationVar(&o.liveTime, "live", 0, "live time of the acquisition")
	fs.DurationVar(&o.realTime, "real", 0, "real time of the acquisition")
	fs.BoolVar(&o.verbose, "v", false, "debug logging")
	fs.BoolVar(&o.summationOnly, "summation-only", false, "skip regression and report SUM4 peaks only")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: gammafit [flags] spectrum.csv\n\n")
		fmt.Fprintf(stderr, "Finds and fits the peaks of a gamma-ray spectrum.\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return o, errors.New("exactly one spectrum file is required")
	}

	o.input = fs.Arg(0)
	if o.name == "" {
		o.name = strings.TrimSuffix(filepath.Base(o.input), filepath.Ext(o.input))
	}

	return o, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	cfg.OutputPaths = []string{"stderr"}

	return cfg.Build()
}

func loadSettings(o options) (settings.Settings, error) {
	s := settings.DefaultSettings()

	if o.config != "" {
		var err error
		if s, err = settings.Load(o.config); err != nil {
			return s, err
		}
	}

	if err := s.ApplyEnv(nil); err != nil {
		return s, err
	}

	lt, rt := s.LiveTime, s.RealTime
	if o.liveTime > 0 {
		lt = o.liveTime
	}

	if o.realTime > 0 {
		rt = o.realTime
	}

	s.Apply(
		settings.WithTimes(lt, rt),
		settings.WithSummationOnly(o.summationOnly || s.SummationOnly),
	)

	if o.workers > 0 {
		s.Apply(settings.WithWorkers(o.workers))
	}

	return s, s.Validate()
}

func readSpectrum(o options, s settings.Settings) (*spectrum.Spectrum, error) {
	f, err := os.Open(o.input)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sp, err := spectrum.Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", o.input, err)
	}

	sp.Name = o.name
	sp.Bits = s.Bits
	sp.LiveTime = s.LiveTime
	sp.RealTime = s.RealTime

	return sp, nil
}

func run(ctx context.Context, o options, logger *zap.Logger, stdout io.Writer) error {
	s, err := loadSettings(o)
	if err != nil {
		return err
	}

	sp, err := readSpectrum(o, s)
	if err != nil {
		return err
	}

	ft := fitter.New(s, fitter.WithLogger(logger))
	if err := ft.SetData(sp); err != nil {
		return err
	}

	if o.load != "" {
		data, err := os.ReadFile(o.load)
		if err != nil {
			return err
		}

		doc, err := fitter.ParseDocument(data)
		if err != nil {
			return err
		}

		if _, err := ft.Load(doc); err != nil {
			return err
		}
	} else {
		if _, err := ft.FindRegions(); err != nil {
			return err
		}

		if err := ft.FitRegions(ctx); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		logger.Warn("fit interrupted, reporting accepted results")
	}

	if err := writeReport(ft, o.report, stdout); err != nil {
		return err
	}

	if o.save != "" {
		data, err := ft.Document().Marshal()
		if err != nil {
			return err
		}

		if err := os.WriteFile(o.save, data, 0o644); err != nil {
			return err
		}
	}

	if o.db != "" {
		// The store outlives an interrupted fit.
		db, err := store.Open(context.WithoutCancel(ctx), o.db)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.SavePeaks(context.WithoutCancel(ctx), o.name, ft.Peaks()); err != nil {
			return err
		}
	}

	return nil
}

func writeReport(ft *fitter.Fitter, path string, stdout io.Writer) error {
	if path == "" {
		return ft.WriteReport(stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := ft.WriteReport(f); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

func main() {
	o, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "gammafit:", err)
		os.Exit(2)
	}

	logger, err := newLogger(o.verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gammafit:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, logger, os.Stdout); err != nil {
		logger.Error("gammafit failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}
