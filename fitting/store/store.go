// Package store keeps fitted peak tables in a SQLite database.
//
// Each save replaces every row of the named spectrum, so the table always
// holds the latest analysis of each spectrum.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cwbudde/algo-gamma/fitting/param"
	"github.com/cwbudde/algo-gamma/fitting/peak"
	"github.com/cwbudde/algo-gamma/measure/sum4"
)

// ErrNoName is returned for an empty spectrum name.
var ErrNoName = errors.New("store: spectrum name is required")

const schema = `
CREATE TABLE IF NOT EXISTS peaks (
    spectrum        TEXT    NOT NULL,
    id              TEXT    NOT NULL,
    saved_at        INTEGER NOT NULL,
    center          REAL,
    center_sigma    REAL,
    energy          REAL,
    energy_sigma    REAL,
    fwhm            REAL,
    fwhm_energy     REAL,
    parametric      INTEGER NOT NULL,
    area            REAL,
    area_sigma      REAL,
    area_rate       REAL,
    centroid        REAL,
    centroid_sigma  REAL,
    bckg_area       REAL,
    bckg_area_sigma REAL,
    sum_area        REAL,
    sum_area_sigma  REAL,
    sum_rate        REAL,
    quality         INTEGER NOT NULL,
    PRIMARY KEY (spectrum, id)
);
CREATE INDEX IF NOT EXISTS peaks_energy ON peaks (spectrum, energy);
`

// Record is one stored peak row.
type Record struct {
	Spectrum string
	ID       uuid.UUID
	SavedAt  time.Time

	Center     param.Value
	Energy     param.Value
	FWHM       float64
	FWHMEnergy float64

	Parametric bool
	Area       param.Value
	AreaRate   float64

	Centroid       param.Value
	BackgroundArea param.Value
	SumArea        param.Value
	SumRate        float64
	Quality        sum4.Quality
}

// RecordOf flattens p into a row of spectrum.
func RecordOf(spectrum string, p peak.Peak) Record {
	r := Record{
		Spectrum:   spectrum,
		ID:         p.ID,
		Center:     p.Center,
		Energy:     p.Energy,
		FWHM:       p.FWHM.Val,
		FWHMEnergy: p.FWHMEnergy,
		Parametric: p.Parametric,
		AreaRate:   p.AreaRate,
		SumRate:    p.SumRate,
		Quality:    p.SUM4.Quality,
	}

	if p.Parametric {
		r.Area = p.Area()
	}

	if p.SUM4.Valid() {
		r.Centroid = p.SUM4.Centroid
		r.BackgroundArea = p.SUM4.BackgroundArea
		r.SumArea = p.SUM4.PeakArea
	}

	return r
}

// Store is a SQLite peak table.
type Store struct {
	sqlDB *sql.DB
}

// Open opens or creates the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite db: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("store: ping sqlite db: %w", err)
	}

	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}

	return s.sqlDB.Close()
}

// SavePeaks replaces the stored peaks of spectrum with peaks.
func (s *Store) SavePeaks(ctx context.Context, spectrum string, peaks []peak.Peak) error {
	spectrum = strings.TrimSpace(spectrum)
	if spectrum == "" {
		return ErrNoName
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM peaks WHERE spectrum = ?`, spectrum); err != nil {
		return fmt.Errorf("store: clear %q: %w", spectrum, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO peaks (
	    spectrum, id, saved_at, center, center_sigma, energy, energy_sigma,
	    fwhm, fwhm_energy, parametric, area, area_sigma, area_rate,
	    centroid, centroid_sigma, bckg_area, bckg_area_sigma,
	    sum_area, sum_area_sigma, sum_rate, quality
	 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}

	defer stmt.Close()

	now := time.Now().UTC().UnixMilli()

	for _, p := range peaks {
		r := RecordOf(spectrum, p)

		parametric := 0
		if r.Parametric {
			parametric = 1
		}

		if _, err := stmt.ExecContext(ctx,
			r.Spectrum, r.ID.String(), now,
			nullable(r.Center.Val), nullable(r.Center.Sigma),
			nullable(r.Energy.Val), nullable(r.Energy.Sigma),
			nullable(r.FWHM), nullable(r.FWHMEnergy),
			parametric,
			nullable(r.Area.Val), nullable(r.Area.Sigma), nullable(r.AreaRate),
			nullable(r.Centroid.Val), nullable(r.Centroid.Sigma),
			nullable(r.BackgroundArea.Val), nullable(r.BackgroundArea.Sigma),
			nullable(r.SumArea.Val), nullable(r.SumArea.Sigma), nullable(r.SumRate),
			int(r.Quality),
		); err != nil {
			return fmt.Errorf("store: insert peak %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}

	return nil
}

// Peaks returns the stored rows of spectrum ordered by energy.
func (s *Store) Peaks(ctx context.Context, spectrum string) ([]Record, error) {
	spectrum = strings.TrimSpace(spectrum)
	if spectrum == "" {
		return nil, ErrNoName
	}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT
	    spectrum, id, saved_at, center, center_sigma, energy, energy_sigma,
	    fwhm, fwhm_energy, parametric, area, area_sigma, area_rate,
	    centroid, centroid_sigma, bckg_area, bckg_area_sigma,
	    sum_area, sum_area_sigma, sum_rate, quality
	 FROM peaks WHERE spectrum = ? ORDER BY energy, id`, spectrum)
	if err != nil {
		return nil, fmt.Errorf("store: query %q: %w", spectrum, err)
	}
	defer rows.Close()

	var out []Record

	for rows.Next() {
		var (
			r          Record
			id         string
			savedAt    int64
			parametric int64
			quality    int64
			f          [16]sql.NullFloat64
		)

		dest := []any{&r.Spectrum, &id, &savedAt}
		for i := range 6 {
			dest = append(dest, &f[i])
		}

		dest = append(dest, &parametric)
		for i := 6; i < len(f); i++ {
			dest = append(dest, &f[i])
		}

		dest = append(dest, &quality)

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}

		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("store: peak id %q: %w", id, err)
		}

		r.SavedAt = time.UnixMilli(savedAt).UTC()
		r.Parametric = parametric != 0
		r.Quality = sum4.Quality(quality)

		r.Center = value(f[0], f[1])
		r.Energy = value(f[2], f[3])
		r.FWHM = orNaN(f[4])
		r.FWHMEnergy = orNaN(f[5])
		r.Area = value(f[6], f[7])
		r.AreaRate = orNaN(f[8])
		r.Centroid = value(f[9], f[10])
		r.BackgroundArea = value(f[11], f[12])
		r.SumArea = value(f[13], f[14])
		r.SumRate = orNaN(f[15])

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows: %w", err)
	}

	return out, nil
}

// nullable maps non-finite values to NULL.
func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}

	return v
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}

	return v.Float64
}

func value(v, sigma sql.NullFloat64) param.Value {
	return param.Value{Val: orNaN(v), Sigma: orNaN(sigma)}
}
