// Package spectrum holds one-dimensional count histograms.
package spectrum

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Errors returned by New and Read.
var (
	ErrLengthMismatch = errors.New("spectrum: bins and counts must have same length")
	ErrEmpty          = errors.New("spectrum: no data")
	ErrUnordered      = errors.New("spectrum: bins must be strictly increasing")
	ErrNegativeCount  = errors.New("spectrum: counts must be non-negative")
)

// Spectrum is an ordered (bin, count) histogram.
type Spectrum struct {
	Name   string
	Bins   []float64
	Counts []float64

	// Bits is the ADC resolution the spectrum was recorded at.
	Bits int

	LiveTime time.Duration
	RealTime time.Duration
}

// New validates and copies bins and counts.
func New(bins, counts []float64) (*Spectrum, error) {
	if len(bins) != len(counts) {
		return nil, ErrLengthMismatch
	}

	if len(bins) == 0 {
		return nil, ErrEmpty
	}

	for i, c := range counts {
		if i > 0 && !(bins[i] > bins[i-1]) {
			return nil, fmt.Errorf("%w: bin %v after %v", ErrUnordered, bins[i], bins[i-1])
		}

		if c < 0 || math.IsNaN(c) {
			return nil, fmt.Errorf("%w: %v at bin %v", ErrNegativeCount, c, bins[i])
		}
	}

	return &Spectrum{Bins: slices.Clone(bins), Counts: slices.Clone(counts)}, nil
}

// FromCounts returns a spectrum with bins 0..len(counts)-1.
func FromCounts(counts []float64) (*Spectrum, error) {
	bins := make([]float64, len(counts))
	for i := range bins {
		bins[i] = float64(i)
	}

	return New(bins, counts)
}

// Read parses "bin,count" CSV records. A first record that does not parse as
// numbers is treated as a header. Single-column records are counts with
// implicit bins.
func Read(r io.Reader) (*Spectrum, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	var bins, counts []float64

	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("spectrum: read csv: %w", err)
		}

		bin, count, err := parseRecord(rec, len(counts))
		if err != nil {
			if line == 1 {
				continue
			}

			return nil, fmt.Errorf("spectrum: line %d: %w", line, err)
		}

		bins = append(bins, bin)
		counts = append(counts, count)
	}

	return New(bins, counts)
}

func parseRecord(rec []string, index int) (bin, count float64, err error) {
	switch len(rec) {
	case 1:
		count, err = strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		return float64(index), count, err
	case 0:
		return 0, 0, ErrEmpty
	}

	bin, err = strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
	if err != nil {
		return 0, 0, err
	}

	count, err = strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)

	return bin, count, err
}

// Len returns the number of bins.
func (s *Spectrum) Len() int { return len(s.Bins) }

// TotalCount returns the sum of all counts.
func (s *Spectrum) TotalCount() float64 {
	return floats.Sum(s.Counts)
}

// Trim drops leading and trailing zero-count bins in place.
func (s *Spectrum) Trim() {
	first := slices.IndexFunc(s.Counts, func(c float64) bool { return c > 0 })
	if first < 0 {
		s.Bins = s.Bins[:0]
		s.Counts = s.Counts[:0]

		return
	}

	last := len(s.Counts) - 1
	for s.Counts[last] <= 0 {
		last--
	}

	s.Bins = s.Bins[first : last+1]
	s.Counts = s.Counts[first : last+1]
}

// DeadTime returns the dead time fraction, or zero when it is undefined.
func (s *Spectrum) DeadTime() float64 {
	if s.RealTime <= 0 || s.LiveTime >= s.RealTime {
		return 0
	}

	return float64(s.RealTime-s.LiveTime) / float64(s.RealTime)
}
