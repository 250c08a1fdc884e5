package spectrum

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		bins   []float64
		counts []float64
		want   error
	}{
		{"ok", []float64{0, 1, 2}, []float64{1, 2, 3}, nil},
		{"mismatch", []float64{0, 1}, []float64{1}, ErrLengthMismatch},
		{"empty", nil, nil, ErrEmpty},
		{"unordered", []float64{0, 2, 1}, []float64{1, 2, 3}, ErrUnordered},
		{"negative", []float64{0, 1}, []float64{1, -2}, ErrNegativeCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.bins, tt.counts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRead(t *testing.T) {
	in := "bin,count\n# comment\n10, 5\n11, 7\n12,0\n"

	s, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}

	if s.Len() != 3 || s.Bins[0] != 10 || s.Counts[1] != 7 {
		t.Fatalf("Read() = %v %v", s.Bins, s.Counts)
	}

	if s.TotalCount() != 12 {
		t.Fatalf("TotalCount() = %v, want 12", s.TotalCount())
	}
}

func TestReadSingleColumn(t *testing.T) {
	s, err := Read(strings.NewReader("3\n4\n5\n"))
	if err != nil {
		t.Fatal(err)
	}

	if s.Len() != 3 || s.Bins[2] != 2 || s.Counts[2] != 5 {
		t.Fatalf("Read() = %v %v", s.Bins, s.Counts)
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	if _, err := Read(strings.NewReader("1,2\nx,y\n")); err == nil {
		t.Fatal("Read() accepted a malformed record")
	}

	if _, err := Read(strings.NewReader("")); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Read() on empty input = %v, want ErrEmpty", err)
	}
}

func TestTrim(t *testing.T) {
	s, _ := FromCounts([]float64{0, 0, 3, 0, 4, 0, 0})
	s.Trim()

	if s.Len() != 3 || s.Bins[0] != 2 || s.Bins[2] != 4 {
		t.Fatalf("Trim() = %v", s.Bins)
	}

	z, _ := FromCounts([]float64{0, 0})
	z.Trim()

	if z.Len() != 0 {
		t.Fatalf("Trim() on zeros = %v", z.Bins)
	}
}

func TestDeadTime(t *testing.T) {
	s, _ := FromCounts([]float64{1})
	s.LiveTime = 90 * time.Second
	s.RealTime = 100 * time.Second

	if got := s.DeadTime(); got < 0.0999 || got > 0.1001 {
		t.Fatalf("DeadTime() = %v, want 0.1", got)
	}
}
