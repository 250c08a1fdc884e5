package edge

import (
	"errors"
	"math"
	"testing"
)

func ramp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}

	return out
}

func TestNew(t *testing.T) {
	x := ramp(8)
	y := []float64{4, 6, 5, 7, 8, 2, 9, 1}

	w, err := New(x, y, 1, 4)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if w.Sum != 26 {
		t.Fatalf("Sum = %v, want 26", w.Sum)
	}

	if w.Width != 4 {
		t.Fatalf("Width = %v, want 4", w.Width)
	}

	if w.Average != 6.5 {
		t.Fatalf("Average = %v, want 6.5", w.Average)
	}

	if w.Min != 5 || w.Max != 8 {
		t.Fatalf("Min/Max = %v/%v, want 5/8", w.Min, w.Max)
	}

	if want := 26.0 / 16.0; math.Abs(w.Variance-want) > 1e-12 {
		t.Fatalf("Variance = %v, want %v", w.Variance, want)
	}

	// population variance of {6,5,7,8}
	if want := 1.25; math.Abs(w.SampleVariance-want) > 1e-12 {
		t.Fatalf("SampleVariance = %v, want %v", w.SampleVariance, want)
	}

	if w.Midpoint != 2.5 {
		t.Fatalf("Midpoint = %v, want 2.5", w.Midpoint)
	}

	if w.Left() != 1 || w.Right() != 4 {
		t.Fatalf("Left/Right = %v/%v, want 1/4", w.Left(), w.Right())
	}
}

func TestNewErrors(t *testing.T) {
	x := ramp(4)
	y := []float64{1, 2, 3, 4}

	tests := []struct {
		name        string
		x, y        []float64
		left, right int
		want        error
	}{
		{name: "mismatch", x: x, y: y[:3], left: 0, right: 1, want: ErrLengthMismatch},
		{name: "inverted", x: x, y: y, left: 2, right: 1, want: ErrInvalidBounds},
		{name: "negative", x: x, y: y, left: -1, right: 1, want: ErrInvalidBounds},
		{name: "past end", x: x, y: y, left: 0, right: 4, want: ErrInvalidBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.x, tt.y, tt.left, tt.right)
			if !errors.Is(err, tt.want) {
				t.Fatalf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSingleSample(t *testing.T) {
	w, err := New([]float64{10}, []float64{3}, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	if w.SampleVariance != 0 {
		t.Fatalf("SampleVariance = %v, want 0", w.SampleVariance)
	}

	if w.Sigma() != math.Sqrt(3) {
		t.Fatalf("Sigma = %v, want sqrt(3)", w.Sigma())
	}
}

func TestShift(t *testing.T) {
	w, err := New(ramp(6), ramp(6), 2, 3)
	if err != nil {
		t.Fatal(err)
	}

	s := w.Shift(-2)
	if s.Start != 0 || s.End != 1 {
		t.Fatalf("Shift indices = %d..%d, want 0..1", s.Start, s.End)
	}

	if s.Left() != w.Left() || s.Average != w.Average {
		t.Fatal("Shift must not change statistics")
	}
}
