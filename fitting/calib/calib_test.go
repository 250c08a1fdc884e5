package calib

import (
	"math"
	"testing"
)

func TestTransformRescalesBitDepth(t *testing.T) {
	c := New("keV", 14, 0, 0.25)

	tests := []struct {
		name string
		bin  float64
		bits int
		want float64
	}{
		{name: "same depth", bin: 400, bits: 14, want: 100},
		{name: "coarser spectrum", bin: 200, bits: 13, want: 100},
		{name: "finer spectrum", bin: 800, bits: 15, want: 100},
		{name: "unknown depth", bin: 400, bits: 0, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Transform(tt.bin, tt.bits); math.Abs(got-tt.want) > 1e-12 {
				t.Fatalf("Transform(%v, %d) = %v, want %v", tt.bin, tt.bits, got, tt.want)
			}

			if got := c.Inverse(tt.want, tt.bits); math.Abs(got-tt.bin) > 1e-6 {
				t.Fatalf("Inverse(%v, %d) = %v, want %v", tt.want, tt.bits, got, tt.bin)
			}
		})
	}
}

func TestInvalidCalibrationIsIdentity(t *testing.T) {
	var c Calibration

	if c.Valid() {
		t.Fatal("zero calibration must be invalid")
	}

	if got := c.Transform(42, 12); got != 42 {
		t.Fatalf("Transform = %v, want 42", got)
	}

	if got := c.Derivative(42, 12); got != 1 {
		t.Fatalf("Derivative = %v, want 1", got)
	}
}

func TestDerivative(t *testing.T) {
	c := New("keV", 12, 1, 0.5, 0.001)

	got := c.Derivative(100, 11)
	// bin 100 at 11 bits is bin 200 at 12 bits; d/dbin = (0.5 + 0.002*200) * 2
	want := (0.5 + 0.002*200) * 2

	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("Derivative = %v, want %v", got, want)
	}
}
