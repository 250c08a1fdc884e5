package finder

import (
	"strconv"
	"testing"

	"github.com/cwbudde/algo-gamma/internal/testutil"
)

func BenchmarkFindPeaks(b *testing.B) {
	for _, n := range []int{1024, 8192, 65536} {
		b.Run("bins_"+strconv.Itoa(n), func(b *testing.B) {
			var peaks []testutil.Peak
			for c := 100; c < n-100; c += 250 {
				peaks = append(peaks, testutil.Peak{Center: float64(c), Height: 400, Sigma: 3})
			}

			x, y := testutil.Spectrum(n, 30, peaks...)
			y = testutil.Noisy(1, y)

			f, err := New(x, y)
			if err != nil {
				b.Fatal(err)
			}

			b.ReportAllocs()
			b.ResetTimer()

			for range b.N {
				f.FindPeaks(DefaultConfig())
			}
		})
	}
}
