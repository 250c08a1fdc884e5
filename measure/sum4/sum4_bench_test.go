package sum4

import (
	"strconv"
	"testing"

	"github.com/cwbudde/algo-gamma/fitting/background"
	"github.com/cwbudde/algo-gamma/internal/testutil"
	"github.com/cwbudde/algo-gamma/stats/edge"
)

func BenchmarkCalculate(b *testing.B) {
	for _, width := range []int{16, 128, 1024} {
		b.Run("width_"+strconv.Itoa(width), func(b *testing.B) {
			n := width + 40
			x, y := testutil.Spectrum(n, 20, testutil.Peak{Center: float64(n / 2), Height: 1000, Sigma: float64(width) / 8})

			lb, _ := edge.New(x, y, 0, 9)
			rb, _ := edge.New(x, y, n-10, n-1)
			bg := background.Summation(lb, rb)

			b.ReportAllocs()
			b.ResetTimer()

			for range b.N {
				_, _ = Calculate(x, y, 20, 20+width-1, bg, lb, rb)
			}
		})
	}
}
