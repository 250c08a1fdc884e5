package conv_test

import (
	"fmt"

	"github.com/cwbudde/algo-gamma/dsp/conv"
)

func ExampleDirect() {
	result, err := conv.Direct([]float64{1, 2, 3}, []float64{1, 1, 1})
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Println(result)
	// Output: [1 3 6 5 3]
}

func ExampleSame() {
	// a zero-area square-wave kernel responds to a peak and ignores a flat
	// background
	counts := []float64{10, 10, 10, 10, 30, 10, 10, 10, 10}
	kernel := []float64{-1, 2, -1}

	response, err := conv.Same(counts, kernel)
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Println(response[1:8])
	// Output: [0 0 -20 40 -20 0 0]
}
