package demand

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// median returns the middle value of x, averaging the two middle values for
// even lengths. x is not modified.
func median(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// medianAbsDeviation is the median of |x - median(x)|.
func medianAbsDeviation(x []float64, med float64) float64 {
	dev := make([]float64, len(x))
	for i, v := range x {
		dev[i] = math.Abs(v - med)
	}
	return median(dev)
}

// popStdDev is the population standard deviation (divides by n).
func popStdDev(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return stat.PopStdDev(x, nil)
}
