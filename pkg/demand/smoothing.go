package demand

// SmoothSlopes runs one neighbour-averaging pass over a circular slope
// sequence. The input is not modified.
//
// A strict local minimum is replaced by the mean of its two neighbours. Any
// other point is averaged with its neighbours, where a negative neighbour that
// is lower than the slope one step further out is swapped for that slope.
func SmoothSlopes(slopes []float64) []float64 {
	n := len(slopes)
	out := make([]float64, n)
	if n == 0 {
		return out
	}

	at := func(i int) float64 { return slopes[floorMod(i, n)] }

	for i, cur := range slopes {
		prev, next := at(i-1), at(i+1)

		if cur < prev && cur < next {
			out[i] = (prev + next) / 2
			continue
		}

		if prev < 0 && prev < at(i-2) {
			prev = at(i - 2)
		}
		if next < 0 && next < at(i+2) {
			next = at(i + 2)
		}
		out[i] = (cur + prev + next) / 3
	}
	return out
}

// SmoothTwice applies SmoothSlopes two times in sequence.
func SmoothTwice(slopes []float64) []float64 {
	return SmoothSlopes(SmoothSlopes(slopes))
}
