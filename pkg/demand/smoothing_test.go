package demand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/demandcast/pkg/bucket"
)

func flatSlopes(v float64) []float64 {
	s := make([]float64, bucket.HoursPerWeek)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestSmoothSlopes_LocalMinimum(t *testing.T) {
	s := flatSlopes(1)
	s[49], s[50], s[51] = 2, -5, 4

	out := SmoothSlopes(s)
	assert.Equal(t, 3.0, out[50], "local minimum takes the mean of its neighbours only")
}

func TestSmoothSlopes_WrapsAround(t *testing.T) {
	t.Run("next of last is first", func(t *testing.T) {
		s := flatSlopes(0)
		s[0] = 6
		out := SmoothSlopes(s)
		assert.Equal(t, 2.0, out[167])
	})

	t.Run("prev of first is last", func(t *testing.T) {
		s := flatSlopes(0)
		s[167] = 9
		out := SmoothSlopes(s)
		assert.Equal(t, 3.0, out[0])
	})

	t.Run("local minimum at index zero", func(t *testing.T) {
		s := flatSlopes(0)
		s[167], s[0], s[1] = 1, -3, 5
		out := SmoothSlopes(s)
		assert.Equal(t, 3.0, out[0])
	})
}

func TestSmoothSlopes_NegativeNeighbourSubstitution(t *testing.T) {
	s := flatSlopes(0)
	s[8], s[9], s[10], s[11] = 4, -2, 1, 2

	out := SmoothSlopes(s)
	// prev (-2) is replaced by s[8] (4); next (2) is kept.
	assert.InDelta(t, 7.0/3.0, out[10], 1e-12)
}

func TestSmoothSlopes_DoesNotModifyInput(t *testing.T) {
	s := flatSlopes(0)
	s[3] = -1
	SmoothSlopes(s)
	assert.Equal(t, -1.0, s[3])
}

func TestSmoothTwice(t *testing.T) {
	s := flatSlopes(0)
	s[20] = 12

	out := SmoothTwice(s)
	require.Len(t, out, bucket.HoursPerWeek)
	assert.Equal(t, SmoothSlopes(SmoothSlopes(s)), out)

	flat := SmoothTwice(flatSlopes(0.5))
	for _, v := range flat {
		assert.InDelta(t, 0.5, v, 1e-12)
	}
}
