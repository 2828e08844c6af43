package demand

import (
	"math"

	"github.com/nicktill/demandcast/pkg/bucket"
)

// Model is the fitted weekly demand profile. Index i of every slice refers
// to the hour First+i.
type Model struct {
	First    bucket.ID
	Fits     []ClassFit
	Smoothed []float64
	Base     []float64

	Diagnostics Diagnostics
	// Problems describes each degenerate class. They never fail a run.
	Problems []error
}

// BuildModel filters, fits and smooths history. Tagged buckets are excluded
// from the fits but the week being modelled always starts one hour after the
// latest history bucket, tagged or not.
func BuildModel(history []HistoryRecord, tagged BucketSet) (*Model, error) {
	fits, diag, problems, err := Regress(history, tagged)
	if err != nil {
		return nil, err
	}

	slopes := make([]float64, len(fits))
	for i, f := range fits {
		slopes[i] = f.Slope
	}
	smoothed := SmoothTwice(slopes)

	base := make([]float64, len(fits))
	for i, f := range fits {
		base[i] = math.Max(0, f.AnchorY+(0-f.AnchorX)*smoothed[i])
	}

	return &Model{
		First:       fits[0].Bucket,
		Fits:        fits,
		Smoothed:    smoothed,
		Base:        base,
		Diagnostics: diag,
		Problems:    problems,
	}, nil
}

// Multipliers indexes multipliers by bucket. Later entries win.
func Multipliers(ms []PredictedMultiplier) map[bucket.ID]float64 {
	out := make(map[bucket.ID]float64, len(ms))
	for _, m := range ms {
		out[m.Bucket] = m.Multiplier
	}
	return out
}

// At predicts a single hour without any multiplier. weeks is the number of
// whole weeks projected forward from the modelled week.
func (m *Model) At(id bucket.ID, weeks int) float64 {
	offset := floorMod(bucket.HourDelta(m.First, id), len(m.Base))
	return m.Base[offset] + float64(weeks)*m.Smoothed[offset]
}

// Extrapolate forecasts numDays whole days starting at the day of start.
// It returns one slice of 24 predictions per day, in chronological order.
// A multiplier registered for a bucket scales only that bucket. Results are
// clamped at zero.
func (m *Model) Extrapolate(start bucket.ID, numDays int, multipliers map[bucket.ID]float64) [][]Prediction {
	if numDays <= 0 {
		return nil
	}
	day0 := start.Day()
	gap := bucket.DayDelta(m.First, day0)

	days := make([][]Prediction, 0, numDays)
	for d := 0; d < numDays; d++ {
		weeks := floorDiv(gap+d, 7)
		dayStart := day0.AddDays(d)

		preds := make([]Prediction, 0, 24)
		for h := 0; h < 24; h++ {
			id := dayStart.AddHours(h)
			v := m.At(id, weeks)
			if mult, ok := multipliers[id]; ok {
				v *= mult
			}
			preds = append(preds, Prediction{Bucket: id, Count: math.Max(0, v)})
		}
		days = append(days, preds)
	}
	return days
}
