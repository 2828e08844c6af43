package demand

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/nicktill/demandcast/pkg/bucket"
)

// decayScale controls how fast older weeks lose weight in the anchor mean:
//
//	1 week ago   = 1.0
//	4 weeks ago  = 0.9
//	10 weeks ago = 0.34
//	12 weeks ago = 0.05
const decayScale = 150.0

// DecayWeight is the weight of an observation weeksBefore weeks in the past.
// It is never negative.
func DecayWeight(weeksBefore float64) float64 {
	return math.Max(0, 1-(weeksBefore*weeksBefore-1)/decayScale)
}

// WeightedMean is the decay-weighted mean of the counts. If every weight is
// zero the plain mean is returned. Empty input yields NaN.
func WeightedMean(points []Point) float64 {
	if len(points) == 0 {
		return math.NaN()
	}
	counts := make([]float64, len(points))
	weights := make([]float64, len(points))
	var sum float64
	for i, p := range points {
		counts[i] = p.Count
		weights[i] = DecayWeight(float64(p.WeeksBefore))
		sum += weights[i]
	}
	if sum <= 0 {
		return stat.Mean(counts, nil)
	}
	return stat.Mean(counts, weights)
}

// weightedCentroidX is the decay-weighted mean of the x positions (-weeks).
func weightedCentroidX(points []Point) float64 {
	xs := make([]float64, len(points))
	weights := make([]float64, len(points))
	var sum float64
	for i, p := range points {
		xs[i] = -float64(p.WeeksBefore)
		weights[i] = DecayWeight(float64(p.WeeksBefore))
		sum += weights[i]
	}
	if sum <= 0 {
		return stat.Mean(xs, nil)
	}
	return stat.Mean(xs, weights)
}

// FitClass filters one class and fits its trend line.
//
// The line is count = slope*x + intercept with x = -weeksBefore, so slope is
// the change per week moving towards the present. The anchor is the point on
// the line whose y equals the decay-weighted mean, with x clamped into
// [-maxWeeksBefore, -1].
//
// A non-nil error wraps ErrDegenerateClass. The returned fit is still usable.
func FitClass(points []Point) (ClassFit, FilterResult, error) {
	if len(points) == 0 {
		return ClassFit{AnchorX: -1}, FilterResult{}, fmt.Errorf("%w: no data", ErrDegenerateClass)
	}

	filtered := FilterClass(points)
	kept := filtered.Kept

	var degenerate error
	if filtered.Fallback {
		degenerate = fmt.Errorf("%w: MAD band rejected all %d points", ErrDegenerateClass, len(points))
	}

	xs := make([]float64, len(kept))
	ys := make([]float64, len(kept))
	maxWeeks := 0
	for i, p := range kept {
		xs[i] = -float64(p.WeeksBefore)
		ys[i] = p.Count
		if p.WeeksBefore > maxWeeks {
			maxWeeks = p.WeeksBefore
		}
	}

	var slope, intercept float64
	if distinct(xs) < 2 {
		intercept = stat.Mean(ys, nil)
		if degenerate == nil {
			degenerate = fmt.Errorf("%w: single week of data", ErrDegenerateClass)
		}
	} else {
		intercept, slope = stat.LinearRegression(xs, ys, nil, false)
	}

	anchorY := WeightedMean(kept)

	anchorX := math.NaN()
	if slope != 0 {
		anchorX = (anchorY - intercept) / slope
	}
	if math.IsNaN(anchorX) || math.IsInf(anchorX, 0) {
		anchorX = weightedCentroidX(kept)
	}
	anchorX = math.Min(-1, math.Max(-float64(maxWeeks), anchorX))

	return ClassFit{Slope: slope, AnchorX: anchorX, AnchorY: anchorY}, filtered, degenerate
}

func distinct(xs []float64) int {
	seen := make(map[float64]struct{}, len(xs))
	for _, x := range xs {
		seen[x] = struct{}{}
	}
	return len(seen)
}

// ClassPoints positions the records of one class relative to target.
// Records are expected to precede target.
func ClassPoints(records []HistoryRecord, target bucket.ID) []Point {
	points := make([]Point, 0, len(records))
	for _, r := range records {
		points = append(points, Point{
			WeeksBefore: floorDiv(bucket.DayDelta(r.Bucket, target), 7),
			Count:       float64(r.Count),
		})
	}
	return points
}

// floorDiv is integer division rounding towards negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// floorMod is the non-negative remainder of a divided by b.
func floorMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Regress fits every class for the week following the latest history bucket.
// The fits are ordered chronologically starting one hour after that bucket;
// fits[i] belongs to latest+1+i hours.
func Regress(history []HistoryRecord, tagged BucketSet) ([]ClassFit, Diagnostics, []error, error) {
	if len(history) == 0 {
		return nil, Diagnostics{}, nil, ErrEmptyHistory
	}

	latest := history[0].Bucket
	for _, r := range history[1:] {
		if r.Bucket.After(latest) {
			latest = r.Bucket
		}
	}

	byClass := make(map[Class][]HistoryRecord, bucket.HoursPerWeek)
	for _, r := range DropTagged(history, tagged) {
		byClass[r.Class()] = append(byClass[r.Class()], r)
	}

	var (
		diag     Diagnostics
		problems []error
	)
	fits := make([]ClassFit, bucket.HoursPerWeek)
	first := latest.AddHours(1)
	for i := range fits {
		target := first.AddHours(i)
		fit, filtered, err := FitClass(ClassPoints(byClass[ClassOf(target)], target))
		fit.Bucket = target
		fits[i] = fit

		diag.Rejected += filtered.Rejected
		if fit.Slope < 0 {
			diag.NegativeSlopes++
		}
		if err != nil {
			diag.Degenerate++
			problems = append(problems, fmt.Errorf("%s %s%02d: %w", target, target.Weekday2Letter(), target.Hour(), err))
		}
	}

	return fits, diag, problems, nil
}
