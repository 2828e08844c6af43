package demand

import (
	"math"

	"github.com/nicktill/demandcast/pkg/bucket"
)

// Band multipliers for the MAD filter.
const (
	madBand         = 4.0
	madFallbackBand = 5.0
	minMedianShare  = 0.20
)

// BucketSet is a set of bucket ids.
type BucketSet map[bucket.ID]struct{}

// NewBucketSet builds a set from ids.
func NewBucketSet(ids ...bucket.ID) BucketSet {
	s := make(BucketSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// OutlierSet collects the buckets of manually tagged outliers.
func OutlierSet(outliers []ManualOutlier) BucketSet {
	s := make(BucketSet, len(outliers))
	for _, o := range outliers {
		s[o.Bucket] = struct{}{}
	}
	return s
}

// Contains reports whether id is in the set.
func (s BucketSet) Contains(id bucket.ID) bool {
	_, ok := s[id]
	return ok
}

// Point is one observation of a class, positioned by how many whole weeks it
// lies before the hour being predicted.
type Point struct {
	WeeksBefore int
	Count       float64
}

// FilterResult is the output of FilterClass.
type FilterResult struct {
	Kept     []Point
	Rejected int
	// Fallback is set when the MAD band rejected every point and the
	// weighted-mean band was used instead.
	Fallback bool
	MAD      float64
}

// DropTagged returns the records whose bucket is not tagged. The input is
// not modified.
func DropTagged(history []HistoryRecord, tagged BucketSet) []HistoryRecord {
	kept := make([]HistoryRecord, 0, len(history))
	for _, r := range history {
		if tagged.Contains(r.Bucket) {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// FilterClass applies the robust MAD filter to the points of one class.
//
// Points are kept when max(median-4*MAD, 0.2*median) < x < median+4*MAD.
// A zero MAD is replaced by the population standard deviation. When the band
// rejects everything, points within 5*MAD of the decay-weighted mean of the
// unfiltered points are kept, and failing that, every point.
func FilterClass(points []Point) FilterResult {
	if len(points) == 0 {
		return FilterResult{}
	}

	counts := make([]float64, len(points))
	for i, p := range points {
		counts[i] = p.Count
	}

	med := median(counts)
	mad := medianAbsDeviation(counts, med)
	if mad == 0 {
		mad = popStdDev(counts)
	}

	low := math.Max(med-madBand*mad, minMedianShare*med)
	high := med + madBand*mad

	kept := make([]Point, 0, len(points))
	for _, p := range points {
		if p.Count > low && p.Count < high {
			kept = append(kept, p)
		}
	}
	if len(kept) > 0 {
		return FilterResult{Kept: kept, Rejected: len(points) - len(kept), MAD: mad}
	}

	wmean := WeightedMean(points)
	for _, p := range points {
		if math.Abs(p.Count-wmean) <= madFallbackBand*mad {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, points...)
	}
	return FilterResult{Kept: kept, Rejected: len(points) - len(kept), Fallback: true, MAD: mad}
}
