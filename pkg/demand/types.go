package demand

import (
	"github.com/nicktill/demandcast/pkg/bucket"
)

// DefaultOutlierReason is recorded when an outlier is tagged without a reason.
const DefaultOutlierReason = "DefaultOutlier"

// HistoryRecord is the observed login count for one hour.
type HistoryRecord struct {
	Bucket  bucket.ID `json:"bucket"`
	Weekday string    `json:"weekday"`
	Hour    int       `json:"hour"`
	Count   int       `json:"count"`
}

// NewHistoryRecord derives the weekday and hour fields from id.
func NewHistoryRecord(id bucket.ID, count int) HistoryRecord {
	return HistoryRecord{
		Bucket:  id,
		Weekday: id.Weekday2Letter(),
		Hour:    id.Hour(),
		Count:   count,
	}
}

// Class returns the weekly class the record belongs to.
func (r HistoryRecord) Class() Class {
	return Class{Weekday: r.Weekday, Hour: r.Hour}
}

// ManualOutlier excludes one historic hour from regression input.
type ManualOutlier struct {
	Bucket bucket.ID `json:"bucket"`
	Reason string    `json:"reason"`
}

// PredictedMultiplier scales the forecast of one future hour.
type PredictedMultiplier struct {
	Bucket     bucket.ID `json:"bucket"`
	Multiplier float64   `json:"multiplier"`
	Reason     string    `json:"reason"`
}

// Prediction is the forecast count for one hour.
type Prediction struct {
	Bucket bucket.ID `json:"bucket"`
	Count  float64   `json:"count"`
}

// Class is a (weekday, hour of day) pair. There are 168 per week.
type Class struct {
	Weekday string `json:"weekday"`
	Hour    int    `json:"hour"`
}

// ClassOf returns the class of an arbitrary bucket.
func ClassOf(id bucket.ID) Class {
	return Class{Weekday: id.Weekday2Letter(), Hour: id.Hour()}
}

// ClassFit is the regression result for one class. It is recomputed on every
// run and never persisted.
type ClassFit struct {
	Bucket  bucket.ID `json:"bucket"`
	Slope   float64   `json:"slope"`
	AnchorX float64   `json:"anchor_x"`
	AnchorY float64   `json:"anchor_y"`
}

// Diagnostics counts the statistical edge cases absorbed during a run.
type Diagnostics struct {
	Rejected       int `json:"rejected"`
	Degenerate     int `json:"degenerate"`
	NegativeSlopes int `json:"negative_slopes"`
}
