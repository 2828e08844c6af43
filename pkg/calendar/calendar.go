// Package calendar loads known demand anomalies: historic hours to exclude
// from the regression and future hours whose forecast is scaled.
//
// A built-in calendar is embedded in the binary. Deployments can replace it
// with their own YAML file of the same shape:
//
//	outliers:
//	  - reason: Uber Down
//	    from: "2012-03-14T04"
//	    to: "2012-03-14T08"
//	multipliers:
//	  - reason: Mothers Day
//	    multiplier: 0.8
//	    buckets: ["2012-05-13T16", "2012-05-13T17"]
package calendar

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/nicktill/demandcast/pkg/bucket"
	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/storage"
	"github.com/nicktill/demandcast/pkg/validation"
)

//go:embed anomalies.yaml
var builtin []byte

// maxSpanHours bounds a single from/to range.
const maxSpanHours = 31 * 24

// Span names hours either as a list or as an inclusive range.
type Span struct {
	Buckets []string `koanf:"buckets" validate:"dive,bucket"`
	From    string   `koanf:"from" validate:"omitempty,bucket"`
	To      string   `koanf:"to" validate:"omitempty,bucket"`
}

// IDs expands the span in listed order followed by the range.
func (s Span) IDs() ([]bucket.ID, error) {
	if len(s.Buckets) == 0 && s.From == "" && s.To == "" {
		return nil, errors.New("entry names no hours")
	}
	if (s.From == "") != (s.To == "") {
		return nil, errors.New("from and to must be set together")
	}

	ids := make([]bucket.ID, 0, len(s.Buckets))
	for _, b := range s.Buckets {
		id, err := bucket.Parse(b)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if s.From == "" {
		return ids, nil
	}

	from, err := bucket.Parse(s.From)
	if err != nil {
		return nil, err
	}
	to, err := bucket.Parse(s.To)
	if err != nil {
		return nil, err
	}
	n := bucket.HourDelta(from, to)
	if n < 0 {
		return nil, fmt.Errorf("range %s..%s ends before it starts", from, to)
	}
	if n >= maxSpanHours {
		return nil, fmt.Errorf("range %s..%s is longer than %d hours", from, to, maxSpanHours)
	}
	for h := 0; h <= n; h++ {
		ids = append(ids, from.AddHours(h))
	}
	return ids, nil
}

// OutlierEntry tags historic hours.
type OutlierEntry struct {
	Reason string `koanf:"reason" validate:"required,max=255"`
	Span   `koanf:",squash"`
}

// MultiplierEntry scales forecast hours.
type MultiplierEntry struct {
	Reason     string  `koanf:"reason" validate:"required,max=255"`
	Multiplier float64 `koanf:"multiplier" validate:"gt=0"`
	Span       `koanf:",squash"`
}

type document struct {
	Outliers    []OutlierEntry    `koanf:"outliers" validate:"dive"`
	Multipliers []MultiplierEntry `koanf:"multipliers" validate:"dive"`
}

// Calendar is the expanded anomaly list, one record per hour in file order.
type Calendar struct {
	Outliers    []demand.ManualOutlier
	Multipliers []demand.PredictedMultiplier
}

// Builtin returns the embedded calendar.
func Builtin() (*Calendar, error) {
	return Parse(builtin)
}

// Parse reads a calendar from YAML bytes.
func Parse(data []byte) (*Calendar, error) {
	return load(rawbytes.Provider(data))
}

// LoadFile reads a calendar from a YAML file.
func LoadFile(path string) (*Calendar, error) {
	c, err := load(file.Provider(path))
	if err != nil {
		return nil, fmt.Errorf("calendar %s: %w", path, err)
	}
	return c, nil
}

// Load returns the calendar at path, or the built-in one when path is empty.
func Load(path string) (*Calendar, error) {
	if path == "" {
		return Builtin()
	}
	return LoadFile(path)
}

func load(p koanf.Provider) (*Calendar, error) {
	k := koanf.New(".")
	if err := k.Load(p, yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to read calendar: %w", err)
	}

	var doc document
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("failed to decode calendar: %w", err)
	}
	if err := validation.Struct(&doc); err != nil {
		return nil, err
	}

	c := &Calendar{}
	for i, e := range doc.Outliers {
		ids, err := e.IDs()
		if err != nil {
			return nil, fmt.Errorf("outliers[%d]: %w", i, err)
		}
		for _, id := range ids {
			c.Outliers = append(c.Outliers, demand.ManualOutlier{Bucket: id, Reason: e.Reason})
		}
	}
	for i, e := range doc.Multipliers {
		ids, err := e.IDs()
		if err != nil {
			return nil, fmt.Errorf("multipliers[%d]: %w", i, err)
		}
		for _, id := range ids {
			c.Multipliers = append(c.Multipliers, demand.PredictedMultiplier{
				Bucket:     id,
				Multiplier: e.Multiplier,
				Reason:     e.Reason,
			})
		}
	}
	return c, nil
}

// Store is the part of storage.Store Apply writes to.
type Store interface {
	HistoryRecord(ctx context.Context, id bucket.ID) (demand.HistoryRecord, error)
	PutOutlier(ctx context.Context, o demand.ManualOutlier) error
	PutMultiplier(ctx context.Context, m demand.PredictedMultiplier) error
}

// Applied counts what Apply recorded.
type Applied struct {
	Outliers    int `json:"outliers"`
	Skipped     int `json:"skipped"`
	Multipliers int `json:"multipliers"`
}

// Apply upserts the calendar into store. Outliers for hours without
// history are skipped.
func (c *Calendar) Apply(ctx context.Context, store Store) (Applied, error) {
	var a Applied
	if c == nil {
		return a, nil
	}

	for _, o := range c.Outliers {
		if _, err := store.HistoryRecord(ctx, o.Bucket); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				a.Skipped++
				continue
			}
			return a, fmt.Errorf("failed to look up %s: %w", o.Bucket, err)
		}
		if err := store.PutOutlier(ctx, o); err != nil {
			return a, fmt.Errorf("failed to store outlier %s: %w", o.Bucket, err)
		}
		a.Outliers++
	}

	for _, m := range c.Multipliers {
		if err := store.PutMultiplier(ctx, m); err != nil {
			return a, fmt.Errorf("failed to store multiplier %s: %w", m.Bucket, err)
		}
		a.Multipliers++
	}
	return a, nil
}
