// Package bucket provides the hour-resolution time key used throughout demandcast.
//
// An ID names one hour of the time series. Its canonical text form is
// YYYY-MM-DDThh (for example 2012-03-01T23), zero padded and without a
// timezone, so that byte-wise string ordering equals chronological ordering.
// Storage backends rely on that property for range scans.
package bucket

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"time"
)

// Layout is the canonical text form of an ID.
const Layout = "2006-01-02T15"

// secondLayout is accepted on input for raw login timestamps.
const secondLayout = "2006-01-02T15:04:05"

// HoursPerWeek is the number of hourly buckets in one weekly cycle.
const HoursPerWeek = 7 * 24

// ErrInvalid is returned when a string cannot be parsed into an ID.
var ErrInvalid = errors.New("invalid bucket id")

var weekdayLetters = [7]string{
	time.Monday:    "Mo",
	time.Tuesday:   "Tu",
	time.Wednesday: "We",
	time.Thursday:  "Th",
	time.Friday:    "Fr",
	time.Saturday:  "Sa",
	time.Sunday:    "Su",
}

// ID is an hour-aligned UTC timestamp. The zero value is not a valid ID.
type ID struct {
	t time.Time
}

// FromTime truncates t to the hour. Timezone offsets are discarded: the wall
// clock reading of t is kept as if it were UTC.
func FromTime(t time.Time) ID {
	return ID{t: time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)}
}

// Date builds an ID from calendar fields. Out of range values are normalised
// the same way time.Date does.
func Date(year int, month time.Month, day, hour int) ID {
	return ID{t: time.Date(year, month, day, hour, 0, 0, 0, time.UTC)}
}

// Parse accepts either hour precision (2012-03-01T23) or second precision
// (2012-03-01T23:59:29). Anything after the seconds field, such as a
// +00:00 offset, is ignored.
func Parse(s string) (ID, error) {
	if len(s) < len(secondLayout) {
		t, err := time.Parse(Layout, s)
		if err != nil {
			return ID{}, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		return ID{t: t}, nil
	}

	t, err := time.Parse(secondLayout, s[:len(secondLayout)])
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return FromTime(t), nil
}

// MustParse is Parse for literals in tests and static tables.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical YYYY-MM-DDThh form.
func (id ID) String() string {
	return id.t.Format(Layout)
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id.t.IsZero()
}

// Time returns the start of the hour in UTC.
func (id ID) Time() time.Time {
	return id.t
}

// Hour returns the hour of day, 0-23.
func (id ID) Hour() int {
	return id.t.Hour()
}

// Weekday returns the day of the week.
func (id ID) Weekday() time.Weekday {
	return id.t.Weekday()
}

// Weekday2Letter returns the two letter day name: Mo Tu We Th Fr Sa Su.
func (id ID) Weekday2Letter() string {
	return weekdayLetters[id.t.Weekday()]
}

// Day returns hour 00 of the same calendar day.
func (id ID) Day() ID {
	return Date(id.t.Year(), id.t.Month(), id.t.Day(), 0)
}

// AddHours returns the ID n hours later (earlier for negative n).
func (id ID) AddHours(n int) ID {
	return ID{t: id.t.Add(time.Duration(n) * time.Hour)}
}

// AddDays returns the ID n calendar days later at the same hour.
func (id ID) AddDays(n int) ID {
	return ID{t: id.t.AddDate(0, 0, n)}
}

// Before reports whether id is earlier than other.
func (id ID) Before(other ID) bool {
	return id.t.Before(other.t)
}

// After reports whether id is later than other.
func (id ID) After(other ID) bool {
	return id.t.After(other.t)
}

// Equal reports whether both IDs name the same hour.
func (id ID) Equal(other ID) bool {
	return id.t.Equal(other.t)
}

// Compare returns -1, 0 or +1 like strings.Compare on the canonical forms.
func (id ID) Compare(other ID) int {
	return id.t.Compare(other.t)
}

// DayDelta returns the number of calendar days from a to b, ignoring the
// hour component. Positive when b is later. Leap years are exact because the
// arithmetic is done on UTC midnights.
func DayDelta(a, b ID) int {
	return int(b.Day().t.Sub(a.Day().t) / (24 * time.Hour))
}

// HourDelta returns the number of hours from a to b.
func HourDelta(a, b ID) int {
	return int(b.t.Sub(a.t) / time.Hour)
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("%w: zero value", ErrInvalid)
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Value implements driver.Valuer so IDs can be bound as SQL parameters.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("%w: zero value", ErrInvalid)
	}
	return id.String(), nil
}

// Scan implements sql.Scanner for CHAR id columns.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return id.UnmarshalText([]byte(v))
	case []byte:
		return id.UnmarshalText(v)
	case nil:
		*id = ID{}
		return nil
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalid, src)
	}
}
