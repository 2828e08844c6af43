package bucket

import (
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_HourPrecision(t *testing.T) {
	id, err := Parse("2012-03-01T23")
	require.NoError(t, err)
	assert.Equal(t, "2012-03-01T23", id.String())
	assert.Equal(t, 23, id.Hour())
	assert.Equal(t, "Th", id.Weekday2Letter())
}

func TestParse_SecondPrecisionIgnoresOffset(t *testing.T) {
	id, err := Parse("2012-04-30T23:59:29+05:00")
	require.NoError(t, err)
	assert.Equal(t, "2012-04-30T23", id.String())

	id, err = Parse("2012-04-30T00:06:23")
	require.NoError(t, err)
	assert.Equal(t, "2012-04-30T00", id.String())
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "2012-03-01", "2012-13-01T00", "2012-03-01T24", "yesterday", "2012-03-01T00:61:00"} {
		_, err := Parse(in)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, ErrInvalid), in)
	}
}

func TestRoundTrip(t *testing.T) {
	start := Date(2011, time.December, 30, 0)
	for i := 0; i < 24*400; i += 7 {
		id := start.AddHours(i)
		parsed, err := Parse(id.String())
		require.NoError(t, err)
		require.True(t, parsed.Equal(id), id.String())
	}
}

func TestLexicographicOrderIsChronological(t *testing.T) {
	ids := []ID{
		MustParse("2013-01-01T00"),
		MustParse("2012-03-01T09"),
		MustParse("2012-03-01T10"),
		MustParse("2012-12-31T23"),
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	sort.Strings(strs)
	sort.Slice(ids, func(i, j int) bool { return ids[i].Before(ids[j]) })
	for i := range ids {
		assert.Equal(t, strs[i], ids[i].String())
	}
}

func TestDayDelta(t *testing.T) {
	a := MustParse("2012-03-01T23")
	b := MustParse("2012-03-08T00")
	assert.Equal(t, 7, DayDelta(a, b))
	assert.Equal(t, -7, DayDelta(b, a))
	assert.Equal(t, 0, DayDelta(a, a.Day()))

	// 2012 and 2016 are leap years: 366 + 365 + 365 + 365 days.
	assert.Equal(t, 1461, DayDelta(MustParse("2012-01-01T05"), MustParse("2016-01-01T00")))
	assert.Equal(t, 29, DayDelta(MustParse("2012-02-01T00"), MustParse("2012-03-01T00")))
}

func TestHourDelta(t *testing.T) {
	a := MustParse("2012-03-01T23")
	assert.Equal(t, 1, HourDelta(a, MustParse("2012-03-02T00")))
	assert.Equal(t, -24, HourDelta(a, MustParse("2012-02-29T23")))
	assert.Equal(t, HoursPerWeek, HourDelta(a, a.AddDays(7)))
}

func TestWeekday2Letter(t *testing.T) {
	// 2012-03-05 was a Monday.
	want := []string{"Mo", "Tu", "We", "Th", "Fr", "Sa", "Su"}
	monday := MustParse("2012-03-05T12")
	for i, w := range want {
		assert.Equal(t, w, monday.AddDays(i).Weekday2Letter())
	}
}

func TestJSON(t *testing.T) {
	type wrapper struct {
		Bucket ID `json:"bucket"`
	}
	data, err := json.Marshal(wrapper{Bucket: MustParse("2012-05-05T12")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"bucket":"2012-05-05T12"}`, string(data))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"bucket":"2012-05-05T13:10:00Z"}`), &w))
	assert.Equal(t, "2012-05-05T13", w.Bucket.String())

	require.Error(t, json.Unmarshal([]byte(`{"bucket":"nope"}`), &w))
}

func TestSQLScanAndValue(t *testing.T) {
	var id ID
	require.NoError(t, id.Scan([]byte("2012-03-01T05")))
	assert.Equal(t, Date(2012, 3, 1, 5), id)

	require.NoError(t, id.Scan("2012-03-02T06"))
	assert.Equal(t, Date(2012, 3, 2, 6), id)

	v, err := id.Value()
	require.NoError(t, err)
	assert.Equal(t, "2012-03-02T06", v)

	require.NoError(t, id.Scan(nil))
	assert.True(t, id.IsZero())

	assert.ErrorIs(t, id.Scan(42), ErrInvalid)
	_, err = ID{}.Value()
	assert.ErrorIs(t, err, ErrInvalid)
}
