package demand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/demandcast/pkg/bucket"
)

func TestBuildModel_ConstantHistory(t *testing.T) {
	history := constantHistory(bucket.Date(2012, 3, 1, 0), 14, 10)

	model, err := BuildModel(history, nil)
	require.NoError(t, err)

	assert.Equal(t, bucket.Date(2012, 3, 15, 0), model.First)
	require.Len(t, model.Base, bucket.HoursPerWeek)
	for i := range model.Base {
		assert.InDelta(t, 10.0, model.Base[i], 1e-9)
		assert.Zero(t, model.Smoothed[i])
	}

	days := model.Extrapolate(bucket.Date(2012, 3, 15, 0), 1, nil)
	require.Len(t, days, 1)
	require.Len(t, days[0], 24)
	for h, p := range days[0] {
		assert.Equal(t, bucket.Date(2012, 3, 15, h), p.Bucket)
		assert.InDelta(t, 10.0, p.Count, 1e-9)
	}
}

func TestBuildModel_EmptyHistory(t *testing.T) {
	_, err := BuildModel(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyHistory)
}

func testModel(base, slope float64) *Model {
	m := &Model{
		First:    bucket.Date(2012, 3, 15, 0),
		Base:     make([]float64, bucket.HoursPerWeek),
		Smoothed: make([]float64, bucket.HoursPerWeek),
	}
	for i := range m.Base {
		m.Base[i] = base + float64(i)
		m.Smoothed[i] = slope
	}
	return m
}

func TestExtrapolate_MultiplierScoping(t *testing.T) {
	m := testModel(10, 0)
	target := bucket.Date(2012, 3, 16, 5)

	days := m.Extrapolate(bucket.Date(2012, 3, 16, 0), 1, map[bucket.ID]float64{target: 2})
	require.Len(t, days, 1)

	for _, p := range days[0] {
		offset := bucket.HourDelta(m.First, p.Bucket)
		want := 10 + float64(offset)
		if p.Bucket == target {
			want *= 2
		}
		assert.Equal(t, want, p.Count, p.Bucket.String())
	}
}

func TestExtrapolate_WeeksAndOffset(t *testing.T) {
	m := testModel(0, 1)

	// 9 days after First: one whole week projected, offset wraps past 168.
	days := m.Extrapolate(bucket.Date(2012, 3, 24, 0), 6, nil)
	require.Len(t, days, 6)

	first := days[0][0]
	assert.Equal(t, bucket.Date(2012, 3, 24, 0), first.Bucket)
	assert.Equal(t, float64(2*24)+1, first.Count)

	// Day index 5 is 14 days after First: two weeks, offset back to 0.
	last := days[5][0]
	assert.Equal(t, bucket.Date(2012, 3, 29, 0), last.Bucket)
	assert.Equal(t, 2.0, last.Count)
}

func TestExtrapolate_ClampsAtZero(t *testing.T) {
	m := testModel(1, -5)

	// Four weeks out, offset 0: 1 - 4*5 < 0.
	days := m.Extrapolate(bucket.Date(2012, 4, 12, 0), 1, nil)
	for _, p := range days[0] {
		assert.GreaterOrEqual(t, p.Count, 0.0)
	}
	assert.Zero(t, days[0][0].Count)
}

func TestExtrapolate_StartIsTruncatedToDay(t *testing.T) {
	m := testModel(0, 0)
	days := m.Extrapolate(bucket.Date(2012, 3, 15, 13), 1, nil)
	assert.Equal(t, bucket.Date(2012, 3, 15, 0), days[0][0].Bucket)
	assert.Nil(t, m.Extrapolate(bucket.Date(2012, 3, 15, 0), 0, nil))
}

func TestMultipliers_LastWins(t *testing.T) {
	id := bucket.MustParse("2012-05-05T20")
	got := Multipliers([]PredictedMultiplier{
		{Bucket: id, Multiplier: 1.5},
		{Bucket: id, Multiplier: 1.4},
	})
	assert.Equal(t, map[bucket.ID]float64{id: 1.4}, got)
}
