package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/demandcast/pkg/bucket"
	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/storage"
	"github.com/nicktill/demandcast/pkg/storage/memory"
)

func TestBin(t *testing.T) {
	counts, errs := Bin([]string{
		"2012-03-01T00:05:55+00:00",
		"2012-03-01T00:59:59+00:00",
		"2012-03-01T01:00:00+00:00",
		"yesterday",
		" 2012-03-01T01:30:00+00:00 ",
	})

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], bucket.ErrInvalid)
	assert.Contains(t, errs[0].Error(), "timestamps[3]")

	assert.Equal(t, map[bucket.ID]int{
		bucket.MustParse("2012-03-01T00"): 2,
		bucket.MustParse("2012-03-01T01"): 2,
	}, counts)
}

func TestIngest_InsertThenUpdate(t *testing.T) {
	store := memory.New()
	ctx := t.Context()

	res, err := Ingest(ctx, store, []string{
		"2012-03-01T05:10:00+00:00",
		"2012-03-01T02:10:00+00:00",
		"2012-03-01T02:40:00+00:00",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 0, res.Updated)
	require.Len(t, res.Buckets, 2)
	assert.Equal(t, "2012-03-01T02", res.Buckets[0].String())
	assert.Equal(t, "2012-03-01T05", res.Buckets[1].String())

	res, err = Ingest(ctx, store, []string{"2012-03-01T02:59:00+00:00", "2012-03-01T03:00:00+00:00", "garbage"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Skipped)

	rec, err := store.HistoryRecord(ctx, bucket.MustParse("2012-03-01T02"))
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Count)
}

func TestIngest_NoValidTimestamps(t *testing.T) {
	store := memory.New()

	res, err := Ingest(t.Context(), store, []string{"nope", "2012-13-01T00:00:00"})
	require.ErrorIs(t, err, ErrNoValidTimestamps)
	assert.ErrorIs(t, err, demand.ErrInvalidParameter)
	assert.Equal(t, 2, res.Skipped)

	_, err = Ingest(t.Context(), store, nil)
	assert.ErrorIs(t, err, ErrNoValidTimestamps)

	history, err := store.History(t.Context(), storage.Ascending)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logins.json")
	require.NoError(t, os.WriteFile(path, []byte(`["2012-03-01T00:05:55+00:00","2012-03-01T00:06:23+00:00","2012-03-01T01:00:00+00:00"]`), 0o644))

	store := memory.New()
	res, err := LoadFile(t.Context(), store, filepath.Join(dir, "logins"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	rec, err := store.HistoryRecord(t.Context(), bucket.MustParse("2012-03-01T00"))
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Count)
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.json"), []byte(`[]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "object.json"), []byte(`{"a":1}`), 0o644))

	tests := []struct {
		name string
		file string
		want string
	}{
		{"missing", "absent", "could not find"},
		{"empty", "empty.json", "nothing in"},
		{"not a list", "object.json", "not a JSON list"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(t.Context(), memory.New(), filepath.Join(dir, tt.file))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateBatch(t *testing.T) {
	assert.NoError(t, ValidateBatch(10, 10))
	assert.NoError(t, ValidateBatch(10, 0))
	assert.ErrorIs(t, ValidateBatch(11, 10), ErrTooManyTimestamps)
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, NewLimiter(0, 10))

	l := NewLimiter(1, 0)
	require.NotNil(t, l)
	assert.Equal(t, 1, l.Burst())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}
