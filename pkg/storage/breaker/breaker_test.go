package breaker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/demandcast/pkg/bucket"
	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/storage"
	"github.com/nicktill/demandcast/pkg/storage/memory"
	"github.com/nicktill/demandcast/pkg/storage/storagetest"
)

func TestBreaker_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return New(memory.New(), DefaultConfig("test"), zerolog.Nop())
	})
}

// flaky fails History while down is set and counts the calls that reach it.
type flaky struct {
	*memory.Storage
	down  atomic.Bool
	calls atomic.Int32
}

var errDown = errors.New("connection refused")

func (f *flaky) History(ctx context.Context, order storage.Order) ([]demand.HistoryRecord, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return nil, errDown
	}
	return f.Storage.History(ctx, order)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flaky{Storage: memory.New()}
	inner.down.Store(true)

	cfg := DefaultConfig("test")
	cfg.FailureThreshold = 3
	cfg.Timeout = 50 * time.Millisecond
	s := New(inner, cfg, zerolog.Nop())
	ctx := t.Context()

	for i := 0; i < 3; i++ {
		_, err := s.History(ctx, storage.Ascending)
		require.ErrorIs(t, err, errDown)
	}
	assert.Equal(t, "open", s.State())

	_, err := s.History(ctx, storage.Ascending)
	require.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Equal(t, int32(3), inner.calls.Load(), "open breaker must not reach the store")

	inner.down.Store(false)
	require.Eventually(t, func() bool {
		_, err := s.History(ctx, storage.Ascending)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	// Half-open until MaxRequests calls in a row succeed
	for i := 1; i < int(cfg.MaxRequests); i++ {
		_, err := s.History(ctx, storage.Ascending)
		require.NoError(t, err)
	}
	assert.Equal(t, "closed", s.State())
}

func TestBreaker_NotFoundIsNotAFailure(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.FailureThreshold = 1
	s := New(memory.New(), cfg, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := s.HistoryRecord(t.Context(), bucket.MustParse("2012-03-01T00"))
		require.ErrorIs(t, err, storage.ErrNotFound)
	}
	assert.Equal(t, "closed", s.State())
}
