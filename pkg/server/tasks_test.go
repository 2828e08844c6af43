package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"

	"github.com/nicktill/demandcast/pkg/bucket"
	"github.com/nicktill/demandcast/pkg/config"
	"github.com/nicktill/demandcast/pkg/forecast"
	"github.com/nicktill/demandcast/pkg/server/monitor"
	"github.com/nicktill/demandcast/pkg/storage/memory"
)

func TestRefreshService_Disabled(t *testing.T) {
	s := NewRefreshService(forecast.New(memory.New(), zerolog.Nop()), monitor.NewRunMonitor(0), 0, 2, zerolog.Nop())
	assert.ErrorIs(t, s.Serve(t.Context()), suture.ErrDoNotRestart)
}

func TestRefreshService_SkipsEmptyHistory(t *testing.T) {
	m := monitor.NewRunMonitor(0)
	s := NewRefreshService(forecast.New(memory.New(), zerolog.Nop()), m, time.Hour, 2, zerolog.Nop())

	s.runWithRetry(t.Context())

	status := m.Status()
	assert.True(t, status.Healthy)
	assert.NotEmpty(t, status.Skipped)
	assert.Zero(t, status.ConsecutiveErrors)
	assert.Empty(t, status.LastSuccess)
}

func TestRefreshService_RecordsRun(t *testing.T) {
	store := memory.New()
	counts := make(map[bucket.ID]int)
	start := bucket.MustParse("2012-03-01T00")
	for h := 0; h < 8*24; h++ {
		counts[start.AddHours(h)] = 10
	}
	_, err := store.AddCounts(t.Context(), counts)
	require.NoError(t, err)

	p := forecast.New(store, zerolog.Nop())
	var published atomic.Int32
	p.SetOnRun(func(forecast.Run) { published.Add(1) })

	m := monitor.NewRunMonitor(time.Hour)
	s := NewRefreshService(p, m, time.Hour, 2, zerolog.Nop())
	s.runWithRetry(t.Context())

	status := m.Status()
	require.NotEmpty(t, status.LastSuccess)
	run, ok := p.LastRun()
	require.True(t, ok)
	assert.Equal(t, run.ID, status.LastRunID)
	assert.Equal(t, int32(1), published.Load())

	preds, err := store.Predictions(t.Context())
	require.NoError(t, err)
	assert.Len(t, preds, 48)
}

func TestRefreshService_ServeStopsOnCancel(t *testing.T) {
	s := NewRefreshService(forecast.New(memory.New(), zerolog.Nop()), monitor.NewRunMonitor(0), time.Hour, 2, zerolog.Nop())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

type fakeHTTPServer struct {
	stop     chan struct{}
	listen   error
	shutdown atomic.Bool
}

func (f *fakeHTTPServer) ListenAndServe() error {
	if f.listen != nil {
		return f.listen
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(ctx context.Context) error {
	f.shutdown.Store(true)
	close(f.stop)
	return nil
}

func TestHTTPService_ShutsDownOnCancel(t *testing.T) {
	srv := &fakeHTTPServer{stop: make(chan struct{})}
	svc := NewHTTPService(srv, time.Second)
	assert.Equal(t, "http-server", svc.String())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.True(t, srv.shutdown.Load())
}

func TestHTTPService_ListenError(t *testing.T) {
	srv := &fakeHTTPServer{stop: make(chan struct{}), listen: errors.New("address already in use")}
	err := NewHTTPService(srv, 0).Serve(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address already in use")
	assert.False(t, srv.shutdown.Load())
}

func TestSupervisor_RunsServices(t *testing.T) {
	app, _ := newTestApp(t, func(c *config.Config) { c.Forecast.RefreshInterval = 0 })

	sup := NewSupervisor(DefaultSupervisorConfig(), zerolog.Nop())
	for _, s := range app.Services() {
		sup.Add(s)
	}

	ctx, cancel := context.WithCancel(t.Context())
	errCh := sup.ServeBackground(ctx)

	app.Hub.Publish("history_updated", map[string]int{"insert": 1})

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}
