package monitor

import (
	"errors"
	"testing"
	"time"
)

func TestRunMonitor_RecordSuccess(t *testing.T) {
	m := NewRunMonitor(time.Hour)
	m.RecordFailure(errors.New("store offline"))
	m.RecordSuccess("run-1")

	status := m.Status()
	if !status.Healthy {
		t.Error("Status should be healthy after success")
	}
	if status.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", status.ConsecutiveErrors)
	}
	if status.LastError != "" {
		t.Errorf("LastError = %q, want empty", status.LastError)
	}
	if status.LastRunID != "run-1" {
		t.Errorf("LastRunID = %q, want run-1", status.LastRunID)
	}
}

func TestRunMonitor_RecordFailure(t *testing.T) {
	m := NewRunMonitor(0)
	m.RecordFailure(errors.New("store offline"))

	status := m.Status()
	if status.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", status.ConsecutiveErrors)
	}
	if status.LastError != "store offline" {
		t.Errorf("LastError = %q, want %q", status.LastError, "store offline")
	}
}

func TestRunMonitor_RecordSkipped(t *testing.T) {
	m := NewRunMonitor(time.Hour)
	m.RecordSkipped("no login history")

	status := m.Status()
	if !status.Healthy {
		t.Error("A skipped run should not make the monitor unhealthy")
	}
	if status.Skipped != "no login history" {
		t.Errorf("Skipped = %q", status.Skipped)
	}
	if status.LastAttempt == "" || status.LastSuccess != "" {
		t.Errorf("Unexpected times: attempt %q success %q", status.LastAttempt, status.LastSuccess)
	}
}

func TestRunMonitor_IsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		maxAge   time.Duration
		setup    func(*RunMonitor)
		expected bool
	}{
		{
			name:     "never ran",
			maxAge:   time.Hour,
			setup:    func(*RunMonitor) {},
			expected: true,
		},
		{
			name:   "recent success",
			maxAge: time.Hour,
			setup: func(m *RunMonitor) {
				m.RecordSuccess("a")
			},
			expected: true,
		},
		{
			name:   "stale success",
			maxAge: time.Hour,
			setup: func(m *RunMonitor) {
				m.mu.Lock()
				m.lastSuccess = time.Now().Add(-2 * time.Hour)
				m.mu.Unlock()
			},
			expected: false,
		},
		{
			name:   "stale success without age check",
			maxAge: 0,
			setup: func(m *RunMonitor) {
				m.mu.Lock()
				m.lastSuccess = time.Now().Add(-48 * time.Hour)
				m.mu.Unlock()
			},
			expected: true,
		},
		{
			name:   "too many consecutive errors",
			maxAge: time.Hour,
			setup: func(m *RunMonitor) {
				m.RecordSuccess("a")
				for i := 0; i < 4; i++ {
					m.RecordFailure(errors.New("boom"))
				}
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewRunMonitor(tt.maxAge)
			tt.setup(m)
			if got := m.IsHealthy(); got != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.expected)
			}
			if got := m.Status().Healthy; got != tt.expected {
				t.Errorf("Status().Healthy = %v, want %v", got, tt.expected)
			}
		})
	}
}
