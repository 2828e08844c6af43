package monitor

import (
	"sync"
	"time"
)

// maxConsecutiveErrors is the number of failed refreshes tolerated before
// the service reports itself degraded.
const maxConsecutiveErrors = 3

// RunMonitor tracks the health of the scheduled forecast refresh.
type RunMonitor struct {
	mu                sync.RWMutex
	maxAge            time.Duration
	lastSuccess       time.Time
	lastAttempt       time.Time
	lastRunID         string
	consecutiveErrors int
	lastError         string
	skipped           string
}

// NewRunMonitor creates a monitor. A success older than maxAge makes the
// monitor unhealthy; 0 disables the age check.
func NewRunMonitor(maxAge time.Duration) *RunMonitor {
	return &RunMonitor{maxAge: maxAge}
}

// RecordSuccess records a successful forecast run.
func (m *RunMonitor) RecordSuccess(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.lastSuccess = now
	m.lastAttempt = now
	m.lastRunID = runID
	m.consecutiveErrors = 0
	m.lastError = ""
	m.skipped = ""
}

// RecordSkipped records a run that could not start for lack of data. It
// neither counts as a failure nor refreshes the success time.
func (m *RunMonitor) RecordSkipped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttempt = time.Now()
	m.skipped = reason
}

// RecordFailure records a failed forecast run.
func (m *RunMonitor) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttempt = time.Now()
	m.consecutiveErrors++
	if err != nil {
		m.lastError = err.Error()
	}
}

// IsHealthy returns true unless the refresh keeps failing or its last
// success is older than maxAge.
func (m *RunMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthyLocked()
}

func (m *RunMonitor) healthyLocked() bool {
	if m.consecutiveErrors > maxConsecutiveErrors {
		return false
	}
	if m.maxAge > 0 && !m.lastSuccess.IsZero() && time.Since(m.lastSuccess) > m.maxAge {
		return false
	}
	return true
}

// RunStatus is the refresh section of the health response.
type RunStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	LastRunID         string `json:"last_run_id,omitempty"`
	Skipped           string `json:"skipped,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current refresh status for health checks.
func (m *RunMonitor) Status() RunStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := RunStatus{
		Healthy:   m.healthyLocked(),
		LastRunID: m.lastRunID,
		Skipped:   m.skipped,
	}

	if !m.lastSuccess.IsZero() {
		status.LastSuccess = m.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(m.lastSuccess).Round(time.Second).String()
	}
	if !m.lastAttempt.IsZero() {
		status.LastAttempt = m.lastAttempt.Format(time.RFC3339)
	}
	if m.consecutiveErrors > 0 {
		status.ConsecutiveErrors = m.consecutiveErrors
		status.LastError = m.lastError
	}

	return status
}
