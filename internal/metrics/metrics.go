// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Outcome labels.
const (
	StatusSuccess       = "success"
	StatusError         = "error"
	StatusNotConfigured = "not_configured"
	StatusInProgress    = "in_progress"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Profile report metrics
	IncProfileRequest(status string) // status: "success" or "error"
	ObserveProfileDuration(duration time.Duration)

	// MCP refresh metrics
	IncMCPRefresh(status string) // status: "success", "error", "not_configured", "in_progress"
	ObserveMCPRefreshDuration(duration time.Duration)
	SetMCPServers(n int)
	SetPublishedTools(n int)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
