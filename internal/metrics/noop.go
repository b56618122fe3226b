package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncProfileRequest is a no-op.
func (n *NoopRecorder) IncProfileRequest(status string) {}

// ObserveProfileDuration is a no-op.
func (n *NoopRecorder) ObserveProfileDuration(duration time.Duration) {}

// IncMCPRefresh is a no-op.
func (n *NoopRecorder) IncMCPRefresh(status string) {}

// ObserveMCPRefreshDuration is a no-op.
func (n *NoopRecorder) ObserveMCPRefreshDuration(duration time.Duration) {}

// SetMCPServers is a no-op.
func (n *NoopRecorder) SetMCPServers(count int) {}

// SetPublishedTools is a no-op.
func (n *NoopRecorder) SetPublishedTools(count int) {}
