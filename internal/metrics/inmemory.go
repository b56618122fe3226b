package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	ProfileRequests           uint64
	ProfileErrors             uint64
	ProfileDurationCount      uint64
	ProfileDurationTotalNs    int64
	MCPRefreshes              uint64
	MCPRefreshErrors          uint64
	MCPRefreshNotConfigured   uint64
	MCPRefreshRejected        uint64
	MCPRefreshDurationCount   uint64
	MCPRefreshDurationTotalNs int64
	MCPServers                int64
	PublishedTools            int64
}

// InMemoryRecorder stores metrics in memory.
type InMemoryRecorder struct {
	profileRequests           atomic.Uint64
	profileErrors             atomic.Uint64
	profileDurationCount      atomic.Uint64
	profileDurationTotalNs    atomic.Int64
	mcpRefreshes              atomic.Uint64
	mcpRefreshErrors          atomic.Uint64
	mcpRefreshNotConfigured   atomic.Uint64
	mcpRefreshRejected        atomic.Uint64
	mcpRefreshDurationCount   atomic.Uint64
	mcpRefreshDurationTotalNs atomic.Int64
	mcpServers                atomic.Int64
	publishedTools            atomic.Int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		ProfileRequests:           m.profileRequests.Load(),
		ProfileErrors:             m.profileErrors.Load(),
		ProfileDurationCount:      m.profileDurationCount.Load(),
		ProfileDurationTotalNs:    m.profileDurationTotalNs.Load(),
		MCPRefreshes:              m.mcpRefreshes.Load(),
		MCPRefreshErrors:          m.mcpRefreshErrors.Load(),
		MCPRefreshNotConfigured:   m.mcpRefreshNotConfigured.Load(),
		MCPRefreshRejected:        m.mcpRefreshRejected.Load(),
		MCPRefreshDurationCount:   m.mcpRefreshDurationCount.Load(),
		MCPRefreshDurationTotalNs: m.mcpRefreshDurationTotalNs.Load(),
		MCPServers:                m.mcpServers.Load(),
		PublishedTools:            m.publishedTools.Load(),
	}
}

// IncProfileRequest counts profile reports by outcome.
func (m *InMemoryRecorder) IncProfileRequest(status string) {
	if status == StatusSuccess {
		m.profileRequests.Add(1)
		return
	}
	m.profileErrors.Add(1)
}

// ObserveProfileDuration records profile report latency.
func (m *InMemoryRecorder) ObserveProfileDuration(duration time.Duration) {
	m.profileDurationCount.Add(1)
	m.profileDurationTotalNs.Add(duration.Nanoseconds())
}

// IncMCPRefresh counts refresh attempts by outcome.
func (m *InMemoryRecorder) IncMCPRefresh(status string) {
	switch status {
	case StatusSuccess:
		m.mcpRefreshes.Add(1)
	case StatusNotConfigured:
		m.mcpRefreshNotConfigured.Add(1)
	case StatusInProgress:
		m.mcpRefreshRejected.Add(1)
	default:
		m.mcpRefreshErrors.Add(1)
	}
}

// ObserveMCPRefreshDuration records refresh latency.
func (m *InMemoryRecorder) ObserveMCPRefreshDuration(duration time.Duration) {
	m.mcpRefreshDurationCount.Add(1)
	m.mcpRefreshDurationTotalNs.Add(duration.Nanoseconds())
}

// SetMCPServers sets the connected server gauge.
func (m *InMemoryRecorder) SetMCPServers(n int) {
	m.mcpServers.Store(int64(n))
}

// SetPublishedTools sets the published tool gauge.
func (m *InMemoryRecorder) SetPublishedTools(n int) {
	m.publishedTools.Store(int64(n))
}
