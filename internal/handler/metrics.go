package handler

import (
	"fmt"
	"net/http"

	"github.com/parlor/parlor/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "parlor_profile_requests_total{status=\"success\"} %d\n", snap.ProfileRequests)
	writeMetric(w, "parlor_profile_requests_total{status=\"error\"} %d\n", snap.ProfileErrors)
	writeMetric(w, "parlor_profile_duration_seconds_count %d\n", snap.ProfileDurationCount)
	writeMetric(w, "parlor_profile_duration_seconds_sum %.6f\n", float64(snap.ProfileDurationTotalNs)/1e9)

	writeMetric(w, "parlor_mcp_refresh_total{status=\"success\"} %d\n", snap.MCPRefreshes)
	writeMetric(w, "parlor_mcp_refresh_total{status=\"error\"} %d\n", snap.MCPRefreshErrors)
	writeMetric(w, "parlor_mcp_refresh_total{status=\"not_configured\"} %d\n", snap.MCPRefreshNotConfigured)
	writeMetric(w, "parlor_mcp_refresh_total{status=\"in_progress\"} %d\n", snap.MCPRefreshRejected)
	writeMetric(w, "parlor_mcp_refresh_duration_seconds_count %d\n", snap.MCPRefreshDurationCount)
	writeMetric(w, "parlor_mcp_refresh_duration_seconds_sum %.6f\n", float64(snap.MCPRefreshDurationTotalNs)/1e9)

	writeMetric(w, "parlor_mcp_servers %d\n", snap.MCPServers)
	writeMetric(w, "parlor_published_tools %d\n", snap.PublishedTools)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
