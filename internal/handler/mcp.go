package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/parlor/parlor/internal/middleware"
	"github.com/parlor/parlor/internal/service"
	"github.com/parlor/parlor/internal/tools"
)

// MCPRefresher rebuilds the MCP tool manager.
type MCPRefresher interface {
	Refresh(ctx context.Context) error
}

// ToolCatalog exposes the published tool set.
type ToolCatalog interface {
	Snapshot() tools.Set
	Version() int64
	UpdatedAt() time.Time
}

// MCPHandler serves the MCP administration endpoints.
type MCPHandler struct {
	refresher MCPRefresher
	catalog   ToolCatalog
	logger    *slog.Logger
}

// NewMCPHandler creates a new MCPHandler.
func NewMCPHandler(refresher MCPRefresher, catalog ToolCatalog, logger *slog.Logger) *MCPHandler {
	return &MCPHandler{
		refresher: refresher,
		catalog:   catalog,
		logger:    logger,
	}
}

// Refresh handles POST /api/mcp/refresh.
func (h *MCPHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	// A client hanging up must not abort a teardown halfway through.
	err := h.refresher.Refresh(context.WithoutCancel(r.Context()))

	switch {
	case err == nil:
		writeMessage(w, http.StatusOK, "MCP reinitialized")
	case errors.Is(err, service.ErrMCPNotConfigured):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrRefreshInProgress):
		writeMessage(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("mcp refresh failed",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		writeMessage(w, http.StatusInternalServerError, err.Error())
	}
}

// ToolResponse is one published tool.
type ToolResponse struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source"`
	Server      string `json:"server,omitempty"`
}

// ToolListResponse is the published tool set.
type ToolListResponse struct {
	Version   int64          `json:"version"`
	UpdatedAt *time.Time     `json:"updatedAt"`
	Tools     []ToolResponse `json:"tools"`
}

// Tools handles GET /api/mcp/tools.
func (h *MCPHandler) Tools(w http.ResponseWriter, r *http.Request) {
	set := h.catalog.Snapshot()

	resp := ToolListResponse{
		Version: h.catalog.Version(),
		Tools:   make([]ToolResponse, 0, len(set)),
	}
	if at := h.catalog.UpdatedAt(); !at.IsZero() {
		resp.UpdatedAt = &at
	}
	for key, def := range set {
		resp.Tools = append(resp.Tools, ToolResponse{
			Name:        key,
			Description: def.Description,
			Source:      def.Source,
			Server:      def.Server,
		})
	}
	sort.Slice(resp.Tools, func(i, j int) bool { return resp.Tools[i].Name < resp.Tools[j].Name })

	writeJSON(w, http.StatusOK, resp)
}
