package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parlor/parlor/internal/config"
	"github.com/parlor/parlor/internal/mcp"
	"github.com/parlor/parlor/internal/metrics"
	"github.com/parlor/parlor/internal/tools"
)

// MCP refresh errors.
var (
	ErrMCPNotConfigured  = errors.New("MCP servers not configured")
	ErrRefreshInProgress = errors.New("MCP refresh already in progress")
	ErrRefreshQueued     = errors.New("MCP refresh queued behind the one in progress")
)

// CustomConfigLoader reads the current custom configuration.
type CustomConfigLoader interface {
	Load() (*config.CustomConfig, error)
}

// ToolManager is the lifecycle of a set of MCP server connections.
type ToolManager interface {
	Initialize(ctx context.Context, servers map[string]mcp.ServerConfig, process mcp.EnvProcessor) error
	MapAvailableTools(ctx context.Context, set tools.Set) error
	Destroy(ctx context.Context) error
	Servers() []string
}

// ManagerFactory builds a fresh, uninitialized manager.
type ManagerFactory func() ToolManager

// ToolLoader loads local tool definitions.
type ToolLoader func(opts tools.LoadOptions) (tools.Set, error)

// ToolSettings are the process-wide tool loading options.
type ToolSettings struct {
	AdminFilter   []string
	AdminIncluded []string
	Directory     string
}

// MCPServiceConfig wires the refresh collaborators.
type MCPServiceConfig struct {
	Loader      CustomConfigLoader
	NewManager  ManagerFactory
	ProcessEnv  mcp.EnvProcessor
	LoadTools   ToolLoader
	Registry    *tools.Registry
	Tools       ToolSettings
	InitTimeout time.Duration
	Logger      *slog.Logger
	Metrics     metrics.Recorder
}

// MCPService owns the active tool manager and serializes refreshes.
type MCPService struct {
	cfg    MCPServiceConfig
	logger *slog.Logger

	// refreshMu admits one refresh at a time; latecomers are rejected or,
	// through RequestRefresh, queued.
	refreshMu sync.Mutex
	pending   atomic.Bool
	closed    atomic.Bool

	mu      sync.RWMutex
	manager ToolManager
}

// NewMCPService creates an MCPService with no active manager.
func NewMCPService(cfg MCPServiceConfig) *MCPService {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.ProcessEnv == nil {
		cfg.ProcessEnv = mcp.ProcessEnv
	}
	if cfg.LoadTools == nil {
		cfg.LoadTools = tools.Load
	}
	if cfg.Registry == nil {
		cfg.Registry = tools.NewRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPService{
		cfg:    cfg,
		logger: logger.With("component", "mcp_service"),
	}
}

// Refresh rebuilds the MCP manager and republishes the tool set. Steps run in
// order and the first failure aborts the rest. A missing server declaration
// returns ErrMCPNotConfigured before anything is touched; a refresh already
// running returns ErrRefreshInProgress.
func (s *MCPService) Refresh(ctx context.Context) error {
	if !s.refreshMu.TryLock() {
		s.cfg.Metrics.IncMCPRefresh(metrics.StatusInProgress)
		return ErrRefreshInProgress
	}
	err := s.runLocked(ctx)
	s.refreshMu.Unlock()

	s.startPending(ctx)
	return err
}

// RequestRefresh is Refresh for callers that must not lose an update, such as
// the config watcher. When a refresh is already running it records one
// pending run, which starts once the current one finishes, and returns
// ErrRefreshQueued. Further requests while one is pending collapse into it.
func (s *MCPService) RequestRefresh(ctx context.Context) error {
	if s.refreshMu.TryLock() {
		s.pending.Store(false)
		err := s.runLocked(ctx)
		s.refreshMu.Unlock()
		s.startPending(ctx)
		return err
	}

	s.pending.Store(true)
	// The holder may have released the gate before seeing the flag.
	if s.refreshMu.TryLock() {
		s.pending.Store(false)
		err := s.runLocked(ctx)
		s.refreshMu.Unlock()
		s.startPending(ctx)
		return err
	}
	return ErrRefreshQueued
}

// startPending runs a queued refresh in the background, detached from the
// caller that finished the previous one.
func (s *MCPService) startPending(ctx context.Context) {
	if !s.pending.Load() || s.closed.Load() {
		return
	}
	go func() {
		ctx := context.WithoutCancel(ctx)
		for s.pending.Load() && !s.closed.Load() && s.refreshMu.TryLock() {
			s.pending.Store(false)
			err := s.runLocked(ctx)
			s.refreshMu.Unlock()
			if err != nil && !errors.Is(err, ErrMCPNotConfigured) {
				s.logger.Error("queued mcp refresh failed", "error", err)
			}
		}
	}()
}

// runLocked performs one refresh; refreshMu must be held.
func (s *MCPService) runLocked(ctx context.Context) error {
	start := time.Now()
	err := s.refresh(ctx)
	s.cfg.Metrics.ObserveMCPRefreshDuration(time.Since(start))

	switch {
	case err == nil:
		s.cfg.Metrics.IncMCPRefresh(metrics.StatusSuccess)
	case errors.Is(err, ErrMCPNotConfigured):
		s.cfg.Metrics.IncMCPRefresh(metrics.StatusNotConfigured)
	default:
		s.cfg.Metrics.IncMCPRefresh(metrics.StatusError)
	}
	return err
}

func (s *MCPService) refresh(ctx context.Context) error {
	custom, err := s.cfg.Loader.Load()
	if err != nil {
		return fmt.Errorf("load custom config: %w", err)
	}
	if !custom.HasMCPServers() {
		return ErrMCPNotConfigured
	}

	s.mu.Lock()
	old := s.manager
	s.manager = nil
	s.mu.Unlock()
	if old != nil {
		if err := old.Destroy(ctx); err != nil {
			return fmt.Errorf("destroy mcp manager: %w", err)
		}
	}
	s.cfg.Metrics.SetMCPServers(0)

	manager := s.cfg.NewManager()
	set, err := s.prepare(ctx, manager, custom.MCPServers)
	if err != nil {
		// Not installed, so nothing else will close its connections.
		if derr := manager.Destroy(context.WithoutCancel(ctx)); derr != nil {
			s.logger.Warn("destroy unused mcp manager", "error", derr)
		}
		if old != nil {
			s.withdrawMCPTools()
		}
		return err
	}

	// The manager goes live together with the tools it mapped.
	s.mu.Lock()
	s.manager = manager
	s.mu.Unlock()
	s.cfg.Registry.Publish(set)
	s.cfg.Metrics.SetMCPServers(len(manager.Servers()))
	s.cfg.Metrics.SetPublishedTools(len(set))

	s.logger.Info("mcp reinitialized",
		"servers", manager.Servers(),
		"tools", len(set),
	)
	return nil
}

// withdrawMCPTools republishes the current set without the tools of a
// destroyed manager, keeping locally defined tools.
func (s *MCPService) withdrawMCPTools() {
	current := s.cfg.Registry.Snapshot()
	kept := make(tools.Set, len(current))
	for name, def := range current {
		if def.Source != tools.SourceMCP {
			kept[name] = def
		}
	}
	if len(kept) == len(current) {
		return
	}
	s.cfg.Registry.Publish(kept)
	s.cfg.Metrics.SetPublishedTools(len(kept))
}

// prepare initializes manager and builds the tool set it serves.
func (s *MCPService) prepare(ctx context.Context, manager ToolManager, servers map[string]mcp.ServerConfig) (tools.Set, error) {
	initCtx := ctx
	if s.cfg.InitTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, s.cfg.InitTimeout)
		defer cancel()
	}
	if err := manager.Initialize(initCtx, servers, s.cfg.ProcessEnv); err != nil {
		return nil, fmt.Errorf("initialize mcp manager: %w", err)
	}

	set, err := s.cfg.LoadTools(tools.LoadOptions{
		AdminFilter:   s.cfg.Tools.AdminFilter,
		AdminIncluded: s.cfg.Tools.AdminIncluded,
		Directory:     s.cfg.Tools.Directory,
	})
	if err != nil {
		return nil, fmt.Errorf("load tools: %w", err)
	}

	if err := manager.MapAvailableTools(ctx, set); err != nil {
		return nil, fmt.Errorf("map mcp tools: %w", err)
	}
	return set, nil
}

// Tools returns the published tool set.
func (s *MCPService) Tools() tools.Set {
	return s.cfg.Registry.Snapshot()
}

// Registry returns the registry refreshes publish into.
func (s *MCPService) Registry() *tools.Registry {
	return s.cfg.Registry
}

// Servers lists the servers connected by the active manager.
func (s *MCPService) Servers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.manager == nil {
		return nil
	}
	return s.manager.Servers()
}

// Close destroys the active manager. It waits for an in-flight refresh.
func (s *MCPService) Close(ctx context.Context) error {
	s.closed.Store(true)
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.Lock()
	manager := s.manager
	s.manager = nil
	s.mu.Unlock()

	if manager == nil {
		return nil
	}
	return manager.Destroy(ctx)
}
