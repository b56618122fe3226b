package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/parlor/parlor/internal/tools"
)

// ErrNoServers is returned when Initialize is called with nothing to connect.
var ErrNoServers = errors.New("no mcp servers declared")

const maxConcurrentConnects = 4

// ConnectFunc dials a single server. It is swapped in tests.
type ConnectFunc func(ctx context.Context, name string, cfg ServerConfig) (*Connection, error)

// Manager owns the connections to every configured tool server.
type Manager struct {
	logger  *slog.Logger
	connect ConnectFunc

	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewManager creates a manager that dials servers with the given HTTP client.
func NewManager(logger *slog.Logger, httpClient *http.Client) *Manager {
	return NewManagerWithConnect(logger, func(ctx context.Context, name string, cfg ServerConfig) (*Connection, error) {
		return Connect(ctx, name, cfg, httpClient)
	})
}

// NewManagerWithConnect creates a manager with a custom dialer.
func NewManagerWithConnect(logger *slog.Logger, connect ConnectFunc) *Manager {
	return &Manager{
		logger:  logger.With("component", "mcp_manager"),
		connect: connect,
		conns:   make(map[string]*Connection),
	}
}

// Initialize connects to every server concurrently. Servers that fail are
// logged and skipped; an error is returned only when none connect.
func (m *Manager) Initialize(ctx context.Context, servers map[string]ServerConfig, process EnvProcessor) error {
	if len(servers) == 0 {
		return ErrNoServers
	}
	if process == nil {
		process = ProcessEnv
	}

	var (
		mu     sync.Mutex
		conns  = make(map[string]*Connection, len(servers))
		failed []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentConnects)
	for name, cfg := range servers {
		name, cfg := name, process(cfg)
		g.Go(func() error {
			cctx := gctx
			if cfg.Timeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(gctx, cfg.Timeout)
				defer cancel()
			}

			conn, err := connectWithRetry(cctx, m.connect, name, cfg, m.logger)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.logger.Warn("mcp server connect failed",
					"server", name,
					"transport", cfg.TransportType(),
					"error", err,
				)
				failed = append(failed, fmt.Errorf("%s: %w", name, err))
				return nil
			}
			m.logger.Info("mcp server connected",
				"server", name,
				"transport", cfg.TransportType(),
				"tools", len(conn.Tools),
			)
			conns[name] = conn
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		closeAll(conns)
		return fmt.Errorf("initialize mcp servers: %w", err)
	}
	if len(conns) == 0 {
		return fmt.Errorf("initialize mcp servers: %w", errors.Join(failed...))
	}

	m.mu.Lock()
	old := m.conns
	m.conns = conns
	m.mu.Unlock()
	closeAll(old)

	return nil
}

// MapAvailableTools adds each connected server's tools to set under
// "<tool>_mcp_<server>".
func (m *Manager) MapAvailableTools(ctx context.Context, set tools.Set) error {
	if set == nil {
		return errors.New("map tools: nil tool set")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, name := range sortedNames(m.conns) {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, tool := range m.conns[name].Tools {
			key := ToolKey(tool.Name, name)
			set[key] = tools.Definition{
				Name:        key,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
				Source:      tools.SourceMCP,
				Server:      name,
			}
		}
	}
	return nil
}

// ToolKey names an MCP tool in the published set.
func ToolKey(tool, server string) string {
	return tool + "_mcp_" + server
}

// Servers returns the names of connected servers in sorted order.
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedNames(m.conns)
}

// Destroy closes every connection. Safe to call more than once.
func (m *Manager) Destroy(ctx context.Context) error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*Connection)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		closeAll(conns)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("destroy mcp manager: %w", ctx.Err())
	}
}

func closeAll(conns map[string]*Connection) {
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			_ = c.Close()
		}(c)
	}
	wg.Wait()
}

func sortedNames(conns map[string]*Connection) []string {
	names := make([]string, 0, len(conns))
	for name := range conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
