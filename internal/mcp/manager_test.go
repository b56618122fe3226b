package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parlor/parlor/internal/tools"
)

type stubTransport struct {
	closed atomic.Int32
}

func (s *stubTransport) call(ctx context.Context, method string, params, result any) error {
	return nil
}

func (s *stubTransport) notify(ctx context.Context, method string, params any) error {
	return nil
}

func (s *stubTransport) close() error {
	s.closed.Add(1)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubConnect returns connections with the given tools, failing for names in fail.
func stubConnect(toolsByServer map[string][]string, fail map[string]bool, transports map[string]*stubTransport) ConnectFunc {
	return func(ctx context.Context, name string, cfg ServerConfig) (*Connection, error) {
		if fail[name] {
			return nil, errors.New("connection refused")
		}
		tr := &stubTransport{}
		if transports != nil {
			transports[name] = tr
		}
		conn := &Connection{Name: name, t: tr}
		for _, tool := range toolsByServer[name] {
			conn.Tools = append(conn.Tools, Tool{Name: tool, Description: tool + " tool"})
		}
		return conn, nil
	}
}

func TestManager_InitializeAndMapTools(t *testing.T) {
	m := NewManagerWithConnect(discardLogger(), stubConnect(map[string][]string{
		"fs":     {"read", "write"},
		"search": {"query"},
	}, nil, nil))

	servers := map[string]ServerConfig{
		"fs":     {Command: "fs-server"},
		"search": {URL: "http://search/mcp"},
	}
	if err := m.Initialize(context.Background(), servers, nil); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if got := m.Servers(); !reflect.DeepEqual(got, []string{"fs", "search"}) {
		t.Errorf("Servers() = %v", got)
	}

	set := tools.Set{"calculator": {Name: "calculator", Source: tools.SourceStructured}}
	if err := m.MapAvailableTools(context.Background(), set); err != nil {
		t.Fatalf("MapAvailableTools() error = %v", err)
	}

	want := []string{"calculator", "query_mcp_search", "read_mcp_fs", "write_mcp_fs"}
	if got := set.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("tool names = %v, want %v", got, want)
	}

	def := set["read_mcp_fs"]
	if def.Source != tools.SourceMCP || def.Server != "fs" || def.Description != "read tool" {
		t.Errorf("mapped definition = %+v", def)
	}
}

func TestManager_InitializePartialFailure(t *testing.T) {
	m := NewManagerWithConnect(discardLogger(), stubConnect(
		map[string][]string{"good": {"ping"}},
		map[string]bool{"bad": true},
		nil,
	))

	err := m.Initialize(context.Background(), map[string]ServerConfig{
		"good": {Command: "ok"},
		"bad":  {Command: "broken"},
	}, nil)
	if err != nil {
		t.Fatalf("Initialize() error = %v, want nil with one healthy server", err)
	}
	if got := m.Servers(); !reflect.DeepEqual(got, []string{"good"}) {
		t.Errorf("Servers() = %v, want [good]", got)
	}
}

func TestManager_InitializeAllFail(t *testing.T) {
	m := NewManagerWithConnect(discardLogger(), stubConnect(nil, map[string]bool{"a": true, "b": true}, nil))

	err := m.Initialize(context.Background(), map[string]ServerConfig{"a": {}, "b": {}}, nil)
	if err == nil {
		t.Fatal("expected error when every server fails")
	}
}

func TestManager_InitializeNoServers(t *testing.T) {
	m := NewManagerWithConnect(discardLogger(), stubConnect(nil, nil, nil))

	if err := m.Initialize(context.Background(), nil, nil); !errors.Is(err, ErrNoServers) {
		t.Errorf("error = %v, want ErrNoServers", err)
	}
}

func TestManager_InitializeAppliesEnvProcessor(t *testing.T) {
	var seen ServerConfig
	m := NewManagerWithConnect(discardLogger(), func(ctx context.Context, name string, cfg ServerConfig) (*Connection, error) {
		seen = cfg
		return &Connection{Name: name, t: &stubTransport{}}, nil
	})

	process := func(cfg ServerConfig) ServerConfig {
		cfg.Command = "/usr/bin/" + cfg.Command
		return cfg
	}
	if err := m.Initialize(context.Background(), map[string]ServerConfig{"x": {Command: "tool"}}, process); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if seen.Command != "/usr/bin/tool" {
		t.Errorf("command = %q, want processed command", seen.Command)
	}
}

func TestManager_InitializeRespectsContext(t *testing.T) {
	m := NewManagerWithConnect(discardLogger(), func(ctx context.Context, name string, cfg ServerConfig) (*Connection, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Initialize(ctx, map[string]ServerConfig{"slow": {}}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestManager_Destroy(t *testing.T) {
	transports := make(map[string]*stubTransport)
	m := NewManagerWithConnect(discardLogger(), stubConnect(map[string][]string{"a": {"t"}}, nil, transports))

	if err := m.Initialize(context.Background(), map[string]ServerConfig{"a": {}}, nil); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := m.Destroy(context.Background()); err != nil {
			t.Fatalf("Destroy() #%d error = %v", i+1, err)
		}
	}

	if got := transports["a"].closed.Load(); got != 1 {
		t.Errorf("close count = %d, want 1", got)
	}
	if len(m.Servers()) != 0 {
		t.Errorf("Servers() = %v, want empty", m.Servers())
	}

	set := tools.Set{}
	if err := m.MapAvailableTools(context.Background(), set); err != nil {
		t.Fatalf("MapAvailableTools() error = %v", err)
	}
	if len(set) != 0 {
		t.Errorf("destroyed manager mapped %d tools", len(set))
	}
}

func TestManager_ReinitializeClosesPrevious(t *testing.T) {
	transports := make(map[string]*stubTransport)
	connect := stubConnect(map[string][]string{"a": {"t"}}, nil, transports)
	m := NewManagerWithConnect(discardLogger(), connect)

	if err := m.Initialize(context.Background(), map[string]ServerConfig{"a": {}}, nil); err != nil {
		t.Fatal(err)
	}
	first := transports["a"]

	if err := m.Initialize(context.Background(), map[string]ServerConfig{"a": {}}, nil); err != nil {
		t.Fatal(err)
	}

	if first.closed.Load() != 1 {
		t.Error("previous connection not closed on reinitialize")
	}
	if transports["a"].closed.Load() != 0 {
		t.Error("new connection closed unexpectedly")
	}
}
