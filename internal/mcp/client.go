package mcp

import (
	"context"
	"fmt"
	"net/http"
)

// ClientInfo is announced to every server during initialize.
var ClientInfo = Implementation{Name: "parlor", Version: "1.0.0"}

// maxToolPages bounds tools/list pagination against misbehaving servers.
const maxToolPages = 100

// Connection is an initialized session with one tool server.
type Connection struct {
	Name       string
	ServerInfo Implementation
	Tools      []Tool

	t transport
}

// Connect dials a server, performs the initialize handshake and fetches its tools.
func Connect(ctx context.Context, name string, cfg ServerConfig, httpClient *http.Client) (*Connection, error) {
	var (
		t   transport
		err error
	)
	switch cfg.TransportType() {
	case TransportStdio:
		t, err = startStdio(cfg)
	case TransportStreamableHTTP:
		t, err = newHTTPTransport(cfg, httpClient)
	case TransportSSE:
		t, err = startSSE(ctx, cfg, httpClient)
	default:
		err = fmt.Errorf("unsupported transport %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	conn := &Connection{Name: name, t: t}
	if err := conn.handshake(ctx); err != nil {
		_ = t.close()
		return nil, err
	}
	return conn, nil
}

func (c *Connection) handshake(ctx context.Context) error {
	var res initializeResult
	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      ClientInfo,
	}
	if err := c.t.call(ctx, "initialize", params, &res); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	c.ServerInfo = res.ServerInfo

	if err := c.t.notify(ctx, "notifications/initialized", nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	tools, err := c.listTools(ctx)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	c.Tools = tools
	return nil
}

func (c *Connection) listTools(ctx context.Context) ([]Tool, error) {
	var all []Tool
	cursor := ""
	for page := 0; page < maxToolPages; page++ {
		var res listToolsResult
		if err := c.t.call(ctx, "tools/list", listToolsParams{Cursor: cursor}, &res); err != nil {
			return nil, err
		}
		all = append(all, res.Tools...)
		if res.NextCursor == "" {
			return all, nil
		}
		cursor = res.NextCursor
	}
	return all, nil
}

// Close ends the session.
func (c *Connection) Close() error {
	return c.t.close()
}
