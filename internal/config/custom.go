package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/parlor/parlor/internal/mcp"
)

// CustomConfig is the operator-managed YAML file re-read on every MCP refresh.
type CustomConfig struct {
	Version    string                      `yaml:"version"`
	MCPServers map[string]mcp.ServerConfig `yaml:"mcpServers"`
}

// HasMCPServers reports whether at least one tool server is declared.
func (c *CustomConfig) HasMCPServers() bool {
	return c != nil && len(c.MCPServers) > 0
}

// LoadCustom reads the custom config file. A missing file returns nil, nil.
// ${VAR} references are kept verbatim for the env processor.
func LoadCustom(path string) (*CustomConfig, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read custom config: %w", err)
	}

	var cfg CustomConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse custom config %s: %w", path, err)
	}

	for name, server := range cfg.MCPServers {
		switch server.TransportType() {
		case mcp.TransportStdio, mcp.TransportSSE, mcp.TransportStreamableHTTP:
		default:
			return nil, fmt.Errorf("mcp server %q: unsupported type %q", name, server.Type)
		}
	}

	return &cfg, nil
}

// CustomLoader loads the custom config from a fixed path.
type CustomLoader struct {
	Path string
}

// Load implements the loader used by the MCP refresh.
func (l CustomLoader) Load() (*CustomConfig, error) {
	return LoadCustom(l.Path)
}
