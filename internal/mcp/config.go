// Package mcp manages connections to external MCP tool servers.
package mcp

import (
	"os"
	"strings"
	"time"
)

// Transport identifies how a tool server is reached.
type Transport string

// Supported transports.
const (
	TransportStdio          Transport = "stdio"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable-http"
)

// ServerConfig declares a single tool server.
type ServerConfig struct {
	Type    Transport         `yaml:"type" json:"type,omitempty"`
	Command string            `yaml:"command" json:"command,omitempty"`
	Args    []string          `yaml:"args" json:"args,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`
	URL     string            `yaml:"url" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout,omitempty"`
	// Retries is how many extra connect attempts follow a failure.
	Retries int `yaml:"retries" json:"retries,omitempty"`
}

// TransportType returns the declared transport, inferring it when omitted.
func (c ServerConfig) TransportType() Transport {
	if c.Type != "" {
		return c.Type
	}
	if c.URL != "" {
		return TransportStreamableHTTP
	}
	return TransportStdio
}

// EnvProcessor rewrites a server declaration before it is dialed.
type EnvProcessor func(ServerConfig) ServerConfig

// ProcessEnv expands ${VAR} references using the process environment.
func ProcessEnv(cfg ServerConfig) ServerConfig {
	return ExpandEnv(cfg, os.LookupEnv)
}

// ExpandEnv expands ${VAR} references in command, args, env values, url and
// headers. Unknown variables are left untouched.
func ExpandEnv(cfg ServerConfig, lookup func(string) (string, bool)) ServerConfig {
	expand := func(s string) string {
		if !strings.Contains(s, "${") {
			return s
		}
		return os.Expand(s, func(name string) string {
			if v, ok := lookup(name); ok {
				return v
			}
			return "${" + name + "}"
		})
	}

	out := cfg
	out.Command = expand(cfg.Command)
	out.URL = expand(cfg.URL)

	if cfg.Args != nil {
		out.Args = make([]string, len(cfg.Args))
		for i, arg := range cfg.Args {
			out.Args[i] = expand(arg)
		}
	}
	if cfg.Env != nil {
		out.Env = make(map[string]string, len(cfg.Env))
		for k, v := range cfg.Env {
			out.Env[k] = expand(v)
		}
	}
	if cfg.Headers != nil {
		out.Headers = make(map[string]string, len(cfg.Headers))
		for k, v := range cfg.Headers {
			out.Headers[k] = expand(v)
		}
	}

	return out
}
