// Package tools loads structured tool definitions and holds the published tool set.
package tools

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tool sources.
const (
	SourceStructured = "structured"
	SourceMCP        = "mcp"
)

// Definition describes a callable tool.
type Definition struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Parameters  map[string]any `yaml:"parameters" json:"parameters,omitempty"`
	Source      string         `yaml:"-" json:"source"`
	Server      string         `yaml:"-" json:"server,omitempty"`
}

// Set maps tool keys to definitions.
type Set map[string]Definition

// Names returns the keys in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a shallow copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// LoadOptions controls which definitions Load keeps.
type LoadOptions struct {
	// AdminFilter lists tool names to drop.
	AdminFilter []string
	// AdminIncluded, when non-empty, is the only set of names kept.
	AdminIncluded []string
	// Directory holds *.json, *.yaml and *.yml definition files.
	Directory string
}

// Load reads tool definitions from opts.Directory. A missing directory yields
// an empty set. Each file holds one definition or a list of them.
func Load(opts LoadOptions) (Set, error) {
	set := make(Set)
	if opts.Directory == "" {
		return set, nil
	}

	entries, err := os.ReadDir(opts.Directory)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return set, nil
		}
		return nil, fmt.Errorf("read tools directory: %w", err)
	}

	keep := allowFunc(opts)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}

		path := filepath.Join(opts.Directory, entry.Name())
		defs, err := readFile(path)
		if err != nil {
			return nil, err
		}
		for _, def := range defs {
			if !keep(def.Name) {
				continue
			}
			def.Source = SourceStructured
			set[def.Name] = def
		}
	}

	return set, nil
}

func allowFunc(opts LoadOptions) func(string) bool {
	if len(opts.AdminIncluded) > 0 {
		included := toSet(opts.AdminIncluded)
		return func(name string) bool { return included[name] }
	}
	filtered := toSet(opts.AdminFilter)
	return func(name string) bool { return !filtered[name] }
}

func toSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			m[n] = true
		}
	}
	return m
}

// readFile decodes a definition file. JSON is valid YAML, so one decoder
// handles both formats.
func readFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	var defs []Definition
	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&defs); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	case yaml.MappingNode:
		var def Definition
		if err := root.Decode(&def); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		defs = append(defs, def)
	default:
		return nil, fmt.Errorf("decode %s: expected a mapping or a list", path)
	}

	out := defs[:0]
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("decode %s: tool definition without a name", path)
		}
		out = append(out, def)
	}
	return out, nil
}
