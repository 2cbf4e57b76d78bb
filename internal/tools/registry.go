// Package tools holds the callable tools exposed to backends, filtered
// by the active tool profile.
package tools

import (
	"context"
	"fmt"

	"github.com/bowerhall/pawd/internal/llm"
)

// Profile names, from most to least permissive. "full" exposes
// everything, "safe" only read-only tools, "none" disables tools.
const (
	ProfileFull = "full"
	ProfileSafe = "safe"
	ProfileNone = "none"
)

type Handler func(ctx context.Context, args string) (string, error)

type entry struct {
	tool     llm.Tool
	handler  Handler
	readOnly bool
}

type Registry struct {
	entries []entry
	byName  map[string]int
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register adds a tool. Read-only tools survive the "safe" profile;
// anything that writes or talks to the outside world does not.
func (r *Registry) Register(tool llm.Tool, readOnly bool, handler Handler) {
	r.byName[tool.Name] = len(r.entries)
	r.entries = append(r.entries, entry{tool: tool, handler: handler, readOnly: readOnly})
}

// ToolsFor returns the tool definitions visible under the given profile.
func (r *Registry) ToolsFor(profile string) []llm.Tool {
	if profile == ProfileNone {
		return nil
	}

	var out []llm.Tool
	for _, e := range r.entries {
		if profile == ProfileSafe && !e.readOnly {
			continue
		}
		out = append(out, e.tool)
	}
	return out
}

func (r *Registry) Execute(ctx context.Context, name, args string) (string, error) {
	idx, ok := r.byName[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return r.entries[idx].handler(ctx, args)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.tool.Name)
	}
	return names
}
