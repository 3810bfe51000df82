package tools

import (
	"github.com/xonecas/symb/internal/provider"
)

// Registry maps tool names to implementations. Registration order is
// preserved: the provider-facing tool list must serialize identically
// across turns or the prompt-cache prefix breaks on every call.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t under its schema name, overwriting any prior entry of
// the same name without disturbing its position.
func (r *Registry) Register(t Tool) {
	name := t.Schema().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Lookup returns the tool registered under name, or nil if unknown.
func (r *Registry) Lookup(name string) Tool {
	return r.tools[name]
}

// Schemas returns the provider-facing tool list for every registered
// tool, in registration order.
func (r *Registry) Schemas() []provider.Tool {
	out := make([]provider.Tool, 0, len(r.order))
	for _, name := range r.order {
		s := r.tools[name].Schema()
		out = append(out, provider.Tool{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
		})
	}
	return out
}

// Names returns the registered tool names, in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Subset returns a new registry containing only the named tools,
// ignoring names that aren't registered. Used by the sub-agent manager
// to give each agent kind a restricted tool list (spec §4.5).
func (r *Registry) Subset(names ...string) *Registry {
	sub := NewRegistry()
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			sub.Register(t)
		}
	}
	return sub
}
