package tools

import (
	"sync"
)

// Registry is a lookup table of tools keyed by id. Dispatch is a plain map
// lookup; each entry is a boxed Tool implementation, one per distinct kind
// (spec §9 "a registry of boxed trait objects keyed by id").
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// NewDefaultRegistry constructs a registry preloaded with every built-in
// tool (spec §4.7 "Built-in tools").
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range []Tool{
		MathTool{},
		LogTool{},
		JSONQueryTool{},
		SetVarTool{},
		GetVarTool{},
		SleepTool{},
		SwitchTool{},
		TraceTool{},
		EmitTool{},
		RhaiTool{},
	} {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool under its own id.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	r.tools[t.ID()] = t
	r.mu.Unlock()
}

// Get looks up a tool by id.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	return t, ok
}
