// Package flowbus implements the per-trace "flow bus" — ActiveWorkflowState
// — and the Trace entity lifecycle (spec §3 "ActiveWorkflowState", "Trace").
// It is the one piece of mutable state a running workflow accumulates as it
// crosses node boundaries; every other component is either immutable
// (tickets, once stored) or scoped to a single staging entity.
package flowbus

import (
	"context"
	"sync"

	"github.com/ferroflux/ferroflux/internal/telemetry"
)

// State is the "Flow Bus": accumulated context for one trace, plus an
// append-only history of node ids visited. Only the trace's current stage
// worker mutates it (spec §4.5 shared-resource policy).
type State struct {
	mu      sync.Mutex
	context map[string]any
	history []string
	logger  telemetry.Logger
}

// NewState constructs an empty flow bus state.
func NewState(logger telemetry.Logger) *State {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &State{context: make(map[string]any), logger: logger}
}

// Merge overwrites root-level keys of the context from update, which must be
// a JSON object (map[string]any). Any other shape is dropped with a warning
// rather than merged (spec §3 merge semantics).
func (s *State) Merge(ctx context.Context, update any) {
	obj, ok := update.(map[string]any)
	if !ok {
		s.mu.Lock()
		logger := s.logger
		s.mu.Unlock()
		logger.Warn(ctx, "dropped non-object merge into flow bus", "type", update)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range obj {
		s.context[k] = v
	}
}

// Set overwrites a single key in the context.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context[key] = value
}

// Get retrieves a single key from the context.
func (s *State) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.context[key]
	return v, ok
}

// Context returns a shallow copy of the accumulated context, safe for a
// caller to template against without racing further mutation.
func (s *State) Context() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.context))
	for k, v := range s.context {
		out[k] = v
	}
	return out
}

// AppendHistory records that a node was visited. Partial progress of a
// trace survives in history even if the trace later fails (spec §7).
func (s *State) AppendHistory(nodeLabel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, nodeLabel)
}

// History returns a copy of the visited-node sequence, oldest first.
func (s *State) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}
