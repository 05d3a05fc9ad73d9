package engine

import (
	"context"
	"sync"

	"github.com/roach88/cascade/internal/pipeline"
)

// Executor computes one node's output from its configuration and its
// dependencies' outputs.
//
// Contract: an executor must be a pure function of the node
// configuration plus the dependency outputs it is handed, with no
// hidden engine-visible state. The cache controller's invalidation
// logic is only valid under this contract: if an executor reads state
// the dependency hashes don't capture, stale outputs will be served.
//
// Dependency outputs are keyed by pipeline.DepKey.String(). A
// dependency that has never produced an output is absent from the map.
type Executor interface {
	Execute(ctx context.Context, node pipeline.Node, deps map[string]any, subjectID string) (any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, node pipeline.Node, deps map[string]any, subjectID string) (any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, node pipeline.Node, deps map[string]any, subjectID string) (any, error) {
	return f(ctx, node, deps, subjectID)
}

// Registry is the capability-polymorphic dispatch table mapping node
// type to executor. Adding a node type means registering one executor;
// the scheduler never switches on node types itself.
type Registry struct {
	mu        sync.RWMutex
	executors map[pipeline.NodeType]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[pipeline.NodeType]Executor)}
}

// Register binds an executor to a node type, replacing any previous
// binding for that type.
func (r *Registry) Register(t pipeline.NodeType, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[t] = e
}

// Lookup returns the executor for a node type.
func (r *Registry) Lookup(t pipeline.NodeType) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[t]
	return e, ok
}

// Types returns the registered node types, for diagnostics.
func (r *Registry) Types() []pipeline.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pipeline.NodeType, 0, len(r.executors))
	for t := range r.executors {
		out = append(out, t)
	}
	return out
}
