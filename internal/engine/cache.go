package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/cascade/internal/pipeline"
	"github.com/roach88/cascade/internal/store"
)

// Reason explains a cache decision.
type Reason string

const (
	// ReasonSourceNode: the node has no dependencies and no prior
	// record. A source node's own change cannot be detected without
	// re-running it, so its first run is unconditional; detecting
	// upstream data changes after that is the caller's job.
	ReasonSourceNode Reason = "source_node"

	// ReasonNeverExecuted: no prior record, or the record lacks an
	// output hash or dependency-hash map.
	ReasonNeverExecuted Reason = "never_executed"

	// ReasonDependencyChanged: a dependency's current content hash
	// differs from the hash stored at this node's last run.
	ReasonDependencyChanged Reason = "dependency_changed"

	// ReasonDependencyMissing: a dependency's current content hash
	// cannot be found.
	ReasonDependencyMissing Reason = "dependency_missing"

	// ReasonCacheValid: every dependency hash matches; the cached
	// output is reused.
	ReasonCacheValid Reason = "cache_valid"
)

// Decision is the outcome of a cache consultation.
type Decision struct {
	Execute bool   `json:"execute"`
	Reason  Reason `json:"reason"`

	// ChangedDep names the dependency key that forced execution, for
	// dependency_changed and dependency_missing reasons.
	ChangedDep string `json:"changed_dep,omitempty"`
}

// Cache decides, per node, whether the stored output is still valid.
//
// The scheme is content-addressed memoization, not timestamp-based:
// a node re-executes only when a dependency's output content actually
// changed, never because the document was merely re-saved.
type Cache struct {
	store *store.Store
}

// NewCache creates a cache controller over the record store.
func NewCache(st *store.Store) *Cache {
	return &Cache{store: st}
}

// ShouldExecute evaluates one node against its stored record.
// deps must be the node's current dependency keys from the resolver.
func (c *Cache) ShouldExecute(ctx context.Context, node pipeline.Node, deps []pipeline.DepKey, subjectID string, doc *pipeline.Document) (Decision, error) {
	rec, err := c.store.GetRecord(ctx, subjectID, doc.ID, node.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Decision{}, fmt.Errorf("cache lookup for node %q: %w", node.ID, err)
	}

	executed := rec != nil && rec.OutputHash != ""
	if !executed {
		if len(deps) == 0 {
			return Decision{Execute: true, Reason: ReasonSourceNode}, nil
		}
		return Decision{Execute: true, Reason: ReasonNeverExecuted}, nil
	}

	// A previously executed node with dependencies but no stored
	// dependency-hash map predates hash tracking; treat it as never
	// executed rather than trusting an unverifiable cache.
	if len(deps) > 0 && rec.DepHashes == nil {
		return Decision{Execute: true, Reason: ReasonNeverExecuted}, nil
	}

	for _, dep := range deps {
		depDoc := dep.DocumentID
		if depDoc == "" {
			depDoc = doc.ID
		}
		current, found, err := c.store.GetOutputHash(ctx, subjectID, depDoc, dep.NodeID)
		if err != nil {
			return Decision{}, fmt.Errorf("cache lookup for dependency %q: %w", dep.String(), err)
		}
		if !found {
			return Decision{Execute: true, Reason: ReasonDependencyMissing, ChangedDep: dep.String()}, nil
		}
		if stored, ok := rec.DepHashes[dep.String()]; !ok || stored != current {
			return Decision{Execute: true, Reason: ReasonDependencyChanged, ChangedDep: dep.String()}, nil
		}
	}

	return Decision{Execute: false, Reason: ReasonCacheValid}, nil
}
