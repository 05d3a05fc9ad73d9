package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/pipeline"
	"github.com/roach88/cascade/internal/store"
)

func cacheFixture(t *testing.T, doc *pipeline.Document) (*store.Store, *Cache) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cascade.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.InsertDocument(context.Background(), doc))
	return st, NewCache(st)
}

func TestShouldExecuteSourceNode(t *testing.T) {
	doc := &pipeline.Document{ID: "doc-1", Name: "D", Nodes: []pipeline.Node{nodeWithDeps("src")}}
	st, cache := cacheFixture(t, doc)
	ctx := context.Background()

	node := doc.Nodes[0]
	d, err := cache.ShouldExecute(ctx, node, nil, "s", doc)
	require.NoError(t, err)
	assert.True(t, d.Execute)
	assert.Equal(t, ReasonSourceNode, d.Reason)

	// After the first execution a source node is cached: its own
	// freshness is the caller's responsibility.
	require.NoError(t, st.UpsertRecord(ctx, &pipeline.Record{
		SubjectID: "s", DocumentID: "doc-1", NodeID: "src",
		Output: "row", OutputHash: pipeline.MustOutputHash("row"),
	}))
	d, err = cache.ShouldExecute(ctx, node, nil, "s", doc)
	require.NoError(t, err)
	assert.False(t, d.Execute)
	assert.Equal(t, ReasonCacheValid, d.Reason)
}

func TestShouldExecuteNeverExecuted(t *testing.T) {
	doc := &pipeline.Document{ID: "doc-1", Name: "D", Nodes: []pipeline.Node{
		nodeWithDeps("up"),
		nodeWithDeps("down", "up"),
	}}
	st, cache := cacheFixture(t, doc)
	ctx := context.Background()

	down := doc.Nodes[1]
	deps := pipeline.Dependencies(down)

	// No record at all.
	d, err := cache.ShouldExecute(ctx, down, deps, "s", doc)
	require.NoError(t, err)
	assert.True(t, d.Execute)
	assert.Equal(t, ReasonNeverExecuted, d.Reason)

	// Provisioned row without an output hash counts as never executed.
	require.NoError(t, st.ProvisionRecords(ctx, "s", "doc-1", []string{"down"}))
	d, err = cache.ShouldExecute(ctx, down, deps, "s", doc)
	require.NoError(t, err)
	assert.True(t, d.Execute)
	assert.Equal(t, ReasonNeverExecuted, d.Reason)
}

func TestShouldExecuteDependencyStates(t *testing.T) {
	doc := &pipeline.Document{ID: "doc-1", Name: "D", Nodes: []pipeline.Node{
		nodeWithDeps("up"),
		nodeWithDeps("down", "up"),
	}}
	st, cache := cacheFixture(t, doc)
	ctx := context.Background()

	down := doc.Nodes[1]
	deps := pipeline.Dependencies(down)
	upHash := pipeline.MustOutputHash("v1")

	// down executed against up@v1.
	require.NoError(t, st.UpsertRecord(ctx, &pipeline.Record{
		SubjectID: "s", DocumentID: "doc-1", NodeID: "down",
		Output: "out", OutputHash: pipeline.MustOutputHash("out"),
		DepHashes: map[string]string{"up": upHash},
	}))

	// Dependency record absent entirely: execute.
	d, err := cache.ShouldExecute(ctx, down, deps, "s", doc)
	require.NoError(t, err)
	assert.True(t, d.Execute)
	assert.Equal(t, ReasonDependencyMissing, d.Reason)
	assert.Equal(t, "up", d.ChangedDep)

	// Dependency matches: cache valid.
	require.NoError(t, st.UpsertRecord(ctx, &pipeline.Record{
		SubjectID: "s", DocumentID: "doc-1", NodeID: "up",
		Output: "v1", OutputHash: upHash,
	}))
	d, err = cache.ShouldExecute(ctx, down, deps, "s", doc)
	require.NoError(t, err)
	assert.False(t, d.Execute)
	assert.Equal(t, ReasonCacheValid, d.Reason)

	// Dependency hash moved: execute.
	require.NoError(t, st.UpsertRecord(ctx, &pipeline.Record{
		SubjectID: "s", DocumentID: "doc-1", NodeID: "up",
		Output: "v2", OutputHash: pipeline.MustOutputHash("v2"),
	}))
	d, err = cache.ShouldExecute(ctx, down, deps, "s", doc)
	require.NoError(t, err)
	assert.True(t, d.Execute)
	assert.Equal(t, ReasonDependencyChanged, d.Reason)
}
