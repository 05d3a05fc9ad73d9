package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/cascade/internal/pipeline"
)

func nodeWithDeps(id string, depIDs ...string) pipeline.Node {
	segs := make([]pipeline.Segment, len(depIDs))
	for i, dep := range depIDs {
		segs[i] = pipeline.Segment{Kind: pipeline.SegmentNodeRef, NodeID: dep}
	}
	return pipeline.Node{ID: id, Type: pipeline.NodePrompt, Segments: segs}
}

func ids(nodes []pipeline.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestOrderNodesRespectsDependencies(t *testing.T) {
	doc := &pipeline.Document{
		ID: "doc-1",
		Nodes: []pipeline.Node{
			nodeWithDeps("c", "b"),
			nodeWithDeps("b", "a"),
			nodeWithDeps("a"),
		},
	}
	ordered, unresolved := orderNodes(doc)
	assert.Empty(t, unresolved)
	assert.Equal(t, []string{"a", "b", "c"}, ids(ordered))
}

func TestOrderNodesStableTieBreak(t *testing.T) {
	// Independent nodes keep document order.
	doc := &pipeline.Document{
		ID: "doc-1",
		Nodes: []pipeline.Node{
			nodeWithDeps("z"),
			nodeWithDeps("a"),
			nodeWithDeps("m"),
		},
	}
	ordered, unresolved := orderNodes(doc)
	assert.Empty(t, unresolved)
	assert.Equal(t, []string{"z", "a", "m"}, ids(ordered))
}

func TestOrderNodesCycleIsolated(t *testing.T) {
	// x <-> y cycle; a -> b chain must still order.
	doc := &pipeline.Document{
		ID: "doc-1",
		Nodes: []pipeline.Node{
			nodeWithDeps("x", "y"),
			nodeWithDeps("y", "x"),
			nodeWithDeps("a"),
			nodeWithDeps("b", "a"),
		},
	}
	ordered, unresolved := orderNodes(doc)
	assert.Equal(t, []string{"a", "b"}, ids(ordered))
	assert.ElementsMatch(t, []string{"x", "y"}, unresolved)
}

func TestOrderNodesSelfReferenceNeverReady(t *testing.T) {
	doc := &pipeline.Document{
		ID: "doc-1",
		Nodes: []pipeline.Node{
			nodeWithDeps("loop", "loop"),
			nodeWithDeps("free"),
		},
	}
	ordered, unresolved := orderNodes(doc)
	assert.Equal(t, []string{"free"}, ids(ordered))
	assert.Equal(t, []string{"loop"}, unresolved)
}

func TestOrderNodesIgnoresVisualAndExternal(t *testing.T) {
	doc := &pipeline.Document{
		ID: "doc-1",
		Nodes: []pipeline.Node{
			{ID: "note", Type: pipeline.NodeSticky},
			// Cross-document and dangling references do not constrain order.
			{ID: "p", Type: pipeline.NodePrompt, Segments: []pipeline.Segment{
				{Kind: pipeline.SegmentNodeRef, NodeID: "far", DocumentID: "doc-2"},
				{Kind: pipeline.SegmentNodeRef, NodeID: "ghost"},
			}},
		},
	}
	ordered, unresolved := orderNodes(doc)
	assert.Empty(t, unresolved)
	assert.Equal(t, []string{"p"}, ids(ordered))
}
