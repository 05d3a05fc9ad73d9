package pipeline

// Dependency resolution derives the true dependency graph of a
// document from each node's content-assembly list. This is a
// deliberate contract, not an oversight: cosmetic connectors exist
// purely for the visual canvas and may be inconsistent with actual
// data dependencies, so they are ignored entirely here.

// Dependencies returns the dependency keys of a node, deduplicated by
// (node-id, document-id) pair, in first-reference order.
//
// Sources, in order:
//   - every node_ref segment in the content-assembly list
//   - for transform nodes in structured-mapping mode, the explicit
//     MappingDeps list on the node configuration
//
// Framework references resolve to external documents outside this
// engine's record store; they carry no dependency key and their
// freshness is the executor's concern.
func Dependencies(n Node) []DepKey {
	if !n.Type.Executable() {
		return nil
	}

	seen := make(map[DepKey]bool)
	var deps []DepKey
	add := func(k DepKey) {
		if k.NodeID == "" || seen[k] {
			return
		}
		seen[k] = true
		deps = append(deps, k)
	}

	for _, seg := range n.Segments {
		if seg.Kind == SegmentNodeRef {
			add(DepKey{NodeID: seg.NodeID, DocumentID: seg.DocumentID})
		}
	}

	if n.Type == NodeTransform && n.Config.TransformMode == TransformMapping {
		for _, id := range n.Config.MappingDeps {
			add(DepKey{NodeID: id})
		}
	}

	return deps
}

// Downstream returns the ids of every node in the document whose
// content-assembly list or structured-mapping dependency list
// references the given node, in document order. References marked
// no_cascade are excluded: they read the upstream output without
// subscribing to its changes.
//
// Cross-document references into other documents are out of reach
// here; only same-document references are discoverable.
func Downstream(doc *Document, nodeID string) []string {
	var out []string
	for _, n := range doc.Nodes {
		if n.ID == nodeID || !n.Type.Executable() {
			continue
		}
		if referencesNode(doc, n, nodeID) {
			out = append(out, n.ID)
		}
	}
	return out
}

func referencesNode(doc *Document, n Node, nodeID string) bool {
	for _, seg := range n.Segments {
		if seg.Kind != SegmentNodeRef || seg.NodeID != nodeID || seg.NoCascade {
			continue
		}
		if seg.DocumentID == "" || seg.DocumentID == doc.ID {
			return true
		}
	}
	if n.Type == NodeTransform && n.Config.TransformMode == TransformMapping {
		for _, id := range n.Config.MappingDeps {
			if id == nodeID {
				return true
			}
		}
	}
	return false
}

// Ancestors walks the visual group hierarchy upward from a node and
// returns the chain of ancestor ids, nearest first. The walk is
// bounded by a visited set: a parent cycle terminates the walk instead
// of recursing forever. Cycle tolerance here is a correctness
// invariant, not a defensive afterthought, because group parents are
// client-supplied canvas state.
func Ancestors(doc *Document, nodeID string) []string {
	visited := map[string]bool{nodeID: true}
	var chain []string

	current, ok := doc.NodeByID(nodeID)
	for ok && current.ParentID != "" {
		if visited[current.ParentID] {
			break
		}
		visited[current.ParentID] = true
		chain = append(chain, current.ParentID)
		current, ok = doc.NodeByID(current.ParentID)
	}
	return chain
}
