package engine

import "github.com/roach88/cascade/internal/pipeline"

// orderNodes topologically sorts the document's executable nodes using
// the dependency resolver's edges. Ties break by original node order
// (stable sort) so runs are deterministic.
//
// Only same-document edges onto nodes that exist in the document
// constrain ordering. Cross-document and dangling references resolve
// against the record store at execution time, never against this
// run's ordering.
//
// Nodes left with unsatisfied edges belong to an unresolved cycle.
// They are returned separately as "never ready"; the caller reports
// them as ordering failures and runs the rest of the graph.
func orderNodes(doc *pipeline.Document) (ordered []pipeline.Node, unresolved []string) {
	var executable []pipeline.Node
	present := make(map[string]bool)
	for _, n := range doc.Nodes {
		if n.Type.Executable() {
			executable = append(executable, n)
			present[n.ID] = true
		}
	}

	indegree := make(map[string]int, len(executable))
	for _, n := range executable {
		for _, dep := range pipeline.Dependencies(n) {
			// A self-reference counts too: it can never be satisfied,
			// which is exactly what makes the node "never ready".
			if localDep(doc, dep) && present[dep.NodeID] {
				indegree[n.ID]++
			}
		}
	}

	// Kahn's algorithm, but the ready "queue" is a document-order scan
	// so equal-rank nodes keep their original relative order.
	done := make(map[string]bool, len(executable))
	for len(ordered) < len(executable) {
		progressed := false
		for _, n := range executable {
			if done[n.ID] || indegree[n.ID] > 0 {
				continue
			}
			done[n.ID] = true
			ordered = append(ordered, n)
			progressed = true
			for _, m := range executable {
				if done[m.ID] {
					continue
				}
				for _, dep := range pipeline.Dependencies(m) {
					if localDep(doc, dep) && dep.NodeID == n.ID {
						indegree[m.ID]--
					}
				}
			}
		}
		if !progressed {
			break
		}
	}

	for _, n := range executable {
		if !done[n.ID] {
			unresolved = append(unresolved, n.ID)
		}
	}
	return ordered, unresolved
}

// localDep reports whether a dependency key resolves within doc.
func localDep(doc *pipeline.Document, dep pipeline.DepKey) bool {
	return dep.DocumentID == "" || dep.DocumentID == doc.ID
}
