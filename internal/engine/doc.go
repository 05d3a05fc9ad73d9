// Package engine runs pipeline documents.
//
// The scheduler topologically orders a document's executable nodes
// using the dependency resolver's edges (never the cosmetic
// connectors), then drives one run strictly sequentially:
//
//	Pending -> Ordering -> Executing(node)... -> Completed | Failed
//
// Two modes exist. Force mode executes every node. Cascade mode
// consults the cache controller per node and reuses the stored output
// when every dependency's content hash is unchanged since the node's
// last run.
//
// Failure containment: an executor error stays local to its node. The
// error is recorded as the node's output, wrapped as an error marker,
// so downstream consumers see a visible failure instead of stale or
// missing data. Nodes trapped in an unresolved cycle are reported as
// ordering failures for those nodes only; the rest of the graph still
// executes.
package engine
