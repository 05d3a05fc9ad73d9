package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeType tags the polymorphic node variants. The set is closed:
// adding a type means adding one constant and one executor, never
// modifying the scheduler.
type NodeType string

const (
	// NodePrompt generates a prompt from its assembled segments.
	NodePrompt NodeType = "prompt"
	// NodeFragment is a reusable prompt fragment.
	NodeFragment NodeType = "fragment"
	// NodeIngest reads external data (form fields, scraped pages).
	NodeIngest NodeType = "ingest"
	// NodeDataset holds tabular reference data.
	NodeDataset NodeType = "dataset"
	// NodeTransform maps or templates upstream outputs into a variable.
	NodeTransform NodeType = "transform"
	// NodeAgent calls a language model with the assembled content.
	NodeAgent NodeType = "agent"
	// NodeFrameworkRef embeds an external framework document.
	NodeFrameworkRef NodeType = "framework_ref"
	// NodeIntegration calls an external integration endpoint.
	NodeIntegration NodeType = "integration"

	// NodeSticky and NodeGroup are purely visual canvas elements.
	// They never execute and never carry dependencies.
	NodeSticky NodeType = "sticky"
	NodeGroup  NodeType = "group"
)

// Executable reports whether nodes of this type participate in runs.
// Visual-only types are laid out on the canvas but never scheduled.
func (t NodeType) Executable() bool {
	switch t {
	case NodeSticky, NodeGroup:
		return false
	}
	return true
}

// SegmentKind discriminates content-assembly segment variants.
type SegmentKind string

const (
	// SegmentLiteral is verbatim text.
	SegmentLiteral SegmentKind = "literal"
	// SegmentNodeRef references another node's prior output and is the
	// only segment kind that contributes an execution dependency.
	SegmentNodeRef SegmentKind = "node_ref"
	// SegmentFrameworkRef embeds an external framework document. The
	// framework's content is resolved at execution time by the executor;
	// it is not part of the dependency graph.
	SegmentFrameworkRef SegmentKind = "framework_ref"
)

// Segment is one entry of a node's content-assembly list.
type Segment struct {
	Kind SegmentKind `json:"kind"`

	// Text is the literal content (SegmentLiteral only).
	Text string `json:"text,omitempty"`

	// NodeID references the upstream node (SegmentNodeRef only).
	NodeID string `json:"node_id,omitempty"`

	// DocumentID scopes NodeID to a different pipeline document.
	// Empty means "this document". Two nodes with the same id in
	// different documents are distinct dependency keys.
	DocumentID string `json:"document_id,omitempty"`

	// FrameworkID references an external framework document
	// (SegmentFrameworkRef only).
	FrameworkID string `json:"framework_id,omitempty"`

	// NoCascade marks a reference that must not trigger downstream
	// re-execution when the referenced node's output changes.
	NoCascade bool `json:"no_cascade,omitempty"`
}

// TransformMode selects how a transform node derives its output.
type TransformMode string

const (
	// TransformTemplate assembles the segment list as a template.
	TransformTemplate TransformMode = "template"
	// TransformMapping applies a structured field mapping; its
	// dependencies come from MappingDeps in addition to segments.
	TransformMapping TransformMode = "mapping"
)

// NodeConfig holds type-specific configuration. Fields are sparse;
// each node type reads only the fields it understands.
type NodeConfig struct {
	// Transform nodes.
	TransformMode TransformMode     `json:"transform_mode,omitempty"`
	MappingDeps   []string          `json:"mapping_deps,omitempty"`
	Mapping       map[string]string `json:"mapping,omitempty"`

	// Agent nodes.
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Ingest nodes: the form field or source identifier to read.
	Source string `json:"source,omitempty"`

	// Dataset nodes.
	Rows []map[string]any `json:"rows,omitempty"`

	// Integration nodes.
	Endpoint string `json:"endpoint,omitempty"`
}

// Node is one element of a pipeline document.
type Node struct {
	ID    string   `json:"id"`
	Type  NodeType `json:"type"`
	Label string   `json:"label,omitempty"`

	// Segments is the content-assembly list: the sole source of
	// execution dependencies for this node.
	Segments []Segment `json:"segments,omitempty"`

	Config NodeConfig `json:"config,omitempty"`

	// ParentID links the node into the visual group hierarchy.
	// Display-only, like connectors.
	ParentID string `json:"parent_id,omitempty"`
}

// Connector is a cosmetic canvas edge. It exists purely for the visual
// canvas and may be inconsistent with actual data dependencies, so it
// must never be consulted for scheduling or invalidation.
type Connector struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
}

// Variable is a document-level binding available to transform nodes.
type Variable struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// AttributionMode declares how node execution records are scoped.
type AttributionMode string

const (
	// AttributionSubject keys records by the enrichment subject
	// (one record per company row).
	AttributionSubject AttributionMode = "subject"
	// AttributionDocument keys records to the document itself
	// (single shared record set).
	AttributionDocument AttributionMode = "document"
)

// DocumentSubject is the synthetic subject id used when a document
// declares AttributionDocument.
const DocumentSubject = "__document__"

// Settings carries document-level execution policy.
type Settings struct {
	Attribution AttributionMode `json:"attribution,omitempty"`
}

// SubjectFor maps a caller-supplied subject id through the document's
// attribution mode.
func (s Settings) SubjectFor(subjectID string) string {
	if s.Attribution == AttributionDocument {
		return DocumentSubject
	}
	return subjectID
}

// Document is a full pipeline document. The node list is ordered;
// scheduler tie-breaking preserves this order for deterministic runs.
type Document struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Nodes      []Node      `json:"nodes"`
	Connectors []Connector `json:"connectors,omitempty"`
	Variables  []Variable  `json:"variables,omitempty"`
	Settings   Settings    `json:"settings,omitempty"`

	// Version is monotonic: exactly +1 per successful write. A write
	// whose expected version does not match the stored version fails.
	Version int64 `json:"version"`
}

// NodeByID returns the node with the given id, or false if absent.
func (d *Document) NodeByID(id string) (Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// NodeIDs returns the ids of all nodes in document order.
func (d *Document) NodeIDs() []string {
	ids := make([]string, len(d.Nodes))
	for i, n := range d.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Clone returns a deep copy of the document via its JSON form.
// Staleness checks must compare explicit versions on explicit
// snapshots, never in-memory object identity, so callers that need a
// point-in-time copy take one with Clone.
func (d *Document) Clone() (*Document, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	return &out, nil
}

// DepKey identifies a dependency as a (node-id, document-id) pair.
// DocumentID is empty for same-document dependencies.
type DepKey struct {
	NodeID     string `json:"node_id"`
	DocumentID string `json:"document_id,omitempty"`
}

// String renders the key in "document/node" form for use as a map key
// in dependency-hash maps. Same-document keys render as the bare
// node id so records stay readable.
func (k DepKey) String() string {
	if k.DocumentID == "" {
		return k.NodeID
	}
	return k.DocumentID + "/" + k.NodeID
}

// Record is a node execution record: one per (subject, document, node).
// Created on first successful execution, overwritten (never appended)
// on each re-execution, deleted only by cascade-delete of its owner.
type Record struct {
	SubjectID  string `json:"subject_id"`
	DocumentID string `json:"document_id"`
	NodeID     string `json:"node_id"`

	// Output is the node's last output; error-marker outputs are
	// stored here too so downstream consumers see a visible failure.
	Output any `json:"output"`

	// OutputHash is the content hash of Output at last execution.
	OutputHash string `json:"output_hash"`

	// DepHashes maps DepKey.String() to the dependency's content hash
	// as observed at the time this record was last computed.
	DepHashes map[string]string `json:"dep_hashes"`

	// Version is monotonic per record, bumped on every re-execution.
	Version int64 `json:"version"`

	ExecutedAt time.Time `json:"executed_at"`
}

// AuditEntry is an immutable record of one save attempt, accepted or
// rejected. Entries are append-only and never mutated.
type AuditEntry struct {
	Seq        int64  `json:"seq"`
	DocumentID string `json:"document_id"`

	OldName string `json:"old_name"`
	NewName string `json:"new_name"`

	OldNodeCount      int `json:"old_node_count"`
	NewNodeCount      int `json:"new_node_count"`
	OldConnectorCount int `json:"old_connector_count"`
	NewConnectorCount int `json:"new_connector_count"`

	// NodeSetHash digests the incoming node-id set.
	NodeSetHash string `json:"node_set_hash"`

	// Source tags the client origin of the attempt.
	Source string `json:"source"`

	// Outcome is the terminal state of the save state machine:
	// "applied", "identity_mismatch", "suspicious_overwrite",
	// "version_mismatch".
	Outcome string `json:"outcome"`

	Suspicious   bool    `json:"suspicious"`
	OverlapRatio float64 `json:"overlap_ratio"`

	// TxnID is the optional client transaction id, for correlating
	// retries of the same logical save.
	TxnID string `json:"txn_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
