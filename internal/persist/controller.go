package persist

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/cascade/internal/pipeline"
	"github.com/roach88/cascade/internal/store"
)

// IdentityBinding pairs the display name a client saw at load time
// with an opaque session token. The server compares only the name;
// the token exists for audit correlation and is never interpreted.
type IdentityBinding struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

// SaveRequest is one attempt to overwrite a stored document.
type SaveRequest struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`

	Nodes      []pipeline.Node      `json:"nodes"`
	Connectors []pipeline.Connector `json:"connectors"`
	Variables  []pipeline.Variable  `json:"variables"`
	Settings   pipeline.Settings    `json:"settings"`

	// ExpectedVersion is the version the client last observed. The
	// write applies only if the stored version still equals it.
	ExpectedVersion int64 `json:"expected_version"`

	// Source tags the client origin ("editor", "import", "api").
	Source string `json:"source"`

	// Identity is the optional identity binding captured at load time.
	Identity *IdentityBinding `json:"identity,omitempty"`

	// TxnID is an optional client transaction id correlating retries.
	TxnID string `json:"txn_id,omitempty"`

	// ProvisionSubjects lists subject ids whose per-node record rows
	// should be provisioned after a successful save. Documents in
	// document-attribution mode ignore this and provision their shared
	// record set.
	ProvisionSubjects []string `json:"provision_subjects,omitempty"`
}

func (r *SaveRequest) nodeIDs() []string {
	ids := make([]string, len(r.Nodes))
	for i, n := range r.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Controller applies optimistic-lock writes to pipeline documents.
// Each request is handled statelessly; the stored version column,
// guarded by compare-and-swap, is the only shared mutable resource.
type Controller struct {
	store  *store.Store
	policy Policy
	logger *slog.Logger
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithPolicy overrides the anomaly thresholds.
func WithPolicy(p Policy) ControllerOption {
	return func(c *Controller) { c.policy = p }
}

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a persistence controller over the store.
func NewController(st *store.Store, opts ...ControllerOption) *Controller {
	c := &Controller{
		store:  st,
		policy: DefaultPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create stores a brand-new document at version 1 and provisions its
// record rows. Creation bypasses the identity and anomaly checks:
// there is no stored state to contaminate yet. One audit entry is
// still appended.
func (c *Controller) Create(ctx context.Context, req *SaveRequest) (*pipeline.Document, error) {
	doc := c.documentFrom(req)
	if err := c.store.InsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	c.audit(ctx, req, nil, "applied", false, 1.0)
	if err := c.provision(ctx, doc, req.ProvisionSubjects); err != nil {
		return nil, err
	}
	c.logger.Info("document created", "document", doc.ID, "name", doc.Name, "nodes", len(doc.Nodes))
	return doc, nil
}

// Save runs the full state machine against an existing document.
//
// On success it returns the updated document with its new version.
// On refusal it returns a *Rejection as the error; callers distinguish
// outcomes with AsRejection. Writes are all-or-nothing: a rejected
// save never mutates stored state, only the audit log grows.
func (c *Controller) Save(ctx context.Context, req *SaveRequest) (*pipeline.Document, error) {
	current, err := c.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load current document: %w", err)
	}

	// IdentityCheck: a client that loaded document "X" while X was
	// renamed (or another document's data was routed to this id) holds
	// a stale view; applying its write would overwrite someone else's
	// document.
	if req.Identity != nil && req.Identity.Name != current.Name {
		rej := &Rejection{
			Code:          CodeIdentityMismatch,
			Message:       "identity binding names a different document",
			DocumentID:    req.DocumentID,
			CurrentName:   current.Name,
			AttemptedName: req.Identity.Name,
		}
		c.reject(ctx, req, current, rej, false, 0)
		return nil, rej
	}

	// AnomalyCheck: any suspicious write is rejected outright,
	// regardless of its source.
	renaming := req.Name != current.Name
	flagged, ratio := c.policy.suspicious(current.NodeIDs(), req.nodeIDs(), renaming)
	if flagged {
		rej := &Rejection{
			Code:              CodeSuspiciousOverwrite,
			Message:           "incoming node set overlaps too little with stored document",
			DocumentID:        req.DocumentID,
			CurrentName:       current.Name,
			AttemptedName:     req.Name,
			CurrentNodeCount:  len(current.Nodes),
			IncomingNodeCount: len(req.Nodes),
			OverlapRatio:      ratio,
		}
		c.reject(ctx, req, current, rej, true, ratio)
		return nil, rej
	}

	// VersionCheck: atomic compare-and-swap on the version column.
	doc := c.documentFrom(req)
	swapped, err := c.store.UpdateDocumentCAS(ctx, doc, req.ExpectedVersion)
	if err != nil {
		return nil, fmt.Errorf("apply save: %w", err)
	}
	if !swapped {
		stored, verr := c.store.GetDocumentVersion(ctx, req.DocumentID)
		if verr != nil {
			return nil, fmt.Errorf("apply save: read current version: %w", verr)
		}
		rej := &Rejection{
			Code:             CodeVersionMismatch,
			Message:          "expected version is stale; refetch and retry",
			DocumentID:       req.DocumentID,
			CurrentVersion:   stored,
			AttemptedVersion: req.ExpectedVersion,
			OverlapRatio:     ratio,
		}
		c.reject(ctx, req, current, rej, false, ratio)
		return nil, rej
	}

	c.audit(ctx, req, current, "applied", false, ratio)
	if err := c.provision(ctx, doc, req.ProvisionSubjects); err != nil {
		return nil, err
	}

	c.logger.Info("document saved",
		"document", doc.ID, "version", doc.Version, "source", req.Source)
	return doc, nil
}

func (c *Controller) documentFrom(req *SaveRequest) *pipeline.Document {
	return &pipeline.Document{
		ID:         req.DocumentID,
		Name:       req.Name,
		Nodes:      req.Nodes,
		Connectors: req.Connectors,
		Variables:  req.Variables,
		Settings:   req.Settings,
	}
}

// provision upserts empty record rows for every node of the saved
// document, scoped by the document's attribution mode. Idempotent.
func (c *Controller) provision(ctx context.Context, doc *pipeline.Document, subjects []string) error {
	nodeIDs := make([]string, 0, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if n.Type.Executable() {
			nodeIDs = append(nodeIDs, n.ID)
		}
	}

	if doc.Settings.Attribution == pipeline.AttributionDocument {
		subjects = []string{pipeline.DocumentSubject}
	}
	for _, subject := range subjects {
		if err := c.store.ProvisionRecords(ctx, subject, doc.ID, nodeIDs); err != nil {
			return fmt.Errorf("provision records: %w", err)
		}
	}
	return nil
}

func (c *Controller) reject(ctx context.Context, req *SaveRequest, current *pipeline.Document, rej *Rejection, suspicious bool, ratio float64) {
	c.logger.Warn("save rejected",
		"document", req.DocumentID, "code", rej.Code, "source", req.Source)
	c.audit(ctx, req, current, rej.Code.outcome(), suspicious, ratio)
}

// audit appends one entry per attempt. Audit failures are logged, not
// propagated: the save outcome is already decided, and the caller can
// do nothing useful about a log write error.
func (c *Controller) audit(ctx context.Context, req *SaveRequest, current *pipeline.Document, outcome string, suspicious bool, ratio float64) {
	entry := &pipeline.AuditEntry{
		DocumentID:        req.DocumentID,
		NewName:           req.Name,
		NewNodeCount:      len(req.Nodes),
		NewConnectorCount: len(req.Connectors),
		NodeSetHash:       pipeline.NodeSetHash(req.nodeIDs()),
		Source:            req.Source,
		Outcome:           outcome,
		Suspicious:        suspicious,
		OverlapRatio:      ratio,
		TxnID:             req.TxnID,
	}
	if current != nil {
		entry.OldName = current.Name
		entry.OldNodeCount = len(current.Nodes)
		entry.OldConnectorCount = len(current.Connectors)
	}
	if _, err := c.store.AppendAudit(ctx, entry); err != nil {
		c.logger.Error("audit append failed", "document", req.DocumentID, "error", err)
	}
}
