package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/cascade/internal/pipeline"
	"github.com/roach88/cascade/internal/store"
)

// Mode selects how a run treats cached outputs.
type Mode string

const (
	// ModeCascade skips nodes whose dependency hashes are unchanged.
	ModeCascade Mode = "cascade"
	// ModeForce executes every node regardless of cache state.
	ModeForce Mode = "force"
)

// ValidModes defines the allowed run modes.
var ValidModes = map[Mode]bool{ModeCascade: true, ModeForce: true}

// NodeStatus is the terminal state of one node within a run.
type NodeStatus string

const (
	StatusExecuted       NodeStatus = "executed"
	StatusSkippedCached  NodeStatus = "skipped_cached"
	StatusFailed         NodeStatus = "failed"
	StatusOrderingFailed NodeStatus = "ordering_failed"
)

// NodeResult records the outcome of one node in a run.
type NodeResult struct {
	NodeID string     `json:"node_id"`
	Status NodeStatus `json:"status"`

	// Seq is the logical step number within this run.
	Seq int64 `json:"seq"`

	// Reason is the cache decision that led here (cascade mode).
	Reason Reason `json:"reason,omitempty"`

	// Output is the node's output for this run: freshly computed,
	// reused from cache, or an error marker.
	Output     any    `json:"output,omitempty"`
	OutputHash string `json:"output_hash,omitempty"`

	// Error holds the executor or ordering failure message.
	Error string `json:"error,omitempty"`
}

// RunResult is the outcome of one run invocation.
type RunResult struct {
	DocumentID string `json:"document_id"`
	SubjectID  string `json:"subject_id"`
	Mode       Mode   `json:"mode"`

	// Results are in execution order; ordering failures come last.
	Results []NodeResult `json:"results"`

	// Downstream lists the direct dependents of the target node for
	// single-node reruns, so the caller can chain follow-up runs.
	Downstream []string `json:"downstream,omitempty"`
}

// Executed returns the ids of nodes that actually executed.
func (r *RunResult) Executed() []string {
	var out []string
	for _, res := range r.Results {
		if res.Status == StatusExecuted || res.Status == StatusFailed {
			out = append(out, res.NodeID)
		}
	}
	return out
}

// Result returns the result for a node id, if present.
func (r *RunResult) Result(nodeID string) (NodeResult, bool) {
	for _, res := range r.Results {
		if res.NodeID == nodeID {
			return res, true
		}
	}
	return NodeResult{}, false
}

// Scheduler drives runs over a document. One Scheduler is safe for
// sequential reuse across runs; within a run, nodes execute strictly
// in topological order so side effects (usage logging, paid model
// calls) happen in a deterministic order.
type Scheduler struct {
	store       *store.Store
	registry    *Registry
	cache       *Cache
	logger      *slog.Logger
	nodeTimeout time.Duration
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithNodeTimeout bounds each executor call. Zero means no bound.
func WithNodeTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.nodeTimeout = d }
}

// WithLogger sets the run logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a scheduler over the given store and registry.
func NewScheduler(st *store.Store, reg *Registry, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:    st,
		registry: reg,
		cache:    NewCache(st),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes a document for one subject in the given mode.
//
// The returned error covers run-level failures only (bad mode, store
// breakage). Per-node executor failures never abort the run; they
// surface as StatusFailed results with error-marker outputs.
func (s *Scheduler) Run(ctx context.Context, doc *pipeline.Document, subjectID string, mode Mode) (*RunResult, error) {
	if !ValidModes[mode] {
		return nil, fmt.Errorf("invalid run mode %q", mode)
	}

	subject := doc.Settings.SubjectFor(subjectID)
	result := &RunResult{DocumentID: doc.ID, SubjectID: subject, Mode: mode}
	clock := NewClock()

	ordered, unresolved := orderNodes(doc)
	s.logger.Info("run ordered",
		"document", doc.ID, "subject", subject, "mode", mode,
		"nodes", len(ordered), "unresolved", len(unresolved))

	for _, node := range ordered {
		deps := pipeline.Dependencies(node)

		if mode == ModeCascade {
			decision, err := s.cache.ShouldExecute(ctx, node, deps, subject, doc)
			if err != nil {
				return nil, &RunError{Code: ErrCodeStore, Message: err.Error(), DocumentID: doc.ID, NodeID: node.ID}
			}
			if !decision.Execute {
				rec, err := s.store.GetRecord(ctx, subject, doc.ID, node.ID)
				if err != nil {
					return nil, &RunError{Code: ErrCodeStore, Message: err.Error(), DocumentID: doc.ID, NodeID: node.ID}
				}
				result.Results = append(result.Results, NodeResult{
					NodeID:     node.ID,
					Status:     StatusSkippedCached,
					Seq:        clock.Next(),
					Reason:     decision.Reason,
					Output:     rec.Output,
					OutputHash: rec.OutputHash,
				})
				continue
			}
			res := s.executeNode(ctx, doc, subject, node, deps)
			res.Seq = clock.Next()
			res.Reason = decision.Reason
			result.Results = append(result.Results, res)
			continue
		}

		res := s.executeNode(ctx, doc, subject, node, deps)
		res.Seq = clock.Next()
		result.Results = append(result.Results, res)
	}

	for _, nodeID := range unresolved {
		s.logger.Warn("node never ready", "document", doc.ID, "node", nodeID)
		result.Results = append(result.Results, NodeResult{
			NodeID: nodeID,
			Status: StatusOrderingFailed,
			Seq:    clock.Next(),
			Error:  "unresolved dependency cycle",
		})
	}

	return result, nil
}

// RunNode force-executes a single node and returns its direct
// downstream dependents for the caller to chain. Used for isolated
// manual reruns from the editor.
func (s *Scheduler) RunNode(ctx context.Context, doc *pipeline.Document, subjectID, nodeID string) (*RunResult, error) {
	node, ok := doc.NodeByID(nodeID)
	if !ok {
		return nil, NewUnknownNodeError(doc.ID, nodeID)
	}
	if !node.Type.Executable() {
		return nil, &RunError{
			Code:       ErrCodeNotExecutable,
			Message:    "visual-only nodes cannot execute",
			DocumentID: doc.ID,
			NodeID:     nodeID,
		}
	}

	subject := doc.Settings.SubjectFor(subjectID)
	result := &RunResult{DocumentID: doc.ID, SubjectID: subject, Mode: ModeForce}

	res := s.executeNode(ctx, doc, subject, node, pipeline.Dependencies(node))
	res.Seq = 1
	result.Results = append(result.Results, res)
	result.Downstream = pipeline.Downstream(doc, nodeID)
	return result, nil
}

// executeNode resolves dependency outputs, dispatches to the
// registered executor, and persists the resulting record.
func (s *Scheduler) executeNode(ctx context.Context, doc *pipeline.Document, subject string, node pipeline.Node, deps []pipeline.DepKey) NodeResult {
	depOutputs := make(map[string]any, len(deps))
	depHashes := make(map[string]string, len(deps))
	for _, dep := range deps {
		depDoc := dep.DocumentID
		if depDoc == "" {
			depDoc = doc.ID
		}
		rec, err := s.store.GetRecord(ctx, subject, depDoc, dep.NodeID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return s.failNode(ctx, doc, subject, node, depHashes, fmt.Errorf("resolve dependency %q: %w", dep.String(), err))
		}
		if rec.OutputHash == "" {
			continue
		}
		depOutputs[dep.String()] = rec.Output
		depHashes[dep.String()] = rec.OutputHash
	}

	exec, ok := s.registry.Lookup(node.Type)
	if !ok {
		return s.failNode(ctx, doc, subject, node, depHashes, fmt.Errorf("no executor registered for node type %q", node.Type))
	}

	execCtx := ctx
	if s.nodeTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, s.nodeTimeout)
		defer cancel()
	}

	output, err := exec.Execute(execCtx, node, depOutputs, subject)
	if err != nil {
		// A timed-out or cancelled call may have done partial work; it
		// must not replace a previously valid cached record with an
		// error marker plus a fresh executed timestamp.
		if execCtx.Err() != nil && s.hasValidRecord(ctx, subject, doc.ID, node.ID) {
			s.logger.Warn("executor timed out, keeping prior record",
				"document", doc.ID, "node", node.ID, "error", err)
			return NodeResult{
				NodeID: node.ID,
				Status: StatusFailed,
				Error:  err.Error(),
			}
		}
		return s.failNode(ctx, doc, subject, node, depHashes, err)
	}

	hash, err := pipeline.OutputHash(output)
	if err != nil {
		return s.failNode(ctx, doc, subject, node, depHashes, fmt.Errorf("hash output: %w", err))
	}

	rec := &pipeline.Record{
		SubjectID:  subject,
		DocumentID: doc.ID,
		NodeID:     node.ID,
		Output:     output,
		OutputHash: hash,
		DepHashes:  depHashes,
		ExecutedAt: time.Now().UTC(),
	}
	if err := s.store.UpsertRecord(ctx, rec); err != nil {
		s.logger.Error("record write failed", "document", doc.ID, "node", node.ID, "error", err)
		return NodeResult{NodeID: node.ID, Status: StatusFailed, Error: err.Error()}
	}

	s.logger.Debug("node executed", "document", doc.ID, "node", node.ID, "hash", hash)
	return NodeResult{
		NodeID:     node.ID,
		Status:     StatusExecuted,
		Output:     output,
		OutputHash: hash,
	}
}

// failNode records an executor failure as the node's output so
// downstream consumers see a visible failure marker rather than stale
// or missing data.
func (s *Scheduler) failNode(ctx context.Context, doc *pipeline.Document, subject string, node pipeline.Node, depHashes map[string]string, cause error) NodeResult {
	s.logger.Warn("node failed", "document", doc.ID, "node", node.ID, "error", cause)

	marker := ErrorMarker(node.ID, cause)
	hash, err := pipeline.OutputHash(marker)
	if err != nil {
		// Markers are plain maps of strings and bools; hashing one
		// cannot fail unless the message holds invalid UTF-8.
		return NodeResult{NodeID: node.ID, Status: StatusFailed, Error: cause.Error()}
	}

	rec := &pipeline.Record{
		SubjectID:  subject,
		DocumentID: doc.ID,
		NodeID:     node.ID,
		Output:     marker,
		OutputHash: hash,
		DepHashes:  depHashes,
		ExecutedAt: time.Now().UTC(),
	}
	if err := s.store.UpsertRecord(ctx, rec); err != nil {
		s.logger.Error("marker write failed", "document", doc.ID, "node", node.ID, "error", err)
	}

	return NodeResult{
		NodeID:     node.ID,
		Status:     StatusFailed,
		Output:     marker,
		OutputHash: hash,
		Error:      cause.Error(),
	}
}

func (s *Scheduler) hasValidRecord(ctx context.Context, subject, docID, nodeID string) bool {
	_, found, err := s.store.GetOutputHash(ctx, subject, docID, nodeID)
	return err == nil && found
}
