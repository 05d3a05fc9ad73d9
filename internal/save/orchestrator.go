// Package save is the client-side save orchestrator. It serializes
// save attempts for one document, skips saves when nothing changed,
// backs up pending state to disk before every network send, and
// retries exactly once on a version conflict with a fresh snapshot.
package save

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/cascade/internal/persist"
	"github.com/roach88/cascade/internal/pipeline"
)

// Transport sends documents to the persistence layer. Implementations
// return *persist.Rejection (wrapped or bare) for refused saves so the
// orchestrator can distinguish retryable conflicts from integrity
// failures.
type Transport interface {
	Save(ctx context.Context, req *persist.SaveRequest) (*pipeline.Document, error)
	Fetch(ctx context.Context, documentID string) (*pipeline.Document, error)
}

// Source yields the current in-memory document state. The orchestrator
// calls it again before a conflict retry so edits made while the first
// attempt was in flight are not lost to a stale snapshot.
type Source interface {
	Current() Snapshot
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func() Snapshot

func (f SourceFunc) Current() Snapshot { return f() }

// Status classifies the outcome of one Save call.
type Status string

const (
	// StatusSaved: the document was written and the new version adopted.
	StatusSaved Status = "saved"
	// StatusClean: nothing changed since the last successful save.
	StatusClean Status = "clean"
)

// Result reports what a Save call did.
type Result struct {
	Status  Status `json:"status"`
	Version int64  `json:"version"`
	// Retried is true when the save succeeded on the second attempt
	// after a version conflict.
	Retried bool `json:"retried"`
}

// Orchestrator drives saves for a single document. All state lives in
// the struct, not in package globals, so independent documents get
// independent orchestrators with no cross-talk.
type Orchestrator struct {
	documentID string
	transport  Transport
	source     Source
	backup     *Backup
	logger     *slog.Logger

	identity  *persist.IdentityBinding
	window    time.Duration
	sourceTag string

	// mu enforces single-flight: a new save waits for any in-progress
	// save to finish before it even reads the snapshot.
	mu        sync.Mutex
	version   int64
	savedHash string
}

type Option func(*Orchestrator)

// WithIdentity attaches the identity binding captured at load time.
func WithIdentity(id persist.IdentityBinding) Option {
	return func(o *Orchestrator) { o.identity = &id }
}

// WithSource overrides the client-origin tag recorded in the audit
// trail ("editor" unless overridden).
func WithSource(tag string) Option {
	return func(o *Orchestrator) { o.sourceTag = tag }
}

// WithRecoveryWindow overrides the backup freshness window.
func WithRecoveryWindow(d time.Duration) Option {
	return func(o *Orchestrator) { o.window = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New builds an orchestrator for one document. version is the version
// the client observed when it loaded the document.
func New(documentID string, version int64, transport Transport, source Source, backup *Backup, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		documentID: documentID,
		transport:  transport,
		source:     source,
		backup:     backup,
		logger:     slog.Default(),
		version:    version,
		window:     DefaultRecoveryWindow,
		sourceTag:  "editor",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Version returns the last adopted document version.
func (o *Orchestrator) Version() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.version
}

// MarkSaved records the given snapshot as the clean baseline without
// saving. Used after an initial load or a backup recovery decision.
func (o *Orchestrator) MarkSaved(snap Snapshot, version int64) error {
	hash, err := snap.Hash()
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.version = version
	o.savedHash = hash
	return nil
}

// Save runs one full save cycle. Concurrent callers are strictly
// serialized; each waits its turn and then operates on the snapshot
// current at that moment.
//
// The local backup is written before the network send and cleared only
// after a confirmed success. Any failure leaves it in place as the
// recovery path.
func (o *Orchestrator) Save(ctx context.Context) (Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := o.source.Current()
	hash, err := snap.Hash()
	if err != nil {
		return Result{}, fmt.Errorf("snapshot hash: %w", err)
	}
	if hash == o.savedHash {
		return Result{Status: StatusClean, Version: o.version}, nil
	}

	if err := o.backup.Write(o.documentID, o.version, snap); err != nil {
		return Result{}, err
	}

	doc, err := o.attempt(ctx, snap, o.version)
	if err == nil {
		return o.adopt(doc, hash, false)
	}

	rej, ok := persist.AsRejection(err)
	if !ok || !rej.Retryable() {
		return Result{}, err
	}

	// Version conflict. Refetch the stored version, then re-read the
	// in-memory document: the user may have kept editing while the
	// first attempt was in flight, and retrying the stale snapshot
	// would silently discard those edits.
	o.logger.Info("save conflict, retrying",
		"document", o.documentID, "stored_version", rej.CurrentVersion)

	stored, err := o.transport.Fetch(ctx, o.documentID)
	if err != nil {
		return Result{}, fmt.Errorf("refetch after conflict: %w", err)
	}

	snap = o.source.Current()
	hash, err = snap.Hash()
	if err != nil {
		return Result{}, fmt.Errorf("snapshot hash: %w", err)
	}
	if err := o.backup.Write(o.documentID, stored.Version, snap); err != nil {
		return Result{}, err
	}

	doc, err = o.attempt(ctx, snap, stored.Version)
	if err != nil {
		// One retry only. A second conflict means sustained contention
		// and needs the caller's attention, not a retry loop.
		return Result{}, err
	}
	return o.adopt(doc, hash, true)
}

func (o *Orchestrator) attempt(ctx context.Context, snap Snapshot, expectedVersion int64) (*pipeline.Document, error) {
	req := &persist.SaveRequest{
		DocumentID:      o.documentID,
		Name:            snap.Name,
		Nodes:           snap.Nodes,
		Connectors:      snap.Connectors,
		Variables:       snap.Variables,
		Settings:        snap.Settings,
		ExpectedVersion: expectedVersion,
		Source:          o.sourceTag,
		Identity:        o.identity,
	}
	return o.transport.Save(ctx, req)
}

func (o *Orchestrator) adopt(doc *pipeline.Document, hash string, retried bool) (Result, error) {
	o.version = doc.Version
	o.savedHash = hash
	if err := o.backup.Clear(o.documentID); err != nil {
		o.logger.Warn("backup clear failed", "document", o.documentID, "error", err)
	}
	o.logger.Info("document saved", "document", o.documentID, "version", doc.Version)
	return Result{Status: StatusSaved, Version: doc.Version, Retried: retried}, nil
}

// Flush is the last-resort path for abrupt termination. If there are
// unsaved changes it writes the local backup synchronously, then fires
// a best-effort network send without waiting for the reply. The backup
// write is the guarantee; the send is opportunistic.
func (o *Orchestrator) Flush(timeout time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := o.source.Current()
	hash, err := snap.Hash()
	if err != nil {
		return fmt.Errorf("snapshot hash: %w", err)
	}
	if hash == o.savedHash {
		return nil
	}

	if err := o.backup.Write(o.documentID, o.version, snap); err != nil {
		return err
	}

	version := o.version
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := o.attempt(ctx, snap, version); err != nil {
			o.logger.Warn("last-resort save failed", "document", o.documentID, "error", err)
		}
	}()
	return nil
}

// Recover checks for a fresh local backup from a previous process. It
// returns the backed-up state for the caller to offer as a recovery
// prompt; stale or absent backups yield ok=false.
func (o *Orchestrator) Recover() (*BackupFile, bool, error) {
	return o.backup.Recover(o.documentID, o.window)
}
