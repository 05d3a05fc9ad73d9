package save

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/cascade/internal/pipeline"
)

// DefaultRecoveryWindow is how long a local backup stays eligible for
// recovery after it was written. Older backups are presumed abandoned.
const DefaultRecoveryWindow = 60 * time.Minute

// BackupFile is the durable on-disk copy of an unsaved document,
// written before every network send so a crash mid-save loses nothing.
type BackupFile struct {
	DocumentID string    `json:"document_id"`
	Version    int64     `json:"version"`
	Snapshot   Snapshot  `json:"snapshot"`
	SavedAt    time.Time `json:"saved_at"`
}

// Backup stores one pending-state file per document under a directory.
type Backup struct {
	dir string
}

func NewBackup(dir string) *Backup {
	return &Backup{dir: dir}
}

func (b *Backup) path(documentID string) string {
	return filepath.Join(b.dir, documentID+".backup.json")
}

// Write persists the snapshot durably. The file lands via a temp-file
// rename so a crash never leaves a truncated backup behind.
func (b *Backup) Write(documentID string, version int64, snap Snapshot) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("backup dir: %w", err)
	}
	file := BackupFile{
		DocumentID: documentID,
		Version:    version,
		Snapshot:   snap,
		SavedAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}

	tmp := b.path(documentID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	if err := os.Rename(tmp, b.path(documentID)); err != nil {
		return fmt.Errorf("finalize backup: %w", err)
	}
	return nil
}

// Clear removes the backup after a confirmed successful save.
func (b *Backup) Clear(documentID string) error {
	err := os.Remove(b.path(documentID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear backup: %w", err)
	}
	return nil
}

// Recover returns the backed-up state for a document if one exists and
// is younger than the window. A stale backup is discarded on the spot:
// it predates whatever the user has been doing since, and offering it
// for recovery would resurrect long-dead edits.
func (b *Backup) Recover(documentID string, window time.Duration) (*BackupFile, bool, error) {
	data, err := os.ReadFile(b.path(documentID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read backup: %w", err)
	}

	var file BackupFile
	if err := json.Unmarshal(data, &file); err != nil {
		// Corrupt backup. Drop it rather than blocking startup.
		_ = b.Clear(documentID)
		return nil, false, nil
	}
	if time.Since(file.SavedAt) > window {
		_ = b.Clear(documentID)
		return nil, false, nil
	}
	return &file, true, nil
}

// Snapshot is an explicit copy of the editable document state. Saves
// compare snapshots by content hash, never by reference identity.
type Snapshot struct {
	Name       string               `json:"name"`
	Nodes      []pipeline.Node      `json:"nodes"`
	Connectors []pipeline.Connector `json:"connectors"`
	Variables  []pipeline.Variable  `json:"variables"`
	Settings   pipeline.Settings    `json:"settings"`
}

// Hash is the content digest used for skip-if-clean checks.
func (s Snapshot) Hash() (string, error) {
	return pipeline.OutputHash(s)
}
