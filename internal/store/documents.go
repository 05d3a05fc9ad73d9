package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/cascade/internal/pipeline"
)

// GetDocument returns the stored document with the given id.
// Returns ErrNotFound if no such document exists.
func (s *Store) GetDocument(ctx context.Context, id string) (*pipeline.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, nodes, connectors, variables, settings, version
		FROM documents
		WHERE id = ?
	`, id)

	var doc pipeline.Document
	var nodes, connectors, variables, settings string
	err := row.Scan(&doc.ID, &doc.Name, &nodes, &connectors, &variables, &settings, &doc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	if err := unmarshalDocumentColumns(&doc, nodes, connectors, variables, settings); err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// GetDocumentVersion returns only the stored version of a document.
// Returns ErrNotFound if no such document exists.
func (s *Store) GetDocumentVersion(ctx context.Context, id string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM documents WHERE id = ?`, id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get document version: %w", err)
	}
	return version, nil
}

// InsertDocument stores a brand-new document at version 1.
// Fails if a document with the same id already exists.
func (s *Store) InsertDocument(ctx context.Context, doc *pipeline.Document) error {
	nodes, connectors, variables, settings, err := marshalDocumentColumns(doc)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, name, nodes, connectors, variables, settings, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
	`,
		doc.ID, doc.Name, nodes, connectors, variables, settings,
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	doc.Version = 1
	return nil
}

// UpdateDocumentCAS applies a compare-and-swap update: the write
// succeeds only if the stored version still equals expectedVersion,
// and on success the version becomes expectedVersion+1 exactly.
//
// The check and the write are one UPDATE statement, so the swap is
// atomic at the storage layer. Returns swapped=false, without error,
// when the stored version has moved on.
func (s *Store) UpdateDocumentCAS(ctx context.Context, doc *pipeline.Document, expectedVersion int64) (swapped bool, err error) {
	nodes, connectors, variables, settings, err := marshalDocumentColumns(doc)
	if err != nil {
		return false, fmt.Errorf("update document: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET name = ?, nodes = ?, connectors = ?, variables = ?, settings = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		doc.Name, nodes, connectors, variables, settings,
		time.Now().UTC().Format(timeFormat),
		doc.ID, expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("update document: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update document: rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	doc.Version = expectedVersion + 1
	return true, nil
}

// DeleteDocument removes a document and, via foreign-key cascade, all
// of its node execution records. Audit entries are retained: the log
// is append-only even across deletes.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	return nil
}

// ListDocuments returns the id, name, and version of every stored
// document, ordered by id for deterministic output.
func (s *Store) ListDocuments(ctx context.Context) ([]DocumentSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, version FROM documents ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentSummary
	for rows.Next() {
		var d DocumentSummary
		if err := rows.Scan(&d.ID, &d.Name, &d.Version); err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if out == nil {
		out = []DocumentSummary{}
	}
	return out, nil
}

// DocumentSummary is the list-view projection of a document.
type DocumentSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version int64  `json:"version"`
}
