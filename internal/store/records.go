package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/cascade/internal/pipeline"
)

// UpsertRecord writes a node execution record, overwriting any prior
// record for the same (subject, document, node) key. The record
// version increments by one on every overwrite; a provisioned row at
// version 0 moves to version 1 on first execution.
func (s *Store) UpsertRecord(ctx context.Context, rec *pipeline.Record) error {
	output, err := marshalJSON("output", rec.Output)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	depHashes, err := marshalJSON("dep_hashes", rec.DepHashes)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}

	executedAt := rec.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO node_records
		(subject_id, document_id, node_id, output, output_hash, dep_hashes, version, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(subject_id, document_id, node_id) DO UPDATE SET
			output = excluded.output,
			output_hash = excluded.output_hash,
			dep_hashes = excluded.dep_hashes,
			version = node_records.version + 1,
			executed_at = excluded.executed_at
	`,
		rec.SubjectID, rec.DocumentID, rec.NodeID,
		output, rec.OutputHash, depHashes,
		executedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// GetRecord returns the execution record for a (subject, document,
// node) key, or ErrNotFound. Provisioned-but-never-executed rows are
// returned with an empty output hash and nil dependency map; callers
// treat those as "never executed".
func (s *Store) GetRecord(ctx context.Context, subjectID, documentID, nodeID string) (*pipeline.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT subject_id, document_id, node_id, output, output_hash, dep_hashes, version, executed_at
		FROM node_records
		WHERE subject_id = ? AND document_id = ? AND node_id = ?
	`, subjectID, documentID, nodeID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s/%s/%s: %w", subjectID, documentID, nodeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// GetOutputHash returns the stored content hash for a dependency, or
// found=false when the record is absent or has never executed.
func (s *Store) GetOutputHash(ctx context.Context, subjectID, documentID, nodeID string) (hash string, found bool, err error) {
	var stored sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT output_hash FROM node_records
		WHERE subject_id = ? AND document_id = ? AND node_id = ?
	`, subjectID, documentID, nodeID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get output hash: %w", err)
	}
	if !stored.Valid || stored.String == "" {
		return "", false, nil
	}
	return stored.String, true, nil
}

// ProvisionRecords inserts empty execution rows for every given node,
// scoped to the subject. Idempotent: existing rows, provisioned or
// executed, are left untouched.
func (s *Store) ProvisionRecords(ctx context.Context, subjectID, documentID string, nodeIDs []string) error {
	if len(nodeIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("provision records: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, nodeID := range nodeIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO node_records (subject_id, document_id, node_id, version)
			VALUES (?, ?, ?, 0)
			ON CONFLICT(subject_id, document_id, node_id) DO NOTHING
		`, subjectID, documentID, nodeID)
		if err != nil {
			return fmt.Errorf("provision records: node %q: %w", nodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("provision records: commit: %w", err)
	}
	return nil
}

// ListRecords returns all execution records for a (subject, document)
// pair, ordered by node id for deterministic output.
func (s *Store) ListRecords(ctx context.Context, subjectID, documentID string) ([]pipeline.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, document_id, node_id, output, output_hash, dep_hashes, version, executed_at
		FROM node_records
		WHERE subject_id = ? AND document_id = ?
		ORDER BY node_id COLLATE BINARY ASC
	`, subjectID, documentID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if out == nil {
		out = []pipeline.Record{}
	}
	return out, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*pipeline.Record, error) {
	var rec pipeline.Record
	var output, outputHash, depHashes, executedAt sql.NullString

	if err := row.Scan(
		&rec.SubjectID, &rec.DocumentID, &rec.NodeID,
		&output, &outputHash, &depHashes, &rec.Version, &executedAt,
	); err != nil {
		return nil, err
	}

	if output.Valid {
		if err := unmarshalJSON("output", output.String, &rec.Output); err != nil {
			return nil, err
		}
	}
	rec.OutputHash = outputHash.String
	if depHashes.Valid && depHashes.String != "" {
		if err := unmarshalJSON("dep_hashes", depHashes.String, &rec.DepHashes); err != nil {
			return nil, err
		}
	}
	if executedAt.Valid && executedAt.String != "" {
		ts, err := time.Parse(timeFormat, executedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse executed_at: %w", err)
		}
		rec.ExecutedAt = ts
	}
	return &rec, nil
}
