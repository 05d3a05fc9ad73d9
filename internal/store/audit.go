package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/cascade/internal/pipeline"
)

// AppendAudit appends one audit entry and returns its sequence number.
// The audit log is strictly append-only; there is no update or delete
// path anywhere in this package.
func (s *Store) AppendAudit(ctx context.Context, e *pipeline.AuditEntry) (int64, error) {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log
		(document_id, old_name, new_name,
		 old_node_count, new_node_count, old_connector_count, new_connector_count,
		 node_set_hash, source, outcome, suspicious, overlap_ratio, txn_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.DocumentID, e.OldName, e.NewName,
		e.OldNodeCount, e.NewNodeCount, e.OldConnectorCount, e.NewConnectorCount,
		e.NodeSetHash, e.Source, e.Outcome, e.Suspicious, e.OverlapRatio, e.TxnID,
		createdAt.Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("append audit: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append audit: last insert id: %w", err)
	}
	e.Seq = seq
	return seq, nil
}

// ReadAudit returns all audit entries for a document in append order.
// Returns an empty slice (not nil) when no entries exist.
func (s *Store) ReadAudit(ctx context.Context, documentID string) ([]pipeline.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, document_id, old_name, new_name,
		       old_node_count, new_node_count, old_connector_count, new_connector_count,
		       node_set_hash, source, outcome, suspicious, overlap_ratio, txn_id, created_at
		FROM audit_log
		WHERE document_id = ?
		ORDER BY seq ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("read audit: %w", err)
	}
	defer rows.Close()

	var out []pipeline.AuditEntry
	for rows.Next() {
		var e pipeline.AuditEntry
		var txnID, createdAt string
		if err := rows.Scan(
			&e.Seq, &e.DocumentID, &e.OldName, &e.NewName,
			&e.OldNodeCount, &e.NewNodeCount, &e.OldConnectorCount, &e.NewConnectorCount,
			&e.NodeSetHash, &e.Source, &e.Outcome, &e.Suspicious, &e.OverlapRatio,
			&txnID, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("read audit: %w", err)
		}
		e.TxnID = txnID
		ts, err := time.Parse(timeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("read audit: parse created_at: %w", err)
		}
		e.CreatedAt = ts
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read audit: %w", err)
	}
	if out == nil {
		out = []pipeline.AuditEntry{}
	}
	return out, nil
}
