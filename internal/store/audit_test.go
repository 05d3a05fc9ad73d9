package store

import (
	"context"
	"testing"

	"github.com/roach88/cascade/internal/pipeline"
)

func TestAppendAudit_AssignsIncreasingSeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 3; i++ {
		e := &pipeline.AuditEntry{
			DocumentID:  "doc-1",
			OldName:     "Intake Flow",
			NewName:     "Intake Flow",
			NodeSetHash: pipeline.NodeSetHash([]string{"n1"}),
			Source:      "editor",
			Outcome:     "applied",
		}
		seq, err := s.AppendAudit(ctx, e)
		if err != nil {
			t.Fatalf("AppendAudit() failed: %v", err)
		}
		if seq <= last {
			t.Errorf("seq %d not increasing (last %d)", seq, last)
		}
		last = seq
	}
}

func TestReadAudit_AppendOrderAndFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &pipeline.AuditEntry{
		DocumentID: "doc-1", OldName: "A", NewName: "A",
		OldNodeCount: 20, NewNodeCount: 15,
		NodeSetHash: pipeline.NodeSetHash([]string{"x"}),
		Source:      "editor", Outcome: "suspicious_overwrite",
		Suspicious: true, OverlapRatio: 0.0,
	}
	second := &pipeline.AuditEntry{
		DocumentID: "doc-1", OldName: "A", NewName: "B",
		OldNodeCount: 20, NewNodeCount: 20,
		NodeSetHash: pipeline.NodeSetHash([]string{"x"}),
		Source:      "editor", Outcome: "applied",
		OverlapRatio: 1.0, TxnID: "txn-2",
	}
	for _, e := range []*pipeline.AuditEntry{first, second} {
		if _, err := s.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit() failed: %v", err)
		}
	}

	entries, err := s.ReadAudit(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ReadAudit() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if !entries[0].Suspicious || entries[0].Outcome != "suspicious_overwrite" {
		t.Errorf("first entry = %+v, want suspicious rejection", entries[0])
	}
	if entries[1].TxnID != "txn-2" || entries[1].OverlapRatio != 1.0 {
		t.Errorf("second entry = %+v, want applied with txn-2", entries[1])
	}
	if entries[0].CreatedAt.IsZero() {
		t.Error("created_at not populated")
	}
}

func TestReadAudit_EmptyIsNonNil(t *testing.T) {
	s := openTestStore(t)

	entries, err := s.ReadAudit(context.Background(), "absent")
	if err != nil {
		t.Fatalf("ReadAudit() failed: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("entries = %v, want empty non-nil slice", entries)
	}
}
