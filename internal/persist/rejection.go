package persist

import (
	"errors"
	"fmt"
)

// RejectionCode classifies why a save was refused.
type RejectionCode string

const (
	// CodeIdentityMismatch: the client's identity binding names a
	// different document than the one stored under this id.
	CodeIdentityMismatch RejectionCode = "IDENTITY_MISMATCH"

	// CodeSuspiciousOverwrite: the incoming node-id set overlaps too
	// little with the stored set.
	CodeSuspiciousOverwrite RejectionCode = "SUSPICIOUS_OVERWRITE"

	// CodeVersionMismatch: the expected version is stale. Retryable
	// after refetching the current document.
	CodeVersionMismatch RejectionCode = "VERSION_MISMATCH"
)

// Rejection is a structured save refusal. It carries enough detail for
// the caller to decide whether to retry or alert a human.
type Rejection struct {
	Code    RejectionCode `json:"code"`
	Message string        `json:"message"`

	DocumentID    string `json:"document_id"`
	CurrentName   string `json:"current_name,omitempty"`
	AttemptedName string `json:"attempted_name,omitempty"`

	CurrentVersion   int64 `json:"current_version,omitempty"`
	AttemptedVersion int64 `json:"attempted_version,omitempty"`

	CurrentNodeCount  int     `json:"current_node_count,omitempty"`
	IncomingNodeCount int     `json:"incoming_node_count,omitempty"`
	OverlapRatio      float64 `json:"overlap_ratio"`
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s (document=%s)", r.Code, r.Message, r.DocumentID)
}

// Retryable reports whether the caller may retry automatically.
// Only version conflicts are; integrity rejections require a human.
func (r *Rejection) Retryable() bool {
	return r.Code == CodeVersionMismatch
}

// AsRejection extracts a Rejection from an error chain.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// outcome maps a rejection code to its audit outcome tag.
func (c RejectionCode) outcome() string {
	switch c {
	case CodeIdentityMismatch:
		return "identity_mismatch"
	case CodeSuspiciousOverwrite:
		return "suspicious_overwrite"
	case CodeVersionMismatch:
		return "version_mismatch"
	}
	return "rejected"
}
