package engine

import (
	"errors"
	"fmt"
)

// RunError represents an error detected while preparing or driving a
// run. Node-local executor failures are NOT RunErrors; they are
// captured per node inside the run result.
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode

	// Message is a human-readable description.
	Message string

	// DocumentID identifies the affected document.
	DocumentID string

	// NodeID identifies the affected node, when the error is scoped
	// to one node.
	NodeID string
}

// RunErrorCode categorizes run errors.
type RunErrorCode string

const (
	// ErrCodeUnknownNode indicates a targeted rerun named a node that
	// is not in the document.
	ErrCodeUnknownNode RunErrorCode = "UNKNOWN_NODE"

	// ErrCodeNotExecutable indicates a targeted rerun named a
	// visual-only node.
	ErrCodeNotExecutable RunErrorCode = "NOT_EXECUTABLE"

	// ErrCodeStore indicates the record store failed mid-run.
	ErrCodeStore RunErrorCode = "STORE_FAILURE"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: %s (document=%s, node=%s)", e.Code, e.Message, e.DocumentID, e.NodeID)
	}
	return fmt.Sprintf("%s: %s (document=%s)", e.Code, e.Message, e.DocumentID)
}

// IsUnknownNode reports whether err is an UNKNOWN_NODE run error.
// Uses errors.As to handle wrapped errors.
func IsUnknownNode(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == ErrCodeUnknownNode
	}
	return false
}

// NewUnknownNodeError creates an UNKNOWN_NODE error.
func NewUnknownNodeError(documentID, nodeID string) *RunError {
	return &RunError{
		Code:       ErrCodeUnknownNode,
		Message:    "node not found in document",
		DocumentID: documentID,
		NodeID:     nodeID,
	}
}

// ErrorMarkerKey flags an output value as an execution-failure marker.
const ErrorMarkerKey = "__cascade_error__"

// ErrorMarker wraps an executor failure as a node output. The marker
// is stored in the node's execution record like any output, hashes
// like any output, and therefore propagates invalidation downstream
// exactly like a real output change.
func ErrorMarker(nodeID string, err error) map[string]any {
	return map[string]any{
		ErrorMarkerKey: true,
		"node_id":      nodeID,
		"message":      err.Error(),
	}
}

// IsErrorMarker reports whether an output value is an error marker.
func IsErrorMarker(output any) bool {
	m, ok := output.(map[string]any)
	if !ok {
		return false
	}
	flagged, ok := m[ErrorMarkerKey].(bool)
	return ok && flagged
}
