package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/cascade/internal/pipeline"
)

// timeFormat is the stored representation of timestamps. RFC 3339
// with nanoseconds sorts lexicographically within a run.
const timeFormat = time.RFC3339Nano

func marshalJSON(what string, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", what, err)
	}
	return string(raw), nil
}

func unmarshalJSON(what, raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", what, err)
	}
	return nil
}

// marshalDocumentColumns serializes the variable-shaped parts of a
// document for storage. Nodes, connectors, variables, and settings are
// stored as JSON text columns; the version lives in its own column so
// compare-and-swap can run inside a single UPDATE.
func marshalDocumentColumns(doc *pipeline.Document) (nodes, connectors, variables, settings string, err error) {
	if nodes, err = marshalJSON("nodes", doc.Nodes); err != nil {
		return
	}
	if connectors, err = marshalJSON("connectors", doc.Connectors); err != nil {
		return
	}
	if variables, err = marshalJSON("variables", doc.Variables); err != nil {
		return
	}
	settings, err = marshalJSON("settings", doc.Settings)
	return
}

func unmarshalDocumentColumns(doc *pipeline.Document, nodes, connectors, variables, settings string) error {
	if err := unmarshalJSON("nodes", nodes, &doc.Nodes); err != nil {
		return err
	}
	if err := unmarshalJSON("connectors", connectors, &doc.Connectors); err != nil {
		return err
	}
	if err := unmarshalJSON("variables", variables, &doc.Variables); err != nil {
		return err
	}
	return unmarshalJSON("settings", settings, &doc.Settings)
}
