// Package executor provides the built-in node executors: content
// assembly for prompt and fragment nodes, template and mapping
// transforms, form ingestion, inline datasets, outbound integrations,
// and an LLM-backed agent.
package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/cascade/internal/pipeline"
)

// FrameworkResolver resolves framework_ref segments to their content
// at execution time. Framework documents live outside the dependency
// graph, so their content is fetched fresh on every execution.
type FrameworkResolver interface {
	Resolve(ctx context.Context, frameworkID string) (string, error)
}

// StaticFrameworks is a map-backed FrameworkResolver.
type StaticFrameworks map[string]string

func (s StaticFrameworks) Resolve(_ context.Context, frameworkID string) (string, error) {
	text, ok := s[frameworkID]
	if !ok {
		return "", fmt.Errorf("unknown framework %q", frameworkID)
	}
	return text, nil
}

// assemble renders a node's content-assembly list to text. Node
// references pull the dependency's recorded output; a reference whose
// output is missing from deps fails the assembly, because emitting a
// silent blank would poison every downstream hash.
func assemble(ctx context.Context, segments []pipeline.Segment, deps map[string]any, frameworks FrameworkResolver) (string, error) {
	var b strings.Builder
	for i, seg := range segments {
		switch seg.Kind {
		case pipeline.SegmentLiteral:
			b.WriteString(seg.Text)

		case pipeline.SegmentNodeRef:
			key := pipeline.DepKey{NodeID: seg.NodeID, DocumentID: seg.DocumentID}.String()
			out, ok := deps[key]
			if !ok {
				return "", fmt.Errorf("segment %d: no output for referenced node %q", i, key)
			}
			text, err := renderValue(out)
			if err != nil {
				return "", fmt.Errorf("segment %d: render %q: %w", i, key, err)
			}
			b.WriteString(text)

		case pipeline.SegmentFrameworkRef:
			if frameworks == nil {
				return "", fmt.Errorf("segment %d: no framework resolver configured", i)
			}
			text, err := frameworks.Resolve(ctx, seg.FrameworkID)
			if err != nil {
				return "", fmt.Errorf("segment %d: %w", i, err)
			}
			b.WriteString(text)

		default:
			return "", fmt.Errorf("segment %d: unknown kind %q", i, seg.Kind)
		}
	}
	return b.String(), nil
}

// renderValue flattens a dependency output into text. Strings pass
// through; structured outputs render as canonical JSON so the same
// value always produces the same text.
func renderValue(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := pipeline.MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
