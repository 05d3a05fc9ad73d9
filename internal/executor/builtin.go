package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/pipeline"
)

// IngestProvider supplies subject-scoped input values for ingest
// nodes, keyed by the node's configured source identifier.
type IngestProvider interface {
	Lookup(ctx context.Context, subjectID, source string) (any, bool, error)
}

// StaticInputs is a map-backed IngestProvider: subject id to source
// identifier to value.
type StaticInputs map[string]map[string]any

func (s StaticInputs) Lookup(_ context.Context, subjectID, source string) (any, bool, error) {
	v, ok := s[subjectID][source]
	return v, ok, nil
}

// TextExecutor assembles prompt and fragment nodes. Both types share
// the same behavior; they differ only in how the canvas presents them.
type TextExecutor struct {
	Frameworks FrameworkResolver
}

func (e *TextExecutor) Execute(ctx context.Context, node pipeline.Node, deps map[string]any, _ string) (any, error) {
	return assemble(ctx, node.Segments, deps, e.Frameworks)
}

// TransformExecutor reshapes upstream outputs, either by rendering the
// segment list as a template or by applying a structured field mapping.
type TransformExecutor struct {
	Frameworks FrameworkResolver

	// Variables holds the document-level bindings substituted into
	// template literals as {{name}}.
	Variables map[string]any
}

func (e *TransformExecutor) Execute(ctx context.Context, node pipeline.Node, deps map[string]any, _ string) (any, error) {
	switch node.Config.TransformMode {
	case pipeline.TransformMapping:
		return e.applyMapping(node, deps)
	case pipeline.TransformTemplate, "":
		text, err := assemble(ctx, node.Segments, deps, e.Frameworks)
		if err != nil {
			return nil, err
		}
		out, err := e.substitute(text)
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown transform mode %q", node.Config.TransformMode)
	}
}

// substitute replaces {{name}} placeholders in sorted name order, so
// a value that itself contains a placeholder always resolves the same
// way and the output hashes identically across runs.
func (e *TransformExecutor) substitute(text string) (string, error) {
	names := make([]string, 0, len(e.Variables))
	for name := range e.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rendered, err := renderValue(e.Variables[name])
		if err != nil {
			return "", fmt.Errorf("variable %q: %w", name, err)
		}
		text = strings.ReplaceAll(text, "{{"+name+"}}", rendered)
	}
	return text, nil
}

// applyMapping builds an object output. Each mapping value is either a
// dependency key ("node" or "doc/node"), optionally with a ".field"
// suffix selecting one field of an object-shaped output.
func (e *TransformExecutor) applyMapping(node pipeline.Node, deps map[string]any) (any, error) {
	out := make(map[string]any, len(node.Config.Mapping))
	for field, expr := range node.Config.Mapping {
		key, subfield, _ := strings.Cut(expr, ".")
		src, ok := deps[key]
		if !ok {
			return nil, fmt.Errorf("mapping %q: no output for dependency %q", field, key)
		}
		if subfield == "" {
			out[field] = src
			continue
		}
		obj, ok := src.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("mapping %q: dependency %q is not an object", field, key)
		}
		val, ok := obj[subfield]
		if !ok {
			return nil, fmt.Errorf("mapping %q: dependency %q has no field %q", field, key, subfield)
		}
		out[field] = val
	}
	return out, nil
}

// IngestExecutor reads one value from the subject's submitted inputs.
type IngestExecutor struct {
	Inputs IngestProvider
}

func (e *IngestExecutor) Execute(ctx context.Context, node pipeline.Node, _ map[string]any, subjectID string) (any, error) {
	if e.Inputs == nil {
		return nil, fmt.Errorf("no ingest provider configured")
	}
	v, ok, err := e.Inputs.Lookup(ctx, subjectID, node.Config.Source)
	if err != nil {
		return nil, fmt.Errorf("ingest %q: %w", node.Config.Source, err)
	}
	if !ok {
		return nil, fmt.Errorf("ingest %q: no value for subject %q", node.Config.Source, subjectID)
	}
	return v, nil
}

// DatasetExecutor emits the node's inline rows verbatim.
type DatasetExecutor struct{}

func (DatasetExecutor) Execute(_ context.Context, node pipeline.Node, _ map[string]any, _ string) (any, error) {
	rows := node.Config.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	return map[string]any{"rows": rows}, nil
}

// IntegrationExecutor posts the node's resolved inputs to an external
// endpoint and returns the decoded JSON reply.
type IntegrationExecutor struct {
	Client *http.Client
}

func (e *IntegrationExecutor) Execute(ctx context.Context, node pipeline.Node, deps map[string]any, subjectID string) (any, error) {
	if node.Config.Endpoint == "" {
		return nil, fmt.Errorf("integration node %q has no endpoint", node.ID)
	}

	payload, err := json.Marshal(map[string]any{
		"subject_id": subjectID,
		"node_id":    node.ID,
		"inputs":     deps,
	})
	if err != nil {
		return nil, fmt.Errorf("encode integration payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node.Config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build integration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := e.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", node.Config.Endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read integration reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("integration returned %d: %s", resp.StatusCode, body)
	}

	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode integration reply: %w", err)
	}
	return out, nil
}

// Config collects the shared collaborators the builtin executors need.
type Config struct {
	Frameworks FrameworkResolver
	Inputs     IngestProvider
	Variables  map[string]any
	HTTPClient *http.Client
	Agent      LLMClient
}

// RegisterBuiltins installs one executor per executable node type.
// A nil Agent leaves agent nodes unregistered; runs touching them
// report a node-local failure rather than a panic.
func RegisterBuiltins(reg *engine.Registry, cfg Config) {
	text := &TextExecutor{Frameworks: cfg.Frameworks}
	reg.Register(pipeline.NodePrompt, text)
	reg.Register(pipeline.NodeFragment, text)
	reg.Register(pipeline.NodeFrameworkRef, text)
	reg.Register(pipeline.NodeTransform, &TransformExecutor{Frameworks: cfg.Frameworks, Variables: cfg.Variables})
	reg.Register(pipeline.NodeIngest, &IngestExecutor{Inputs: cfg.Inputs})
	reg.Register(pipeline.NodeDataset, DatasetExecutor{})
	reg.Register(pipeline.NodeIntegration, &IntegrationExecutor{Client: cfg.HTTPClient})
	if cfg.Agent != nil {
		reg.Register(pipeline.NodeAgent, &AgentExecutor{Client: cfg.Agent, Frameworks: cfg.Frameworks})
	}
}
