package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/pipeline"
)

func lit(text string) pipeline.Segment {
	return pipeline.Segment{Kind: pipeline.SegmentLiteral, Text: text}
}

func ref(nodeID string) pipeline.Segment {
	return pipeline.Segment{Kind: pipeline.SegmentNodeRef, NodeID: nodeID}
}

func TestAssembleInterleavesLiteralsAndRefs(t *testing.T) {
	segs := []pipeline.Segment{lit("Company: "), ref("name"), lit(", score "), ref("score")}
	deps := map[string]any{"name": "Acme", "score": float64(7)}

	out, err := assemble(context.Background(), segs, deps, nil)
	require.NoError(t, err)
	assert.Equal(t, "Company: Acme, score 7", out)
}

func TestAssembleCrossDocumentRef(t *testing.T) {
	segs := []pipeline.Segment{{Kind: pipeline.SegmentNodeRef, NodeID: "n1", DocumentID: "other"}}
	deps := map[string]any{"other/n1": "shared"}

	out, err := assemble(context.Background(), segs, deps, nil)
	require.NoError(t, err)
	assert.Equal(t, "shared", out)
}

func TestAssembleMissingRefFails(t *testing.T) {
	_, err := assemble(context.Background(), []pipeline.Segment{ref("gone")}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"gone"`)
}

func TestAssembleStructuredOutputRendersCanonically(t *testing.T) {
	deps := map[string]any{"obj": map[string]any{"b": 2, "a": 1}}

	out, err := assemble(context.Background(), []pipeline.Segment{ref("obj")}, deps, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, out)
}

func TestAssembleFrameworkRef(t *testing.T) {
	segs := []pipeline.Segment{
		lit("Apply "),
		{Kind: pipeline.SegmentFrameworkRef, FrameworkID: "fw-1"},
	}
	frameworks := StaticFrameworks{"fw-1": "the framework text"}

	out, err := assemble(context.Background(), segs, nil, frameworks)
	require.NoError(t, err)
	assert.Equal(t, "Apply the framework text", out)

	_, err = assemble(context.Background(), segs, nil, StaticFrameworks{})
	require.Error(t, err)
}

func TestTransformTemplateSubstitutesVariables(t *testing.T) {
	e := &TransformExecutor{Variables: map[string]any{"region": "EMEA"}}
	node := pipeline.Node{
		ID:       "t1",
		Type:     pipeline.NodeTransform,
		Segments: []pipeline.Segment{lit("Market: {{region}}, source: "), ref("src")},
	}

	out, err := e.Execute(context.Background(), node, map[string]any{"src": "crm"}, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Market: EMEA, source: crm", out)
}

func TestTransformTemplateSubstitutionIsDeterministic(t *testing.T) {
	// One variable's value contains another variable's placeholder.
	// Substitution runs in sorted name order, so the nested
	// placeholder always resolves and repeated runs hash identically.
	e := &TransformExecutor{Variables: map[string]any{
		"a": "X{{b}}",
		"b": "Y",
	}}
	node := pipeline.Node{
		ID:       "t1",
		Type:     pipeline.NodeTransform,
		Segments: []pipeline.Segment{lit("{{a}} {{b}}")},
	}

	first, err := e.Execute(context.Background(), node, nil, "s1")
	require.NoError(t, err)
	assert.Equal(t, "XY Y", first)

	for i := 0; i < 25; i++ {
		out, err := e.Execute(context.Background(), node, nil, "s1")
		require.NoError(t, err)
		assert.Equal(t, first, out)
	}
}

func TestTransformTemplateUnrenderableVariableFails(t *testing.T) {
	e := &TransformExecutor{Variables: map[string]any{
		"bad": make(chan int),
	}}
	node := pipeline.Node{
		ID:       "t1",
		Type:     pipeline.NodeTransform,
		Segments: []pipeline.Segment{lit("value: {{bad}}")},
	}

	_, err := e.Execute(context.Background(), node, nil, "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `variable "bad"`)
}

func TestTransformMapping(t *testing.T) {
	e := &TransformExecutor{}
	node := pipeline.Node{
		ID:   "t1",
		Type: pipeline.NodeTransform,
		Config: pipeline.NodeConfig{
			TransformMode: pipeline.TransformMapping,
			MappingDeps:   []string{"profile", "score"},
			Mapping: map[string]string{
				"company": "profile.name",
				"rating":  "score",
			},
		},
	}
	deps := map[string]any{
		"profile": map[string]any{"name": "Acme", "size": 40},
		"score":   float64(8),
	}

	out, err := e.Execute(context.Background(), node, deps, "s1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"company": "Acme", "rating": float64(8)}, out)
}

func TestTransformMappingMissingFieldFails(t *testing.T) {
	e := &TransformExecutor{}
	node := pipeline.Node{
		Type: pipeline.NodeTransform,
		Config: pipeline.NodeConfig{
			TransformMode: pipeline.TransformMapping,
			Mapping:       map[string]string{"x": "profile.missing"},
		},
	}
	deps := map[string]any{"profile": map[string]any{"name": "Acme"}}

	_, err := e.Execute(context.Background(), node, deps, "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestIngestReadsSubjectScopedValue(t *testing.T) {
	e := &IngestExecutor{Inputs: StaticInputs{
		"company-1": {"website": "https://acme.example"},
	}}
	node := pipeline.Node{ID: "i1", Type: pipeline.NodeIngest, Config: pipeline.NodeConfig{Source: "website"}}

	out, err := e.Execute(context.Background(), node, nil, "company-1")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.example", out)

	_, err = e.Execute(context.Background(), node, nil, "company-2")
	require.Error(t, err)
}

func TestDatasetEmitsRows(t *testing.T) {
	node := pipeline.Node{
		Type:   pipeline.NodeDataset,
		Config: pipeline.NodeConfig{Rows: []map[string]any{{"tier": "gold"}}},
	}

	out, err := DatasetExecutor{}.Execute(context.Background(), node, nil, "s1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rows": []map[string]any{{"tier": "gold"}}}, out)
}

func TestIntegrationPostsAndDecodesReply(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"enriched"}`)
	}))
	defer srv.Close()

	e := &IntegrationExecutor{Client: srv.Client()}
	node := pipeline.Node{
		ID:     "x1",
		Type:   pipeline.NodeIntegration,
		Config: pipeline.NodeConfig{Endpoint: srv.URL},
	}

	out, err := e.Execute(context.Background(), node, map[string]any{"src": "v"}, "company-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "enriched"}, out)
	assert.Equal(t, "company-1", got["subject_id"])
	assert.Equal(t, "x1", got["node_id"])
}

func TestIntegrationNonOKStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	e := &IntegrationExecutor{Client: srv.Client()}
	node := pipeline.Node{Type: pipeline.NodeIntegration, Config: pipeline.NodeConfig{Endpoint: srv.URL}}

	_, err := e.Execute(context.Background(), node, nil, "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type fakeLLM struct {
	lastModel  string
	lastSystem string
	lastPrompt string
}

func (f *fakeLLM) Generate(_ context.Context, model, systemPrompt, prompt string) (string, error) {
	f.lastModel, f.lastSystem, f.lastPrompt = model, systemPrompt, prompt
	return "completion for: " + prompt, nil
}

func TestAgentAssemblesPromptAndCallsModel(t *testing.T) {
	llm := &fakeLLM{}
	e := &AgentExecutor{Client: llm}
	node := pipeline.Node{
		ID:   "a1",
		Type: pipeline.NodeAgent,
		Config: pipeline.NodeConfig{
			Model:        "gpt-4o",
			SystemPrompt: "You are an analyst.",
		},
		Segments: []pipeline.Segment{lit("Summarize: "), ref("notes")},
	}

	out, err := e.Execute(context.Background(), node, map[string]any{"notes": "raw notes"}, "s1")
	require.NoError(t, err)

	obj, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Summarize: raw notes", obj["prompt"])
	assert.Equal(t, "completion for: Summarize: raw notes", obj["completion"])
	assert.Equal(t, "gpt-4o", llm.lastModel)
	assert.Equal(t, "You are an analyst.", llm.lastSystem)
}

func TestRegisterBuiltinsCoversExecutableTypes(t *testing.T) {
	reg := engine.NewRegistry()
	RegisterBuiltins(reg, Config{Agent: &fakeLLM{}})

	for _, nt := range []pipeline.NodeType{
		pipeline.NodePrompt, pipeline.NodeFragment, pipeline.NodeFrameworkRef,
		pipeline.NodeTransform, pipeline.NodeIngest, pipeline.NodeDataset,
		pipeline.NodeIntegration, pipeline.NodeAgent,
	} {
		_, ok := reg.Lookup(nt)
		assert.True(t, ok, "no executor for %s", nt)
	}

	_, ok := reg.Lookup(pipeline.NodeSticky)
	assert.False(t, ok)
}
