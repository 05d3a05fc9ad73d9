package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/persist"
	"github.com/roach88/cascade/internal/pipeline"
	"github.com/roach88/cascade/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cascade.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := engine.NewRegistry()
	reg.Register(pipeline.NodePrompt, engine.ExecutorFunc(
		func(_ context.Context, node pipeline.Node, _ map[string]any, _ string) (any, error) {
			return "output of " + node.ID, nil
		}))

	h := NewHandlers(st, persist.NewController(st), engine.NewScheduler(st, reg), nil)
	return NewRouter(h), st
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createDoc(t *testing.T, r *gin.Engine) pipeline.Document {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/v1/documents", map[string]any{
		"document_id": "doc-1",
		"name":        "Intake Flow",
		"nodes": []map[string]any{
			{"id": "n1", "type": "prompt"},
		},
		"source": "api",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var doc pipeline.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	return doc
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), pipeline.EngineVersion)
}

func TestCreateAndGetDocument(t *testing.T) {
	r, _ := newTestRouter(t)
	doc := createDoc(t, r)
	assert.Equal(t, int64(1), doc.Version)

	w := doJSON(t, r, http.MethodGet, "/v1/documents/doc-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got pipeline.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Intake Flow", got.Name)
}

func TestGetMissingDocumentIs404(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/v1/documents/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestSaveAdvancesVersion(t *testing.T) {
	r, _ := newTestRouter(t)
	createDoc(t, r)

	w := doJSON(t, r, http.MethodPost, "/v1/documents/doc-1/save", map[string]any{
		"name":             "Intake Flow",
		"nodes":            []map[string]any{{"id": "n1", "type": "prompt"}, {"id": "n2", "type": "prompt"}},
		"expected_version": 1,
		"source":           "editor",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var doc pipeline.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, int64(2), doc.Version)
}

func TestSaveStaleVersionIsConflict(t *testing.T) {
	r, _ := newTestRouter(t)
	createDoc(t, r)

	w := doJSON(t, r, http.MethodPost, "/v1/documents/doc-1/save", map[string]any{
		"name":             "Intake Flow",
		"nodes":            []map[string]any{{"id": "n1", "type": "prompt"}},
		"expected_version": 99,
		"source":           "editor",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "VERSION_MISMATCH", resp.Code)
	require.NotNil(t, resp.Rejection)
	assert.Equal(t, int64(1), resp.Rejection.CurrentVersion)
}

func TestSaveIdentityMismatchIsUnprocessable(t *testing.T) {
	r, _ := newTestRouter(t)
	createDoc(t, r)

	w := doJSON(t, r, http.MethodPost, "/v1/documents/doc-1/save", map[string]any{
		"name":             "Intake Flow",
		"nodes":            []map[string]any{{"id": "n1", "type": "prompt"}},
		"expected_version": 1,
		"source":           "editor",
		"identity":         map[string]any{"name": "Some Other Flow", "token": "sess-1"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "IDENTITY_MISMATCH")
}

func TestRunCascadeExecutesNodes(t *testing.T) {
	r, _ := newTestRouter(t)
	createDoc(t, r)

	w := doJSON(t, r, http.MethodPost, "/v1/documents/doc-1/run", map[string]any{
		"subject_id": "company-1",
		"mode":       "cascade",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result engine.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, []string{"n1"}, result.Executed())
}

func TestRunRejectsInvalidMode(t *testing.T) {
	r, _ := newTestRouter(t)
	createDoc(t, r)

	w := doJSON(t, r, http.MethodPost, "/v1/documents/doc-1/run", map[string]any{
		"subject_id": "company-1",
		"mode":       "yolo",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunUnknownTargetNodeIsBadRequest(t *testing.T) {
	r, _ := newTestRouter(t)
	createDoc(t, r)

	w := doJSON(t, r, http.MethodPost, "/v1/documents/doc-1/run", map[string]any{
		"subject_id": "company-1",
		"mode":       "force",
		"node_id":    "ghost",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "UNKNOWN_NODE")
}

func TestAuditReturnsEntries(t *testing.T) {
	r, _ := newTestRouter(t)
	createDoc(t, r)

	w := doJSON(t, r, http.MethodGet, "/v1/documents/doc-1/audit", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Entries []pipeline.AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "applied", resp.Entries[0].Outcome)
}
