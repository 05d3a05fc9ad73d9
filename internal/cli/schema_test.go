package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDocumentDataAcceptsWellFormed(t *testing.T) {
	doc := map[string]any{
		"name": "Intake Flow",
		"nodes": []any{
			map[string]any{"id": "n1", "type": "prompt"},
			map[string]any{
				"id":   "n2",
				"type": "transform",
				"config": map[string]any{
					"transform_mode": "mapping",
					"mapping":        map[string]any{"out": "n1"},
				},
			},
		},
	}
	assert.Empty(t, ValidateDocumentData(doc))
}

func TestValidateDocumentDataReportsEveryViolation(t *testing.T) {
	doc := map[string]any{
		"name": "",
		"nodes": []any{
			map[string]any{"id": "n1", "type": "warp"},
		},
	}
	verrs := ValidateDocumentData(doc)
	require.NotEmpty(t, verrs)
	assert.GreaterOrEqual(t, len(verrs), 2, "empty name and bad type both reported")
}

func TestValidateDocumentDataRejectsUnknownFields(t *testing.T) {
	doc := map[string]any{
		"name":     "Flow",
		"nodes":    []any{},
		"mystery":  true,
	}
	assert.NotEmpty(t, ValidateDocumentData(doc))
}

func TestLoadDocumentFileYAML(t *testing.T) {
	file, verrs, err := LoadDocumentFile(filepath.Join("testdata", "valid.yaml"))
	require.NoError(t, err)
	require.Empty(t, verrs)
	assert.Equal(t, "doc-intake", file.ID)
	assert.Equal(t, "Intake Flow", file.Name)
	require.Len(t, file.Nodes, 2)
	assert.Equal(t, "website_url", file.Nodes[0].Config.Source)
	assert.Len(t, file.Nodes[1].Segments, 2)
}

func TestLoadDocumentFileJSON(t *testing.T) {
	file, verrs, err := LoadDocumentFile(filepath.Join("testdata", "valid.json"))
	require.NoError(t, err)
	require.Empty(t, verrs)
	assert.Equal(t, "doc-json", file.ID)
}

func TestLoadDocumentFileInvalid(t *testing.T) {
	_, verrs, err := LoadDocumentFile(filepath.Join("testdata", "invalid.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, verrs)
}

func TestLoadDocumentFileUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.toml")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, _, err := LoadDocumentFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}
