package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalSortsKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"zeta":  int64(1),
		"alpha": "a",
		"mid":   true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"a","mid":true,"zeta":1}`, string(got))
}

func TestMarshalCanonicalNoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical("a < b & c > d")
	require.NoError(t, err)
	assert.Equal(t, `"a < b & c > d"`, string(got))
}

func TestMarshalCanonicalNFCNormalization(t *testing.T) {
	// "é" composed (U+00E9) vs decomposed (e + U+0301) must hash alike.
	composed, err := MarshalCanonical("café")
	require.NoError(t, err)
	decomposed, err := MarshalCanonical("café")
	require.NoError(t, err)
	assert.Equal(t, string(composed), string(decomposed))
}

func TestMarshalCanonicalNumbers(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"integral float", float64(3), "3"},
		{"fractional float", 0.25, "0.25"},
		{"null", nil, "null"},
		{"bool", false, "false"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonicalRejectsNaN(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"score": nan()})
	assert.Error(t, err)
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}

// A stored output is JSON text; reloading it must not change its hash.
// json.Unmarshal decodes every number as float64, so integral floats
// and ints have to canonicalize identically.
func TestMarshalCanonicalStableAcrossJSONRoundTrip(t *testing.T) {
	original := map[string]any{
		"name":  "Acme Corp",
		"count": int64(12),
		"tags":  []any{"b2b", "saas"},
	}
	first, err := MarshalCanonical(original)
	require.NoError(t, err)

	var reloaded any
	require.NoError(t, json.Unmarshal(first, &reloaded))
	second, err := MarshalCanonical(reloaded)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestMarshalCanonicalNestedArrays(t *testing.T) {
	got, err := MarshalCanonical([]any{
		map[string]any{"b": int64(2), "a": int64(1)},
		"x",
		nil,
	})
	require.NoError(t, err)
	assert.Equal(t, `[{"a":1,"b":2},"x",null]`, string(got))
}

func TestMarshalCanonicalStructFallback(t *testing.T) {
	type result struct {
		Answer string `json:"answer"`
		Score  int    `json:"score"`
	}
	direct, err := MarshalCanonical(result{Answer: "yes", Score: 3})
	require.NoError(t, err)

	asMap, err := MarshalCanonical(map[string]any{"answer": "yes", "score": int64(3)})
	require.NoError(t, err)

	assert.Equal(t, string(asMap), string(direct))
}
