package cli

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/cascade/internal/pipeline"
)

//go:embed schema.cue
var documentSchema string

// ValidationError is one schema violation in a document file.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidateDocumentData checks a decoded document against the embedded
// CUE schema and returns every violation, not just the first.
func ValidateDocumentData(doc any) []ValidationError {
	ctx := cuecontext.New()

	schema := ctx.CompileString(documentSchema)
	if err := schema.Err(); err != nil {
		// The schema is embedded and tested; failing to compile it is
		// a build defect, not a user error.
		panic(fmt.Sprintf("document schema does not compile: %v", err))
	}

	unified := schema.LookupPath(cue.ParsePath("#Document")).Unify(ctx.Encode(doc))
	err := unified.Validate(cue.Concrete(true), cue.Final())
	if err == nil {
		return nil
	}

	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		path := strings.Join(e.Path(), ".")
		format, args := e.Msg()
		out = append(out, ValidationError{
			Path:    path,
			Message: fmt.Sprintf(format, args...),
		})
	}
	return out
}

// DocumentFile is the on-disk document representation accepted by the
// save and validate commands.
type DocumentFile struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Nodes      []pipeline.Node      `json:"nodes"`
	Connectors []pipeline.Connector `json:"connectors"`
	Variables  []pipeline.Variable  `json:"variables"`
	Settings   pipeline.Settings    `json:"settings"`
}

// LoadDocumentFile reads a document from a JSON or YAML file, validates
// it against the schema, and decodes it. YAML goes through a JSON
// round trip so both formats share one set of field names.
func LoadDocumentFile(path string) (*DocumentFile, []ValidationError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read document file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, nil, fmt.Errorf("parse YAML: %w", err)
		}
		data, err = json.Marshal(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("convert YAML document: %w", err)
		}
	case ".json":
	default:
		return nil, nil, fmt.Errorf("unsupported document format %q", filepath.Ext(path))
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, nil, fmt.Errorf("parse JSON: %w", err)
	}
	if verrs := ValidateDocumentData(decoded); len(verrs) > 0 {
		return nil, verrs, nil
	}

	var doc DocumentFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode document: %w", err)
	}
	return &doc, nil, nil
}
