// Package loader reads pattern and step documents from YAML or JSON.
package loader

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/flowplan/internal/validation"
	"github.com/rendis/flowplan/pkg/schema"
)

// Format is a document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Loader decodes documents and validates them against the document schemas
// before producing typed values.
type Loader struct {
	docs *validation.DocumentValidator
}

// New creates a Loader with compiled document schemas.
func New() (*Loader, error) {
	docs, err := validation.NewDocumentValidator()
	if err != nil {
		return nil, err
	}
	return &Loader{docs: docs}, nil
}

// LoadPatterns reads a pattern document. The format is sniffed from content.
func (l *Loader) LoadPatterns(r io.Reader) (*schema.PatternDocument, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "read pattern document").WithCause(err)
	}
	return l.PatternsFromBytes(data, sniff(data))
}

// LoadPatternsFile reads a pattern document from path. The format follows
// the extension (.yaml, .yml, .json); other extensions are sniffed.
func (l *Loader) LoadPatternsFile(path string) (*schema.PatternDocument, error) {
	data, format, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return l.PatternsFromBytes(data, format)
}

// PatternsFromBytes decodes and validates a pattern document.
func (l *Loader) PatternsFromBytes(data []byte, format Format) (*schema.PatternDocument, error) {
	var doc schema.PatternDocument
	if err := l.decode(data, format, &doc, l.docs.ValidatePatternDocument); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadSteps reads a step document. The format is sniffed from content.
func (l *Loader) LoadSteps(r io.Reader) (*schema.StepDocument, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "read step document").WithCause(err)
	}
	return l.StepsFromBytes(data, sniff(data))
}

// LoadStepsFile reads a step document from path.
func (l *Loader) LoadStepsFile(path string) (*schema.StepDocument, error) {
	data, format, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return l.StepsFromBytes(data, format)
}

// StepsFromBytes decodes and validates a step document.
func (l *Loader) StepsFromBytes(data []byte, format Format) (*schema.StepDocument, error) {
	var doc schema.StepDocument
	if err := l.decode(data, format, &doc, l.docs.ValidateStepDocument); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadPlanFile reads a canonical ExecutionPlan (always JSON) and checks its
// graph with the plan validator.
func LoadPlanFile(path string) (*schema.ExecutionPlan, error) {
	data, _, err := readFile(path)
	if err != nil {
		return nil, err
	}
	var p schema.ExecutionPlan
	if err := unmarshal(data, FormatJSON, &p); err != nil {
		return nil, err
	}
	if !p.WorkflowKind.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown workflow kind %q in %s", p.WorkflowKind, path)
	}
	if err := validation.ValidatePlan(&p).ToError(); err != nil {
		return nil, err
	}
	return &p, nil
}

// decode parses data twice: generically for schema validation, then into
// out. Schema violations never reach the typed decoder.
func (l *Loader) decode(data []byte, format Format, out any, validate func(any) error) error {
	var raw any
	if err := unmarshal(data, format, &raw); err != nil {
		return err
	}
	if err := validate(raw); err != nil {
		return err
	}
	return unmarshal(data, format, out)
}

func unmarshal(data []byte, format Format, out any) error {
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, out); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "parse YAML: %s", err.Error()).WithCause(err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, out); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "parse JSON: %s", err.Error()).WithCause(err)
		}
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unsupported format %q, use \"yaml\" or \"json\"", format)
	}
	return nil
}

func readFile(path string) ([]byte, Format, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", schema.NewErrorf(schema.ErrCodeValidation, "read %s", path).WithCause(err)
	}
	format := detectFormat(path)
	if format == "" {
		format = sniff(data)
	}
	return data, format, nil
}

// detectFormat returns the format implied by the file extension, or "".
func detectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return ""
	}
}

// sniff treats content starting with '{' as JSON and anything else as YAML.
func sniff(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}
