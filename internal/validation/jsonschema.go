package validation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowplan/pkg/schema"
)

// Schema resource URLs.
const (
	PatternSchemaURL = "https://flowplan.dev/schemas/patterns.json"
	StepSchemaURL    = "https://flowplan.dev/schemas/steps.json"
)

// patternSchemaJSON describes a pattern document. Shape rules the compiler
// reports with dedicated codes (missing fork, empty branches, missing join)
// are left to the compiler.
const patternSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowplan.dev/schemas/patterns.json",
  "type": "object",
  "required": ["patterns"],
  "properties": {
    "patterns": {
      "type": "array",
      "items": { "$ref": "#/$defs/pattern" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "symbol": {
      "type": "string",
      "minLength": 1
    },
    "pattern": {
      "type": "object",
      "required": ["id", "kind"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "kind": { "type": "string", "enum": ["linear", "fork_join"] },
        "steps": {
          "type": "array",
          "items": { "$ref": "#/$defs/symbol" }
        },
        "fork": {
          "type": "object",
          "properties": {
            "branches": {
              "type": "array",
              "items": { "$ref": "#/$defs/branch" }
            }
          },
          "additionalProperties": false
        },
        "join": {
          "type": "object",
          "properties": {
            "step": { "type": "string" }
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    },
    "branch": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "steps": {
          "type": "array",
          "items": { "$ref": "#/$defs/symbol" }
        }
      },
      "additionalProperties": false
    }
  }
}`

// stepSchemaJSON describes a resolved step document. Empty save_as keys pass
// the pattern here and are rejected by the plan builder with EMPTY_SAVE_AS_KEY.
const stepSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowplan.dev/schemas/steps.json",
  "type": "object",
  "required": ["workflow_kind", "steps"],
  "properties": {
    "workflow_kind": {
      "type": "string",
      "enum": ["sequential", "concurrent"]
    },
    "steps": {
      "type": "array",
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "save_as": { "type": "string", "pattern": "^[A-Za-z0-9_-]*$" },
        "inputs": {
          "type": "object",
          "additionalProperties": { "type": "string" }
        },
        "when": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// DocumentValidator checks raw pattern and step documents against their
// JSON Schemas (Draft 2020-12) before they are decoded into typed values.
// Compiled schemas are immutable, so it is safe for concurrent use.
type DocumentValidator struct {
	patterns *jsonschema.Schema
	steps    *jsonschema.Schema
}

// NewDocumentValidator compiles the embedded document schemas.
func NewDocumentValidator() (*DocumentValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	for url, src := range map[string]string{
		PatternSchemaURL: patternSchemaJSON,
		StepSchemaURL:    stepSchemaJSON,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	patterns, err := c.Compile(PatternSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile pattern schema: %w", err)
	}
	steps, err := c.Compile(StepSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile step schema: %w", err)
	}

	return &DocumentValidator{patterns: patterns, steps: steps}, nil
}

// ValidatePatternDocument validates a decoded pattern document. doc may be
// any JSON-encodable value (the output of a YAML or JSON decoder).
func (v *DocumentValidator) ValidatePatternDocument(doc any) error {
	return validateAgainst(v.patterns, doc, "pattern document")
}

// ValidateStepDocument validates a decoded step document.
func (v *DocumentValidator) ValidateStepDocument(doc any) error {
	return validateAgainst(v.steps, doc, "step document")
}

func validateAgainst(s *jsonschema.Schema, doc any, what string) error {
	if doc == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s is empty", what)
	}

	value, err := toJSONValue(doc)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "failed to serialize %s", what).WithCause(err)
	}

	if err := s.Validate(value); err != nil {
		return toFlowplanError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowplanError converts a jsonschema.ValidationError into a FlowplanError
// listing every leaf violation with its instance location.
func toFlowplanError(err error) *schema.FlowplanError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	sort.Strings(violations)

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
