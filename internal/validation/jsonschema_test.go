package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rendis/flowplan/pkg/schema"
)

func newDocs(t *testing.T) *DocumentValidator {
	t.Helper()
	v, err := NewDocumentValidator()
	require.NoError(t, err)
	return v
}

func decodeYAML(t *testing.T, src string) any {
	t.Helper()
	var doc any
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))
	return doc
}

func violations(t *testing.T, err error) []string {
	t.Helper()
	var fe *schema.FlowplanError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
	v, ok := fe.Details["violations"].([]string)
	require.True(t, ok, "details.violations missing: %v", fe.Details)
	return v
}

func TestPatternDocument_Valid(t *testing.T) {
	doc := decodeYAML(t, `
patterns:
  - id: review
    kind: linear
    steps: [draft, critique, revise]
  - id: research
    kind: fork_join
    fork:
      branches:
        - id: web
          steps: [search, read]
        - id: papers
          steps: [scholar]
    join:
      step: merge
`)
	assert.NoError(t, newDocs(t).ValidatePatternDocument(doc))
}

func TestPatternDocument_ShapeLeftToCompiler(t *testing.T) {
	// Missing fork/join and empty steps are reported by the pattern compiler
	// with their own codes, so the schema accepts them.
	doc := decodeYAML(t, `
patterns:
  - id: a
    kind: linear
    steps: []
  - id: b
    kind: fork_join
`)
	assert.NoError(t, newDocs(t).ValidatePatternDocument(doc))
}

func TestPatternDocument_UnknownKind(t *testing.T) {
	doc := decodeYAML(t, `
patterns:
  - id: loop
    kind: cycle
    steps: [a]
`)
	v := violations(t, newDocs(t).ValidatePatternDocument(doc))
	require.Len(t, v, 1)
	assert.True(t, strings.HasPrefix(v[0], "/patterns/0/kind"), v[0])
}

func TestPatternDocument_MultipleViolations(t *testing.T) {
	doc := decodeYAML(t, `
patterns:
  - kind: linear
    steps: [""]
    extra: true
`)
	err := newDocs(t).ValidatePatternDocument(doc)
	v := violations(t, err)
	assert.GreaterOrEqual(t, len(v), 2)
	assert.Contains(t, err.Error(), "validation failed with")
}

func TestPatternDocument_Empty(t *testing.T) {
	err := newDocs(t).ValidatePatternDocument(nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = newDocs(t).ValidatePatternDocument(map[string]any{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestStepDocument_Valid(t *testing.T) {
	doc := decodeYAML(t, `
workflow_kind: concurrent
steps:
  - id: fork.plan
    save_as: plan
  - id: fork.branch.a
    inputs:
      plan: "@state:plan"
    when: "has(state.plan)"
  - id: fork.join
`)
	assert.NoError(t, newDocs(t).ValidateStepDocument(doc))
}

func TestStepDocument_Violations(t *testing.T) {
	cases := map[string]string{
		"bad kind": `
workflow_kind: parallel
steps: []
`,
		"non-string input": `
workflow_kind: sequential
steps:
  - id: a
    inputs:
      n: 3
`,
		"missing id": `
workflow_kind: sequential
steps:
  - save_as: x
`,
		"unknown field": `
workflow_kind: sequential
steps:
  - id: a
    retry: 3
`,
		"missing steps": `
workflow_kind: sequential
`,
		"save_as outside reference alphabet": `
workflow_kind: sequential
steps:
  - id: a
    save_as: "out:v1"
`,
	}
	v := newDocs(t)
	for name, src := range cases {
		err := v.ValidateStepDocument(decodeYAML(t, src))
		if err == nil {
			t.Errorf("%s: expected validation error", name)
			continue
		}
		if !schema.HasCode(err, schema.ErrCodeValidation) {
			t.Errorf("%s: expected VALIDATION_ERROR, got %v", name, err)
		}
	}
}

func TestStepDocument_TypedValue(t *testing.T) {
	doc := &schema.StepDocument{
		WorkflowKind: schema.WorkflowSequential,
		Steps: []schema.ResolvedStep{
			{ID: "a", SaveAs: schema.StringPtr("")},
		},
	}
	assert.NoError(t, newDocs(t).ValidateStepDocument(doc))
}
