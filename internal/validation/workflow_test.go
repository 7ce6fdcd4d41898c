package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowplan/internal/expressions"
	"github.com/rendis/flowplan/pkg/schema"
)

func step(id, saveAs string, inputs map[string]string) schema.ResolvedStep {
	s := schema.ResolvedStep{ID: id, Inputs: inputs}
	if saveAs != "" {
		s.SaveAs = schema.StringPtr(saveAs)
	}
	return s
}

func newStepValidator(t *testing.T) *StepValidator {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	v, err := NewStepValidator(cel)
	require.NoError(t, err)
	return v
}

func codes(issues []schema.ValidationIssue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Code
	}
	return out
}

func TestStepValidator_Valid(t *testing.T) {
	doc := &schema.StepDocument{
		WorkflowKind: schema.WorkflowSequential,
		Steps: []schema.ResolvedStep{
			step("fetch", "doc", nil),
			step("summarize", "", map[string]string{"text": "@state:doc.body"}),
		},
	}

	r := newStepValidator(t).Validate(doc)
	assert.True(t, r.Valid(), "%+v", r.Errors)
	assert.Empty(t, r.Warnings)
	assert.NoError(t, r.ToError())
}

func TestStepValidator_Nil(t *testing.T) {
	r := newStepValidator(t).Validate(nil)
	assert.False(t, r.Valid())
}

func TestStepValidator_StructuralShortCircuits(t *testing.T) {
	doc := &schema.StepDocument{
		WorkflowKind: "parallel",
		Steps:        []schema.ResolvedStep{step("a", "", map[string]string{"x": "@state:ghost"})},
	}

	r := newStepValidator(t).Validate(doc)
	require.False(t, r.Valid())
	for _, is := range r.Errors {
		assert.Equal(t, schema.ErrCodeValidation, is.Code)
		assert.Equal(t, "/", is.Path)
	}
}

func TestStepValidator_CollectsAllSemanticErrors(t *testing.T) {
	doc := &schema.StepDocument{
		WorkflowKind: schema.WorkflowSequential,
		Steps: []schema.ResolvedStep{
			step("a", "out", map[string]string{"self": "@state:out"}),
			step("a", "out", nil),
			{ID: "b", SaveAs: schema.StringPtr("")},
			{ID: "c", Inputs: map[string]string{"x": "@state:ghost", "y": "@state:tool.result"}},
			{ID: "d", When: "state.x >"},
		},
	}

	r := newStepValidator(t).Validate(doc)
	require.False(t, r.Valid())

	got := codes(r.Errors)
	assert.Contains(t, got, schema.ErrCodeDuplicateStepID)
	assert.Contains(t, got, schema.ErrCodeDuplicateSaveAsKey)
	assert.Contains(t, got, schema.ErrCodeEmptySaveAsKey)
	assert.Contains(t, got, schema.ErrCodeSelfDependency)
	assert.Contains(t, got, schema.ErrCodeUnknownStateReference)
	assert.Contains(t, got, schema.ErrCodeValidation)
	assert.Len(t, r.Errors, 6)

	// The namespaced reference is only a warning. "out" is only read by its
	// own producer, so it also counts as unreferenced.
	require.Len(t, r.Warnings, 2)
	assert.Equal(t, "save_as.out", r.Warnings[0].Path)
	assert.Equal(t, "steps[3].inputs.y", r.Warnings[1].Path)

	err := r.ToError()
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestStepValidator_RejectsUnreferenceableSaveAs(t *testing.T) {
	doc := &schema.StepDocument{
		WorkflowKind: schema.WorkflowSequential,
		Steps: []schema.ResolvedStep{
			step("a", "résumé", nil),
			step("b", "", map[string]string{"x": "@state:résumé"}),
		},
	}

	r := newStepValidator(t).Validate(doc)
	require.False(t, r.Valid())
	require.NotEmpty(t, r.Errors)
	for _, is := range r.Errors {
		assert.Equal(t, schema.ErrCodeValidation, is.Code)
	}
}

func TestStepValidator_SingleErrorKeepsCode(t *testing.T) {
	doc := &schema.StepDocument{
		WorkflowKind: schema.WorkflowSequential,
		Steps: []schema.ResolvedStep{
			step("a", "", map[string]string{"x": "@state:missing"}),
		},
	}

	err := newStepValidator(t).Validate(doc).ToError()
	assert.True(t, schema.HasCode(err, schema.ErrCodeUnknownStateReference))
}

func TestStepValidator_CycleFromBuilder(t *testing.T) {
	doc := &schema.StepDocument{
		WorkflowKind: schema.WorkflowSequential,
		Steps: []schema.ResolvedStep{
			step("a", "x", map[string]string{"in": "@state:y"}),
			step("b", "y", map[string]string{"in": "@state:x"}),
		},
	}

	r := newStepValidator(t).Validate(doc)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, schema.ErrCodeCycleDetected, r.Errors[0].Code)
}

func TestStepValidator_Warnings(t *testing.T) {
	doc := &schema.StepDocument{
		WorkflowKind: schema.WorkflowSequential,
		Steps: []schema.ResolvedStep{
			step("fork.plan", "unused", nil),
			step("lonely", "", nil),
		},
	}

	r := newStepValidator(t).Validate(doc)
	assert.True(t, r.Valid())

	paths := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		paths[i] = w.Path
	}
	assert.Equal(t, []string{"nodes[fork.plan]", "nodes[lonely]", "save_as.unused", "steps[0].id"}, paths)
}

func TestStepValidator_WithoutGuards(t *testing.T) {
	v, err := NewStepValidator(nil)
	require.NoError(t, err)

	doc := &schema.StepDocument{
		WorkflowKind: schema.WorkflowSequential,
		Steps:        []schema.ResolvedStep{{ID: "a", When: "not even ( valid"}},
	}
	assert.True(t, v.Validate(doc).Valid())
}

func TestValidatePlan(t *testing.T) {
	r := ValidatePlan(nil)
	assert.False(t, r.Valid())

	bad := &schema.ExecutionPlan{
		WorkflowKind: schema.WorkflowSequential,
		Nodes:        []schema.ExecutionNode{{StepID: "a", DependsOn: []string{"ghost"}}},
	}
	r = ValidatePlan(bad)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, schema.ErrCodeUnknownDependency, r.Errors[0].Code)

	joinOnly := &schema.ExecutionPlan{
		WorkflowKind: schema.WorkflowConcurrent,
		Nodes: []schema.ExecutionNode{
			{StepID: "a", DependsOn: []string{}},
			{StepID: "fork.join", DependsOn: []string{"a"}},
		},
	}
	r = ValidatePlan(joinOnly)
	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "nodes[fork.join]", r.Warnings[0].Path)
}
