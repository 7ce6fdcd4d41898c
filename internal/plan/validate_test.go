package plan

import (
	"reflect"
	"testing"

	"github.com/rendis/flowplan/pkg/schema"
)

func node(id string, deps ...string) schema.ExecutionNode {
	if deps == nil {
		deps = []string{}
	}
	return schema.ExecutionNode{StepID: id, DependsOn: deps}
}

func TestValidate_UnknownDependency(t *testing.T) {
	p := &schema.ExecutionPlan{WorkflowKind: schema.WorkflowSequential, Nodes: []schema.ExecutionNode{
		node("a", "ghost"),
	}}
	fe := assertError(t, Validate(p), schema.ErrCodeUnknownDependency)
	if fe.Details["dependency"] != "ghost" {
		t.Errorf("expected ghost in details, got %v", fe.Details)
	}
}

func TestValidate_SelfEdge(t *testing.T) {
	p := &schema.ExecutionPlan{Nodes: []schema.ExecutionNode{node("a", "a")}}
	assertError(t, Validate(p), schema.ErrCodeSelfDependency)
}

func TestValidate_DuplicateNode(t *testing.T) {
	p := &schema.ExecutionPlan{Nodes: []schema.ExecutionNode{node("a"), node("a")}}
	assertError(t, Validate(p), schema.ErrCodeDuplicateStepID)
}

func TestValidate_Nil(t *testing.T) {
	assertError(t, Validate(nil), schema.ErrCodeValidation)
}

func TestValidate_Diamond(t *testing.T) {
	p := &schema.ExecutionPlan{Nodes: []schema.ExecutionNode{
		node("a"), node("b", "a"), node("c", "a"), node("d", "b", "c"),
	}}
	if err := Validate(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaves_Diamond(t *testing.T) {
	p := &schema.ExecutionPlan{Nodes: []schema.ExecutionNode{
		node("d", "b", "c"), node("c", "a"), node("b", "a"), node("a"),
	}}
	waves, err := Waves(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if !reflect.DeepEqual(waves, want) {
		t.Errorf("expected %v, got %v", want, waves)
	}
}

func TestWaves_UnevenDepth(t *testing.T) {
	// e depends on a (depth 0) and c (depth 2), so it lands in wave 3.
	p := &schema.ExecutionPlan{Nodes: []schema.ExecutionNode{
		node("a"), node("b", "a"), node("c", "b"), node("e", "a", "c"), node("z"),
	}}
	waves, err := Waves(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][]string{{"a", "z"}, {"b"}, {"c"}, {"e"}}
	if !reflect.DeepEqual(waves, want) {
		t.Errorf("expected %v, got %v", want, waves)
	}
}

func TestWaves_RejectsCycle(t *testing.T) {
	p := &schema.ExecutionPlan{Nodes: []schema.ExecutionNode{node("a", "b"), node("b", "a")}}
	_, err := Waves(p)
	assertError(t, err, schema.ErrCodeCycleDetected)
}

func TestWaves_Empty(t *testing.T) {
	waves, err := Waves(&schema.ExecutionPlan{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(waves) != 0 {
		t.Errorf("expected no waves, got %v", waves)
	}
}

func TestRootsAndDependents(t *testing.T) {
	p := &schema.ExecutionPlan{Nodes: []schema.ExecutionNode{
		node("z"), node("a"), node("m", "z", "a"), node("n", "a"),
	}}
	if got := Roots(p); !reflect.DeepEqual(got, []string{"a", "z"}) {
		t.Errorf("roots: got %v", got)
	}
	dependents := Dependents(p)
	if got := dependents["a"]; !reflect.DeepEqual(got, []string{"m", "n"}) {
		t.Errorf("dependents of a: got %v", got)
	}
	if got, ok := dependents["m"]; !ok || len(got) != 0 {
		t.Errorf("leaf m should be present with no dependents, got %v (present=%v)", got, ok)
	}
}
