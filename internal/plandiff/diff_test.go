package plandiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowplan/internal/pattern"
	"github.com/rendis/flowplan/pkg/schema"
)

func node(id, saveAs string, deps ...string) schema.ExecutionNode {
	if deps == nil {
		deps = []string{}
	}
	return schema.ExecutionNode{StepID: id, DependsOn: deps, SaveAs: saveAs}
}

func TestCompare_Identical(t *testing.T) {
	p := &schema.ExecutionPlan{
		WorkflowKind: schema.WorkflowSequential,
		Nodes:        []schema.ExecutionNode{node("a", "x"), node("b", "", "a")},
	}
	d := Compare(p, p)
	assert.True(t, d.Empty())
	assert.Equal(t, "no changes\n", Render(d))
}

func TestCompare_IgnoresDeclarationOrder(t *testing.T) {
	a := &schema.ExecutionPlan{
		WorkflowKind: schema.WorkflowSequential,
		Nodes:        []schema.ExecutionNode{node("a", ""), node("b", "", "a")},
	}
	b := &schema.ExecutionPlan{
		WorkflowKind: schema.WorkflowSequential,
		Nodes:        []schema.ExecutionNode{node("b", "", "a"), node("a", "")},
	}
	assert.True(t, Compare(a, b).Empty())
}

func TestCompare_AllChangeKinds(t *testing.T) {
	old := &schema.ExecutionPlan{
		WorkflowKind: schema.WorkflowSequential,
		Nodes: []schema.ExecutionNode{
			node("fetch", "doc"),
			node("gone", ""),
			node("summarize", "sum", "fetch"),
			node("publish", "", "summarize"),
		},
	}
	next := &schema.ExecutionPlan{
		WorkflowKind: schema.WorkflowConcurrent,
		Nodes: []schema.ExecutionNode{
			node("fetch", "document"),
			node("summarize", "sum", "fetch"),
			node("check", "ok", "fetch"),
			node("publish", "", "check", "summarize"),
		},
	}

	d := Compare(old, next)
	require.False(t, d.Empty())

	assert.True(t, d.KindChanged)
	assert.Equal(t, []string{"check"}, d.Added)
	assert.Equal(t, []string{"gone"}, d.Removed)
	assert.Equal(t, []DependencyChange{{
		StepID: "publish",
		Before: []string{"summarize"},
		After:  []string{"check", "summarize"},
		Added:  []string{"check"},
	}}, d.DependencyChanges)
	assert.Equal(t, []SaveAsChange{{StepID: "fetch", Before: "doc", After: "document"}}, d.SaveAsChanges)

	want := "~ workflow_kind: sequential -> concurrent\n" +
		"+ check\n" +
		"- gone\n" +
		"~ publish depends_on: [summarize] -> [check, summarize]\n" +
		"~ fetch save_as: \"doc\" -> \"document\"\n"
	assert.Equal(t, want, Render(d))
}

func TestCompare_NilPlans(t *testing.T) {
	p := &schema.ExecutionPlan{
		WorkflowKind: schema.WorkflowSequential,
		Nodes:        []schema.ExecutionNode{node("b", ""), node("a", "")},
	}

	d := Compare(nil, p)
	assert.Equal(t, []string{"a", "b"}, d.Added)
	assert.True(t, d.KindChanged)

	d = Compare(p, nil)
	assert.Equal(t, []string{"a", "b"}, d.Removed)

	assert.True(t, Compare(nil, nil).Empty())
}

func TestCompare_PatternBranchPermutation(t *testing.T) {
	spec := func(order ...string) schema.PatternSpec {
		branches := make([]schema.BranchSpec, len(order))
		for i, id := range order {
			branches[i] = schema.BranchSpec{ID: id, Steps: []string{"s_" + id}}
		}
		return schema.PatternSpec{
			ID: "r", Kind: schema.PatternForkJoin,
			Fork: &schema.ForkSpec{Branches: branches},
			Join: &schema.JoinSpec{Step: "merge"},
		}
	}

	a, err := pattern.Compile(spec("x", "y"))
	require.NoError(t, err)
	b, err := pattern.Compile(spec("y", "x"))
	require.NoError(t, err)
	assert.True(t, Compare(&a.Plan, &b.Plan).Empty())

	c, err := pattern.Compile(spec("x", "y", "z"))
	require.NoError(t, err)
	d := Compare(&a.Plan, &c.Plan)
	assert.Equal(t, []string{"p::r::z::s_z"}, d.Added)
	require.Len(t, d.DependencyChanges, 1)
	assert.Equal(t, "p::r::merge", d.DependencyChanges[0].StepID)
	assert.Equal(t, []string{"p::r::z::s_z"}, d.DependencyChanges[0].Added)
}
