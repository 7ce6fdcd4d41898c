package pattern

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowplan/pkg/schema"
)

func linear(id string, steps ...string) schema.PatternSpec {
	return schema.PatternSpec{ID: id, Kind: schema.PatternLinear, Steps: steps}
}

func TestNewRegistry_DuplicateID(t *testing.T) {
	_, err := NewRegistry([]schema.PatternSpec{linear("a", "x"), linear("a", "y")})
	assert.Equal(t, schema.ErrCodeDuplicatePatternID, codeOf(t, err))
}

func TestRegistry_GetAndIDs(t *testing.T) {
	r, err := NewRegistry([]schema.PatternSpec{linear("zeta", "z"), linear("alpha", "a")})
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"alpha", "zeta"}, r.IDs())

	s, ok := r.Get("zeta")
	require.True(t, ok)
	assert.Equal(t, []string{"z"}, s.Steps)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_CompileUnknownListsSortedIDs(t *testing.T) {
	r, err := NewRegistry([]schema.PatternSpec{linear("zeta", "z"), linear("alpha", "a")})
	require.NoError(t, err)

	_, err = r.Compile("missing")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeUnknownPatternID, codeOf(t, err))

	msg := err.Error()
	alpha, zeta := strings.Index(msg, "alpha"), strings.Index(msg, "zeta")
	require.True(t, alpha >= 0 && zeta >= 0, "message must list every id: %s", msg)
	assert.Less(t, alpha, zeta)

	fe := err.(*schema.FlowplanError)
	assert.Equal(t, []string{"alpha", "zeta"}, fe.Details["known_ids"])
}

func TestRegistry_CompileAllSortedAndStable(t *testing.T) {
	specs := []schema.PatternSpec{
		linear("zeta", "z1", "z2"),
		forkJoinSpec(branchWeb, branchPapers),
		linear("alpha", "a1"),
	}
	r, err := NewRegistry(specs)
	require.NoError(t, err)

	first, err := r.CompileAll()
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, "alpha", first[0].PatternID)
	assert.Equal(t, "research", first[1].PatternID)
	assert.Equal(t, "zeta", first[2].PatternID)

	// Registration order must not matter.
	reversed, err := NewRegistry([]schema.PatternSpec{specs[2], specs[1], specs[0]})
	require.NoError(t, err)
	second, err := reversed.CompileAll()
	require.NoError(t, err)

	for i := range first {
		a, err := first[i].Plan.Canonical()
		require.NoError(t, err)
		b, err := second[i].Plan.Canonical()
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b))
	}
}

func TestRegistry_CompileAllPropagatesErrors(t *testing.T) {
	r, err := NewRegistry([]schema.PatternSpec{linear("ok", "a"), linear("broken")})
	require.NoError(t, err)

	_, err = r.CompileAll()
	assert.Equal(t, schema.ErrCodeEmptyPatternSteps, codeOf(t, err))
}

func TestRegistry_IDsReturnsCopy(t *testing.T) {
	r, err := NewRegistry([]schema.PatternSpec{linear("a", "x")})
	require.NoError(t, err)

	ids := r.IDs()
	ids[0] = "mutated"
	assert.Equal(t, []string{"a"}, r.IDs())
}

func TestRegistry_IsolatedFromCallerMutation(t *testing.T) {
	steps := []string{"a", "b"}
	fork := forkJoinSpec(schema.BranchSpec{ID: "web", Steps: []string{"search"}})
	r, err := NewRegistry([]schema.PatternSpec{linear("l", steps...), fork})
	require.NoError(t, err)

	steps[0] = "zz"
	fork.Fork.Branches[0].Steps[0] = "mutated"
	fork.Join.Step = "mutated"

	got, ok := r.Get("l")
	require.True(t, ok)
	got.Steps[1] = "yy"

	gotFork, ok := r.Get("research")
	require.True(t, ok)
	gotFork.Fork.Branches[0].ID = "mutated"

	c, err := r.Compile("l")
	require.NoError(t, err)
	assert.Equal(t, []string{"p::l::a", "p::l::b"}, c.Plan.StepIDs())

	c, err = r.Compile("research")
	require.NoError(t, err)
	assert.Equal(t, []string{"p::research::web::search", "p::research::merge"}, c.Plan.StepIDs())
}
