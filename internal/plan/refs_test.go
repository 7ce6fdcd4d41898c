package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindStateRefs(t *testing.T) {
	refs := FindStateRefs("compare @state:draft with @state:notes.summary.0 please")
	require.Len(t, refs, 2)

	assert.Equal(t, "draft", refs[0].Key)
	assert.False(t, refs[0].Namespaced())

	assert.Equal(t, "notes", refs[1].Key)
	assert.Equal(t, "summary.0", refs[1].Subpath)
	assert.Equal(t, "notes.summary.0", refs[1].Path())
	assert.Equal(t, "@state:notes.summary.0", refs[1].Raw)
}

func TestFindStateRefs_TrailingDotNotPartOfPath(t *testing.T) {
	refs := FindStateRefs("see @state:draft.")
	require.Len(t, refs, 1)
	assert.Equal(t, "draft", refs[0].Path())
}

func TestFindStateRefs_None(t *testing.T) {
	assert.Nil(t, FindStateRefs("no refs here, @state: alone"))
}

func TestFindStateRefs_StopsAtForeignCharacters(t *testing.T) {
	ref, ok := ParseStateRef("@state:out")
	require.True(t, ok)
	assert.Equal(t, "out", ref.Key)

	refs := FindStateRefs("@state:out:v1")
	require.Len(t, refs, 1)
	assert.Equal(t, "out", refs[0].Key)
	assert.Equal(t, "@state:out", refs[0].Raw)

	refs = FindStateRefs("@state:résumé")
	require.Len(t, refs, 1)
	assert.Equal(t, "r", refs[0].Key)
}

func TestValidStateKey(t *testing.T) {
	for _, key := range []string{"out", "deep_notes", "v-2", "A9"} {
		assert.True(t, ValidStateKey(key), key)
	}
	for _, key := range []string{"", "out:v1", "résumé", "a b", "a.b", "@state"} {
		assert.False(t, ValidStateKey(key), key)
	}
}

func TestParseStateRef(t *testing.T) {
	ref, ok := ParseStateRef("@state:out.items")
	require.True(t, ok)
	assert.Equal(t, "out", ref.Key)

	_, ok = ParseStateRef("x @state:out")
	assert.False(t, ok)
	_, ok = ParseStateRef("@state:a @state:b")
	assert.False(t, ok)
}
