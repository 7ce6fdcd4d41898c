package expressions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowplan/pkg/schema"
)

func TestPathQuery(t *testing.T) {
	assert.Equal(t, `.["a"]`, pathQuery("a"))
	assert.Equal(t, `.["a"] | (if type == "array" then .[0] else .["0"] end) | .["b-c"]`, pathQuery("a.0.b-c"))
}

func TestPathResolver_Resolve(t *testing.T) {
	r := NewPathResolver()
	data := map[string]any{
		"summary": "short",
		"items":   []any{map[string]any{"title": "first"}, map[string]any{"title": "second"}},
		"byIndex": map[string]any{"0": "zero"},
		"nested":  map[string]any{"count": 2},
	}
	ctx := context.Background()

	cases := []struct {
		path string
		want any
	}{
		{"", data},
		{"summary", "short"},
		{"items.1.title", "second"},
		{"byIndex.0", "zero"},
		{"nested.count", 2.0},
		{"missing", nil},
		{"items.7", nil},
	}
	for _, tc := range cases {
		got, err := r.Resolve(ctx, data, tc.path)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.want, got, tc.path)
	}
}

func TestPathResolver_IndexScalar(t *testing.T) {
	r := NewPathResolver()

	_, err := r.Resolve(context.Background(), map[string]any{"summary": "text"}, "summary.title")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExecution))
}

func TestPathResolver_Cache(t *testing.T) {
	r := NewPathResolver()
	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), map[string]any{"a": 1.0}, "a")
		require.NoError(t, err)
	}
	assert.Len(t, r.cache, 1)
}

type report struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func TestState_PutNormalizes(t *testing.T) {
	st := NewState()
	require.NoError(t, st.Put("s1", "report", report{Title: "t", Tags: []string{"x"}}))
	require.NoError(t, st.Put("s2", "", 5))
	require.NoError(t, st.Put("s3", "raw", json.RawMessage(`{"ok":true}`)))

	v, ok := st.Lookup("report")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"title": "t", "tags": []any{"x"}}, v)

	steps := st.GuardData(nil)["steps"].(map[string]any)
	assert.Equal(t, 5.0, steps["s2"])

	v, _ = st.Lookup("raw")
	assert.Equal(t, map[string]any{"ok": true}, v)

	assert.Equal(t, []string{"raw", "report"}, st.Keys())
}

func TestState_PutRejectsUnmarshalable(t *testing.T) {
	st := NewState()
	err := st.Put("s1", "k", make(chan int))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExecution))
}

func TestState_Skip(t *testing.T) {
	st := NewState()
	st.Skip("s1", "notes")

	steps := st.GuardData(nil)["steps"].(map[string]any)
	assert.Contains(t, steps, "s1")
	assert.Nil(t, steps["s1"])
	v, ok := st.Lookup("notes")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestState_GuardDataIsCopy(t *testing.T) {
	st := NewState()
	require.NoError(t, st.Put("s1", "plan", map[string]any{"approved": true}))

	data := st.GuardData(map[string]any{"run_id": "r1"})
	data["state"].(map[string]any)["plan"].(map[string]any)["approved"] = false

	v, _ := st.Lookup("plan")
	assert.Equal(t, true, v.(map[string]any)["approved"])
	assert.Equal(t, "r1", data["run"].(map[string]any)["run_id"])
}

func TestBinder_Bind(t *testing.T) {
	st := NewState()
	require.NoError(t, st.Put("s1", "notes", map[string]any{
		"summary": "brief",
		"points":  []any{"a", "b"},
		"score":   0.5,
	}))
	require.NoError(t, st.Put("s2", "topic", "graphs"))
	st.Skip("s3", "draft")

	b := NewBinder(nil)
	out, err := b.Bind(context.Background(), map[string]string{
		"literal":  "plain text",
		"whole":    "@state:notes",
		"sub":      "@state:notes.summary",
		"list":     "@state:notes.points",
		"embedded": "topic=@state:topic score=@state:notes.score",
		"json":     "points: @state:notes.points",
		"skipped":  "@state:draft",
		"unknown":  "@state:tool.result",
		"inline":   "draft: @state:draft",
	}, st)
	require.NoError(t, err)

	assert.Equal(t, "plain text", out["literal"])
	assert.Equal(t, map[string]any{"summary": "brief", "points": []any{"a", "b"}, "score": 0.5}, out["whole"])
	assert.Equal(t, "brief", out["sub"])
	assert.Equal(t, []any{"a", "b"}, out["list"])
	assert.Equal(t, "topic=graphs score=0.5", out["embedded"])
	assert.Equal(t, `points: ["a","b"]`, out["json"])
	assert.Nil(t, out["skipped"])
	assert.Nil(t, out["unknown"])
	assert.Equal(t, "draft: null", out["inline"])
}

func TestBinder_PathErrorCarriesInput(t *testing.T) {
	st := NewState()
	require.NoError(t, st.Put("s1", "topic", "graphs"))

	_, err := NewBinder(nil).Bind(context.Background(), map[string]string{
		"q": "@state:topic.name",
	}, st)
	require.Error(t, err)

	var fe *schema.FlowplanError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeExecution, fe.Code)
	assert.Equal(t, "q", fe.Details["input"])
	assert.Equal(t, "@state:topic.name", fe.Details["reference"])
	assert.Equal(t, "name", fe.Details["path"])
	assert.Equal(t, `.["name"]`, fe.Details["query"], "resolver details must survive binding")
}
