package diagram

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowplan/pkg/schema"
)

func TestRenderMermaid(t *testing.T) {
	m, err := Build(diamondPlan(t), "diamond")
	require.NoError(t, err)

	out := RenderMermaid(m)
	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, "%% diamond")
	assert.Contains(t, out, `fetch["fetch"]`)
	assert.Contains(t, out, "fetch -->|doc| left")
	assert.Contains(t, out, "right -->|r| merge")
	assert.NotContains(t, out, "classDef")
}

func TestRenderMermaid_ForkShapesAndStatus(t *testing.T) {
	m, err := Build(forkPlan(t), "")
	require.NoError(t, err)
	Overlay(m, []*schema.StepResult{{StepID: "fork.join", Status: schema.StepStatusCompleted}})

	out := RenderMermaid(m)
	assert.Contains(t, out, `fork_plan{{"fork.plan"}}`)
	assert.Contains(t, out, `fork_branch_web[["fork.branch.web"]]`)
	assert.Contains(t, out, `fork_join{"fork.join"}`)
	assert.Contains(t, out, "class fork_join completed")
}

func TestMermaidSafeID(t *testing.T) {
	assert.Equal(t, "p__research__web__search", mermaidSafeID("p::research::web::search"))
	assert.Equal(t, "fork_branch_a_b", mermaidSafeID("fork.branch.a-b"))
}

func TestRenderDOT_Stable(t *testing.T) {
	m, err := Build(diamondPlan(t), "diamond")
	require.NoError(t, err)

	want := `digraph plan {
    rankdir=TB;
    label="diamond";
    node [shape=box];
    "fetch" [label="fetch"];
    "left" [label="left"];
    "merge" [label="merge"];
    "right" [label="right"];
    "fetch" -> "left" [label="doc"];
    "fetch" -> "right" [label="doc"];
    "left" -> "merge" [label="l"];
    "right" -> "merge" [label="r"];
}
`
	assert.Equal(t, want, RenderDOT(m))

	again, err := Build(diamondPlan(t), "diamond")
	require.NoError(t, err)
	assert.Equal(t, RenderDOT(m), RenderDOT(again))
}

func TestRenderDOT_ForkAndStatus(t *testing.T) {
	m, err := Build(forkPlan(t), `fork "demo"`)
	require.NoError(t, err)
	Overlay(m, []*schema.StepResult{{StepID: "fork.plan", Status: schema.StepStatusFailed}})

	out := RenderDOT(m)
	assert.Contains(t, out, `label="fork \"demo\"";`)
	assert.Contains(t, out, `"fork.plan" [label="fork.plan", shape=hexagon, style=filled, fillcolor="#8b1a1a"];`)
	assert.Contains(t, out, `"fork.join" [label="fork.join", shape=diamond];`)
	assert.Contains(t, out, `"fork.branch.code" -> "fork.join";`)
}

func TestRenderJSON(t *testing.T) {
	m, err := Build(diamondPlan(t), "")
	require.NoError(t, err)

	out, err := RenderJSON(m)
	require.NoError(t, err)

	var decoded DiagramModel
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Len(t, decoded.Nodes, 4)
	assert.Len(t, decoded.Edges, 4)
	assert.Equal(t, m.Levels, decoded.Levels)
	assert.NotContains(t, string(out), `"title"`)
}

func TestRenderASCII(t *testing.T) {
	m, err := Build(diamondPlan(t), "diamond")
	require.NoError(t, err)
	Overlay(m, []*schema.StepResult{{StepID: "fetch", Status: schema.StepStatusCompleted, DurationMs: 5}})

	out := RenderASCII(m)
	assert.True(t, strings.HasPrefix(out, "=== diamond ===\n\n"))
	assert.Contains(t, out, "wave 0\n")
	assert.Contains(t, out, "wave 2\n")
	assert.Contains(t, out, "[OK]")
	assert.Contains(t, out, "5ms")
	assert.Contains(t, out, "fetch ─→ left (doc)")

	// left and right share a row.
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "left") && strings.Contains(line, "│") {
			assert.Contains(t, line, "right")
		}
	}
}

func TestRenderImage(t *testing.T) {
	m, err := Build(forkPlan(t), "fork")
	require.NoError(t, err)
	Overlay(m, []*schema.StepResult{{StepID: "fork.plan", Status: schema.StepStatusSkipped}})

	png, err := RenderImage(context.Background(), m, ImagePNG)
	require.NoError(t, err)
	require.True(t, len(png) > 8, "PNG should be larger than header")
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])

	svg, err := RenderImage(context.Background(), m, ImageSVG)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")

	_, err = RenderImage(context.Background(), m, "gif")
	assert.Error(t, err)
}
