package diagram

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RenderDOT renders a DiagramModel as Graphviz DOT source. Unlike
// RenderImage it needs no graphviz runtime and its output is byte-stable.
func RenderDOT(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("digraph plan {\n")
	b.WriteString("    rankdir=TB;\n")
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    label=%s;\n", dotQuote(model.Title)))
	}
	b.WriteString("    node [shape=box];\n")

	for _, node := range model.Nodes {
		attrs := []string{"label=" + dotQuote(node.Label)}
		if shape := dotShape(node.Kind); shape != "" {
			attrs = append(attrs, "shape="+shape)
		}
		if node.Status != nil {
			if fill := statusFill(node.Status.Status); fill != "" {
				attrs = append(attrs, "style=filled", "fillcolor="+dotQuote(fill))
			}
		}
		b.WriteString(fmt.Sprintf("    %s [%s];\n", dotQuote(node.ID), strings.Join(attrs, ", ")))
	}

	for _, edge := range model.Edges {
		if edge.Label != "" {
			b.WriteString(fmt.Sprintf("    %s -> %s [label=%s];\n",
				dotQuote(edge.From), dotQuote(edge.To), dotQuote(edge.Label)))
			continue
		}
		b.WriteString(fmt.Sprintf("    %s -> %s;\n", dotQuote(edge.From), dotQuote(edge.To)))
	}

	b.WriteString("}\n")
	return b.String()
}

// RenderJSON renders the model as indented JSON.
func RenderJSON(model *DiagramModel) ([]byte, error) {
	out, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("diagram: encode JSON: %w", err)
	}
	return append(out, '\n'), nil
}

func dotQuote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func dotShape(kind NodeKind) string {
	switch kind {
	case NodeKindForkPlan:
		return "hexagon"
	case NodeKindForkJoin:
		return "diamond"
	case NodeKindForkBranch:
		return "box3d"
	default:
		return ""
	}
}

// statusFill is shared by the DOT and image renderers.
func statusFill(status string) string {
	switch status {
	case "completed":
		return "#2d6a2d"
	case "failed":
		return "#8b1a1a"
	case "running":
		return "#1a5276"
	case "pending":
		return "#d3d3d3"
	case "skipped":
		return "#e8e8e8"
	default:
		return ""
	}
}
