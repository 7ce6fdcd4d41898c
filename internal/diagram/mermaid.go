package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n",
			mermaidSafeID(edge.From), label, mermaidSafeID(edge.To)))
	}

	var classes []string
	for _, node := range model.Nodes {
		if node.Status == nil {
			continue
		}
		if cls := mermaidStatusClass(node.Status.Status); cls != "" {
			classes = append(classes, fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
		}
	}
	if len(classes) > 0 {
		b.WriteString("\n")
		b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
		b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
		b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
		b.WriteString("    classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
		b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")
		for _, c := range classes {
			b.WriteString(c)
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := node.Label

	switch node.Kind {
	case NodeKindForkPlan:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case NodeKindForkBranch:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindForkJoin:
		return fmt.Sprintf("%s{%q}", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
// Dots, dashes, spaces and the "::" separator of pattern IDs become
// underscores.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer("::", "__", ".", "_", "-", "_", " ", "_", ":", "_")
	return r.Replace(id)
}

// mermaidStatusClass maps a status string to a Mermaid class name.
func mermaidStatusClass(status string) string {
	switch status {
	case "completed", "failed", "running", "pending", "skipped":
		return status
	default:
		return ""
	}
}
