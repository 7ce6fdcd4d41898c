package diagram

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rendis/flowplan/internal/plan"
	"github.com/rendis/flowplan/pkg/schema"
)

// Build constructs a DiagramModel from an execution plan. Levels come from
// plan.Waves, so an invalid plan is rejected with the validator's error.
func Build(p *schema.ExecutionPlan, title string) (*DiagramModel, error) {
	levels, err := plan.Waves(p)
	if err != nil {
		return nil, fmt.Errorf("diagram: %w", err)
	}

	nodes := make([]*Node, 0, len(p.Nodes))
	saveAs := make(map[string]string, len(p.Nodes))
	for _, n := range p.Nodes {
		nodes = append(nodes, &Node{
			ID:     n.StepID,
			Label:  n.StepID,
			Kind:   nodeKind(n.StepID),
			SaveAs: n.SaveAs,
		})
		saveAs[n.StepID] = n.SaveAs
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	return &DiagramModel{
		Title:        title,
		WorkflowKind: string(p.WorkflowKind),
		Nodes:        nodes,
		Edges:        buildEdges(p, saveAs),
		Levels:       levels,
	}, nil
}

// BuildPattern is Build for a compiled pattern. Nodes are labeled with their
// task symbol instead of the canonical ID.
func BuildPattern(cp *schema.CompiledPattern) (*DiagramModel, error) {
	m, err := Build(&cp.Plan, cp.PatternID)
	if err != nil {
		return nil, err
	}
	for _, n := range m.Nodes {
		if sym, ok := cp.Symbol(n.ID); ok {
			n.Label = sym
		}
	}
	return m, nil
}

// Overlay applies step results from a run to the model's nodes.
func Overlay(m *DiagramModel, results []*schema.StepResult) {
	byID := make(map[string]*schema.StepResult, len(results))
	for _, r := range results {
		byID[r.StepID] = r
	}
	for _, n := range m.Nodes {
		r, ok := byID[n.ID]
		if !ok {
			continue
		}
		n.Status = &StatusOverlay{
			Status:     string(r.Status),
			DurationMs: r.DurationMs,
			Error:      errorMessage(r.Error),
		}
	}
}

// buildEdges returns one edge per (dependency, dependent) pair, deduplicated
// and sorted by (from, to).
func buildEdges(p *schema.ExecutionPlan, saveAs map[string]string) []Edge {
	seen := make(map[[2]string]struct{})
	edges := make([]Edge, 0)
	for _, n := range p.Nodes {
		for _, dep := range n.DependsOn {
			key := [2]string{dep, n.StepID}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			edges = append(edges, Edge{From: dep, To: n.StepID, Label: saveAs[dep]})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

func nodeKind(id string) NodeKind {
	switch {
	case id == plan.ForkPlanID:
		return NodeKindForkPlan
	case id == plan.ForkJoinID:
		return NodeKindForkJoin
	case plan.IsForkBranch(id):
		return NodeKindForkBranch
	default:
		return NodeKindStep
	}
}

// errorMessage extracts the message of a stored FlowplanError, falling back
// to the raw JSON.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var fe schema.FlowplanError
	if err := json.Unmarshal(raw, &fe); err == nil && fe.Message != "" {
		return fe.Message
	}
	return string(raw)
}
