package plan

import (
	"sort"

	"github.com/rendis/flowplan/pkg/schema"
)

// Validate checks the structural invariants of a plan: unique step IDs,
// edges that point at existing nodes, no self edges, and no cycles.
// Acyclicity is decided with Kahn's algorithm.
func Validate(p *schema.ExecutionPlan) error {
	if p == nil {
		return schema.NewError(schema.ErrCodeValidation, "execution plan is nil")
	}

	ids := make(map[string]struct{}, len(p.Nodes))
	for _, n := range p.Nodes {
		if _, exists := ids[n.StepID]; exists {
			return schema.NewErrorf(schema.ErrCodeDuplicateStepID, "duplicate step ID: %s", n.StepID).WithStep(n.StepID)
		}
		ids[n.StepID] = struct{}{}
	}

	// inDegree[id] = number of dependencies, reverse[id] = dependents of id.
	inDegree := make(map[string]int, len(p.Nodes))
	reverse := make(map[string][]string, len(p.Nodes))
	for _, n := range p.Nodes {
		for _, dep := range n.DependsOn {
			if _, exists := ids[dep]; !exists {
				return schema.NewErrorf(schema.ErrCodeUnknownDependency,
					"step %s depends on non-existent step: %s", n.StepID, dep).
					WithStep(n.StepID).
					WithDetails(map[string]any{"dependency": dep})
			}
			if dep == n.StepID {
				return schema.NewErrorf(schema.ErrCodeSelfDependency, "step %s depends on itself", n.StepID).
					WithStep(n.StepID)
			}
			reverse[dep] = append(reverse[dep], n.StepID)
		}
		inDegree[n.StepID] = len(n.DependsOn)
	}

	queue := make([]string, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		if inDegree[n.StepID] == 0 {
			queue = append(queue, n.StepID)
		}
	}

	processed := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		processed++
		for _, dependent := range reverse[node] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if processed < len(p.Nodes) {
		stuck := make([]string, 0, len(p.Nodes)-processed)
		for id, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return schema.NewErrorf(schema.ErrCodeCycleDetected,
			"workflow contains a dependency cycle (%d of %d steps unresolvable)", len(stuck), len(p.Nodes)).
			WithDetails(map[string]any{"steps": stuck})
	}
	return nil
}
