package plan

import (
	"sort"

	"github.com/rendis/flowplan/pkg/schema"
)

// Waves groups a validated plan's nodes into ready sets. Wave 0 holds the
// nodes without dependencies; wave k holds the nodes whose deepest
// dependency sits in wave k-1. Every wave is sorted by step ID.
func Waves(p *schema.ExecutionPlan) ([][]string, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	if len(p.Nodes) == 0 {
		return [][]string{}, nil
	}

	deps := make(map[string][]string, len(p.Nodes))
	for _, n := range p.Nodes {
		deps[n.StepID] = n.DependsOn
	}

	depth := make(map[string]int, len(p.Nodes))
	var visit func(id string) int
	visit = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		d := 0
		for _, dep := range deps[id] {
			if dd := visit(dep) + 1; dd > d {
				d = dd
			}
		}
		depth[id] = d
		return d
	}

	maxDepth := 0
	for _, n := range p.Nodes {
		if d := visit(n.StepID); d > maxDepth {
			maxDepth = d
		}
	}

	waves := make([][]string, maxDepth+1)
	for _, n := range p.Nodes {
		d := depth[n.StepID]
		waves[d] = append(waves[d], n.StepID)
	}
	for _, w := range waves {
		sort.Strings(w)
	}
	return waves, nil
}

// Roots returns the IDs of nodes without dependencies, sorted.
func Roots(p *schema.ExecutionPlan) []string {
	var roots []string
	for _, n := range p.Nodes {
		if len(n.DependsOn) == 0 {
			roots = append(roots, n.StepID)
		}
	}
	sort.Strings(roots)
	return roots
}

// Dependents returns, for each node, the sorted IDs of the nodes that depend on it.
func Dependents(p *schema.ExecutionPlan) map[string][]string {
	out := make(map[string][]string, len(p.Nodes))
	for _, n := range p.Nodes {
		if _, ok := out[n.StepID]; !ok {
			out[n.StepID] = nil
		}
		for _, dep := range n.DependsOn {
			out[dep] = append(out[dep], n.StepID)
		}
	}
	for _, v := range out {
		sort.Strings(v)
	}
	return out
}
