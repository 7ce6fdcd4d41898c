package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/flowplan/internal/plan"
	"github.com/rendis/flowplan/pkg/schema"
)

// validateDAG checks a built plan: structural errors from plan.Validate,
// then shape warnings that do not stop execution.
func validateDAG(p *schema.ExecutionPlan) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if err := plan.Validate(p); err != nil {
		fe := schema.AsFlowplanError(err)
		path := "nodes"
		if fe.StepID != "" {
			path = fmt.Sprintf("nodes[%s]", fe.StepID)
		}
		result.AddError(path, fe.Code, fe.Message)
		return result // a broken graph makes shape analysis meaningless
	}
	if len(p.Nodes) < 2 {
		return result
	}

	dependents := plan.Dependents(p)
	for _, id := range plan.Roots(p) {
		if len(dependents[id]) == 0 {
			result.AddWarning(fmt.Sprintf("nodes[%s]", id), schema.ErrCodeValidation,
				fmt.Sprintf("step %q has no dependencies and no dependents", id))
		}
	}

	if p.WorkflowKind == schema.WorkflowConcurrent {
		if _, ok := p.Node(plan.ForkJoinID); ok {
			branches := 0
			for _, n := range p.Nodes {
				if plan.IsForkBranch(n.StepID) {
					branches++
				}
			}
			if branches == 0 {
				result.AddWarning(fmt.Sprintf("nodes[%s]", plan.ForkJoinID), schema.ErrCodeValidation,
					"fork join has no branches to wait for")
			}
		}
	}

	sort.SliceStable(result.Warnings, func(i, j int) bool {
		return result.Warnings[i].Path < result.Warnings[j].Path
	})
	return result
}
