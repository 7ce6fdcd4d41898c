package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/flowplan/internal/plan"
	"github.com/rendis/flowplan/pkg/schema"
)

// GuardChecker compiles guard expressions without running them.
// Satisfied by *expressions.CELEngine and *expressions.ExprEngine.
type GuardChecker interface {
	Compile(expression string) error
}

// validateSemantic reports every step-level defect in one pass. The plan
// builder stops at the first; this is for authoring feedback.
// Checks: ids, save_as keys, @state: references, guards.
func validateSemantic(kind schema.WorkflowKind, steps []schema.ResolvedStep, guards GuardChecker) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]int, len(steps))
	producers := make(map[string]string, len(steps))
	for i, s := range steps {
		path := fmt.Sprintf("steps[%d]", i)
		if s.ID == "" {
			result.AddError(path+".id", schema.ErrCodeValidation, "step id must not be empty")
		} else if first, dup := ids[s.ID]; dup {
			result.AddError(path+".id", schema.ErrCodeDuplicateStepID,
				fmt.Sprintf("step id %q already declared at steps[%d]", s.ID, first))
		} else {
			ids[s.ID] = i
		}

		key, ok := s.SaveAsKey()
		if !ok {
			continue
		}
		switch prev, dup := producers[key]; {
		case key == "":
			result.AddError(path+".save_as", schema.ErrCodeEmptySaveAsKey, "save_as must not be empty")
		case dup:
			result.AddError(path+".save_as", schema.ErrCodeDuplicateSaveAsKey,
				fmt.Sprintf("save_as key %q already produced by step %q", key, prev))
		default:
			producers[key] = s.ID
		}
	}

	consumed := make(map[string]bool, len(producers))
	for i, s := range steps {
		path := fmt.Sprintf("steps[%d]", i)
		validateRefs(s, path, producers, consumed, result)

		if s.When != "" && guards != nil {
			if err := guards.Compile(s.When); err != nil {
				result.AddError(path+".when", schema.ErrCodeValidation,
					fmt.Sprintf("invalid guard: %s", schema.AsFlowplanError(err).Message))
			}
		}

		if kind == schema.WorkflowSequential && isForkRole(s.ID) {
			result.AddWarning(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("step %q uses a fork role name but fork/join wiring only applies to concurrent workflows", s.ID))
		}
	}

	keys := make([]string, 0, len(producers))
	for k := range producers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !consumed[k] {
			result.AddWarning("save_as."+k, schema.ErrCodeValidation,
				fmt.Sprintf("save_as key %q is never referenced", k))
		}
	}

	return result
}

// validateRefs checks the @state: references of one step, visiting inputs
// in sorted order.
func validateRefs(s schema.ResolvedStep, path string, producers map[string]string, consumed map[string]bool, result *schema.ValidationResult) {
	names := make([]string, 0, len(s.Inputs))
	for name := range s.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		inputPath := fmt.Sprintf("%s.inputs.%s", path, name)
		for _, ref := range plan.FindStateRefs(s.Inputs[name]) {
			producer, known := producers[ref.Key]
			switch {
			case known && producer == s.ID:
				result.AddError(inputPath, schema.ErrCodeSelfDependency,
					fmt.Sprintf("step %q references its own output %q", s.ID, ref.Raw))
			case known:
				consumed[ref.Key] = true
			case ref.Namespaced():
				result.AddWarning(inputPath, schema.ErrCodeUnknownStateReference,
					fmt.Sprintf("%s names no declared save_as key; treated as a namespaced output", ref.Raw))
			default:
				result.AddError(inputPath, schema.ErrCodeUnknownStateReference,
					fmt.Sprintf("%s does not match any save_as key", ref.Raw))
			}
		}
	}
}

func isForkRole(id string) bool {
	return id == plan.ForkPlanID || id == plan.ForkJoinID || strings.HasPrefix(id, plan.ForkBranchPrefix)
}
