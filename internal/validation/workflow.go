package validation

import (
	"github.com/rendis/flowplan/internal/plan"
	"github.com/rendis/flowplan/pkg/schema"
)

// StepValidator orchestrates the three-stage check of a step document:
// 1. Structural (JSON Schema)
// 2. Semantic (ids, save_as keys, references, guards)
// 3. DAG (build the plan, then shape warnings)
type StepValidator struct {
	docs   *DocumentValidator
	guards GuardChecker
}

// NewStepValidator creates a StepValidator. guards may be nil to skip guard
// compilation.
func NewStepValidator(guards GuardChecker) (*StepValidator, error) {
	docs, err := NewDocumentValidator()
	if err != nil {
		return nil, err
	}
	return &StepValidator{docs: docs, guards: guards}, nil
}

// Validate runs the full pipeline. Structural errors short-circuit; the DAG
// stage only runs when the semantic stage found no errors.
func (v *StepValidator) Validate(doc *schema.StepDocument) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if doc == nil {
		result.AddError("/", schema.ErrCodeValidation, "step document is nil")
		return result
	}

	result.Merge(validateStructural(v.docs, doc))
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(doc.WorkflowKind, doc.Steps, v.guards))

	if result.Valid() {
		p, err := plan.Build(doc.WorkflowKind, doc.Steps)
		if err != nil {
			fe := schema.AsFlowplanError(err)
			result.AddError("steps", fe.Code, fe.Message)
		} else {
			result.Merge(validateDAG(p))
		}
	}

	result.Sort()
	return result
}

// ValidatePlan runs only the DAG stage on an already built plan.
func ValidatePlan(p *schema.ExecutionPlan) *schema.ValidationResult {
	if p == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "plan is nil")
		return r
	}
	return validateDAG(p)
}

// validateStructural converts DocumentValidator output into a ValidationResult.
func validateStructural(v *DocumentValidator, doc *schema.StepDocument) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateStepDocument(doc)
	if err == nil {
		return result
	}

	fe := schema.AsFlowplanError(err)
	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, msg := range violations {
			result.AddError("/", schema.ErrCodeValidation, msg)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, fe.Message)
	return result
}
