package schema

// ResolvedStep is a workflow step after document loading and composition.
// Input values of the form "@state:<key>" or "@state:<key>.<subpath>" refer
// to the output another step saved under <key>.
type ResolvedStep struct {
	ID     string            `json:"id" yaml:"id"`
	SaveAs *string           `json:"save_as,omitempty" yaml:"save_as,omitempty"`
	Inputs map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	When   string            `json:"when,omitempty" yaml:"when,omitempty"` // guard expression, evaluated at run time
}

// SaveAsKey returns the save_as key and whether one was declared.
func (s ResolvedStep) SaveAsKey() (string, bool) {
	if s.SaveAs == nil {
		return "", false
	}
	return *s.SaveAs, true
}

// StepDocument is the on-disk form of a resolved step list.
type StepDocument struct {
	WorkflowKind WorkflowKind   `json:"workflow_kind" yaml:"workflow_kind"`
	Steps        []ResolvedStep `json:"steps" yaml:"steps"`
}

// StringPtr returns a pointer to s. Convenient for ResolvedStep.SaveAs literals.
func StringPtr(s string) *string {
	return &s
}
