package schema

// PatternKind enumerates the reusable workflow shapes.
type PatternKind string

const (
	PatternLinear   PatternKind = "linear"
	PatternForkJoin PatternKind = "fork_join"
)

// PatternSpec is a declarative workflow template.
// Steps is used by linear patterns; Fork and Join by fork_join patterns.
type PatternSpec struct {
	ID    string      `json:"id" yaml:"id"`
	Kind  PatternKind `json:"kind" yaml:"kind"`
	Steps []string    `json:"steps,omitempty" yaml:"steps,omitempty"`
	Fork  *ForkSpec   `json:"fork,omitempty" yaml:"fork,omitempty"`
	Join  *JoinSpec   `json:"join,omitempty" yaml:"join,omitempty"`
}

// ForkSpec lists the parallel branches of a fork_join pattern.
type ForkSpec struct {
	Branches []BranchSpec `json:"branches" yaml:"branches"`
}

// BranchSpec is one ordered chain of task symbols inside a fork.
type BranchSpec struct {
	ID    string   `json:"id" yaml:"id"`
	Steps []string `json:"steps" yaml:"steps"`
}

// JoinSpec names the task symbol that runs after every branch.
type JoinSpec struct {
	Step string `json:"step" yaml:"step"`
}

// PatternDocument is the on-disk form of a set of patterns.
type PatternDocument struct {
	Patterns []PatternSpec `json:"patterns" yaml:"patterns"`
}

// SymbolBinding maps a canonical step ID back to its task symbol.
type SymbolBinding struct {
	StepID string `json:"step_id"`
	Symbol string `json:"symbol"`
}

// CompiledPattern is the canonical plan of a pattern plus its symbol table.
type CompiledPattern struct {
	PatternID string          `json:"pattern_id"`
	Plan      ExecutionPlan   `json:"plan"`
	Symbols   []SymbolBinding `json:"symbols"`
}

// Symbol returns the task symbol behind a canonical step ID.
func (c *CompiledPattern) Symbol(stepID string) (string, bool) {
	for _, b := range c.Symbols {
		if b.StepID == stepID {
			return b.Symbol, true
		}
	}
	return "", false
}
