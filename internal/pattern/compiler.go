package pattern

import (
	"sort"
	"strings"

	"github.com/rendis/flowplan/internal/plan"
	"github.com/rendis/flowplan/pkg/schema"
)

const idSeparator = "::"

// CanonicalID derives a pattern step ID from its coordinates. Branch is empty
// for linear steps and for the join step.
func CanonicalID(patternID, branchID, symbol string) string {
	parts := []string{"p", patternID}
	if branchID != "" {
		parts = append(parts, branchID)
	}
	parts = append(parts, symbol)
	return strings.Join(parts, idSeparator)
}

// Compile turns a pattern into its canonical plan. IDs depend only on
// (pattern ID, branch ID, symbol), and fork branches are emitted in branch
// ID order, so the serialized plan is byte-stable across calls and across
// branch declaration orders.
func Compile(spec schema.PatternSpec) (*schema.CompiledPattern, error) {
	if spec.ID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "pattern has empty ID")
	}

	var (
		out *schema.CompiledPattern
		err error
	)
	switch spec.Kind {
	case schema.PatternLinear:
		out, err = compileLinear(spec)
	case schema.PatternForkJoin:
		out, err = compileForkJoin(spec)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "pattern %s has unknown kind %q", spec.ID, spec.Kind).
			WithDetails(map[string]any{"pattern_id": spec.ID})
	}
	if err != nil {
		return nil, err
	}

	if err := plan.Validate(&out.Plan); err != nil {
		if fe, ok := err.(*schema.FlowplanError); ok {
			return nil, fe.WithDetails(mergeDetails(fe.Details, "pattern_id", spec.ID))
		}
		return nil, err
	}
	return out, nil
}

func compileLinear(spec schema.PatternSpec) (*schema.CompiledPattern, error) {
	if len(spec.Steps) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeEmptyPatternSteps, "linear pattern %s has no steps", spec.ID).
			WithDetails(map[string]any{"pattern_id": spec.ID})
	}

	out := newCompiled(spec.ID, schema.WorkflowSequential, len(spec.Steps))
	if _, err := out.chain(spec.ID, "", spec.Steps); err != nil {
		return nil, err
	}
	return out.result(), nil
}

func compileForkJoin(spec schema.PatternSpec) (*schema.CompiledPattern, error) {
	details := map[string]any{"pattern_id": spec.ID}
	if spec.Fork == nil {
		return nil, schema.NewErrorf(schema.ErrCodeMissingFork, "fork_join pattern %s has no fork", spec.ID).
			WithDetails(details)
	}
	if len(spec.Fork.Branches) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeEmptyForkBranches, "fork_join pattern %s has no branches", spec.ID).
			WithDetails(details)
	}
	branchIDs := make(map[string]struct{}, len(spec.Fork.Branches))
	for _, b := range spec.Fork.Branches {
		if len(b.Steps) == 0 {
			return nil, schema.NewErrorf(schema.ErrCodeEmptyForkBranches,
				"fork_join pattern %s has empty branch %q", spec.ID, b.ID).
				WithDetails(map[string]any{"pattern_id": spec.ID, "branch_id": b.ID})
		}
		if b.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "fork_join pattern %s has a branch with empty ID", spec.ID).
				WithDetails(details)
		}
		// Branch IDs are the sort key and must be unique.
		if _, dup := branchIDs[b.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"fork_join pattern %s declares branch %q more than once", spec.ID, b.ID).
				WithDetails(map[string]any{"pattern_id": spec.ID, "branch_id": b.ID})
		}
		branchIDs[b.ID] = struct{}{}
	}
	if spec.Join == nil || spec.Join.Step == "" {
		return nil, schema.NewErrorf(schema.ErrCodeMissingJoin, "fork_join pattern %s has no join step", spec.ID).
			WithDetails(details)
	}

	branches := make([]schema.BranchSpec, len(spec.Fork.Branches))
	copy(branches, spec.Fork.Branches)
	sort.SliceStable(branches, func(i, j int) bool { return branches[i].ID < branches[j].ID })

	total := 1
	for _, b := range branches {
		total += len(b.Steps)
	}
	out := newCompiled(spec.ID, schema.WorkflowConcurrent, total)

	tails := make([]string, 0, len(branches))
	for _, b := range branches {
		tail, err := out.chain(spec.ID, b.ID, b.Steps)
		if err != nil {
			return nil, err
		}
		tails = append(tails, tail)
	}
	sort.Strings(tails)

	joinID := CanonicalID(spec.ID, "", spec.Join.Step)
	if err := out.add(joinID, spec.Join.Step, tails); err != nil {
		return nil, err
	}
	return out.result(), nil
}

// compiled accumulates nodes and symbols while guarding against ID collisions.
type compiled struct {
	patternID string
	plan      schema.ExecutionPlan
	symbols   []schema.SymbolBinding
	seen      map[string]struct{}
}

func newCompiled(patternID string, kind schema.WorkflowKind, capacity int) *compiled {
	return &compiled{
		patternID: patternID,
		plan:      schema.ExecutionPlan{WorkflowKind: kind, Nodes: make([]schema.ExecutionNode, 0, capacity)},
		symbols:   make([]schema.SymbolBinding, 0, capacity),
		seen:      make(map[string]struct{}, capacity),
	}
}

// chain appends symbols as a linear chain and returns the last step ID.
func (c *compiled) chain(patternID, branchID string, symbols []string) (string, error) {
	prev := ""
	for _, sym := range symbols {
		if sym == "" {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "pattern %s has an empty step symbol", patternID).
				WithDetails(map[string]any{"pattern_id": patternID, "branch_id": branchID})
		}
		id := CanonicalID(patternID, branchID, sym)
		var deps []string
		if prev != "" {
			deps = []string{prev}
		}
		if err := c.add(id, sym, deps); err != nil {
			return "", err
		}
		prev = id
	}
	return prev, nil
}

func (c *compiled) add(id, symbol string, deps []string) error {
	if _, dup := c.seen[id]; dup {
		return schema.NewErrorf(schema.ErrCodeDuplicateStepID,
			"pattern %s yields duplicate step ID %s (symbol %q repeated)", c.patternID, id, symbol).
			WithStep(id).
			WithDetails(map[string]any{"pattern_id": c.patternID, "symbol": symbol})
	}
	c.seen[id] = struct{}{}
	if deps == nil {
		deps = []string{}
	}
	c.plan.Nodes = append(c.plan.Nodes, schema.ExecutionNode{StepID: id, DependsOn: deps, SaveAs: symbol})
	c.symbols = append(c.symbols, schema.SymbolBinding{StepID: id, Symbol: symbol})
	return nil
}

func (c *compiled) result() *schema.CompiledPattern {
	return &schema.CompiledPattern{PatternID: c.patternID, Plan: c.plan, Symbols: c.symbols}
}

func mergeDetails(details map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out[key] = value
	return out
}
