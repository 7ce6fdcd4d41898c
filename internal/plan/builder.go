package plan

import (
	"log/slog"
	"sort"

	"github.com/rendis/flowplan/internal/logging"
	"github.com/rendis/flowplan/pkg/schema"
)

// Structural role names used by concurrent (fork/join) workflows. Roles are
// carried by the step ID itself rather than by a dedicated field.
const (
	ForkPlanID       = "fork.plan"
	ForkBranchPrefix = "fork.branch."
	ForkJoinID       = "fork.join"
)

// Option configures Build.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger routes build diagnostics to l.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Build compiles resolved steps into an ExecutionPlan.
//
// Dependencies come from @state: references in step inputs, resolved through
// the save_as keys of the other steps. Concurrent workflows additionally get
// the implicit fork/join ordering. The result is checked for unknown edges
// and cycles before it is returned. Node order equals declaration order.
func Build(kind schema.WorkflowKind, steps []schema.ResolvedStep, opts ...Option) (*schema.ExecutionPlan, error) {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	logger := logging.OrDiscard(o.logger)

	if !kind.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown workflow kind %q", kind)
	}

	// Index steps by ID.
	index := make(map[string]int, len(steps))
	for i, step := range steps {
		if step.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step at index %d has empty ID", i)
		}
		if prev, exists := index[step.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeDuplicateStepID, "duplicate step ID: %s", step.ID).
				WithStep(step.ID).
				WithDetails(map[string]any{"first_index": prev, "duplicate_index": i})
		}
		index[step.ID] = i
	}

	// save_as key -> producing step.
	producers := make(map[string]string, len(steps))
	for _, step := range steps {
		key, ok := step.SaveAsKey()
		if !ok {
			continue
		}
		if key == "" {
			return nil, schema.NewError(schema.ErrCodeEmptySaveAsKey, "save_as key is empty").WithStep(step.ID)
		}
		if !ValidStateKey(key) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"save_as key %q may only contain letters, digits, '_' and '-'", key).
				WithStep(step.ID).
				WithDetails(map[string]any{"save_as": key})
		}
		if owner, exists := producers[key]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeDuplicateSaveAsKey,
				"save_as key %q is produced by both %s and %s", key, owner, step.ID).
				WithStep(step.ID).
				WithDetails(map[string]any{"key": key, "producers": []string{owner, step.ID}})
		}
		producers[key] = step.ID
	}

	deps := make([]map[string]struct{}, len(steps))
	for i, step := range steps {
		found, err := extractDependencies(step, producers, logger)
		if err != nil {
			return nil, err
		}
		deps[i] = found
	}

	if kind == schema.WorkflowConcurrent {
		augmentForkJoin(steps, deps)
	}

	p := &schema.ExecutionPlan{
		WorkflowKind: kind,
		Nodes:        make([]schema.ExecutionNode, len(steps)),
	}
	for i, step := range steps {
		key, _ := step.SaveAsKey()
		p.Nodes[i] = schema.ExecutionNode{
			StepID:    step.ID,
			DependsOn: sortedKeys(deps[i]),
			SaveAs:    key,
		}
	}

	if err := Validate(p); err != nil {
		return nil, err
	}

	logger.Debug("execution plan built",
		slog.String("workflow_kind", string(kind)),
		slog.Int("nodes", len(p.Nodes)),
		slog.Int("edges", edgeCount(p)))
	return p, nil
}

// extractDependencies resolves the @state: references of one step.
// Input keys are visited in sorted order so the first reported error is stable.
func extractDependencies(step schema.ResolvedStep, producers map[string]string, logger *slog.Logger) (map[string]struct{}, error) {
	found := make(map[string]struct{})

	keys := make([]string, 0, len(step.Inputs))
	for k := range step.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, input := range keys {
		for _, ref := range FindStateRefs(step.Inputs[input]) {
			producer, ok := producers[ref.Key]
			if !ok {
				if ref.Namespaced() {
					// Produced dynamically (e.g. by a sub-workflow call); not
					// resolvable before run time, so it stays out of the graph.
					logger.Debug("skipping namespaced state reference",
						slog.String("step_id", step.ID),
						slog.String("input", input),
						slog.String("ref", ref.Raw))
					continue
				}
				return nil, schema.NewErrorf(schema.ErrCodeUnknownStateReference,
					"input %q references unknown state key %q", input, ref.Key).
					WithStep(step.ID).
					WithDetails(map[string]any{"input": input, "key": ref.Key})
			}
			if producer == step.ID {
				return nil, schema.NewErrorf(schema.ErrCodeSelfDependency,
					"input %q references the step's own save_as key %q", input, ref.Key).
					WithStep(step.ID)
			}
			found[producer] = struct{}{}
		}
	}
	return found, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func edgeCount(p *schema.ExecutionPlan) int {
	n := 0
	for _, node := range p.Nodes {
		n += len(node.DependsOn)
	}
	return n
}
