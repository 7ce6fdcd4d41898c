package executor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowplan/internal/expressions"
	"github.com/rendis/flowplan/internal/logging"
	"github.com/rendis/flowplan/internal/plan"
	"github.com/rendis/flowplan/pkg/schema"
)

// DefaultMaxParallel is the walker's per-wave concurrency bound.
const DefaultMaxParallel = 4

// StepRequest is what a StepRunner receives for one plan node.
type StepRequest struct {
	RunID  string         `json:"run_id"`
	StepID string         `json:"step_id"`
	SaveAs string         `json:"save_as,omitempty"`
	Wave   int            `json:"wave"`
	Inputs map[string]any `json:"inputs"`
}

// StepRunner performs the work of one node. The returned output is stored
// under the node's save_as key and must be JSON-encodable.
type StepRunner interface {
	RunStep(ctx context.Context, req StepRequest) (any, error)
}

// StepRunnerFunc adapts a function to StepRunner.
type StepRunnerFunc func(ctx context.Context, req StepRequest) (any, error)

// RunStep calls f.
func (f StepRunnerFunc) RunStep(ctx context.Context, req StepRequest) (any, error) {
	return f(ctx, req)
}

// RunRecorder persists run progress. Satisfied by *store.LibSQLStore.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *schema.Run) error
	RecordStep(ctx context.Context, result *schema.StepResult) error
	FinishRun(ctx context.Context, runID string, status schema.RunStatus, runErr json.RawMessage) error
}

// RunResult is the outcome of Walker.Run.
type RunResult struct {
	RunID       string                        `json:"run_id"`
	PlanDigest  string                        `json:"plan_digest"`
	Status      schema.RunStatus              `json:"status"`
	Waves       [][]string                    `json:"waves"`
	Steps       map[string]*schema.StepResult `json:"steps"`
	Outputs     map[string]any                `json:"outputs"`
	Metrics     []PoolMetrics                 `json:"metrics"`
	StartedAt   time.Time                     `json:"started_at"`
	CompletedAt time.Time                     `json:"completed_at"`
}

// WalkerOption configures a Walker.
type WalkerOption func(*Walker)

// WithMaxParallel bounds concurrent step bodies within a wave.
func WithMaxParallel(n int) WalkerOption {
	return func(w *Walker) { w.maxParallel = n }
}

// WithWalkerLogger sets the walker's logger.
func WithWalkerLogger(l *slog.Logger) WalkerOption {
	return func(w *Walker) { w.logger = l }
}

// WithGuardEngine sets the engine used for step `when` guards.
func WithGuardEngine(e expressions.Engine) WalkerOption {
	return func(w *Walker) { w.guards = e }
}

// WithRecorder persists run and step records.
func WithRecorder(r RunRecorder) WalkerOption {
	return func(w *Walker) { w.recorder = r }
}

// WithPathResolver shares a path resolver (and its compiled program cache).
func WithPathResolver(r *expressions.PathResolver) WalkerOption {
	return func(w *Walker) { w.resolver = r }
}

// Walker drives an ExecutionPlan wave by wave. Each wave is the set of nodes
// whose dependencies are all finished; it runs as one RunBounded call.
type Walker struct {
	runner      StepRunner
	maxParallel int
	logger      *slog.Logger
	guards      expressions.Engine
	recorder    RunRecorder
	resolver    *expressions.PathResolver
}

// NewWalker creates a walker around runner.
func NewWalker(runner StepRunner, opts ...WalkerOption) *Walker {
	w := &Walker{
		runner:      runner,
		maxParallel: DefaultMaxParallel,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.OrDiscard(w.logger)
	if w.resolver == nil {
		w.resolver = expressions.NewPathResolver()
	}
	return w
}

// stepOutcome is the value each wave job produces.
type stepOutcome struct {
	output    any
	err       error
	startedAt time.Time
	endedAt   time.Time
}

// Run executes p. steps supplies inputs and guards by step ID; plan nodes
// without a matching step run with no inputs.
//
// The returned RunResult is non-nil once the run has started, including when
// the run fails or is cancelled. Step failures end the run after the
// current wave with EXECUTION_ERROR.
func (w *Walker) Run(ctx context.Context, p *schema.ExecutionPlan, steps []schema.ResolvedStep) (*RunResult, error) {
	if w.runner == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "walker has no step runner")
	}
	waves, err := plan.Waves(p)
	if err != nil {
		return nil, err
	}
	if err := checkSaveAsKeys(p); err != nil {
		return nil, err
	}
	byID, err := indexSteps(p, steps)
	if err != nil {
		return nil, err
	}
	guards, err := w.guardEngine(byID)
	if err != nil {
		return nil, err
	}
	digest, err := p.Digest()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "cannot encode plan").WithCause(err)
	}

	res := &RunResult{
		RunID:      uuid.NewString(),
		PlanDigest: digest,
		Status:     schema.RunStatusRunning,
		Waves:      waves,
		Steps:      make(map[string]*schema.StepResult, len(p.Nodes)),
		Metrics:    make([]PoolMetrics, 0, len(waves)),
		StartedAt:  time.Now().UTC(),
	}
	for _, id := range p.StepIDs() {
		res.Steps[id] = &schema.StepResult{RunID: res.RunID, StepID: id, Status: schema.StepStatusPending}
	}

	ctx = logging.WithRunID(logging.WithPlanID(ctx, digest), res.RunID)
	log := logging.LogWith(ctx, w.logger)

	if w.recorder != nil {
		err := w.recorder.CreateRun(ctx, &schema.Run{
			ID:          res.RunID,
			PlanDigest:  digest,
			Status:      schema.RunStatusRunning,
			MaxParallel: w.maxParallel,
			StartedAt:   res.StartedAt,
		})
		if err != nil {
			return nil, err
		}
	}
	log.Info("run started", "nodes", len(p.Nodes), "waves", len(waves), "max_parallel", w.maxParallel)

	state := expressions.NewState()
	binder := expressions.NewBinder(w.resolver)
	runMeta := map[string]any{"run_id": res.RunID, "plan_id": digest}

	for i, wave := range waves {
		if err := ctx.Err(); err != nil {
			return w.finish(ctx, res, state, schema.RunStatusCancelled,
				schema.NewErrorf(schema.ErrCodeCancelled, "run cancelled before wave %d", i).WithCause(err))
		}

		var (
			dispatched []string
			jobs       []Job[stepOutcome]
			failure    error
		)
		for _, id := range wave {
			node, _ := p.Node(id)
			step := byID[id]
			result := res.Steps[id]
			result.Wave = i

			if step.When != "" {
				ok, gErr := expressions.EvalGuard(ctx, guards, step.When, state.GuardData(runMeta))
				if gErr != nil {
					failure = firstErr(failure, w.fail(ctx, result, schema.AsFlowplanError(gErr).WithStep(id)))
					continue
				}
				if !ok {
					state.Skip(id, node.SaveAs)
					result.Status = schema.StepStatusSkipped
					w.record(ctx, result)
					log.Debug("step skipped by guard", "step_id", id, "when", step.When)
					continue
				}
			}

			inputs, bErr := binder.Bind(ctx, step.Inputs, state)
			if bErr != nil {
				failure = firstErr(failure, w.fail(ctx, result, schema.AsFlowplanError(bErr).WithStep(id)))
				continue
			}
			result.Input = encodeJSON(inputs)
			result.Status = schema.StepStatusRunning

			req := StepRequest{RunID: res.RunID, StepID: id, SaveAs: node.SaveAs, Wave: i, Inputs: inputs}
			dispatched = append(dispatched, id)
			jobs = append(jobs, w.job(ctx, req))
		}

		outcomes, metrics, err := RunBoundedWithMetrics(w.maxParallel, jobs)
		res.Metrics = append(res.Metrics, metrics)
		if err != nil {
			// No outcome of this wave is usable; every dispatched step failed with it.
			fe := schema.AsFlowplanError(err)
			for _, id := range dispatched {
				stepErr := schema.NewErrorf(fe.Code, "wave %d aborted: %s", i, fe.Message).
					WithStep(id).
					WithCause(err)
				_ = w.fail(ctx, res.Steps[id], stepErr)
			}
			return w.finish(ctx, res, state, schema.RunStatusFailed, err)
		}

		for j, id := range dispatched {
			out := outcomes[j]
			result := res.Steps[id]
			result.StartedAt = timePtr(out.startedAt)
			result.CompletedAt = timePtr(out.endedAt)
			result.DurationMs = out.endedAt.Sub(out.startedAt).Milliseconds()

			if out.err != nil {
				stepErr := schema.NewErrorf(schema.ErrCodeExecution, "step failed: %s", out.err.Error()).
					WithStep(id).
					WithCause(out.err)
				failure = firstErr(failure, w.fail(ctx, result, stepErr))
				continue
			}
			node, _ := p.Node(id)
			if err := state.Put(id, node.SaveAs, out.output); err != nil {
				failure = firstErr(failure, w.fail(ctx, result, schema.AsFlowplanError(err)))
				continue
			}
			result.Status = schema.StepStatusCompleted
			result.Output = encodeJSON(out.output)
			w.record(ctx, result)
		}

		log.Debug("wave finished", "wave", i, "dispatched", len(dispatched), "peak_active", metrics.PeakActive)
		if failure != nil {
			return w.finish(ctx, res, state, schema.RunStatusFailed, failure)
		}
	}

	return w.finish(ctx, res, state, schema.RunStatusCompleted, nil)
}

func (w *Walker) job(ctx context.Context, req StepRequest) Job[stepOutcome] {
	stepCtx := logging.WithStepID(ctx, req.StepID)
	return func() stepOutcome {
		started := time.Now().UTC()
		output, err := w.runner.RunStep(stepCtx, req)
		return stepOutcome{output: output, err: err, startedAt: started, endedAt: time.Now().UTC()}
	}
}

func (w *Walker) guardEngine(steps map[string]schema.ResolvedStep) (expressions.Engine, error) {
	if w.guards != nil {
		return w.guards, nil
	}
	for _, s := range steps {
		if s.When != "" {
			return expressions.NewCELEngine()
		}
	}
	return nil, nil
}

// fail marks result as failed, records it and returns err.
func (w *Walker) fail(ctx context.Context, result *schema.StepResult, err *schema.FlowplanError) error {
	result.Status = schema.StepStatusFailed
	result.Error = schema.ErrorJSON(err)
	w.record(ctx, result)
	logging.LogWith(logging.WithStepID(ctx, result.StepID), w.logger).
		Warn("step failed", "code", err.Code, "error", err.Message)
	return err
}

func (w *Walker) record(ctx context.Context, result *schema.StepResult) {
	if w.recorder == nil {
		return
	}
	if err := w.recorder.RecordStep(ctx, result); err != nil {
		w.logger.Error("record step failed", "step_id", result.StepID, "error", err)
	}
}

func (w *Walker) finish(ctx context.Context, res *RunResult, state *expressions.State, status schema.RunStatus, runErr error) (*RunResult, error) {
	res.Status = status
	res.Outputs = state.Outputs()
	res.CompletedAt = time.Now().UTC()

	if w.recorder != nil {
		// The run context may already be cancelled; the final record must still land.
		if err := w.recorder.FinishRun(context.WithoutCancel(ctx), res.RunID, status, schema.ErrorJSON(runErr)); err != nil {
			w.logger.Error("finish run failed", "run_id", res.RunID, "error", err)
		}
	}

	log := logging.LogWith(ctx, w.logger)
	if runErr != nil {
		log.Warn("run ended", "status", status, "code", schema.CodeOf(runErr), "error", runErr)
		return res, runErr
	}
	log.Info("run completed",
		"duration_ms", res.CompletedAt.Sub(res.StartedAt).Milliseconds(),
		"state_keys", state.Keys())
	return res, nil
}

func checkSaveAsKeys(p *schema.ExecutionPlan) error {
	seen := make(map[string]string, len(p.Nodes))
	for _, n := range p.Nodes {
		if n.SaveAs == "" {
			continue
		}
		if prev, ok := seen[n.SaveAs]; ok {
			return schema.NewErrorf(schema.ErrCodeDuplicateSaveAsKey,
				"save_as key %q produced by both %q and %q", n.SaveAs, prev, n.StepID).
				WithStep(n.StepID).
				WithDetails(map[string]any{"save_as": n.SaveAs, "steps": []string{prev, n.StepID}})
		}
		seen[n.SaveAs] = n.StepID
	}
	return nil
}

func indexSteps(p *schema.ExecutionPlan, steps []schema.ResolvedStep) (map[string]schema.ResolvedStep, error) {
	byID := make(map[string]schema.ResolvedStep, len(p.Nodes))
	for _, s := range steps {
		if _, ok := p.Node(s.ID); !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %q is not part of the plan", s.ID).
				WithStep(s.ID)
		}
		byID[s.ID] = s
	}
	return byID, nil
}

func firstErr(current, next error) error {
	if current != nil {
		return current
	}
	return next
}

func encodeJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func timePtr(t time.Time) *time.Time {
	return &t
}
