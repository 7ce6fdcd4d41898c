package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/flowplan/internal/diagram"
	"github.com/rendis/flowplan/internal/executor"
	"github.com/rendis/flowplan/internal/expressions"
	"github.com/rendis/flowplan/internal/loader"
	"github.com/rendis/flowplan/internal/pattern"
	"github.com/rendis/flowplan/internal/plan"
	"github.com/rendis/flowplan/internal/plandiff"
	"github.com/rendis/flowplan/internal/store"
	"github.com/rendis/flowplan/internal/validation"
	"github.com/rendis/flowplan/pkg/schema"
)

func runBuild(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("build")
	stepsPath := fs.String("steps", "", "step document (YAML or JSON)")
	save := fs.Bool("save", false, "persist the plan to the store")
	title := fs.String("title", "", "title recorded with a saved plan")
	a.dbFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, p, err := a.buildSteps(*stepsPath)
	if err != nil {
		return err
	}
	if *save {
		rec, err := store.NewPlanRecord(p, *title, "")
		if err != nil {
			return err
		}
		if err := a.savePlans(ctx, rec); err != nil {
			return err
		}
	}
	return a.printJSON(p)
}

func runValidate(_ context.Context, a *app, args []string) error {
	fs := a.flagSet("validate")
	stepsPath := fs.String("steps", "", "step document (YAML or JSON)")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	a.engineFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *stepsPath == "" {
		return schema.NewError(schema.ErrCodeValidation, "-steps is required")
	}

	l, err := loader.New()
	if err != nil {
		return err
	}
	doc, err := l.LoadStepsFile(*stepsPath)
	if err != nil {
		return err
	}
	engine, err := expressions.NewEngine(a.cfg.GuardEngine)
	if err != nil {
		return err
	}
	guards, _ := engine.(validation.GuardChecker)
	v, err := validation.NewStepValidator(guards)
	if err != nil {
		return err
	}

	result := v.Validate(doc)
	if *asJSON {
		if err := a.printJSON(result); err != nil {
			return err
		}
	} else {
		for _, issue := range append(result.Errors, result.Warnings...) {
			fmt.Fprintf(a.stdout, "%-7s %-28s %s: %s\n", issue.Severity, issue.Path, issue.Code, issue.Message)
		}
		if result.Valid() {
			fmt.Fprintf(a.stdout, "ok (%d warnings)\n", len(result.Warnings))
		}
	}
	if !result.Valid() {
		return errReported
	}
	return nil
}

func runCompile(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("compile")
	patternsPath := fs.String("patterns", "", "pattern document (YAML or JSON)")
	id := fs.String("id", "", "compile only this pattern")
	save := fs.Bool("save", false, "persist compiled plans to the store")
	a.dbFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg, err := a.registry(*patternsPath)
	if err != nil {
		return err
	}
	a.logger().Debug("patterns loaded", "path", *patternsPath, "patterns", reg.Len())

	var compiled []*schema.CompiledPattern
	if *id != "" {
		cp, err := reg.Compile(*id)
		if err != nil {
			return err
		}
		compiled = []*schema.CompiledPattern{cp}
	} else {
		if compiled, err = reg.CompileAll(); err != nil {
			return err
		}
	}

	if *save {
		recs := make([]*store.PlanRecord, 0, len(compiled))
		for _, cp := range compiled {
			rec, err := store.NewPlanRecord(&cp.Plan, cp.PatternID, cp.PatternID)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		if err := a.savePlans(ctx, recs...); err != nil {
			return err
		}
	}

	if *id != "" {
		return a.printJSON(compiled[0])
	}
	return a.printJSON(compiled)
}

func runWaves(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("waves")
	var src planSource
	src.register(fs)
	a.dbFlag(fs)
	asJSON := fs.Bool("json", false, "print waves as a JSON array")
	if err := fs.Parse(args); err != nil {
		return err
	}

	lp, err := a.loadPlan(ctx, src)
	if err != nil {
		return err
	}
	waves, err := plan.Waves(lp.plan)
	if err != nil {
		return err
	}
	if *asJSON {
		return a.printJSON(waves)
	}
	for i, wave := range waves {
		fmt.Fprintf(a.stdout, "wave %d: %s\n", i, strings.Join(wave, ", "))
	}
	return nil
}

func runExport(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("export")
	var src planSource
	src.register(fs)
	a.dbFlag(fs)
	format := fs.String("format", "mermaid", "output format: json, dot, mermaid, ascii, png, svg")
	title := fs.String("title", "", "diagram title")
	runID := fs.String("run", "", "overlay step statuses from a stored run")
	out := fs.String("out", "", "write to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	lp, err := a.loadPlan(ctx, src)
	if err != nil {
		return err
	}

	var model *diagram.DiagramModel
	if lp.pattern != nil {
		model, err = diagram.BuildPattern(lp.pattern)
	} else {
		model, err = diagram.Build(lp.plan, lp.title)
	}
	if err != nil {
		return err
	}
	if *title != "" {
		model.Title = *title
	}

	if *runID != "" {
		s, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		results, err := s.ListStepResults(ctx, *runID)
		if err != nil {
			return err
		}
		diagram.Overlay(model, results)
	}

	data, err := render(ctx, model, *format)
	if err != nil {
		return err
	}
	if *out != "" {
		return os.WriteFile(*out, data, 0o644)
	}
	_, err = a.stdout.Write(data)
	return err
}

func render(ctx context.Context, model *diagram.DiagramModel, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json":
		return diagram.RenderJSON(model)
	case "dot":
		return []byte(diagram.RenderDOT(model)), nil
	case "mermaid":
		return []byte(diagram.RenderMermaid(model)), nil
	case "ascii":
		return []byte(diagram.RenderASCII(model)), nil
	case "png":
		return diagram.RenderImage(ctx, model, diagram.ImagePNG)
	case "svg":
		return diagram.RenderImage(ctx, model, diagram.ImageSVG)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown export format %q", format)
	}
}

func runDiff(_ context.Context, a *app, args []string) error {
	fs := a.flagSet("diff")
	oldPath := fs.String("old", "", "baseline document")
	newPath := fs.String("new", "", "changed document")
	input := fs.String("input", "plan", "document type of -old and -new: plan or steps")
	asJSON := fs.Bool("json", false, "print the diff as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *oldPath == "" || *newPath == "" {
		return schema.NewError(schema.ErrCodeValidation, "-old and -new are required")
	}

	load := func(path string) (*schema.ExecutionPlan, error) {
		switch *input {
		case "plan":
			return loader.LoadPlanFile(path)
		case "steps":
			_, p, err := a.buildSteps(path)
			return p, err
		default:
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown -input %q", *input)
		}
	}
	before, err := load(*oldPath)
	if err != nil {
		return err
	}
	after, err := load(*newPath)
	if err != nil {
		return err
	}

	d := plandiff.Compare(before, after)
	if *asJSON {
		return a.printJSON(d)
	}
	_, err = fmt.Fprint(a.stdout, plandiff.Render(d))
	return err
}

func runRun(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("run")
	stepsPath := fs.String("steps", "", "step document (YAML or JSON)")
	record := fs.Bool("record", false, "record the plan and run in the store")
	fs.IntVar(&a.cfg.MaxParallel, "max-parallel", a.cfg.MaxParallel, "concurrent steps per wave")
	a.engineFlag(fs)
	a.dbFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	doc, p, err := a.buildSteps(*stepsPath)
	if err != nil {
		return err
	}
	engine, err := expressions.NewEngine(a.cfg.GuardEngine)
	if err != nil {
		return err
	}

	opts := []executor.WalkerOption{
		executor.WithMaxParallel(a.cfg.MaxParallel),
		executor.WithWalkerLogger(a.logger()),
		executor.WithGuardEngine(engine),
	}
	if *record {
		s, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		rec, err := store.NewPlanRecord(p, filepath.Base(*stepsPath), "")
		if err != nil {
			return err
		}
		if err := s.SavePlan(ctx, rec); err != nil {
			return err
		}
		opts = append(opts, executor.WithRecorder(s))
	}

	res, runErr := executor.NewWalker(echoRunner(), opts...).Run(ctx, p, doc.Steps)
	if res != nil {
		if err := a.printJSON(res); err != nil {
			return err
		}
	}
	return runErr
}

func runPlans(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("plans")
	a.dbFlag(fs)
	kind := fs.String("kind", "", "only plans of this workflow kind")
	patternID := fs.String("pattern", "", "only plans compiled from this pattern")
	limit := fs.Int("limit", 20, "maximum number of plans")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	plans, err := s.ListPlans(ctx, store.PlanFilter{
		WorkflowKind: schema.WorkflowKind(*kind),
		PatternID:    *patternID,
		Limit:        *limit,
	})
	if err != nil {
		return err
	}
	return a.printJSON(plans)
}

func runRuns(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("runs")
	a.dbFlag(fs)
	id := fs.String("id", "", "show this run with its step results")
	digest := fs.String("plan", "", "only runs of this plan digest")
	status := fs.String("status", "", "only runs with this status")
	limit := fs.Int("limit", 20, "maximum number of runs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if *id != "" {
		run, err := s.GetRun(ctx, *id)
		if err != nil {
			return err
		}
		steps, err := s.ListStepResults(ctx, *id)
		if err != nil {
			return err
		}
		return a.printJSON(map[string]any{"run": run, "steps": steps})
	}

	filter := store.RunFilter{PlanDigest: *digest, Limit: *limit}
	if *status != "" {
		st := schema.RunStatus(*status)
		filter.Status = &st
	}
	runs, err := s.ListRuns(ctx, filter)
	if err != nil {
		return err
	}
	return a.printJSON(runs)
}

// --- shared helpers ---

// planSource names where a command reads its plan from. Exactly one of
// plan, steps, patterns (with id) or digest must be set.
type planSource struct {
	plan     string
	steps    string
	patterns string
	id       string
	digest   string
}

func (s *planSource) register(fs *flag.FlagSet) {
	fs.StringVar(&s.plan, "plan", "", "canonical plan JSON file")
	fs.StringVar(&s.steps, "steps", "", "step document (YAML or JSON)")
	fs.StringVar(&s.patterns, "patterns", "", "pattern document (YAML or JSON), used with -id")
	fs.StringVar(&s.id, "id", "", "pattern ID inside -patterns")
	fs.StringVar(&s.digest, "digest", "", "digest of a stored plan")
}

type loadedPlan struct {
	plan    *schema.ExecutionPlan
	pattern *schema.CompiledPattern
	title   string
}

func (a *app) loadPlan(ctx context.Context, src planSource) (*loadedPlan, error) {
	set := 0
	for _, v := range []string{src.plan, src.steps, src.patterns, src.digest} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, schema.NewError(schema.ErrCodeValidation, "exactly one of -plan, -steps, -patterns or -digest is required")
	}

	switch {
	case src.plan != "":
		p, err := loader.LoadPlanFile(src.plan)
		if err != nil {
			return nil, err
		}
		return &loadedPlan{plan: p, title: filepath.Base(src.plan)}, nil

	case src.steps != "":
		_, p, err := a.buildSteps(src.steps)
		if err != nil {
			return nil, err
		}
		return &loadedPlan{plan: p, title: filepath.Base(src.steps)}, nil

	case src.patterns != "":
		if src.id == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "-patterns needs -id")
		}
		reg, err := a.registry(src.patterns)
		if err != nil {
			return nil, err
		}
		cp, err := reg.Compile(src.id)
		if err != nil {
			return nil, err
		}
		return &loadedPlan{plan: &cp.Plan, pattern: cp, title: cp.PatternID}, nil

	default:
		s, err := a.openStore(ctx)
		if err != nil {
			return nil, err
		}
		defer s.Close()
		rec, err := s.GetPlan(ctx, src.digest)
		if err != nil {
			return nil, err
		}
		p, err := rec.Plan()
		if err != nil {
			return nil, err
		}
		return &loadedPlan{plan: p, title: rec.Title}, nil
	}
}

func (a *app) buildSteps(path string) (*schema.StepDocument, *schema.ExecutionPlan, error) {
	if path == "" {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "-steps is required")
	}
	l, err := loader.New()
	if err != nil {
		return nil, nil, err
	}
	doc, err := l.LoadStepsFile(path)
	if err != nil {
		return nil, nil, err
	}
	p, err := plan.Build(doc.WorkflowKind, doc.Steps, plan.WithLogger(a.logger()))
	if err != nil {
		return nil, nil, err
	}
	return doc, p, nil
}

func (a *app) registry(path string) (*pattern.Registry, error) {
	if path == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "-patterns is required")
	}
	l, err := loader.New()
	if err != nil {
		return nil, err
	}
	doc, err := l.LoadPatternsFile(path)
	if err != nil {
		return nil, err
	}
	return pattern.NewRegistry(doc.Patterns)
}

func (a *app) openStore(ctx context.Context) (*store.LibSQLStore, error) {
	if !strings.Contains(a.cfg.DBPath, "://") {
		if dir := filepath.Dir(strings.TrimPrefix(a.cfg.DBPath, "file:")); dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeStore, "create %s", dir).WithCause(err)
			}
		}
	}
	s, err := store.NewLibSQLStore(dsn(a.cfg.DBPath))
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (a *app) savePlans(ctx context.Context, recs ...*store.PlanRecord) error {
	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	for _, rec := range recs {
		if err := s.SavePlan(ctx, rec); err != nil {
			return err
		}
		fmt.Fprintf(a.stderr, "saved plan %s\n", rec.Digest)
	}
	return nil
}

func (a *app) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = a.stdout.Write(data)
	return err
}

// echoRunner returns each step's bound inputs as its output, so a run
// exercises guards and state references without doing real work.
func echoRunner() executor.StepRunner {
	return executor.StepRunnerFunc(func(_ context.Context, req executor.StepRequest) (any, error) {
		out := make(map[string]any, len(req.Inputs))
		for k, v := range req.Inputs {
			out[k] = v
		}
		return out, nil
	})
}
