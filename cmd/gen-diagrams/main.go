// gen-diagrams renders the sample plan diagrams under docs/assets.
// Run: go run ./cmd/gen-diagrams
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rendis/flowplan/internal/diagram"
	"github.com/rendis/flowplan/internal/plan"
	"github.com/rendis/flowplan/pkg/schema"
)

func main() {
	// Concurrent research flow: planner fans out to two branches, join merges.
	steps := []schema.ResolvedStep{
		{ID: "fork.plan", SaveAs: schema.StringPtr("plan"), Inputs: map[string]string{"topic": "release notes"}},
		{ID: "fork.branch.web", SaveAs: schema.StringPtr("web"), Inputs: map[string]string{"query": "@state:plan.web"}},
		{ID: "fork.branch.code", SaveAs: schema.StringPtr("code"), Inputs: map[string]string{"query": "@state:plan.code"}},
		{ID: "fork.join", SaveAs: schema.StringPtr("merged"), Inputs: map[string]string{
			"web": "@state:web", "code": "@state:code",
		}},
		{ID: "publish", Inputs: map[string]string{"body": "@state:merged.summary"}, When: "has(state.merged)"},
	}

	p, err := plan.Build(schema.WorkflowConcurrent, steps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build error: %v\n", err)
		os.Exit(1)
	}

	model, err := diagram.Build(p, "research")
	if err != nil {
		fmt.Fprintf(os.Stderr, "diagram error: %v\n", err)
		os.Exit(1)
	}
	diagram.Overlay(model, []*schema.StepResult{
		{StepID: "fork.plan", Status: schema.StepStatusCompleted, DurationMs: 120},
		{StepID: "fork.branch.web", Status: schema.StepStatusCompleted, DurationMs: 840},
		{StepID: "fork.branch.code", Status: schema.StepStatusFailed, DurationMs: 35,
			Error: schema.ErrorJSON(schema.NewError(schema.ErrCodeExecution, "grep timed out"))},
		{StepID: "fork.join", Status: schema.StepStatusPending},
		{StepID: "publish", Status: schema.StepStatusPending},
	})

	outDir := filepath.Join("docs", "assets")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir error: %v\n", err)
		os.Exit(1)
	}

	write := func(name string, data []byte) {
		path := filepath.Join(outDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
			return
		}
		fmt.Printf("Written: %s (%d bytes)\n", path, len(data))
	}

	ascii := diagram.RenderASCII(model)
	write("diagram-ascii.txt", []byte(ascii))
	fmt.Println("=== ASCII ===")
	fmt.Println(ascii)

	mermaid := diagram.RenderMermaid(model)
	write("diagram-mermaid.md", []byte("```mermaid\n"+mermaid+"```\n"))

	write("diagram.dot", []byte(diagram.RenderDOT(model)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	png, err := diagram.RenderImage(ctx, model, diagram.ImagePNG)
	if err != nil {
		fmt.Fprintf(os.Stderr, "image error: %v\n", err)
		return
	}
	write("diagram-sample.png", png)
}
