package store

import (
	"context"
	"encoding/json"

	"github.com/rendis/flowplan/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Plans (content-addressed, immutable)
	SavePlan(ctx context.Context, rec *PlanRecord) error
	GetPlan(ctx context.Context, digest string) (*PlanRecord, error)
	ListPlans(ctx context.Context, filter PlanFilter) ([]*PlanRecord, error)

	// Runs
	CreateRun(ctx context.Context, run *schema.Run) error
	FinishRun(ctx context.Context, runID string, status schema.RunStatus, runErr json.RawMessage) error
	GetRun(ctx context.Context, id string) (*schema.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error)

	// Step results (upserted as the walker progresses)
	RecordStep(ctx context.Context, result *schema.StepResult) error
	ListStepResults(ctx context.Context, runID string) ([]*schema.StepResult, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
