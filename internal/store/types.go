package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/flowplan/pkg/schema"
)

// PlanRecord is a persisted compiled plan. Digest and Canonical are derived
// from Plan by NewPlanRecord and are never supplied independently.
type PlanRecord struct {
	Digest       string              `json:"digest"`
	WorkflowKind schema.WorkflowKind `json:"workflow_kind"`
	Canonical    json.RawMessage     `json:"canonical"`
	Title        string              `json:"title,omitempty"`
	PatternID    string              `json:"pattern_id,omitempty"`
	NodeCount    int                 `json:"node_count"`
	CreatedAt    time.Time           `json:"created_at"`
}

// NewPlanRecord canonicalizes p and computes its digest.
func NewPlanRecord(p *schema.ExecutionPlan, title, patternID string) (*PlanRecord, error) {
	canonical, err := p.Canonical()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "canonicalize plan").WithCause(err)
	}
	digest, err := p.Digest()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "digest plan").WithCause(err)
	}
	return &PlanRecord{
		Digest:       digest,
		WorkflowKind: p.WorkflowKind,
		Canonical:    canonical,
		Title:        title,
		PatternID:    patternID,
		NodeCount:    len(p.Nodes),
	}, nil
}

// Plan decodes the canonical JSON back into an ExecutionPlan.
func (r *PlanRecord) Plan() (*schema.ExecutionPlan, error) {
	var p schema.ExecutionPlan
	if err := json.Unmarshal(r.Canonical, &p); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode plan %s", r.Digest).WithCause(err)
	}
	return &p, nil
}

// PlanFilter controls plan listing.
type PlanFilter struct {
	WorkflowKind schema.WorkflowKind
	PatternID    string
	Since        *time.Time
	Limit        int
	Offset       int
}

// RunFilter controls run listing.
type RunFilter struct {
	PlanDigest string
	Status     *schema.RunStatus
	Limit      int
}
