package schema

import (
	"encoding/json"
	"time"
)

// Run is the persisted record of one walker execution of a plan.
type Run struct {
	ID          string          `json:"id"`
	PlanDigest  string          `json:"plan_digest"`
	Status      RunStatus       `json:"status"`
	MaxParallel int             `json:"max_parallel"`
	Error       json.RawMessage `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// StepResult is the outcome of one plan node within a run.
type StepResult struct {
	RunID       string          `json:"run_id"`
	StepID      string          `json:"step_id"`
	Wave        int             `json:"wave"`
	Status      StepStatus      `json:"status"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
}

// ErrorJSON encodes err for persistence. FlowplanErrors keep their code and
// details; other errors become EXECUTION_ERROR. A nil err yields nil.
func ErrorJSON(err error) json.RawMessage {
	if err == nil {
		return nil
	}
	fe := AsFlowplanError(err)
	b, mErr := json.Marshal(fe)
	if mErr != nil {
		b, _ = json.Marshal(map[string]string{"code": fe.Code, "message": fe.Message})
	}
	return b
}
