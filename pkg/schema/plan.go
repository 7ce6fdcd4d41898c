package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// WorkflowKind tells a runtime walker whether a plan was declared as a
// sequential chain or as a concurrent (fork/join) shape.
type WorkflowKind string

const (
	WorkflowSequential WorkflowKind = "sequential"
	WorkflowConcurrent WorkflowKind = "concurrent"
)

// Valid reports whether k is a known workflow kind.
func (k WorkflowKind) Valid() bool {
	return k == WorkflowSequential || k == WorkflowConcurrent
}

// ExecutionNode is one step of a compiled plan.
type ExecutionNode struct {
	StepID    string   `json:"step_id"`
	DependsOn []string `json:"depends_on"`        // sorted ascending, never nil
	SaveAs    string   `json:"save_as,omitempty"` // output binding produced by this node
}

// ExecutionPlan is the compiled, serializable DAG of a workflow.
// Nodes keep declaration order, not execution order.
type ExecutionPlan struct {
	WorkflowKind WorkflowKind    `json:"workflow_kind"`
	Nodes        []ExecutionNode `json:"nodes"`
}

// Node returns the node with the given step ID.
func (p *ExecutionPlan) Node(stepID string) (ExecutionNode, bool) {
	for _, n := range p.Nodes {
		if n.StepID == stepID {
			return n, true
		}
	}
	return ExecutionNode{}, false
}

// StepIDs returns node IDs in declaration order.
func (p *ExecutionPlan) StepIDs() []string {
	ids := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		ids[i] = n.StepID
	}
	return ids
}

// Canonical returns the byte-stable JSON encoding of the plan.
// Field order is fixed by the struct layout and every slice is already
// sorted or in declaration order, so plain json.Marshal is canonical.
func (p *ExecutionPlan) Canonical() ([]byte, error) {
	out := ExecutionPlan{WorkflowKind: p.WorkflowKind, Nodes: make([]ExecutionNode, len(p.Nodes))}
	for i, n := range p.Nodes {
		if n.DependsOn == nil {
			n.DependsOn = []string{}
		}
		out.Nodes[i] = n
	}
	return json.Marshal(out)
}

// Digest returns the hex SHA-256 of the canonical encoding.
func (p *ExecutionPlan) Digest() (string, error) {
	b, err := p.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
