package diagram

// NodeKind classifies a diagram node by its role in the plan.
type NodeKind string

const (
	NodeKindStep       NodeKind = "step"
	NodeKindForkPlan   NodeKind = "fork_plan"
	NodeKindForkBranch NodeKind = "fork_branch"
	NodeKindForkJoin   NodeKind = "fork_join"
)

// DiagramModel is the intermediate representation used by all renderers.
// Nodes are sorted by ID and edges by (from, to), so every renderer output
// is stable for a given plan.
type DiagramModel struct {
	Title        string     `json:"title,omitempty"`
	WorkflowKind string     `json:"workflow_kind"`
	Nodes        []*Node    `json:"nodes"`
	Edges        []Edge     `json:"edges"`
	Levels       [][]string `json:"levels"`
}

// Node represents a single plan node in the diagram.
type Node struct {
	ID     string         `json:"id"`
	Label  string         `json:"label"`
	Kind   NodeKind       `json:"kind"`
	SaveAs string         `json:"save_as,omitempty"`
	Status *StatusOverlay `json:"status,omitempty"`
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string `json:"status"` // from schema.StepStatus
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Edge points from a dependency to its dependent. Label is the save_as key
// the dependent reads, when the producer has one.
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// Node returns the node with the given ID, or nil.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
