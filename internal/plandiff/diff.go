// Package plandiff compares two execution plans structurally.
package plandiff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/flowplan/pkg/schema"
)

// DependencyChange records a node whose depends_on set changed.
type DependencyChange struct {
	StepID  string   `json:"step_id"`
	Before  []string `json:"before"`
	After   []string `json:"after"`
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// SaveAsChange records a node whose save_as key changed.
type SaveAsChange struct {
	StepID string `json:"step_id"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Diff is the structural difference between two plans. Every list is sorted
// by step ID.
type Diff struct {
	KindBefore        schema.WorkflowKind `json:"kind_before"`
	KindAfter         schema.WorkflowKind `json:"kind_after"`
	KindChanged       bool                `json:"kind_changed"`
	Added             []string            `json:"added"`
	Removed           []string            `json:"removed"`
	DependencyChanges []DependencyChange  `json:"dependency_changes"`
	SaveAsChanges     []SaveAsChange      `json:"save_as_changes"`
}

// Empty reports whether the plans are structurally identical. Declaration
// order is not compared.
func (d *Diff) Empty() bool {
	return !d.KindChanged && len(d.Added) == 0 && len(d.Removed) == 0 &&
		len(d.DependencyChanges) == 0 && len(d.SaveAsChanges) == 0
}

// Compare returns the difference from base to next. A nil plan is treated
// as an empty plan.
func Compare(base, next *schema.ExecutionPlan) *Diff {
	before := index(base)
	after := index(next)

	d := &Diff{
		KindBefore:        kindOf(base),
		KindAfter:         kindOf(next),
		Added:             []string{},
		Removed:           []string{},
		DependencyChanges: []DependencyChange{},
		SaveAsChanges:     []SaveAsChange{},
	}
	d.KindChanged = d.KindBefore != d.KindAfter

	for _, id := range sortedIDs(after) {
		if _, ok := before[id]; !ok {
			d.Added = append(d.Added, id)
		}
	}

	for _, id := range sortedIDs(before) {
		prev := before[id]
		cur, ok := after[id]
		if !ok {
			d.Removed = append(d.Removed, id)
			continue
		}

		b, a := normalize(prev.DependsOn), normalize(cur.DependsOn)
		if !equal(b, a) {
			d.DependencyChanges = append(d.DependencyChanges, DependencyChange{
				StepID:  id,
				Before:  b,
				After:   a,
				Added:   minus(a, b),
				Removed: minus(b, a),
			})
		}
		if prev.SaveAs != cur.SaveAs {
			d.SaveAsChanges = append(d.SaveAsChanges, SaveAsChange{
				StepID: id,
				Before: prev.SaveAs,
				After:  cur.SaveAs,
			})
		}
	}

	return d
}

// Render returns a stable, line-oriented text summary of d.
func Render(d *Diff) string {
	if d.Empty() {
		return "no changes\n"
	}

	var b strings.Builder
	if d.KindChanged {
		fmt.Fprintf(&b, "~ workflow_kind: %s -> %s\n", d.KindBefore, d.KindAfter)
	}
	for _, id := range d.Added {
		fmt.Fprintf(&b, "+ %s\n", id)
	}
	for _, id := range d.Removed {
		fmt.Fprintf(&b, "- %s\n", id)
	}
	for _, c := range d.DependencyChanges {
		fmt.Fprintf(&b, "~ %s depends_on: [%s] -> [%s]\n",
			c.StepID, strings.Join(c.Before, ", "), strings.Join(c.After, ", "))
	}
	for _, c := range d.SaveAsChanges {
		fmt.Fprintf(&b, "~ %s save_as: %q -> %q\n", c.StepID, c.Before, c.After)
	}
	return b.String()
}

func index(p *schema.ExecutionPlan) map[string]schema.ExecutionNode {
	if p == nil {
		return map[string]schema.ExecutionNode{}
	}
	m := make(map[string]schema.ExecutionNode, len(p.Nodes))
	for _, n := range p.Nodes {
		m[n.StepID] = n
	}
	return m
}

func kindOf(p *schema.ExecutionPlan) schema.WorkflowKind {
	if p == nil {
		return ""
	}
	return p.WorkflowKind
}

func sortedIDs(m map[string]schema.ExecutionNode) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// normalize returns a sorted, deduplicated, non-nil copy.
func normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// minus returns the elements of a not in b, keeping a's order.
func minus(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := set[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}
