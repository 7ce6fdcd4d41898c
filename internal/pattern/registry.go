package pattern

import (
	"sort"
	"strings"

	"github.com/rendis/flowplan/pkg/schema"
)

// Registry is an immutable, ID-keyed set of patterns.
// It is safe for concurrent use.
type Registry struct {
	patterns map[string]schema.PatternSpec
	ids      []string // sorted
}

// NewRegistry indexes patterns by ID. Duplicate IDs are rejected.
func NewRegistry(specs []schema.PatternSpec) (*Registry, error) {
	r := &Registry{
		patterns: make(map[string]schema.PatternSpec, len(specs)),
		ids:      make([]string, 0, len(specs)),
	}
	for _, s := range specs {
		if _, exists := r.patterns[s.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeDuplicatePatternID, "duplicate pattern ID: %s", s.ID).
				WithDetails(map[string]any{"pattern_id": s.ID})
		}
		r.patterns[s.ID] = cloneSpec(s)
		r.ids = append(r.ids, s.ID)
	}
	sort.Strings(r.ids)
	return r, nil
}

// Len returns the number of registered patterns.
func (r *Registry) Len() int { return len(r.ids) }

// IDs returns the registered pattern IDs in sorted order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Get returns a copy of the pattern registered under id.
func (r *Registry) Get(id string) (schema.PatternSpec, bool) {
	s, ok := r.patterns[id]
	if !ok {
		return schema.PatternSpec{}, false
	}
	return cloneSpec(s), true
}

// Compile compiles the pattern registered under id. An unknown id fails with
// a message listing every registered ID, sorted.
func (r *Registry) Compile(id string) (*schema.CompiledPattern, error) {
	s, ok := r.patterns[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownPatternID,
			"unknown pattern ID %q (known: [%s])", id, strings.Join(r.ids, ", ")).
			WithDetails(map[string]any{"pattern_id": id, "known_ids": r.IDs()})
	}
	return Compile(s)
}

// CompileAll compiles every pattern in sorted ID order. The first failure
// aborts the whole call.
func (r *Registry) CompileAll() ([]*schema.CompiledPattern, error) {
	out := make([]*schema.CompiledPattern, 0, len(r.ids))
	for _, id := range r.ids {
		c, err := Compile(r.patterns[id])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// cloneSpec deep-copies the slices and pointers of s.
func cloneSpec(s schema.PatternSpec) schema.PatternSpec {
	out := s
	if s.Steps != nil {
		out.Steps = append([]string(nil), s.Steps...)
	}
	if s.Fork != nil {
		fork := schema.ForkSpec{}
		if s.Fork.Branches != nil {
			fork.Branches = make([]schema.BranchSpec, len(s.Fork.Branches))
			for i, b := range s.Fork.Branches {
				fork.Branches[i] = schema.BranchSpec{ID: b.ID}
				if b.Steps != nil {
					fork.Branches[i].Steps = append([]string(nil), b.Steps...)
				}
			}
		}
		out.Fork = &fork
	}
	if s.Join != nil {
		join := *s.Join
		out.Join = &join
	}
	return out
}
