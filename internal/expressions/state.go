package expressions

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/rendis/flowplan/pkg/schema"
)

// State holds the outputs of finished steps during a run. Outputs are stored
// in JSON-compatible form (maps, slices, float64, string, bool, nil) so that
// guards and path lookups see the same shapes regardless of the runner.
// Safe for concurrent use.
type State struct {
	mu     sync.RWMutex
	byKey  map[string]any // save_as key -> output
	byStep map[string]any // step id -> output
}

// NewState returns an empty run state.
func NewState() *State {
	return &State{
		byKey:  make(map[string]any),
		byStep: make(map[string]any),
	}
}

// Put records the output of a completed step. saveAs may be empty.
func (s *State) Put(stepID, saveAs string, output any) error {
	normalized, err := normalizeOutput(output)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution,
			"output is not JSON-compatible: %s", err.Error()).
			WithStep(stepID).
			WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byStep[stepID] = normalized
	if saveAs != "" {
		s.byKey[saveAs] = normalized
	}
	return nil
}

// Skip records that a step was skipped by its guard. Its save_as key
// resolves to nil for downstream steps.
func (s *State) Skip(stepID, saveAs string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byStep[stepID] = nil
	if saveAs != "" {
		s.byKey[saveAs] = nil
	}
}

// Lookup returns the output saved under key.
func (s *State) Lookup(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byKey[key]
	return v, ok
}

// Keys returns the save_as keys currently present, sorted.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return mapKeys(s.byKey)
}

// Outputs returns a deep copy of the outputs keyed by save_as key.
func (s *State) Outputs() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopyMap(s.byKey)
}

// GuardData builds the variable set for guard evaluation. Each call returns
// an independent deep copy, so guards cannot mutate run state.
func (s *State) GuardData(run map[string]any) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data := map[string]any{
		"state": deepCopyMap(s.byKey),
		"steps": deepCopyMap(s.byStep),
	}
	if run != nil {
		data["run"] = deepCopyMap(run)
	}
	return data
}

// normalizeOutput converts runner output into JSON-compatible values.
func normalizeOutput(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case json.RawMessage:
		if len(val) == 0 {
			return nil, nil
		}
		var out any
		if err := json.Unmarshal(val, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	default:
		return v
	}
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
