package expressions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/flowplan/internal/plan"
	"github.com/rendis/flowplan/pkg/schema"
)

// Binder resolves @state: references in step inputs against run state.
//
// A value that is exactly one reference is replaced by the referenced value
// with its original type. References embedded in a longer string are
// substituted textually: strings verbatim, other values as compact JSON.
// A reference whose key is absent from the state (a skipped producer or a
// namespaced output nobody published) resolves to nil.
type Binder struct {
	resolver *PathResolver
}

// NewBinder creates a binder. A nil resolver gets a fresh one.
func NewBinder(resolver *PathResolver) *Binder {
	if resolver == nil {
		resolver = NewPathResolver()
	}
	return &Binder{resolver: resolver}
}

// Bind returns the resolved inputs of one step.
func (b *Binder) Bind(ctx context.Context, inputs map[string]string, state *State) (map[string]any, error) {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]any, len(inputs))
	for _, name := range names {
		val, err := b.bindValue(ctx, inputs[name], state)
		if err != nil {
			var fe *schema.FlowplanError
			if errors.As(err, &fe) {
				fe.WithDetails(mergeDetails(fe.Details, map[string]any{"input": name}))
			}
			return nil, err
		}
		out[name] = val
	}
	return out, nil
}

func (b *Binder) bindValue(ctx context.Context, raw string, state *State) (any, error) {
	if !strings.Contains(raw, plan.StatePrefix) {
		return raw, nil
	}

	if ref, ok := plan.ParseStateRef(raw); ok {
		return b.lookup(ctx, ref, state)
	}

	refs := plan.FindStateRefs(raw)
	var sb strings.Builder
	rest := raw
	for _, ref := range refs {
		idx := strings.Index(rest, ref.Raw)
		if idx < 0 {
			continue
		}
		val, err := b.lookup(ctx, ref, state)
		if err != nil {
			return nil, err
		}
		sb.WriteString(rest[:idx])
		sb.WriteString(marshalInline(val))
		rest = rest[idx+len(ref.Raw):]
	}
	sb.WriteString(rest)
	return sb.String(), nil
}

func (b *Binder) lookup(ctx context.Context, ref plan.StateRef, state *State) (any, error) {
	root, ok := state.Lookup(ref.Key)
	if !ok || root == nil {
		return nil, nil
	}
	val, err := b.resolver.Resolve(ctx, root, ref.Subpath)
	if err != nil {
		var fe *schema.FlowplanError
		if errors.As(err, &fe) {
			fe.WithDetails(mergeDetails(fe.Details, map[string]any{"path": ref.Subpath, "reference": ref.Raw}))
		}
		return nil, err
	}
	return val, nil
}

// mergeDetails returns a new map holding details overlaid with extra.
func mergeDetails(details, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(details)+len(extra))
	for k, v := range details {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// marshalInline converts a value to its string form for textual substitution.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
