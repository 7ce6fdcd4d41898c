package expressions

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/flowplan/pkg/schema"
)

// PathResolver looks up dotted subpaths (e.g. "items.0.title") inside saved
// step outputs using compiled jq programs. Numeric segments index arrays and
// fall back to object keys when the value is an object.
// Thread-safe: compiled *gojq.Code objects are cached per subpath.
type PathResolver struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewPathResolver creates a new resolver with an empty program cache.
func NewPathResolver() *PathResolver {
	return &PathResolver{cache: make(map[string]*gojq.Code)}
}

// Resolve returns the value at subpath inside data. An empty subpath returns
// data unchanged. Missing object keys resolve to nil. Indexing a scalar is an
// EXECUTION_ERROR.
func (r *PathResolver) Resolve(ctx context.Context, data any, subpath string) (any, error) {
	if subpath == "" {
		return data, nil
	}

	code, err := r.getOrCompile(subpath)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, normalizeForJQ(data))
	val, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, isErr := val.(error); isErr {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"cannot resolve path %q: %s", subpath, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"path": subpath, "query": pathQuery(subpath)})
	}
	return val, nil
}

func (r *PathResolver) getOrCompile(subpath string) (*gojq.Code, error) {
	r.mu.RLock()
	if code, ok := r.cache[subpath]; ok {
		r.mu.RUnlock()
		return code, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if code, ok := r.cache[subpath]; ok {
		return code, nil
	}

	query, err := gojq.Parse(pathQuery(subpath))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid state path %q: %s", subpath, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"path": subpath})
	}

	code, err := gojq.Compile(query,
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid state path %q: %s", subpath, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"path": subpath})
	}

	r.cache[subpath] = code
	return code, nil
}

// pathQuery turns "a.0.b" into a jq pipeline. Segments are restricted to
// [A-Za-z0-9_-] by the reference grammar, so quoting is always safe.
func pathQuery(subpath string) string {
	segments := strings.Split(subpath, ".")
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		quoted := strconv.Quote(seg)
		if n, err := strconv.Atoi(seg); err == nil && n >= 0 {
			parts = append(parts,
				"(if type == \"array\" then .["+strconv.Itoa(n)+"] else .["+quoted+"] end)")
			continue
		}
		parts = append(parts, ".["+quoted+"]")
	}
	return strings.Join(parts, " | ")
}

// normalizeForJQ converts Go native types to jq-compatible types.
// jq uses float64 for all numbers.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalizeForJQ(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeForJQ(v)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}
