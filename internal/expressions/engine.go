package expressions

import (
	"context"
	"fmt"

	"github.com/rendis/flowplan/pkg/schema"
)

// Engine evaluates guard expressions attached to workflow steps.
// Two implementations: CEL (default) and Expr.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Engine names accepted by NewEngine.
const (
	EngineCEL  = "cel"
	EngineExpr = "expr"
)

// NewEngine returns the guard engine registered under name. An empty name
// selects CEL.
func NewEngine(name string) (Engine, error) {
	switch name {
	case "", EngineCEL:
		return NewCELEngine()
	case EngineExpr:
		return NewExprEngine(), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown guard engine %q; available: %s, %s", name, EngineCEL, EngineExpr)
	}
}

// EvalGuard evaluates a guard and requires a boolean result.
func EvalGuard(ctx context.Context, e Engine, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"%s guard %q must evaluate to bool, got %s", e.Name(), expression, typeName(out)).
			WithDetails(map[string]any{"expression": expression})
	}
	return b, nil
}

func typeName(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
