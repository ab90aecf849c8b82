package rules

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr/vm"

	"github.com/expr-lang/expr"

	"github.com/tenantflow/engine/types"
)

// Evaluator defines the interface for evaluating raw rule expressions.
type Evaluator interface {
	Evaluate(expression string, context map[string]interface{}) (bool, error)
}

// ExprEvaluator is an implementation of Evaluator using expr-lang/expr.
type ExprEvaluator struct {
	cache       map[string]*vm.Program
	mu          sync.RWMutex
	optionsFunc map[string]func(map[string]interface{}) interface{}
}

// NewExprEvaluator creates a new ExprEvaluator with an initialized cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache:       make(map[string]*vm.Program),
		optionsFunc: make(map[string]func(map[string]interface{}) interface{}),
	}
}

// AddOptionFunc registers a helper whose result is injected into the
// context under name before every evaluation.
func (e *ExprEvaluator) AddOptionFunc(name string, f func(map[string]interface{}) interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.optionsFunc[name] = f
}

// Evaluate evaluates the given expression against the provided context.
// The expression must evaluate to a boolean; otherwise, an error is returned.
// Returns false and an error if compilation, execution, or type assertion fails.
func (e *ExprEvaluator) Evaluate(expression string, context map[string]interface{}) (bool, error) {
	e.mu.RLock()
	for k, v := range e.optionsFunc {
		context[k] = v(context)
	}
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		// Compile with write lock
		e.mu.Lock()
		if program, ok = e.cache[expression]; !ok {
			var err error
			program, err = expr.Compile(expression, expr.Env(context))
			if err != nil {
				e.mu.Unlock()
				return false, err
			}
			e.cache[expression] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, context)
	if err != nil {
		return false, err
	}

	if boolResult, ok := result.(bool); ok {
		return boolResult, nil
	}
	return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
}

// Conditions evaluates structured condition specs against a run context.
// Raw expression conditions are delegated to the wrapped Evaluator; both
// operands of a comparison are resolved through the variable resolver
// before comparing.
type Conditions struct {
	expr Evaluator
}

// NewConditions creates a Conditions evaluator. A nil Evaluator falls back
// to a fresh ExprEvaluator.
func NewConditions(ev Evaluator) *Conditions {
	if ev == nil {
		ev = NewExprEvaluator()
	}
	return &Conditions{expr: ev}
}

// Evaluate evaluates cond against ctx. Comparisons against a resolved nil
// are false except for the explicit empty/not_empty checks.
func (c *Conditions) Evaluate(cond types.Condition, ctx map[string]interface{}) (bool, error) {
	switch {
	case len(cond.All) > 0:
		for _, sub := range cond.All {
			ok, err := c.Evaluate(sub, ctx)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case len(cond.Any) > 0:
		for _, sub := range cond.Any {
			ok, err := c.Evaluate(sub, ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case cond.Expr != "":
		return c.expr.Evaluate(cond.Expr, ctx)
	case cond.Op != "":
		return c.compare(cond, ctx)
	default:
		return false, fmt.Errorf("condition has no expression, operator or sub-conditions")
	}
}

func (c *Conditions) compare(cond types.Condition, ctx map[string]interface{}) (bool, error) {
	left := resolveOperand(cond.Field, ctx)
	right := cond.Value
	if s, ok := right.(string); ok && strings.Contains(s, "{{") {
		right = Resolve(s, ctx)
	}

	switch cond.Op {
	case types.OpEmpty:
		return isEmpty(left), nil
	case types.OpNotEmpty:
		return !isEmpty(left), nil
	}

	if left == nil || right == nil {
		return false, nil
	}

	switch cond.Op {
	case types.OpEq:
		return equals(left, right), nil
	case types.OpNeq:
		return !equals(left, right), nil
	case types.OpGt, types.OpGte, types.OpLt, types.OpLte:
		lf, lok := toFloat(left)
		rf, rok := toFloat(right)
		if !lok || !rok {
			return false, fmt.Errorf("operator %q requires numeric operands, got %T and %T", cond.Op, left, right)
		}
		switch cond.Op {
		case types.OpGt:
			return lf > rf, nil
		case types.OpGte:
			return lf >= rf, nil
		case types.OpLt:
			return lf < rf, nil
		default:
			return lf <= rf, nil
		}
	default:
		return false, fmt.Errorf("unknown comparison operator %q", cond.Op)
	}
}

// resolveOperand treats field as a dotted context path unless it carries
// explicit placeholders.
func resolveOperand(field string, ctx map[string]interface{}) any {
	if strings.Contains(field, "{{") {
		return Resolve(field, ctx)
	}
	val, _ := Lookup(field, ctx)
	return val
}

func equals(left, right any) bool {
	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return lf == rf
		}
	}
	if lb, ok := left.(bool); ok {
		if rb, ok := right.(bool); ok {
			return lb == rb
		}
	}
	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func isEmpty(v any) bool {
	switch c := v.(type) {
	case nil:
		return true
	case string:
		return c == ""
	case []any:
		return len(c) == 0
	case map[string]any:
		return len(c) == 0
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
