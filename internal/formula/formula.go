// Package formula provides the CEL-Go based withdrawal-limit formula
// evaluator. Formulas are a deliberately sandboxed mini-language over a
// fixed variable set; there is no access to anything outside the declared
// variables and the whitelisted math operations.
package formula

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Vars is the fixed variable set a formula may reference.
type Vars struct {
	Deposit    float64
	Bonus      float64
	Withdrawal float64
	Multiplier float64
	Fixed      float64
}

func (v Vars) activation() map[string]any {
	return map[string]any{
		"deposit":    v.Deposit,
		"bonus":      v.Bonus,
		"withdrawal": v.Withdrawal,
		"multiplier": v.Multiplier,
		"fixed":      v.Fixed,
		// Infinity lets a formula express an unlimited cap directly.
		"Infinity": math.Inf(1),
	}
}

// Engine compiles and evaluates withdrawal-limit formulas. Compiled
// programs are cached per normalized expression.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

// NewEngine creates a formula engine with the fixed variable set and the
// min/max helpers declared.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("deposit", cel.DoubleType),
		cel.Variable("bonus", cel.DoubleType),
		cel.Variable("withdrawal", cel.DoubleType),
		cel.Variable("multiplier", cel.DoubleType),
		cel.Variable("fixed", cel.DoubleType),
		cel.Variable("Infinity", cel.DoubleType),
		cel.Function("min",
			cel.Overload("min_double_double",
				[]*cel.Type{cel.DoubleType, cel.DoubleType}, cel.DoubleType,
				cel.BinaryBinding(minVals)),
			cel.Overload("min_double_double_double",
				[]*cel.Type{cel.DoubleType, cel.DoubleType, cel.DoubleType}, cel.DoubleType,
				cel.FunctionBinding(foldVals(math.Min))),
		),
		cel.Function("max",
			cel.Overload("max_double_double",
				[]*cel.Type{cel.DoubleType, cel.DoubleType}, cel.DoubleType,
				cel.BinaryBinding(maxVals)),
			cel.Overload("max_double_double_double",
				[]*cel.Type{cel.DoubleType, cel.DoubleType, cel.DoubleType}, cel.DoubleType,
				cel.FunctionBinding(foldVals(math.Max))),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Validate compiles an expression without evaluating it. Used when an
// operator saves a rule with an override formula.
func (e *Engine) Validate(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs a formula against the variable set and returns the numeric
// result. On any failure (syntax error, disallowed token, non-numeric
// result) it returns 0 together with the error; callers must treat 0 plus a
// non-nil error as a failed formula, distinct from a legitimate zero limit.
func (e *Engine) Evaluate(expression string, vars Vars) (float64, error) {
	prg, err := e.program(expression)
	if err != nil {
		return 0, err
	}

	out, _, err := prg.Eval(vars.activation())
	if err != nil {
		return 0, fmt.Errorf("formula evaluation failed: %w", err)
	}

	return toNumber(out)
}

// program returns the cached compiled program for an expression, compiling
// it on first use.
func (e *Engine) program(expression string) (cel.Program, error) {
	norm := normalize(expression)

	e.mu.RLock()
	prg, ok := e.programs[norm]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(norm)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("formula does not compile: %w", issues.Err())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build formula program: %w", err)
	}

	e.mu.Lock()
	e.programs[norm] = prg
	e.mu.Unlock()

	return prg, nil
}

// toNumber converts a CEL value to float64. Non-numeric results are a
// formula failure, not a zero limit.
func toNumber(val ref.Val) (float64, error) {
	switch v := val.(type) {
	case types.Double:
		return float64(v), nil
	case types.Int:
		return float64(v), nil
	case types.Uint:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("formula produced non-numeric result %v", val.Type())
	}
}

// normalize rewrites bare integer literals as doubles so that operator
// formulas like "deposit * 5" type-check against the double variable set
// (CEL has no implicit int/double promotion).
func normalize(expression string) string {
	out := make([]byte, 0, len(expression)+8)
	n := len(expression)
	for i := 0; i < n; {
		c := expression[i]
		if !isDigit(c) || (i > 0 && isWordByte(expression[i-1])) {
			out = append(out, c)
			i++
			continue
		}

		start := i
		for i < n && isDigit(expression[i]) {
			i++
		}
		out = append(out, expression[start:i]...)

		// Already a float, or part of something bigger: leave alone.
		if i < n && (expression[i] == '.' || isWordByte(expression[i])) {
			continue
		}
		out = append(out, ".0"...)
	}
	return string(out)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isWordByte(c byte) bool {
	return c == '_' || c == '.' ||
		(c >= '0' && c <= '9') ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z')
}

func minVals(lhs, rhs ref.Val) ref.Val {
	return types.Double(math.Min(asFloat(lhs), asFloat(rhs)))
}

func maxVals(lhs, rhs ref.Val) ref.Val {
	return types.Double(math.Max(asFloat(lhs), asFloat(rhs)))
}

// foldVals reduces a variadic overload with a binary math function.
func foldVals(f func(float64, float64) float64) func(args ...ref.Val) ref.Val {
	return func(args ...ref.Val) ref.Val {
		acc := asFloat(args[0])
		for _, a := range args[1:] {
			acc = f(acc, asFloat(a))
		}
		return types.Double(acc)
	}
}

func asFloat(v ref.Val) float64 {
	switch x := v.(type) {
	case types.Double:
		return float64(x)
	case types.Int:
		return float64(x)
	case types.Uint:
		return float64(x)
	default:
		return 0
	}
}
