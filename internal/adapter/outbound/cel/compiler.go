// Package cel provides a CEL-based compiler for policy rule expressions.
//
// Rules may carry a "cel" condition whose expression is evaluated against the
// incoming action. Expressions see the sanitized view of the parameters, so a
// policy author can never match on raw PII.
//
// Available variables:
//   - agent_id (string)
//   - action_type (string)
//   - target_resource (string)
//   - parameters (map[string]dyn, sanitized)
//   - context (map[string]dyn)
//
// Custom functions:
//   - param(parameters, "key"): extract a parameter value, null when absent
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/agent-warden/warden/internal/domain/policy"
)

// maxExpressionLength is the maximum allowed length for CEL expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion DoS.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single CEL evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// Compiler compiles CEL expressions into evaluable programs.
type Compiler struct {
	env *cel.Env
}

// Compile-time check that Compiler implements the policy port.
var _ policy.ExprCompiler = (*Compiler)(nil)

// newPolicyEnvironment creates a CEL environment configured for action evaluation.
func newPolicyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("agent_id", cel.StringType),
		cel.Variable("action_type", cel.StringType),
		cel.Variable("target_resource", cel.StringType),
		cel.Variable("parameters", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),

		// param: extract a specific parameter by key, null when absent.
		// Usage: param(parameters, "amount")
		cel.Function("param",
			cel.Overload("param_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					key := keyVal.Value().(string)
					if goMap, ok := mapVal.Value().(map[string]any); ok {
						if v, found := goMap[key]; found {
							return types.DefaultTypeAdapter.NativeToValue(v)
						}
					}
					return types.NullValue
				}),
			),
		),
	)
}

// NewCompiler creates a new CEL compiler with the policy environment.
func NewCompiler() (*Compiler, error) {
	env, err := newPolicyEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create policy environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Compile parses, checks, and plans a CEL expression. The returned program
// enforces the runtime cost budget and evaluation timeout.
func (c *Compiler) Compile(expression string) (policy.ExprProgram, error) {
	if err := checkExpressionShape(expression); err != nil {
		return nil, err
	}

	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := c.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return &program{prg: prg}, nil
}

// checkExpressionShape enforces the static safety limits on an expression.
func checkExpressionShape(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	return validateNesting(expr)
}

// validateNesting checks that the expression does not exceed the maximum
// allowed nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// program wraps a compiled CEL program behind the policy port.
type program struct {
	prg cel.Program
}

var _ policy.ExprProgram = (*program)(nil)

// Eval runs the program against the given request. The sanitized parameter
// map is what the expression sees as "parameters"; when nil the raw request
// parameters are used. Returns true only when the expression evaluates to a
// boolean true.
func (p *program) Eval(req *policy.AgentRequest, sanitizedParams map[string]any) (bool, error) {
	params := sanitizedParams
	if params == nil {
		params = req.Parameters
	}
	if params == nil {
		params = map[string]any{}
	}
	reqContext := req.Context
	if reqContext == nil {
		reqContext = map[string]any{}
	}

	activation := map[string]any{
		"agent_id":        req.AgentID,
		"action_type":     string(req.ActionType),
		"target_resource": req.TargetResource,
		"parameters":      params,
		"context":         reqContext,
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := p.prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}

	return boolResult, nil
}
