package policy

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Recognized condition keys. Anything else in a rule's condition mapping is
// ignored so that newer rule authors can ship keys older gateways skip.
const (
	condKeyMaxAmount       = "max_amount"
	condKeyProtectedTables = "protected_tables"
	condKeyMaxAffectedRows = "max_affected_rows"
	condKeyRequireJust     = "require_justification"
	condKeyExpr            = "cel"
)

// ExprProgram is a compiled rule expression, evaluated against a request and
// its sanitized parameters. Satisfied by the CEL adapter.
type ExprProgram interface {
	Eval(req *AgentRequest, sanitizedParams map[string]any) (bool, error)
}

// ExprCompiler turns an expression source string into an ExprProgram.
type ExprCompiler interface {
	Compile(expression string) (ExprProgram, error)
}

// CompiledConditions is a rule's condition mapping lowered into typed checks.
// Checks run in a fixed order and the first violation wins; a rule compiled
// from an empty mapping violates on action-type match alone (blanket risk
// tagging).
type CompiledConditions struct {
	maxAmount   *float64
	tables      []string
	maxRows     *float64
	requireJust bool
	expr        ExprProgram
	blanket     bool
}

// CompileConditions lowers a raw condition mapping into typed checks.
// Malformed values for recognized keys are skipped the same way unknown keys
// are; strict validation belongs at the API boundary (ValidateConditions).
// A nil compiler disables the expression key.
func CompileConditions(raw map[string]any, compiler ExprCompiler) *CompiledConditions {
	cc := &CompiledConditions{blanket: len(raw) == 0}

	if v, ok := raw[condKeyMaxAmount]; ok {
		if f, ok := asFloat(v); ok {
			cc.maxAmount = &f
		}
	}
	if v, ok := raw[condKeyProtectedTables]; ok {
		cc.tables = asStringSlice(v)
	}
	if v, ok := raw[condKeyMaxAffectedRows]; ok {
		if f, ok := asFloat(v); ok {
			cc.maxRows = &f
		}
	}
	if v, ok := raw[condKeyRequireJust]; ok {
		if b, ok := v.(bool); ok && b {
			cc.requireJust = true
		}
	}
	if v, ok := raw[condKeyExpr]; ok && compiler != nil {
		if src, ok := v.(string); ok && src != "" {
			if prg, err := compiler.Compile(src); err == nil {
				cc.expr = prg
			}
		}
	}
	return cc
}

// ValidateConditions rejects malformed values for recognized keys. Used at
// the rule upsert boundary so bad rules never reach the cache. Unknown keys
// pass (forward compatibility).
func ValidateConditions(raw map[string]any, compiler ExprCompiler) error {
	if v, ok := raw[condKeyMaxAmount]; ok {
		if _, ok := asFloat(v); !ok {
			return fmt.Errorf("condition %q: expected a number, got %T", condKeyMaxAmount, v)
		}
	}
	if v, ok := raw[condKeyProtectedTables]; ok {
		if len(asStringSlice(v)) == 0 {
			return fmt.Errorf("condition %q: expected a non-empty list of strings", condKeyProtectedTables)
		}
	}
	if v, ok := raw[condKeyMaxAffectedRows]; ok {
		if _, ok := asFloat(v); !ok {
			return fmt.Errorf("condition %q: expected a number, got %T", condKeyMaxAffectedRows, v)
		}
	}
	if v, ok := raw[condKeyRequireJust]; ok {
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("condition %q: expected a boolean, got %T", condKeyRequireJust, v)
		}
	}
	if v, ok := raw[condKeyExpr]; ok {
		src, isStr := v.(string)
		if !isStr || src == "" {
			return fmt.Errorf("condition %q: expected a non-empty expression string", condKeyExpr)
		}
		if compiler != nil {
			if _, err := compiler.Compile(src); err != nil {
				return fmt.Errorf("condition %q: %w", condKeyExpr, err)
			}
		}
	}
	return nil
}

// Evaluate checks the compiled conditions against a request. Parameters are
// the sanitized copy (rules never see raw PII); the justification check reads
// the raw context, matching how callers supply it. Returns whether the rule
// is violated and, if so, a human-readable reason naming the rule.
func (c *CompiledConditions) Evaluate(req *AgentRequest, sanitizedParams map[string]any, ruleName string) (bool, string) {
	if c.maxAmount != nil {
		if amount, ok := asFloat(sanitizedParams["amount"]); ok && amount > *c.maxAmount {
			return true, fmt.Sprintf("Amount $%s exceeds limit of $%s (%s)",
				formatNumber(amount), formatNumber(*c.maxAmount), ruleName)
		}
	}

	if len(c.tables) > 0 {
		target := strings.ToLower(req.TargetResource)
		for _, table := range c.tables {
			if strings.Contains(target, strings.ToLower(table)) {
				return true, fmt.Sprintf("Access to protected resource '%s' (%s)", table, ruleName)
			}
		}
	}

	if c.maxRows != nil {
		affected, _ := asFloat(sanitizedParams["affected_rows"])
		limit, _ := asFloat(sanitizedParams["limit"])
		count := affected
		if limit > count {
			count = limit
		}
		if count > *c.maxRows {
			return true, fmt.Sprintf("Bulk operation affects %s rows, limit is %s (%s)",
				formatNumber(count), formatNumber(*c.maxRows), ruleName)
		}
	}

	if c.requireJust {
		justification, _ := req.Context["justification"].(string)
		if len(strings.TrimSpace(justification)) < 10 {
			return true, fmt.Sprintf("Justification required for this action (%s)", ruleName)
		}
	}

	if c.expr != nil {
		// Expression errors never fail an evaluation; they read as no violation.
		if matched, err := c.expr.Eval(req, sanitizedParams); err == nil && matched {
			return true, fmt.Sprintf("Policy expression matched (%s)", ruleName)
		}
	}

	if c.blanket {
		return true, fmt.Sprintf("Action type flagged by policy (%s)", ruleName)
	}

	return false, ""
}

// asFloat coerces the numeric shapes a condition value or parameter can
// arrive in. JSON decoding yields float64; rules defined in Go and tests may
// carry int; viper and seed files may produce json.Number. Strings are not
// numbers here.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// asStringSlice coerces []string or a JSON-decoded []any of strings.
func asStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		out := make([]string, len(s))
		copy(out, s)
		return out
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// formatNumber renders amounts and row counts without a trailing ".0" so
// denial reasons read "$750", not "$750.00".
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
