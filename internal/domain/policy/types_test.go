package policy

import (
	"errors"
	"testing"
)

func TestParseActionType(t *testing.T) {
	t.Parallel()

	valid := []string{
		"database_query", "database_write", "api_call", "file_access",
		"payment", "refund", "user_data_access", "admin_action",
	}
	for _, s := range valid {
		at, err := ParseActionType(s)
		if err != nil {
			t.Errorf("ParseActionType(%q) returned error: %v", s, err)
		}
		if string(at) != s {
			t.Errorf("ParseActionType(%q) = %q", s, at)
		}
	}

	invalid := []string{"", "DATABASE_QUERY", "delete_everything", "payment "}
	for _, s := range invalid {
		if _, err := ParseActionType(s); !errors.Is(err, ErrUnknownActionType) {
			t.Errorf("ParseActionType(%q): want ErrUnknownActionType, got %v", s, err)
		}
	}
}

func TestRiskLevelForScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score float64
		want  RiskLevel
	}{
		{0.0, RiskLow},
		{0.19, RiskLow},
		{0.2, RiskMedium},
		{0.49, RiskMedium},
		{0.5, RiskHigh},
		{0.79, RiskHigh},
		{0.8, RiskCritical},
		{1.0, RiskCritical},
	}
	for _, tt := range tests {
		if got := RiskLevelForScore(tt.score); got != tt.want {
			t.Errorf("RiskLevelForScore(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestRiskLevelRank(t *testing.T) {
	t.Parallel()

	ordered := []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Rank() >= ordered[i].Rank() {
			t.Errorf("expected %q < %q", ordered[i-1], ordered[i])
		}
	}
	if RiskLevel("bogus").Rank() != -1 {
		t.Errorf("unknown level should rank -1, got %d", RiskLevel("bogus").Rank())
	}
}

func TestClampScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sum  float64
		want float64
	}{
		{-0.5, 0.0},
		{0.0, 0.0},
		{0.85, 0.85},
		{1.0, 1.0},
		{1.9, 1.0},
	}
	for _, tt := range tests {
		if got := ClampScore(tt.sum); got != tt.want {
			t.Errorf("ClampScore(%v) = %v, want %v", tt.sum, got, tt.want)
		}
	}
}

func TestRuleAppliesTo(t *testing.T) {
	t.Parallel()

	r := Rule{ActionTypes: []ActionType{ActionDatabaseWrite, ActionDatabaseQuery}}
	if !r.AppliesTo(ActionDatabaseQuery) {
		t.Error("rule should apply to database_query")
	}
	if r.AppliesTo(ActionPayment) {
		t.Error("rule should not apply to payment")
	}
}

func TestDefaultRulesShape(t *testing.T) {
	t.Parallel()

	rules := DefaultRules()
	if len(rules) != 6 {
		t.Fatalf("expected 6 default rules, got %d", len(rules))
	}

	byID := make(map[string]Rule, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			t.Errorf("default rule %q should be enabled", r.RuleID)
		}
		if len(r.ActionTypes) == 0 {
			t.Errorf("default rule %q has no action types", r.RuleID)
		}
		if r.RiskScoreModifier < -1.0 || r.RiskScoreModifier > 1.0 {
			t.Errorf("default rule %q modifier %v out of range", r.RuleID, r.RiskScoreModifier)
		}
		byID[r.RuleID] = r
	}

	if r := byID["refund_limit_500"]; r.Priority != 10 || r.RiskScoreModifier != 1.0 {
		t.Errorf("refund_limit_500 = priority %d modifier %v", r.Priority, r.RiskScoreModifier)
	}
	if r := byID["admin_action_high_risk"]; len(r.Conditions) != 0 {
		t.Errorf("admin_action_high_risk should have empty conditions, got %v", r.Conditions)
	}

	// Mutating a returned copy must not leak into the next call.
	rules[0].Enabled = false
	rules[0].Conditions["max_amount"] = 999999
	fresh := DefaultRules()
	if !fresh[0].Enabled {
		t.Error("DefaultRules returned shared state: Enabled mutation leaked")
	}
	if fresh[0].Conditions["max_amount"] == 999999 {
		t.Error("DefaultRules returned shared state: Conditions mutation leaked")
	}
}
