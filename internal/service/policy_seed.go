package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agent-warden/warden/internal/domain/policy"
)

// seedFile is the YAML schema for operator-provided rule files.
type seedFile struct {
	Rules []seedRule `yaml:"rules"`
}

// seedRule mirrors policy.Rule with YAML tags. Enabled is a pointer so an
// omitted field defaults to true instead of false.
type seedRule struct {
	RuleID            string         `yaml:"rule_id"`
	Name              string         `yaml:"name"`
	Description       string         `yaml:"description"`
	ActionTypes       []string       `yaml:"action_types"`
	Conditions        map[string]any `yaml:"conditions"`
	RiskScoreModifier float64        `yaml:"risk_score_modifier"`
	Enabled           *bool          `yaml:"enabled"`
	Priority          int            `yaml:"priority"`
}

// LoadRulesFile parses a YAML rule file into policy rules. Every rule must
// carry an id, a name, and at least one known action type; the risk
// modifier must stay within [-1, 1].
func LoadRulesFile(path string) ([]policy.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	rules := make([]policy.Rule, 0, len(file.Rules))
	for i, sr := range file.Rules {
		rule, err := sr.toRule()
		if err != nil {
			return nil, fmt.Errorf("rules file %s, rule %d: %w", path, i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (sr seedRule) toRule() (policy.Rule, error) {
	if sr.RuleID == "" {
		return policy.Rule{}, fmt.Errorf("missing rule_id")
	}
	if sr.Name == "" {
		return policy.Rule{}, fmt.Errorf("rule %s: missing name", sr.RuleID)
	}
	if len(sr.ActionTypes) == 0 {
		return policy.Rule{}, fmt.Errorf("rule %s: at least one action type required", sr.RuleID)
	}
	if sr.RiskScoreModifier < -1.0 || sr.RiskScoreModifier > 1.0 {
		return policy.Rule{}, fmt.Errorf("rule %s: risk_score_modifier %.2f outside [-1, 1]",
			sr.RuleID, sr.RiskScoreModifier)
	}

	actionTypes := make([]policy.ActionType, 0, len(sr.ActionTypes))
	for _, raw := range sr.ActionTypes {
		at, err := policy.ParseActionType(raw)
		if err != nil {
			return policy.Rule{}, fmt.Errorf("rule %s: %w", sr.RuleID, err)
		}
		actionTypes = append(actionTypes, at)
	}

	enabled := true
	if sr.Enabled != nil {
		enabled = *sr.Enabled
	}

	return policy.Rule{
		RuleID:            sr.RuleID,
		Name:              sr.Name,
		Description:       sr.Description,
		ActionTypes:       actionTypes,
		Conditions:        sr.Conditions,
		RiskScoreModifier: sr.RiskScoreModifier,
		Enabled:           enabled,
		Priority:          sr.Priority,
	}, nil
}

// SeedRulesFile loads the given YAML rule file and upserts every rule into
// the store. Unlike SeedDefaultRules this always writes: the file is
// explicit operator configuration, and re-seeding refreshes stale copies.
func SeedRulesFile(ctx context.Context, store policy.Store, path string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rules, err := LoadRulesFile(path)
	if err != nil {
		return 0, err
	}

	stored := 0
	for i := range rules {
		if err := store.Store(ctx, &rules[i]); err != nil {
			return stored, fmt.Errorf("seed rule %s: %w", rules[i].RuleID, err)
		}
		stored++
	}

	logger.Info("seeded policy rules from file", "file", path, "rules", stored)
	return stored, nil
}
