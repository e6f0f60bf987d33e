package policy

// DefaultRules returns the built-in policy set used whenever the cache is
// empty or unreachable. Callers get a fresh copy each time; the set itself
// never changes after process start.
//
// Modifier conventions: 1.0 denies outright when violated, 0.85-0.9 lands in
// the approval band, smaller values only raise the risk level.
func DefaultRules() []Rule {
	return []Rule{
		{
			RuleID:            "refund_limit_500",
			Name:              "Refund Amount Limit",
			Description:       "Block refunds exceeding $500",
			ActionTypes:       []ActionType{ActionRefund},
			Conditions:        map[string]any{"max_amount": 500},
			RiskScoreModifier: 1.0,
			Enabled:           true,
			Priority:          10,
		},
		{
			RuleID:            "payment_limit_10000",
			Name:              "Payment Amount Limit",
			Description:       "Require approval for payments over $10,000",
			ActionTypes:       []ActionType{ActionPayment},
			Conditions:        map[string]any{"max_amount": 10000},
			RiskScoreModifier: 0.85,
			Enabled:           true,
			Priority:          20,
		},
		{
			RuleID:            "admin_action_high_risk",
			Name:              "Admin Actions High Risk",
			Description:       "All admin actions are high risk",
			ActionTypes:       []ActionType{ActionAdminAction},
			Conditions:        map[string]any{},
			RiskScoreModifier: 0.85,
			Enabled:           true,
			Priority:          5,
		},
		{
			RuleID:            "user_data_access",
			Name:              "User Data Access Control",
			Description:       "User data access requires extra scrutiny",
			ActionTypes:       []ActionType{ActionUserDataAccess},
			Conditions:        map[string]any{"require_justification": true},
			RiskScoreModifier: 0.3,
			Enabled:           true,
			Priority:          30,
		},
		{
			RuleID:            "database_write_protection",
			Name:              "Database Write Protection",
			Description:       "Database writes to protected tables",
			ActionTypes:       []ActionType{ActionDatabaseWrite},
			Conditions:        map[string]any{"protected_tables": []string{"users", "payments", "credentials"}},
			RiskScoreModifier: 1.0,
			Enabled:           true,
			Priority:          15,
		},
		{
			RuleID:            "bulk_operation_limit",
			Name:              "Bulk Operation Limit",
			Description:       "Limit bulk operations affecting many records",
			ActionTypes:       []ActionType{ActionDatabaseWrite, ActionDatabaseQuery},
			Conditions:        map[string]any{"max_affected_rows": 1000},
			RiskScoreModifier: 0.9,
			Enabled:           true,
			Priority:          25,
		},
	}
}
