package domain

// RuleConfig defines a tenant-specific risk rule.
// The expression is CEL and must return bool; a true result fires the rule.
type RuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate
	Expression string `json:"expression"`

	// Weight added to the rule score when the rule fires
	Weight float64 `json:"weight"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleResult is the output of a custom rule evaluation.
type RuleResult struct {
	RuleID    string  `json:"ruleId"`
	Fired     bool    `json:"fired"`
	Weight    float64 `json:"weight"`
	Reason    string  `json:"reason,omitempty"`
	Err       string  `json:"error,omitempty"`
	ProcessMs int64   `json:"processMs"`
}

// Built-in rule identifiers reported in RiskVerdict.ViolatedRules.
const (
	RuleTxIDMismatch          = "txid_mismatch"
	RulePhoneMismatch         = "phone_mismatch"
	RuleAmountMismatch        = "amount_mismatch"
	RuleSuspiciousTxIDPattern = "suspicious_txid_pattern"
	RuleSuspiciousTiming      = "suspicious_timing"
	RuleHighAmount            = "high_amount"
	RuleSuspiciousName        = "suspicious_name"
	RuleInvalidPhone          = "invalid_phone"
)
