package rules

import "fmt"

// MalformedRuleError rejects a rule at registration time
type MalformedRuleError struct {
	RuleID string
	Reason string
}

func (e *MalformedRuleError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("malformed rule: %s", e.Reason)
	}
	return fmt.Sprintf("malformed rule %q: %s", e.RuleID, e.Reason)
}

func malformed(ruleID, format string, args ...interface{}) error {
	return &MalformedRuleError{RuleID: ruleID, Reason: fmt.Sprintf(format, args...)}
}

// RuleEvaluationError wraps a predicate failure during evaluation. The rule
// is treated as not matching and evaluation moves on to the next rule.
type RuleEvaluationError struct {
	RuleID string
	Err    error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %q evaluation failed: %v", e.RuleID, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error {
	return e.Err
}
