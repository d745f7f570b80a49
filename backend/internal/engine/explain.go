package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/safespeak/moderation-engine/backend/internal/calibration"
	"github.com/safespeak/moderation-engine/backend/internal/policy"
	"github.com/safespeak/moderation-engine/backend/internal/rules"
	"github.com/safespeak/moderation-engine/backend/internal/taxonomy"
)

// Risk levels, matching the 0-100 risk score buckets
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// RiskScore scales a probability onto 0-100
func RiskScore(p float64) int {
	return int(math.Round(clamp01(p) * 100))
}

// RiskLevel buckets a 0-100 risk score
func RiskLevel(score int) string {
	switch {
	case score < 25:
		return RiskLow
	case score < 50:
		return RiskMedium
	case score < 75:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// flaggedCategories lists the categories whose tier crossed a threshold,
// most severe first
func flaggedCategories(eval policy.Evaluation) []string {
	out := make([]string, 0, len(eval.Tiers))
	for _, t := range eval.Tiers {
		if t.Action != policy.ActionSafe {
			out = append(out, t.Category)
		}
	}
	return out
}

func explain(eval policy.Evaluation, outcome rules.Outcome, final policy.Outcome) []string {
	var lines []string
	for _, t := range eval.Tiers {
		switch t.Action {
		case policy.ActionBlock:
			lines = append(lines, fmt.Sprintf("%s scored %.2f, at or above the %s-tier block threshold %.2f", t.Category, t.Score, t.Severity, t.Block))
		case policy.ActionWarning:
			lines = append(lines, fmt.Sprintf("%s scored %.2f, at or above the %s-tier warn threshold %.2f", t.Category, t.Score, t.Severity, t.Warn))
		}
	}
	if eval.HysteresisApplied {
		lines = append(lines, fmt.Sprintf("held at warning: %s is within the hysteresis band below its warn threshold", eval.Label))
	}
	if outcome.Fired() {
		r := outcome.Triggered
		switch r.Action.Kind {
		case rules.ForceCategory:
			lines = append(lines, fmt.Sprintf("rule %s forced category %s to at least %.2f", r.ID, r.Action.Category, r.Action.Score))
		default:
			lines = append(lines, fmt.Sprintf("rule %s (priority %d) applied %s, overriding a statistical %s", r.ID, r.Priority, r.Action.Kind, final.Statistical.Action))
		}
	}
	for _, e := range outcome.Errors {
		lines = append(lines, fmt.Sprintf("rule %s could not be evaluated and was skipped", e.RuleID))
	}
	if len(lines) == 0 {
		lines = append(lines, "no category reached its warn threshold")
	}
	return lines
}

// errorKind names the failure recorded in the audit trail
func errorKind(err error) string {
	var unknown *taxonomy.UnknownCategoryError
	var invalid *calibration.InvalidScoreError
	var empty *EmptyInputError
	switch {
	case errors.As(err, &unknown):
		return "UnknownCategoryError"
	case errors.As(err, &invalid):
		return "InvalidScoreError"
	case errors.As(err, &empty):
		return "EmptyInputError"
	default:
		return "InternalError"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
