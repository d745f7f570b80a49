package rules

import (
	"fmt"
	"math"
	"strings"

	"github.com/cedar-policy/cedar-go"
)

// CedarPredicate evaluates a Cedar condition against the fused scores.
//
// The condition is the body of a `when { ... }` clause. Scores are exposed as
// Longs in percent, the same scale the guardrail policies have always used:
//
//	context.overall          fused overall risk
//	context.weighted_risk    severity-weighted risk
//	context.scores.<id>      calibrated score per taxonomy category (0 when absent)
//	context.dominant         dominant category id ("" when none)
//	context.has_text         whether text was supplied
//	context.text_length      text length in bytes
type CedarPredicate struct {
	Condition string
	policies  *cedar.PolicySet
}

func newCedarPredicate(condition string) (*CedarPredicate, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return nil, fmt.Errorf("cedar condition is empty")
	}
	if strings.Contains(condition, ";") {
		return nil, fmt.Errorf("cedar condition must be a single expression")
	}

	text := fmt.Sprintf(`permit(
    principal,
    action == Action::"moderate",
    resource
)
when {
    %s
};`, condition)

	var policy cedar.Policy
	if err := policy.UnmarshalCedar([]byte(text)); err != nil {
		return nil, fmt.Errorf("invalid cedar condition: %w", err)
	}

	ps := cedar.NewPolicySet()
	ps.Add(cedar.PolicyID("condition"), &policy)

	return &CedarPredicate{Condition: condition, policies: ps}, nil
}

func (p *CedarPredicate) Kind() string { return KindCedar }

// Matches authorizes a synthetic request; permit means the rule matches.
// Errors raised while evaluating the condition (for example a missing
// attribute) surface as an error rather than a silent non-match.
func (p *CedarPredicate) Matches(in Input) (bool, error) {
	scores := cedar.RecordMap{}
	if in.Registry != nil {
		for _, id := range in.Registry.IDs() {
			scores[cedar.String(id)] = cedar.Long(0)
		}
	}
	for _, s := range in.Fusion.Scores {
		scores[cedar.String(s.Category)] = percent(s.Probability)
	}

	req := cedar.Request{
		Principal: cedar.NewEntityUID("Organization", cedar.String(in.Organization)),
		Action:    cedar.NewEntityUID("Action", "moderate"),
		Resource:  cedar.NewEntityUID("Content", "request"),
		Context: cedar.NewRecord(cedar.RecordMap{
			"overall":       percent(in.Fusion.Overall),
			"weighted_risk": percent(in.Fusion.WeightedRisk),
			"scores":        cedar.NewRecord(scores),
			"dominant":      cedar.String(in.Fusion.Dominant),
			"has_text":      cedar.Boolean(in.Text != ""),
			"text_length":   cedar.Long(int64(len(in.Text))),
		}),
	}

	ok, diagnostics := cedar.Authorize(p.policies, cedar.EntityMap{}, req)
	if len(diagnostics.Errors) > 0 {
		return false, fmt.Errorf("cedar: %v", diagnostics.Errors[0])
	}
	return bool(ok), nil
}

func percent(p float64) cedar.Long {
	return cedar.Long(int64(math.Round(p * 100)))
}
