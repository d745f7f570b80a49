package rules

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/safespeak/moderation-engine/backend/internal/fusion"
)

// Evaluation records what happened to one rule during Apply
type Evaluation struct {
	RuleID  string `json:"ruleId"`
	Matched bool   `json:"matched"`
	Error   string `json:"error,omitempty"`
}

// Outcome is the result of running a rule set over a fusion result
type Outcome struct {
	// Result is the statistical result, or the re-fused result after a
	// force_category override
	Result      fusion.Result
	Statistical fusion.Result
	Triggered   *Rule
	Override    Override
	Evaluations []Evaluation
	Errors      []*RuleEvaluationError
}

// Fired reports whether a rule matched
func (o Outcome) Fired() bool {
	return o.Triggered != nil
}

// Overlay applies organization rules on top of statistical fusion
type Overlay struct {
	fuser  *fusion.Fuser
	logger *logrus.Logger
}

// NewOverlay creates an overlay that re-fuses with fuser for force_category
func NewOverlay(fuser *fusion.Fuser, logger *logrus.Logger) *Overlay {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Overlay{fuser: fuser, logger: logger}
}

// Apply evaluates set in order; the first matching rule fires and evaluation
// stops. A predicate error counts as a non-match and is logged.
func (o *Overlay) Apply(set *RuleSet, in Input) Outcome {
	out := Outcome{Result: in.Fusion, Statistical: in.Fusion}
	if set == nil {
		return out
	}

	for _, rule := range set.rules {
		matched, err := rule.When.Matches(in)
		if err == nil && matched && rule.Action.Kind == ForceCategory {
			err = o.checkForcedCategory(in, rule)
		}
		if err != nil {
			evalErr := &RuleEvaluationError{RuleID: rule.ID, Err: err}
			out.Errors = append(out.Errors, evalErr)
			out.Evaluations = append(out.Evaluations, Evaluation{RuleID: rule.ID, Error: err.Error()})
			o.logger.WithFields(logrus.Fields{
				"organization": set.Organization,
				"rule_id":      rule.ID,
				"predicate":    rule.When.Kind(),
			}).WithError(err).Warn("Rule evaluation failed, treating as no match")
			continue
		}

		out.Evaluations = append(out.Evaluations, Evaluation{RuleID: rule.ID, Matched: matched})
		if !matched {
			continue
		}

		out.Triggered = rule
		out.Override = rule.Action
		if rule.Action.Kind == ForceCategory {
			cat, _ := in.Registry.Get(rule.Action.Category)
			out.Result = o.fuser.Override(in.Fusion, cat.ID, cat.Severity, rule.Action.Score)
		}
		break
	}
	return out
}

// checkForcedCategory catches a taxonomy reload that removed a category
// referenced by an already compiled rule.
func (o *Overlay) checkForcedCategory(in Input, rule *Rule) error {
	if in.Registry == nil {
		return fmt.Errorf("no taxonomy available to resolve category %q", rule.Action.Category)
	}
	if _, err := in.Registry.Get(rule.Action.Category); err != nil {
		return err
	}
	return nil
}
