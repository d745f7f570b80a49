package rules

import (
	"math"
	"sort"

	"github.com/safespeak/moderation-engine/backend/internal/taxonomy"
)

// OverrideKind is what a rule does when it fires
type OverrideKind string

const (
	OverrideNone  OverrideKind = ""
	ForceSafe     OverrideKind = "force_safe"
	ForceBlock    OverrideKind = "force_block"
	ForceCategory OverrideKind = "force_category"
)

// Override is the action attached to a rule
type Override struct {
	Kind     OverrideKind `json:"kind"`
	Category string       `json:"category,omitempty"`
	Score    float64      `json:"score,omitempty"`
}

// Rule is a compiled, immutable organization rule
type Rule struct {
	ID          string
	Description string
	Priority    int
	When        Predicate
	Action      Override
}

// RuleSet is the ordered, versioned rule set of one organization. It is never
// modified after Compile; organizations replace it wholesale.
type RuleSet struct {
	Organization string
	Version      string
	rules        []*Rule
}

// EmptyRuleSet returns a rule set with no rules
func EmptyRuleSet(org string) *RuleSet {
	return &RuleSet{Organization: org, Version: "none"}
}

// Rules returns the rules in evaluation order
func (s *RuleSet) Rules() []*Rule {
	out := make([]*Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Len returns the number of rules
func (s *RuleSet) Len() int {
	return len(s.rules)
}

// Spec is the declarative form of a rule, as found in rule-set files
type Spec struct {
	ID          string        `yaml:"id" json:"id"`
	Description string        `yaml:"description" json:"description,omitempty"`
	Priority    int           `yaml:"priority" json:"priority"`
	When        PredicateSpec `yaml:"when" json:"when"`
	Action      string        `yaml:"action" json:"action"`
	Category    string        `yaml:"category" json:"category,omitempty"`
	Score       *float64      `yaml:"score" json:"score,omitempty"`
}

// PredicateSpec holds exactly one predicate variant
type PredicateSpec struct {
	Score   *ScoreSpec      `yaml:"score,omitempty" json:"score,omitempty"`
	Phrase  []string        `yaml:"phrase,omitempty" json:"phrase,omitempty"`
	Pattern []string        `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Matcher string          `yaml:"matcher,omitempty" json:"matcher,omitempty"`
	Cedar   string          `yaml:"cedar,omitempty" json:"cedar,omitempty"`
	CEL     string          `yaml:"cel,omitempty" json:"cel,omitempty"`
	All     []PredicateSpec `yaml:"all,omitempty" json:"all,omitempty"`
	Any     []PredicateSpec `yaml:"any,omitempty" json:"any,omitempty"`
}

// ScoreSpec is the declarative form of a ScorePredicate
type ScoreSpec struct {
	Category string  `yaml:"category" json:"category"`
	Op       string  `yaml:"op" json:"op"`
	Value    float64 `yaml:"value" json:"value"`
}

// CompileOptions supplies what validation needs beyond the specs themselves
type CompileOptions struct {
	// Taxonomy, when set, rejects references to unknown categories
	Taxonomy *taxonomy.Registry
	Matchers *MatcherRegistry
}

// Compile validates every spec and returns the ordered rule set.
// Any problem is reported as a *MalformedRuleError.
func Compile(org, version string, specs []Spec, opts CompileOptions) (*RuleSet, error) {
	if org == "" {
		return nil, malformed("", "organization is required")
	}

	seen := make(map[string]bool, len(specs))
	compiled := make([]*Rule, 0, len(specs))
	for i, spec := range specs {
		if spec.ID == "" {
			return nil, malformed("", "rule %d has no id", i)
		}
		if seen[spec.ID] {
			return nil, malformed(spec.ID, "duplicate rule id")
		}
		seen[spec.ID] = true

		rule, err := compileRule(spec, opts)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, rule)
	}

	// higher priority first, ties by lexical rule id
	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].Priority != compiled[j].Priority {
			return compiled[i].Priority > compiled[j].Priority
		}
		return compiled[i].ID < compiled[j].ID
	})

	if version == "" {
		version = "unversioned"
	}
	return &RuleSet{Organization: org, Version: version, rules: compiled}, nil
}

func compileRule(spec Spec, opts CompileOptions) (*Rule, error) {
	pred, err := compilePredicate(spec.ID, spec.When, opts)
	if err != nil {
		return nil, err
	}

	action := Override{Kind: OverrideKind(spec.Action)}
	switch action.Kind {
	case ForceSafe, ForceBlock:
		if spec.Category != "" || spec.Score != nil {
			return nil, malformed(spec.ID, "%s does not take a category or score", action.Kind)
		}
	case ForceCategory:
		if spec.Category == "" {
			return nil, malformed(spec.ID, "force_category requires a category")
		}
		if err := checkCategory(spec.ID, spec.Category, opts); err != nil {
			return nil, err
		}
		action.Category = spec.Category
		action.Score = 1.0
		if spec.Score != nil {
			if !inUnitRange(*spec.Score) || *spec.Score == 0 {
				return nil, malformed(spec.ID, "force_category score must be in (0,1]")
			}
			action.Score = *spec.Score
		}
	default:
		return nil, malformed(spec.ID, "unknown action %q", spec.Action)
	}

	return &Rule{
		ID:          spec.ID,
		Description: spec.Description,
		Priority:    spec.Priority,
		When:        pred,
		Action:      action,
	}, nil
}

func compilePredicate(ruleID string, ps PredicateSpec, opts CompileOptions) (Predicate, error) {
	set := 0
	if ps.Score != nil {
		set++
	}
	if ps.Phrase != nil {
		set++
	}
	if ps.Pattern != nil {
		set++
	}
	if ps.Matcher != "" {
		set++
	}
	if ps.Cedar != "" {
		set++
	}
	if ps.CEL != "" {
		set++
	}
	if ps.All != nil {
		set++
	}
	if ps.Any != nil {
		set++
	}
	if set != 1 {
		return nil, malformed(ruleID, "predicate must have exactly one kind, found %d", set)
	}

	switch {
	case ps.Score != nil:
		op, err := ParseComparator(ps.Score.Op)
		if err != nil {
			return nil, malformed(ruleID, "%v", err)
		}
		if !inUnitRange(ps.Score.Value) {
			return nil, malformed(ruleID, "score value must be between 0 and 1")
		}
		if ps.Score.Category == "" {
			return nil, malformed(ruleID, "score predicate requires a category")
		}
		if ps.Score.Category != OverallCategory {
			if err := checkCategory(ruleID, ps.Score.Category, opts); err != nil {
				return nil, err
			}
		}
		return &ScorePredicate{Category: ps.Score.Category, Op: op, Value: ps.Score.Value}, nil

	case ps.Phrase != nil:
		p, err := newPhrasePredicate(ps.Phrase)
		if err != nil {
			return nil, malformed(ruleID, "%v", err)
		}
		return p, nil

	case ps.Pattern != nil:
		p, err := newPatternPredicate(ps.Pattern)
		if err != nil {
			return nil, malformed(ruleID, "%v", err)
		}
		return p, nil

	case ps.Matcher != "":
		m, ok := opts.Matchers.Get(ps.Matcher)
		if !ok {
			return nil, malformed(ruleID, "unknown matcher %q", ps.Matcher)
		}
		return &MatcherPredicate{Name: ps.Matcher, matcher: m}, nil

	case ps.Cedar != "":
		p, err := newCedarPredicate(ps.Cedar)
		if err != nil {
			return nil, malformed(ruleID, "%v", err)
		}
		return p, nil

	case ps.CEL != "":
		p, err := newCELPredicate(ps.CEL)
		if err != nil {
			return nil, malformed(ruleID, "%v", err)
		}
		return p, nil
	}

	children := ps.All
	if ps.Any != nil {
		children = ps.Any
	}
	if len(children) == 0 {
		return nil, malformed(ruleID, "composite predicate has no children")
	}
	compiled := make([]Predicate, len(children))
	for i, child := range children {
		c, err := compilePredicate(ruleID, child, opts)
		if err != nil {
			return nil, err
		}
		compiled[i] = c
	}
	if ps.Any != nil {
		return &AnyPredicate{Children: compiled}, nil
	}
	return &AllPredicate{Children: compiled}, nil
}

func checkCategory(ruleID, category string, opts CompileOptions) error {
	if opts.Taxonomy == nil {
		return nil
	}
	if !opts.Taxonomy.Has(category) {
		return malformed(ruleID, "unknown category %q", category)
	}
	return nil
}

func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
