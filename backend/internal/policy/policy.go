package policy

import (
	"github.com/safespeak/moderation-engine/backend/internal/fusion"
	"github.com/safespeak/moderation-engine/backend/internal/taxonomy"
)

// TierEvaluation is the policy verdict for one severity tier
type TierEvaluation struct {
	Severity taxonomy.Severity `json:"severity"`
	Category string            `json:"category"`
	Score    float64           `json:"score"`
	Warn     float64           `json:"warn"`
	Block    float64           `json:"block"`
	Action   Action            `json:"action"`
}

// Evaluation is the statistical policy verdict for one fusion result
type Evaluation struct {
	Action            Action           `json:"action"`
	Label             string           `json:"label"`
	Confidence        float64          `json:"confidence"`
	Tiers             []TierEvaluation `json:"tiers"`
	HysteresisApplied bool             `json:"hysteresisApplied"`
}

// Forced is an action imposed by a rule, bypassing the thresholds
type Forced struct {
	Action     Action
	Label      string
	Confidence float64
}

// Outcome is the final policy decision for one request
type Outcome struct {
	Action      Action
	Label       string
	Confidence  float64
	Statistical Evaluation
	Forced      bool
	// Previous is the action last recorded for the continuity key, if any
	Previous *Action
}

// Policy maps fused results to actions. The continuity-key state store is the
// only mutable state it owns.
type Policy struct {
	config Config
	states *StateStore
}

// New validates cfg and returns a Policy backed by states. A nil store
// disables hysteresis.
func New(cfg Config, states *StateStore) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Policy{config: cfg, states: states}, nil
}

// Config returns the active configuration
func (p *Policy) Config() Config {
	return p.config
}

// States returns the hysteresis store, nil when hysteresis is off
func (p *Policy) States() *StateStore {
	return p.states
}

// Evaluate applies the per-tier thresholds to result. previous is the last
// recorded action for the same continuity key, nil when unknown.
func (p *Policy) Evaluate(result fusion.Result, previous *Action) Evaluation {
	eval := Evaluation{Action: ActionSafe, Label: LabelSafe}

	var driver *TierEvaluation
	for _, tier := range result.Tiers {
		th := p.config.Tiers[tier.Severity]
		te := TierEvaluation{
			Severity: tier.Severity,
			Category: tier.Category,
			Score:    tier.MaxScore,
			Warn:     th.Warn,
			Block:    th.Block,
			Action:   th.Classify(tier.MaxScore),
		}
		eval.Tiers = append(eval.Tiers, te)
	}

	// Tiers arrive most severe first, so on equal actions the higher tier drives.
	for i := range eval.Tiers {
		te := &eval.Tiers[i]
		if te.Action == ActionSafe {
			continue
		}
		if driver == nil || te.Action > driver.Action {
			driver = te
		}
	}

	if driver == nil && previous != nil && *previous == ActionWarning {
		for i := range eval.Tiers {
			te := &eval.Tiers[i]
			if te.Score >= te.Warn-p.config.HysteresisBand {
				driver = te
				eval.HysteresisApplied = true
				break
			}
		}
	}

	if driver == nil {
		eval.Confidence = clamp01(1 - result.Overall)
		return eval
	}

	eval.Action = driver.Action
	if eval.HysteresisApplied {
		eval.Action = ActionWarning
	}
	eval.Label = driver.Category
	eval.Confidence = driver.Score
	return eval
}

// Decide evaluates result for continuityKey, applies forced when a rule
// overrode the statistical outcome, and records the final action for the key.
// Updates for the same key are serialised; an empty key keeps no state.
func (p *Policy) Decide(continuityKey string, result fusion.Result, forced *Forced) Outcome {
	decide := func(previous *Action) Outcome {
		out := Outcome{Statistical: p.Evaluate(result, previous), Previous: previous}
		out.Action = out.Statistical.Action
		out.Label = out.Statistical.Label
		out.Confidence = out.Statistical.Confidence
		if forced != nil {
			out.Forced = true
			out.Action = forced.Action
			out.Label = forced.Label
			out.Confidence = clamp01(forced.Confidence)
		}
		return out
	}

	if continuityKey == "" || p.states == nil {
		return decide(nil)
	}

	var out Outcome
	p.states.Update(continuityKey, func(prev *State) State {
		var previous *Action
		if prev != nil {
			a := prev.Action
			previous = &a
		}
		out = decide(previous)
		return State{Action: out.Action, Label: out.Label}
	})
	return out
}

// Record stores action as the last decision for continuityKey without
// evaluating anything, for decisions made outside Decide such as fail-closed
// blocks. It returns the action it replaced, nil if none.
func (p *Policy) Record(continuityKey string, action Action, label string) *Action {
	if continuityKey == "" || p.states == nil {
		return nil
	}
	var previous *Action
	p.states.Update(continuityKey, func(prev *State) State {
		if prev != nil {
			a := prev.Action
			previous = &a
		}
		return State{Action: action, Label: label}
	})
	return previous
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
