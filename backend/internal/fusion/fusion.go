package fusion

import (
	"fmt"
	"math"
	"sort"

	"github.com/safespeak/moderation-engine/backend/internal/calibration"
	"github.com/safespeak/moderation-engine/backend/internal/taxonomy"
)

// Config holds the per-tier fusion weights and floors
type Config struct {
	Weights   map[taxonomy.Severity]float64
	TierFloor map[taxonomy.Severity]float64
}

// DefaultConfig returns the standard severity weights with zero floors
func DefaultConfig() Config {
	return Config{
		Weights: map[taxonomy.Severity]float64{
			taxonomy.SeverityLow:      0.6,
			taxonomy.SeverityMedium:   0.75,
			taxonomy.SeverityHigh:     0.9,
			taxonomy.SeverityCritical: 1.0,
		},
		TierFloor: map[taxonomy.Severity]float64{},
	}
}

// Validate checks that weights lie in (0,1] and grow strictly with severity
func (c Config) Validate() error {
	prev := 0.0
	for i := len(taxonomy.Severities) - 1; i >= 0; i-- {
		sev := taxonomy.Severities[i]
		w, ok := c.Weights[sev]
		if !ok {
			return fmt.Errorf("missing fusion weight for tier %s", sev)
		}
		if math.IsNaN(w) || w <= 0 || w > 1 {
			return fmt.Errorf("fusion weight for tier %s must be in (0,1], got %v", sev, w)
		}
		if w <= prev {
			return fmt.Errorf("fusion weight for tier %s must exceed the weight of lower tiers", sev)
		}
		prev = w
	}
	for sev, floor := range c.TierFloor {
		if math.IsNaN(floor) || floor < 0 || floor >= 1 {
			return fmt.Errorf("tier floor for %s must be in [0,1), got %v", sev, floor)
		}
	}
	return nil
}

// TierScore summarises one severity tier
type TierScore struct {
	Severity taxonomy.Severity `json:"severity"`
	MaxScore float64           `json:"maxScore"`
	Weighted float64           `json:"weighted"`
	Category string            `json:"category"`
}

// Result is the fused risk assessment for one request
type Result struct {
	Overall      float64                       `json:"overall"`
	WeightedRisk float64                       `json:"weightedRisk"`
	Dominant     string                        `json:"dominant,omitempty"`
	DominantTier taxonomy.Severity             `json:"dominantTier,omitempty"`
	Scores       []calibration.CalibratedScore `json:"scores"`
	Tiers        []TierScore                   `json:"tiers"`
}

// Score returns the calibrated probability for category, or false if absent
func (r Result) Score(category string) (calibration.CalibratedScore, bool) {
	for _, s := range r.Scores {
		if s.Category == category {
			return s, true
		}
	}
	return calibration.CalibratedScore{}, false
}

// Tier returns the summary for sev, or false if no category of that tier scored
func (r Result) Tier(sev taxonomy.Severity) (TierScore, bool) {
	for _, t := range r.Tiers {
		if t.Severity == sev {
			return t, true
		}
	}
	return TierScore{}, false
}

// Fuser combines calibrated scores with a severity-weighted maximum
type Fuser struct {
	config Config
}

// New validates cfg and returns a Fuser
func New(cfg Config) (*Fuser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Fuser{config: cfg}, nil
}

// Fuse resolves overlapping category signals into a single Result.
//
// Each tier contributes only its strongest category, so correlated categories
// in the same tier are never summed. The weighted maximum picks the dominant
// category; the overall risk never drops below the strongest raw signal.
func (f *Fuser) Fuse(scores []calibration.CalibratedScore) Result {
	merged := dedupe(scores)
	sortScores(merged)

	var res Result
	res.Scores = merged

	for _, s := range merged {
		if s.Probability > res.Overall {
			res.Overall = s.Probability
		}
	}

	var best *TierScore
	for _, sev := range taxonomy.Severities {
		tier, ok := tierMax(merged, sev)
		if !ok {
			continue
		}
		tier.Weighted = f.config.Weights[sev] * tier.MaxScore
		res.Tiers = append(res.Tiers, tier)

		if tier.Weighted > res.WeightedRisk {
			res.WeightedRisk = tier.Weighted
		}
		if tier.MaxScore <= f.config.TierFloor[sev] {
			continue
		}
		if best == nil || outranks(tier, *best) {
			t := tier
			best = &t
		}
	}

	if res.WeightedRisk > res.Overall {
		res.Overall = res.WeightedRisk
	}
	if best != nil {
		res.Dominant = best.Category
		res.DominantTier = best.Severity
	}
	return res
}

// Override returns a copy of scores where category's probability is raised
// to at least floor, then re-fuses. Used by forced-category rules.
func (f *Fuser) Override(r Result, category string, severity taxonomy.Severity, floor float64) Result {
	scores := make([]calibration.CalibratedScore, 0, len(r.Scores)+1)
	found := false
	for _, s := range r.Scores {
		if s.Category == category {
			found = true
			if s.Probability < floor {
				s.Probability = floor
			}
		}
		scores = append(scores, s)
	}
	if !found {
		scores = append(scores, calibration.CalibratedScore{
			Category:    category,
			Severity:    severity,
			Raw:         floor,
			Probability: floor,
			Method:      "override",
		})
	}
	return f.Fuse(scores)
}

// outranks orders tier candidates: weighted contribution, then severity,
// then probability, then category id.
func outranks(a, b TierScore) bool {
	if a.Weighted != b.Weighted {
		return a.Weighted > b.Weighted
	}
	if a.Severity != b.Severity {
		return a.Severity > b.Severity
	}
	if a.MaxScore != b.MaxScore {
		return a.MaxScore > b.MaxScore
	}
	return a.Category < b.Category
}

func tierMax(sorted []calibration.CalibratedScore, sev taxonomy.Severity) (TierScore, bool) {
	// sorted puts the strongest (then lexically smallest) category of each tier first
	for _, s := range sorted {
		if s.Severity == sev {
			return TierScore{Severity: sev, MaxScore: s.Probability, Category: s.Category}, true
		}
	}
	return TierScore{}, false
}

// dedupe keeps the highest probability per category
func dedupe(scores []calibration.CalibratedScore) []calibration.CalibratedScore {
	index := make(map[string]int, len(scores))
	out := make([]calibration.CalibratedScore, 0, len(scores))
	for _, s := range scores {
		if i, ok := index[s.Category]; ok {
			if s.Probability > out[i].Probability {
				out[i] = s
			}
			continue
		}
		index[s.Category] = len(out)
		out = append(out, s)
	}
	return out
}

func sortScores(scores []calibration.CalibratedScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.Probability != b.Probability {
			return a.Probability > b.Probability
		}
		return a.Category < b.Category
	})
}
