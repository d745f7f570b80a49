package fusion_test

import (
	"testing"

	"github.com/safespeak/moderation-engine/backend/internal/calibration"
	"github.com/safespeak/moderation-engine/backend/internal/fusion"
	"github.com/safespeak/moderation-engine/backend/internal/taxonomy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func score(category string, sev taxonomy.Severity, p float64) calibration.CalibratedScore {
	return calibration.CalibratedScore{Category: category, Severity: sev, Raw: p, Probability: p, Method: taxonomy.MethodIdentity}
}

func newFuser(t *testing.T) *fusion.Fuser {
	t.Helper()
	f, err := fusion.New(fusion.DefaultConfig())
	require.NoError(t, err)
	return f
}

func TestFuse_SeverityWeightedDominance(t *testing.T) {
	f := newFuser(t)

	res := f.Fuse([]calibration.CalibratedScore{
		score("profanity", taxonomy.SeverityLow, 0.4),
		score("toxicity", taxonomy.SeverityHigh, 0.9),
	})

	assert.Equal(t, "toxicity", res.Dominant)
	assert.Equal(t, taxonomy.SeverityHigh, res.DominantTier)
	assert.InDelta(t, 0.81, res.WeightedRisk, 1e-9)
	assert.Equal(t, 0.9, res.Overall)
}

func TestFuse_FloodOfLowSeverityDoesNotOutweighThreat(t *testing.T) {
	f := newFuser(t)

	res := f.Fuse([]calibration.CalibratedScore{
		score("profanity", taxonomy.SeverityLow, 0.95),
		score("slang", taxonomy.SeverityLow, 0.94),
		score("insult", taxonomy.SeverityLow, 0.93),
		score("threat", taxonomy.SeverityCritical, 0.6),
	})

	// 0.6*1.0 beats 0.95*0.6
	assert.Equal(t, "threat", res.Dominant)
	assert.Len(t, res.Tiers, 2)
	low, ok := res.Tier(taxonomy.SeverityLow)
	require.True(t, ok)
	assert.Equal(t, "profanity", low.Category)
	assert.Equal(t, 0.95, low.MaxScore)
}

func TestFuse_OverallNeverBelowStrongestSignal(t *testing.T) {
	f := newFuser(t)

	inputs := [][]calibration.CalibratedScore{
		{score("profanity", taxonomy.SeverityLow, 0.5)},
		{score("abusive_tone", taxonomy.SeverityMedium, 0.7), score("profanity", taxonomy.SeverityLow, 0.99)},
		{score("threat", taxonomy.SeverityCritical, 0.2), score("toxicity", taxonomy.SeverityHigh, 0.3)},
	}
	for _, in := range inputs {
		res := f.Fuse(in)
		for _, s := range in {
			assert.GreaterOrEqual(t, res.Overall, s.Probability)
		}
	}
}

func TestFuse_ScoresOrdering(t *testing.T) {
	f := newFuser(t)

	res := f.Fuse([]calibration.CalibratedScore{
		score("profanity", taxonomy.SeverityLow, 0.9),
		score("harassment", taxonomy.SeverityHigh, 0.5),
		score("toxicity", taxonomy.SeverityHigh, 0.5),
		score("threat", taxonomy.SeverityCritical, 0.1),
		score("unsafe_instruction", taxonomy.SeverityHigh, 0.7),
	})

	var ids []string
	for _, s := range res.Scores {
		ids = append(ids, s.Category)
	}
	assert.Equal(t, []string{"threat", "unsafe_instruction", "harassment", "toxicity", "profanity"}, ids)
}

func TestFuse_TieBreaks(t *testing.T) {
	f := newFuser(t)

	// same tier, same score: lexically smaller id wins
	res := f.Fuse([]calibration.CalibratedScore{
		score("toxicity", taxonomy.SeverityHigh, 0.8),
		score("harassment", taxonomy.SeverityHigh, 0.8),
	})
	assert.Equal(t, "harassment", res.Dominant)

	// equal weighted contribution across tiers: higher severity wins
	cfg := fusion.Config{Weights: map[taxonomy.Severity]float64{
		taxonomy.SeverityLow: 0.5, taxonomy.SeverityMedium: 0.6, taxonomy.SeverityHigh: 0.8, taxonomy.SeverityCritical: 1.0,
	}}
	f2, err := fusion.New(cfg)
	require.NoError(t, err)
	res = f2.Fuse([]calibration.CalibratedScore{
		score("toxicity", taxonomy.SeverityHigh, 0.5),
		score("profanity", taxonomy.SeverityLow, 0.8),
	})
	assert.Equal(t, "toxicity", res.Dominant)
}

func TestFuse_DuplicatesKeepMaximum(t *testing.T) {
	f := newFuser(t)

	res := f.Fuse([]calibration.CalibratedScore{
		score("toxicity", taxonomy.SeverityHigh, 0.3),
		score("toxicity", taxonomy.SeverityHigh, 0.7),
	})

	require.Len(t, res.Scores, 1)
	assert.Equal(t, 0.7, res.Scores[0].Probability)
}

func TestFuse_TierFloor(t *testing.T) {
	cfg := fusion.DefaultConfig()
	cfg.TierFloor[taxonomy.SeverityCritical] = 0.3
	f, err := fusion.New(cfg)
	require.NoError(t, err)

	res := f.Fuse([]calibration.CalibratedScore{
		score("threat", taxonomy.SeverityCritical, 0.25),
		score("abusive_tone", taxonomy.SeverityMedium, 0.2),
	})
	assert.Equal(t, "abusive_tone", res.Dominant)

	res = f.Fuse([]calibration.CalibratedScore{score("threat", taxonomy.SeverityCritical, 0)})
	assert.Empty(t, res.Dominant)
	assert.Zero(t, res.Overall)
}

func TestFuse_Empty(t *testing.T) {
	res := newFuser(t).Fuse(nil)
	assert.Zero(t, res.Overall)
	assert.Empty(t, res.Dominant)
	assert.Empty(t, res.Tiers)
}

func TestOverride_RaisesCategory(t *testing.T) {
	f := newFuser(t)
	res := f.Fuse([]calibration.CalibratedScore{score("profanity", taxonomy.SeverityLow, 0.4)})

	forced := f.Override(res, "threat", taxonomy.SeverityCritical, 1.0)
	assert.Equal(t, "threat", forced.Dominant)
	assert.Equal(t, 1.0, forced.Overall)

	// an existing higher score is kept
	res = f.Fuse([]calibration.CalibratedScore{score("threat", taxonomy.SeverityCritical, 0.9)})
	forced = f.Override(res, "threat", taxonomy.SeverityCritical, 0.5)
	s, ok := forced.Score("threat")
	require.True(t, ok)
	assert.Equal(t, 0.9, s.Probability)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, fusion.DefaultConfig().Validate())

	notIncreasing := fusion.DefaultConfig()
	notIncreasing.Weights[taxonomy.SeverityHigh] = 0.7
	assert.Error(t, notIncreasing.Validate())

	tooLarge := fusion.DefaultConfig()
	tooLarge.Weights[taxonomy.SeverityCritical] = 1.2
	assert.Error(t, tooLarge.Validate())

	missing := fusion.DefaultConfig()
	delete(missing.Weights, taxonomy.SeverityLow)
	_, err := fusion.New(missing)
	assert.Error(t, err)
}

func TestFuse_MonotonicInAnyInput(t *testing.T) {
	f := newFuser(t)
	prev := -1.0
	for p := 0.0; p <= 1.0; p += 0.01 {
		res := f.Fuse([]calibration.CalibratedScore{
			score("toxicity", taxonomy.SeverityHigh, 0.5),
			score("profanity", taxonomy.SeverityLow, p),
		})
		assert.GreaterOrEqual(t, res.Overall, prev)
		prev = res.Overall
	}
}
