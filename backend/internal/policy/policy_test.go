package policy_test

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safespeak/moderation-engine/backend/internal/calibration"
	"github.com/safespeak/moderation-engine/backend/internal/fusion"
	"github.com/safespeak/moderation-engine/backend/internal/policy"
	"github.com/safespeak/moderation-engine/backend/internal/taxonomy"
)

func fused(t *testing.T, raw map[string]float64) fusion.Result {
	t.Helper()
	reg := taxonomy.Default()
	cal := calibration.New(reg)
	scores := make([]calibration.CalibratedScore, 0, len(raw))
	for cat, v := range raw {
		s, err := cal.Calibrate(calibration.RawScore{Category: cat, Value: v})
		require.NoError(t, err)
		scores = append(scores, s)
	}
	f, err := fusion.New(fusion.DefaultConfig())
	require.NoError(t, err)
	return f.Fuse(scores)
}

func newPolicy(t *testing.T, states *policy.StateStore) *policy.Policy {
	t.Helper()
	p, err := policy.New(policy.DefaultConfig(), states)
	require.NoError(t, err)
	return p
}

func TestEvaluate_HighTierBlock(t *testing.T) {
	p := newPolicy(t, nil)

	eval := p.Evaluate(fused(t, map[string]float64{"toxicity": 0.9, "profanity": 0.4}), nil)

	assert.Equal(t, policy.ActionBlock, eval.Action)
	assert.Equal(t, "toxicity", eval.Label)
	assert.Equal(t, 0.9, eval.Confidence)
	require.Len(t, eval.Tiers, 2)
	assert.Equal(t, policy.ActionWarning, eval.Tiers[1].Action, "profanity 0.4 crosses the low warn threshold")
}

func TestEvaluate_LowTierWarning(t *testing.T) {
	p := newPolicy(t, nil)

	eval := p.Evaluate(fused(t, map[string]float64{"profanity": 0.5}), nil)

	assert.Equal(t, policy.ActionWarning, eval.Action)
	assert.Equal(t, "profanity", eval.Label)
	assert.Equal(t, 0.5, eval.Confidence)
}

func TestEvaluate_Safe(t *testing.T) {
	p := newPolicy(t, nil)

	eval := p.Evaluate(fused(t, map[string]float64{"profanity": 0.1, "toxicity": 0.2}), nil)

	assert.Equal(t, policy.ActionSafe, eval.Action)
	assert.Equal(t, policy.LabelSafe, eval.Label)
	assert.InDelta(t, 0.8, eval.Confidence, 1e-9)
}

func TestEvaluate_TierSpecificWarning(t *testing.T) {
	p := newPolicy(t, nil)

	// 0.35 is far below every block threshold but above the critical warn
	eval := p.Evaluate(fused(t, map[string]float64{"threat": 0.35}), nil)

	assert.Equal(t, policy.ActionWarning, eval.Action)
	assert.Equal(t, "threat", eval.Label)
}

func TestEvaluate_MostSevereActionAcrossTiers(t *testing.T) {
	p := newPolicy(t, nil)

	eval := p.Evaluate(fused(t, map[string]float64{"toxicity": 0.6, "profanity": 0.95}), nil)

	assert.Equal(t, policy.ActionBlock, eval.Action)
	assert.Equal(t, "profanity", eval.Label)
}

func TestEvaluate_EqualActionsPreferHigherTier(t *testing.T) {
	p := newPolicy(t, nil)

	eval := p.Evaluate(fused(t, map[string]float64{"threat": 0.4, "toxicity": 0.6}), nil)

	assert.Equal(t, policy.ActionWarning, eval.Action)
	assert.Equal(t, "threat", eval.Label)
}

func TestDecide_HysteresisHoldsWarning(t *testing.T) {
	p := newPolicy(t, policy.NewStateStore(8))

	first := p.Decide("conv-1", fused(t, map[string]float64{"profanity": 0.35}), nil)
	require.Equal(t, policy.ActionWarning, first.Action)
	assert.Nil(t, first.Previous)

	held := p.Decide("conv-1", fused(t, map[string]float64{"profanity": 0.27}), nil)
	assert.Equal(t, policy.ActionWarning, held.Action)
	assert.True(t, held.Statistical.HysteresisApplied)
	assert.Equal(t, "profanity", held.Label)
	require.NotNil(t, held.Previous)
	assert.Equal(t, policy.ActionWarning, *held.Previous)

	dropped := p.Decide("conv-1", fused(t, map[string]float64{"profanity": 0.2}), nil)
	assert.Equal(t, policy.ActionSafe, dropped.Action, "below the band the decision drops to safe")
}

func TestDecide_NoHysteresisWithoutPriorWarning(t *testing.T) {
	p := newPolicy(t, policy.NewStateStore(8))

	out := p.Decide("conv-2", fused(t, map[string]float64{"profanity": 0.27}), nil)
	assert.Equal(t, policy.ActionSafe, out.Action)

	// another conversation's warning does not leak
	p.Decide("conv-3", fused(t, map[string]float64{"profanity": 0.35}), nil)
	out = p.Decide("conv-2", fused(t, map[string]float64{"profanity": 0.27}), nil)
	assert.Equal(t, policy.ActionSafe, out.Action)
}

func TestDecide_EmptyKeyKeepsNoState(t *testing.T) {
	states := policy.NewStateStore(8)
	p := newPolicy(t, states)

	p.Decide("", fused(t, map[string]float64{"profanity": 0.35}), nil)
	out := p.Decide("", fused(t, map[string]float64{"profanity": 0.27}), nil)

	assert.Equal(t, policy.ActionSafe, out.Action)
	assert.Equal(t, 0, states.Len())
}

func TestDecide_ForcedActionIsRecorded(t *testing.T) {
	states := policy.NewStateStore(8)
	p := newPolicy(t, states)

	out := p.Decide("conv-4", fused(t, map[string]float64{"toxicity": 0.95}), &policy.Forced{
		Action: policy.ActionSafe, Label: policy.LabelSafe, Confidence: 1,
	})

	assert.True(t, out.Forced)
	assert.Equal(t, policy.ActionSafe, out.Action)
	assert.Equal(t, policy.ActionBlock, out.Statistical.Action, "statistical verdict is kept alongside the override")

	st, ok := states.Get("conv-4")
	require.True(t, ok)
	assert.Equal(t, policy.ActionSafe, st.Action)
}

func TestRecord_ReplacesStateWithoutEvaluating(t *testing.T) {
	states := policy.NewStateStore(8)
	p := newPolicy(t, states)

	p.Decide("k", fused(t, map[string]float64{"abusive_tone": 0.45}), nil)
	prev := p.Record("k", policy.ActionBlock, "unclassified")
	require.NotNil(t, prev)
	assert.Equal(t, policy.ActionWarning, *prev)

	out := p.Decide("k", fused(t, map[string]float64{"abusive_tone": 0.37}), nil)
	assert.Equal(t, policy.ActionSafe, out.Action)
	assert.False(t, out.Statistical.HysteresisApplied)

	assert.Nil(t, p.Record("", policy.ActionBlock, "unclassified"))
	assert.Nil(t, newPolicy(t, nil).Record("k", policy.ActionBlock, "unclassified"))
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, policy.DefaultConfig().Validate())

	cfg := policy.DefaultConfig()
	cfg.Tiers[taxonomy.SeverityHigh] = policy.Thresholds{Warn: 0.9, Block: 0.5}
	assert.Error(t, cfg.Validate())

	cfg = policy.DefaultConfig()
	delete(cfg.Tiers, taxonomy.SeverityLow)
	assert.Error(t, cfg.Validate())

	cfg = policy.DefaultConfig()
	cfg.HysteresisBand = 1
	assert.Error(t, cfg.Validate())

	_, err := policy.New(cfg, nil)
	assert.Error(t, err)
}

func TestAction_Text(t *testing.T) {
	data, err := json.Marshal(map[string]policy.Action{"action": policy.ActionWarning})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"warning"}`, string(data))

	var a policy.Action
	require.NoError(t, a.UnmarshalText([]byte("BLOCK")))
	assert.Equal(t, policy.ActionBlock, a)
	assert.Error(t, a.UnmarshalText([]byte("maybe")))

	assert.Equal(t, policy.ActionBlock, policy.MostSevere(policy.ActionBlock, policy.ActionWarning))
}

func TestStateStore_SerialisesPerKey(t *testing.T) {
	states := policy.NewStateStore(4)

	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				for _, key := range []string{"shared", fmt.Sprintf("own-%d", g)} {
					states.Update(key, func(prev *policy.State) policy.State {
						n := 0
						if prev != nil {
							n, _ = strconv.Atoi(prev.Label)
						}
						return policy.State{Label: strconv.Itoa(n + 1)}
					})
				}
			}
		}(g)
	}
	wg.Wait()

	st, ok := states.Get("shared")
	require.True(t, ok)
	assert.Equal(t, "2000", st.Label)

	own, ok := states.Get("own-7")
	require.True(t, ok)
	assert.Equal(t, "100", own.Label)
	assert.Equal(t, 21, states.Len())
}

func TestStateStore_Prune(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	states := policy.NewStateStore(0, policy.WithClock(func() time.Time { return now }))

	states.Update("old", func(*policy.State) policy.State { return policy.State{Action: policy.ActionWarning} })
	now = now.Add(time.Hour)
	states.Update("fresh", func(*policy.State) policy.State { return policy.State{Action: policy.ActionWarning} })

	removed := states.Prune(now.Add(-30 * time.Minute))

	assert.Equal(t, 1, removed)
	_, ok := states.Get("old")
	assert.False(t, ok)
	_, ok = states.Get("fresh")
	assert.True(t, ok)

	states.Delete("fresh")
	assert.Equal(t, 0, states.Len())
}
