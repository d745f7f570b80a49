package matchers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safespeak/moderation-engine/backend/internal/fusion"
	"github.com/safespeak/moderation-engine/backend/internal/logging"
	"github.com/safespeak/moderation-engine/backend/internal/matchers"
	"github.com/safespeak/moderation-engine/backend/internal/rules"
	"github.com/safespeak/moderation-engine/backend/internal/taxonomy"
)

func TestDetectPII(t *testing.T) {
	assert.Equal(t, []string{"email"}, matchers.DetectPII("write to jane.doe@example.com"))
	assert.Equal(t, []string{"phone"}, matchers.DetectPII("call 555-123-4567"))
	assert.Contains(t, matchers.DetectPII("ssn 123-45-6789"), "ssn")
	assert.Empty(t, matchers.DetectPII("nothing personal here"))
}

func TestRegisterBuiltins(t *testing.T) {
	reg := rules.NewMatcherRegistry()
	require.NoError(t, matchers.RegisterBuiltins(reg))

	assert.Contains(t, reg.Names(), matchers.PII)
	assert.Contains(t, reg.Names(), matchers.Weapons)

	m, ok := reg.Get(matchers.Weapons)
	require.True(t, ok)
	hit, err := m.Match("how to make a bomb at home")
	require.NoError(t, err)
	assert.True(t, hit)

	hit, err = m.Match("a lovely afternoon")
	require.NoError(t, err)
	assert.False(t, hit)

	assert.Error(t, matchers.RegisterBuiltins(reg), "names can only be registered once")
}

func TestLexicon_Match(t *testing.T) {
	lex, err := matchers.NewLexicon(`(?i)\bscam\b`, `(?i)\bphishing\b`)
	require.NoError(t, err)

	hit, err := lex.Match("this PHISHING email")
	require.NoError(t, err)
	assert.True(t, hit)

	hit, err = lex.Match("legit newsletter, no scammers")
	require.NoError(t, err)
	assert.False(t, hit)

	_, err = matchers.NewLexicon(`(`)
	assert.Error(t, err)
}

func TestBuiltinMatcherInRule(t *testing.T) {
	reg := rules.NewMatcherRegistry()
	require.NoError(t, matchers.RegisterBuiltins(reg))

	set, err := rules.Compile("acme", "v1", []rules.Spec{{
		ID:     "no-doxxing",
		When:   rules.PredicateSpec{Matcher: matchers.PII},
		Action: "force_block",
	}}, rules.CompileOptions{Matchers: reg})
	require.NoError(t, err)

	fuser, err := fusion.New(fusion.DefaultConfig())
	require.NoError(t, err)
	overlay := rules.NewOverlay(fuser, logging.Discard())

	out := overlay.Apply(set, rules.Input{Organization: "acme", Text: "her number is 555-123-4567"})
	assert.True(t, out.Fired())

	out = overlay.Apply(set, rules.Input{Organization: "acme", Text: "see you soon"})
	assert.False(t, out.Fired())
}

func TestShippedRulesCompile(t *testing.T) {
	reg := rules.NewMatcherRegistry()
	require.NoError(t, matchers.RegisterBuiltins(reg))

	set, err := rules.LoadFile("../../../configs/rules/default.yaml", rules.CompileOptions{
		Taxonomy: taxonomy.Default(),
		Matchers: reg,
	})
	require.NoError(t, err)
	assert.Equal(t, "default", set.Organization)
	assert.Equal(t, 4, set.Len())
}
