package rules_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safespeak/moderation-engine/backend/internal/rules"
	"github.com/safespeak/moderation-engine/backend/internal/taxonomy"
)

const acmeRules = `
version: "2024-06-01"
rules:
  - id: deny-kill-phrase
    priority: 100
    when:
      phrase: ["kill you", "i will hurt you"]
    action: force_block
  - id: allow-quoted-profanity
    priority: 10
    when:
      all:
        - score: {category: profanity, op: lt, value: 0.6}
        - pattern: ['^".*"$']
    action: force_safe
  - id: escalate-harassment
    priority: 50
    when:
      cedar: context.scores.harassment >= 50 && context.has_text
    action: force_category
    category: threat
    score: 0.7
`

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme.yaml"), []byte(acmeRules), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.yml"), []byte(`
rules:
  - id: block-critical
    priority: 1
    when:
      score: {category: overall, op: gte, value: 0.95}
    action: force_block
`), 0644))

	store := rules.NewStore()
	err := rules.LoadDir(dir, store, rules.CompileOptions{Taxonomy: taxonomy.Default()}, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"acme", "default"}, store.Organizations())

	acme := store.Get("acme")
	assert.Equal(t, "2024-06-01", acme.Version)
	require.Equal(t, 3, acme.Len())
	assert.Equal(t, "deny-kill-phrase", acme.Rules()[0].ID)
	assert.Equal(t, "escalate-harassment", acme.Rules()[1].ID)
	assert.Equal(t, 0.7, acme.Rules()[1].Action.Score)

	assert.Equal(t, "unversioned", store.Get("someone-else").Version, "unknown organizations use the default set")
}

func TestLoadDir_MalformedFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme.yaml"), []byte(acmeRules), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(`
rules:
  - id: bad
    when:
      pattern: ["(oops"]
    action: force_block
`), 0644))

	store := rules.NewStore()
	err := rules.LoadDir(dir, store, rules.CompileOptions{}, quietLogger())

	var malformed *rules.MalformedRuleError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "bad", malformed.RuleID)
	assert.Empty(t, store.Organizations(), "nothing is installed when any file fails")
}

func TestLoadDir_MissingDirectory(t *testing.T) {
	store := rules.NewStore()
	require.NoError(t, rules.LoadDir(filepath.Join(t.TempDir(), "nope"), store, rules.CompileOptions{}, nil))
	assert.Empty(t, store.Organizations())
}
