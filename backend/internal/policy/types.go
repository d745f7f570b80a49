package policy

import (
	"fmt"
	"math"
	"strings"

	"github.com/safespeak/moderation-engine/backend/internal/taxonomy"
)

// Action is the final moderation action, ordered by severity
type Action int

const (
	ActionSafe Action = iota
	ActionWarning
	ActionBlock
)

// LabelSafe is the decision label when no category drives the action
const LabelSafe = "safe"

var actionNames = map[Action]string{
	ActionSafe:    "safe",
	ActionWarning: "warning",
	ActionBlock:   "block",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction parses "safe", "warning" or "block"
func ParseAction(s string) (Action, error) {
	for a, name := range actionNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return a, nil
		}
	}
	return ActionSafe, fmt.Errorf("unknown action %q", s)
}

// MarshalText encodes the action name
func (a Action) MarshalText() ([]byte, error) {
	if _, ok := actionNames[a]; !ok {
		return nil, fmt.Errorf("invalid action %d", int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText decodes an action name
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MostSevere returns the more severe of two actions
func MostSevere(a, b Action) Action {
	if b > a {
		return b
	}
	return a
}

// Thresholds are the warn and block cut-offs of one severity tier
type Thresholds struct {
	Warn  float64 `json:"warn" yaml:"warn"`
	Block float64 `json:"block" yaml:"block"`
}

// Classify maps a score onto an action using these thresholds
func (t Thresholds) Classify(score float64) Action {
	switch {
	case score >= t.Block:
		return ActionBlock
	case score >= t.Warn:
		return ActionWarning
	default:
		return ActionSafe
	}
}

// Config configures the decision policy
type Config struct {
	Tiers          map[taxonomy.Severity]Thresholds
	HysteresisBand float64
}

// DefaultConfig returns the standard per-tier thresholds
func DefaultConfig() Config {
	return Config{
		Tiers: map[taxonomy.Severity]Thresholds{
			taxonomy.SeverityLow:      {Warn: 0.3, Block: 0.9},
			taxonomy.SeverityMedium:   {Warn: 0.4, Block: 0.8},
			taxonomy.SeverityHigh:     {Warn: 0.5, Block: 0.85},
			taxonomy.SeverityCritical: {Warn: 0.3, Block: 0.6},
		},
		HysteresisBand: 0.05,
	}
}

// Validate requires thresholds for every tier with 0 < warn <= block <= 1
func (c Config) Validate() error {
	for _, sev := range taxonomy.Severities {
		t, ok := c.Tiers[sev]
		if !ok {
			return fmt.Errorf("missing thresholds for tier %s", sev)
		}
		if math.IsNaN(t.Warn) || math.IsNaN(t.Block) {
			return fmt.Errorf("thresholds for tier %s must be numbers", sev)
		}
		if t.Warn <= 0 || t.Warn > t.Block || t.Block > 1 {
			return fmt.Errorf("thresholds for tier %s must satisfy 0 < warn <= block <= 1, got warn=%v block=%v", sev, t.Warn, t.Block)
		}
	}
	if math.IsNaN(c.HysteresisBand) || c.HysteresisBand < 0 || c.HysteresisBand >= 1 {
		return fmt.Errorf("hysteresis band must be in [0,1), got %v", c.HysteresisBand)
	}
	return nil
}
