package taxonomy

import (
	"fmt"
	"strings"
)

// Severity orders categories by how serious a violation is
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Severities lists every tier from most to least severe
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Valid reports whether s is one of the four known tiers
func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityCritical
}

// ParseSeverity converts a lower-case tier name into a Severity
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}

// MarshalText implements encoding.TextMarshaler
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Calibration methods
const (
	MethodIdentity  = "identity"
	MethodPiecewise = "piecewise"
)

// ControlPoint maps one raw classifier value to a calibrated probability
type ControlPoint struct {
	Raw        float64 `json:"raw" yaml:"raw"`
	Calibrated float64 `json:"calibrated" yaml:"calibrated"`
}

// Calibration describes the monotonic function applied to a category's raw scores
type Calibration struct {
	Method string         `json:"method"`
	Points []ControlPoint `json:"points,omitempty"`
}

// Category is a single moderation label with its severity and calibration
type Category struct {
	ID               string      `json:"id"`
	Description      string      `json:"description,omitempty"`
	Severity         Severity    `json:"severity"`
	DefaultThreshold float64     `json:"defaultThreshold"`
	Calibration      Calibration `json:"calibration"`
}
