package calibration

import (
	"fmt"
	"math"

	"github.com/safespeak/moderation-engine/backend/internal/taxonomy"
)

// ScoreMetadata carries optional classifier context for a raw score
type ScoreMetadata struct {
	ModelVersion string `json:"modelVersion,omitempty"`
	Language     string `json:"language,omitempty"`
}

// RawScore is one category signal exactly as the classifier produced it
type RawScore struct {
	Category string         `json:"category"`
	Value    float64        `json:"score"`
	Metadata *ScoreMetadata `json:"metadata,omitempty"`
}

// CalibratedScore is a raw score mapped onto a probability in [0,1]
type CalibratedScore struct {
	Category    string            `json:"category"`
	Severity    taxonomy.Severity `json:"severity"`
	Raw         float64           `json:"raw"`
	Probability float64           `json:"probability"`
	Method      string            `json:"method"`
}

// InvalidScoreError is returned for raw values that cannot be ordered
type InvalidScoreError struct {
	Category string
	Value    float64
}

func (e *InvalidScoreError) Error() string {
	return fmt.Sprintf("invalid raw score %v for category %q", e.Value, e.Category)
}

// Calibrator maps raw scores through each category's calibration function
type Calibrator struct {
	registry *taxonomy.Registry
}

// New creates a Calibrator bound to one registry version
func New(reg *taxonomy.Registry) *Calibrator {
	return &Calibrator{registry: reg}
}

// Calibrate returns the calibrated probability for a single raw score
func (c *Calibrator) Calibrate(raw RawScore) (CalibratedScore, error) {
	cat, err := c.registry.Get(raw.Category)
	if err != nil {
		return CalibratedScore{}, err
	}
	if math.IsNaN(raw.Value) {
		return CalibratedScore{}, &InvalidScoreError{Category: raw.Category, Value: raw.Value}
	}

	return CalibratedScore{
		Category:    cat.ID,
		Severity:    cat.Severity,
		Raw:         raw.Value,
		Probability: Apply(cat.Calibration, raw.Value),
		Method:      cat.Calibration.Method,
	}, nil
}

// CalibrateAll calibrates every score and stops at the first failure
func (c *Calibrator) CalibrateAll(raws []RawScore) ([]CalibratedScore, error) {
	out := make([]CalibratedScore, 0, len(raws))
	for _, raw := range raws {
		cs, err := c.Calibrate(raw)
		if err != nil {
			return out, err
		}
		out = append(out, cs)
	}
	return out, nil
}

// Apply evaluates a calibration function at x and clamps the result to [0,1].
// Values outside the control range take the nearest endpoint.
func Apply(cal taxonomy.Calibration, x float64) float64 {
	if cal.Method != taxonomy.MethodPiecewise || len(cal.Points) == 0 {
		return clamp(x)
	}

	pts := cal.Points
	if x <= pts[0].Raw {
		return clamp(pts[0].Calibrated)
	}
	last := pts[len(pts)-1]
	if x >= last.Raw {
		return clamp(last.Calibrated)
	}

	for i := 1; i < len(pts); i++ {
		hi := pts[i]
		if x > hi.Raw {
			continue
		}
		lo := pts[i-1]
		t := (x - lo.Raw) / (hi.Raw - lo.Raw)
		return clamp(lo.Calibrated + t*(hi.Calibrated-lo.Calibrated))
	}
	return clamp(last.Calibrated)
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
