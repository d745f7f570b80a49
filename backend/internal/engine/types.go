package engine

import (
	"github.com/safespeak/moderation-engine/backend/internal/calibration"
	"github.com/safespeak/moderation-engine/backend/internal/fusion"
	"github.com/safespeak/moderation-engine/backend/internal/policy"
	"github.com/safespeak/moderation-engine/backend/internal/rules"
)

// Decision reasons
const (
	ReasonStatistical      = "statistical"
	ReasonHysteresis       = "hysteresis"
	ReasonRuleOverride     = "rule-override"
	ReasonEmptyInput       = "empty-input"
	ReasonCalibrationError = "calibration-error"
)

// LabelUnclassified labels a block that no category explains, such as a
// fail-closed decision or a force_block rule on otherwise clean content
const LabelUnclassified = "unclassified"

// Audit stages, in pipeline order
const (
	StageCalibration = "calibration"
	StageFusion      = "fusion"
	StageRules       = "rules"
	StagePolicy      = "policy"
	StageError       = "error"
)

// Request is one moderation request as received from the classifier
type Request struct {
	RequestID     string                 `json:"requestId,omitempty"`
	Organization  string                 `json:"organization"`
	ContinuityKey string                 `json:"continuityKey,omitempty"`
	Text          string                 `json:"text,omitempty"`
	Scores        []calibration.RawScore `json:"scores"`
}

// Decision is the final, immutable moderation result. It carries no clock
// readings or random identifiers, so identical inputs give identical decisions.
type Decision struct {
	Label             string        `json:"label"`
	Confidence        float64       `json:"confidence"`
	Action            policy.Action `json:"action"`
	TriggeredRule     *string       `json:"triggeredRule"`
	Reason            string        `json:"reason"`
	StatisticalAction policy.Action `json:"statisticalAction"`
	RiskScore         int           `json:"riskScore"`
	RiskLevel         string        `json:"riskLevel"`
	Categories        []string      `json:"categories"`
	Explanations      []string      `json:"explanations"`
	TaxonomyVersion   string        `json:"taxonomyVersion"`
	RuleSetVersion    string        `json:"ruleSetVersion,omitempty"`
	Organization      string        `json:"organization,omitempty"`
	ContinuityKey     string        `json:"continuityKey,omitempty"`
	RequestID         string        `json:"requestId,omitempty"`
	AuditTrail        []AuditStep   `json:"auditTrail"`
}

// AuditStep records one pipeline stage. Exactly one detail field is set,
// matching Stage.
type AuditStep struct {
	Stage       string           `json:"stage"`
	Calibration *CalibrationStep `json:"calibration,omitempty"`
	Fusion      *fusion.Result   `json:"fusion,omitempty"`
	Rules       *RulesStep       `json:"rules,omitempty"`
	Policy      *PolicyStep      `json:"policy,omitempty"`
	Error       *ErrorStep       `json:"error,omitempty"`
}

// CalibrationStep records calibration inputs and outputs
type CalibrationStep struct {
	Inputs  []calibration.RawScore        `json:"inputs"`
	Outputs []calibration.CalibratedScore `json:"outputs"`
}

// RulesStep records rule evaluation
type RulesStep struct {
	RuleSetVersion string             `json:"ruleSetVersion"`
	Evaluations    []rules.Evaluation `json:"evaluations"`
	TriggeredRule  string             `json:"triggeredRule,omitempty"`
	Override       *rules.Override    `json:"override,omitempty"`
	// Adjusted is the re-fused result after a force_category rule
	Adjusted *fusion.Result `json:"adjusted,omitempty"`
}

// PolicyStep records the statistical and final policy verdicts
type PolicyStep struct {
	Statistical    policy.Evaluation `json:"statistical"`
	PreviousAction *policy.Action    `json:"previousAction,omitempty"`
	Forced         bool              `json:"forced"`
	FinalAction    policy.Action     `json:"finalAction"`
}

// ErrorStep records why a request failed closed
type ErrorStep struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// EmptyInputError is returned when a request carries no raw scores
type EmptyInputError struct{}

func (e *EmptyInputError) Error() string {
	return "no raw scores to evaluate"
}

// ErrEmptyInput is the EmptyInputError returned by Evaluate
var ErrEmptyInput error = &EmptyInputError{}
