package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/safespeak/moderation-engine/backend/internal/calibration"
	"github.com/safespeak/moderation-engine/backend/internal/fusion"
	"github.com/safespeak/moderation-engine/backend/internal/metrics"
	"github.com/safespeak/moderation-engine/backend/internal/policy"
	"github.com/safespeak/moderation-engine/backend/internal/rules"
	"github.com/safespeak/moderation-engine/backend/internal/taxonomy"
)

// Options wires the engine's collaborators
type Options struct {
	Taxonomy taxonomy.Source
	Rules    *rules.Store
	Fusion   fusion.Config
	Policy   policy.Config
	// States holds hysteresis state; nil disables hysteresis
	States *policy.StateStore
	Logger *logrus.Logger
}

// Engine runs calibrate, fuse, overlay and decide for each request.
// It performs no I/O; all methods are safe for concurrent use.
type Engine struct {
	taxonomy taxonomy.Source
	rules    *rules.Store
	fuser    *fusion.Fuser
	overlay  *rules.Overlay
	policy   *policy.Policy
	logger   *logrus.Logger
}

// New validates the configuration and builds an Engine
func New(opts Options) (*Engine, error) {
	if opts.Taxonomy == nil {
		return nil, errors.New("engine: a taxonomy source is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Rules == nil {
		opts.Rules = rules.NewStore()
	}

	fuser, err := fusion.New(opts.Fusion)
	if err != nil {
		return nil, err
	}
	pol, err := policy.New(opts.Policy, opts.States)
	if err != nil {
		return nil, err
	}

	return &Engine{
		taxonomy: opts.Taxonomy,
		rules:    opts.Rules,
		fuser:    fuser,
		overlay:  rules.NewOverlay(fuser, opts.Logger),
		policy:   pol,
		logger:   opts.Logger,
	}, nil
}

// Rules returns the organization rule store
func (e *Engine) Rules() *rules.Store {
	return e.rules
}

// Policy returns the decision policy
func (e *Engine) Policy() *policy.Policy {
	return e.policy
}

// Evaluate produces the decision for one request.
//
// A request without scores yields a block decision together with
// ErrEmptyInput. A score that cannot be calibrated yields a block decision
// with reason calibration-error and no error: the failure is part of the
// decision, never dropped.
func (e *Engine) Evaluate(req Request) (*Decision, error) {
	start := time.Now()
	metrics.RequestsTotal.Inc()
	defer func() {
		metrics.LatencyHistogram.Observe(time.Since(start).Seconds())
	}()

	reg := e.taxonomy.Current()
	d := &Decision{
		TaxonomyVersion: reg.Version(),
		Organization:    req.Organization,
		ContinuityKey:   req.ContinuityKey,
		RequestID:       req.RequestID,
	}
	log := e.logger.WithFields(logrus.Fields{
		"organization":     req.Organization,
		"request_id":       req.RequestID,
		"taxonomy_version": d.TaxonomyVersion,
	})

	if len(req.Scores) == 0 {
		e.failClosed(d, ReasonEmptyInput, ErrEmptyInput)
		e.policy.Record(req.ContinuityKey, d.Action, d.Label)
		log.Warn("Empty input, failing closed")
		return d, ErrEmptyInput
	}

	calibrated, err := calibration.New(reg).CalibrateAll(req.Scores)
	d.AuditTrail = append(d.AuditTrail, AuditStep{
		Stage:       StageCalibration,
		Calibration: &CalibrationStep{Inputs: req.Scores, Outputs: calibrated},
	})
	if err != nil {
		metrics.CalibrationErrors.Inc()
		e.failClosed(d, ReasonCalibrationError, err)
		e.policy.Record(req.ContinuityKey, d.Action, d.Label)
		log.WithError(err).Warn("Calibration failed, failing closed")
		return d, nil
	}

	fused := e.fuser.Fuse(calibrated)
	d.AuditTrail = append(d.AuditTrail, AuditStep{Stage: StageFusion, Fusion: &fused})

	set := e.rules.Get(req.Organization)
	outcome := e.overlay.Apply(set, rules.Input{
		Organization: req.Organization,
		Fusion:       fused,
		Text:         req.Text,
		Registry:     reg,
	})
	d.RuleSetVersion = set.Version
	d.AuditTrail = append(d.AuditTrail, AuditStep{Stage: StageRules, Rules: rulesStep(set, outcome)})
	for _, re := range outcome.Errors {
		metrics.RecordRuleError(set.Organization, re.RuleID)
	}

	final := e.policy.Decide(req.ContinuityKey, outcome.Result, forcedAction(outcome))
	d.AuditTrail = append(d.AuditTrail, AuditStep{Stage: StagePolicy, Policy: &PolicyStep{
		Statistical:    final.Statistical,
		PreviousAction: final.Previous,
		Forced:         final.Forced,
		FinalAction:    final.Action,
	}})

	d.Action = final.Action
	d.Label = final.Label
	d.Confidence = final.Confidence
	d.StatisticalAction = final.Statistical.Action
	if outcome.Triggered != nil && outcome.Triggered.Action.Kind == rules.ForceCategory {
		// the policy saw the adjusted scores; keep what the model alone implied
		d.StatisticalAction = e.policy.Evaluate(outcome.Statistical, final.Previous).Action
	}

	switch {
	case outcome.Fired():
		id := outcome.Triggered.ID
		d.TriggeredRule = &id
		d.Reason = ReasonRuleOverride
		metrics.RecordRuleTriggered(set.Organization, id)
	case final.Statistical.HysteresisApplied:
		d.Reason = ReasonHysteresis
		metrics.HysteresisHolds.Inc()
	default:
		d.Reason = ReasonStatistical
	}

	d.RiskScore = RiskScore(outcome.Result.Overall)
	d.RiskLevel = RiskLevel(d.RiskScore)
	d.Categories = flaggedCategories(final.Statistical)
	d.Explanations = explain(final.Statistical, outcome, final)

	metrics.OverallRisk.Observe(outcome.Result.Overall)
	metrics.RecordDecision(d.Action.String(), d.Reason, d.Label)

	log.WithFields(logrus.Fields{
		"action":         d.Action.String(),
		"label":          d.Label,
		"reason":         d.Reason,
		"overall":        outcome.Result.Overall,
		"rule_set":       d.RuleSetVersion,
		"triggered_rule": stringOrEmpty(d.TriggeredRule),
	}).Debug("Decision made")

	return d, nil
}

// EvaluateBatch evaluates independent requests in parallel, at most limit at
// a time (unbounded when limit <= 0). Decisions come back in input order;
// errs[i] holds the error Evaluate returned for reqs[i].
func (e *Engine) EvaluateBatch(ctx context.Context, reqs []Request, limit int) ([]*Decision, []error, error) {
	decisions := make([]*Decision, len(reqs))
	errs := make([]error, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range reqs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			decisions[i], errs[i] = e.Evaluate(reqs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return decisions, errs, nil
}

func (e *Engine) failClosed(d *Decision, reason string, err error) {
	d.Action = policy.ActionBlock
	d.StatisticalAction = policy.ActionBlock
	d.Label = LabelUnclassified
	d.Confidence = 0
	d.Reason = reason
	d.RiskScore = 100
	d.RiskLevel = RiskCritical
	d.Categories = []string{}
	d.Explanations = []string{"failed closed: " + err.Error()}
	d.AuditTrail = append(d.AuditTrail, AuditStep{
		Stage: StageError,
		Error: &ErrorStep{Kind: errorKind(err), Message: err.Error()},
	})
	metrics.RecordDecision(d.Action.String(), reason, d.Label)
}

// forcedAction turns a force_safe/force_block override into a policy action.
// force_category is not forced: the policy evaluates the adjusted scores.
func forcedAction(outcome rules.Outcome) *policy.Forced {
	switch outcome.Override.Kind {
	case rules.ForceSafe:
		return &policy.Forced{Action: policy.ActionSafe, Label: policy.LabelSafe, Confidence: 1}
	case rules.ForceBlock:
		label := outcome.Result.Dominant
		if label == "" {
			label = LabelUnclassified
		}
		return &policy.Forced{Action: policy.ActionBlock, Label: label, Confidence: 1}
	}
	return nil
}

func rulesStep(set *rules.RuleSet, outcome rules.Outcome) *RulesStep {
	step := &RulesStep{RuleSetVersion: set.Version, Evaluations: outcome.Evaluations}
	if step.Evaluations == nil {
		step.Evaluations = []rules.Evaluation{}
	}
	if outcome.Fired() {
		step.TriggeredRule = outcome.Triggered.ID
		override := outcome.Override
		step.Override = &override
		if override.Kind == rules.ForceCategory {
			adjusted := outcome.Result
			step.Adjusted = &adjusted
		}
	}
	return step
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
