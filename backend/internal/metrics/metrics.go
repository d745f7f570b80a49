package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Standard Prometheus collectors for the moderation engine
var (
	// moderation_requests_total (counter): total requests evaluated
	RequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moderation_requests_total",
		Help: "Total number of moderation requests evaluated",
	})

	// moderation_decisions_total{action=safe|warning|block, reason=...}
	DecisionCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_decisions_total",
		Help: "Number of moderation decisions by action and reason",
	}, []string{"action", "reason"})

	// moderation_decision_label_total{label=toxicity|threat|...|safe}
	LabelCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_decision_label_total",
		Help: "Number of decisions per final label",
	}, []string{"label"})

	// moderation_rule_triggered_total{organization, rule}
	RuleTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_rule_triggered_total",
		Help: "Number of times an organization rule overrode the statistical decision",
	}, []string{"organization", "rule"})

	// moderation_rule_errors_total{organization, rule}
	RuleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_rule_errors_total",
		Help: "Number of rule predicates that failed during evaluation",
	}, []string{"organization", "rule"})

	// moderation_calibration_errors_total
	CalibrationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moderation_calibration_errors_total",
		Help: "Number of requests that failed closed because a score could not be calibrated",
	})

	// moderation_hysteresis_holds_total
	HysteresisHolds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moderation_hysteresis_holds_total",
		Help: "Number of decisions held at warning by hysteresis",
	})

	// moderation_taxonomy_reloads_total{result=success|failure}
	TaxonomyReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_taxonomy_reloads_total",
		Help: "Number of taxonomy hot reloads",
	}, []string{"result"})

	// moderation_audit_write_errors_total{sink}
	AuditWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_audit_write_errors_total",
		Help: "Number of audit records a sink failed to persist",
	}, []string{"sink"})

	// moderation_latency_seconds (histogram): engine evaluation duration
	LatencyHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "moderation_latency_seconds",
		Help:    "Engine evaluation latency in seconds",
		Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
	})

	// moderation_overall_risk (histogram): fused overall risk
	OverallRisk = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "moderation_overall_risk",
		Help:    "Distribution of fused overall risk",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	})
)

// RecordDecision counts a decision by action, reason and label
func RecordDecision(action, reason, label string) {
	DecisionCount.WithLabelValues(action, reason).Inc()
	LabelCount.WithLabelValues(label).Inc()
}

// RecordRuleTriggered counts a rule override
func RecordRuleTriggered(org, rule string) {
	RuleTriggered.WithLabelValues(org, rule).Inc()
}

// RecordRuleError counts a rule evaluation failure
func RecordRuleError(org, rule string) {
	RuleErrors.WithLabelValues(org, rule).Inc()
}

// RecordTaxonomyReload counts a taxonomy reload attempt
func RecordTaxonomyReload(err error) {
	if err != nil {
		TaxonomyReloads.WithLabelValues("failure").Inc()
		return
	}
	TaxonomyReloads.WithLabelValues("success").Inc()
}

// RecordAuditWriteError counts a failed audit write
func RecordAuditWriteError(sink string) {
	AuditWriteErrors.WithLabelValues(sink).Inc()
}
