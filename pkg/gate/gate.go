// Package gate turns an observed metric and a configured threshold rule
// into a pass/fail decision that guards the deployment pipeline.
package gate

import (
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

// Operator compares the observed value to the threshold. All comparisons
// are strict, callers needing tolerance must pre-round.
type Operator string

const (
	// OperatorBelow passes iff observed < threshold.
	OperatorBelow Operator = "below"
	// OperatorAbove passes iff observed > threshold.
	OperatorAbove Operator = "above"
	// OperatorEqual passes iff observed == threshold, exact match.
	OperatorEqual Operator = "equal"
)

// Rule is the static threshold configuration one decision is derived from.
// Window only applies when the observed value comes from a windowed metrics
// query rather than a fresh load test run.
type Rule struct {
	Metric    string   `json:"metric"`
	Operator  Operator `json:"operator"`
	Threshold float64  `json:"threshold"`
	Window    string   `json:"window,omitempty"`
}

func (r Rule) Validate() error {
	if r.Metric == "" {
		return fmt.Errorf("threshold rule is missing a metric name")
	}
	switch r.Operator {
	case OperatorBelow, OperatorAbove, OperatorEqual:
	default:
		return fmt.Errorf("unknown operator %q, valid values are: %s, %s, %s", r.Operator, OperatorBelow, OperatorAbove, OperatorEqual)
	}
	if r.Window != "" {
		if _, err := time.ParseDuration(r.Window); err != nil {
			return fmt.Errorf("invalid evaluation window: %w", err)
		}
	}
	return nil
}

// WindowDuration returns the parsed evaluation window, zero when unset.
func (r Rule) WindowDuration() time.Duration {
	if r.Window == "" {
		return 0
	}
	parsed, err := time.ParseDuration(r.Window)
	if err != nil {
		return 0
	}
	return parsed
}

type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeFail Outcome = "fail"
)

// Decision is computed exactly once per pipeline run from a sealed run's
// aggregate metrics and consumed read-only by the orchestrator and the
// report generator.
type Decision struct {
	Rule        Rule      `json:"rule"`
	Observed    float64   `json:"observed"`
	Outcome     Outcome   `json:"outcome"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Passed is a convenience accessor used by stage guards.
func (d *Decision) Passed() bool {
	return d != nil && d.Outcome == OutcomePass
}

// MetricSource yields named scalar metrics. Both freshly aggregated runs
// and scalars pulled from the metrics query service implement it.
type MetricSource interface {
	Metric(name string) (float64, bool)
}

// UnknownMetricError is a configuration error: the rule names a metric the
// source does not provide. It is distinct from a threshold breach and must
// not silently default the decision to pass or fail.
type UnknownMetricError struct {
	Metric string
}

func (e *UnknownMetricError) Error() string {
	return fmt.Sprintf("unknown metric %q in threshold rule", e.Metric)
}

// Evaluate compares the named metric against the rule. It is total and
// side-effect free: it performs no retries and queries nothing itself.
func Evaluate(source MetricSource, rule Rule, clk clock.PassiveClock) (*Decision, error) {
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid threshold rule: %w", err)
	}
	observed, ok := source.Metric(rule.Metric)
	if !ok {
		return nil, &UnknownMetricError{Metric: rule.Metric}
	}

	outcome := OutcomeFail
	switch rule.Operator {
	case OperatorBelow:
		if observed < rule.Threshold {
			outcome = OutcomePass
		}
	case OperatorAbove:
		if observed > rule.Threshold {
			outcome = OutcomePass
		}
	case OperatorEqual:
		if observed == rule.Threshold {
			outcome = OutcomePass
		}
	}

	return &Decision{
		Rule:        rule,
		Observed:    observed,
		Outcome:     outcome,
		EvaluatedAt: clk.Now(),
	}, nil
}
