package gate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clocktesting "k8s.io/utils/clock/testing"
)

type staticMetrics map[string]float64

func (m staticMetrics) Metric(name string) (float64, bool) {
	value, ok := m[name]
	return value, ok
}

func TestEvaluate(t *testing.T) {
	evaluatedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clk := clocktesting.NewFakePassiveClock(evaluatedAt)

	testCases := []struct {
		name     string
		observed float64
		rule     Rule
		outcome  Outcome
	}{
		{
			name:     "below threshold passes",
			observed: 450,
			rule:     Rule{Metric: "avg_duration", Operator: OperatorBelow, Threshold: 500},
			outcome:  OutcomePass,
		},
		{
			name:     "above threshold fails below rule",
			observed: 650,
			rule:     Rule{Metric: "avg_duration", Operator: OperatorBelow, Threshold: 500},
			outcome:  OutcomeFail,
		},
		{
			name:     "exactly at threshold fails below rule, strict inequality",
			observed: 500,
			rule:     Rule{Metric: "avg_duration", Operator: OperatorBelow, Threshold: 500},
			outcome:  OutcomeFail,
		},
		{
			name:     "above operator passes when observed is larger",
			observed: 1200,
			rule:     Rule{Metric: "throughput", Operator: OperatorAbove, Threshold: 1000},
			outcome:  OutcomePass,
		},
		{
			name:     "above operator fails at the threshold",
			observed: 1000,
			rule:     Rule{Metric: "throughput", Operator: OperatorAbove, Threshold: 1000},
			outcome:  OutcomeFail,
		},
		{
			name:     "equal operator requires an exact match",
			observed: 0,
			rule:     Rule{Metric: "error_rate", Operator: OperatorEqual, Threshold: 0},
			outcome:  OutcomePass,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			decision, err := Evaluate(staticMetrics{testCase.rule.Metric: testCase.observed}, testCase.rule, clk)
			require.NoError(t, err)
			assert.Equal(t, testCase.outcome, decision.Outcome)
			assert.Equal(t, testCase.observed, decision.Observed)
			assert.Equal(t, testCase.rule, decision.Rule)
			assert.Equal(t, evaluatedAt, decision.EvaluatedAt)
		})
	}
}

func TestEvaluateUnknownMetric(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(time.Now())
	rule := Rule{Metric: "no_such_metric", Operator: OperatorBelow, Threshold: 1}

	decision, err := Evaluate(staticMetrics{}, rule, clk)
	require.Error(t, err)
	assert.Nil(t, decision, "a configuration error must not silently default to a decision")

	unknownMetricErr := &UnknownMetricError{}
	assert.True(t, errors.As(err, &unknownMetricErr), "expected an UnknownMetricError, got %v", err)
	assert.Equal(t, "no_such_metric", unknownMetricErr.Metric)
}

func TestRuleValidate(t *testing.T) {
	testCases := []struct {
		name        string
		rule        Rule
		expectedErr bool
	}{
		{
			name: "valid rule",
			rule: Rule{Metric: "avg_duration", Operator: OperatorBelow, Threshold: 500, Window: "168h"},
		},
		{
			name:        "missing metric",
			rule:        Rule{Operator: OperatorBelow, Threshold: 500},
			expectedErr: true,
		},
		{
			name:        "unknown operator",
			rule:        Rule{Metric: "avg_duration", Operator: "less-ish", Threshold: 500},
			expectedErr: true,
		},
		{
			name:        "bad window",
			rule:        Rule{Metric: "avg_duration", Operator: OperatorBelow, Threshold: 500, Window: "a week"},
			expectedErr: true,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := testCase.rule.Validate()
			if testCase.expectedErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecisionPassed(t *testing.T) {
	var missing *Decision
	assert.False(t, missing.Passed(), "a missing decision never passes")
	assert.True(t, (&Decision{Outcome: OutcomePass}).Passed())
	assert.False(t, (&Decision{Outcome: OutcomeFail}).Passed())
}
