// Package report renders the write-once performance report artifact. Both
// renderers are pure functions of their inputs plus an injected clock:
// identical inputs reproduce the document byte for byte.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/perfgate/perfgate/pkg/gate"
	"github.com/perfgate/perfgate/pkg/loadtest"
	"github.com/perfgate/perfgate/pkg/metrics"
	"github.com/perfgate/perfgate/pkg/metricsquery"
)

// StageOutcome is one row of the stage outcome section, in the order the
// caller wants it rendered.
type StageOutcome struct {
	Stage   string
	Outcome string
}

const timestampLayout = time.RFC3339

// Render produces the per-run performance report. A nil decision means the
// gate could not be evaluated, which the report states instead of guessing
// a verdict.
func Render(run *loadtest.Run, aggregate metrics.Aggregate, decision *gate.Decision, outcomes []StageOutcome, clk clock.PassiveClock) string {
	var b strings.Builder
	b.WriteString("Performance gate report\n")
	b.WriteString("=======================\n\n")
	fmt.Fprintf(&b, "Generated: %s\n", clk.Now().UTC().Format(timestampLayout))

	if run != nil {
		fmt.Fprintf(&b, "Load test run: %s\n", run.ID)
		fmt.Fprintf(&b, "Mode: %s against %s over %d endpoint(s)\n", run.Config.Mode, run.Config.BaseURL, len(run.Config.Endpoints))
		b.WriteString("\n")
		fmt.Fprintf(&b, "Requests:    %d\n", aggregate.Count)
		fmt.Fprintf(&b, "Error rate:  %.2f%%\n", aggregate.ErrorRate*100)
		fmt.Fprintf(&b, "Throughput:  %.2f B/s\n", aggregate.Throughput)
		fmt.Fprintf(&b, "Latency:     avg %s, p50 %s, p99 %s\n", aggregate.MeanLatency, aggregate.P50Latency, aggregate.P99Latency)
	}

	b.WriteString("\n")
	if decision == nil {
		b.WriteString("Gate decision: NOT EVALUATED (configuration error)\n")
	} else {
		verdict := "FAILED"
		if decision.Outcome == gate.OutcomePass {
			verdict = "PASSED"
		}
		fmt.Fprintf(&b, "Gate decision: %s\n", verdict)
		fmt.Fprintf(&b, "  rule:      %s %s %.2f\n", decision.Rule.Metric, decision.Rule.Operator, decision.Rule.Threshold)
		fmt.Fprintf(&b, "  observed:  %.2f\n", decision.Observed)
		fmt.Fprintf(&b, "  evaluated: %s\n", decision.EvaluatedAt.UTC().Format(timestampLayout))
	}

	if len(outcomes) > 0 {
		b.WriteString("\nStage outcomes:\n")
		for _, outcome := range outcomes {
			fmt.Fprintf(&b, "  %-26s %s\n", outcome.Stage, outcome.Outcome)
		}
	}

	return b.String()
}

// RenderWeekly produces the windowed variant: the top-N transactions by
// average duration pulled from the metrics query service, slowest first,
// ties broken by transaction name ascending.
func RenderWeekly(transactions []metricsquery.FacetValue, topN int, window time.Duration, clk clock.PassiveClock) string {
	sorted := make([]metricsquery.FacetValue, len(transactions))
	copy(sorted, transactions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Value != sorted[j].Value {
			return sorted[i].Value > sorted[j].Value
		}
		return sorted[i].Facet < sorted[j].Facet
	})
	if topN > 0 && len(sorted) > topN {
		sorted = sorted[:topN]
	}

	var b strings.Builder
	b.WriteString("Weekly transaction report\n")
	b.WriteString("=========================\n\n")
	fmt.Fprintf(&b, "Generated: %s\n", clk.Now().UTC().Format(timestampLayout))
	fmt.Fprintf(&b, "Window: %s\n\n", window)
	fmt.Fprintf(&b, "  %-40s %s\n", "TRANSACTION", "AVG DURATION (MS)")
	for _, transaction := range sorted {
		fmt.Fprintf(&b, "  %-40s %.2f\n", transaction.Facet, transaction.Value)
	}

	return b.String()
}
