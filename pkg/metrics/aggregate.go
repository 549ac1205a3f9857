package metrics

import (
	"fmt"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/perfgate/perfgate/pkg/loadtest"
)

// Metric names recognized by threshold rules. Duration-valued metrics are
// expressed in milliseconds, error_rate as a fraction of all samples and
// throughput in bytes per second.
const (
	MetricAverageDuration = "avg_duration"
	MetricP50Duration     = "p50_duration"
	MetricP99Duration     = "p99_duration"
	MetricErrorRate       = "error_rate"
	MetricThroughput      = "throughput"
	MetricRequestCount    = "request_count"
)

// Aggregate holds the statistics derived from one load test run. It is
// recomputed on demand and never the source of truth, the samples are.
type Aggregate struct {
	Count       int           `json:"count"`
	TotalBytes  int64         `json:"totalBytes"`
	Throughput  float64       `json:"throughput"`
	MeanLatency time.Duration `json:"meanLatency"`
	P50Latency  time.Duration `json:"p50Latency"`
	P99Latency  time.Duration `json:"p99Latency"`
	ErrorRate   float64       `json:"errorRate"`

	sortedLatencies []float64
}

// FromRun computes the aggregate statistics for a sealed run. The result is
// a pure function of the multiset of samples, the order in which workers
// appended them carries no meaning.
func FromRun(run *loadtest.Run) (Aggregate, error) {
	aggregate := Aggregate{Count: len(run.Samples)}
	if aggregate.Count == 0 {
		return aggregate, nil
	}

	latencies := make([]float64, 0, len(run.Samples))
	failed := 0
	for _, sample := range run.Samples {
		latencies = append(latencies, float64(sample.Latency))
		aggregate.TotalBytes += sample.Bytes
		if sample.Failed() {
			failed++
		}
	}
	sort.Float64s(latencies)
	aggregate.sortedLatencies = latencies

	mean, err := stats.Mean(latencies)
	if err != nil {
		return Aggregate{}, fmt.Errorf("failed to compute mean latency: %w", err)
	}
	aggregate.MeanLatency = time.Duration(mean)
	aggregate.ErrorRate = float64(failed) / float64(aggregate.Count)
	if wallClock := run.Duration(); wallClock > 0 {
		aggregate.Throughput = float64(aggregate.TotalBytes) / wallClock.Seconds()
	}

	p50, err := aggregate.Percentile(50)
	if err != nil {
		return Aggregate{}, err
	}
	p99, err := aggregate.Percentile(99)
	if err != nil {
		return Aggregate{}, err
	}
	aggregate.P50Latency = p50
	aggregate.P99Latency = p99

	return aggregate, nil
}

// Percentile returns the nearest-rank percentile of the sample latencies:
// the value at index ceil(p/100*count)-1 of the latencies sorted ascending,
// clamped to the valid range. For small sample counts high percentiles
// degenerate to the maximum sample, which is expected.
func (a Aggregate) Percentile(p float64) (time.Duration, error) {
	if a.Count == 0 {
		return 0, nil
	}
	value, err := stats.PercentileNearestRank(a.sortedLatencies, p)
	if err != nil {
		return 0, fmt.Errorf("failed to compute p%v latency: %w", p, err)
	}
	return time.Duration(value), nil
}

// Metric extracts a named scalar, the shape threshold rules evaluate
// against.
func (a Aggregate) Metric(name string) (float64, bool) {
	switch name {
	case MetricAverageDuration:
		return durationToMillis(a.MeanLatency), true
	case MetricP50Duration:
		return durationToMillis(a.P50Latency), true
	case MetricP99Duration:
		return durationToMillis(a.P99Latency), true
	case MetricErrorRate:
		return a.ErrorRate, true
	case MetricThroughput:
		return a.Throughput, true
	case MetricRequestCount:
		return float64(a.Count), true
	default:
		return 0, false
	}
}

func durationToMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
