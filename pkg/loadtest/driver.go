package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/openhistogram/circonusllhist"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Driver issues HTTP requests against a target service and records one
// sample per request. The two modes share the same sample-recording
// contract and differ only in their concurrency strategy.
type Driver struct {
	client *http.Client
	logger *logrus.Entry
}

func NewDriver(client *http.Client, logger *logrus.Entry) *Driver {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Driver{client: client, logger: logger}
}

// Run executes the configured load test and returns the sealed run.
// Connection-level failures are recorded as samples and never abort the
// run; only invalid configuration errors out, before any request is sent.
// Cancelling the context stops dispatching new requests but still returns a
// well-formed run holding the samples collected so far.
func (d *Driver) Run(ctx context.Context, config Config) (*Run, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid load test configuration: %w", err)
	}

	run := &Run{
		ID:      uuid.NewV4().String(),
		Started: time.Now(),
		Config:  config,
	}

	var samples []RequestSample
	switch config.Mode {
	case ModeSaturation:
		samples = d.saturate(ctx, config)
	case ModeTrickle:
		samples = d.trickle(ctx, config)
	}

	run.Finished = time.Now()
	run.Samples = samples
	d.logSummary(run)

	return run, nil
}

// saturate runs exactly config.Concurrency workers, each issuing requests
// back to back until the shared deadline elapses. Requests in flight at the
// deadline complete and their samples are kept; no new request is
// dispatched afterwards. Workers append to private buffers that are merged
// once every worker returns, so no synchronization is needed on the hot
// path.
func (d *Driver) saturate(ctx context.Context, config Config) []RequestSample {
	deadline := time.Now().Add(config.parsedDuration)
	buffers := make([][]RequestSample, config.Concurrency)

	group := &errgroup.Group{}
	for i := 0; i < config.Concurrency; i++ {
		worker := i
		group.Go(func() error {
			random := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)))
			next := newEndpointPicker(config, random)
			for time.Now().Before(deadline) && ctx.Err() == nil {
				buffers[worker] = append(buffers[worker], d.issue(ctx, config.BaseURL, next()))
			}
			return nil
		})
	}
	// Workers never return errors, sample failures are data.
	_ = group.Wait()

	var merged []RequestSample
	for _, buffer := range buffers {
		merged = append(merged, buffer...)
	}
	return merged
}

// trickle issues config.RequestCount requests one at a time, spaced by the
// configured interval, choosing the endpoint uniformly at random on every
// dispatch.
func (d *Driver) trickle(ctx context.Context, config Config) []RequestSample {
	random := rand.New(rand.NewSource(time.Now().UnixNano()))
	next := newEndpointPicker(config, random)
	limiter := rate.NewLimiter(rate.Every(config.parsedSpacing), 1)

	var samples []RequestSample
	for i := 0; i < config.RequestCount; i++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		samples = append(samples, d.issue(ctx, config.BaseURL, next()))
	}
	return samples
}

// issue sends one GET request and records its sample. Latency spans
// dispatch to full body receipt, also for failures.
func (d *Driver) issue(ctx context.Context, baseURL, path string) RequestSample {
	sample := RequestSample{
		Path:     path,
		Method:   http.MethodGet,
		IssuedAt: time.Now(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		sample.Latency = time.Since(sample.IssuedAt)
		sample.Failure = FailureConnection
		return sample
	}

	resp, err := d.client.Do(req)
	if err != nil {
		sample.Latency = time.Since(sample.IssuedAt)
		sample.Failure = classifyFailure(err)
		return sample
	}
	defer resp.Body.Close()
	read, _ := io.Copy(io.Discard, resp.Body)

	sample.Latency = time.Since(sample.IssuedAt)
	sample.StatusCode = resp.StatusCode
	sample.Bytes = read
	return sample
}

func classifyFailure(err error) FailureKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureConnection
}

// newEndpointPicker returns the per-request endpoint selection function:
// uniform random over the configured paths unless the caller pinned a fixed
// cycling order.
func newEndpointPicker(config Config, random *rand.Rand) func() string {
	if config.FixedOrder {
		cursor := 0
		return func() string {
			path := config.Endpoints[cursor%len(config.Endpoints)]
			cursor++
			return path
		}
	}
	return func() string {
		return config.Endpoints[random.Intn(len(config.Endpoints))]
	}
}

func (d *Driver) logSummary(run *Run) {
	if d.logger == nil {
		return
	}
	hist := circonusllhist.New()
	for _, sample := range run.Samples {
		_ = hist.RecordValue(sample.Latency.Seconds())
	}
	d.logger.WithFields(logrus.Fields{
		"run":        run.ID,
		"mode":       run.Config.Mode,
		"samples":    len(run.Samples),
		"duration":   run.Duration().Round(time.Millisecond).String(),
		"approx-p50": fmt.Sprintf("%.3fs", hist.ValueAtQuantile(0.5)),
		"approx-p99": fmt.Sprintf("%.3fs", hist.ValueAtQuantile(0.99)),
	}).Info("Load test run finished.")
}
