package loadtest

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name        string
		config      Config
		expectedErr bool
	}{
		{
			name:   "valid saturation config",
			config: Config{BaseURL: "http://localhost:8080", Endpoints: []string{"/healthy"}, Mode: ModeSaturation, Concurrency: 10, Duration: "5s"},
		},
		{
			name:   "valid trickle config",
			config: Config{BaseURL: "http://localhost:8080", Endpoints: []string{"/healthy"}, Mode: ModeTrickle, RequestCount: 10},
		},
		{
			name:        "missing base URL",
			config:      Config{Endpoints: []string{"/healthy"}, Mode: ModeSaturation, Concurrency: 1, Duration: "5s"},
			expectedErr: true,
		},
		{
			name:        "not an http URL",
			config:      Config{BaseURL: "ftp://example.com", Endpoints: []string{"/healthy"}, Mode: ModeSaturation, Concurrency: 1, Duration: "5s"},
			expectedErr: true,
		},
		{
			name:        "empty endpoint set",
			config:      Config{BaseURL: "http://localhost:8080", Mode: ModeSaturation, Concurrency: 1, Duration: "5s"},
			expectedErr: true,
		},
		{
			name:        "endpoint without leading slash",
			config:      Config{BaseURL: "http://localhost:8080", Endpoints: []string{"healthy"}, Mode: ModeSaturation, Concurrency: 1, Duration: "5s"},
			expectedErr: true,
		},
		{
			name:        "unknown mode",
			config:      Config{BaseURL: "http://localhost:8080", Endpoints: []string{"/healthy"}, Mode: "burst", Concurrency: 1, Duration: "5s"},
			expectedErr: true,
		},
		{
			name:        "saturation without concurrency",
			config:      Config{BaseURL: "http://localhost:8080", Endpoints: []string{"/healthy"}, Mode: ModeSaturation, Duration: "5s"},
			expectedErr: true,
		},
		{
			name:        "saturation with malformed duration",
			config:      Config{BaseURL: "http://localhost:8080", Endpoints: []string{"/healthy"}, Mode: ModeSaturation, Concurrency: 1, Duration: "five seconds"},
			expectedErr: true,
		},
		{
			name:        "trickle without request count",
			config:      Config{BaseURL: "http://localhost:8080", Endpoints: []string{"/healthy"}, Mode: ModeTrickle},
			expectedErr: true,
		},
		{
			name:        "trickle with negative spacing",
			config:      Config{BaseURL: "http://localhost:8080", Endpoints: []string{"/healthy"}, Mode: ModeTrickle, RequestCount: 1, Spacing: "-1s"},
			expectedErr: true,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := testCase.config.Validate()
			if testCase.expectedErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunRejectsInvalidConfigBeforeAnyRequest(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	driver := NewDriver(server.Client(), logrus.WithField("test", t.Name()))
	_, err := driver.Run(context.Background(), Config{BaseURL: server.URL, Mode: "burst"})
	require.Error(t, err)
	assert.Zero(t, requests, "an invalid configuration must abort before any request is sent")
}

func TestSaturationRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	}))
	defer server.Close()

	duration := 300 * time.Millisecond
	config := Config{
		BaseURL:     server.URL,
		Endpoints:   []string{"/a", "/b"},
		Mode:        ModeSaturation,
		Concurrency: 4,
		Duration:    duration.String(),
	}
	driver := NewDriver(server.Client(), logrus.WithField("test", t.Name()))
	started := time.Now()
	run, err := driver.Run(context.Background(), config)
	require.NoError(t, err)

	require.NotEmpty(t, run.Samples, "a reachable endpoint must yield at least one sample")
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.Finished.Before(run.Started))

	deadline := started.Add(duration)
	for _, sample := range run.Samples {
		assert.True(t, sample.IssuedAt.Before(deadline), "no request may be dispatched after the deadline")
		assert.False(t, sample.Failed(), "sample for %s unexpectedly failed", sample.Path)
		assert.Positive(t, sample.Bytes)
	}
}

func TestSaturationRecordsConnectionFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	// Closing up front turns every request into a connection failure.
	server.Close()

	config := Config{
		BaseURL:     server.URL,
		Endpoints:   []string{"/healthy"},
		Mode:        ModeSaturation,
		Concurrency: 2,
		Duration:    "100ms",
	}
	driver := NewDriver(&http.Client{Timeout: time.Second}, logrus.WithField("test", t.Name()))
	run, err := driver.Run(context.Background(), config)
	require.NoError(t, err, "connection-level failures must not abort the run")

	require.NotEmpty(t, run.Samples)
	for _, sample := range run.Samples {
		assert.Equal(t, FailureConnection, sample.Failure)
		assert.True(t, sample.Failed())
	}
}

func TestTrickleRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	}))
	defer server.Close()

	config := Config{
		BaseURL:      server.URL,
		Endpoints:    []string{"/healthy"},
		Mode:         ModeTrickle,
		RequestCount: 3,
		Spacing:      "20ms",
	}
	driver := NewDriver(server.Client(), logrus.WithField("test", t.Name()))
	started := time.Now()
	run, err := driver.Run(context.Background(), config)
	require.NoError(t, err)

	assert.Len(t, run.Samples, 3)
	assert.GreaterOrEqual(t, time.Since(started), 40*time.Millisecond, "dispatches must be spaced apart")
}

func TestRunCancellationYieldsWellFormedRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	config := Config{
		BaseURL:     server.URL,
		Endpoints:   []string{"/healthy"},
		Mode:        ModeSaturation,
		Concurrency: 2,
		Duration:    "10s",
	}
	driver := NewDriver(server.Client(), logrus.WithField("test", t.Name()))
	started := time.Now()
	run, err := driver.Run(ctx, config)
	require.NoError(t, err, "cancellation must still yield a sealed run")
	assert.Less(t, time.Since(started), 5*time.Second, "cancellation must stop dispatching early")
	for _, sample := range run.Samples {
		assert.NotZero(t, sample.IssuedAt)
	}
}

func TestEndpointPicker(t *testing.T) {
	config := Config{Endpoints: []string{"/a", "/b", "/c"}, FixedOrder: true}
	next := newEndpointPicker(config, rand.New(rand.NewSource(1)))
	var picked []string
	for i := 0; i < 7; i++ {
		picked = append(picked, next())
	}
	assert.Equal(t, []string{"/a", "/b", "/c", "/a", "/b", "/c", "/a"}, picked)

	config.FixedOrder = false
	next = newEndpointPicker(config, rand.New(rand.NewSource(1)))
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[next()] = true
	}
	assert.Len(t, seen, 3, "uniform random selection should reach every endpoint")
}
