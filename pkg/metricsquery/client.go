// Package metricsquery talks to the external metrics query service that
// serves windowed aggregates over previously recorded transactions. The
// service is an opaque collaborator, only its response shape matters here:
// a single scalar, or a list of {facet, value} pairs.
package metricsquery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// Query selects a windowed aggregate: the metric to read, the target
// identity to filter on, the trailing time window and, for faceted queries,
// the attribute to group by.
type Query struct {
	Metric string        `json:"metric"`
	Target string        `json:"target"`
	Window time.Duration `json:"-"`
	Facet  string        `json:"facet,omitempty"`

	WindowSeconds int64 `json:"windowSeconds"`
}

// FacetValue is one row of a faceted query result.
type FacetValue struct {
	Facet string  `json:"name"`
	Value float64 `json:"value"`
}

type queryResponse struct {
	Value  *float64     `json:"value,omitempty"`
	Facets []FacetValue `json:"facets,omitempty"`
}

// Scalar wraps a scalar query result so that threshold rules can evaluate
// it through the same metric lookup used for freshly aggregated runs. No
// additional statistics are computed on this path.
type Scalar struct {
	Name  string
	Value float64
}

func (s Scalar) Metric(name string) (float64, bool) {
	if name != s.Name {
		return 0, false
	}
	return s.Value, true
}

type Client interface {
	Scalar(ctx context.Context, query Query) (Scalar, error)
	Facets(ctx context.Context, query Query) ([]FacetValue, error)
}

func NewClient(address, apiKey string) Client {
	return client{address: address, apiKey: apiKey}
}

type client struct {
	address string
	apiKey  string
}

func (c client) Scalar(ctx context.Context, query Query) (Scalar, error) {
	response, err := c.run(ctx, query)
	if err != nil {
		return Scalar{}, err
	}
	if response.Value == nil {
		return Scalar{}, fmt.Errorf("metrics query for %s returned no scalar value", query.Metric)
	}
	return Scalar{Name: query.Metric, Value: *response.Value}, nil
}

func (c client) Facets(ctx context.Context, query Query) ([]FacetValue, error) {
	if query.Facet == "" {
		return nil, fmt.Errorf("faceted metrics query for %s is missing a facet attribute", query.Metric)
	}
	response, err := c.run(ctx, query)
	if err != nil {
		return nil, err
	}
	return response.Facets, nil
}

func (c client) run(ctx context.Context, query Query) (*queryResponse, error) {
	if query.Window > 0 {
		query.WindowSeconds = int64(query.Window / time.Second)
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("could not marshal metrics query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(c.address, "/")+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Query-Key", c.apiKey)
	}
	raw, err := doRequest(req)
	if err != nil {
		return nil, err
	}
	response := &queryResponse{}
	if err := json.Unmarshal(raw, response); err != nil {
		return nil, fmt.Errorf("could not parse metrics query response: %w", err)
	}
	return response, nil
}

type adapter struct{}

func (a adapter) format(s string, i ...interface{}) string {
	builder := strings.Builder{}
	builder.WriteString(s)
	for _, x := range i {
		builder.WriteString(" ")
		builder.WriteString(fmt.Sprintf("%v", x))
	}
	return builder.String()
}

func (a adapter) Error(s string, i ...interface{}) {
	logrus.Error(a.format(s, i...))
}

func (a adapter) Info(s string, i ...interface{}) {
	logrus.Info(a.format(s, i...))
}

func (a adapter) Debug(s string, i ...interface{}) {
	logrus.Debug(a.format(s, i...))
}

func (a adapter) Warn(s string, i ...interface{}) {
	logrus.Warn(a.format(s, i...))
}

var _ retryablehttp.LeveledLogger = adapter{}

func doRequest(req *http.Request) ([]byte, error) {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 5
	retryClient.Logger = adapter{}
	client := retryClient.StandardClient()

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request to the metrics query service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var responseBody string
		if data, err := io.ReadAll(resp.Body); err != nil {
			logrus.WithError(err).Warn("Failed to read response body from the metrics query service.")
		} else {
			responseBody = string(data)
		}
		return nil, fmt.Errorf("got unexpected http %d status code from the metrics query service: %s", resp.StatusCode, responseBody)
	}
	return io.ReadAll(resp.Body)
}
