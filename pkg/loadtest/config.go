package loadtest

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects the concurrency strategy for a run.
type Mode string

const (
	// ModeTrickle issues one request at a time with fixed spacing between
	// dispatches, producing background telemetry rather than stress.
	ModeTrickle Mode = "trickle"
	// ModeSaturation sustains a fixed number of concurrent workers for a
	// fixed wall-clock duration.
	ModeSaturation Mode = "saturation"
)

// Config describes one load test run. Duration and Spacing are accepted as
// strings in the forms understood by time.ParseDuration so that the same
// shape works for flags and YAML configuration.
type Config struct {
	BaseURL   string   `json:"baseURL"`
	Endpoints []string `json:"endpoints"`
	Mode      Mode     `json:"mode"`

	// Concurrency and Duration apply to saturation mode.
	Concurrency int    `json:"concurrency,omitempty"`
	Duration    string `json:"duration,omitempty"`

	// RequestCount and Spacing apply to trickle mode.
	RequestCount int    `json:"requestCount,omitempty"`
	Spacing      string `json:"spacing,omitempty"`

	// FixedOrder pins endpoint selection to a cycle through Endpoints in
	// order instead of the default uniform random choice.
	FixedOrder bool `json:"fixedOrder,omitempty"`

	parsedDuration time.Duration
	parsedSpacing  time.Duration
}

const defaultTrickleSpacing = 500 * time.Millisecond

// Validate checks the configuration and resolves the duration strings. A
// validation error aborts the run before any samples are collected.
func (c *Config) Validate() error {
	if len(c.BaseURL) == 0 {
		return fmt.Errorf("missing target base URL")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("target base URL %q must be an http(s) URL", c.BaseURL)
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint path is required")
	}
	for _, endpoint := range c.Endpoints {
		if !strings.HasPrefix(endpoint, "/") {
			return fmt.Errorf("endpoint path %q must start with a slash", endpoint)
		}
	}
	switch c.Mode {
	case ModeSaturation:
		if c.Concurrency < 1 {
			return fmt.Errorf("saturation mode requires a concurrency of at least 1, got %d", c.Concurrency)
		}
		if c.Duration == "" {
			return fmt.Errorf("saturation mode requires a duration")
		}
		parsed, err := time.ParseDuration(c.Duration)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		if parsed <= 0 {
			return fmt.Errorf("duration must be positive, got %s", parsed)
		}
		c.parsedDuration = parsed
	case ModeTrickle:
		if c.RequestCount < 1 {
			return fmt.Errorf("trickle mode requires a request count of at least 1, got %d", c.RequestCount)
		}
		c.parsedSpacing = defaultTrickleSpacing
		if c.Spacing != "" {
			parsed, err := time.ParseDuration(c.Spacing)
			if err != nil {
				return fmt.Errorf("invalid spacing: %w", err)
			}
			if parsed <= 0 {
				return fmt.Errorf("spacing must be positive, got %s", parsed)
			}
			c.parsedSpacing = parsed
		}
	default:
		return fmt.Errorf("unknown mode %q, valid values are: %s, %s", c.Mode, ModeTrickle, ModeSaturation)
	}

	return nil
}
