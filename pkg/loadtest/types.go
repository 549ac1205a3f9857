package loadtest

import (
	"time"
)

// FailureKind classifies connection-level failures that never produced an
// HTTP status code.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureConnection FailureKind = "connection"
	FailureTimeout    FailureKind = "timeout"
)

// RequestSample records one request issued against the target. Samples are
// immutable once recorded and owned by the Run that produced them.
type RequestSample struct {
	Path     string    `json:"path"`
	Method   string    `json:"method"`
	IssuedAt time.Time `json:"issuedAt"`

	// Latency is measured from dispatch to full response receipt, including
	// failed requests.
	Latency    time.Duration `json:"latency"`
	StatusCode int           `json:"statusCode,omitempty"`
	Failure    FailureKind   `json:"failure,omitempty"`
	Bytes      int64         `json:"bytes"`
}

// Failed reports whether this sample counts toward the error rate: either a
// connection-level failure or a non-success HTTP status.
func (s RequestSample) Failed() bool {
	return s.Failure != FailureNone || s.StatusCode >= 400
}

// Run is a sealed load test run. It is created by Driver.Run and never
// mutated afterwards. Sample order carries no meaning.
type Run struct {
	ID       string          `json:"id"`
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
	Config   Config          `json:"config"`
	Samples  []RequestSample `json:"samples"`
}

// Duration is the wall-clock duration of the run.
func (r *Run) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}
