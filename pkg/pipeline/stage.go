package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/perfgate/perfgate/pkg/gate"
	"github.com/perfgate/perfgate/pkg/loadtest"
	"github.com/perfgate/perfgate/pkg/metrics"
)

// Outcome is the terminal result of one stage in one run, assigned exactly
// once.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRanOK     Outcome = "ran-ok"
	OutcomeRanFailed Outcome = "ran-failed"
)

// Stage is one node of the static execution graph. Guard is evaluated
// exactly once, after every dependency has settled; nil means
// unconditional. A false guard settles the stage as skipped without
// running the action.
type Stage struct {
	Name      string
	DependsOn []string
	Guard     func(run *RunContext) bool
	Action    func(ctx context.Context, run *RunContext) error
}

// RunContext is the explicit per-run state threaded through the
// orchestrator and passed to every stage invocation. There is no ambient
// pipeline state.
type RunContext struct {
	Revision string
	Actor    string

	// Populated by the performance-gate stage. Decision stays nil when
	// the gate could not be evaluated at all.
	LoadTestRun *loadtest.Run
	Aggregate   metrics.Aggregate
	Decision    *gate.Decision

	outcomes map[string]Outcome
}

func NewRunContext(revision, actor string) *RunContext {
	return &RunContext{
		Revision: revision,
		Actor:    actor,
		outcomes: map[string]Outcome{},
	}
}

// Outcome returns the terminal outcome of the named stage, if it settled.
func (r *RunContext) Outcome(stage string) (Outcome, bool) {
	outcome, settled := r.outcomes[stage]
	return outcome, settled
}

// Outcomes returns a copy of all settled stage outcomes.
func (r *RunContext) Outcomes() map[string]Outcome {
	copied := make(map[string]Outcome, len(r.outcomes))
	for stage, outcome := range r.outcomes {
		copied[stage] = outcome
	}
	return copied
}

func (r *RunContext) settle(stage string, outcome Outcome) error {
	if previous, settled := r.outcomes[stage]; settled {
		return fmt.Errorf("stage %s already settled as %s, refusing to overwrite with %s", stage, previous, outcome)
	}
	r.outcomes[stage] = outcome
	return nil
}

// DeploymentMarker is the append-only record of one deployment event,
// emitted exactly once when a deploy stage reaches ran-ok.
type DeploymentMarker struct {
	Revision    string    `json:"revision"`
	Actor       string    `json:"actor"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Environment string    `json:"environment"`
}

// MarkerRecorder appends deployment markers. Implementations must never
// mutate previously recorded markers.
type MarkerRecorder interface {
	Record(marker DeploymentMarker) error
}

// MemoryRecorder keeps markers in memory, for tests and dry runs.
type MemoryRecorder struct {
	markers []DeploymentMarker
}

func (r *MemoryRecorder) Record(marker DeploymentMarker) error {
	r.markers = append(r.markers, marker)
	return nil
}

func (r *MemoryRecorder) Markers() []DeploymentMarker {
	return r.markers
}

const openAppendFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY

// FileRecorder appends markers as JSON lines to a file.
type FileRecorder struct {
	fs   afero.Fs
	path string
}

func NewFileRecorder(fs afero.Fs, path string) *FileRecorder {
	return &FileRecorder{fs: fs, path: path}
}

func (r *FileRecorder) Record(marker DeploymentMarker) error {
	line, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("could not marshal deployment marker: %w", err)
	}
	file, err := r.fs.OpenFile(r.path, openAppendFlags, 0o644)
	if err != nil {
		return fmt.Errorf("could not open deployment marker log: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("could not append deployment marker: %w", err)
	}
	return nil
}
