package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"k8s.io/utils/clock"

	"github.com/perfgate/perfgate/pkg/gate"
	"github.com/perfgate/perfgate/pkg/loadtest"
	"github.com/perfgate/perfgate/pkg/metrics"
)

const (
	StagePerformanceGate  = "performance-gate"
	StageDeployStaging    = "deploy-staging"
	StageDeployProduction = "deploy-production"
	StageNotifyIssue      = "notify-performance-issue"

	EnvironmentStaging    = "staging"
	EnvironmentProduction = "production"
)

func markerDescription(environment string) string {
	return fmt.Sprintf("automated performance-gated deployment to %s", environment)
}

// Deployer performs the actual deployment of a revision to an environment.
type Deployer interface {
	Deploy(ctx context.Context, environment, revision string) error
}

// Notifier surfaces a failed gate to operators. Channel integrations live
// outside this module, the default just logs.
type Notifier interface {
	NotifyPerformanceIssue(ctx context.Context, run *RunContext) error
}

// LogDeployer stands in for a real deploy mechanism and only logs.
type LogDeployer struct {
	Logger *logrus.Entry
}

func (d *LogDeployer) Deploy(_ context.Context, environment, revision string) error {
	d.Logger.WithFields(logrus.Fields{"environment": environment, "revision": revision}).Info("Deploying revision.")
	return nil
}

// LogNotifier logs the failed decision instead of paging anyone.
type LogNotifier struct {
	Logger *logrus.Entry
}

func (n *LogNotifier) NotifyPerformanceIssue(_ context.Context, run *RunContext) error {
	fields := logrus.Fields{"revision": run.Revision}
	if run.Decision != nil {
		fields["metric"] = run.Decision.Rule.Metric
		fields["observed"] = run.Decision.Observed
		fields["threshold"] = run.Decision.Rule.Threshold
	}
	n.Logger.WithFields(fields).Warn("Performance gate did not pass.")
	return nil
}

// ReferenceTopology wires the fixed four-stage deployment graph. The shape
// is static configuration, not user-redefinable.
type ReferenceTopology struct {
	Driver     *loadtest.Driver
	LoadConfig loadtest.Config
	Rule       gate.Rule

	Deployer Deployer
	Notifier Notifier
	Markers  MarkerRecorder
	Clock    clock.PassiveClock
}

// Graph builds the reference DAG:
//
//	performance-gate --> deploy-staging --> deploy-production
//	        |                                      ^
//	        +--------------------------------------+ (guard: decision pass AND staging ran-ok)
//	        +--> notify-performance-issue            (guard: decision fail)
//
// deploy-staging is deliberately unconditional: staging is informational
// and not quality-gated, so a failing gate still deploys there while the
// notify branch fires.
func (t *ReferenceTopology) Graph() (*Graph, error) {
	return NewGraph(
		Stage{
			Name:   StagePerformanceGate,
			Action: t.runGate,
		},
		Stage{
			Name:      StageDeployStaging,
			DependsOn: []string{StagePerformanceGate},
			Action:    t.deployTo(EnvironmentStaging),
		},
		Stage{
			Name:      StageDeployProduction,
			DependsOn: []string{StagePerformanceGate, StageDeployStaging},
			Guard: func(run *RunContext) bool {
				staging, _ := run.Outcome(StageDeployStaging)
				return run.Decision.Passed() && staging == OutcomeRanOK
			},
			Action: t.deployTo(EnvironmentProduction),
		},
		Stage{
			Name:      StageNotifyIssue,
			DependsOn: []string{StagePerformanceGate},
			// A missing decision means the gate could not be evaluated;
			// production stays closed either way, so treat it like a
			// failing decision here and page.
			Guard: func(run *RunContext) bool {
				return !run.Decision.Passed()
			},
			Action: func(ctx context.Context, run *RunContext) error {
				return t.Notifier.NotifyPerformanceIssue(ctx, run)
			},
		},
	)
}

// runGate drives the workload, aggregates the samples and evaluates the
// threshold rule. The decision is written to the run context exactly once,
// before any guarded stage can observe it. An evaluation fault leaves the
// decision nil and fails this stage, which is a configuration error, not a
// threshold breach.
func (t *ReferenceTopology) runGate(ctx context.Context, run *RunContext) error {
	loadTestRun, err := t.Driver.Run(ctx, t.LoadConfig)
	if err != nil {
		return err
	}
	run.LoadTestRun = loadTestRun

	aggregate, err := metrics.FromRun(loadTestRun)
	if err != nil {
		return err
	}
	run.Aggregate = aggregate

	decision, err := gate.Evaluate(aggregate, t.Rule, t.Clock)
	if err != nil {
		return err
	}
	run.Decision = decision
	return nil
}

func (t *ReferenceTopology) deployTo(environment string) func(ctx context.Context, run *RunContext) error {
	return func(ctx context.Context, run *RunContext) error {
		if err := t.Deployer.Deploy(ctx, environment, run.Revision); err != nil {
			return err
		}
		return t.Markers.Record(DeploymentMarker{
			Revision:    run.Revision,
			Actor:       run.Actor,
			Description: markerDescription(environment),
			Timestamp:   t.Clock.Now(),
			Environment: environment,
		})
	}
}
