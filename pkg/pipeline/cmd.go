package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	cron "github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"sigs.k8s.io/yaml"

	"k8s.io/utils/clock"

	"github.com/perfgate/perfgate/pkg/gate"
	"github.com/perfgate/perfgate/pkg/loadtest"
	"github.com/perfgate/perfgate/pkg/report"
)

// Config is the on-disk pipeline configuration: the load test to run and
// the threshold rule gating production. The stage topology itself is fixed
// and not configurable.
type Config struct {
	LoadTest loadtest.Config `json:"loadTest"`
	Rule     gate.Rule       `json:"rule"`
}

type RunPipelineFlags struct {
	ConfigPath  string
	Revision    string
	Actor       string
	ReportPath  string
	MarkersPath string
	Schedule    string
	Timeout     time.Duration
}

func NewRunPipelineFlags() *RunPipelineFlags {
	return &RunPipelineFlags{
		Actor:       "perf-gate",
		ReportPath:  "performance-report.txt",
		MarkersPath: "deployment-markers.jsonl",
		Timeout:     30 * time.Second,
	}
}

func (f *RunPipelineFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.ConfigPath, "config", f.ConfigPath, "Path to the pipeline configuration YAML")
	fs.StringVar(&f.Revision, "revision", f.Revision, "The code revision this pipeline run deploys")
	fs.StringVar(&f.Actor, "actor", f.Actor, "The actor recorded on deployment markers")
	fs.StringVar(&f.ReportPath, "report-path", f.ReportPath, "Where to write the rendered performance report")
	fs.StringVar(&f.MarkersPath, "markers-path", f.MarkersPath, "Where to append deployment markers as JSON lines")
	fs.StringVar(&f.Schedule, "schedule", f.Schedule, "Optional cron expression. When set, the pipeline runs on that schedule instead of once.")
	fs.DurationVar(&f.Timeout, "request-timeout", f.Timeout, "Client-side timeout for a single load test request")
}

func (f *RunPipelineFlags) Validate() error {
	if f.ConfigPath == "" {
		return fmt.Errorf("missing --config")
	}
	if f.Revision == "" {
		return fmt.Errorf("missing --revision")
	}
	if f.Schedule != "" {
		if _, err := cron.ParseStandard(f.Schedule); err != nil {
			return fmt.Errorf("invalid --schedule: %w", err)
		}
	}
	return nil
}

func (f *RunPipelineFlags) ToOptions() (*RunPipelineOptions, error) {
	fs := afero.NewOsFs()
	raw, err := afero.ReadFile(fs, f.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("could not read pipeline configuration: %w", err)
	}
	config := &Config{}
	if err := yaml.UnmarshalStrict(raw, config); err != nil {
		return nil, fmt.Errorf("could not parse pipeline configuration: %w", err)
	}
	if err := config.LoadTest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid load test configuration: %w", err)
	}
	if err := config.Rule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid threshold rule: %w", err)
	}

	logger := logrus.WithField("component", "run-pipeline")
	return &RunPipelineOptions{
		topology: &ReferenceTopology{
			Driver:     loadtest.NewDriver(&http.Client{Timeout: f.Timeout}, logger),
			LoadConfig: config.LoadTest,
			Rule:       config.Rule,
			Deployer:   &LogDeployer{Logger: logger},
			Notifier:   &LogNotifier{Logger: logger},
			Markers:    NewFileRecorder(fs, f.MarkersPath),
			Clock:      clock.RealClock{},
		},
		fs:         fs,
		revision:   f.Revision,
		actor:      f.Actor,
		reportPath: f.ReportPath,
		schedule:   f.Schedule,
		clock:      clock.RealClock{},
		logger:     logger,
	}, nil
}

type RunPipelineOptions struct {
	topology   *ReferenceTopology
	fs         afero.Fs
	revision   string
	actor      string
	reportPath string
	schedule   string
	clock      clock.PassiveClock
	logger     *logrus.Entry
}

// Run executes the pipeline once, or on the configured cron schedule. The
// returned error reflects real stage execution failures only, guard skips
// are normal outcomes.
func (o *RunPipelineOptions) Run(ctx context.Context) error {
	if o.schedule == "" {
		return o.runOnce(ctx)
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(o.schedule, func() {
		if err := o.runOnce(ctx); err != nil {
			o.logger.WithError(err).Error("Scheduled pipeline run failed.")
		}
	}); err != nil {
		return fmt.Errorf("could not schedule pipeline: %w", err)
	}
	o.logger.WithField("schedule", o.schedule).Info("Running pipeline on a schedule.")
	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	return nil
}

func (o *RunPipelineOptions) runOnce(ctx context.Context) error {
	graph, err := o.topology.Graph()
	if err != nil {
		return err
	}
	run := NewRunContext(o.revision, o.actor)
	executionErr := graph.Execute(ctx, run, o.logger)

	document := report.Render(run.LoadTestRun, run.Aggregate, run.Decision, orderedOutcomes(run), o.clock)
	if err := afero.WriteFile(o.fs, o.reportPath, []byte(document), 0o644); err != nil {
		return fmt.Errorf("could not write performance report: %w", err)
	}
	o.logger.WithField("path", o.reportPath).Info("Wrote performance report.")

	return executionErr
}

// orderedOutcomes lists the outcomes in the fixed topology order so the
// rendered report is reproducible.
func orderedOutcomes(run *RunContext) []report.StageOutcome {
	var outcomes []report.StageOutcome
	for _, stage := range []string{StagePerformanceGate, StageDeployStaging, StageDeployProduction, StageNotifyIssue} {
		if outcome, settled := run.Outcome(stage); settled {
			outcomes = append(outcomes, report.StageOutcome{Stage: stage, Outcome: string(outcome)})
		}
	}
	return outcomes
}

func NewRunPipelineCommand() *cobra.Command {
	f := NewRunPipelineFlags()

	cmd := &cobra.Command{
		Use:          "run-pipeline",
		Long:         `Execute the performance-gated deployment pipeline: benchmark the target, evaluate the threshold rule and drive the staged deployment graph off the decision.`,
		SilenceUsage: true,

		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.Validate(); err != nil {
				logrus.WithError(err).Fatal("Flags are invalid")
			}
			o, err := f.ToOptions()
			if err != nil {
				logrus.WithError(err).Fatal("Failed to build runtime options")
			}
			return o.Run(context.Background())
		},
	}

	f.BindFlags(cmd.Flags())

	return cmd
}
