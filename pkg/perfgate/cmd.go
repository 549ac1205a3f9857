package perfgate

import (
	"github.com/spf13/cobra"

	"github.com/perfgate/perfgate/pkg/loadtest"
	"github.com/perfgate/perfgate/pkg/pipeline"
	"github.com/perfgate/perfgate/pkg/report"
)

// Overall usage
// 1. serve the target fixture (or point the tool at a real service)
// 2. run-pipeline per revision or on a schedule: it benchmarks the target,
//    evaluates the threshold rule and drives the staged deployment graph
//    off the resulting decision
// 3. load-test and weekly-report exist standalone for ad-hoc measurement
//    and the windowed transaction report

func NewPerfGateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:  "perf-gate",
		Long: `Commands associated with performance-gated deployments`,
	}

	cmd.AddCommand(loadtest.NewLoadTestCommand())
	cmd.AddCommand(pipeline.NewRunPipelineCommand())
	cmd.AddCommand(report.NewWeeklyReportCommand())

	return cmd
}
