package report

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"k8s.io/utils/clock"

	"github.com/perfgate/perfgate/pkg/metricsquery"
)

type WeeklyReportFlags struct {
	Address    string
	APIKeyFile string
	Target     string
	Metric     string
	Facet      string
	Window     time.Duration
	Top        int
	Output     string
}

func NewWeeklyReportFlags() *WeeklyReportFlags {
	return &WeeklyReportFlags{
		Metric: "avg_duration",
		Facet:  "transaction",
		Window: 7 * 24 * time.Hour,
		Top:    10,
	}
}

func (f *WeeklyReportFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.Address, "address", f.Address, "Address of the metrics query service")
	fs.StringVar(&f.APIKeyFile, "api-key-file", f.APIKeyFile, "Optional path to a file holding the query service API key")
	fs.StringVar(&f.Target, "target", f.Target, "Target identity to filter the query on")
	fs.StringVar(&f.Metric, "metric", f.Metric, "Metric to query")
	fs.StringVar(&f.Facet, "facet", f.Facet, "Attribute to facet the query by")
	fs.DurationVar(&f.Window, "window", f.Window, "Trailing time window to query over")
	fs.IntVar(&f.Top, "top", f.Top, "Number of transactions to include")
	fs.StringVar(&f.Output, "output", f.Output, "Optional path to write the report to instead of stdout")
}

func (f *WeeklyReportFlags) Validate() error {
	if f.Address == "" {
		return fmt.Errorf("missing --address")
	}
	if f.Target == "" {
		return fmt.Errorf("missing --target")
	}
	if f.Window <= 0 {
		return fmt.Errorf("--window must be positive")
	}
	return nil
}

func (f *WeeklyReportFlags) ToOptions() (*WeeklyReportOptions, error) {
	var apiKey string
	if f.APIKeyFile != "" {
		raw, err := os.ReadFile(f.APIKeyFile)
		if err != nil {
			return nil, fmt.Errorf("could not read API key: %w", err)
		}
		apiKey = strings.TrimSpace(string(raw))
	}
	return &WeeklyReportOptions{
		client: metricsquery.NewClient(f.Address, apiKey),
		query: metricsquery.Query{
			Metric: f.Metric,
			Target: f.Target,
			Window: f.Window,
			Facet:  f.Facet,
		},
		top:    f.Top,
		fs:     afero.NewOsFs(),
		output: f.Output,
		clock:  clock.RealClock{},
	}, nil
}

type WeeklyReportOptions struct {
	client metricsquery.Client
	query  metricsquery.Query
	top    int
	fs     afero.Fs
	output string
	clock  clock.PassiveClock
}

func (o *WeeklyReportOptions) Run(ctx context.Context) error {
	facets, err := o.client.Facets(ctx, o.query)
	if err != nil {
		return err
	}
	document := RenderWeekly(facets, o.top, o.query.Window, o.clock)
	if o.output == "" {
		fmt.Print(document)
		return nil
	}
	if err := afero.WriteFile(o.fs, o.output, []byte(document), 0o644); err != nil {
		return fmt.Errorf("could not write weekly report: %w", err)
	}
	return nil
}

func NewWeeklyReportCommand() *cobra.Command {
	f := NewWeeklyReportFlags()

	cmd := &cobra.Command{
		Use:          "weekly-report",
		Long:         `Render the weekly top-N transaction report from the metrics query service.`,
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
