package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type LoadTestFlags struct {
	BaseURL      string
	Endpoints    []string
	Mode         string
	Concurrency  int
	Duration     string
	RequestCount int
	Spacing      string
	FixedOrder   bool
	Timeout      time.Duration
	Output       string
}

func NewLoadTestFlags() *LoadTestFlags {
	return &LoadTestFlags{
		Mode:        string(ModeSaturation),
		Concurrency: 10,
		Duration:    "30s",
		Timeout:     30 * time.Second,
	}
}

func (f *LoadTestFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.BaseURL, "base-url", f.BaseURL, "Base address of the target service, like http://localhost:8080")
	fs.StringSliceVar(&f.Endpoints, "endpoint", f.Endpoints, "Endpoint path to hit, repeatable. At least one is required.")
	fs.StringVar(&f.Mode, "mode", f.Mode, fmt.Sprintf("Workload mode, either %s or %s", ModeTrickle, ModeSaturation))
	fs.IntVar(&f.Concurrency, "concurrency", f.Concurrency, "Number of concurrent workers in saturation mode")
	fs.StringVar(&f.Duration, "duration", f.Duration, "Wall-clock duration of a saturation run, like 30s")
	fs.IntVar(&f.RequestCount, "request-count", f.RequestCount, "Total number of requests in trickle mode")
	fs.StringVar(&f.Spacing, "spacing", f.Spacing, "Delay between dispatches in trickle mode, like 500ms")
	fs.BoolVar(&f.FixedOrder, "fixed-order", f.FixedOrder, "Cycle through endpoints in order instead of choosing uniformly at random")
	fs.DurationVar(&f.Timeout, "request-timeout", f.Timeout, "Client-side timeout for a single request")
	fs.StringVar(&f.Output, "output", f.Output, "Optional path to write the sealed run as JSON")
}

func (f *LoadTestFlags) Validate() error {
	config := f.config()
	return config.Validate()
}

func (f *LoadTestFlags) config() Config {
	return Config{
		BaseURL:      f.BaseURL,
		Endpoints:    f.Endpoints,
		Mode:         Mode(f.Mode),
		Concurrency:  f.Concurrency,
		Duration:     f.Duration,
		RequestCount: f.RequestCount,
		Spacing:      f.Spacing,
		FixedOrder:   f.FixedOrder,
	}
}

func (f *LoadTestFlags) ToOptions() *LoadTestOptions {
	logger := logrus.WithField("component", "load-test")
	return &LoadTestOptions{
		config: f.config(),
		driver: NewDriver(&http.Client{Timeout: f.Timeout}, logger),
		fs:     afero.NewOsFs(),
		output: f.Output,
		logger: logger,
	}
}

type LoadTestOptions struct {
	config Config
	driver *Driver
	fs     afero.Fs
	output string
	logger *logrus.Entry
}

func (o *LoadTestOptions) Run(ctx context.Context) error {
	run, err := o.driver.Run(ctx, o.config)
	if err != nil {
		return err
	}
	if o.output == "" {
		return nil
	}
	serialized, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal run: %w", err)
	}
	if err := afero.WriteFile(o.fs, o.output, serialized, 0o644); err != nil {
		return fmt.Errorf("could not write run to %s: %w", o.output, err)
	}
	o.logger.WithField("path", o.output).Info("Wrote sealed run.")
	return nil
}

func NewLoadTestCommand() *cobra.Command {
	f := NewLoadTestFlags()

	cmd := &cobra.Command{
		Use:          "load-test",
		Long:         `Drive a workload against the target service and record one sample per request.`,
		SilenceUsage: true,

		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.Validate(); err != nil {
				logrus.WithError(err).Fatal("Flags are invalid")
			}
			return f.ToOptions().Run(context.Background())
		},
	}

	f.BindFlags(cmd.Flags())

	return cmd
}
