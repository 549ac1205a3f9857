// The target fixture is the demo service the workload driver is pointed
// at: a handful of GET endpoints with distinct latency and failure
// profiles.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"sigs.k8s.io/prow/pkg/interrupts"
	"sigs.k8s.io/prow/pkg/logrusutil"

	"github.com/perfgate/perfgate/pkg/targetfixture"
)

type options struct {
	logLevel    string
	port        int
	delay       time.Duration
	gracePeriod time.Duration
}

func gatherOptions() (options, error) {
	o := options{}
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&o.logLevel, "log-level", "info", "Level at which to log output.")
	fs.IntVar(&o.port, "port", 8090, "Port to run the server on")
	fs.DurationVar(&o.delay, "delay", 2*time.Second, "Response delay of the slow endpoint")
	fs.DurationVar(&o.gracePeriod, "gracePeriod", time.Second*10, "Grace period for server shutdown")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return o, fmt.Errorf("failed to parse flags: %w", err)
	}
	return o, nil
}

func validateOptions(o options) error {
	_, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	if o.delay < 0 {
		return fmt.Errorf("--delay must not be negative")
	}
	return nil
}

func main() {
	logrusutil.ComponentInit()
	o, err := gatherOptions()
	if err != nil {
		logrus.WithError(err).Fatal("failed to gather options")
	}
	if err := validateOptions(o); err != nil {
		logrus.WithError(err).Fatal("invalid options")
	}
	level, _ := logrus.ParseLevel(o.logLevel)
	logrus.SetLevel(level)

	logger := logrus.WithField("component", "target-fixture")
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", o.port),
		Handler: targetfixture.NewHandler(logger, o.delay),
	}
	logger.WithField("port", o.port).Info("Serving target fixture.")
	interrupts.ListenAndServe(server, o.gracePeriod)
	interrupts.WaitForGracefulShutdown()
}
