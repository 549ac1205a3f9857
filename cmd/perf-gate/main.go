package main

import (
	goflag "flag"
	"os"

	"github.com/spf13/pflag"

	"github.com/perfgate/perfgate/pkg/perfgate"
)

func main() {
	cmd := perfgate.NewPerfGateCommand()
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
