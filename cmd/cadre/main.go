// Package main provides the entry point for the cadre CLI.
package main

import (
	"errors"
	"os"

	"github.com/randalmurphal/cadre/internal/cli"
	cadreerrors "github.com/randalmurphal/cadre/internal/errors"
)

func main() {
	err := cli.Execute()
	if err == nil {
		os.Exit(0)
	}

	var runtimeInterrupted *cadreerrors.RuntimeInterrupted
	if errors.As(err, &runtimeInterrupted) {
		if runtimeInterrupted.ExitCode != 0 {
			os.Exit(runtimeInterrupted.ExitCode)
		}
		os.Exit(130)
	}

	var pipelineErr *cadreerrors.PipelineError
	if errors.As(err, &pipelineErr) {
		os.Exit(pipelineErr.Category().ExitCode())
	}

	os.Exit(1)
}
