package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/phase-orchestrator/internal/domain"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "phase-orch",
		Short: "Phase Orchestrator - autonomous multi-phase build pipeline",
		Long: `Phase Orchestrator drives a coding agent through a fixed sequence of
phases. Each phase gets an isolated workspace and branch, a task list,
a review request with CI supervision, and a merge back into trunk.
A failing phase is skipped and the run continues with the next one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// errAllSkipped signals the run-level failure exit code.
var errAllSkipped = errors.New("every attempted phase was skipped")

// version is stamped at build time via -ldflags.
var version = "dev"

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	err := rootCmd.Execute()
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInterrupted):
		os.Exit(130)
	case errors.Is(err, errAllSkipped):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
