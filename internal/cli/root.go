// Package cli implements the cadre command-line interface.
package cli

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	_ "github.com/randalmurphal/cadre/internal/hosting/github"
	_ "github.com/randalmurphal/cadre/internal/hosting/gitlab"
)

var (
	cfgFile   string
	logFormat string
	noColor   bool
	logger    *slog.Logger
)

// Command group IDs.
const (
	groupCore = "core"
	groupOps  = "ops"
)

var rootCmd = &cobra.Command{
	Use:   "cadre",
	Short: "Autonomous issue-to-pull-request orchestration engine",
	Long: `cadre drives tracker issues through five phases (Analysis, Planning,
Implementation, Integration Verification, Pull Request) by delegating each
phase to an external AI coding agent running in an isolated git worktree.

Quick start:
  cadre run --issue 42        Run issue 42 through the full pipeline
  cadre status                Show checkpoint state for in-progress issues
  cadre worktrees             List active worktrees`,
	SilenceUsage:      true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return setupLogger() },
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "project config file (default .cadre/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format: text or json")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored table output")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupCore, Title: "Core Commands:"},
		&cobra.Group{ID: groupOps, Title: "Operations:"},
	)

	addCmd(newRunCmd(), groupCore)
	addCmd(newStatusCmd(), groupCore)
	addCmd(newResetCmd(), groupOps)
	addCmd(newWorktreesCmd(), groupOps)
	addCmd(newAgentsCmd(), groupOps)
}

func addCmd(cmd *cobra.Command, groupID string) {
	cmd.GroupID = groupID
	rootCmd.AddCommand(cmd)
}

// setupLogger configures the package-level logger from --log-format before
// any subcommand runs. It's driven off PersistentPreRunE rather than
// cobra.OnInitialize since logger construction needs no viper config file
// lookup of its own.
func setupLogger() error {
	var handler slog.Handler
	switch logFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, nil)
	default:
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	logger = slog.New(handler)
	slog.SetDefault(logger)
	return nil
}

// ansiColor wraps s in the given ANSI escape code when color output is
// appropriate: stdout is a terminal and --no-color wasn't passed.
func ansiColor(code, s string) string {
	if noColor || !isatty.IsTerminal(os.Stdout.Fd()) {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}
