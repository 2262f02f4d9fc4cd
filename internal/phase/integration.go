package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// IntegrationResult is Phase 4's artifact: the report path and whether any
// command still shows a regression after exhausting fix rounds.
type IntegrationResult struct {
	ReportPath  string
	Regressions bool
}

// commandOutcome is one named command's final pass/fail state plus the
// failure lines used for baseline diffing.
type commandOutcome struct {
	name     string
	ran      bool
	passed   bool
	failures []string
	output   string
	diffable bool // only build/test are diffed against baseline; lint is reported only
}

// RunIntegration reads the Phase 1 baseline, runs install/build/test/lint
// in order, retries build/test regressions through fix-surgeon up to
// maxIntegrationFixRounds, and writes integration-report.md.
func RunIntegration(ctx context.Context, env *Env) (*IntegrationResult, error) {
	baseline := loadBaseline(env.WorktreePath)
	timeout := time.Duration(env.Options.Agent.TimeoutSeconds) * time.Second

	var outcomes []commandOutcome

	if len(env.Options.Commands.Install) > 0 {
		outcomes = append(outcomes, env.runOnce(ctx, "install", env.Options.Commands.Install, timeout, false))
	}

	if env.Options.BuildVerification && len(env.Options.Commands.Build) > 0 {
		outcomes = append(outcomes, env.runWithFixRounds(ctx, "build", env.Options.Commands.Build, baseline.BuildFailures, timeout))
	}

	if env.Options.TestVerification && len(env.Options.Commands.Test) > 0 {
		outcomes = append(outcomes, env.runWithFixRounds(ctx, "test", env.Options.Commands.Test, baseline.TestFailures, timeout))
	}

	if len(env.Options.Commands.Lint) > 0 {
		outcomes = append(outcomes, env.runOnce(ctx, "lint", env.Options.Commands.Lint, timeout, false))
	}

	reportPath := env.artifact("integration-report.md")
	body, regressions := renderIntegrationReport(outcomes, baseline)
	if err := writeTextFile(reportPath, body); err != nil {
		return nil, err
	}

	return &IntegrationResult{ReportPath: reportPath, Regressions: regressions}, nil
}

func (e *Env) runOnce(ctx context.Context, name string, argv []string, timeout time.Duration, diffable bool) commandOutcome {
	result, err := RunCommand(ctx, e.WorktreePath, argv, timeout)
	if err != nil {
		return commandOutcome{name: name, ran: true, passed: false, output: err.Error()}
	}
	outcome := commandOutcome{name: name, ran: true, passed: result.Passed(), output: result.Stdout + result.Stderr, diffable: diffable}
	if !outcome.passed {
		outcome.failures = splitLines(outcome.output)
	}
	return outcome
}

// runWithFixRounds runs a diffable command (build/test), and while its
// failure set contains lines absent from the baseline (a regression),
// launches fix-surgeon and re-runs the same single command, up to
// maxIntegrationFixRounds rounds.
func (e *Env) runWithFixRounds(ctx context.Context, name string, argv []string, baselineFailures []string, timeout time.Duration) commandOutcome {
	baselineSet := toSet(baselineFailures)
	maxRounds := e.Options.MaxIntegrationFixRounds
	if maxRounds < 0 {
		maxRounds = 0
	}

	var outcome commandOutcome
	for round := 0; ; round++ {
		outcome = e.runOnce(ctx, name, argv, timeout, true)
		if outcome.passed {
			return outcome
		}

		regressing := newFailures(outcome.failures, baselineSet)
		if len(regressing) == 0 {
			// every failure was already present at baseline; not a regression.
			return outcome
		}
		if round >= maxRounds {
			return outcome
		}

		failurePath := e.artifact("build-failure.txt")
		if err := writeTextFile(failurePath, outcome.output); err != nil {
			e.log().Warn("failed to write build-failure.txt", "error", err)
		}
		if _, err := e.launch(ctx, 4, "fix-surgeon", failurePath, fmt.Sprintf("%s-fix-round-%d.md", name, round+1)); err != nil {
			e.log().Warn("fix-surgeon failed during integration verification", "command", name, "round", round+1, "error", err)
			return outcome
		}
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func newFailures(current []string, baseline map[string]bool) []string {
	var out []string
	for _, f := range current {
		if !baseline[f] {
			out = append(out, f)
		}
	}
	return out
}

func loadBaseline(worktreePath string) BaselineResults {
	data, err := os.ReadFile(filepath.Join(worktreePath, cadreDir, "baseline-results.json"))
	if err != nil {
		return BaselineResults{}
	}
	var b BaselineResults
	if err := json.Unmarshal(data, &b); err != nil {
		return BaselineResults{}
	}
	return b
}

// renderIntegrationReport renders integration-report.md's body and
// reports whether any diffable command still has a regression.
func renderIntegrationReport(outcomes []commandOutcome, baseline BaselineResults) (string, bool) {
	var sb strings.Builder
	sb.WriteString("# Integration Verification Report\n\n")

	var preexisting, regressions []string
	baselineBuild := toSet(baseline.BuildFailures)
	baselineTest := toSet(baseline.TestFailures)

	for _, o := range outcomes {
		status := "pass"
		if !o.passed {
			status = "fail"
		}
		fmt.Fprintf(&sb, "## %s\n\n**Status:** %s\n\n", o.name, status)
		if !o.passed {
			fmt.Fprintf(&sb, "```\n%s\n```\n\n", strings.TrimSpace(o.output))
		}

		if !o.diffable {
			continue
		}
		baselineSet := baselineBuild
		if o.name == "test" {
			baselineSet = baselineTest
		}
		for _, f := range o.failures {
			if baselineSet[f] {
				preexisting = append(preexisting, f)
			} else {
				regressions = append(regressions, f)
			}
		}
	}

	sb.WriteString("## Pre-existing Failures\n\n")
	writeBulletSection(&sb, preexisting)

	sb.WriteString("## New Regressions\n\n")
	writeBulletSection(&sb, regressions)

	return sb.String(), len(regressions) > 0
}

func writeBulletSection(sb *strings.Builder, items []string) {
	if len(items) == 0 {
		sb.WriteString("_None_\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(sb, "- %s\n", item)
	}
	sb.WriteString("\n")
}
