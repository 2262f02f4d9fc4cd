// Package phase implements the five Phase Executors that the Issue
// Orchestrator drives in sequence — Analysis, Planning, Implementation,
// Integration Verification, and Pull Request — each a thin wrapper around
// agent launches, gate-checked artifacts, and (for Integration
// Verification) configured install/build/test/lint commands.
package phase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/randalmurphal/cadre/internal/agent"
	"github.com/randalmurphal/cadre/internal/checkpoint"
	"github.com/randalmurphal/cadre/internal/config"
	"github.com/randalmurphal/cadre/internal/git"
	"github.com/randalmurphal/cadre/internal/hosting"
	"github.com/randalmurphal/cadre/internal/tokentracker"
	"github.com/randalmurphal/cadre/internal/util"
)

// Env bundles the dependencies every executor needs: the issue identity,
// its worktree and progress directory, the agent launcher, and the
// resolved configuration. Orchestrator constructs one Env per issue and
// passes it unchanged to each phase in turn.
type Env struct {
	IssueNumber  int
	IssueTitle   string
	WorktreePath string
	ProgressDir  string
	BaseCommit   string
	Repo         *git.Repo
	Launcher     agent.Launcher
	Hosting      hosting.Provider
	Options      *config.Options
	Checkpoint   *checkpoint.Store
	Tokens       *tokentracker.Tracker
	Log          *slog.Logger
}

func (e *Env) log() *slog.Logger {
	if e.Log == nil {
		return slog.Default()
	}
	return e.Log
}

func (e *Env) artifact(name string) string {
	return filepath.Join(e.ProgressDir, name)
}

// launch runs one agent role against contextPath, writing its output to
// outputName under the progress directory, and returns the agent result.
// A non-success result (non-zero exit, timeout, or missing output) is
// turned into an error so callers can feed it straight to retryexec.
func (e *Env) launch(ctx context.Context, phaseNum int, role, contextPath, outputName string) (*agent.Result, error) {
	outputPath := e.artifact(outputName)
	req := agent.Request{
		Agent:        role,
		IssueNumber:  e.IssueNumber,
		Phase:        phaseNum,
		ContextPath:  contextPath,
		OutputPath:   outputPath,
		WorktreePath: e.WorktreePath,
	}
	result, err := e.Launcher.Launch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", role, err)
	}
	e.log().Debug("agent invocation complete", "agent", role, "invocation", result.InvocationID, "success", result.Success)
	if recErr := e.recordUsage(role, phaseNum, result.TokenUsage); recErr != nil {
		return result, recErr
	}
	if !result.Success {
		return result, fmt.Errorf("agent %s (invocation %s) failed: %s", role, result.InvocationID, result.Error)
	}
	return result, nil
}

// recordUsage persists the token cost of one agent invocation to the
// checkpoint and, if a budget tracker is configured, checks it against the
// budget — a *cadreerrors.BudgetExceeded from the tracker takes priority
// over the agent's own success/failure, stopping the phase immediately.
func (e *Env) recordUsage(role string, phaseNum int, usage agent.TokenUsage) error {
	if usage.TotalTokens == 0 {
		return nil
	}
	if e.Checkpoint != nil {
		if err := e.Checkpoint.RecordTokenUsage(role, phaseNum, usage.TotalTokens); err != nil {
			e.log().Warn("failed to persist token usage", "agent", role, "error", err)
		}
	}
	if e.Tokens != nil {
		warn, err := e.Tokens.Record(role, phaseNum, usage.TotalTokens)
		if warn {
			e.log().Warn("token budget warning threshold crossed", "agent", role, "total", e.Tokens.Total())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// CommandResult is the outcome of running one configured shell-free argv
// command (install/build/test/lint).
type CommandResult struct {
	Command  []string
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Passed reports whether the command exited zero without timing out.
func (r CommandResult) Passed() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// RunCommand executes argv[0] with argv[1:] in workDir, bounding it to
// timeout and capturing stdout/stderr, the same exec.CommandContext +
// WaitDelay + *exec.ExitError pattern as internal/agent.ExecLauncher. A
// zero-length argv is a no-op that reports ExitCode 0.
func RunCommand(ctx context.Context, workDir string, argv []string, timeout time.Duration) (CommandResult, error) {
	if len(argv) == 0 {
		return CommandResult{ExitCode: 0}, nil
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := CommandResult{Command: argv, Stdout: stdout.String(), Stderr: stderr.String()}

	if runCtx.Err() != nil {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("run %v: %w", argv, runErr)
	}
	result.ExitCode = 0
	return result, nil
}

// BaselineResults is the Phase 1 baseline snapshot persisted to
// .cadre/baseline-results.json and consumed by Phase 4 to distinguish
// regressions from pre-existing failures.
type BaselineResults struct {
	BuildExitCode int      `json:"buildExitCode"`
	TestExitCode  int      `json:"testExitCode"`
	BuildFailures []string `json:"buildFailures"`
	TestFailures  []string `json:"testFailures"`
}

// writeJSON atomically writes v as indented JSON to path.
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	return util.AtomicWriteFile(path, data, 0o644)
}

// writeTextFile atomically writes plain text content to path, creating
// parent directories as needed.
func writeTextFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	return util.AtomicWriteFile(path, []byte(content), 0o644)
}
