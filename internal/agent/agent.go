// Package agent defines the Agent Launcher contract: the external AI
// coding agent process is deliberately out of scope for this engine's
// core logic, but a concrete, swappable default implementation is
// provided so the pipeline runs end-to-end.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Request describes one agent invocation.
type Request struct {
	Agent       string
	IssueNumber int
	Phase       int
	ContextPath string
	OutputPath  string
	WorktreePath string
}

// TokenUsage is the token cost of a single agent invocation.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Result is the outcome of one agent invocation. Success requires
// ExitCode==0, TimedOut==false, and OutputExists==true.
type Result struct {
	Agent        string
	InvocationID string
	Success      bool
	ExitCode     int
	TimedOut     bool
	Duration     time.Duration
	TokenUsage   TokenUsage
	OutputPath   string
	OutputExists bool
	Error        string
}

// Launcher spawns an external agent process and waits for it to either
// produce its expected output file or fail.
type Launcher interface {
	Launch(ctx context.Context, req Request) (*Result, error)
}

// ExecLauncher is the default Launcher: it runs a configured CLI binary
// once per invocation, passing the role name as the first argument and
// the issue, phase, context and output paths as --issue/--phase/--context/
// --output flags, and waits for it to exit or for the context deadline to
// expire.
type ExecLauncher struct {
	// BinaryPath is the agent CLI to invoke. Defaults to "claude".
	BinaryPath string
	// ExtraArgs are appended after the agent's role name on every launch.
	ExtraArgs []string
	// WaitDelay bounds how long Wait gives a process to drain stdio after
	// the context is cancelled.
	WaitDelay time.Duration
	Log       *slog.Logger
}

// NewExecLauncher constructs an ExecLauncher with the default CLI binary
// name and a one-second I/O drain delay.
func NewExecLauncher(binaryPath string, log *slog.Logger) *ExecLauncher {
	if binaryPath == "" {
		binaryPath = "claude"
	}
	if log == nil {
		log = slog.Default()
	}
	return &ExecLauncher{BinaryPath: binaryPath, WaitDelay: time.Second, Log: log}
}

// agentOutputEnvelope is the optional JSON shape an agent may print to
// stdout to report its own token usage; absent or unparsable stdout is
// treated as zero tokens rather than an error, since token accounting is
// best-effort metadata, not a correctness gate.
type agentOutputEnvelope struct {
	Usage struct {
		InputTokens  int `json:"inputTokens"`
		OutputTokens int `json:"outputTokens"`
		TotalTokens  int `json:"totalTokens"`
	} `json:"usage"`
}

// Launch runs the configured binary with args
// "<agent> --issue <n> --phase <p> --context <path> --output <path>" in
// WorktreePath, waits for it to exit, and reports the Agent Invocation
// Result.
func (l *ExecLauncher) Launch(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	invocationID := uuid.NewString()

	args := append([]string{
		req.Agent,
		"--issue", strconv.Itoa(req.IssueNumber),
		"--phase", strconv.Itoa(req.Phase),
		"--context", req.ContextPath,
		"--output", req.OutputPath,
	}, l.ExtraArgs...)

	cmd := exec.CommandContext(ctx, l.BinaryPath, args...)
	cmd.Dir = req.WorktreePath
	cmd.WaitDelay = l.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	l.Log.Debug("launching agent", "agent", req.Agent, "invocation", invocationID, "issue", req.IssueNumber, "phase", req.Phase)
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Agent:        req.Agent,
		InvocationID: invocationID,
		Duration:     duration,
		OutputPath:   req.OutputPath,
	}
	if _, statErr := os.Stat(req.OutputPath); statErr == nil {
		result.OutputExists = true
	}

	var envelope agentOutputEnvelope
	if json.Unmarshal(stdout.Bytes(), &envelope) == nil {
		result.TokenUsage = TokenUsage{
			InputTokens:  envelope.Usage.InputTokens,
			OutputTokens: envelope.Usage.OutputTokens,
			TotalTokens:  envelope.Usage.TotalTokens,
		}
	}

	if ctx.Err() != nil {
		result.TimedOut = true
		result.ExitCode = -1
		result.Error = ctx.Err().Error()
		return result, nil
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		result.Error = stderrOrErr(stderr.String(), runErr)
		return result, nil
	}

	result.ExitCode = 0
	result.Success = result.OutputExists
	if !result.Success {
		result.Error = fmt.Sprintf("agent %s exited 0 but did not produce %s", req.Agent, req.OutputPath)
	}
	return result, nil
}

func stderrOrErr(stderr string, err error) string {
	if stderr != "" {
		return stderr
	}
	return err.Error()
}
