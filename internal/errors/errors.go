// Package errors provides the structured error vocabulary used across the
// orchestration pipeline: a small set of error kinds with What/Why/Fix
// messaging for CLI output, plus the typed failures named by the error
// handling design (BudgetExceeded, StaleState, RuntimeInterrupted, ...).
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code identifies a distinct error condition.
type Code string

const (
	CodeConfigInvalid       Code = "CONFIG_INVALID"
	CodeConfigMissing       Code = "CONFIG_MISSING"
	CodeAgentFailure        Code = "AGENT_FAILURE"
	CodeValidationFailure   Code = "VALIDATION_FAILURE"
	CodeGateFailure         Code = "GATE_FAILURE"
	CodeBudgetExceeded      Code = "BUDGET_EXCEEDED"
	CodeDependencyConflict  Code = "DEPENDENCY_CONFLICT"
	CodeStaleState          Code = "STALE_STATE"
	CodeRuntimeInterrupted  Code = "RUNTIME_INTERRUPTED"
	CodeRemoteBranchMissing Code = "REMOTE_BRANCH_MISSING"
	CodeMaxRetries          Code = "MAX_RETRIES_EXCEEDED"
)

// Category groups codes for CLI exit-status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryUnavailable
)

var codeCategories = map[Code]Category{
	CodeConfigInvalid:       CategoryBadRequest,
	CodeConfigMissing:       CategoryBadRequest,
	CodeAgentFailure:        CategoryUnavailable,
	CodeValidationFailure:   CategoryBadRequest,
	CodeGateFailure:         CategoryConflict,
	CodeBudgetExceeded:      CategoryInternal,
	CodeDependencyConflict:  CategoryConflict,
	CodeStaleState:          CategoryConflict,
	CodeRuntimeInterrupted:  CategoryInternal,
	CodeRemoteBranchMissing: CategoryBadRequest,
	CodeMaxRetries:          CategoryInternal,
}

// ExitCode returns the process exit code associated with a category.
func (c Category) ExitCode() int {
	switch c {
	case CategoryBadRequest:
		return 2
	case CategoryConflict:
		return 3
	case CategoryUnavailable:
		return 4
	case CategoryInternal:
		return 1
	default:
		return 1
	}
}

// PipelineError is the structured error type surfaced by pipeline
// components. It carries enough context for both log output (What/Why) and
// actionable CLI guidance (Fix).
type PipelineError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

func (e *PipelineError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// UserMessage renders a multi-line message suitable for CLI output.
func (e *PipelineError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the category used to derive an exit code.
func (e *PipelineError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// Is reports whether target is a PipelineError with the same code, so
// errors.Is(err, &PipelineError{Code: CodeGateFailure}) works as expected.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// MarshalJSON flattens Cause into a string for serialization into checkpoint
// state and gate result payloads.
func (e *PipelineError) MarshalJSON() ([]byte, error) {
	type alias PipelineError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{alias: (*alias)(e)}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// WithCause attaches an underlying error.
func (e *PipelineError) WithCause(err error) *PipelineError {
	return &PipelineError{Code: e.Code, What: e.What, Why: e.Why, Fix: e.Fix, Cause: err}
}

// --- typed failures named by the error handling design ---

// BudgetExceeded is raised when an issue's cumulative token usage crosses
// its configured budget. The pipeline aborts that issue only.
type BudgetExceeded struct {
	Current int
	Budget  int
}

func (e *BudgetExceeded) Error() string {
	return fmt.Sprintf("token budget exceeded: %d/%d", e.Current, e.Budget)
}

// DependencyConflict is raised when merging a dependency branch during
// provisionWithDeps conflicts.
type DependencyConflict struct {
	DepIssue        int
	ConflictedFiles []string
}

func (e *DependencyConflict) Error() string {
	return fmt.Sprintf("dependency merge conflict from issue %d (%d files)", e.DepIssue, len(e.ConflictedFiles))
}

// StaleState is raised when a worktree or branch exists in an unexpected
// configuration, requiring higher-level triage rather than automatic repair.
type StaleState struct {
	HasConflicts bool
	Conflicts    []string
}

func (e *StaleState) Error() string {
	if e.HasConflicts {
		return fmt.Sprintf("stale state with %d conflicting files", len(e.Conflicts))
	}
	return "stale state detected"
}

// RuntimeInterrupted propagates a signal-driven shutdown unchanged up
// through the orchestrator to the CLI.
type RuntimeInterrupted struct {
	Signal   string
	ExitCode int
}

func (e *RuntimeInterrupted) Error() string {
	return fmt.Sprintf("interrupted by %s", e.Signal)
}

// ValidationError describes a single schema-mismatch field on a parsed
// artifact (implementation plan JSON, agent output, ...).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates one or more ValidationError values produced
// while checking a single artifact.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		parts[i] = ve.Error()
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// --- constructors for common PipelineError conditions ---

func ErrConfigInvalid(path string, cause error) *PipelineError {
	return &PipelineError{
		Code:  CodeConfigInvalid,
		What:  fmt.Sprintf("configuration at %s is invalid", path),
		Why:   "the file failed schema validation while loading",
		Fix:   "check the field reported in the cause and correct the YAML",
		Cause: cause,
	}
}

func ErrConfigMissing(path string) *PipelineError {
	return &PipelineError{
		Code: CodeConfigMissing,
		What: fmt.Sprintf("no configuration found at %s", path),
		Why:  "none of the default, system, user, or project config layers provided one",
		Fix:  "create a config file or pass explicit flags",
	}
}

func ErrAgentFailure(phase string, cause error) *PipelineError {
	return &PipelineError{
		Code:  CodeAgentFailure,
		What:  fmt.Sprintf("agent invocation failed during %s", phase),
		Why:   "the agent process exited non-zero or produced no output file",
		Fix:   "inspect the agent's stderr log; the retry executor will attempt recovery",
		Cause: cause,
	}
}

func ErrGateFailure(phase string, reasons []string) *PipelineError {
	return &PipelineError{
		Code: CodeGateFailure,
		What: fmt.Sprintf("phase %s failed its gate", phase),
		Why:  strings.Join(reasons, "; "),
		Fix:  "the phase will be retried once in full before the issue is aborted",
	}
}

func ErrMaxRetriesExceeded(description string, attempts int) *PipelineError {
	return &PipelineError{
		Code: CodeMaxRetries,
		What: fmt.Sprintf("%s did not succeed after %d attempts", description, attempts),
		Why:  "the retry executor exhausted its configured attempt budget",
		Fix:  "review the failure log and resume once the underlying cause is addressed",
	}
}
