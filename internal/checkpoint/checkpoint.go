// Package checkpoint implements the per-issue Checkpoint Store: durable
// state tracking completed phases, task statuses, gate results, and token
// usage, with atomic read-modify-write semantics so a crash never leaves a
// partially-written checkpoint on disk.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	cadreerrors "github.com/randalmurphal/cadre/internal/errors"
	"github.com/randalmurphal/cadre/internal/util"
)

// GateStatus is the tagged-variant status of a Gate Result.
type GateStatus string

const (
	GateStatusPass GateStatus = "pass"
	GateStatusWarn GateStatus = "warn"
	GateStatusFail GateStatus = "fail"
)

// GateResult is the outcome of evaluating the gates attached to a phase.
type GateResult struct {
	Status   GateStatus `json:"status"`
	Warnings []string   `json:"warnings,omitempty"`
	Errors   []string   `json:"errors,omitempty"`
}

// TokenUsage tallies tokens across agents and phases for an issue.
type TokenUsage struct {
	Total   int            `json:"total"`
	ByPhase map[int]int    `json:"byPhase,omitempty"`
	ByAgent map[string]int `json:"byAgent,omitempty"`
}

// State is the persisted state for a single issue's run: current phase,
// completion sets, gate results, and token usage, enough to resume the
// orchestrator from disk after a crash or restart.
type State struct {
	CurrentPhase    int                `json:"currentPhase"`
	CompletedPhases map[int]bool       `json:"completedPhases"`
	CompletedTasks  map[string]bool    `json:"completedTasks"`
	BlockedTasks    map[string]string  `json:"blockedTasks"`
	FailedTasks     map[string]string  `json:"failedTasks"`
	PhaseOutputs    map[int]string     `json:"phaseOutputs"`
	GateResults     map[int]GateResult `json:"gateResults"`
	TokenUsage      TokenUsage         `json:"tokenUsage"`
	WorktreePath    string             `json:"worktreePath,omitempty"`
	BranchName      string             `json:"branchName,omitempty"`
	BaseCommit      string             `json:"baseCommit,omitempty"`
}

func newState() *State {
	return &State{
		CurrentPhase:    1,
		CompletedPhases: map[int]bool{},
		CompletedTasks:  map[string]bool{},
		BlockedTasks:    map[string]string{},
		FailedTasks:     map[string]string{},
		PhaseOutputs:    map[int]string{},
		GateResults:     map[int]GateResult{},
		TokenUsage:      TokenUsage{ByPhase: map[int]int{}, ByAgent: map[string]int{}},
	}
}

// ResumePoint is returned by GetResumePoint: the first incomplete phase,
// and if that phase is the implementation phase, the first ready task.
type ResumePoint struct {
	Phase int
	Task  string
}

// Store provides atomic read-modify-write access to a single issue's
// Checkpoint State, persisted as JSON under issues/<n>/checkpoint.json.
type Store struct {
	mu   sync.Mutex
	path string
	st   *State
}

// ImplementationPhase is the phase id whose resume point also names a task.
const ImplementationPhase = 3

// TotalPhases is the number of phases in the fixed pipeline.
const TotalPhases = 5

// Open loads the checkpoint at path, creating an empty one if it does not
// exist. path is typically `.cadre/issues/<n>/checkpoint.json`.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.st = newState()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse checkpoint: %w", err)
	}
	if st.CompletedPhases == nil {
		st.CompletedPhases = map[int]bool{}
	}
	if st.CompletedTasks == nil {
		st.CompletedTasks = map[string]bool{}
	}
	if st.BlockedTasks == nil {
		st.BlockedTasks = map[string]string{}
	}
	if st.FailedTasks == nil {
		st.FailedTasks = map[string]string{}
	}
	if st.PhaseOutputs == nil {
		st.PhaseOutputs = map[int]string{}
	}
	if st.GateResults == nil {
		st.GateResults = map[int]GateResult{}
	}
	if st.TokenUsage.ByPhase == nil {
		st.TokenUsage.ByPhase = map[int]int{}
	}
	if st.TokenUsage.ByAgent == nil {
		st.TokenUsage.ByAgent = map[string]int{}
	}
	s.st = &st
	return nil
}

func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	return util.AtomicWriteFile(s.path, data, 0o644)
}

// Snapshot returns a deep-enough copy of the current state for read-only
// inspection (e.g. by `cadre status`).
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *cloneState(s.st)
}

func cloneState(st *State) *State {
	out := newState()
	out.CurrentPhase = st.CurrentPhase
	out.WorktreePath = st.WorktreePath
	out.BranchName = st.BranchName
	out.BaseCommit = st.BaseCommit
	out.TokenUsage.Total = st.TokenUsage.Total
	for k, v := range st.CompletedPhases {
		out.CompletedPhases[k] = v
	}
	for k, v := range st.CompletedTasks {
		out.CompletedTasks[k] = v
	}
	for k, v := range st.BlockedTasks {
		out.BlockedTasks[k] = v
	}
	for k, v := range st.FailedTasks {
		out.FailedTasks[k] = v
	}
	for k, v := range st.PhaseOutputs {
		out.PhaseOutputs[k] = v
	}
	for k, v := range st.GateResults {
		out.GateResults[k] = v
	}
	for k, v := range st.TokenUsage.ByPhase {
		out.TokenUsage.ByPhase[k] = v
	}
	for k, v := range st.TokenUsage.ByAgent {
		out.TokenUsage.ByAgent[k] = v
	}
	return out
}

// IsPhaseCompleted reports whether phase p has been recorded complete.
func (s *Store) IsPhaseCompleted(p int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CompletedPhases[p]
}

// IsTaskCompleted reports whether task id has been recorded complete.
func (s *Store) IsTaskCompleted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CompletedTasks[id]
}

// GetResumePoint returns the first phase not in completedPhases; if that
// phase is the implementation phase, also the first task in deps (ordered)
// not yet in completedTasks whose dependencies are all complete.
func (s *Store) GetResumePoint(taskDeps map[string][]string, orderedTaskIDs []string) ResumePoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	phase := 1
	for p := 1; p <= TotalPhases; p++ {
		if !s.st.CompletedPhases[p] {
			phase = p
			break
		}
		phase = p + 1
	}

	rp := ResumePoint{Phase: phase}
	if phase != ImplementationPhase {
		return rp
	}

	for _, id := range orderedTaskIDs {
		if s.st.CompletedTasks[id] {
			continue
		}
		ready := true
		for _, dep := range taskDeps[id] {
			if !s.st.CompletedTasks[dep] {
				ready = false
				break
			}
		}
		if ready {
			rp.Task = id
			break
		}
	}
	return rp
}

// StartPhase records that phase p has begun.
func (s *Store) StartPhase(p int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.CurrentPhase = p
	return s.persist()
}

// CompletePhase marks phase p complete. Requires the gate result for p to
// have already been recorded as pass or warn.
func (s *Store) CompletePhase(p int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gr, ok := s.st.GateResults[p]
	if !ok || gr.Status == GateStatusFail {
		return &cadreerrors.PipelineError{
			Code: cadreerrors.CodeGateFailure,
			What: fmt.Sprintf("cannot complete phase %d", p),
			Why:  "gate result is missing or fail",
		}
	}
	s.st.CompletedPhases[p] = true
	return s.persist()
}

// StartTask records that task id has begun.
func (s *Store) StartTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.st.BlockedTasks, id)
	delete(s.st.FailedTasks, id)
	return s.persist()
}

// CompleteTask marks task id complete, recording an optional result
// artifact path. A task already failed is cleared from failedTasks to
// preserve the failedTasks ∩ completedTasks = ∅ invariant.
func (s *Store) CompleteTask(id, resultPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.CompletedTasks[id] = true
	delete(s.st.FailedTasks, id)
	delete(s.st.BlockedTasks, id)
	if resultPath != "" {
		s.st.PhaseOutputs[ImplementationPhase] = resultPath
	}
	return s.persist()
}

// FailTask records task id as failed with the given error message.
func (s *Store) FailTask(id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.CompletedTasks[id] {
		return fmt.Errorf("task %s already completed", id)
	}
	s.st.FailedTasks[id] = errMsg
	return s.persist()
}

// BlockTask records task id as blocked with a reason.
func (s *Store) BlockTask(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.CompletedTasks[id] {
		return fmt.Errorf("task %s already completed", id)
	}
	s.st.BlockedTasks[id] = reason
	return s.persist()
}

// ResetPhases clears completion, gate results, and phase outputs for each
// named phase, so the Review-Response Orchestrator can force phases 3-5 to
// re-run against a PR's existing worktree without disturbing phases 1-2's
// recorded state.
func (s *Store) ResetPhases(phases ...int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range phases {
		delete(s.st.CompletedPhases, p)
		delete(s.st.GateResults, p)
		delete(s.st.PhaseOutputs, p)
	}
	return s.persist()
}

// RecordGateResult records the gate result for phase p. Last writer wins.
func (s *Store) RecordGateResult(p int, result GateResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.GateResults[p] = result
	return s.persist()
}

// RecordTokenUsage adds tokens to the running totals for agent and phase.
// Token accounting is monotonically non-decreasing; tokens must be >= 0.
func (s *Store) RecordTokenUsage(agent string, phase int, tokens int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tokens < 0 {
		return fmt.Errorf("negative token count: %d", tokens)
	}
	s.st.TokenUsage.Total += tokens
	s.st.TokenUsage.ByAgent[agent] += tokens
	s.st.TokenUsage.ByPhase[phase] += tokens
	return s.persist()
}

// SetWorktree records the worktree identity once provisioned.
func (s *Store) SetWorktree(path, branch, baseCommit string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.WorktreePath = path
	s.st.BranchName = branch
	s.st.BaseCommit = baseCommit
	return s.persist()
}

// RecordPhaseOutput records the artifact path produced by phase p.
func (s *Store) RecordPhaseOutput(p int, artifactPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.PhaseOutputs[p] = artifactPath
	return s.persist()
}
