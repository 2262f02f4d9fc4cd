package phase

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/cadre/internal/retryexec"
	"github.com/randalmurphal/cadre/internal/task"
	"github.com/randalmurphal/cadre/internal/taskqueue"
)

// ImplementationResult summarizes Phase 3's outcome: final task counts and
// the ids that ended up blocked after exhausting retries.
type ImplementationResult struct {
	Counts  taskqueue.Counts
	Blocked []string
}

// RunImplementation drives the task DAG to completion: each ready,
// non-overlapping batch (bounded by maxParallelAgents) is processed
// concurrently, one task per goroutine, until every task reaches completed
// or blocked.
func RunImplementation(ctx context.Context, env *Env, tasks []*task.Task) (*ImplementationResult, error) {
	queue, err := taskqueue.New(tasks)
	if err != nil {
		return nil, err
	}

	snap := env.Checkpoint.Snapshot()
	queue.RestoreState(keys(snap.CompletedTasks), mapKeys(snap.BlockedTasks), mapKeys(snap.FailedTasks))

	maxParallel := env.Options.MaxParallelAgents
	if maxParallel < 1 {
		maxParallel = 1
	}

	for !queue.IsComplete() {
		ready := queue.GetReady()
		if len(ready) == 0 {
			break // remaining tasks are permanently blocked on a failed/blocked dependency
		}
		batch := taskqueue.SelectNonOverlappingBatch(ready, maxParallel)
		if len(batch) == 0 {
			break
		}

		for _, t := range batch {
			queue.Start(t.ID)
			if err := env.Checkpoint.StartTask(t.ID); err != nil {
				env.log().Warn("failed to record task start", "task", t.ID, "error", err)
			}
		}

		var wg sync.WaitGroup
		for _, t := range batch {
			t := t
			wg.Add(1)
			go func() {
				defer wg.Done()
				env.runOneTask(ctx, queue, t)
			}()
		}
		wg.Wait()
	}

	counts := queue.GetCounts()
	result := &ImplementationResult{Counts: counts}
	for id := range env.Checkpoint.Snapshot().BlockedTasks {
		result.Blocked = append(result.Blocked, id)
	}
	sort.Strings(result.Blocked)
	return result, nil
}

// runOneTask executes a single task to completed-or-blocked, bounded by
// maxRetriesPerTask attempts, updating both the in-memory queue and the
// durable checkpoint.
func (e *Env) runOneTask(ctx context.Context, queue *taskqueue.Queue, t *task.Task) {
	maxAttempts := e.Options.MaxRetriesPerTask
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	res := retryexec.Run(retryexec.Options[struct{}]{
		Description: fmt.Sprintf("task %s", t.ID),
		MaxAttempts: maxAttempts,
		Log:         e.log(),
	}, func(attempt int) (struct{}, error) {
		return struct{}{}, e.attemptTask(ctx, t)
	})

	if res.Success {
		queue.Complete(t.ID)
		if err := e.Checkpoint.CompleteTask(t.ID, e.artifact(reviewArtifact(t.ID))); err != nil {
			e.log().Warn("failed to record task completion", "task", t.ID, "error", err)
		}
		return
	}

	queue.MarkBlocked(t.ID)
	reason := "unknown failure"
	if res.Err != nil {
		reason = res.Err.Error()
	}
	if err := e.Checkpoint.BlockTask(t.ID, reason); err != nil {
		e.log().Warn("failed to record task block", "task", t.ID, "error", err)
	}
}

func reviewArtifact(taskID string) string {
	return fmt.Sprintf("task-%s-review.md", taskID)
}

// attemptTask is one full writer→build-check→commit→review cycle for a
// single task.
func (e *Env) attemptTask(ctx context.Context, t *task.Task) error {
	contextPath, err := writeTaskContext(e, t)
	if err != nil {
		return err
	}

	if _, err := e.launch(ctx, 3, "code-writer", contextPath, fmt.Sprintf("task-%s-code.md", t.ID)); err != nil {
		return err
	}
	if _, err := e.launch(ctx, 3, "test-writer", contextPath, fmt.Sprintf("task-%s-tests.md", t.ID)); err != nil {
		return err
	}

	if e.Options.PerTaskBuildCheck && len(e.Options.Commands.Build) > 0 {
		if err := e.fixUntilBuildPasses(ctx, t); err != nil {
			return err
		}
	}

	if e.Options.CommitPerTask {
		if err := e.commitTask(t); err != nil {
			e.log().Warn("per-task commit failed", "task", t.ID, "error", err)
		}
	}

	reviewPath := reviewArtifact(t.ID)
	if _, err := e.launch(ctx, 3, "code-reviewer", contextPath, reviewPath); err != nil {
		return err
	}

	verdict, err := readVerdict(e.artifact(reviewPath))
	if err != nil {
		return fmt.Errorf("read review verdict for task %s: %w", t.ID, err)
	}
	if verdict == verdictRequestChanges {
		if _, err := e.launch(ctx, 3, "fix-surgeon", e.artifact(reviewPath), fmt.Sprintf("task-%s-code.md", t.ID)); err != nil {
			return err
		}
		if _, err := e.launch(ctx, 3, "code-reviewer", contextPath, reviewPath); err != nil {
			return err
		}
		verdict, err = readVerdict(e.artifact(reviewPath))
		if err != nil {
			return fmt.Errorf("read review verdict for task %s: %w", t.ID, err)
		}
		if verdict == verdictRequestChanges {
			return fmt.Errorf("task %s: code review still requests changes after one fix round", t.ID)
		}
	}

	return nil
}

// fixUntilBuildPasses runs the configured build command, and while it
// fails, launches fix-surgeon with the failure output as context and
// re-runs the build, up to maxBuildFixRounds rounds.
func (e *Env) fixUntilBuildPasses(ctx context.Context, t *task.Task) error {
	timeout := time.Duration(e.Options.Agent.TimeoutSeconds) * time.Second
	maxRounds := e.Options.MaxBuildFixRounds
	if maxRounds < 0 {
		maxRounds = 0
	}

	for round := 0; ; round++ {
		result, err := RunCommand(ctx, e.WorktreePath, e.Options.Commands.Build, timeout)
		if err != nil {
			return fmt.Errorf("run build for task %s: %w", t.ID, err)
		}
		if result.Passed() {
			return nil
		}
		if round >= maxRounds {
			return fmt.Errorf("task %s: build still failing after %d fix round(s)", t.ID, maxRounds)
		}

		failurePath := e.artifact("build-failure.txt")
		if err := writeTextFile(failurePath, result.Stdout+result.Stderr); err != nil {
			e.log().Warn("failed to write build-failure.txt", "error", err)
		}
		if _, err := e.launch(ctx, 3, "fix-surgeon", failurePath, fmt.Sprintf("task-%s-code.md", t.ID)); err != nil {
			return err
		}
	}
}

func (e *Env) commitTask(t *task.Task) error {
	repo := e.Repo.At(e.WorktreePath)
	if err := repo.StageAll(); err != nil {
		return err
	}
	clean, err := repo.IsClean()
	if err != nil {
		return err
	}
	if clean {
		return nil
	}
	return repo.Commit(fmt.Sprintf("%s: %s", t.ID, t.Name))
}

// writeTaskContext assembles the per-task agent context file from the
// implementation plan's task entry, pointing at the shared
// implementation-plan.md and this task's own id for the agent to extract.
func writeTaskContext(e *Env, t *task.Task) (string, error) {
	path := e.artifact(fmt.Sprintf("task-%s-context.md", t.ID))
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Task %s: %s\n\n%s\n\n## Files\n", t.ID, t.Name, t.Description)
	for _, f := range t.Files {
		fmt.Fprintf(&sb, "- %s\n", f)
	}
	sb.WriteString("\n## Acceptance Criteria\n")
	for _, c := range t.AcceptanceCriteria {
		fmt.Fprintf(&sb, "- %s\n", c)
	}
	if err := writeTextFile(path, sb.String()); err != nil {
		return "", err
	}
	return path, nil
}

type verdict string

const (
	verdictPass           verdict = "pass"
	verdictRequestChanges verdict = "request-changes"
)

var verdictPattern = regexp.MustCompile(`(?i)verdict:\s*(pass|request-changes)`)

// readVerdict extracts the code-reviewer's verdict line from a
// task-<id>-review.md artifact. A missing or unparsable verdict is treated
// as request-changes, so a malformed review never silently passes a task.
func readVerdict(path string) (verdict, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return verdictRequestChanges, err
	}
	m := verdictPattern.FindStringSubmatch(string(data))
	if m == nil {
		return verdictRequestChanges, nil
	}
	if strings.EqualFold(m[1], "pass") {
		return verdictPass, nil
	}
	return verdictRequestChanges, nil
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func mapKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
