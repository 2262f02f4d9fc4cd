package phase

import (
	"context"
	"fmt"
	"os"

	"github.com/randalmurphal/cadre/internal/task"
)

// PlanningResult is Phase 2's artifact: the parsed, DAG-validated task
// list plus the plan markdown path.
type PlanningResult struct {
	PlanPath string
	Tasks    []*task.Task
}

// RunPlanning derives a maxTasksHint from the issue's parsed scope,
// launches implementation-planner with scout-report.md (carrying that
// hint) as its context file, and parses the resulting tagged task list. It returns
// an error if the plan has zero tasks or a dependency-cycle violation,
// both of which task.ParsePlan already enforces.
func RunPlanning(ctx context.Context, env *Env, scope string) (*PlanningResult, error) {
	hint := task.MaxTasksHint(scope)

	contextPath := env.artifact("scout-report.md")
	if err := appendPlanningHint(contextPath, hint); err != nil {
		env.log().Warn("failed to append planning hint", "error", err)
	}

	if _, err := env.launch(ctx, 2, "implementation-planner", contextPath, "implementation-plan.md"); err != nil {
		return nil, err
	}

	planPath := env.artifact("implementation-plan.md")
	data, err := os.ReadFile(planPath)
	if err != nil {
		return nil, fmt.Errorf("read implementation plan: %w", err)
	}

	tasks, err := task.ParsePlan(string(data))
	if err != nil {
		return nil, err
	}

	return &PlanningResult{PlanPath: planPath, Tasks: tasks}, nil
}

// appendPlanningHint appends the scope-derived maxTasksHint to
// scout-report.md itself, as an HTML-comment trailer the
// implementation-planner agent reads with the rest of the report.
func appendPlanningHint(scoutReportPath string, hint int) error {
	data, err := os.ReadFile(scoutReportPath)
	if err != nil {
		return err
	}
	trailer := fmt.Sprintf("\n\n<!-- maxTasksHint: %d -->\n", hint)
	return os.WriteFile(scoutReportPath, append(data, []byte(trailer)...), 0o644)
}
