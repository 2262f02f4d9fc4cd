// Package task defines the implementation-phase Task/Session model and
// parses it out of an implementation-plan markdown artifact.
package task

import (
	"fmt"
	"sort"
	"strings"

	cadreerrors "github.com/randalmurphal/cadre/internal/errors"
	"github.com/tidwall/gjson"
)

// Complexity is a coarse size hint carried from planning into scheduling.
type Complexity string

const (
	ComplexitySmall  Complexity = "small"
	ComplexityMedium Complexity = "medium"
	ComplexityLarge  Complexity = "large"
)

// Task is a unit of work inside the implementation phase.
type Task struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Description        string     `json:"description"`
	Files              []string   `json:"files"`
	Dependencies       []string   `json:"dependencies"`
	AcceptanceCriteria []string   `json:"acceptanceCriteria"`
	Complexity         Complexity `json:"complexity,omitempty"`
}

// MaxTasksHint maps a parsed scope keyword to the task-count hint Phase 2
// Planning gives the implementation-planner agent.
func MaxTasksHint(scope string) int {
	switch strings.ToLower(strings.TrimSpace(scope)) {
	case "small":
		return 3
	case "large":
		return 10
	default:
		return 6
	}
}

// planTag delimits the fenced JSON block inside implementation-plan.md.
const planTag = "```json cadre-tasks"

// ParsePlan extracts the tagged JSON block of tasks from an
// implementation-plan.md artifact. Only the JSON-block format is accepted
// (see DESIGN.md Open Question 1); legacy markdown-only plans are rejected.
func ParsePlan(markdown string) ([]*Task, error) {
	block, err := extractJSONBlock(markdown)
	if err != nil {
		return nil, err
	}

	if !gjson.Valid(block) {
		return nil, fmt.Errorf("invalid implementation plan: malformed JSON in tagged block")
	}

	tasksResult := gjson.Get(block, "tasks")
	if !tasksResult.Exists() || !tasksResult.IsArray() {
		return nil, fmt.Errorf("invalid implementation plan: no tasks array")
	}

	var tasks []*Task
	var verrs cadreerrors.ValidationErrors
	tasksResult.ForEach(func(idx, t gjson.Result) bool {
		id := t.Get("id").String()
		field := fmt.Sprintf("tasks[%d]", idx.Int())

		if id == "" {
			verrs.Add(field+".id", "missing required field")
		}
		if t.Get("description").String() == "" {
			verrs.Add(field+".description", "missing required field")
		}

		var files []string
		t.Get("files").ForEach(func(_, f gjson.Result) bool {
			files = append(files, f.String())
			return true
		})
		if len(files) == 0 {
			verrs.Add(field+".files", "must have at least one file")
		}

		var criteria []string
		t.Get("acceptanceCriteria").ForEach(func(_, c gjson.Result) bool {
			criteria = append(criteria, c.String())
			return true
		})
		if len(criteria) == 0 {
			verrs.Add(field+".acceptanceCriteria", "must have at least one criterion")
		}

		var deps []string
		t.Get("dependencies").ForEach(func(_, d gjson.Result) bool {
			deps = append(deps, d.String())
			return true
		})

		tasks = append(tasks, &Task{
			ID:                 id,
			Name:               t.Get("name").String(),
			Description:        t.Get("description").String(),
			Files:              files,
			Dependencies:       deps,
			AcceptanceCriteria: criteria,
			Complexity:         Complexity(t.Get("complexity").String()),
		})
		return true
	})

	if len(tasks) == 0 {
		return nil, fmt.Errorf("invalid implementation plan: zero tasks")
	}
	if verrs.HasErrors() {
		return nil, fmt.Errorf("invalid implementation plan: %w", &verrs)
	}
	if err := validateDAG(tasks); err != nil {
		return nil, fmt.Errorf("invalid implementation plan: %w", err)
	}

	return tasks, nil
}

// extractJSONBlock finds the first ```json cadre-tasks ... ``` fence and
// returns its contents, using brace-depth counting so nested braces inside
// string values don't confuse the fence boundary.
func extractJSONBlock(markdown string) (string, error) {
	start := strings.Index(markdown, planTag)
	if start == -1 {
		return "", fmt.Errorf("invalid implementation plan: no tagged JSON block found")
	}
	rest := markdown[start+len(planTag):]

	braceStart := strings.IndexByte(rest, '{')
	if braceStart == -1 {
		return "", fmt.Errorf("invalid implementation plan: tagged block has no JSON object")
	}

	depth := 0
	inString := false
	escaped := false
	for i := braceStart; i < len(rest); i++ {
		c := rest[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string literal, ignore braces
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return rest[braceStart : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("invalid implementation plan: unterminated JSON block")
}

// validateDAG rejects tasks whose dependencies reference undefined ids or
// form a cycle.
func validateDAG(tasks []*Task) error {
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("task %s references undefined dependency %s", t.ID, dep)
			}
		}
	}

	order, err := TopologicalOrder(tasks)
	if err != nil {
		return err
	}
	if len(order) != len(tasks) {
		return fmt.Errorf("dependency cycle detected among tasks")
	}
	return nil
}

// TopologicalOrder returns tasks in dependency order (Kahn's algorithm),
// tiebreaking by task id. A returned slice shorter than the input indicates
// a cycle among the unreturned tasks.
func TopologicalOrder(tasks []*Task) ([]*Task, error) {
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	adjacency := make(map[string][]string, len(tasks))
	inDegree := make(map[string]int, len(tasks))
	for _, t := range tasks {
		inDegree[t.ID] = 0
	}
	for _, t := range tasks {
		seen := make(map[string]bool, len(t.Dependencies))
		for _, dep := range t.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if _, ok := byID[dep]; !ok {
				continue
			}
			adjacency[dep] = append(adjacency[dep], t.ID)
			inDegree[t.ID]++
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []*Task
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, byID[id])

		var newReady []string
		for _, dependent := range adjacency[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				newReady = append(newReady, dependent)
			}
		}
		if len(newReady) > 0 {
			queue = append(queue, newReady...)
			sort.Strings(queue)
		}
	}

	return order, nil
}
