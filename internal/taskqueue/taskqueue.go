// Package taskqueue drives the dependency DAG of implementation tasks
// inside the implementation phase: topological ordering, readiness, and
// non-overlapping batch selection.
package taskqueue

import (
	"fmt"
	"sort"

	"github.com/randalmurphal/cadre/internal/task"
)

// Queue schedules a fixed set of tasks to completion, tracking completed,
// blocked, failed, and in-progress sets across resumes.
type Queue struct {
	byID       map[string]*task.Task
	order      []*task.Task // topological order, stable tiebreak by id
	completed  map[string]bool
	blocked    map[string]bool
	failed     map[string]bool
	inProgress map[string]bool
}

// New constructs a Queue from tasks, topologically sorting them and
// rejecting cycles.
func New(tasks []*task.Task) (*Queue, error) {
	order, err := task.TopologicalOrder(tasks)
	if err != nil {
		return nil, err
	}
	if len(order) != len(tasks) {
		return nil, fmt.Errorf("dependency cycle detected among tasks")
	}

	byID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	return &Queue{
		byID:       byID,
		order:      order,
		completed:  map[string]bool{},
		blocked:    map[string]bool{},
		failed:     map[string]bool{},
		inProgress: map[string]bool{},
	}, nil
}

// RestoreState primes the queue from checkpoint-recorded sets.
func (q *Queue) RestoreState(completed, blocked, failed []string) {
	for _, id := range completed {
		q.completed[id] = true
	}
	for _, id := range blocked {
		q.blocked[id] = true
	}
	for _, id := range failed {
		q.failed[id] = true
	}
}

// GetReady returns tasks whose dependencies are all completed and that are
// not themselves completed, blocked, failed, or in progress, in
// topological order.
func (q *Queue) GetReady() []*task.Task {
	var ready []*task.Task
	for _, t := range q.order {
		if q.completed[t.ID] || q.blocked[t.ID] || q.failed[t.ID] || q.inProgress[t.ID] {
			continue
		}
		allDepsComplete := true
		for _, dep := range t.Dependencies {
			if !q.completed[dep] {
				allDepsComplete = false
				break
			}
		}
		if allDepsComplete {
			ready = append(ready, t)
		}
	}
	return ready
}

// SelectNonOverlappingBatch greedily selects up to maxParallel tasks from
// ready (already in topological order) whose file sets are pairwise
// disjoint, tie-breaking deterministically by task id.
func SelectNonOverlappingBatch(ready []*task.Task, maxParallel int) []*task.Task {
	sorted := make([]*task.Task, len(ready))
	copy(sorted, ready)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var batch []*task.Task
	claimed := map[string]bool{}
	for _, t := range sorted {
		if len(batch) >= maxParallel {
			break
		}
		overlaps := false
		for _, f := range t.Files {
			if claimed[f] {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		batch = append(batch, t)
		for _, f := range t.Files {
			claimed[f] = true
		}
	}
	return batch
}

// Start marks a task as in progress.
func (q *Queue) Start(id string) {
	q.inProgress[id] = true
}

// Complete marks a task as completed, at most once: a task already in
// completed is a no-op, enforcing at-most-once completion across resumes.
func (q *Queue) Complete(id string) {
	delete(q.inProgress, id)
	q.completed[id] = true
}

// MarkBlocked marks a task blocked after exhausting retries.
func (q *Queue) MarkBlocked(id string) {
	delete(q.inProgress, id)
	q.blocked[id] = true
}

// MarkFailed marks a task failed.
func (q *Queue) MarkFailed(id string) {
	delete(q.inProgress, id)
	q.failed[id] = true
}

// Counts summarizes queue progress.
type Counts struct {
	Total      int
	Completed  int
	Blocked    int
	Failed     int
	InProgress int
}

// GetCounts returns current progress counts.
func (q *Queue) GetCounts() Counts {
	return Counts{
		Total:      len(q.order),
		Completed:  len(q.completed),
		Blocked:    len(q.blocked),
		Failed:     len(q.failed),
		InProgress: len(q.inProgress),
	}
}

// IsComplete reports whether every task has reached completed or blocked.
func (q *Queue) IsComplete() bool {
	for _, t := range q.order {
		if !q.completed[t.ID] && !q.blocked[t.ID] {
			return false
		}
	}
	return true
}
