package taskqueue

import (
	"testing"

	"github.com/randalmurphal/cadre/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tasks() []*task.Task {
	return []*task.Task{
		{ID: "task-1", Files: []string{"a.ts"}},
		{ID: "task-2", Files: []string{"b.ts"}, Dependencies: []string{"task-1"}},
		{ID: "task-3", Files: []string{"a.ts"}},
	}
}

func TestNewRejectsCycle(t *testing.T) {
	cyclic := []*task.Task{
		{ID: "task-1", Dependencies: []string{"task-2"}},
		{ID: "task-2", Dependencies: []string{"task-1"}},
	}
	_, err := New(cyclic)
	require.Error(t, err)
}

func TestGetReadyRespectsDependencies(t *testing.T) {
	q, err := New(tasks())
	require.NoError(t, err)

	ready := q.GetReady()
	var ids []string
	for _, r := range ready {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"task-1", "task-3"}, ids)

	q.Complete("task-1")
	ready = q.GetReady()
	ids = nil
	for _, r := range ready {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"task-2", "task-3"}, ids)
}

func TestSelectNonOverlappingBatchIsDisjoint(t *testing.T) {
	q, err := New(tasks())
	require.NoError(t, err)
	ready := q.GetReady()

	batch := SelectNonOverlappingBatch(ready, 5)
	// task-1 and task-3 both touch a.ts; only one should be selected
	require.Len(t, batch, 1)
	assert.Equal(t, "task-1", batch[0].ID)
}

func TestSelectNonOverlappingBatchRespectsMaxParallel(t *testing.T) {
	ts := []*task.Task{
		{ID: "task-1", Files: []string{"a.ts"}},
		{ID: "task-2", Files: []string{"b.ts"}},
		{ID: "task-3", Files: []string{"c.ts"}},
	}
	q, err := New(ts)
	require.NoError(t, err)
	batch := SelectNonOverlappingBatch(q.GetReady(), 2)
	assert.Len(t, batch, 2)
}

func TestCompleteIsIdempotentAcrossResumes(t *testing.T) {
	q, err := New(tasks())
	require.NoError(t, err)
	q.RestoreState([]string{"task-1"}, nil, nil)

	ready := q.GetReady()
	for _, r := range ready {
		assert.NotEqual(t, "task-1", r.ID)
	}
}

func TestIsComplete(t *testing.T) {
	q, err := New(tasks())
	require.NoError(t, err)
	assert.False(t, q.IsComplete())

	q.Complete("task-1")
	q.Complete("task-2")
	q.MarkBlocked("task-3")
	assert.True(t, q.IsComplete())
}

func TestGetCounts(t *testing.T) {
	q, err := New(tasks())
	require.NoError(t, err)
	q.Complete("task-1")
	q.MarkFailed("task-3")

	counts := q.GetCounts()
	assert.Equal(t, 3, counts.Total)
	assert.Equal(t, 1, counts.Completed)
	assert.Equal(t, 1, counts.Failed)
}
