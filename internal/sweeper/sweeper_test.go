package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskcore/internal/clock"
	"github.com/taskmesh/taskcore/internal/lifecycle"
	"github.com/taskmesh/taskcore/internal/models"
	"github.com/taskmesh/taskcore/internal/observability"
	"github.com/taskmesh/taskcore/internal/query"
	"github.com/taskmesh/taskcore/internal/store/memstore"
)

func newTestSweeper(t *testing.T, timeout time.Duration) (*Sweeper, *lifecycle.Engine, *memstore.Store, *clock.Fake) {
	t.Helper()
	fk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := memstore.New(fk)
	t.Cleanup(func() { _ = st.Close() })
	logger := observability.NewStandardLogger("sweeper-test")
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	life := lifecycle.New(st, fk, nil, logger)
	q := query.New(st, fk, metrics, time.Millisecond)
	sw := New(q, life, logger, metrics, time.Hour, timeout)
	return sw, life, st, fk
}

func TestSweep_UnlocksOnlyTasksPastTimeout(t *testing.T) {
	sw, life, st, fk := newTestSweeper(t, 24*time.Hour)
	ctx := context.Background()

	fresh, err := life.CreateTask(ctx, lifecycle.CreateTaskInput{
		Title: "Fresh reservation here", TaskType: models.TaskTypeConcrete,
		TaskInstruction: "do the thing carefully", VerificationInstruction: "check it works",
		AgentID: "agent-1", Priority: models.PriorityMedium,
	})
	require.NoError(t, err)
	stale, err := life.CreateTask(ctx, lifecycle.CreateTaskInput{
		Title: "Stale reservation here", TaskType: models.TaskTypeConcrete,
		TaskInstruction: "do the thing carefully", VerificationInstruction: "check it works",
		AgentID: "agent-1", Priority: models.PriorityMedium,
	})
	require.NoError(t, err)

	_, err = life.Reserve(ctx, stale.TaskID, "agent-1")
	require.NoError(t, err)
	fk.Advance(30 * time.Hour)
	_, err = life.Reserve(ctx, fresh.TaskID, "agent-2")
	require.NoError(t, err)

	sw.sweep(ctx)

	freshTask, err := st.GetTask(ctx, fresh.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, freshTask.Status)

	staleTask, err := st.GetTask(ctx, stale.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusAvailable, staleTask.Status)
	require.NotNil(t, staleTask.LastAutoUnlock)
	assert.Equal(t, "agent-1", staleTask.LastAutoUnlock.PreviousAgent)
}

func TestSweep_NoStaleTasksIsNoop(t *testing.T) {
	sw, life, st, _ := newTestSweeper(t, 24*time.Hour)
	ctx := context.Background()

	created, err := life.CreateTask(ctx, lifecycle.CreateTaskInput{
		Title: "Untouched task here", TaskType: models.TaskTypeConcrete,
		TaskInstruction: "do the thing carefully", VerificationInstruction: "check it works",
		AgentID: "agent-1", Priority: models.PriorityMedium,
	})
	require.NoError(t, err)

	sw.sweep(ctx)

	task, err := st.GetTask(ctx, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusAvailable, task.Status)
}
