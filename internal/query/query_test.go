package query

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
	"github.com/taskmesh/taskcore/internal/store"
	"github.com/taskmesh/taskcore/internal/store/memstore"
)

func newTestSetup(t *testing.T) (*Engine, *lifecycle.Engine, *clock.Fake) {
	t.Helper()
	fk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := memstore.New(fk)
	t.Cleanup(func() { _ = st.Close() })
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	life := lifecycle.New(st, fk, nil, nil)
	q := New(st, fk, metrics, 100*time.Millisecond)
	return q, life, fk
}

func createTask(t *testing.T, life *lifecycle.Engine, title string, taskType models.TaskType, priority models.Priority) int64 {
	t.Helper()
	res, err := life.CreateTask(context.Background(), lifecycle.CreateTaskInput{
		Title:                   title,
		TaskType:                taskType,
		TaskInstruction:         "do the thing carefully",
		VerificationInstruction: "check the thing works",
		AgentID:                 "agent-1",
		Priority:                priority,
	})
	require.NoError(t, err)
	return res.TaskID
}

func TestListAvailable_OrdersByPriorityThenCreated(t *testing.T) {
	q, life, _ := newTestSetup(t)
	ctx := context.Background()

	createTask(t, life, "Low priority task", models.TaskTypeConcrete, models.PriorityLow)
	highID := createTask(t, life, "High priority task", models.TaskTypeConcrete, models.PriorityHigh)
	criticalID := createTask(t, life, "Critical priority task", models.TaskTypeConcrete, models.PriorityCritical)

	out, err := q.ListAvailable(ctx, AgentImplementation, nil, 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, criticalID, out[0].ID)
	assert.Equal(t, highID, out[1].ID)
}

func TestListAvailable_ExcludesBlocked(t *testing.T) {
	q, life, _ := newTestSetup(t)
	ctx := context.Background()

	blocker := createTask(t, life, "Blocker task", models.TaskTypeConcrete, models.PriorityMedium)
	blocked := createTask(t, life, "Blocked task", models.TaskTypeConcrete, models.PriorityMedium)
	_, err := life.CreateRelationship(ctx, blocker, blocked, models.RelBlockedBy, "agent-1")
	require.NoError(t, err)

	out, err := q.ListAvailable(ctx, AgentImplementation, nil, 0)
	require.NoError(t, err)
	for _, task := range out {
		assert.NotEqual(t, blocked, task.ID)
	}
}

func TestListAvailable_FiltersByAgentType(t *testing.T) {
	q, life, _ := newTestSetup(t)
	ctx := context.Background()

	createTask(t, life, "Concrete task", models.TaskTypeConcrete, models.PriorityMedium)
	abstractID := createTask(t, life, "Abstract task", models.TaskTypeAbstract, models.PriorityMedium)

	out, err := q.ListAvailable(ctx, AgentBreakdown, nil, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, abstractID, out[0].ID)
}

func TestQuery_LimitBounds(t *testing.T) {
	q, _, _ := newTestSetup(t)
	_, err := q.Query(context.Background(), store.TaskFilter{Limit: -1})
	require.Error(t, err)

	_, err = q.Query(context.Background(), store.TaskFilter{Limit: 5000})
	require.Error(t, err)
}

func TestStatistics_MatchesQueryCount(t *testing.T) {
	q, life, _ := newTestSetup(t)
	ctx := context.Background()
	createTask(t, life, "Task one here", models.TaskTypeConcrete, models.PriorityMedium)
	createTask(t, life, "Task two here", models.TaskTypeConcrete, models.PriorityMedium)

	stats, err := q.Statistics(ctx, StatisticsFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Total)

	counted, err := q.Query(ctx, store.TaskFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, len(counted), stats.Total)
}

func TestStale_UsesMaxOfHoursAndConfiguredTimeout(t *testing.T) {
	q, life, fk := newTestSetup(t)
	ctx := context.Background()
	taskID := createTask(t, life, "Long running task", models.TaskTypeConcrete, models.PriorityMedium)
	_, err := life.Reserve(ctx, taskID, "agent-1")
	require.NoError(t, err)

	fk.Advance(2 * time.Hour)
	out, err := q.Stale(ctx, nil, 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, out)

	fk.Advance(23 * time.Hour)
	out, err = q.Stale(ctx, nil, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, taskID, out[0].ID)
}

func TestActivityFeed_MergesChangesAndUpdatesInOrder(t *testing.T) {
	q, life, fk := newTestSetup(t)
	ctx := context.Background()
	taskID := createTask(t, life, "Activity task here", models.TaskTypeConcrete, models.PriorityMedium)

	fk.Advance(time.Minute)
	_, err := life.AddUpdate(ctx, lifecycle.AddUpdateInput{
		TaskID: taskID, AgentID: "agent-1", Content: "making progress", UpdateType: models.UpdateProgress,
	})
	require.NoError(t, err)

	out, err := q.ActivityFeed(ctx, &taskID, nil, nil, nil, 0)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	for i := 1; i < len(out); i++ {
		assert.False(t, out[i].Timestamp.Before(out[i-1].Timestamp))
	}
}
