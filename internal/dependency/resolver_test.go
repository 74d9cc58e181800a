package dependency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskcore/internal/clock"
	"github.com/taskmesh/taskcore/internal/models"
	"github.com/taskmesh/taskcore/internal/store"
	"github.com/taskmesh/taskcore/internal/store/memstore"
)

func newTask(t *testing.T, ctx context.Context, st store.Store, title string, status models.TaskStatus) int64 {
	t.Helper()
	var id int64
	err := st.WriteTx(ctx, func(tx store.Tx) error {
		task := &models.Task{
			TaskType: models.TaskTypeConcrete, Priority: models.PriorityMedium,
			Title: title, TaskInstruction: "do the thing carefully",
			VerificationInstruction: "check the thing works",
			Status:                  status, VerificationStatus: models.VerificationUnverified,
			CreatedAt: time.Now(), UpdatedAt: time.Now(), Version: 1,
		}
		tid, err := tx.InsertTask(ctx, task)
		id = tid
		return err
	})
	require.NoError(t, err)
	return id
}

func addRelationship(t *testing.T, ctx context.Context, st store.Store, parent, child int64, relType models.RelationshipType) {
	t.Helper()
	err := st.WriteTx(ctx, func(tx store.Tx) error {
		_, err := tx.InsertRelationship(ctx, &models.Relationship{
			ParentTaskID: parent, ChildTaskID: child, RelationshipType: relType,
			CreatedAt: time.Now(), CreatedBy: "agent-1",
		})
		return err
	})
	require.NoError(t, err)
}

func TestBlockedSet_DirectBlockedBy(t *testing.T) {
	ctx := context.Background()
	st := memstore.New(clock.Real{})
	defer st.Close()

	blocker := newTask(t, ctx, st, "Blocker task here", models.TaskStatusAvailable)
	blocked := newTask(t, ctx, st, "Blocked task here", models.TaskStatusAvailable)
	addRelationship(t, ctx, st, blocker, blocked, models.RelBlockedBy)

	res := New(st)
	is, err := res.IsBlocked(ctx, blocked)
	require.NoError(t, err)
	assert.True(t, is)
}

func TestBlockedSet_ResolvedBlockerUnblocks(t *testing.T) {
	ctx := context.Background()
	st := memstore.New(clock.Real{})
	defer st.Close()

	blocker := newTask(t, ctx, st, "Blocker task here", models.TaskStatusComplete)
	blocked := newTask(t, ctx, st, "Blocked task here", models.TaskStatusAvailable)
	addRelationship(t, ctx, st, blocker, blocked, models.RelBlockedBy)

	res := New(st)
	is, err := res.IsBlocked(ctx, blocked)
	require.NoError(t, err)
	assert.False(t, is)
}

func TestBlockedSet_TransitiveSubtaskBlock(t *testing.T) {
	ctx := context.Background()
	st := memstore.New(clock.Real{})
	defer st.Close()

	parent := newTask(t, ctx, st, "Parent task here", models.TaskStatusAvailable)
	child := newTask(t, ctx, st, "Child task here", models.TaskStatusBlocked)
	addRelationship(t, ctx, st, parent, child, models.RelSubtask)

	res := New(st)
	is, err := res.IsBlocked(ctx, parent)
	require.NoError(t, err)
	assert.True(t, is, "a parent with a blocked subtask is itself effectively blocked")
}

func TestWouldCreateCycle_DirectSelfLoop(t *testing.T) {
	ctx := context.Background()
	st := memstore.New(clock.Real{})
	defer st.Close()

	res := New(st)
	would, err := res.WouldCreateCycle(ctx, 1, 1)
	require.NoError(t, err)
	assert.True(t, would)
}

func TestWouldCreateCycle_TransitivePath(t *testing.T) {
	ctx := context.Background()
	st := memstore.New(clock.Real{})
	defer st.Close()

	a := newTask(t, ctx, st, "Task A here", models.TaskStatusAvailable)
	b := newTask(t, ctx, st, "Task B here", models.TaskStatusAvailable)
	c := newTask(t, ctx, st, "Task C here", models.TaskStatusAvailable)
	addRelationship(t, ctx, st, a, b, models.RelSubtask)
	addRelationship(t, ctx, st, b, c, models.RelSubtask)

	res := New(st)
	would, err := res.WouldCreateCycle(ctx, c, a)
	require.NoError(t, err)
	assert.True(t, would, "c -> a would close the a -> b -> c path into a cycle")
}

func TestWouldCreateCycle_UnrelatedTasksFalse(t *testing.T) {
	ctx := context.Background()
	st := memstore.New(clock.Real{})
	defer st.Close()

	a := newTask(t, ctx, st, "Task A here", models.TaskStatusAvailable)
	b := newTask(t, ctx, st, "Task B here", models.TaskStatusAvailable)

	res := New(st)
	would, err := res.WouldCreateCycle(ctx, a, b)
	require.NoError(t, err)
	assert.False(t, would)
}
