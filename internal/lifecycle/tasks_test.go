package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskcore/internal/clock"
	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/models"
	"github.com/taskmesh/taskcore/internal/store/memstore"
)

func newTestEngine(t *testing.T) (*Engine, *clock.Fake) {
	t.Helper()
	fk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := memstore.New(fk)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, fk, nil, nil), fk
}

func basicCreateInput(title string) CreateTaskInput {
	return CreateTaskInput{
		Title:                   title,
		TaskType:                models.TaskTypeConcrete,
		TaskInstruction:         "do the thing carefully",
		VerificationInstruction: "check the thing works",
		AgentID:                 "agent-1",
		Priority:                models.PriorityMedium,
	}
}

func TestCreateTask_HappyPath(t *testing.T) {
	e, _ := newTestEngine(t)
	res, err := e.CreateTask(context.Background(), basicCreateInput("Implement widget"))
	require.NoError(t, err)
	assert.NotZero(t, res.TaskID)
	assert.Nil(t, res.RelationshipID)
}

func TestCreateTask_TitleTooShort(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.CreateTask(context.Background(), basicCreateInput("ab"))
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestCreateTask_ParentRequiresRelationshipType(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	parent, err := e.CreateTask(ctx, basicCreateInput("Parent task here"))
	require.NoError(t, err)

	in := basicCreateInput("Child task here")
	in.ParentTaskID = &parent.TaskID
	_, err = e.CreateTask(ctx, in)
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestCreateTask_CycleRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	parent, err := e.CreateTask(ctx, basicCreateInput("Parent task here"))
	require.NoError(t, err)

	subtask := models.RelSubtask
	in := basicCreateInput("Child task here")
	in.ParentTaskID = &parent.TaskID
	in.RelationshipType = &subtask
	child, err := e.CreateTask(ctx, in)
	require.NoError(t, err)

	_, err = e.CreateRelationship(ctx, child.TaskID, parent.TaskID, models.RelSubtask, "agent-1")
	require.Error(t, err)
	assert.Equal(t, errs.KindCycleDetected, errs.KindOf(err))
}

func TestCreateTask_Idempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	key := "create-once"
	in := basicCreateInput("Idempotent task")
	in.IdempotencyKey = &key

	first, err := e.CreateTask(ctx, in)
	require.NoError(t, err)
	second, err := e.CreateTask(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.TaskID, second.TaskID)
}

func TestReserve_HappyPath(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := e.CreateTask(ctx, basicCreateInput("Reservable task"))
	require.NoError(t, err)

	res, err := e.Reserve(ctx, created.TaskID, "agent-2")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, res.Task.Status)
	assert.Equal(t, "agent-2", *res.Task.AssignedAgent)
	assert.Nil(t, res.StaleWarning)
}

func TestReserve_AlreadyReserved(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := e.CreateTask(ctx, basicCreateInput("Reservable task"))
	require.NoError(t, err)

	_, err = e.Reserve(ctx, created.TaskID, "agent-2")
	require.NoError(t, err)

	_, err = e.Reserve(ctx, created.TaskID, "agent-3")
	require.Error(t, err)
	assert.Equal(t, errs.KindUnavailable, errs.KindOf(err))
}

func TestReserve_BlockedByUnresolvedBlocker(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	blocker, err := e.CreateTask(ctx, basicCreateInput("Blocker task"))
	require.NoError(t, err)
	blocked, err := e.CreateTask(ctx, basicCreateInput("Blocked task"))
	require.NoError(t, err)

	_, err = e.CreateRelationship(ctx, blocker.TaskID, blocked.TaskID, models.RelBlockedBy, "agent-1")
	require.NoError(t, err)

	_, err = e.Reserve(ctx, blocked.TaskID, "agent-2")
	require.Error(t, err)
	assert.Equal(t, errs.KindUnavailable, errs.KindOf(err))
}

func TestCompleteThenVerify(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := e.CreateTask(ctx, basicCreateInput("Completable task"))
	require.NoError(t, err)
	_, err = e.Reserve(ctx, created.TaskID, "agent-1")
	require.NoError(t, err)

	hours := 1.5
	completed, err := e.Complete(ctx, CompleteInput{TaskID: created.TaskID, AgentID: "agent-1", ActualHours: &hours})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusComplete, completed.Task.Status)
	assert.Equal(t, models.VerificationUnverified, completed.Task.VerificationStatus)

	verified, err := e.Complete(ctx, CompleteInput{TaskID: created.TaskID, AgentID: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, models.VerificationVerified, verified.Task.VerificationStatus)
}

func TestComplete_WrongAgentNotAssigned(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := e.CreateTask(ctx, basicCreateInput("Completable task"))
	require.NoError(t, err)
	_, err = e.Reserve(ctx, created.TaskID, "agent-1")
	require.NoError(t, err)

	_, err = e.Complete(ctx, CompleteInput{TaskID: created.TaskID, AgentID: "agent-stranger"})
	require.Error(t, err)
	assert.Equal(t, errs.KindNotAssigned, errs.KindOf(err))
}

func TestComplete_WithFollowup(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := e.CreateTask(ctx, basicCreateInput("Task with followup"))
	require.NoError(t, err)
	_, err = e.Reserve(ctx, created.TaskID, "agent-1")
	require.NoError(t, err)

	result, err := e.Complete(ctx, CompleteInput{
		TaskID:  created.TaskID,
		AgentID: "agent-1",
		Followup: &FollowupInput{
			Title:                   "Followup task",
			TaskType:                models.TaskTypeConcrete,
			TaskInstruction:         "do the followup work",
			VerificationInstruction: "check the followup",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result.FollowupTaskID)

	followup, err := e.store.GetTask(ctx, *result.FollowupTaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusAvailable, followup.Status)
}

func TestVerify_RequiresCompleteAndUnverified(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := e.CreateTask(ctx, basicCreateInput("Task to verify"))
	require.NoError(t, err)

	err = e.Verify(ctx, created.TaskID, "agent-2", "")
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidTransition, errs.KindOf(err))
}

func TestUnlock_ReleasesReservation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := e.CreateTask(ctx, basicCreateInput("Unlockable task"))
	require.NoError(t, err)
	_, err = e.Reserve(ctx, created.TaskID, "agent-1")
	require.NoError(t, err)

	err = e.Unlock(ctx, created.TaskID, "agent-1")
	require.NoError(t, err)

	task, err := e.store.GetTask(ctx, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusAvailable, task.Status)
	assert.Nil(t, task.AssignedAgent)
}

func TestUnlock_WrongAgentRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := e.CreateTask(ctx, basicCreateInput("Unlockable task"))
	require.NoError(t, err)
	_, err = e.Reserve(ctx, created.TaskID, "agent-1")
	require.NoError(t, err)

	err = e.Unlock(ctx, created.TaskID, "agent-stranger")
	require.Error(t, err)
	assert.Equal(t, errs.KindNotAssigned, errs.KindOf(err))
}

func TestBulkUnlock_AllOrNothing(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	ok, err := e.CreateTask(ctx, basicCreateInput("Bulk unlock ok"))
	require.NoError(t, err)
	_, err = e.Reserve(ctx, ok.TaskID, "agent-1")
	require.NoError(t, err)

	// Second id was never reserved, so the batch must fail as a whole.
	never, err := e.CreateTask(ctx, basicCreateInput("Bulk unlock never reserved"))
	require.NoError(t, err)

	outcomes, err := e.BulkUnlock(ctx, []int64{ok.TaskID, never.TaskID}, "agent-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.False(t, o.Success)
	}

	task, err := e.store.GetTask(ctx, ok.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, task.Status, "rolled back batch must not partially apply")
}

func TestAutoUnlockStale_RecordsLastAutoUnlock(t *testing.T) {
	e, fk := newTestEngine(t)
	ctx := context.Background()
	created, err := e.CreateTask(ctx, basicCreateInput("Stale task"))
	require.NoError(t, err)
	_, err = e.Reserve(ctx, created.TaskID, "agent-1")
	require.NoError(t, err)
	fk.Advance(48 * time.Hour)

	prev, err := e.AutoUnlockStale(ctx, created.TaskID, "exceeded stale timeout")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", prev)

	res, err := e.Reserve(ctx, created.TaskID, "agent-2")
	require.NoError(t, err)
	require.NotNil(t, res.StaleWarning)
	assert.Equal(t, "agent-1", res.StaleWarning.PreviousAgent)
}
