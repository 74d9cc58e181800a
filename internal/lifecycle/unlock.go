package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/taskmesh/taskcore/internal/changelog"
	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/events"
	"github.com/taskmesh/taskcore/internal/models"
	"github.com/taskmesh/taskcore/internal/store"
)

// unlockOne runs the unlock transition for one task inside an
// already-open write transaction, shared by the manual Unlock path, the
// BulkUnlock path and the Stale Sweeper. caller must match
// task.AssignedAgent unless synthetic is true (the sweeper's case).
func unlockOne(ctx context.Context, tx store.Tx, taskID int64, caller string, synthetic bool, findingNote string, metadata map[string]interface{}, now time.Time) error {
	task, err := tx.GetTaskForUpdate(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusInProgress {
		return errs.InvalidTransition("task %d is %s, not in_progress", taskID, task.Status)
	}
	if !synthetic && (task.AssignedAgent == nil || *task.AssignedAgent != caller) {
		return errs.NotAssigned("agent %q is not assigned to task %d", caller, taskID)
	}

	previousAgent := ""
	if task.AssignedAgent != nil {
		previousAgent = *task.AssignedAgent
	}

	oldStatus := task.Status
	task.Status = models.TaskStatusAvailable
	task.AssignedAgent = nil
	task.AssignedAt = nil
	task.UpdatedAt = now
	task.Version++
	if synthetic {
		task.LastAutoUnlock = &models.AutoUnlockRecord{
			PreviousAgent: previousAgent,
			UnlockedAt:    now,
			Reason:        findingNote,
		}
	}
	if err := tx.UpdateTask(ctx, task); err != nil {
		return err
	}

	diffs := []changelog.FieldDiff{
		{Field: "task_status", Old: string(oldStatus), New: string(task.Status)},
		{Field: "assigned_agent", Old: previousAgent, New: ""},
	}
	if err := tx.AppendChangeEntries(ctx, changelog.FieldChanges(taskID, caller, models.ChangeUpdate, now, diffs)); err != nil {
		return err
	}
	if _, err := tx.AppendTaskVersion(ctx, snapshot(taskID, task, now)); err != nil {
		return err
	}

	update := &models.Update{
		TaskID:    taskID,
		AgentID:   caller,
		Type:      models.UpdateFinding,
		Content:   findingNote,
		Metadata:  metadata,
		CreatedAt: now,
	}
	if _, err := tx.InsertUpdate(ctx, update); err != nil {
		return err
	}
	return nil
}

// Unlock releases a reservation held by caller.
func (e *Engine) Unlock(ctx context.Context, taskID int64, agentID string) error {
	if _, err := validateNonEmpty("agent_id", agentID); err != nil {
		return err
	}
	err := e.writeTx(ctx, "lifecycle.unlock_task", func(tx store.Tx) error {
		now := e.clk.Now()
		note := fmt.Sprintf("manual unlock by %s", agentID)
		return unlockOne(ctx, tx, taskID, agentID, false, note, nil, now)
	})
	if err != nil {
		return err
	}
	e.publish(ctx, events.Event{Type: events.TaskUnlocked, TaskID: taskID, Actor: agentID,
		After: map[string]interface{}{"task_status": string(models.TaskStatusAvailable)}})
	return nil
}

// BulkUnlockOutcome is one task's outcome within a bulk_unlock call.
type BulkUnlockOutcome struct {
	TaskID  int64
	Success bool
	Error   string
}

// BulkUnlock attempts to unlock every task in taskIDs as a single atomic
// unit: either all succeed or none change (P6). On partial failure the
// whole transaction is rolled back and outcomes record each id's reason.
func (e *Engine) BulkUnlock(ctx context.Context, taskIDs []int64, agentID string) ([]BulkUnlockOutcome, error) {
	if _, err := validateNonEmpty("agent_id", agentID); err != nil {
		return nil, err
	}
	reasons := make([]string, len(taskIDs))
	txErr := e.writeTx(ctx, "lifecycle.bulk_unlock", func(tx store.Tx) error {
		now := e.clk.Now()
		for i, id := range taskIDs {
			note := fmt.Sprintf("bulk unlock by %s", agentID)
			if err := unlockOne(ctx, tx, id, agentID, false, note, nil, now); err != nil {
				reasons[i] = err.Error()
				return err
			}
		}
		return nil
	})
	outcomes := make([]BulkUnlockOutcome, len(taskIDs))
	if txErr != nil {
		// All-or-nothing (P6/R3): every id is reported unsuccessful even
		// though some transitions ran before the failing one was hit — the
		// whole transaction rolled back, so none of them actually changed.
		for i, id := range taskIDs {
			reason := reasons[i]
			if reason == "" {
				reason = "rolled back because another task in the batch failed"
			}
			outcomes[i] = BulkUnlockOutcome{TaskID: id, Success: false, Error: reason}
		}
		return outcomes, nil
	}
	for i, id := range taskIDs {
		outcomes[i] = BulkUnlockOutcome{TaskID: id, Success: true}
	}
	for _, id := range taskIDs {
		e.publish(ctx, events.Event{Type: events.TaskUnlocked, TaskID: id, Actor: agentID,
			After: map[string]interface{}{"task_status": string(models.TaskStatusAvailable)}})
	}
	return outcomes, nil
}

// AutoUnlockStale releases a reservation the Stale Sweeper found past the
// configured timeout. Unlike Unlock it does not require caller to match
// the assigned agent (synthetic=true) and it stamps task.LastAutoUnlock
// so the next reserver sees a stale_warning (§4.7).
func (e *Engine) AutoUnlockStale(ctx context.Context, taskID int64, reason string) (previousAgent string, err error) {
	err = e.writeTx(ctx, "lifecycle.auto_unlock_stale", func(tx store.Tx) error {
		task, getErr := tx.GetTaskForUpdate(ctx, taskID)
		if getErr != nil {
			return getErr
		}
		if task.AssignedAgent != nil {
			previousAgent = *task.AssignedAgent
		}
		now := e.clk.Now()
		return unlockOne(ctx, tx, taskID, "sweeper", true, reason, nil, now)
	})
	if err != nil {
		return "", err
	}
	e.publish(ctx, events.Event{Type: events.TaskUnlockedStale, TaskID: taskID, Actor: "sweeper",
		Before: map[string]interface{}{"assigned_agent": previousAgent},
		After:  map[string]interface{}{"task_status": string(models.TaskStatusAvailable)}})
	return previousAgent, nil
}

// AddUpdateInput is add_update's input record.
type AddUpdateInput struct {
	TaskID     int64
	AgentID    string
	Content    string
	UpdateType models.UpdateType
	Metadata   map[string]interface{}
}

// AddUpdate appends an immutable narrative entry with no state change.
func (e *Engine) AddUpdate(ctx context.Context, in AddUpdateInput) (*models.Update, error) {
	if _, err := validateNonEmpty("agent_id", in.AgentID); err != nil {
		return nil, err
	}
	content, err := validateNonEmpty("content", in.Content)
	if err != nil {
		return nil, err
	}
	if !in.UpdateType.Valid() {
		return nil, errs.Validation("invalid update_type %q", in.UpdateType)
	}
	var result *models.Update
	err = e.writeTx(ctx, "lifecycle.add_update", func(tx store.Tx) error {
		if _, err := tx.GetTask(ctx, in.TaskID); err != nil {
			return err
		}
		now := e.clk.Now()
		u := &models.Update{
			TaskID: in.TaskID, AgentID: in.AgentID, Type: in.UpdateType,
			Content: content, Metadata: in.Metadata, CreatedAt: now,
		}
		id, err := tx.InsertUpdate(ctx, u)
		if err != nil {
			return err
		}
		u.ID = id
		result = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, events.Event{Type: events.TaskUpdated, TaskID: in.TaskID, Actor: in.AgentID,
		After: map[string]interface{}{"update_type": string(in.UpdateType)}})
	return result, nil
}

// CreateRelationship links two existing tasks, rejecting the edge if it
// would introduce a cycle in the dependency subgraph.
func (e *Engine) CreateRelationship(ctx context.Context, parentID, childID int64, relType models.RelationshipType, createdBy string) (int64, error) {
	if !relType.Valid() {
		return 0, errs.Validation("invalid relationship_type %q", relType)
	}
	if parentID == childID {
		return 0, errs.CycleDetected("a task cannot depend on itself")
	}
	var relID int64
	err := e.writeTx(ctx, "lifecycle.create_relationship", func(tx store.Tx) error {
		now := e.clk.Now()
		if _, err := tx.GetTask(ctx, parentID); err != nil {
			return err
		}
		if _, err := tx.GetTask(ctx, childID); err != nil {
			return err
		}
		if models.DependencyTypes[relType] {
			would, err := resolverFor(tx).WouldCreateCycle(ctx, parentID, childID)
			if err != nil {
				return err
			}
			if would {
				return errs.CycleDetected("linking %d -> %d (%s) would create a cycle", parentID, childID, relType)
			}
		}
		id, err := tx.InsertRelationship(ctx, &models.Relationship{
			ParentTaskID: parentID, ChildTaskID: childID, RelationshipType: relType,
			CreatedAt: now, CreatedBy: createdBy,
		})
		if err != nil {
			return err
		}
		relID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.publish(ctx, events.Event{Type: events.RelationshipCreate, TaskID: childID, Actor: createdBy,
		After: map[string]interface{}{"parent_task_id": parentID, "relationship_type": string(relType)}})
	return relID, nil
}

// LinkGithubIssue sets a task's github_issue_url; at most one may be set.
func (e *Engine) LinkGithubIssue(ctx context.Context, taskID int64, agentID, url string) error {
	return e.setGithubLink(ctx, taskID, agentID, "github_issue_url", url, func(t *models.Task, v *string) { t.GithubIssueURL = v })
}

// LinkGithubPR sets a task's github_pr_url; at most one may be set.
func (e *Engine) LinkGithubPR(ctx context.Context, taskID int64, agentID, url string) error {
	return e.setGithubLink(ctx, taskID, agentID, "github_pr_url", url, func(t *models.Task, v *string) { t.GithubPRURL = v })
}

func (e *Engine) setGithubLink(ctx context.Context, taskID int64, agentID, field, url string, apply func(*models.Task, *string)) error {
	url, err := validateNonEmpty(field, url)
	if err != nil {
		return err
	}
	return e.writeTx(ctx, "lifecycle.link_github", func(tx store.Tx) error {
		now := e.clk.Now()
		task, err := tx.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		old := strField(task.GithubIssueURL)
		if field == "github_pr_url" {
			old = strField(task.GithubPRURL)
		}
		apply(task, &url)
		task.UpdatedAt = now
		task.Version++
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		diffs := []changelog.FieldDiff{{Field: field, Old: old, New: url}}
		if err := tx.AppendChangeEntries(ctx, changelog.FieldChanges(taskID, agentID, models.ChangeUpdate, now, diffs)); err != nil {
			return err
		}
		_, err = tx.AppendTaskVersion(ctx, snapshot(taskID, task, now))
		return err
	})
}

// GetGithubLinks returns the task's current GitHub issue/PR URLs, if any.
func (e *Engine) GetGithubLinks(ctx context.Context, taskID int64) (issueURL, prURL *string, err error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	return task.GithubIssueURL, task.GithubPRURL, nil
}
