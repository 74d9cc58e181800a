package lifecycle

import (
	"context"
	"time"

	"github.com/taskmesh/taskcore/internal/changelog"
	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/events"
	"github.com/taskmesh/taskcore/internal/models"
	"github.com/taskmesh/taskcore/internal/store"
)

// CreateTaskInput is create_task's input record; unknown keys are the
// Tool Dispatcher's concern, not this package's.
type CreateTaskInput struct {
	Title                   string
	TaskType                models.TaskType
	TaskInstruction         string
	VerificationInstruction string
	AgentID                 string
	ProjectID               *int64
	ParentTaskID            *int64
	RelationshipType        *models.RelationshipType
	Priority                models.Priority
	Notes                   string
	EstimatedHours          *float64
	DueDate                 *string
	IdempotencyKey          *string
}

// CreateTaskResult is create_task's result.
type CreateTaskResult struct {
	TaskID         int64
	RelationshipID *int64
}

func (e *Engine) CreateTask(ctx context.Context, in CreateTaskInput) (*CreateTaskResult, error) {
	if in.IdempotencyKey != nil && *in.IdempotencyKey != "" {
		if existing, err := e.store.FindTaskByIdempotencyKey(ctx, *in.IdempotencyKey); err == nil {
			return &CreateTaskResult{TaskID: existing.ID}, nil
		}
	}

	title, err := validateTitle(in.Title)
	if err != nil {
		return nil, err
	}
	instr, err := validateInstruction("task_instruction", in.TaskInstruction)
	if err != nil {
		return nil, err
	}
	verif, err := validateInstruction("verification_instruction", in.VerificationInstruction)
	if err != nil {
		return nil, err
	}
	if _, err := validateNonEmpty("agent_id", in.AgentID); err != nil {
		return nil, err
	}
	if !in.TaskType.Valid() {
		return nil, errs.Validation("invalid task_type %q", in.TaskType)
	}
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, errs.Validation("invalid priority %q", in.Priority)
	}
	if err := validateHours("estimated_hours", in.EstimatedHours); err != nil {
		return nil, err
	}
	dueDate, err := parseDueDate(in.DueDate)
	if err != nil {
		return nil, err
	}
	if in.ParentTaskID != nil && in.RelationshipType == nil {
		return nil, errs.Validation("relationship_type is required when parent_task_id is set")
	}
	if in.RelationshipType != nil && !in.RelationshipType.Valid() {
		return nil, errs.Validation("invalid relationship_type %q", *in.RelationshipType)
	}

	result := &CreateTaskResult{}
	err = e.writeTx(ctx, "lifecycle.create_task", func(tx store.Tx) error {
		now := e.clk.Now()
		if in.ParentTaskID != nil {
			if _, err := tx.GetTask(ctx, *in.ParentTaskID); err != nil {
				return errs.Wrap(errs.KindNotFound, err, "parent task %d not found", *in.ParentTaskID)
			}
		}

		task := &models.Task{
			ProjectID:               in.ProjectID,
			TaskType:                in.TaskType,
			Priority:                priority,
			Title:                   title,
			TaskInstruction:         instr,
			VerificationInstruction: verif,
			Notes:                   trimmed(in.Notes),
			Status:                  models.TaskStatusAvailable,
			VerificationStatus:      models.VerificationUnverified,
			EstimatedHours:          in.EstimatedHours,
			DueDate:                 dueDate,
			CreatedAt:               now,
			UpdatedAt:               now,
			IdempotencyKey:          in.IdempotencyKey,
			Version:                 1,
		}
		id, err := tx.InsertTask(ctx, task)
		if err != nil {
			return err
		}
		result.TaskID = id

		if in.ParentTaskID != nil {
			would, err := resolverFor(tx).WouldCreateCycle(ctx, *in.ParentTaskID, id)
			if err != nil {
				return err
			}
			if would {
				return errs.CycleDetected("linking task %d to parent %d would create a cycle", id, *in.ParentTaskID)
			}
			rel := &models.Relationship{
				ParentTaskID:     *in.ParentTaskID,
				ChildTaskID:      id,
				RelationshipType: *in.RelationshipType,
				CreatedAt:        now,
				CreatedBy:        in.AgentID,
			}
			relID, err := tx.InsertRelationship(ctx, rel)
			if err != nil {
				return err
			}
			result.RelationshipID = &relID
		}

		diffs := []changelog.FieldDiff{
			{Field: "title", Old: "", New: task.Title},
			{Field: "task_type", Old: "", New: string(task.TaskType)},
			{Field: "priority", Old: "", New: string(task.Priority)},
			{Field: "task_instruction", Old: "", New: task.TaskInstruction},
			{Field: "verification_instruction", Old: "", New: task.VerificationInstruction},
			{Field: "task_status", Old: "", New: string(task.Status)},
		}
		if task.Notes != "" {
			diffs = append(diffs, changelog.FieldDiff{Field: "notes", Old: "", New: task.Notes})
		}
		if task.EstimatedHours != nil {
			diffs = append(diffs, changelog.FieldDiff{Field: "estimated_hours", Old: "", New: floatField(task.EstimatedHours)})
		}
		if task.DueDate != nil {
			diffs = append(diffs, changelog.FieldDiff{Field: "due_date", Old: "", New: timeField(task.DueDate)})
		}
		entries := changelog.FieldChanges(id, in.AgentID, models.ChangeCreate, now, diffs)
		if err := tx.AppendChangeEntries(ctx, entries); err != nil {
			return err
		}
		if _, err := tx.AppendTaskVersion(ctx, snapshot(id, task, now)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, events.Event{Type: events.TaskCreated, TaskID: result.TaskID, Actor: in.AgentID,
		After: map[string]interface{}{"task_id": result.TaskID, "task_status": string(models.TaskStatusAvailable)}})
	return result, nil
}

// StaleWarning is attached to a reserve response when the task was
// previously auto-unlocked by the stale sweeper.
type StaleWarning struct {
	PreviousAgent string
	UnlockedAt    time.Time
	Reason        string
}

// ReserveResult is reserve's result.
type ReserveResult struct {
	Task         *models.Task
	StaleWarning *StaleWarning
}

func (e *Engine) Reserve(ctx context.Context, taskID int64, agentID string) (*ReserveResult, error) {
	if _, err := validateNonEmpty("agent_id", agentID); err != nil {
		return nil, err
	}
	result := &ReserveResult{}
	err := e.writeTx(ctx, "lifecycle.reserve_task", func(tx store.Tx) error {
		now := e.clk.Now()
		task, err := tx.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status != models.TaskStatusAvailable {
			return errs.Unavailable("task %d is %s, not available", taskID, task.Status)
		}
		blocked, err := resolverFor(tx).IsBlocked(ctx, taskID)
		if err != nil {
			return err
		}
		if blocked {
			return errs.Unavailable("task %d is effectively blocked", taskID)
		}

		oldStatus := task.Status
		task.Status = models.TaskStatusInProgress
		task.AssignedAgent = &agentID
		task.AssignedAt = &now
		task.UpdatedAt = now
		task.Version++
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}

		diffs := []changelog.FieldDiff{
			{Field: "task_status", Old: string(oldStatus), New: string(task.Status)},
			{Field: "assigned_agent", Old: "", New: agentID},
		}
		entries := changelog.FieldChanges(taskID, agentID, models.ChangeUpdate, now, diffs)
		if err := tx.AppendChangeEntries(ctx, entries); err != nil {
			return err
		}
		if _, err := tx.AppendTaskVersion(ctx, snapshot(taskID, task, now)); err != nil {
			return err
		}

		if task.LastAutoUnlock != nil {
			result.StaleWarning = &StaleWarning{
				PreviousAgent: task.LastAutoUnlock.PreviousAgent,
				UnlockedAt:    task.LastAutoUnlock.UnlockedAt,
				Reason:        task.LastAutoUnlock.Reason,
			}
		}
		result.Task = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, events.Event{Type: events.TaskReserved, TaskID: taskID, Actor: agentID,
		After: map[string]interface{}{"task_status": string(models.TaskStatusInProgress), "assigned_agent": agentID}})
	return result, nil
}

// FollowupInput describes a task to create and link as a followup of the
// task being completed.
type FollowupInput struct {
	Title                   string
	TaskType                models.TaskType
	TaskInstruction         string
	VerificationInstruction string
}

// CompleteInput is complete's input record.
type CompleteInput struct {
	TaskID      int64
	AgentID     string
	Notes       string
	ActualHours *float64
	Followup    *FollowupInput
}

// CompleteResult is complete's result; EventType is task.completed or
// task.verified depending on which admissible caller-state pair matched.
type CompleteResult struct {
	Task           *models.Task
	EventType      events.Type
	FollowupTaskID *int64
}

func (e *Engine) Complete(ctx context.Context, in CompleteInput) (*CompleteResult, error) {
	if _, err := validateNonEmpty("agent_id", in.AgentID); err != nil {
		return nil, err
	}
	if err := validateHours("actual_hours", in.ActualHours); err != nil {
		return nil, err
	}
	result := &CompleteResult{}
	err := e.writeTx(ctx, "lifecycle.complete_task", func(tx store.Tx) error {
		now := e.clk.Now()
		task, err := tx.GetTaskForUpdate(ctx, in.TaskID)
		if err != nil {
			return err
		}
		if task.AssignedAgent == nil || *task.AssignedAgent != in.AgentID {
			return errs.NotAssigned("agent %q is not assigned to task %d", in.AgentID, in.TaskID)
		}

		switch {
		case task.Status == models.TaskStatusInProgress:
			oldStatus := task.Status
			task.Status = models.TaskStatusComplete
			task.CompletedAt = &now
			task.UpdatedAt = now
			task.Version++
			if in.Notes != "" {
				task.Notes = trimmed(in.Notes)
			}
			if in.ActualHours != nil {
				task.ActualHours = in.ActualHours
			}
			if err := tx.UpdateTask(ctx, task); err != nil {
				return err
			}
			diffs := []changelog.FieldDiff{
				{Field: "task_status", Old: string(oldStatus), New: string(task.Status)},
				{Field: "completed_at", Old: "", New: timeField(task.CompletedAt)},
			}
			if in.ActualHours != nil {
				diffs = append(diffs, changelog.FieldDiff{Field: "actual_hours", Old: "", New: floatField(task.ActualHours)})
			}
			entries := changelog.FieldChanges(in.TaskID, in.AgentID, models.ChangeUpdate, now, diffs)
			if err := tx.AppendChangeEntries(ctx, entries); err != nil {
				return err
			}
			if _, err := tx.AppendTaskVersion(ctx, snapshot(in.TaskID, task, now)); err != nil {
				return err
			}
			result.EventType = events.TaskCompleted

			if in.Followup != nil {
				title, err := validateTitle(in.Followup.Title)
				if err != nil {
					return err
				}
				instr, err := validateInstruction("task_instruction", in.Followup.TaskInstruction)
				if err != nil {
					return err
				}
				vInstr, err := validateInstruction("verification_instruction", in.Followup.VerificationInstruction)
				if err != nil {
					return err
				}
				if !in.Followup.TaskType.Valid() {
					return errs.Validation("invalid followup task_type %q", in.Followup.TaskType)
				}
				followup := &models.Task{
					ProjectID:               task.ProjectID,
					TaskType:                in.Followup.TaskType,
					Priority:                models.PriorityMedium,
					Title:                   title,
					TaskInstruction:         instr,
					VerificationInstruction: vInstr,
					Status:                  models.TaskStatusAvailable,
					VerificationStatus:      models.VerificationUnverified,
					CreatedAt:               now,
					UpdatedAt:               now,
					Version:                 1,
				}
				fid, err := tx.InsertTask(ctx, followup)
				if err != nil {
					return err
				}
				if _, err := tx.InsertRelationship(ctx, &models.Relationship{
					ParentTaskID: in.TaskID, ChildTaskID: fid,
					RelationshipType: models.RelFollowup, CreatedAt: now, CreatedBy: in.AgentID,
				}); err != nil {
					return err
				}
				createDiffs := []changelog.FieldDiff{
					{Field: "title", Old: "", New: followup.Title},
					{Field: "task_type", Old: "", New: string(followup.TaskType)},
					{Field: "task_status", Old: "", New: string(followup.Status)},
				}
				if err := tx.AppendChangeEntries(ctx, changelog.FieldChanges(fid, in.AgentID, models.ChangeCreate, now, createDiffs)); err != nil {
					return err
				}
				if _, err := tx.AppendTaskVersion(ctx, snapshot(fid, followup, now)); err != nil {
					return err
				}
				result.FollowupTaskID = &fid
			}

		case task.Status == models.TaskStatusComplete && task.VerificationStatus == models.VerificationUnverified:
			oldV := task.VerificationStatus
			task.VerificationStatus = models.VerificationVerified
			task.UpdatedAt = now
			task.Version++
			if err := tx.UpdateTask(ctx, task); err != nil {
				return err
			}
			diffs := []changelog.FieldDiff{{Field: "verification_status", Old: string(oldV), New: string(task.VerificationStatus)}}
			if err := tx.AppendChangeEntries(ctx, changelog.FieldChanges(in.TaskID, in.AgentID, models.ChangeUpdate, now, diffs)); err != nil {
				return err
			}
			if _, err := tx.AppendTaskVersion(ctx, snapshot(in.TaskID, task, now)); err != nil {
				return err
			}
			result.EventType = events.TaskVerified

		default:
			return errs.InvalidTransition("task %d in state %s/%s cannot be completed by this call", in.TaskID, task.Status, task.VerificationStatus)
		}

		result.Task = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, events.Event{Type: result.EventType, TaskID: in.TaskID, Actor: in.AgentID,
		After: map[string]interface{}{"task_status": string(result.Task.Status), "verification_status": string(result.Task.VerificationStatus)}})
	return result, nil
}

// Verify is the verify_task shortcut: it requires complete+unverified and
// transitions verification_status to verified. Unlike Complete's own
// verify-on-complete path, the caller need not be the original assignee —
// verification is commonly performed by a reviewer distinct from the
// implementer (see the happy-path scenario: a1 completes, a2 verifies).
func (e *Engine) Verify(ctx context.Context, taskID int64, agentID, notes string) error {
	if _, err := validateNonEmpty("agent_id", agentID); err != nil {
		return err
	}
	err := e.writeTx(ctx, "lifecycle.verify_task", func(tx store.Tx) error {
		now := e.clk.Now()
		task, err := tx.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status != models.TaskStatusComplete || task.VerificationStatus != models.VerificationUnverified {
			return errs.InvalidTransition("task %d in state %s/%s cannot be verified", taskID, task.Status, task.VerificationStatus)
		}
		oldV := task.VerificationStatus
		task.VerificationStatus = models.VerificationVerified
		if notes != "" {
			task.Notes = trimmed(notes)
		}
		task.UpdatedAt = now
		task.Version++
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		diffs := []changelog.FieldDiff{{Field: "verification_status", Old: string(oldV), New: string(task.VerificationStatus)}}
		if err := tx.AppendChangeEntries(ctx, changelog.FieldChanges(taskID, agentID, models.ChangeUpdate, now, diffs)); err != nil {
			return err
		}
		if _, err := tx.AppendTaskVersion(ctx, snapshot(taskID, task, now)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.publish(ctx, events.Event{Type: events.TaskVerified, TaskID: taskID, Actor: agentID,
		After: map[string]interface{}{"verification_status": string(models.VerificationVerified)}})
	return nil
}
