package dispatch

import (
	"context"
	"encoding/json"

	"github.com/taskmesh/taskcore/internal/lifecycle"
)

func (d *Dispatcher) registerLifecycle() {
	d.register("create_task", schemaCreateTask, handleCreateTask)
	d.register("reserve_task", schemaReserveTask, handleReserveTask)
	d.register("complete_task", schemaCompleteTask, handleCompleteTask)
	d.register("unlock_task", schemaUnlockTask, handleUnlockTask)
	d.register("verify_task", schemaVerifyTask, handleVerifyTask)
	d.register("bulk_unlock_tasks", schemaBulkUnlock, handleBulkUnlock)
	d.register("add_task_update", schemaAddUpdate, handleAddUpdate)
	d.register("create_task_relationship", schemaCreateRelationship, handleCreateRelationship)
	d.register("link_github_issue", schemaGithubLink, handleLinkGithubIssue)
	d.register("link_github_pr", schemaGithubLink, handleLinkGithubPR)
	d.register("get_github_links", schemaTaskIDOnly, handleGetGithubLinks)
}

func handleCreateTask(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p createTaskParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	res, err := d.life.CreateTask(ctx, lifecycle.CreateTaskInput{
		Title: p.Title, TaskType: p.TaskType, TaskInstruction: p.TaskInstruction,
		VerificationInstruction: p.VerificationInstruction, AgentID: p.AgentID,
		ProjectID: p.ProjectID, ParentTaskID: p.ParentTaskID, RelationshipType: p.RelationshipType,
		Priority: p.Priority, Notes: p.Notes, EstimatedHours: p.EstimatedHours,
		DueDate: p.DueDate, IdempotencyKey: p.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{"task_id": res.TaskID}
	if res.RelationshipID != nil {
		out["relationship_id"] = *res.RelationshipID
	}
	return out, nil
}

func handleReserveTask(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p reserveTaskParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	res, err := d.life.Reserve(ctx, p.TaskID, p.AgentID)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{"task": res.Task}
	if res.StaleWarning != nil {
		out["stale_warning"] = res.StaleWarning
	}
	return out, nil
}

func handleCompleteTask(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p completeTaskParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	in := lifecycle.CompleteInput{TaskID: p.TaskID, AgentID: p.AgentID, Notes: p.Notes, ActualHours: p.ActualHours}
	if p.Followup != nil {
		in.Followup = &lifecycle.FollowupInput{
			Title: p.Followup.Title, TaskType: p.Followup.TaskType,
			TaskInstruction: p.Followup.TaskInstruction, VerificationInstruction: p.Followup.VerificationInstruction,
		}
	}
	res, err := d.life.Complete(ctx, in)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{"task": res.Task, "event": string(res.EventType)}
	if res.FollowupTaskID != nil {
		out["followup_task_id"] = *res.FollowupTaskID
	}
	return out, nil
}

func handleUnlockTask(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p unlockTaskParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	if err := d.life.Unlock(ctx, p.TaskID, p.AgentID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"task_id": p.TaskID}, nil
}

func handleVerifyTask(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p verifyTaskParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	if err := d.life.Verify(ctx, p.TaskID, p.AgentID, p.Notes); err != nil {
		return nil, err
	}
	return map[string]interface{}{"task_id": p.TaskID}, nil
}

func handleBulkUnlock(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p bulkUnlockParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	outcomes, err := d.life.BulkUnlock(ctx, p.TaskIDs, p.AgentID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"outcomes": outcomes}, nil
}

func handleAddUpdate(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p addUpdateParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	u, err := d.life.AddUpdate(ctx, lifecycle.AddUpdateInput{
		TaskID: p.TaskID, AgentID: p.AgentID, Content: p.Content, UpdateType: p.UpdateType, Metadata: p.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"update": u}, nil
}

func handleCreateRelationship(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p createRelationshipParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	id, err := d.life.CreateRelationship(ctx, p.ParentTaskID, p.ChildTaskID, p.RelationshipType, p.AgentID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"relationship_id": id}, nil
}

func handleLinkGithubIssue(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p githubLinkParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	if err := d.life.LinkGithubIssue(ctx, p.TaskID, p.AgentID, p.URL); err != nil {
		return nil, err
	}
	return map[string]interface{}{"task_id": p.TaskID}, nil
}

func handleLinkGithubPR(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p githubLinkParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	if err := d.life.LinkGithubPR(ctx, p.TaskID, p.AgentID, p.URL); err != nil {
		return nil, err
	}
	return map[string]interface{}{"task_id": p.TaskID}, nil
}

func handleGetGithubLinks(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p taskIDOnlyParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	issueURL, prURL, err := d.life.GetGithubLinks(ctx, p.TaskID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"github_issue_url": issueURL, "github_pr_url": prURL}, nil
}
