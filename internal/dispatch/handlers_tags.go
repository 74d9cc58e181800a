package dispatch

import (
	"context"
	"encoding/json"
)

func (d *Dispatcher) registerTags() {
	d.register("create_task_tag", "", handleCreateTag)
	d.register("list_task_tags", "", handleListTags)
	d.register("assign_tag_to_task", "", handleAssignTag)
	d.register("remove_tag_from_task", "", handleRemoveTag)
	d.register("get_task_tags", schemaTaskIDOnly, handleGetTaskTags)
}

type createTagParams struct {
	Name string `json:"name" validate:"required"`
}

func handleCreateTag(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p createTagParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	tag, err := d.life.CreateTag(ctx, p.Name)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tag": tag}, nil
}

func handleListTags(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	tags, err := d.life.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tags": tags}, nil
}

type tagTaskParams struct {
	TaskID  int64  `json:"task_id" validate:"required"`
	TagID   int64  `json:"tag_id" validate:"required"`
	AgentID string `json:"agent_id"`
}

func handleAssignTag(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p tagTaskParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	if err := d.life.AssignTag(ctx, p.TaskID, p.TagID, p.AgentID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"task_id": p.TaskID, "tag_id": p.TagID}, nil
}

func handleRemoveTag(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p tagTaskParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	if err := d.life.RemoveTag(ctx, p.TaskID, p.TagID, p.AgentID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"task_id": p.TaskID, "tag_id": p.TagID}, nil
}

func handleGetTaskTags(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p taskIDOnlyParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	tags, err := d.life.GetTaskTags(ctx, p.TaskID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tags": tags}, nil
}
