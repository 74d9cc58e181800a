package dispatch

import (
	"context"
	"encoding/json"
)

func (d *Dispatcher) registerComments() {
	d.register("create_comment", "", handleCreateComment)
	d.register("get_comment", "", handleGetComment)
	d.register("update_comment", "", handleUpdateComment)
	d.register("delete_comment", "", handleDeleteComment)
	d.register("list_comments_for_task", schemaTaskIDOnly, handleListComments)
}

type createCommentParams struct {
	TaskID          int64    `json:"task_id" validate:"required"`
	AgentID         string   `json:"agent_id" validate:"required"`
	Content         string   `json:"content" validate:"required"`
	ParentCommentID *int64   `json:"parent_comment_id"`
	Mentions        []string `json:"mentions"`
}

func handleCreateComment(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p createCommentParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	c, err := d.life.CreateComment(ctx, p.TaskID, p.AgentID, p.Content, p.ParentCommentID, p.Mentions)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"comment": c}, nil
}

type commentIDParams struct {
	CommentID int64 `json:"comment_id" validate:"required"`
}

func handleGetComment(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p commentIDParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	c, err := d.life.GetComment(ctx, p.CommentID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"comment": c}, nil
}

type updateCommentParams struct {
	CommentID int64  `json:"comment_id" validate:"required"`
	AgentID   string `json:"agent_id" validate:"required"`
	Content   string `json:"content" validate:"required"`
}

func handleUpdateComment(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p updateCommentParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	c, err := d.life.UpdateComment(ctx, p.CommentID, p.AgentID, p.Content)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"comment": c}, nil
}

type deleteCommentParams struct {
	CommentID int64  `json:"comment_id" validate:"required"`
	AgentID   string `json:"agent_id" validate:"required"`
}

func handleDeleteComment(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p deleteCommentParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	if err := d.life.DeleteComment(ctx, p.CommentID, p.AgentID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"comment_id": p.CommentID}, nil
}

func handleListComments(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p taskIDOnlyParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	comments, err := d.life.ListComments(ctx, p.TaskID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"comments": comments}, nil
}
