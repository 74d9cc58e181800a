package lifecycle

import (
	"context"

	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/events"
	"github.com/taskmesh/taskcore/internal/models"
	"github.com/taskmesh/taskcore/internal/store"
)

// CreateTag registers a new tag name; Conflict if it already exists.
func (e *Engine) CreateTag(ctx context.Context, name string) (*models.Tag, error) {
	name, err := validateNonEmpty("name", name)
	if err != nil {
		return nil, err
	}
	var tag *models.Tag
	err = e.writeTx(ctx, "lifecycle.create_tag", func(tx store.Tx) error {
		id, err := tx.InsertTag(ctx, &models.Tag{Name: name})
		if err != nil {
			return err
		}
		tag = &models.Tag{ID: id, Name: name}
		return nil
	})
	return tag, err
}

// AssignTag links a tag to a task.
func (e *Engine) AssignTag(ctx context.Context, taskID, tagID int64, actor string) error {
	err := e.writeTx(ctx, "lifecycle.assign_tag", func(tx store.Tx) error {
		return tx.AssignTag(ctx, taskID, tagID)
	})
	if err != nil {
		return err
	}
	e.publish(ctx, events.Event{Type: events.TagAssigned, TaskID: taskID, Actor: actor,
		After: map[string]interface{}{"tag_id": tagID}})
	return nil
}

// RemoveTag unlinks a tag from a task. Removing a tag the task does not
// carry is a no-op success (R2), never an error.
func (e *Engine) RemoveTag(ctx context.Context, taskID, tagID int64, actor string) error {
	var removed bool
	err := e.writeTx(ctx, "lifecycle.remove_tag", func(tx store.Tx) error {
		r, err := tx.RemoveTag(ctx, taskID, tagID)
		removed = r
		return err
	})
	if err != nil {
		return err
	}
	if removed {
		e.publish(ctx, events.Event{Type: events.TagRemoved, TaskID: taskID, Actor: actor,
			After: map[string]interface{}{"tag_id": tagID}})
	}
	return nil
}

// GetTaskTags lists a task's assigned tags.
func (e *Engine) GetTaskTags(ctx context.Context, taskID int64) ([]*models.Tag, error) {
	return e.store.GetTagsForTask(ctx, taskID)
}

// ListTags returns every registered tag.
func (e *Engine) ListTags(ctx context.Context) ([]*models.Tag, error) {
	return e.store.ListTags(ctx)
}

// --- Comments ---

// CreateComment adds a comment or reply to a task.
func (e *Engine) CreateComment(ctx context.Context, taskID int64, agentID, content string, parentCommentID *int64, mentions []string) (*models.Comment, error) {
	content, err := validateNonEmpty("content", content)
	if err != nil {
		return nil, err
	}
	var comment *models.Comment
	err = e.writeTx(ctx, "lifecycle.create_comment", func(tx store.Tx) error {
		if _, err := tx.GetTask(ctx, taskID); err != nil {
			return err
		}
		if parentCommentID != nil {
			if _, err := tx.GetComment(ctx, *parentCommentID); err != nil {
				return err
			}
		}
		now := e.clk.Now()
		c := &models.Comment{
			TaskID: taskID, AgentID: agentID, Content: content,
			ParentCommentID: parentCommentID, Mentions: mentions, CreatedAt: now,
		}
		id, err := tx.InsertComment(ctx, c)
		if err != nil {
			return err
		}
		c.ID = id
		comment = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, events.Event{Type: events.CommentCreated, TaskID: taskID, Actor: agentID,
		After: map[string]interface{}{"comment_id": comment.ID}})
	return comment, nil
}

// UpdateComment edits a comment's content; owner-only.
func (e *Engine) UpdateComment(ctx context.Context, commentID int64, agentID, content string) (*models.Comment, error) {
	content, err := validateNonEmpty("content", content)
	if err != nil {
		return nil, err
	}
	var result *models.Comment
	err = e.writeTx(ctx, "lifecycle.update_comment", func(tx store.Tx) error {
		c, err := tx.GetComment(ctx, commentID)
		if err != nil {
			return err
		}
		if c.AgentID != agentID {
			return errs.NotAssigned("agent %q does not own comment %d", agentID, commentID)
		}
		now := e.clk.Now()
		c.Content = content
		c.UpdatedAt = &now
		if err := tx.UpdateComment(ctx, c); err != nil {
			return err
		}
		result = c
		return nil
	})
	return result, err
}

// DeleteComment removes a comment and cascades to its replies; owner-only.
func (e *Engine) DeleteComment(ctx context.Context, commentID int64, agentID string) error {
	return e.writeTx(ctx, "lifecycle.delete_comment", func(tx store.Tx) error {
		c, err := tx.GetComment(ctx, commentID)
		if err != nil {
			return err
		}
		if c.AgentID != agentID {
			return errs.NotAssigned("agent %q does not own comment %d", agentID, commentID)
		}
		return tx.DeleteCommentCascade(ctx, commentID)
	})
}

// ListComments returns every comment on a task.
func (e *Engine) ListComments(ctx context.Context, taskID int64) ([]*models.Comment, error) {
	return e.store.ListCommentsForTask(ctx, taskID)
}

// GetComment fetches a single comment by id.
func (e *Engine) GetComment(ctx context.Context, id int64) (*models.Comment, error) {
	return e.store.GetComment(ctx, id)
}

// --- Projects ---

// CreateProject registers a new project; unique name required.
func (e *Engine) CreateProject(ctx context.Context, name, localPath, originURL, description string) (*models.Project, error) {
	name, err := validateNonEmpty("name", name)
	if err != nil {
		return nil, err
	}
	var project *models.Project
	err = e.writeTx(ctx, "lifecycle.create_project", func(tx store.Tx) error {
		now := e.clk.Now()
		p := &models.Project{Name: name, LocalPath: localPath, OriginURL: originURL, Description: description, CreatedAt: now, UpdatedAt: now}
		id, err := tx.InsertProject(ctx, p)
		if err != nil {
			return err
		}
		p.ID = id
		project = p
		return nil
	})
	return project, err
}

// GetProject fetches a project by id.
func (e *Engine) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	return e.store.GetProject(ctx, id)
}

// ListProjects returns every project.
func (e *Engine) ListProjects(ctx context.Context) ([]*models.Project, error) {
	return e.store.ListProjects(ctx)
}

// ArchiveProject marks a project archived without deleting it; description
// remains editable, everything else about a Project is immutable per §3.
func (e *Engine) ArchiveProject(ctx context.Context, id int64) error {
	return e.writeTx(ctx, "lifecycle.archive_project", func(tx store.Tx) error {
		p, err := tx.GetProject(ctx, id)
		if err != nil {
			return err
		}
		p.IsArchived = true
		p.UpdatedAt = e.clk.Now()
		return tx.UpdateProject(ctx, p)
	})
}
