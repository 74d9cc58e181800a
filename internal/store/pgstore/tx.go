package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"

	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/models"
	"github.com/taskmesh/taskcore/internal/observability"
	"github.com/taskmesh/taskcore/internal/store"
)

// txHandle implements store.Tx over a *sqlx.Tx opened with
// serializable isolation, so a concurrent reservation race surfaces as a
// 40001 serialization failure that WriteTx retries (§5).
type txHandle struct {
	tx *sqlx.Tx
}

// WriteTx opens a serializable transaction, runs fn, and retries the whole
// attempt (per the teacher's BaseRepository.WithTransaction pattern, here
// extended with backoff/v4) when the failure is a transient conflict.
func (s *Store) WriteTx(ctx context.Context, fn func(tx store.Tx) error) error {
	var attempts int
	op := func() error {
		attempts++
		sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return backoff.Permanent(errs.TransactionAborted("begin: %v", err))
		}
		h := &txHandle{tx: sqlTx}
		if err := fn(h); err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && s.logger != nil {
				s.logger.Warn("pgstore: rollback failed", observability.Fields{"error": rbErr})
			}
			if errs.IsRetryable(err) {
				if s.retries != nil {
					s.retries.Inc()
				}
				return err
			}
			return backoff.Permanent(err)
		}
		if err := sqlTx.Commit(); err != nil {
			return backoff.Permanent(translateErr(err, "commit"))
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(s.retryBackoff(), ctx))
	if err != nil {
		if perr, ok := err.(*backoff.PermanentError); ok {
			return perr.Err
		}
		return errs.TransactionAborted("write failed after %d attempts: %v", attempts, err)
	}
	return nil
}

// --- Tx reads (read-your-writes within the open transaction) ---

func (h *txHandle) GetTaskForUpdate(ctx context.Context, id int64) (*models.Task, error) {
	var row taskRow
	err := h.tx.GetContext(ctx, &row, `SELECT * FROM tasks WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, translateErr(err, fmt.Sprintf("task %d", id))
	}
	return row.toModel()
}

func (h *txHandle) GetTasksForUpdate(ctx context.Context, ids []int64) ([]*models.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlxIn(`SELECT * FROM tasks WHERE id IN (?) ORDER BY id ASC FOR UPDATE`, ids)
	if err != nil {
		return nil, translateErr(err, "tasks")
	}
	var rows []taskRow
	if err := h.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, translateErr(err, "tasks")
	}
	return rowsToTasks(rows)
}

func (h *txHandle) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	var row taskRow
	err := h.tx.GetContext(ctx, &row, `SELECT * FROM tasks WHERE id = $1`, id)
	if err != nil {
		return nil, translateErr(err, fmt.Sprintf("task %d", id))
	}
	return row.toModel()
}

func (h *txHandle) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	var p models.Project
	if err := h.tx.GetContext(ctx, &p, `SELECT * FROM projects WHERE id = $1`, id); err != nil {
		return nil, translateErr(err, fmt.Sprintf("project %d", id))
	}
	return &p, nil
}

func (h *txHandle) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	var p models.Project
	if err := h.tx.GetContext(ctx, &p, `SELECT * FROM projects WHERE name = $1`, name); err != nil {
		return nil, translateErr(err, fmt.Sprintf("project %q", name))
	}
	return &p, nil
}

func (h *txHandle) GetRelationshipsByParent(ctx context.Context, parentID int64, relType models.RelationshipType) ([]*models.Relationship, error) {
	var rels []*models.Relationship
	err := h.tx.SelectContext(ctx, &rels,
		`SELECT * FROM relationships WHERE parent_task_id = $1 AND relationship_type = $2 ORDER BY id ASC`,
		parentID, string(relType))
	if err != nil {
		return nil, translateErr(err, "relationships")
	}
	return rels, nil
}

func (h *txHandle) GetRelationshipsByChild(ctx context.Context, childID int64, relType models.RelationshipType) ([]*models.Relationship, error) {
	var rels []*models.Relationship
	err := h.tx.SelectContext(ctx, &rels,
		`SELECT * FROM relationships WHERE child_task_id = $1 AND relationship_type = $2 ORDER BY id ASC`,
		childID, string(relType))
	if err != nil {
		return nil, translateErr(err, "relationships")
	}
	return rels, nil
}

func (h *txHandle) GetComment(ctx context.Context, id int64) (*models.Comment, error) {
	var row commentRow
	if err := h.tx.GetContext(ctx, &row, `SELECT * FROM comments WHERE id = $1`, id); err != nil {
		return nil, translateErr(err, fmt.Sprintf("comment %d", id))
	}
	return row.toModel()
}

func (h *txHandle) ListCommentsForTask(ctx context.Context, taskID int64) ([]*models.Comment, error) {
	var rows []commentRow
	err := h.tx.SelectContext(ctx, &rows, `SELECT * FROM comments WHERE task_id = $1 ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, translateErr(err, "comments")
	}
	out := make([]*models.Comment, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (h *txHandle) GetTagByName(ctx context.Context, name string) (*models.Tag, error) {
	var t models.Tag
	if err := h.tx.GetContext(ctx, &t, `SELECT * FROM tags WHERE name = $1`, name); err != nil {
		return nil, translateErr(err, fmt.Sprintf("tag %q", name))
	}
	return &t, nil
}

func (h *txHandle) GetTagsForTask(ctx context.Context, taskID int64) ([]*models.Tag, error) {
	var tags []*models.Tag
	err := h.tx.SelectContext(ctx, &tags,
		`SELECT t.* FROM tags t JOIN task_tags tt ON tt.tag_id = t.id WHERE tt.task_id = $1 ORDER BY t.id ASC`, taskID)
	if err != nil {
		return nil, translateErr(err, "tags")
	}
	return tags, nil
}

func (h *txHandle) FindTaskByIdempotencyKey(ctx context.Context, key string) (*models.Task, error) {
	var row taskRow
	err := h.tx.GetContext(ctx, &row, `SELECT * FROM tasks WHERE idempotency_key = $1`, key)
	if err != nil {
		return nil, translateErr(err, "task by idempotency key")
	}
	return row.toModel()
}

// --- Tx mutations ---

func (h *txHandle) InsertTask(ctx context.Context, t *models.Task) (int64, error) {
	row, err := taskRowFromModel(t)
	if err != nil {
		return 0, err
	}
	delete(row, "id")
	q := `INSERT INTO tasks (
		project_id, task_type, priority, title, task_instruction, verification_instruction, notes,
		assigned_agent, assigned_at, task_status, verification_status, estimated_hours, actual_hours,
		due_date, created_at, updated_at, completed_at, github_issue_url, github_pr_url, labels,
		idempotency_key, last_auto_unlock, version
	) VALUES (
		:project_id, :task_type, :priority, :title, :task_instruction, :verification_instruction, :notes,
		:assigned_agent, :assigned_at, :task_status, :verification_status, :estimated_hours, :actual_hours,
		:due_date, :created_at, :updated_at, :completed_at, :github_issue_url, :github_pr_url, :labels,
		:idempotency_key, :last_auto_unlock, :version
	) RETURNING id`
	stmt, err := h.tx.PrepareNamedContext(ctx, q)
	if err != nil {
		return 0, translateErr(err, "task insert")
	}
	defer stmt.Close()
	var id int64
	if err := stmt.GetContext(ctx, &id, row); err != nil {
		return 0, translateErr(err, "task insert")
	}
	return id, nil
}

func (h *txHandle) UpdateTask(ctx context.Context, t *models.Task) error {
	row, err := taskRowFromModel(t)
	if err != nil {
		return err
	}
	q := `UPDATE tasks SET
		project_id = :project_id, task_type = :task_type, priority = :priority, title = :title,
		task_instruction = :task_instruction, verification_instruction = :verification_instruction,
		notes = :notes, assigned_agent = :assigned_agent, assigned_at = :assigned_at,
		task_status = :task_status, verification_status = :verification_status,
		estimated_hours = :estimated_hours, actual_hours = :actual_hours, due_date = :due_date,
		updated_at = :updated_at, completed_at = :completed_at, github_issue_url = :github_issue_url,
		github_pr_url = :github_pr_url, labels = :labels, idempotency_key = :idempotency_key,
		last_auto_unlock = :last_auto_unlock, version = :version
	WHERE id = :id`
	res, err := h.tx.NamedExecContext(ctx, q, row)
	if err != nil {
		return translateErr(err, fmt.Sprintf("task %d update", t.ID))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.NotFound("task %d not found", t.ID)
	}
	return nil
}

func (h *txHandle) InsertProject(ctx context.Context, p *models.Project) (int64, error) {
	q := `INSERT INTO projects (name, local_path, origin_url, description, is_archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	var id int64
	err := h.tx.QueryRowContext(ctx, q, p.Name, p.LocalPath, p.OriginURL, p.Description, p.IsArchived, p.CreatedAt, p.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, translateErr(err, "project insert")
	}
	return id, nil
}

func (h *txHandle) UpdateProject(ctx context.Context, p *models.Project) error {
	q := `UPDATE projects SET name = $1, local_path = $2, origin_url = $3, description = $4,
		is_archived = $5, updated_at = $6 WHERE id = $7`
	res, err := h.tx.ExecContext(ctx, q, p.Name, p.LocalPath, p.OriginURL, p.Description, p.IsArchived, p.UpdatedAt, p.ID)
	if err != nil {
		return translateErr(err, fmt.Sprintf("project %d update", p.ID))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.NotFound("project %d not found", p.ID)
	}
	return nil
}

func (h *txHandle) InsertRelationship(ctx context.Context, r *models.Relationship) (int64, error) {
	q := `INSERT INTO relationships (parent_task_id, child_task_id, relationship_type, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`
	var id int64
	err := h.tx.QueryRowContext(ctx, q, r.ParentTaskID, r.ChildTaskID, string(r.RelationshipType), r.CreatedAt, r.CreatedBy).Scan(&id)
	if err != nil {
		return 0, translateErr(err, "relationship insert")
	}
	return id, nil
}

func (h *txHandle) InsertTag(ctx context.Context, t *models.Tag) (int64, error) {
	var id int64
	err := h.tx.QueryRowContext(ctx, `INSERT INTO tags (name) VALUES ($1) RETURNING id`, t.Name).Scan(&id)
	if err != nil {
		return 0, translateErr(err, "tag insert")
	}
	return id, nil
}

func (h *txHandle) AssignTag(ctx context.Context, taskID, tagID int64) error {
	_, err := h.tx.ExecContext(ctx,
		`INSERT INTO task_tags (task_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, taskID, tagID)
	if err != nil {
		return translateErr(err, "tag assignment")
	}
	return nil
}

func (h *txHandle) RemoveTag(ctx context.Context, taskID, tagID int64) (bool, error) {
	res, err := h.tx.ExecContext(ctx, `DELETE FROM task_tags WHERE task_id = $1 AND tag_id = $2`, taskID, tagID)
	if err != nil {
		return false, translateErr(err, "tag removal")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (h *txHandle) InsertUpdate(ctx context.Context, u *models.Update) (int64, error) {
	meta, err := marshalOrNil(u.Metadata)
	if err != nil {
		return 0, err
	}
	q := `INSERT INTO updates (task_id, agent_id, update_type, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	var id int64
	err = h.tx.QueryRowContext(ctx, q, u.TaskID, u.AgentID, string(u.Type), u.Content, meta, u.CreatedAt).Scan(&id)
	if err != nil {
		return 0, translateErr(err, "update insert")
	}
	return id, nil
}

func (h *txHandle) AppendChangeEntries(ctx context.Context, entries []*models.ChangeEntry) error {
	q := `INSERT INTO change_entries (task_id, agent_id, change_type, field_name, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for _, e := range entries {
		_, err := h.tx.ExecContext(ctx, q, e.TaskID, e.AgentID, string(e.ChangeType), e.FieldName, e.OldValue, e.NewValue, e.CreatedAt)
		if err != nil {
			return translateErr(err, "change entry insert")
		}
	}
	return nil
}

func (h *txHandle) AppendTaskVersion(ctx context.Context, v *models.TaskVersion) (int, error) {
	var next int
	err := h.tx.GetContext(ctx, &next,
		`SELECT COALESCE(MAX(version_number), 0) + 1 FROM task_versions WHERE task_id = $1`, v.TaskID)
	if err != nil {
		return 0, translateErr(err, "task version number")
	}
	payload, err := marshalOrNil(v.Payload)
	if err != nil {
		return 0, err
	}
	_, err = h.tx.ExecContext(ctx,
		`INSERT INTO task_versions (task_id, version_number, payload, created_at) VALUES ($1, $2, $3, $4)`,
		v.TaskID, next, payload, v.CreatedAt)
	if err != nil {
		return 0, translateErr(err, "task version insert")
	}
	return next, nil
}

func (h *txHandle) InsertComment(ctx context.Context, c *models.Comment) (int64, error) {
	mentions, err := marshalOrNil(c.Mentions)
	if err != nil {
		return 0, err
	}
	q := `INSERT INTO comments (task_id, agent_id, content, parent_comment_id, mentions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	var id int64
	err = h.tx.QueryRowContext(ctx, q, c.TaskID, c.AgentID, c.Content, c.ParentCommentID, mentions, c.CreatedAt).Scan(&id)
	if err != nil {
		return 0, translateErr(err, "comment insert")
	}
	return id, nil
}

func (h *txHandle) UpdateComment(ctx context.Context, c *models.Comment) error {
	res, err := h.tx.ExecContext(ctx,
		`UPDATE comments SET content = $1, updated_at = $2 WHERE id = $3`, c.Content, c.UpdatedAt, c.ID)
	if err != nil {
		return translateErr(err, fmt.Sprintf("comment %d update", c.ID))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.NotFound("comment %d not found", c.ID)
	}
	return nil
}

func (h *txHandle) DeleteCommentCascade(ctx context.Context, id int64) error {
	_, err := h.tx.ExecContext(ctx, `DELETE FROM comments WHERE id = $1 OR parent_comment_id = $1`, id)
	if err != nil {
		return translateErr(err, fmt.Sprintf("comment %d delete", id))
	}
	return nil
}

func marshalOrNil(v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		if len(x) == 0 {
			return nil, nil
		}
	case []string:
		if len(x) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
