package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taskmesh/taskcore/internal/models"
	"github.com/taskmesh/taskcore/internal/store"
)

func (s *Store) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	defer s.observe(time.Now())
	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM tasks WHERE id = $1`, id)
	if err != nil {
		return nil, translateErr(err, fmt.Sprintf("task %d", id))
	}
	return row.toModel()
}

func (s *Store) GetTasks(ctx context.Context, ids []int64) ([]*models.Task, error) {
	defer s.observe(time.Now())
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlxIn(`SELECT * FROM tasks WHERE id IN (?)`, ids)
	if err != nil {
		return nil, translateErr(err, "tasks")
	}
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, translateErr(err, "tasks")
	}
	return rowsToTasks(rows)
}

func rowsToTasks(rows []taskRow) ([]*models.Task, error) {
	out := make([]*models.Task, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// filterClause builds the WHERE/ORDER BY/LIMIT suffix shared by ListTasks
// and CountTasks, mirroring the composite indexes declared in schema.go.
func filterClause(f store.TaskFilter, startArg int) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	arg := startArg

	add := func(cond string, val interface{}) {
		clauses = append(clauses, fmt.Sprintf(cond, arg))
		args = append(args, val)
		arg++
	}
	if f.ProjectID != nil {
		add("project_id = $%d", *f.ProjectID)
	}
	if f.TaskType != nil {
		add("task_type = $%d", string(*f.TaskType))
	}
	if f.TaskStatus != nil {
		add("task_status = $%d", string(*f.TaskStatus))
	}
	if f.AssignedTo != nil {
		add("assigned_agent = $%d", *f.AssignedTo)
	}
	if f.Priority != nil {
		add("priority = $%d", string(*f.Priority))
	}
	if f.TagID != nil {
		clauses = append(clauses, fmt.Sprintf("id IN (SELECT task_id FROM task_tags WHERE tag_id = $%d)", arg))
		args = append(args, *f.TagID)
		arg++
	} else if len(f.TagIDs) > 0 {
		clauses = append(clauses, fmt.Sprintf(
			"id IN (SELECT task_id FROM task_tags WHERE tag_id = ANY($%d) GROUP BY task_id HAVING COUNT(DISTINCT tag_id) = $%d)",
			arg, arg+1))
		args = append(args, pqInt64Array(f.TagIDs), len(f.TagIDs))
		arg += 2
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	return where, args
}

func orderByClause(o store.OrderBy) string {
	switch o {
	case store.OrderPriorityDescCreatedAsc:
		return " ORDER BY CASE priority WHEN 'critical' THEN 3 WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0 END DESC, created_at ASC, id ASC"
	case store.OrderPriorityAscCreatedAsc:
		return " ORDER BY CASE priority WHEN 'critical' THEN 3 WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0 END ASC, created_at ASC, id ASC"
	case store.OrderCreatedDesc:
		return " ORDER BY created_at DESC, id DESC"
	case store.OrderCreatedAsc:
		return " ORDER BY created_at ASC, id ASC"
	case store.OrderCompletedDesc:
		return " ORDER BY completed_at DESC NULLS LAST, id DESC"
	default:
		return " ORDER BY id ASC"
	}
}

func (s *Store) ListTasks(ctx context.Context, f store.TaskFilter) ([]*models.Task, error) {
	defer s.observe(time.Now())
	where, args := filterClause(f, 1)
	q := "SELECT * FROM tasks" + where + orderByClause(f.OrderBy)
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, translateErr(err, "tasks")
	}
	return rowsToTasks(rows)
}

func (s *Store) CountTasks(ctx context.Context, f store.TaskFilter) (int64, error) {
	defer s.observe(time.Now())
	where, args := filterClause(f, 1)
	q := "SELECT COUNT(*) FROM tasks" + where
	var count int64
	if err := s.db.GetContext(ctx, &count, q, args...); err != nil {
		return 0, translateErr(err, "tasks")
	}
	return count, nil
}

func (s *Store) SearchTasks(ctx context.Context, query string, limit int) ([]*models.Task, error) {
	defer s.observe(time.Now())
	q := `SELECT * FROM tasks WHERE
		title ILIKE '%' || $1 || '%' OR
		task_instruction ILIKE '%' || $1 || '%' OR
		verification_instruction ILIKE '%' || $1 || '%' OR
		notes ILIKE '%' || $1 || '%'
		ORDER BY (CASE WHEN title ILIKE '%' || $1 || '%' THEN 1 ELSE 0 END) DESC, id ASC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, q, query); err != nil {
		return nil, translateErr(err, "tasks")
	}
	return rowsToTasks(rows)
}

func (s *Store) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	defer s.observe(time.Now())
	var p models.Project
	err := s.db.GetContext(ctx, &p, `SELECT * FROM projects WHERE id = $1`, id)
	if err != nil {
		return nil, translateErr(err, fmt.Sprintf("project %d", id))
	}
	return &p, nil
}

func (s *Store) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	defer s.observe(time.Now())
	var p models.Project
	err := s.db.GetContext(ctx, &p, `SELECT * FROM projects WHERE name = $1`, name)
	if err != nil {
		return nil, translateErr(err, fmt.Sprintf("project %q", name))
	}
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]*models.Project, error) {
	defer s.observe(time.Now())
	var projects []*models.Project
	if err := s.db.SelectContext(ctx, &projects, `SELECT * FROM projects ORDER BY id ASC`); err != nil {
		return nil, translateErr(err, "projects")
	}
	return projects, nil
}

func (s *Store) GetRelationshipsByParent(ctx context.Context, parentID int64, relType models.RelationshipType) ([]*models.Relationship, error) {
	defer s.observe(time.Now())
	var rels []*models.Relationship
	err := s.db.SelectContext(ctx, &rels,
		`SELECT * FROM relationships WHERE parent_task_id = $1 AND relationship_type = $2 ORDER BY id ASC`,
		parentID, string(relType))
	if err != nil {
		return nil, translateErr(err, "relationships")
	}
	return rels, nil
}

func (s *Store) GetRelationshipsByChild(ctx context.Context, childID int64, relType models.RelationshipType) ([]*models.Relationship, error) {
	defer s.observe(time.Now())
	var rels []*models.Relationship
	err := s.db.SelectContext(ctx, &rels,
		`SELECT * FROM relationships WHERE child_task_id = $1 AND relationship_type = $2 ORDER BY id ASC`,
		childID, string(relType))
	if err != nil {
		return nil, translateErr(err, "relationships")
	}
	return rels, nil
}

func (s *Store) GetRelationshipsForParents(ctx context.Context, parentIDs []int64, relTypes []models.RelationshipType) ([]*models.Relationship, error) {
	defer s.observe(time.Now())
	if len(parentIDs) == 0 {
		return nil, nil
	}
	types := relTypeStrings(relTypes)
	query, args, err := sqlxIn(`SELECT * FROM relationships WHERE parent_task_id IN (?) AND relationship_type IN (?) ORDER BY id ASC`, parentIDs, types)
	if err != nil {
		return nil, translateErr(err, "relationships")
	}
	var rels []*models.Relationship
	if err := s.db.SelectContext(ctx, &rels, query, args...); err != nil {
		return nil, translateErr(err, "relationships")
	}
	return rels, nil
}

func (s *Store) GetRelationshipsForChildren(ctx context.Context, childIDs []int64, relTypes []models.RelationshipType) ([]*models.Relationship, error) {
	defer s.observe(time.Now())
	if len(childIDs) == 0 {
		return nil, nil
	}
	types := relTypeStrings(relTypes)
	query, args, err := sqlxIn(`SELECT * FROM relationships WHERE child_task_id IN (?) AND relationship_type IN (?) ORDER BY id ASC`, childIDs, types)
	if err != nil {
		return nil, translateErr(err, "relationships")
	}
	var rels []*models.Relationship
	if err := s.db.SelectContext(ctx, &rels, query, args...); err != nil {
		return nil, translateErr(err, "relationships")
	}
	return rels, nil
}

func relTypeStrings(types []models.RelationshipType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func (s *Store) GetTag(ctx context.Context, id int64) (*models.Tag, error) {
	defer s.observe(time.Now())
	var t models.Tag
	if err := s.db.GetContext(ctx, &t, `SELECT * FROM tags WHERE id = $1`, id); err != nil {
		return nil, translateErr(err, fmt.Sprintf("tag %d", id))
	}
	return &t, nil
}

func (s *Store) GetTagByName(ctx context.Context, name string) (*models.Tag, error) {
	defer s.observe(time.Now())
	var t models.Tag
	if err := s.db.GetContext(ctx, &t, `SELECT * FROM tags WHERE name = $1`, name); err != nil {
		return nil, translateErr(err, fmt.Sprintf("tag %q", name))
	}
	return &t, nil
}

func (s *Store) ListTags(ctx context.Context) ([]*models.Tag, error) {
	defer s.observe(time.Now())
	var tags []*models.Tag
	if err := s.db.SelectContext(ctx, &tags, `SELECT * FROM tags ORDER BY id ASC`); err != nil {
		return nil, translateErr(err, "tags")
	}
	return tags, nil
}

func (s *Store) GetTagsForTask(ctx context.Context, taskID int64) ([]*models.Tag, error) {
	defer s.observe(time.Now())
	var tags []*models.Tag
	err := s.db.SelectContext(ctx, &tags,
		`SELECT t.* FROM tags t JOIN task_tags tt ON tt.tag_id = t.id WHERE tt.task_id = $1 ORDER BY t.id ASC`, taskID)
	if err != nil {
		return nil, translateErr(err, "tags")
	}
	return tags, nil
}

func (s *Store) GetTaskIDsForTags(ctx context.Context, tagIDs []int64) ([]int64, error) {
	defer s.observe(time.Now())
	if len(tagIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlxIn(`SELECT DISTINCT task_id FROM task_tags WHERE tag_id IN (?) ORDER BY task_id ASC`, tagIDs)
	if err != nil {
		return nil, translateErr(err, "task_tags")
	}
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, translateErr(err, "task_tags")
	}
	return ids, nil
}

func (s *Store) ListUpdates(ctx context.Context, taskID int64) ([]*models.Update, error) {
	defer s.observe(time.Now())
	var rows []updateRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM updates WHERE task_id = $1 ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, translateErr(err, "updates")
	}
	out := make([]*models.Update, 0, len(rows))
	for i := range rows {
		u, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) ListChangeEntries(ctx context.Context, taskID int64) ([]*models.ChangeEntry, error) {
	defer s.observe(time.Now())
	var entries []*models.ChangeEntry
	err := s.db.SelectContext(ctx, &entries, `SELECT * FROM change_entries WHERE task_id = $1 ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, translateErr(err, "change_entries")
	}
	return entries, nil
}

func (s *Store) ListChangeEntriesFiltered(ctx context.Context, taskID *int64, agentID *string, start, end *time.Time) ([]*models.ChangeEntry, error) {
	defer s.observe(time.Now())
	var clauses []string
	var args []interface{}
	arg := 1
	if taskID != nil {
		clauses = append(clauses, fmt.Sprintf("task_id = $%d", arg))
		args = append(args, *taskID)
		arg++
	}
	if agentID != nil {
		clauses = append(clauses, fmt.Sprintf("agent_id = $%d", arg))
		args = append(args, *agentID)
		arg++
	}
	if start != nil {
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", arg))
		args = append(args, *start)
		arg++
	}
	if end != nil {
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", arg))
		args = append(args, *end)
		arg++
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	var entries []*models.ChangeEntry
	q := "SELECT * FROM change_entries" + where + " ORDER BY created_at ASC, id ASC"
	if err := s.db.SelectContext(ctx, &entries, q, args...); err != nil {
		return nil, translateErr(err, "change_entries")
	}
	return entries, nil
}

func (s *Store) ListTaskVersions(ctx context.Context, taskID int64) ([]*models.TaskVersion, error) {
	defer s.observe(time.Now())
	var rows []versionRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM task_versions WHERE task_id = $1 ORDER BY version_number DESC`, taskID)
	if err != nil {
		return nil, translateErr(err, "task_versions")
	}
	out := make([]*models.TaskVersion, 0, len(rows))
	for i := range rows {
		v, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Store) GetTaskVersion(ctx context.Context, taskID int64, number int) (*models.TaskVersion, error) {
	defer s.observe(time.Now())
	var row versionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM task_versions WHERE task_id = $1 AND version_number = $2`, taskID, number)
	if err != nil {
		return nil, translateErr(err, fmt.Sprintf("task %d version %d", taskID, number))
	}
	return row.toModel()
}

func (s *Store) GetComment(ctx context.Context, id int64) (*models.Comment, error) {
	defer s.observe(time.Now())
	var row commentRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM comments WHERE id = $1`, id); err != nil {
		return nil, translateErr(err, fmt.Sprintf("comment %d", id))
	}
	return row.toModel()
}

func (s *Store) ListCommentsForTask(ctx context.Context, taskID int64) ([]*models.Comment, error) {
	defer s.observe(time.Now())
	var rows []commentRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM comments WHERE task_id = $1 ORDER BY created_at ASC, id ASC`, taskID)
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

func (s *Store) FindTaskByIdempotencyKey(ctx context.Context, key string) (*models.Task, error) {
	defer s.observe(time.Now())
	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM tasks WHERE idempotency_key = $1`, key)
	if err != nil {
		return nil, translateErr(err, "task by idempotency key")
	}
	return row.toModel()
}
