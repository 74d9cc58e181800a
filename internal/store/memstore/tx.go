package memstore

import (
	"context"

	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/models"
)

// txHandle implements store.Tx. It runs only while the writer goroutine
// holds s.mu for writing, so its methods touch s.st directly without their
// own locking.
type txHandle struct {
	s *Store
}

func (h *txHandle) GetTaskForUpdate(ctx context.Context, id int64) (*models.Task, error) {
	t, ok := h.s.st.tasks[id]
	if !ok {
		return nil, errs.NotFound("task %d not found", id)
	}
	return cloneTask(t), nil
}

func (h *txHandle) GetTasksForUpdate(ctx context.Context, ids []int64) ([]*models.Task, error) {
	out := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := h.s.st.tasks[id]; ok {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

func (h *txHandle) InsertTask(ctx context.Context, t *models.Task) (int64, error) {
	h.s.st.nextTaskID++
	id := h.s.st.nextTaskID
	t.ID = id
	h.s.st.tasks[id] = cloneTask(t)
	return id, nil
}

func (h *txHandle) UpdateTask(ctx context.Context, t *models.Task) error {
	if _, ok := h.s.st.tasks[t.ID]; !ok {
		return errs.NotFound("task %d not found", t.ID)
	}
	h.s.st.tasks[t.ID] = cloneTask(t)
	return nil
}

func (h *txHandle) InsertProject(ctx context.Context, p *models.Project) (int64, error) {
	if _, err := h.s.getProjectByNameLocked(p.Name); err == nil {
		return 0, errs.Conflict("project %q already exists", p.Name)
	}
	h.s.st.nextProjectID++
	id := h.s.st.nextProjectID
	p.ID = id
	cp := *p
	h.s.st.projects[id] = &cp
	return id, nil
}

func (h *txHandle) UpdateProject(ctx context.Context, p *models.Project) error {
	if _, ok := h.s.st.projects[p.ID]; !ok {
		return errs.NotFound("project %d not found", p.ID)
	}
	cp := *p
	h.s.st.projects[p.ID] = &cp
	return nil
}

func (h *txHandle) InsertRelationship(ctx context.Context, r *models.Relationship) (int64, error) {
	for _, existing := range h.s.st.relationships {
		if existing.ParentTaskID == r.ParentTaskID && existing.ChildTaskID == r.ChildTaskID &&
			existing.RelationshipType == r.RelationshipType {
			return 0, errs.Conflict("relationship %s already exists between %d and %d", r.RelationshipType, r.ParentTaskID, r.ChildTaskID)
		}
	}
	h.s.st.nextRelID++
	id := h.s.st.nextRelID
	r.ID = id
	cp := *r
	h.s.st.relationships[id] = &cp
	return id, nil
}

func (h *txHandle) InsertTag(ctx context.Context, t *models.Tag) (int64, error) {
	if _, err := h.s.getTagByNameLocked(t.Name); err == nil {
		return 0, errs.Conflict("tag %q already exists", t.Name)
	}
	h.s.st.nextTagID++
	id := h.s.st.nextTagID
	t.ID = id
	cp := *t
	h.s.st.tags[id] = &cp
	return id, nil
}

func (h *txHandle) AssignTag(ctx context.Context, taskID, tagID int64) error {
	if _, ok := h.s.st.tasks[taskID]; !ok {
		return errs.NotFound("task %d not found", taskID)
	}
	if _, ok := h.s.st.tags[tagID]; !ok {
		return errs.NotFound("tag %d not found", tagID)
	}
	if h.s.st.taskTags[taskID] == nil {
		h.s.st.taskTags[taskID] = make(map[int64]bool)
	}
	h.s.st.taskTags[taskID][tagID] = true
	return nil
}

func (h *txHandle) RemoveTag(ctx context.Context, taskID, tagID int64) (bool, error) {
	set := h.s.st.taskTags[taskID]
	if set == nil || !set[tagID] {
		return false, nil
	}
	delete(set, tagID)
	return true, nil
}

func (h *txHandle) InsertUpdate(ctx context.Context, u *models.Update) (int64, error) {
	h.s.st.nextUpdateID++
	id := h.s.st.nextUpdateID
	u.ID = id
	cp := *u
	h.s.st.updates[u.TaskID] = append(h.s.st.updates[u.TaskID], &cp)
	return id, nil
}

func (h *txHandle) AppendChangeEntries(ctx context.Context, entries []*models.ChangeEntry) error {
	for _, e := range entries {
		h.s.st.nextChangeID++
		e.ID = h.s.st.nextChangeID
		cp := *e
		h.s.st.changes[e.TaskID] = append(h.s.st.changes[e.TaskID], &cp)
	}
	return nil
}

func (h *txHandle) AppendTaskVersion(ctx context.Context, v *models.TaskVersion) (int, error) {
	existing := h.s.st.versions[v.TaskID]
	v.Number = len(existing) + 1
	cp := *v
	h.s.st.versions[v.TaskID] = append(existing, &cp)
	return v.Number, nil
}

func (h *txHandle) InsertComment(ctx context.Context, c *models.Comment) (int64, error) {
	h.s.st.nextCommentID++
	id := h.s.st.nextCommentID
	c.ID = id
	cp := *c
	h.s.st.comments[id] = &cp
	return id, nil
}

func (h *txHandle) UpdateComment(ctx context.Context, c *models.Comment) error {
	if _, ok := h.s.st.comments[c.ID]; !ok {
		return errs.NotFound("comment %d not found", c.ID)
	}
	cp := *c
	h.s.st.comments[c.ID] = &cp
	return nil
}

func (h *txHandle) DeleteCommentCascade(ctx context.Context, id int64) error {
	if _, ok := h.s.st.comments[id]; !ok {
		return errs.NotFound("comment %d not found", id)
	}
	toDelete := []int64{id}
	for i := 0; i < len(toDelete); i++ {
		cur := toDelete[i]
		for _, c := range h.s.st.comments {
			if c.ParentCommentID != nil && *c.ParentCommentID == cur {
				toDelete = append(toDelete, c.ID)
			}
		}
	}
	for _, d := range toDelete {
		delete(h.s.st.comments, d)
	}
	return nil
}

func (h *txHandle) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	return h.GetTaskForUpdate(ctx, id)
}

func (h *txHandle) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	p, ok := h.s.st.projects[id]
	if !ok {
		return nil, errs.NotFound("project %d not found", id)
	}
	cp := *p
	return &cp, nil
}

func (h *txHandle) GetRelationshipsByParent(ctx context.Context, parentID int64, relType models.RelationshipType) ([]*models.Relationship, error) {
	return h.s.relationshipsByParentLocked(parentID, relType), nil
}

func (h *txHandle) GetRelationshipsByChild(ctx context.Context, childID int64, relType models.RelationshipType) ([]*models.Relationship, error) {
	return h.s.relationshipsByChildLocked(childID, relType), nil
}

func (h *txHandle) GetComment(ctx context.Context, id int64) (*models.Comment, error) {
	return h.s.getCommentLocked(id)
}

func (h *txHandle) ListCommentsForTask(ctx context.Context, taskID int64) ([]*models.Comment, error) {
	return h.s.listCommentsForTaskLocked(taskID), nil
}

func (h *txHandle) GetTagByName(ctx context.Context, name string) (*models.Tag, error) {
	return h.s.getTagByNameLocked(name)
}

func (h *txHandle) GetTagsForTask(ctx context.Context, taskID int64) ([]*models.Tag, error) {
	return h.s.getTagsForTaskLocked(taskID), nil
}

func (h *txHandle) FindTaskByIdempotencyKey(ctx context.Context, key string) (*models.Task, error) {
	return h.s.findTaskByIdempotencyKeyLocked(key)
}

func (h *txHandle) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	return h.s.getProjectByNameLocked(name)
}
