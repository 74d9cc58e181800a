// Package memstore is a single-writer, in-process implementation of
// store.Store. It follows the design-notes guidance literally: a single
// goroutine owns all mutable state and drains a work queue of write jobs,
// while reads take a read-lock snapshot and never block each other. It is
// the implementation the unit tests run against, and is a
// legitimate small-deployment production backend (the spec's requirement
// is a single logical writer, not any particular durability technology).
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taskmesh/taskcore/internal/clock"
	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/models"
	"github.com/taskmesh/taskcore/internal/store"
)

type writeJob struct {
	fn     func(tx store.Tx) error
	result chan error
}

// Store implements store.Store over in-process maps.
type Store struct {
	clk clock.Clock

	mu sync.RWMutex
	st state

	jobs   chan writeJob
	quit   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

type state struct {
	tasks         map[int64]*models.Task
	projects      map[int64]*models.Project
	relationships map[int64]*models.Relationship
	tags          map[int64]*models.Tag
	taskTags      map[int64]map[int64]bool // taskID -> tagID set
	updates       map[int64][]*models.Update
	changes       map[int64][]*models.ChangeEntry
	versions      map[int64][]*models.TaskVersion
	comments      map[int64]*models.Comment

	nextTaskID    int64
	nextProjectID int64
	nextRelID     int64
	nextTagID     int64
	nextUpdateID  int64
	nextChangeID  int64
	nextCommentID int64
}

// New creates an empty memstore and starts its writer goroutine.
func New(clk clock.Clock) *Store {
	s := &Store{
		clk:  clk,
		jobs: make(chan writeJob, 128),
		quit: make(chan struct{}),
		st: state{
			tasks:         make(map[int64]*models.Task),
			projects:      make(map[int64]*models.Project),
			relationships: make(map[int64]*models.Relationship),
			tags:          make(map[int64]*models.Tag),
			taskTags:      make(map[int64]map[int64]bool),
			updates:       make(map[int64][]*models.Update),
			changes:       make(map[int64][]*models.ChangeEntry),
			versions:      make(map[int64][]*models.TaskVersion),
			comments:      make(map[int64]*models.Comment),
		},
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *Store) loop() {
	defer s.wg.Done()
	for {
		var job writeJob
		select {
		case job = <-s.jobs:
		case <-s.quit:
			// Drain jobs already queued before stopping.
			select {
			case job = <-s.jobs:
			default:
				return
			}
		}
		s.mu.Lock()
		before := cloneState(&s.st)
		tx := &txHandle{s: s}
		err := job.fn(tx)
		if err != nil {
			// Roll back: txHandle mutates s.st directly as it goes, so
			// an error partway through a multi-step transaction (e.g.
			// bulk_unlock, create_task+relationship) must restore the
			// pre-transaction snapshot rather than leave a partial
			// write in place.
			s.st = *before
		}
		s.mu.Unlock()
		job.result <- err
	}
}

// cloneState deep-copies st so the writer loop can restore it verbatim if
// a transaction's closure returns an error partway through.
func cloneState(st *state) *state {
	ns := &state{
		tasks:         make(map[int64]*models.Task, len(st.tasks)),
		projects:      make(map[int64]*models.Project, len(st.projects)),
		relationships: make(map[int64]*models.Relationship, len(st.relationships)),
		tags:          make(map[int64]*models.Tag, len(st.tags)),
		taskTags:      make(map[int64]map[int64]bool, len(st.taskTags)),
		updates:       make(map[int64][]*models.Update, len(st.updates)),
		changes:       make(map[int64][]*models.ChangeEntry, len(st.changes)),
		versions:      make(map[int64][]*models.TaskVersion, len(st.versions)),
		comments:      make(map[int64]*models.Comment, len(st.comments)),
		nextTaskID:    st.nextTaskID,
		nextProjectID: st.nextProjectID,
		nextRelID:     st.nextRelID,
		nextTagID:     st.nextTagID,
		nextUpdateID:  st.nextUpdateID,
		nextChangeID:  st.nextChangeID,
		nextCommentID: st.nextCommentID,
	}
	for k, v := range st.tasks {
		ns.tasks[k] = cloneTask(v)
	}
	for k, v := range st.projects {
		cp := *v
		ns.projects[k] = &cp
	}
	for k, v := range st.relationships {
		cp := *v
		ns.relationships[k] = &cp
	}
	for k, v := range st.tags {
		cp := *v
		ns.tags[k] = &cp
	}
	for k, v := range st.taskTags {
		set := make(map[int64]bool, len(v))
		for tagID, present := range v {
			set[tagID] = present
		}
		ns.taskTags[k] = set
	}
	for k, v := range st.updates {
		cp := make([]*models.Update, len(v))
		for i, u := range v {
			c := *u
			cp[i] = &c
		}
		ns.updates[k] = cp
	}
	for k, v := range st.changes {
		cp := make([]*models.ChangeEntry, len(v))
		for i, c := range v {
			c2 := *c
			cp[i] = &c2
		}
		ns.changes[k] = cp
	}
	for k, v := range st.versions {
		cp := make([]*models.TaskVersion, len(v))
		for i, ver := range v {
			v2 := *ver
			cp[i] = &v2
		}
		ns.versions[k] = cp
	}
	for k, v := range st.comments {
		cp := *v
		ns.comments[k] = &cp
	}
	return ns
}

// Close stops the writer goroutine. Pending jobs already queued are
// drained first.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.quit)
	s.wg.Wait()
	return nil
}

// WriteTx submits fn to the single writer goroutine and blocks until it
// completes or ctx is done, whichever happens first.
func (s *Store) WriteTx(ctx context.Context, fn func(tx store.Tx) error) error {
	result := make(chan error, 1)
	job := writeJob{fn: fn, result: result}
	select {
	case s.jobs <- job:
	case <-ctx.Done():
		return errs.TransactionAborted("submitting write: %v", ctx.Err())
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return errs.TransactionAborted("awaiting write: %v", ctx.Err())
	}
}

func cloneTask(t *models.Task) *models.Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Labels != nil {
		cp.Labels = make(map[string]string, len(t.Labels))
		for k, v := range t.Labels {
			cp.Labels[k] = v
		}
	}
	return &cp
}

// --- Store reads ---

func (s *Store) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.st.tasks[id]
	if !ok {
		return nil, errs.NotFound("task %d not found", id)
	}
	return cloneTask(t), nil
}

func (s *Store) GetTasks(ctx context.Context, ids []int64) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.st.tasks[id]; ok {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

func matchesFilter(t *models.Task, f store.TaskFilter) bool {
	if f.ProjectID != nil && (t.ProjectID == nil || *t.ProjectID != *f.ProjectID) {
		return false
	}
	if f.TaskType != nil && t.TaskType != *f.TaskType {
		return false
	}
	if f.TaskStatus != nil && t.Status != *f.TaskStatus {
		return false
	}
	if f.AssignedTo != nil && (t.AssignedAgent == nil || *t.AssignedAgent != *f.AssignedTo) {
		return false
	}
	if f.Priority != nil && t.Priority != *f.Priority {
		return false
	}
	return true
}

func orderTasks(tasks []*models.Task, order store.OrderBy) {
	switch order {
	case store.OrderPriorityDescCreatedAsc:
		sort.SliceStable(tasks, func(i, j int) bool {
			if tasks[i].Priority.Rank() != tasks[j].Priority.Rank() {
				return tasks[i].Priority.Rank() > tasks[j].Priority.Rank()
			}
			if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
				return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
			}
			return tasks[i].ID < tasks[j].ID
		})
	case store.OrderPriorityAscCreatedAsc:
		sort.SliceStable(tasks, func(i, j int) bool {
			if tasks[i].Priority.Rank() != tasks[j].Priority.Rank() {
				return tasks[i].Priority.Rank() < tasks[j].Priority.Rank()
			}
			if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
				return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
			}
			return tasks[i].ID < tasks[j].ID
		})
	case store.OrderCreatedDesc:
		sort.SliceStable(tasks, func(i, j int) bool {
			if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
				return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
			}
			return tasks[i].ID > tasks[j].ID
		})
	case store.OrderCompletedDesc:
		sort.SliceStable(tasks, func(i, j int) bool {
			ci, cj := tasks[i].CompletedAt, tasks[j].CompletedAt
			if ci == nil {
				return false
			}
			if cj == nil {
				return true
			}
			if !ci.Equal(*cj) {
				return ci.After(*cj)
			}
			return tasks[i].ID > tasks[j].ID
		})
	default:
		sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	}
}

func (s *Store) ListTasks(ctx context.Context, f store.TaskFilter) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tagFilterIDs []int64
	if f.TagID != nil {
		tagFilterIDs = []int64{*f.TagID}
	} else if len(f.TagIDs) > 0 {
		tagFilterIDs = f.TagIDs
	}

	out := make([]*models.Task, 0)
	for _, t := range s.st.tasks {
		if !matchesFilter(t, f) {
			continue
		}
		if len(tagFilterIDs) > 0 {
			set := s.st.taskTags[t.ID]
			allPresent := true
			for _, tagID := range tagFilterIDs {
				if set == nil || !set[tagID] {
					allPresent = false
					break
				}
			}
			if !allPresent {
				continue
			}
		}
		out = append(out, cloneTask(t))
	}
	orderTasks(out, f.OrderBy)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) CountTasks(ctx context.Context, f store.TaskFilter) (int64, error) {
	tasks, err := s.ListTasks(ctx, store.TaskFilter{
		ProjectID: f.ProjectID, TaskType: f.TaskType, TaskStatus: f.TaskStatus,
		AssignedTo: f.AssignedTo, Priority: f.Priority, TagID: f.TagID, TagIDs: f.TagIDs,
	})
	if err != nil {
		return 0, err
	}
	return int64(len(tasks)), nil
}

func (s *Store) SearchTasks(ctx context.Context, query string, limit int) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(query))
	type scored struct {
		t     *models.Task
		score int
	}
	var matches []scored
	for _, t := range s.st.tasks {
		titleLower := strings.ToLower(t.Title)
		fields := []string{titleLower, strings.ToLower(t.TaskInstruction), strings.ToLower(t.VerificationInstruction), strings.ToLower(t.Notes)}
		found := false
		score := 0
		for i, field := range fields {
			if strings.Contains(field, q) {
				found = true
				if i == 0 {
					score += 10
					if titleLower == q {
						score += 100
					}
				} else {
					score++
				}
			}
		}
		if found {
			matches = append(matches, scored{t: t, score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].t.ID < matches[j].t.ID
	})
	out := make([]*models.Task, 0, len(matches))
	for _, m := range matches {
		out = append(out, cloneTask(m.t))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.st.projects[id]
	if !ok {
		return nil, errs.NotFound("project %d not found", id)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getProjectByNameLocked(name)
}

func (s *Store) getProjectByNameLocked(name string) (*models.Project, error) {
	for _, p := range s.st.projects {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errs.NotFound("project %q not found", name)
}

func (s *Store) ListProjects(ctx context.Context) ([]*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Project, 0, len(s.st.projects))
	for _, p := range s.st.projects {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func relMatches(r *models.Relationship, relType models.RelationshipType) bool {
	return relType == "" || r.RelationshipType == relType
}

func (s *Store) GetRelationshipsByParent(ctx context.Context, parentID int64, relType models.RelationshipType) ([]*models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.relationshipsByParentLocked(parentID, relType), nil
}

func (s *Store) relationshipsByParentLocked(parentID int64, relType models.RelationshipType) []*models.Relationship {
	var out []*models.Relationship
	for _, r := range s.st.relationships {
		if r.ParentTaskID == parentID && relMatches(r, relType) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}

func (s *Store) GetRelationshipsByChild(ctx context.Context, childID int64, relType models.RelationshipType) ([]*models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.relationshipsByChildLocked(childID, relType), nil
}

func (s *Store) relationshipsByChildLocked(childID int64, relType models.RelationshipType) []*models.Relationship {
	var out []*models.Relationship
	for _, r := range s.st.relationships {
		if r.ChildTaskID == childID && relMatches(r, relType) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}

func (s *Store) GetRelationshipsForParents(ctx context.Context, parentIDs []int64, relTypes []models.RelationshipType) ([]*models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[int64]bool, len(parentIDs))
	for _, id := range parentIDs {
		want[id] = true
	}
	typeSet := make(map[models.RelationshipType]bool, len(relTypes))
	for _, t := range relTypes {
		typeSet[t] = true
	}
	var out []*models.Relationship
	for _, r := range s.st.relationships {
		if want[r.ParentTaskID] && (len(typeSet) == 0 || typeSet[r.RelationshipType]) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) GetRelationshipsForChildren(ctx context.Context, childIDs []int64, relTypes []models.RelationshipType) ([]*models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[int64]bool, len(childIDs))
	for _, id := range childIDs {
		want[id] = true
	}
	typeSet := make(map[models.RelationshipType]bool, len(relTypes))
	for _, t := range relTypes {
		typeSet[t] = true
	}
	var out []*models.Relationship
	for _, r := range s.st.relationships {
		if want[r.ChildTaskID] && (len(typeSet) == 0 || typeSet[r.RelationshipType]) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) GetTag(ctx context.Context, id int64) (*models.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.st.tags[id]
	if !ok {
		return nil, errs.NotFound("tag %d not found", id)
	}
	cp := *t
	return &cp, nil
}

func (s *Store) GetTagByName(ctx context.Context, name string) (*models.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTagByNameLocked(name)
}

func (s *Store) getTagByNameLocked(name string) (*models.Tag, error) {
	for _, t := range s.st.tags {
		if t.Name == name {
			cp := *t
			return &cp, nil
		}
	}
	return nil, errs.NotFound("tag %q not found", name)
}

func (s *Store) ListTags(ctx context.Context) ([]*models.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Tag, 0, len(s.st.tags))
	for _, t := range s.st.tags {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetTagsForTask(ctx context.Context, taskID int64) ([]*models.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTagsForTaskLocked(taskID), nil
}

func (s *Store) getTagsForTaskLocked(taskID int64) []*models.Tag {
	set := s.st.taskTags[taskID]
	out := make([]*models.Tag, 0, len(set))
	for tagID := range set {
		if t, ok := s.st.tags[tagID]; ok {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) GetTaskIDsForTags(ctx context.Context, tagIDs []int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	for taskID, set := range s.st.taskTags {
		allPresent := true
		for _, tagID := range tagIDs {
			if !set[tagID] {
				allPresent = false
				break
			}
		}
		if allPresent {
			out = append(out, taskID)
		}
	}
	return out, nil
}

func (s *Store) ListUpdates(ctx context.Context, taskID int64) ([]*models.Update, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listUpdatesLocked(taskID), nil
}

func (s *Store) listUpdatesLocked(taskID int64) []*models.Update {
	src := s.st.updates[taskID]
	out := make([]*models.Update, len(src))
	for i, u := range src {
		cp := *u
		out[i] = &cp
	}
	return out
}

func (s *Store) ListChangeEntries(ctx context.Context, taskID int64) ([]*models.ChangeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.st.changes[taskID]
	out := make([]*models.ChangeEntry, len(src))
	for i, c := range src {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) ListChangeEntriesFiltered(ctx context.Context, taskID *int64, agentID *string, start, end *time.Time) ([]*models.ChangeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ChangeEntry
	for tid, entries := range s.st.changes {
		if taskID != nil && tid != *taskID {
			continue
		}
		for _, c := range entries {
			if agentID != nil && c.AgentID != *agentID {
				continue
			}
			if start != nil && c.CreatedAt.Before(*start) {
				continue
			}
			if end != nil && c.CreatedAt.After(*end) {
				continue
			}
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListTaskVersions(ctx context.Context, taskID int64) ([]*models.TaskVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.st.versions[taskID]
	out := make([]*models.TaskVersion, len(src))
	for i := range src {
		cp := *src[i]
		out[len(src)-1-i] = &cp // newest first
	}
	return out, nil
}

func (s *Store) GetTaskVersion(ctx context.Context, taskID int64, number int) (*models.TaskVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.st.versions[taskID] {
		if v.Number == number {
			cp := *v
			return &cp, nil
		}
	}
	return nil, errs.NotFound("version %d of task %d not found", number, taskID)
}

func (s *Store) GetComment(ctx context.Context, id int64) (*models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCommentLocked(id)
}

func (s *Store) getCommentLocked(id int64) (*models.Comment, error) {
	c, ok := s.st.comments[id]
	if !ok {
		return nil, errs.NotFound("comment %d not found", id)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListCommentsForTask(ctx context.Context, taskID int64) ([]*models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listCommentsForTaskLocked(taskID), nil
}

func (s *Store) listCommentsForTaskLocked(taskID int64) []*models.Comment {
	out := make([]*models.Comment, 0)
	for _, c := range s.st.comments {
		if c.TaskID == taskID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) FindTaskByIdempotencyKey(ctx context.Context, key string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findTaskByIdempotencyKeyLocked(key)
}

func (s *Store) findTaskByIdempotencyKeyLocked(key string) (*models.Task, error) {
	if key == "" {
		return nil, errs.NotFound("no idempotency key")
	}
	for _, t := range s.st.tasks {
		if t.IdempotencyKey != nil && *t.IdempotencyKey == key {
			return cloneTask(t), nil
		}
	}
	return nil, errs.NotFound("no task with idempotency key %q", key)
}
