// Package dependency implements the Dependency Resolver: given a set of
// candidate tasks it computes which are effectively blocked by unfinished
// blockers or blocked subtasks, and guards relationship creation against
// introducing a cycle in the {subtask, blocking, blocked_by} subgraph.
//
// The batch algorithm fetches all directly-blocking relationships for the
// candidate set in one pass, then walks the subtask hierarchy downward in
// breadth-first batches — one indexed query on parent_task_id per level,
// never one query per task — until no new descendants are discovered.
package dependency

import (
	"context"

	"github.com/taskmesh/taskcore/internal/models"
	"github.com/taskmesh/taskcore/internal/store"
)

// Reader is the narrow store surface the resolver needs. store.Store
// satisfies it directly and a store.Tx satisfies it through NewTxReader, so
// the resolver can run inside a write transaction (e.g. while deciding
// whether reserve may proceed) or against a read-only snapshot (e.g. while
// listing available tasks).
type Reader interface {
	GetTasks(ctx context.Context, ids []int64) ([]*models.Task, error)
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	GetRelationshipsForChildren(ctx context.Context, childIDs []int64, relTypes []models.RelationshipType) ([]*models.Relationship, error)
	GetRelationshipsForParents(ctx context.Context, parentIDs []int64, relTypes []models.RelationshipType) ([]*models.Relationship, error)
}

// txReader adapts a store.Tx (which only exposes single-id/parent/child
// lookups) to the batch Reader surface by issuing one call per candidate;
// it is only used for the small sets the Lifecycle Engine resolves inside a
// single reservation decision, not for Query Engine's bulk listings (those
// go through store.Store's true batch methods).
type txReader struct {
	tx store.Tx
}

// NewTxReader wraps a transaction handle for single-task resolution paths
// (e.g. reserve's blocked-check for exactly one task).
func NewTxReader(tx store.Tx) Reader { return &txReader{tx: tx} }

func (r *txReader) GetTasks(ctx context.Context, ids []int64) ([]*models.Task, error) {
	out := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		t, err := r.tx.GetTask(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *txReader) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	return r.tx.GetTask(ctx, id)
}

func (r *txReader) GetRelationshipsForChildren(ctx context.Context, childIDs []int64, relTypes []models.RelationshipType) ([]*models.Relationship, error) {
	var out []*models.Relationship
	seen := map[int64]bool{}
	for _, id := range childIDs {
		for _, rt := range relTypes {
			rels, err := r.tx.GetRelationshipsByChild(ctx, id, rt)
			if err != nil {
				continue
			}
			for _, rel := range rels {
				if !seen[rel.ID] {
					seen[rel.ID] = true
					out = append(out, rel)
				}
			}
		}
	}
	return out, nil
}

func (r *txReader) GetRelationshipsForParents(ctx context.Context, parentIDs []int64, relTypes []models.RelationshipType) ([]*models.Relationship, error) {
	var out []*models.Relationship
	seen := map[int64]bool{}
	for _, id := range parentIDs {
		for _, rt := range relTypes {
			rels, err := r.tx.GetRelationshipsByParent(ctx, id, rt)
			if err != nil {
				continue
			}
			for _, rel := range rels {
				if !seen[rel.ID] {
					seen[rel.ID] = true
					out = append(out, rel)
				}
			}
		}
	}
	return out, nil
}

// Resolver computes effectively-blocked sets and guards cycle creation.
type Resolver struct {
	r Reader
}

func New(r Reader) *Resolver {
	return &Resolver{r: r}
}

func unresolved(status models.TaskStatus) bool {
	return status != models.TaskStatusComplete
}

// BlockedSet returns the subset of taskIDs that are currently effectively
// blocked: linked to an unresolved blocker, or a subtask-hierarchy
// ancestor of a task whose status is blocked or which is itself blocked
// by an unresolved blocker.
func (res *Resolver) BlockedSet(ctx context.Context, taskIDs []int64) (map[int64]bool, error) {
	blocked := make(map[int64]bool, len(taskIDs))
	if len(taskIDs) == 0 {
		return blocked, nil
	}

	// Direct blocking relationships: (b, t, blocked_by) or (t, b, blocking).
	blockedByRels, err := res.r.GetRelationshipsForChildren(ctx, taskIDs, []models.RelationshipType{models.RelBlockedBy})
	if err != nil {
		return nil, err
	}
	blockingRels, err := res.r.GetRelationshipsForParents(ctx, taskIDs, []models.RelationshipType{models.RelBlocking})
	if err != nil {
		return nil, err
	}

	blockerIDSet := map[int64]bool{}
	// blocked_by edge: ParentTaskID=b (blocker), ChildTaskID=t (blocked task)
	edgeBlockerFor := map[int64][]int64{} // taskID -> blocker task ids
	for _, rel := range blockedByRels {
		edgeBlockerFor[rel.ChildTaskID] = append(edgeBlockerFor[rel.ChildTaskID], rel.ParentTaskID)
		blockerIDSet[rel.ParentTaskID] = true
	}
	// blocking edge: ParentTaskID=t (blocked task), ChildTaskID=b (blocker)
	for _, rel := range blockingRels {
		edgeBlockerFor[rel.ParentTaskID] = append(edgeBlockerFor[rel.ParentTaskID], rel.ChildTaskID)
		blockerIDSet[rel.ChildTaskID] = true
	}

	blockerIDs := make([]int64, 0, len(blockerIDSet))
	for id := range blockerIDSet {
		blockerIDs = append(blockerIDs, id)
	}
	blockerTasks, err := res.r.GetTasks(ctx, blockerIDs)
	if err != nil {
		return nil, err
	}
	blockerStatus := make(map[int64]models.TaskStatus, len(blockerTasks))
	for _, t := range blockerTasks {
		blockerStatus[t.ID] = t.Status
	}

	directlyBlocked := map[int64]bool{}
	for taskID, blockers := range edgeBlockerFor {
		for _, b := range blockers {
			if unresolved(blockerStatus[b]) {
				directlyBlocked[taskID] = true
				break
			}
		}
	}
	for id := range directlyBlocked {
		blocked[id] = true
	}

	// Subtask hierarchy: a task is blocked if it has a subtask descendant
	// whose own status is `blocked`, or which is itself directly blocked.
	// Walk downward breadth-first from each candidate, batching one query
	// per level across the whole frontier.
	frontier := append([]int64(nil), taskIDs...)
	visited := map[int64]bool{}
	childBlockedBy := map[int64]bool{} // taskID -> has a problematic descendant
	for len(frontier) > 0 {
		var toQuery []int64
		for _, id := range frontier {
			if !visited[id] {
				visited[id] = true
				toQuery = append(toQuery, id)
			}
		}
		if len(toQuery) == 0 {
			break
		}
		rels, err := res.r.GetRelationshipsForParents(ctx, toQuery, []models.RelationshipType{models.RelSubtask})
		if err != nil {
			return nil, err
		}
		if len(rels) == 0 {
			break
		}
		childIDs := make([]int64, 0, len(rels))
		for _, rel := range rels {
			childIDs = append(childIDs, rel.ChildTaskID)
		}
		childTasks, err := res.r.GetTasks(ctx, childIDs)
		if err != nil {
			return nil, err
		}
		childStatus := make(map[int64]models.TaskStatus, len(childTasks))
		for _, t := range childTasks {
			childStatus[t.ID] = t.Status
		}
		// A child that is itself directly blocked (via blocker edges).
		childDirectlyBlocked, err := res.BlockedSet(ctx, childIDs)
		if err != nil {
			return nil, err
		}
		nextFrontier := make([]int64, 0, len(rels))
		for _, rel := range rels {
			child := rel.ChildTaskID
			problematic := childStatus[child] == models.TaskStatusBlocked || childDirectlyBlocked[child] || childBlockedBy[child]
			if problematic {
				childBlockedBy[rel.ParentTaskID] = true
			}
			nextFrontier = append(nextFrontier, child)
		}
		frontier = nextFrontier
	}
	for id := range childBlockedBy {
		blocked[id] = true
	}

	result := make(map[int64]bool, len(taskIDs))
	for _, id := range taskIDs {
		if blocked[id] {
			result[id] = true
		}
	}
	return result, nil
}

// IsBlocked is a convenience single-task wrapper over BlockedSet.
func (res *Resolver) IsBlocked(ctx context.Context, taskID int64) (bool, error) {
	set, err := res.BlockedSet(ctx, []int64{taskID})
	if err != nil {
		return false, err
	}
	return set[taskID], nil
}

// WouldCreateCycle reports whether adding a directed edge parent->child of
// one of the cycle-relevant types would close a cycle in the
// {subtask, blocking, blocked_by} subgraph. It walks forward from child
// looking for a path back to parent.
func (res *Resolver) WouldCreateCycle(ctx context.Context, parentID, childID int64) (bool, error) {
	if parentID == childID {
		return true, nil
	}
	relTypes := []models.RelationshipType{models.RelSubtask, models.RelBlocking, models.RelBlockedBy}
	visited := map[int64]bool{childID: true}
	frontier := []int64{childID}
	for len(frontier) > 0 {
		rels, err := res.r.GetRelationshipsForParents(ctx, frontier, relTypes)
		if err != nil {
			return false, err
		}
		var next []int64
		for _, rel := range rels {
			target := rel.ChildTaskID
			if target == parentID {
				return true, nil
			}
			if !visited[target] {
				visited[target] = true
				next = append(next, target)
			}
		}
		frontier = next
	}
	return false, nil
}
