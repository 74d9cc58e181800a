package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/taskmesh/taskcore/internal/models"
	"github.com/taskmesh/taskcore/internal/observability"
	"github.com/taskmesh/taskcore/internal/store"
)

// TaskContext is get_task_context's result: the task itself, its project,
// root-first subtask ancestry, chronological updates, the most recent
// change entries, and staleness info when applicable.
type TaskContext struct {
	Task          *models.Task
	Project       *models.Project
	Ancestry      []*models.Task // root-first along subtask edges
	Updates       []*models.Update
	RecentChanges []*models.ChangeEntry
	StaleWarning  *StaleInfo
}

// StaleInfo mirrors the stale_warning/stale_info shape attached to a
// reserve response or task context when the task's last reservation was
// auto-unlocked by the sweeper.
type StaleInfo struct {
	PreviousAgent string
	UnlockedAt    interface{}
	Reason        string
}

const recentChangesLimit = 20

// GetTaskContext assembles the aggregated view the dispatcher's
// get_task_context tool returns.
func (e *Engine) GetTaskContext(ctx context.Context, taskID int64) (result *TaskContext, err error) {
	ctx, end := observability.StartSpan(ctx, "query.get_task_context")
	defer func() { observability.RecordSpanError(ctx, err); end() }()

	cacheKey := fmt.Sprintf("task_context:%d", taskID)
	if e.cache != nil {
		var cached TaskContext
		// A cache error (miss or otherwise) just falls through to the store;
		// the cache is a latency optimization, never a source of truth.
		if cacheErr := e.cache.Get(ctx, cacheKey, &cached); cacheErr == nil {
			return &cached, nil
		}
	}

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	result = &TaskContext{Task: task}

	if task.ProjectID != nil {
		if p, err := e.store.GetProject(ctx, *task.ProjectID); err == nil {
			result.Project = p
		}
	}

	ancestry, err := e.subtaskAncestry(ctx, taskID)
	if err != nil {
		return nil, err
	}
	result.Ancestry = ancestry

	updates, err := e.store.ListUpdates(ctx, taskID)
	if err != nil {
		return nil, err
	}
	result.Updates = updates

	changes, err := e.store.ListChangeEntries(ctx, taskID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].ID > changes[j].ID })
	if len(changes) > recentChangesLimit {
		changes = changes[:recentChangesLimit]
	}
	result.RecentChanges = changes

	if task.LastAutoUnlock != nil {
		result.StaleWarning = &StaleInfo{
			PreviousAgent: task.LastAutoUnlock.PreviousAgent,
			UnlockedAt:    task.LastAutoUnlock.UnlockedAt,
			Reason:        task.LastAutoUnlock.Reason,
		}
	}
	if e.cache != nil {
		_ = e.cache.Set(ctx, cacheKey, result, e.cacheTTL)
	}
	return result, nil
}

// subtaskAncestry walks subtask parent edges upward from taskID and
// returns the chain root-first (ancestor order, task itself excluded).
func (e *Engine) subtaskAncestry(ctx context.Context, taskID int64) ([]*models.Task, error) {
	var chain []*models.Task
	current := taskID
	visited := map[int64]bool{taskID: true}
	for {
		rels, err := e.store.GetRelationshipsByChild(ctx, current, models.RelSubtask)
		if err != nil {
			return nil, err
		}
		if len(rels) == 0 {
			break
		}
		parentID := rels[0].ParentTaskID
		if visited[parentID] {
			break // defensive: a cycle should never exist (§4.4 cycle guard)
		}
		visited[parentID] = true
		parent, err := e.store.GetTask(ctx, parentID)
		if err != nil {
			break
		}
		chain = append(chain, parent)
		current = parentID
	}
	// chain was built leaf-upward; reverse to root-first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// AgentPerformance is get_agent_performance's result.
type AgentPerformance struct {
	AgentID           string
	CompletedTotal    int
	CompletedVerified int
	MeanActualHours   float64
	SuccessRate       float64
	ByType            map[models.TaskType]int
}

// GetAgentPerformance aggregates across completed tasks assigned to
// agentID, optionally narrowed to one task_type.
func (e *Engine) GetAgentPerformance(ctx context.Context, agentID string, taskType *models.TaskType) (result *AgentPerformance, err error) {
	ctx, end := observability.StartSpan(ctx, "query.get_agent_performance")
	defer func() { observability.RecordSpanError(ctx, err); end() }()

	status := models.TaskStatusComplete
	filter := store.TaskFilter{AssignedTo: &agentID, TaskStatus: &status, TaskType: taskType}
	tasks, err := e.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	perf := &AgentPerformance{AgentID: agentID, ByType: map[models.TaskType]int{}}
	var hoursSum float64
	var hoursCount int
	for _, t := range tasks {
		perf.CompletedTotal++
		perf.ByType[t.TaskType]++
		if t.VerificationStatus == models.VerificationVerified {
			perf.CompletedVerified++
		}
		if t.ActualHours != nil {
			hoursSum += *t.ActualHours
			hoursCount++
		}
	}
	if hoursCount > 0 {
		perf.MeanActualHours = hoursSum / float64(hoursCount)
	}
	if perf.CompletedTotal > 0 {
		perf.SuccessRate = float64(perf.CompletedVerified) / float64(perf.CompletedTotal)
	}
	return perf, nil
}
