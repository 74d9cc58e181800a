// Package query implements the Query Engine: filtered/ordered/searched
// reads, aggregate statistics, and merged activity feeds. Every operation
// in this file is instrumented through observability.Metrics.ObserveQuery
// so slow queries are counted against the configured threshold without
// each call site hand-rolling timing; GetTaskContext and
// GetAgentPerformance open a trace span only.
package query

import (
	"context"
	"sort"
	"time"

	"github.com/taskmesh/taskcore/internal/cache"
	"github.com/taskmesh/taskcore/internal/dependency"
	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/models"
	"github.com/taskmesh/taskcore/internal/observability"
	"github.com/taskmesh/taskcore/internal/store"
)

// Clock is the narrow time source the engine depends on.
type Clock interface {
	Now() time.Time
}

// Engine is the Query Engine.
type Engine struct {
	store    store.Store
	resolver *dependency.Resolver
	clk      Clock
	metrics  *observability.Metrics
	slowLog  time.Duration
	cache    cache.Cache
	cacheTTL time.Duration
}

func New(st store.Store, clk Clock, metrics *observability.Metrics, slowLogThreshold time.Duration) *Engine {
	return &Engine{
		store:    st,
		resolver: dependency.New(st),
		clk:      clk,
		metrics:  metrics,
		slowLog:  slowLogThreshold,
	}
}

// WithCache attaches c as the engine's result cache for read operations
// that can tolerate staleness bounded by ttl, without disturbing New's
// existing call sites. Currently only GetTaskContext consults it.
func (e *Engine) WithCache(c cache.Cache, ttl time.Duration) *Engine {
	e.cache = c
	e.cacheTTL = ttl
	return e
}

// observe wraps fn in a span named query.<op> plus, when metrics are
// wired, the latency histogram/slow-query counter from
// observability.Metrics.ObserveQuery — every read-side operation in this
// file goes through here so tracing and timing stay uniform.
func (e *Engine) observe(ctx context.Context, op string, fn func() error) error {
	ctx, end := observability.StartSpan(ctx, "query."+op)
	defer end()
	var err error
	if e.metrics == nil {
		err = fn()
	} else {
		err = e.metrics.ObserveQuery(ctx, op, e.slowLog, fn)
	}
	observability.RecordSpanError(ctx, err)
	return err
}

const maxLimit = 1000

func clampLimit(limit int) (int, error) {
	if limit == 0 {
		return 100, nil
	}
	if limit < 0 || limit > maxLimit {
		return 0, errs.Validation("limit must be between 1 and %d, got %d", maxLimit, limit)
	}
	return limit, nil
}

// AgentType selects the task_type projection used by list_available.
type AgentType string

const (
	AgentImplementation AgentType = "implementation"
	AgentBreakdown      AgentType = "breakdown"
)

// ListAvailable returns available, unblocked tasks for the given agent
// type projection, ordered by priority desc then created_at asc.
func (e *Engine) ListAvailable(ctx context.Context, agentType AgentType, projectID *int64, limit int) ([]*models.Task, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}
	var out []*models.Task
	err = e.observe(ctx, "list_available", func() error {
		status := models.TaskStatusAvailable
		filter := store.TaskFilter{TaskStatus: &status, ProjectID: projectID, OrderBy: store.OrderPriorityDescCreatedAsc}
		candidates, err := e.store.ListTasks(ctx, filter)
		if err != nil {
			return err
		}
		candidates = filterByAgentType(candidates, agentType)

		ids := make([]int64, len(candidates))
		for i, t := range candidates {
			ids[i] = t.ID
		}
		blocked, err := e.resolver.BlockedSet(ctx, ids)
		if err != nil {
			return err
		}
		for _, t := range candidates {
			if !blocked[t.ID] {
				out = append(out, t)
				if limit > 0 && len(out) >= limit {
					break
				}
			}
		}
		return nil
	})
	return out, err
}

func filterByAgentType(tasks []*models.Task, agentType AgentType) []*models.Task {
	out := make([]*models.Task, 0, len(tasks))
	for _, t := range tasks {
		switch agentType {
		case AgentImplementation:
			if t.TaskType == models.TaskTypeConcrete {
				out = append(out, t)
			}
		case AgentBreakdown:
			if t.TaskType == models.TaskTypeAbstract || t.TaskType == models.TaskTypeEpic {
				out = append(out, t)
			}
		default:
			out = append(out, t)
		}
	}
	return out
}

// Query is the structured-filter query, query_tasks.
func (e *Engine) Query(ctx context.Context, filter store.TaskFilter) ([]*models.Task, error) {
	limit, err := clampLimit(filter.Limit)
	if err != nil {
		return nil, err
	}
	filter.Limit = limit
	var out []*models.Task
	err = e.observe(ctx, "query", func() error {
		out, err = e.store.ListTasks(ctx, filter)
		return err
	})
	return out, err
}

// TaskSummary is the projection returned by Summary and
// RecentCompletions.
type TaskSummary struct {
	ID            int64
	Title         string
	TaskType      models.TaskType
	TaskStatus    models.TaskStatus
	AssignedAgent *string
	ProjectID     *int64
	Priority      models.Priority
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

func summarize(t *models.Task) TaskSummary {
	return TaskSummary{
		ID: t.ID, Title: t.Title, TaskType: t.TaskType, TaskStatus: t.Status,
		AssignedAgent: t.AssignedAgent, ProjectID: t.ProjectID, Priority: t.Priority,
		CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt, CompletedAt: t.CompletedAt,
	}
}

// Summary returns the narrow summary projection for the same filters as
// Query.
func (e *Engine) Summary(ctx context.Context, filter store.TaskFilter) ([]TaskSummary, error) {
	tasks, err := e.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]TaskSummary, len(tasks))
	for i, t := range tasks {
		out[i] = summarize(t)
	}
	return out, nil
}

// Search performs case-insensitive substring search over title,
// task_instruction, verification_instruction and notes.
func (e *Engine) Search(ctx context.Context, q string, limit int) ([]*models.Task, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}
	var out []*models.Task
	err = e.observe(ctx, "search", func() error {
		out, err = e.store.SearchTasks(ctx, q, limit)
		return err
	})
	return out, err
}

// Statistics is statistics's result shape.
type Statistics struct {
	Total            int64
	ByStatus         map[models.TaskStatus]int64
	ByType           map[models.TaskType]int64
	ByProject        map[int64]int64
	CompletionRate   float64
}

// StatisticsFilter narrows the population statistics is computed over.
type StatisticsFilter struct {
	ProjectID *int64
	TaskType  *models.TaskType
	StartDate *time.Time
	EndDate   *time.Time
}

// Statistics aggregates totals, per-status/type/project counts, and a
// completion rate over the filtered population; an empty population
// yields all-zero results rather than an error (P9 ties this to Query's
// count for the same filter).
func (e *Engine) Statistics(ctx context.Context, f StatisticsFilter) (*Statistics, error) {
	var result *Statistics
	err := e.observe(ctx, "statistics", func() error {
		tasks, err := e.store.ListTasks(ctx, store.TaskFilter{ProjectID: f.ProjectID, TaskType: f.TaskType})
		if err != nil {
			return err
		}
		stats := &Statistics{ByStatus: map[models.TaskStatus]int64{}, ByType: map[models.TaskType]int64{}, ByProject: map[int64]int64{}}
		var complete int64
		for _, t := range tasks {
			if f.StartDate != nil && t.CreatedAt.Before(*f.StartDate) {
				continue
			}
			if f.EndDate != nil && t.CreatedAt.After(*f.EndDate) {
				continue
			}
			stats.Total++
			stats.ByStatus[t.Status]++
			stats.ByType[t.TaskType]++
			if t.ProjectID != nil {
				stats.ByProject[*t.ProjectID]++
			}
			if t.Status == models.TaskStatusComplete {
				complete++
			}
		}
		if stats.Total > 0 {
			stats.CompletionRate = float64(complete) / float64(stats.Total)
		}
		result = stats
		return nil
	})
	return result, err
}

// RecentCompletions returns completed-task summaries ordered by
// completed_at desc.
func (e *Engine) RecentCompletions(ctx context.Context, limit int, projectID *int64, hours *int) ([]TaskSummary, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}
	var out []TaskSummary
	err = e.observe(ctx, "recent_completions", func() error {
		status := models.TaskStatusComplete
		tasks, err := e.store.ListTasks(ctx, store.TaskFilter{TaskStatus: &status, ProjectID: projectID, OrderBy: store.OrderCompletedDesc, Limit: limit})
		if err != nil {
			return err
		}
		if hours != nil {
			cutoff := e.clk.Now().Add(-time.Duration(*hours) * time.Hour)
			filtered := tasks[:0]
			for _, t := range tasks {
				if t.CompletedAt != nil && t.CompletedAt.After(cutoff) {
					filtered = append(filtered, t)
				}
			}
			tasks = filtered
		}
		for _, t := range tasks {
			out = append(out, summarize(t))
		}
		return nil
	})
	return out, err
}

// ApproachingDeadline returns tasks with due_date in (now, now+daysAhead].
func (e *Engine) ApproachingDeadline(ctx context.Context, daysAhead int, limit int) ([]*models.Task, error) {
	if daysAhead <= 0 {
		daysAhead = 3
	}
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}
	var out []*models.Task
	err = e.observe(ctx, "approaching_deadline", func() error {
		tasks, err := e.store.ListTasks(ctx, store.TaskFilter{})
		if err != nil {
			return err
		}
		now := e.clk.Now()
		horizon := now.Add(time.Duration(daysAhead) * 24 * time.Hour)
		for _, t := range tasks {
			if t.DueDate != nil && t.DueDate.After(now) && !t.DueDate.After(horizon) {
				out = append(out, t)
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].DueDate.Before(*out[j].DueDate) })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

// Stale returns in_progress tasks whose assigned_at exceeds
// max(hours, configuredTimeout).
func (e *Engine) Stale(ctx context.Context, hours *int, configuredTimeout time.Duration) ([]*models.Task, error) {
	threshold := configuredTimeout
	if hours != nil {
		h := time.Duration(*hours) * time.Hour
		if h > threshold {
			threshold = h
		}
	}
	var out []*models.Task
	err := e.observe(ctx, "stale", func() error {
		status := models.TaskStatusInProgress
		tasks, err := e.store.ListTasks(ctx, store.TaskFilter{TaskStatus: &status})
		if err != nil {
			return err
		}
		now := e.clk.Now()
		for _, t := range tasks {
			if t.AssignedAt != nil && now.Sub(*t.AssignedAt) > threshold {
				out = append(out, t)
			}
		}
		return nil
	})
	return out, err
}

// ActivityEntry merges a ChangeEntry or Update into one timeline.
type ActivityEntry struct {
	Timestamp time.Time
	ID        int64
	TaskID    int64
	AgentID   string
	Kind      string // "change" or "update"
	Change    *models.ChangeEntry
	Update    *models.Update
}

// ActivityFeed merges ChangeEntries and Updates ordered by
// (timestamp, id) ascending. Updates are read per task, so they are
// included only when taskID is given; without it the feed holds change
// entries only.
func (e *Engine) ActivityFeed(ctx context.Context, taskID *int64, agentID *string, start, end *time.Time, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}
	var out []ActivityEntry
	err = e.observe(ctx, "activity_feed", func() error {
		changes, err := e.store.ListChangeEntriesFiltered(ctx, taskID, agentID, start, end)
		if err != nil {
			return err
		}
		for _, c := range changes {
			out = append(out, ActivityEntry{Timestamp: c.CreatedAt, ID: c.ID, TaskID: c.TaskID, AgentID: c.AgentID, Kind: "change", Change: c})
		}

		var updates []*models.Update
		if taskID != nil {
			updates, err = e.store.ListUpdates(ctx, *taskID)
			if err != nil {
				return err
			}
		}
		for _, u := range updates {
			if agentID != nil && u.AgentID != *agentID {
				continue
			}
			if start != nil && u.CreatedAt.Before(*start) {
				continue
			}
			if end != nil && u.CreatedAt.After(*end) {
				continue
			}
			out = append(out, ActivityEntry{Timestamp: u.CreatedAt, ID: u.ID, TaskID: u.TaskID, AgentID: u.AgentID, Kind: "update", Update: u})
		}

		sort.SliceStable(out, func(i, j int) bool {
			if !out[i].Timestamp.Equal(out[j].Timestamp) {
				return out[i].Timestamp.Before(out[j].Timestamp)
			}
			return out[i].ID < out[j].ID
		})
		if len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}
