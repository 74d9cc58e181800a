package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/models"
	"github.com/taskmesh/taskcore/internal/query"
	"github.com/taskmesh/taskcore/internal/store"
)

func (d *Dispatcher) registerQuery() {
	d.register("list_available_tasks", schemaListAvailable, handleListAvailable)
	d.register("query_tasks", "", handleQueryTasks)
	d.register("get_task_summary", "", handleTaskSummary)
	d.register("search_tasks", "", handleSearchTasks)
	d.register("get_task_statistics", "", handleStatistics)
	d.register("get_recent_completions", "", handleRecentCompletions)
	d.register("get_tasks_approaching_deadline", "", handleApproachingDeadline)
	d.register("query_stale_tasks", "", handleStaleTasks)
	d.register("get_activity_feed", "", handleActivityFeed)
	d.register("get_task_context", schemaTaskIDOnly, handleTaskContext)
	d.register("get_agent_performance", "", handleAgentPerformance)
}

type listAvailableParams struct {
	AgentType string `json:"agent_type" validate:"required"`
	ProjectID *int64 `json:"project_id"`
	Limit     int    `json:"limit"`
}

func handleListAvailable(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p listAvailableParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	tasks, err := d.query.ListAvailable(ctx, query.AgentType(p.AgentType), p.ProjectID, p.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tasks": tasks}, nil
}

// taskFilterParams mirrors store.TaskFilter's agent-facing shape for
// query_tasks/get_task_summary.
type taskFilterParams struct {
	ProjectID  *int64             `json:"project_id"`
	TaskType   *models.TaskType   `json:"task_type"`
	TaskStatus *models.TaskStatus `json:"task_status"`
	AssignedTo *string            `json:"assigned_to"`
	Priority   *models.Priority   `json:"priority"`
	TagID      *int64             `json:"tag_id"`
	TagIDs     []int64            `json:"tag_ids"`
	OrderBy    string             `json:"order_by"`
	Limit      int                `json:"limit"`
}

func (p taskFilterParams) toStoreFilter() store.TaskFilter {
	return store.TaskFilter{
		ProjectID: p.ProjectID, TaskType: p.TaskType, TaskStatus: p.TaskStatus,
		AssignedTo: p.AssignedTo, Priority: p.Priority, TagID: p.TagID, TagIDs: p.TagIDs,
		OrderBy: store.OrderBy(p.OrderBy), Limit: p.Limit,
	}
}

func handleQueryTasks(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p taskFilterParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	tasks, err := d.query.Query(ctx, p.toStoreFilter())
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tasks": tasks}, nil
}

func handleTaskSummary(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p taskFilterParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	summaries, err := d.query.Summary(ctx, p.toStoreFilter())
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tasks": summaries}, nil
}

type searchTasksParams struct {
	Query string `json:"query" validate:"required"`
	Limit int    `json:"limit"`
}

func handleSearchTasks(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p searchTasksParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	tasks, err := d.query.Search(ctx, p.Query, p.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tasks": tasks}, nil
}

type statisticsParams struct {
	ProjectID *int64           `json:"project_id"`
	TaskType  *models.TaskType `json:"task_type"`
	StartDate *time.Time       `json:"start_date"`
	EndDate   *time.Time       `json:"end_date"`
}

func handleStatistics(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p statisticsParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	stats, err := d.query.Statistics(ctx, query.StatisticsFilter{
		ProjectID: p.ProjectID, TaskType: p.TaskType, StartDate: p.StartDate, EndDate: p.EndDate,
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

type recentCompletionsParams struct {
	Limit     int    `json:"limit"`
	ProjectID *int64 `json:"project_id"`
	Hours     *int   `json:"hours"`
}

func handleRecentCompletions(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p recentCompletionsParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	out, err := d.query.RecentCompletions(ctx, p.Limit, p.ProjectID, p.Hours)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tasks": out}, nil
}

type approachingDeadlineParams struct {
	DaysAhead int `json:"days_ahead"`
	Limit     int `json:"limit"`
}

func handleApproachingDeadline(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p approachingDeadlineParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	tasks, err := d.query.ApproachingDeadline(ctx, p.DaysAhead, p.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tasks": tasks}, nil
}

type staleTasksParams struct {
	Hours *int `json:"hours"`
}

func handleStaleTasks(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p staleTasksParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	if d.staleTimeout <= 0 {
		return nil, errs.Fatal("dispatcher not configured with a stale timeout")
	}
	tasks, err := d.query.Stale(ctx, p.Hours, d.staleTimeout)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tasks": tasks}, nil
}

type activityFeedParams struct {
	TaskID  *int64     `json:"task_id"`
	AgentID *string    `json:"agent_id"`
	Start   *time.Time `json:"start"`
	End     *time.Time `json:"end"`
	Limit   int        `json:"limit"`
}

func handleActivityFeed(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p activityFeedParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	entries, err := d.query.ActivityFeed(ctx, p.TaskID, p.AgentID, p.Start, p.End, p.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"entries": entries}, nil
}

func handleTaskContext(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p taskIDOnlyParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	tc, err := d.query.GetTaskContext(ctx, p.TaskID)
	if err != nil {
		return nil, err
	}
	return tc, nil
}

type agentPerformanceParams struct {
	AgentID  string           `json:"agent_id" validate:"required"`
	TaskType *models.TaskType `json:"task_type"`
}

func handleAgentPerformance(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p agentPerformanceParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	perf, err := d.query.GetAgentPerformance(ctx, p.AgentID, p.TaskType)
	if err != nil {
		return nil, err
	}
	return perf, nil
}
