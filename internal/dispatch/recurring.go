package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/lifecycle"
)

// RecurringTask is a scheduled instantiation of a Template: a cron-style
// spec owning the decision of when instantiate_recurring_task should fire
// next, left to the caller (§4 Templates and recurring tasks — scheduling
// logic lives outside the core).
type RecurringTask struct {
	ID             int64
	TemplateID     int64
	AgentID        string
	ProjectID      *int64
	CronExpression string
	Active         bool
	LastRunAt      *time.Time
	CreatedAt      time.Time
}

// RecurringTaskProvider is the narrow contract the core depends on for
// recurring-task storage; only an in-memory reference adapter ships here.
type RecurringTaskProvider interface {
	Create(ctx context.Context, r *RecurringTask) (*RecurringTask, error)
	List(ctx context.Context) ([]*RecurringTask, error)
	Get(ctx context.Context, id int64) (*RecurringTask, error)
	Update(ctx context.Context, id int64, cronExpression string) (*RecurringTask, error)
	Deactivate(ctx context.Context, id int64) error
	MarkRun(ctx context.Context, id int64, at time.Time) error
}

// InMemoryRecurringTaskProvider is the reference RecurringTaskProvider
// adapter.
type InMemoryRecurringTaskProvider struct {
	mu     sync.Mutex
	byID   map[int64]*RecurringTask
	nextID int64
}

// NewInMemoryRecurringTaskProvider builds an empty reference adapter.
func NewInMemoryRecurringTaskProvider() *InMemoryRecurringTaskProvider {
	return &InMemoryRecurringTaskProvider{byID: make(map[int64]*RecurringTask)}
}

func (p *InMemoryRecurringTaskProvider) Create(ctx context.Context, r *RecurringTask) (*RecurringTask, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	r.ID = p.nextID
	r.Active = true
	cp := *r
	p.byID[r.ID] = &cp
	return &cp, nil
}

func (p *InMemoryRecurringTaskProvider) List(ctx context.Context) ([]*RecurringTask, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*RecurringTask, 0, len(p.byID))
	for _, r := range p.byID {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (p *InMemoryRecurringTaskProvider) Get(ctx context.Context, id int64) (*RecurringTask, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.byID[id]
	if !ok {
		return nil, errs.NotFound("recurring task %d not found", id)
	}
	cp := *r
	return &cp, nil
}

func (p *InMemoryRecurringTaskProvider) Update(ctx context.Context, id int64, cronExpression string) (*RecurringTask, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.byID[id]
	if !ok {
		return nil, errs.NotFound("recurring task %d not found", id)
	}
	r.CronExpression = cronExpression
	cp := *r
	return &cp, nil
}

func (p *InMemoryRecurringTaskProvider) Deactivate(ctx context.Context, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.byID[id]
	if !ok {
		return errs.NotFound("recurring task %d not found", id)
	}
	r.Active = false
	return nil
}

func (p *InMemoryRecurringTaskProvider) MarkRun(ctx context.Context, id int64, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.byID[id]
	if !ok {
		return errs.NotFound("recurring task %d not found", id)
	}
	r.LastRunAt = &at
	return nil
}

type createRecurringTaskParams struct {
	TemplateID     int64  `json:"template_id" validate:"required"`
	AgentID        string `json:"agent_id" validate:"required"`
	ProjectID      *int64 `json:"project_id"`
	CronExpression string `json:"cron_expression" validate:"required"`
}

func handleCreateRecurringTask(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p createRecurringTaskParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	if _, err := d.templates.Get(ctx, p.TemplateID); err != nil {
		return nil, err
	}
	r, err := d.recurring.Create(ctx, &RecurringTask{
		TemplateID: p.TemplateID, AgentID: p.AgentID, ProjectID: p.ProjectID,
		CronExpression: p.CronExpression,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"recurring_task": r}, nil
}

func handleListRecurringTasks(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	tasks, err := d.recurring.List(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"recurring_tasks": tasks}, nil
}

type recurringTaskIDParams struct {
	RecurringTaskID int64 `json:"recurring_task_id" validate:"required"`
}

func handleGetRecurringTask(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p recurringTaskIDParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	r, err := d.recurring.Get(ctx, p.RecurringTaskID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"recurring_task": r}, nil
}

type updateRecurringTaskParams struct {
	RecurringTaskID int64  `json:"recurring_task_id" validate:"required"`
	CronExpression  string `json:"cron_expression" validate:"required"`
}

func handleUpdateRecurringTask(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p updateRecurringTaskParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	r, err := d.recurring.Update(ctx, p.RecurringTaskID, p.CronExpression)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"recurring_task": r}, nil
}

func handleDeactivateRecurringTask(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p recurringTaskIDParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	if err := d.recurring.Deactivate(ctx, p.RecurringTaskID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"recurring_task_id": p.RecurringTaskID}, nil
}

func handleInstantiateRecurringTask(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p recurringTaskIDParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	r, err := d.recurring.Get(ctx, p.RecurringTaskID)
	if err != nil {
		return nil, err
	}
	if !r.Active {
		return nil, errs.Validation("recurring task %d is deactivated", r.ID)
	}
	t, err := d.templates.Get(ctx, r.TemplateID)
	if err != nil {
		return nil, err
	}
	in := lifecycle.CreateTaskInput{
		Title:                   t.Name,
		TaskType:                t.TaskType,
		TaskInstruction:         t.TaskInstruction,
		VerificationInstruction: t.VerificationInstruction,
		AgentID:                 r.AgentID,
		ProjectID:               r.ProjectID,
		Priority:                t.Priority,
		EstimatedHours:          t.EstimatedHours,
	}
	result, err := d.life.CreateTask(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := d.recurring.MarkRun(ctx, r.ID, time.Now()); err != nil {
		return nil, err
	}
	return map[string]interface{}{"task": result}, nil
}
