package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/lifecycle"
	"github.com/taskmesh/taskcore/internal/models"
)

// Template is a reusable blueprint for create_task_from_template: its
// instruction fields may contain {{placeholder}} markers substituted from
// the caller-supplied variable map at instantiation time.
type Template struct {
	ID                      int64
	Name                    string
	TaskType                models.TaskType
	Priority                models.Priority
	TaskInstruction         string
	VerificationInstruction string
	EstimatedHours          *float64
	CreatedAt               time.Time
}

// TemplateProvider is the narrow contract the core depends on for template
// storage; the core ships only an in-memory reference adapter (§4 Templates
// and recurring tasks) and expects a real deployment to substitute its own.
type TemplateProvider interface {
	Create(ctx context.Context, t *Template) (*Template, error)
	List(ctx context.Context) ([]*Template, error)
	Get(ctx context.Context, id int64) (*Template, error)
}

// InMemoryTemplateProvider is the reference TemplateProvider adapter.
type InMemoryTemplateProvider struct {
	mu     sync.Mutex
	byID   map[int64]*Template
	nextID int64
}

// NewInMemoryTemplateProvider builds an empty reference adapter.
func NewInMemoryTemplateProvider() *InMemoryTemplateProvider {
	return &InMemoryTemplateProvider{byID: make(map[int64]*Template)}
}

func (p *InMemoryTemplateProvider) Create(ctx context.Context, t *Template) (*Template, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	t.ID = p.nextID
	cp := *t
	p.byID[t.ID] = &cp
	return &cp, nil
}

func (p *InMemoryTemplateProvider) List(ctx context.Context) ([]*Template, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Template, 0, len(p.byID))
	for _, t := range p.byID {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (p *InMemoryTemplateProvider) Get(ctx context.Context, id int64) (*Template, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.byID[id]
	if !ok {
		return nil, errs.NotFound("template %d not found", id)
	}
	cp := *t
	return &cp, nil
}

func (d *Dispatcher) registerTemplatesAndRecurring() {
	d.register("create_template", "", handleCreateTemplate)
	d.register("list_templates", "", handleListTemplates)
	d.register("get_template", "", handleGetTemplate)
	d.register("create_task_from_template", "", handleCreateTaskFromTemplate)

	d.register("create_recurring_task", "", handleCreateRecurringTask)
	d.register("list_recurring_tasks", "", handleListRecurringTasks)
	d.register("get_recurring_task", "", handleGetRecurringTask)
	d.register("update_recurring_task", "", handleUpdateRecurringTask)
	d.register("deactivate_recurring_task", "", handleDeactivateRecurringTask)
	d.register("instantiate_recurring_task", "", handleInstantiateRecurringTask)
}

type createTemplateParams struct {
	Name                    string          `json:"name" validate:"required"`
	TaskType                models.TaskType `json:"task_type" validate:"required"`
	Priority                models.Priority `json:"priority"`
	TaskInstruction         string          `json:"task_instruction" validate:"required"`
	VerificationInstruction string          `json:"verification_instruction" validate:"required"`
	EstimatedHours          *float64        `json:"estimated_hours"`
}

func handleCreateTemplate(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p createTemplateParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	t, err := d.templates.Create(ctx, &Template{
		Name: p.Name, TaskType: p.TaskType, Priority: p.Priority,
		TaskInstruction: p.TaskInstruction, VerificationInstruction: p.VerificationInstruction,
		EstimatedHours: p.EstimatedHours,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"template": t}, nil
}

func handleListTemplates(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	templates, err := d.templates.List(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"templates": templates}, nil
}

type templateIDParams struct {
	TemplateID int64 `json:"template_id" validate:"required"`
}

func handleGetTemplate(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p templateIDParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	t, err := d.templates.Get(ctx, p.TemplateID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"template": t}, nil
}

type createTaskFromTemplateParams struct {
	TemplateID int64             `json:"template_id" validate:"required"`
	AgentID    string            `json:"agent_id" validate:"required"`
	ProjectID  *int64            `json:"project_id"`
	Variables  map[string]string `json:"variables"`
}

// renderTemplate substitutes {{key}} markers in s from vars.
func renderTemplate(s string, vars map[string]string) string {
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}

func handleCreateTaskFromTemplate(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p createTaskFromTemplateParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	t, err := d.templates.Get(ctx, p.TemplateID)
	if err != nil {
		return nil, err
	}
	title := renderTemplate(t.Name, p.Variables)
	in := lifecycle.CreateTaskInput{
		Title:                   title,
		TaskType:                t.TaskType,
		TaskInstruction:         renderTemplate(t.TaskInstruction, p.Variables),
		VerificationInstruction: renderTemplate(t.VerificationInstruction, p.Variables),
		AgentID:                 p.AgentID,
		ProjectID:               p.ProjectID,
		Priority:                t.Priority,
		EstimatedHours:          t.EstimatedHours,
	}
	result, err := d.life.CreateTask(ctx, in)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"task": result}, nil
}
