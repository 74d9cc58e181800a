package pgstore

import (
	"encoding/json"
	"time"

	"github.com/taskmesh/taskcore/internal/models"
)

// taskRow mirrors models.Task's columns plus the JSONB-backed fields the
// model itself marks db:"-" (Labels, LastAutoUnlock), since sqlx can't map
// those directly onto a map/pointer-to-struct without help.
type taskRow struct {
	ID                      int64      `db:"id"`
	ProjectID               *int64     `db:"project_id"`
	TaskType                string     `db:"task_type"`
	Priority                string     `db:"priority"`
	Title                   string     `db:"title"`
	TaskInstruction         string     `db:"task_instruction"`
	VerificationInstruction string     `db:"verification_instruction"`
	Notes                   string     `db:"notes"`
	AssignedAgent           *string    `db:"assigned_agent"`
	AssignedAt              *time.Time `db:"assigned_at"`
	TaskStatus              string     `db:"task_status"`
	VerificationStatus      string     `db:"verification_status"`
	EstimatedHours          *float64   `db:"estimated_hours"`
	ActualHours             *float64   `db:"actual_hours"`
	DueDate                 *time.Time `db:"due_date"`
	CreatedAt               time.Time  `db:"created_at"`
	UpdatedAt               time.Time  `db:"updated_at"`
	CompletedAt             *time.Time `db:"completed_at"`
	GithubIssueURL          *string    `db:"github_issue_url"`
	GithubPRURL             *string    `db:"github_pr_url"`
	Labels                  []byte     `db:"labels"`
	IdempotencyKey          *string    `db:"idempotency_key"`
	LastAutoUnlock          []byte     `db:"last_auto_unlock"`
	Version                 int        `db:"version"`
}

func (r *taskRow) toModel() (*models.Task, error) {
	t := &models.Task{
		ID:                      r.ID,
		ProjectID:               r.ProjectID,
		TaskType:                models.TaskType(r.TaskType),
		Priority:                models.Priority(r.Priority),
		Title:                   r.Title,
		TaskInstruction:         r.TaskInstruction,
		VerificationInstruction: r.VerificationInstruction,
		Notes:                   r.Notes,
		AssignedAgent:           r.AssignedAgent,
		AssignedAt:              r.AssignedAt,
		Status:                  models.TaskStatus(r.TaskStatus),
		VerificationStatus:      models.VerificationStatus(r.VerificationStatus),
		EstimatedHours:          r.EstimatedHours,
		ActualHours:             r.ActualHours,
		DueDate:                 r.DueDate,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
		CompletedAt:             r.CompletedAt,
		GithubIssueURL:          r.GithubIssueURL,
		GithubPRURL:             r.GithubPRURL,
		IdempotencyKey:          r.IdempotencyKey,
		Version:                 r.Version,
	}
	if len(r.Labels) > 0 {
		if err := json.Unmarshal(r.Labels, &t.Labels); err != nil {
			return nil, err
		}
	}
	if len(r.LastAutoUnlock) > 0 {
		var rec models.AutoUnlockRecord
		if err := json.Unmarshal(r.LastAutoUnlock, &rec); err != nil {
			return nil, err
		}
		t.LastAutoUnlock = &rec
	}
	return t, nil
}

// taskRowFromModel prepares the named-parameter map pgstore's insert/update
// statements bind against, JSON-encoding the two db:"-" fields.
func taskRowFromModel(t *models.Task) (map[string]interface{}, error) {
	labels, err := json.Marshal(t.Labels)
	if err != nil {
		return nil, err
	}
	var lastAutoUnlock []byte
	if t.LastAutoUnlock != nil {
		lastAutoUnlock, err = json.Marshal(t.LastAutoUnlock)
		if err != nil {
			return nil, err
		}
	}
	return map[string]interface{}{
		"id":                        t.ID,
		"project_id":                t.ProjectID,
		"task_type":                 string(t.TaskType),
		"priority":                  string(t.Priority),
		"title":                     t.Title,
		"task_instruction":          t.TaskInstruction,
		"verification_instruction":  t.VerificationInstruction,
		"notes":                     t.Notes,
		"assigned_agent":            t.AssignedAgent,
		"assigned_at":               t.AssignedAt,
		"task_status":               string(t.Status),
		"verification_status":       string(t.VerificationStatus),
		"estimated_hours":           t.EstimatedHours,
		"actual_hours":              t.ActualHours,
		"due_date":                  t.DueDate,
		"created_at":                t.CreatedAt,
		"updated_at":                t.UpdatedAt,
		"completed_at":              t.CompletedAt,
		"github_issue_url":          t.GithubIssueURL,
		"github_pr_url":             t.GithubPRURL,
		"labels":                    labels,
		"idempotency_key":           t.IdempotencyKey,
		"last_auto_unlock":          lastAutoUnlock,
		"version":                   t.Version,
	}, nil
}

type updateRow struct {
	ID         int64     `db:"id"`
	TaskID     int64     `db:"task_id"`
	AgentID    string    `db:"agent_id"`
	UpdateType string    `db:"update_type"`
	Content    string    `db:"content"`
	Metadata   []byte    `db:"metadata"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r *updateRow) toModel() (*models.Update, error) {
	u := &models.Update{
		ID: r.ID, TaskID: r.TaskID, AgentID: r.AgentID,
		Type: models.UpdateType(r.UpdateType), Content: r.Content, CreatedAt: r.CreatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &u.Metadata); err != nil {
			return nil, err
		}
	}
	return u, nil
}

type commentRow struct {
	ID              int64      `db:"id"`
	TaskID          int64      `db:"task_id"`
	AgentID         string     `db:"agent_id"`
	Content         string     `db:"content"`
	ParentCommentID *int64     `db:"parent_comment_id"`
	Mentions        []byte     `db:"mentions"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       *time.Time `db:"updated_at"`
}

func (r *commentRow) toModel() (*models.Comment, error) {
	c := &models.Comment{
		ID: r.ID, TaskID: r.TaskID, AgentID: r.AgentID, Content: r.Content,
		ParentCommentID: r.ParentCommentID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if len(r.Mentions) > 0 {
		if err := json.Unmarshal(r.Mentions, &c.Mentions); err != nil {
			return nil, err
		}
	}
	return c, nil
}

type versionRow struct {
	TaskID        int64     `db:"task_id"`
	VersionNumber int       `db:"version_number"`
	Payload       []byte    `db:"payload"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r *versionRow) toModel() (*models.TaskVersion, error) {
	v := &models.TaskVersion{TaskID: r.TaskID, Number: r.VersionNumber, CreatedAt: r.CreatedAt}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &v.Payload); err != nil {
			return nil, err
		}
	}
	return v, nil
}
