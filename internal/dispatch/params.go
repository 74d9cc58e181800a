package dispatch

import "github.com/taskmesh/taskcore/internal/models"

// Per-operation param structs. Dispatcher.decode rejects JSON keys that
// the target struct does not declare, then checks the `validate` struct
// tags below.

type createTaskParams struct {
	Title                   string                    `json:"title" validate:"required,min=3,max=100"`
	TaskType                models.TaskType            `json:"task_type" validate:"required"`
	TaskInstruction         string                    `json:"task_instruction" validate:"required,min=10"`
	VerificationInstruction string                    `json:"verification_instruction" validate:"required,min=10"`
	AgentID                 string                    `json:"agent_id" validate:"required"`
	ProjectID               *int64                    `json:"project_id"`
	ParentTaskID            *int64                    `json:"parent_task_id"`
	RelationshipType        *models.RelationshipType  `json:"relationship_type"`
	Priority                models.Priority           `json:"priority"`
	Notes                   string                    `json:"notes"`
	EstimatedHours          *float64                  `json:"estimated_hours" validate:"omitempty,min=0.1"`
	DueDate                 *string                   `json:"due_date"`
	IdempotencyKey          *string                   `json:"idempotency_key"`
}

type reserveTaskParams struct {
	TaskID  int64  `json:"task_id" validate:"required"`
	AgentID string `json:"agent_id" validate:"required"`
}

type followupParams struct {
	Title                   string          `json:"title" validate:"required,min=3,max=100"`
	TaskType                models.TaskType `json:"task_type" validate:"required"`
	TaskInstruction         string          `json:"task_instruction" validate:"required,min=10"`
	VerificationInstruction string          `json:"verification_instruction" validate:"required,min=10"`
}

type completeTaskParams struct {
	TaskID      int64           `json:"task_id" validate:"required"`
	AgentID     string          `json:"agent_id" validate:"required"`
	Notes       string          `json:"notes"`
	ActualHours *float64        `json:"actual_hours" validate:"omitempty,min=0.1"`
	Followup    *followupParams `json:"followup"`
}

type unlockTaskParams struct {
	TaskID  int64  `json:"task_id" validate:"required"`
	AgentID string `json:"agent_id" validate:"required"`
}

type verifyTaskParams struct {
	TaskID  int64  `json:"task_id" validate:"required"`
	AgentID string `json:"agent_id" validate:"required"`
	Notes   string `json:"notes"`
}

type bulkUnlockParams struct {
	TaskIDs []int64 `json:"task_ids" validate:"required,min=1"`
	AgentID string  `json:"agent_id" validate:"required"`
}

type addUpdateParams struct {
	TaskID     int64                  `json:"task_id" validate:"required"`
	AgentID    string                 `json:"agent_id" validate:"required"`
	Content    string                 `json:"content" validate:"required"`
	UpdateType models.UpdateType      `json:"update_type" validate:"required"`
	Metadata   map[string]interface{} `json:"metadata"`
}

type createRelationshipParams struct {
	ParentTaskID     int64                   `json:"parent_task_id" validate:"required"`
	ChildTaskID      int64                   `json:"child_task_id" validate:"required"`
	RelationshipType models.RelationshipType `json:"relationship_type" validate:"required"`
	AgentID          string                  `json:"agent_id" validate:"required"`
}

type githubLinkParams struct {
	TaskID  int64  `json:"task_id" validate:"required"`
	AgentID string `json:"agent_id" validate:"required"`
	URL     string `json:"url" validate:"required,url"`
}

type taskIDOnlyParams struct {
	TaskID int64 `json:"task_id" validate:"required"`
}
