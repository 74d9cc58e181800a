// Package models defines the task-coordination entities: Project, Task,
// Relationship, Tag, Update, ChangeEntry, TaskVersion and Comment, along
// with their enums. It mirrors how the teacher's pkg/models/task.go shapes
// a unit of work, generalised from a single-tenant agent task to the full
// project/relationship/versioned-audit domain this system requires.
package models

import "time"

// TaskType classifies the granularity of a unit of work.
type TaskType string

const (
	TaskTypeConcrete TaskType = "concrete"
	TaskTypeAbstract TaskType = "abstract"
	TaskTypeEpic     TaskType = "epic"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeConcrete, TaskTypeAbstract, TaskTypeEpic:
		return true
	}
	return false
}

// Priority orders tasks for availability listing.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Rank returns a descending-priority sort weight: higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// TaskStatus is the primary lifecycle state.
type TaskStatus string

const (
	TaskStatusAvailable  TaskStatus = "available"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusComplete   TaskStatus = "complete"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// VerificationStatus is the secondary, post-completion confirmation state.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationVerified   VerificationStatus = "verified"
)

// Task is a unit of work tracked by the lifecycle engine.
type Task struct {
	ID        int64  `json:"id" db:"id"`
	ProjectID *int64 `json:"project_id,omitempty" db:"project_id"`

	TaskType TaskType `json:"task_type" db:"task_type"`
	Priority Priority `json:"priority" db:"priority"`

	Title                    string `json:"title" db:"title"`
	TaskInstruction          string `json:"task_instruction" db:"task_instruction"`
	VerificationInstruction  string `json:"verification_instruction" db:"verification_instruction"`
	Notes                    string `json:"notes,omitempty" db:"notes"`

	AssignedAgent *string    `json:"assigned_agent,omitempty" db:"assigned_agent"`
	AssignedAt    *time.Time `json:"assigned_at,omitempty" db:"assigned_at"`

	Status             TaskStatus         `json:"task_status" db:"task_status"`
	VerificationStatus VerificationStatus `json:"verification_status" db:"verification_status"`

	EstimatedHours *float64   `json:"estimated_hours,omitempty" db:"estimated_hours"`
	ActualHours    *float64   `json:"actual_hours,omitempty" db:"actual_hours"`
	DueDate        *time.Time `json:"due_date,omitempty" db:"due_date"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	GithubIssueURL *string `json:"github_issue_url,omitempty" db:"github_issue_url"`
	GithubPRURL    *string `json:"github_pr_url,omitempty" db:"github_pr_url"`

	// Labels is a free-form metadata bag, distinct from the structured Tag
	// entity, mirroring the teacher's JSONMap parameter bag scoped down to
	// simple string values (no executable task parameters in this domain).
	Labels map[string]string `json:"labels,omitempty" db:"-"`

	// IdempotencyKey, when set on create_task, lets a retried creation
	// request return the original task id instead of duplicating it.
	IdempotencyKey *string `json:"idempotency_key,omitempty" db:"idempotency_key"`

	// LastAutoUnlock materialises the most recent stale-sweep finding for
	// O(1) "previously abandoned" lookups on reserve; the finding-type
	// Update remains the durable source of truth (§9 Design Notes).
	LastAutoUnlock *AutoUnlockRecord `json:"last_auto_unlock,omitempty" db:"-"`

	Version int `json:"version" db:"version"`
}

// AutoUnlockRecord is the materialised pointer to the sweeper's most recent
// finding for this task.
type AutoUnlockRecord struct {
	PreviousAgent string    `json:"previous_agent"`
	UnlockedAt    time.Time `json:"unlocked_at"`
	Reason        string    `json:"reason"`
}

// IsTerminal reports whether the task can no longer transition (except the
// complete -> verified sub-transition).
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCancelled || t.Status == TaskStatusComplete
}

// RelationshipType enumerates the directed edge kinds between two tasks.
type RelationshipType string

const (
	RelSubtask   RelationshipType = "subtask"
	RelBlocking  RelationshipType = "blocking"
	RelBlockedBy RelationshipType = "blocked_by"
	RelFollowup  RelationshipType = "followup"
	RelRelated   RelationshipType = "related"
)

func (r RelationshipType) Valid() bool {
	switch r {
	case RelSubtask, RelBlocking, RelBlockedBy, RelFollowup, RelRelated:
		return true
	}
	return false
}

// DependencyTypes are the edge kinds considered by the acyclicity invariant
// and the dependency resolver.
var DependencyTypes = map[RelationshipType]bool{
	RelSubtask:   true,
	RelBlocking:  true,
	RelBlockedBy: true,
}

// Relationship is a directed edge between two tasks.
type Relationship struct {
	ID               int64            `json:"id" db:"id"`
	ParentTaskID     int64            `json:"parent_task_id" db:"parent_task_id"`
	ChildTaskID      int64            `json:"child_task_id" db:"child_task_id"`
	RelationshipType RelationshipType `json:"relationship_type" db:"relationship_type"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	CreatedBy        string           `json:"created_by" db:"created_by"`
}

// Project groups tasks, analogous to a tenant.
type Project struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	LocalPath   string    `json:"local_path,omitempty" db:"local_path"`
	OriginURL   string    `json:"origin_url,omitempty" db:"origin_url"`
	Description string    `json:"description,omitempty" db:"description"`
	IsArchived  bool      `json:"is_archived" db:"is_archived"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Tag is a named label that can be attached to tasks.
type Tag struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// TaskTag is the many-to-many join between Task and Tag.
type TaskTag struct {
	TaskID int64 `json:"task_id" db:"task_id"`
	TagID  int64 `json:"tag_id" db:"tag_id"`
}

// UpdateType classifies an agent-authored narrative entry.
type UpdateType string

const (
	UpdateProgress UpdateType = "progress"
	UpdateNote     UpdateType = "note"
	UpdateBlocker  UpdateType = "blocker"
	UpdateQuestion UpdateType = "question"
	UpdateFinding  UpdateType = "finding"
)

func (u UpdateType) Valid() bool {
	switch u {
	case UpdateProgress, UpdateNote, UpdateBlocker, UpdateQuestion, UpdateFinding:
		return true
	}
	return false
}

// Update is an immutable agent-authored narrative entry on a task.
type Update struct {
	ID        int64                  `json:"id" db:"id"`
	TaskID    int64                  `json:"task_id" db:"task_id"`
	AgentID   string                 `json:"agent_id" db:"agent_id"`
	Type      UpdateType             `json:"update_type" db:"update_type"`
	Content   string                 `json:"content" db:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"-"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// ChangeType classifies a ChangeEntry's mutation kind.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeEntry is one append-only audit record per mutated field.
type ChangeEntry struct {
	ID         int64      `json:"id" db:"id"`
	TaskID     int64      `json:"task_id" db:"task_id"`
	AgentID    string     `json:"agent_id" db:"agent_id"`
	ChangeType ChangeType `json:"change_type" db:"change_type"`
	FieldName  string     `json:"field_name" db:"field_name"`
	OldValue   string     `json:"old_value,omitempty" db:"old_value"`
	NewValue   string     `json:"new_value,omitempty" db:"new_value"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// TaskVersion is a full snapshot of a task's mutable fields taken after any
// structural change, numbered 1..N per task.
type TaskVersion struct {
	TaskID    int64     `json:"task_id" db:"task_id"`
	Number    int       `json:"version_number" db:"version_number"`
	Payload   Task      `json:"payload" db:"-"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Comment is an agent-authored comment on a task, owner-mutable/deletable,
// with delete cascading to replies.
type Comment struct {
	ID              int64      `json:"id" db:"id"`
	TaskID          int64      `json:"task_id" db:"task_id"`
	AgentID         string     `json:"agent_id" db:"agent_id"`
	Content         string     `json:"content" db:"content"`
	ParentCommentID *int64     `json:"parent_comment_id,omitempty" db:"parent_comment_id"`
	Mentions        []string   `json:"mentions,omitempty" db:"-"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}
