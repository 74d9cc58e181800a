// Package store defines the durable storage contract for the task core:
// transactional CRUD over every §3 entity plus the composite-indexed scans
// the Query Engine and Dependency Resolver depend on. Concrete backends
// live in the memstore (single-writer, in-process) and pgstore (Postgres,
// via sqlx+lib/pq) subpackages; both satisfy the same Store interface so
// the Lifecycle/Query/Dependency layers never know which is wired in.
//
// Writes are serialised on a per-store basis (single-writer discipline);
// reads may proceed in parallel. Every write that mutates a task's
// persistent fields must append its ChangeEntry and TaskVersion rows in the
// same atomic unit as the field mutation — see Tx.
package store

import (
	"context"
	"time"

	"github.com/taskmesh/taskcore/internal/models"
)

// TaskFilter describes the structured filter accepted by Query/ListTasks
// and the composite indexes of §4.1: (task_status,task_type),
// (project_id,task_status[,task_type]), (task_status,priority),
// (created_at desc,task_status).
type TaskFilter struct {
	ProjectID  *int64
	TaskType   *models.TaskType
	TaskStatus *models.TaskStatus
	AssignedTo *string
	Priority   *models.Priority
	TagID      *int64
	TagIDs     []int64 // ALL of these tags must be present
	OrderBy    OrderBy
	Limit      int
}

// OrderBy enumerates supported sort orders for task queries.
type OrderBy string

const (
	OrderPriorityDescCreatedAsc OrderBy = "priority_desc"
	OrderPriorityAscCreatedAsc  OrderBy = "priority_asc"
	OrderCreatedDesc            OrderBy = "created_desc"
	OrderCreatedAsc             OrderBy = "created_asc"
	OrderCompletedDesc          OrderBy = "completed_desc"
	OrderDefault                OrderBy = ""
)

// Store is the durable persistence contract. All methods that read may run
// concurrently with each other and with in-flight writes; they must never
// observe a mix of pre- and post-image fields from the same mutation.
type Store interface {
	// WriteTx runs fn exclusively with respect to every other WriteTx call
	// on this store (the single-writer discipline of §5). fn's mutations,
	// its ChangeEntry appends and its TaskVersion appends are committed (or
	// rolled back) atomically as one unit. Retryable failures (lock
	// contention, serialization failures) are retried internally up to the
	// configured budget before TransactionAborted is returned.
	WriteTx(ctx context.Context, fn func(tx Tx) error) error

	// --- Reads ---

	GetTask(ctx context.Context, id int64) (*models.Task, error)
	GetTasks(ctx context.Context, ids []int64) ([]*models.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error)
	SearchTasks(ctx context.Context, query string, limit int) ([]*models.Task, error)
	CountTasks(ctx context.Context, filter TaskFilter) (int64, error)

	GetProject(ctx context.Context, id int64) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)

	GetRelationshipsByParent(ctx context.Context, parentID int64, relType models.RelationshipType) ([]*models.Relationship, error)
	GetRelationshipsByChild(ctx context.Context, childID int64, relType models.RelationshipType) ([]*models.Relationship, error)
	GetRelationshipsForParents(ctx context.Context, parentIDs []int64, relTypes []models.RelationshipType) ([]*models.Relationship, error)
	GetRelationshipsForChildren(ctx context.Context, childIDs []int64, relTypes []models.RelationshipType) ([]*models.Relationship, error)

	GetTag(ctx context.Context, id int64) (*models.Tag, error)
	GetTagByName(ctx context.Context, name string) (*models.Tag, error)
	ListTags(ctx context.Context) ([]*models.Tag, error)
	GetTagsForTask(ctx context.Context, taskID int64) ([]*models.Tag, error)
	GetTaskIDsForTags(ctx context.Context, tagIDs []int64) ([]int64, error)

	ListUpdates(ctx context.Context, taskID int64) ([]*models.Update, error)

	ListChangeEntries(ctx context.Context, taskID int64) ([]*models.ChangeEntry, error)
	ListChangeEntriesFiltered(ctx context.Context, taskID *int64, agentID *string, start, end *time.Time) ([]*models.ChangeEntry, error)

	ListTaskVersions(ctx context.Context, taskID int64) ([]*models.TaskVersion, error)
	GetTaskVersion(ctx context.Context, taskID int64, number int) (*models.TaskVersion, error)

	GetComment(ctx context.Context, id int64) (*models.Comment, error)
	ListCommentsForTask(ctx context.Context, taskID int64) ([]*models.Comment, error)

	FindTaskByIdempotencyKey(ctx context.Context, key string) (*models.Task, error)

	Close() error
}

// Tx is the set of mutation primitives available inside a WriteTx closure.
// It also exposes read-your-writes style lookups needed to make decisions
// within the same critical section (e.g. reading a task before deciding
// whether its reservation can succeed).
type Tx interface {
	GetTaskForUpdate(ctx context.Context, id int64) (*models.Task, error)
	GetTasksForUpdate(ctx context.Context, ids []int64) ([]*models.Task, error)

	InsertTask(ctx context.Context, t *models.Task) (int64, error)
	UpdateTask(ctx context.Context, t *models.Task) error

	InsertProject(ctx context.Context, p *models.Project) (int64, error)
	UpdateProject(ctx context.Context, p *models.Project) error

	InsertRelationship(ctx context.Context, r *models.Relationship) (int64, error)

	InsertTag(ctx context.Context, t *models.Tag) (int64, error)
	AssignTag(ctx context.Context, taskID, tagID int64) error
	RemoveTag(ctx context.Context, taskID, tagID int64) (bool, error)

	InsertUpdate(ctx context.Context, u *models.Update) (int64, error)

	// AppendChangeEntries appends one or more ChangeEntry rows for the same
	// task in a single call, preserving caller order as insertion order.
	AppendChangeEntries(ctx context.Context, entries []*models.ChangeEntry) error

	// AppendTaskVersion snapshots the post-image of a task as the next
	// version number for that task.
	AppendTaskVersion(ctx context.Context, v *models.TaskVersion) (int, error)

	InsertComment(ctx context.Context, c *models.Comment) (int64, error)
	UpdateComment(ctx context.Context, c *models.Comment) error
	DeleteCommentCascade(ctx context.Context, id int64) error

	// The read methods below, a subset of Store's reads, are also available
	// inside a transaction so decisions can be made against a consistent
	// snapshot.
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	GetRelationshipsByParent(ctx context.Context, parentID int64, relType models.RelationshipType) ([]*models.Relationship, error)
	GetRelationshipsByChild(ctx context.Context, childID int64, relType models.RelationshipType) ([]*models.Relationship, error)
	GetComment(ctx context.Context, id int64) (*models.Comment, error)
	ListCommentsForTask(ctx context.Context, taskID int64) ([]*models.Comment, error)
	GetTagByName(ctx context.Context, name string) (*models.Tag, error)
	GetTagsForTask(ctx context.Context, taskID int64) ([]*models.Tag, error)
	FindTaskByIdempotencyKey(ctx context.Context, key string) (*models.Task, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
}
