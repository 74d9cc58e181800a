// Package versionlog is the read-side façade over the Version Log: listing
// a task's snapshots newest-first, fetching one by number, and diffing two
// versions field by field. Appends happen inside the Lifecycle Engine's
// write transaction, numbered previous+1, in lockstep with the mutation.
package versionlog

import (
	"context"
	"fmt"
	"time"

	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/models"
)

type Reader interface {
	ListTaskVersions(ctx context.Context, taskID int64) ([]*models.TaskVersion, error)
	GetTaskVersion(ctx context.Context, taskID int64, number int) (*models.TaskVersion, error)
}

type Log struct {
	r Reader
}

func New(r Reader) *Log { return &Log{r: r} }

// List returns every version of a task, newest first.
func (l *Log) List(ctx context.Context, taskID int64) ([]*models.TaskVersion, error) {
	return l.r.ListTaskVersions(ctx, taskID)
}

// Get fetches a specific version number.
func (l *Log) Get(ctx context.Context, taskID int64, number int) (*models.TaskVersion, error) {
	return l.r.GetTaskVersion(ctx, taskID, number)
}

// Latest returns the highest-numbered version of a task.
func (l *Log) Latest(ctx context.Context, taskID int64) (*models.TaskVersion, error) {
	versions, err := l.r.ListTaskVersions(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, errs.NotFound("no versions for task %d", taskID)
	}
	return versions[0], nil // ListTaskVersions returns newest-first
}

// FieldDiff is one persistent field whose value differs between v1 and v2.
type FieldDiff struct {
	Field    string `json:"field"`
	V1Value  string `json:"v1_value"`
	V2Value  string `json:"v2_value"`
}

// Diff returns one FieldDiff per persistent field that differs between
// version v1Num and v2Num of a task. Requires v2Num > v1Num and both to
// exist.
func (l *Log) Diff(ctx context.Context, taskID int64, v1Num, v2Num int) ([]FieldDiff, error) {
	if v2Num <= v1Num {
		return nil, errs.Validation("diff requires v2 (%d) > v1 (%d)", v2Num, v1Num)
	}
	v1, err := l.r.GetTaskVersion(ctx, taskID, v1Num)
	if err != nil {
		return nil, err
	}
	v2, err := l.r.GetTaskVersion(ctx, taskID, v2Num)
	if err != nil {
		return nil, err
	}
	return diffPayloads(v1.Payload, v2.Payload), nil
}

func diffPayloads(a, b models.Task) []FieldDiff {
	var out []FieldDiff
	add := func(field, oldV, newV string) {
		if oldV != newV {
			out = append(out, FieldDiff{Field: field, V1Value: oldV, V2Value: newV})
		}
	}
	add("task_type", string(a.TaskType), string(b.TaskType))
	add("priority", string(a.Priority), string(b.Priority))
	add("title", a.Title, b.Title)
	add("task_instruction", a.TaskInstruction, b.TaskInstruction)
	add("verification_instruction", a.VerificationInstruction, b.VerificationInstruction)
	add("notes", a.Notes, b.Notes)
	add("assigned_agent", strPtr(a.AssignedAgent), strPtr(b.AssignedAgent))
	add("task_status", string(a.Status), string(b.Status))
	add("verification_status", string(a.VerificationStatus), string(b.VerificationStatus))
	add("estimated_hours", floatPtr(a.EstimatedHours), floatPtr(b.EstimatedHours))
	add("actual_hours", floatPtr(a.ActualHours), floatPtr(b.ActualHours))
	add("due_date", timePtr(a.DueDate), timePtr(b.DueDate))
	add("completed_at", timePtr(a.CompletedAt), timePtr(b.CompletedAt))
	add("github_issue_url", strPtr(a.GithubIssueURL), strPtr(b.GithubIssueURL))
	add("github_pr_url", strPtr(a.GithubPRURL), strPtr(b.GithubPRURL))
	return out
}

func strPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func floatPtr(f *float64) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *f)
}

func timePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
