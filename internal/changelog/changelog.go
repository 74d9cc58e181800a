// Package changelog is the read-side façade over the append-only Change
// Log. Writes happen transactionally inside the Lifecycle Engine (via
// store.Tx.AppendChangeEntries), in lockstep with the field mutation they
// describe — this package never writes, only queries.
package changelog

import (
	"context"
	"time"

	"github.com/taskmesh/taskcore/internal/models"
)

// Reader is the store surface this component depends on.
type Reader interface {
	ListChangeEntries(ctx context.Context, taskID int64) ([]*models.ChangeEntry, error)
	ListChangeEntriesFiltered(ctx context.Context, taskID *int64, agentID *string, start, end *time.Time) ([]*models.ChangeEntry, error)
}

type Log struct {
	r Reader
}

func New(r Reader) *Log { return &Log{r: r} }

// ByTask returns every ChangeEntry for a task, in insertion (and therefore
// id) order — the total order required by §3 invariant on ChangeEntry.
func (l *Log) ByTask(ctx context.Context, taskID int64) ([]*models.ChangeEntry, error) {
	return l.r.ListChangeEntries(ctx, taskID)
}

// Query filters by any combination of task, agent and time range.
func (l *Log) Query(ctx context.Context, taskID *int64, agentID *string, start, end *time.Time) ([]*models.ChangeEntry, error) {
	return l.r.ListChangeEntriesFiltered(ctx, taskID, agentID, start, end)
}

// FieldDiff is one field's before/after pair, in the order the caller
// wants it recorded — ChangeEntry ordering within a mutation is insertion
// order, so callers must pass diffs in the order fields were assigned.
type FieldDiff struct {
	Field string
	Old   string
	New   string
}

// FieldChanges builds one ChangeEntry per entry in diffs, preserving
// caller order, for the Lifecycle Engine to append atomically with the
// mutation that produced them.
func FieldChanges(taskID int64, agentID string, changeType models.ChangeType, now time.Time, diffs []FieldDiff) []*models.ChangeEntry {
	entries := make([]*models.ChangeEntry, 0, len(diffs))
	for _, d := range diffs {
		entries = append(entries, &models.ChangeEntry{
			TaskID:     taskID,
			AgentID:    agentID,
			ChangeType: changeType,
			FieldName:  d.Field,
			OldValue:   d.Old,
			NewValue:   d.New,
			CreatedAt:  now,
		})
	}
	return entries
}
