package changelog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taskmesh/taskcore/internal/models"
)

func TestFieldChanges_PreservesCallerOrder(t *testing.T) {
	now := time.Now()
	diffs := []FieldDiff{
		{Field: "task_status", Old: "available", New: "in_progress"},
		{Field: "assigned_agent", Old: "", New: "agent-1"},
	}
	entries := FieldChanges(42, "agent-1", models.ChangeUpdate, now, diffs)

	assert.Len(t, entries, 2)
	assert.Equal(t, "task_status", entries[0].FieldName)
	assert.Equal(t, "assigned_agent", entries[1].FieldName)
	for _, e := range entries {
		assert.Equal(t, int64(42), e.TaskID)
		assert.Equal(t, "agent-1", e.AgentID)
		assert.Equal(t, models.ChangeUpdate, e.ChangeType)
		assert.True(t, e.CreatedAt.Equal(now))
	}
}

func TestFieldChanges_EmptyDiffsYieldsEmptySlice(t *testing.T) {
	entries := FieldChanges(1, "agent-1", models.ChangeCreate, time.Now(), nil)
	assert.Empty(t, entries)
}
