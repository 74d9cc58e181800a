package versionlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/models"
)

type fakeReader struct {
	byTask map[int64][]*models.TaskVersion // newest-first
}

func (f *fakeReader) ListTaskVersions(ctx context.Context, taskID int64) ([]*models.TaskVersion, error) {
	return f.byTask[taskID], nil
}

func (f *fakeReader) GetTaskVersion(ctx context.Context, taskID int64, number int) (*models.TaskVersion, error) {
	for _, v := range f.byTask[taskID] {
		if v.Number == number {
			return v, nil
		}
	}
	return nil, errs.NotFound("version %d not found for task %d", number, taskID)
}

func snapshotAt(taskID int64, number int, title, status string) *models.TaskVersion {
	return &models.TaskVersion{
		TaskID: taskID, Number: number, CreatedAt: time.Now(),
		Payload: models.Task{Title: title, Status: models.TaskStatus(status)},
	}
}

func TestLatest_ReturnsNewestFirstEntry(t *testing.T) {
	r := &fakeReader{byTask: map[int64][]*models.TaskVersion{
		1: {snapshotAt(1, 2, "Task v2", "in_progress"), snapshotAt(1, 1, "Task v1", "available")},
	}}
	log := New(r)
	v, err := log.Latest(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Number)
}

func TestLatest_NoVersionsIsNotFound(t *testing.T) {
	r := &fakeReader{byTask: map[int64][]*models.TaskVersion{}}
	log := New(r)
	_, err := log.Latest(context.Background(), 99)
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestDiff_RequiresV2GreaterThanV1(t *testing.T) {
	r := &fakeReader{}
	log := New(r)
	_, err := log.Diff(context.Background(), 1, 3, 2)
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestDiff_ReportsOnlyChangedFields(t *testing.T) {
	r := &fakeReader{byTask: map[int64][]*models.TaskVersion{
		1: {
			snapshotAt(1, 2, "Renamed task", "in_progress"),
			snapshotAt(1, 1, "Renamed task", "available"),
		},
	}}
	log := New(r)
	diffs, err := log.Diff(context.Background(), 1, 1, 2)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "task_status", diffs[0].Field)
	assert.Equal(t, "available", diffs[0].V1Value)
	assert.Equal(t, "in_progress", diffs[0].V2Value)
}
