package pgstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Store{db: sqlx.NewDb(db, "postgres")}, mock
}

func taskRowColumns() []string {
	return []string{
		"id", "project_id", "task_type", "priority", "title", "task_instruction",
		"verification_instruction", "notes", "assigned_agent", "assigned_at",
		"task_status", "verification_status", "estimated_hours", "actual_hours",
		"due_date", "created_at", "updated_at", "completed_at", "github_issue_url",
		"github_pr_url", "labels", "idempotency_key", "last_auto_unlock", "version",
	}
}

func TestGetTask_ScansRowIntoModel(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	rows := sqlmock.NewRows(taskRowColumns()).AddRow(
		int64(7), nil, "concrete", "medium", "Implement widget", "do the thing carefully",
		"check the thing works", "", nil, nil,
		"available", "unverified", nil, nil,
		nil, now, now, nil, nil,
		nil, []byte("{}"), nil, nil, 1,
	)
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id = \$1`).WithArgs(int64(7)).WillReturnRows(rows)

	task, err := st.GetTask(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), task.ID)
	assert.Equal(t, models.TaskStatusAvailable, task.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTask_NoRowsTranslatesToNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id = \$1`).WithArgs(int64(404)).WillReturnError(sql.ErrNoRows)

	_, err := st.GetTask(context.Background(), 404)
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTranslateErr_SerializationFailureIsRetryable(t *testing.T) {
	err := translateErr(&pq.Error{Code: "40001", Message: "could not serialize access"}, "task")
	assert.Equal(t, errs.KindTransactionAborted, errs.KindOf(err))
	assert.True(t, errs.IsRetryable(err))
}

func TestTranslateErr_UniqueViolationIsConflict(t *testing.T) {
	err := translateErr(&pq.Error{Code: "23505", Message: "duplicate key"}, "task")
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestTranslateErr_ForeignKeyViolationIsValidation(t *testing.T) {
	err := translateErr(&pq.Error{Code: "23503", Message: "violates foreign key"}, "task")
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}
