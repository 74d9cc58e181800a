package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskcore/internal/clock"
	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/lifecycle"
	"github.com/taskmesh/taskcore/internal/observability"
	"github.com/taskmesh/taskcore/internal/query"
	"github.com/taskmesh/taskcore/internal/store/memstore"
	"github.com/taskmesh/taskcore/internal/versionlog"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	fk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := memstore.New(fk)
	t.Cleanup(func() { _ = st.Close() })
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	life := lifecycle.New(st, fk, nil, nil)
	q := query.New(st, fk, metrics, time.Millisecond)
	versions := versionlog.New(st)
	return New(life, q, versions, nil, nil, nil, 24*time.Hour)
}

func rawJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDispatch_UnknownMethod(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), "nonexistent_tool", nil)
	assert.False(t, resp.Success)
	assert.Equal(t, string(errs.KindValidation), resp.Error.Kind)
}

func TestDispatch_CreateTask_SchemaRejectsShortTitle(t *testing.T) {
	d := newTestDispatcher(t)
	params := rawJSON(t, map[string]interface{}{
		"title": "ab", "task_type": "concrete",
		"task_instruction": "do the thing carefully", "verification_instruction": "check the thing works",
		"agent_id": "agent-1",
	})
	resp := d.Dispatch(context.Background(), "create_task", params)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
}

func TestDispatch_CreateTaskThenReserveThenComplete(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	createResp := d.Dispatch(ctx, "create_task", rawJSON(t, map[string]interface{}{
		"title": "Implement widget", "task_type": "concrete",
		"task_instruction": "do the thing carefully", "verification_instruction": "check the thing works",
		"agent_id": "agent-1",
	}))
	require.True(t, createResp.Success)
	result := createResp.Result.(map[string]interface{})
	taskID := int64(result["task_id"].(int64))

	reserveResp := d.Dispatch(ctx, "reserve_task", rawJSON(t, map[string]interface{}{
		"task_id": taskID, "agent_id": "agent-2",
	}))
	require.True(t, reserveResp.Success)

	completeResp := d.Dispatch(ctx, "complete_task", rawJSON(t, map[string]interface{}{
		"task_id": taskID, "agent_id": "agent-2",
	}))
	require.True(t, completeResp.Success)
}

func TestDispatch_ReserveUnknownTaskIsNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), "reserve_task", rawJSON(t, map[string]interface{}{
		"task_id": int64(999), "agent_id": "agent-1",
	}))
	assert.False(t, resp.Success)
	assert.Equal(t, string(errs.KindNotFound), resp.Error.Kind)
}

func TestDispatch_CreateTaskFromTemplate(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	createTemplate := d.Dispatch(ctx, "create_template", rawJSON(t, map[string]interface{}{
		"name": "Bug fix: {{component}}", "task_type": "concrete",
		"task_instruction":         "fix the bug in {{component}}",
		"verification_instruction": "confirm {{component}} no longer fails",
	}))
	require.True(t, createTemplate.Success)
	tmplResult := createTemplate.Result.(map[string]interface{})
	tmplID := tmplResult["template"].(*Template).ID

	fromTemplate := d.Dispatch(ctx, "create_task_from_template", rawJSON(t, map[string]interface{}{
		"template_id": tmplID, "agent_id": "agent-1",
		"variables": map[string]string{"component": "parser"},
	}))
	require.True(t, fromTemplate.Success)
}
