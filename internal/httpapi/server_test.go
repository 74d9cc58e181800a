package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskcore/internal/clock"
	"github.com/taskmesh/taskcore/internal/dispatch"
	"github.com/taskmesh/taskcore/internal/lifecycle"
	"github.com/taskmesh/taskcore/internal/observability"
	"github.com/taskmesh/taskcore/internal/query"
	"github.com/taskmesh/taskcore/internal/store/memstore"
	"github.com/taskmesh/taskcore/internal/versionlog"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	fk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := memstore.New(fk)
	t.Cleanup(func() { _ = st.Close() })
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	life := lifecycle.New(st, fk, nil, nil)
	q := query.New(st, fk, metrics, time.Millisecond)
	versions := versionlog.New(st)
	d := dispatch.New(life, q, versions, nil, nil, nil, 24*time.Hour)
	return New(":0", d, nil, nil)
}

func doRPC(t *testing.T, s *Server, method string, params interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"method": method, "params": params})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestRPC_HealthzReportsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRPC_CreateTaskRoundTrip(t *testing.T) {
	s := newTestServer(t)
	rec := doRPC(t, s, "create_task", map[string]interface{}{
		"title": "Implement widget", "task_type": "concrete",
		"task_instruction": "do the thing carefully", "verification_instruction": "check the thing works",
		"agent_id": "agent-1",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp dispatch.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestRPC_MalformedBodyReturnsBadRequest(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRPC_UnknownMethodReturnsUnsuccessfulEnvelope(t *testing.T) {
	s := newTestServer(t)
	rec := doRPC(t, s, "nonexistent_tool", map[string]interface{}{})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp dispatch.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
}
