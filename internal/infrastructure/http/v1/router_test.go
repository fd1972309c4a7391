package v1

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/core/orc"
	"orchestrator/internal/infrastructure/bus/busmemory"
	"orchestrator/internal/infrastructure/storage/memory"
	"orchestrator/internal/orchestrator"
	"orchestrator/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter() (*gin.Engine, *memory.Store, *memory.IdempotencyResolver, *busmemory.Bus) {
	st := memory.NewStore()
	resolver := memory.NewIdempotencyResolver()
	b := busmemory.NewBus(time.Minute)
	orch := orchestrator.New(st, resolver, b, orchestrator.DefaultConfig())
	r := NewRouter(RouterConfig{Orchestrator: orch, Store: st, Bus: b, Logger: logger.Default()})
	return r, st, resolver, b
}

func TestRouter_Healthz(t *testing.T) {
	r, _, _, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_Submit_ReturnsAcceptedForFreshOperation(t *testing.T) {
	r, _, _, _ := newTestRouter()

	body, err := json.Marshal(submitRequest{
		Domain: "ORDER", EventType: "CREATE", BizKey: "biz-1", IdemKey: "idem-1", TimeBudgetMs: 50,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/operations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Completed)
	assert.NotEmpty(t, resp.OpId)
}

func TestRouter_Submit_RejectsMissingRequiredField(t *testing.T) {
	r, _, _, _ := newTestRouter()

	body, err := json.Marshal(map[string]any{"domain": "ORDER"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/operations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.NotEqual(t, http.StatusOK, w.Code)
	assert.NotEqual(t, http.StatusAccepted, w.Code)
}

func TestRouter_GetStatus_ReturnsCurrentStateForPendingOperation(t *testing.T) {
	r, st, _, b := newTestRouter()

	opID := orc.OpId("op-1")
	cmd := orc.Command{Domain: "ORDER", EventType: "CREATE", BizKey: "biz-1", IdemKey: "idem-1"}
	env := orc.Envelope{OpId: opID, Command: cmd, AcceptedAt: orc.NowMillis()}
	require.NoError(t, st.CreatePending(req(t).Context(), env))
	require.NoError(t, b.Publish(req(t).Context(), env, 0))

	request := httptest.NewRequest(http.MethodGet, "/v1/operations/"+string(opID), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, request)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(orc.StatePending), resp.State)
	assert.Nil(t, resp.Outcome)
}

func TestRouter_GetStatus_IncludesOutcomeWhenTerminal(t *testing.T) {
	r, st, _, _ := newTestRouter()

	opID := orc.OpId("op-2")
	cmd := orc.Command{Domain: "ORDER", EventType: "CREATE", BizKey: "biz-1", IdemKey: "idem-1"}
	env := orc.Envelope{OpId: opID, Command: cmd, AcceptedAt: orc.NowMillis()}
	ctx := req(t).Context()
	require.NoError(t, st.CreatePending(ctx, env))
	require.NoError(t, st.TransitionToInProgress(ctx, opID))
	require.NoError(t, st.WriteAhead(ctx, opID, orc.Ok("done", "txn-1", nil)))
	require.NoError(t, st.Finalize(ctx, opID, orc.StateCompleted))

	request := httptest.NewRequest(http.MethodGet, "/v1/operations/"+string(opID), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, request)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(orc.StateCompleted), resp.State)
	require.NotNil(t, resp.Outcome)
	assert.Equal(t, "txn-1", resp.Outcome.ProviderTxnID)
}

func TestRouter_GetStatus_UnknownOpIdReturnsNotFound(t *testing.T) {
	r, _, _, _ := newTestRouter()
	request := httptest.NewRequest(http.MethodGet, "/v1/operations/does-not-exist", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, request)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_ListDLQ_ReturnsPublishedEntries(t *testing.T) {
	r, _, _, b := newTestRouter()

	opID := orc.OpId("op-3")
	cmd := orc.Command{Domain: "ORDER", EventType: "CREATE", BizKey: "biz-1", IdemKey: "idem-1"}
	env := orc.Envelope{OpId: opID, Command: cmd, AcceptedAt: orc.NowMillis()}
	require.NoError(t, b.PublishToDLQ(req(t).Context(), env, orc.Fail("PROVIDER_ERROR", "nope", nil)))

	request := httptest.NewRequest(http.MethodGet, "/v1/dlq", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, request)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "op-3")
}

func req(t *testing.T) *http.Request {
	t.Helper()
	return httptest.NewRequest(http.MethodGet, "/", nil)
}
