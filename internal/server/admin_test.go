// ABOUTME: Tests for the operator endpoints and their bearer-token gate
// ABOUTME: Covers forced activation, re-derive from live sessions, and reset

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/leadflow/internal/auth"
	"github.com/2389/leadflow/internal/vertexai"
	"github.com/2389/leadflow/internal/ws"
)

// doAdmin runs a request with a bearer token attached.
func (e *testEnv) doAdmin(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAdminRoutes_RequireTokenWhenSecretConfigured(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	e := newTestEnvWith(t, func(o *Options) {
		o.Verifier = verifier
	})
	e.store.SetSessionState(designState())

	paths := []string{"/admin/pipeline/activate", "/admin/state/rederive", "/admin/reset"}
	for _, path := range paths {
		rec := e.doAdmin(t, http.MethodPost, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "no token on %s", path)

		rec = e.doAdmin(t, http.MethodPost, path, "garbage", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "bad token on %s", path)
	}

	token, err := verifier.Generate("nadia", time.Hour)
	require.NoError(t, err)
	rec := e.doAdmin(t, http.MethodPost, "/admin/pipeline/activate", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAdminRoutes_OpenWithoutSecret(t *testing.T) {
	e := newTestEnv(t)
	e.store.SetSessionState(designState())

	rec := e.do(t, http.MethodPost, "/admin/pipeline/activate", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAdminActivate_ForcesPipelineFromStoredState(t *testing.T) {
	e := newTestEnv(t)

	// The stored design is NOT complete by the heuristics: no completion
	// flag, no brief goals. Forced activation takes it anyway.
	raw := designState()
	delete(raw, "pipeline_completed")
	pipeline := raw["pipeline"].(map[string]any)
	delete(pipeline, "pipeline_completed")
	stages := pipeline["stage_design_results"].(map[string]any)["stages"].([]any)
	for _, s := range stages {
		delete(s.(map[string]any), "brief_stage_goal")
	}
	e.store.SetSessionState(raw)

	rec := e.do(t, http.MethodPost, "/admin/pipeline/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp adminActivateResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "activated", resp.Status)
	require.NotNil(t, resp.Pipeline)
	assert.Equal(t, 3, resp.Pipeline.TotalStages)

	require.NotNil(t, e.store.Pipeline())
	assert.Equal(t, "Acme Fitness", e.store.Pipeline().BizName)
	assert.Contains(t, e.dash.pushedTypes(t), ws.TypePipelineUpdated)
}

func TestAdminActivate_NoStoredState404(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/admin/pipeline/activate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminActivate_NoStages404(t *testing.T) {
	e := newTestEnv(t)
	e.store.SetSessionState(map[string]any{"biz_name": "Acme"})

	rec := e.do(t, http.MethodPost, "/admin/pipeline/activate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Contains(t, body["error"], "no pipeline stages")
}

func TestAdminRederive_FromStoredBlob(t *testing.T) {
	e := newTestEnv(t)
	e.store.SetSessionState(designState())

	rec := e.do(t, http.MethodPost, "/admin/state/rederive", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp rederiveResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "rederived", resp.Status)
	assert.True(t, resp.PipelineComplete)
	assert.Equal(t, 3, resp.TotalStages)
	require.NotNil(t, e.store.Pipeline())
}

func TestAdminRederive_FromLiveSession(t *testing.T) {
	e := newTestEnv(t)
	e.api.streamEvents = []vertexai.Event{textEvent("working on it")}

	// Owner talked to the designer but the completion signal was missed.
	rec := e.do(t, http.MethodPost, "/owner/chat", map[string]any{"content": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	e.api.setState("remote-1", designState())

	rec = e.do(t, http.MethodPost, "/admin/state/rederive", map[string]any{"session_id": "remote-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The live snapshot replaced the stored blob and the pipeline.
	assert.Equal(t, "Acme Fitness", e.store.SessionState()["biz_name"])
	require.NotNil(t, e.store.Pipeline())
	assert.Equal(t, 3, e.store.Pipeline().TotalStages)
}

func TestAdminRederive_UnknownSession404(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/admin/state/rederive", map[string]any{"session_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRederive_NothingToDeriveFrom404(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/admin/state/rederive", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminReset_CleansSessionsAndStore(t *testing.T) {
	e := newTestEnv(t)
	e.api.streamEvents = []vertexai.Event{textEvent("hello")}

	// Build up some state: owner session, pipeline, one lead.
	rec := e.do(t, http.MethodPost, "/owner/chat", map[string]any{"content": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	e.api.setState("remote-1", designState())
	rec = e.do(t, http.MethodPost, "/owner/chat", map[string]any{
		"content": "done", "session_id": "remote-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodPost, "/lead/create", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, e.store.Pipeline())
	require.Len(t, e.store.Leads(), 1)

	rec = e.do(t, http.MethodPost, "/admin/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp resetResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "reset", resp.Status)
	assert.Equal(t, 2, resp.SessionsCleaned)

	assert.ElementsMatch(t, []string{"remote-1", "remote-2"}, e.api.deleted())
	assert.Nil(t, e.store.Pipeline())
	assert.Empty(t, e.store.Leads())
	assert.Empty(t, e.store.ActiveSessions())
	assert.Empty(t, e.store.SessionState())
	assert.Contains(t, e.dash.pushedTypes(t), ws.TypeStateReset)
}

func TestAdminReset_EmptyStateStillSucceeds(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/admin/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp resetResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, 0, resp.SessionsCleaned)
}
