package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feegate-io/feegate/internal/agent"
	"github.com/feegate-io/feegate/internal/audit"
	"github.com/feegate-io/feegate/internal/knowledge"
	"github.com/feegate-io/feegate/internal/policy"
	"github.com/feegate-io/feegate/internal/router"
	"github.com/feegate-io/feegate/internal/scenario"
	"github.com/feegate-io/feegate/internal/testutil"
)

type testServer struct {
	handler  http.Handler
	provider *testutil.CitedProvider
	verifier *audit.HMACVerifier
}

func newTestServer(t *testing.T, sourceURL string, opts ...Option) *testServer {
	t.Helper()

	scenarios, err := scenario.NewDefault()
	require.NoError(t, err)

	catalog := fmt.Sprintf(`
version: "test"
allowed_domains:
  - "127.0.0.1"
products:
  - name: "Test Fund"
    url: %q
    aliases: ["test fund"]
intents:
  - code: STAMP_DUTY
    keywords: ["stamp duty"]
  - code: EXIT_LOAD
    keywords: ["exit load"]
`, sourceURL)

	rtr, err := router.Parse([]byte(catalog), scenarios)
	require.NoError(t, err)

	provider := &testutil.CitedProvider{}
	runner := agent.NewRunner(agent.RunnerConfig{
		Engine:        policy.MustNewEngine(),
		Router:        rtr,
		Scenarios:     scenarios,
		Fetcher:       knowledge.NewFetcher(testutil.NewTestCache(t)),
		Provider:      provider,
		PromptVersion: "v-test",
	})

	ledger, verifier := testutil.NewTestLedger(t, nil)

	return &testServer{
		handler:  NewServer(runner, ledger, opts...).Routes(),
		provider: provider,
		verifier: verifier,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "http://127.0.0.1:1/fees")

	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "ok", resp["status"])
}

func TestQuery_Answer(t *testing.T) {
	src := testutil.NewSourceServer(t, "")
	ts := newTestServer(t, src.URL+"/fees")

	rec := ts.do(t, http.MethodPost, "/v1/query", map[string]any{
		"raw_query": "What is the stamp duty on Test Fund?",
		"user_id":   "user-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var out agent.Outcome
	decodeJSON(t, rec, &out)
	assert.Equal(t, agent.OutcomeAnswer, out.Kind)
	require.NotNil(t, out.Answer)
	assert.NotEmpty(t, out.Answer.Bullets)
	assert.Len(t, out.ContentHash, 64)
}

func TestQuery_RefusalIsNotAnHTTPError(t *testing.T) {
	ts := newTestServer(t, "http://127.0.0.1:1/fees")

	rec := ts.do(t, http.MethodPost, "/v1/query", map[string]any{
		"raw_query": "Is Test Fund better than some other fund?",
		"user_id":   "user-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var out agent.Outcome
	decodeJSON(t, rec, &out)
	assert.Equal(t, agent.OutcomeRefusal, out.Kind)
	require.NotNil(t, out.Refusal)
	assert.Equal(t, policy.ReasonComparison, out.Refusal.ReasonCode)
	assert.Equal(t, 0, ts.provider.Calls)
}

func TestQuery_ShapeValidation(t *testing.T) {
	ts := newTestServer(t, "http://127.0.0.1:1/fees")

	rec := ts.do(t, http.MethodPost, "/v1/query", map[string]any{
		"raw_query": "fee?",
		"user_id":   "user-1",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "invalid_request", resp["error"])
}

func TestQuery_SourceUnavailable(t *testing.T) {
	ts := newTestServer(t, "http://127.0.0.1:1/fees")

	rec := ts.do(t, http.MethodPost, "/v1/query", map[string]any{
		"raw_query":     "What is the stamp duty on Test Fund?",
		"user_id":       "user-1",
		"force_refresh": true,
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp map[string]string
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "source_unavailable", resp["error"])
}

func TestResume_StaleClarifierVersion(t *testing.T) {
	ts := newTestServer(t, "http://127.0.0.1:1/fees")

	rec := ts.do(t, http.MethodPost, "/v1/query/resume", map[string]any{
		"user_id":           "user-1",
		"intent":            "EXIT_LOAD",
		"target_url":        "http://127.0.0.1:1/fees",
		"clarifier_version": "0.0-ancient",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp map[string]string
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "stale_clarifier", resp["error"])
}

func TestActions_RecordExecuteAndReplay(t *testing.T) {
	ts := newTestServer(t, "http://127.0.0.1:1/fees")

	body := map[string]any{
		"action":          audit.ActionEmailSupport,
		"payload":         map[string]any{"scenario": "EXIT_LOAD", "query": "exit load on Test Fund"},
		"approval_token":  ts.verifier.MintToken(audit.ActionEmailSupport),
		"idempotency_key": "key-1",
		"actor":           "user-1",
	}

	rec := ts.do(t, http.MethodPost, "/v1/actions", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var result audit.ActionResult
	decodeJSON(t, rec, &result)
	assert.True(t, result.Success)
	assert.False(t, result.Replayed)
	assert.NotEmpty(t, result.EntryID)

	// Same idempotency key: stored outcome, no second side effect.
	rec = ts.do(t, http.MethodPost, "/v1/actions", body)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &result)
	assert.True(t, result.Replayed)
}

func TestActions_MissingApproval(t *testing.T) {
	ts := newTestServer(t, "http://127.0.0.1:1/fees")

	rec := ts.do(t, http.MethodPost, "/v1/actions", map[string]any{
		"action": audit.ActionEmailSupport,
		"actor":  "user-1",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	var resp map[string]string
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "approval_required", resp["error"])
}

func TestAudit_ListAndVerify(t *testing.T) {
	ts := newTestServer(t, "http://127.0.0.1:1/fees")

	rec := ts.do(t, http.MethodPost, "/v1/actions", map[string]any{
		"action":          audit.ActionEmailSupport,
		"payload":         map[string]any{"scenario": "EXIT_LOAD"},
		"approval_token":  ts.verifier.MintToken(audit.ActionEmailSupport),
		"idempotency_key": "key-audit",
		"actor":           "user-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/audit?actor=user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Entries []audit.Entry `json:"entries"`
		Count   int           `json:"count"`
	}
	decodeJSON(t, rec, &list)
	require.Equal(t, 1, list.Count)
	entryID := list.Entries[0].ID

	rec = ts.do(t, http.MethodGet, "/v1/audit/"+entryID+"/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var verify struct {
		EntryID string `json:"entry_id"`
		Valid   bool   `json:"valid"`
	}
	decodeJSON(t, rec, &verify)
	assert.True(t, verify.Valid)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, "http://127.0.0.1:1/fees", WithRateLimiter(NewRateLimiter(1, 1)))

	rec := ts.do(t, http.MethodGet, "/v1/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/audit", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Health stays reachable outside the limited group.
	rec = ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
