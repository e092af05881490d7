package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/laplace/internal/config"
	"github.com/copyleftdev/laplace/internal/logging"
	"github.com/copyleftdev/laplace/internal/optimization/laplace"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{Environment: "test"}
	cfg.HTTP.Port = 8080
	cfg.HTTP.MaxBodyBytes = 1 << 20
	cfg.Logging = *logging.DefaultConfig()
	cfg.Inference.Solver = laplace.DefaultConfig()
	cfg.Inference.SessionCacheSize = 8
	cfg.Inference.MaxObservations = 100
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, http.Handler) {
	t.Helper()
	srv, err := NewServer(cfg, logging.New(logging.ErrorLevel, io.Discard))
	require.NoError(t, err)

	var n int
	srv.newID = func() string {
		n++
		return fmt.Sprintf("session-%d", n)
	}
	t.Cleanup(func() { _ = srv.Close() })

	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r
}

const classificationBody = `{
  "kernel": {"name": "rbf", "length_scale": 1},
  "likelihood": {"name": "logit"},
  "inputs": [[-2], [-1.5], [-1], [1], [1.5], [2]],
  "labels": [-1, -1, -1, 1, 1, 1]
}`

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v), rec.Body.String())
}

func TestRegisterRoutes(t *testing.T) {
	_, h := newTestServer(t, testConfig(t))

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/inference", true},
		{"GET", "/api/v1/inference/123", true},
		{"POST", "/api/v1/inference/123/update", true},
		{"POST", "/api/v1/inference/123/predict", true},
		{"DELETE", "/api/v1/inference/123", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", false},
		{"GET", "/nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, "")
			if !tt.shouldExist {
				assert.Equal(t, http.StatusNotFound, rec.Code)
				return
			}
			// Unknown sessions answer 404 with a JSON body; missing routes do not.
			if rec.Code == http.StatusNotFound {
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	_, h := newTestServer(t, testConfig(t))

	rec := do(t, h, http.MethodPost, "/api/v1/inference", classificationBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/v1/inference/session-1", rec.Header().Get("Location"))

	var created sessionView
	decodeBody(t, rec, &created)
	assert.Equal(t, "session-1", created.ID)
	assert.Equal(t, 6, created.Observations)
	assert.Equal(t, "logit", created.Likelihood)
	assert.Equal(t, 1, created.Updates)
	assert.Equal(t, "lbfgs", created.Method)
	require.NotNil(t, created.Result)
	assert.False(t, created.Result.WarmStart)
	assert.Len(t, created.Result.Alpha, 6)

	rec = do(t, h, http.MethodGet, "/api/v1/inference/session-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status sessionView
	decodeBody(t, rec, &status)
	assert.Equal(t, created.Result.Alpha, status.Result.Alpha)

	rec = do(t, h, http.MethodPost, "/api/v1/inference/session-1/predict", `{"inputs": [[-1.75], [1.75]]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pred struct {
		Mean        []float64 `json:"mean"`
		Variance    []float64 `json:"variance"`
		Probability []float64 `json:"probability"`
	}
	decodeBody(t, rec, &pred)
	require.Len(t, pred.Probability, 2)
	assert.Less(t, pred.Probability[0], 0.5)
	assert.Greater(t, pred.Probability[1], 0.5)

	before := testutil.ToFloat64(warmStartsTotal)
	rec = do(t, h, http.MethodPost, "/api/v1/inference/session-1/update", `{"scale": 1.05, "solver": {"method": "newton"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated sessionView
	decodeBody(t, rec, &updated)
	assert.Equal(t, 2, updated.Updates)
	assert.Equal(t, 1.05, updated.Scale)
	assert.Equal(t, "newton", updated.Method)
	assert.True(t, updated.Result.WarmStart)
	assert.Equal(t, before+1, testutil.ToFloat64(warmStartsTotal))

	rec = do(t, h, http.MethodDelete, "/api/v1/inference/session-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/inference/session-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/v1/inference/session-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreate_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Inference.MaxObservations = 4
	_, h := newTestServer(t, cfg)

	tests := []struct {
		name string
		body string
		want int
		kind string
	}{
		{"malformed", `{"inputs":`, http.StatusBadRequest, "invalid"},
		{"unknown field", `{"input": [[1]]}`, http.StatusBadRequest, "invalid"},
		{"too many observations", classificationBody, http.StatusBadRequest, "invalid"},
		{"label mismatch", `{"likelihood": {"name": "gaussian"}, "inputs": [[1], [2]], "labels": [1]}`, http.StatusBadRequest, "invalid"},
		{"unknown kernel", `{"kernel": {"name": "cosine"}, "likelihood": {"name": "gaussian"}, "inputs": [[1]], "labels": [1]}`, http.StatusBadRequest, "invalid"},
		{"bad solver", `{"likelihood": {"name": "gaussian"}, "inputs": [[1]], "labels": [1], "solver": {"lbfgs": {"m": -1}}}`, http.StatusBadRequest, "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(errorsTotal.WithLabelValues(tt.kind))
			rec := do(t, h, http.MethodPost, "/api/v1/inference", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())

			var body map[string]string
			decodeBody(t, rec, &body)
			assert.Equal(t, tt.kind, body["kind"])
			assert.NotEmpty(t, body["error"])
			assert.Equal(t, before+1, testutil.ToFloat64(errorsTotal.WithLabelValues(tt.kind)))
		})
	}
}

func TestPredict_Errors(t *testing.T) {
	_, h := newTestServer(t, testConfig(t))
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/inference", classificationBody).Code)

	rec := do(t, h, http.MethodPost, "/api/v1/inference/session-1/predict", `{"inputs": [[1, 2]]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/inference/session-1/update", `{"scale": -1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/inference/nope/predict", `{"inputs": [[1]]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessions_LeastRecentlyUsedIsEvicted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Inference.SessionCacheSize = 2
	srv, h := newTestServer(t, cfg)

	before := testutil.ToFloat64(sessionsRemoved.WithLabelValues("evicted"))
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/inference", classificationBody).Code)
	}

	assert.Equal(t, 2, srv.sessions.len())
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/inference/session-1", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/inference/session-3", "").Code)
	assert.Equal(t, before+1, testutil.ToFloat64(sessionsRemoved.WithLabelValues("evicted")))
}

func rpc(t *testing.T, h http.Handler, body string) map[string]interface{} {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/rpc", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var response map[string]interface{}
	decodeBody(t, rec, &response)
	assert.Equal(t, "2.0", response["jsonrpc"])
	return response
}

func rpcErrorCode(t *testing.T, response map[string]interface{}) float64 {
	t.Helper()
	errObj, ok := response["error"].(map[string]interface{})
	require.True(t, ok, "response should contain error object: %v", response)
	return errObj["code"].(float64)
}

func TestJSONRPC(t *testing.T) {
	_, h := newTestServer(t, testConfig(t))

	run := rpc(t, h, fmt.Sprintf(`{"jsonrpc": "2.0", "id": 1, "method": "inference.run", "params": %s}`, classificationBody))
	require.Nil(t, run["error"])
	result := run["result"].(map[string]interface{})
	assert.Equal(t, "session-1", result["id"])
	assert.Equal(t, 1.0, run["id"])

	status := rpc(t, h, `{"jsonrpc": "2.0", "id": "a", "method": "inference.status", "params": [{"id": "session-1"}]}`)
	require.Nil(t, status["error"])
	assert.Equal(t, "a", status["id"])

	update := rpc(t, h, `{"jsonrpc": "2.0", "id": 2, "method": "inference.update", "params": {"id": "session-1", "scale": 1.1}}`)
	require.Nil(t, update["error"])
	assert.Equal(t, 2.0, update["result"].(map[string]interface{})["updates"])

	predict := rpc(t, h, `{"jsonrpc": "2.0", "id": 3, "method": "inference.predict", "params": {"id": "session-1", "inputs": [[0]]}}`)
	require.Nil(t, predict["error"])
	assert.Len(t, predict["result"].(map[string]interface{})["mean"], 1)

	del := rpc(t, h, `{"jsonrpc": "2.0", "id": 4, "method": "inference.delete", "params": {"id": "session-1"}}`)
	require.Nil(t, del["error"])
	assert.Equal(t, "deleted", del["result"].(map[string]interface{})["status"])

	tests := []struct {
		name string
		body string
		code float64
	}{
		{"parse error", `{"jsonrpc":`, -32700},
		{"wrong version", `{"jsonrpc": "1.0", "id": 1, "method": "inference.status"}`, -32600},
		{"unknown method", `{"jsonrpc": "2.0", "id": 1, "method": "optimization.start"}`, -32601},
		{"missing params", `{"jsonrpc": "2.0", "id": 1, "method": "inference.status"}`, -32602},
		{"empty params array", `{"jsonrpc": "2.0", "id": 1, "method": "inference.status", "params": []}`, -32602},
		{"unknown session", `{"jsonrpc": "2.0", "id": 1, "method": "inference.status", "params": {"id": "session-1"}}`, -32004},
		{"invalid problem", `{"jsonrpc": "2.0", "id": 1, "method": "inference.run", "params": {"inputs": []}}`, -32602},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, rpcErrorCode(t, rpc(t, h, tt.body)))
		})
	}
}

func TestRespondWithError(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))

	tests := []struct {
		name    string
		code    int
		message string
		id      interface{}
	}{
		{name: "string id", code: -32602, message: "invalid input", id: "123"},
		{name: "nil id", code: -32603, message: "server error", id: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.respondWithError(rec, tt.code, tt.message, tt.id)

			assert.Equal(t, http.StatusOK, rec.Code)

			var response map[string]interface{}
			decodeBody(t, rec, &response)
			errObj, ok := response["error"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, float64(tt.code), errObj["code"])
			assert.Equal(t, tt.message, errObj["message"])
			assert.Equal(t, tt.id, response["id"])
			_, hasResult := response["result"]
			assert.False(t, hasResult)
		})
	}
}

func TestClose(t *testing.T) {
	srv, h := newTestServer(t, testConfig(t))
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/inference", classificationBody).Code)

	assert.NoError(t, srv.Close())
	assert.Zero(t, srv.sessions.len())
}

func TestDecode_BodyLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.MaxBodyBytes = 16
	_, h := newTestServer(t, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/inference", bytes.NewBufferString(classificationBody)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
