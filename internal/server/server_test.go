package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinglyhq/agentshell/internal/infrastructure/config"
	"github.com/tinglyhq/agentshell/internal/logging"
)

var (
	testSrv  *Server
	testOnce sync.Once
)

// One server per test binary; Prometheus collectors register globally.
func testServer(t *testing.T) *Server {
	t.Helper()
	testOnce.Do(func() {
		cfg := config.Default()
		cfg.RateLimit.Enabled = false
		testSrv = New(cfg, logging.NewDevelopment())
	})
	return testSrv
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	var parsed map[string]interface{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &parsed)
	}
	return w, parsed
}

func TestRootAndHealth(t *testing.T) {
	srv := testServer(t)

	w, body := doJSON(t, srv, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "agentshell", body["service"])

	w, body = doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestListServicesIncludesShell(t *testing.T) {
	srv := testServer(t)

	w, body := doJSON(t, srv, http.MethodGet, "/services", nil)
	require.Equal(t, http.StatusOK, w.Code)

	services, ok := body["services"].([]interface{})
	require.True(t, ok)
	found := false
	for _, s := range services {
		if s.(map[string]interface{})["id"] == "shell" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSessionLifecycleOverREST(t *testing.T) {
	srv := testServer(t)

	w, body := doJSON(t, srv, http.MethodPost, "/sessions", map[string]interface{}{
		"env": map[string]string{"REST_VAR": "from-rest"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	data := body["data"].(map[string]interface{})
	sessionID := data["id"].(string)
	require.NotEmpty(t, sessionID)

	w, body = doJSON(t, srv, http.MethodPost, "/sessions/"+sessionID+"/execute", map[string]interface{}{
		"command": "echo $REST_VAR",
	})
	require.Equal(t, http.StatusOK, w.Code)
	data = body["data"].(map[string]interface{})
	assert.Equal(t, "from-rest\n", data["stdout"])
	assert.Equal(t, float64(0), data["exit_code"])

	w, body = doJSON(t, srv, http.MethodGet, "/sessions/"+sessionID+"/vars/REST_VAR", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data = body["data"].(map[string]interface{})
	assert.Equal(t, "from-rest", data["value"])

	w, _ = doJSON(t, srv, http.MethodPut, "/sessions/"+sessionID+"/vars/OTHER", map[string]interface{}{
		"value": "set-over-http",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, body = doJSON(t, srv, http.MethodPost, "/sessions/"+sessionID+"/fork", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	childID := body["data"].(map[string]interface{})["id"].(string)
	assert.NotEqual(t, sessionID, childID)

	w, _ = doJSON(t, srv, http.MethodDelete, "/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = doJSON(t, srv, http.MethodDelete, "/sessions/"+childID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, srv, http.MethodGet, "/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecuteServiceEndpoint(t *testing.T) {
	srv := testServer(t)

	w, body := doJSON(t, srv, http.MethodPost, "/services/execute", map[string]interface{}{
		"tool_id": "shell.run",
		"params":  map[string]interface{}{"command": "echo via registry"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "via registry\n", data["stdout"])
}

func TestDiscoverEndpoint(t *testing.T) {
	srv := testServer(t)

	w, body := doJSON(t, srv, http.MethodPost, "/services/discover", map[string]interface{}{
		"query": "run a shell command",
	})
	require.Equal(t, http.StatusOK, w.Code)
	services := body["services"].([]interface{})
	require.NotEmpty(t, services)
}

func TestExecuteRejectsMissingCommand(t *testing.T) {
	srv := testServer(t)

	w, _ := doJSON(t, srv, http.MethodPost, "/sessions/unknown/execute", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownSessionIs404(t *testing.T) {
	srv := testServer(t)

	w, _ := doJSON(t, srv, http.MethodGet, "/sessions/sess_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t)

	w, _ := doJSON(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "agentshell_")
}
