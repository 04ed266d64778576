package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSandbox(t *testing.T, handler http.HandlerFunc) *apiSandbox {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &apiSandbox{
		id:         "test-sandbox",
		baseURL:    srv.URL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func TestExecCommand(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	sb := newTestSandbox(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"output": "file.txt"},
		})
	})

	res, err := sb.ExecCommand(context.Background(), "shell-1", "/home/user", "ls")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/shell/exec", gotPath)
	assert.Equal(t, "shell-1", gotBody["id"])
	assert.Equal(t, "/home/user", gotBody["exec_dir"])
	assert.Equal(t, "ls", gotBody["command"])
	assert.True(t, res.Success)
}

func TestFileReadFailure(t *testing.T) {
	sb := newTestSandbox(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/file/read", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "no such file",
		})
	})

	res, err := sb.FileRead(context.Background(), FileReadRequest{File: "/missing"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "no such file", res.Error)
}

func TestWaitForProcessOmitsZeroSeconds(t *testing.T) {
	var gotBody map[string]any
	sb := newTestSandbox(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	_, err := sb.WaitForProcess(context.Background(), "shell-1", 0)
	require.NoError(t, err)
	_, hasSeconds := gotBody["seconds"]
	assert.False(t, hasSeconds)

	_, err = sb.WaitForProcess(context.Background(), "shell-1", 15)
	require.NoError(t, err)
	assert.EqualValues(t, 15, gotBody["seconds"])
}

func TestSandboxURLs(t *testing.T) {
	sb := newAPISandbox("box-1", "172.17.0.5")
	assert.Equal(t, "box-1", sb.ID())
	assert.Equal(t, "ws://172.17.0.5:5901", sb.VNCURL())
	assert.Equal(t, "http://172.17.0.5:9222", sb.CDPURL())
}

func TestResolveIPLiteral(t *testing.T) {
	ip, err := resolveIP(context.Background(), "10.0.0.7")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", ip)
}

func TestResolveIPLocalhost(t *testing.T) {
	ip, err := resolveIP(context.Background(), "localhost")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip)
}
