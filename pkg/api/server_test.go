package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/orchestrator"
	"github.com/helmsman-ai/helmsman/pkg/storage"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

// fakeService stubs the orchestrator with per-method function fields.
type fakeService struct {
	createFn func(ctx context.Context) (*models.Session, error)
	getFn    func(ctx context.Context, id string) (*models.Session, error)
	listFn   func(ctx context.Context) ([]*models.Session, error)
	deleteFn func(ctx context.Context, id string) error
	stopFn   func(ctx context.Context, id string) error
	chatFn   func(ctx context.Context, req orchestrator.ChatRequest) (<-chan models.Event, error)
	shellFn  func(ctx context.Context, sessionID, shellID string) (*models.ToolResult, error)
	fileFn   func(ctx context.Context, sessionID, path string) (*models.ToolResult, error)
	vncFn    func(ctx context.Context, sessionID string) (string, error)
}

func (f *fakeService) CreateSession(ctx context.Context) (*models.Session, error) {
	return f.createFn(ctx)
}

func (f *fakeService) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return f.getFn(ctx, id)
}

func (f *fakeService) ListSessions(ctx context.Context) ([]*models.Session, error) {
	return f.listFn(ctx)
}

func (f *fakeService) DeleteSession(ctx context.Context, id string) error {
	return f.deleteFn(ctx, id)
}

func (f *fakeService) StopSession(ctx context.Context, id string) error {
	return f.stopFn(ctx, id)
}

func (f *fakeService) Chat(ctx context.Context, req orchestrator.ChatRequest) (<-chan models.Event, error) {
	return f.chatFn(ctx, req)
}

func (f *fakeService) ShellView(ctx context.Context, sessionID, shellID string) (*models.ToolResult, error) {
	return f.shellFn(ctx, sessionID, shellID)
}

func (f *fakeService) FileView(ctx context.Context, sessionID, path string) (*models.ToolResult, error) {
	return f.fileFn(ctx, sessionID, path)
}

func (f *fakeService) VNCURL(ctx context.Context, sessionID string) (string, error) {
	return f.vncFn(ctx, sessionID)
}

func newTestServer(svc Service) http.Handler {
	return NewServer(svc, slog.New(slog.DiscardHandler)).Handler()
}

func decodeEnvelope(t *testing.T, body string) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	return resp
}

func TestCreateSession(t *testing.T) {
	svc := &fakeService{
		createFn: func(ctx context.Context) (*models.Session, error) {
			return &models.Session{ID: "sess-1"}, nil
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/sessions", nil)
	newTestServer(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec.Body.String())
	assert.Equal(t, 0, resp.Code)
	assert.Equal(t, "success", resp.Msg)
	assert.Equal(t, map[string]any{"session_id": "sess-1"}, resp.Data)
}

func TestGetSessionEncodesEvents(t *testing.T) {
	sess := &models.Session{
		ID:    "sess-1",
		Title: "Weather report",
		Events: []models.Event{
			models.NewMessageEvent(models.RoleUser, "hello"),
			models.NewTitleEvent("Weather report"),
			models.NewDoneEvent(),
		},
	}
	svc := &fakeService{
		getFn: func(ctx context.Context, id string) (*models.Session, error) {
			require.Equal(t, "sess-1", id)
			return sess, nil
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/sess-1", nil)
	newTestServer(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data getSessionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-1", resp.Data.SessionID)
	assert.Equal(t, "Weather report", resp.Data.Title)
	require.Len(t, resp.Data.Events, 3)
	assert.Equal(t, "message", resp.Data.Events[0].Event)
	assert.Equal(t, "title", resp.Data.Events[1].Event)
	assert.Equal(t, "done", resp.Data.Events[2].Event)
}

func TestGetSessionNotFound(t *testing.T) {
	svc := &fakeService{
		getFn: func(ctx context.Context, id string) (*models.Session, error) {
			return nil, storage.ErrSessionNotFound
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/missing", nil)
	newTestServer(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeEnvelope(t, rec.Body.String())
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestListSessions(t *testing.T) {
	svc := &fakeService{
		listFn: func(ctx context.Context) ([]*models.Session, error) {
			return []*models.Session{
				{
					ID:                 "sess-1",
					Title:              "First",
					Status:             models.SessionCompleted,
					LatestMessage:      "done",
					LatestMessageAt:    1700000000,
					UnreadMessageCount: 2,
				},
				{ID: "sess-2", Status: models.SessionPending},
			}, nil
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	newTestServer(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data listSessionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Sessions, 2)
	assert.Equal(t, "First", resp.Data.Sessions[0].Title)
	assert.Equal(t, 2, resp.Data.Sessions[0].UnreadMessageCount)
	assert.Equal(t, models.SessionPending, resp.Data.Sessions[1].Status)
}

func TestDeleteAndStopSession(t *testing.T) {
	var deleted, stopped string
	svc := &fakeService{
		deleteFn: func(ctx context.Context, id string) error {
			deleted = id
			return nil
		},
		stopFn: func(ctx context.Context, id string) error {
			stopped = id
			return nil
		},
	}
	handler := newTestServer(svc)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/sess-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sess-1", deleted)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-2/stop", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sess-2", stopped)
}

func TestChatStreamsEvents(t *testing.T) {
	events := make(chan models.Event, 3)
	events <- models.NewMessageEvent(models.RoleAssistant, "working on it")
	events <- models.NewDoneEvent()
	close(events)

	reqCh := make(chan orchestrator.ChatRequest, 1)
	svc := &fakeService{
		chatFn: func(ctx context.Context, req orchestrator.ChatRequest) (<-chan models.Event, error) {
			reqCh <- req
			return events, nil
		},
	}

	// SSE handlers stream through the response writer, so they need a real
	// server rather than a recorder.
	srv := httptest.NewServer(newTestServer(svc))
	defer srv.Close()

	body := strings.NewReader(`{"message":"hi","timestamp":1700000000,"event_id":"5"}`)
	resp, err := http.Post(srv.URL+"/api/v1/sessions/sess-1/chat", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	captured := <-reqCh
	assert.Equal(t, "sess-1", captured.SessionID)
	assert.Equal(t, "hi", captured.Message)
	assert.Equal(t, int64(1700000000), captured.Timestamp)
	assert.Equal(t, "5", captured.LastEventID)

	out := string(raw)
	assert.Contains(t, out, "event:message")
	assert.Contains(t, out, `"content":"working on it"`)
	assert.Contains(t, out, "event:done")
}

func TestChatRejectsMalformedBody(t *testing.T) {
	svc := &fakeService{}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-1/chat", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	newTestServer(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestViewShellRequiresShellID(t *testing.T) {
	svc := &fakeService{}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-1/shell", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	newTestServer(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestViewShellUnknownSession(t *testing.T) {
	svc := &fakeService{
		shellFn: func(ctx context.Context, sessionID, shellID string) (*models.ToolResult, error) {
			return nil, storage.ErrSessionNotFound
		},
	}

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"session_id":"shell-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/missing/shell", body)
	req.Header.Set("Content-Type", "application/json")
	newTestServer(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestViewFileRequiresPath(t *testing.T) {
	svc := &fakeService{}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-1/file", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	newTestServer(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
