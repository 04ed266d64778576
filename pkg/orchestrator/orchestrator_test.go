package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/pkg/eventstream"
	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/sandbox"
	"github.com/helmsman-ai/helmsman/pkg/storage"
	"github.com/helmsman-ai/helmsman/pkg/tools"
)

type scriptedClient struct {
	mu        sync.Mutex
	responses []*llm.Response
	calls     int
}

func (c *scriptedClient) Ask(_ context.Context, _ llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls >= len(c.responses) {
		return nil, errors.New("script exhausted")
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func (c *scriptedClient) ModelName() string { return "scripted" }

func planResponse(steps ...string) *llm.Response {
	payload := `{"goal":"g","title":"Session title","message":"On it.","steps":[`
	for i, s := range steps {
		if i > 0 {
			payload += ","
		}
		payload += `{"id":"` + s + `","description":"step ` + s + `"}`
	}
	payload += `]}`
	return &llm.Response{Content: payload}
}

func askUserResponse(text string) *llm.Response {
	return &llm.Response{ToolCalls: []models.ToolCall{{
		ID:       "call-ask",
		Function: models.FunctionCall{Name: tools.FuncAskUser, Arguments: `{"text":"` + text + `"}`},
	}}}
}

// stubSandbox is a no-op execution environment.
type stubSandbox struct {
	id string
}

func (s *stubSandbox) ID() string     { return s.id }
func (s *stubSandbox) VNCURL() string { return "ws://" + s.id + "/vnc" }
func (s *stubSandbox) CDPURL() string { return "http://" + s.id + ":9222" }

func (s *stubSandbox) ExecCommand(context.Context, string, string, string) (*models.ToolResult, error) {
	return models.Ok(""), nil
}

func (s *stubSandbox) ViewShell(context.Context, string) (*models.ToolResult, error) {
	return models.OkData("", map[string]any{"console": []any{}}), nil
}

func (s *stubSandbox) WaitForProcess(context.Context, string, int) (*models.ToolResult, error) {
	return models.Ok(""), nil
}

func (s *stubSandbox) WriteToProcess(context.Context, string, string, bool) (*models.ToolResult, error) {
	return models.Ok(""), nil
}

func (s *stubSandbox) KillProcess(context.Context, string) (*models.ToolResult, error) {
	return models.Ok(""), nil
}

func (s *stubSandbox) FileWrite(context.Context, sandbox.FileWriteRequest) (*models.ToolResult, error) {
	return models.Ok(""), nil
}

func (s *stubSandbox) FileRead(context.Context, sandbox.FileReadRequest) (*models.ToolResult, error) {
	return models.OkData("", map[string]any{"content": "stub file"}), nil
}

func (s *stubSandbox) FileExists(context.Context, string) (*models.ToolResult, error) {
	return models.Ok(""), nil
}

func (s *stubSandbox) FileDelete(context.Context, string) (*models.ToolResult, error) {
	return models.Ok(""), nil
}

func (s *stubSandbox) FileList(context.Context, string) (*models.ToolResult, error) {
	return models.Ok(""), nil
}

func (s *stubSandbox) FileReplace(context.Context, sandbox.FileReplaceRequest) (*models.ToolResult, error) {
	return models.Ok(""), nil
}

func (s *stubSandbox) FileSearch(context.Context, string, string, bool) (*models.ToolResult, error) {
	return models.Ok(""), nil
}

func (s *stubSandbox) FileFind(context.Context, string, string) (*models.ToolResult, error) {
	return models.Ok(""), nil
}

// fakeManager hands out stub sandboxes and records lifecycle calls.
type fakeManager struct {
	mu        sync.Mutex
	created   int
	destroyed []string
	sandboxes map[string]*stubSandbox
}

func newFakeManager() *fakeManager {
	return &fakeManager{sandboxes: make(map[string]*stubSandbox)}
}

func (m *fakeManager) Create(context.Context) (sandbox.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	sb := &stubSandbox{id: fmt.Sprintf("sb-%d", m.created)}
	m.sandboxes[sb.id] = sb
	return sb, nil
}

func (m *fakeManager) Get(_ context.Context, id string) (sandbox.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sb, ok := m.sandboxes[id]
	if !ok {
		return nil, fmt.Errorf("sandbox %s not found", id)
	}
	return sb, nil
}

func (m *fakeManager) Destroy(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyed = append(m.destroyed, id)
	delete(m.sandboxes, id)
	return nil
}

func (m *fakeManager) destroyedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.destroyed)
}

type env struct {
	store   storage.Store
	streams *eventstream.MemoryProvider
	client  *scriptedClient
	manager *fakeManager
	orch    *Orchestrator
}

func newEnv(responses ...*llm.Response) *env {
	store := storage.NewMemoryStore()
	streams := eventstream.NewMemoryProvider()
	client := &scriptedClient{responses: responses}
	manager := newFakeManager()
	orch := New(Options{
		Store:     store,
		Streams:   streams,
		LLM:       client,
		Sandboxes: manager,
		Agent:     AgentDefaults{Model: "test-model", Temperature: 0.5, MaxTokens: 1000},
		Logger:    slog.New(slog.DiscardHandler),
	})
	return &env{store: store, streams: streams, client: client, manager: manager, orch: orch}
}

// collect drains a chat channel with a timeout guard.
func collect(t *testing.T, ch <-chan models.Event) []models.Event {
	t.Helper()
	var events []models.Event
	timeout := time.After(15 * time.Second)
	for {
		select {
		case ev, open := <-ch:
			if !open {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for chat events, got %d so far", len(events))
		}
	}
}

func kinds(events []models.Event) []models.EventType {
	out := make([]models.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind())
	}
	return out
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newEnv()

	sess, err := e.orch.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPending, sess.Status)
	assert.NotEmpty(t, sess.AgentID)

	got, err := e.orch.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	list, err := e.orch.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, e.orch.DeleteSession(ctx, sess.ID))
	_, err = e.orch.GetSession(ctx, sess.ID)
	require.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestChatRunsSessionToCompletion(t *testing.T) {
	ctx := context.Background()
	e := newEnv(
		planResponse("1"),
		&llm.Response{Content: "step one done"},
	)

	sess, err := e.orch.CreateSession(ctx)
	require.NoError(t, err)

	ch, err := e.orch.Chat(ctx, ChatRequest{SessionID: sess.ID, Message: "do the thing"})
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, []models.EventType{
		models.EventTypePlan,
		models.EventTypeTitle,
		models.EventTypeMessage,
		models.EventTypeStep,
		models.EventTypeStep,
		models.EventTypeMessage,
		models.EventTypePlan,
		models.EventTypeDone,
	}, kinds(events))

	// Stream IDs are assigned and strictly increasing.
	for i, ev := range events {
		require.NotEmpty(t, ev.Meta().ID, "event %d has no ID", i)
	}

	final, err := e.orch.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, final.Status)
	assert.Equal(t, "Session title", final.Title)
	assert.NotEmpty(t, final.SandboxID)
	// User message + the eight emitted events are durable.
	assert.Len(t, final.Events, 9)
	assert.Equal(t, 1, e.manager.created)
}

func TestChatSubscribeOnlyReplays(t *testing.T) {
	ctx := context.Background()
	e := newEnv(
		planResponse("1"),
		&llm.Response{Content: "done"},
	)
	sess, err := e.orch.CreateSession(ctx)
	require.NoError(t, err)

	ch, err := e.orch.Chat(ctx, ChatRequest{SessionID: sess.ID, Message: "go"})
	require.NoError(t, err)
	first := collect(t, ch)
	require.NotEmpty(t, first)

	// An empty message replays history without allocating anything new.
	createdBefore := e.manager.created
	replay, err := e.orch.Chat(ctx, ChatRequest{SessionID: sess.ID})
	require.NoError(t, err)
	replayed := collect(t, replay)
	assert.Equal(t, kinds(first), kinds(replayed))
	assert.Equal(t, createdBefore, e.manager.created)
}

func TestChatResumesFromCursor(t *testing.T) {
	ctx := context.Background()
	e := newEnv(
		planResponse("1"),
		&llm.Response{Content: "done"},
	)
	sess, err := e.orch.CreateSession(ctx)
	require.NoError(t, err)

	ch, err := e.orch.Chat(ctx, ChatRequest{SessionID: sess.ID, Message: "go"})
	require.NoError(t, err)
	all := collect(t, ch)
	require.Greater(t, len(all), 3)

	cursor := all[2].Meta().ID
	resumed, err := e.orch.Chat(ctx, ChatRequest{SessionID: sess.ID, LastEventID: cursor})
	require.NoError(t, err)
	rest := collect(t, resumed)
	assert.Equal(t, kinds(all[3:]), kinds(rest))
}

func TestChatUnknownSession(t *testing.T) {
	e := newEnv()
	_, err := e.orch.Chat(context.Background(), ChatRequest{SessionID: "missing", Message: "hi"})
	require.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestAskUserSuspendsAndResumeAnswersSameStep(t *testing.T) {
	ctx := context.Background()
	e := newEnv(
		planResponse("1"),
		askUserResponse("Which flavor?"),
		&llm.Response{Content: "made it chocolate"},
	)
	sess, err := e.orch.CreateSession(ctx)
	require.NoError(t, err)

	ch, err := e.orch.Chat(ctx, ChatRequest{SessionID: sess.ID, Message: "make a cake"})
	require.NoError(t, err)
	events := collect(t, ch)
	require.NotEmpty(t, events)
	assert.Equal(t, models.EventTypeWait, events[len(events)-1].Kind())

	waiting, err := e.orch.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionWaiting, waiting.Status)

	// The answer resumes the suspended step instead of re-planning.
	cursor := events[len(events)-1].Meta().ID
	resumed, err := e.orch.Chat(ctx, ChatRequest{
		SessionID:   sess.ID,
		Message:     "chocolate please",
		LastEventID: cursor,
	})
	require.NoError(t, err)
	rest := collect(t, resumed)

	assert.Equal(t, []models.EventType{
		models.EventTypeStep,
		models.EventTypeStep,
		models.EventTypeMessage,
		models.EventTypePlan,
		models.EventTypeDone,
	}, kinds(rest))

	final, err := e.orch.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, final.Status)
}

func TestWaitingSessionResumesAfterRestart(t *testing.T) {
	ctx := context.Background()
	e := newEnv(
		planResponse("1"),
		askUserResponse("Which flavor?"),
	)
	sess, err := e.orch.CreateSession(ctx)
	require.NoError(t, err)

	ch, err := e.orch.Chat(ctx, ChatRequest{SessionID: sess.ID, Message: "make a cake"})
	require.NoError(t, err)
	events := collect(t, ch)
	require.Equal(t, models.EventTypeWait, events[len(events)-1].Kind())

	// A new orchestrator over the same store and streams stands in for a
	// restarted process: the plan snapshot is restored from the history.
	restarted := New(Options{
		Store:     e.store,
		Streams:   e.streams,
		LLM:       &scriptedClient{responses: []*llm.Response{{Content: "resumed and done"}}},
		Sandboxes: e.manager,
		Agent:     AgentDefaults{Model: "test-model", Temperature: 0.5, MaxTokens: 1000},
		Logger:    slog.New(slog.DiscardHandler),
	})

	cursor := events[len(events)-1].Meta().ID
	resumed, err := restarted.Chat(ctx, ChatRequest{
		SessionID:   sess.ID,
		Message:     "chocolate",
		LastEventID: cursor,
	})
	require.NoError(t, err)
	rest := collect(t, resumed)

	assert.Equal(t, models.EventTypeDone, rest[len(rest)-1].Kind())
	final, err := restarted.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, final.Status)
}

func TestStopSessionReleasesSandbox(t *testing.T) {
	ctx := context.Background()
	e := newEnv(
		planResponse("1"),
		&llm.Response{Content: "done"},
	)
	sess, err := e.orch.CreateSession(ctx)
	require.NoError(t, err)

	ch, err := e.orch.Chat(ctx, ChatRequest{SessionID: sess.ID, Message: "go"})
	require.NoError(t, err)
	collect(t, ch)

	require.NoError(t, e.orch.StopSession(ctx, sess.ID))

	assert.Equal(t, 1, e.manager.destroyedCount())
	final, err := e.orch.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, final.Status)
}

func TestStopSessionWithoutRuntimeCompletes(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	sess, err := e.orch.CreateSession(ctx)
	require.NoError(t, err)

	require.NoError(t, e.orch.StopSession(ctx, sess.ID))
	final, err := e.orch.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, final.Status)
}

func TestTaskBindingFollowsSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(
		planResponse("1"),
		askUserResponse("Which flavor?"),
		&llm.Response{Content: "made it chocolate"},
	)
	sess, err := e.orch.CreateSession(ctx)
	require.NoError(t, err)
	assert.Empty(t, sess.TaskID)

	ch, err := e.orch.Chat(ctx, ChatRequest{SessionID: sess.ID, Message: "make a cake"})
	require.NoError(t, err)
	events := collect(t, ch)
	require.Equal(t, models.EventTypeWait, events[len(events)-1].Kind())

	// A suspended session keeps its worker binding for the resume.
	waiting, err := e.orch.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionWaiting, waiting.Status)
	assert.NotEmpty(t, waiting.TaskID)

	resumed, err := e.orch.Chat(ctx, ChatRequest{
		SessionID:   sess.ID,
		Message:     "chocolate please",
		LastEventID: events[len(events)-1].Meta().ID,
	})
	require.NoError(t, err)
	collect(t, resumed)

	// Completion releases the binding.
	final, err := e.orch.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, final.Status)
	assert.Empty(t, final.TaskID)
}

func TestStopWaitingSessionClearsTaskBinding(t *testing.T) {
	ctx := context.Background()
	e := newEnv(
		planResponse("1"),
		askUserResponse("Which flavor?"),
	)
	sess, err := e.orch.CreateSession(ctx)
	require.NoError(t, err)

	ch, err := e.orch.Chat(ctx, ChatRequest{SessionID: sess.ID, Message: "make a cake"})
	require.NoError(t, err)
	events := collect(t, ch)
	require.Equal(t, models.EventTypeWait, events[len(events)-1].Kind())

	require.NoError(t, e.orch.StopSession(ctx, sess.ID))

	final, err := e.orch.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, final.Status)
	assert.Empty(t, final.TaskID)
}

func TestToolViewsRequireSandbox(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	sess, err := e.orch.CreateSession(ctx)
	require.NoError(t, err)

	_, err = e.orch.ShellView(ctx, sess.ID, "shell-1")
	require.ErrorIs(t, err, storage.ErrSessionNotFound)
	_, err = e.orch.FileView(ctx, sess.ID, "/tmp/x")
	require.ErrorIs(t, err, storage.ErrSessionNotFound)
	_, err = e.orch.VNCURL(ctx, sess.ID)
	require.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestToolViewsUseSessionSandbox(t *testing.T) {
	ctx := context.Background()
	e := newEnv(
		planResponse("1"),
		&llm.Response{Content: "done"},
	)
	sess, err := e.orch.CreateSession(ctx)
	require.NoError(t, err)
	ch, err := e.orch.Chat(ctx, ChatRequest{SessionID: sess.ID, Message: "go"})
	require.NoError(t, err)
	collect(t, ch)

	shell, err := e.orch.ShellView(ctx, sess.ID, "shell-1")
	require.NoError(t, err)
	assert.True(t, shell.Success)

	file, err := e.orch.FileView(ctx, sess.ID, "/tmp/x")
	require.NoError(t, err)
	assert.True(t, file.Success)

	url, err := e.orch.VNCURL(ctx, sess.ID)
	require.NoError(t, err)
	assert.Contains(t, url, "/vnc")
}

func TestShutdownReleasesEverything(t *testing.T) {
	ctx := context.Background()
	e := newEnv(
		planResponse("1"),
		&llm.Response{Content: "done"},
	)
	sess, err := e.orch.CreateSession(ctx)
	require.NoError(t, err)
	ch, err := e.orch.Chat(ctx, ChatRequest{SessionID: sess.ID, Message: "go"})
	require.NoError(t, err)
	collect(t, ch)

	require.NoError(t, e.orch.Shutdown(ctx))
	assert.Equal(t, 1, e.manager.destroyedCount())
}
