// Package orchestrator is the façade in front of the session machinery.
// It owns session lifecycle, enforces at-most-one active task runner per
// session with keyed locks, and exposes the chat event stream clients
// subscribe to.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/agent"
	"github.com/helmsman-ai/helmsman/pkg/eventstream"
	"github.com/helmsman-ai/helmsman/pkg/flow"
	"github.com/helmsman-ai/helmsman/pkg/jsonrepair"
	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/sandbox"
	"github.com/helmsman-ai/helmsman/pkg/storage"
	"github.com/helmsman-ai/helmsman/pkg/taskrunner"
	"github.com/helmsman-ai/helmsman/pkg/tools"
)

// streamBlock paces blocking reads on the output stream so subscriber
// loops notice context cancellation and task completion promptly.
const streamBlock = time.Second

// AgentDefaults is the model configuration stamped onto new agent records.
type AgentDefaults struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Options wires an Orchestrator.
type Options struct {
	Store     storage.Store
	Streams   eventstream.Provider
	LLM       llm.Client
	Fixer     jsonrepair.Fixer // optional; enables the model-fix strategy
	Sandboxes sandbox.Manager
	Agent     AgentDefaults

	// SearchTool is registered with each session's registry when non-nil.
	SearchTool tools.Tool
	Logger     *slog.Logger
}

// runtime is the in-process state of one session: its flow, runner, task,
// and sandbox handle. It is not persisted; a restarted process rebuilds it
// from the session record on the next chat.
type runtime struct {
	task    *taskrunner.Task
	sandbox sandbox.Sandbox
}

// Orchestrator coordinates sessions, tasks, and sandboxes.
type Orchestrator struct {
	store     storage.Store
	streams   eventstream.Provider
	llm       llm.Client
	parser    *jsonrepair.Parser
	sandboxes sandbox.Manager
	defaults  AgentDefaults
	search    tools.Tool
	logger    *slog.Logger

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	runtimes map[string]*runtime
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	parserOpts := []jsonrepair.Option{jsonrepair.WithLogger(logger)}
	if opts.Fixer != nil {
		parserOpts = append(parserOpts, jsonrepair.WithFixer(opts.Fixer))
	}
	return &Orchestrator{
		store:     opts.Store,
		streams:   opts.Streams,
		llm:       opts.LLM,
		parser:    jsonrepair.NewParser(parserOpts...),
		sandboxes: opts.Sandboxes,
		defaults:  opts.Agent,
		search:    opts.SearchTool,
		logger:    logger,
	}
}

// lockFor returns the per-session mutex, creating it on first use.
func (o *Orchestrator) lockFor(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.locks == nil {
		o.locks = make(map[string]*sync.Mutex)
	}
	l, ok := o.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[sessionID] = l
	}
	return l
}

// CreateSession materializes a new agent configuration and a pending
// session bound to it.
func (o *Orchestrator) CreateSession(ctx context.Context) (*models.Session, error) {
	a, err := models.NewAgent(o.defaults.Model, o.defaults.Temperature, o.defaults.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("creating agent config: %w", err)
	}
	if err := o.store.Agents().Create(ctx, a); err != nil {
		return nil, fmt.Errorf("persisting agent: %w", err)
	}
	sess := models.NewSession(a.ID)
	if err := o.store.Sessions().Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}
	o.logger.Info("session created", "session_id", sess.ID, "agent_id", a.ID)
	return sess, nil
}

// GetSession loads a session with its event history.
func (o *Orchestrator) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return o.store.Sessions().Get(ctx, id)
}

// ListSessions returns session summaries ordered by recent activity.
func (o *Orchestrator) ListSessions(ctx context.Context) ([]*models.Session, error) {
	return o.store.Sessions().List(ctx)
}

// DeleteSession stops the session's task, releases its sandbox, and
// removes the record.
func (o *Orchestrator) DeleteSession(ctx context.Context, id string) error {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if rt := o.runtimeFor(id); rt != nil {
		rt.task.Cancel()
		_ = rt.task.Wait(ctx)
		if err := rt.task.Runner().Destroy(ctx); err != nil {
			o.logger.Warn("destroying sandbox on delete", "session_id", id, "error", err)
		}
		o.dropRuntime(id)
	}
	if err := o.store.Sessions().Delete(ctx, id); err != nil {
		return err
	}
	o.logger.Info("session deleted", "session_id", id)
	return nil
}

// StopSession cancels the session's running task, if any, and marks the
// session completed.
func (o *Orchestrator) StopSession(ctx context.Context, id string) error {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := o.store.Sessions().Get(ctx, id)
	if err != nil {
		return err
	}
	if rt := o.runtimeFor(id); rt != nil {
		// The runner's cancel path appends the terminal DoneEvent and
		// completes the session.
		rt.task.Cancel()
		if err := rt.task.Wait(ctx); err != nil {
			return err
		}
		if err := rt.task.Runner().Destroy(ctx); err != nil {
			o.logger.Warn("destroying sandbox on stop", "session_id", id, "error", err)
		}
		o.dropRuntime(id)
		sess, err = o.store.Sessions().Get(ctx, id)
		if err != nil {
			return err
		}
	}
	if sess.Status != models.SessionCompleted {
		if err := o.store.Sessions().UpdateStatus(ctx, id, models.SessionCompleted); err != nil {
			return err
		}
	}
	// A waiting session's worker never ran its cancel path, so the task
	// binding may still be set.
	if sess.TaskID != "" {
		return o.store.Sessions().ClearTask(ctx, id)
	}
	return nil
}

// ChatRequest is one call to Chat.
type ChatRequest struct {
	SessionID string
	// Message is the user's input; empty means subscribe-only.
	Message   string
	Timestamp int64
	// LastEventID resumes the output cursor after this event.
	LastEventID string
}

// Chat injects a user message (when non-empty) and streams session events
// from the output cursor. The returned channel closes after a terminal
// event (done, wait, error), when the worker finishes, or when ctx is
// cancelled.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (<-chan models.Event, error) {
	lock := o.lockFor(req.SessionID)
	lock.Lock()

	sess, err := o.store.Sessions().Get(ctx, req.SessionID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	task, err := o.prepare(ctx, sess, req)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	lock.Unlock()

	out := make(chan models.Event)
	go o.pump(ctx, req.SessionID, task, req.LastEventID, out)
	return out, nil
}

// prepare feeds the message (if any) to the session's worker, starting one
// when needed, and returns the task to subscribe through. It runs under
// the session lock; a nil task means subscribe-only replay.
func (o *Orchestrator) prepare(ctx context.Context, sess *models.Session, req ChatRequest) (*taskrunner.Task, error) {
	if req.Message == "" {
		if rt := o.runtimeFor(sess.ID); rt != nil {
			return rt.task, nil
		}
		return nil, nil
	}

	rt, err := o.ensureRuntime(ctx, sess)
	if err != nil {
		return nil, err
	}
	// A completed run cleared the task binding; restore it before the
	// session goes back to running.
	if sess.TaskID != rt.task.ID() {
		sess.TaskID = rt.task.ID()
		if err := o.store.Sessions().Update(ctx, sess); err != nil {
			return nil, fmt.Errorf("binding task: %w", err)
		}
	}

	userEv := models.NewMessageEvent(models.RoleUser, req.Message)
	if req.Timestamp > 0 {
		userEv.Timestamp = req.Timestamp
	}
	if _, err := rt.task.Input().Put(ctx, userEv); err != nil {
		return nil, fmt.Errorf("queueing message: %w", err)
	}
	if err := o.store.Sessions().AppendEvent(ctx, sess.ID, userEv); err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}
	if err := o.store.Sessions().UpdateStatus(ctx, sess.ID, models.SessionRunning); err != nil {
		return nil, err
	}
	// Idempotent: a worker already draining the input picks the message up
	// (and interrupts its current flow); otherwise a fresh one starts. The
	// worker outlives this request.
	rt.task.Start(context.WithoutCancel(ctx))
	return rt.task, nil
}

// pump forwards events from the output stream to the subscriber channel,
// resetting the unread counter as the client observes them. With a nil
// task it replays what the stream already holds and returns.
func (o *Orchestrator) pump(ctx context.Context, sessionID string, task *taskrunner.Task, cursor string, out chan<- models.Event) {
	defer close(out)
	stream := o.streams.Stream(sessionID)
	for {
		block := streamBlock
		if task == nil {
			block = 0
		}
		ev, err := stream.Get(ctx, cursor, block)
		if err != nil {
			if ctx.Err() == nil {
				o.logger.Error("reading output stream", "session_id", sessionID, "error", err)
				o.yieldError(ctx, sessionID, stream, out, err)
			}
			return
		}
		if ev == nil {
			if ctx.Err() != nil {
				return
			}
			// Nothing new; stop once there is no live worker to produce
			// more.
			if task == nil || !task.Running() {
				return
			}
			continue
		}
		cursor = ev.Meta().ID

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
		if err := o.store.Sessions().ClearUnread(ctx, sessionID); err != nil {
			o.logger.Warn("clearing unread count", "session_id", sessionID, "error", err)
		}

		switch ev.Kind() {
		case models.EventTypeDone, models.EventTypeWait, models.EventTypeError:
			return
		}
	}
}

// yieldError appends an ErrorEvent for a subscriber-side failure and
// forwards it before closing.
func (o *Orchestrator) yieldError(ctx context.Context, sessionID string, stream eventstream.Stream, out chan<- models.Event, cause error) {
	ev := models.NewErrorEvent(fmt.Sprintf("Stream error: %v", cause))
	ctx = context.WithoutCancel(ctx)
	if _, err := stream.Put(ctx, ev); err == nil {
		_ = o.store.Sessions().AppendEvent(ctx, sessionID, ev)
	}
	select {
	case out <- ev:
	default:
	}
}

// ensureRuntime returns the session's in-process runtime, building the
// sandbox, tool registry, agents, flow, and task on first use. A session
// found WAITING has its plan restored from the latest plan event so the
// flow resumes its suspended step.
func (o *Orchestrator) ensureRuntime(ctx context.Context, sess *models.Session) (*runtime, error) {
	if rt := o.runtimeFor(sess.ID); rt != nil {
		return rt, nil
	}

	sb, err := o.ensureSandbox(ctx, sess)
	if err != nil {
		return nil, err
	}

	toolList := []tools.Tool{
		tools.NewShellTool(sb),
		tools.NewFileTool(sb),
		tools.NewBrowserTool(sb.CDPURL()),
		tools.NewMessageTool(),
	}
	if o.search != nil {
		toolList = append(toolList, o.search)
	}
	registry, err := tools.NewRegistry(toolList, tools.WithRegistryLogger(o.logger))
	if err != nil {
		return nil, fmt.Errorf("building tool registry: %w", err)
	}

	planner := agent.NewPlanner(sess.ID, o.llm, o.store.Memories(), o.parser, o.logger)
	executor := agent.NewExecutor(sess.ID, o.llm, registry, o.store.Memories(), o.parser, o.logger)
	fl := flow.NewPlanAct(sess.ID, planner, executor, o.logger)
	if sess.Status == models.SessionWaiting {
		fl.Resume(latestPlan(sess.Events))
	}

	runner := taskrunner.NewRunner(sess.ID, fl, sb, o.sandboxes, o.store.Sessions(), o.logger)
	task := taskrunner.NewTask(runner,
		o.streams.Stream(sess.ID+":input"),
		o.streams.Stream(sess.ID),
	)

	sess.TaskID = task.ID()
	if err := o.store.Sessions().Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("binding task: %w", err)
	}

	rt := &runtime{task: task, sandbox: sb}
	o.mu.Lock()
	if o.runtimes == nil {
		o.runtimes = make(map[string]*runtime)
	}
	o.runtimes[sess.ID] = rt
	o.mu.Unlock()
	return rt, nil
}

// ensureSandbox reuses the session's sandbox or allocates a fresh one.
func (o *Orchestrator) ensureSandbox(ctx context.Context, sess *models.Session) (sandbox.Sandbox, error) {
	if sess.SandboxID != "" {
		sb, err := o.sandboxes.Get(ctx, sess.SandboxID)
		if err == nil {
			return sb, nil
		}
		o.logger.Warn("cached sandbox unavailable, allocating a new one",
			"session_id", sess.ID, "sandbox_id", sess.SandboxID, "error", err)
	}
	sb, err := o.sandboxes.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating sandbox: %w", err)
	}
	sess.SandboxID = sb.ID()
	if err := o.store.Sessions().Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("binding sandbox: %w", err)
	}
	return sb, nil
}

// latestPlan extracts the most recent plan snapshot from an event history.
func latestPlan(events []models.Event) *models.Plan {
	for i := len(events) - 1; i >= 0; i-- {
		if pe, ok := events[i].(*models.PlanEvent); ok {
			return pe.Plan.Clone()
		}
	}
	return nil
}

// ShellView returns the console snapshot of one shell session in the
// session's sandbox.
func (o *Orchestrator) ShellView(ctx context.Context, sessionID, shellID string) (*models.ToolResult, error) {
	sb, err := o.sessionSandbox(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sb.ViewShell(ctx, shellID)
}

// FileView returns the content of one file in the session's sandbox.
func (o *Orchestrator) FileView(ctx context.Context, sessionID, path string) (*models.ToolResult, error) {
	sb, err := o.sessionSandbox(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sb.FileRead(ctx, sandbox.FileReadRequest{File: path})
}

// VNCURL returns the websocket URL of the session sandbox's VNC server.
func (o *Orchestrator) VNCURL(ctx context.Context, sessionID string) (string, error) {
	sb, err := o.sessionSandbox(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return sb.VNCURL(), nil
}

func (o *Orchestrator) sessionSandbox(ctx context.Context, sessionID string) (sandbox.Sandbox, error) {
	if rt := o.runtimeFor(sessionID); rt != nil {
		return rt.sandbox, nil
	}
	sess, err := o.store.Sessions().Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.SandboxID == "" {
		return nil, fmt.Errorf("%w: session %s has no sandbox", storage.ErrSessionNotFound, sessionID)
	}
	return o.sandboxes.Get(ctx, sess.SandboxID)
}

// Shutdown cancels every active task and releases every sandbox within the
// given context's budget.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	runtimes := make(map[string]*runtime, len(o.runtimes))
	for id, rt := range o.runtimes {
		runtimes[id] = rt
	}
	o.runtimes = nil
	o.mu.Unlock()

	var errs []error
	for id, rt := range runtimes {
		rt.task.Cancel()
		if err := rt.task.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("waiting for task of session %s: %w", id, err))
		}
		if err := rt.task.Runner().Destroy(ctx); err != nil {
			errs = append(errs, fmt.Errorf("destroying sandbox of session %s: %w", id, err))
		}
	}
	o.logger.Info("orchestrator shut down", "sessions", len(runtimes))
	return errors.Join(errs...)
}

func (o *Orchestrator) runtimeFor(sessionID string) *runtime {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runtimes[sessionID]
}

func (o *Orchestrator) dropRuntime(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.runtimes, sessionID)
}
