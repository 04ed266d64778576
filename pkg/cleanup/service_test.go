package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/sandbox"
	"github.com/helmsman-ai/helmsman/pkg/storage"
)

type fakeManager struct {
	mu        sync.Mutex
	destroyed []string
	fail      bool
}

func (f *fakeManager) Create(ctx context.Context) (sandbox.Sandbox, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeManager) Get(ctx context.Context, id string) (sandbox.Sandbox, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeManager) Destroy(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("docker unavailable")
	}
	f.destroyed = append(f.destroyed, id)
	return nil
}

func seedSession(t *testing.T, store storage.Store, id, sandboxID string, status models.SessionStatus, age time.Duration) {
	t.Helper()
	sess := models.NewSession("agent-default")
	sess.ID = id
	sess.SandboxID = sandboxID
	sess.Status = status
	sess.LatestMessageAt = time.Now().Add(-age).Unix()
	require.NoError(t, store.Sessions().Create(context.Background(), sess))
}

func newService(store storage.Store, manager sandbox.Manager) *Service {
	return NewService(store, manager, time.Hour, time.Minute, slog.New(slog.DiscardHandler))
}

func TestReapOnceReleasesIdleSandboxes(t *testing.T) {
	store := storage.NewMemoryStore()
	manager := &fakeManager{}
	seedSession(t, store, "stale", "sandbox-stale", models.SessionCompleted, 2*time.Hour)
	seedSession(t, store, "fresh", "sandbox-fresh", models.SessionCompleted, time.Minute)

	released := newService(store, manager).ReapOnce(context.Background())

	assert.Equal(t, 1, released)
	assert.Equal(t, []string{"sandbox-stale"}, manager.destroyed)

	sess, err := store.Sessions().Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.Empty(t, sess.SandboxID)

	sess, err = store.Sessions().Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, "sandbox-fresh", sess.SandboxID)
}

func TestReapOnceKeepsFreshWaitingSession(t *testing.T) {
	store := storage.NewMemoryStore()
	manager := &fakeManager{}
	sess := models.NewSession("agent-default")
	sess.ID = "suspended"
	sess.SandboxID = "sandbox-fresh"
	sess.Status = models.SessionWaiting
	sess.LatestMessageAt = time.Now().Unix()
	require.NoError(t, store.Sessions().Create(context.Background(), sess))

	released := newService(store, manager).ReapOnce(context.Background())

	assert.Zero(t, released)
	assert.Empty(t, manager.destroyed)

	got, err := store.Sessions().Get(context.Background(), "suspended")
	require.NoError(t, err)
	assert.Equal(t, "sandbox-fresh", got.SandboxID)
}

func TestReapOnceSkipsRunningSessions(t *testing.T) {
	store := storage.NewMemoryStore()
	manager := &fakeManager{}
	seedSession(t, store, "busy", "sandbox-busy", models.SessionRunning, 2*time.Hour)
	seedSession(t, store, "no-sandbox", "", models.SessionCompleted, 2*time.Hour)

	released := newService(store, manager).ReapOnce(context.Background())

	assert.Zero(t, released)
	assert.Empty(t, manager.destroyed)
}

func TestReapOnceKeepsSandboxOnDestroyFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	manager := &fakeManager{fail: true}
	seedSession(t, store, "stale", "sandbox-stale", models.SessionWaiting, 2*time.Hour)

	released := newService(store, manager).ReapOnce(context.Background())

	assert.Zero(t, released)
	sess, err := store.Sessions().Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, "sandbox-stale", sess.SandboxID)
}

func TestStartAndStop(t *testing.T) {
	store := storage.NewMemoryStore()
	manager := &fakeManager{}
	seedSession(t, store, "stale", "sandbox-stale", models.SessionCompleted, 2*time.Hour)

	svc := NewService(store, manager, time.Hour, time.Hour, slog.New(slog.DiscardHandler))
	svc.Start(context.Background())
	svc.Stop()

	// The initial sweep runs before the first tick.
	assert.Equal(t, []string{"sandbox-stale"}, manager.destroyed)
}
