package client

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gatherly/syncstore/internal/cache"
	"github.com/gatherly/syncstore/internal/config"
	"github.com/gatherly/syncstore/internal/executor"
	"github.com/gatherly/syncstore/pkg/types"
)

type fakeRemote struct {
	mu        sync.Mutex
	calls     []types.RemoteOp
	responses map[string]any
	err       error
}

func (f *fakeRemote) fn() types.RemoteFunc {
	return func(ctx context.Context, op types.RemoteOp) (json.RawMessage, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, op)
		if f.err != nil {
			return nil, f.err
		}
		return json.Marshal(f.responses[op.Table])
	}
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig(t *testing.T) *config.Configuration {
	t.Helper()
	cfg := config.NewDefault()
	dir := t.TempDir()
	cfg.Storage.Path = filepath.Join(dir, "syncstore.db")
	cfg.Images.Directory = filepath.Join(dir, "images")
	cfg.Monitoring.Metrics.ListenAddr = ""
	return cfg
}

func newTestClient(t *testing.T, remote *fakeRemote) *Client {
	t.Helper()
	c, err := New(testConfig(t), remote.fn(), nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewValidatesConfiguration(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Path = ""
	if _, err := New(cfg, (&fakeRemote{}).fn(), nil); err == nil {
		t.Error("expected validation error for empty storage path")
	}
}

func TestProfileReadThrough(t *testing.T) {
	remote := &fakeRemote{responses: map[string]any{
		"profiles": types.Profile{ID: "u1", Username: "ana"},
	}}
	c := newTestClient(t, remote)

	p, err := c.Users().GetProfile(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Username != "ana" {
		t.Errorf("profile = %+v", p)
	}

	if _, err := c.Users().GetProfile(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	if remote.callCount() != 1 {
		t.Errorf("remote calls = %d, want 1 after cache hit", remote.callCount())
	}
}

func TestOfflineMutationReplaysOnReconnect(t *testing.T) {
	remote := &fakeRemote{responses: map[string]any{"rsvps": map[string]any{"ok": true}}}
	c := newTestClient(t, remote)
	ctx := context.Background()

	// Device starts offline: the mutation queues without touching the
	// network.
	c.Network().SetConnectivity(false, "none")
	id, err := c.EnqueueMutation(ctx, types.ActionCreate, "rsvps", "r1",
		json.RawMessage(`{"event_id":"e1","going":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if remote.callCount() != 0 {
		t.Fatalf("remote calls = %d while offline, want 0", remote.callCount())
	}
	if len(c.Queue().Pending()) != 1 {
		t.Fatalf("pending = %d, want 1", len(c.Queue().Pending()))
	}

	// Connectivity returns: the subscription drains the queue exactly
	// once.
	c.Network().SetConnectivity(true, "wifi")
	waitFor(t, "queued mutation to replay", func() bool {
		a, err := c.Queue().GetActionStatus(id)
		return err == nil && a.Status == types.StatusCompleted
	})
	if remote.callCount() != 1 {
		t.Errorf("remote calls = %d, want exactly 1", remote.callCount())
	}
}

func TestReplayInvalidatesEventCaches(t *testing.T) {
	remote := &fakeRemote{responses: map[string]any{"events": map[string]any{"id": "e1"}}}
	c := newTestClient(t, remote)
	ctx := context.Background()

	// Prime a list cache entry, then replay an event mutation.
	events := c.Events().Cache()
	events.Set(cache.EventListKey(nil), []types.Event{{ID: "e1", Title: "Stale"}}, nil)

	c.Network().SetConnectivity(false, "none")
	id, err := c.EnqueueMutation(ctx, types.ActionUpdate, "events", "e1",
		json.RawMessage(`{"title":"Fresh"}`))
	if err != nil {
		t.Fatal(err)
	}
	c.Network().SetConnectivity(true, "wifi")
	waitFor(t, "event mutation to replay", func() bool {
		a, err := c.Queue().GetActionStatus(id)
		return err == nil && a.Status == types.StatusCompleted
	})

	if events.Has(cache.EventListKey(nil)) {
		t.Error("event list cache should be invalidated after replay")
	}
}

func TestExecutorUsesObserverTier(t *testing.T) {
	c := newTestClient(t, &fakeRemote{})
	op := func(ctx context.Context) (string, error) { return "hello", nil }

	c.Network().SetConnectivity(false, "none")
	if _, err := executor.Do(context.Background(), c.Executor(), op, nil); err == nil {
		t.Fatal("expected offline error with no cached value")
	}

	c.Network().SetConnectivity(true, "wifi")
	got, err := executor.Do(context.Background(), c.Executor(), op, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestCloseIsSafeToCallTwice(t *testing.T) {
	c := newTestClient(t, &fakeRemote{})
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	_ = c.Close()
}
