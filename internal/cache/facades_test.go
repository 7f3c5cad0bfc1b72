package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/gatherly/syncstore/pkg/types"
)

// fakeRemote records operations and serves canned responses keyed by
// table, mimicking the hosted backend.
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
		raw, err := json.Marshal(f.responses[op.Table])
		return raw, err
	}
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestUserFacadeReadThrough(t *testing.T) {
	s := newTestStore(t)
	m := newTestManager(t, s, UserConfig())
	remote := &fakeRemote{responses: map[string]any{
		"profiles": types.Profile{ID: "u1", Username: "ana"},
	}}
	users := NewUserCache(m, remote.fn(), nil)
	ctx := context.Background()

	p, err := users.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Username != "ana" {
		t.Errorf("profile = %+v", p)
	}
	if remote.callCount() != 1 {
		t.Fatalf("remote calls = %d, want 1", remote.callCount())
	}

	// Second read is served from the cache.
	if _, err := users.GetProfile(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if remote.callCount() != 1 {
		t.Errorf("remote calls = %d, want 1 after cache hit", remote.callCount())
	}
}

func TestUserFacadeWriteThrough(t *testing.T) {
	s := newTestStore(t)
	m := newTestManager(t, s, UserConfig())
	remote := &fakeRemote{responses: map[string]any{
		"profiles": types.Profile{ID: "u1", Username: "ana", Bio: "updated"},
	}}
	users := NewUserCache(m, remote.fn(), nil)

	p, err := users.UpdateProfile(context.Background(), "u1", map[string]any{"bio": "updated"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Bio != "updated" {
		t.Errorf("profile = %+v", p)
	}

	// The remote result lands in the cache without another fetch.
	cached, ok := Get[types.Profile](m, ProfileKey("u1"))
	if !ok || cached.Bio != "updated" {
		t.Errorf("cached profile = %+v, ok=%v", cached, ok)
	}

	// Remote failure propagates and leaves the cache untouched.
	remote.err = errors.New("server error")
	if _, err := users.UpdateProfile(context.Background(), "u1", nil); err == nil {
		t.Error("expected remote error to propagate")
	}
}

func TestEventFacadeInvalidatesQueriesOnMutation(t *testing.T) {
	s := newTestStore(t)
	m := newTestManager(t, s, EventConfig())
	remote := &fakeRemote{responses: map[string]any{
		"events": types.Event{ID: "e1", Title: "Updated"},
	}}
	events := NewEventCache(m, remote.fn(), nil)

	// Seed composite query caches and a detail entry.
	m.Set(EventListKey(nil), []types.Event{{ID: "e1", Title: "Old"}}, nil)
	m.Set(EventListKey(map[string]any{"category": "music"}), []types.Event{}, nil)
	m.Set(NearbyEventsKey(40.7, -74.0, 5), []types.Event{{ID: "e1"}}, nil)
	m.Set(EventKey("e1"), types.Event{ID: "e1", Title: "Old"}, nil)

	if _, err := events.UpdateEvent(context.Background(), "e1", map[string]any{"title": "Updated"}); err != nil {
		t.Fatal(err)
	}

	// Detail is refreshed in place; every list/nearby key is dropped so
	// the next read recomputes it.
	detail, ok := Get[types.Event](m, EventKey("e1"))
	if !ok || detail.Title != "Updated" {
		t.Errorf("detail after update = %+v, ok=%v", detail, ok)
	}
	if m.Has(EventListKey(nil)) {
		t.Error("list key should be invalidated")
	}
	if m.Has(EventListKey(map[string]any{"category": "music"})) {
		t.Error("filtered list key should be invalidated")
	}
	if m.Has(NearbyEventsKey(40.7, -74.0, 5)) {
		t.Error("nearby key should be invalidated")
	}
}

func TestEventFacadeOfflineReadThrough(t *testing.T) {
	s := newTestStore(t)
	m := newTestManager(t, s, EventConfig())

	// Pre-populated cache; the remote always fails (device offline).
	m.Set(EventListKey(nil), []types.Event{{ID: "e1", Title: "Cached"}}, nil)
	remote := &fakeRemote{err: errors.New("offline")}
	events := NewEventCache(m, remote.fn(), nil)

	got, err := events.ListEvents(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Title != "Cached" {
		t.Errorf("ListEvents = %+v", got)
	}
	if remote.callCount() != 0 {
		t.Errorf("remote calls = %d, want 0 for cached read", remote.callCount())
	}
}

func TestEventFacadeNearbyCachesByCoordinates(t *testing.T) {
	s := newTestStore(t)
	m := newTestManager(t, s, EventConfig())
	remote := &fakeRemote{responses: map[string]any{
		"events": []types.Event{{ID: "e1"}},
	}}
	events := NewEventCache(m, remote.fn(), nil)
	ctx := context.Background()

	if _, err := events.NearbyEvents(ctx, 40.7128, -74.006, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := events.NearbyEvents(ctx, 40.7128, -74.006, 5); err != nil {
		t.Fatal(err)
	}
	if remote.callCount() != 1 {
		t.Errorf("remote calls = %d, want 1 for repeated identical query", remote.callCount())
	}

	// A different radius is a different query.
	if _, err := events.NearbyEvents(ctx, 40.7128, -74.006, 10); err != nil {
		t.Fatal(err)
	}
	if remote.callCount() != 2 {
		t.Errorf("remote calls = %d, want 2 after new radius", remote.callCount())
	}
}

func TestEventFacadeDelete(t *testing.T) {
	s := newTestStore(t)
	m := newTestManager(t, s, EventConfig())
	remote := &fakeRemote{responses: map[string]any{"events": map[string]any{}}}
	events := NewEventCache(m, remote.fn(), nil)

	m.Set(EventKey("e1"), types.Event{ID: "e1"}, nil)
	m.Set(EventListKey(nil), []types.Event{{ID: "e1"}}, nil)

	if err := events.DeleteEvent(context.Background(), "e1"); err != nil {
		t.Fatal(err)
	}
	if m.Has(EventKey("e1")) {
		t.Error("detail key should be gone after delete")
	}
	if m.Has(EventListKey(nil)) {
		t.Error("list key should be invalidated after delete")
	}
}

func TestFetchManyDecodeError(t *testing.T) {
	s := newTestStore(t)
	m := newTestManager(t, s, EventConfig())
	// Remote returns an object where a list is expected.
	remote := &fakeRemote{responses: map[string]any{"events": map[string]any{"not": "a list"}}}
	events := NewEventCache(m, remote.fn(), nil)

	if _, err := events.ListEvents(context.Background(), nil); err == nil {
		t.Error("expected decode error to propagate")
	}
	if m.Has(EventListKey(nil)) {
		t.Error("failed fetch must not populate the cache")
	}
}
