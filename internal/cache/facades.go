package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/gatherly/syncstore/pkg/types"
)

// Domain cache policies. Each facade owns a Manager parameterized with a
// TTL and size budget appropriate to how quickly its data goes stale.

// UserConfig is the policy for cached user profiles.
func UserConfig() Config {
	return Config{
		Namespace:  "user-cache",
		DefaultTTL: 24 * time.Hour,
		MaxSize:    10 * 1024 * 1024,
	}
}

// EventConfig is the policy for cached event details and list queries.
func EventConfig() Config {
	return Config{
		Namespace:  "event-cache",
		DefaultTTL: 30 * time.Minute,
		MaxSize:    15 * 1024 * 1024,
	}
}

// ImageConfig is the policy for image disk-cache metadata.
func ImageConfig() Config {
	return Config{
		Namespace:  "image-cache",
		DefaultTTL: 7 * 24 * time.Hour,
		MaxSize:    100 * 1024 * 1024,
	}
}

// GeneralConfig is the policy for the catch-all cache.
func GeneralConfig() Config {
	return Config{
		Namespace:  "general-cache",
		DefaultTTL: time.Hour,
		MaxSize:    20 * 1024 * 1024,
	}
}

// UserCache is the typed facade over the user-cache namespace.
type UserCache struct {
	cache  *Manager
	remote types.RemoteFunc
	logger *zap.Logger
}

// NewUserCache creates the user facade over an existing manager.
func NewUserCache(m *Manager, remote types.RemoteFunc, logger *zap.Logger) *UserCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserCache{cache: m, remote: remote, logger: logger}
}

// Cache exposes the underlying manager, mainly for tests and wiring.
func (u *UserCache) Cache() *Manager { return u.cache }

// GetProfile returns the profile for id, reading through to the remote
// service on a cache miss.
func (u *UserCache) GetProfile(ctx context.Context, id string) (*types.Profile, error) {
	return GetOrSet(ctx, u.cache, ProfileKey(id), func(ctx context.Context) (*types.Profile, error) {
		return fetchOne[types.Profile](ctx, u.remote, "profiles", id)
	}, nil)
}

// UpdateProfile writes the patch through to the remote service first, then
// replaces the cached detail entry with the returned record.
func (u *UserCache) UpdateProfile(ctx context.Context, id string, patch map[string]any) (*types.Profile, error) {
	profile, err := mutateOne[types.Profile](ctx, u.remote, types.ActionUpdate, "profiles", id, patch)
	if err != nil {
		return nil, err
	}
	u.cache.Set(ProfileKey(id), profile, nil)
	return profile, nil
}

// InvalidateProfile drops the cached detail entry for id.
func (u *UserCache) InvalidateProfile(id string) {
	u.cache.Delete(ProfileKey(id))
}

// EventCache is the typed facade over the event-cache namespace.
type EventCache struct {
	cache  *Manager
	remote types.RemoteFunc
	logger *zap.Logger
}

// NewEventCache creates the event facade over an existing manager.
func NewEventCache(m *Manager, remote types.RemoteFunc, logger *zap.Logger) *EventCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventCache{cache: m, remote: remote, logger: logger}
}

// Cache exposes the underlying manager, mainly for tests and wiring.
func (e *EventCache) Cache() *Manager { return e.cache }

// GetEvent returns the event detail for id, reading through on a miss.
func (e *EventCache) GetEvent(ctx context.Context, id string) (*types.Event, error) {
	return GetOrSet(ctx, e.cache, EventKey(id), func(ctx context.Context) (*types.Event, error) {
		return fetchOne[types.Event](ctx, e.remote, "events", id)
	}, nil)
}

// ListEvents returns the events matching filters, reading through on a
// miss. Equal filters always share one cache entry.
func (e *EventCache) ListEvents(ctx context.Context, filters map[string]any) ([]types.Event, error) {
	return GetOrSet(ctx, e.cache, EventListKey(filters), func(ctx context.Context) ([]types.Event, error) {
		return fetchMany[types.Event](ctx, e.remote, "events", filters)
	}, nil)
}

// NearbyEvents returns events around a coordinate, reading through on a miss.
func (e *EventCache) NearbyEvents(ctx context.Context, lat, lng, radiusKM float64) ([]types.Event, error) {
	return GetOrSet(ctx, e.cache, NearbyEventsKey(lat, lng, radiusKM), func(ctx context.Context) ([]types.Event, error) {
		return fetchMany[types.Event](ctx, e.remote, "events", map[string]any{
			"lat": lat, "lng": lng, "radius_km": radiusKM,
		})
	}, nil)
}

// CreateEvent creates the event remotely, caches the returned detail, and
// invalidates every list/nearby key that might now be stale. List caches
// are never patched in place; deleting them forces recomputation on the
// next read.
func (e *EventCache) CreateEvent(ctx context.Context, data map[string]any) (*types.Event, error) {
	event, err := mutateOne[types.Event](ctx, e.remote, types.ActionCreate, "events", "", data)
	if err != nil {
		return nil, err
	}
	if event.ID != "" {
		e.cache.Set(EventKey(event.ID), event, nil)
	}
	e.invalidateQueries()
	return event, nil
}

// UpdateEvent writes the patch through to the remote service first, then
// updates the detail entry and invalidates list/nearby keys.
func (e *EventCache) UpdateEvent(ctx context.Context, id string, patch map[string]any) (*types.Event, error) {
	event, err := mutateOne[types.Event](ctx, e.remote, types.ActionUpdate, "events", id, patch)
	if err != nil {
		return nil, err
	}
	e.cache.Set(EventKey(id), event, nil)
	e.invalidateQueries()
	return event, nil
}

// DeleteEvent deletes the event remotely, then drops its detail entry and
// invalidates list/nearby keys.
func (e *EventCache) DeleteEvent(ctx context.Context, id string) error {
	_, err := e.remote(ctx, types.RemoteOp{Type: types.ActionDelete, Table: "events", ID: id})
	if err != nil {
		return err
	}
	e.Invalidate(id)
	return nil
}

// Invalidate drops the detail entry for id and every list/nearby key.
// The sync queue calls this after replaying a queued event mutation.
func (e *EventCache) Invalidate(id string) {
	if id != "" {
		e.cache.Delete(EventKey(id))
	}
	e.invalidateQueries()
}

func (e *EventCache) invalidateQueries() {
	e.cache.DeletePrefix(eventListPrefix)
	e.cache.DeletePrefix(eventNearbyPrefix)
}

// Remote helpers shared by the facades.

func fetchOne[T any](ctx context.Context, remote types.RemoteFunc, table, id string) (*T, error) {
	raw, err := remote(ctx, types.RemoteOp{Type: types.ActionRead, Table: table, ID: id})
	if err != nil {
		return nil, err
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return &value, nil
}

func fetchMany[T any](ctx context.Context, remote types.RemoteFunc, table string, filters map[string]any) ([]T, error) {
	raw, err := remote(ctx, types.RemoteOp{Type: types.ActionRead, Table: table, Filters: filters})
	if err != nil {
		return nil, err
	}
	var values []T
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	return values, nil
}

func mutateOne[T any](ctx context.Context, remote types.RemoteFunc, typ types.ActionType, table, id string, data map[string]any) (*T, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	raw, err := remote(ctx, types.RemoteOp{Type: typ, Table: table, ID: id, Data: payload})
	if err != nil {
		return nil, err
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return &value, nil
}
