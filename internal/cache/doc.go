/*
Package cache provides the namespaced, TTL-aware caching layer that the rest
of the syncstore library is built on.

Every Manager owns one namespace of the shared durable store. Entries are
JSON envelopes carrying their insertion timestamp and optional expiry; the
insertion timestamp drives the eviction order. The optional in-memory hot
tier accelerates repeated reads; the durable tier stays authoritative.

# Architecture

	┌─────────────────────────────────────────────┐
	│     Typed Facades (user/event/general)      │
	│   read-through getters, write-through       │
	│   mutations, broad query invalidation       │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│                 Manager                     │
	│   • TTL expiry (lazy at read + sweep)       │
	│   • approximate size accounting             │
	│   • oldest-insertion-first eviction         │
	│   • optional gzip compression               │
	│   • optional in-memory hot tier             │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Shared durable store (bbolt)         │
	│        keys: "<namespace>:<logical>"        │
	└─────────────────────────────────────────────┘

# Failure Policy

A cache is an optimization, not a source of truth. Reads fail open: a
missing, expired, corrupt, or unreadable entry is a miss, never an error,
and expired/corrupt entries are deleted on sight. Writes never surface
errors to callers; persistence failures are logged and the write is lost.

# Eviction

Eviction is insertion-order (oldest timestamp first), not LRU: access does
not refresh an entry's timestamp. This trades recency accuracy for a simple
O(n log n) scan over a namespace expected to stay under tens of thousands
of entries. Size accounting is the serialized byte length, a soft capacity
heuristic rather than exact on-disk usage.

# Typed Access

Go methods cannot take type parameters, so the typed surface is package
level: Get[T], GetMany[T], GetOrSet[T], and GetOrRefresh[T] bind the value
type at each call site instead of handing back untyped blobs.

# Usage

	mgr, err := cache.NewManager(store, cache.EventConfig(), logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	mgr.Set("event:e1", event, nil)
	if ev, ok := cache.Get[types.Event](mgr, "event:e1"); ok {
		// hit
		_ = ev
	}

	events, err := cache.GetOrSet(ctx, mgr, "events:list:all",
		fetchFromRemote, &cache.Options{TTL: 10 * time.Minute})
*/
package cache
