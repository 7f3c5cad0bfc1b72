package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gatherly/syncstore/pkg/types"
)

// NoExpiry as an Options.TTL disables expiration for a single entry even
// when the manager has a default TTL.
const NoExpiry = time.Duration(-1)

// Options overrides manager defaults for a single Set.
type Options struct {
	TTL      time.Duration
	Compress bool
}

// Config represents cache manager configuration.
type Config struct {
	// Namespace prefixes every physical key; operations on one namespace
	// never observe keys of another.
	Namespace string `yaml:"namespace"`
	// DefaultTTL applies to entries written without an explicit TTL.
	// Zero means entries never expire by default.
	DefaultTTL time.Duration `yaml:"default_ttl"`
	// MaxSize is the approximate byte budget for the namespace.
	MaxSize int64 `yaml:"max_size"`
	// Compress gzips every payload in this namespace.
	Compress bool `yaml:"compress"`
	// SweepInterval enables a background expired-entry sweep when > 0.
	// Lazy read-time expiry applies regardless.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// HotTier configures the optional in-memory tier in front of the store.
	HotTier HotTierConfig `yaml:"hot_tier"`
}

// MetricsRecorder receives cache observability events. Implementations
// must be safe for concurrent use; a nil recorder disables reporting.
type MetricsRecorder interface {
	RecordCacheHit(namespace string)
	RecordCacheMiss(namespace string)
	RecordCacheEviction(namespace string, count int)
	SetCacheSize(namespace string, bytes int64)
}

// Manager is a namespaced cache over the shared durable store. It owns TTL
// expiration, approximate size accounting, and oldest-insertion-first
// eviction under the namespace's size budget. Reads fail open: any read
// problem is reported as a miss, never as an error. Writes never return
// errors to the caller; persistence failures are logged and swallowed,
// since losing a cache write degrades performance, not correctness.
type Manager struct {
	mu      sync.Mutex
	store   types.Store
	cfg     Config
	sizes   map[string]int64 // physical key -> serialized byte length
	total   int64
	hot     *hotTier
	stats   types.CacheStats
	metrics MetricsRecorder
	logger  *zap.Logger
	stopCh  chan struct{}
	closed  bool
}

// Item is one element of a SetMany batch.
type Item struct {
	Key  string
	Data any
	Opts *Options
}

// NewManager creates a namespaced manager and rebuilds size accounting by
// scanning the store's keys under the namespace, recovering the
// totalSize == sum(sizes) invariant after a process restart.
func NewManager(store types.Store, cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Namespace == "" || strings.Contains(cfg.Namespace, ":") {
		return nil, errInvalidNamespace(cfg.Namespace)
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 20 * 1024 * 1024 // 20MB
	}

	m := &Manager{
		store:  store,
		cfg:    cfg,
		sizes:  make(map[string]int64),
		logger: logger.With(zap.String("namespace", cfg.Namespace)),
		stats:  types.CacheStats{Capacity: cfg.MaxSize},
		stopCh: make(chan struct{}),
	}
	if cfg.HotTier.Enabled {
		m.hot = newHotTier(cfg.HotTier)
	}

	err := store.ForEachPrefix(m.prefix(), func(key string, value []byte) error {
		m.sizes[key] = int64(len(value))
		m.total += int64(len(value))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cfg.SweepInterval > 0 {
		go m.sweepExpired()
	}

	return m, nil
}

// SetMetrics attaches an observability recorder. Intended to be called
// once during wiring, before the manager is shared.
func (m *Manager) SetMetrics(rec MetricsRecorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = rec
}

// Namespace returns the manager's namespace.
func (m *Manager) Namespace() string {
	return m.cfg.Namespace
}

// Keys returns every logical key currently stored under the namespace,
// including entries whose TTL has elapsed but which have not been swept
// yet. Listing failures are reported as an empty namespace.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	phys, err := m.store.Keys(m.prefix())
	if err != nil {
		m.logger.Warn("cache keys: listing failed", zap.Error(err))
		return nil
	}
	keys := make([]string, 0, len(phys))
	for _, k := range phys {
		keys = append(keys, strings.TrimPrefix(k, m.prefix()))
	}
	return keys
}

func (m *Manager) prefix() string {
	return m.cfg.Namespace + ":"
}

func (m *Manager) physical(key string) string {
	return m.prefix() + key
}

// Set serializes data into an entry envelope and persists it, evicting
// oldest-insertion-first when the namespace would exceed its budget.
// Set never fails from the caller's perspective.
func (m *Manager) Set(key string, data any, opts *Options) {
	raw, err := json.Marshal(data)
	if err != nil {
		m.logger.Warn("cache set: marshal failed", zap.String("key", key), zap.Error(err))
		return
	}

	now := time.Now()
	entry := types.Entry{
		Timestamp: now.UnixMilli(),
		Size:      int64(len(raw)),
	}

	ttl := m.cfg.DefaultTTL
	compress := m.cfg.Compress
	if opts != nil {
		if opts.TTL != 0 {
			ttl = opts.TTL
		}
		compress = compress || opts.Compress
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl).UnixMilli()
	}

	if compress {
		cdata, cerr := compressPayload(raw)
		if cerr != nil {
			m.logger.Warn("cache set: compression failed, storing raw",
				zap.String("key", key), zap.Error(cerr))
			entry.Data = raw
		} else {
			entry.Compressed = cdata
		}
	} else {
		entry.Data = raw
	}

	serialized, err := json.Marshal(&entry)
	if err != nil {
		m.logger.Warn("cache set: envelope marshal failed", zap.String("key", key), zap.Error(err))
		return
	}

	phys := m.physical(key)
	newSize := int64(len(serialized))

	m.mu.Lock()
	defer m.mu.Unlock()

	oldSize := m.sizes[phys]
	if m.total-oldSize+newSize > m.cfg.MaxSize {
		m.evictLocked(m.total - oldSize + newSize - m.cfg.MaxSize, phys)
	}

	if err := m.store.Set(phys, serialized); err != nil {
		// Deliberate policy: cache failures must never break application
		// logic. The write is simply lost.
		m.logger.Warn("cache set: persist failed", zap.String("key", key), zap.Error(err))
		return
	}

	m.total += newSize - m.sizes[phys]
	m.sizes[phys] = newSize
	if m.hot != nil {
		m.hot.put(phys, &entry, newSize)
	}
	m.reportSizeLocked()
}

// getEntry returns the live entry for key, deleting expired or corrupt
// entries as a side effect. Callers hold no lock.
func (m *Manager) getEntry(key string) (*types.Entry, bool) {
	phys := m.physical(key)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hot != nil {
		if entry := m.hot.get(phys); entry != nil {
			if entry.Expired(now) {
				m.removeLocked(phys)
				m.missLocked()
				return nil, false
			}
			m.hitLocked()
			return entry, true
		}
	}

	raw, ok, err := m.store.Get(phys)
	if err != nil || !ok {
		if err != nil {
			m.logger.Debug("cache get: read failed", zap.String("key", key), zap.Error(err))
		}
		m.missLocked()
		return nil, false
	}

	var entry types.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		m.removeLocked(phys)
		m.missLocked()
		return nil, false
	}
	if entry.Expired(now) {
		m.removeLocked(phys)
		m.missLocked()
		return nil, false
	}

	if m.hot != nil {
		m.hot.put(phys, &entry, int64(len(raw)))
	}
	m.hitLocked()
	return &entry, true
}

// payload decodes the entry body, decompressing when necessary.
func (m *Manager) payload(entry *types.Entry) (json.RawMessage, bool) {
	if entry.Compressed == nil {
		return entry.Data, true
	}
	raw, err := decompressPayload(entry.Compressed)
	if err != nil {
		m.logger.Debug("cache get: decompression failed", zap.Error(err))
		return nil, false
	}
	return raw, true
}

// Has reports whether key holds a live entry. Like Get, it deletes
// expired or corrupt entries as a side effect.
func (m *Manager) Has(key string) bool {
	_, ok := m.getEntry(key)
	return ok
}

// Delete removes the entry for key and updates size tracking. Deleting an
// absent key is a no-op.
func (m *Manager) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(m.physical(key))
	m.reportSizeLocked()
}

// DeleteMany removes a batch of keys; one key's failure never aborts the
// rest of the batch.
func (m *Manager) DeleteMany(keys []string) {
	for _, key := range keys {
		m.Delete(key)
	}
}

// DeletePrefix removes every entry whose logical key starts with prefix.
// Facades use it to invalidate families of composite keys.
func (m *Manager) DeletePrefix(prefix string) {
	keys, err := m.store.Keys(m.physical(prefix))
	if err != nil {
		m.logger.Warn("cache delete prefix: scan failed", zap.String("prefix", prefix), zap.Error(err))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, phys := range keys {
		m.removeLocked(phys)
	}
	if m.hot != nil {
		m.hot.removePrefix(m.physical(prefix))
	}
	m.reportSizeLocked()
}

// Clear removes every entry under this namespace only and resets size
// tracking to zero.
func (m *Manager) Clear() {
	keys, err := m.store.Keys(m.prefix())
	if err != nil {
		m.logger.Warn("cache clear: scan failed", zap.Error(err))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, phys := range keys {
		if err := m.store.Delete(phys); err != nil {
			m.logger.Warn("cache clear: delete failed", zap.String("key", phys), zap.Error(err))
		}
	}
	m.sizes = make(map[string]int64)
	m.total = 0
	if m.hot != nil {
		m.hot.clear()
	}
	m.reportSizeLocked()
}

// ClearExpired scans the namespace and deletes entries past their TTL.
// Corrupt entries are treated as expired and deleted too.
func (m *Manager) ClearExpired() {
	now := time.Now()
	var doomed []string
	err := m.store.ForEachPrefix(m.prefix(), func(key string, value []byte) error {
		var entry types.Entry
		if err := json.Unmarshal(value, &entry); err != nil || entry.Expired(now) {
			doomed = append(doomed, key)
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("cache sweep: scan failed", zap.Error(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, phys := range doomed {
		m.removeLocked(phys)
	}
	m.reportSizeLocked()
}

// Stats returns a snapshot of cache statistics.
func (m *Manager) Stats() types.CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.Entries = len(m.sizes)
	stats.Size = m.total
	stats.Capacity = m.cfg.MaxSize
	stats.Utilization = float64(m.total) / float64(m.cfg.MaxSize)
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Size returns the tracked approximate byte size of the namespace.
func (m *Manager) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Close stops the background sweep. The shared store is closed by its owner.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.stopCh)
}

// Helper methods

// removeLocked deletes a physical key from the store, hot tier, and size
// tracking. Caller holds m.mu.
func (m *Manager) removeLocked(phys string) {
	if err := m.store.Delete(phys); err != nil {
		m.logger.Warn("cache delete: persist failed", zap.String("key", phys), zap.Error(err))
	}
	if size, ok := m.sizes[phys]; ok {
		m.total -= size
		delete(m.sizes, phys)
	}
	if m.hot != nil {
		m.hot.remove(phys)
	}
}

// evictLocked frees at least need bytes by deleting entries in ascending
// insertion-timestamp order. This is insertion-order eviction, not LRU:
// access does not refresh the timestamp. Caller holds m.mu. The entry
// being replaced (skip) is excluded; its size is accounted by the caller.
func (m *Manager) evictLocked(need int64, skip string) {
	type aged struct {
		phys      string
		timestamp int64
		size      int64
	}

	var entries []aged
	err := m.store.ForEachPrefix(m.prefix(), func(key string, value []byte) error {
		if key == skip {
			return nil
		}
		var entry types.Entry
		timestamp := int64(0) // corrupt entries evict first
		if jerr := json.Unmarshal(value, &entry); jerr == nil {
			timestamp = entry.Timestamp
		}
		entries = append(entries, aged{phys: key, timestamp: timestamp, size: int64(len(value))})
		return nil
	})
	if err != nil {
		m.logger.Warn("cache evict: scan failed", zap.Error(err))
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].timestamp < entries[j].timestamp
	})

	freed := int64(0)
	evicted := 0
	for _, e := range entries {
		if freed >= need {
			break
		}
		m.removeLocked(e.phys)
		freed += e.size
		evicted++
	}
	m.stats.Evictions += uint64(evicted)
	if evicted > 0 {
		m.logger.Debug("cache eviction",
			zap.Int("entries", evicted),
			zap.Int64("freed_bytes", freed))
		if m.metrics != nil {
			m.metrics.RecordCacheEviction(m.cfg.Namespace, evicted)
		}
	}
}

func (m *Manager) hitLocked() {
	m.stats.Hits++
	if m.metrics != nil {
		m.metrics.RecordCacheHit(m.cfg.Namespace)
	}
}

func (m *Manager) missLocked() {
	m.stats.Misses++
	if m.metrics != nil {
		m.metrics.RecordCacheMiss(m.cfg.Namespace)
	}
}

func (m *Manager) reportSizeLocked() {
	if m.metrics != nil {
		m.metrics.SetCacheSize(m.cfg.Namespace, m.total)
	}
}

func (m *Manager) sweepExpired() {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.ClearExpired()
		}
	}
}

// Generic accessors. Methods cannot take type parameters, so the typed
// surface lives in package-level functions over a *Manager; each call site
// binds its value type, replacing the source's untyped blob reads.

// Get returns the decoded value for key, or ok=false on any miss
// (absent, expired, corrupt, or undecodable as T).
func Get[T any](m *Manager, key string) (T, bool) {
	var zero T
	entry, ok := m.getEntry(key)
	if !ok {
		return zero, false
	}
	raw, ok := m.payload(entry)
	if !ok {
		m.Delete(key)
		return zero, false
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		m.Delete(key)
		return zero, false
	}
	return value, true
}

// GetMany returns the decoded values present and live for keys. Missing
// or failed items are simply absent from the result.
func GetMany[T any](m *Manager, keys []string) map[string]T {
	out := make(map[string]T, len(keys))
	for _, key := range keys {
		if value, ok := Get[T](m, key); ok {
			out[key] = value
		}
	}
	return out
}

// SetMany writes a batch of items; one item's failure never aborts the
// rest of the batch.
func (m *Manager) SetMany(items []Item) {
	for _, item := range items {
		m.Set(item.Key, item.Data, item.Opts)
	}
}

// GetOrSet returns the cached value if present and unexpired; otherwise it
// invokes fetcher exactly once, stores the result, and returns it.
// Concurrent callers may each invoke fetcher independently; no coalescing
// happens at this layer.
func GetOrSet[T any](ctx context.Context, m *Manager, key string, fetcher func(context.Context) (T, error), opts *Options) (T, error) {
	if value, ok := Get[T](m, key); ok {
		return value, nil
	}
	value, err := fetcher(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	m.Set(key, value, opts)
	return value, nil
}

// RefreshResult carries the outcome of a background refresh.
type RefreshResult[T any] struct {
	Value T
	Err   error
}

// GetOrRefresh implements stale-while-revalidate as a two-phase result:
// when a cached value exists it is returned immediately together with a
// channel that later delivers the refreshed value (or the refresh error).
// The channel is nil when there was no stale value and the fetch already
// happened synchronously. The stale value handed to the caller is never
// mutated by the refresh; the refresh only replaces the cache entry.
func GetOrRefresh[T any](ctx context.Context, m *Manager, key string, fetcher func(context.Context) (T, error), opts *Options) (T, <-chan RefreshResult[T], error) {
	if stale, ok := Get[T](m, key); ok {
		done := make(chan RefreshResult[T], 1)
		go func() {
			value, err := fetcher(ctx)
			if err == nil {
				m.Set(key, value, opts)
			}
			done <- RefreshResult[T]{Value: value, Err: err}
			close(done)
		}()
		return stale, done, nil
	}

	value, err := fetcher(ctx)
	if err != nil {
		var zero T
		return zero, nil, err
	}
	m.Set(key, value, opts)
	return value, nil, nil
}
