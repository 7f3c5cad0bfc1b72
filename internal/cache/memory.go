package cache

import (
	"container/list"
	"strings"

	"github.com/gatherly/syncstore/pkg/types"
)

// HotTierConfig configures the optional in-memory tier kept in front of
// the durable store. It is purely an accelerator: the durable tier stays
// authoritative for size accounting and eviction policy.
type HotTierConfig struct {
	Enabled    bool  `yaml:"enabled"`
	MaxSize    int64 `yaml:"max_size"`
	MaxEntries int   `yaml:"max_entries"`
}

// hotTier is a small LRU over decoded entry envelopes, keyed by physical
// key. It is not safe for concurrent use on its own; the owning Manager
// serializes access under its mutex.
type hotTier struct {
	maxSize    int64
	maxEntries int
	size       int64
	items      map[string]*hotItem
	order      *list.List // front = most recently used
}

type hotItem struct {
	key     string
	entry   *types.Entry
	size    int64
	element *list.Element
}

func newHotTier(cfg HotTierConfig) *hotTier {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 4 * 1024 * 1024 // 4MB
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	return &hotTier{
		maxSize:    cfg.MaxSize,
		maxEntries: cfg.MaxEntries,
		items:      make(map[string]*hotItem),
		order:      list.New(),
	}
}

func (h *hotTier) get(key string) *types.Entry {
	item, ok := h.items[key]
	if !ok {
		return nil
	}
	h.order.MoveToFront(item.element)
	return item.entry
}

func (h *hotTier) put(key string, entry *types.Entry, size int64) {
	if item, ok := h.items[key]; ok {
		h.size += size - item.size
		item.entry = entry
		item.size = size
		h.order.MoveToFront(item.element)
	} else {
		item := &hotItem{key: key, entry: entry, size: size}
		item.element = h.order.PushFront(item)
		h.items[key] = item
		h.size += size
	}
	h.evictIfNeeded()
}

func (h *hotTier) remove(key string) {
	item, ok := h.items[key]
	if !ok {
		return
	}
	h.order.Remove(item.element)
	delete(h.items, key)
	h.size -= item.size
}

func (h *hotTier) removePrefix(prefix string) {
	for key := range h.items {
		if strings.HasPrefix(key, prefix) {
			h.remove(key)
		}
	}
}

func (h *hotTier) clear() {
	h.items = make(map[string]*hotItem)
	h.order.Init()
	h.size = 0
}

func (h *hotTier) evictIfNeeded() {
	for (h.size > h.maxSize || len(h.items) > h.maxEntries) && h.order.Len() > 0 {
		back := h.order.Back()
		if back == nil {
			return
		}
		h.remove(back.Value.(*hotItem).key)
	}
}
