package types

import (
	"encoding/json"
	"time"
)

// Entry is the serialized envelope stored for every cached value.
// Timestamp is immutable once written and identifies insertion order
// for eviction. An entry whose ExpiresAt has passed is logically
// absent and is deleted on the next read.
type Entry struct {
	Data       json.RawMessage `json:"data,omitempty"`
	Compressed []byte          `json:"cdata,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	ExpiresAt  int64           `json:"expires_at,omitempty"`
	Size       int64           `json:"size,omitempty"`
}

// Expired reports whether the entry is past its TTL at the given time.
// Entries with no ExpiresAt never expire.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt > 0 && now.UnixMilli() > e.ExpiresAt
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Entries     int     `json:"entries"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// ActionType identifies the kind of remote mutation a queued action performs.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
	// ActionRead is used by read-through facades when describing remote
	// fetches; it is never enqueued for offline replay.
	ActionRead ActionType = "read"
)

// ActionStatus is the lifecycle state of a queued action. Transitions are
// pending -> processing -> {completed | pending (retry) | failed}; failed is
// terminal until an explicit retry reset moves it back to pending.
type ActionStatus string

const (
	StatusPending    ActionStatus = "pending"
	StatusProcessing ActionStatus = "processing"
	StatusCompleted  ActionStatus = "completed"
	StatusFailed     ActionStatus = "failed"
)

// SyncAction is a durable record of a mutation taken while offline,
// replayed against the remote service when connectivity returns.
type SyncAction struct {
	ID          string          `json:"id"`
	Type        ActionType      `json:"type"`
	Table       string          `json:"table"`
	RecordID    string          `json:"record_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   int64           `json:"timestamp"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	Status      ActionStatus    `json:"status"`
	Error       string          `json:"error,omitempty"`
	CompletedAt int64           `json:"completed_at,omitempty"`
}

// RemoteOp describes one operation against the remote service. The library
// is protocol-agnostic: the op is handed to a caller-supplied RemoteFunc.
type RemoteOp struct {
	Type    ActionType      `json:"type"`
	Table   string          `json:"table"`
	ID      string          `json:"id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Filters map[string]any  `json:"filters,omitempty"`
}

// ImageEntry is the metadata record for one image persisted on disk.
// The LocalPath file must exist whenever the metadata exists; a missing
// file is treated as a miss and the stale metadata is deleted.
type ImageEntry struct {
	URI       string `json:"uri"`
	LocalPath string `json:"local_path"`
	Size      int64  `json:"size"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ConnectionQuality is a coarse ordinal classification of the current link.
type ConnectionQuality string

const (
	QualityExcellent ConnectionQuality = "excellent"
	QualityGood      ConnectionQuality = "good"
	QualityFair      ConnectionQuality = "fair"
	QualityPoor      ConnectionQuality = "poor"
	QualityOffline   ConnectionQuality = "offline"
)

// NetworkMetrics holds the sampled link measurements the tier
// classification is computed from.
type NetworkMetrics struct {
	LatencyMS     float64 `json:"latency_ms"`
	BandwidthKBps float64 `json:"bandwidth_kbps"`
	PacketLossPct float64 `json:"packet_loss_pct"`
	JitterMS      float64 `json:"jitter_ms"`
}

// NetworkQuality is the observer-owned snapshot of connectivity state.
// It is mutated exclusively by the observer and read by everyone else.
type NetworkQuality struct {
	IsConnected         bool              `json:"is_connected"`
	ConnectionQuality   ConnectionQuality `json:"connection_quality"`
	NetworkType         string            `json:"network_type"`
	IsInternetReachable bool              `json:"is_internet_reachable"`
	Metrics             NetworkMetrics    `json:"metrics"`
	LastChecked         time.Time         `json:"last_checked"`
}

// Profile is a cached user profile record.
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Bio       string `json:"bio,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

// Event is a cached event record.
type Event struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	HostID      string  `json:"host_id,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	StartsAt    int64   `json:"starts_at,omitempty"`
	EndsAt      int64   `json:"ends_at,omitempty"`
	CoverURL    string  `json:"cover_url,omitempty"`
	Attendees   int     `json:"attendees,omitempty"`
	UpdatedAt   int64   `json:"updated_at,omitempty"`
}
