// Package syncqueue durably queues mutations taken while offline and
// replays them once connectivity returns. The queue exists so a user can
// RSVP, post, or edit a profile with no link and have the change commit
// later; blocking the UI until the network returns is not an option.
package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatherly/syncstore/pkg/errors"
	"github.com/gatherly/syncstore/pkg/types"
)

const (
	defaultMaxRetries   = 3
	defaultCompletedTTL = 24 * time.Hour
	defaultStorageKey   = "syncqueue:offline-sync-queue"
)

// Config represents sync queue configuration.
type Config struct {
	// MaxRetries is the default retry budget for actions enqueued
	// without an explicit one.
	MaxRetries int `yaml:"max_retries"`
	// CompletedTTL bounds how long completed actions are kept before
	// each drain pass purges them.
	CompletedTTL time.Duration `yaml:"completed_ttl"`
	// StorageKey is the store key holding the serialized queue.
	StorageKey string `yaml:"storage_key"`
}

// MetricsRecorder receives queue observability events. A nil recorder
// disables reporting.
type MetricsRecorder interface {
	SetQueueDepth(pending, failed int)
	RecordActionResult(result string)
}

// Queue is the durable offline mutation queue. Actions move
// pending -> processing -> completed on success, back to pending with
// retryCount incremented on a retryable failure, or to failed once the
// retry budget is spent. Failed actions stay failed until
// RetryFailedActions resets them.
type Queue struct {
	mu        sync.Mutex
	store     types.Store
	cfg       Config
	handlers  map[types.ActionType]types.ActionHandler
	online    bool
	isSyncing bool
	metrics   MetricsRecorder
	logger    *zap.Logger
}

// New loads any persisted queue from the store. Actions found stuck in
// processing (a crash mid-drain) are reset to pending so they run again.
func New(store types.Store, cfg Config, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.CompletedTTL <= 0 {
		cfg.CompletedTTL = defaultCompletedTTL
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = defaultStorageKey
	}

	q := &Queue{
		store:    store,
		cfg:      cfg,
		handlers: make(map[types.ActionType]types.ActionHandler),
		logger:   logger.With(zap.String("component", "syncqueue")),
	}

	actions, err := q.load()
	if err != nil {
		return nil, err
	}
	changed := false
	for i := range actions {
		if actions[i].Status == types.StatusProcessing {
			actions[i].Status = types.StatusPending
			changed = true
		}
	}
	if changed {
		if err := q.persist(actions); err != nil {
			return nil, err
		}
	}

	return q, nil
}

// SetMetrics attaches an observability recorder. Call once during wiring.
func (q *Queue) SetMetrics(rec MetricsRecorder) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.metrics = rec
}

// RegisterHandler binds a handler to an action type. Actions whose type
// has no handler fail their drain attempt with a handler-missing error.
func (q *Queue) RegisterHandler(typ types.ActionType, h types.ActionHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[typ] = h
}

// load reads and decodes the persisted queue. An absent key is an empty
// queue; undecodable bytes are a corrupt queue, reported explicitly so
// the caller can decide to clear it.
func (q *Queue) load() ([]types.SyncAction, error) {
	raw, ok, err := q.store.Get(q.cfg.StorageKey)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStorageRead, "load sync queue", err).
			WithComponent("syncqueue")
	}
	if !ok {
		return nil, nil
	}
	var actions []types.SyncAction
	if err := json.Unmarshal(raw, &actions); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueueCorrupt, "decode sync queue", err).
			WithComponent("syncqueue")
	}
	return actions, nil
}

func (q *Queue) persist(actions []types.SyncAction) error {
	raw, err := json.Marshal(actions)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternalError, "encode sync queue", err).
			WithComponent("syncqueue")
	}
	if err := q.store.Set(q.cfg.StorageKey, raw); err != nil {
		return errors.Wrap(errors.ErrCodeStorageWrite, "persist sync queue", err).
			WithComponent("syncqueue")
	}
	q.reportDepthLocked(actions)
	return nil
}

func (q *Queue) reportDepthLocked(actions []types.SyncAction) {
	if q.metrics == nil {
		return
	}
	var pending, failed int
	for i := range actions {
		switch actions[i].Status {
		case types.StatusPending, types.StatusProcessing:
			pending++
		case types.StatusFailed:
			failed++
		}
	}
	q.metrics.SetQueueDepth(pending, failed)
}

// Enqueue appends a pending action and returns its id. When the device
// is online a drain is kicked off fire-and-forget; when offline the
// action simply waits for the next connectivity transition.
func (q *Queue) Enqueue(ctx context.Context, typ types.ActionType, table, recordID string, payload json.RawMessage, maxRetries int) (string, error) {
	if maxRetries <= 0 {
		maxRetries = q.cfg.MaxRetries
	}
	action := types.SyncAction{
		ID:         uuid.NewString(),
		Type:       typ,
		Table:      table,
		RecordID:   recordID,
		Payload:    payload,
		Timestamp:  time.Now().UnixMilli(),
		MaxRetries: maxRetries,
		Status:     types.StatusPending,
	}

	q.mu.Lock()
	actions, err := q.load()
	if err != nil {
		q.mu.Unlock()
		return "", err
	}
	actions = append(actions, action)
	if err := q.persist(actions); err != nil {
		q.mu.Unlock()
		return "", err
	}
	online := q.online
	q.mu.Unlock()

	q.logger.Debug("action enqueued",
		zap.String("id", action.ID),
		zap.String("type", string(typ)),
		zap.String("table", table))

	if online {
		go q.Drain(ctx)
	}
	return action.ID, nil
}

// HandleConnectivityChange records the new link state. An offline to
// online transition triggers a drain; no drain ever starts offline.
func (q *Queue) HandleConnectivityChange(ctx context.Context, online bool) {
	q.mu.Lock()
	wasOnline := q.online
	q.online = online
	q.mu.Unlock()

	if online && !wasOnline {
		q.logger.Info("connectivity restored, draining sync queue")
		go q.Drain(ctx)
	}
}

// Drain replays pending actions in enqueue order. At most one drain runs
// at a time; a second request while one is in flight is a no-op, and
// actions enqueued mid-drain wait for the next trigger. One action's
// failure never blocks later actions.
func (q *Queue) Drain(ctx context.Context) {
	q.mu.Lock()
	if q.isSyncing || !q.online {
		q.mu.Unlock()
		return
	}
	q.isSyncing = true
	actions, err := q.load()
	if err != nil {
		q.isSyncing = false
		q.mu.Unlock()
		q.logger.Error("drain aborted, queue unreadable", zap.Error(err))
		return
	}
	var pendingIDs []string
	for i := range actions {
		if actions[i].Status == types.StatusPending {
			pendingIDs = append(pendingIDs, actions[i].ID)
		}
	}
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.isSyncing = false
		q.mu.Unlock()
	}()

	for _, id := range pendingIDs {
		q.processOne(ctx, id)
	}
	q.gc()
}

// processOne runs a single action through the state machine. The handler
// executes outside the queue lock so a slow remote call never blocks
// enqueues or status reads.
func (q *Queue) processOne(ctx context.Context, id string) {
	q.mu.Lock()
	actions, err := q.load()
	if err != nil {
		q.mu.Unlock()
		q.logger.Error("queue unreadable during drain", zap.Error(err))
		return
	}
	idx := indexOf(actions, id)
	if idx < 0 || actions[idx].Status != types.StatusPending {
		q.mu.Unlock()
		return
	}
	actions[idx].Status = types.StatusProcessing
	if err := q.persist(actions); err != nil {
		q.mu.Unlock()
		q.logger.Error("persist processing state failed", zap.String("id", id), zap.Error(err))
		return
	}
	action := actions[idx]
	handler := q.handlers[action.Type]
	q.mu.Unlock()

	var handlerErr error
	if handler == nil {
		handlerErr = errors.NewError(errors.ErrCodeHandlerMissing,
			fmt.Sprintf("no handler registered for action type %q", action.Type)).
			WithComponent("syncqueue")
	} else {
		handlerErr = handler(ctx, &action)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	actions, err = q.load()
	if err != nil {
		q.logger.Error("queue unreadable after handler", zap.Error(err))
		return
	}
	idx = indexOf(actions, id)
	if idx < 0 {
		return // removed while processing
	}

	result := "completed"
	if handlerErr == nil {
		actions[idx].Status = types.StatusCompleted
		actions[idx].Error = ""
		actions[idx].CompletedAt = time.Now().UnixMilli()
	} else {
		actions[idx].Error = handlerErr.Error()
		// Retries already spent decide the transition: the action stays
		// retryable until it has failed with a full budget behind it.
		if actions[idx].RetryCount >= actions[idx].MaxRetries {
			actions[idx].Status = types.StatusFailed
			result = "failed"
			q.logger.Warn("action failed permanently",
				zap.String("id", id),
				zap.String("type", string(action.Type)),
				zap.Int("retries", actions[idx].RetryCount),
				zap.Error(handlerErr))
		} else {
			actions[idx].RetryCount++
			actions[idx].Status = types.StatusPending
			result = "retried"
			q.logger.Debug("action will retry",
				zap.String("id", id),
				zap.Int("retry_count", actions[idx].RetryCount),
				zap.Error(handlerErr))
		}
	}

	if err := q.persist(actions); err != nil {
		q.logger.Error("persist action result failed", zap.String("id", id), zap.Error(err))
		return
	}
	if q.metrics != nil {
		q.metrics.RecordActionResult(result)
	}
}

// gc purges completed actions older than the completed TTL.
func (q *Queue) gc() {
	q.mu.Lock()
	defer q.mu.Unlock()
	actions, err := q.load()
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-q.cfg.CompletedTTL).UnixMilli()
	kept := actions[:0]
	for i := range actions {
		if actions[i].Status == types.StatusCompleted && actions[i].CompletedAt < cutoff {
			continue
		}
		kept = append(kept, actions[i])
	}
	if len(kept) != len(actions) {
		if err := q.persist(kept); err != nil {
			q.logger.Warn("queue gc persist failed", zap.Error(err))
		}
	}
}

func indexOf(actions []types.SyncAction, id string) int {
	for i := range actions {
		if actions[i].ID == id {
			return i
		}
	}
	return -1
}

// GetActionStatus returns a copy of the action with the given id.
func (q *Queue) GetActionStatus(id string) (*types.SyncAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	actions, err := q.load()
	if err != nil {
		return nil, err
	}
	idx := indexOf(actions, id)
	if idx < 0 {
		return nil, errors.NewError(errors.ErrCodeActionNotFound, "action not found").
			WithComponent("syncqueue").WithContext("id", id)
	}
	action := actions[idx]
	return &action, nil
}

// RemoveAction deletes the action regardless of its status. Removing an
// unknown id is not an error.
func (q *Queue) RemoveAction(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	actions, err := q.load()
	if err != nil {
		return err
	}
	idx := indexOf(actions, id)
	if idx < 0 {
		return nil
	}
	actions = append(actions[:idx], actions[idx+1:]...)
	return q.persist(actions)
}

// RetryFailedActions moves every failed action back to pending with its
// retry count reset, then drains if online. It returns how many actions
// were reset.
func (q *Queue) RetryFailedActions(ctx context.Context) (int, error) {
	q.mu.Lock()
	actions, err := q.load()
	if err != nil {
		q.mu.Unlock()
		return 0, err
	}
	reset := 0
	for i := range actions {
		if actions[i].Status == types.StatusFailed {
			actions[i].Status = types.StatusPending
			actions[i].RetryCount = 0
			actions[i].Error = ""
			reset++
		}
	}
	if reset > 0 {
		if err := q.persist(actions); err != nil {
			q.mu.Unlock()
			return 0, err
		}
	}
	online := q.online
	q.mu.Unlock()

	if reset > 0 && online {
		go q.Drain(ctx)
	}
	return reset, nil
}

// ClearQueue drops every action, whatever its status.
func (q *Queue) ClearQueue() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.persist(nil)
}

// Pending returns copies of the actions still waiting to sync, in
// enqueue order. The UI uses this for "N changes pending" badges.
func (q *Queue) Pending() []types.SyncAction {
	return q.byStatus(types.StatusPending, types.StatusProcessing)
}

// Failed returns copies of the terminally failed actions.
func (q *Queue) Failed() []types.SyncAction {
	return q.byStatus(types.StatusFailed)
}

func (q *Queue) byStatus(statuses ...types.ActionStatus) []types.SyncAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	actions, err := q.load()
	if err != nil {
		return nil
	}
	var out []types.SyncAction
	for i := range actions {
		for _, s := range statuses {
			if actions[i].Status == s {
				out = append(out, actions[i])
				break
			}
		}
	}
	return out
}
