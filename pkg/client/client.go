// Package client assembles the syncstore components into one object an
// application embeds: the durable store, the four domain caches, the
// image disk cache, the offline sync queue, the network observer, and
// the adaptive executor, all sharing one configuration and logger.
package client

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gatherly/syncstore/internal/cache"
	"github.com/gatherly/syncstore/internal/config"
	"github.com/gatherly/syncstore/internal/executor"
	"github.com/gatherly/syncstore/internal/imagecache"
	"github.com/gatherly/syncstore/internal/metrics"
	"github.com/gatherly/syncstore/internal/network"
	"github.com/gatherly/syncstore/internal/store"
	"github.com/gatherly/syncstore/internal/syncqueue"
	"github.com/gatherly/syncstore/pkg/errors"
	"github.com/gatherly/syncstore/pkg/types"
)

// Client is the assembled syncstore runtime.
type Client struct {
	cfg    *config.Configuration
	logger *zap.Logger
	store  types.Store

	users     *cache.UserCache
	events    *cache.EventCache
	general   *cache.Manager
	imageMeta *cache.Manager
	images    *imagecache.DiskCache
	queue     *syncqueue.Queue

	observer *network.Observer
	executor *executor.Executor
	metrics  *metrics.Collector

	remote types.RemoteFunc
}

// New wires every component from the configuration. The remote function
// is the single seam to the hosted backend: facades read through it and
// queued offline mutations replay against it.
func New(cfg *config.Configuration, remote types.RemoteFunc, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "validate configuration", err)
	}
	if logger == nil {
		var err error
		logger, err = buildLogger(cfg.Global)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "build logger", err)
		}
	}

	c := &Client{cfg: cfg, logger: logger, remote: remote}

	s, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		OpenTimeout: cfg.Storage.OpenTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	c.store = s

	userMgr, err := c.newManager(cache.UserConfig(), cfg.Caches.User)
	if err != nil {
		return nil, c.closeAfter(err)
	}
	eventMgr, err := c.newManager(cache.EventConfig(), cfg.Caches.Event)
	if err != nil {
		return nil, c.closeAfter(err)
	}
	imageMgr, err := c.newManager(cache.ImageConfig(), cfg.Caches.Image)
	if err != nil {
		return nil, c.closeAfter(err)
	}
	c.imageMeta = imageMgr
	c.general, err = c.newManager(cache.GeneralConfig(), cfg.Caches.General)
	if err != nil {
		return nil, c.closeAfter(err)
	}

	c.users = cache.NewUserCache(userMgr, remote, logger)
	c.events = cache.NewEventCache(eventMgr, remote, logger)

	imageQuota, _ := config.ParseSize(cfg.Images.MaxUsage)
	c.images, err = imagecache.New(imageMgr, imagecache.Config{
		Dir:                cfg.Images.Directory,
		MaxUsage:           imageQuota,
		DownloadTimeout:    cfg.Images.DownloadTimeout,
		MaxDownloadRetries: uint64(cfg.Images.MaxDownloadRetries),
	}, logger)
	if err != nil {
		return nil, c.closeAfter(err)
	}

	c.queue, err = syncqueue.New(s, syncqueue.Config{
		MaxRetries:   cfg.Queue.MaxRetries,
		CompletedTTL: cfg.Queue.CompletedTTL,
	}, logger)
	if err != nil {
		return nil, c.closeAfter(err)
	}
	c.registerQueueHandlers()

	c.observer = network.NewObserver(network.Config{
		ProbeURL:      cfg.Network.ProbeURL,
		ProbeSamples:  cfg.Network.ProbeSamples,
		ProbeTimeout:  cfg.Network.ProbeTimeout,
		ProbeInterval: cfg.Network.ProbeInterval,
	}, logger)

	c.executor = executor.New(executor.Config{
		BaseTimeout:      cfg.Executor.BaseTimeout,
		MaxTimeout:       cfg.Executor.MaxTimeout,
		MaxAttempts:      cfg.Executor.MaxAttempts,
		InitialDelay:     cfg.Executor.InitialDelay,
		MaxDelay:         cfg.Executor.MaxDelay,
		Multiplier:       cfg.Executor.Multiplier,
		Jitter:           cfg.Executor.Jitter,
		BreakerThreshold: uint32(cfg.Executor.BreakerThreshold),
		BreakerCooldown:  cfg.Executor.BreakerCooldown,
	}, c.observer, logger)

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:    cfg.Monitoring.Metrics.Enabled,
		ListenAddr: cfg.Monitoring.Metrics.ListenAddr,
	})
	if err != nil {
		return nil, c.closeAfter(err)
	}
	c.metrics = collector
	for _, m := range []*cache.Manager{userMgr, eventMgr, imageMgr, c.general} {
		m.SetMetrics(collector)
	}
	c.queue.SetMetrics(collector)
	c.executor.SetMetrics(collector)

	// Connectivity events fan out: the queue drains on restore, the
	// metrics gauge tracks the tier.
	c.observer.Subscribe(func(state types.NetworkQuality) {
		c.queue.HandleConnectivityChange(context.Background(), state.IsConnected)
		collector.SetNetworkQuality(state.ConnectionQuality)
	})

	return c, nil
}

// newManager builds a namespace manager from the facade's base policy
// overlaid with the configured one.
func (c *Client) newManager(base cache.Config, policy config.CachePolicy) (*cache.Manager, error) {
	if policy.TTL > 0 {
		base.DefaultTTL = policy.TTL
	}
	if policy.MaxSize != "" {
		size, err := config.ParseSize(policy.MaxSize)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "parse cache size", err)
		}
		base.MaxSize = size
	}
	if policy.Compress {
		base.Compress = true
	}
	if policy.SweepInterval > 0 {
		base.SweepInterval = policy.SweepInterval
	}
	if policy.HotTier {
		base.HotTier.Enabled = true
	}
	return cache.NewManager(c.store, base, c.logger)
}

// registerQueueHandlers binds the default create/update/delete replay
// handlers: each forwards the recorded mutation to the remote and, on
// success, invalidates the caches the mutation made stale.
func (c *Client) registerQueueHandlers() {
	replay := func(ctx context.Context, action *types.SyncAction) error {
		_, err := c.remote(ctx, types.RemoteOp{
			Type:  action.Type,
			Table: action.Table,
			ID:    action.RecordID,
			Data:  action.Payload,
		})
		if err != nil {
			return err
		}
		c.invalidateAfterReplay(action)
		return nil
	}
	c.queue.RegisterHandler(types.ActionCreate, replay)
	c.queue.RegisterHandler(types.ActionUpdate, replay)
	c.queue.RegisterHandler(types.ActionDelete, replay)
}

func (c *Client) invalidateAfterReplay(action *types.SyncAction) {
	switch action.Table {
	case "profiles":
		if action.RecordID != "" {
			c.users.InvalidateProfile(action.RecordID)
		}
	case "events":
		c.events.Invalidate(action.RecordID)
	}
}

// Start brings up the background pieces: the probe loop and, when
// configured, the metrics endpoint.
func (c *Client) Start(ctx context.Context) error {
	if err := c.metrics.Start(ctx); err != nil {
		return err
	}
	c.observer.Start(ctx)
	return nil
}

// EnqueueMutation records an offline mutation for replay. It is the
// entry point UI code calls when a write fails because the device is
// offline.
func (c *Client) EnqueueMutation(ctx context.Context, typ types.ActionType, table, recordID string, payload json.RawMessage) (string, error) {
	return c.queue.Enqueue(ctx, typ, table, recordID, payload, 0)
}

// Users returns the user profile cache facade.
func (c *Client) Users() *cache.UserCache { return c.users }

// Events returns the event cache facade.
func (c *Client) Events() *cache.EventCache { return c.events }

// General returns the general-purpose cache namespace.
func (c *Client) General() *cache.Manager { return c.general }

// Images returns the image disk cache.
func (c *Client) Images() *imagecache.DiskCache { return c.images }

// Queue returns the offline sync queue.
func (c *Client) Queue() *syncqueue.Queue { return c.queue }

// Network returns the connectivity observer.
func (c *Client) Network() *network.Observer { return c.observer }

// Executor returns the adaptive request executor.
func (c *Client) Executor() *executor.Executor { return c.executor }

// Metrics returns the metrics collector.
func (c *Client) Metrics() *metrics.Collector { return c.metrics }

// closeAfter tears down whatever was already built and passes err through.
func (c *Client) closeAfter(err error) error {
	_ = c.Close()
	return err
}

// Close shuts down background loops and releases the store. Safe to
// call on a partially constructed client.
func (c *Client) Close() error {
	if c.observer != nil {
		c.observer.Close()
	}
	if c.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.metrics.Stop(ctx)
	}
	if c.users != nil {
		c.users.Cache().Close()
	}
	if c.events != nil {
		c.events.Cache().Close()
	}
	if c.imageMeta != nil {
		c.imageMeta.Close()
	}
	if c.general != nil {
		c.general.Close()
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// buildLogger constructs a zap logger honoring the configured level and
// optional file destination.
func buildLogger(cfg config.GlobalConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.LogLevel); err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if cfg.LogFile != "" {
		zcfg.OutputPaths = []string{cfg.LogFile}
	}
	return zcfg.Build()
}
