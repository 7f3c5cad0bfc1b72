package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatherly/syncstore/pkg/types"
)

// Collector implements metrics collection for the cache, queue,
// executor, and network components. It satisfies each component's
// recorder interface so wiring is a single SetMetrics call per
// component.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	cacheRequestCounter  *prometheus.CounterVec
	cacheEvictionCounter *prometheus.CounterVec
	cacheSizeGauge       *prometheus.GaugeVec
	queueDepthGauge      *prometheus.GaugeVec
	actionResultCounter  *prometheus.CounterVec
	operationCounter     *prometheus.CounterVec
	operationDuration    *prometheus.HistogramVec
	networkQualityGauge  prometheus.Gauge

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time

	// HTTP server for metrics endpoint
	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
	Namespace  string `yaml:"namespace"`
}

// OperationMetrics tracks aggregate counts for one executor outcome
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "syncstore",
		}
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "syncstore"
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Start exposes the metrics endpoint when a listen address is
// configured. With no address the collector only aggregates in memory.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled || c.config.ListenAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)

	c.server = &http.Server{
		Addr:              c.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop stops the metrics endpoint
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordCacheHit records a cache hit for a namespace
func (c *Collector) RecordCacheHit(namespace string) {
	if !c.config.Enabled {
		return
	}
	c.cacheRequestCounter.With(prometheus.Labels{
		"namespace": namespace,
		"result":    "hit",
	}).Inc()
}

// RecordCacheMiss records a cache miss for a namespace
func (c *Collector) RecordCacheMiss(namespace string) {
	if !c.config.Enabled {
		return
	}
	c.cacheRequestCounter.With(prometheus.Labels{
		"namespace": namespace,
		"result":    "miss",
	}).Inc()
}

// RecordCacheEviction records entries evicted from a namespace
func (c *Collector) RecordCacheEviction(namespace string, count int) {
	if !c.config.Enabled {
		return
	}
	c.cacheEvictionCounter.With(prometheus.Labels{
		"namespace": namespace,
	}).Add(float64(count))
}

// SetCacheSize updates the tracked byte size of a namespace
func (c *Collector) SetCacheSize(namespace string, bytes int64) {
	if !c.config.Enabled {
		return
	}
	c.cacheSizeGauge.With(prometheus.Labels{
		"namespace": namespace,
	}).Set(float64(bytes))
}

// SetQueueDepth updates the pending and failed action gauges
func (c *Collector) SetQueueDepth(pending, failed int) {
	if !c.config.Enabled {
		return
	}
	c.queueDepthGauge.With(prometheus.Labels{"status": "pending"}).Set(float64(pending))
	c.queueDepthGauge.With(prometheus.Labels{"status": "failed"}).Set(float64(failed))
}

// RecordActionResult records the outcome of one drained queue action
func (c *Collector) RecordActionResult(result string) {
	if !c.config.Enabled {
		return
	}
	c.actionResultCounter.With(prometheus.Labels{"result": result}).Inc()
}

// ObserveOperation records an executor operation outcome and duration
func (c *Collector) ObserveOperation(duration time.Duration, outcome string) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	if metrics, exists := c.operations[outcome]; exists {
		metrics.Count++
		metrics.TotalDuration += duration
		metrics.LastOperation = time.Now()
		metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
	} else {
		c.operations[outcome] = &OperationMetrics{
			Count:         1,
			TotalDuration: duration,
			LastOperation: time.Now(),
			AvgDuration:   duration,
		}
	}
	c.mu.Unlock()

	c.operationCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
	c.operationDuration.With(prometheus.Labels{"outcome": outcome}).Observe(duration.Seconds())
}

// SetNetworkQuality updates the connection tier gauge
func (c *Collector) SetNetworkQuality(quality types.ConnectionQuality) {
	if !c.config.Enabled {
		return
	}
	c.networkQualityGauge.Set(float64(tierOrdinal(quality)))
}

// tierOrdinal maps the quality tier to a stable numeric level so
// dashboards can graph tier transitions.
func tierOrdinal(quality types.ConnectionQuality) int {
	switch quality {
	case types.QualityExcellent:
		return 4
	case types.QualityGood:
		return 3
	case types.QualityFair:
		return 2
	case types.QualityPoor:
		return 1
	default:
		return 0
	}
}

// GetMetrics returns a snapshot of the executor aggregates
func (c *Collector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]*OperationMetrics)
	for k, v := range c.operations {
		clone := *v
		operations[k] = &clone
	}

	return map[string]interface{}{
		"operations": operations,
		"last_reset": c.lastReset,
		"uptime":     time.Since(c.lastReset),
	}
}

// ResetMetrics resets the in-memory aggregates
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) initMetrics() {
	c.cacheRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "cache_requests_total",
			Help:      "Total number of cache requests",
		},
		[]string{"namespace", "result"},
	)

	c.cacheEvictionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of cache entries evicted",
		},
		[]string{"namespace"},
	)

	c.cacheSizeGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Name:      "cache_size_bytes",
			Help:      "Current cache size in bytes",
		},
		[]string{"namespace"},
	)

	c.queueDepthGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Name:      "sync_queue_depth",
			Help:      "Number of queued sync actions by status",
		},
		[]string{"status"},
	)

	c.actionResultCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "sync_actions_total",
			Help:      "Total number of drained sync actions by result",
		},
		[]string{"result"},
	)

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "operations_total",
			Help:      "Total number of executor operations",
		},
		[]string{"outcome"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of executor operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"outcome"},
	)

	c.networkQualityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Name:      "network_quality_level",
			Help:      "Connection tier: 0=offline 1=poor 2=fair 3=good 4=excellent",
		},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.cacheRequestCounter,
		c.cacheEvictionCounter,
		c.cacheSizeGauge,
		c.queueDepthGauge,
		c.actionResultCounter,
		c.operationCounter,
		c.operationDuration,
		c.networkQualityGauge,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"syncstore-metrics"}`))
}
