/*
Package metrics provides Prometheus-based metrics collection for syncstore.

# Overview

The metrics package implements a single Collector that satisfies the
recorder interfaces of the cache, sync queue, and executor packages, plus
a network quality gauge fed from the observer. It maintains both
Prometheus metrics (for monitoring systems) and internal operation
aggregates (for debugging).

Architecture

	┌─────────────┐
	│  Collector  │  ← Main metrics aggregator
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼──────┐
	│  Prometheus  │         │  HTTP Endpoints │
	│   Registry   │         │  /metrics       │
	│              │         │  /health        │
	│ - Counters   │         └─────────────────┘
	│ - Histograms │
	│ - Gauges     │
	└──────────────┘

# Core Components

Collector: aggregates cache hit/miss/eviction counts and namespace
sizes, sync queue depth and drain results, executor operation outcomes
with duration histograms, and the current connection tier.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:    true,
		ListenAddr: ":9090",
		Path:       "/metrics",
		Namespace:  "syncstore",
	})
	if err != nil {
		log.Fatal(err)
	}

With an empty ListenAddr the collector aggregates without serving HTTP,
which suits embedded use inside a mobile app bridge.

# Exported Metrics

	syncstore_cache_requests_total{namespace, result}
	syncstore_cache_evictions_total{namespace}
	syncstore_cache_size_bytes{namespace}
	syncstore_sync_queue_depth{status}
	syncstore_sync_actions_total{result}
	syncstore_operations_total{outcome}
	syncstore_operation_duration_seconds{outcome}
	syncstore_network_quality_level
*/
package metrics
