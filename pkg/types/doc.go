/*
Package types provides the core interfaces and data structures shared across
the syncstore library.

This package serves as the foundation for the rest of the module, defining the
contracts between components so that higher-level packages can depend on it
without depending on each other.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│          Client Registry (pkg/client)       │
	└─────────────────────────────────────────────┘
	      │          │          │          │
	┌─────┴────┐ ┌───┴────┐ ┌───┴─────┐ ┌──┴──────┐
	│  Caches  │ │ Image  │ │  Sync   │ │Adaptive │
	│ (facades)│ │  Disk  │ │  Queue  │ │Executor │
	└─────┬────┘ └───┬────┘ └───┬─────┘ └──┬──────┘
	      │          │          │          │
	┌─────┴──────────┴──────────┴───┐ ┌────┴──────┐
	│      Store (internal/store)   │ │ Observer  │
	└───────────────────────────────┘ └───────────┘

# Core Interfaces

Store:
The durable key/value substrate. All namespaced caches and the offline sync
queue share one Store; isolation comes from key-prefix partitioning.

RemoteFunc:
The single abstraction of the hosted backend. The library never models the
remote schema; it only requires "can be invoked with an operation description
and returns data or fails".

QualitySource:
Read-only access to the network observer's connectivity snapshot, consumed by
the adaptive executor and the sync queue.

# Data Structures

Entry is the JSON envelope written for every cached value, carrying the
insertion timestamp (which drives oldest-first eviction) and the optional
expiry. SyncAction is the durable record of an offline mutation and its retry
state machine. NetworkQuality and NetworkMetrics describe the sampled link
state and the coarse quality tier derived from it.
*/
package types
