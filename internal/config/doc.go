/*
Package config provides configuration management for syncstore with multi-source support.

This package implements a hierarchical configuration system that supports YAML files,
environment variables, and compiled-in defaults. It provides validation and type safety
for all syncstore components.

# Configuration Architecture

Multi-source configuration hierarchy with precedence:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (SYNCSTORE_*)                     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration Files                 │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (Compiled-in defaults)               │
	└─────────────────────────────────────────────┘

# Configuration Structure

Global Settings:
- Logging configuration (level, file)

Storage Settings:
- Durable store path and open timeout

Cache Policies:
- Per-domain TTL, size budget, compression, and sweep interval
  for the user, event, image, and general namespaces

Image Settings:
- Disk directory, byte quota, download timeout and retry budget

Queue Settings:
- Retry budget and completed-action retention

Network Settings:
- Probe endpoint, sample count, timeout, and background interval

Executor Settings:
- Baseline and maximum timeouts, attempt budget, backoff shape,
  and circuit breaker thresholds

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("syncstore.yaml"); err != nil {
		// file is optional; defaults apply
	}
	_ = cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Size fields accept human-readable strings ("10MB", "1.5GB") parsed by
ParseSize.
*/
package config
