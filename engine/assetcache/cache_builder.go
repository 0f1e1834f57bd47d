package assetcache

import (
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

type CacheBuilderOption func(*assetCache)

// WithMaxSizeBytes sets the resident byte budget. Values of 0 are ignored.
//
// Parameters:
//   - maxSizeBytes: the budget in bytes
//
// Returns:
//   - CacheBuilderOption: the option function
func WithMaxSizeBytes(maxSizeBytes uint64) CacheBuilderOption {
	return func(c *assetCache) {
		if maxSizeBytes > 0 {
			c.maxSizeBytes = maxSizeBytes
		}
	}
}

// WithMaxEntries caps the number of cached assets. Values <= 0 are ignored.
//
// Parameters:
//   - maxEntries: the entry count cap
//
// Returns:
//   - CacheBuilderOption: the option function
func WithMaxEntries(maxEntries int) CacheBuilderOption {
	return func(c *assetCache) {
		if maxEntries > 0 {
			c.maxEntries = maxEntries
		}
	}
}

// WithMaxAge sets how long an unreferenced entry may go unaccessed before a
// cleanup pass may evict it.
//
// Parameters:
//   - maxAge: the idle age threshold
//
// Returns:
//   - CacheBuilderOption: the option function
func WithMaxAge(maxAge time.Duration) CacheBuilderOption {
	return func(c *assetCache) {
		if maxAge > 0 {
			c.maxAge = maxAge
		}
	}
}

// WithCleanupInterval sets the background cleanup period.
//
// Parameters:
//   - interval: time between non-forced cleanup passes
//
// Returns:
//   - CacheBuilderOption: the option function
func WithCleanupInterval(interval time.Duration) CacheBuilderOption {
	return func(c *assetCache) {
		if interval > 0 {
			c.cleanupInterval = interval
		}
	}
}

// WithLoadPool supplies a shared worker pool for asynchronous loads instead
// of the cache creating its own.
//
// Parameters:
//   - pool: the worker pool
//
// Returns:
//   - CacheBuilderOption: the option function
func WithLoadPool(pool worker.DynamicWorkerPool) CacheBuilderOption {
	return func(c *assetCache) {
		if pool != nil {
			c.loadPool = pool
		}
	}
}

// WithCacheClock overrides the time source, used by tests to drive age-based
// eviction deterministically.
//
// Parameters:
//   - now: the clock function
//
// Returns:
//   - CacheBuilderOption: the option function
func WithCacheClock(now func() time.Time) CacheBuilderOption {
	return func(c *assetCache) {
		if now != nil {
			c.now = now
		}
	}
}
