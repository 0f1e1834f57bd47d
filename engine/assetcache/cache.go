// package assetcache bounds the resident size of heavyweight assets (model
// geometry, animation clips) under a byte budget, independent of frame
// timing. Entries are reference counted; eviction prefers low-priority and
// least-recently-used entries. The cache is an explicitly constructed,
// dependency-injected object with its own lifecycle, not process-global
// state.
package assetcache

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

// CacheStats is a diagnostic snapshot of cache occupancy and hit behavior.
type CacheStats struct {
	Entries      int
	SizeBytes    uint64
	MaxSizeBytes uint64
	Hits         uint64
	Misses       uint64
	HitRate      float32
	Pressure     float32 // resident size / budget
	Evictions    uint64
}

// Cache stores models and animation clips under a byte budget.
type Cache interface {
	// CacheModel stores a model asset under a key with reference count 1 and
	// immediately enforces memory limits. Re-caching an existing key
	// replaces the stored asset.
	//
	// Parameters:
	//   - key: the asset identity
	//   - asset: the model payload (nil is declined)
	//   - priority: eviction priority; lower priorities are evicted first
	//
	// Returns:
	//   - bool: true if the asset was stored
	CacheModel(key string, asset *ModelAsset, priority Priority) bool

	// CacheClip stores an animation clip, with the same contract as
	// CacheModel.
	//
	// Parameters:
	//   - key: the asset identity
	//   - asset: the clip payload (nil is declined)
	//   - priority: eviction priority
	//
	// Returns:
	//   - bool: true if the asset was stored
	CacheClip(key string, asset *ClipAsset, priority Priority) bool

	// GetCachedModel looks up a model. A hit refreshes the entry's last
	// access time and increments the hit counter; a miss increments the miss
	// counter.
	//
	// Parameters:
	//   - key: the asset identity
	//
	// Returns:
	//   - *ModelAsset: the cached asset, or nil
	//   - bool: false on miss
	GetCachedModel(key string) (*ModelAsset, bool)

	// GetCachedClip looks up an animation clip, with the same contract as
	// GetCachedModel.
	//
	// Parameters:
	//   - key: the asset identity
	//
	// Returns:
	//   - *ClipAsset: the cached clip, or nil
	//   - bool: false on miss
	GetCachedClip(key string) (*ClipAsset, bool)

	// GetOrLoadModel returns the cached model or runs the load function on
	// the cache's worker pool. Concurrent requests for the same key share
	// one underlying load; the result is written into the cache exactly
	// once. A failed load is recorded on the entry and returned to later
	// callers without retrying.
	//
	// Parameters:
	//   - key: the asset identity
	//   - load: produces the asset; runs at most once per key
	//
	// Returns:
	//   - *ModelAsset: the loaded or cached asset
	//   - error: error if the load failed (now or on a previous attempt)
	GetOrLoadModel(key string, load func() (*ModelAsset, error)) (*ModelAsset, error)

	// GetOrLoadClip is GetOrLoadModel for animation clips.
	//
	// Parameters:
	//   - key: the asset identity
	//   - load: produces the clip; runs at most once per key
	//
	// Returns:
	//   - *ClipAsset: the loaded or cached clip
	//   - error: error if the load failed (now or on a previous attempt)
	GetOrLoadClip(key string, load func() (*ClipAsset, error)) (*ClipAsset, error)

	// AddReference increments an entry's reference count, pinning it against
	// non-forced eviction.
	//
	// Parameters:
	//   - key: the asset identity
	//
	// Returns:
	//   - bool: false if the key is not cached
	AddReference(key string) bool

	// RemoveReference decrements an entry's reference count, to a floor of
	// zero. It never triggers eviction directly.
	//
	// Parameters:
	//   - key: the asset identity
	//
	// Returns:
	//   - bool: false if the key is not cached
	RemoveReference(key string) bool

	// PerformCleanup runs one eviction pass. Non-forced passes evict stale
	// unreferenced, invalid, and failed entries, stopping early once enough
	// of the over-budget size has been freed. Forced passes evict
	// everything.
	//
	// Parameters:
	//   - force: evict all entries regardless of age and references
	//
	// Returns:
	//   - uint64: bytes freed
	PerformCleanup(force bool) uint64

	// EnforceMemoryLimits evicts until resident size and entry count are
	// within configured limits, preferring stale entries, then unreferenced
	// entries in ascending (priority, last access) order. Runs synchronously
	// after every insertion.
	EnforceMemoryLimits()

	// Stats returns counters and occupancy.
	//
	// Returns:
	//   - CacheStats: the snapshot
	Stats() CacheStats

	// Dispose stops the background cleanup timer and drops all entries.
	Dispose()
}

type cacheEntry struct {
	key          string
	model        *ModelAsset
	clip         *ClipAsset
	sizeBytes    uint64
	loadedAt     time.Time
	lastAccessed time.Time
	refCount     int
	priority     Priority
	valid        bool
	loadErr      error
}

type inflightLoad struct {
	done  chan struct{}
	model *ModelAsset
	clip  *ClipAsset
	err   error
}

type assetCache struct {
	mu *sync.Mutex

	entries   map[string]*cacheEntry
	sizeBytes uint64

	maxSizeBytes      uint64
	maxEntries        int
	maxAge            time.Duration
	pressureThreshold float32

	hits      uint64
	misses    uint64
	evictions uint64

	inflight   map[string]*inflightLoad
	loadPool   worker.DynamicWorkerPool
	nextTaskID int

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	disposed        bool

	now func() time.Time
}

var _ Cache = &assetCache{}

const (
	defaultMaxSizeBytes      = 256 << 20
	defaultMaxEntries        = 512
	defaultMaxAge            = 5 * time.Minute
	defaultPressureThreshold = 0.9
	defaultCleanupInterval   = 30 * time.Second
	defaultLoadWorkers       = 4
)

// NewCache creates a cache with the default budget and starts its background
// cleanup timer.
//
// Parameters:
//   - options: functional options to further configure the cache
//
// Returns:
//   - Cache: the newly created cache
func NewCache(options ...CacheBuilderOption) Cache {
	c := &assetCache{
		mu:                &sync.Mutex{},
		entries:           make(map[string]*cacheEntry),
		maxSizeBytes:      defaultMaxSizeBytes,
		maxEntries:        defaultMaxEntries,
		maxAge:            defaultMaxAge,
		pressureThreshold: defaultPressureThreshold,
		inflight:          make(map[string]*inflightLoad),
		cleanupInterval:   defaultCleanupInterval,
		stopCleanup:       make(chan struct{}),
		now:               time.Now,
	}
	for _, option := range options {
		option(c)
	}
	if c.loadPool == nil {
		c.loadPool = worker.NewDynamicWorkerPool(defaultLoadWorkers, 256, 1*time.Second)
	}
	go c.cleanupLoop()
	return c
}

func (c *assetCache) CacheModel(key string, asset *ModelAsset, priority Priority) bool {
	if key == "" || asset == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(&cacheEntry{
		key:       key,
		model:     asset,
		sizeBytes: asset.SizeBytes(),
		priority:  priority,
	})
	return true
}

func (c *assetCache) CacheClip(key string, asset *ClipAsset, priority Priority) bool {
	if key == "" || asset == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(&cacheEntry{
		key:       key,
		clip:      asset,
		sizeBytes: asset.SizeBytes(),
		priority:  priority,
	})
	return true
}

func (c *assetCache) GetCachedModel(key string) (*ModelAsset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.valid || e.model == nil {
		c.misses++
		return nil, false
	}
	c.hits++
	e.lastAccessed = c.now()
	return e.model, true
}

func (c *assetCache) GetCachedClip(key string) (*ClipAsset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.valid || e.clip == nil {
		c.misses++
		return nil, false
	}
	c.hits++
	e.lastAccessed = c.now()
	return e.clip, true
}

func (c *assetCache) GetOrLoadModel(key string, load func() (*ModelAsset, error)) (*ModelAsset, error) {
	fl, owned := c.lookupOrRegister(key, true)
	if owned {
		c.submitLoad(func() {
			asset, err := load()
			c.resolveModelLoad(key, fl, asset, err)
		})
	}
	<-fl.done
	return fl.model, fl.err
}

func (c *assetCache) GetOrLoadClip(key string, load func() (*ClipAsset, error)) (*ClipAsset, error) {
	fl, owned := c.lookupOrRegister(key, false)
	if owned {
		c.submitLoad(func() {
			asset, err := load()
			c.resolveClipLoad(key, fl, asset, err)
		})
	}
	<-fl.done
	return fl.clip, fl.err
}

func (c *assetCache) AddReference(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	e.refCount++
	return true
}

func (c *assetCache) RemoveReference(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if e.refCount > 0 {
		e.refCount--
	}
	return true
}

func (c *assetCache) PerformCleanup(force bool) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanupLocked(force)
}

func (c *assetCache) EnforceMemoryLimits() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enforceLocked()
}

func (c *assetCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Entries:      len(c.entries),
		SizeBytes:    c.sizeBytes,
		MaxSizeBytes: c.maxSizeBytes,
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float32(c.hits) / float32(total)
	}
	if c.maxSizeBytes > 0 {
		stats.Pressure = float32(float64(c.sizeBytes) / float64(c.maxSizeBytes))
	}
	return stats
}

func (c *assetCache) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	close(c.stopCleanup)
	c.entries = make(map[string]*cacheEntry)
	c.sizeBytes = 0
}

// storeLocked inserts or replaces an entry with reference count 1, then
// enforces limits. Caller must hold c.mu.
func (c *assetCache) storeLocked(e *cacheEntry) {
	if old, ok := c.entries[e.key]; ok {
		c.sizeBytes -= old.sizeBytes
	}
	now := c.now()
	e.loadedAt = now
	e.lastAccessed = now
	e.refCount = 1
	e.valid = true
	c.entries[e.key] = e
	c.sizeBytes += e.sizeBytes
	c.enforceLocked()
}

// evictable is the non-forced candidate predicate: stale and unreferenced,
// or invalid, or failed.
func (c *assetCache) evictable(e *cacheEntry, now time.Time) bool {
	if !e.valid || e.loadErr != nil {
		return true
	}
	return e.refCount == 0 && now.Sub(e.lastAccessed) > c.maxAge
}

// cleanupLocked runs one eviction pass. Non-forced passes stop early once
// the over-budget size plus ~20% headroom has been freed, so a single pass
// never evicts much more than needed. Caller must hold c.mu.
func (c *assetCache) cleanupLocked(force bool) uint64 {
	now := c.now()
	var candidates []*cacheEntry
	for _, e := range c.entries {
		if force || c.evictable(e, now) {
			candidates = append(candidates, e)
		}
	}
	sortCandidates(candidates)

	var target uint64
	if !force && c.sizeBytes > c.maxSizeBytes {
		over := c.sizeBytes - c.maxSizeBytes
		target = over + over/5
	}

	var freed uint64
	for _, e := range candidates {
		freed += e.sizeBytes
		c.evictLocked(e)
		if target > 0 && freed >= target {
			break
		}
	}
	return freed
}

// enforceLocked brings the cache within its configured limits: first a
// regular cleanup pass, then, if still over the size or count limit,
// unreferenced entries are evicted in ascending (priority, last access)
// order regardless of age. Pinned entries are never evicted here; exceeding
// the budget on references alone is logged. Caller must hold c.mu.
func (c *assetCache) enforceLocked() {
	pressure := float32(0)
	if c.maxSizeBytes > 0 {
		pressure = float32(float64(c.sizeBytes) / float64(c.maxSizeBytes))
	}
	if c.sizeBytes <= c.maxSizeBytes && len(c.entries) <= c.maxEntries && pressure < c.pressureThreshold {
		return
	}

	c.cleanupLocked(false)
	if c.sizeBytes <= c.maxSizeBytes && len(c.entries) <= c.maxEntries {
		return
	}

	var candidates []*cacheEntry
	for _, e := range c.entries {
		if e.refCount == 0 {
			candidates = append(candidates, e)
		}
	}
	sortCandidates(candidates)
	for _, e := range candidates {
		if c.sizeBytes <= c.maxSizeBytes && len(c.entries) <= c.maxEntries {
			return
		}
		c.evictLocked(e)
	}
	if c.sizeBytes > c.maxSizeBytes {
		log.Printf("[AssetCache] over budget (%d/%d bytes) with all remaining entries referenced", c.sizeBytes, c.maxSizeBytes)
	}
}

// evictLocked removes one entry and updates accounting. Caller must hold
// c.mu.
func (c *assetCache) evictLocked(e *cacheEntry) {
	if _, ok := c.entries[e.key]; !ok {
		return
	}
	delete(c.entries, e.key)
	c.sizeBytes -= e.sizeBytes
	c.evictions++
}

// sortCandidates orders eviction candidates ascending by (priority, last
// access): low priority first, then least recently used.
func sortCandidates(candidates []*cacheEntry) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].lastAccessed.Before(candidates[j].lastAccessed)
	})
}

func (c *assetCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.PerformCleanup(false)
		case <-c.stopCleanup:
			return
		}
	}
}
