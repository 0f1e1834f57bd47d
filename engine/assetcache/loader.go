package assetcache

import (
	"log"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

// lookupOrRegister resolves a GetOrLoad request against the cache. It
// returns a flight whose done channel resolves the request, and whether the
// caller owns running the load. Concurrent requests for one key converge on
// the same flight, so the load function runs at most once per key.
func (c *assetCache) lookupOrRegister(key string, wantModel bool) (*inflightLoad, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		// Recorded failures resolve immediately; the entry is evicted by a
		// later cleanup pass rather than retried here.
		if e.loadErr != nil {
			return resolvedFlight(nil, nil, e.loadErr), false
		}
		if e.valid && ((wantModel && e.model != nil) || (!wantModel && e.clip != nil)) {
			c.hits++
			e.lastAccessed = c.now()
			return resolvedFlight(e.model, e.clip, nil), false
		}
	}
	if fl, ok := c.inflight[key]; ok {
		return fl, false
	}

	c.misses++
	fl := &inflightLoad{done: make(chan struct{})}
	c.inflight[key] = fl
	return fl, true
}

// resolvedFlight builds an already-completed flight for cache hits and
// recorded failures.
func resolvedFlight(model *ModelAsset, clip *ClipAsset, err error) *inflightLoad {
	fl := &inflightLoad{done: make(chan struct{}), model: model, clip: clip, err: err}
	close(fl.done)
	return fl
}

// submitLoad schedules one load on the worker pool.
func (c *assetCache) submitLoad(do func()) {
	c.mu.Lock()
	id := c.nextTaskID
	c.nextTaskID++
	c.mu.Unlock()

	c.loadPool.SubmitTask(worker.Task{
		ID: id,
		Do: func() (any, error) {
			do()
			return nil, nil
		},
	})
}

// resolveModelLoad writes a completed model load into the cache exactly once
// and releases all waiters.
func (c *assetCache) resolveModelLoad(key string, fl *inflightLoad, asset *ModelAsset, err error) {
	c.mu.Lock()
	delete(c.inflight, key)
	if err != nil {
		c.recordFailureLocked(key, err)
	} else {
		c.storeLocked(&cacheEntry{
			key:       key,
			model:     asset,
			sizeBytes: asset.SizeBytes(),
			priority:  PriorityNormal,
		})
	}
	c.mu.Unlock()

	fl.model = asset
	fl.err = err
	close(fl.done)
}

// resolveClipLoad is resolveModelLoad for animation clips.
func (c *assetCache) resolveClipLoad(key string, fl *inflightLoad, asset *ClipAsset, err error) {
	c.mu.Lock()
	delete(c.inflight, key)
	if err != nil {
		c.recordFailureLocked(key, err)
	} else {
		c.storeLocked(&cacheEntry{
			key:       key,
			clip:      asset,
			sizeBytes: asset.SizeBytes(),
			priority:  PriorityNormal,
		})
	}
	c.mu.Unlock()

	fl.clip = asset
	fl.err = err
	close(fl.done)
}

// recordFailureLocked pins the load error on an invalid zero-size entry so
// later requests observe the failure without retrying. Caller must hold
// c.mu.
func (c *assetCache) recordFailureLocked(key string, err error) {
	if old, ok := c.entries[key]; ok {
		c.sizeBytes -= old.sizeBytes
	}
	now := c.now()
	c.entries[key] = &cacheEntry{
		key:          key,
		loadedAt:     now,
		lastAccessed: now,
		loadErr:      err,
	}
	log.Printf("[AssetCache] load failed for %s: %v", key, err)
}
