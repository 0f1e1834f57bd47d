package assetcache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxelport/perf-go/common"
)

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Unix(1000, 0)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

func testModel(bytes int) *ModelAsset {
	return &ModelAsset{VertexData: make([]byte, bytes)}
}

func TestSizeEstimation(t *testing.T) {
	m := &ModelAsset{
		VertexData: make([]byte, 1000),
		IndexData:  make([]byte, 500),
		Textures:   make([]common.ImportedTexture, 2),
	}
	want := uint64(1500 + 2*textureSizeEstimate)
	if got := m.SizeBytes(); got != want {
		t.Errorf("model SizeBytes = %d, want %d", got, want)
	}

	clip := &ClipAsset{
		KeyframeTimes: make([]float32, 10),
		Translations:  make([][3]float32, 10),
		Rotations:     make([][4]float32, 10),
		Scales:        make([][3]float32, 10),
	}
	// 10 keyframes: 40 time bytes + 120 + 160 + 120 track bytes.
	if got := clip.SizeBytes(); got != 440 {
		t.Errorf("clip SizeBytes = %d, want 440", got)
	}

	var nilModel *ModelAsset
	if nilModel.SizeBytes() != 0 {
		t.Error("nil model SizeBytes != 0")
	}
}

func TestHitMissCounters(t *testing.T) {
	c := NewCache()
	defer c.Dispose()

	c.CacheModel("fox", testModel(100), PriorityNormal)
	if _, ok := c.GetCachedModel("fox"); !ok {
		t.Fatal("expected hit for cached key")
	}
	if _, ok := c.GetCachedModel("unknown"); ok {
		t.Fatal("expected miss for unknown key")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("HitRate = %v, want 0.5", stats.HitRate)
	}
}

func TestForcedCleanupEmptiesCache(t *testing.T) {
	c := NewCache()
	defer c.Dispose()

	c.CacheModel("a", testModel(1000), PriorityHigh)
	c.CacheClip("b", &ClipAsset{KeyframeTimes: make([]float32, 100)}, PriorityNormal)
	c.AddReference("a") // even pinned entries go on the forced path

	freed := c.PerformCleanup(true)
	if freed == 0 {
		t.Error("forced cleanup freed 0 bytes")
	}
	stats := c.Stats()
	if stats.Entries != 0 || stats.SizeBytes != 0 {
		t.Errorf("after forced cleanup: entries=%d size=%d, want 0/0", stats.Entries, stats.SizeBytes)
	}
}

func TestInsertionEnforcesBudget(t *testing.T) {
	clock := newTestClock()
	c := NewCache(WithMaxSizeBytes(3000), WithCacheClock(clock.now))
	defer c.Dispose()

	c.CacheModel("oldest", testModel(1200), PriorityNormal)
	c.RemoveReference("oldest")
	clock.advance(time.Second)
	c.CacheModel("middle", testModel(1200), PriorityNormal)
	c.RemoveReference("middle")
	clock.advance(time.Second)

	// Third insertion pushes resident size to 3600 and must evict the
	// oldest unreferenced entry to get back under budget.
	c.CacheModel("newest", testModel(1200), PriorityNormal)

	if _, ok := c.GetCachedModel("oldest"); ok {
		t.Error("oldest unreferenced entry survived budget enforcement")
	}
	if _, ok := c.GetCachedModel("middle"); !ok {
		t.Error("middle entry evicted unnecessarily")
	}
	if _, ok := c.GetCachedModel("newest"); !ok {
		t.Error("just-inserted entry evicted")
	}
	if stats := c.Stats(); stats.SizeBytes > 3000 {
		t.Errorf("resident size %d still over the 3000-byte budget", stats.SizeBytes)
	}
}

func TestEvictionPrefersLowPriorityOverRecency(t *testing.T) {
	clock := newTestClock()
	c := NewCache(WithMaxSizeBytes(1500), WithMaxAge(10*time.Hour), WithCacheClock(clock.now))
	defer c.Dispose()

	c.CacheModel("important", testModel(1000), PriorityHigh)
	clock.advance(1000 * time.Second)
	c.CacheModel("disposable", testModel(1000), PriorityLow)
	c.RemoveReference("important")
	c.RemoveReference("disposable")

	c.EnforceMemoryLimits()

	// The low-priority entry is evicted first even though it was accessed
	// far more recently than the high-priority one.
	if _, ok := c.GetCachedModel("disposable"); ok {
		t.Error("low-priority entry survived over high-priority entry")
	}
	if _, ok := c.GetCachedModel("important"); !ok {
		t.Error("high-priority entry evicted before low-priority entry")
	}
}

func TestStaleUnreferencedEntriesAreCleaned(t *testing.T) {
	clock := newTestClock()
	c := NewCache(WithMaxAge(time.Minute), WithCacheClock(clock.now))
	defer c.Dispose()

	c.CacheModel("stale", testModel(100), PriorityNormal)
	c.RemoveReference("stale")
	c.CacheModel("pinned", testModel(100), PriorityNormal)

	clock.advance(2 * time.Minute)
	c.PerformCleanup(false)

	if _, ok := c.GetCachedModel("stale"); ok {
		t.Error("stale unreferenced entry survived cleanup")
	}
	if _, ok := c.GetCachedModel("pinned"); !ok {
		t.Error("referenced entry evicted by non-forced cleanup")
	}
}

func TestReferenceCountingPinsEntries(t *testing.T) {
	clock := newTestClock()
	c := NewCache(WithMaxAge(time.Minute), WithCacheClock(clock.now))
	defer c.Dispose()

	c.CacheModel("asset", testModel(100), PriorityNormal)
	c.AddReference("asset") // refcount 2
	c.RemoveReference("asset")

	clock.advance(2 * time.Minute)
	c.PerformCleanup(false)
	if _, ok := c.GetCachedModel("asset"); !ok {
		t.Fatal("entry with outstanding reference evicted")
	}

	c.RemoveReference("asset")
	clock.advance(2 * time.Minute)
	c.PerformCleanup(false)
	if _, ok := c.GetCachedModel("asset"); ok {
		t.Error("unreferenced stale entry survived cleanup")
	}

	if c.AddReference("ghost") {
		t.Error("AddReference succeeded for unknown key")
	}
}

func TestGetOrLoadDeduplicatesConcurrentLoads(t *testing.T) {
	c := NewCache()
	defer c.Dispose()

	var calls atomic.Int32
	load := func() (*ModelAsset, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return testModel(256), nil
	}

	var wg sync.WaitGroup
	results := make([]*ModelAsset, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := c.GetOrLoadModel("shared", load)
			if err != nil {
				t.Errorf("GetOrLoadModel: %v", err)
				return
			}
			results[i] = m
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("load ran %d times, want 1", got)
	}
	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent callers received different assets")
		}
	}
	if _, ok := c.GetCachedModel("shared"); !ok {
		t.Error("loaded asset not written into the cache")
	}
}

func TestFailedLoadIsRecordedNotRetried(t *testing.T) {
	c := NewCache()
	defer c.Dispose()

	var calls atomic.Int32
	loadErr := errors.New("fetch failed")
	load := func() (*ModelAsset, error) {
		calls.Add(1)
		return nil, loadErr
	}

	if _, err := c.GetOrLoadModel("broken", load); err == nil {
		t.Fatal("expected load error")
	}
	// The failure is pinned on the entry: the next request observes it
	// without running the loader again.
	if _, err := c.GetOrLoadModel("broken", load); err == nil {
		t.Fatal("expected recorded error on second request")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("load ran %d times, want 1", got)
	}

	// A cleanup pass evicts the failed entry, after which loading may be
	// attempted fresh.
	c.PerformCleanup(false)
	good := func() (*ModelAsset, error) { return testModel(64), nil }
	if _, err := c.GetOrLoadModel("broken", good); err != nil {
		t.Fatalf("reload after eviction failed: %v", err)
	}
}

func TestFailedLoadReleasesDisplacedEntrySize(t *testing.T) {
	c := NewCache()
	defer c.Dispose()

	// 100 keyframe times = 400 bytes resident under "walk".
	clip := &ClipAsset{KeyframeTimes: make([]float32, 100)}
	c.CacheClip("walk", clip, PriorityNormal)
	if got := c.Stats().SizeBytes; got != 400 {
		t.Fatalf("SizeBytes = %d, want 400", got)
	}

	// A model request for the same key misses past the clip payload and runs
	// the loader; the failure entry displaces the clip and must release its
	// accounted bytes.
	load := func() (*ModelAsset, error) { return nil, errors.New("fetch failed") }
	if _, err := c.GetOrLoadModel("walk", load); err == nil {
		t.Fatal("expected load error")
	}

	c.PerformCleanup(true)
	stats := c.Stats()
	if stats.Entries != 0 {
		t.Errorf("Entries = %d, want 0", stats.Entries)
	}
	if stats.SizeBytes != 0 {
		t.Errorf("SizeBytes after forced cleanup = %d, want 0", stats.SizeBytes)
	}
}

func TestGetOrLoadClip(t *testing.T) {
	c := NewCache()
	defer c.Dispose()

	clip := &ClipAsset{KeyframeTimes: []float32{0, 0.5, 1.0}}
	got, err := c.GetOrLoadClip("walk", func() (*ClipAsset, error) { return clip, nil })
	if err != nil {
		t.Fatalf("GetOrLoadClip: %v", err)
	}
	if got != clip {
		t.Fatal("returned clip is not the loaded clip")
	}
	if _, ok := c.GetCachedClip("walk"); !ok {
		t.Error("clip not cached after load")
	}
}

func TestRecachingKeyReplacesSize(t *testing.T) {
	c := NewCache()
	defer c.Dispose()

	c.CacheModel("asset", testModel(1000), PriorityNormal)
	c.CacheModel("asset", testModel(400), PriorityNormal)

	stats := c.Stats()
	if stats.Entries != 1 {
		t.Errorf("Entries = %d, want 1", stats.Entries)
	}
	if stats.SizeBytes != 400 {
		t.Errorf("SizeBytes = %d, want 400", stats.SizeBytes)
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	c := NewCache()
	c.CacheModel("asset", testModel(100), PriorityNormal)

	c.Dispose()
	c.Dispose()
	if stats := c.Stats(); stats.Entries != 0 || stats.SizeBytes != 0 {
		t.Errorf("after Dispose: entries=%d size=%d, want 0/0", stats.Entries, stats.SizeBytes)
	}
}
