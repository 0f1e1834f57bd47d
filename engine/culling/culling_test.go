package culling

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/voxelport/perf-go/engine/camera"
	"github.com/voxelport/perf-go/engine/quality"
)

// testClock is a manually advanced time source so throttle behavior is
// deterministic in tests.
type testClock struct {
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Unix(1000, 0)}
}

func (c *testClock) now() time.Time { return c.current }

func (c *testClock) advance(d time.Duration) { c.current = c.current.Add(d) }

// testCamera sits at the origin looking down -Z with a 90° fov, so a point
// (x, y, -z) is inside the frustum roughly when |x| <= z and |y| <= z.
func testCamera() camera.Camera {
	return camera.NewCamera(
		camera.WithPosition(0, 0, 0),
		camera.WithTarget(0, 0, -1),
		camera.WithFov(math.Pi/2),
		camera.WithAspect(1),
		camera.WithNear(0.1),
		camera.WithFar(300),
	)
}

func testSystem(opts ...SystemBuilderOption) (System, *testClock) {
	clock := newTestClock()
	opts = append(opts, WithClock(clock.now))
	return NewSystem(testCamera(), quality.ProfileMedium, opts...), clock
}

func TestCullingConservativeness(t *testing.T) {
	s, _ := testSystem()

	// Strictly inside the frustum and well within the culling distance.
	s.ForceUpdate([]Entity{{ID: "in", Position: [3]float32{0, 0, -50}}})

	r, ok := s.Result("in")
	if !ok {
		t.Fatal("expected entity to be tracked")
	}
	if !r.IsVisible || !r.InFrustum || !r.WithinDistance {
		t.Errorf("expected in-frustum entity visible, got %+v", r)
	}
	if r.LODLevel == quality.TierCulled {
		t.Errorf("expected a live LOD tier, got %s", r.LODLevel)
	}
}

func TestFrustumCulling(t *testing.T) {
	s, _ := testSystem()

	s.ForceUpdate([]Entity{
		{ID: "behind", Position: [3]float32{0, 0, 50}},
		{ID: "front", Position: [3]float32{0, 0, -50}},
	})

	r, _ := s.Result("behind")
	if r.IsVisible {
		t.Error("expected entity behind the camera to be culled")
	}
	tr, _ := s.Tracked("behind")
	if tr.CullingFlags&FlagFrustumCulled == 0 {
		t.Errorf("expected frustum-culled flag, got %b", tr.CullingFlags)
	}

	stats := s.Stats()
	if stats.Total != 2 || stats.Visible != 1 || stats.Culled != 1 || stats.FrustumCulled != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.CullingEfficiency != 0.5 {
		t.Errorf("expected efficiency 0.5, got %v", stats.CullingEfficiency)
	}
}

func TestDistanceCulling(t *testing.T) {
	s, _ := testSystem()

	// In front of the camera but far beyond the 120 + margin culling range.
	// 280 is still inside the camera far plane, so only distance culls it.
	s.ForceUpdate([]Entity{{ID: "far", Position: [3]float32{0, 0, -280}}})

	r, _ := s.Result("far")
	if r.IsVisible || r.WithinDistance {
		t.Errorf("expected distance-culled entity, got %+v", r)
	}
	// The frustum test is skipped once the distance gate fails, so the
	// result must not claim frustum membership, on-axis or not.
	if r.InFrustum {
		t.Errorf("expected InFrustum false for distance-culled entity, got %+v", r)
	}
	tr, _ := s.Tracked("far")
	if tr.CullingFlags&FlagDistanceCulled == 0 {
		t.Errorf("expected distance-culled flag, got %b", tr.CullingFlags)
	}
	if s.Stats().DistanceCulled != 1 {
		t.Errorf("expected one distance-culled entity, got %+v", s.Stats())
	}
}

func TestLODCulledOverridesVisibility(t *testing.T) {
	s, _ := testSystem()

	// Inside the distance margin (120 + 5) but beyond the LOD far bound, so
	// the long-tail tier culls it even though distance and frustum passed.
	s.ForceUpdate([]Entity{{ID: "tail", Position: [3]float32{0, 0, -123}}})

	r, _ := s.Result("tail")
	if r.IsVisible {
		t.Error("expected LOD-culled entity to be invisible")
	}
	if !r.WithinDistance || !r.InFrustum {
		t.Errorf("expected distance and frustum tests to pass, got %+v", r)
	}
	tr, _ := s.Tracked("tail")
	if tr.CullingFlags&FlagLODCulled == 0 {
		t.Errorf("expected LOD-culled flag, got %b", tr.CullingFlags)
	}
}

func TestNeighborRescue(t *testing.T) {
	s, _ := testSystem()

	// At depth 5 the frustum half-width is 5. "edge" sits just outside, its
	// neighbor 1 unit away sits inside and rescues it.
	s.ForceUpdate([]Entity{
		{ID: "edge", Position: [3]float32{5.5, 0, -5}},
		{ID: "anchor", Position: [3]float32{4.5, 0, -5}},
	})

	r, _ := s.Result("edge")
	if !r.IsVisible {
		t.Fatal("expected edge entity to be rescued by its in-frustum neighbor")
	}
	tr, _ := s.Tracked("edge")
	if tr.CullingFlags&FlagNeighborRescued == 0 {
		t.Errorf("expected neighbor-rescued flag, got %b", tr.CullingFlags)
	}
}

func TestNoRescueWithoutNeighbor(t *testing.T) {
	s, _ := testSystem()

	s.ForceUpdate([]Entity{{ID: "lonely", Position: [3]float32{50, 0, -5}}})

	r, _ := s.Result("lonely")
	if r.IsVisible {
		t.Error("expected isolated off-frustum entity to stay culled")
	}
}

func TestUpdateThrottling(t *testing.T) {
	s, clock := testSystem(WithUpdateFrequency(10)) // 100ms interval

	entities := []Entity{{ID: "a", Position: [3]float32{0, 0, -10}}}
	if !s.Update(entities, 0.016) {
		t.Fatal("expected first update to run")
	}
	clock.advance(50 * time.Millisecond)
	if s.Update(entities, 0.016) {
		t.Error("expected update within the throttle interval to be skipped")
	}
	clock.advance(60 * time.Millisecond)
	if !s.Update(entities, 0.016) {
		t.Error("expected update after the interval to run")
	}
}

func TestBatchCursorAmortization(t *testing.T) {
	s, clock := testSystem(WithBatchSize(2), WithUpdateFrequency(10))

	entities := make([]Entity, 6)
	for i := range entities {
		entities[i] = Entity{ID: fmt.Sprintf("e%d", i), Position: [3]float32{0, 0, -10}}
	}

	classified := func() int {
		n := 0
		for i := range entities {
			if tr, _ := s.Tracked(entities[i].ID); tr.Visible {
				n++
			}
		}
		return n
	}

	s.Update(entities, 0.016)
	if got := classified(); got != 2 {
		t.Fatalf("expected first batch to classify 2 entities, got %d", got)
	}

	clock.advance(150 * time.Millisecond)
	s.Update(entities, 0.016)
	if got := classified(); got != 4 {
		t.Fatalf("expected second batch to reach 4 entities, got %d", got)
	}

	clock.advance(150 * time.Millisecond)
	s.Update(entities, 0.016)
	if got := classified(); got != 6 {
		t.Fatalf("expected full coverage after three batches, got %d", got)
	}

	// The cursor wraps and keeps cycling without error.
	clock.advance(150 * time.Millisecond)
	if !s.Update(entities, 0.016) {
		t.Error("expected wrapped batch pass to run")
	}
}

func TestStaleEntitiesPurged(t *testing.T) {
	s, _ := testSystem()

	s.ForceUpdate([]Entity{
		{ID: "keep", Position: [3]float32{0, 0, -10}},
		{ID: "drop", Position: [3]float32{0, 0, -12}},
	})
	s.ForceUpdate([]Entity{
		{ID: "keep", Position: [3]float32{0, 0, -10}},
	})

	if _, ok := s.Result("drop"); ok {
		t.Error("expected removed entity's result to be purged")
	}
	if s.Stats().Total != 1 {
		t.Errorf("expected a single tracked entity, got %+v", s.Stats())
	}
	if s.Grid().Count() != 1 {
		t.Errorf("expected grid to drop stale entity, got %d", s.Grid().Count())
	}
}

func TestNonFinitePositionFlagged(t *testing.T) {
	s, _ := testSystem()

	nan := float32(math.NaN())
	s.ForceUpdate([]Entity{{ID: "bad", Position: [3]float32{nan, 0, 0}}})

	r, ok := s.Result("bad")
	if !ok {
		t.Fatal("expected entity to be tracked despite bad position")
	}
	if r.IsVisible || r.LODLevel != quality.TierCulled {
		t.Errorf("expected invalid entity culled, got %+v", r)
	}
	tr, _ := s.Tracked("bad")
	if tr.CullingFlags&FlagInvalidPosition == 0 {
		t.Errorf("expected invalid-position flag, got %b", tr.CullingFlags)
	}
}

func TestEntitiesByLOD(t *testing.T) {
	s, _ := testSystem()

	s.ForceUpdate([]Entity{
		{ID: "near", Position: [3]float32{0, 0, -15}},
		{ID: "mid", Position: [3]float32{0, 0, -50}},
		{ID: "far", Position: [3]float32{0, 0, -100}},
	})

	if got := s.EntitiesByLOD(quality.TierHigh); len(got) != 1 || got[0] != "near" {
		t.Errorf("expected [near] at high tier, got %v", got)
	}
	if got := s.EntitiesByLOD(quality.TierMedium); len(got) != 1 || got[0] != "mid" {
		t.Errorf("expected [mid] at medium tier, got %v", got)
	}
	if got := s.EntitiesByLOD(quality.TierLow); len(got) != 1 || got[0] != "far" {
		t.Errorf("expected [far] at low tier, got %v", got)
	}
}

func TestReportBundlesConfigAndResults(t *testing.T) {
	s, _ := testSystem()
	s.ForceUpdate([]Entity{
		{ID: "a", Position: [3]float32{0, 0, -10}},
		{ID: "b", Position: [3]float32{0, 0, 50}},
	})

	rep := s.Report()
	if rep.Profile.Name != "medium" {
		t.Errorf("expected medium profile in report, got %s", rep.Profile.Name)
	}
	if len(rep.Results) != 2 {
		t.Errorf("expected 2 raw results, got %d", len(rep.Results))
	}
	if rep.Stats.Total != 2 {
		t.Errorf("expected stats for 2 entities, got %+v", rep.Stats)
	}
}

func TestVisibleIDs(t *testing.T) {
	s, _ := testSystem()
	s.ForceUpdate([]Entity{
		{ID: "a", Position: [3]float32{0, 0, -10}},
		{ID: "b", Position: [3]float32{0, 0, 50}},
		{ID: "c", Position: [3]float32{0, 0, -20}},
	})

	vis := s.VisibleIDs()
	if len(vis) != 2 {
		t.Fatalf("expected 2 visible entities, got %v", vis)
	}
}
