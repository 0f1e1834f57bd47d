// package culling implements batched visibility classification for dynamic
// scene entities. The full entity set is processed as a sliding batch window
// across successive passes so no single frame pays the whole O(n) cost; the
// worst case per frame is O(batchSize).
package culling

import (
	"log"
	"sync"
	"time"

	"github.com/voxelport/perf-go/common"
	"github.com/voxelport/perf-go/engine/camera"
	"github.com/voxelport/perf-go/engine/quality"
	"github.com/voxelport/perf-go/engine/spatial"
)

// Entity is the minimal upstream view of a simulated object. Rotation, scale,
// and color are optional; the zero quaternion and zero scale are replaced by
// identity defaults when tracked.
type Entity struct {
	ID       string
	Position [3]float32
	Rotation [4]float32 // unit quaternion (x, y, z, w); zero value treated as identity
	Scale    [3]float32 // zero value treated as (1, 1, 1)
	Color    [4]float32 // RGBA; zero value treated as opaque white
}

// Flag bits recorded per entity describing why the last classification
// resolved the way it did.
const (
	// FlagDistanceCulled marks an entity beyond the culling distance.
	FlagDistanceCulled uint32 = 1 << iota
	// FlagFrustumCulled marks an entity outside the view frustum.
	FlagFrustumCulled
	// FlagNeighborRescued marks an entity kept visible because a nearby
	// entity was inside the frustum.
	FlagNeighborRescued
	// FlagLODCulled marks an entity dropped by the long-tail LOD tier even
	// though distance and frustum tests passed.
	FlagLODCulled
	// FlagInvalidPosition marks an entity whose position was non-finite and
	// could not be classified.
	FlagInvalidPosition
)

// Tracked is the per-entity state owned by the culling system. Created when
// an entity first appears in an update pass, mutated on every classification,
// and destroyed when the upstream list no longer contains the id.
type Tracked struct {
	ID           string
	Position     [3]float32
	Rotation     [4]float32
	Scale        [3]float32
	Color        [4]float32
	Visible      bool
	Distance     float32
	LODLevel     quality.Tier
	LastUpdate   time.Time
	CullingFlags uint32
}

// Result is one entity's most recent classification. Results are 1:1 with
// tracked entities; entries for removed entities are purged eagerly.
type Result struct {
	EntityID       string
	IsVisible      bool
	Distance       float32
	// InFrustum reports a passed frustum test; it is false when the test
	// was skipped because the entity already failed the distance gate.
	InFrustum      bool
	WithinDistance bool
	Occluded       bool // always false; reserved for a future occlusion pass
	LODLevel       quality.Tier
	LastUpdate     time.Time
}

// Stats aggregates the outcome of the most recent classification state across
// all tracked entities.
type Stats struct {
	Total          int
	Visible        int
	Culled         int
	FrustumCulled  int
	DistanceCulled int
	// CullingEfficiency is culled/total, 0 when nothing is tracked.
	CullingEfficiency float32
}

// Report bundles configuration, stats, and raw results for diagnostics.
type Report struct {
	Profile         quality.Profile
	UpdateFrequency float32
	BatchSize       int
	DistanceCulling bool
	FrustumCulling  bool
	NeighborRadius  float32
	Stats           Stats
	Results         []Result
}

type cullingSystem struct {
	mu *sync.Mutex

	cam  camera.Camera
	grid *spatial.Grid
	calc *quality.Calculator

	tracked map[string]*Tracked
	order   []string // stable iteration order for the batch cursor

	batchSize       int
	cursor          int
	updateFrequency float32 // passes per second
	lastUpdate      time.Time

	distanceCulling bool
	frustumCulling  bool
	distanceMargin  float32
	neighborRadius  float32

	now func() time.Time
}

// System classifies tracked entities as visible or culled against the camera
// frustum, the profile's culling distance, and the LOD far bound. Updates are
// throttled to the configured frequency and amortized across passes by a
// wrapping batch cursor; ForceUpdate bypasses both.
type System interface {
	// Update syncs the tracked set with the upstream entity list and, if the
	// throttle interval has elapsed, classifies the next batch window.
	// Returns true when a batch was processed this call.
	//
	// Parameters:
	//   - entities: the authoritative upstream entity list
	//   - dt: elapsed seconds since the previous call (informational)
	//
	// Returns:
	//   - bool: true if a classification batch ran
	Update(entities []Entity, dt float32) bool

	// ForceUpdate bypasses the throttle and the batch cursor: the tracked set
	// is synced and every entity is classified synchronously. Used after
	// camera cuts and initialization.
	//
	// Parameters:
	//   - entities: the authoritative upstream entity list
	ForceUpdate(entities []Entity)

	// Result returns the most recent classification for one entity.
	//
	// Parameters:
	//   - id: the entity id
	//
	// Returns:
	//   - Result: the classification
	//   - bool: false if the id is not tracked
	Result(id string) (Result, bool)

	// VisibleIDs returns the ids of all currently visible entities. The
	// returned slice is freshly allocated.
	//
	// Returns:
	//   - []string: visible entity ids
	VisibleIDs() []string

	// EntitiesByLOD partitions tracked entity ids by their current tier.
	//
	// Parameters:
	//   - tier: the tier to select
	//
	// Returns:
	//   - []string: ids currently classified at the tier
	EntitiesByLOD(tier quality.Tier) []string

	// Tracked returns a copy of the tracked state for one entity.
	//
	// Parameters:
	//   - id: the entity id
	//
	// Returns:
	//   - Tracked: the tracked state
	//   - bool: false if the id is not tracked
	Tracked(id string) (Tracked, bool)

	// Stats aggregates visibility counts over all tracked entities.
	//
	// Returns:
	//   - Stats: the aggregated counters
	Stats() Stats

	// Report bundles configuration, stats, and raw per-entity results.
	//
	// Returns:
	//   - Report: the diagnostic report
	Report() Report

	// UpdateQuality swaps the active quality profile, which feeds the culling
	// distance, batch size, and LOD thresholds.
	//
	// Parameters:
	//   - profile: the new profile
	UpdateQuality(profile quality.Profile)

	// SetUpdateFrequency changes how many classification passes run per
	// second. Values <= 0 are ignored.
	//
	// Parameters:
	//   - hz: passes per second
	SetUpdateFrequency(hz float32)

	// UpdateFrequency returns the configured pass rate in Hz.
	//
	// Returns:
	//   - float32: passes per second
	UpdateFrequency() float32

	// Grid exposes the spatial index (shared with consumers that need raw
	// proximity queries).
	//
	// Returns:
	//   - *spatial.Grid: the spatial index
	Grid() *spatial.Grid

	// Dispose releases tracked state. The system must not be used afterwards.
	Dispose()
}

var _ System = &cullingSystem{}

const (
	// defaultUpdateFrequency is the classification pass rate when no option
	// overrides it. 20 Hz keeps worst-case pop-in under 50ms while leaving
	// most frames free of culling work.
	defaultUpdateFrequency = 20.0

	// defaultDistanceMargin widens the culling distance so entities hovering
	// at the boundary don't flicker between passes.
	defaultDistanceMargin = 5.0

	// defaultNeighborRadius is the rescue radius for the conservative
	// neighbor heuristic: an entity whose center fails the point-in-frustum
	// test stays visible if another entity within this radius is inside the
	// frustum. The point test samples only the entity center, so bounding
	// volumes straddling the frustum boundary would otherwise pop. The
	// tolerated error scales with this radius; it is a tunable, not a
	// guaranteed bound.
	defaultNeighborRadius = 2.0
)

// NewSystem creates a culling system bound to a camera and quality profile.
//
// Parameters:
//   - cam: the camera whose position and frustum drive classification (must not be nil)
//   - profile: the initial quality profile
//   - options: functional options to further configure the system
//
// Returns:
//   - System: the newly created culling system
func NewSystem(cam camera.Camera, profile quality.Profile, options ...SystemBuilderOption) System {
	if cam == nil {
		panic("culling: NewSystem requires a non-nil Camera")
	}

	s := &cullingSystem{
		mu:              &sync.Mutex{},
		cam:             cam,
		calc:            quality.NewCalculator(profile),
		tracked:         make(map[string]*Tracked),
		batchSize:       int(profile.BatchSize),
		updateFrequency: defaultUpdateFrequency,
		distanceCulling: true,
		frustumCulling:  true,
		distanceMargin:  defaultDistanceMargin,
		neighborRadius:  defaultNeighborRadius,
		now:             time.Now,
	}
	for _, option := range options {
		option(s)
	}
	if s.grid == nil {
		s.grid = spatial.NewGrid(spatial.DefaultCellSize)
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	return s
}

func (s *cullingSystem) Update(entities []Entity, dt float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	interval := time.Duration(float64(time.Second) / float64(s.updateFrequency))
	if !s.lastUpdate.IsZero() && now.Sub(s.lastUpdate) < interval {
		return false
	}
	s.lastUpdate = now

	s.syncTracked(entities, now)
	if len(s.order) == 0 {
		return true
	}

	camPos := s.cam.Position()
	vp := s.cam.ViewProjectionMatrix()
	frustum := common.ExtractFrustumFromMatrix(vp[:])

	// Advance a fixed window through the id list, wrapping at the end.
	n := len(s.order)
	count := s.batchSize
	if count > n {
		count = n
	}
	if s.cursor >= n {
		s.cursor = 0
	}
	for i := 0; i < count; i++ {
		idx := (s.cursor + i) % n
		s.classify(s.tracked[s.order[idx]], camPos, &frustum, now)
	}
	s.cursor = (s.cursor + count) % n
	return true
}

func (s *cullingSystem) ForceUpdate(entities []Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.lastUpdate = now
	s.syncTracked(entities, now)
	s.cursor = 0

	camPos := s.cam.Position()
	vp := s.cam.ViewProjectionMatrix()
	frustum := common.ExtractFrustumFromMatrix(vp[:])

	for _, id := range s.order {
		s.classify(s.tracked[id], camPos, &frustum, now)
	}
}

func (s *cullingSystem) Result(id string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracked[id]
	if !ok {
		return Result{}, false
	}
	return s.resultFor(t), true
}

func (s *cullingSystem) VisibleIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if s.tracked[id].Visible {
			out = append(out, id)
		}
	}
	return out
}

func (s *cullingSystem) EntitiesByLOD(tier quality.Tier) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range s.order {
		if s.tracked[id].LODLevel == tier {
			out = append(out, id)
		}
	}
	return out
}

func (s *cullingSystem) Tracked(id string) (Tracked, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracked[id]
	if !ok {
		return Tracked{}, false
	}
	return *t, true
}

func (s *cullingSystem) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *cullingSystem) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]Result, 0, len(s.order))
	for _, id := range s.order {
		results = append(results, s.resultFor(s.tracked[id]))
	}
	return Report{
		Profile:         s.calc.Profile(),
		UpdateFrequency: s.updateFrequency,
		BatchSize:       s.batchSize,
		DistanceCulling: s.distanceCulling,
		FrustumCulling:  s.frustumCulling,
		NeighborRadius:  s.neighborRadius,
		Stats:           s.statsLocked(),
		Results:         results,
	}
}

func (s *cullingSystem) UpdateQuality(profile quality.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calc.UpdateQuality(profile)
	if profile.BatchSize > 0 {
		s.batchSize = int(profile.BatchSize)
	}
}

func (s *cullingSystem) SetUpdateFrequency(hz float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hz > 0 {
		s.updateFrequency = hz
	}
}

func (s *cullingSystem) UpdateFrequency() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateFrequency
}

func (s *cullingSystem) Grid() *spatial.Grid {
	return s.grid
}

func (s *cullingSystem) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked = make(map[string]*Tracked)
	s.order = s.order[:0]
	s.grid.Clear()
	s.cursor = 0
}

// syncTracked reconciles the tracked table with the upstream entity list:
// new ids are tracked, positions are refreshed and re-bucketed in the grid,
// and stale entries are purged eagerly. Caller must hold s.mu.
func (s *cullingSystem) syncTracked(entities []Entity, now time.Time) {
	seen := make(map[string]struct{}, len(entities))
	for i := range entities {
		e := &entities[i]
		if e.ID == "" {
			continue
		}
		seen[e.ID] = struct{}{}

		t, ok := s.tracked[e.ID]
		if !ok {
			t = &Tracked{
				ID:         e.ID,
				LODLevel:   quality.TierCulled,
				LastUpdate: now,
			}
			s.tracked[e.ID] = t
			s.order = append(s.order, e.ID)
		}

		t.Position = e.Position
		t.Rotation = e.Rotation
		if t.Rotation == ([4]float32{}) {
			t.Rotation = [4]float32{0, 0, 0, 1}
		}
		t.Scale = e.Scale
		if t.Scale == ([3]float32{}) {
			t.Scale = [3]float32{1, 1, 1}
		}
		t.Color = e.Color
		if t.Color == ([4]float32{}) {
			t.Color = [4]float32{1, 1, 1, 1}
		}

		// The grid rejects non-finite positions; classification flags them.
		if common.Finite3(e.Position) {
			s.grid.Update(e.ID, e.Position)
		} else {
			s.grid.Remove(e.ID)
		}
	}

	if len(seen) == len(s.tracked) {
		return
	}

	// Purge entities no longer present upstream.
	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := seen[id]; ok {
			kept = append(kept, id)
			continue
		}
		delete(s.tracked, id)
		s.grid.Remove(id)
	}
	s.order = kept
	if s.cursor > len(s.order) {
		s.cursor = 0
	}
}

// classify runs the per-entity pipeline: distance test, frustum point test
// with the neighbor-rescue fallback, then LOD classification with the culled
// tier overriding visibility. Never panics; entities with non-finite
// positions are marked invalid and culled. Caller must hold s.mu.
func (s *cullingSystem) classify(t *Tracked, camPos [3]float32, frustum *common.Frustum, now time.Time) {
	t.CullingFlags = 0
	t.LastUpdate = now

	if !common.Finite3(t.Position) {
		t.Visible = false
		t.Distance = 0
		t.LODLevel = quality.TierCulled
		t.CullingFlags |= FlagInvalidPosition
		log.Printf("[Culling] entity %s has a non-finite position, marking culled", t.ID)
		return
	}

	t.Distance = common.Distance3(camPos, t.Position)

	profile := s.calc.Profile()
	withinDistance := !s.distanceCulling || t.Distance <= profile.CullingDistance+s.distanceMargin
	if !withinDistance {
		t.CullingFlags |= FlagDistanceCulled
	}

	inFrustum := withinDistance
	if withinDistance && s.frustumCulling {
		inFrustum = frustum.ContainsPoint(t.Position)
		if !inFrustum && s.rescueByNeighbor(t.ID, t.Position, frustum) {
			inFrustum = true
			t.CullingFlags |= FlagNeighborRescued
		}
		if !inFrustum {
			t.CullingFlags |= FlagFrustumCulled
		}
	}

	t.Visible = withinDistance && inFrustum
	if !t.Visible {
		t.LODLevel = quality.TierCulled
		return
	}

	// LOD is only computed for entities that passed the cheap tests. The
	// culled tier guards the long tail beyond the last LOD threshold and
	// overrides visibility even here.
	t.LODLevel = s.calc.LODForDistance(t.Distance)
	if t.LODLevel == quality.TierCulled {
		t.Visible = false
		t.CullingFlags |= FlagLODCulled
	}
}

// rescueByNeighbor reports whether any entity near pos sits inside the
// frustum. This trades false negatives for a cheaper center-point test:
// entities whose bounding volume straddles the frustum boundary stay visible
// as long as a neighbor's center is inside. Entities absent from the grid
// simply find no neighbors and degrade to the stricter point-only result.
// Caller must hold s.mu.
func (s *cullingSystem) rescueByNeighbor(id string, pos [3]float32, frustum *common.Frustum) bool {
	for _, nid := range s.grid.QueryRadius(pos, s.neighborRadius) {
		if nid == id {
			continue
		}
		if npos, ok := s.grid.Position(nid); ok && frustum.ContainsPoint(npos) {
			return true
		}
	}
	return false
}

// resultFor converts tracked state into a Result. The frustum test is
// skipped for distance-culled entities, so InFrustum requires the distance
// gate to have passed as well. Caller must hold s.mu.
func (s *cullingSystem) resultFor(t *Tracked) Result {
	withinDistance := t.CullingFlags&FlagDistanceCulled == 0 && t.CullingFlags&FlagInvalidPosition == 0
	return Result{
		EntityID:       t.ID,
		IsVisible:      t.Visible,
		Distance:       t.Distance,
		InFrustum:      withinDistance && t.CullingFlags&FlagFrustumCulled == 0,
		WithinDistance: withinDistance,
		Occluded:       false,
		LODLevel:       t.LODLevel,
		LastUpdate:     t.LastUpdate,
	}
}

// statsLocked aggregates counters over all tracked entities. Caller must
// hold s.mu.
func (s *cullingSystem) statsLocked() Stats {
	st := Stats{Total: len(s.order)}
	for _, id := range s.order {
		t := s.tracked[id]
		if t.Visible {
			st.Visible++
			continue
		}
		st.Culled++
		if t.CullingFlags&FlagFrustumCulled != 0 {
			st.FrustumCulled++
		}
		if t.CullingFlags&FlagDistanceCulled != 0 {
			st.DistanceCulled++
		}
	}
	if st.Total > 0 {
		st.CullingEfficiency = float32(st.Culled) / float32(st.Total)
	}
	return st
}
