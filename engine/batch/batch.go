// package batch owns the fixed-capacity per-instance attribute store for one
// geometry/material pairing and keeps it synchronized with culling results.
// Visible instances are packed to the front of the instance buffer each
// culling pass so the draw count equals the visible set size.
package batch

import (
	"fmt"
	"log"
	"sync"
	"time"
	"unsafe"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/voxelport/perf-go/common"
	"github.com/voxelport/perf-go/engine/culling"
	"github.com/voxelport/perf-go/engine/pool"
	"github.com/voxelport/perf-go/engine/quality"
)

// instanceState is the CPU-side record for one tracked instance. The GPU
// attribute payload is derived from it during repacking.
type instanceState struct {
	id       string
	position [3]float32
	rotation [4]float32
	scale    [3]float32
	color    [4]float32

	visible     bool
	lastVisible time.Time
	drawIndex   int // slot in the packed instance buffer, -1 when not drawn

	lastWritten GPUInstanceAttribs // last payload uploaded for this instance
	hasWritten  bool
}

// Stats is a snapshot of batch occupancy and culling outcomes.
type Stats struct {
	TrackedInstances int
	ActiveDrawCount  int
	MaxInstances     uint32
	PoolFree         int
	PoolMax          int
	Culling          culling.Stats
}

type instancedBatch struct {
	mu *sync.Mutex

	maxInstances uint32
	states       map[string]*instanceState
	order        []string

	cs         culling.System
	matrixPool *pool.Pool[*[16]float32]

	instanceData []GPUInstanceAttribs
	activeCount  int

	// Sparse dirty tracking: dirtyIndices holds draw slots mutated since the
	// last flush; dirtyBitset dedups so a slot is enqueued at most once.
	dirtyIndices []uint32
	dirtyBitset  []uint64

	staged  []BufferWrite
	staging []byte // reusable staging bytes, one region per instance slot

	// Local adaptive-quality state: the component-level half of adaptive
	// quality. The governor owns the global half.
	profile         quality.Profile
	cullingDistance float32
	updateFrequency float32
	lastAdjust      time.Time

	gcMaxAge time.Duration
	now      func() time.Time

	device         *wgpu.Device
	queue          *wgpu.Queue
	instanceBuffer *wgpu.Buffer
}

// InstancedBatch tracks per-instance transform/color/LOD attributes for up to
// maxInstances entities, runs the culling system over them, and stages GPU
// buffer writes for the packed visible set.
type InstancedBatch interface {
	// AddInstance starts tracking an instance. Zero-valued rotation, scale,
	// and color default to identity, unit, and opaque white. When capacity is
	// exhausted the add is declined with a log line, never an error.
	//
	// Parameters:
	//   - id: unique instance identifier
	//   - pos: world-space position
	//   - rot: unit quaternion (x, y, z, w); zero value means identity
	//   - scale: per-axis scale; zero value means (1, 1, 1)
	//   - color: RGBA; zero value means opaque white
	//
	// Returns:
	//   - bool: true if the instance is now tracked
	AddInstance(id string, pos [3]float32, rot [4]float32, scale [3]float32, color [4]float32) bool

	// UpdateInstance rewrites an instance's attributes. Fields equal to the
	// stored state are skipped so unchanged instances cost no GPU upload.
	// Unknown ids are ignored.
	//
	// Parameters:
	//   - id: the instance identifier
	//   - pos, rot, scale, color: replacement attributes (zero-value rules as AddInstance)
	UpdateInstance(id string, pos [3]float32, rot [4]float32, scale [3]float32, color [4]float32)

	// RemoveInstance stops tracking an instance. Its draw slot is zero-scaled
	// (tombstoned) rather than compacted, keeping removal O(1).
	//
	// Parameters:
	//   - id: the instance identifier
	RemoveInstance(id string)

	// PerformCulling feeds the tracked set through the culling system and,
	// when a classification batch ran, repacks visible instances to the front
	// of the instance buffer and sets the active draw count to the visible
	// set size.
	//
	// Parameters:
	//   - dt: elapsed seconds since the previous frame
	//
	// Returns:
	//   - bool: true if a culling pass ran and the buffer was repacked
	PerformCulling(dt float32) bool

	// ForceCulling bypasses culling throttles and synchronously reclassifies
	// and repacks everything. Used after camera cuts.
	ForceCulling()

	// ActiveCount returns the number of instances currently submitted for
	// drawing.
	//
	// Returns:
	//   - int: the active draw count
	ActiveCount() int

	// InstanceCount returns the number of tracked instances.
	//
	// Returns:
	//   - int: the tracked instance count
	InstanceCount() int

	// GarbageCollect removes instances that have been invisible for longer
	// than the configured age window, reclaiming tracking slots.
	//
	// Returns:
	//   - int: the number of instances removed
	GarbageCollect() int

	// AdjustQualityForPerformance nudges the culling distance and update
	// frequency within clamped bounds when the average frame time drifts
	// from the profile target. This is the component-local half of adaptive
	// quality; the governor owns the global half.
	//
	// Parameters:
	//   - avgFrameTimeMs: rolling average frame time in milliseconds
	AdjustQualityForPerformance(avgFrameTimeMs float32)

	// ApplyQuality adopts a new quality profile pushed down by the governor,
	// resetting the locally adapted knobs to the profile's values.
	//
	// Parameters:
	//   - profile: the new profile
	ApplyQuality(profile quality.Profile)

	// Stats returns batch occupancy, pool occupancy, and culling outcomes.
	//
	// Returns:
	//   - Stats: the snapshot
	Stats() Stats

	// StagedWrites returns and clears the pending GPU buffer writes. When a
	// device is attached SubmitWrites drains these instead.
	//
	// Returns:
	//   - []BufferWrite: the pending writes
	StagedWrites() []BufferWrite

	// AttachGPU creates the instance buffer on the device and routes future
	// staged writes to its queue. The batch is fully functional without a
	// device; attribute state is then observable via StagedWrites.
	//
	// Parameters:
	//   - device: the WebGPU device
	//   - queue: the device queue used for buffer uploads
	//
	// Returns:
	//   - error: error if buffer creation fails
	AttachGPU(device *wgpu.Device, queue *wgpu.Queue) error

	// SubmitWrites uploads all staged writes to the GPU instance buffer.
	// No-op without an attached device.
	SubmitWrites()

	// InstanceBuffer returns the GPU instance buffer, or nil before AttachGPU.
	//
	// Returns:
	//   - *wgpu.Buffer: the instance buffer or nil
	InstanceBuffer() *wgpu.Buffer

	// Dispose releases the GPU buffer, pooled matrices, and tracked state.
	Dispose()
}

var _ InstancedBatch = &instancedBatch{}

// defaultGCMaxAge is how long an instance may stay invisible before
// GarbageCollect reclaims its tracking slot.
const defaultGCMaxAge = 30 * time.Second

// Clamp bounds for the local adaptive-quality nudges, as fractions of the
// profile's configured values.
const (
	minCullingDistanceFrac = 0.4
	maxCullingDistanceFrac = 1.2
	minUpdateFrequency     = 5.0
	adjustCooldown         = 500 * time.Millisecond
)

// NewInstancedBatch creates a batch bound to a culling system and quality
// profile. The profile's MaxInstances fixes the instance buffer capacity.
//
// Parameters:
//   - cs: the culling system classifying this batch's instances (must not be nil)
//   - profile: the initial quality profile
//   - options: functional options to further configure the batch
//
// Returns:
//   - InstancedBatch: the newly created batch
func NewInstancedBatch(cs culling.System, profile quality.Profile, options ...BatchBuilderOption) InstancedBatch {
	if cs == nil {
		panic("batch: NewInstancedBatch requires a non-nil culling.System")
	}

	b := &instancedBatch{
		mu:              &sync.Mutex{},
		maxInstances:    profile.MaxInstances,
		states:          make(map[string]*instanceState),
		cs:              cs,
		profile:         profile,
		cullingDistance: profile.CullingDistance,
		updateFrequency: cs.UpdateFrequency(),
		gcMaxAge:        defaultGCMaxAge,
		now:             time.Now,
	}
	for _, option := range options {
		option(b)
	}
	if b.maxInstances == 0 {
		b.maxInstances = quality.ProfileMedium.MaxInstances
	}

	b.instanceData = make([]GPUInstanceAttribs, b.maxInstances)
	b.staging = make([]byte, int(b.maxInstances)*(&GPUInstanceAttribs{}).Size())
	b.dirtyIndices = make([]uint32, 0, b.maxInstances)
	b.dirtyBitset = make([]uint64, (b.maxInstances+63)/64)

	if b.matrixPool == nil {
		b.matrixPool = pool.NewPool(
			func() *[16]float32 { return &[16]float32{} },
			func(m *[16]float32) { *m = [16]float32{} },
			16, 64,
		)
	}
	return b
}

func (b *instancedBatch) AddInstance(id string, pos [3]float32, rot [4]float32, scale [3]float32, color [4]float32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id == "" {
		return false
	}
	if st, ok := b.states[id]; ok {
		b.applyAttribs(st, pos, rot, scale, color)
		return true
	}
	if uint32(len(b.states)) >= b.maxInstances {
		// Soft limit: decline the add rather than grow the buffer.
		log.Printf("[Batch] instance capacity %d exhausted, declining %s", b.maxInstances, id)
		return false
	}

	st := &instanceState{
		id:          id,
		drawIndex:   -1,
		lastVisible: b.now(),
	}
	b.applyAttribs(st, pos, rot, scale, color)
	b.states[id] = st
	b.order = append(b.order, id)
	return true
}

func (b *instancedBatch) UpdateInstance(id string, pos [3]float32, rot [4]float32, scale [3]float32, color [4]float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[id]
	if !ok {
		return
	}
	b.applyAttribs(st, pos, rot, scale, color)
}

func (b *instancedBatch) RemoveInstance(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[id]
	if !ok {
		return
	}
	b.tombstone(st)
	delete(b.states, id)
	for i := range b.order {
		if b.order[i] == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

func (b *instancedBatch) PerformCulling(dt float32) bool {
	b.mu.Lock()
	entities := b.entityViewLocked()
	b.mu.Unlock()

	// Culling results are computed before the attribute writes that consume
	// them; the system locks internally.
	if !b.cs.Update(entities, dt) {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.repackLocked()
	return true
}

func (b *instancedBatch) ForceCulling() {
	b.mu.Lock()
	entities := b.entityViewLocked()
	b.mu.Unlock()

	b.cs.ForceUpdate(entities)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.repackLocked()
}

func (b *instancedBatch) ActiveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeCount
}

func (b *instancedBatch) InstanceCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.states)
}

func (b *instancedBatch) GarbageCollect() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.gcMaxAge)
	removed := 0
	kept := b.order[:0]
	for _, id := range b.order {
		st := b.states[id]
		if !st.visible && st.lastVisible.Before(cutoff) {
			b.tombstone(st)
			delete(b.states, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	b.order = kept
	if removed > 0 {
		log.Printf("[Batch] garbage collected %d stale instances", removed)
	}
	return removed
}

func (b *instancedBatch) AdjustQualityForPerformance(avgFrameTimeMs float32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if avgFrameTimeMs <= 0 || b.profile.TargetFPS <= 0 {
		return
	}
	now := b.now()
	if !b.lastAdjust.IsZero() && now.Sub(b.lastAdjust) < adjustCooldown {
		return
	}

	targetMs := 1000.0 / b.profile.TargetFPS
	minDist := b.profile.CullingDistance * minCullingDistanceFrac
	maxDist := b.profile.CullingDistance * maxCullingDistanceFrac

	switch {
	case avgFrameTimeMs > targetMs*1.2:
		// Over budget: pull the horizon in and classify less often.
		b.cullingDistance = clampf(b.cullingDistance*0.9, minDist, maxDist)
		b.updateFrequency = clampf(b.updateFrequency*0.85, minUpdateFrequency, b.profile.TargetFPS)
	case avgFrameTimeMs < targetMs*0.8:
		// Headroom: relax back toward the profile's configured values.
		b.cullingDistance = clampf(b.cullingDistance*1.05, minDist, maxDist)
		b.updateFrequency = clampf(b.updateFrequency*1.1, minUpdateFrequency, b.profile.TargetFPS)
	default:
		return
	}
	b.lastAdjust = now

	adjusted := b.profile
	adjusted.CullingDistance = b.cullingDistance
	b.cs.UpdateQuality(adjusted)
	b.cs.SetUpdateFrequency(b.updateFrequency)
}

func (b *instancedBatch) ApplyQuality(profile quality.Profile) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.profile = profile
	b.cullingDistance = profile.CullingDistance
	b.cs.UpdateQuality(profile)
	// Capacity is fixed at construction; a smaller profile only gates future
	// adds, it does not shrink the buffer under live instances.
	if profile.MaxInstances > 0 && profile.MaxInstances < b.maxInstances {
		b.maxInstances = profile.MaxInstances
	}
}

func (b *instancedBatch) Stats() Stats {
	cullStats := b.cs.Stats()

	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		TrackedInstances: len(b.states),
		ActiveDrawCount:  b.activeCount,
		MaxInstances:     b.maxInstances,
		PoolFree:         b.matrixPool.Size(),
		PoolMax:          b.matrixPool.MaxSize(),
		Culling:          cullStats,
	}
}

func (b *instancedBatch) StagedWrites() []BufferWrite {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.staged
	b.staged = nil
	return out
}

func (b *instancedBatch) AttachGPU(device *wgpu.Device, queue *wgpu.Queue) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := uint64(int(b.maxInstances) * (&GPUInstanceAttribs{}).Size())
	buf, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            "Instance Attribute Buffer",
		Size:             size,
		Usage:            wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
		MappedAtCreation: false,
	})
	if err != nil {
		return fmt.Errorf("failed to create instance buffer: %w", err)
	}
	b.device = device
	b.queue = queue
	b.instanceBuffer = buf
	return nil
}

func (b *instancedBatch) SubmitWrites() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue == nil || b.instanceBuffer == nil {
		return
	}
	for _, w := range b.staged {
		b.queue.WriteBuffer(b.instanceBuffer, w.Offset, w.Data)
	}
	b.staged = nil
}

func (b *instancedBatch) InstanceBuffer() *wgpu.Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.instanceBuffer
}

func (b *instancedBatch) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.instanceBuffer != nil {
		b.instanceBuffer.Release()
		b.instanceBuffer = nil
	}
	b.device = nil
	b.queue = nil
	b.states = make(map[string]*instanceState)
	b.order = nil
	b.staged = nil
	b.activeCount = 0
	b.matrixPool.Clear()
}

// applyAttribs writes attributes into an instance state, applying zero-value
// defaults. Caller must hold b.mu.
func (b *instancedBatch) applyAttribs(st *instanceState, pos [3]float32, rot [4]float32, scale [3]float32, color [4]float32) {
	if rot == ([4]float32{}) {
		rot = [4]float32{0, 0, 0, 1}
	}
	if scale == ([3]float32{}) {
		scale = [3]float32{1, 1, 1}
	}
	if color == ([4]float32{}) {
		color = [4]float32{1, 1, 1, 1}
	}
	st.position = pos
	st.rotation = rot
	st.scale = scale
	st.color = color
}

// entityViewLocked builds the upstream entity list for the culling system.
// Caller must hold b.mu.
func (b *instancedBatch) entityViewLocked() []culling.Entity {
	out := make([]culling.Entity, 0, len(b.order))
	for _, id := range b.order {
		st := b.states[id]
		out = append(out, culling.Entity{
			ID:       st.id,
			Position: st.position,
			Rotation: st.rotation,
			Scale:    st.scale,
			Color:    st.color,
		})
	}
	return out
}

// repackLocked assigns packed draw indices 0..n-1 to the visible set in
// insertion order, composes each instance's model matrix through the pooled
// scratch matrix, and stages writes for slots whose payload actually
// changed. Caller must hold b.mu.
func (b *instancedBatch) repackLocked() {
	now := b.now()
	next := 0
	for _, id := range b.order {
		st := b.states[id]
		res, ok := b.cs.Result(id)
		if !ok {
			continue
		}

		st.visible = res.IsVisible
		if !res.IsVisible {
			st.drawIndex = -1
			continue
		}
		st.lastVisible = now
		if next >= int(b.maxInstances) {
			// Capacity races a profile downgrade; excess visibles wait for
			// the next pass.
			break
		}

		renderScale := quality.RenderScaleFor(res.LODLevel)
		attribs := b.composeAttribs(st, res, renderScale)
		if st.hasWritten && st.drawIndex == next && attribs == st.lastWritten {
			next++
			continue
		}

		st.drawIndex = next
		b.instanceData[next] = attribs
		st.lastWritten = attribs
		st.hasWritten = true
		b.enqueueDirty(uint32(next))
		next++
	}
	b.activeCount = next
	b.flushDirty()
}

// composeAttribs builds the GPU payload for one visible instance, scaling the
// transform by the tier's render scale. Caller must hold b.mu.
func (b *instancedBatch) composeAttribs(st *instanceState, res culling.Result, renderScale float32) GPUInstanceAttribs {
	m := b.matrixPool.Acquire()
	scaled := [3]float32{
		st.scale[0] * renderScale,
		st.scale[1] * renderScale,
		st.scale[2] * renderScale,
	}
	// Equivalent to m[:]; spelled via unsafe.Slice because slicing a
	// pointer-to-array returned by the generic pool crashes the compiler
	// ("bad ptr to array in slice go.shape.*uint8", Go 1.24-1.26).
	common.ComposeTRS(unsafe.Slice(&m[0], len(m)), st.position, st.rotation, scaled)

	var attribs GPUInstanceAttribs
	attribs.Model = *m
	attribs.Color = st.color
	attribs.Params = [4]float32{res.Distance, float32(res.LODLevel), renderScale, 0}

	b.matrixPool.Release(m)
	return attribs
}

// tombstone zero-scales an instance's draw slot so stale attributes cannot
// draw before the next repack. The slot is not compacted. Caller must hold
// b.mu.
func (b *instancedBatch) tombstone(st *instanceState) {
	if st.drawIndex < 0 || st.drawIndex >= len(b.instanceData) {
		return
	}
	var zeroed GPUInstanceAttribs
	zeroed.Color = st.color
	b.instanceData[st.drawIndex] = zeroed
	b.enqueueDirty(uint32(st.drawIndex))
	b.flushDirty()
	st.drawIndex = -1
}

// enqueueDirty adds a draw slot to the dirty queue if not already present.
// Uses a bitset for O(1) dedup. Caller must hold b.mu.
func (b *instancedBatch) enqueueDirty(index uint32) {
	word := index / 64
	bit := uint64(1) << (index % 64)
	if b.dirtyBitset[word]&bit != 0 {
		return // already queued
	}
	b.dirtyBitset[word] |= bit
	b.dirtyIndices = append(b.dirtyIndices, index)
}

// flushDirty coalesces sorted dirty slots into contiguous staged buffer
// writes, minimizing upload commands while only touching mutated spans.
// Caller must hold b.mu.
func (b *instancedBatch) flushDirty() {
	if len(b.dirtyIndices) == 0 {
		return
	}
	sortUint32(b.dirtyIndices)

	instSize := uint64((&GPUInstanceAttribs{}).Size())
	runStart := b.dirtyIndices[0]
	runEnd := runStart + 1 // exclusive
	for i := 1; i < len(b.dirtyIndices); i++ {
		idx := b.dirtyIndices[i]
		if idx == runEnd {
			runEnd++
			continue
		}
		b.stageRange(runStart, runEnd, instSize)
		runStart = idx
		runEnd = idx + 1
	}
	b.stageRange(runStart, runEnd, instSize)

	b.dirtyIndices = b.dirtyIndices[:0]
	for i := range b.dirtyBitset {
		b.dirtyBitset[i] = 0
	}
}

// stageRange stages a contiguous run of instance slots [start, end) as one
// buffer write into the reusable staging region. Caller must hold b.mu.
func (b *instancedBatch) stageRange(start, end uint32, instSize uint64) {
	offset := uint64(start) * instSize
	raw := common.SliceToBytes(b.instanceData[start:end])
	buf := b.staging[offset : offset+uint64(len(raw))]
	copy(buf, raw)
	b.staged = append(b.staged, BufferWrite{Offset: offset, Data: buf})
}

// sortUint32 sorts a uint32 slice in ascending order using insertion sort.
// Dirty queues are small enough that this beats sort.Slice by avoiding
// allocation.
func sortUint32(s []uint32) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && s[j] > key {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}

// clampf clamps v to [lo, hi].
func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
