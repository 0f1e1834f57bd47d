package quality

import (
	"sync"

	"github.com/voxelport/perf-go/common"
)

// Per-tier multipliers applied to the profile's base update rate and render
// scale. Distant entities are simulated and animated less often and at lower
// apparent detail.
var (
	tierUpdateMultiplier = map[Tier]float32{
		TierHigh:   1.0,
		TierMedium: 0.6,
		TierLow:    0.3,
		TierCulled: 0.0,
	}
	tierRenderScale = map[Tier]float32{
		TierHigh:   1.0,
		TierMedium: 0.8,
		TierLow:    0.6,
		TierCulled: 0.0,
	}
)

// RenderScaleFor returns the apparent-detail scale factor for a tier.
//
// Parameters:
//   - t: the LOD tier
//
// Returns:
//   - float32: the render scale, 0 for culled tiers
func RenderScaleFor(t Tier) float32 {
	return tierRenderScale[t]
}

// Calculator is the pure distance-to-tier mapper. Its only mutable state is
// the active quality profile and the last known camera position; profile
// swaps are whole-struct and never observed partially applied.
type Calculator struct {
	mu        *sync.Mutex
	profile   Profile
	cameraPos [3]float32
}

// NewCalculator creates a Calculator with the given active profile.
//
// Parameters:
//   - profile: the initial quality profile
//
// Returns:
//   - *Calculator: the newly created calculator
func NewCalculator(profile Profile) *Calculator {
	return &Calculator{
		mu:      &sync.Mutex{},
		profile: profile,
	}
}

// SetCameraPosition records the viewer position distances are measured from.
//
// Parameters:
//   - pos: camera position in world space
func (c *Calculator) SetCameraPosition(pos [3]float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cameraPos = pos
}

// UpdateQuality swaps the active profile. The swap is atomic with respect to
// any single calculation: a tier, frequency, or scale result reflects exactly
// one profile.
//
// Parameters:
//   - profile: the new active profile
func (c *Calculator) UpdateQuality(profile Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = profile
}

// Profile returns a copy of the active profile.
//
// Returns:
//   - Profile: the active profile
func (c *Calculator) Profile() Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// CalculateLOD classifies a world position by its distance from the camera.
// Within the mid threshold the tier is high, within the far threshold medium,
// within the culling distance low, and beyond that culled. Ties at a
// threshold resolve to the more detailed tier. Non-finite positions classify
// as culled.
//
// Parameters:
//   - pos: entity position in world space
//
// Returns:
//   - Tier: the classified LOD tier
func (c *Calculator) CalculateLOD(pos [3]float32) Tier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tierFor(pos)
}

// LODForDistance classifies a precomputed camera distance. Useful when the
// caller has already paid for the distance calculation.
//
// Parameters:
//   - distance: distance from the camera in world units
//
// Returns:
//   - Tier: the classified LOD tier
func (c *Calculator) LODForDistance(distance float32) Tier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tierForDistance(distance)
}

// GetUpdateFrequency returns the simulation/animation update rate in Hz for
// an entity at pos: the profile's target FPS scaled by the tier multiplier
// (1.0 / 0.6 / 0.3 / 0).
//
// Parameters:
//   - pos: entity position in world space
//
// Returns:
//   - float32: the scaled update frequency in Hz
func (c *Calculator) GetUpdateFrequency(pos [3]float32) float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile.TargetFPS * tierUpdateMultiplier[c.tierFor(pos)]
}

// GetRenderScale returns the apparent-detail scale factor for an entity at
// pos (1.0 / 0.8 / 0.6 / 0 by tier).
//
// Parameters:
//   - pos: entity position in world space
//
// Returns:
//   - float32: the render scale factor
func (c *Calculator) GetRenderScale(pos [3]float32) float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tierRenderScale[c.tierFor(pos)]
}

// tierFor classifies pos against the active profile. Caller must hold c.mu.
func (c *Calculator) tierFor(pos [3]float32) Tier {
	if !common.Finite3(pos) {
		return TierCulled
	}
	return c.tierForDistance(common.Distance3(c.cameraPos, pos))
}

// tierForDistance maps a camera distance to a tier. Caller must hold c.mu.
func (c *Calculator) tierForDistance(d float32) Tier {
	switch {
	case d > c.profile.CullingDistance:
		return TierCulled
	case d > c.profile.LODDistances[2]:
		return TierLow
	case d > c.profile.LODDistances[1]:
		return TierMedium
	default:
		return TierHigh
	}
}
