// package quality defines the discrete quality profiles the performance
// governor selects among, and the pure distance-to-LOD mapping used by the
// culling pipeline.
package quality

import "fmt"

// Tier is a discrete level-of-detail classification for one entity.
type Tier uint8

const (
	// TierHigh renders and simulates at full fidelity.
	TierHigh Tier = iota
	// TierMedium reduces update rate and render scale for mid-range entities.
	TierMedium
	// TierLow is the long-tail tier for distant but still visible entities.
	TierLow
	// TierCulled marks entities beyond the far bound; they are neither drawn
	// nor simulated.
	TierCulled
)

// String returns the lowercase tier name.
//
// Returns:
//   - string: "high", "medium", "low", or "culled"
func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	case TierLow:
		return "low"
	case TierCulled:
		return "culled"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

// Profile holds the tunables one quality tier applies to the culling pipeline
// and render batch. The three canonical presets are immutable; the governor
// selects among them or scales a copy within configured bounds, it never
// invents values outside them.
type Profile struct {
	// Name identifies the profile ("low", "medium", "high").
	Name string

	// MaxInstances caps the number of instances a render batch will track.
	MaxInstances uint32

	// LODDistances holds the near, mid, and far tier thresholds in world
	// units. Entities within the mid threshold are classified TierHigh,
	// within the far threshold TierMedium, and within CullingDistance
	// TierLow. The near threshold bounds the full-rate inner band and is
	// carried as a tunable for consumers that distinguish it.
	LODDistances [3]float32

	// CullingDistance is the far bound beyond which entities are culled
	// outright.
	CullingDistance float32

	// BatchSize is the number of entities classified per culling pass.
	BatchSize uint32

	// TargetFPS is the frame rate the governor steers toward and the base
	// rate LOD update-frequency scaling applies to.
	TargetFPS float32

	// ThermalThrottling enables the governor's thermal sub-policy.
	ThermalThrottling bool

	// AdaptiveQuality enables continuous quality scaling between discrete
	// tier switches.
	AdaptiveQuality bool
}

// Canonical presets. Treat as immutable: take a copy before mutating.
var (
	// ProfileLow favors battery and thermals over fidelity.
	ProfileLow = Profile{
		Name:              "low",
		MaxInstances:      2000,
		LODDistances:      [3]float32{10, 25, 50},
		CullingDistance:   80,
		BatchSize:         50,
		TargetFPS:         30,
		ThermalThrottling: true,
		AdaptiveQuality:   true,
	}

	// ProfileMedium is the default balanced preset.
	ProfileMedium = Profile{
		Name:              "medium",
		MaxInstances:      5000,
		LODDistances:      [3]float32{20, 40, 80},
		CullingDistance:   120,
		BatchSize:         100,
		TargetFPS:         60,
		ThermalThrottling: true,
		AdaptiveQuality:   true,
	}

	// ProfileHigh favors fidelity on hardware with headroom.
	ProfileHigh = Profile{
		Name:              "high",
		MaxInstances:      10000,
		LODDistances:      [3]float32{30, 60, 120},
		CullingDistance:   200,
		BatchSize:         200,
		TargetFPS:         60,
		ThermalThrottling: true,
		AdaptiveQuality:   true,
	}
)

// PresetByName returns the canonical preset for a tier name.
//
// Parameters:
//   - name: "low", "medium", or "high"
//
// Returns:
//   - Profile: a copy of the preset
//   - bool: false if the name is not a recognized preset
func PresetByName(name string) (Profile, bool) {
	switch name {
	case "low":
		return ProfileLow, true
	case "medium":
		return ProfileMedium, true
	case "high":
		return ProfileHigh, true
	default:
		return Profile{}, false
	}
}

// Options is a partial profile override. Nil fields keep the base profile's
// value; set fields replace it. This is the explicit counterpart of spreading
// a partial config over defaults.
type Options struct {
	MaxInstances      *uint32
	LODDistances      *[3]float32
	CullingDistance   *float32
	BatchSize         *uint32
	TargetFPS         *float32
	ThermalThrottling *bool
	AdaptiveQuality   *bool
}

// Merge applies the set fields of opts onto a copy of base and returns it.
// The base profile is never mutated.
//
// Parameters:
//   - base: the profile supplying defaults
//   - opts: partial overrides (may be nil)
//
// Returns:
//   - Profile: the merged profile
func Merge(base Profile, opts *Options) Profile {
	out := base
	if opts == nil {
		return out
	}
	if opts.MaxInstances != nil {
		out.MaxInstances = *opts.MaxInstances
	}
	if opts.LODDistances != nil {
		out.LODDistances = *opts.LODDistances
	}
	if opts.CullingDistance != nil {
		out.CullingDistance = *opts.CullingDistance
	}
	if opts.BatchSize != nil {
		out.BatchSize = *opts.BatchSize
	}
	if opts.TargetFPS != nil {
		out.TargetFPS = *opts.TargetFPS
	}
	if opts.ThermalThrottling != nil {
		out.ThermalThrottling = *opts.ThermalThrottling
	}
	if opts.AdaptiveQuality != nil {
		out.AdaptiveQuality = *opts.AdaptiveQuality
	}
	return out
}
