package culling

import (
	"time"

	"github.com/voxelport/perf-go/engine/spatial"
)

type SystemBuilderOption func(*cullingSystem)

// WithGrid supplies a pre-built spatial grid, letting consumers share one
// index across systems. When omitted a grid with the default cell size is
// created.
//
// Parameters:
//   - grid: the spatial grid to use
//
// Returns:
//   - SystemBuilderOption: a function that sets the grid
func WithGrid(grid *spatial.Grid) SystemBuilderOption {
	return func(s *cullingSystem) {
		if grid != nil {
			s.grid = grid
		}
	}
}

// WithBatchSize overrides the profile's batch window size.
//
// Parameters:
//   - size: entities classified per pass (values <= 0 are ignored)
//
// Returns:
//   - SystemBuilderOption: a function that sets the batch size
func WithBatchSize(size int) SystemBuilderOption {
	return func(s *cullingSystem) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithUpdateFrequency sets how many classification passes run per second.
//
// Parameters:
//   - hz: passes per second (values <= 0 are ignored)
//
// Returns:
//   - SystemBuilderOption: a function that sets the pass rate
func WithUpdateFrequency(hz float32) SystemBuilderOption {
	return func(s *cullingSystem) {
		if hz > 0 {
			s.updateFrequency = hz
		}
	}
}

// WithDistanceCulling enables or disables the distance test.
//
// Parameters:
//   - enabled: false to skip distance culling entirely
//
// Returns:
//   - SystemBuilderOption: a function that toggles distance culling
func WithDistanceCulling(enabled bool) SystemBuilderOption {
	return func(s *cullingSystem) {
		s.distanceCulling = enabled
	}
}

// WithFrustumCulling enables or disables the frustum test.
//
// Parameters:
//   - enabled: false to treat every within-distance entity as in-frustum
//
// Returns:
//   - SystemBuilderOption: a function that toggles frustum culling
func WithFrustumCulling(enabled bool) SystemBuilderOption {
	return func(s *cullingSystem) {
		s.frustumCulling = enabled
	}
}

// WithNeighborRadius tunes the neighbor-rescue radius of the conservative
// frustum heuristic.
//
// Parameters:
//   - radius: rescue radius in world units (values < 0 disable the rescue)
//
// Returns:
//   - SystemBuilderOption: a function that sets the rescue radius
func WithNeighborRadius(radius float32) SystemBuilderOption {
	return func(s *cullingSystem) {
		s.neighborRadius = radius
	}
}

// WithDistanceMargin tunes the slack added to the culling distance to avoid
// boundary flicker.
//
// Parameters:
//   - margin: margin in world units
//
// Returns:
//   - SystemBuilderOption: a function that sets the distance margin
func WithDistanceMargin(margin float32) SystemBuilderOption {
	return func(s *cullingSystem) {
		s.distanceMargin = margin
	}
}

// WithClock injects the time source used for throttling and timestamps.
// Intended for tests.
//
// Parameters:
//   - now: replacement for time.Now
//
// Returns:
//   - SystemBuilderOption: a function that sets the clock
func WithClock(now func() time.Time) SystemBuilderOption {
	return func(s *cullingSystem) {
		if now != nil {
			s.now = now
		}
	}
}
