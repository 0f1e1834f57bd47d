package batch

import (
	"time"

	"github.com/voxelport/perf-go/engine/pool"
)

type BatchBuilderOption func(*instancedBatch)

// WithMaxInstances overrides the instance capacity taken from the quality
// profile. Values of 0 are ignored.
//
// Parameters:
//   - maxInstances: the instance buffer capacity
//
// Returns:
//   - BatchBuilderOption: the option function
func WithMaxInstances(maxInstances uint32) BatchBuilderOption {
	return func(b *instancedBatch) {
		if maxInstances > 0 {
			b.maxInstances = maxInstances
		}
	}
}

// WithMatrixPool supplies a shared matrix scratch pool instead of the batch
// allocating its own.
//
// Parameters:
//   - p: the pool of 4x4 matrix scratch buffers
//
// Returns:
//   - BatchBuilderOption: the option function
func WithMatrixPool(p *pool.Pool[*[16]float32]) BatchBuilderOption {
	return func(b *instancedBatch) {
		if p != nil {
			b.matrixPool = p
		}
	}
}

// WithGCMaxAge sets how long an instance may remain invisible before
// GarbageCollect reclaims it.
//
// Parameters:
//   - age: the invisibility age threshold
//
// Returns:
//   - BatchBuilderOption: the option function
func WithGCMaxAge(age time.Duration) BatchBuilderOption {
	return func(b *instancedBatch) {
		if age > 0 {
			b.gcMaxAge = age
		}
	}
}

// WithBatchClock overrides the time source, used by tests to drive garbage
// collection and adjustment cooldowns deterministically.
//
// Parameters:
//   - now: the clock function
//
// Returns:
//   - BatchBuilderOption: the option function
func WithBatchClock(now func() time.Time) BatchBuilderOption {
	return func(b *instancedBatch) {
		if now != nil {
			b.now = now
		}
	}
}
