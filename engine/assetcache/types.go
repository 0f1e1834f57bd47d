package assetcache

import (
	"github.com/voxelport/perf-go/common"
)

// Priority orders entries for eviction: lower priorities are evicted first.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// String returns the human-readable name of the priority.
//
// Returns:
//   - string: the priority name
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// textureSizeEstimate is the flat per-texture resident cost assumed when
// budgeting, independent of the encoded byte length. Decoded textures live
// on the GPU at roughly RGBA 512x512 regardless of their compressed size.
const textureSizeEstimate = 512 * 512 * 4

// ModelAsset is the cacheable payload of an imported model: raw geometry
// buffers plus any textures the import produced.
type ModelAsset struct {
	VertexData []byte
	IndexData  []byte
	Textures   []common.ImportedTexture
}

// SizeBytes estimates the asset's resident footprint: geometry buffer
// lengths plus a flat estimate per texture.
//
// Returns:
//   - uint64: the estimated size in bytes
func (a *ModelAsset) SizeBytes() uint64 {
	if a == nil {
		return 0
	}
	return uint64(len(a.VertexData)) + uint64(len(a.IndexData)) + uint64(len(a.Textures))*textureSizeEstimate
}

// ClipAsset is the cacheable payload of one animation clip: keyframe times
// and per-keyframe TRS tracks.
type ClipAsset struct {
	KeyframeTimes []float32
	Translations  [][3]float32
	Rotations     [][4]float32
	Scales        [][3]float32
}

// SizeBytes estimates the clip's resident footprint from its track lengths.
//
// Returns:
//   - uint64: the estimated size in bytes
func (a *ClipAsset) SizeBytes() uint64 {
	if a == nil {
		return 0
	}
	return uint64(len(a.KeyframeTimes))*4 +
		uint64(len(a.Translations))*12 +
		uint64(len(a.Rotations))*16 +
		uint64(len(a.Scales))*12
}
