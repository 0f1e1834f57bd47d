package batch

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUInstanceAttribs is the GPU-aligned representation of one rendered
// instance: model matrix, color, and packed culling parameters.
// Size: 96 bytes (24 floats, std430 aligned).
type GPUInstanceAttribs struct {
	Model [16]float32 // offset 0, size 64 (mat4x4<f32>)
	Color [4]float32  // offset 64: RGBA
	// Params packs (camera distance, LOD tier, render scale, unused).
	Params [4]float32 // offset 80
}

// Size returns the size of the GPUInstanceAttribs struct in bytes.
//
// Returns:
//   - int: The size of the struct in bytes.
func (g *GPUInstanceAttribs) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUInstanceAttribs struct into a byte buffer
// suitable for GPU upload.
//
// Returns:
//   - []byte: 96-byte buffer ready for GPU upload.
func (g *GPUInstanceAttribs) Marshal() []byte {
	buf := make([]byte, g.Size())
	for i := range 16 {
		binary.LittleEndian.PutUint32(buf[i*4:(i+1)*4], math.Float32bits(g.Model[i]))
	}
	for i := range 4 {
		off := 64 + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(g.Color[i]))
	}
	for i := range 4 {
		off := 80 + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(g.Params[i]))
	}
	return buf
}

// BufferWrite describes a single pending GPU buffer write at a byte offset
// into the batch's instance buffer. Writes are staged CPU-side and drained by
// SubmitWrites once a device queue is attached.
type BufferWrite struct {
	Offset uint64
	Data   []byte
}
