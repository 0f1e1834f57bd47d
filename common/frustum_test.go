package common

import (
	"math"
	"testing"
)

// stdFrustum builds the frustum of a camera at the origin looking down -Z
// with a 90° vertical fov and square aspect, so the frustum half-width at
// depth z equals z.
func stdFrustum(near, far float32) Frustum {
	view := make([]float32, 16)
	proj := make([]float32, 16)
	viewProj := make([]float32, 16)
	LookAt(view, 0, 0, 0, 0, 0, -1, 0, 1, 0)
	Perspective(proj, math.Pi/2, 1, near, far)
	Mul4(viewProj, proj, view)
	return ExtractFrustumFromMatrix(viewProj)
}

func TestContainsPointInsideAndOutside(t *testing.T) {
	f := stdFrustum(0.1, 100)

	inside := [][3]float32{
		{0, 0, -1},
		{0, 0, -50},
		{4, 4, -5},   // within the 45° cone
		{-40, 0, -50},
	}
	for _, p := range inside {
		if !f.ContainsPoint(p) {
			t.Errorf("point %v should be inside the frustum", p)
		}
	}

	outside := [][3]float32{
		{0, 0, 1},     // behind the camera
		{0, 0, -200},  // beyond the far plane
		{10, 0, -5},   // outside the right plane
		{0, -10, -5},  // outside the bottom plane
		{0, 0, -0.01}, // in front of the near plane
	}
	for _, p := range outside {
		if f.ContainsPoint(p) {
			t.Errorf("point %v should be outside the frustum", p)
		}
	}
}

func TestContainsSphereStraddlingPlane(t *testing.T) {
	f := stdFrustum(0.1, 100)

	// Center just outside the right plane at depth 5 (half-width 5), but the
	// radius reaches back across it.
	if !f.ContainsSphere([3]float32{6, 0, -5}, 2) {
		t.Error("sphere straddling the right plane rejected")
	}
	// Same center with a radius too small to reach the plane.
	if f.ContainsSphere([3]float32{10, 0, -5}, 1) {
		t.Error("sphere fully outside the right plane accepted")
	}
	// Zero radius degenerates to the point test.
	if f.ContainsSphere([3]float32{0, 0, -5}, 0) != f.ContainsPoint([3]float32{0, 0, -5}) {
		t.Error("zero-radius sphere disagrees with point test")
	}
}

func TestExtractedPlanesAreNormalized(t *testing.T) {
	f := stdFrustum(0.5, 200)
	for i, p := range f.Planes {
		length := math.Sqrt(float64(
			p.Normal[0]*p.Normal[0] + p.Normal[1]*p.Normal[1] + p.Normal[2]*p.Normal[2]))
		if math.Abs(length-1) > 1e-4 {
			t.Errorf("plane %d normal length = %v, want 1", i, length)
		}
	}
}

func TestPlaneOrientationPointsInward(t *testing.T) {
	f := stdFrustum(0.1, 100)

	// A deep central point has positive signed distance to every plane.
	center := [3]float32{0, 0, -50}
	for i, pl := range f.Planes {
		dist := pl.Normal[0]*center[0] + pl.Normal[1]*center[1] + pl.Normal[2]*center[2] + pl.Distance
		if dist <= 0 {
			t.Errorf("plane %d signed distance %v for interior point, want > 0", i, dist)
		}
	}
}
