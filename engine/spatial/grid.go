// package spatial provides a sparse uniform-cell index over dynamic entity
// positions. It is the proximity structure behind the culling system's
// neighbor queries and is owned by a single goroutine (the frame loop).
package spatial

import (
	"math"

	"github.com/voxelport/perf-go/common"
)

// CellKey identifies one grid cell by its integer cell coordinates.
type CellKey struct {
	X int32
	Y int32
	Z int32
}

// Grid is a sparse 3D spatial hash over entity positions. Entities are
// bucketed by floor(position / cellSize); empty buckets are pruned on removal
// so memory tracks the live entity set, not the world extent.
//
// Cell size is a construction-time tunable: too small fragments buckets, too
// large degrades query locality. It is not adaptive.
type Grid struct {
	cellSize    float32
	invCellSize float32

	cells     map[CellKey][]string
	positions map[string][3]float32
}

// DefaultCellSize is the cell edge length used when NewGrid is given a
// non-positive cell size. Sized for entity densities typical of an avatar
// crowd (a few entities per 32-unit cell).
const DefaultCellSize = 32.0

// NewGrid creates an empty spatial grid with the given cell size.
//
// Parameters:
//   - cellSize: edge length of each cubic cell; values <= 0 fall back to DefaultCellSize
//
// Returns:
//   - *Grid: the newly created grid
func NewGrid(cellSize float32) *Grid {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return &Grid{
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		cells:       make(map[CellKey][]string),
		positions:   make(map[string][3]float32),
	}
}

// CellSize returns the configured cell edge length.
//
// Returns:
//   - float32: the cell size
func (g *Grid) CellSize() float32 {
	return g.cellSize
}

// Count returns the number of entities currently indexed.
//
// Returns:
//   - int: the entity count
func (g *Grid) Count() int {
	return len(g.positions)
}

// Insert indexes an entity at the given position. Inserting an id that is
// already indexed re-buckets it (equivalent to Update). Positions with
// non-finite components are rejected and the grid is left unchanged.
//
// Parameters:
//   - id: unique entity identifier
//   - pos: entity position in world space
//
// Returns:
//   - bool: true if the entity was indexed, false if the position was rejected
func (g *Grid) Insert(id string, pos [3]float32) bool {
	if id == "" || !common.Finite3(pos) {
		return false
	}
	if _, exists := g.positions[id]; exists {
		g.Remove(id)
	}
	key := g.keyFor(pos)
	g.cells[key] = append(g.cells[key], id)
	g.positions[id] = pos
	return true
}

// Remove deletes an entity from the index, pruning its bucket if it becomes
// empty. Removing an unknown id is a no-op.
//
// Parameters:
//   - id: the entity identifier to remove
func (g *Grid) Remove(id string) {
	pos, ok := g.positions[id]
	if !ok {
		return
	}
	key := g.keyFor(pos)
	bucket := g.cells[key]
	for i := range bucket {
		if bucket[i] == id {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			break
		}
	}
	if len(bucket) == 0 {
		delete(g.cells, key)
	} else {
		g.cells[key] = bucket
	}
	delete(g.positions, id)
}

// Update re-buckets an entity after a position change. Implemented as
// remove + insert; unknown ids are simply inserted.
//
// Parameters:
//   - id: the entity identifier
//   - pos: the new position
//
// Returns:
//   - bool: true if the entity was re-indexed, false if the position was rejected
func (g *Grid) Update(id string, pos [3]float32) bool {
	if !common.Finite3(pos) {
		return false
	}
	g.Remove(id)
	return g.Insert(id, pos)
}

// Position returns the indexed position for an entity.
//
// Parameters:
//   - id: the entity identifier
//
// Returns:
//   - [3]float32: the stored position (zero if not indexed)
//   - bool: true if the entity is indexed
func (g *Grid) Position(id string) ([3]float32, bool) {
	pos, ok := g.positions[id]
	return pos, ok
}

// QueryRadius returns the ids of all entities within radius of center,
// filtered by true Euclidean distance. The scan covers the
// ceil(radius/cellSize) ring of neighboring cells around the center cell.
// The returned slice is freshly allocated and safe to retain.
//
// Parameters:
//   - center: query center in world space
//   - radius: query radius (non-positive or non-finite yields an empty result)
//
// Returns:
//   - []string: ids of entities within the radius
func (g *Grid) QueryRadius(center [3]float32, radius float32) []string {
	if radius <= 0 || !common.Finite3(center) ||
		math.IsNaN(float64(radius)) || math.IsInf(float64(radius), 0) {
		return nil
	}

	ring := int32(math.Ceil(float64(radius * g.invCellSize)))
	ck := g.keyFor(center)

	var out []string
	for dx := -ring; dx <= ring; dx++ {
		for dy := -ring; dy <= ring; dy++ {
			for dz := -ring; dz <= ring; dz++ {
				key := CellKey{X: ck.X + dx, Y: ck.Y + dy, Z: ck.Z + dz}
				for _, id := range g.cells[key] {
					if common.Distance3(g.positions[id], center) <= radius {
						out = append(out, id)
					}
				}
			}
		}
	}
	return out
}

// Clear removes all entities and buckets.
func (g *Grid) Clear() {
	g.cells = make(map[CellKey][]string)
	g.positions = make(map[string][3]float32)
}

// keyFor computes the cell key containing a position. Callers must have
// validated the position as finite.
func (g *Grid) keyFor(pos [3]float32) CellKey {
	return CellKey{
		X: int32(math.Floor(float64(pos[0] * g.invCellSize))),
		Y: int32(math.Floor(float64(pos[1] * g.invCellSize))),
		Z: int32(math.Floor(float64(pos[2] * g.invCellSize))),
	}
}
