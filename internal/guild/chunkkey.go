package guild

import (
	"fmt"
	"strconv"
	"strings"
)

// ChunkKey identifies a single claimable map cell: a world plus two chunk
// coordinates. Comparable, so it can key the territory index directly.
type ChunkKey struct {
	World string
	X     int32
	Z     int32
}

// String renders the persisted "world,x,z" triple.
func (k ChunkKey) String() string {
	return fmt.Sprintf("%s,%d,%d", k.World, k.X, k.Z)
}

// ParseChunkKey parses a "world,x,z" triple. The world portion may itself
// contain commas; the two trailing fields are the coordinates.
func ParseChunkKey(s string) (ChunkKey, error) {
	i := strings.LastIndexByte(s, ',')
	if i <= 0 {
		return ChunkKey{}, fmt.Errorf("malformed chunk key %q", s)
	}
	j := strings.LastIndexByte(s[:i], ',')
	if j <= 0 {
		return ChunkKey{}, fmt.Errorf("malformed chunk key %q", s)
	}
	x, err := strconv.ParseInt(s[j+1:i], 10, 32)
	if err != nil {
		return ChunkKey{}, fmt.Errorf("malformed chunk key %q: %w", s, err)
	}
	z, err := strconv.ParseInt(s[i+1:], 10, 32)
	if err != nil {
		return ChunkKey{}, fmt.Errorf("malformed chunk key %q: %w", s, err)
	}
	return ChunkKey{World: s[:j], X: int32(x), Z: int32(z)}, nil
}

// Adjacent reports whether other shares an edge with k in the same world.
func (k ChunkKey) Adjacent(other ChunkKey) bool {
	if k.World != other.World {
		return false
	}
	dx := k.X - other.X
	if dx < 0 {
		dx = -dx
	}
	dz := k.Z - other.Z
	if dz < 0 {
		dz = -dz
	}
	return dx+dz == 1
}

// Position is a full world position, used for named guild homes.
type Position struct {
	World string
	X     float64
	Y     float64
	Z     float64
	Yaw   float32
	Pitch float32
}
