package registry

import (
	"fmt"

	"gunlayer/broker/internal/physics"
)

const (
	packedXZBits = 26
	packedYBits  = 12
	packedXShift = packedYBits + packedXZBits
	packedZShift = packedYBits

	packedXZMask = int64(1)<<packedXZBits - 1
	packedYMask  = int64(1)<<packedYBits - 1
)

// BlockPos addresses one block of the world grid.
type BlockPos struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Above returns the block n levels higher.
func (p BlockPos) Above(n int) BlockPos {
	p.Y += n
	return p
}

// Center returns the centre of the block in world coordinates.
func (p BlockPos) Center() physics.Vec3 {
	return physics.V3(float64(p.X)+0.5, float64(p.Y)+0.5, float64(p.Z)+0.5)
}

// Long packs the position into 64 bits: 26 bits of X, 26 bits of Z, 12 bits of Y.
// Coordinates outside those ranges wrap.
func (p BlockPos) Long() int64 {
	return (int64(p.X)&packedXZMask)<<packedXShift |
		(int64(p.Z)&packedXZMask)<<packedZShift |
		int64(p.Y)&packedYMask
}

// FromLong unpacks a value produced by Long, sign-extending every axis.
func FromLong(packed int64) BlockPos {
	return BlockPos{
		X: int(packed >> packedXShift),
		Y: int(packed << (64 - packedYBits) >> (64 - packedYBits)),
		Z: int(packed << (64 - packedZShift - packedXZBits) >> (64 - packedXZBits)),
	}
}

// String renders the position as "x,y,z".
func (p BlockPos) String() string {
	return fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z)
}
