package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Volume is an axis-aligned query box in stack space.
// X/Y are in stack pixels; Z1..Z2 is an inclusive range of section indices.
type Volume struct {
	X1, Y1 float64
	Z1     uint32
	X2, Y2 float64
	Z2     uint32
}

// Box builds a planar bound from min/max corners.
func Box(minX, minY, maxX, maxY float64) orb.Bound {
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
}

// Expand grows a slice box by a spatial margin and a section index by a
// backward/forward range. The lower section bound never drops below zero.
func Expand(b orb.Bound, section uint32, margin float64, backward, forward uint32) Volume {
	padded := b.Pad(margin)

	z1 := uint32(0)
	if section > backward {
		z1 = section - backward
	}
	z2 := section + forward
	if z2 < section { // overflow
		z2 = math.MaxUint32
	}

	return Volume{
		X1: padded.Min.X(), Y1: padded.Min.Y(), Z1: z1,
		X2: padded.Max.X(), Y2: padded.Max.Y(), Z2: z2,
	}
}

// IsZero reports whether v is the zero Volume.
func (v Volume) IsZero() bool {
	return v == Volume{}
}

// Bound returns the planar extent of the volume.
func (v Volume) Bound() orb.Bound {
	return Box(v.X1, v.Y1, v.X2, v.Y2)
}

// ContainsSection reports whether section z lies in [Z1, Z2].
func (v Volume) ContainsSection(z uint32) bool {
	return z >= v.Z1 && z <= v.Z2
}

// Intersects reports whether a slice box on section z overlaps the volume.
func (v Volume) Intersects(b orb.Bound, z uint32) bool {
	return v.ContainsSection(z) && v.Bound().Intersects(b)
}

// Clamp restricts v to extent. A zero extent leaves v unchanged.
func (v Volume) Clamp(extent Volume) Volume {
	if extent.IsZero() {
		return v
	}
	v.X1 = math.Max(v.X1, extent.X1)
	v.Y1 = math.Max(v.Y1, extent.Y1)
	v.X2 = math.Min(v.X2, extent.X2)
	v.Y2 = math.Min(v.Y2, extent.Y2)
	v.Z1 = max(v.Z1, extent.Z1)
	v.Z2 = min(v.Z2, extent.Z2)
	return v
}

func (v Volume) String() string {
	return fmt.Sprintf("(%g,%g,%d,%g,%g,%d)", v.X1, v.Y1, v.Z1, v.X2, v.Y2, v.Z2)
}

// PointToBoxDist returns the planar distance from p to the closest point of b.
// Points inside the box are at distance zero.
func PointToBoxDist(p orb.Point, b orb.Bound) float64 {
	dx := math.Max(0, math.Max(b.Min.X()-p.X(), p.X()-b.Max.X()))
	dy := math.Max(0, math.Max(b.Min.Y()-p.Y(), p.Y()-b.Max.Y()))
	return math.Hypot(dx, dy)
}
