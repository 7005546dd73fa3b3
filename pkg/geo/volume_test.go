package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func TestExpand(t *testing.T) {
	v := Expand(Box(100, 200, 150, 260), 10, 20, 3, 5)

	assert.Equal(t, Volume{X1: 80, Y1: 180, Z1: 7, X2: 170, Y2: 280, Z2: 15}, v)
}

func TestExpandClampsLowerSection(t *testing.T) {
	v := Expand(Box(0, 0, 10, 10), 2, 0, 5, 1)

	assert.Equal(t, uint32(0), v.Z1)
	assert.Equal(t, uint32(3), v.Z2)
}

func TestExpandSectionOverflow(t *testing.T) {
	v := Expand(Box(0, 0, 1, 1), math.MaxUint32-1, 0, 0, 10)

	assert.Equal(t, uint32(math.MaxUint32), v.Z2)
}

func TestClamp(t *testing.T) {
	v := Volume{X1: -50, Y1: -50, Z1: 0, X2: 2000, Y2: 300, Z2: 90}
	extent := Volume{X1: 0, Y1: 0, Z1: 0, X2: 1024, Y2: 1024, Z2: 63}

	got := v.Clamp(extent)

	assert.Equal(t, Volume{X1: 0, Y1: 0, Z1: 0, X2: 1024, Y2: 300, Z2: 63}, got)
	assert.Equal(t, v, v.Clamp(Volume{}), "zero extent must not clamp")
}

func TestIntersects(t *testing.T) {
	v := Volume{X1: 0, Y1: 0, Z1: 4, X2: 100, Y2: 100, Z2: 6}

	assert.True(t, v.Intersects(Box(90, 90, 120, 120), 5))
	assert.False(t, v.Intersects(Box(90, 90, 120, 120), 7), "section outside range")
	assert.False(t, v.Intersects(Box(101, 0, 120, 20), 5), "box outside range")
}

func TestPointToBoxDist(t *testing.T) {
	b := Box(0, 0, 10, 10)

	tests := []struct {
		name string
		p    orb.Point
		want float64
	}{
		{"inside", orb.Point{5, 5}, 0},
		{"on edge", orb.Point{10, 3}, 0},
		{"left", orb.Point{-4, 5}, 4},
		{"corner", orb.Point{13, 14}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, PointToBoxDist(tt.p, b), 1e-9)
		})
	}
}
