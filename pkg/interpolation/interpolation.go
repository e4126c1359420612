// Package interpolation samples a volume at sub-voxel local coordinates.
//
// All samplers are position-parameterized and keep no cursor state, so one
// volume can be read by any number of workers at once.
package interpolation

import (
	"fmt"
	"math"

	"multiviewfusion/internal/models"
)

// Kind selects the interpolation scheme
type Kind int

const (
	Linear Kind = iota
	NearestNeighbor
)

// ParseKind maps a configuration string to a Kind
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "linear", "trilinear":
		return Linear, nil
	case "nearest", "nearestneighbor", "nn":
		return NearestNeighbor, nil
	default:
		return Linear, fmt.Errorf("unknown interpolation %q", s)
	}
}

func (k Kind) String() string {
	switch k {
	case Linear:
		return "linear"
	case NearestNeighbor:
		return "nearest"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sample reads vol at p with the given scheme. p is expected to lie inside
// the volume; coordinates outside are clamped to the border.
func Sample(vol *models.Volume, p models.Point3, kind Kind) float32 {
	if kind == NearestNeighbor {
		return Nearest(vol, p)
	}
	return Trilinear(vol, p)
}

// Nearest returns the voxel closest to p
func Nearest(vol *models.Volume, p models.Point3) float32 {
	x := clampIndex(int(math.Round(p[0])), vol.Width)
	y := clampIndex(int(math.Round(p[1])), vol.Height)
	z := clampIndex(int(math.Round(p[2])), vol.Depth)
	return vol.At(x, y, z)
}

// Trilinear blends the eight voxels surrounding p. At integer positions the
// result equals the voxel value exactly.
func Trilinear(vol *models.Volume, p models.Point3) float32 {
	x0, fx := split(p[0], vol.Width)
	y0, fy := split(p[1], vol.Height)
	z0, fz := split(p[2], vol.Depth)

	x1 := clampIndex(x0+1, vol.Width)
	y1 := clampIndex(y0+1, vol.Height)
	z1 := clampIndex(z0+1, vol.Depth)

	if fx == 0 && fy == 0 && fz == 0 {
		return vol.At(x0, y0, z0)
	}

	c000 := float64(vol.At(x0, y0, z0))
	c100 := float64(vol.At(x1, y0, z0))
	c010 := float64(vol.At(x0, y1, z0))
	c110 := float64(vol.At(x1, y1, z0))
	c001 := float64(vol.At(x0, y0, z1))
	c101 := float64(vol.At(x1, y0, z1))
	c011 := float64(vol.At(x0, y1, z1))
	c111 := float64(vol.At(x1, y1, z1))

	c00 := c000 + (c100-c000)*fx
	c10 := c010 + (c110-c010)*fx
	c01 := c001 + (c101-c001)*fx
	c11 := c011 + (c111-c011)*fx

	c0 := c00 + (c10-c00)*fy
	c1 := c01 + (c11-c01)*fy

	return float32(c0 + (c1-c0)*fz)
}

// split returns the lower grid index of v and the fractional offset from it,
// clamped so that index+1 never leaves the axis.
func split(v float64, size int) (int, float64) {
	if v <= 0 {
		return 0, 0
	}
	if v >= float64(size-1) {
		return size - 1, 0
	}
	i := int(math.Floor(v))
	return i, v - float64(i)
}

func clampIndex(i, size int) int {
	if i < 0 {
		return 0
	}
	if i >= size {
		return size - 1
	}
	return i
}
