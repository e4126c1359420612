package models

import "math"

// Point3 is a position in either a view's local voxel space or the fused world space
type Point3 [3]float64

// Volume represents a dense 3D intensity grid
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order (x fastest)
	Data []float32

	// Width is the width of the volume in voxels
	Width int

	// Height is the height of the volume in voxels
	Height int

	// Depth is the depth of the volume in voxels
	Depth int
}

// NewVolume allocates a zeroed volume. Callers that need to survive
// allocation failure go through storage.Factory instead.
func NewVolume(width, height, depth int) *Volume {
	return &Volume{
		Data:   make([]float32, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// NewVolumeFrom wraps existing data; len(data) must equal width*height*depth.
func NewVolumeFrom(data []float32, width, height, depth int) *Volume {
	return &Volume{Data: data, Width: width, Height: height, Depth: depth}
}

// Dims returns the size as [width, height, depth]
func (v *Volume) Dims() [3]int { return [3]int{v.Width, v.Height, v.Depth} }

// Len is the number of voxels
func (v *Volume) Len() int { return v.Width * v.Height * v.Depth }

// Index converts a voxel position into an offset into Data
func (v *Volume) Index(x, y, z int) int { return z*v.Width*v.Height + y*v.Width + x }

func (v *Volume) At(x, y, z int) float32       { return v.Data[v.Index(x, y, z)] }
func (v *Volume) Set(x, y, z int, val float32) { v.Data[v.Index(x, y, z)] = val }

// Contains reports whether p lies inside [0, size-1] on every axis
func (v *Volume) Contains(p Point3) bool {
	return InBounds(p, v.Dims())
}

// Clear zeroes every voxel without reallocating
func (v *Volume) Clear() {
	clear(v.Data)
}

// Slice returns the z-th xy plane, sharing storage with the volume
func (v *Volume) Slice(z int) []float32 {
	plane := v.Width * v.Height
	return v.Data[z*plane : (z+1)*plane]
}

// MinMax scans the volume for its intensity range. An empty volume returns 0, 0.
func (v *Volume) MinMax() (float32, float32) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	lo, hi := float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for _, val := range v.Data {
		if val < lo {
			lo = val
		}
		if val > hi {
			hi = val
		}
	}
	return lo, hi
}

// InBounds reports whether p lies inside a grid of the given size
func InBounds(p Point3, size [3]int) bool {
	for d := 0; d < 3; d++ {
		if p[d] < 0 || p[d] > float64(size[d]-1) {
			return false
		}
	}
	return true
}
