package fusion

import (
	"errors"
	"fmt"
	"math"

	"multiviewfusion/internal/logging"
	"multiviewfusion/internal/models"
	"multiviewfusion/pkg/dataset"
)

// ErrNoUsableViews is returned when no view can take part in fusion.
var ErrNoUsableViews = errors.New("no usable views")

// boundsEpsilon absorbs round-off in transformed corners so that a bound of
// 9.0000000001 does not add a whole voxel.
const boundsEpsilon = 1e-6

// Frame is the geometry of the fused output volume.
type Frame struct {
	// WorldMin and WorldMax span all usable views in world space
	WorldMin models.Point3
	WorldMax models.Point3

	Scale      int
	CropOffset [3]int
	CropSize   [3]int

	// Dims is the output size in voxels
	Dims [3]int
}

// World maps an output voxel to world space
func (f Frame) World(x, y, z int) models.Point3 {
	return models.Point3{
		float64(x*f.Scale+f.CropOffset[0]) + f.WorldMin[0],
		float64(y*f.Scale+f.CropOffset[1]) + f.WorldMin[1],
		float64(z*f.Scale+f.CropOffset[2]) + f.WorldMin[2],
	}
}

// Voxels is the number of output voxels
func (f Frame) Voxels() int { return f.Dims[0] * f.Dims[1] * f.Dims[2] }

func (f Frame) String() string {
	return fmt.Sprintf("frame[min=%.2f max=%.2f scale=%d crop=%v+%v dims=%v]",
		f.WorldMin, f.WorldMax, f.Scale, f.CropOffset, f.CropSize, f.Dims)
}

// UsableViews drops views whose model has no inverse and views that were
// not part of the registration. A view set with a single view keeps it even
// when unregistered, with a warning.
func UsableViews(views []dataset.View) []dataset.View {
	log := logging.Logger()

	invertible := make([]dataset.View, 0, len(views))
	for _, v := range views {
		if !v.Model().Invertible() {
			log.Warn("skipping view with a non-invertible model", "view", v.Name())
			continue
		}
		invertible = append(invertible, v)
	}

	if len(invertible) == 1 && len(views) == 1 {
		if !invertible[0].Usable() {
			log.Warn("view is not registered but is the only view, using it anyway", "view", invertible[0].Name())
		}
		return invertible
	}

	usable := make([]dataset.View, 0, len(invertible))
	for _, v := range invertible {
		if !v.Usable() {
			log.Warn("skipping view that is not connected to the registration", "view", v.Name())
			continue
		}
		usable = append(usable, v)
	}
	return usable
}

// ComputeFrame derives the output geometry from the world bounds of all
// usable views. A positive cropSize on an axis replaces the automatic extent.
func ComputeFrame(views []dataset.View, scale int, cropOffset, cropSize [3]int) (Frame, error) {
	return frameOf(UsableViews(views), scale, cropOffset, cropSize)
}

// frameOf computes the frame of views already filtered by UsableViews
func frameOf(usable []dataset.View, scale int, cropOffset, cropSize [3]int) (Frame, error) {
	if scale < 1 {
		return Frame{}, fmt.Errorf("scale must be >= 1, got %d", scale)
	}
	if len(usable) == 0 {
		return Frame{}, ErrNoUsableViews
	}

	f := Frame{
		WorldMin:   models.Point3{math.Inf(1), math.Inf(1), math.Inf(1)},
		WorldMax:   models.Point3{math.Inf(-1), math.Inf(-1), math.Inf(-1)},
		Scale:      scale,
		CropOffset: cropOffset,
		CropSize:   cropSize,
	}

	for _, v := range usable {
		size := v.Size()
		lo, hi := v.Model().EstimateBounds(
			models.Point3{0, 0, 0},
			models.Point3{float64(size[0] - 1), float64(size[1] - 1), float64(size[2] - 1)},
		)
		for d := 0; d < 3; d++ {
			f.WorldMin[d] = math.Min(f.WorldMin[d], lo[d])
			f.WorldMax[d] = math.Max(f.WorldMax[d], hi[d])
		}
	}

	for d := 0; d < 3; d++ {
		if cropSize[d] > 0 {
			f.Dims[d] = cropSize[d] / scale
		} else {
			extent := int(math.Ceil(f.WorldMax[d] - f.WorldMin[d] - boundsEpsilon))
			f.Dims[d] = extent/scale + 1
		}
		if f.Dims[d] < 1 {
			return Frame{}, fmt.Errorf("output dimension %d is empty (%v)", d, f.Dims)
		}
	}

	return f, nil
}
