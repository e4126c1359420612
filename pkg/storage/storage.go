// Package storage allocates the large float volumes used by the fusion
// engine and reports allocation failure as an error instead of a crash.
package storage

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"multiviewfusion/internal/models"
)

// ErrAllocation is returned when a volume cannot be allocated.
var ErrAllocation = errors.New("cannot allocate volume")

// Factory creates and frees volumes
type Factory interface {
	// Allocate returns a zeroed volume or an error wrapping ErrAllocation
	Allocate(width, height, depth int) (*models.Volume, error)

	// Free hands a volume back. The caller must not use it afterwards.
	Free(vol *models.Volume)
}

// New returns the factory named by the configuration. maxVoxels is only
// used by the "limited" factory.
func New(name string, maxVoxels int64) (Factory, error) {
	switch name {
	case "", "array":
		return Array{}, nil
	case "limited":
		if maxVoxels <= 0 {
			return nil, fmt.Errorf("limited storage needs a positive voxel budget, got %d", maxVoxels)
		}
		return NewLimited(maxVoxels), nil
	default:
		return nil, fmt.Errorf("unknown storage factory %q", name)
	}
}

// Array allocates plain Go slices, bounded only by available memory.
type Array struct{}

func (Array) Allocate(width, height, depth int) (*models.Volume, error) {
	n, err := voxelCount(width, height, depth)
	if err != nil {
		return nil, err
	}
	return allocate(n, width, height, depth)
}

func (Array) Free(*models.Volume) {}

// Limited enforces a total voxel budget across all live volumes, which lets
// callers emulate a hard memory ceiling.
type Limited struct {
	maxVoxels int64
	used      atomic.Int64
}

func NewLimited(maxVoxels int64) *Limited {
	return &Limited{maxVoxels: maxVoxels}
}

func (l *Limited) Allocate(width, height, depth int) (*models.Volume, error) {
	n, err := voxelCount(width, height, depth)
	if err != nil {
		return nil, err
	}
	if used := l.used.Add(n); used > l.maxVoxels {
		l.used.Add(-n)
		return nil, fmt.Errorf("%w: %dx%dx%d exceeds budget (%d of %d voxels in use)",
			ErrAllocation, width, height, depth, used-n, l.maxVoxels)
	}
	vol, err := allocate(n, width, height, depth)
	if err != nil {
		l.used.Add(-n)
		return nil, err
	}
	return vol, nil
}

func (l *Limited) Free(vol *models.Volume) {
	if vol == nil {
		return
	}
	l.used.Add(-int64(vol.Len()))
	vol.Data = nil
}

// InUse reports the number of voxels currently allocated
func (l *Limited) InUse() int64 { return l.used.Load() }

func voxelCount(width, height, depth int) (int64, error) {
	if width <= 0 || height <= 0 || depth <= 0 {
		return 0, fmt.Errorf("%w: invalid dimensions %dx%dx%d", ErrAllocation, width, height, depth)
	}
	n := int64(width)
	for _, d := range []int{height, depth} {
		if n > math.MaxInt64/int64(d) {
			return 0, fmt.Errorf("%w: %dx%dx%d overflows", ErrAllocation, width, height, depth)
		}
		n *= int64(d)
	}
	if n > int64(math.MaxInt32)*64 {
		return 0, fmt.Errorf("%w: %d voxels is beyond the supported size", ErrAllocation, n)
	}
	return n, nil
}

// allocate turns a runtime allocation panic into ErrAllocation
func allocate(n int64, width, height, depth int) (vol *models.Volume, err error) {
	defer func() {
		if r := recover(); r != nil {
			vol = nil
			err = fmt.Errorf("%w: %dx%dx%d: %v", ErrAllocation, width, height, depth, r)
		}
	}()
	return models.NewVolumeFrom(make([]float32, n), width, height, depth), nil
}
