// Package dataset describes the registered input views of a fusion run and
// pages their pixel data in and out on demand.
package dataset

import (
	"fmt"
	"sync"

	"multiviewfusion/internal/models"
	"multiviewfusion/pkg/affine"
)

// View is one registered 3D acquisition. Geometry (Size, Model) is always
// available; pixel data is loaded by Image and dropped by Release.
type View interface {
	Name() string
	AngleID() int
	ChannelIndex() int
	Size() [3]int
	Model() affine.Transform

	// Usable reports whether the view took part in registration (or is the only view)
	Usable() bool

	// Image loads the pixel data if needed. Calls after the first return the
	// same volume until Release.
	Image() (*models.Volume, error)
	Release()
}

// Info holds the descriptive part shared by the view implementations
type Info struct {
	Name    string
	Angle   int
	Channel int
	Model   affine.Transform
	Usable  bool
}

// MemoryView keeps its pixels resident. Release is a no-op so the view can
// be fused repeatedly.
type MemoryView struct {
	info Info
	vol  *models.Volume
}

// NewMemoryView wraps an existing volume
func NewMemoryView(info Info, vol *models.Volume) *MemoryView {
	if info.Model == nil {
		info.Model = affine.Identity()
	}
	return &MemoryView{info: info, vol: vol}
}

func (v *MemoryView) Name() string                   { return v.info.Name }
func (v *MemoryView) AngleID() int                   { return v.info.Angle }
func (v *MemoryView) ChannelIndex() int              { return v.info.Channel }
func (v *MemoryView) Size() [3]int                   { return v.vol.Dims() }
func (v *MemoryView) Model() affine.Transform        { return v.info.Model }
func (v *MemoryView) Usable() bool                   { return v.info.Usable }
func (v *MemoryView) Image() (*models.Volume, error) { return v.vol, nil }
func (v *MemoryView) Release()                       {}

func (v *MemoryView) String() string {
	return fmt.Sprintf("view[%s angle=%d ch=%d %v]", v.info.Name, v.info.Angle, v.info.Channel, v.vol.Dims())
}

// LoaderFunc reads the pixel data of a view
type LoaderFunc func() (*models.Volume, error)

// LazyView loads its pixels through a LoaderFunc and forgets them on Release.
type LazyView struct {
	info Info
	size [3]int
	load LoaderFunc

	mu    sync.Mutex
	vol   *models.Volume
	loads int
}

// NewLazyView creates a view whose geometry is known up front
func NewLazyView(info Info, size [3]int, load LoaderFunc) *LazyView {
	if info.Model == nil {
		info.Model = affine.Identity()
	}
	return &LazyView{info: info, size: size, load: load}
}

func (v *LazyView) Name() string            { return v.info.Name }
func (v *LazyView) AngleID() int            { return v.info.Angle }
func (v *LazyView) ChannelIndex() int       { return v.info.Channel }
func (v *LazyView) Size() [3]int            { return v.size }
func (v *LazyView) Model() affine.Transform { return v.info.Model }
func (v *LazyView) Usable() bool            { return v.info.Usable }

func (v *LazyView) Image() (*models.Volume, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.vol != nil {
		return v.vol, nil
	}
	vol, err := v.load()
	if err != nil {
		return nil, fmt.Errorf("load view %s: %w", v.info.Name, err)
	}
	if vol.Dims() != v.size {
		return nil, fmt.Errorf("load view %s: got %v voxels, expected %v", v.info.Name, vol.Dims(), v.size)
	}
	v.vol = vol
	v.loads++
	return vol, nil
}

func (v *LazyView) Release() {
	v.mu.Lock()
	v.vol = nil
	v.mu.Unlock()
}

// Resident reports whether pixel data is currently loaded
func (v *LazyView) Resident() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.vol != nil
}

// Loads counts how often the pixel data was read
func (v *LazyView) Loads() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loads
}
