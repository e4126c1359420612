// Package weights implements the weighting strategies of the fusion engine.
//
// Combined weighteners compare all views that map into one output voxel and
// return a normalized weight per view. Isolated weighteners derive a quality
// field from a single view's content. Both are selected from configuration.
package weights

import (
	"fmt"

	"multiviewfusion/internal/models"
	"multiviewfusion/pkg/config"
	"multiviewfusion/pkg/interpolation"
	"multiviewfusion/pkg/storage"
)

// Combined produces one weight per view for the voxel last passed to Update.
// Instances keep scratch state and must not be shared between goroutines.
type Combined interface {
	// Update evaluates the weights for the given local positions. Only
	// entries with active[i] set are considered.
	Update(locations []models.Point3, active []bool)

	// Weight returns the weight of view i computed by the last Update
	Weight(view int) float64
}

// CombinedFactory creates one Combined per worker for a fixed set of view sizes.
type CombinedFactory interface {
	Name() string
	New(sizes [][3]int) Combined
}

// Isolated is a read-only per-view weight lookup at local coordinates.
type Isolated interface {
	Weight(p models.Point3) float32
	Release()
}

// IsolatedFactory builds the weight field of one view from its pixels.
// Build may fail, typically with storage.ErrAllocation; callers fall back
// to Uniform.
type IsolatedFactory interface {
	Name() string
	Build(img *models.Volume) (Isolated, error)
}

// Uniform is the isolated weight used when no content field is available
type Uniform struct{}

func (Uniform) Weight(models.Point3) float32 { return 1 }
func (Uniform) Release()                     {}

// Field is an isolated weight backed by a dense grid in the view's local space
type Field struct {
	vol   *models.Volume
	store storage.Factory
}

// NewField wraps a grid allocated from store; Release returns it to store.
func NewField(vol *models.Volume, store storage.Factory) *Field {
	return &Field{vol: vol, store: store}
}

func (f *Field) Weight(p models.Point3) float32 {
	return interpolation.Nearest(f.vol, p)
}

// Volume exposes the underlying grid
func (f *Field) Volume() *models.Volume { return f.vol }

func (f *Field) Release() {
	if f.vol == nil {
		return
	}
	f.store.Free(f.vol)
	f.vol = nil
}

// NewCombined selects the combined weighteners from the blending section.
// With linear blending disabled every overlapping view counts equally.
func NewCombined(cfg *config.Config) ([]CombinedFactory, error) {
	if !cfg.Blending.Linear {
		return []CombinedFactory{Average{}}, nil
	}
	switch cfg.Blending.Mode {
	case "", "border":
		return []CombinedFactory{Blending{Alpha: cfg.Blending.Alpha}}, nil
	case "cosine":
		return []CombinedFactory{BlendingSimple{
			MarginPercent: cfg.Blending.MarginPercent,
			Border:        cfg.Blending.Border,
		}}, nil
	default:
		return nil, fmt.Errorf("unknown blending mode %q", cfg.Blending.Mode)
	}
}

// NewIsolated selects the content-based weighteners. Fields are allocated from store.
func NewIsolated(cfg *config.Config, store storage.Factory) []IsolatedFactory {
	var out []IsolatedFactory
	if cfg.Content.Entropy {
		out = append(out, Entropy{
			WindowRadius: cfg.Content.WindowRadius,
			Bins:         cfg.Content.HistogramBins,
			Store:        store,
		})
	}
	if cfg.Content.Gauss {
		out = append(out, Gauss{
			Sigma1: cfg.Content.Sigma1,
			Sigma2: cfg.Content.Sigma2,
			Store:  store,
		})
	}
	return out
}

// countActive returns how many views are active and the index of the last one
func countActive(active []bool) (int, int) {
	n, last := 0, -1
	for i, a := range active {
		if a {
			n++
			last = i
		}
	}
	return n, last
}

// normalize scales the active weights to sum to one. When every active
// weight is zero the active views share equally.
func normalize(w []float64, active []bool, numActive int) {
	sum := 0.0
	for i, a := range active {
		if a {
			sum += w[i]
		} else {
			w[i] = 0
		}
	}
	for i, a := range active {
		if !a {
			continue
		}
		if sum > 0 {
			w[i] /= sum
		} else {
			w[i] = 1 / float64(numActive)
		}
	}
}

// Average weights every active view equally
type Average struct{}

func (Average) Name() string { return "average" }

func (Average) New(sizes [][3]int) Combined {
	return &average{weights: make([]float64, len(sizes))}
}

type average struct {
	weights []float64
}

func (a *average) Update(_ []models.Point3, active []bool) {
	n, _ := countActive(active)
	for i, on := range active {
		if on {
			a.weights[i] = 1 / float64(n)
		} else {
			a.weights[i] = 0
		}
	}
}

func (a *average) Weight(view int) float64 { return a.weights[view] }
