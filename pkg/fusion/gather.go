package fusion

import (
	"time"

	"multiviewfusion/internal/logging"
	"multiviewfusion/internal/models"
	"multiviewfusion/pkg/affine"
	"multiviewfusion/pkg/dataset"
	"multiviewfusion/pkg/interpolation"
	"multiviewfusion/pkg/parallel"
	"multiviewfusion/pkg/weights"
)

// gather holds what every worker reads during one pass. Geometry covers all
// views even when only a batch of them has pixel data loaded.
type gather struct {
	frame    Frame
	models   []affine.Transform
	sizes    [][3]int
	combined []weights.CombinedFactory
	interp   interpolation.Kind

	// images and isolated are indexed by view; nil for views not resident
	images   []*models.Volume
	isolated [][]weights.Isolated
}

func newGather(s *settings, f Frame, views []dataset.View) *gather {
	g := &gather{
		frame:    f,
		models:   make([]affine.Transform, len(views)),
		sizes:    make([][3]int, len(views)),
		combined: s.combined,
		interp:   s.interp,
		images:   make([]*models.Volume, len(views)),
	}
	for i, v := range views {
		g.models[i] = v.Model()
		g.sizes[i] = v.Size()
	}
	return g
}

// worker is the per-goroutine scratch state of a pass
type worker struct {
	g         *gather
	locations []models.Point3
	active    []bool
	combined  []weights.Combined
	weight    []float64
}

func (g *gather) newWorker() *worker {
	n := len(g.models)
	w := &worker{
		g:         g,
		locations: make([]models.Point3, n),
		active:    make([]bool, n),
		weight:    make([]float64, n),
	}
	for _, f := range g.combined {
		w.combined = append(w.combined, f.New(g.sizes))
	}
	return w
}

// locate inverts the world position of output voxel (x, y, z) into every
// view. A view whose model cannot be inverted is inactive for this voxel
// only. Returns the number of active views.
func (w *worker) locate(x, y, z int) int {
	world := w.g.frame.World(x, y, z)
	n := 0
	for i, model := range w.g.models {
		w.active[i] = false
		local, err := model.Invert(world)
		if err != nil {
			continue
		}
		if !models.InBounds(local, w.g.sizes[i]) {
			continue
		}
		w.locations[i] = local
		w.active[i] = true
		n++
	}
	return n
}

// weigh computes the combined weight of every view for the located voxel
func (w *worker) weigh() {
	for i, on := range w.active {
		if on {
			w.weight[i] = 1
		} else {
			w.weight[i] = 0
		}
	}
	for _, c := range w.combined {
		c.Update(w.locations, w.active)
		for i, on := range w.active {
			if on {
				w.weight[i] *= c.Weight(i)
			}
		}
	}
}

// resident reports whether view i is active and has pixels loaded
func (w *worker) resident(i int) bool {
	return w.active[i] && w.g.images[i] != nil
}

// total returns the full weight of resident view i: combined times isolated
func (w *worker) total(i int) float64 {
	weight := w.weight[i]
	if fields := w.g.isolated; fields != nil {
		for _, iso := range fields[i] {
			weight *= float64(iso.Weight(w.locations[i]))
		}
	}
	return weight
}

// sample interpolates resident view i at its located position
func (w *worker) sample(i int) float64 {
	return float64(interpolation.Sample(w.g.images[i], w.locations[i], w.g.interp))
}

// run visits every output voxel with at least one active view. Slices are
// distributed z mod threads, so fn may write voxel (x, y, z) of any output
// volume without locking.
func (g *gather) run(threads int, fn func(w *worker, x, y, z int)) error {
	start := time.Now()
	workers := make([]*worker, threads)
	for i := range workers {
		workers[i] = g.newWorker()
	}

	err := parallel.ForEachSlice(g.frame.Dims[2], threads, func(wi, z int) error {
		w := workers[wi]
		for y := 0; y < g.frame.Dims[1]; y++ {
			for x := 0; x < g.frame.Dims[0]; x++ {
				if w.locate(x, y, z) == 0 {
					continue
				}
				w.weigh()
				fn(w, x, y, z)
			}
		}
		return nil
	})

	logging.Logger().Debug("gather pass done", "slices", g.frame.Dims[2], "threads", threads, "elapsed", time.Since(start))
	return err
}
