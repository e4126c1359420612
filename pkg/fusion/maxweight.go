package fusion

import (
	"fmt"

	"multiviewfusion/internal/logging"
	"multiviewfusion/pkg/dataset"
)

// maxWeightEngine writes, per voxel, the intensity of the view with the
// highest weight instead of a weighted average. Ties go to the lower view
// index. Without content fields the combined weight alone decides.
type maxWeightEngine struct {
	*settings
}

func (e *maxWeightEngine) Kind() Kind { return MaxWeight }

func (e *maxWeightEngine) Fuse(views []dataset.View) (*Result, error) {
	usable, frame, err := e.frame(views)
	if err != nil {
		return nil, err
	}

	outs, err := e.accumulators(1, frame.Dims)
	if err != nil {
		return nil, err
	}
	out := outs[0]

	g := newGather(e.settings, frame, usable)
	defer unload(usable, g.images, 0, len(usable))
	if err := load(usable, g.images, 0, len(usable)); err != nil {
		return nil, fmt.Errorf("load views: %w", err)
	}

	g.isolated = e.buildIsolated(usable, g.images, 0, len(usable))
	defer releaseIsolated(g.isolated)

	logging.Logger().Info("fusing", "engine", e.Kind().String(), "views", len(usable), "dims", frame.Dims)

	err = g.run(e.threads, func(w *worker, x, y, z int) {
		best, bestWeight := -1, -1.0
		for i := range usable {
			if !w.resident(i) {
				continue
			}
			if weight := w.total(i); weight > bestWeight {
				best, bestWeight = i, weight
			}
		}
		if best >= 0 {
			out.Set(x, y, z, float32(w.sample(best)))
		}
	})
	if err != nil {
		return nil, err
	}

	return &Result{Frame: frame, Views: usable, Fused: out}, nil
}
