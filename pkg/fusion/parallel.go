package fusion

import (
	"fmt"

	"multiviewfusion/internal/logging"
	"multiviewfusion/pkg/dataset"
)

// parallelEngine keeps every view and the output resident and fuses in a
// single concurrent pass.
type parallelEngine struct {
	*settings
}

func (e *parallelEngine) Kind() Kind { return Parallel }

func (e *parallelEngine) Fuse(views []dataset.View) (*Result, error) {
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
		sum, sumWeights := 0.0, 0.0
		for i := range usable {
			if !w.resident(i) {
				continue
			}
			weight := w.total(i)
			if weight == 0 {
				continue
			}
			sum += weight * w.sample(i)
			sumWeights += weight
		}
		if sumWeights > 0 {
			out.Set(x, y, z, float32(sum/sumWeights))
		}
	})
	if err != nil {
		return nil, err
	}

	return &Result{Frame: frame, Views: usable, Fused: out}, nil
}
