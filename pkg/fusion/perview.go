package fusion

import (
	"fmt"

	"multiviewfusion/internal/logging"
	"multiviewfusion/pkg/dataset"
)

// perViewEngine writes one output per view: the view's own intensity,
// multiplied by its weight against the other views when weighting is on.
// Intensities of different views are never mixed.
type perViewEngine struct {
	*settings
}

func (e *perViewEngine) Kind() Kind { return SequentialPerView }

func (e *perViewEngine) Fuse(views []dataset.View) (*Result, error) {
	usable, frame, err := e.frame(views)
	if err != nil {
		return nil, err
	}

	outs, err := e.accumulators(len(usable), frame.Dims)
	if err != nil {
		return nil, err
	}

	g := newGather(e.settings, frame, usable)
	batch := e.cfg.Fusion.ViewsPerBatch
	modulate := e.modulated()

	for from := 0; from < len(usable); from += batch {
		to := min(from+batch, len(usable))
		logging.Logger().Info("fusing batch", "engine", e.Kind().String(), "from", from, "to", to, "views", len(usable))

		err := func() error {
			defer unload(usable, g.images, from, to)
			if err := load(usable, g.images, from, to); err != nil {
				return fmt.Errorf("load views: %w", err)
			}

			if modulate {
				g.isolated = e.buildIsolated(usable, g.images, from, to)
			}
			defer func() {
				releaseIsolated(g.isolated)
				g.isolated = nil
			}()

			return g.run(e.threads, func(w *worker, x, y, z int) {
				for i := from; i < to; i++ {
					if !w.resident(i) {
						continue
					}
					value := w.sample(i)
					if modulate {
						value *= w.total(i)
					}
					outs[i].Set(x, y, z, float32(value))
				}
			})
		}()
		if err != nil {
			return nil, err
		}
	}

	return &Result{Frame: frame, Views: usable, PerView: outs}, nil
}
