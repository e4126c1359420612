package fusion

import (
	"fmt"

	"multiviewfusion/internal/logging"
	"multiviewfusion/pkg/dataset"
)

// sequentialEngine bounds memory by loading ViewsPerBatch views at a time.
// Two accumulators persist across batches: the weighted intensity sum and
// the weight sum. Combined weights always see every view's geometry.
type sequentialEngine struct {
	*settings
}

func (e *sequentialEngine) Kind() Kind { return Sequential }

func (e *sequentialEngine) Fuse(views []dataset.View) (*Result, error) {
	usable, frame, err := e.frame(views)
	if err != nil {
		return nil, err
	}

	acc, err := e.accumulators(2, frame.Dims)
	if err != nil {
		return nil, err
	}
	sums, sumWeights := acc[0], acc[1]

	g := newGather(e.settings, frame, usable)
	batch := e.cfg.Fusion.ViewsPerBatch

	for from := 0; from < len(usable); from += batch {
		to := min(from+batch, len(usable))
		logging.Logger().Info("fusing batch", "engine", e.Kind().String(), "from", from, "to", to, "views", len(usable))

		if err := e.accumulate(g, usable, from, to, sums.Data, sumWeights.Data); err != nil {
			return nil, err
		}
	}

	// Normalize in place; voxels no view reached keep their initial 0
	for i, w := range sumWeights.Data {
		if w > 0 {
			sums.Data[i] /= w
		}
	}

	return &Result{Frame: frame, Views: usable, Fused: sums}, nil
}

// accumulate adds the contribution of views[from:to] and releases them again
func (e *sequentialEngine) accumulate(g *gather, views []dataset.View, from, to int, sums, sumWeights []float32) error {
	defer unload(views, g.images, from, to)
	if err := load(views, g.images, from, to); err != nil {
		return fmt.Errorf("load views: %w", err)
	}

	g.isolated = e.buildIsolated(views, g.images, from, to)
	defer func() {
		releaseIsolated(g.isolated)
		g.isolated = nil
	}()

	width, plane := g.frame.Dims[0], g.frame.Dims[0]*g.frame.Dims[1]
	return g.run(e.threads, func(w *worker, x, y, z int) {
		sum, sumW := 0.0, 0.0
		for i := from; i < to; i++ {
			if !w.resident(i) {
				continue
			}
			weight := w.total(i)
			if weight == 0 {
				continue
			}
			sum += weight * w.sample(i)
			sumW += weight
		}
		if sumW > 0 {
			idx := z*plane + y*width + x
			sums[idx] += float32(sum)
			sumWeights[idx] += float32(sumW)
		}
	})
}
