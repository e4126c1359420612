package fusion

import (
	"fmt"

	"multiviewfusion/internal/logging"
	"multiviewfusion/pkg/dataset"
)

// preDeconvolutionEngine prepares the inputs of a multi-view deconvolution:
// per view the transformed intensities and a weight volume normalized so
// that the weights of all views reaching a voxel sum to one. The source
// pixels stay loaded afterwards because deconvolution reads them again.
type preDeconvolutionEngine struct {
	*settings
}

func (e *preDeconvolutionEngine) Kind() Kind { return PreDeconvolution }

func (e *preDeconvolutionEngine) Fuse(views []dataset.View) (*Result, error) {
	usable, frame, err := e.frame(views)
	if err != nil {
		return nil, err
	}

	n := len(usable)
	vols, err := e.accumulators(2*n, frame.Dims)
	if err != nil {
		return nil, err
	}
	images, weightVols := vols[:n], vols[n:]

	g := newGather(e.settings, frame, usable)
	if err := load(usable, g.images, 0, n); err != nil {
		return nil, fmt.Errorf("load views: %w", err)
	}

	g.isolated = e.buildIsolated(usable, g.images, 0, n)
	defer releaseIsolated(g.isolated)

	logging.Logger().Info("fusing", "engine", e.Kind().String(), "views", n, "dims", frame.Dims)

	err = g.run(e.threads, func(w *worker, x, y, z int) {
		sumWeights := 0.0
		for i := 0; i < n; i++ {
			if !w.resident(i) {
				continue
			}
			// Reuse the combined weight slot for the full weight
			w.weight[i] = w.total(i)
			sumWeights += w.weight[i]
			images[i].Set(x, y, z, float32(w.sample(i)))
		}
		if sumWeights <= 0 {
			return
		}
		for i := 0; i < n; i++ {
			if w.resident(i) {
				weightVols[i].Set(x, y, z, float32(w.weight[i]/sumWeights))
			}
		}
	})
	if err != nil {
		return nil, err
	}

	return &Result{Frame: frame, Views: usable, PerView: images, Weights: weightVols}, nil
}
