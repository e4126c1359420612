// Package fusion combines registered views into fused output volumes.
//
// Every engine variant runs the same per-voxel gather: an output voxel is
// mapped to world space, inverted into each view, weighted by the combined
// and isolated weighteners, and either blended or selected. The variants
// differ in which views are resident at a time and what they emit.
package fusion

import (
	"fmt"
	"time"

	"multiviewfusion/internal/logging"
	"multiviewfusion/internal/models"
	"multiviewfusion/pkg/config"
	"multiviewfusion/pkg/dataset"
	"multiviewfusion/pkg/interpolation"
	"multiviewfusion/pkg/parallel"
	"multiviewfusion/pkg/storage"
	"multiviewfusion/pkg/weights"
)

// Kind enumerates the engine variants
type Kind int

const (
	// Parallel keeps every view and the output resident and fuses in one pass
	Parallel Kind = iota
	// Sequential loads views in batches into two persistent accumulators
	Sequential
	// SequentialPerView emits one weighted volume per view
	SequentialPerView
	// MaxWeight writes the intensity of the highest weighted view
	MaxWeight
	// PreDeconvolution emits per-view intensities and normalized weights
	PreDeconvolution
)

func (k Kind) String() string {
	switch k {
	case Parallel:
		return "parallel"
	case Sequential:
		return "sequential"
	case SequentialPerView:
		return "sequential-per-view"
	case MaxWeight:
		return "max-weight"
	case PreDeconvolution:
		return "pre-deconvolution"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Result holds the volumes produced by one Fuse call. Engines reuse their
// buffers, so the volumes stay valid only until the next Fuse on the same
// engine.
type Result struct {
	Frame Frame

	// Views are the views that took part, in output order
	Views []dataset.View

	// Fused is the single blended volume (Parallel, Sequential, MaxWeight)
	Fused *models.Volume

	// PerView holds one intensity volume per view (SequentialPerView, PreDeconvolution)
	PerView []*models.Volume

	// Weights holds the normalized weight volume per view (PreDeconvolution)
	Weights []*models.Volume
}

// Engine fuses one set of views, typically one channel.
type Engine interface {
	Kind() Kind
	Fuse(views []dataset.View) (*Result, error)
}

// settings is the immutable part every engine variant shares
type settings struct {
	cfg      config.Config
	store    storage.Factory
	combined []weights.CombinedFactory
	isolated []weights.IsolatedFactory
	interp   interpolation.Kind
	threads  int

	// accumulators cached between calls so later channels clear instead of reallocating
	cache []*models.Volume
}

// NewEngine builds the engine variant kind. cfg is validated first.
func NewEngine(kind Kind, cfg *config.Config, store storage.Factory) (Engine, error) {
	s, err := newSettings(cfg, store)
	if err != nil {
		return nil, err
	}
	switch kind {
	case Parallel:
		return &parallelEngine{s}, nil
	case Sequential:
		return &sequentialEngine{s}, nil
	case SequentialPerView:
		return &perViewEngine{s}, nil
	case MaxWeight:
		return &maxWeightEngine{s}, nil
	case PreDeconvolution:
		return &preDeconvolutionEngine{s}, nil
	default:
		return nil, fmt.Errorf("unknown engine kind %v", kind)
	}
}

func newSettings(cfg *config.Config, store storage.Factory) (*settings, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if store == nil {
		store = storage.Array{}
	}
	combined, err := weights.NewCombined(cfg)
	if err != nil {
		return nil, err
	}
	interp, err := interpolation.ParseKind(cfg.Fusion.Interpolation)
	if err != nil {
		return nil, err
	}
	return &settings{
		cfg:      *cfg,
		store:    store,
		combined: combined,
		isolated: weights.NewIsolated(cfg, store),
		interp:   interp,
		threads:  parallel.Threads(cfg.Fusion.NumThreads),
	}, nil
}

// frame computes the output geometry for the usable views
func (s *settings) frame(views []dataset.View) ([]dataset.View, Frame, error) {
	usable := UsableViews(views)
	if len(usable) == 0 {
		return nil, Frame{}, ErrNoUsableViews
	}
	f, err := frameOf(usable, s.cfg.Fusion.Scale, s.cfg.Fusion.CropOffset, s.cfg.Fusion.CropSize)
	if err != nil {
		return nil, Frame{}, err
	}
	logging.Logger().Info("fusion frame", "views", len(usable), "frame", f.String())
	return usable, f, nil
}

// accumulators returns n zeroed volumes of the frame size, reusing the
// previous call's buffers when they match.
func (s *settings) accumulators(n int, dims [3]int) ([]*models.Volume, error) {
	if len(s.cache) == n {
		reuse := true
		for _, v := range s.cache {
			if v.Dims() != dims {
				reuse = false
				break
			}
		}
		if reuse {
			for _, v := range s.cache {
				v.Clear()
			}
			return s.cache, nil
		}
	}

	s.releaseAccumulators()
	vols := make([]*models.Volume, 0, n)
	for i := 0; i < n; i++ {
		v, err := s.store.Allocate(dims[0], dims[1], dims[2])
		if err != nil {
			for _, allocated := range vols {
				s.store.Free(allocated)
			}
			return nil, fmt.Errorf("output volume %d of %d: %w", i+1, n, err)
		}
		vols = append(vols, v)
	}
	s.cache = vols
	return vols, nil
}

func (s *settings) releaseAccumulators() {
	for _, v := range s.cache {
		s.store.Free(v)
	}
	s.cache = nil
}

// load pages in the pixel data of views[from:to]; images has one slot per view
func load(views []dataset.View, images []*models.Volume, from, to int) error {
	for i := from; i < to; i++ {
		img, err := views[i].Image()
		if err != nil {
			return err
		}
		images[i] = img
	}
	return nil
}

// unload pages out views[from:to]
func unload(views []dataset.View, images []*models.Volume, from, to int) {
	for i := from; i < to; i++ {
		views[i].Release()
		images[i] = nil
	}
}

// buildIsolated builds the content weight fields of views[from:to] in
// parallel, one view per worker round robin. Any failure disables content
// weighting for the call: all fields built so far are released and every
// view gets weights.Uniform instead.
func (s *settings) buildIsolated(views []dataset.View, images []*models.Volume, from, to int) [][]weights.Isolated {
	if len(s.isolated) == 0 {
		return nil
	}
	start := time.Now()

	fields := make([][]weights.Isolated, len(views))
	err := parallel.ForEach(to-from, s.threads, func(_, i int) error {
		view := from + i
		built := make([]weights.Isolated, 0, len(s.isolated))
		for _, f := range s.isolated {
			iso, err := f.Build(images[view])
			if err != nil {
				for _, b := range built {
					b.Release()
				}
				return fmt.Errorf("%s weights for view %s: %w", f.Name(), views[view].Name(), err)
			}
			built = append(built, iso)
		}
		fields[view] = built
		return nil
	})

	if err != nil {
		logging.Logger().Warn("content-based weighting disabled, using uniform weights", "err", err)
		releaseIsolated(fields)
		for i := from; i < to; i++ {
			fields[i] = []weights.Isolated{weights.Uniform{}}
		}
		return fields
	}
	logging.Logger().Debug("built content weights", "views", to-from, "elapsed", time.Since(start))
	return fields
}

func releaseIsolated(fields [][]weights.Isolated) {
	for _, perView := range fields {
		for _, iso := range perView {
			iso.Release()
		}
	}
}

// modulated reports whether per-view outputs are weighted at all
func (s *settings) modulated() bool {
	return s.cfg.Blending.Linear || len(s.isolated) > 0
}
