package fusion

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"

	"multiviewfusion/internal/logging"
	"multiviewfusion/internal/models"
	"multiviewfusion/pkg/affine"
	"multiviewfusion/pkg/config"
	"multiviewfusion/pkg/dataset"
	"multiviewfusion/pkg/storage"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Fusion.NumThreads = 3
	cfg.Fusion.ViewsPerBatch = 1
	return cfg
}

func newEngine(t *testing.T, kind Kind, cfg *config.Config, store storage.Factory) Engine {
	t.Helper()
	e, err := NewEngine(kind, cfg, store)
	if err != nil {
		t.Fatalf("NewEngine(%v) failed: %v", kind, err)
	}
	if e.Kind() != kind {
		t.Fatalf("Kind() = %v, want %v", e.Kind(), kind)
	}
	return e
}

func fuse(t *testing.T, e Engine, views ...dataset.View) *Result {
	t.Helper()
	res, err := e.Fuse(views)
	if err != nil {
		t.Fatalf("%v Fuse failed: %v", e.Kind(), err)
	}
	return res
}

// failingTransform has valid bounds but never inverts
type failingTransform struct {
	*affine.Model
}

func (failingTransform) Invert(models.Point3) (models.Point3, error) {
	return models.Point3{}, affine.ErrNonInvertible
}

// translatedPair is a view of constant 10 at the origin and one of constant
// 20 shifted by 5 along x. They overlap for world x in [5, 9].
func translatedPair() (dataset.View, dataset.View) {
	return memView("a", 0, affine.Identity(), constant(cube10, 10)),
		memView("b", 1, affine.Translation(5, 0, 0), constant(cube10, 20))
}

func TestIdentityReproducesInput(t *testing.T) {
	src := ramp(cube10)

	for _, kind := range []Kind{Parallel, Sequential, MaxWeight} {
		t.Run(kind.String(), func(t *testing.T) {
			cfg := testConfig()
			res := fuse(t, newEngine(t, kind, cfg, nil), memView("a", 0, affine.Identity(), src))

			if res.Fused.Dims() != cube10 {
				t.Fatalf("Dims = %v, want %v", res.Fused.Dims(), cube10)
			}
			for i, want := range src.Data {
				if got := res.Fused.Data[i]; got != want {
					t.Fatalf("voxel %d = %v, want %v", i, got, want)
				}
			}
		})
	}
}

func TestNearestInterpolation(t *testing.T) {
	src := ramp(cube10)
	view := memView("a", 0, affine.Scaling(1.5, 1, 1), src)

	linear := fuse(t, newEngine(t, Parallel, testConfig(), nil), view)
	// World x=4 maps back to local x=2.67
	if got, want := float64(linear.Fused.At(4, 4, 5)), 1+4/1.5+40+500; math.Abs(got-want) > 1e-4 {
		t.Errorf("linear sample = %v, want %v", got, want)
	}

	cfg := testConfig()
	cfg.Fusion.Interpolation = "nearest"
	nearest := fuse(t, newEngine(t, Parallel, cfg, nil), view)
	if got, want := nearest.Fused.At(4, 4, 5), src.At(3, 4, 5); got != want {
		t.Errorf("nearest sample = %v, want %v", got, want)
	}
}

func TestOverlapAverages(t *testing.T) {
	for _, kind := range []Kind{Parallel, Sequential} {
		t.Run(kind.String(), func(t *testing.T) {
			a, b := translatedPair()
			res := fuse(t, newEngine(t, kind, testConfig(), nil), a, b)

			if res.Fused.Dims() != [3]int{15, 10, 10} {
				t.Fatalf("Dims = %v", res.Fused.Dims())
			}
			checks := []struct {
				x    int
				want float32
			}{
				{0, 10},  // only a, on its border
				{3, 10},  // only a
				{7, 15},  // symmetric overlap
				{12, 20}, // only b
				{14, 20}, // only b, on its border
			}
			for _, c := range checks {
				if got := res.Fused.At(c.x, 5, 5); math.Abs(float64(got-c.want)) > 1e-5 {
					t.Errorf("x=%d: got %v, want %v", c.x, got, c.want)
				}
			}
		})
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	views := []dataset.View{
		memView("a", 0, affine.Identity(), ramp(cube10)),
		memView("b", 1, affine.Translation(3, 0, 0), ramp(cube10)),
		memView("c", 2, affine.Translation(0, 4, 2), ramp([3]int{8, 10, 6})),
		memView("d", 3, affine.RotationZ(90, 4.5, 4.5), ramp(cube10)),
	}

	cfg := testConfig()
	par := fuse(t, newEngine(t, Parallel, cfg, nil), views...)
	seq := fuse(t, newEngine(t, Sequential, cfg, nil), views...)

	if par.Frame.Dims != seq.Frame.Dims {
		t.Fatalf("frames differ: %v vs %v", par.Frame, seq.Frame)
	}
	for i := range par.Fused.Data {
		p, s := par.Fused.Data[i], seq.Fused.Data[i]
		if math.Abs(float64(p-s)) > 1e-3*math.Max(1, math.Abs(float64(p))) {
			t.Fatalf("voxel %d: parallel %v, sequential %v", i, p, s)
		}
	}
}

func TestFailingInversionSkipsView(t *testing.T) {
	for _, kind := range []Kind{Parallel, Sequential} {
		t.Run(kind.String(), func(t *testing.T) {
			a, b := translatedPair()
			broken := memView("broken", 2, failingTransform{affine.Identity()}, constant(cube10, 99))

			want := fuse(t, newEngine(t, kind, testConfig(), nil), a, b)
			got := fuse(t, newEngine(t, kind, testConfig(), nil), a, b, broken)

			if got.Frame.Dims != want.Frame.Dims {
				t.Fatalf("frames differ: %v vs %v", got.Frame.Dims, want.Frame.Dims)
			}
			for i := range want.Fused.Data {
				if math.Abs(float64(got.Fused.Data[i]-want.Fused.Data[i])) > 1e-6 {
					t.Fatalf("voxel %d = %v, want %v", i, got.Fused.Data[i], want.Fused.Data[i])
				}
			}

			// Every slice must still have been processed
			if s := Summarize(got.Fused); s.NonZero != 1 {
				t.Errorf("non-zero fraction = %v, want 1", s.NonZero)
			}
		})
	}
}

func TestSingularViewIsOmitted(t *testing.T) {
	// Singular model placed well outside the other views
	singular := affine.NewModel([12]float64{
		1, 0, 0, 40,
		0, 1, 0, 0,
		0, 0, 0, 0,
	})
	if singular.Invertible() {
		t.Fatal("test model should be singular")
	}

	for _, kind := range []Kind{Parallel, Sequential} {
		t.Run(kind.String(), func(t *testing.T) {
			a, b := translatedPair()
			broken := memView("singular", 2, singular, constant(cube10, 99))

			want := fuse(t, newEngine(t, kind, testConfig(), nil), a, b)
			got := fuse(t, newEngine(t, kind, testConfig(), nil), a, b, broken)

			if got.Frame.Dims != [3]int{15, 10, 10} {
				t.Fatalf("Dims = %v, want [15 10 10]", got.Frame.Dims)
			}
			if len(got.Views) != 2 {
				t.Errorf("%d views took part, want 2", len(got.Views))
			}
			for i := range want.Fused.Data {
				if got.Fused.Data[i] != want.Fused.Data[i] {
					t.Fatalf("voxel %d = %v, want %v", i, got.Fused.Data[i], want.Fused.Data[i])
				}
			}
		})
	}
}

func TestNewEngineValidatesConfig(t *testing.T) {
	for _, kind := range []Kind{Sequential, SequentialPerView} {
		t.Run(kind.String(), func(t *testing.T) {
			cfg := testConfig()
			cfg.Fusion.ViewsPerBatch = 0
			if _, err := NewEngine(kind, cfg, nil); err == nil {
				t.Error("expected error for viewsPerBatch 0")
			}
		})
	}

	cfg := testConfig()
	cfg.Fusion.Method = "median"
	if _, err := NewEngine(Parallel, cfg, nil); err == nil {
		t.Error("expected error for unknown method")
	}
}

func TestSoleUnregisteredViewWarnsOnce(t *testing.T) {
	var buf bytes.Buffer
	logging.SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))
	defer logging.SetLogger(nil)

	view := dataset.NewMemoryView(dataset.Info{Name: "lonely", Model: affine.Identity()}, ramp(cube10))
	fuse(t, newEngine(t, Parallel, testConfig(), nil), view)

	if n := strings.Count(buf.String(), "only view"); n != 1 {
		t.Errorf("warning logged %d times, want 1:\n%s", n, buf.String())
	}
}

func TestMaxWeightPicksHighestWeight(t *testing.T) {
	a, b := translatedPair()
	res := fuse(t, newEngine(t, MaxWeight, testConfig(), nil), a, b)

	checks := []struct {
		x    int
		want float32
	}{
		{2, 10},
		{6, 10}, // a is further from its border
		{7, 10}, // tie goes to the lower index
		{8, 20}, // b is further from its border
		{12, 20},
	}
	for _, c := range checks {
		if got := res.Fused.At(c.x, 5, 5); got != c.want {
			t.Errorf("x=%d: got %v, want %v", c.x, got, c.want)
		}
	}
}

func TestPerViewOutputs(t *testing.T) {
	t.Run("unweighted", func(t *testing.T) {
		cfg := testConfig()
		cfg.Blending.Linear = false
		a, b := translatedPair()
		res := fuse(t, newEngine(t, SequentialPerView, cfg, nil), a, b)

		if res.Fused != nil || len(res.PerView) != 2 {
			t.Fatalf("expected 2 per-view outputs, got fused=%v perView=%d", res.Fused != nil, len(res.PerView))
		}
		if got := res.PerView[0].At(7, 5, 5); got != 10 {
			t.Errorf("view a at overlap = %v, want 10", got)
		}
		if got := res.PerView[1].At(7, 5, 5); got != 20 {
			t.Errorf("view b at overlap = %v, want 20", got)
		}
		if got := res.PerView[0].At(12, 5, 5); got != 0 {
			t.Errorf("view a outside its bounds = %v, want 0", got)
		}
		if got := res.PerView[1].At(2, 5, 5); got != 0 {
			t.Errorf("view b outside its bounds = %v, want 0", got)
		}
	})

	t.Run("weighted", func(t *testing.T) {
		a, b := translatedPair()
		res := fuse(t, newEngine(t, SequentialPerView, testConfig(), nil), a, b)

		if got := res.PerView[0].At(7, 5, 5); math.Abs(float64(got-5)) > 1e-5 {
			t.Errorf("view a at overlap = %v, want 5", got)
		}
		if got := res.PerView[1].At(7, 5, 5); math.Abs(float64(got-10)) > 1e-5 {
			t.Errorf("view b at overlap = %v, want 10", got)
		}
		if got := res.PerView[0].At(2, 5, 5); math.Abs(float64(got-10)) > 1e-5 {
			t.Errorf("view a alone = %v, want 10", got)
		}
	})
}

func TestPreDeconvolution(t *testing.T) {
	loader := func(vol *models.Volume) dataset.LoaderFunc {
		return func() (*models.Volume, error) { return vol, nil }
	}
	a := dataset.NewLazyView(dataset.Info{Name: "a", Model: affine.Identity(), Usable: true}, cube10, loader(constant(cube10, 10)))
	b := dataset.NewLazyView(dataset.Info{Name: "b", Angle: 1, Model: affine.Translation(5, 0, 0), Usable: true}, cube10, loader(constant(cube10, 20)))

	res := fuse(t, newEngine(t, PreDeconvolution, testConfig(), nil), a, b)

	if len(res.PerView) != 2 || len(res.Weights) != 2 {
		t.Fatalf("expected 2 images and 2 weight volumes, got %d and %d", len(res.PerView), len(res.Weights))
	}
	if !a.Resident() || !b.Resident() {
		t.Error("views must stay loaded after pre-deconvolution")
	}

	for i := range res.Weights[0].Data {
		sum := res.Weights[0].Data[i] + res.Weights[1].Data[i]
		if math.Abs(float64(sum)-1) > 1e-5 {
			t.Fatalf("weights at voxel %d sum to %v", i, sum)
		}
	}
	if got := res.PerView[1].At(7, 5, 5); got != 20 {
		t.Errorf("transformed image of b = %v, want 20", got)
	}
	if got := res.Weights[0].At(7, 5, 5); math.Abs(float64(got-0.5)) > 1e-5 {
		t.Errorf("weight of a at overlap = %v, want 0.5", got)
	}
}

func TestSequentialReleasesViews(t *testing.T) {
	vol := constant(cube10, 10)
	lazy := dataset.NewLazyView(dataset.Info{Name: "lazy", Model: affine.Identity(), Usable: true}, cube10,
		func() (*models.Volume, error) { return vol, nil })

	fuse(t, newEngine(t, Sequential, testConfig(), nil), lazy)
	if lazy.Resident() {
		t.Error("sequential fusion left the view loaded")
	}
	if lazy.Loads() != 1 {
		t.Errorf("Loads() = %d, want 1", lazy.Loads())
	}
}

func TestLoadFailure(t *testing.T) {
	broken := dataset.NewLazyView(dataset.Info{Name: "broken", Model: affine.Identity(), Usable: true}, cube10,
		func() (*models.Volume, error) { return nil, errors.New("disk gone") })

	if _, err := newEngine(t, Parallel, testConfig(), nil).Fuse([]dataset.View{broken}); err == nil {
		t.Error("expected load error")
	}
}

func TestAllocationFailure(t *testing.T) {
	a, _ := translatedPair()
	for _, kind := range []Kind{Parallel, Sequential, SequentialPerView, MaxWeight, PreDeconvolution} {
		t.Run(kind.String(), func(t *testing.T) {
			_, err := newEngine(t, kind, testConfig(), storage.NewLimited(10)).Fuse([]dataset.View{a})
			if !errors.Is(err, storage.ErrAllocation) {
				t.Errorf("expected ErrAllocation, got %v", err)
			}
		})
	}
}

func TestContentWeightsDegradeOnAllocationFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Content.Entropy = true
	src := ramp(cube10)

	// Room for the output volume but not for a weight field
	store := storage.NewLimited(1500)
	res := fuse(t, newEngine(t, Parallel, cfg, store), memView("a", 0, affine.Identity(), src))

	for i, want := range src.Data {
		if res.Fused.Data[i] != want {
			t.Fatalf("voxel %d = %v, want %v", i, res.Fused.Data[i], want)
		}
	}
	if store.InUse() != 1000 {
		t.Errorf("InUse() = %d, want only the output volume", store.InUse())
	}
}

func TestContentWeightsApplied(t *testing.T) {
	cfg := testConfig()
	cfg.Content.Gauss = true
	a, b := translatedPair()

	res := fuse(t, newEngine(t, Parallel, cfg, storage.NewLimited(1<<20)), a, b)
	// Flat views get uniform content weights, so blending is unchanged
	if got := res.Fused.At(7, 5, 5); math.Abs(float64(got-15)) > 1e-4 {
		t.Errorf("overlap = %v, want 15", got)
	}
}

func TestAccumulatorsReused(t *testing.T) {
	store := storage.NewLimited(1 << 20)
	e := newEngine(t, Sequential, testConfig(), store)
	a, b := translatedPair()

	first := fuse(t, e, a, b)
	firstData := &first.Fused.Data[0]
	inUse := store.InUse()

	second := fuse(t, e, a, b)
	if &second.Fused.Data[0] != firstData {
		t.Error("second fusion allocated new accumulators")
	}
	if store.InUse() != inUse {
		t.Errorf("InUse() changed from %d to %d", inUse, store.InUse())
	}
	if got := second.Fused.At(7, 5, 5); math.Abs(float64(got-15)) > 1e-5 {
		t.Errorf("reused accumulator not cleared: %v", got)
	}

	// Different dimensions replace the cache
	third := fuse(t, e, a)
	if third.Fused.Dims() != cube10 {
		t.Errorf("Dims = %v, want %v", third.Fused.Dims(), cube10)
	}
	if store.InUse() != 2*1000 {
		t.Errorf("InUse() = %d, want %d", store.InUse(), 2*1000)
	}
}

func TestSummarize(t *testing.T) {
	vol := models.NewVolume(2, 2, 2)
	copy(vol.Data, []float32{0, 1, 2, 3, 0, 0, 4, 5})

	s := Summarize(vol)
	if s.Min != 0 || s.Max != 5 {
		t.Errorf("min/max = %v/%v, want 0/5", s.Min, s.Max)
	}
	if math.Abs(s.Mean-3) > 1e-12 {
		t.Errorf("mean = %v, want 3", s.Mean)
	}
	// Sample variance of 1..5 is 2.5
	if math.Abs(s.StdDev-math.Sqrt(2.5)) > 1e-12 {
		t.Errorf("stddev = %v, want %v", s.StdDev, math.Sqrt(2.5))
	}
	// The zero voxels count as not non-zero whether or not a view reached them
	if s.NonZero != 5.0/8.0 {
		t.Errorf("non-zero fraction = %v, want 0.625", s.NonZero)
	}

	if empty := Summarize(models.NewVolume(0, 0, 0)); empty != (Summary{}) {
		t.Errorf("empty volume summary = %+v", empty)
	}
}
