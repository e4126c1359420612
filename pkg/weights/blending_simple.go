package weights

import (
	"math"

	"multiviewfusion/internal/models"
)

// BlendingSimple ramps each view's weight with a half cosine over a margin
// given as a percentage of the view extent, after skipping Border voxels.
type BlendingSimple struct {
	MarginPercent float64
	Border        float64
}

func (BlendingSimple) Name() string { return "blending-simple" }

func (b BlendingSimple) New(sizes [][3]int) Combined {
	return &blendingSimple{
		marginPercent: b.MarginPercent,
		border:        b.Border,
		sizes:         sizes,
		weights:       make([]float64, len(sizes)),
	}
}

type blendingSimple struct {
	marginPercent float64
	border        float64
	sizes         [][3]int
	weights       []float64
}

func (b *blendingSimple) Update(locations []models.Point3, active []bool) {
	n, last := countActive(active)
	clear(b.weights)

	switch n {
	case 0:
		return
	case 1:
		b.weights[last] = 1
		return
	}

	for i, on := range active {
		if on {
			b.weights[i] = cosineWeight(locations[i], b.sizes[i], b.marginPercent, b.border)
		}
	}
	normalize(b.weights, active, n)
}

func (b *blendingSimple) Weight(view int) float64 { return b.weights[view] }

// cosineWeight multiplies the per-axis linear ramps and eases the product
// with (cos((1-v)π)+1)/2.
func cosineWeight(p models.Point3, size [3]int, marginPercent, border float64) float64 {
	v := 1.0
	for d := 0; d < 3; d++ {
		extent := float64(size[d])
		margin := marginPercent / 100 * extent
		dist := math.Min(p[d]-border, extent-1-p[d]-border)
		if dist >= margin {
			continue
		}
		if margin <= 0 {
			if dist < 0 {
				v = 0
			}
			continue
		}
		v *= clamp01(dist / margin)
	}
	return (math.Cos((1-v)*math.Pi) + 1) / 2
}
