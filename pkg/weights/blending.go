package weights

import (
	"math"

	"multiviewfusion/internal/models"
)

// borderFraction is the share of the half extent over which the border
// distance weight ramps from 0 to 1.
const borderFraction = 0.35

// Blending weights each view by its distance to the nearest border of its
// own volume, so overlapping views fade into each other instead of
// producing seams.
type Blending struct {
	Alpha float64
}

func (Blending) Name() string { return "blending" }

func (b Blending) New(sizes [][3]int) Combined {
	return &blending{
		alpha:   b.Alpha,
		sizes:   sizes,
		weights: make([]float64, len(sizes)),
	}
}

type blending struct {
	alpha   float64
	sizes   [][3]int
	weights []float64
}

func (b *blending) Update(locations []models.Point3, active []bool) {
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
			b.weights[i] = borderWeight(locations[i], b.sizes[i], b.alpha)
		}
	}
	normalize(b.weights, active, n)
}

func (b *blending) Weight(view int) float64 { return b.weights[view] }

// borderWeight is the unnormalized weight of local position p in a volume of
// the given size. It is 0 on the border and reaches 1 once p is further than
// borderFraction of the half extent from every border.
func borderWeight(p models.Point3, size [3]int, alpha float64) float64 {
	w := 1.0
	for d := 0; d < 3; d++ {
		extent := float64(size[d])
		ramp := borderFraction * extent / 2
		if ramp <= 0 {
			continue
		}
		dist := math.Min(p[d], extent-1-p[d])
		if dist < ramp {
			w *= clamp01(dist / ramp)
		}
	}
	return math.Pow(w, alpha)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
