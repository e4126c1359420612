package fusion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"multiviewfusion/internal/models"
)

// Summary describes the intensities of an output volume.
type Summary struct {
	Min, Max float64

	// Mean and StdDev are taken over non-zero voxels only
	Mean   float64
	StdDev float64

	// NonZero is the fraction of voxels with a non-zero value. Voxels no
	// view reached are 0, but so are reached voxels of zero intensity, so
	// this is a lower bound on coverage.
	NonZero float64
}

func (s Summary) String() string {
	return fmt.Sprintf("min=%.4g max=%.4g mean=%.4g sd=%.4g nonzero=%.1f%%",
		s.Min, s.Max, s.Mean, s.StdDev, 100*s.NonZero)
}

// Summarize works one z-slice at a time so the volume is never copied to
// float64 as a whole. Per-slice moments are merged with the pairwise update
// of Chan et al.
func Summarize(vol *models.Volume) Summary {
	if vol.Len() == 0 {
		return Summary{}
	}

	s := Summary{Min: math.Inf(1), Max: math.Inf(-1)}
	plane := make([]float64, vol.Width*vol.Height)
	covered := make([]float64, 0, len(plane))

	var n, mean, m2 float64
	for z := 0; z < vol.Depth; z++ {
		covered = covered[:0]
		for i, v := range vol.Slice(z) {
			plane[i] = float64(v)
			if v != 0 {
				covered = append(covered, float64(v))
			}
		}
		s.Min = math.Min(s.Min, floats.Min(plane))
		s.Max = math.Max(s.Max, floats.Max(plane))

		if len(covered) == 0 {
			continue
		}
		nb := float64(len(covered))
		meanB, varB := stat.MeanVariance(covered, nil)
		if len(covered) == 1 {
			varB = 0
		}
		m2B := varB * (nb - 1)

		delta := meanB - mean
		total := n + nb
		mean += delta * nb / total
		m2 += m2B + delta*delta*n*nb/total
		n = total
	}

	s.Mean = mean
	if n > 1 {
		s.StdDev = math.Sqrt(m2 / (n - 1))
	}
	s.NonZero = n / float64(vol.Len())
	return s
}
