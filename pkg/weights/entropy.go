package weights

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"multiviewfusion/internal/models"
	"multiviewfusion/pkg/storage"
)

// Entropy weights voxels by the Shannon entropy of the intensity histogram
// in a cubic window around them. Textured regions score higher than flat or
// blurred ones.
type Entropy struct {
	WindowRadius int
	Bins         int
	Store        storage.Factory
}

func (Entropy) Name() string { return "entropy" }

func (e Entropy) Build(img *models.Volume) (Isolated, error) {
	field, err := e.Store.Allocate(img.Width, img.Height, img.Depth)
	if err != nil {
		return nil, fmt.Errorf("entropy field: %w", err)
	}

	lo, hi := img.MinMax()
	if hi <= lo {
		// A flat image carries no content information
		fill(field, 1)
		return NewField(field, e.Store), nil
	}
	binScale := float64(e.Bins-1) / float64(hi-lo)

	hist := make([]float64, e.Bins)
	r := e.WindowRadius
	maxEntropy := 0.0

	for z := 0; z < img.Depth; z++ {
		z0, z1 := window(z, r, img.Depth)
		for y := 0; y < img.Height; y++ {
			y0, y1 := window(y, r, img.Height)
			for x := 0; x < img.Width; x++ {
				x0, x1 := window(x, r, img.Width)

				clear(hist)
				count := 0
				for wz := z0; wz <= z1; wz++ {
					for wy := y0; wy <= y1; wy++ {
						row := img.Index(0, wy, wz)
						for wx := x0; wx <= x1; wx++ {
							hist[int(float64(img.Data[row+wx]-lo)*binScale)]++
							count++
						}
					}
				}
				for i := range hist {
					hist[i] /= float64(count)
				}

				h := stat.Entropy(hist)
				field.Set(x, y, z, float32(h))
				if h > maxEntropy {
					maxEntropy = h
				}
			}
		}
	}

	scaleTo01(field, maxEntropy)
	return NewField(field, e.Store), nil
}

func window(c, r, size int) (int, int) {
	lo, hi := c-r, c+r
	if lo < 0 {
		lo = 0
	}
	if hi > size-1 {
		hi = size - 1
	}
	return lo, hi
}

func fill(vol *models.Volume, v float32) {
	for i := range vol.Data {
		vol.Data[i] = v
	}
}

// scaleTo01 divides by max; a field without any signal becomes uniform 1
func scaleTo01(vol *models.Volume, max float64) {
	if max <= 0 {
		fill(vol, 1)
		return
	}
	inv := float32(1 / max)
	for i, v := range vol.Data {
		vol.Data[i] = min(v*inv, 1)
	}
}
