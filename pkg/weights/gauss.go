package weights

import (
	"fmt"
	"math"

	"multiviewfusion/internal/models"
	"multiviewfusion/pkg/storage"
)

// Gauss weights voxels by local high-frequency energy: the absolute
// difference between the image and a Gaussian blur of it (sigma1), smoothed
// again with sigma2.
type Gauss struct {
	Sigma1 float64
	Sigma2 float64
	Store  storage.Factory
}

func (Gauss) Name() string { return "gauss" }

func (g Gauss) Build(img *models.Volume) (Isolated, error) {
	field, err := g.Store.Allocate(img.Width, img.Height, img.Depth)
	if err != nil {
		return nil, fmt.Errorf("gauss field: %w", err)
	}

	if lo, hi := img.MinMax(); hi <= lo {
		fill(field, 1)
		return NewField(field, g.Store), nil
	}

	copy(field.Data, img.Data)
	gaussianBlur(field, g.Sigma1)
	for i, v := range field.Data {
		field.Data[i] = float32(math.Abs(float64(img.Data[i] - v)))
	}
	gaussianBlur(field, g.Sigma2)

	maxEnergy := 0.0
	for _, v := range field.Data {
		maxEnergy = math.Max(maxEnergy, float64(v))
	}
	scaleTo01(field, maxEnergy)
	for i, v := range field.Data {
		if v < 0 {
			field.Data[i] = 0
		}
	}

	return NewField(field, g.Store), nil
}
