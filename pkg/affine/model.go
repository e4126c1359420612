// Package affine implements the 3D affine registration models that map a
// view's local voxel coordinates into the fused world space.
package affine

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"multiviewfusion/internal/models"
)

// ErrNonInvertible is returned by Invert when the model has no inverse.
var ErrNonInvertible = errors.New("affine model is not invertible")

// Transform is the contract the fusion engine needs from a registration model.
type Transform interface {
	// Apply maps a local point to world space
	Apply(p models.Point3) models.Point3

	// Invert maps a world point back to local space
	Invert(p models.Point3) (models.Point3, error)

	// Invertible reports whether Invert can succeed at all
	Invertible() bool

	// EstimateBounds returns the axis-aligned world bounds of the local box [min, max]
	EstimateBounds(min, max models.Point3) (models.Point3, models.Point3)
}

// conditionLimit is the largest condition number we accept before treating
// the linear part as singular.
const conditionLimit = 1e12

// Model is a 3x4 affine transform stored row-major:
//
//	| m00 m01 m02 m03 |
//	| m10 m11 m12 m13 |
//	| m20 m21 m22 m23 |
type Model struct {
	m          [12]float64
	inv        [12]float64
	invertible bool
}

// NewModel builds a model from 12 row-major values and precomputes its inverse.
func NewModel(values [12]float64) *Model {
	model := &Model{m: values}
	model.computeInverse()
	return model
}

// Identity returns the identity transform
func Identity() *Model {
	return NewModel([12]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	})
}

// Translation returns a pure translation
func Translation(tx, ty, tz float64) *Model {
	return NewModel([12]float64{
		1, 0, 0, tx,
		0, 1, 0, ty,
		0, 0, 1, tz,
	})
}

// Scaling returns an axis-aligned scale about the origin
func Scaling(sx, sy, sz float64) *Model {
	return NewModel([12]float64{
		sx, 0, 0, 0,
		0, sy, 0, 0,
		0, 0, sz, 0,
	})
}

// RotationZ returns a rotation of thetaDeg degrees about the z axis through (cx, cy)
func RotationZ(thetaDeg, cx, cy float64) *Model {
	c := math.Cos(thetaDeg * math.Pi / 180.0)
	s := math.Sin(thetaDeg * math.Pi / 180.0)
	// Compose back to front: translate to origin, rotate, translate back
	return NewModel([12]float64{
		c, -s, 0, cx - c*cx + s*cy,
		s, c, 0, cy - s*cx - c*cy,
		0, 0, 1, 0,
	})
}

// Values returns the 12 row-major matrix entries
func (m *Model) Values() [12]float64 { return m.m }

// Invertible reports whether Invert can succeed
func (m *Model) Invertible() bool { return m.invertible }

// Concatenate returns m∘other, i.e. other is applied first
func (m *Model) Concatenate(other *Model) *Model {
	a, b := m.m, other.m
	var out [12]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[4*r+c] = a[4*r+0]*b[4*0+c] + a[4*r+1]*b[4*1+c] + a[4*r+2]*b[4*2+c]
		}
		out[4*r+3] = a[4*r+0]*b[3] + a[4*r+1]*b[7] + a[4*r+2]*b[11] + a[4*r+3]
	}
	return NewModel(out)
}

func (m *Model) Apply(p models.Point3) models.Point3 {
	return apply(&m.m, p)
}

func (m *Model) Invert(p models.Point3) (models.Point3, error) {
	if !m.invertible {
		return models.Point3{}, ErrNonInvertible
	}
	return apply(&m.inv, p), nil
}

// EstimateBounds transforms all eight corners of the box and returns their
// axis-aligned envelope.
func (m *Model) EstimateBounds(min, max models.Point3) (models.Point3, models.Point3) {
	lo := models.Point3{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := models.Point3{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for corner := 0; corner < 8; corner++ {
		var p models.Point3
		for d := 0; d < 3; d++ {
			if corner&(1<<d) == 0 {
				p[d] = min[d]
			} else {
				p[d] = max[d]
			}
		}
		w := m.Apply(p)
		for d := 0; d < 3; d++ {
			lo[d] = math.Min(lo[d], w[d])
			hi[d] = math.Max(hi[d], w[d])
		}
	}
	return lo, hi
}

func (m *Model) String() string {
	return fmt.Sprintf("3d-affine: (%g, %g, %g, %g, %g, %g, %g, %g, %g, %g, %g, %g)",
		m.m[0], m.m[1], m.m[2], m.m[3],
		m.m[4], m.m[5], m.m[6], m.m[7],
		m.m[8], m.m[9], m.m[10], m.m[11])
}

// computeInverse inverts the homogeneous 4x4 form with gonum. A singular or
// badly conditioned linear part leaves the model non-invertible.
func (m *Model) computeInverse() {
	h := mat.NewDense(4, 4, []float64{
		m.m[0], m.m[1], m.m[2], m.m[3],
		m.m[4], m.m[5], m.m[6], m.m[7],
		m.m[8], m.m[9], m.m[10], m.m[11],
		0, 0, 0, 1,
	})

	linear := h.Slice(0, 3, 0, 3)
	if cond := mat.Cond(linear, 2); math.IsInf(cond, 1) || math.IsNaN(cond) || cond > conditionLimit {
		m.invertible = false
		return
	}

	var inv mat.Dense
	if err := inv.Inverse(h); err != nil {
		m.invertible = false
		return
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			m.inv[4*r+c] = inv.At(r, c)
		}
	}
	m.invertible = true
}

func apply(a *[12]float64, p models.Point3) models.Point3 {
	return models.Point3{
		a[0]*p[0] + a[1]*p[1] + a[2]*p[2] + a[3],
		a[4]*p[0] + a[5]*p[1] + a[6]*p[2] + a[7],
		a[8]*p[0] + a[9]*p[1] + a[10]*p[2] + a[11],
	}
}
