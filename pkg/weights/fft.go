package weights

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"multiviewfusion/internal/models"
)

// gaussLine convolves lines of a fixed length with a sampled Gaussian in the
// frequency domain. Lines are padded by replicating their end values so the
// circular convolution never wraps. Not safe for concurrent use.
type gaussLine struct {
	n, radius int
	gain      float64
	fft       *fourier.FFT
	kernel    []complex128
	padded    []float64
	coeffs    []complex128
	result    []float64
}

func newGaussLine(n int, sigma float64) *gaussLine {
	radius := int(math.Ceil(3 * sigma))
	length := n + 2*radius
	fft := fourier.NewFFT(length)

	// Kernel centred on index 0, negative offsets wrap to the end
	k := make([]float64, length)
	sum := 0.0
	for o := -radius; o <= radius; o++ {
		v := math.Exp(-float64(o*o) / (2 * sigma * sigma))
		k[(o+length)%length] += v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}

	g := &gaussLine{
		n:      n,
		radius: radius,
		gain:   1,
		fft:    fft,
		kernel: fft.Coefficients(nil, k),
		padded: make([]float64, length),
		coeffs: make([]complex128, length/2+1),
		result: make([]float64, length),
	}

	// The inverse transform is unnormalized; calibrate on a constant line so
	// the filter has unit DC gain.
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	g.apply(ones)
	g.gain = 1 / ones[n/2]
	return g
}

// apply convolves line in place
func (g *gaussLine) apply(line []float64) {
	for i := range g.padded {
		j := i - g.radius
		if j < 0 {
			j = 0
		} else if j >= g.n {
			j = g.n - 1
		}
		g.padded[i] = line[j]
	}

	g.fft.Coefficients(g.coeffs, g.padded)
	for i := range g.coeffs {
		g.coeffs[i] *= g.kernel[i]
	}
	g.fft.Sequence(g.result, g.coeffs)

	for i := range line {
		line[i] = g.result[g.radius+i] * g.gain
	}
}

// gaussianBlur filters vol in place with a separable Gaussian of the given sigma
func gaussianBlur(vol *models.Volume, sigma float64) {
	dims := vol.Dims()
	strides := [3]int{1, vol.Width, vol.Width * vol.Height}

	for axis := 0; axis < 3; axis++ {
		n := dims[axis]
		if n < 2 {
			continue
		}
		g := newGaussLine(n, sigma)
		line := make([]float64, n)

		// The other two axes enumerate the lines
		a, b := (axis+1)%3, (axis+2)%3
		for j := 0; j < dims[b]; j++ {
			for i := 0; i < dims[a]; i++ {
				start := i*strides[a] + j*strides[b]
				for k := 0; k < n; k++ {
					line[k] = float64(vol.Data[start+k*strides[axis]])
				}
				g.apply(line)
				for k := 0; k < n; k++ {
					vol.Data[start+k*strides[axis]] = float32(line[k])
				}
			}
		}
	}
}
