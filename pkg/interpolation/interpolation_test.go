package interpolation

import (
	"math"
	"testing"

	"multiviewfusion/internal/models"
)

// rampVolume creates a volume whose value is x + 10*y + 100*z
func rampVolume(w, h, d int) *models.Volume {
	vol := models.NewVolume(w, h, d)
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				vol.Set(x, y, z, float32(x+10*y+100*z))
			}
		}
	}
	return vol
}

func TestTrilinearAtGridPoints(t *testing.T) {
	vol := rampVolume(4, 5, 6)
	for z := 0; z < 6; z++ {
		for y := 0; y < 5; y++ {
			for x := 0; x < 4; x++ {
				p := models.Point3{float64(x), float64(y), float64(z)}
				if got, want := Trilinear(vol, p), vol.At(x, y, z); got != want {
					t.Fatalf("Trilinear(%v) = %v, want %v", p, got, want)
				}
			}
		}
	}
}

func TestTrilinearBetweenPoints(t *testing.T) {
	vol := rampVolume(4, 4, 4)

	tests := []struct {
		p    models.Point3
		want float64
	}{
		{models.Point3{0.5, 0, 0}, 0.5},
		{models.Point3{1, 1.5, 0}, 16},
		{models.Point3{2.25, 1, 2.5}, 2.25 + 10 + 250},
		{models.Point3{3, 3, 3}, 333},
	}

	for _, tt := range tests {
		got := float64(Trilinear(vol, tt.p))
		if math.Abs(got-tt.want) > 1e-4 {
			t.Errorf("Trilinear(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestNearest(t *testing.T) {
	vol := rampVolume(4, 4, 4)

	if got := Nearest(vol, models.Point3{1.4, 2.6, 0.2}); got != vol.At(1, 3, 0) {
		t.Errorf("Nearest = %v, want %v", got, vol.At(1, 3, 0))
	}
	// Outside positions clamp to the border
	if got := Nearest(vol, models.Point3{-3, 9, 1}); got != vol.At(0, 3, 1) {
		t.Errorf("Nearest clamped = %v, want %v", got, vol.At(0, 3, 1))
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"": Linear, "linear": Linear, "nearest": NearestNeighbor, "nn": NearestNeighbor} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseKind("cubic"); err == nil {
		t.Error("expected error for unknown interpolation")
	}
}
