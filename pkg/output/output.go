// Package output names fused volumes and hands them to the display and
// persistence collaborators.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"multiviewfusion/internal/logging"
	"multiviewfusion/internal/models"
)

// Display shows a volume under a name, with intensities scaled to [min, max].
type Display interface {
	Show(name string, vol *models.Volume, min, max float32) error
}

// Writer persists a volume under a name.
type Writer interface {
	Write(name string, vol *models.Volume) error
}

// FormatName substitutes {t}, {c} and {a} in pattern with the timepoint,
// channel and angle.
func FormatName(pattern string, timepoint, channel int, angle string) string {
	r := strings.NewReplacer(
		"{t}", strconv.Itoa(timepoint),
		"{c}", strconv.Itoa(channel),
		"{a}", angle,
	)
	return r.Replace(pattern)
}

// sliceRange is written next to the slices of a volume
type sliceRange struct {
	Dims [3]int  `yaml:"dims,flow"`
	Min  float32 `yaml:"min"`
	Max  float32 `yaml:"max"`
}

// TIFFWriter stores each volume as a directory of z-slice TIFFs scaled to
// the volume's own intensity range. The range is recorded next to the slices
// so intensities can be restored.
type TIFFWriter struct {
	Dir string
}

func (w TIFFWriter) Write(name string, vol *models.Volume) error {
	dir := filepath.Join(w.Dir, name)
	viewer := NewAutoViewer(vol)
	if err := viewer.SaveSliceSequence("z", dir); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}

	info, err := yaml.Marshal(sliceRange{
		Dims: vol.Dims(),
		Min:  viewer.min,
		Max:  viewer.max,
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "range.yaml"), info, 0644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}

	logging.Logger().Info("wrote volume", "name", name, "dir", dir, "dims", vol.Dims())
	return nil
}

// LogDisplay stands in for an interactive viewer: it logs what would be shown.
type LogDisplay struct{}

func (LogDisplay) Show(name string, vol *models.Volume, min, max float32) error {
	logging.Logger().Info("display", "name", name, "dims", vol.Dims(), "min", min, "max", max)
	return nil
}
