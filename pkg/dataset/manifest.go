package dataset

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"multiviewfusion/internal/models"
	"multiviewfusion/pkg/affine"
)

/* Example manifest ...

views:
  - name: angle0
    angle: 0
    channel: 0
    dir: views/angle0
    usable: true
    model: [1, 0, 0, 0,  0, 1, 0, 0,  0, 0, 1, 0]
  - name: angle90
    angle: 90
    channel: 0
    dir: views/angle90
    usable: true
    model: [0, 0, 1, 0,  0, 1, 0, 0,  -1, 0, 0, 63]

*/

// ViewSpec is one manifest entry
type ViewSpec struct {
	Name    string    `yaml:"name"`
	Angle   int       `yaml:"angle"`
	Channel int       `yaml:"channel"`
	Dir     string    `yaml:"dir"`
	Usable  *bool     `yaml:"usable"`
	Model   []float64 `yaml:"model,flow"`
}

// Manifest lists the views of a dataset
type Manifest struct {
	Views []ViewSpec `yaml:"views"`
}

// LoadManifest parses a manifest. Relative view directories are resolved
// against the manifest's own directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Views) == 0 {
		return nil, fmt.Errorf("manifest %s lists no views", path)
	}

	base := filepath.Dir(path)
	for i := range m.Views {
		if m.Views[i].Dir != "" && !filepath.IsAbs(m.Views[i].Dir) {
			m.Views[i].Dir = filepath.Join(base, m.Views[i].Dir)
		}
	}
	return &m, nil
}

// Open probes every view's geometry and returns lazily loaded views
func (m *Manifest) Open() ([]View, error) {
	views := make([]View, 0, len(m.Views))
	for i, spec := range m.Views {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("view%d", i)
		}

		model, err := parseModel(spec.Model)
		if err != nil {
			return nil, fmt.Errorf("view %s: %w", name, err)
		}

		size, err := ProbeSlices(spec.Dir)
		if err != nil {
			return nil, fmt.Errorf("view %s: %w", name, err)
		}

		usable := true
		if spec.Usable != nil {
			usable = *spec.Usable
		}

		dir := spec.Dir
		views = append(views, NewLazyView(Info{
			Name:    name,
			Angle:   spec.Angle,
			Channel: spec.Channel,
			Model:   model,
			Usable:  usable,
		}, size, func() (*models.Volume, error) { return LoadSlices(dir) }))
	}
	return views, nil
}

func parseModel(values []float64) (*affine.Model, error) {
	switch len(values) {
	case 0:
		return affine.Identity(), nil
	case 12:
		var m [12]float64
		copy(m[:], values)
		return affine.NewModel(m), nil
	default:
		return nil, fmt.Errorf("model needs 12 values (row-major 3x4), got %d", len(values))
	}
}
