package imdb

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Entry is one image of a manifest.
type Entry struct {
	// Path is relative to the manifest root unless absolute.
	Path string `json:"path"   yaml:"path"`
	// Labels holds one of 0, 1 or -1 per attribute.
	Labels []int8 `json:"labels" yaml:"labels"`
}

// Partitions lists image indices per split.
type Partitions struct {
	Test []int `json:"test" yaml:"test"`
}

// Manifest is a labelled database described by a YAML file.
type Manifest struct {
	DBName     string     `json:"name"       yaml:"name"`
	Root       string     `json:"root"       yaml:"root"`
	Names      []string   `json:"attributes" yaml:"attributes"`
	Images     []Entry    `json:"images"     yaml:"images"`
	Partitions Partitions `json:"partitions" yaml:"partitions"`
}

// LoadManifest reads and validates a database manifest.
//
// A relative root is resolved against the manifest's directory. A missing test
// partition selects every image.
//
// Arguments:
//   - path: The YAML manifest.
//
// Returns:
//   - *Manifest: The database.
//   - error: An error if the file cannot be read or is inconsistent.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read manifest")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "failed to parse manifest %s", path)
	}

	if !filepath.IsAbs(m.Root) {
		m.Root = filepath.Join(filepath.Dir(path), m.Root)
	}
	if m.DBName == "" {
		m.DBName = filepath.Base(path)
	}
	if m.Partitions.Test == nil {
		m.Partitions.Test = make([]int, len(m.Images))
		for i := range m.Images {
			m.Partitions.Test[i] = i
		}
	}

	if err := m.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid manifest %s", path)
	}
	return &m, nil
}

// Validate checks label lengths, label values and test indices.
func (m *Manifest) Validate() error {
	if len(m.Names) == 0 {
		return errors.New("manifest lists no attributes")
	}
	for i, e := range m.Images {
		if e.Path == "" {
			return errors.Errorf("image %d has no path", i)
		}
		if len(e.Labels) != len(m.Names) {
			return errors.Errorf("image %d has %d labels, want %d", i, len(e.Labels), len(m.Names))
		}
		for j, l := range e.Labels {
			if l != Negative && l != Positive && l != Unknown {
				return errors.Errorf("image %d attribute %d has label %d", i, j, l)
			}
		}
	}
	for _, i := range m.Partitions.Test {
		if i < 0 || i >= len(m.Images) {
			return errors.Errorf("test index %d out of range [0,%d)", i, len(m.Images))
		}
	}
	return nil
}

// Name implements Database.
func (m *Manifest) Name() string { return m.DBName }

// TestIndices implements Database.
func (m *Manifest) TestIndices() []int { return m.Partitions.Test }

// ImagePath implements Database.
func (m *Manifest) ImagePath(i int) string {
	p := m.Images[i].Path
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Root, p)
}

// Attributes implements Database.
func (m *Manifest) Attributes() []string { return m.Names }

// Labels implements Database.
func (m *Manifest) Labels(i int) ([]int8, error) {
	if i < 0 || i >= len(m.Images) {
		return nil, errors.Errorf("image index %d out of range [0,%d)", i, len(m.Images))
	}
	return m.Images[i].Labels, nil
}

// Labeled implements Database.
func (m *Manifest) Labeled() bool { return true }
