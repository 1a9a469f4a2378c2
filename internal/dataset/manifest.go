// Package dataset loads and validates dataset manifests: the ordered
// registry of case identifiers and their image/label file locations.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the conventional manifest name inside a dataset directory.
const ManifestFile = "manifest.yaml"

// Case is one dataset entry. Label is optional; cases without a label can be
// used for training-free inference but not for metric computation.
type Case struct {
	ID    string `yaml:"id" json:"id"`
	Image string `yaml:"image" json:"image"`
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
}

// Manifest is an ordered sequence of cases. Order is significant: fold
// assignment is defined over the manifest order. The core treats a loaded
// manifest as read-only.
type Manifest struct {
	Name  string `yaml:"dataset" json:"dataset"`
	Cases []Case `yaml:"cases" json:"cases"`
}

// Load reads a manifest from a YAML or JSON file and resolves relative case
// paths against the manifest's directory.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i := range m.Cases {
		if m.Cases[i].Image != "" && !filepath.IsAbs(m.Cases[i].Image) {
			m.Cases[i].Image = filepath.Join(base, m.Cases[i].Image)
		}
		if m.Cases[i].Label != "" && !filepath.IsAbs(m.Cases[i].Label) {
			m.Cases[i].Label = filepath.Join(base, m.Cases[i].Label)
		}
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks structural invariants: at least one case, unique non-empty
// IDs, and an image path per case.
func (m *Manifest) Validate() error {
	if len(m.Cases) == 0 {
		return fmt.Errorf("manifest defines no cases")
	}
	seen := make(map[string]struct{}, len(m.Cases))
	for i, c := range m.Cases {
		if c.ID == "" {
			return fmt.Errorf("case %d has an empty id", i)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("duplicate case id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
		if c.Image == "" {
			return fmt.Errorf("case %q has no image path", c.ID)
		}
	}
	return nil
}

// IDs returns the case identifiers in manifest order.
func (m *Manifest) IDs() []string {
	ids := make([]string, len(m.Cases))
	for i, c := range m.Cases {
		ids[i] = c.ID
	}
	return ids
}

// ByID returns the case with the given identifier.
func (m *Manifest) ByID(id string) (Case, bool) {
	for _, c := range m.Cases {
		if c.ID == id {
			return c, true
		}
	}
	return Case{}, false
}

// Subset returns the cases for the given IDs, in the order given. Unknown
// IDs are an error so split/manifest drift is caught early.
func (m *Manifest) Subset(ids []string) ([]Case, error) {
	out := make([]Case, 0, len(ids))
	for _, id := range ids {
		c, ok := m.ByID(id)
		if !ok {
			return nil, fmt.Errorf("case %q not in manifest", id)
		}
		out = append(out, c)
	}
	return out, nil
}
