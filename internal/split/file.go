package split

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Save persists the assignment as YAML so a split can be pinned and reused
// across machines independent of the generator.
func (a *Assignment) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create split directory: %w", err)
	}
	data, err := yaml.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal split: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write split %s: %w", path, err)
	}
	return nil
}

// LoadFile reads a previously saved assignment (YAML or JSON).
func LoadFile(path string) (*Assignment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read split: %w", err)
	}
	var a Assignment
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse split %s: %w", path, err)
	}
	if len(a.Folds) == 0 {
		return nil, &SplitError{Msg: fmt.Sprintf("split file %s defines no folds", path)}
	}
	for i, f := range a.Folds {
		if len(f.Train) == 0 || len(f.Validation) == 0 {
			return nil, &SplitError{Msg: fmt.Sprintf("split file %s: fold %d has an empty group", path, i)}
		}
	}
	return &a, nil
}
