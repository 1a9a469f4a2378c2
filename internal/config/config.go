// Package config implements the experiment configuration boundary. A config
// file is parsed and validated exactly once, here; every downstream component
// receives the resulting ExperimentConfig as already valid and never mutates
// it.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/dataset"
)

// DefaultSeed is used when the config file does not set a seed. A fixed
// default keeps runs reproducible; wall-clock entropy is never used.
const DefaultSeed int64 = 1337

// Toolkit kinds.
const (
	ToolkitBuiltin = "builtin"
	ToolkitExec    = "exec"
)

// EvalOptions control postprocessing and metric selection at evaluation time.
type EvalOptions struct {
	Threshold        float64  `yaml:"threshold" json:"threshold"`
	LargestComponent bool     `yaml:"largest_component" json:"largest_component"`
	Metrics          []string `yaml:"metrics" json:"metrics"`
}

// ToolkitOptions select and parameterize the external training toolkit.
type ToolkitOptions struct {
	Kind       string   `yaml:"kind" json:"kind"`
	TrainCmd   []string `yaml:"train_cmd,omitempty" json:"train_cmd,omitempty"`
	PredictCmd []string `yaml:"predict_cmd,omitempty" json:"predict_cmd,omitempty"`
}

// ExperimentConfig describes one segmentation experiment. Immutable after
// Load; pass it by pointer, copy it with Snapshot.
type ExperimentConfig struct {
	Dataset    string         `yaml:"dataset" json:"dataset"`
	DataRoot   string         `yaml:"data_root" json:"data_root"`
	OutputRoot string         `yaml:"output_root" json:"output_root"`
	Folds      int            `yaml:"folds" json:"folds"`
	Seed       int64          `yaml:"seed" json:"seed"`
	Epochs     int            `yaml:"epochs" json:"epochs"`
	Eval       EvalOptions    `yaml:"eval" json:"eval"`
	Model      map[string]any `yaml:"model" json:"model"`
	Toolkit    ToolkitOptions `yaml:"toolkit" json:"toolkit"`
}

// rawConfig mirrors ExperimentConfig with pointers where absence and zero
// must be distinguished.
type rawConfig struct {
	Dataset    string         `yaml:"dataset"`
	DataRoot   string         `yaml:"data_root"`
	OutputRoot string         `yaml:"output_root"`
	Folds      *int           `yaml:"folds"`
	Seed       *int64         `yaml:"seed"`
	Epochs     *int           `yaml:"epochs"`
	Eval       EvalOptions    `yaml:"eval"`
	Model      map[string]any `yaml:"model"`
	Toolkit    ToolkitOptions `yaml:"toolkit"`
}

var knownKeys = map[string]struct{}{
	"dataset": {}, "data_root": {}, "output_root": {}, "folds": {},
	"seed": {}, "epochs": {}, "eval": {}, "model": {}, "toolkit": {},
}

// Load reads, parses, and validates an experiment config file (YAML or
// JSON). Unknown top-level keys are logged and ignored for forward
// compatibility; missing or invalid required fields fail with a ConfigError
// naming the field.
func Load(path string) (*ExperimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Field: "config", Reason: "cannot read file", Err: err}
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Field: "config", Reason: "malformed document", Err: err}
	}
	warnUnknownKeys(path, data)

	cfg := &ExperimentConfig{
		Dataset:    raw.Dataset,
		DataRoot:   raw.DataRoot,
		OutputRoot: raw.OutputRoot,
		Seed:       DefaultSeed,
		Eval:       raw.Eval,
		Model:      raw.Model,
		Toolkit:    raw.Toolkit,
	}

	if raw.Dataset == "" {
		return nil, &ConfigError{Field: "dataset", Reason: "required"}
	}
	if raw.DataRoot == "" {
		return nil, &ConfigError{Field: "data_root", Reason: "required"}
	}
	if raw.OutputRoot == "" {
		return nil, &ConfigError{Field: "output_root", Reason: "required"}
	}

	if raw.Folds == nil {
		return nil, &ConfigError{Field: "folds", Reason: "required"}
	}
	if *raw.Folds < 1 {
		return nil, &ConfigError{Field: "folds", Reason: fmt.Sprintf("must be >= 1, got %d", *raw.Folds)}
	}
	cfg.Folds = *raw.Folds

	if raw.Seed != nil {
		cfg.Seed = *raw.Seed
	}

	if raw.Epochs == nil {
		return nil, &ConfigError{Field: "epochs", Reason: "required"}
	}
	if *raw.Epochs <= 0 {
		return nil, &ConfigError{Field: "epochs", Reason: fmt.Sprintf("must be positive, got %d", *raw.Epochs)}
	}
	cfg.Epochs = *raw.Epochs

	if cfg.Eval.Threshold == 0 {
		cfg.Eval.Threshold = 0.5
	}
	if cfg.Eval.Threshold < 0 || cfg.Eval.Threshold > 1 {
		return nil, &ConfigError{Field: "eval.threshold", Reason: fmt.Sprintf("must be in (0, 1], got %g", cfg.Eval.Threshold)}
	}
	if len(cfg.Eval.Metrics) == 0 {
		cfg.Eval.Metrics = []string{"dice", "iou"}
	}

	switch cfg.Toolkit.Kind {
	case "":
		cfg.Toolkit.Kind = ToolkitBuiltin
	case ToolkitBuiltin:
	case ToolkitExec:
		if len(cfg.Toolkit.TrainCmd) == 0 {
			return nil, &ConfigError{Field: "toolkit.train_cmd", Reason: "required for exec toolkit"}
		}
		if len(cfg.Toolkit.PredictCmd) == 0 {
			return nil, &ConfigError{Field: "toolkit.predict_cmd", Reason: "required for exec toolkit"}
		}
	default:
		return nil, &ConfigError{Field: "toolkit.kind", Reason: fmt.Sprintf("unknown toolkit %q", cfg.Toolkit.Kind)}
	}

	if ch := cfg.Channels(); ch != 1 && ch != 3 {
		return nil, &ConfigError{Field: "model.channels", Reason: fmt.Sprintf("must be 1 or 3, got %d", ch)}
	}
	if pw, ph := cfg.PatchSize(); pw < 0 || ph < 0 || (pw == 0) != (ph == 0) {
		return nil, &ConfigError{Field: "model.patch_size", Reason: "must be two positive integers"}
	}

	if _, err := os.Stat(cfg.ManifestPath()); err != nil {
		return nil, &ConfigError{
			Field:  "dataset",
			Reason: fmt.Sprintf("dataset %q has no manifest at %s", cfg.Dataset, cfg.ManifestPath()),
			Err:    err,
		}
	}

	return cfg, nil
}

func warnUnknownKeys(path string, data []byte) {
	var top map[string]any
	if err := yaml.Unmarshal(data, &top); err != nil {
		return
	}
	var unknown []string
	for k := range top {
		if _, ok := knownKeys[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		slog.Warn("ignoring unknown config keys", "config", path, "keys", unknown)
	}
}

// ManifestPath returns the conventional manifest location for the dataset.
func (c *ExperimentConfig) ManifestPath() string {
	return filepath.Join(c.DataRoot, c.Dataset, dataset.ManifestFile)
}

// PatchSize returns the model input geometry from the hyperparameter bag.
// (0, 0) means the model accepts the native image geometry.
func (c *ExperimentConfig) PatchSize() (int, int) {
	v, ok := c.Model["patch_size"]
	if !ok {
		return 0, 0
	}
	list, ok := v.([]any)
	if !ok || len(list) != 2 {
		return -1, -1
	}
	w, okW := toInt(list[0])
	h, okH := toInt(list[1])
	if !okW || !okH {
		return -1, -1
	}
	return w, h
}

// Channels returns the expected input channel count (default 1).
func (c *ExperimentConfig) Channels() int {
	v, ok := c.Model["channels"]
	if !ok {
		return 1
	}
	ch, ok := toInt(v)
	if !ok {
		return -1
	}
	return ch
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

// Snapshot returns a deep copy, for embedding into run metadata and
// checkpoint sidecars without sharing the hyperparameter map.
func (c *ExperimentConfig) Snapshot() *ExperimentConfig {
	cp := *c
	if c.Model != nil {
		cp.Model = make(map[string]any, len(c.Model))
		for k, v := range c.Model {
			cp.Model[k] = v
		}
	}
	cp.Eval.Metrics = append([]string(nil), c.Eval.Metrics...)
	cp.Toolkit.TrainCmd = append([]string(nil), c.Toolkit.TrainCmd...)
	cp.Toolkit.PredictCmd = append([]string(nil), c.Toolkit.PredictCmd...)
	return &cp
}
