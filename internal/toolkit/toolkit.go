// Package toolkit wraps the external deep-learning training toolkit behind
// an explicit handle. The orchestrator and the inference pipeline receive a
// Handle through their constructors; nothing in the core touches toolkit
// state ambiently, so independent pipelines can hold independent models.
package toolkit

import (
	"context"
	"fmt"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/config"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/dataset"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/tensor"
)

// TrainSpec carries everything a toolkit needs for one training run.
type TrainSpec struct {
	RunDir          string
	WeightsPath     string
	Epochs          int
	Seed            int64
	Hyperparams     map[string]any
	TrainCases      []dataset.Case
	ValidationCases []dataset.Case
}

// Model is a loaded checkpoint ready for inference. A Model instance is
// owned by exactly one pipeline; it is not safe for concurrent Predict
// calls unless documented otherwise by the implementation.
type Model interface {
	// Predict maps a preprocessed input tensor to a per-pixel foreground
	// probability tensor of the same geometry.
	Predict(ctx context.Context, in *tensor.Tensor) (*tensor.Tensor, error)
	Close() error
}

// Handle is the toolkit integration surface.
type Handle interface {
	Name() string
	Version() string
	// Train runs the toolkit and must leave readable weights at
	// spec.WeightsPath on success.
	Train(ctx context.Context, spec TrainSpec) error
	// Open loads trained weights for inference.
	Open(ctx context.Context, weightsPath string) (Model, error)
}

// New builds the toolkit handle selected by the config.
func New(cfg *config.ExperimentConfig) (Handle, error) {
	switch cfg.Toolkit.Kind {
	case config.ToolkitBuiltin:
		return NewBuiltin(), nil
	case config.ToolkitExec:
		return NewExec(cfg.Toolkit.TrainCmd, cfg.Toolkit.PredictCmd), nil
	default:
		return nil, fmt.Errorf("toolkit: unknown kind %q", cfg.Toolkit.Kind)
	}
}
