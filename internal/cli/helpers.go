package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/config"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/dataset"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/registry"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/run"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/split"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/telemetry"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/toolkit"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/trainer"
)

// experiment bundles everything a train/evaluate command needs.
type experiment struct {
	cfg      *config.ExperimentConfig
	manifest *dataset.Manifest
	orch     *trainer.Orchestrator
	registry *registry.Registry
	metrics  telemetry.Metrics
}

// loadExperiment loads the config, manifest, split assignment, toolkit,
// registry, and telemetry for the configured experiment.
func loadExperiment(ctx context.Context, workers int) (*experiment, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	m, err := dataset.Load(cfg.ManifestPath())
	if err != nil {
		return nil, err
	}
	a, err := split.Assign(m, cfg.Folds, cfg.Seed)
	if err != nil {
		return nil, err
	}
	tk, err := toolkit.New(cfg)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Open(ctx, filepath.Join(cfg.OutputRoot, registry.DefaultFile))
	if err != nil {
		return nil, fmt.Errorf("open run registry: %w", err)
	}

	var metrics telemetry.Metrics
	if exp, err := telemetry.NewExporter(ctx, telemetry.LoadConfig()); err == nil {
		metrics = exp
	} else {
		slog.Debug("metrics export disabled", "reason", err)
		metrics = telemetry.NewNoop()
	}

	opts := []trainer.Option{trainer.WithRecorder(&runMirror{reg: reg, metrics: metrics})}
	if workers > 0 {
		opts = append(opts, trainer.WithWorkers(workers))
	}

	return &experiment{
		cfg:      cfg,
		manifest: m,
		orch:     trainer.New(cfg, m, a, tk, opts...),
		registry: reg,
		metrics:  metrics,
	}, nil
}

// runMirror fans run updates out to the registry and, for finalized runs,
// the metrics exporter.
type runMirror struct {
	reg     *registry.Registry
	metrics telemetry.Metrics
}

func (r *runMirror) Record(ctx context.Context, m *run.Metadata) error {
	if m.State.Terminal() {
		if err := r.metrics.ExportRun(ctx, m); err != nil {
			slog.Warn("exporting run metric", "run", m.ID, "error", err)
		}
	}
	return r.reg.Record(ctx, m)
}

func (e *experiment) close(ctx context.Context) {
	if err := e.metrics.Close(ctx); err != nil {
		slog.Warn("flushing metrics", "error", err)
	}
	if err := e.registry.Close(); err != nil {
		slog.Warn("closing registry", "error", err)
	}
}
