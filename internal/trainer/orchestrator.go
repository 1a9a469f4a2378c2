// Package trainer drives the train-or-evaluate lifecycle against the
// external toolkit. Each invocation creates exactly one run record, moves it
// through Configured -> Running -> {Completed, Failed}, and always finalizes
// the record before surfacing an error, so "what was attempted" is always
// auditable after the fact.
package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/checkpoint"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/config"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/dataset"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/inference"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/metrics"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/run"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/split"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/tensor"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/toolkit"
)

// WeightsFile is the toolkit-owned weights artifact inside a run directory.
const WeightsFile = "weights.bin"

// Recorder mirrors run state into an external index. Recording is
// best-effort: the run directory stays the source of truth and a recorder
// failure never aborts a run.
type Recorder interface {
	Record(ctx context.Context, m *run.Metadata) error
}

// Orchestrator coordinates one experiment's runs. One orchestrator is
// expected per accelerator; run-unique output directories keep concurrent
// orchestrators on the same output root from clobbering each other.
type Orchestrator struct {
	cfg        *config.ExperimentConfig
	manifest   *dataset.Manifest
	assignment *split.Assignment
	tk         toolkit.Handle

	recorder Recorder
	workers  int
	log      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder mirrors run metadata into the given index.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithWorkers bounds evaluation-time inference concurrency.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// New builds an orchestrator. The config and assignment are treated as
// already validated; construction performs no I/O.
func New(cfg *config.ExperimentConfig, m *dataset.Manifest, a *split.Assignment, tk toolkit.Handle, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		manifest:   m,
		assignment: a,
		tk:         tk,
		workers:    4,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Train runs the toolkit for one fold and returns a verified checkpoint
// handle. On any failure the run is finalized Failed and no handle is
// returned.
func (o *Orchestrator) Train(ctx context.Context, fold int) (*checkpoint.Handle, error) {
	f, err := o.assignment.Fold(fold)
	if err != nil {
		return nil, err
	}
	trainCases, err := o.manifest.Subset(f.Train)
	if err != nil {
		return nil, &split.SplitError{Msg: err.Error()}
	}
	valCases, err := o.manifest.Subset(f.Validation)
	if err != nil {
		return nil, &split.SplitError{Msg: err.Error()}
	}

	meta, err := run.Create(o.cfg, run.ModeTrain, fold, o.tk.Version())
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	o.record(ctx, meta)
	o.log.Info("training run starting",
		"run", meta.ID, "dataset", o.cfg.Dataset, "fold", fold,
		"train_cases", len(trainCases), "validation_cases", len(valCases))

	if err := meta.Start(); err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	o.record(ctx, meta)

	weights := filepath.Join(meta.Dir(), WeightsFile)
	spec := toolkit.TrainSpec{
		RunDir:          meta.Dir(),
		WeightsPath:     weights,
		Epochs:          o.cfg.Epochs,
		Seed:            o.cfg.Seed,
		Hyperparams:     meta.Config.Model,
		TrainCases:      trainCases,
		ValidationCases: valCases,
	}
	if err := o.tk.Train(ctx, spec); err != nil {
		return nil, o.failTraining(ctx, meta, fmt.Errorf("toolkit: %w", err))
	}

	// A checkpoint only counts once the toolkit's own loader accepts it.
	model, err := o.tk.Open(ctx, weights)
	if err != nil {
		return nil, o.failTraining(ctx, meta, fmt.Errorf("verify checkpoint: %w", err))
	}
	model.Close()

	h := &checkpoint.Handle{
		Weights:        weights,
		Format:         o.tk.Name(),
		ToolkitVersion: o.tk.Version(),
		RunID:          meta.ID,
		CreatedAt:      meta.StartedAt,
		Config:         meta.Config,
	}
	if err := checkpoint.Write(h); err != nil {
		return nil, o.failTraining(ctx, meta, err)
	}

	if err := meta.Complete(weights); err != nil {
		return nil, o.failTraining(ctx, meta, err)
	}
	o.record(ctx, meta)
	o.log.Info("training run completed", "run", meta.ID, "checkpoint", weights)
	return h, nil
}

// Evaluate runs a trained checkpoint over the fold's validation cases and
// returns the aggregated metrics. Checkpoint/config incompatibility is
// rejected up front with an EvaluationError rather than failing deep inside
// inference.
func (o *Orchestrator) Evaluate(ctx context.Context, ckpt *checkpoint.Handle, fold int) (map[string]float64, error) {
	f, err := o.assignment.Fold(fold)
	if err != nil {
		return nil, err
	}
	valCases, err := o.manifest.Subset(f.Validation)
	if err != nil {
		return nil, &split.SplitError{Msg: err.Error()}
	}

	meta, err := run.Create(o.cfg, run.ModeEvaluate, fold, o.tk.Version())
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	o.record(ctx, meta)
	o.log.Info("evaluation run starting",
		"run", meta.ID, "checkpoint", ckpt.ID(), "fold", fold, "cases", len(valCases))

	if err := o.checkCompatibility(ckpt, valCases); err != nil {
		return nil, o.failEvaluation(ctx, meta, err)
	}

	if err := meta.Start(); err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	o.record(ctx, meta)

	pipe, err := inference.New(ctx, o.tk, ckpt,
		inference.WithWorkers(o.workers),
		inference.WithOutputDir(filepath.Join(meta.Dir(), "predictions")),
		inference.WithLogger(o.log),
	)
	if err != nil {
		return nil, o.failEvaluation(ctx, meta, err)
	}
	defer pipe.Close()

	results, runErr := pipe.Run(ctx, inference.InputsFromCases(valCases, true))
	if runErr != nil {
		return nil, o.failEvaluation(ctx, meta, fmt.Errorf("cancelled: %w", runErr))
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			_ = meta.AppendEvent(fmt.Sprintf("case %s failed: %v", r.InputID, r.Err))
		}
	}
	if failed == len(results) {
		return nil, o.failEvaluation(ctx, meta, fmt.Errorf("all %d validation cases failed", failed))
	}
	if failed > 0 {
		o.log.Warn("evaluation finished with per-case failures", "run", meta.ID, "failed", failed)
	}

	records := inference.Records(results, ckpt.ID())
	if err := metrics.WriteRecords(filepath.Join(meta.Dir(), "metrics.json"), records); err != nil {
		return nil, o.failEvaluation(ctx, meta, err)
	}

	if err := meta.Complete(ckpt.Weights); err != nil {
		return nil, o.failEvaluation(ctx, meta, err)
	}
	o.record(ctx, meta)

	agg := metrics.Aggregate(records)
	o.log.Info("evaluation run completed", "run", meta.ID, "metrics", agg)
	return agg, nil
}

// checkCompatibility rejects checkpoints that cannot serve the current
// experiment: wrong toolkit kind, or an input channel count the dataset's
// images cannot satisfy.
func (o *Orchestrator) checkCompatibility(ckpt *checkpoint.Handle, cases []dataset.Case) error {
	if kind := ckpt.Config.Toolkit.Kind; kind != o.cfg.Toolkit.Kind {
		return fmt.Errorf("checkpoint was trained with toolkit %q, experiment uses %q", kind, o.cfg.Toolkit.Kind)
	}
	if len(cases) == 0 {
		return fmt.Errorf("no validation cases to evaluate")
	}

	probe, err := tensor.LoadImage(cases[0].Image)
	if err != nil {
		return fmt.Errorf("probe case %s: %w", cases[0].ID, err)
	}
	if want := ckpt.Config.Channels(); probe.C != want {
		return fmt.Errorf("checkpoint expects %d-channel input, dataset provides %d channels", want, probe.C)
	}
	return nil
}

func (o *Orchestrator) failTraining(ctx context.Context, meta *run.Metadata, cause error) error {
	o.finalize(ctx, meta, cause)
	return &TrainingError{RunID: meta.ID, Err: cause}
}

func (o *Orchestrator) failEvaluation(ctx context.Context, meta *run.Metadata, cause error) error {
	o.finalize(ctx, meta, cause)
	return &EvaluationError{RunID: meta.ID, Err: cause}
}

// finalize marks the run Failed and mirrors it. Metadata persistence comes
// first; it must happen even when the recorder is unreachable.
func (o *Orchestrator) finalize(ctx context.Context, meta *run.Metadata, cause error) {
	if err := meta.Fail(cause.Error()); err != nil {
		o.log.Error("finalizing failed run metadata", "run", meta.ID, "error", err)
	}
	o.record(ctx, meta)
	o.log.Error("run failed", "run", meta.ID, "reason", cause)
}

func (o *Orchestrator) record(ctx context.Context, meta *run.Metadata) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.Record(context.WithoutCancel(ctx), meta); err != nil {
		o.log.Warn("run registry update failed", "run", meta.ID, "error", err)
	}
}
