package trainer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/checkpoint"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/config"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/dataset"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/run"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/split"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/toolkit"
)

// fixture builds a labeled synthetic dataset, its manifest, a 2-fold
// assignment, and a matching config.
type fixture struct {
	cfg        *config.ExperimentConfig
	manifest   *dataset.Manifest
	assignment *split.Assignment
}

func newFixture(t *testing.T, rgb bool) *fixture {
	t.Helper()
	root := t.TempDir()
	dsDir := filepath.Join(root, "data", "Task001")
	require.NoError(t, os.MkdirAll(dsDir, 0o755))

	m := &dataset.Manifest{Name: "Task001"}
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("case_%d", i)
		imgPath := filepath.Join(dsDir, id+".png")
		lblPath := filepath.Join(dsDir, id+"_label.png")
		writeSynthetic(t, imgPath, lblPath, rgb)
		m.Cases = append(m.Cases, dataset.Case{ID: id, Image: imgPath, Label: lblPath})
	}

	a, err := split.Assign(m, 2, 42)
	require.NoError(t, err)

	return &fixture{
		cfg: &config.ExperimentConfig{
			Dataset:    "Task001",
			DataRoot:   filepath.Join(root, "data"),
			OutputRoot: filepath.Join(root, "runs"),
			Folds:      2,
			Seed:       42,
			Epochs:     3,
			Eval:       config.EvalOptions{Threshold: 0.5, Metrics: []string{"dice", "iou"}},
			Model:      map[string]any{"channels": 1},
			Toolkit:    config.ToolkitOptions{Kind: config.ToolkitBuiltin},
		},
		manifest:   m,
		assignment: a,
	}
}

func writeSynthetic(t *testing.T, imgPath, lblPath string, rgb bool) {
	t.Helper()
	const w, h = 20, 20
	lbl := image.NewGray(image.Rect(0, 0, w, h))

	var img image.Image
	if rgb {
		m := image.NewRGBA(image.Rect(0, 0, w, h))
		fillRGBA(m, lbl)
		img = m
	} else {
		m := image.NewGray(image.Rect(0, 0, w, h))
		fillGray(m, lbl)
		img = m
	}

	for path, im := range map[string]image.Image{imgPath: img, lblPath: lbl} {
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, im))
		require.NoError(t, f.Close())
	}
}

func fillGray(img *image.Gray, lbl *image.Gray) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if x >= 6 && x < 14 && y >= 6 && y < 14 {
				img.SetGray(x, y, color.Gray{Y: 210})
				lbl.SetGray(x, y, color.Gray{Y: 1})
			} else {
				img.SetGray(x, y, color.Gray{Y: 40})
			}
		}
	}
}

func fillRGBA(img *image.RGBA, lbl *image.Gray) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if x >= 6 && x < 14 && y >= 6 && y < 14 {
				img.Set(x, y, color.RGBA{R: 210, G: 210, B: 210, A: 255})
				lbl.SetGray(x, y, color.Gray{Y: 1})
			} else {
				img.Set(x, y, color.RGBA{R: 40, G: 40, B: 40, A: 255})
			}
		}
	}
}

// faultyToolkit injects failures around an inner toolkit.
type faultyToolkit struct {
	toolkit.Handle
	trainErr    error
	skipWeights bool
}

func (f *faultyToolkit) Train(ctx context.Context, spec toolkit.TrainSpec) error {
	if f.trainErr != nil {
		return f.trainErr
	}
	if f.skipWeights {
		return nil // "succeeds" without writing a checkpoint
	}
	return f.Handle.Train(ctx, spec)
}

// captureRecorder keeps every mirrored state.
type captureRecorder struct {
	states []run.State
}

func (c *captureRecorder) Record(_ context.Context, m *run.Metadata) error {
	c.states = append(c.states, m.State)
	return nil
}

func TestTrainProducesVerifiedCheckpoint(t *testing.T) {
	fx := newFixture(t, false)
	rec := &captureRecorder{}
	o := New(fx.cfg, fx.manifest, fx.assignment, toolkit.NewBuiltin(), WithRecorder(rec))

	h, err := o.Train(context.Background(), 0)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.FileExists(t, h.Weights)
	assert.Equal(t, "builtin", h.Format)

	// Sidecar is loadable and carries the config snapshot.
	loaded, err := checkpoint.Load(h.Weights)
	require.NoError(t, err)
	assert.Equal(t, "Task001", loaded.Config.Dataset)

	meta, err := run.Load(filepath.Dir(h.Weights))
	require.NoError(t, err)
	assert.Equal(t, run.StateCompleted, meta.State)
	assert.Equal(t, h.Weights, meta.Checkpoint)

	assert.Equal(t, []run.State{run.StateConfigured, run.StateRunning, run.StateCompleted}, rec.states)
}

func TestTrainToolkitFailureFinalizesRun(t *testing.T) {
	fx := newFixture(t, false)
	tk := &faultyToolkit{Handle: toolkit.NewBuiltin(), trainErr: errors.New("CUDA out of memory")}
	o := New(fx.cfg, fx.manifest, fx.assignment, tk)

	h, err := o.Train(context.Background(), 0)
	assert.Nil(t, h, "no checkpoint handle on failure")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTraining)

	var te *TrainingError
	require.ErrorAs(t, err, &te)

	meta := loadOnlyRun(t, fx.cfg.OutputRoot)
	assert.Equal(t, run.StateFailed, meta.State)
	assert.Contains(t, meta.FailureReason, "CUDA out of memory")
	assert.Empty(t, meta.Checkpoint)
}

func TestTrainMissingWeightsIsFailure(t *testing.T) {
	fx := newFixture(t, false)
	tk := &faultyToolkit{Handle: toolkit.NewBuiltin(), skipWeights: true}
	o := New(fx.cfg, fx.manifest, fx.assignment, tk)

	_, err := o.Train(context.Background(), 0)
	require.ErrorIs(t, err, ErrTraining)

	meta := loadOnlyRun(t, fx.cfg.OutputRoot)
	assert.Equal(t, run.StateFailed, meta.State)
	assert.Contains(t, meta.FailureReason, "verify checkpoint")
}

func TestTrainCancellation(t *testing.T) {
	fx := newFixture(t, false)
	o := New(fx.cfg, fx.manifest, fx.assignment, toolkit.NewBuiltin())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Train(ctx, 0)
	require.ErrorIs(t, err, ErrTraining)
	assert.ErrorIs(t, err, context.Canceled)

	meta := loadOnlyRun(t, fx.cfg.OutputRoot)
	assert.Equal(t, run.StateFailed, meta.State)
	assert.Contains(t, meta.FailureReason, "context canceled")
}

func TestTrainInvalidFold(t *testing.T) {
	fx := newFixture(t, false)
	o := New(fx.cfg, fx.manifest, fx.assignment, toolkit.NewBuiltin())

	_, err := o.Train(context.Background(), 9)
	assert.ErrorIs(t, err, split.ErrInvalidSplit)
}

func TestEvaluateAggregatesMetrics(t *testing.T) {
	fx := newFixture(t, false)
	o := New(fx.cfg, fx.manifest, fx.assignment, toolkit.NewBuiltin(), WithWorkers(2))

	h, err := o.Train(context.Background(), 0)
	require.NoError(t, err)

	agg, err := o.Evaluate(context.Background(), h, 0)
	require.NoError(t, err)
	assert.Greater(t, agg["dice"], 0.9)
	assert.Greater(t, agg["iou"], 0.8)

	runs, err := run.List(fx.cfg.OutputRoot)
	require.NoError(t, err)
	require.Len(t, runs, 2, "one train run and one evaluate run")

	var eval *run.Metadata
	for _, m := range runs {
		if m.Mode == run.ModeEvaluate {
			eval = m
		}
	}
	require.NotNil(t, eval)
	assert.Equal(t, run.StateCompleted, eval.State)
	assert.FileExists(t, filepath.Join(eval.Dir(), "metrics.json"))
}

func TestEvaluateChannelMismatchFailsUpFront(t *testing.T) {
	fx := newFixture(t, false) // 1-channel dataset

	// Checkpoint whose snapshot demands 3-channel input.
	h, err := New(fx.cfg, fx.manifest, fx.assignment, toolkit.NewBuiltin()).Train(context.Background(), 0)
	require.NoError(t, err)
	h.Config = h.Config.Snapshot()
	h.Config.Model["channels"] = 3

	o := New(fx.cfg, fx.manifest, fx.assignment, toolkit.NewBuiltin())
	_, err = o.Evaluate(context.Background(), h, 0)
	require.ErrorIs(t, err, ErrEvaluation)
	assert.Contains(t, err.Error(), "expects 3-channel")

	// The evaluation run exists and is Failed without ever Running.
	runs, err := run.List(fx.cfg.OutputRoot)
	require.NoError(t, err)
	for _, m := range runs {
		if m.Mode == run.ModeEvaluate {
			assert.Equal(t, run.StateFailed, m.State)
			assert.NoDirExists(t, filepath.Join(m.Dir(), "predictions"))
		}
	}
}

func TestEvaluateToolkitKindMismatch(t *testing.T) {
	fx := newFixture(t, false)
	h, err := New(fx.cfg, fx.manifest, fx.assignment, toolkit.NewBuiltin()).Train(context.Background(), 0)
	require.NoError(t, err)

	h.Config = h.Config.Snapshot()
	h.Config.Toolkit.Kind = config.ToolkitExec

	_, err = New(fx.cfg, fx.manifest, fx.assignment, toolkit.NewBuiltin()).
		Evaluate(context.Background(), h, 0)
	require.ErrorIs(t, err, ErrEvaluation)
	assert.Contains(t, err.Error(), "toolkit")
}

func loadOnlyRun(t *testing.T, outputRoot string) *run.Metadata {
	t.Helper()
	runs, err := run.List(outputRoot)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return runs[0]
}
