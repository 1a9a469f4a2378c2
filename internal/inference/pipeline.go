// Package inference turns a trained checkpoint into segmentations and
// quality metrics. The pipeline has four stages: preprocess, infer,
// postprocess, metrics. Preprocessing parameters come from the checkpoint's
// config snapshot so inference always normalizes exactly the way training
// did, regardless of the caller's current config.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/checkpoint"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/config"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/dataset"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/metrics"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/tensor"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/toolkit"
)

// ErrCheckpoint is the sentinel kind for fatal checkpoint load failures.
var ErrCheckpoint = errors.New("checkpoint load failed")

// InferenceError is fatal for the whole call: no item is processed.
type InferenceError struct {
	Msg string
	Err error
}

func (e *InferenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrCheckpoint, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrCheckpoint, e.Msg)
}

func (e *InferenceError) Unwrap() error { return ErrCheckpoint }

// Input is one image to segment, with optional ground truth.
type Input struct {
	ID    string
	Image string
	Label string
}

// Result is the outcome for one input. Metrics is nil (omitted, not zeroed)
// when the input carries no ground truth. Err is set for per-item failures;
// the rest of the batch is unaffected.
type Result struct {
	InputID  string
	Mask     *tensor.Mask
	MaskPath string
	Metrics  map[string]float64
	Err      error
}

// Pipeline binds a loaded model to the config snapshot it was trained
// under. One pipeline owns one model instance; concurrent pipelines load
// independent copies.
type Pipeline struct {
	handle *checkpoint.Handle
	snap   *config.ExperimentConfig
	model  toolkit.Model

	workers int
	outDir  string
	log     *slog.Logger

	// The accelerator-bound stage runs serialized; pre/postprocessing of
	// different inputs runs in parallel around it.
	inferMu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers bounds the number of inputs processed concurrently.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithOutputDir makes the pipeline save each segmentation as
// <id>_mask.png under dir.
func WithOutputDir(dir string) Option {
	return func(p *Pipeline) { p.outDir = dir }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// New loads the checkpoint's model. A load failure is fatal for the whole
// call chain, before any input is touched.
func New(ctx context.Context, tk toolkit.Handle, ckpt *checkpoint.Handle, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		handle:  ckpt,
		snap:    ckpt.Config,
		workers: 4,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	model, err := tk.Open(ctx, ckpt.Weights)
	if err != nil {
		return nil, &InferenceError{Msg: fmt.Sprintf("checkpoint %s", ckpt.ID()), Err: err}
	}
	p.model = model
	return p, nil
}

// Close releases the model.
func (p *Pipeline) Close() error { return p.model.Close() }

// Checkpoint returns the handle the pipeline was built from.
func (p *Pipeline) Checkpoint() *checkpoint.Handle { return p.handle }

// Run segments the inputs and returns one result per input, in input
// order. Inputs are processed independently: a corrupt file or geometry
// mismatch is reported in its result slot while the rest of the batch
// continues. The context deadline is honored; inputs not started before
// expiry report the context error in their slots.
func (p *Pipeline) Run(ctx context.Context, inputs []Input) ([]Result, error) {
	results := make([]Result, len(inputs))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{InputID: in.ID, Err: err}
				return nil
			}
			results[i] = p.processOne(ctx, in)
			return nil
		})
	}
	// Item failures are reported in their slots, never as group errors.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func (p *Pipeline) processOne(ctx context.Context, in Input) Result {
	res := Result{InputID: in.ID}

	img, origW, origH, err := p.preprocess(in)
	if err != nil {
		res.Err = err
		return res
	}

	p.inferMu.Lock()
	prob, err := p.model.Predict(ctx, img)
	p.inferMu.Unlock()
	if err != nil {
		res.Err = fmt.Errorf("infer %s: %w", in.ID, err)
		return res
	}

	mask := p.postprocess(prob, origW, origH)
	res.Mask = mask

	if in.Label != "" {
		truth, err := tensor.LoadMask(in.Label)
		if err != nil {
			res.Err = fmt.Errorf("ground truth %s: %w", in.ID, err)
			return res
		}
		values, err := metrics.Compute(mask, truth, p.snap.Eval.Metrics)
		if err != nil {
			res.Err = fmt.Errorf("metrics %s: %w", in.ID, err)
			return res
		}
		res.Metrics = values
	}

	if p.outDir != "" {
		if err := os.MkdirAll(p.outDir, 0o755); err != nil {
			res.Err = fmt.Errorf("save %s: %w", in.ID, err)
			return res
		}
		path := filepath.Join(p.outDir, in.ID+"_mask.png")
		if err := mask.SaveMask(path); err != nil {
			res.Err = fmt.Errorf("save %s: %w", in.ID, err)
			return res
		}
		res.MaskPath = path
	}
	return res
}

// preprocess loads the image, checks it against the snapshot's expected
// channel count, normalizes with the snapshot's scheme, and resizes to the
// snapshot's patch size. The original geometry is returned so postprocess
// can restore it exactly.
func (p *Pipeline) preprocess(in Input) (*tensor.Tensor, int, int, error) {
	img, err := tensor.LoadImage(in.Image)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("preprocess %s: %w", in.ID, err)
	}

	if want := p.snap.Channels(); img.C != want {
		return nil, 0, 0, fmt.Errorf("preprocess %s: model expects %d-channel input, image has %d", in.ID, want, img.C)
	}
	origW, origH := img.W, img.H

	switch normScheme(p.snap) {
	case "minmax":
		img.MinMax()
	case "none":
	default:
		img.ZScore()
	}

	if pw, ph := p.snap.PatchSize(); pw > 0 {
		img = img.Resize(pw, ph)
	}
	return img, origW, origH, nil
}

// postprocess discretizes the probability map, optionally keeps only the
// largest connected component, and resizes back to the original geometry,
// the exact inverse of the preprocess resize.
func (p *Pipeline) postprocess(prob *tensor.Tensor, origW, origH int) *tensor.Mask {
	mask := tensor.NewMask(prob.W, prob.H)
	threshold := float32(p.snap.Eval.Threshold)
	for y := 0; y < prob.H; y++ {
		for x := 0; x < prob.W; x++ {
			if prob.At(x, y, 0) >= threshold {
				mask.Set(x, y, 1)
			}
		}
	}
	if p.snap.Eval.LargestComponent {
		mask = mask.LargestComponent()
	}
	return mask.Resize(origW, origH)
}

func normScheme(cfg *config.ExperimentConfig) string {
	if v, ok := cfg.Model["normalization"].(string); ok {
		return v
	}
	return "zscore"
}

// InputsFromCases adapts manifest cases to pipeline inputs. Ground-truth
// labels are attached only when withLabels is set.
func InputsFromCases(cases []dataset.Case, withLabels bool) []Input {
	out := make([]Input, len(cases))
	for i, c := range cases {
		out[i] = Input{ID: c.ID, Image: c.Image}
		if withLabels {
			out[i].Label = c.Label
		}
	}
	return out
}

// Records converts results with metrics into exportable records.
func Records(results []Result, checkpointID string) []metrics.Record {
	var recs []metrics.Record
	for _, r := range results {
		if r.Err != nil || r.Metrics == nil {
			continue
		}
		recs = append(recs, metrics.Record{
			InputID:    r.InputID,
			Checkpoint: checkpointID,
			Values:     r.Metrics,
		})
	}
	return recs
}
