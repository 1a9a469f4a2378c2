package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/tensor"
)

// Builtin is a self-contained intensity-threshold toolkit. It exists for
// smoke runs and tests: no GPU, no external binaries, and deterministic
// output, while exercising the full train/checkpoint/inference contract.
//
// Training learns a single decision threshold on z-scored intensity: the
// midpoint between the mean foreground and mean background intensity over
// the labeled training cases. Prediction maps intensity to a foreground
// probability with a sigmoid around that threshold.
type Builtin struct{}

// NewBuiltin returns the builtin toolkit handle.
func NewBuiltin() *Builtin { return &Builtin{} }

func (b *Builtin) Name() string    { return "builtin" }
func (b *Builtin) Version() string { return "builtin-1.0" }

// builtinWeights is the checkpoint payload.
type builtinWeights struct {
	Format    string  `json:"format"`
	Threshold float64 `json:"threshold"`
	Steepness float64 `json:"steepness"`
}

const builtinFormat = "seglab-threshold-v1"

// Train scans the labeled training cases and writes the learned threshold
// to spec.WeightsPath. Cases without labels are skipped; a training set
// with no labeled cases is an error.
func (b *Builtin) Train(ctx context.Context, spec TrainSpec) error {
	var fgSum, bgSum float64
	var fgN, bgN int

	labeled := 0
	for _, c := range spec.TrainCases {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.Label == "" {
			continue
		}

		img, err := tensor.LoadImage(c.Image)
		if err != nil {
			return fmt.Errorf("train case %s: %w", c.ID, err)
		}
		lbl, err := tensor.LoadMask(c.Label)
		if err != nil {
			return fmt.Errorf("train case %s: %w", c.ID, err)
		}
		if lbl.W != img.W || lbl.H != img.H {
			return fmt.Errorf("train case %s: label %dx%d does not match image %dx%d",
				c.ID, lbl.W, lbl.H, img.W, img.H)
		}
		labeled++

		img.ZScore()
		for y := 0; y < img.H; y++ {
			for x := 0; x < img.W; x++ {
				var v float64
				for ch := 0; ch < img.C; ch++ {
					v += float64(img.At(x, y, ch))
				}
				v /= float64(img.C)
				if lbl.At(x, y) != 0 {
					fgSum += v
					fgN++
				} else {
					bgSum += v
					bgN++
				}
			}
		}
	}

	if labeled == 0 {
		return fmt.Errorf("builtin toolkit: no labeled training cases")
	}

	threshold := 0.0
	if fgN > 0 && bgN > 0 {
		threshold = (fgSum/float64(fgN) + bgSum/float64(bgN)) / 2
	}

	w := builtinWeights{Format: builtinFormat, Threshold: threshold, Steepness: 4}
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	if err := os.WriteFile(spec.WeightsPath, data, 0o644); err != nil {
		return fmt.Errorf("write weights: %w", err)
	}
	return nil
}

// Open loads builtin weights.
func (b *Builtin) Open(_ context.Context, weightsPath string) (Model, error) {
	data, err := os.ReadFile(weightsPath)
	if err != nil {
		return nil, fmt.Errorf("read weights: %w", err)
	}
	var w builtinWeights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse weights %s: %w", weightsPath, err)
	}
	if w.Format != builtinFormat {
		return nil, fmt.Errorf("weights %s: unexpected format %q", weightsPath, w.Format)
	}
	if w.Steepness <= 0 {
		w.Steepness = 4
	}
	return &builtinModel{weights: w}, nil
}

type builtinModel struct {
	weights builtinWeights
}

func (m *builtinModel) Predict(ctx context.Context, in *tensor.Tensor) (*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	out := tensor.New(in.W, in.H, 1)
	for y := 0; y < in.H; y++ {
		for x := 0; x < in.W; x++ {
			var v float64
			for c := 0; c < in.C; c++ {
				v += float64(in.At(x, y, c))
			}
			v /= float64(in.C)
			p := 1 / (1 + math.Exp(-m.weights.Steepness*(v-m.weights.Threshold)))
			out.Set(x, y, 0, float32(p))
		}
	}
	return out, nil
}

func (m *builtinModel) Close() error { return nil }
