package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/checkpoint"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/inference"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/toolkit"
)

var inferCmd = &cobra.Command{
	Use:   "infer <image>...",
	Short: "Segment images with a trained checkpoint",
	Long: `Run inference over one or more images. Preprocessing parameters come
from the checkpoint's config snapshot, not from the experiment config, so
a checkpoint predicts the same way wherever it is used.

With --labels, each argument is an image=label pair and per-input metrics
are printed alongside the mask paths.

Examples:
  seglab infer --checkpoint runs/<id>/weights.bin --output out scan1.png scan2.png
  seglab infer --checkpoint runs/<id>/weights.bin --labels scan1.png=gt1.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInfer,
}

var (
	inferCheckpoint string
	inferOutput     string
	inferWorkers    int
	inferLabels     bool
)

func init() {
	rootCmd.AddCommand(inferCmd)
	inferCmd.Flags().StringVar(&inferCheckpoint, "checkpoint", "", "Checkpoint weights path or run directory")
	inferCmd.Flags().StringVarP(&inferOutput, "output", "o", "predictions", "Directory for predicted masks")
	inferCmd.Flags().IntVar(&inferWorkers, "workers", 0, "Concurrent preprocessing workers")
	inferCmd.Flags().BoolVar(&inferLabels, "labels", false, "Arguments are image=label pairs; compute metrics")
	_ = inferCmd.MarkFlagRequired("checkpoint")
}

func runInfer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ckpt, err := checkpoint.Load(inferCheckpoint)
	if err != nil {
		return err
	}
	tk, err := toolkit.New(ckpt.Config)
	if err != nil {
		return err
	}

	opts := []inference.Option{inference.WithOutputDir(inferOutput)}
	if inferWorkers > 0 {
		opts = append(opts, inference.WithWorkers(inferWorkers))
	}
	pipe, err := inference.New(ctx, tk, ckpt, opts...)
	if err != nil {
		return err
	}
	defer pipe.Close()

	inputs := make([]inference.Input, len(args))
	for i, arg := range args {
		imgPath, lblPath := arg, ""
		if inferLabels {
			var ok bool
			imgPath, lblPath, ok = strings.Cut(arg, "=")
			if !ok {
				return fmt.Errorf("argument %q: --labels expects image=label pairs", arg)
			}
		}
		base := filepath.Base(imgPath)
		inputs[i] = inference.Input{
			ID:    strings.TrimSuffix(base, filepath.Ext(base)),
			Image: imgPath,
			Label: lblPath,
		}
	}

	results, err := pipe.Run(ctx, inputs)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Printf("%s: error: %v\n", r.InputID, r.Err)
			continue
		}
		line := fmt.Sprintf("%s: %s", r.InputID, r.MaskPath)
		for name, v := range r.Metrics {
			line += fmt.Sprintf("  %s=%.4f", name, v)
		}
		fmt.Println(line)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(results))
	}
	return nil
}
