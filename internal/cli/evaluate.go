package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/checkpoint"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a checkpoint on a fold's validation cases",
	Long: `Evaluate a trained checkpoint against the validation cases of one fold.
Per-case metrics land in the run directory's metrics.json; the aggregate
is printed.

Examples:
  seglab evaluate --checkpoint runs/<id>/weights.bin --fold 0`,
	RunE: runEvaluate,
}

var (
	evalCheckpoint string
	evalFold       int
	evalWorkers    int
)

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVar(&evalCheckpoint, "checkpoint", "", "Checkpoint weights path or run directory")
	evaluateCmd.Flags().IntVarP(&evalFold, "fold", "f", 0, "Fold whose validation cases to score")
	evaluateCmd.Flags().IntVar(&evalWorkers, "workers", 0, "Concurrent preprocessing workers")
	_ = evaluateCmd.MarkFlagRequired("checkpoint")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ckpt, err := checkpoint.Load(evalCheckpoint)
	if err != nil {
		return err
	}

	exp, err := loadExperiment(ctx, evalWorkers)
	if err != nil {
		return err
	}
	defer exp.close(context.Background())

	agg, err := exp.orch.Evaluate(ctx, ckpt, evalFold)
	if err != nil {
		return err
	}

	if err := exp.metrics.ExportEvaluation(ctx, exp.cfg.Dataset, ckpt.ID(), agg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: exporting evaluation metrics: %v\n", err)
	}

	names := make([]string, 0, len(agg))
	for name := range agg {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tMEAN")
	fmt.Fprintln(w, "------\t----")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%.4f\n", name, agg[name])
	}
	return w.Flush()
}
