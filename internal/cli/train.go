package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the configured toolkit on one or all folds",
	Long: `Train the configured toolkit. Each fold produces one run directory under
the output root with a verified checkpoint on success.

Examples:
  seglab train --fold 0
  seglab train --all-folds`,
	RunE: runTrain,
}

var (
	trainFold     int
	trainAllFolds bool
)

func init() {
	rootCmd.AddCommand(trainCmd)
	trainCmd.Flags().IntVarP(&trainFold, "fold", "f", 0, "Fold to train")
	trainCmd.Flags().BoolVar(&trainAllFolds, "all-folds", false, "Train every fold in sequence")
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exp, err := loadExperiment(ctx, 0)
	if err != nil {
		return err
	}
	defer exp.close(context.Background())

	folds := []int{trainFold}
	if trainAllFolds {
		folds = folds[:0]
		for i := 0; i < exp.cfg.Folds; i++ {
			folds = append(folds, i)
		}
	}

	for _, fold := range folds {
		h, err := exp.orch.Train(ctx, fold)
		if err != nil {
			return err
		}
		fmt.Printf("fold %d: checkpoint %s\n", fold, h.Weights)
	}
	return nil
}
