package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/config"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/dataset"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/split"
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Show the deterministic fold assignment",
	Long: `Compute and display the cross-validation fold assignment for the
configured dataset and seed. The assignment is a pure function of the
manifest order, fold count, and seed; rerunning it never changes it.

Examples:
  seglab split
  seglab split --out splits.yaml`,
	RunE: runSplit,
}

var splitOut string

func init() {
	rootCmd.AddCommand(splitCmd)
	splitCmd.Flags().StringVar(&splitOut, "out", "", "Also write the assignment to this YAML file")
}

func runSplit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	m, err := dataset.Load(cfg.ManifestPath())
	if err != nil {
		return err
	}
	a, err := split.Assign(m, cfg.Folds, cfg.Seed)
	if err != nil {
		return err
	}

	fmt.Printf("dataset %s: %d cases, %d folds, seed %d\n\n",
		cfg.Dataset, len(m.Cases), cfg.Folds, cfg.Seed)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FOLD\tTRAIN\tVALIDATION")
	fmt.Fprintln(w, "----\t-----\t----------")
	for i, f := range a.Folds {
		fmt.Fprintf(w, "%d\t%d\t%d\n", i, len(f.Train), len(f.Validation))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if splitOut != "" {
		if err := a.Save(splitOut); err != nil {
			return err
		}
		fmt.Printf("\nwrote %s\n", splitOut)
	}
	return nil
}
