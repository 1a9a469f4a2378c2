package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/config"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/dataset"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/split"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the experiment config and dataset manifest",
	Long: `Load the experiment config and the dataset manifest and report what a
run would see. Fails with the offending field or case named, without
touching the output root.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	m, err := dataset.Load(cfg.ManifestPath())
	if err != nil {
		return err
	}
	if _, err := split.Assign(m, cfg.Folds, cfg.Seed); err != nil {
		return err
	}

	labeled := 0
	for _, c := range m.Cases {
		if c.Label != "" {
			labeled++
		}
	}

	fmt.Printf("config:   %s (ok)\n", configPath)
	fmt.Printf("dataset:  %s, %d cases (%d labeled)\n", cfg.Dataset, len(m.Cases), labeled)
	fmt.Printf("split:    %d folds, seed %d\n", cfg.Folds, cfg.Seed)
	fmt.Printf("toolkit:  %s\n", cfg.Toolkit.Kind)
	fmt.Printf("channels: %d\n", cfg.Channels())
	return nil
}
