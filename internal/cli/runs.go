package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/config"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/registry"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/run"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs from the registry",
	Long: `List runs recorded in the registry, newest first.

Examples:
  seglab runs list
  seglab runs list --state failed
  seglab runs list --last 5`,
	RunE: runRunsList,
}

var (
	runsLast       int
	runsState      string
	runsDataset    string
	runsOutputRoot string
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)

	runsListCmd.Flags().IntVarP(&runsLast, "last", "n", 10, "Number of runs to show")
	runsListCmd.Flags().StringVar(&runsState, "state", "", "Filter by state (configured, running, completed, failed)")
	runsListCmd.Flags().StringVar(&runsDataset, "dataset", "", "Filter by dataset")
	runsListCmd.Flags().StringVar(&runsOutputRoot, "output-root", "", "Output root holding runs.db (default: from config)")
}

func runRunsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	outputRoot := runsOutputRoot
	if outputRoot == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		outputRoot = cfg.OutputRoot
	}
	reg, err := registry.Open(ctx, filepath.Join(outputRoot, registry.DefaultFile))
	if err != nil {
		return err
	}
	defer reg.Close()

	entries, err := reg.List(ctx, registry.ListOptions{
		Dataset: runsDataset,
		State:   run.State(runsState),
		Limit:   runsLast,
	})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tFOLD\tSTATE\tSTARTED\tDETAIL")
	fmt.Fprintln(w, "--\t----\t----\t-----\t-------\t------")
	for _, e := range entries {
		detail := e.Checkpoint
		if e.State == run.StateFailed {
			detail = e.FailureReason
		}
		if len(detail) > 48 {
			detail = detail[:48] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			e.ID, e.Mode, e.Fold, e.State,
			e.StartedAt.Local().Format("2006-01-02 15:04"), detail)
	}
	return w.Flush()
}
