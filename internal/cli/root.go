// Package cli wires the seglab commands: validate, split, train, evaluate,
// infer, and runs.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "seglab",
	Short: "Segmentation experiment lab",
	Long: `seglab runs 2-D medical image segmentation experiments: deterministic
cross-validation splits, toolkit-backed training, checkpointed inference,
and metric reporting. Every run leaves a durable record in its run
directory; the registry database is a queryable mirror of those records.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := logging.New(logging.Options{
			Level:   logLevel,
			File:    logFile,
			JSON:    logJSON,
			Verbose: verbose,
		})
		return err
	},
}

// Persistent flags
var (
	configPath string
	logLevel   string
	logFile    string
	logJSON    bool
	verbose    bool
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "experiment.yaml", "Experiment config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also log to this file (rotated)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "json-logs", false, "Emit JSON logs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}
