package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/config"
	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/logging"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "clap-survey",
	Short: "MTurk song tag survey front end",
	Long: `clap-survey serves the worker-facing survey: workers listen to a clip,
rank three features, describe it and rate AI-generated descriptions. Responses
are forwarded to the survey API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", os.Getenv("SURVEY_CONFIG"), "YAML config file (env SURVEY_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(mockAPICmd)
	rootCmd.AddCommand(devCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
