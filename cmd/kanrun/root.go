package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kandev/kanrun/internal/common/config"
	"github.com/kandev/kanrun/internal/common/logger"
)

var rootCmd = &cobra.Command{
	Use:           "kanrun",
	Short:         "Executor profile resolution and scheduled task execution",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Directory containing config.yaml")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWithPath(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetDefault(log)
	return log, nil
}

// cliLogger keeps CLI output clean: only errors reach stderr.
func cliLogger(cfg *config.Config) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     cfg.Logging.Format,
		OutputPath: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return logger.NewNop()
	}
	return log
}
