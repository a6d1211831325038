package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/trakrf/platform-sub018/internal/config"
)

// loadConfig reads --config and applies the logging flags on top of it.
// Command-specific flags are applied by the caller.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	// --log-level takes precedence over --verbose
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	} else if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// configureLogger builds the logger for cfg. Logs go to stderr so stdout
// stays clean for events.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	logger, err := config.NewLogger(cfg.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	return logger, nil
}
