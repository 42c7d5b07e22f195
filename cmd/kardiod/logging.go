package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kardio/kardiod/pkg/config"
)

// configureLogger builds the daemon logger from the config file level,
// letting the --log-level flag take precedence when set.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr != "" {
		switch logLevelStr {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = logLevelStr
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	}
	return cfg.NewLogger()
}
