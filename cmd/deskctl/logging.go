package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/pkg/config"
)

// configureLogger creates the process logger. An explicit --log-level must be valid;
// a bad log_level in the file falls back to warn.
func configureLogger(cfg *config.Config, explicit bool) (*logrus.Logger, error) {
	if explicit {
		switch strings.ToLower(cfg.LogLevel) {
		case "debug", "info", "warn", "warning", "error":
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
		}
	}
	return cfg.NewLogger(), nil
}
