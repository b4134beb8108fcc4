package main

import (
	"errors"
	"io/fs"

	"github.com/kuuji/policygate/internal/config"
	"github.com/kuuji/policygate/internal/gateway"
)

// loadConfig reads the config file. A missing or broken file is logged and
// replaced by the defaults so that profiles can still be applied.
func loadConfig() *config.Config {
	cfg, err := config.LoadConfig(globalConfigPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			globalLogger.Error("config file not found, using defaults", "path", globalConfigPath)
		} else {
			globalLogger.Error("loading config, using defaults", "error", err)
		}
		cfg = config.DefaultConfig()
	}
	if globalDryRun {
		cfg.DryRun = true
	}
	return cfg
}

func openGateway() (*gateway.Gateway, error) {
	return gateway.New(loadConfig(), globalConfigPath, globalLogger, gateway.DefaultDeps())
}
