package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/sobelx/internal/credentials"
	"github.com/desertthunder/sobelx/internal/history"
	"github.com/desertthunder/sobelx/internal/shared"
	"github.com/urfave/cli/v3"
)

// Setup writes a config file from the embedded template when missing, then initializes the
// history database and checks that the credential file is readable.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	var config *shared.Config
	if _, err := os.Stat(configPath); err == nil {
		if config, err = shared.LoadConfig(configPath); err != nil {
			r.logger.Warn("failed to load config, using defaults", "error", err)
			config = shared.DefaultConfig()
		}
	} else {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
			config = shared.DefaultConfig()
		} else {
			r.logger.Info("config file created", "path", configPath)
			if config, err = shared.LoadConfig(configPath); err != nil {
				r.logger.Warn("failed to load created config, using defaults", "error", err)
				config = shared.DefaultConfig()
			}
		}
	}

	if _, err := shared.ListenAddr(config.Server); err != nil {
		r.logger.Warn("server address in config is invalid", "error", err)
	}

	store, err := credentials.Open(config.Store.Path, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	users := store.Len()
	store.Close()

	r.logger.Info("initializing database", "path", config.History.Path)
	repo, err := history.Open(config.History)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	repo.Close()
	r.logger.Infof("setup complete for database: %v", config.History.Path)

	r.writePlain("✓ Setup complete\n")
	r.writePlain("Config:      %s\n", configPath)
	r.writePlain("Credentials: %s (%d users)\n", config.Store.Path, users)
	r.writePlain("History:     %s\n", config.History.Path)
	if !config.History.Enabled {
		r.writePlainln("Set history.enabled = true in %s to record processed images.", configPath)
	}
	return nil
}
