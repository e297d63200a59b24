package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/sobelx/internal/credentials"
	"github.com/desertthunder/sobelx/internal/history"
	"github.com/desertthunder/sobelx/internal/metrics"
	"github.com/desertthunder/sobelx/internal/server"
	"github.com/desertthunder/sobelx/internal/session"
	"github.com/desertthunder/sobelx/internal/shared"
	"github.com/urfave/cli/v3"
)

// Serve binds the configured address and serves sessions until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	cfg := r.serverConfig(cmd)

	addr, err := shared.ListenAddr(cfg.Server)
	if err != nil {
		return err
	}

	store, err := credentials.Open(cfg.Store.Path, shared.WithLogger(r.logger, "component", "credentials"))
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	defer store.Close()

	opts := session.HandlerOpts{
		Auth:    store,
		Metrics: metrics.New(),
		Logger:  r.logger,
		Config: session.Config{
			IOTimeout:     cfg.Server.IOTimeout,
			MaxImageBytes: cfg.Server.MaxImageBytes,
			Workers:       cmd.Int("workers"),
		},
	}

	if cfg.History.Enabled {
		repo, err := history.Open(cfg.History)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer repo.Close()
		opts.Recorder = repo
		r.logger.Info("recording history", "path", cfg.History.Path)
	}

	srv := server.New(server.Opts{
		Config: server.Config{
			Addr:        addr,
			AcceptRate:  cfg.Server.AcceptRate,
			AcceptBurst: cfg.Server.AcceptBurst,
			MetricsAddr: cfg.Metrics.Listen,
			Ready:       r.ready,
		},
		Handler: session.NewHandler(opts),
		Metrics: opts.Metrics,
		Logger:  r.logger,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.ListenAndServe(ctx)
}

// serverConfig overlays the serve flags that were set on a copy of the loaded config.
func (r *Runner) serverConfig(cmd *cli.Command) shared.Config {
	cfg := *r.config

	if cmd.IsSet("host") {
		cfg.Server.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Server.Port = cmd.Int("port")
	}
	if cmd.IsSet("store") {
		cfg.Store.Path = cmd.String("store")
	}
	if cmd.IsSet("io-timeout") {
		cfg.Server.IOTimeout = cmd.Duration("io-timeout")
	}
	if cmd.IsSet("max-image-bytes") {
		cfg.Server.MaxImageBytes = int64(cmd.Int("max-image-bytes"))
	}
	if cmd.IsSet("accept-rate") {
		cfg.Server.AcceptRate = cmd.Float("accept-rate")
	}
	if cmd.IsSet("metrics") {
		cfg.Metrics.Listen = cmd.String("metrics")
	}
	if cmd.IsSet("history") {
		cfg.History.Enabled = cmd.Bool("history")
	}
	if cmd.IsSet("history-path") {
		cfg.History.Path = cmd.String("history-path")
		cfg.History.Enabled = true
	}
	return cfg
}
