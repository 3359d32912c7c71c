// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

// Package main is the tidings command.
//
//	tidings serve                               run the pipeline and admin API
//	tidings migrate                             apply database migrations
//	tidings outbox replay --from-id N --to-id M republish an outbox range
//	tidings outbox archive [--older-than 720h]  archive relayed rows now
//	tidings deadletter list [--limit 50]        show archived dead letters
//	tidings deadletter replay --id ID           republish one dead letter
//	tidings token --subject ops [--ttl 24h]     mint an admin API token
//
// Every command reads the same configuration (see package config).
package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/logging"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "tidings",
		Usage:   "Event notification and outbox delivery pipeline",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				Sources: cli.EnvVars(config.ConfigPathEnvVar),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if path := cmd.String("config"); path != "" {
				if err := os.Setenv(config.ConfigPathEnvVar, path); err != nil {
					return ctx, err
				}
			}
			return ctx, nil
		},
		Commands: getCommands(),
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logging.Error().Err(err).Msg("tidings failed")
		os.Exit(1)
	}
}

// loadConfig loads configuration and applies its logging section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: os.Stderr,
	})
	return cfg, nil
}
