// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/tomtom215/tidings/internal/auth"
	"github.com/tomtom215/tidings/internal/database"
	"github.com/tomtom215/tidings/internal/deadletter"
	"github.com/tomtom215/tidings/internal/logging"
	"github.com/tomtom215/tidings/internal/outbox"
)

func getCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "serve",
			Usage: "Run the relay, policies, indexer, aggregator and admin API",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				return runServe(ctx, cfg)
			},
		},
		{
			Name:  "migrate",
			Usage: "Apply database migrations",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				return database.Migrate(cfg.Database.URL)
			},
		},
		{
			Name:  "outbox",
			Usage: "Outbox maintenance",
			Commands: []*cli.Command{
				{
					Name:  "replay",
					Usage: "Republish outbox rows in an id range, relayed or not",
					Flags: []cli.Flag{
						&cli.Int64Flag{Name: "from-id", Required: true, Usage: "First outbox id"},
						&cli.Int64Flag{Name: "to-id", Required: true, Usage: "Last outbox id"},
					},
					Action: func(ctx context.Context, cmd *cli.Command) error {
						return runOutboxReplay(ctx, cmd.Int64("from-id"), cmd.Int64("to-id"), os.Stdout)
					},
				},
				{
					Name:  "archive",
					Usage: "Archive relayed rows older than a cutoff",
					Flags: []cli.Flag{
						&cli.DurationFlag{Name: "older-than", Usage: "Defaults to outbox.retention"},
					},
					Action: func(ctx context.Context, cmd *cli.Command) error {
						return runOutboxArchive(ctx, cmd.Duration("older-than"), os.Stdout)
					},
				},
			},
		},
		{
			Name:  "deadletter",
			Usage: "Inspect and replay dead-lettered messages",
			Commands: []*cli.Command{
				{
					Name:  "list",
					Usage: "List archived dead letters, newest first",
					Flags: []cli.Flag{
						&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 50, Usage: "Maximum entries"},
						&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "text", Usage: "Output format: 'text' or 'json'"},
					},
					Action: func(ctx context.Context, cmd *cli.Command) error {
						return runDeadLetterList(ctx, cmd.Int("limit"), cmd.String("format"), os.Stdout)
					},
				},
				{
					Name:  "replay",
					Usage: "Republish one dead letter to its original topic",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "id", Aliases: []string{"i"}, Required: true, Usage: "Dead-letter id"},
					},
					Action: func(ctx context.Context, cmd *cli.Command) error {
						return runDeadLetterReplay(ctx, cmd.String("id"), os.Stdout)
					},
				},
			},
		},
		{
			Name:  "token",
			Usage: "Mint an admin API bearer token",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Required: true, Usage: "Who the token is for"},
				&cli.StringFlag{Name: "scope", Usage: "Optional scope claim"},
				&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "Token lifetime"},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return runToken(cmd.String("subject"), cmd.String("scope"), cmd.Duration("ttl"), os.Stdout)
			},
		},
	}
}

func runOutboxReplay(ctx context.Context, fromID, toID int64, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	res, err := openResources(ctx, cfg, 0)
	if err != nil {
		return err
	}
	defer res.Close()

	n, err := res.emitter.Replay(ctx, fromID, toID)
	fmt.Fprintf(out, "published %d rows from %d..%d\n", n, fromID, toID)
	return err
}

func runOutboxArchive(ctx context.Context, olderThan time.Duration, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if olderThan <= 0 {
		olderThan = cfg.Outbox.Retention
	}
	db, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	n, err := outbox.NewArchiver(outbox.NewStore(db), cfg.Outbox).ArchiveBefore(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "archived %d rows older than %s\n", n, olderThan)
	return nil
}

func runDeadLetterList(ctx context.Context, limit int, format string, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := deadletter.Open(cfg.DeadLetter)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	entries, err := store.List(ctx, limit)
	if err != nil {
		return err
	}
	return writeEntries(out, entries, format)
}

func writeEntries(out io.Writer, entries []*deadletter.Entry, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []*deadletter.Entry{}
		}
		return enc.Encode(entries)
	case "text":
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tRECEIVED\tEVENT\tREASON\tRETRIES\tREPLAYS\tERROR")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				e.ID, e.ReceivedAt.Format(time.RFC3339), e.EventName, e.Reason, e.RetryCount, e.Replays, truncate(e.Error, 60))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q: want text or json", format)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func runDeadLetterReplay(ctx context.Context, id string, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	res, err := openResources(ctx, cfg, needDeadLetters)
	if err != nil {
		return err
	}
	defer res.Close()

	e, err := deadletter.NewReplayer(res.deadLetters, res.transport.Publisher()).Replay(ctx, id)
	if errors.Is(err, deadletter.ErrNotFound) {
		return fmt.Errorf("no dead letter with id %s", id)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "replayed %s to %s (replay #%d)\n", e.ID, e.Topic, e.Replays)
	return nil
}

func runToken(subject, scope string, ttl time.Duration, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Security.AuthMode == auth.ModeNone {
		logging.Warn().Msg("AUTH_MODE=none: the server will not check this token")
	}
	m, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		return err
	}
	token, err := m.GenerateToken(subject, scope, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
