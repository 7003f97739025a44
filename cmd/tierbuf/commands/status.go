// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/tierbuf/cmd/tierbuf/cli"
	"github.com/bureau-foundation/tierbuf/lib/version"
)

type statusParams struct {
	cli.Connection
	cli.JSONOutput
}

func statusCommand() *cli.Command {
	var params statusParams
	return &cli.Command{
		Name:    "status",
		Summary: "Show server identity and counts",
		Usage:   "tierbuf status [flags]",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args); err != nil {
				return err
			}
			tierbuf, err := params.Connect()
			if err != nil {
				return err
			}
			ctx, cancel := params.CallContext(ctx)
			defer cancel()

			status, err := tierbuf.Status(ctx)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(status); done {
				return err
			}

			table := newTable(cli.Stdout)
			fmt.Fprintf(table, "instance\t%s\n", status.InstanceID)
			fmt.Fprintf(table, "version\t%s\n", status.Version)
			fmt.Fprintf(table, "node\t%d\n", status.Node)
			fmt.Fprintf(table, "uptime\t%s\n", status.Uptime().Round(time.Second))
			fmt.Fprintf(table, "lanes\t%d\n", status.Lanes)
			fmt.Fprintf(table, "targets\t%d\n", status.Targets)
			fmt.Fprintf(table, "tags\t%d\n", status.Tags)
			fmt.Fprintf(table, "blobs\t%d\n", status.Blobs)
			return table.Flush()
		},
	}
}

type flushParams struct {
	cli.Connection
}

func flushCommand() *cli.Command {
	var params flushParams
	return &cli.Command{
		Name:    "flush",
		Summary: "Stage every dirty blob out to its backing store",
		Usage:   "tierbuf flush [flags]",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args); err != nil {
				return err
			}
			tierbuf, err := params.Connect()
			if err != nil {
				return err
			}
			ctx, cancel := params.CallContext(ctx)
			defer cancel()

			flushed, err := tierbuf.FlushAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.Stdout, "flushed %d blob(s)\n", flushed)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			fmt.Fprintf(cli.Stdout, "tierbuf %s\n", version.Full())
			return nil
		},
	}
}
