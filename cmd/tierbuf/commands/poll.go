// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/tierbuf/cmd/tierbuf/cli"
	"github.com/bureau-foundation/tierbuf/lib/client"
)

func pollCommand() *cli.Command {
	return &cli.Command{
		Name:    "poll",
		Summary: "Inspect server state",
		Description: `Snapshots of blobs, tags and targets, filtered by a regular expression
that must match the whole name, and the recent access history.`,
		Subcommands: []*cli.Command{
			pollBlobsCommand(),
			pollTagsCommand(),
			pollTargetsCommand(),
			pollAccessCommand(),
		},
	}
}

type pollParams struct {
	cli.Connection
	cli.JSONOutput
	Filter string `flag:"filter" desc:"regular expression the full name must match"`
	Max    int    `flag:"max"    desc:"return at most this many entries (0 for all)"`
}

// pollAction builds a filtered poll command.
func pollAction(name, summary string, params *pollParams, run func(ctx context.Context, tierbuf *client.Client) error) *cli.Command {
	return &cli.Command{
		Name:    name,
		Summary: summary,
		Usage:   fmt.Sprintf("tierbuf poll %s [--filter REGEX] [--max N] [flags]", name),
		Params:  func() any { return params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args); err != nil {
				return err
			}
			if params.Max < 0 {
				return cli.Validation("--max must not be negative")
			}
			tierbuf, err := params.Connect()
			if err != nil {
				return err
			}
			ctx, cancel := params.CallContext(ctx)
			defer cancel()
			return run(ctx, tierbuf)
		},
	}
}

func pollBlobsCommand() *cli.Command {
	var params pollParams
	return pollAction("blobs", "List blobs", &params, func(ctx context.Context, tierbuf *client.Client) error {
		blobs, err := tierbuf.PollBlobMetadata(ctx, params.Filter, params.Max)
		if err != nil {
			return err
		}
		if done, err := params.EmitJSON(blobs); done {
			return err
		}
		return writeBlobTable(blobs)
	})
}

func pollTagsCommand() *cli.Command {
	var params pollParams
	return pollAction("tags", "List tags", &params, func(ctx context.Context, tierbuf *client.Client) error {
		tags, err := tierbuf.PollTagMetadata(ctx, params.Filter, params.Max)
		if err != nil {
			return err
		}
		if done, err := params.EmitJSON(tags); done {
			return err
		}
		table := newTable(cli.Stdout)
		fmt.Fprintln(table, "NAME\tID\tBLOBS\tSIZE\tOWNER\tSTAGING")
		for _, tag := range tags {
			fmt.Fprintf(table, "%s\t%s\t%d\t%s\t%t\t%t\n",
				tag.Name, tag.ID, len(tag.Blobs), formatBytes(tag.Size), tag.Owner, tag.Staging)
		}
		return table.Flush()
	})
}

func pollTargetsCommand() *cli.Command {
	var params pollParams
	return pollAction("targets", "List storage targets, fastest first", &params, func(ctx context.Context, tierbuf *client.Client) error {
		targets, err := tierbuf.PollTargetMetadata(ctx, params.Filter, params.Max)
		if err != nil {
			return err
		}
		if done, err := params.EmitJSON(targets); done {
			return err
		}
		table := newTable(cli.Stdout)
		fmt.Fprintln(table, "NAME\tID\tFREE\tCAPACITY\tBANDWIDTH\tLATENCY\tSCORE")
		for _, target := range targets {
			fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%s/s\t%s\t%s\n",
				target.Name, target.ID, formatBytes(target.FreeBytes), formatBytes(target.MaxBytes),
				formatBandwidth(target.Bandwidth), target.Latency, score(target.Score))
		}
		return table.Flush()
	})
}

type pollAccessParams struct {
	cli.Connection
	cli.JSONOutput
	Since uint64 `flag:"since" desc:"only accesses after this id (the 'next' of a previous poll)"`
}

// accessPage is the --json form of one access poll.
type accessPage struct {
	Entries any    `json:"entries"`
	Next    uint64 `json:"next"`
}

func pollAccessCommand() *cli.Command {
	var params pollAccessParams
	return &cli.Command{
		Name:    "access",
		Summary: "Show recent blob accesses",
		Usage:   "tierbuf poll access [--since ID] [flags]",
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

			entries, next, err := tierbuf.PollAccessPattern(ctx, params.Since)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(accessPage{Entries: cli.EmptyIfNil(entries), Next: next}); done {
				return err
			}
			table := newTable(cli.Stdout)
			fmt.Fprintln(table, "ID\tTYPE\tTAG\tBLOB\tSIZE")
			for _, entry := range entries {
				fmt.Fprintf(table, "%d\t%s\t%s\t%s\t%s\n", entry.ID, entry.Type, entry.Tag, entry.Blob, formatBytes(entry.Size))
			}
			if err := table.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cli.Stdout, "next: %d\n", next)
			return nil
		},
	}
}
