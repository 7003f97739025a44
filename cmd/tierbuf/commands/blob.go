// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/bureau-foundation/tierbuf/cmd/tierbuf/cli"
	"github.com/bureau-foundation/tierbuf/lib/client"
	"github.com/bureau-foundation/tierbuf/lib/engine"
	"github.com/bureau-foundation/tierbuf/lib/ident"
	"github.com/bureau-foundation/tierbuf/lib/placement"
)

func blobCommand() *cli.Command {
	return &cli.Command{
		Name:    "blob",
		Summary: "Read, write and manage blobs",
		Description: `Blobs are named within a tag: every blob command takes TAG NAME. The
tag must exist; 'tierbuf blob put --create' creates it first.`,
		Subcommands: []*cli.Command{
			blobPutCommand(),
			blobGetCommand(),
			blobInfoCommand(),
			blobSizeCommand(),
			blobReorganizeCommand(),
			blobTagCommand(),
			blobStageInCommand(),
			blobFlushCommand(),
			blobDestroyCommand(),
		},
	}
}

type blobPutParams struct {
	cli.Connection
	File   string       `flag:"file,f" desc:"read the data from this file (- for stdin)"`
	Data   string       `flag:"data,d" desc:"write this literal string"`
	Offset cli.ByteSize `flag:"offset" desc:"write at this byte offset"`
	Score  float64      `flag:"score"  desc:"pin the blob's score (0 to 1)" default:"-1"`
	Policy string       `flag:"policy" desc:"placement policy: MinimizeIoTime, Random, RoundRobin or None"`
	Create bool         `flag:"create" desc:"create the tag if it does not exist"`
}

// payload returns the bytes to write.
func (p *blobPutParams) payload() ([]byte, error) {
	switch {
	case p.File != "" && p.Data != "":
		return nil, cli.Validation("--file and --data are mutually exclusive")
	case p.Data != "":
		return []byte(p.Data), nil
	case p.File == "-":
		return io.ReadAll(cli.Stdin)
	case p.File != "":
		return os.ReadFile(p.File)
	}
	return nil, cli.Validation("one of --file or --data is required")
}

func blobPutCommand() *cli.Command {
	var params blobPutParams
	return &cli.Command{
		Name:    "put",
		Summary: "Write data into a blob",
		Usage:   "tierbuf blob put TAG NAME (--file PATH | --data STRING) [flags]",
		Examples: []cli.Example{
			{
				Description: "Store a file as a blob, creating the tag",
				Command:     "tierbuf blob put scratch model.bin --file ./model.bin --create",
			},
			{
				Description: "Overwrite 5 bytes at offset 4KiB",
				Command:     "tierbuf blob put scratch model.bin --data hello --offset 4KiB",
			},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, "TAG", "NAME"); err != nil {
				return err
			}
			data, err := params.payload()
			if err != nil {
				return err
			}
			var opts client.PutOptions
			if params.Score >= 0 {
				if params.Score > 1 {
					return cli.Validation("--score must be between 0 and 1")
				}
				opts.Score = &params.Score
			}
			if params.Policy != "" {
				policy, err := placement.ParsePolicy(params.Policy)
				if err != nil {
					return cli.Validation("--policy: %v", err)
				}
				opts.Policy = &policy
			}

			tierbuf, err := params.Connect()
			if err != nil {
				return err
			}
			ctx, cancel := params.CallContext(ctx)
			defer cancel()

			tagName, blobName := args[0], args[1]
			var id ident.TagID
			if params.Create {
				id, err = tierbuf.GetOrCreateTag(ctx, tagName, client.TagOptions{})
			} else {
				id, err = resolveTag(ctx, tierbuf, tagName)
			}
			if err != nil {
				return err
			}

			result, err := tierbuf.PutBlob(ctx, client.ByName(id, blobName), uint64(params.Offset), data, opts)
			if err != nil {
				if client.IsOutOfSpace(err) {
					return fmt.Errorf("no target has room for %s: %w", formatBytes(uint64(len(data))), err)
				}
				return err
			}
			verb := "updated"
			if result.Created {
				verb = "created"
			}
			logger.Info("blob written", "blob", result.ID.String(), "bytes", result.Written, "created", result.Created)
			fmt.Fprintf(cli.Stdout, "%s %s: wrote %s\n", verb, result.ID, formatBytes(result.Written))
			return nil
		},
	}
}

type blobGetParams struct {
	cli.Connection
	Output string       `flag:"output,o" desc:"write to this file instead of stdout"`
	Offset cli.ByteSize `flag:"offset"   desc:"start reading at this byte offset"`
	Size   cli.ByteSize `flag:"size"     desc:"read at most this many bytes (default: to the end)"`
}

func blobGetCommand() *cli.Command {
	var params blobGetParams
	return &cli.Command{
		Name:    "get",
		Summary: "Read a blob",
		Usage:   "tierbuf blob get TAG NAME [flags]",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, "TAG", "NAME"); err != nil {
				return err
			}
			tierbuf, err := params.Connect()
			if err != nil {
				return err
			}
			ctx, cancel := params.CallContext(ctx)
			defer cancel()

			id, err := resolveTag(ctx, tierbuf, args[0])
			if err != nil {
				return err
			}
			data, _, err := tierbuf.GetBlob(ctx, client.ByName(id, args[1]), uint64(params.Offset), uint64(params.Size))
			if err != nil {
				return err
			}
			if params.Output != "" {
				return os.WriteFile(params.Output, data, 0o644)
			}
			_, err = cli.Stdout.Write(data)
			return err
		},
	}
}

type blobParams struct {
	cli.Connection
	cli.JSONOutput
}

// blobAction builds a command taking TAG NAME followed by extra
// positional args. run receives the resolved reference and the extra
// args.
func blobAction(name, summary string, extra []string, params *blobParams, run func(ctx context.Context, tierbuf *client.Client, ref engine.BlobRef, extra []string) error) *cli.Command {
	positional := append([]string{"TAG", "NAME"}, extra...)
	return &cli.Command{
		Name:    name,
		Summary: summary,
		Usage:   fmt.Sprintf("tierbuf blob %s %s [flags]", name, strings.Join(positional, " ")),
		Params:  func() any { return params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, positional...); err != nil {
				return err
			}
			tierbuf, err := params.Connect()
			if err != nil {
				return err
			}
			ctx, cancel := params.CallContext(ctx)
			defer cancel()

			tag, err := resolveTag(ctx, tierbuf, args[0])
			if err != nil {
				return err
			}
			return run(ctx, tierbuf, client.ByName(tag, args[1]), args[2:])
		},
	}
}

func blobInfoCommand() *cli.Command {
	var params blobParams
	return blobAction("info", "Show a blob's metadata and buffers", nil, &params, func(ctx context.Context, tierbuf *client.Client, ref engine.BlobRef, _ []string) error {
		info, err := tierbuf.Blob(ctx, ref)
		if err != nil {
			return err
		}
		if done, err := params.EmitJSON(info); done {
			return err
		}
		table := newTable(cli.Stdout)
		fmt.Fprintf(table, "id\t%s\n", info.ID)
		fmt.Fprintf(table, "name\t%s\n", info.Name)
		fmt.Fprintf(table, "size\t%s\n", formatBytes(info.Size))
		fmt.Fprintf(table, "allocated\t%s\n", formatBytes(info.MaxSize))
		fmt.Fprintf(table, "score\t%s (user set: %t)\n", score(info.Score), info.UserScore)
		fmt.Fprintf(table, "accesses\t%d\n", info.AccessFreq)
		fmt.Fprintf(table, "last access\t%s\n", ago(info.LastAccess))
		fmt.Fprintf(table, "dirty\t%t\n", info.ModCount > info.LastFlush)
		for i, buffer := range info.Buffers {
			fmt.Fprintf(table, "buffer %d\t%s at %d, %s\n", i, buffer.Target, buffer.Offset, formatBytes(buffer.Size))
		}
		return table.Flush()
	})
}

func blobSizeCommand() *cli.Command {
	var params blobParams
	return blobAction("size", "Print a blob's size in bytes", nil, &params, func(ctx context.Context, tierbuf *client.Client, ref engine.BlobRef, _ []string) error {
		size, err := tierbuf.GetBlobSize(ctx, ref)
		if err != nil {
			return err
		}
		fmt.Fprintln(cli.Stdout, size)
		return nil
	})
}

func blobReorganizeCommand() *cli.Command {
	var params blobParams
	return blobAction("reorganize", "Pin a blob's score and move it to match", []string{"SCORE"}, &params, func(ctx context.Context, tierbuf *client.Client, ref engine.BlobRef, extra []string) error {
		value, err := strconv.ParseFloat(extra[0], 64)
		if err != nil || value < 0 || value > 1 {
			return cli.Validation("SCORE must be a number between 0 and 1, got %q", extra[0])
		}
		return tierbuf.ReorganizeBlob(ctx, ref, value)
	})
}

func blobTagCommand() *cli.Command {
	var params blobParams
	return blobAction("tag", "Label a blob with a second tag", []string{"OTHER_TAG"}, &params, func(ctx context.Context, tierbuf *client.Client, ref engine.BlobRef, extra []string) error {
		other, err := resolveTag(ctx, tierbuf, extra[0])
		if err != nil {
			return err
		}
		id, err := tierbuf.GetBlobID(ctx, ref.Tag, ref.Name)
		if err != nil {
			return err
		}
		return tierbuf.TagBlob(ctx, id, other)
	})
}

func blobStageInCommand() *cli.Command {
	var params blobParams
	return blobAction("stage-in", "Load a page of a staging tag", nil, &params, func(ctx context.Context, tierbuf *client.Client, ref engine.BlobRef, _ []string) error {
		id, err := tierbuf.StageIn(ctx, ref.Tag, ref.Name)
		if err != nil {
			return err
		}
		fmt.Fprintln(cli.Stdout, id)
		return nil
	})
}

func blobFlushCommand() *cli.Command {
	var params blobParams
	return blobAction("flush", "Stage a dirty blob out", nil, &params, func(ctx context.Context, tierbuf *client.Client, ref engine.BlobRef, _ []string) error {
		id, err := tierbuf.GetBlobID(ctx, ref.Tag, ref.Name)
		if err != nil {
			return err
		}
		flushed, err := tierbuf.FlushBlob(ctx, id)
		if err != nil {
			return err
		}
		if flushed {
			fmt.Fprintln(cli.Stdout, "flushed")
		} else {
			fmt.Fprintln(cli.Stdout, "clean")
		}
		return nil
	})
}

type blobDestroyParams struct {
	cli.Connection
	KeepInTag bool `flag:"keep-in-tag" desc:"leave the blob id listed in its tag"`
}

func blobDestroyCommand() *cli.Command {
	var params blobDestroyParams
	return &cli.Command{
		Name:    "destroy",
		Summary: "Destroy a blob and free its buffers",
		Usage:   "tierbuf blob destroy TAG NAME [flags]",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, "TAG", "NAME"); err != nil {
				return err
			}
			tierbuf, err := params.Connect()
			if err != nil {
				return err
			}
			ctx, cancel := params.CallContext(ctx)
			defer cancel()

			tag, err := resolveTag(ctx, tierbuf, args[0])
			if err != nil {
				return err
			}
			return tierbuf.DestroyBlob(ctx, client.ByName(tag, args[1]), params.KeepInTag)
		},
	}
}
