// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/tierbuf/cmd/tierbuf/cli"
	"github.com/bureau-foundation/tierbuf/lib/client"
	"github.com/bureau-foundation/tierbuf/lib/engine"
	"github.com/bureau-foundation/tierbuf/lib/stager"
)

func tagCommand() *cli.Command {
	return &cli.Command{
		Name:    "tag",
		Summary: "Create, inspect and destroy tags",
		Description: `A tag groups blobs under a name. An owning tag destroys its blobs when
it is destroyed or cleared. A staging tag is backed by a file, chunk
directory or bolt database named by the tag: its blobs are pages of
that store, staged in on first access and flushed back when dirty.`,
		Subcommands: []*cli.Command{
			tagCreateCommand(),
			tagInfoCommand(),
			tagBlobsCommand(),
			tagSizeCommand(),
			tagFlushCommand(),
			tagClearCommand(),
			tagDestroyCommand(),
		},
	}
}

type tagCreateParams struct {
	cli.Connection
	cli.JSONOutput
	Owner       bool         `flag:"owner"        desc:"destroy member blobs with the tag"`
	BackendSize cli.ByteSize `flag:"backend-size" desc:"initial tag size"`
	Staging     string       `flag:"staging"      desc:"back the tag with a store: file, chunkdir or bolt"`
	PageSize    cli.ByteSize `flag:"page-size"    desc:"bytes per staged page" default:"1MiB"`
	ElementSize uint64       `flag:"element-size" desc:"round the page size down to a multiple of this" default:"1"`
	Compression string       `flag:"compression"  desc:"chunkdir page compression: none, lz4, zstd, bg4_lz4 or auto" default:"auto"`
	NoRead      bool         `flag:"no-read"      desc:"never stage pages in"`
	NoWrite     bool         `flag:"no-write"     desc:"never stage pages out"`
}

// stagingParams encodes the staging flags, nil when --staging is unset.
func (p *tagCreateParams) stagingParams() ([]byte, error) {
	if p.Staging == "" {
		return nil, nil
	}
	kind, err := stager.ParseKind(p.Staging)
	if err != nil {
		return nil, cli.Validation("--staging: %v", err)
	}
	params := stager.Params{Kind: kind, PageSize: uint64(p.PageSize)}
	if p.NoRead {
		params.Flags |= stager.NoRead
	}
	if p.NoWrite {
		params.Flags |= stager.NoWrite
	}
	if kind == stager.KindChunkDir {
		compression, err := stager.ParseCompression(p.Compression)
		if err != nil {
			return nil, cli.Validation("--compression: %v", err)
		}
		params.Compression = compression
	}
	encoded, err := params.Encode(p.ElementSize)
	if err != nil {
		return nil, cli.Validation("%v", err)
	}
	return encoded, nil
}

func tagCreateCommand() *cli.Command {
	var params tagCreateParams
	return &cli.Command{
		Name:    "create",
		Summary: "Create a tag, or return the existing one",
		Usage:   "tierbuf tag create NAME [flags]",
		Examples: []cli.Example{
			{
				Description: "An owning tag for scratch data",
				Command:     "tierbuf tag create scratch --owner",
			},
			{
				Description: "A tag backed by a chunk directory with 4 MiB pages",
				Command:     "tierbuf tag create /data/run7 --staging chunkdir --page-size 4MiB",
			},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, "NAME"); err != nil {
				return err
			}
			staging, err := params.stagingParams()
			if err != nil {
				return err
			}
			tierbuf, err := params.Connect()
			if err != nil {
				return err
			}
			ctx, cancel := params.CallContext(ctx)
			defer cancel()

			id, err := tierbuf.GetOrCreateTag(ctx, args[0], client.TagOptions{
				Owner:         params.Owner,
				BackendSize:   uint64(params.BackendSize),
				StagingParams: staging,
			})
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(map[string]any{"name": args[0], "id": id}); done {
				return err
			}
			fmt.Fprintln(cli.Stdout, id)
			return nil
		},
	}
}

type tagParams struct {
	cli.Connection
	cli.JSONOutput
}

// tagAction builds a command taking one tag name.
func tagAction(name, summary string, params *tagParams, run func(ctx context.Context, tierbuf *client.Client, tag string) error) *cli.Command {
	return &cli.Command{
		Name:    name,
		Summary: summary,
		Usage:   fmt.Sprintf("tierbuf tag %s NAME [flags]", name),
		Params:  func() any { return params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, "NAME"); err != nil {
				return err
			}
			tierbuf, err := params.Connect()
			if err != nil {
				return err
			}
			ctx, cancel := params.CallContext(ctx)
			defer cancel()
			return run(ctx, tierbuf, args[0])
		},
	}
}

func tagInfoCommand() *cli.Command {
	var params tagParams
	return tagAction("info", "Show a tag", &params, func(ctx context.Context, tierbuf *client.Client, name string) error {
		id, err := resolveTag(ctx, tierbuf, name)
		if err != nil {
			return err
		}
		info, err := tierbuf.Tag(ctx, id)
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
		fmt.Fprintf(table, "blobs\t%d\n", len(info.Blobs))
		fmt.Fprintf(table, "owner\t%t\n", info.Owner)
		fmt.Fprintf(table, "staging\t%t\n", info.Staging)
		return table.Flush()
	})
}

func tagBlobsCommand() *cli.Command {
	var params tagParams
	return tagAction("blobs", "List the blobs a tag holds", &params, func(ctx context.Context, tierbuf *client.Client, name string) error {
		id, err := resolveTag(ctx, tierbuf, name)
		if err != nil {
			return err
		}
		blobs, err := tierbuf.PollBlobMetadata(ctx, "", 0)
		if err != nil {
			return err
		}
		members, err := tierbuf.TagBlobs(ctx, id)
		if err != nil {
			return err
		}
		listed := make(map[string]bool, len(members))
		for _, member := range members {
			listed[member.String()] = true
		}
		var held []engine.BlobInfo
		for _, blob := range blobs {
			if listed[blob.ID.String()] {
				held = append(held, blob)
			}
		}
		if done, err := params.EmitJSON(held); done {
			return err
		}
		return writeBlobTable(held)
	})
}

type tagSizeParams struct {
	cli.Connection
	Add int64        `flag:"add" desc:"add this many bytes (negative shrinks, floored at zero)"`
	Cap cli.ByteSize `flag:"cap" desc:"raise the size to at least this"`
}

func tagSizeCommand() *cli.Command {
	var params tagSizeParams
	return &cli.Command{
		Name:    "size",
		Summary: "Show or adjust a tag's size",
		Usage:   "tierbuf tag size NAME [--add N | --cap SIZE]",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, "NAME"); err != nil {
				return err
			}
			if params.Add != 0 && params.Cap != 0 {
				return cli.Validation("--add and --cap are mutually exclusive")
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
			var size uint64
			switch {
			case params.Add != 0:
				size, err = tierbuf.TagUpdateSize(ctx, id, params.Add, engine.SizeAdd)
			case params.Cap != 0:
				size, err = tierbuf.TagUpdateSize(ctx, id, int64(params.Cap), engine.SizeCap)
			default:
				size, err = tierbuf.TagGetSize(ctx, id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cli.Stdout, formatBytes(size))
			return nil
		},
	}
}

func tagFlushCommand() *cli.Command {
	var params tagParams
	return tagAction("flush", "Stage a tag's dirty blobs out", &params, func(ctx context.Context, tierbuf *client.Client, name string) error {
		id, err := resolveTag(ctx, tierbuf, name)
		if err != nil {
			return err
		}
		flushed, err := tierbuf.TagFlush(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.Stdout, "flushed %d blob(s)\n", flushed)
		return nil
	})
}

func tagClearCommand() *cli.Command {
	var params tagParams
	return tagAction("clear", "Empty a tag", &params, func(ctx context.Context, tierbuf *client.Client, name string) error {
		id, err := resolveTag(ctx, tierbuf, name)
		if err != nil {
			return err
		}
		return tierbuf.TagClearBlobs(ctx, id)
	})
}

func tagDestroyCommand() *cli.Command {
	var params tagParams
	return tagAction("destroy", "Destroy a tag", &params, func(ctx context.Context, tierbuf *client.Client, name string) error {
		id, err := resolveTag(ctx, tierbuf, name)
		if err != nil {
			return err
		}
		return tierbuf.DestroyTag(ctx, id)
	})
}

// writeBlobTable prints one line per blob.
func writeBlobTable(blobs []engine.BlobInfo) error {
	table := newTable(cli.Stdout)
	fmt.Fprintln(table, "NAME\tID\tSIZE\tSCORE\tBUFFERS\tACCESSED")
	for _, blob := range blobs {
		scoreText := score(blob.Score)
		if blob.UserScore {
			scoreText += "*"
		}
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%d\t%s\n",
			blob.Name, blob.ID, formatBytes(blob.Size), scoreText,
			len(blob.Buffers), ago(blob.LastAccess))
	}
	return table.Flush()
}
