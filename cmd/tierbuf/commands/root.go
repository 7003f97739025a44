// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands defines the tierbuf command tree.
package commands

import (
	"github.com/bureau-foundation/tierbuf/cmd/tierbuf/cli"
)

// Root returns the top-level command.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "tierbuf",
		Summary: "Talk to a tierbuf buffering server",
		Description: `tierbuf reads and writes blobs held by a tierbuf server, manages the
tags (buckets) that group them, and inspects the server's targets and
access history.

The server is reached over its Unix socket: --socket, else
$TIERBUF_SOCKET, else the socket of the built-in layout.`,
		Subcommands: []*cli.Command{
			statusCommand(),
			flushCommand(),
			tagCommand(),
			blobCommand(),
			pollCommand(),
			versionCommand(),
		},
	}
}
