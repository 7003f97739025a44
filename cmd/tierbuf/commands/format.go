// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/tierbuf/cmd/tierbuf/cli"
	"github.com/bureau-foundation/tierbuf/lib/client"
	"github.com/bureau-foundation/tierbuf/lib/ident"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// formatBytes renders a size as "4.0 KiB (4096)".
func formatBytes(size uint64) string {
	if size < 1024 {
		return humanize.IBytes(size)
	}
	return fmt.Sprintf("%s (%d)", humanize.IBytes(size), size)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func score(value float64) string {
	return strconv.FormatFloat(value, 'f', 3, 64)
}

// resolveTag looks up a tag by name.
func resolveTag(ctx context.Context, tierbuf *client.Client, name string) (ident.TagID, error) {
	if name == "" {
		return ident.TagID{}, cli.Validation("tag name is required")
	}
	id, err := tierbuf.GetTagID(ctx, name)
	if err != nil {
		if client.IsNotFound(err) {
			return ident.TagID{}, fmt.Errorf("tag %q does not exist (create it with 'tierbuf tag create')", name)
		}
		return ident.TagID{}, err
	}
	return id, nil
}

// formatBandwidth renders bytes per second without the unit suffix.
func formatBandwidth(bytesPerSecond uint64) string {
	return humanize.IBytes(bytesPerSecond)
}
