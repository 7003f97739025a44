// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tierbuf/lib/client"
	"github.com/bureau-foundation/tierbuf/lib/config"
)

// SocketEnvVar overrides the default socket path.
const SocketEnvVar = "TIERBUF_SOCKET"

// Connection holds the flags every command that talks to the server
// shares. Embed it in a params struct.
type Connection struct {
	SocketPath      string
	Timeout         time.Duration
	MaxResponseSize ByteSize
}

// DefaultSocketPath is $TIERBUF_SOCKET, else the socket of the
// built-in server layout.
func DefaultSocketPath() string {
	if path := os.Getenv(SocketEnvVar); path != "" {
		return path
	}
	defaults := config.Default()
	defaults.ExpandVariables()
	return defaults.SocketPath
}

// AddFlags registers --socket, --timeout and --max-response.
func (c *Connection) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.SocketPath, "socket", DefaultSocketPath(), "tierbuf server socket path")
	flagSet.DurationVar(&c.Timeout, "timeout", 30*time.Second, "deadline for each server call")
	flagSet.Var(&c.MaxResponseSize, "max-response", "largest response accepted, e.g. 256MiB (default: the server's request limit)")
}

// Connect returns a client for the configured socket.
func (c *Connection) Connect() (*client.Client, error) {
	if c.SocketPath == "" {
		return nil, Validation("--socket is required (or set %s)", SocketEnvVar)
	}
	tierbuf, err := client.New(c.SocketPath)
	if err != nil {
		return nil, err
	}
	tierbuf.SetMaxResponseSize(int64(c.MaxResponseSize))
	return tierbuf, nil
}

// CallContext bounds one command's server calls by --timeout.
func (c *Connection) CallContext(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}
