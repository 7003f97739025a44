// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/bureau-foundation/tierbuf/lib/process"
)

// captureOutput redirects Stdout and Stderr for one test.
func captureOutput(t *testing.T) (stdout, stderr *bytes.Buffer) {
	t.Helper()
	stdout, stderr = &bytes.Buffer{}, &bytes.Buffer{}
	previousOut, previousErr := Stdout, Stderr
	Stdout, Stderr = stdout, stderr
	t.Cleanup(func() { Stdout, Stderr = previousOut, previousErr })
	return stdout, stderr
}

func noop(ctx context.Context, args []string, logger *slog.Logger) error { return nil }

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string
	var receivedArgs []string
	root := &Command{
		Name: "tierbuf",
		Subcommands: []*Command{
			{
				Name: "tag",
				Subcommands: []*Command{
					{
						Name: "create",
						Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
							called = "tag create"
							receivedArgs = args
							return nil
						},
					},
				},
			},
			{Name: "status", Run: noop},
		},
	}

	if err := root.Execute(t.Context(), []string{"tag", "create", "scratch"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "tag create" {
		t.Errorf("dispatched to %q, want %q", called, "tag create")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "scratch" {
		t.Errorf("args = %v, want [scratch]", receivedArgs)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var params struct {
		Owner bool     `flag:"owner"`
		Size  ByteSize `flag:"size" default:"4KiB"`
		Name  string   `flag:"name,n"`
	}
	var receivedArgs []string
	command := &Command{
		Name:   "create",
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			receivedArgs = args
			return nil
		},
	}

	if err := command.Execute(t.Context(), []string{"--owner", "-n", "x", "positional"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !params.Owner || params.Name != "x" || params.Size != 4096 {
		t.Errorf("params = %+v, want owner, name x, size 4096", params)
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "positional" {
		t.Errorf("args = %v, want [positional]", receivedArgs)
	}
}

func TestCommand_Execute_Errors(t *testing.T) {
	captureOutput(t)
	var params struct {
		Offset ByteSize `flag:"offset"`
	}
	root := &Command{
		Name: "tierbuf",
		Subcommands: []*Command{
			{Name: "status", Run: noop},
			{Name: "put", Params: func() any { return &params }, Run: noop},
			{Name: "tag", Subcommands: []*Command{{Name: "create", Run: noop}}},
		},
	}

	tests := []struct {
		name      string
		args      []string
		wantError string
	}{
		{"unknown_command_suggestion", []string{"stats"}, `did you mean "status"?`},
		{"unknown_command", []string{"zzzzzzzz"}, `unknown command "zzzzzzzz"`},
		{"unknown_flag_suggestion", []string{"put", "--ofset", "1"}, "did you mean --offset?"},
		{"bad_flag_value", []string{"put", "--offset", "lots"}, "invalid size"},
		{"subcommand_required", []string{"tag"}, "subcommand required"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := root.Execute(t.Context(), test.args)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), test.wantError) {
				t.Errorf("error = %q, want it to contain %q", err, test.wantError)
			}
			if code := process.ExitCode(err); code != 2 {
				t.Errorf("exit code = %d, want 2", code)
			}
		})
	}
}

func TestCommand_Execute_RunErrorPassesThrough(t *testing.T) {
	failure := errors.New("server unreachable")
	command := &Command{
		Name: "status",
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			return failure
		},
	}
	err := command.Execute(t.Context(), nil)
	if !errors.Is(err, failure) {
		t.Fatalf("Execute() = %v, want the Run error", err)
	}
	if code := process.ExitCode(err); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	var params struct {
		Owner bool `flag:"owner" desc:"destroy member blobs with the tag"`
	}
	create := &Command{
		Name:     "create",
		Summary:  "Create a tag",
		Params:   func() any { return &params },
		Examples: []Example{{Description: "Scratch space", Command: "tierbuf tag create scratch --owner"}},
		Run:      noop,
	}
	root := &Command{
		Name:        "tierbuf",
		Subcommands: []*Command{{Name: "tag", Summary: "Manage tags", Subcommands: []*Command{create}}},
	}

	_, stderr := captureOutput(t)
	if err := root.Execute(t.Context(), []string{"tag", "create", "--help"}); err != nil {
		t.Fatalf("Execute(--help) error: %v", err)
	}
	help := stderr.String()
	for _, want := range []string{
		"Create a tag",
		"Usage:\n  tierbuf tag create [flags]",
		"--owner",
		"destroy member blobs with the tag",
		"# Scratch space",
	} {
		if !strings.Contains(help, want) {
			t.Errorf("help output missing %q:\n%s", want, help)
		}
	}

	stderr.Reset()
	root.PrintHelp(stderr)
	if !strings.Contains(stderr.String(), "tag") || !strings.Contains(stderr.String(), "Manage tags") {
		t.Errorf("root help does not list subcommands:\n%s", stderr.String())
	}
}

func TestExitError(t *testing.T) {
	err := error(&ExitError{Code: 3})
	if code := process.ExitCode(err); code != 3 {
		t.Errorf("ExitCode = %d, want 3", code)
	}
}

func TestRequireArgs(t *testing.T) {
	if err := RequireArgs([]string{"a", "b"}, "TAG", "NAME"); err != nil {
		t.Errorf("RequireArgs with matching count: %v", err)
	}
	err := RequireArgs([]string{"a"}, "TAG", "NAME")
	if err == nil || !strings.Contains(err.Error(), "expected 2 argument(s)") {
		t.Errorf("RequireArgs short = %v", err)
	}
}

func TestEmitJSON(t *testing.T) {
	stdout, _ := captureOutput(t)

	var output JSONOutput
	if done, _ := output.EmitJSON([]string{"a"}); done {
		t.Fatal("EmitJSON wrote without --json")
	}
	output.OutputJSON = true
	var empty []string
	if done, err := output.EmitJSON(empty); !done || err != nil {
		t.Fatalf("EmitJSON = %v, %v", done, err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "[]" {
		t.Errorf("nil slice rendered as %q, want []", got)
	}
}

func TestNewCommandLogger(t *testing.T) {
	logger := NewCommandLogger()
	if logger == nil {
		t.Fatal("NewCommandLogger returned nil")
	}
}
