// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework of the tierbuf CLI.
//
// A [Command] is a node in a tree: either a group of subcommands or a
// leaf with a Run function. Leaf flags come from a params struct bound
// through struct tags (see [BindFlags]); [Connection] supplies the
// shared --socket and --timeout flags. Errors returned by Run reach
// main, which maps them to exit codes through lib/process.
package cli
