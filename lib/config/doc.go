// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the tierbuf server configuration from YAML.
//
// Configuration comes from a single file named either by the
// TIERBUF_CONFIG environment variable (via [Load]) or by the daemon's
// --config flag (via [LoadFile]). There is no search path and no
// ~/.config discovery. Values not present in the file keep the
// built-in defaults from [Default], which mirror a four-tier layout
// (ram, nvme, ssd, pfs).
//
// Sizes accept humanized byte counts ("50MiB", "4KB", "1048576"),
// bandwidths are sizes per second ("6000MBps", "1GiB/s"), and latencies
// and periods are Go durations ("15us", "200ms", "1s").
//
// ${HOME} and ${VAR:-default} patterns are expanded in the socket path
// and device mount directories after loading.
//
// This package depends on no other tierbuf packages.
package config
