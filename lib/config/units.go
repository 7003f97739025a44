// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Size is a byte count written in YAML as "64KiB", "50MB" or a bare
// integer.
type Size uint64

// ParseSize parses a humanized byte count.
func ParseSize(text string) (Size, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("empty size")
	}
	if n, err := strconv.ParseUint(text, 10, 64); err == nil {
		return Size(n), nil
	}
	n, err := humanize.ParseBytes(text)
	if err != nil {
		return 0, fmt.Errorf("parsing size %q: %w", text, err)
	}
	return Size(n), nil
}

func (s Size) String() string { return humanize.IBytes(uint64(s)) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseSize(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*s = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler. Sizes marshal as plain byte
// counts so that a marshaled config parses back exactly.
func (s Size) MarshalYAML() (any, error) { return uint64(s), nil }

// Bandwidth is a transfer rate in bytes per second, written as a size
// with a "ps" or "/s" suffix ("6000MBps", "1GiB/s").
type Bandwidth uint64

// ParseBandwidth parses a humanized rate.
func ParseBandwidth(text string) (Bandwidth, error) {
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.HasSuffix(trimmed, "/s"):
		trimmed = strings.TrimSuffix(trimmed, "/s")
	case strings.HasSuffix(trimmed, "ps"):
		trimmed = strings.TrimSuffix(trimmed, "ps")
	}
	size, err := ParseSize(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parsing bandwidth %q: %w", text, err)
	}
	return Bandwidth(size), nil
}

func (b Bandwidth) String() string { return humanize.Bytes(uint64(b)) + "/s" }

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *Bandwidth) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseBandwidth(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*b = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b Bandwidth) MarshalYAML() (any, error) { return uint64(b), nil }

// Duration is a time.Duration written in YAML as "15us" or "1s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("line %d: parsing duration %q: %w", value.Line, value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }
