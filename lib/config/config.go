// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// DeviceKind selects the block-device implementation backing a target.
type DeviceKind string

const (
	// RAM is an anonymous memory arena.
	RAM DeviceKind = "ram"
	// File is an mmap'd file in MountDir.
	File DeviceKind = "file"
	// Direct is a file in MountDir accessed with O_DIRECT.
	Direct DeviceKind = "direct"
)

// PlacementPolicies lists the accepted values of
// dpe.default_placement_policy.
var PlacementPolicies = []string{"Random", "RoundRobin", "MinimizeIoTime", "None"}

// ServerConfig is the configuration of one tierbuf server.
type ServerConfig struct {
	// NodeID is stamped into every identifier this server allocates.
	NodeID uint32 `yaml:"node_id"`

	// Lanes is the number of independent metadata shards.
	// Default: 32
	Lanes int `yaml:"lanes"`

	// SocketPath is the Unix socket the request server listens on.
	SocketPath string `yaml:"socket_path"`

	// HTTPAddress is the listen address of the inspection and metrics
	// server. Empty disables it.
	HTTPAddress string `yaml:"http_address"`

	// Devices are the storage tiers, fastest first by convention. The
	// last device is the fallback target for placement.
	Devices []DeviceConfig `yaml:"devices"`

	// FlushPeriod is how often dirty blobs are staged out.
	// Default: 1s
	FlushPeriod Duration `yaml:"flush_period"`

	// StatsPeriod is how often every target's tracked free bytes are
	// reconciled against the device.
	// Default: 1s
	StatsPeriod Duration `yaml:"stats_period"`

	Reorganizer ReorganizerConfig `yaml:"reorganizer"`

	DPE DPEConfig `yaml:"dpe"`

	// IOPatternDepth bounds the access-pattern ring.
	// Default: 8192
	IOPatternDepth int `yaml:"io_pattern_depth"`

	// MaxRequestSize bounds one socket request, which must hold the
	// largest blob payload a client sends.
	// Default: 64MiB
	MaxRequestSize Size `yaml:"max_request_size"`
}

// DeviceConfig describes one storage tier.
type DeviceConfig struct {
	Name string     `yaml:"name"`
	Kind DeviceKind `yaml:"kind"`

	// MountDir holds the buffering file for file and direct devices.
	// Ignored for ram.
	MountDir string `yaml:"mount_dir"`

	Capacity Size `yaml:"capacity"`

	// BlockSize is the smallest allocation unit. Every slab size must
	// be a multiple of it.
	BlockSize Size `yaml:"block_size"`

	// SlabSizes are the block sizes the allocator hands out, smallest
	// first.
	SlabSizes []Size `yaml:"slab_sizes"`

	Bandwidth Bandwidth `yaml:"bandwidth"`
	Latency   Duration  `yaml:"latency"`

	IsSharedDevice bool `yaml:"is_shared_device"`
}

// ReorganizerConfig controls the score-driven background reorganizer.
type ReorganizerConfig struct {
	Enabled bool     `yaml:"enabled"`
	Period  Duration `yaml:"period"`

	// RecencyMax is the age at which the recency component of a blob's
	// score reaches 0.
	RecencyMax Duration `yaml:"recency_max"`

	// FreqMax is the access count per period at which the frequency
	// component reaches 1.
	FreqMax float64 `yaml:"freq_max"`

	// Threshold is the minimum score change that triggers a
	// reorganization.
	Threshold float64 `yaml:"threshold"`
}

// DPEConfig configures the data placement engine.
type DPEConfig struct {
	DefaultPlacementPolicy string `yaml:"default_placement_policy"`
}

var defaultSlabSizes = []Size{4 << 10, 16 << 10, 64 << 10, 1 << 20}

// Default returns the built-in four-tier configuration. File-backed
// tiers buffer under ${TIERBUF_ROOT:-/tmp/tierbuf}.
func Default() *ServerConfig {
	fileTier := func(name string, capacity, blockSize Size, bandwidth Bandwidth, latency time.Duration, shared bool) DeviceConfig {
		return DeviceConfig{
			Name:           name,
			Kind:           File,
			MountDir:       "${TIERBUF_ROOT:-/tmp/tierbuf}/" + name,
			Capacity:       capacity,
			BlockSize:      blockSize,
			SlabSizes:      slabsAtLeast(blockSize),
			Bandwidth:      bandwidth,
			Latency:        Duration(latency),
			IsSharedDevice: shared,
		}
	}

	return &ServerConfig{
		NodeID:      0,
		Lanes:       32,
		SocketPath:  "${TIERBUF_ROOT:-/tmp/tierbuf}/tierbuf.sock",
		HTTPAddress: "",
		Devices: []DeviceConfig{
			{
				Name:      "ram",
				Kind:      RAM,
				Capacity:  50 << 20,
				BlockSize: 4 << 10,
				SlabSizes: slices.Clone(defaultSlabSizes),
				Bandwidth: 6000 << 20,
				Latency:   Duration(15 * time.Microsecond),
			},
			fileTier("nvme", 100<<20, 4<<10, 1<<30, 600*time.Microsecond, false),
			fileTier("ssd", 100<<20, 4<<10, 500<<20, 1200*time.Microsecond, false),
			fileTier("pfs", 100<<20, 64<<10, 100<<20, 200*time.Millisecond, true),
		},
		FlushPeriod: Duration(time.Second),
		StatsPeriod: Duration(time.Second),
		Reorganizer: ReorganizerConfig{
			Enabled:    true,
			Period:     Duration(time.Second),
			RecencyMax: Duration(60 * time.Second),
			FreqMax:    15,
			Threshold:  0.2,
		},
		DPE: DPEConfig{
			DefaultPlacementPolicy: "MinimizeIoTime",
		},
		IOPatternDepth: 8192,
		MaxRequestSize: 64 << 20,
	}
}

// slabsAtLeast returns the default slab sizes that are multiples of
// blockSize.
func slabsAtLeast(blockSize Size) []Size {
	var sizes []Size
	for _, size := range defaultSlabSizes {
		if size >= blockSize && size%blockSize == 0 {
			sizes = append(sizes, size)
		}
	}
	return sizes
}

// Load loads configuration from the file named by TIERBUF_CONFIG.
func Load() (*ServerConfig, error) {
	configPath := os.Getenv("TIERBUF_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("TIERBUF_CONFIG environment variable not set; " +
			"set it to the path of your tierbuf.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, layered over [Default]. A
// devices list in the file replaces the default devices entirely.
func LoadFile(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML layered over [Default] and expands variables.
func Parse(data []byte) (*ServerConfig, error) {
	cfg := Default()
	cfg.Devices = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Devices == nil {
		cfg.Devices = Default().Devices
	}
	for i := range cfg.Devices {
		device := &cfg.Devices[i]
		if device.Kind == "" {
			device.Kind = File
		}
		if device.BlockSize == 0 {
			device.BlockSize = 4 << 10
		}
		if len(device.SlabSizes) == 0 {
			device.SlabSizes = slabsAtLeast(device.BlockSize)
		}
	}
	cfg.ExpandVariables()
	return cfg, nil
}

// ExpandVariables expands ${VAR} and ${VAR:-default} in paths. Parse
// calls it; callers of Default call it themselves.
func (c *ServerConfig) ExpandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.SocketPath = expandVars(c.SocketPath, vars)
	for i := range c.Devices {
		c.Devices[i].MountDir = expandVars(c.Devices[i].MountDir, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors, reporting all of them.
func (c *ServerConfig) Validate() error {
	var errs []error

	if c.Lanes <= 0 {
		errs = append(errs, fmt.Errorf("lanes must be positive, got %d", c.Lanes))
	}
	if c.SocketPath == "" {
		errs = append(errs, fmt.Errorf("socket_path is required"))
	}
	if len(c.Devices) == 0 {
		errs = append(errs, fmt.Errorf("at least one device is required"))
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, device := range c.Devices {
		label := device.Name
		if label == "" {
			label = fmt.Sprintf("devices[%d]", i)
			errs = append(errs, fmt.Errorf("%s: name is required", label))
		} else if seen[device.Name] {
			errs = append(errs, fmt.Errorf("duplicate device name %q", device.Name))
		}
		seen[device.Name] = true

		switch device.Kind {
		case RAM:
		case File, Direct:
			if device.MountDir == "" {
				errs = append(errs, fmt.Errorf("%s: mount_dir is required for %s devices", label, device.Kind))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown kind %q (want ram, file, or direct)", label, device.Kind))
		}

		if device.Capacity == 0 {
			errs = append(errs, fmt.Errorf("%s: capacity must be positive", label))
		}
		if device.BlockSize == 0 {
			errs = append(errs, fmt.Errorf("%s: block_size must be positive", label))
			continue
		}
		if len(device.SlabSizes) == 0 {
			errs = append(errs, fmt.Errorf("%s: no slab size is a multiple of block_size %v", label, device.BlockSize))
		}
		for _, slab := range device.SlabSizes {
			if slab == 0 || slab%device.BlockSize != 0 {
				errs = append(errs, fmt.Errorf("%s: slab size %d is not a multiple of block_size %d", label, slab, device.BlockSize))
			}
		}
		if !slices.IsSorted(device.SlabSizes) {
			errs = append(errs, fmt.Errorf("%s: slab_sizes must be in ascending order", label))
		}
	}

	if c.FlushPeriod <= 0 {
		errs = append(errs, fmt.Errorf("flush_period must be positive"))
	}
	if c.StatsPeriod <= 0 {
		errs = append(errs, fmt.Errorf("stats_period must be positive"))
	}
	if c.Reorganizer.Enabled {
		if c.Reorganizer.Period <= 0 {
			errs = append(errs, fmt.Errorf("reorganizer.period must be positive"))
		}
		if c.Reorganizer.RecencyMax <= 0 {
			errs = append(errs, fmt.Errorf("reorganizer.recency_max must be positive"))
		}
		if c.Reorganizer.FreqMax <= 0 {
			errs = append(errs, fmt.Errorf("reorganizer.freq_max must be positive"))
		}
	}
	if !slices.Contains(PlacementPolicies, c.DPE.DefaultPlacementPolicy) {
		errs = append(errs, fmt.Errorf("dpe.default_placement_policy must be one of: %v", PlacementPolicies))
	}
	if c.IOPatternDepth <= 0 {
		errs = append(errs, fmt.Errorf("io_pattern_depth must be positive"))
	}
	if c.MaxRequestSize == 0 {
		errs = append(errs, fmt.Errorf("max_request_size must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *ServerConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
