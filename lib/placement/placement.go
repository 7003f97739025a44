// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/tierbuf/lib/ident"
	"github.com/bureau-foundation/tierbuf/lib/target"
)

// Policy selects a placement algorithm.
type Policy uint8

const (
	MinimizeIoTime Policy = iota
	Random
	RoundRobin
	// None places everything on the fallback target.
	None
)

var policyNames = map[Policy]string{
	MinimizeIoTime: "MinimizeIoTime",
	Random:         "Random",
	RoundRobin:     "RoundRobin",
	None:           "None",
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Policy(%d)", p)
}

// ParsePolicy returns the policy with the given name.
func ParsePolicy(name string) (Policy, error) {
	for policy, policyName := range policyNames {
		if policyName == name {
			return policy, nil
		}
	}
	return 0, fmt.Errorf("unknown placement policy %q", name)
}

// SubPlacement assigns Size bytes to one target.
type SubPlacement struct {
	Size   uint64         `cbor:"size" json:"size"`
	Target ident.TargetID `cbor:"target" json:"target"`
}

// Schema is the ordered placement of one requested size.
type Schema []SubPlacement

// Total returns the bytes the schema assigns.
func (s Schema) Total() uint64 {
	var total uint64
	for _, placement := range s {
		total += placement.Size
	}
	return total
}

// policyFunc computes the schema for one size. It may assign less than
// size; Place charges the remainder to the fallback.
type policyFunc func(size uint64, targets []target.Info, score float64) Schema

// Engine runs placement policies. Safe for concurrent use.
type Engine struct {
	fallback ident.TargetID

	rngMu sync.Mutex
	rng   *rand.Rand

	roundRobin atomic.Uint64
}

// NewEngine returns an Engine whose schemas end on fallback. seed fixes
// the Random policy's sequence; zero seeds from the time.
func NewEngine(fallback ident.TargetID, seed uint64) *Engine {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Engine{
		fallback: fallback,
		rng:      rand.New(rand.NewPCG(seed, seed>>32|1)),
	}
}

// Place returns one schema per size in sizes, each terminated by a
// fallback sub-placement carrying whatever the policy could not place
// (zero when the policy covered the size). Every schema therefore
// assigns at least its size. Zero sizes produce no schema; if nothing
// is produced the result is a single fallback-only schema.
func (e *Engine) Place(policy Policy, sizes []uint64, targets []target.Info, score float64) ([]Schema, error) {
	var place policyFunc
	switch policy {
	case MinimizeIoTime:
		place = minimizeIoTime
	case Random:
		place = e.random
	case RoundRobin:
		place = e.roundRobinPlace
	case None:
		place = e.none
	default:
		return nil, fmt.Errorf("unknown placement policy %v", policy)
	}

	var schemas []Schema
	for _, size := range sizes {
		if size == 0 {
			continue
		}
		schema := place(size, targets, score)
		rest := size - min(schema.Total(), size)
		schemas = append(schemas, append(schema, SubPlacement{Size: rest, Target: e.fallback}))
	}
	if len(schemas) == 0 {
		schemas = append(schemas, Schema{{Size: 0, Target: e.fallback}})
	}
	return schemas, nil
}

func (e *Engine) none(size uint64, _ []target.Info, _ float64) Schema {
	return Schema{{Size: size, Target: e.fallback}}
}

// random places the whole size on one target chosen uniformly among
// those with room for it. When none has room the size is spread over
// the targets in a random order.
func (e *Engine) random(size uint64, targets []target.Info, _ float64) Schema {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	if candidates := fitting(size, targets); len(candidates) > 0 {
		choice := candidates[e.rng.IntN(len(candidates))]
		return Schema{{Size: size, Target: choice.ID}}
	}
	order := make([]target.Info, len(targets))
	for i, j := range e.rng.Perm(len(targets)) {
		order[i] = targets[j]
	}
	return spill(size, order)
}

// roundRobinPlace places the whole size on the next target in rotation
// that has room for it. When none has room the size is spread over the
// targets in rotation order.
func (e *Engine) roundRobinPlace(size uint64, targets []target.Info, _ float64) Schema {
	if len(targets) == 0 {
		return nil
	}
	start := int(e.roundRobin.Add(1)-1) % len(targets)
	order := append(slices.Clone(targets[start:]), targets[:start]...)
	for _, candidate := range order {
		if candidate.FreeBytes >= size {
			return Schema{{Size: size, Target: candidate.ID}}
		}
	}
	return spill(size, order)
}

// spill fills targets in order, each up to its free bytes.
func spill(size uint64, order []target.Info) Schema {
	var schema Schema
	for _, candidate := range order {
		if size == 0 {
			break
		}
		if candidate.FreeBytes == 0 {
			continue
		}
		take := min(size, candidate.FreeBytes)
		schema = append(schema, SubPlacement{Size: take, Target: candidate.ID})
		size -= take
	}
	return schema
}

func fitting(size uint64, targets []target.Info) []target.Info {
	var candidates []target.Info
	for _, candidate := range targets {
		if candidate.FreeBytes >= size {
			candidates = append(candidates, candidate)
		}
	}
	return candidates
}

// minimizeIoTime fills targets in order of estimated transfer time for
// size (latency plus size over bandwidth), each up to its free bytes.
// A blob scoring below a target's relative speed skips it while a
// slower target can take the data, keeping fast tiers for hot blobs.
func minimizeIoTime(size uint64, targets []target.Info, score float64) Schema {
	ordered := slices.Clone(targets)
	slices.SortStableFunc(ordered, func(a, b target.Info) int {
		costA, costB := ioTime(size, a), ioTime(size, b)
		switch {
		case costA < costB:
			return -1
		case costA > costB:
			return 1
		}
		return 0
	})

	var schema Schema
	remaining := size
	fill := func(eligible func(target.Info) bool) {
		for _, candidate := range ordered {
			if remaining == 0 {
				return
			}
			if !eligible(candidate) || candidate.FreeBytes == 0 || contains(schema, candidate.ID) {
				continue
			}
			take := min(remaining, candidate.FreeBytes)
			schema = append(schema, SubPlacement{Size: take, Target: candidate.ID})
			remaining -= take
		}
	}
	fill(func(candidate target.Info) bool { return candidate.Score <= score })
	fill(func(target.Info) bool { return true })

	if remaining > 0 && len(schema) > 0 {
		schema[len(schema)-1].Size += remaining
	}
	return schema
}

func contains(schema Schema, id ident.TargetID) bool {
	for _, placement := range schema {
		if placement.Target == id {
			return true
		}
	}
	return false
}

// ioTime estimates the seconds to write size bytes to a target.
func ioTime(size uint64, info target.Info) float64 {
	seconds := info.Latency.Seconds()
	if info.Bandwidth > 0 {
		seconds += float64(size) / float64(info.Bandwidth)
	}
	return seconds
}
