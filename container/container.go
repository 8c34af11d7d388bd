// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package container implements the generic container: the cooperative
// single-threaded run loop that selects among the command queue, the
// periodic processing timer, and every external port's data queue, and
// drives one topologically sorted pass across the module graph per
// iteration.
package container

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gc/bufmgr"
	"gc/internal/cfgstore"
	"gc/internal/vote"
	"gc/module"
	"gc/port"
	"gc/threshold"
	"gc/topo"
)

// State is the container's own lifecycle state, distinct from any single
// port's state.
type State int

const (
	StateUnprepared State = iota
	StatePrepared
	StateStarted
	StateSuspended
	StateStopped
	StateClosing
)

// Wait-mask reservations: the top three bits of the 32-bit per-parallel-path
// mask are reserved for the command queue, the periodic timer, and an
// in-flight synchronous command, leaving the low 29 bits for external port
// wait slots.
const (
	MaskSyncCommand uint32 = 1 << 31
	MaskTimer       uint32 = 1 << 30
	MaskCommand     uint32 = 1 << 29
	MaxExternalBits        = 29
)

// Container owns the full non-owning arena: modules, ports, connections,
// and the subsystems (threshold engine, buffer manager, process driver)
// that operate over them.
type Container struct {
	mu sync.Mutex

	state State

	modules    map[uint32]*module.Module
	sortOrder  []uint32 // topological order, module IDs
	ports      map[port.Ref]*port.DataPort
	externals  map[port.Ref]*port.External
	fromInput  map[port.Ref]port.Ref   // input port -> upstream output port
	toInputs   map[port.Ref][]port.Ref // output port -> downstream input ports

	nextWaitBit uint32

	cmdQueue *CommandQueue

	thresholdEngine *threshold.Engine
	bufMgr          *bufmgr.Manager
	driver          *topo.Driver

	cfg Config

	// probingForActivity is the livelock-avoidance hint: set when a pass
	// produced no data anywhere, so the next wait can poll briefly instead
	// of blocking indefinitely on a graph that might have gone quiet only
	// because every port is between frames.
	probingForActivity bool

	underrunTrackers map[port.Ref]*underrunTracker

	// lastWaitMask is the trigger selector's most recent per-external-port
	// classification (wait_mask_arr), kept for introspection/testing rather
	// than acted on elsewhere.
	lastWaitMask map[port.Ref]portClass

	reconciler *Reconciler

	// votes is optional: a container with no attached sink just skips the
	// Report*/CastIslandVote calls.
	votes *vote.Sink

	// cfgStore is optional: a container with no attached registry replies
	// to the config opcodes (OpRegisterCfg/OpDeregisterCfg/OpGetCfg/
	// OpSetCfg) as no-ops instead of persisting anything.
	cfgStore cfgstore.Registry
}

// Config bundles the knobs an embedder sets at construction.
type Config struct {
	Threshold threshold.Config
	BufMgr    bufmgr.Config
	TimerTick time.Duration
	CfgStore  cfgstore.Registry
}

// New constructs an empty container ready to have modules and ports added.
func New(cfg Config) *Container {
	if cfg.TimerTick <= 0 {
		cfg.TimerTick = 10 * time.Millisecond
	}
	c := &Container{
		state:       StateUnprepared,
		modules:     make(map[uint32]*module.Module),
		ports:       make(map[port.Ref]*port.DataPort),
		externals:   make(map[port.Ref]*port.External),
		fromInput:   make(map[port.Ref]port.Ref),
		toInputs:    make(map[port.Ref][]port.Ref),
		nextWaitBit: 0,
		cmdQueue:    NewCommandQueue(128),
		cfg:         cfg,
		cfgStore:    cfg.CfgStore,
	}
	c.thresholdEngine = threshold.New(cfg.Threshold)
	c.bufMgr = bufmgr.New(cfg.BufMgr)
	c.driver = topo.New()
	c.reconciler = NewReconciler(c)
	return c
}

// AddModule registers a module in the arena.
func (c *Container) AddModule(m *module.Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[m.ID] = m
	c.invalidateSortOrder()
}

// AddPort registers an internal data port.
func (c *Container) AddPort(p *port.DataPort) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ports[p.ID] = p
}

// AddExternal registers an external port and reserves it a wait-mask bit.
// Returns an error if the container has run out of wait-mask capacity.
func (c *Container) AddExternal(ext *port.External) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nextWaitBit >= MaxExternalBits {
		return fmt.Errorf("container: no wait-mask bits left for external port %d", ext.ID)
	}
	ext.WaitMaskBit = 1 << c.nextWaitBit
	c.nextWaitBit++
	c.ports[ext.ID] = ext.DataPort
	c.externals[ext.ID] = ext
	return nil
}

// AttachVoteSink wires a telemetry sink that the run loop reports
// throughput/latency/island-vote data into on every data pass. A container
// with no attached sink simply skips those reports.
func (c *Container) AttachVoteSink(s *vote.Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.votes = s
}

// AttachCfgStore wires the registry the config opcodes (OpRegisterCfg/
// OpDeregisterCfg/OpGetCfg/OpSetCfg) persist through. A container with no
// attached registry handles those opcodes as no-ops.
func (c *Container) AttachCfgStore(r cfgstore.Registry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfgStore = r
}

// Connect links producer output port `from` to consumer input port `to`.
func (c *Container) Connect(from, to port.Ref) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fromInput[to] = from
	c.toInputs[from] = append(c.toInputs[from], to)
	c.invalidateSortOrder()
}

func (c *Container) invalidateSortOrder() {
	c.sortOrder = nil
}

// --- threshold.Topology and topo.Graph implementations ---

// SortedModules returns the modules in dependency order (sources first),
// computing and caching a Kahn's-algorithm topological sort on first use
// after any graph mutation.
func (c *Container) SortedModules() []*module.Module {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sortOrder == nil {
		c.computeSortOrderLocked()
	}
	out := make([]*module.Module, 0, len(c.sortOrder))
	for _, id := range c.sortOrder {
		out = append(out, c.modules[id])
	}
	return out
}

func (c *Container) computeSortOrderLocked() {
	indegree := make(map[uint32]int, len(c.modules))
	ids := make([]uint32, 0, len(c.modules))
	for id := range c.modules {
		indegree[id] = 0
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, m := range c.modules {
		for _, inID := range m.InputPortIDs {
			if up, ok := c.fromInput[port.Ref(inID)]; ok {
				upPort := c.ports[up]
				if upPort != nil {
					indegree[m.ID]++
					_ = upPort
				}
			}
		}
	}

	var queue []uint32
	for _, id := range ids {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })

	var order []uint32
	// downstreamMods lists one entry per connection, matching indegree,
	// which counts one per connected input port.
	downstreamMods := func(m *module.Module) []uint32 {
		var out []uint32
		for _, outID := range m.OutputPortIDs {
			for _, inRef := range c.toInputs[port.Ref(outID)] {
				inPort := c.ports[inRef]
				if inPort == nil {
					continue
				}
				out = append(out, inPort.OwnerMod)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, downID := range downstreamMods(c.modules[id]) {
			indegree[downID]--
			if indegree[downID] == 0 {
				queue = append(queue, downID)
			}
		}
		sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })
	}

	if len(order) != len(ids) {
		// a cycle exists; fall back to ID order rather than dropping
		// modules from the pass.
		order = ids
	}
	c.sortOrder = order
}

// ModuleByID returns the module with the given id, or nil.
func (c *Container) ModuleByID(id uint32) *module.Module {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modules[id]
}

// Port returns the port with the given reference, or nil.
func (c *Container) Port(ref port.Ref) *port.DataPort {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ports[ref]
}

// UpstreamOutput returns the output port feeding the given input port.
func (c *Container) UpstreamOutput(input port.Ref) (port.Ref, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.fromInput[input]
	return ref, ok
}

// DownstreamInputs returns the input ports fed by the given output port.
func (c *Container) DownstreamInputs(output port.Ref) []port.Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]port.Ref{}, c.toInputs[output]...)
}
