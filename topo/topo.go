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

// Package topo drives one data-processing pass across a container's
// topologically sorted module graph: per-module input/output assembly,
// process invocation, and metadata propagation by consumed/produced byte
// counts.
package topo

import (
	"fmt"

	"gc/metadata"
	"gc/module"
	"gc/port"
)

// Graph is the view of the container graph the process driver needs.
type Graph interface {
	SortedModules() []*module.Module
	Port(ref port.Ref) *port.DataPort
}

// Event is raised by a module or the driver during a pass, forcing the
// pure signal-triggered fast path to fall back to the general driver on
// the next iteration.
type Event int

const (
	EventNone Event = iota
	EventMediaFormat
	EventThreshold
	EventProcessState
	EventRealTimeProperty
	EventInplace
	EventVoting
)

// Driver runs process passes over a Graph.
type Driver struct {
	// pureSignalTriggered caches whether every module in the graph is
	// NeedsSignalTrigger with no data-driven members, letting RunPass skip
	// the per-module trigger-policy check on the hot path. Cleared by
	// Invalidate.
	pureSignalTriggered bool
	checked             bool
}

func New() *Driver {
	return &Driver{}
}

// Invalidate forces the driver to reclassify pure-signal-triggered status
// on the next pass, called by the event reconciler after any event that
// could change a module's classification.
func (d *Driver) Invalidate() {
	d.checked = false
}

func (d *Driver) classify(mods []*module.Module) bool {
	if d.checked {
		return d.pureSignalTriggered
	}
	pure := true
	for _, m := range mods {
		if !m.Flags.NeedsSignalTrigger || m.Kind == module.KindGenericDataDriven {
			pure = false
			break
		}
	}
	d.pureSignalTriggered = pure
	d.checked = true
	return pure
}

// RunPass invokes every enabled module's Process NumProcLoops times, in
// sorted order, feeding
// each the bytes available on its input ports and advancing buffers by the
// consumed/produced counts the module reports. Returns the first error any
// module raises, if any — a container's caller is expected to treat this
// as a fatal condition for the graph, the way a CAPI process() failure
// would stop the container's data pass.
func (d *Driver) RunPass(g Graph) error {
	mods := g.SortedModules()
	if d.classify(mods) {
		return d.runFastPath(g, mods)
	}
	return d.runGeneral(g, mods)
}

// runFastPath skips the data trigger-policy check runGeneral makes, since
// pure signal-triggered graphs run every module on a fixed cadence.
// Metadata is still forwarded by invoke.
func (d *Driver) runFastPath(g Graph, mods []*module.Module) error {
	for _, m := range mods {
		if m.Flags.Disabled {
			continue
		}
		for loop := 0; loop < m.NumProcLoops; loop++ {
			if err := d.invoke(g, m); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Driver) runGeneral(g Graph, mods []*module.Module) error {
	for _, m := range mods {
		if m.Flags.Disabled {
			continue
		}
		if m.Policy != nil && m.Policy.Kind() == module.TriggerPolicyData && !m.Policy.SatisfiedForData() {
			continue
		}
		for loop := 0; loop < m.NumProcLoops; loop++ {
			if err := d.invoke(g, m); err != nil {
				return err
			}
		}
	}
	return nil
}

// invoke assembles one module's inputs/outputs, calls Process, advances
// port buffers by the reported consumed/produced counts, and carries
// metadata forward past the consumed prefix.
func (d *Driver) invoke(g Graph, m *module.Module) error {
	if m.Cap == nil {
		return nil
	}
	inputs := make([][]byte, len(m.InputPortIDs))
	inPorts := make([]*port.DataPort, len(m.InputPortIDs))
	for i, id := range m.InputPortIDs {
		p := g.Port(port.Ref(id))
		inPorts[i] = p
		if p == nil {
			continue
		}
		inputs[i] = flattenAvailable(p)
	}

	outputs := make([][]byte, len(m.OutputPortIDs))
	outPorts := make([]*port.DataPort, len(m.OutputPortIDs))
	for i, id := range m.OutputPortIDs {
		p := g.Port(port.Ref(id))
		outPorts[i] = p
		if p == nil {
			continue
		}
		outputs[i] = freeSpace(p)
	}

	consumed, produced, err := m.Cap.Process(inputs, outputs)
	if err != nil {
		return fmt.Errorf("module %s (id %d): %w", m.Name, m.ID, err)
	}

	for i, p := range inPorts {
		if p == nil || i >= len(consumed) {
			continue
		}
		n := consumed[i]
		p.ConsumePrefix(n)
		if p.TotalActualDataLen() == 0 {
			p.DataFlowState = 0 // AtGap
		}
	}
	for i, p := range outPorts {
		if p == nil || i >= len(produced) {
			continue
		}
		n := produced[i]
		advanceProduced(p, n)
		if n > 0 {
			p.DataFlowState = 1 // Flowing
			forwardMetadata(inPorts, p, n)
		}
	}
	return nil
}

// flattenAvailable returns the valid bytes of the port's first channel
// buffer (callers that need per-channel access go through p.ChannelBufs
// directly; the single-slice view suffices for mono/interleaved
// fast-path modules).
func flattenAvailable(p *port.DataPort) []byte {
	if len(p.ChannelBufs) == 0 {
		return nil
	}
	n := p.ActualDataLen[0]
	if n > len(p.ChannelBufs[0]) {
		n = len(p.ChannelBufs[0])
	}
	return p.ChannelBufs[0][:n]
}

func freeSpace(p *port.DataPort) []byte {
	if len(p.ChannelBufs) == 0 {
		return nil
	}
	used := p.ActualDataLen[0]
	if used > len(p.ChannelBufs[0]) {
		used = len(p.ChannelBufs[0])
	}
	return p.ChannelBufs[0][used:]
}

func advanceProduced(p *port.DataPort, n int) {
	if len(p.ActualDataLen) == 0 {
		return
	}
	p.ActualDataLen[0] += n
	if p.ActualDataLen[0] > len(p.ChannelBufs[0]) {
		p.ActualDataLen[0] = len(p.ChannelBufs[0])
	}
}

// forwardMetadata carries every upstream metadata item whose offset falls
// within the newly produced byte range onto the output port, translated to
// the output port's own offset space. A module that only partially
// consumes a metadata-bearing region leaves the item on the input port for
// the next pass.
func forwardMetadata(inPorts []*port.DataPort, out *port.DataPort, produced int) {
	base := int64(out.TotalActualDataLen()) - int64(produced)
	for _, in := range inPorts {
		if in == nil {
			continue
		}
		for {
			it, ok := in.Metadata.PeekFront()
			if !ok || it.Offset > uint64(produced) {
				break
			}
			in.Metadata.PopFront()
			newOffset := base + int64(it.Offset)
			if newOffset < 0 {
				newOffset = 0
			}
			out.Metadata.Insert(metadata.Item{Kind: it.Kind, Offset: uint64(newOffset), Tracking: it.Tracking})
		}
	}
}
