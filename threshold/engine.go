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

// Package threshold implements the container's threshold engine: the LCM
// algebra over per-port PCM thresholds and the backward/forward
// propagation that sizes every port's buffer.
package threshold

import (
	"errors"
	"fmt"

	"gc/mediafmt"
	"gc/module"
	"gc/port"
)

// ErrTopologyInvalid is returned when propagation cannot converge: the
// recursion/worklist bound is exceeded, or an endpoint threshold is not a
// multiple of some other PCM module's threshold.
var ErrTopologyInvalid = errors.New("threshold: topology invalid")

// PerfMode selects the default frame length when no module raises a
// threshold.
type PerfMode int

const (
	PerfLowPower     PerfMode = iota // 5ms default
	PerfLowLatency                   // 1ms default
	PerfHighPerformance              // variable; caller must supply ConfiguredFrameLenUS
)

func (m PerfMode) defaultFrameLenUS() uint64 {
	switch m {
	case PerfLowPower:
		return 5000
	case PerfLowLatency:
		return 1000
	default:
		return 1000
	}
}

// Config tunes the engine; the 200ms LCM clamp is a named constant rather
// than hard-coded so it can be driven from container configuration —
// configurable, default unchanged at 200ms.
type Config struct {
	ConfiguredFrameLenUS      uint64
	ConfiguredFrameLenSamples uint64
	PerfMode                  PerfMode
	LCMClampUS                uint64 // default 200_000
	MaxWorklistDepth          int    // default 50
}

const defaultLCMClampUS = 200_000
const defaultMaxWorklistDepth = 50

func (c *Config) normalize() {
	if c.LCMClampUS == 0 {
		c.LCMClampUS = defaultLCMClampUS
	}
	if c.MaxWorklistDepth == 0 {
		c.MaxWorklistDepth = defaultMaxWorklistDepth
	}
}

// Topology is the minimal read/write view of the container graph the
// engine needs. container.Container implements this.
type Topology interface {
	SortedModules() []*module.Module
	ModuleByID(id uint32) *module.Module
	Port(ref port.Ref) *port.DataPort
	// UpstreamOutput returns the output port feeding this input port, if any.
	UpstreamOutput(input port.Ref) (port.Ref, bool)
	// DownstreamInputs returns the input ports fed by this output port.
	DownstreamInputs(output port.Ref) []port.Ref
}

// Result summarizes one converged (or rejected) propagation pass.
type Result struct {
	LCMUs      uint64
	LCMSamples uint64
	Clamped    bool
	// PendingPorts lists ports the propagator could not resolve this pass
	// (no valid media format yet); they will be revisited once their
	// format arrives.
	PendingPorts []port.Ref
}

// Engine runs check_and_propagate over a Topology.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	cfg.normalize()
	return &Engine{cfg: cfg}
}

// CheckAndPropagate runs the LCM selection and propagation pass end to end.
func (e *Engine) CheckAndPropagate(t Topology) (Result, error) {
	mods := t.SortedModules()

	// Step 1: clear visited, reset num_proc_loops, reset port_has_threshold.
	for _, m := range mods {
		m.NumProcLoops = 1
		for _, ref := range append(append([]port.Ref{}, refsOf(m.InputPortIDs)...), refsOf(m.OutputPortIDs)...) {
			p := t.Port(ref)
			if p == nil {
				continue
			}
			p.Visited = false
			p.PortHasThreshold = p.ThresholdRaisedBytes > 0
		}
	}

	lcmUs, lcmSamples, startRef, ok := e.selectInitialLCM(t, mods)
	if !ok {
		return Result{}, nil // nothing started yet; not an error
	}

	clamped := false
	if lcmUs > e.cfg.LCMClampUS {
		lcmUs = e.cfg.LCMClampUS
		clamped = true
		// recompute samples from the clamped microsecond value using the
		// start port's media format.
		if sp := t.Port(startRef); sp != nil && sp.MediaFormat.Valid {
			lcmSamples = mediafmt.BytesToSamplesPerCh(mediafmt.MicrosToBytes(lcmUs, sp.MediaFormat), sp.MediaFormat)
		}
	}

	pending, err := e.propagate(t, mods, startRef, lcmUs, lcmSamples)
	if err != nil {
		return Result{}, err
	}

	if err := e.finalize(t, mods, lcmUs); err != nil {
		return Result{}, err
	}

	return Result{LCMUs: lcmUs, LCMSamples: lcmSamples, Clamped: clamped, PendingPorts: pending}, nil
}

func refsOf(ids []uint32) []port.Ref {
	out := make([]port.Ref, len(ids))
	for i, id := range ids {
		out[i] = port.Ref(id)
	}
	return out
}

// selectInitialLCM picks the starting threshold from the first PCM input
// port with a threshold and folds in every other such port's threshold via
// LCM. When no PCM input port has a threshold, it derives a default frame
// length from the configuration for the first input port with a valid
// media format. Packetized and raw-compressed thresholds are never used:
// there is no packetized or failsafe fallback, and ok is false only when
// no input port has a valid media format.
func (e *Engine) selectInitialLCM(t Topology, mods []*module.Module) (lcmUs, lcmSamples uint64, startRef port.Ref, ok bool) {
	var startSampleRate uint32
	var firstValidPort port.Ref
	var firstPacketizedBytes int
	var sawPacketized bool

	for _, m := range mods {
		for _, id := range m.InputPortIDs {
			ref := port.Ref(id)
			p := t.Port(ref)
			if p == nil || !p.MediaFormat.Valid {
				continue
			}
			if firstValidPort == port.NoRef {
				firstValidPort = ref
			}
			if p.MediaFormat.Format == mediafmt.FormatPacketized && !sawPacketized {
				sawPacketized = true
				firstPacketizedBytes = p.ThresholdRaisedBytes
			}
			if !p.PortHasThreshold || p.MediaFormat.Format != mediafmt.FormatPCM {
				continue
			}
			thisUs := mediafmt.BytesToMicros(p.ThresholdRaisedBytes, p.MediaFormat)
			thisSamples := mediafmt.BytesToSamplesPerCh(p.ThresholdRaisedBytes, p.MediaFormat)
			if lcmUs == 0 && lcmSamples == 0 {
				lcmUs, lcmSamples, startRef, startSampleRate = thisUs, thisSamples, ref, p.MediaFormat.SampleRate
				ok = true
				continue
			}
			if p.MediaFormat.SampleRate == startSampleRate {
				lcmSamples = mediafmt.LCM(lcmSamples, thisSamples)
				lcmUs = mediafmt.BytesToMicros(mediafmt.SamplesPerChToBytes(lcmSamples, p.MediaFormat), p.MediaFormat)
			} else {
				lcmUs = mediafmt.LCM(lcmUs, thisUs)
			}
		}
	}
	if ok {
		return lcmUs, lcmSamples, startRef, true
	}

	// Step 5: no raised threshold anywhere; derive a default from config.
	if firstValidPort != port.NoRef {
		p := t.Port(firstValidPort)
		switch {
		case e.cfg.ConfiguredFrameLenUS > 0:
			lcmUs = e.cfg.ConfiguredFrameLenUS
		case e.cfg.ConfiguredFrameLenSamples > 0:
			lcmUs = mediafmt.BytesToMicros(mediafmt.SamplesPerChToBytes(e.cfg.ConfiguredFrameLenSamples, p.MediaFormat), p.MediaFormat)
		default:
			lcmUs = e.cfg.PerfMode.defaultFrameLenUS()
		}
		lcmSamples = mediafmt.BytesToSamplesPerCh(mediafmt.MicrosToBytes(lcmUs, p.MediaFormat), p.MediaFormat)
		return lcmUs, lcmSamples, firstValidPort, true
	}

	// Step 6: not reached with a valid port, since the default above has
	// already returned for one; no raw-compressed fallback is applied.
	if sawPacketized && firstValidPort != port.NoRef {
		_ = firstPacketizedBytes
		return 0, 0, firstValidPort, false
	}
	return 0, 0, port.NoRef, false
}

// propagate walks the graph backward then forward from startRef using an
// explicit worklist rather than recursion, bounded at MaxWorklistDepth so a
// malformed or cyclic-looking graph fails closed instead of overflowing
// the stack.
func (e *Engine) propagate(t Topology, mods []*module.Module, startRef port.Ref, lcmUs, lcmSamples uint64) ([]port.Ref, error) {
	var pending []port.Ref

	type item struct {
		ref   port.Ref
		depth int
	}

	// Backward pass: walk from startRef's owning module's inputs toward
	// upstream outputs.
	startMod := t.ModuleByID(t.Port(startRef).OwnerMod)
	queue := []item{}
	for _, id := range startMod.InputPortIDs {
		queue = append(queue, item{port.Ref(id), 0})
	}
	visited := map[port.Ref]bool{}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if it.depth > e.cfg.MaxWorklistDepth {
			return nil, fmt.Errorf("%w: backward propagation exceeded depth %d", ErrTopologyInvalid, e.cfg.MaxWorklistDepth)
		}
		if visited[it.ref] {
			continue
		}
		visited[it.ref] = true
		p := t.Port(it.ref)
		if p == nil {
			continue
		}
		p.Visited = true
		if !p.MediaFormat.Valid {
			pending = append(pending, it.ref)
			continue
		}
		assignIfDifferent(p, lcmUs, lcmSamples)

		outRef, has := t.UpstreamOutput(it.ref)
		if !has {
			continue
		}
		outPort := t.Port(outRef)
		if outPort == nil {
			continue
		}
		upMod := t.ModuleByID(outPort.OwnerMod)
		if upMod.IsMultiInOut() && !upMod.Shape.CanSelfPropagateThreshold() {
			// MIMO modules must self-declare; refuse to propagate through.
			if upMod.SelfDeclaredThresholdBytes == 0 {
				continue
			}
			continue
		}
		assignIfDifferent(outPort, lcmUs, lcmSamples)
		for _, id := range upMod.InputPortIDs {
			queue = append(queue, item{port.Ref(id), it.depth + 1})
		}
	}

	// Forward pass: symmetric walk from startRef's owning module's outputs
	// toward downstream inputs.
	queue = queue[:0]
	for _, id := range startMod.OutputPortIDs {
		queue = append(queue, item{port.Ref(id), 0})
	}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if it.depth > e.cfg.MaxWorklistDepth {
			return nil, fmt.Errorf("%w: forward propagation exceeded depth %d", ErrTopologyInvalid, e.cfg.MaxWorklistDepth)
		}
		if visited[it.ref] {
			continue
		}
		visited[it.ref] = true
		p := t.Port(it.ref)
		if p == nil {
			continue
		}
		p.Visited = true
		if !p.MediaFormat.Valid {
			pending = append(pending, it.ref)
			continue
		}
		assignIfDifferent(p, lcmUs, lcmSamples)

		for _, inRef := range t.DownstreamInputs(it.ref) {
			inPort := t.Port(inRef)
			if inPort == nil {
				continue
			}
			downMod := t.ModuleByID(inPort.OwnerMod)
			if downMod.IsMultiInOut() && !downMod.Shape.CanSelfPropagateThreshold() && downMod.SelfDeclaredThresholdBytes == 0 {
				continue
			}
			assignIfDifferent(inPort, lcmUs, lcmSamples)
			queue = append(queue, item{inPort.ID, it.depth + 1})
			for _, id := range downMod.OutputPortIDs {
				queue = append(queue, item{port.Ref(id), it.depth + 1})
			}
		}
	}

	return pending, nil
}

func assignIfDifferent(p *port.DataPort, lcmUs, lcmSamples uint64) {
	want := mediafmt.MicrosToBytes(lcmUs, p.MediaFormat)
	if want == 0 {
		want = mediafmt.SamplesPerChToBytes(lcmSamples, p.MediaFormat)
	}
	if want != p.ThresholdRaisedBytes {
		p.PendingNewThresholdBytes = want
	}
}

// finalize applies, for every port whose threshold differs from the LCM,
// the pending threshold and derives num_proc_loops; enforces the
// num_proc_loops/inplace invariant and the endpoint-multiple rule.
func (e *Engine) finalize(t Topology, mods []*module.Module, lcmUs uint64) error {
	ownUsByMod := make(map[uint32]uint64, len(mods))

	for _, m := range mods {
		isEndpoint := m.Flags.NeedsSignalTrigger && m.SelfDeclaredThresholdBytes > 0
		if isEndpoint {
			// endpoint modules keep their own threshold; its microsecond
			// value still has to be derived to check against other modules.
			ownUsByMod[m.ID] = endpointOwnUs(t, m)
			continue
		}

		ownUs := uint64(0)
		for _, id := range append(append([]uint32{}, m.InputPortIDs...), m.OutputPortIDs...) {
			p := t.Port(port.Ref(id))
			if p == nil || !p.MediaFormat.Valid {
				continue
			}
			cur := p.ThresholdRaisedBytes
			if p.PendingNewThresholdBytes != 0 {
				cur = p.PendingNewThresholdBytes
				p.ThresholdRaisedBytes = cur
				p.PendingNewThresholdBytes = 0
			}
			us := mediafmt.BytesToMicros(cur, p.MediaFormat)
			if us > ownUs {
				ownUs = us
			}
		}
		ownUsByMod[m.ID] = ownUs

		if ownUs == 0 || lcmUs == 0 {
			continue
		}
		if lcmUs%ownUs != 0 {
			loops := int((lcmUs + ownUs - 1) / ownUs)
			m.ApplyProcLoops(loops)
		} else {
			loops := int(lcmUs / ownUs)
			m.ApplyProcLoops(loops)
		}
	}

	// Endpoint-multiple rejection: an endpoint's self-declared threshold
	// must be an integer multiple of some other PCM module's own threshold.
	// The LCM comparison above can never catch this (the LCM is by
	// construction a multiple of every operand), so this walks modules
	// pairwise instead.
	for _, m := range mods {
		if !(m.Flags.NeedsSignalTrigger && m.SelfDeclaredThresholdBytes > 0) {
			continue
		}
		endpointUs := ownUsByMod[m.ID]
		if endpointUs == 0 {
			continue
		}
		hasOtherPCM, satisfied := false, false
		for _, other := range mods {
			if other.ID == m.ID {
				continue
			}
			otherUs := ownUsByMod[other.ID]
			if otherUs == 0 {
				continue
			}
			hasOtherPCM = true
			if mediafmt.IsMultipleOf(endpointUs, otherUs) {
				satisfied = true
				break
			}
		}
		if hasOtherPCM && !satisfied {
			return fmt.Errorf("%w: endpoint threshold %dus not a multiple of any other module's threshold", ErrTopologyInvalid, endpointUs)
		}
	}

	return nil
}

// endpointOwnUs derives the microsecond value of a signal-triggered
// endpoint's self-declared threshold from whichever of its ports carries a
// valid PCM media format.
func endpointOwnUs(t Topology, m *module.Module) uint64 {
	for _, id := range append(append([]uint32{}, m.InputPortIDs...), m.OutputPortIDs...) {
		p := t.Port(port.Ref(id))
		if p == nil || !p.MediaFormat.Valid || p.MediaFormat.Format != mediafmt.FormatPCM {
			continue
		}
		return mediafmt.BytesToMicros(m.SelfDeclaredThresholdBytes, p.MediaFormat)
	}
	return 0
}
