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

package threshold

import (
	"errors"
	"testing"

	"gc/mediafmt"
	"gc/module"
	"gc/port"
)

// fakeTopo is a minimal single-module SISO graph: one input port, one
// output port, owned by the same module, with no upstream/downstream
// neighbors. It is enough to exercise selectInitialLCM's default-frame path
// and finalize's num_proc_loops bookkeeping without a full container.
type fakeTopo struct {
	mods  []*module.Module
	ports map[port.Ref]*port.DataPort
}

func newFakeTopo() *fakeTopo {
	mf := mediafmt.MediaFormat{
		Format: mediafmt.FormatPCM, Valid: true, NumChannels: 2,
		SampleRate: 48000, BitWidth: 16, Interleaving: mediafmt.Interleaved,
	}
	m := module.NewModule(1, "siso", module.KindGenericSignalTriggered, module.ShapeSISO)
	m.Flags.NeedsSignalTrigger = true
	m.InputPortIDs = []uint32{10}
	m.OutputPortIDs = []uint32{11}

	in := port.NewDataPort(10, port.Input, 1)
	in.MediaFormat = mf
	out := port.NewDataPort(11, port.Output, 1)
	out.MediaFormat = mf

	return &fakeTopo{
		mods:  []*module.Module{m},
		ports: map[port.Ref]*port.DataPort{10: in, 11: out},
	}
}

func (f *fakeTopo) SortedModules() []*module.Module { return f.mods }
func (f *fakeTopo) ModuleByID(id uint32) *module.Module {
	for _, m := range f.mods {
		if m.ID == id {
			return m
		}
	}
	return nil
}
func (f *fakeTopo) Port(ref port.Ref) *port.DataPort        { return f.ports[ref] }
func (f *fakeTopo) UpstreamOutput(port.Ref) (port.Ref, bool) { return 0, false }
func (f *fakeTopo) DownstreamInputs(port.Ref) []port.Ref     { return nil }

func TestCheckAndPropagate_DefaultFrameLenFromConfig(t *testing.T) {
	topo := newFakeTopo()
	e := New(Config{ConfiguredFrameLenUS: 5000, PerfMode: PerfLowLatency})

	result, err := e.CheckAndPropagate(topo)
	if err != nil {
		t.Fatalf("CheckAndPropagate() error = %v", err)
	}
	if result.LCMUs != 5000 {
		t.Errorf("LCMUs = %d, want 5000", result.LCMUs)
	}
	if result.Clamped {
		t.Errorf("Clamped = true, want false for a 5ms frame")
	}
	if len(result.PendingPorts) != 0 {
		t.Errorf("PendingPorts = %v, want none", result.PendingPorts)
	}

	in := topo.Port(10)
	if in.ThresholdRaisedBytes == 0 {
		t.Errorf("input port threshold was never raised")
	}
	out := topo.Port(11)
	if out.ThresholdRaisedBytes != in.ThresholdRaisedBytes {
		t.Errorf("output threshold = %d, want match with input %d", out.ThresholdRaisedBytes, in.ThresholdRaisedBytes)
	}
}

func TestCheckAndPropagate_NoValidPortsReturnsEmptyResult(t *testing.T) {
	m := module.NewModule(1, "siso", module.KindGenericSignalTriggered, module.ShapeSISO)
	m.InputPortIDs = []uint32{10}
	m.OutputPortIDs = []uint32{11}
	in := port.NewDataPort(10, port.Input, 1)
	out := port.NewDataPort(11, port.Output, 1)
	topo := &fakeTopo{mods: []*module.Module{m}, ports: map[port.Ref]*port.DataPort{10: in, 11: out}}

	result, err := topoEngine().CheckAndPropagate(topo)
	if err != nil {
		t.Fatalf("CheckAndPropagate() error = %v", err)
	}
	if result.LCMUs != 0 {
		t.Errorf("LCMUs = %d, want 0 when no port has a valid media format", result.LCMUs)
	}
}

func topoEngine() *Engine { return New(Config{PerfMode: PerfLowLatency}) }

// twoModuleTopo builds an endpoint module (signal-triggered, self-declared
// threshold) alongside an unrelated inner PCM module so the endpoint-
// multiple rule in finalize has a second module to compare against.
func twoModuleTopo(endpointUs, innerUs uint64) *fakeTopo {
	mf := mediafmt.MediaFormat{
		Format: mediafmt.FormatPCM, Valid: true, NumChannels: 2,
		SampleRate: 48000, BitWidth: 16, Interleaving: mediafmt.Interleaved,
	}

	endpoint := module.NewModule(1, "endpoint", module.KindGenericSignalTriggered, module.ShapeSISO)
	endpoint.Flags.NeedsSignalTrigger = true
	endpoint.InputPortIDs = []uint32{10}
	endpoint.OutputPortIDs = []uint32{11}
	endpoint.SelfDeclaredThresholdBytes = mediafmt.MicrosToBytes(endpointUs, mf)
	epIn := port.NewDataPort(10, port.Input, 1)
	epIn.MediaFormat = mf
	epOut := port.NewDataPort(11, port.Output, 1)
	epOut.MediaFormat = mf

	inner := module.NewModule(2, "inner", module.KindGenericDataDriven, module.ShapeSISO)
	inner.InputPortIDs = []uint32{20}
	inner.OutputPortIDs = []uint32{21}
	innerIn := port.NewDataPort(20, port.Input, 2)
	innerIn.MediaFormat = mf
	innerIn.ThresholdRaisedBytes = mediafmt.MicrosToBytes(innerUs, mf)
	innerOut := port.NewDataPort(21, port.Output, 2)
	innerOut.MediaFormat = mf

	return &fakeTopo{
		mods: []*module.Module{endpoint, inner},
		ports: map[port.Ref]*port.DataPort{
			10: epIn, 11: epOut, 20: innerIn, 21: innerOut,
		},
	}
}

func TestCheckAndPropagate_RejectsEndpointNotMultipleOfOtherModule(t *testing.T) {
	// Scenario: a 1ms signal-triggered endpoint alongside a 2ms inner
	// module. 1000us % 2000us != 0, so the topology must be rejected.
	topo := twoModuleTopo(1000, 2000)

	_, err := topoEngine().CheckAndPropagate(topo)
	if err == nil {
		t.Fatalf("CheckAndPropagate() error = nil, want ErrTopologyInvalid for a non-multiple endpoint threshold")
	}
	if !errors.Is(err, ErrTopologyInvalid) {
		t.Errorf("CheckAndPropagate() error = %v, want it to wrap ErrTopologyInvalid", err)
	}
}

func TestCheckAndPropagate_AcceptsEndpointThatIsMultipleOfOtherModule(t *testing.T) {
	// Scenario: a 4ms signal-triggered endpoint alongside a 2ms inner
	// module. 4000us % 2000us == 0, so the topology converges cleanly.
	topo := twoModuleTopo(4000, 2000)

	if _, err := topoEngine().CheckAndPropagate(topo); err != nil {
		t.Fatalf("CheckAndPropagate() error = %v, want nil for a valid multiple endpoint threshold", err)
	}
}

func TestCheckAndPropagate_ClampsExcessiveLCM(t *testing.T) {
	topo := newFakeTopo()
	topo.Port(10).ThresholdRaisedBytes = mediafmt.MicrosToBytes(300_000, topo.Port(10).MediaFormat)
	topo.Port(10).PortHasThreshold = true

	e := New(Config{PerfMode: PerfLowLatency})
	result, err := e.CheckAndPropagate(topo)
	if err != nil {
		t.Fatalf("CheckAndPropagate() error = %v", err)
	}
	if !result.Clamped {
		t.Errorf("Clamped = false, want true for a 300ms raised threshold against the 200ms default clamp")
	}
	if result.LCMUs != defaultLCMClampUS {
		t.Errorf("LCMUs = %d, want clamp value %d", result.LCMUs, defaultLCMClampUS)
	}
}
