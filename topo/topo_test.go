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

package topo

import (
	"errors"
	"testing"

	"gc/metadata"
	"gc/module"
	"gc/port"
)

type fakeGraph struct {
	mods  []*module.Module
	ports map[port.Ref]*port.DataPort
}

func (g *fakeGraph) SortedModules() []*module.Module  { return g.mods }
func (g *fakeGraph) Port(ref port.Ref) *port.DataPort { return g.ports[ref] }

type copyCap struct{}

func (copyCap) Process(inputs, outputs [][]byte) (consumed, produced []int, err error) {
	n := copy(outputs[0], inputs[0])
	return []int{n}, []int{n}, nil
}
func (copyCap) SetParam(uint32, []byte) error      { return nil }
func (copyCap) GetParam(uint32) ([]byte, error)    { return nil, nil }
func (copyCap) SetProperties(map[string]any) error { return nil }

func newPassthroughGraph() (*fakeGraph, *port.DataPort, *port.DataPort) {
	m := module.NewModule(1, "copy", module.KindGenericSignalTriggered, module.ShapeSISO)
	m.Flags.NeedsSignalTrigger = true
	m.InputPortIDs = []uint32{10}
	m.OutputPortIDs = []uint32{11}
	m.Cap = copyCap{}

	in := port.NewDataPort(10, port.Input, 1)
	in.ChannelBufs = [][]byte{{1, 2, 3, 4}}
	in.ActualDataLen = []int{4}

	out := port.NewDataPort(11, port.Output, 1)
	out.ChannelBufs = [][]byte{make([]byte, 8)}
	out.ActualDataLen = []int{0}

	g := &fakeGraph{mods: []*module.Module{m}, ports: map[port.Ref]*port.DataPort{10: in, 11: out}}
	return g, in, out
}

func TestDriver_RunPass_FastPathCopiesBytes(t *testing.T) {
	g, in, out := newPassthroughGraph()
	d := New()

	if err := d.RunPass(g); err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}

	if in.ActualDataLen[0] != 0 {
		t.Errorf("input ActualDataLen = %d, want 0 after full consume", in.ActualDataLen[0])
	}
	if out.ActualDataLen[0] != 4 {
		t.Fatalf("output ActualDataLen = %d, want 4", out.ActualDataLen[0])
	}
	if got := out.ChannelBufs[0][:4]; got[0] != 1 || got[3] != 4 {
		t.Errorf("output bytes = %v, want [1 2 3 4]", got)
	}
	if out.DataFlowState != port.Flowing {
		t.Errorf("output DataFlowState = %v, want Flowing", out.DataFlowState)
	}
}

func TestDriver_RunPass_ForwardsMetadataWithinProducedRange(t *testing.T) {
	g, in, _ := newPassthroughGraph()
	in.Metadata.Insert(metadata.Item{Kind: metadata.KindEOF, Offset: 2})
	d := New()

	if err := d.RunPass(g); err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}

	out := g.Port(11)
	if out.Metadata.Empty() {
		t.Fatalf("expected the EOF item to have been forwarded to the output port")
	}
	if !in.Metadata.Empty() {
		t.Errorf("input metadata should be drained once its offset falls within the produced range")
	}
}

type erroringCap struct{}

func (erroringCap) Process(inputs, outputs [][]byte) (consumed, produced []int, err error) {
	return nil, nil, errors.New("boom")
}
func (erroringCap) SetParam(uint32, []byte) error      { return nil }
func (erroringCap) GetParam(uint32) ([]byte, error)    { return nil, nil }
func (erroringCap) SetProperties(map[string]any) error { return nil }

func TestDriver_RunPass_PropagatesModuleError(t *testing.T) {
	g, _, _ := newPassthroughGraph()
	g.mods[0].Cap = erroringCap{}
	d := New()

	if err := d.RunPass(g); err == nil {
		t.Fatalf("RunPass() error = nil, want the module's error wrapped")
	}
}

func TestDriver_RunPass_SkipsDisabledModules(t *testing.T) {
	g, in, out := newPassthroughGraph()
	g.mods[0].Flags.Disabled = true
	d := New()

	if err := d.RunPass(g); err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if in.ActualDataLen[0] != 4 {
		t.Errorf("disabled module should not consume input, ActualDataLen = %d, want 4", in.ActualDataLen[0])
	}
	if out.ActualDataLen[0] != 0 {
		t.Errorf("disabled module should not produce output, ActualDataLen = %d, want 0", out.ActualDataLen[0])
	}
}

func TestDriver_Invalidate_ForcesReclassification(t *testing.T) {
	g, _, _ := newPassthroughGraph()
	d := New()
	_ = d.RunPass(g)
	if !d.checked {
		t.Fatalf("driver should have classified the graph after one pass")
	}
	d.Invalidate()
	if d.checked {
		t.Errorf("Invalidate() should clear the cached classification")
	}
}
