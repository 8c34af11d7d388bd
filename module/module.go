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

// Package module defines the polymorphic processing-node abstraction hosted
// by a container: its capability set, flags, shape, and trigger-policy
// classification.
package module

// Kind distinguishes the module variants the core dispatches over.
type Kind int

const (
	KindGenericSignalTriggered Kind = iota
	KindGenericDataDriven
	KindSource
	KindSink
	KindFrameworkBuiltin
)

// Shape is the (input-count, output-count) arity class of a module.
// Z = zero, S = single, M = multiple.
type Shape int

const (
	ShapeZIZO Shape = iota // no ports at all (rare, placeholder)
	ShapeSISO
	ShapeMISO
	ShapeSIMO
	ShapeMIMO
	ShapeSIZO // sink
	ShapeZISO // source
)

// CanSelfPropagateThreshold reports whether the threshold engine may walk
// through this shape automatically: SISO, MISO, and SIMO qualify. MIMO
// modules must declare their own thresholds.
func (s Shape) CanSelfPropagateThreshold() bool {
	switch s {
	case ShapeSISO, ShapeMISO, ShapeSIMO:
		return true
	default:
		return false
	}
}

// Flags is the per-module capability/requirement flag set.
type Flags struct {
	NeedsThresholdConfig      bool
	NeedsContainerFrameDur    bool
	NeedsProcessDuration      bool
	NeedsSignalTrigger        bool
	NeedsAsyncSignal          bool
	SupportsPeriod            bool
	SupportsSTMTimestamp      bool
	IsInplace                 bool // dynamic: cleared when NumProcLoops > 1
	RequiresDataBuffer        bool
	Disabled                  bool
}

// TriggerPolicyKind distinguishes the two triggering disciplines a module
// may declare a preference for.
type TriggerPolicyKind int

const (
	TriggerPolicyNone TriggerPolicyKind = iota
	TriggerPolicySignal
	TriggerPolicyData
)

// TriggerPolicy is implemented by modules that want a say in whether the
// container should continue processing or wait.
type TriggerPolicy interface {
	// Kind reports which triggering discipline this module polices.
	Kind() TriggerPolicyKind
	// SatisfiedForData reports whether the module considers itself ready
	// to process given the current data availability on its ports.
	SatisfiedForData() bool
	// SatisfiedForSignal reports the analogous readiness for a signal tick.
	SatisfiedForSignal() bool
}

// PseudoThresholdTag marks packetizer/depacketizer modules whose declared
// threshold is a pseudo threshold. The threshold engine does not read this
// tag: a tagged module's ports are handled like any other module's.
type PseudoThresholdTag int

const (
	NotPseudo PseudoThresholdTag = iota
	PseudoPacketizer
	PseudoDepacketizer
)

// Capability is the per-module operation set the core dispatches into.
// A real implementation backs this with CAPI-style function pointers; here
// it is a plain interface so the core can be driven by fakes in tests.
type Capability interface {
	Process(inputs, outputs [][]byte) (consumed, produced []int, err error)
	SetParam(id uint32, payload []byte) error
	GetParam(id uint32) ([]byte, error)
	SetProperties(props map[string]any) error
}

// Module is a node in the container's directed graph.
type Module struct {
	ID    uint32
	Name  string
	Kind  Kind
	Shape Shape
	Flags Flags
	Pseudo PseudoThresholdTag

	// NumProcLoops is always >= 1. The engine sets it to ceil(lcm/own),
	// the container's converged frame threshold over this module's own
	// threshold, and any value above 1 forces Flags.IsInplace = false.
	NumProcLoops int

	Cap    Capability
	Policy TriggerPolicy // nil if the module has no opinion

	InputPortIDs  []uint32
	OutputPortIDs []uint32

	// SelfDeclaredThresholdBytes is >0 when the module itself raises a
	// threshold on one of its ports (MIMO modules must set this).
	SelfDeclaredThresholdBytes int
}

// NewModule constructs a Module with NumProcLoops defaulted to 1.
func NewModule(id uint32, name string, kind Kind, shape Shape) *Module {
	return &Module{
		ID:           id,
		Name:         name,
		Kind:         kind,
		Shape:        shape,
		NumProcLoops: 1,
	}
}

// ApplyProcLoops sets NumProcLoops and enforces the inplace invariant: if
// loops > 1, inplace is forced false and never restored, even if a later
// pass brings loops back down to 1 — see DESIGN.md.
func (m *Module) ApplyProcLoops(loops int) {
	if loops < 1 {
		loops = 1
	}
	m.NumProcLoops = loops
	if loops > 1 {
		m.Flags.IsInplace = false
	}
}

// IsMultiInOut reports whether a module has more than one input or more
// than one output port, used by the threshold engine to refuse automatic
// propagation through MIMO-shaped modules.
func (m *Module) IsMultiInOut() bool {
	return len(m.InputPortIDs) > 1 || len(m.OutputPortIDs) > 1
}
