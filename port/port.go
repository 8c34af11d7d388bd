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

// Package port implements the data-port abstraction: owned per-channel
// buffers, threshold/state bookkeeping, and the external-port queue
// wiring that ties a port to its bounded message channel.
package port

import (
	"gc/mediafmt"
	"gc/metadata"
)

// State is a data port's lifecycle state.
type State int

const (
	StateInvalid State = iota
	StatePrepared
	StateStarted
	StateSuspended
	StateStopped
	// StateClosing is observable-only: set inside the graph critical
	// section during the first phase of a two-phase teardown, never acted
	// upon by the data path until the second phase frees the port outside
	// the critical section.
	StateClosing
)

// DataFlowState distinguishes a port carrying live samples from one that
// is momentarily idle.
type DataFlowState int

const (
	AtGap DataFlowState = iota
	Flowing
)

// Direction distinguishes input from output ports.
type Direction int

const (
	Input Direction = iota
	Output
)

// Ref is a non-owning index into the container's port arena: every
// cross-reference between modules, ports, and containers is an index, not
// a pointer, so ownership stays acyclic and teardown order doesn't matter.
type Ref uint32

// NoRef is the zero value meaning "no such port".
const NoRef Ref = 0

// DataPort is one input or output data port owned by a module.
type DataPort struct {
	ID        Ref
	Direction Direction
	OwnerMod  uint32 // owning module id (non-owning back-reference)

	// ChannelBufs holds one []byte per channel buffer: length 1 when
	// MediaFormat.Interleaving == Interleaved, N when unpacked.
	ChannelBufs   [][]byte
	MaxBufLen     int // derived from threshold, total across interleaved buf
	MaxBufLenPerBuf int
	ActualDataLen []int // valid bytes per channel buffer, len == len(ChannelBufs)

	MediaFormat mediafmt.MediaFormat

	PortHasThreshold   bool
	ThresholdRaisedBytes int
	PendingNewThresholdBytes int // port_event_new_threshold; 0 == none pending

	DataFlowState DataFlowState
	State         State

	Metadata *metadata.List

	// NBLCNext/NBLCPrev are the non-buffering-linear-chain neighbor
	// endpoints: the other end of the chain of modules sharing one
	// underlying buffer via inplace processing.
	NBLCNext Ref
	NBLCPrev Ref

	// Visited is the threshold propagator's revisit-avoidance marker,
	// cleared at the start of every propagation pass.
	Visited bool

	// ForceReturn marks every channel buffer for discard-and-reallocate,
	// set when MaxBufLen or channel count changes.
	ForceReturn bool

	// Erasure marks the data currently sitting in ChannelBufs as
	// synthesized filler (silence or a compressed null-burst) rather than
	// real samples, set on an under-run fill and cleared the next time real
	// data is ingested.
	Erasure bool
}

// NewDataPort returns an unconfigured, invalid-state port.
func NewDataPort(id Ref, dir Direction, owner uint32) *DataPort {
	return &DataPort{
		ID:        id,
		Direction: dir,
		OwnerMod:  owner,
		State:     StateInvalid,
		Metadata:  metadata.NewList(),
	}
}

// NumChannelBufs returns how many independent channel buffers this port
// should own for its current media format.
func (p *DataPort) NumChannelBufs() int {
	if !p.MediaFormat.Valid {
		return 1
	}
	if p.MediaFormat.Interleaving == mediafmt.Interleaved {
		return 1
	}
	if p.MediaFormat.NumChannels <= 0 {
		return 1
	}
	return p.MediaFormat.NumChannels
}

// TotalActualDataLen sums ActualDataLen across all channel buffers.
func (p *DataPort) TotalActualDataLen() int {
	total := 0
	for _, n := range p.ActualDataLen {
		total += n
	}
	return total
}

// IsEmpty reports whether the port currently holds no valid data.
func (p *DataPort) IsEmpty() bool {
	return p.TotalActualDataLen() == 0
}

// IsFull reports whether every channel buffer has reached MaxBufLenPerBuf.
func (p *DataPort) IsFull() bool {
	if len(p.ChannelBufs) == 0 {
		return false
	}
	for i, n := range p.ActualDataLen {
		lim := p.MaxBufLenPerBuf
		if i >= len(p.ChannelBufs) || n < lim {
			return false
		}
	}
	return true
}

// ResetToStopped clears data and metadata: a stopped port always has
// zero actual data length on every channel buffer and an empty metadata
// list.
func (p *DataPort) ResetToStopped() {
	for i := range p.ActualDataLen {
		p.ActualDataLen[i] = 0
	}
	p.Metadata.Clear()
	p.State = StateStopped
	p.DataFlowState = AtGap
	p.Erasure = false
}

// ConsumePrefix drops `n` bytes from the front of every channel buffer
// (equal n per channel, per the equal-actual-data-len invariant for
// unpacked PCM) and shifts metadata offsets accordingly.
func (p *DataPort) ConsumePrefix(n int) {
	if n <= 0 {
		return
	}
	for i := range p.ChannelBufs {
		avail := p.ActualDataLen[i]
		if n > avail {
			n = avail
		}
		copy(p.ChannelBufs[i], p.ChannelBufs[i][n:avail])
		p.ActualDataLen[i] = avail - n
	}
	p.Metadata.ShiftOffsets(uint64(n))
}
