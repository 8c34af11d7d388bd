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

package port

// MsgKind discriminates the external-port queue message variants.
type MsgKind int

const (
	MsgDataBufferV1 MsgKind = iota
	MsgDataBufferV2
	MsgMediaFormat
	MsgEndOfFrame
	MsgUpstreamFrameLengthUpdate
	MsgStopAck
)

// dataMsgTokenMask/Shift mirror the source's GEN_CNTR_DATA_MSG_OUT_BUF_TOKEN_MASK:
// the upper nibble of a data message's token identifies v1 vs v2 framing.
const (
	dataMsgTokenMask  = 0xF0000000
	dataMsgTokenShift = 28
	dataMsgV2Bit      = 0x1
)

// TokenForDataMsg packs the v1/v2 discriminant into a message token's upper
// nibble.
func TokenForDataMsg(isV2 bool, low uint32) uint32 {
	low &^= dataMsgTokenMask
	if isV2 {
		return low | (dataMsgV2Bit << dataMsgTokenShift)
	}
	return low
}

// IsV2Token reports whether a packed token marks a v2 (per-channel
// descriptor table) data-buffer message.
func IsV2Token(token uint32) bool {
	return (token>>dataMsgTokenShift)&dataMsgV2Bit != 0
}

// ChannelDescriptor is one entry of a v2 data-buffer message's per-channel
// descriptor table.
type ChannelDescriptor struct {
	Data          []byte
	ActualDataLen int
}

// Message is one entry on an external port's bounded queue.
type Message struct {
	Kind MsgKind

	// Data-buffer payload (v1: single Payload; v2: Channels table).
	Payload       []byte
	Channels      []ChannelDescriptor
	MediaFormat   *MediaFormatPayload
	UpstreamFrameLenUS uint64
	EOF           bool
}

// MediaFormatPayload is the wire media-format message body, kept separate
// from mediafmt.MediaFormat so the wire shape and the in-memory descriptor
// can evolve independently.
type MediaFormatPayload struct {
	FormatID     uint32
	NumChannels  int
	SampleRate   uint32
	BitWidth     int
	Interleaving int
	ChannelMap   []int
}

// Queue is the bounded per-external-port message queue, capacity fixed at
// construction. It is a thin wrapper over a buffered channel, generalized
// from a single envelope type to the five external-port message kinds.
type Queue struct {
	ch   chan Message
	cap  int
}

// NewQueue returns a queue with the given bounded capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Message, capacity), cap: capacity}
}

// Cap returns the queue's fixed capacity.
func (q *Queue) Cap() int { return q.cap }

// Push enqueues a message, blocking if the queue is full.
func (q *Queue) Push(m Message) { q.ch <- m }

// TryPush enqueues without blocking; returns false if the queue is full.
func (q *Queue) TryPush(m Message) bool {
	select {
	case q.ch <- m:
		return true
	default:
		return false
	}
}

// TryPop dequeues without blocking; returns false if the queue is empty.
func (q *Queue) TryPop() (Message, bool) {
	select {
	case m := <-q.ch:
		return m, true
	default:
		return Message{}, false
	}
}

// Chan exposes the underlying channel for use in a select statement: the
// trigger selector multiplexes over every external port's queue alongside
// the command queue and the periodic signal.
func (q *Queue) Chan() <-chan Message { return q.ch }

// Len reports the number of currently queued messages (best-effort).
func (q *Queue) Len() int { return len(q.ch) }

// External wraps a DataPort with its queue and wait-mask bit.
type External struct {
	*DataPort
	Queue       *Queue
	WaitMaskBit uint32 // persistent slot in the container's 32-bit mask

	// PrebufferSent tracks whether the initial inter-container prebuffer
	// burst has already been sent for this output port.
	PrebufferSent bool

	// InputDiscontinuity is set on media-format boundaries and on drained
	// close.
	InputDiscontinuity bool

	// OverrunCount/UnderrunCount are the under-run/over-run counters shown
	// in the throttled diagnostics. They are cumulative: printing does not
	// reset them.
	OverrunCount  uint32
	UnderrunCount uint32

	// Optional marks a port the trigger selector never gates on (a metering
	// tap, a debug sniffer): its readiness never counts toward a data
	// trigger-policy module's continue-vs-wait decision.
	Optional bool
}

// NewExternal constructs an external port bound to a bitmask slot and a
// bounded queue.
func NewExternal(dp *DataPort, bit uint32, queueCap int) *External {
	return &External{DataPort: dp, Queue: NewQueue(queueCap), WaitMaskBit: bit}
}
