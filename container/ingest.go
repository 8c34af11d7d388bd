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

package container

import (
	"gc/mediafmt"
	"gc/metadata"
	"gc/port"
)

// ingestExternalMessage applies one dequeued external-port message to the
// port's buffers and metadata list.
func (c *Container) ingestExternalMessage(ext *port.External, msg port.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Kind {
	case port.MsgDataBufferV1:
		ingestV1(ext.DataPort, msg.Payload)
	case port.MsgDataBufferV2:
		ingestV2(ext.DataPort, msg.Channels)
	case port.MsgMediaFormat:
		c.applyMediaFormat(ext, msg.MediaFormat)
	case port.MsgEndOfFrame:
		offset := uint64(ext.TotalActualDataLen())
		ext.Metadata.Insert(metadata.Item{Kind: metadata.KindEOF, Offset: offset})
	case port.MsgUpstreamFrameLengthUpdate:
		ext.PendingNewThresholdBytes = mediafmt.MicrosToBytes(msg.UpstreamFrameLenUS, ext.MediaFormat)
	case port.MsgStopAck:
		ext.State = port.StateStopped
	}
}

func ingestV1(p *port.DataPort, payload []byte) {
	if len(p.ChannelBufs) == 0 {
		return
	}
	n := copy(p.ChannelBufs[0][p.ActualDataLen[0]:], payload)
	p.ActualDataLen[0] += n
	if n > 0 {
		p.DataFlowState = port.Flowing
		p.Erasure = false
	}
}

func ingestV2(p *port.DataPort, channels []port.ChannelDescriptor) {
	for i, ch := range channels {
		if i >= len(p.ChannelBufs) {
			break
		}
		n := copy(p.ChannelBufs[i][p.ActualDataLen[i]:], ch.Data[:ch.ActualDataLen])
		p.ActualDataLen[i] += n
	}
	if len(channels) > 0 {
		p.DataFlowState = port.Flowing
		p.Erasure = false
	}
}

// applyMediaFormat updates a port's media format from a wire message,
// marks a media-format metadata item at the current write offset, and
// flags the port for buffer recycling if the channel layout changed
// shape. Callers hold c.mu.
func (c *Container) applyMediaFormat(ext *port.External, wire *port.MediaFormatPayload) {
	if wire == nil {
		return
	}
	mf := mediafmt.MediaFormat{
		Format:       mediafmt.DataFormat(wire.FormatID),
		NumChannels:  wire.NumChannels,
		SampleRate:   wire.SampleRate,
		BitWidth:     wire.BitWidth,
		Interleaving: mediafmt.Interleaving(wire.Interleaving),
		ChannelMap:   wire.ChannelMap,
		Valid:        true,
	}
	oldChannels := ext.NumChannelBufs()
	ext.MediaFormat = mf
	ext.InputDiscontinuity = true
	offset := uint64(ext.TotalActualDataLen())
	ext.Metadata.Insert(metadata.Item{Kind: metadata.KindMediaFormat, Offset: offset})
	if ext.NumChannelBufs() != oldChannels {
		c.bufMgr.Recycle(ext.DataPort)
	}
	c.reconciler.onMediaFormatChanged()
}
