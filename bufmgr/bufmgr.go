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

// Package bufmgr sizes, allocates, and recycles the per-port channel
// buffers whenever the threshold engine raises or lowers a port's
// threshold.
package bufmgr

import "gc/port"

// Config tunes allocation headroom.
type Config struct {
	// ICBFrames is the total number of threshold-sized frames every
	// external port (input or output) is sized for, for inter-container
	// buffering; internal ports hold a single frame. Values <= 0 become 1.
	ICBFrames int

	// ExtraHeadroomBytes pads every allocation, absorbing a module's
	// bursty over-production without forcing an immediate resize.
	ExtraHeadroomBytes int
}

func (c *Config) normalize() {
	if c.ICBFrames <= 0 {
		c.ICBFrames = 1
	}
}

// Manager owns the resize/recycle policy for a container's ports.
type Manager struct {
	cfg Config
}

func New(cfg Config) *Manager {
	cfg.normalize()
	return &Manager{cfg: cfg}
}

// ResizeInternal applies a newly raised threshold to an internal
// (module-to-module) port: one threshold-sized frame per channel buffer.
func (m *Manager) ResizeInternal(p *port.DataPort) {
	m.resize(p, thresholdFrames*1)
}

// ResizeExternal applies a newly raised threshold to an external port,
// sized for ICBFrames worth of frames so the queue can stay ahead of the
// client without starving it between ticks.
func (m *Manager) ResizeExternal(p *port.DataPort) {
	m.resize(p, m.cfg.ICBFrames)
}

const thresholdFrames = 1

func (m *Manager) resize(p *port.DataPort, frames int) {
	if p.ThresholdRaisedBytes <= 0 {
		return
	}
	nBufs := p.NumChannelBufs()
	perBuf := p.ThresholdRaisedBytes
	if p.MediaFormat.Valid && p.MediaFormat.Interleaving != 0 /* not Interleaved */ && p.MediaFormat.NumChannels > 0 {
		// unpacked: ThresholdRaisedBytes is already per-channel.
	} else if nBufs > 1 {
		perBuf = p.ThresholdRaisedBytes / nBufs
	}
	perBuf = perBuf*frames + m.cfg.ExtraHeadroomBytes

	needsRealloc := p.ForceReturn || len(p.ChannelBufs) != nBufs || p.MaxBufLenPerBuf != perBuf
	if !needsRealloc {
		return
	}

	p.ChannelBufs = make([][]byte, nBufs)
	p.ActualDataLen = make([]int, nBufs)
	for i := range p.ChannelBufs {
		p.ChannelBufs[i] = make([]byte, perBuf)
	}
	p.MaxBufLenPerBuf = perBuf
	p.MaxBufLen = perBuf * nBufs
	p.ForceReturn = false
}

// Recycle discards every channel buffer on a port and marks it for
// reallocation on next use — called when a port's media format changes in
// a way that invalidates the existing channel-buffer count (e.g.
// interleaved to unpacked), rather than silently reusing mismatched
// memory.
func (m *Manager) Recycle(p *port.DataPort) {
	p.ChannelBufs = nil
	p.ActualDataLen = nil
	p.MaxBufLen = 0
	p.MaxBufLenPerBuf = 0
	p.ForceReturn = true
}

// DiscardIfMismatched drops and reallocates a port's buffers if the
// channel-buffer count implied by its current media format no longer
// matches what it's holding, logging nothing here — callers emit the
// warning since only they know the module/port identity worth naming.
func (m *Manager) DiscardIfMismatched(p *port.DataPort) bool {
	if len(p.ChannelBufs) != p.NumChannelBufs() {
		m.Recycle(p)
		return true
	}
	return false
}
