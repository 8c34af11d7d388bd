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
	"fmt"
	"time"

	"gc/mediafmt"
	"gc/port"
)

// errPrintInterval throttles under-run/over-run diagnostics so a steadily
// starved port doesn't flood the log once per tick.
const errPrintInterval = 10 * time.Millisecond

// iec60958NullBurst and iec61937NullBurst are the null (silence) burst
// preamble words fillSilence writes when an external input port carrying
// a compressed IEC format under-runs, so a downstream HDMI/SPDIF receiver
// sees a well-formed (if empty) burst instead of a gap.
var (
	iec60958NullBurst = [4]uint16{0xF872, 0x4E1F, 0x0000, 0x0000}
	iec61937NullBurst = [4]uint16{0xF872, 0x4E1F, 0xE000, 0x0000}
)

type underrunTracker struct {
	lastPrint time.Time
}

func (c *Container) trackerFor(ref port.Ref) *underrunTracker {
	if c.underrunTrackers == nil {
		c.underrunTrackers = map[port.Ref]*underrunTracker{}
	}
	t, ok := c.underrunTrackers[ref]
	if !ok {
		t = &underrunTracker{}
		c.underrunTrackers[ref] = t
	}
	return t
}

// runDataPass runs one process pass and handles under/over-run on every
// external port: an input port that isn't full by the required byte count
// after the pass has under-run — it gets zero-filled (or a compressed
// null-burst header for IEC60958/61937 formats) and marked with the
// erasure flag; an output port that is still full after the pass means the
// downstream side never handed back an empty buffer, so it has over-run —
// the oldest unconsumed threshold frame is dropped to keep pace with real
// time.
func (c *Container) runDataPass() {
	start := time.Now()
	if err := c.driver.RunPass(c); err != nil {
		fmt.Println("container: data pass error:", err)
		return
	}
	elapsed := time.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()

	anyProduced := false
	var bytesProduced int
	for _, ext := range c.externals {
		if ext.Direction != port.Output {
			continue
		}
		if n := ext.TotalActualDataLen(); n > 0 {
			anyProduced = true
			bytesProduced += n
		}
		if ext.IsFull() {
			c.handleOverrunLocked(ext)
		}
	}
	for _, ext := range c.externals {
		if ext.Direction != port.Input {
			continue
		}
		if !ext.IsFull() {
			c.handleUnderrunLocked(ext)
		}
	}
	c.probingForActivity = !anyProduced
	c.reportTelemetryLocked(elapsed, bytesProduced)
}

// reportTelemetryLocked pushes one pass's worth of throughput/latency data
// into the attached vote sink, if any. Callers hold c.mu.
func (c *Container) reportTelemetryLocked(elapsed time.Duration, bytesProduced int) {
	if c.votes == nil {
		return
	}
	c.votes.ReportLatency(float64(elapsed.Microseconds()))
	frameUS := c.cfg.Threshold.ConfiguredFrameLenUS
	if frameUS == 0 {
		return
	}
	frameSec := float64(frameUS) / 1e6
	c.votes.ReportKPPS(1.0 / frameSec / 1000.0)
	c.votes.ReportBandwidth(float64(bytesProduced) / frameSec)
}

func (c *Container) handleUnderrunLocked(ext *port.External) {
	ext.UnderrunCount++
	t := c.trackerFor(ext.ID)
	if time.Since(t.lastPrint) >= errPrintInterval {
		fmt.Printf("container: under-run on port %d (count=%d)\n", ext.ID, ext.UnderrunCount)
		t.lastPrint = time.Now()
	}
	fillSilence(ext.DataPort)
}

func (c *Container) handleOverrunLocked(ext *port.External) {
	ext.OverrunCount++
	t := c.trackerFor(ext.ID)
	if time.Since(t.lastPrint) >= errPrintInterval {
		fmt.Printf("container: over-run on port %d (count=%d)\n", ext.ID, ext.OverrunCount)
		t.lastPrint = time.Now()
	}
	// Drop the oldest threshold-sized frame to make room, discarding its
	// leading metadata along with it.
	ext.ConsumePrefix(ext.ThresholdRaisedBytes)
}

// fillSilence pads every channel buffer's unfilled tail with PCM zero
// silence, or the IEC60958/61937 null-burst preamble for compressed
// formats, so the external port's threshold is always satisfied.
func fillSilence(p *port.DataPort) {
	switch p.MediaFormat.Format {
	case mediafmt.FormatIEC60958:
		writeNullBurst(p, iec60958NullBurst)
	case mediafmt.FormatIEC61937:
		writeNullBurst(p, iec61937NullBurst)
	default:
		for i := range p.ChannelBufs {
			for j := p.ActualDataLen[i]; j < len(p.ChannelBufs[i]); j++ {
				p.ChannelBufs[i][j] = 0
			}
			p.ActualDataLen[i] = len(p.ChannelBufs[i])
		}
		p.Erasure = true
	}
}

func writeNullBurst(p *port.DataPort, burst [4]uint16) {
	for i := range p.ChannelBufs {
		buf := p.ChannelBufs[i]
		start := p.ActualDataLen[i]
		for j := start; j < len(buf); j++ {
			buf[j] = 0
		}
		for w, word := range burst {
			off := start + w*2
			if off+1 >= len(buf) {
				break
			}
			buf[off] = byte(word & 0xFF)
			buf[off+1] = byte(word >> 8)
		}
		p.ActualDataLen[i] = len(buf)
	}
	p.Erasure = true
}
