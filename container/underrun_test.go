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
	"testing"

	"gc/mediafmt"
	"gc/port"
)

func TestHandleUnderrunLocked_FillsSilenceAndCounts(t *testing.T) {
	c := New(Config{})
	p := port.NewDataPort(1, port.Input, 1)
	p.ChannelBufs = [][]byte{{9, 9, 9, 9}}
	p.ActualDataLen = []int{1}
	ext := port.NewExternal(p, 0, 4)

	c.handleUnderrunLocked(ext)

	if ext.UnderrunCount != 1 {
		t.Errorf("UnderrunCount = %d, want 1", ext.UnderrunCount)
	}
	if ext.ActualDataLen[0] != len(ext.ChannelBufs[0]) {
		t.Errorf("ActualDataLen = %d, want fully padded to %d", ext.ActualDataLen[0], len(ext.ChannelBufs[0]))
	}
	for _, b := range ext.ChannelBufs[0][1:] {
		if b != 0 {
			t.Errorf("padded tail contains non-zero byte %d, want silence", b)
		}
	}
	if !ext.Erasure {
		t.Errorf("Erasure = false, want true after an under-run zero-fill")
	}
}

func TestRunDataPass_UnderrunsInputNotOverrunsOutput(t *testing.T) {
	c := New(Config{})
	in := port.NewDataPort(1, port.Input, 1)
	in.ChannelBufs = [][]byte{make([]byte, 240)}
	in.ActualDataLen = []int{0}
	in.MaxBufLenPerBuf = 240
	inExt := port.NewExternal(in, 0, 4)
	c.externals[inExt.ID] = inExt

	c.runDataPass()

	if inExt.UnderrunCount != 1 {
		t.Errorf("UnderrunCount = %d, want 1 for a not-full input port", inExt.UnderrunCount)
	}
	if !inExt.Erasure {
		t.Errorf("Erasure = false, want true: scenario 4's 240-byte input under-run must mark erasure")
	}
	if inExt.ActualDataLen[0] != 240 {
		t.Errorf("ActualDataLen = %d, want fully zero-filled to 240", inExt.ActualDataLen[0])
	}
}

func TestHandleOverrunLocked_DropsOldestThresholdFrame(t *testing.T) {
	c := New(Config{})
	p := port.NewDataPort(1, port.Output, 1)
	p.ChannelBufs = [][]byte{{1, 2, 3, 4}}
	p.ActualDataLen = []int{4}
	p.ThresholdRaisedBytes = 2
	ext := port.NewExternal(p, 0, 4)

	c.handleOverrunLocked(ext)

	if ext.OverrunCount != 1 {
		t.Errorf("OverrunCount = %d, want 1", ext.OverrunCount)
	}
	if ext.ActualDataLen[0] != 2 {
		t.Errorf("ActualDataLen = %d, want 2 after dropping a 2-byte threshold frame", ext.ActualDataLen[0])
	}
}

func TestFillSilence_CompressedFormatWritesNullBurst(t *testing.T) {
	p := port.NewDataPort(1, port.Output, 1)
	p.MediaFormat = mediafmt.MediaFormat{Valid: true, Format: mediafmt.FormatIEC60958}
	p.ChannelBufs = [][]byte{make([]byte, 8)}
	p.ActualDataLen = []int{0}

	fillSilence(p)

	if p.ActualDataLen[0] != 8 {
		t.Errorf("ActualDataLen = %d, want fully filled to 8", p.ActualDataLen[0])
	}
	if p.ChannelBufs[0][0] != byte(iec60958NullBurst[0]&0xFF) {
		t.Errorf("first burst byte = %x, want %x", p.ChannelBufs[0][0], byte(iec60958NullBurst[0]&0xFF))
	}
}
