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

	"gc/metadata"
	"gc/port"
)

func newOutputExternal(t *testing.T, c *Container, ref port.Ref) *port.External {
	t.Helper()
	p := port.NewDataPort(ref, port.Output, 1)
	ext := port.NewExternal(p, 0, 4)
	if err := c.AddExternal(ext); err != nil {
		t.Fatalf("AddExternal error = %v", err)
	}
	return ext
}

func TestSynthesizeStopMetadataLocked_InsertsEOSThenDFG(t *testing.T) {
	c := New(Config{})
	ext := newOutputExternal(t, c, 1)

	c.synthesizeStopMetadataLocked()

	first, ok := ext.Metadata.PopFront()
	if !ok || first.Kind != metadata.KindFlushingEOS {
		t.Fatalf("first item = %v, ok=%v, want KindFlushingEOS", first, ok)
	}
	second, ok := ext.Metadata.PopFront()
	if !ok || second.Kind != metadata.KindDFG {
		t.Fatalf("second item = %v, ok=%v, want KindDFG", second, ok)
	}
}

func TestSynthesizeStopMetadataLocked_SkipsInputPorts(t *testing.T) {
	c := New(Config{})
	p := port.NewDataPort(1, port.Input, 1)
	ext := port.NewExternal(p, 0, 4)
	if err := c.AddExternal(ext); err != nil {
		t.Fatalf("AddExternal error = %v", err)
	}

	c.synthesizeStopMetadataLocked()

	if !ext.Metadata.Empty() {
		t.Errorf("an input port should not receive synthesized stop metadata")
	}
}

func TestSynthesizeFlushMetadataLocked_InsertsNonFlushingEOS(t *testing.T) {
	c := New(Config{})
	ext := newOutputExternal(t, c, 1)

	c.synthesizeFlushMetadataLocked()

	it, ok := ext.Metadata.PopFront()
	if !ok || it.Kind != metadata.KindNonFlushingEOS {
		t.Fatalf("item = %v, ok=%v, want KindNonFlushingEOS", it, ok)
	}
}
