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
	"gc/metadata"
	"gc/port"
)

// synthesizeStopMetadataLocked injects a flushing EOS followed by a DFG at
// the tail of every external output port on stop, so a downstream
// container (or client) observes a clean end of stream rather than data
// simply ceasing. Callers hold c.mu.
func (c *Container) synthesizeStopMetadataLocked() {
	for _, ext := range c.externals {
		if ext.Direction != port.Output {
			continue
		}
		offset := uint64(ext.TotalActualDataLen())
		ext.Metadata.Insert(metadata.Item{Kind: metadata.KindFlushingEOS, Offset: offset})
		ext.Metadata.Insert(metadata.Item{Kind: metadata.KindDFG, Offset: offset})
	}
}

// synthesizeFlushMetadataLocked injects a non-flushing EOS at every
// external output port on flush: downstream consumers see the stream
// boundary without interpreting it as a permanent close.
func (c *Container) synthesizeFlushMetadataLocked() {
	for _, ext := range c.externals {
		if ext.Direction != port.Output {
			continue
		}
		offset := uint64(ext.TotalActualDataLen())
		ext.Metadata.Insert(metadata.Item{Kind: metadata.KindNonFlushingEOS, Offset: offset})
	}
}
