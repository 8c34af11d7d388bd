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

// Package metadata implements the per-port ordered metadata queue: EOS,
// DFG, EOF, media-format, timestamp-discontinuity and client-defined
// markers, kept in nondecreasing byte-offset order relative to the port's
// sample stream.
package metadata

import "container/list"

// Kind identifies the tagged-union variant of a metadata item.
type Kind int

const (
	KindFlushingEOS Kind = iota
	KindNonFlushingEOS
	KindDFG
	KindEOF
	KindMediaFormat
	KindTimestampDiscontinuity
	KindClientDefined
)

// Item is one metadata marker, carrying its byte offset into the port's
// stream and an optional opaque tracking payload.
type Item struct {
	Kind     Kind
	Offset   uint64 // byte offset into the stream this item precedes
	Tracking any    // opaque client tracking payload, or nil
}

// IsEOS reports whether this item is either flushing or non-flushing EOS.
func (it Item) IsEOS() bool {
	return it.Kind == KindFlushingEOS || it.Kind == KindNonFlushingEOS
}

// List is an ordered (by Offset, nondecreasing) queue of metadata items for
// one data port. It is not safe for concurrent use — callers hold the
// port's owning module/container context under the single-threaded
// cooperative processing loop.
type List struct {
	items *list.List // of Item
}

// NewList returns an empty metadata list.
func NewList() *List {
	return &List{items: list.New()}
}

// Insert adds an item, keeping the list ordered by nondecreasing Offset.
// Items with equal offsets preserve arrival order (stable insert after the
// last equal-offset entry) so that, e.g., an EOF and a trailing EOS at the
// same boundary surface in the order they were produced.
func (l *List) Insert(it Item) {
	for e := l.items.Back(); e != nil; e = e.Prev() {
		if e.Value.(Item).Offset <= it.Offset {
			l.items.InsertAfter(it, e)
			return
		}
	}
	l.items.PushFront(it)
}

// Empty reports whether the list has no items.
func (l *List) Empty() bool { return l.items.Len() == 0 }

// Len returns the number of queued items.
func (l *List) Len() int { return l.items.Len() }

// PopFront removes and returns the earliest (lowest-offset) item in the
// list. Returns false if the list is empty.
func (l *List) PopFront() (Item, bool) {
	e := l.items.Front()
	if e == nil {
		return Item{}, false
	}
	l.items.Remove(e)
	return e.Value.(Item), true
}

// PeekFront returns the earliest item without removing it.
func (l *List) PeekFront() (Item, bool) {
	e := l.items.Front()
	if e == nil {
		return Item{}, false
	}
	return e.Value.(Item), true
}

// ShiftOffsets subtracts consumed from every item's Offset, clamping at 0.
// Called whenever a port's buffer drops a consumed byte prefix, so
// remaining items stay relative to the new buffer start.
func (l *List) ShiftOffsets(consumed uint64) {
	for e := l.items.Front(); e != nil; e = e.Next() {
		it := e.Value.(Item)
		if it.Offset <= consumed {
			it.Offset = 0
		} else {
			it.Offset -= consumed
		}
		e.Value = it
	}
}

// Clear empties the list, e.g. when a port transitions to stopped: a
// stopped port always has an empty metadata list.
func (l *List) Clear() {
	l.items.Init()
}

// Drain returns all items in order and empties the list.
func (l *List) Drain() []Item {
	out := make([]Item, 0, l.items.Len())
	for e := l.items.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Item))
	}
	l.items.Init()
	return out
}

// HasEOS reports whether a flushing or non-flushing EOS is anywhere in the
// list (consulted by the trigger classifier when deciding whether a port
// can still be waited on).
func (l *List) HasEOS() bool {
	for e := l.items.Front(); e != nil; e = e.Next() {
		if e.Value.(Item).IsEOS() {
			return true
		}
	}
	return false
}

// HasDFG reports whether a data-flow-gap marker is queued.
func (l *List) HasDFG() bool {
	for e := l.items.Front(); e != nil; e = e.Next() {
		if e.Value.(Item).Kind == KindDFG {
			return true
		}
	}
	return false
}
