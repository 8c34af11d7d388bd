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

import "testing"

func TestNewExternal_WrapsDataPortWithQueue(t *testing.T) {
	dp := NewDataPort(1, Input, 1)
	ext := NewExternal(dp, 5, 8)

	if ext.DataPort != dp {
		t.Errorf("NewExternal did not wrap the given DataPort")
	}
	if ext.WaitMaskBit != 5 {
		t.Errorf("WaitMaskBit = %d, want 5", ext.WaitMaskBit)
	}
	if ext.Queue.Cap() != 8 {
		t.Errorf("Queue capacity = %d, want 8", ext.Queue.Cap())
	}
}

func TestExternal_QueueIsIndependentPerInstance(t *testing.T) {
	dp1 := NewDataPort(1, Input, 1)
	dp2 := NewDataPort(2, Input, 1)
	e1 := NewExternal(dp1, 0, 2)
	e2 := NewExternal(dp2, 0, 2)

	e1.Queue.TryPush(Message{Kind: MsgEndOfFrame})
	if e2.Queue.Len() != 0 {
		t.Errorf("Queue.Len() for e2 = %d, want 0: queues must not be shared across External instances", e2.Queue.Len())
	}
}
