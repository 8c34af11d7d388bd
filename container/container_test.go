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
	"time"

	"gc/module"
	"gc/port"
	"gc/threshold"
)

func TestNew_DefaultsTimerTick(t *testing.T) {
	c := New(Config{})
	if c.cfg.TimerTick != 10*time.Millisecond {
		t.Errorf("TimerTick = %v, want 10ms default", c.cfg.TimerTick)
	}
}

func TestContainer_AddExternal_AssignsIncreasingWaitBits(t *testing.T) {
	c := New(Config{})
	p1 := port.NewDataPort(1, port.Input, 1)
	p2 := port.NewDataPort(2, port.Output, 1)
	e1 := port.NewExternal(p1, 0, 4)
	e2 := port.NewExternal(p2, 0, 4)

	if err := c.AddExternal(e1); err != nil {
		t.Fatalf("AddExternal(e1) error = %v", err)
	}
	if err := c.AddExternal(e2); err != nil {
		t.Fatalf("AddExternal(e2) error = %v", err)
	}
	if e1.WaitMaskBit != 1 || e2.WaitMaskBit != 2 {
		t.Errorf("wait bits = %d, %d, want 1, 2", e1.WaitMaskBit, e2.WaitMaskBit)
	}
}

func TestContainer_AddExternal_ErrorsWhenBitsExhausted(t *testing.T) {
	c := New(Config{})
	for i := 0; i < MaxExternalBits; i++ {
		p := port.NewDataPort(port.Ref(i+1), port.Input, 1)
		if err := c.AddExternal(port.NewExternal(p, 0, 4)); err != nil {
			t.Fatalf("AddExternal #%d unexpected error: %v", i, err)
		}
	}
	p := port.NewDataPort(999, port.Input, 1)
	if err := c.AddExternal(port.NewExternal(p, 0, 4)); err == nil {
		t.Errorf("AddExternal should fail once MaxExternalBits wait slots are used")
	}
}

func TestContainer_SortedModules_OrdersProducerBeforeConsumer(t *testing.T) {
	c := New(Config{})
	src := module.NewModule(1, "src", module.KindSource, module.ShapeZISO)
	src.OutputPortIDs = []uint32{100}
	sink := module.NewModule(2, "sink", module.KindSink, module.ShapeSIZO)
	sink.InputPortIDs = []uint32{200}

	// Registered in reverse ID order to confirm the sort reflects the graph,
	// not insertion order.
	c.AddModule(sink)
	c.AddModule(src)

	outPort := port.NewDataPort(100, port.Output, 1)
	inPort := port.NewDataPort(200, port.Input, 2)
	c.AddPort(outPort)
	c.AddPort(inPort)
	c.Connect(100, 200)

	order := c.SortedModules()
	if len(order) != 2 {
		t.Fatalf("SortedModules() len = %d, want 2", len(order))
	}
	if order[0].ID != 1 || order[1].ID != 2 {
		t.Errorf("SortedModules() = [%d %d], want [1 2] (producer before consumer)", order[0].ID, order[1].ID)
	}
}

func TestContainer_UpstreamAndDownstream(t *testing.T) {
	c := New(Config{})
	c.Connect(100, 200)

	up, ok := c.UpstreamOutput(200)
	if !ok || up != 100 {
		t.Errorf("UpstreamOutput(200) = (%d, %v), want (100, true)", up, ok)
	}

	down := c.DownstreamInputs(100)
	if len(down) != 1 || down[0] != 200 {
		t.Errorf("DownstreamInputs(100) = %v, want [200]", down)
	}
}

func TestContainer_HandlePrepareAndStart(t *testing.T) {
	c := New(Config{})
	if done, err := c.handlePrepare(&Command{}); !done || err != nil {
		t.Fatalf("handlePrepare() = (%v, %v), want (true, nil)", done, err)
	}
	if c.state != StatePrepared {
		t.Fatalf("state = %v, want StatePrepared", c.state)
	}

	if done, err := c.handleStart(&Command{}); !done || err != nil {
		t.Fatalf("handleStart() = (%v, %v), want (true, nil)", done, err)
	}
	if c.state != StateStarted {
		t.Errorf("state = %v, want StateStarted", c.state)
	}
}

func TestContainer_HandleStart_RejectsFromWrongState(t *testing.T) {
	c := New(Config{})
	// still StateUnprepared
	if _, err := c.handleStart(&Command{}); err == nil {
		t.Errorf("handleStart() from StateUnprepared should return an error")
	}
}

func TestCommandQueue_SubmitAndDrain(t *testing.T) {
	q := NewCommandQueue(2)
	if !q.TrySubmit(Command{Op: OpStart}) {
		t.Fatalf("TrySubmit should succeed on an empty queue")
	}
	if !q.TrySubmit(Command{Op: OpStop}) {
		t.Fatalf("TrySubmit should succeed while under capacity")
	}
	if q.TrySubmit(Command{Op: OpFlush}) {
		t.Errorf("TrySubmit should fail once the queue is at capacity")
	}

	first := <-q.Chan()
	if first.Op != OpStart {
		t.Errorf("first drained command = %v, want OpStart", first.Op)
	}
}

func TestContainer_SubmitCommand_ReachesDispatch(t *testing.T) {
	c := New(Config{})
	reply := make(chan error, 1)
	c.SubmitCommand(Command{Op: OpPrepare, Reply: reply})

	cmd := <-c.cmdQueue.Chan()
	c.dispatch(cmd)

	select {
	case err := <-reply:
		if err != nil {
			t.Errorf("dispatch(OpPrepare) reply error = %v, want nil", err)
		}
	default:
		t.Fatalf("dispatch should have replied on the command's Reply channel")
	}
	if c.state != StatePrepared {
		t.Errorf("state = %v, want StatePrepared", c.state)
	}
}

func TestContainer_CommandBudgetPerWake_BumpsForShortFrames(t *testing.T) {
	short := New(Config{Threshold: threshold.Config{ConfiguredFrameLenUS: 1000}})
	if got := short.commandBudgetPerWake(); got != baseCommandBudgetPerWake*procDurScaleFactorForCmdProc {
		t.Errorf("commandBudgetPerWake() = %d, want %d for a short frame", got, baseCommandBudgetPerWake*procDurScaleFactorForCmdProc)
	}

	long := New(Config{Threshold: threshold.Config{ConfiguredFrameLenUS: 10000}})
	if got := long.commandBudgetPerWake(); got != baseCommandBudgetPerWake {
		t.Errorf("commandBudgetPerWake() = %d, want %d for a long frame", got, baseCommandBudgetPerWake)
	}
}
