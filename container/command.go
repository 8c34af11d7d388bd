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
	"context"
	"fmt"

	"gc/internal/cfgstore"
	"gc/port"
)

// Opcode identifies a container command.
type Opcode int

const (
	OpPrepare Opcode = iota
	OpStart
	OpStop
	OpFlush
	OpSuspend
	OpRegisterCfg
	OpDeregisterCfg
	OpGetCfg
	OpSetCfg
	OpDestroy
)

// Command is one entry on the 128-deep command queue. A handler whose
// command spans more than one run-loop iteration (e.g. a stop that must
// drain every port before it can complete) sets Continuation through its
// *Command and returns done=false; the dispatcher re-enqueues the command
// as is, and the next iteration calls Continuation instead of restarting
// the handler.
type Command struct {
	Op           Opcode
	Payload      any
	Continuation func(*Container, *Command) (done bool, err error)
	Reply        chan error
}

// CommandQueue is the fixed-depth FIFO the trigger selector waits on
// alongside the timer and external port queues.
type CommandQueue struct {
	ch   chan Command
	cap  int
}

func NewCommandQueue(capacity int) *CommandQueue {
	return &CommandQueue{ch: make(chan Command, capacity), cap: capacity}
}

// Submit enqueues a command, blocking if the queue is full.
func (q *CommandQueue) Submit(cmd Command) { q.ch <- cmd }

// TrySubmit enqueues without blocking.
func (q *CommandQueue) TrySubmit(cmd Command) bool {
	select {
	case q.ch <- cmd:
		return true
	default:
		return false
	}
}

func (q *CommandQueue) Chan() <-chan Command { return q.ch }

// SubmitCommand enqueues a command for the run loop to process on its next
// wake, blocking only if the queue is at its 128-deep capacity.
func (c *Container) SubmitCommand(cmd Command) {
	c.cmdQueue.Submit(cmd)
}

// Dispatch table: opcode -> handler. A handler returning done=false defers
// completion to a later iteration.
type handlerFunc func(*Container, *Command) (done bool, err error)

var dispatchTable = map[Opcode]handlerFunc{
	OpPrepare:       (*Container).handlePrepare,
	OpStart:         (*Container).handleStart,
	OpStop:          (*Container).handleStop,
	OpFlush:         (*Container).handleFlush,
	OpSuspend:       (*Container).handleSuspend,
	OpRegisterCfg:   (*Container).handleRegisterCfg,
	OpDeregisterCfg: (*Container).handleDeregisterCfg,
	OpGetCfg:        (*Container).handleGetCfg,
	OpSetCfg:        (*Container).handleSetCfg,
	OpDestroy:       (*Container).handleDestroy,
}

// dispatch runs one command to completion or to its next suspension
// point, replying on Command.Reply exactly once the command is fully
// done (not merely this iteration's slice of it).
func (c *Container) dispatch(cmd Command) {
	if cmd.Continuation != nil {
		done, err := cmd.Continuation(c, &cmd)
		if !done {
			c.cmdQueue.Submit(cmd)
			return
		}
		if cmd.Reply != nil {
			cmd.Reply <- err
		}
		return
	}

	fn, ok := dispatchTable[cmd.Op]
	if !ok {
		if cmd.Reply != nil {
			cmd.Reply <- fmt.Errorf("container: unknown opcode %v", cmd.Op)
		}
		return
	}
	done, err := fn(c, &cmd)
	if !done {
		c.cmdQueue.Submit(cmd)
		return
	}
	if cmd.Reply != nil {
		cmd.Reply <- err
	}
}

// --- default handlers: the minimal semantics every container needs; a
// host embedding this package overrides handleRegisterCfg et al. by
// wrapping Container in its own dispatch before falling through. ---

func (c *Container) handlePrepare(_ *Command) (bool, error) {
	c.mu.Lock()
	c.state = StatePrepared
	c.mu.Unlock()
	return true, nil
}

func (c *Container) handleStart(_ *Command) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePrepared && c.state != StateSuspended {
		return true, fmt.Errorf("container: cannot start from state %v", c.state)
	}
	c.state = StateStarted
	for _, p := range c.ports {
		if p.State == port.StatePrepared || p.State == port.StateSuspended {
			p.State = port.StateStarted
		}
	}
	c.reconciler.onProcessStateChanged()
	return true, nil
}

func (c *Container) handleSuspend(_ *Command) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateSuspended
	for _, p := range c.ports {
		if p.State == port.StateStarted {
			p.State = port.StateSuspended
		}
	}
	c.reconciler.onProcessStateChanged()
	return true, nil
}

// handleStop performs the metadata-pipeline EOS/DFG synthesis and resets
// every port to stopped. Modeled as a single-pass handler here; a
// multi-subgraph container would instead return done=false until every
// downstream subgraph has acknowledged drain, using Continuation.
func (c *Container) handleStop(_ *Command) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.synthesizeStopMetadataLocked()
	for _, p := range c.ports {
		p.ResetToStopped()
	}
	c.state = StateStopped
	return true, nil
}

func (c *Container) handleFlush(_ *Command) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.ports {
		for i := range p.ActualDataLen {
			p.ActualDataLen[i] = 0
		}
		p.Metadata.Clear()
		p.DataFlowState = port.AtGap
	}
	c.synthesizeFlushMetadataLocked()
	return true, nil
}

func (c *Container) handleDestroy(_ *Command) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Two-phase teardown, phase one: mark closing inside the critical
	// section. The caller frees the container's own memory outside the
	// lock once this returns, mirroring the non-owning-arena teardown
	// discipline used throughout this package.
	c.state = StateClosing
	for _, p := range c.ports {
		p.State = port.StateClosing
	}
	return true, nil
}

// CfgPayload carries the parameters for the four config opcodes
// (OpRegisterCfg/OpDeregisterCfg/OpGetCfg/OpSetCfg). Submit it as a
// *CfgPayload on Command.Payload; GetCfg writes its result back into Data
// through the same pointer.
type CfgPayload struct {
	Ctx      context.Context
	Key      cfgstore.RegisterCfgKey
	CommitID string // RegisterCfg only
	Data     []byte // RegisterCfg/SetCfg input; GetCfg output
}

func (p *CfgPayload) ctx() context.Context {
	if p.Ctx != nil {
		return p.Ctx
	}
	return context.Background()
}

// cfgPayloadOf extracts a *CfgPayload from a command, reporting whether the
// container even has a registry attached to dispatch it into.
func (c *Container) cfgPayloadOf(cmd *Command) (*CfgPayload, bool) {
	if c.cfgStore == nil {
		return nil, false
	}
	p, ok := cmd.Payload.(*CfgPayload)
	return p, ok
}

func (c *Container) handleRegisterCfg(cmd *Command) (bool, error) {
	p, ok := c.cfgPayloadOf(cmd)
	if !ok {
		return true, nil
	}
	return true, c.cfgStore.RegisterCfg(p.ctx(), p.Key, p.CommitID, p.Data)
}

func (c *Container) handleDeregisterCfg(cmd *Command) (bool, error) {
	p, ok := c.cfgPayloadOf(cmd)
	if !ok {
		return true, nil
	}
	return true, c.cfgStore.DeregisterCfg(p.ctx(), p.Key)
}

func (c *Container) handleGetCfg(cmd *Command) (bool, error) {
	p, ok := c.cfgPayloadOf(cmd)
	if !ok {
		return true, nil
	}
	data, err := c.cfgStore.GetCfg(p.ctx(), p.Key)
	if err != nil {
		return true, err
	}
	p.Data = data
	return true, nil
}

func (c *Container) handleSetCfg(cmd *Command) (bool, error) {
	p, ok := c.cfgPayloadOf(cmd)
	if !ok {
		return true, nil
	}
	return true, c.cfgStore.SetCfg(p.ctx(), p.Key, p.Data)
}
