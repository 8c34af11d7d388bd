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
	"reflect"
	"time"

	"gc/module"
	"gc/port"
)

// Run is the container's cooperative run loop: it waits for whichever
// fires first among the command queue, the periodic timer, and every
// external port's data queue, then does the corresponding work and loops.
// It returns when ctx is cancelled or a destroy command completes.
func (c *Container) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.TimerTick)
	defer ticker.Stop()

	for {
		c.mu.Lock()
		closing := c.state == StateClosing
		c.mu.Unlock()
		if closing {
			return nil
		}

		woke, err := c.waitForAnyTrigger(ctx, ticker.C)
		if err != nil {
			return err
		}
		switch woke {
		case wokeCtxDone:
			return ctx.Err()
		case wokeCommand:
		drainCommands:
			for i := 0; i < c.commandBudgetPerWake(); i++ {
				select {
				case cmd := <-c.cmdQueue.Chan():
					c.dispatch(cmd)
				default:
					break drainCommands
				}
			}
		case wokeTimer:
			c.runDataPass()
		case wokeExternal:
			c.drainReadyExternals()
			c.runDataPass()
		}
		c.reconciler.Reconcile()
	}
}

// procDurThreshForPrioBumpUS is the container frame length at or below which
// command processing gets a throughput bump: a container running a very
// short frame can't afford to let a backlog of commands build up across
// several wakes, so it drains more of the queue per wake instead of
// relying on relative thread priority.
const procDurThreshForPrioBumpUS = 2500

// procDurScaleFactorForCmdProc is how much larger the per-wake command
// drain budget becomes once the frame length is at or below the threshold.
const procDurScaleFactorForCmdProc = 2

const baseCommandBudgetPerWake = 1

// commandBudgetPerWake returns how many queued commands to drain in one
// wake of the command-queue case, before yielding back to the trigger
// selector.
func (c *Container) commandBudgetPerWake() int {
	c.mu.Lock()
	frameUS := c.cfg.Threshold.ConfiguredFrameLenUS
	c.mu.Unlock()
	if frameUS > 0 && frameUS <= procDurThreshForPrioBumpUS {
		return baseCommandBudgetPerWake * procDurScaleFactorForCmdProc
	}
	return baseCommandBudgetPerWake
}

type wakeReason int

const (
	wokeNone wakeReason = iota
	wokeCtxDone
	wokeCommand
	wokeTimer
	wokeExternal
)

// portClass is the trigger selector's per-external-port classification:
// whether a port's readiness even participates in the continue-vs-wait
// decision, and if so under which discipline.
type portClass int

const (
	// classBlocked ports belong to a module that isn't running (disabled,
	// or its port not yet started) and never count either way.
	classBlocked portClass = iota
	// classNotNeeded ports belong to a module with no data trigger policy
	// (signal-triggered, or no policy at all): the selector's wait decision
	// doesn't depend on them, though the run loop still wakes for their data.
	classNotNeeded
	// classNeeded ports belong to a running data trigger-policy module and
	// feed directly into num_ext_in_tpm_ready/num_ext_out_tpm_ready.
	classNeeded
	// classOptional ports are explicitly excluded from the decision (a tap
	// or sniffer) regardless of their owning module's policy.
	classOptional
)

// WaitMaskClass returns the trigger selector's most recent classification
// for the given external port, from its last call to waitForAnyTrigger.
func (c *Container) WaitMaskClass(ref port.Ref) (portClass, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	class, ok := c.lastWaitMask[ref]
	return class, ok
}

// classifyExternal assigns one of the four trigger-selector classes to an
// external port given its owning module.
func classifyExternal(ext *port.External, owner *module.Module) portClass {
	if ext.Optional {
		return classOptional
	}
	if owner == nil || owner.Flags.Disabled || ext.State != port.StateStarted {
		return classBlocked
	}
	if owner.Policy == nil || owner.Policy.Kind() != module.TriggerPolicyData {
		return classNotNeeded
	}
	return classNeeded
}

// externalTPMReady reports whether an external port currently satisfies
// its half of a data trigger-policy module's readiness: an input port is
// ready once it holds data (in its buffer or still queued), an output
// port is ready once it still has room to receive a produced frame.
func externalTPMReady(ext *port.External) bool {
	if ext.Direction == port.Input {
		return !ext.IsEmpty() || ext.Queue.Len() > 0
	}
	return !ext.IsFull()
}

// waitForAnyTrigger implements the trigger selector. It first classifies
// every external port (blocked/not-needed/needed/optional) and tallies
// num_ext_in_tpm_ready/num_ext_out_tpm_ready across the "needed" ports of
// any running data trigger-policy module. Per that tally, a data
// trigger-policy module only needs one ready external port, in either
// direction, to justify continuing the pass without blocking the run loop
// on a select at all; only when both counts are zero does the selector
// actually wait.
//
// When no data trigger-policy module is present, or none of its ports are
// ready, the selector falls back to its underlying wait mechanism: a
// dynamic select over ctx.Done, the command channel, the timer channel,
// and every armed external port's queue channel. Go's select has no
// variable arity, so reflect.Select stands in for the fixed-size switch a
// language with first-class variadic event waits would use here.
//
// Two livelock hints feed a short poll timeout into that wait instead of
// blocking indefinitely: probingForActivity (the last pass of the whole
// graph produced no data anywhere) and probing_for_tpm_activity (a data
// trigger-policy module exists but every one of its "needed" ports came up
// not-ready this round, so real progress depends on an event this selector
// cannot directly observe, e.g. an upstream container's own cadence).
func (c *Container) waitForAnyTrigger(ctx context.Context, timerCh <-chan time.Time) (wakeReason, error) {
	cases := []reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(c.cmdQueue.Chan())},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timerCh)},
	}
	reasons := []wakeReason{wokeCtxDone, wokeCommand, wokeTimer}

	c.mu.Lock()
	anyDataTPM := false
	numExtInTPMReady, numExtOutTPMReady := 0, 0
	waitMaskArr := make(map[port.Ref]portClass, len(c.externals))
	for ref, ext := range c.externals {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ext.Queue.Chan())})
		reasons = append(reasons, wokeExternal)

		class := classifyExternal(ext, c.modules[ext.OwnerMod])
		waitMaskArr[ref] = class
		if class != classNeeded {
			continue
		}
		anyDataTPM = true
		if !externalTPMReady(ext) {
			continue
		}
		if ext.Direction == port.Input {
			numExtInTPMReady++
		} else {
			numExtOutTPMReady++
		}
	}
	c.lastWaitMask = waitMaskArr
	probing := c.probingForActivity
	c.mu.Unlock()

	// continue-processing decision: wait only when every needed port, on
	// both sides, came up not-ready.
	waitForTrigger := anyDataTPM && numExtInTPMReady == 0 && numExtOutTPMReady == 0
	if anyDataTPM && !waitForTrigger {
		return wokeExternal, nil
	}
	probingForTPMActivity := anyDataTPM && waitForTrigger

	if probing || probingForTPMActivity {
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(time.After(time.Millisecond)),
		})
		reasons = append(reasons, wokeTimer)
	}

	chosen, _, _ := reflect.Select(cases)
	return reasons[chosen], nil
}

// drainReadyExternals pulls one message off every external port queue that
// has a message ready and hands it to ingestExternalMessage, which handles
// every MsgKind (data buffers, media-format update, EOF, upstream frame
// length update, stop-ack).
func (c *Container) drainReadyExternals() {
	c.mu.Lock()
	exts := make([]*port.External, 0, len(c.externals))
	for _, ext := range c.externals {
		exts = append(exts, ext)
	}
	c.mu.Unlock()

	for _, ext := range exts {
		select {
		case msg := <-ext.Queue.Chan():
			c.ingestExternalMessage(ext, msg)
		default:
		}
	}
}
