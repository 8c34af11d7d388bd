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

import "gc/port"

// islandFramesToProcess is the number of consecutive steady-state frames
// the reconciler requires before casting a low-power ("island") vote —
// debouncing a vote that would otherwise flap every time a module briefly
// touches its threshold boundary.
const islandFramesToProcess = 2

// Reconciler folds every event a pass could have raised (media format,
// threshold, process state, real-time property, inplace, scratch memory,
// voting) back into the graph after each command or data pass completes.
type Reconciler struct {
	c *Container

	mediaFormatDirty  bool
	thresholdDirty    bool
	processStateDirty bool
	propertyDirty     bool
	inplaceDirty      bool
	votingDirty       bool

	steadyFrames int
	islandVote   bool
	// lastErrCount is the summed under-run/over-run count seen by the
	// previous island-voting sweep.
	lastErrCount uint64
}

func NewReconciler(c *Container) *Reconciler {
	return &Reconciler{c: c}
}

func (r *Reconciler) onMediaFormatChanged() { r.mediaFormatDirty = true }
func (r *Reconciler) onThresholdChanged()   { r.thresholdDirty = true }
func (r *Reconciler) onProcessStateChanged() { r.processStateDirty = true }
func (r *Reconciler) onPropertyChanged()    { r.propertyDirty = true }
func (r *Reconciler) onInplaceChanged()     { r.inplaceDirty = true }
func (r *Reconciler) onVotingChanged()      { r.votingDirty = true }

// Reconcile runs the numbered sweep: (1) media format propagation and
// re-threshold, (2) threshold re-propagation, (3) buffer manager
// resize/recycle, (4) process-state propagation, (5) real-time property
// changes: the dirty flag is only cleared, no property is propagated,
// (6) inplace changes: the driver's fast-path classification is
// invalidated, (7) scratch-memory recomputation (a no-op placeholder here —
// no module in this tree declares scratch memory needs), (8) island-voting
// debounce.
func (r *Reconciler) Reconcile() {
	c := r.c

	if r.mediaFormatDirty {
		r.thresholdDirty = true
		r.mediaFormatDirty = false
	}

	if r.thresholdDirty {
		_, err := c.thresholdEngine.CheckAndPropagate(c)
		if err == nil {
			// finalize() already folded each non-endpoint port's pending threshold into
			// ThresholdRaisedBytes; resize is idempotent when nothing
			// actually changed, so it's safe (and simplest) to sweep every
			// port rather than track which ones moved.
			c.mu.Lock()
			for ref, p := range c.ports {
				if _, isExt := c.externals[ref]; isExt {
					c.bufMgr.ResizeExternal(p)
				} else {
					c.bufMgr.ResizeInternal(p)
				}
			}
			c.mu.Unlock()
		}
		c.driver.Invalidate()
		r.thresholdDirty = false
	}

	if r.processStateDirty {
		r.propagateProcessState()
		r.processStateDirty = false
	}

	if r.propertyDirty {
		r.propertyDirty = false
	}

	if r.inplaceDirty {
		c.driver.Invalidate()
		r.inplaceDirty = false
	}

	r.reconcileIslandVoting()
}

// propagateProcessState pushes the container's own state onto every port
// that hasn't yet converged to it (e.g. after a suspend/resume cycle).
func (r *Reconciler) propagateProcessState() {
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStarted {
		return
	}
	for _, p := range c.ports {
		if p.State == port.StatePrepared || p.State == port.StateSuspended {
			p.State = port.StateStarted
		}
	}
}

// reconcileIslandVoting implements the debounced low-power voting sweep:
// a frame counts as "steady" when no external port recorded an under-run
// or over-run since the previous sweep.
// After islandFramesToProcess consecutive steady frames the reconciler
// casts (or keeps) an island vote; any non-steady frame resets the
// counter and withdraws the vote immediately.
func (r *Reconciler) reconcileIslandVoting() {
	c := r.c
	c.mu.Lock()
	var errCount uint64
	for _, ext := range c.externals {
		errCount += uint64(ext.UnderrunCount) + uint64(ext.OverrunCount)
	}
	c.mu.Unlock()
	steady := errCount == r.lastErrCount
	r.lastErrCount = errCount

	if !steady {
		r.steadyFrames = 0
		r.islandVote = false
		return
	}
	if r.steadyFrames < islandFramesToProcess {
		r.steadyFrames++
	}
	wasVoting := r.islandVote
	r.islandVote = r.steadyFrames >= islandFramesToProcess
	if r.islandVote && !wasVoting && c.votes != nil {
		c.votes.CastIslandVote()
	}
}

// IslandVote reports whether the container is currently voting for the
// low-power island, per the debounced steady-state criterion.
func (r *Reconciler) IslandVote() bool { return r.islandVote }
