// Copyright 2025 EMQ Technologies Co., Ltd.
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

// Package coordinator is the control plane of the barrier protocol: it paces
// barriers over the whole actor graph, keeps the in-flight checkpoint window,
// commits collected epochs to storage in strictly ascending order and drives
// recovery after any unrecoverable failure. One event loop goroutine owns all
// of its mutable state; producers talk to it through the schedule queue and
// channels only.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pingcap/failpoint"

	"github.com/lf-edge/oort/internal/catalog"
	"github.com/lf-edge/oort/internal/cluster"
	"github.com/lf-edge/oort/internal/conf"
	"github.com/lf-edge/oort/internal/storage"
	"github.com/lf-edge/oort/metrics"
	"github.com/lf-edge/oort/pkg/errorx"
	"github.com/lf-edge/oort/pkg/protocol"
	"github.com/lf-edge/oort/pkg/timex"
)

// Status is the externally visible phase of the coordinator.
type Status int

const (
	StatusStarting Status = iota
	StatusRecovering
	StatusRunning
)

var statusNames = map[Status]string{
	StatusStarting:   "starting",
	StatusRecovering: "recovering",
	StatusRunning:    "running",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

const completionQueueCap = 64

// Coordinator is the global barrier manager. Run owns every field below the
// deps block; the exported methods only touch the thread-safe front doors
// (schedule queue, channels, status mutex).
type Coordinator struct {
	cat     *catalog.Catalog
	workers *cluster.Registry
	meta    storage.MetaStore
	pool    *ClientPool
	sched   *ScheduledBarriers

	// Loop-owned state. Never touched outside the Run goroutine.
	control  *CheckpointControl
	state    *BarrierManagerState
	tracker  *CreateJobTracker
	interval time.Duration
	window   int

	enableRecovery bool
	params         SystemParams

	completionCh chan completion
	paramCh      chan SystemParams
	inspectCh    chan func()

	// pendingFinish are notifiers of collected non-checkpoint barriers that
	// become durable only at the next checkpoint commit.
	pendingFinish []*Notifier
	// finishedJobs are backfill-complete jobs waiting for a checkpoint to
	// make their Created state durable.
	finishedJobs []protocol.JobID

	statusMu sync.RWMutex
	status   Status

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New wires a coordinator over its collaborators. Call Run to start it.
func New(cat *catalog.Catalog, workers *cluster.Registry, meta storage.MetaStore, pool *ClientPool, params SystemParams) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cat:            cat,
		workers:        workers,
		meta:           meta,
		pool:           pool,
		sched:          NewScheduledBarriers(params.CheckpointFrequency),
		control:        NewCheckpointControl(),
		tracker:        NewCreateJobTracker(),
		interval:       time.Duration(params.BarrierIntervalMs) * time.Millisecond,
		window:         params.InFlightBarrierNums,
		enableRecovery: params.EnableRecovery,
		params:         params,
		completionCh:   make(chan completion, completionQueueCap),
		paramCh:        make(chan SystemParams, 1),
		inspectCh:      make(chan func(), 16),
		status:         StatusStarting,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
}

// Schedule hands the coordinator one command from any goroutine.
func (c *Coordinator) Schedule(cmd Command, notifiers ...*Notifier) error {
	return c.sched.Schedule(cmd, notifiers...)
}

// Scheduler exposes the hand-off queue, mainly for tests.
func (c *Coordinator) Scheduler() *ScheduledBarriers {
	return c.sched
}

// Status reports the current coordinator phase.
func (c *Coordinator) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

func (c *Coordinator) setStatus(s Status) {
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
	conf.Log.Infof("coordinator is %s", s)
}

// Params returns the system params currently in effect.
func (c *Coordinator) Params() SystemParams {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.params
}

// UpdateParams persists new system params and applies them from the next
// loop iteration.
func (c *Coordinator) UpdateParams(p SystemParams) error {
	if err := p.validate(); err != nil {
		return err
	}
	if err := saveSystemParams(p); err != nil {
		return err
	}
	c.statusMu.Lock()
	c.params = p
	c.statusMu.Unlock()
	select {
	case c.paramCh <- p:
	default:
		// A pending change is superseded; drain and replace it.
		select {
		case <-c.paramCh:
		default:
		}
		c.paramCh <- p
	}
	return nil
}

// inspect runs fn on the coordinator loop, giving it safe read access to the
// loop-owned state.
func (c *Coordinator) inspect(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}
	select {
	case c.inspectCh <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return errorx.NewWithCode(errorx.GENERAL_ERR, "coordinator stopped")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return errorx.NewWithCode(errorx.GENERAL_ERR, "coordinator stopped")
	}
}

// DDLProgress snapshots the backfill progress of every creating job.
func (c *Coordinator) DDLProgress(ctx context.Context) ([]DDLProgress, error) {
	var out []DDLProgress
	if err := c.inspect(ctx, func() { out = c.tracker.Progress() }); err != nil {
		return nil, err
	}
	return out, nil
}

// PausedReason reports the pause state barriers are currently minted under.
func (c *Coordinator) PausedReason(ctx context.Context) (protocol.PausedReason, error) {
	var r protocol.PausedReason
	if err := c.inspect(ctx, func() { r = c.state.PausedReason() }); err != nil {
		return protocol.NotPaused, err
	}
	return r, nil
}

// InFlightBarriers counts barriers injected but not yet fully collected.
func (c *Coordinator) InFlightBarriers(ctx context.Context) (int, error) {
	var n int
	if err := c.inspect(ctx, func() { n = c.control.InFlightCount() }); err != nil {
		return 0, err
	}
	return n, nil
}

// CommittedEpoch is the storage engine's durable high watermark.
func (c *Coordinator) CommittedEpoch() protocol.Epoch {
	return c.meta.CommittedEpoch()
}

// Stop shuts the loop down and waits for it to exit.
func (c *Coordinator) Stop() {
	c.cancel()
	<-c.done
}

// Run blocks until Stop. It first recovers the cluster into a consistent
// state (even an empty cluster goes through recovery to inject the first
// Initial barrier), then drives the steady-state loop.
func (c *Coordinator) Run() {
	defer close(c.done)
	conf.Log.Infof("starting barrier manager: interval=%v, checkpointFrequency=%d, inFlightBarrierNums=%d, enableRecovery=%v",
		c.interval, c.params.CheckpointFrequency, c.window, c.enableRecovery)

	c.setStatus(StatusRecovering)
	paused := protocol.NotPaused
	if c.params.PauseOnNextBootstrap {
		paused = protocol.PausedManual
		if err := clearPauseOnBootstrap(); err != nil {
			conf.Log.Warnf("clear pauseOnNextBootstrap: %v", err)
		}
	}
	c.state = c.recovery(c.meta.CommittedEpoch(), paused, "bootstrap")
	if c.state == nil {
		// Shut down while recovering.
		return
	}
	c.setStatus(StatusRunning)

	ticker := timex.GetTicker(c.interval)
	defer ticker.Stop()

	for {
		// Priority polling stands in for a biased select: shutdown first,
		// then param changes, then completions, and only then new barriers,
		// so the pipeline drains before it grows.
		select {
		case <-c.ctx.Done():
			conf.Log.Info("barrier manager is stopped")
			return
		default:
		}
		select {
		case p := <-c.paramCh:
			c.applyParams(p, ticker)
			continue
		default:
		}
		select {
		case comp := <-c.completionCh:
			c.handleBarrierComplete(comp)
			metrics.SetInFlightBarrier(c.control.InFlightCount())
			continue
		default:
		}

		if c.control.CanInjectBarrier(c.window) {
			select {
			case <-c.ctx.Done():
				conf.Log.Info("barrier manager is stopped")
				return
			case p := <-c.paramCh:
				c.applyParams(p, ticker)
			case comp := <-c.completionCh:
				c.handleBarrierComplete(comp)
			case op := <-c.inspectCh:
				op()
			case <-c.sched.Signal():
				ticker.Reset(c.interval)
				c.handleNewBarrier()
			case <-ticker.C:
				c.handleNewBarrier()
			}
		} else {
			select {
			case <-c.ctx.Done():
				conf.Log.Info("barrier manager is stopped")
				return
			case p := <-c.paramCh:
				c.applyParams(p, ticker)
			case comp := <-c.completionCh:
				c.handleBarrierComplete(comp)
			case op := <-c.inspectCh:
				op()
			}
		}
		metrics.SetInFlightBarrier(c.control.InFlightCount())
	}
}

// applyParams puts changed system params into effect: tick cadence, window
// size, checkpoint frequency and the recovery switch.
func (c *Coordinator) applyParams(p SystemParams, ticker *clock.Ticker) {
	if d := time.Duration(p.BarrierIntervalMs) * time.Millisecond; d != c.interval {
		c.interval = d
		ticker.Reset(d)
	}
	c.window = p.InFlightBarrierNums
	c.enableRecovery = p.EnableRecovery
	c.sched.SetCheckpointFrequency(p.CheckpointFrequency)
	conf.Log.Infof("system params applied: %+v", p)
}

// handleNewBarrier pops one command, resolves the topology it runs against,
// injects its barrier to every involved worker and records it in flight.
func (c *Coordinator) handleNewBarrier() {
	sched, kind := c.sched.PopOrDefault()
	if sched == nil {
		// Queue is blocked for recovery; the tick is skipped.
		return
	}
	cmd := sched.Command

	c.control.PreResolve(cmd)
	info := ResolveInflightActorInfo(c.cat, c.control)
	c.control.PostResolve(cmd)

	pair := c.state.NextEpochPair()
	cmdCtx := &CommandContext{
		Info:               info,
		Epoch:              pair,
		Kind:               kind,
		PrevEpochsToCommit: c.state.FoldPrevEpochs(kind, pair.Prev),
		Command:            cmd,
		PrevPausedReason:   c.state.PausedReason(),
		TableIDsToSync:     c.cat.TableIDs(),
	}
	cmdCtx.MustPreInject()

	err := c.preApplyCreate(c.ctx, cmd)
	var needCollect []protocol.WorkerID
	if err == nil {
		needCollect, err = c.injectBarrierToWorkers(c.ctx, cmdCtx)
	}

	for _, n := range sched.Notifiers {
		n.NotifyInjected(pair)
	}
	c.state.SetPausedReason(cmdCtx.NextPausedReason())
	c.control.EnqueueCommand(cmdCtx, sched.Notifiers)
	metrics.IncBarrierInjected(kind.String())
	conf.Log.Debugf("injected %s barrier %s (%s) to %d workers", kind, pair.Prev, cmd, len(needCollect))

	if err != nil {
		// Fail the epoch through the normal completion path so ordering and
		// overlay bookkeeping stay in one place. The send must leave the loop
		// goroutine, the channel may be full of real completions.
		injectErr := err
		go func() {
			select {
			case c.completionCh <- completion{prevEpoch: pair.Prev, err: injectErr}:
			case <-c.ctx.Done():
			}
		}()
		return
	}
	go c.collectBarrier(c.ctx, pair.Prev, needCollect)
}

// handleBarrierComplete folds one collection result into the checkpoint
// window and commits the contiguous completed prefix in epoch order.
func (c *Coordinator) handleBarrierComplete(comp completion) {
	if !c.control.ContainsEpoch(comp.prevEpoch) {
		// A recovery replaced the window while this round was in flight.
		conf.Log.Warnf("discard completion for unknown epoch %s", comp.prevEpoch)
		return
	}
	if comp.err != nil {
		conf.Log.Warnf("failed to complete epoch %s: %v", comp.prevEpoch, comp.err)
		failNodes := c.control.BarrierFailed()
		c.failureRecovery(comp.err, failNodes)
		return
	}
	nodes, _ := c.control.BarrierCompleted(comp.prevEpoch, comp.resp)
	for i, node := range nodes {
		if err := c.completeBarrier(node); err != nil {
			conf.Log.Warnf("failed to commit epoch %s: %v", node.Command.Epoch.Prev, err)
			failNodes := append(nodes[i:], c.control.BarrierFailed()...)
			c.failureRecovery(err, failNodes)
			return
		}
	}
}

// completeBarrier commits one completed epoch and runs the post-collection
// bookkeeping of its command. Epochs strictly before a failing one stay
// committed; the caller fails the rest.
func (c *Coordinator) completeBarrier(node *EpochNode) error {
	prev := node.Command.Epoch.Prev
	kind := node.Command.Kind
	switch kind {
	case protocol.KindInitial:
		if len(node.Resp.SyncedSSTs) != 0 {
			panic(fmt.Sprintf("initial barrier %s produced %d sstables", prev, len(node.Resp.SyncedSSTs)))
		}
	case protocol.KindCheckpoint:
		failpoint.Inject("commitEpochErr", func() {
			failpoint.Return(errorx.NewStorageErr("commitEpochErr failpoint"))
		})
		if err := c.meta.CommitEpoch(c.ctx, prev, node.Resp.SyncedSSTs); err != nil {
			return errorx.NewStorageErr(fmt.Sprintf("commit epoch %s: %v", prev, err))
		}
		metrics.SetCommittedEpoch(prev.Physical())
	case protocol.KindBarrier:
		c.meta.UpdateCurrentEpoch(prev)
	}

	// Post-collection bookkeeping runs strictly after the storage commit.
	if err := c.postCollect(node); err != nil {
		return err
	}

	for _, n := range node.Notifiers {
		n.NotifyCollected(nil)
	}
	c.pendingFinish = append(c.pendingFinish, node.Notifiers...)

	finished, err := c.tracker.Apply(node.Resp.CreateJobProgress)
	if err != nil {
		return err
	}
	c.finishedJobs = append(c.finishedJobs, finished...)

	if kind.IsCheckpoint() {
		if err := c.finishAtCheckpoint(); err != nil {
			return err
		}
	} else if len(c.finishedJobs) > 0 {
		// Finished jobs need a checkpoint to become durable; force one soon.
		c.sched.ForceCheckpointInNextBarrier()
	}

	latency := timex.GetNow().Sub(node.EnqueueTime)
	metrics.IncBarrierCompleted(kind.String(), nil)
	metrics.ObserveBarrierLatency(kind.String(), latency.Milliseconds())
	conf.Log.Debugf("completed %s barrier %s in %v", kind, prev, latency)
	return nil
}

// finishAtCheckpoint makes every stashed finish durable: backfilled jobs flip
// to Created and collected commands are reported finished.
func (c *Coordinator) finishAtCheckpoint() error {
	for _, id := range c.finishedJobs {
		if err := c.cat.MarkCreated(id); err != nil {
			return err
		}
		conf.Log.Infof("job %d finished backfill and is now created", id)
	}
	c.finishedJobs = nil
	for _, n := range c.pendingFinish {
		n.NotifyFinished(nil)
	}
	c.pendingFinish = nil
	return nil
}

// cancelStashedJob removes a cancelled job from the checkpoint-finish stash
// by identity, so a cancel landing between finish and checkpoint wins.
func (c *Coordinator) cancelStashedJob(id protocol.JobID) {
	kept := c.finishedJobs[:0]
	for _, jid := range c.finishedJobs {
		if jid != id {
			kept = append(kept, jid)
		}
	}
	c.finishedJobs = kept
}

// postCollect applies the durable catalog effects of one collected command.
// The switch is exhaustive over the command sum.
func (c *Coordinator) postCollect(node *EpochNode) error {
	switch cmd := node.Command.Command.(type) {
	case CommandPlain, CommandFlush, CommandPause, CommandResume, commandRecover:
		return nil
	case *CommandDropStreamingJobs:
		c.tracker.AbortJobs(cmd.JobIDs)
		for _, id := range cmd.JobIDs {
			c.cancelStashedJob(id)
		}
		return c.cat.DropJobs(cmd.JobIDs)
	case *CommandCancelStreamingJob:
		c.tracker.AbortJobs([]protocol.JobID{cmd.JobID})
		c.cancelStashedJob(cmd.JobID)
		return c.cat.DropJobs([]protocol.JobID{cmd.JobID})
	case *CommandCreateStreamingJob:
		backfill := make([]protocol.ActorID, 0, len(cmd.Info.Bundle.Actors))
		for _, p := range cmd.Info.Bundle.Actors {
			backfill = append(backfill, p.Actor.ActorID)
		}
		sort.Slice(backfill, func(i, j int) bool { return backfill[i] < backfill[j] })
		c.tracker.AddJob(cmd.Info.Bundle.Job, backfill)
		if cmd.SinkIntoTable != nil {
			return c.applyReplace(cmd.SinkIntoTable)
		}
		return nil
	case *CommandRescheduleFragment:
		var removed []protocol.ActorID
		var added []catalog.ActorPlacement
		splits := make(map[protocol.ActorID][]protocol.SplitAssignment)
		for _, r := range cmd.Reschedules {
			removed = append(removed, r.RemovedActors...)
			added = append(added, r.NewPlacements...)
			for id, s := range r.ActorSplits {
				splits[id] = s
			}
		}
		if err := c.cat.RemoveActors(removed); err != nil {
			return err
		}
		if err := c.cat.AddActors(added); err != nil {
			return err
		}
		return c.cat.UpdateSplits(splits)
	case *CommandReplaceTable:
		return c.applyReplace(cmd)
	case *CommandSourceSplitAssignment:
		return c.cat.UpdateSplits(cmd.Splits)
	case *CommandThrottle, *CommandCreateSubscription, *CommandDropSubscription:
		return nil
	default:
		panic(fmt.Sprintf("unhandled command %T", cmd))
	}
}

func (c *Coordinator) applyReplace(cmd *CommandReplaceTable) error {
	if err := c.cat.DropJobs([]protocol.JobID{cmd.OldJobID}); err != nil {
		return err
	}
	b := cmd.NewBundle
	if err := c.cat.CreateJob(b); err != nil {
		return err
	}
	// The replacement graph serves reads immediately, nothing backfills.
	return c.cat.MarkCreated(b.Job.ID)
}

// failureRecovery fails every drained node and, when recovery is enabled,
// rebuilds the cluster from the last committed epoch. With recovery disabled
// any failure is a hard abort, the explicit choice for debug clusters.
func (c *Coordinator) failureRecovery(err error, failNodes []*EpochNode) {
	for _, node := range failNodes {
		for _, n := range node.Notifiers {
			n.NotifyFailed(err)
		}
		metrics.IncBarrierCompleted(node.Command.Kind.String(), err)
	}
	for _, n := range c.pendingFinish {
		n.NotifyFailed(err)
	}
	c.pendingFinish = nil
	c.finishedJobs = nil

	if !c.enableRecovery {
		panic(fmt.Sprintf("failed to execute barrier: %v", err))
	}
	c.setStatus(StatusRecovering)
	// Only the committed epoch is safe to restart from.
	state := c.recovery(c.meta.CommittedEpoch(), protocol.NotPaused, err.Error())
	if state == nil {
		return
	}
	c.state = state
	c.setStatus(StatusRunning)
}
