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

package coordinator

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap/failpoint"

	"github.com/lf-edge/oort/internal/catalog"
	"github.com/lf-edge/oort/internal/conf"
	"github.com/lf-edge/oort/internal/pkg/store"
	"github.com/lf-edge/oort/metrics"
	"github.com/lf-edge/oort/pkg/errorx"
	"github.com/lf-edge/oort/pkg/infra"
	"github.com/lf-edge/oort/pkg/protocol"
	"github.com/lf-edge/oort/pkg/timex"
)

// commandRecover is the synthetic command carried by the Initial barrier a
// recovery injects: it re-announces split assignments and restores the pause
// state. Never user-schedulable.
type commandRecover struct {
	splits map[protocol.ActorID][]protocol.SplitAssignment
	paused protocol.PausedReason
}

func (commandRecover) isCommand()     {}
func (commandRecover) String() string { return "recover" }

const (
	migrationTable = "migration"
	migrationKey   = "plan"
	// slotDiscoveryInterval spaces the polls for newly joined workers while
	// expired slots still lack a migration target.
	slotDiscoveryInterval = 100 * time.Millisecond
)

// recovery rebuilds the whole cluster from the last committed epoch and
// returns the fresh coordinator state, or nil when the coordinator was
// stopped mid-recovery. Every step retries under a capped exponential
// backoff with no attempt limit: the cluster favors eventual availability
// over giving up.
func (c *Coordinator) recovery(prevEpoch protocol.Epoch, paused protocol.PausedReason, reason string) *BarrierManagerState {
	c.sched.AbortAndMarkBlocked(reason)
	c.control = NewCheckpointControl()
	conf.Log.Infof("recovery start from epoch %s: %s", prevEpoch, reason)
	start := timex.GetNow()

	// Buffered drops and cancels shrink the recovery surface; apply them
	// before restoring anything they would tear down again.
	c.preApplyDropCancel()
	if _, err := c.cat.CleanDirtyJobs(); err != nil {
		// The catalog store is the ground truth recovery rebuilds from; if it
		// cannot even be cleaned there is nothing consistent to recover to.
		panic(fmt.Sprintf("clean dirty streaming jobs: %v", err))
	}
	c.recoverBackgroundJobs()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(conf.Config.Recovery.RetryInitialMs) * time.Millisecond
	bo.MaxInterval = time.Duration(conf.Config.Recovery.RetryMaxMs) * time.Millisecond
	bo.MaxElapsedTime = 0 // retry until success

	var state *BarrierManagerState
	err := backoff.Retry(func() error {
		attemptErr := infra.SafeRun(func() error {
			var err error
			state, err = c.recoveryAttempt(prevEpoch, paused)
			return err
		})
		if attemptErr != nil {
			metrics.IncRecovery(attemptErr)
			conf.Log.Warnf("recovery attempt failed: %v", attemptErr)
		}
		return attemptErr
	}, backoff.WithContext(bo, c.ctx))
	if err != nil {
		// Only context cancellation escapes the infinite retry.
		conf.Log.Warnf("recovery aborted: %v", err)
		return nil
	}

	metrics.IncRecovery(nil)
	metrics.ObserveRecoveryDuration(timex.GetNow().Sub(start).Milliseconds())
	c.sched.MarkReady()
	conf.Log.Infof("recovery success: new epoch %s, paused=%s", state.InFlightPrevEpoch(), state.PausedReason())
	return state
}

// recoveryAttempt is one full pass of the recovery sequence. Any error makes
// the caller retry the whole pass from the top.
func (c *Coordinator) recoveryAttempt(prevEpoch protocol.Epoch, paused protocol.PausedReason) (*BarrierManagerState, error) {
	failpoint.Inject("recoveryAttemptErr", func() {
		failpoint.Return(nil, errorx.NewWithCode(errorx.RecoveryErr, "recoveryAttemptErr failpoint"))
	})
	c.preApplyDropCancel()

	// Move actors off expired workers onto newly joined ones.
	if err := c.migrateActors(); err != nil {
		conf.Log.Warnf("migrate actors failed: %v", err)
		return nil, err
	}

	// Reset every worker unconditionally. This is the one place where the
	// last known worker state is discarded rather than reconciled.
	if err := c.resetWorkers(); err != nil {
		conf.Log.Warnf("reset workers failed: %v", err)
		return nil, err
	}

	if c.preApplyDropCancel() {
		// Late drops changed the graph; placements resolve fresh below.
		conf.Log.Info("applied buffered drop/cancel commands after worker reset")
	}

	if err := c.pushActorGraph(); err != nil {
		conf.Log.Warnf("rebuild actor graph failed: %v", err)
		return nil, err
	}

	state := NewBarrierManagerState(prevEpoch, paused)
	pair := state.NextEpochPair()
	cmdCtx := &CommandContext{
		Info:             ResolveInflightActorInfo(c.cat, c.control),
		Epoch:            pair,
		Kind:             protocol.KindInitial,
		Command:          commandRecover{splits: c.cat.ActorSplits(), paused: paused},
		PrevPausedReason: paused,
		TableIDsToSync:   c.cat.TableIDs(),
	}
	cmdCtx.MustPreInject()

	// One synchronous round of injection and collection initializes every
	// rebuilt actor at the new epoch.
	needCollect, err := c.injectBarrierToWorkers(c.ctx, cmdCtx)
	if err != nil {
		return nil, err
	}
	for _, workerID := range needCollect {
		client, err := c.pool.Client(workerID)
		if err != nil {
			return nil, err
		}
		resp, err := client.AwaitBarrierComplete(c.ctx, pair.Prev)
		if err != nil {
			return nil, errorx.NewTransportErr(fmt.Sprintf("collect initial barrier %s from worker %d: %v", pair.Prev, workerID, err))
		}
		if len(resp.SyncedSSTs) != 0 {
			panic(fmt.Sprintf("initial barrier %s produced %d sstables on worker %d", pair.Prev, len(resp.SyncedSSTs), workerID))
		}
	}
	c.meta.UpdateCurrentEpoch(pair.Curr)
	return state, nil
}

// preApplyDropCancel drains buffered drop and cancel commands and applies
// them directly to the catalog, skipping their barriers. Recovery rebuilds
// the graph afterwards anyway.
func (c *Coordinator) preApplyDropCancel() bool {
	scheds := c.sched.PrePopDropCancels()
	for _, sched := range scheds {
		var ids []protocol.JobID
		switch cmd := sched.Command.(type) {
		case *CommandDropStreamingJobs:
			ids = cmd.JobIDs
		case *CommandCancelStreamingJob:
			ids = []protocol.JobID{cmd.JobID}
		}
		c.tracker.AbortJobs(ids)
		for _, id := range ids {
			c.cancelStashedJob(id)
		}
		if err := c.cat.DropJobs(ids); err != nil {
			conf.Log.Warnf("pre-apply drop of jobs %v: %v", ids, err)
			for _, n := range sched.Notifiers {
				n.NotifyFailed(err)
			}
			continue
		}
		for _, n := range sched.Notifiers {
			n.NotifyCollected(nil)
			n.NotifyFinished(nil)
		}
		conf.Log.Infof("pre-applied %s during recovery", sched.Command)
	}
	return len(scheds) > 0
}

// recoverBackgroundJobs restores the progress tracker for background jobs
// that were still backfilling, so their reported progress survives the
// coordinator restart. Foreground creating jobs were already cleaned.
func (c *Coordinator) recoverBackgroundJobs() {
	for _, job := range c.cat.CreatingJobs() {
		actors := c.cat.JobActors(job.ID)
		c.tracker.AddJob(job, actors)
		rows, err := catalog.LoadProgress(job.ID)
		if err != nil {
			conf.Log.Warnf("load progress of job %d: %v", job.ID, err)
			continue
		}
		c.tracker.SeedConsumedRows(job.ID, rows)
		conf.Log.Infof("recovered backfill progress of job %d over %d actors", job.ID, len(actors))
	}
}

func (c *Coordinator) resetWorkers() error {
	for _, w := range c.workers.ActiveWorkers() {
		client, err := c.pool.Client(w.ID)
		if err != nil {
			return err
		}
		if err := client.ForceStopActors(c.ctx); err != nil {
			return errorx.NewTransportErr(fmt.Sprintf("reset worker %d: %v", w.ID, err))
		}
	}
	conf.Log.Debugf("reset %d workers", len(c.workers.ActiveWorkers()))
	return nil
}

// pushActorGraph re-announces and rebuilds every placed actor on its worker.
func (c *Coordinator) pushActorGraph() error {
	byWorker := c.cat.StreamActorsByWorker()
	if len(byWorker) == 0 {
		conf.Log.Debug("no actor to rebuild, skipping")
		return nil
	}
	var infos []protocol.ActorInfo
	for workerID, actors := range byWorker {
		var host string
		if w, ok := c.workers.Worker(workerID); ok {
			host = w.Addr
		}
		for _, a := range actors {
			infos = append(infos, protocol.ActorInfo{ActorID: a.ActorID, WorkerID: workerID, Host: host})
		}
	}
	workerIDs := make([]protocol.WorkerID, 0, len(byWorker))
	for id := range byWorker {
		workerIDs = append(workerIDs, id)
	}
	sort.Slice(workerIDs, func(i, j int) bool { return workerIDs[i] < workerIDs[j] })
	for _, workerID := range workerIDs {
		client, err := c.pool.Client(workerID)
		if err != nil {
			return err
		}
		if err := client.UpdateActors(c.ctx, infos); err != nil {
			return errorx.NewTransportErr(fmt.Sprintf("update actors on worker %d: %v", workerID, err))
		}
		if err := client.BuildActors(c.ctx, byWorker[workerID]); err != nil {
			return errorx.NewTransportErr(fmt.Sprintf("build actors on worker %d: %v", workerID, err))
		}
	}
	conf.Log.Infof("rebuilt actors on %d workers", len(workerIDs))
	return nil
}

// migrateActors moves placements off slots whose worker expired. No-op when
// every in-use slot is still active.
func (c *Coordinator) migrateActors() error {
	inuse := c.cat.InuseSlots()
	active := make(map[protocol.WorkerSlot]bool)
	for _, s := range c.workers.ActiveSlots() {
		active[s] = true
	}
	var expired []protocol.WorkerSlot
	for _, s := range inuse {
		if !active[s] {
			expired = append(expired, s)
		}
	}
	if len(expired) == 0 {
		conf.Log.Debug("no expired slots, skipping migration")
		return nil
	}
	plan, err := c.generateMigrationPlan(expired)
	if err != nil {
		return err
	}
	moved, err := c.cat.MoveActors(plan)
	if err != nil {
		return err
	}
	for workerID, n := range moved {
		metrics.AddMigratedActors(strconv.FormatUint(uint64(workerID), 10), n)
		conf.Log.Infof("migrated %d actors to worker %d", n, workerID)
	}
	// The applied plan is spent; a stale one must not bind the next recovery.
	return deleteMigrationPlan()
}

// migrationPlan is the persisted expired-slot to replacement-slot mapping.
// Persisting it keeps partial migrations stable across recovery retries: a
// slot already planned is never replanned.
type migrationPlan struct {
	Slots map[protocol.WorkerSlot]protocol.WorkerSlot
}

func loadMigrationPlan() (migrationPlan, error) {
	plan := migrationPlan{Slots: make(map[protocol.WorkerSlot]protocol.WorkerSlot)}
	db, err := store.GetKV(migrationTable)
	if err != nil {
		return plan, err
	}
	if _, err := db.Get(migrationKey, &plan); err != nil {
		return plan, err
	}
	if plan.Slots == nil {
		plan.Slots = make(map[protocol.WorkerSlot]protocol.WorkerSlot)
	}
	return plan, nil
}

func saveMigrationPlan(plan migrationPlan) error {
	db, err := store.GetKV(migrationTable)
	if err != nil {
		return err
	}
	return db.Set(migrationKey, plan)
}

func deleteMigrationPlan() error {
	db, err := store.GetKV(migrationTable)
	if err != nil {
		return err
	}
	return db.Delete(migrationKey)
}

// generateMigrationPlan maps every expired in-use slot to a replacement
// slot. The assignment is deterministic: expired slots are sorted and
// consumed smallest first, targets are taken in slot order, and entries of
// the previously persisted plan are honored rather than recomputed. When
// there are not enough free slots the plan waits for new workers to join.
func (c *Coordinator) generateMigrationPlan(expired []protocol.WorkerSlot) (map[protocol.WorkerSlot]protocol.WorkerSlot, error) {
	cached, err := loadMigrationPlan()
	if err != nil {
		return nil, err
	}

	expiredSet := make(map[protocol.WorkerSlot]bool, len(expired))
	for _, s := range expired {
		expiredSet[s] = true
	}
	expiredWorkers := make(map[protocol.WorkerID]bool)
	for _, s := range expired {
		expiredWorkers[s.WorkerID] = true
	}

	// Slots already claimed: in-use slots on live workers plus targets of the
	// surviving cached entries.
	inuse := make(map[protocol.WorkerSlot]bool)
	for _, s := range c.cat.InuseSlots() {
		if !expiredSet[s] {
			inuse[s] = true
		}
	}
	for from, to := range cached.Slots {
		keep := false
		if expiredSet[from] {
			if expiredSet[to] {
				// A chained entry; collapsed below.
				keep = true
			} else {
				// Drop targets that expired themselves.
				keep = !expiredWorkers[to.WorkerID]
			}
		}
		if !keep {
			delete(cached.Slots, from)
			continue
		}
		inuse[to] = true
	}

	// Expired slots not yet planned, sorted ascending and consumed from the
	// front so that the assignment is reproducible.
	var toMigrate []protocol.WorkerSlot
	for _, s := range expired {
		if _, ok := cached.Slots[s]; !ok {
			toMigrate = append(toMigrate, s)
		}
	}
	protocol.SortWorkerSlots(toMigrate)

	start := timex.GetNow()
	for len(toMigrate) > 0 {
		var free []protocol.WorkerSlot
		for _, s := range c.workers.ActiveSlots() {
			if !inuse[s] {
				free = append(free, s)
			}
		}
		for _, target := range free {
			if len(toMigrate) == 0 {
				break
			}
			from := toMigrate[0]
			toMigrate = toMigrate[1:]
			cached.Slots[from] = target
			inuse[target] = true
			conf.Log.Debugf("plan to migrate slot %s to %s", from, target)
		}
		if len(toMigrate) == 0 {
			break
		}
		conf.Log.Warnf("waiting for new workers to join, %d slots unplanned, elapsed %v", len(toMigrate), timex.GetNow().Sub(start))
		select {
		case <-c.ctx.Done():
			return nil, c.ctx.Err()
		default:
		}
		timex.Sleep(slotDiscoveryInterval)
	}

	// Collapse chains: an entry whose target itself expired follows the plan
	// until it lands on a live slot.
	out := make(map[protocol.WorkerSlot]protocol.WorkerSlot, len(cached.Slots))
	for from, to := range cached.Slots {
		for {
			next, ok := cached.Slots[to]
			if !ok {
				break
			}
			to = next
		}
		out[from] = to
	}
	targets := make(map[protocol.WorkerSlot]bool, len(out))
	for _, to := range out {
		if targets[to] {
			panic(fmt.Sprintf("migration plan reuses target slot %s", to))
		}
		targets[to] = true
	}
	if err := saveMigrationPlan(migrationPlan{Slots: out}); err != nil {
		return nil, err
	}
	return out, nil
}
