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

package runtime

import (
	"context"
	"fmt"

	"github.com/lf-edge/oort/internal/conf"
	"github.com/lf-edge/oort/internal/storage"
	"github.com/lf-edge/oort/pkg/infra"
	"github.com/lf-edge/oort/pkg/protocol"
)

type epochInner int

const (
	// epochIssued means the barrier reached the graph and actors are still
	// collecting.
	epochIssued epochInner = iota
	// epochAllCollected means every actor collected; the seal happened and,
	// for checkpoints, the storage sync is running.
	epochAllCollected
)

type barrierEpochState struct {
	currEpoch protocol.Epoch
	remaining map[protocol.ActorID]bool
	mutation  protocol.Mutation
	kind      protocol.BarrierKind
	tableIDs  []protocol.TableID
	inner     epochInner
}

type syncOutcome struct {
	result *storage.SyncResult
	err    error
}

type syncTask struct {
	prevEpoch protocol.Epoch
	currEpoch protocol.Epoch
	kind      protocol.BarrierKind
	done      chan syncOutcome
}

// CompletedEpoch is one epoch whose collection and storage sync both
// finished, surfaced to the worker loop in strict per-graph epoch order.
type CompletedEpoch struct {
	GraphID   protocol.PartialGraphID
	PrevEpoch protocol.Epoch
	CurrEpoch protocol.Epoch
	Kind      protocol.BarrierKind
	Result    *storage.SyncResult
	Err       error
}

const syncQueueCap = 1024

// PartialGraphBarrierState aggregates actor collection into per-epoch
// completion for one partial graph. Sync tasks race internally but their
// completions drain from the front of a FIFO, so callers observe epochs in
// the order they were sealed.
type PartialGraphBarrierState struct {
	graphID protocol.PartialGraphID
	store   storage.StateStore
	states  map[protocol.Epoch]*barrierEpochState
	epochs  []protocol.Epoch

	tasks     chan *syncTask
	completed chan<- *CompletedEpoch
	ctx       context.Context
	cancel    context.CancelFunc
}

func newPartialGraphBarrierState(ctx context.Context, id protocol.PartialGraphID, store storage.StateStore, completed chan<- *CompletedEpoch) *PartialGraphBarrierState {
	gctx, cancel := context.WithCancel(ctx)
	g := &PartialGraphBarrierState{
		graphID:   id,
		store:     store,
		states:    make(map[protocol.Epoch]*barrierEpochState),
		tasks:     make(chan *syncTask, syncQueueCap),
		completed: completed,
		ctx:       gctx,
		cancel:    cancel,
	}
	go func() {
		err := infra.SafeRun(g.drainCompletions)
		if err != nil {
			conf.Log.Errorf("graph %d completion drain stopped: %v", id, err)
		}
	}()
	return g
}

// drainCompletions forwards finished sync tasks one at a time in submission
// order, waiting on the front task even when later tasks finish first.
func (g *PartialGraphBarrierState) drainCompletions() error {
	for {
		select {
		case <-g.ctx.Done():
			return nil
		case task := <-g.tasks:
			var out syncOutcome
			select {
			case <-g.ctx.Done():
				return nil
			case out = <-task.done:
			}
			c := &CompletedEpoch{
				GraphID:   g.graphID,
				PrevEpoch: task.prevEpoch,
				CurrEpoch: task.currEpoch,
				Kind:      task.kind,
				Result:    out.result,
				Err:       out.err,
			}
			select {
			case <-g.ctx.Done():
				return nil
			case g.completed <- c:
			}
		}
	}
}

// TransformToIssued registers one injected barrier. alreadyCollected holds
// actors whose collect raced ahead of the inject request; they must be a
// subset of the announced collect set.
func (g *PartialGraphBarrierState) TransformToIssued(b *protocol.Barrier, actorsToCollect []protocol.ActorID, tableIDs []protocol.TableID, alreadyCollected map[protocol.ActorID]bool) {
	prev := b.Epoch.Prev
	if _, ok := g.states[prev]; ok {
		panic(fmt.Sprintf("barrier %s issued twice to graph %d", prev, g.graphID))
	}
	if n := len(g.epochs); n > 0 && prev <= g.epochs[n-1] {
		panic(fmt.Sprintf("barrier %s issued to graph %d behind %s", prev, g.graphID, g.epochs[n-1]))
	}
	remaining := make(map[protocol.ActorID]bool, len(actorsToCollect))
	for _, id := range actorsToCollect {
		remaining[id] = true
	}
	for id := range alreadyCollected {
		if !remaining[id] {
			panic(fmt.Sprintf("actor %d collected %s before issue but is not in the collect set", id, prev))
		}
		delete(remaining, id)
	}
	g.states[prev] = &barrierEpochState{
		currEpoch: b.Epoch.Curr,
		remaining: remaining,
		mutation:  b.Mutation,
		kind:      b.Kind,
		tableIDs:  tableIDs,
		inner:     epochIssued,
	}
	g.epochs = append(g.epochs, prev)
	g.mayHaveCollectedAll()
}

// Collect marks one actor done for one epoch.
func (g *PartialGraphBarrierState) Collect(actorID protocol.ActorID, prevEpoch protocol.Epoch) {
	st, ok := g.states[prevEpoch]
	if !ok || st.inner != epochIssued {
		panic(fmt.Sprintf("actor %d collected unknown epoch %s on graph %d", actorID, prevEpoch, g.graphID))
	}
	if !st.remaining[actorID] {
		panic(fmt.Sprintf("actor %d collected %s twice on graph %d", actorID, prevEpoch, g.graphID))
	}
	delete(st.remaining, actorID)
	g.mayHaveCollectedAll()
}

// mayHaveCollectedAll walks epochs ascending, sealing and syncing every fully
// collected one, and stops at the first epoch still awaiting actors. Later
// epochs are never examined before earlier ones complete, which preserves
// commit order at the source.
func (g *PartialGraphBarrierState) mayHaveCollectedAll() {
	for _, prev := range g.epochs {
		st := g.states[prev]
		if st.inner == epochAllCollected {
			continue
		}
		if len(st.remaining) > 0 {
			return
		}
		st.inner = epochAllCollected
		if st.kind != protocol.KindInitial {
			g.store.SealEpoch(prev, st.kind.IsCheckpoint())
		}
		task := &syncTask{
			prevEpoch: prev,
			currEpoch: st.currEpoch,
			kind:      st.kind,
			done:      make(chan syncOutcome, 1),
		}
		if st.kind.IsCheckpoint() {
			tables := st.tableIDs
			go func() {
				err := infra.SafeRun(func() error {
					res, err := g.store.Sync(g.ctx, prev, tables)
					task.done <- syncOutcome{result: res, err: err}
					return nil
				})
				if err != nil {
					task.done <- syncOutcome{err: err}
				}
			}()
		} else {
			task.done <- syncOutcome{result: &storage.SyncResult{}}
		}
		select {
		case g.tasks <- task:
		default:
			panic(fmt.Sprintf("graph %d has %d unconsumed sync tasks", g.graphID, syncQueueCap))
		}
	}
}

// PopCompletedEpoch drops the front epoch after its completion surfaced.
func (g *PartialGraphBarrierState) PopCompletedEpoch(prevEpoch protocol.Epoch) {
	if len(g.epochs) == 0 || g.epochs[0] != prevEpoch {
		panic(fmt.Sprintf("pop of %s on graph %d but the front differs", prevEpoch, g.graphID))
	}
	delete(g.states, prevEpoch)
	g.epochs = g.epochs[1:]
}

// BarrierMutation returns the mutation of a still-tracked epoch.
func (g *PartialGraphBarrierState) BarrierMutation(prevEpoch protocol.Epoch) (protocol.Mutation, bool) {
	st, ok := g.states[prevEpoch]
	if !ok {
		return nil, false
	}
	return st.mutation, true
}

// EpochsAwaiting lists tracked epochs still waiting on the given actor.
func (g *PartialGraphBarrierState) EpochsAwaiting(actorID protocol.ActorID) []protocol.Epoch {
	var out []protocol.Epoch
	for _, prev := range g.epochs {
		if g.states[prev].remaining[actorID] {
			out = append(out, prev)
		}
	}
	return out
}

// InflightCount reports tracked, not yet popped epochs.
func (g *PartialGraphBarrierState) InflightCount() int {
	return len(g.epochs)
}

func (g *PartialGraphBarrierState) close() {
	g.cancel()
}
