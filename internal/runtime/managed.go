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
	"sort"

	"github.com/lf-edge/oort/internal/conf"
	"github.com/lf-edge/oort/internal/storage"
	"github.com/lf-edge/oort/pkg/protocol"
)

// stashedCollection buffers collects that raced ahead of their inject
// request. The inject request names the partial graph, so until it arrives
// the collected actors are parked here keyed by prev epoch.
type stashedCollection struct {
	currEpoch protocol.Epoch
	collected map[protocol.ActorID]bool
}

const completedQueueCap = 64

// ManagedBarrierState composes the actor states and partial graph states of
// one worker. It is owned by the worker event loop; only that goroutine may
// call its methods, so no lock guards the maps. Invariant violations panic
// because they mean the bookkeeping diverged from the dataflow and committed
// snapshots could silently corrupt.
type ManagedBarrierState struct {
	workerID  protocol.WorkerID
	store     storage.StateStore
	actors    map[protocol.ActorID]*InflightActorState
	graphs    map[protocol.PartialGraphID]*PartialGraphBarrierState
	stashed   map[protocol.Epoch]*stashedCollection
	completed chan *CompletedEpoch
	ctx       context.Context
}

func NewManagedBarrierState(ctx context.Context, workerID protocol.WorkerID, store storage.StateStore) *ManagedBarrierState {
	return &ManagedBarrierState{
		workerID:  workerID,
		store:     store,
		actors:    make(map[protocol.ActorID]*InflightActorState),
		graphs:    make(map[protocol.PartialGraphID]*PartialGraphBarrierState),
		stashed:   make(map[protocol.Epoch]*stashedCollection),
		completed: make(chan *CompletedEpoch, completedQueueCap),
		ctx:       ctx,
	}
}

// Completions is the channel completed epochs surface on, in per-graph epoch
// order.
func (m *ManagedBarrierState) Completions() <-chan *CompletedEpoch {
	return m.completed
}

// InjectBarrier registers one barrier with the graph and issues it to the
// send set. The caller delivers the barrier to the actors afterwards.
func (m *ManagedBarrierState) InjectBarrier(req *protocol.InjectBarrierRequest) {
	b := &req.Barrier
	graph, ok := m.graphs[req.PartialGraphID]
	if !ok {
		graph = newPartialGraphBarrierState(m.ctx, req.PartialGraphID, m.store, m.completed)
		m.graphs[req.PartialGraphID] = graph
		conf.Log.Debugf("worker %d opened partial graph %d", m.workerID, req.PartialGraphID)
	}

	stops := make(map[protocol.ActorID]bool)
	for _, id := range b.AllStopActors() {
		stops[id] = true
	}
	for _, id := range req.ActorIDsToSend {
		a, ok := m.actors[id]
		if !ok {
			a = newInflightActorState(id)
			m.actors[id] = a
		}
		from, moved := a.IssueBarrier(req.PartialGraphID, b, stops[id])
		if moved {
			conf.Log.Debugf("actor %d moved from graph %d to graph %d at %s", id, from, req.PartialGraphID, b.Epoch.Prev)
		}
	}

	var raced map[protocol.ActorID]bool
	if s, ok := m.stashed[b.Epoch.Prev]; ok {
		if s.currEpoch != b.Epoch.Curr {
			panic(fmt.Sprintf("stashed collection for %s has curr %s, inject has %s", b.Epoch.Prev, s.currEpoch, b.Epoch.Curr))
		}
		raced = s.collected
		delete(m.stashed, b.Epoch.Prev)
	}
	graph.TransformToIssued(b, req.ActorIDsToCollect, req.TableIDsToSync, raced)
}

// Collect routes one actor acknowledgment. A collect whose inject request has
// not arrived yet is stashed. Returns true when the actor was stopping and
// its state was removed.
func (m *ManagedBarrierState) Collect(actorID protocol.ActorID, epoch protocol.EpochPair) bool {
	a := m.actors[actorID]
	if a == nil || len(a.epochs) == 0 {
		s, ok := m.stashed[epoch.Prev]
		if !ok {
			s = &stashedCollection{currEpoch: epoch.Curr, collected: make(map[protocol.ActorID]bool)}
			m.stashed[epoch.Prev] = s
		}
		if s.collected[actorID] {
			panic(fmt.Sprintf("actor %d collected %s twice before issue", actorID, epoch.Prev))
		}
		s.collected[actorID] = true
		return false
	}
	entry, res := a.Collect(epoch.Prev)
	graph, ok := m.graphs[entry.graph]
	if !ok {
		panic(fmt.Sprintf("actor %d collected %s on missing graph %d", actorID, epoch.Prev, entry.graph))
	}
	graph.Collect(actorID, epoch.Prev)
	if res == CollectRemove {
		delete(m.actors, actorID)
		conf.Log.Debugf("actor %d stopped after collecting %s", actorID, epoch.Prev)
		return true
	}
	return false
}

// PopCompletedEpoch acknowledges one surfaced completion, freeing the front
// slot of its graph. Returns false for a graph that no longer exists, which
// happens when a completion from before a Reset straggles in.
func (m *ManagedBarrierState) PopCompletedEpoch(graphID protocol.PartialGraphID, prevEpoch protocol.Epoch) bool {
	graph, ok := m.graphs[graphID]
	if !ok {
		return false
	}
	graph.PopCompletedEpoch(prevEpoch)
	return true
}

// EpochsAwaitOnActor lists every tracked epoch still waiting on the actor,
// ascending. A failing actor fails exactly these epochs.
func (m *ManagedBarrierState) EpochsAwaitOnActor(actorID protocol.ActorID) []protocol.Epoch {
	var out []protocol.Epoch
	for _, g := range m.graphs {
		out = append(out, g.EpochsAwaiting(actorID)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BarrierMutation looks the mutation of a tracked epoch up across graphs.
func (m *ManagedBarrierState) BarrierMutation(prevEpoch protocol.Epoch) (protocol.Mutation, bool) {
	for _, g := range m.graphs {
		if mu, ok := g.BarrierMutation(prevEpoch); ok {
			return mu, true
		}
	}
	return nil, false
}

// RemoveActor drops the bookkeeping of one actor, used when actors are
// force-dropped outside the stop-barrier path.
func (m *ManagedBarrierState) RemoveActor(actorID protocol.ActorID) {
	delete(m.actors, actorID)
}

// RemovePartialGraph retires a graph that has no tracked epochs left.
func (m *ManagedBarrierState) RemovePartialGraph(graphID protocol.PartialGraphID) error {
	graph, ok := m.graphs[graphID]
	if !ok {
		return nil
	}
	if n := graph.InflightCount(); n > 0 {
		return fmt.Errorf("graph %d still tracks %d epochs", graphID, n)
	}
	graph.close()
	delete(m.graphs, graphID)
	conf.Log.Debugf("worker %d removed partial graph %d", m.workerID, graphID)
	return nil
}

// Reset discards every graph, actor and stashed collection along with the
// staged storage state. Only recovery calls this; the next barrier must be an
// Initial one.
func (m *ManagedBarrierState) Reset() {
	for _, g := range m.graphs {
		g.close()
	}
	m.graphs = make(map[protocol.PartialGraphID]*PartialGraphBarrierState)
	m.actors = make(map[protocol.ActorID]*InflightActorState)
	m.stashed = make(map[protocol.Epoch]*stashedCollection)
	m.store.Reset()
	for {
		select {
		case <-m.completed:
		default:
			return
		}
	}
}
