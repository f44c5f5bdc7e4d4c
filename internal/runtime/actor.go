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

// Package runtime is the worker half of the barrier protocol. Each worker
// runs one event loop that issues injected barriers to its actors, aggregates
// per-actor collection into per-epoch completion, drives the state store
// seal/sync cycle and surfaces completed epochs to the coordinator strictly
// in epoch order.
package runtime

import (
	"fmt"

	"github.com/lf-edge/oort/pkg/protocol"
)

type ActorStatus int

const (
	ActorNotStarted ActorStatus = iota
	// ActorPending has collected every issued barrier and waits for the next
	// one. It remembers the last partial graph so a re-issue on a different
	// graph can move its bookkeeping.
	ActorPending
	ActorRunning
)

var actorStatusNames = map[ActorStatus]string{
	ActorNotStarted: "not_started",
	ActorPending:    "pending",
	ActorRunning:    "running",
}

func (s ActorStatus) String() string {
	if n, ok := actorStatusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// CollectResult tells the registry what to do with the actor after one
// collect.
type CollectResult int

const (
	// CollectRemain leaves the actor running with older barriers outstanding.
	CollectRemain CollectResult = iota
	// CollectBecamePending means the last outstanding barrier was collected.
	CollectBecamePending
	// CollectRemove means the actor was stopping and finished its final
	// barrier; its state must be dropped.
	CollectRemove
)

type issuedBarrier struct {
	graph    protocol.PartialGraphID
	mutation protocol.Mutation
}

// InflightActorState tracks the barriers issued to one actor that it has not
// collected yet. While Running the inflight map is never empty.
type InflightActorState struct {
	actorID    protocol.ActorID
	status     ActorStatus
	inflight   map[protocol.Epoch]issuedBarrier
	epochs     []protocol.Epoch
	isStopping bool

	pendingGraph     protocol.PartialGraphID
	pendingPrevEpoch protocol.Epoch
}

func newInflightActorState(id protocol.ActorID) *InflightActorState {
	return &InflightActorState{
		actorID:  id,
		status:   ActorNotStarted,
		inflight: make(map[protocol.Epoch]issuedBarrier),
	}
}

// IssueBarrier records one barrier as outstanding. The returned flag reports
// that the actor was Pending on a different partial graph, in which case the
// caller must move its bookkeeping from the returned graph to the new one.
func (a *InflightActorState) IssueBarrier(graph protocol.PartialGraphID, b *protocol.Barrier, isStop bool) (protocol.PartialGraphID, bool) {
	prev := b.Epoch.Prev
	if _, ok := a.inflight[prev]; ok {
		panic(fmt.Sprintf("barrier %s issued twice to actor %d", prev, a.actorID))
	}
	if n := len(a.epochs); n > 0 && prev <= a.epochs[n-1] {
		panic(fmt.Sprintf("barrier %s issued to actor %d behind %s", prev, a.actorID, a.epochs[n-1]))
	}
	movedFrom := a.pendingGraph
	moved := a.status == ActorPending && a.pendingGraph != graph
	a.inflight[prev] = issuedBarrier{graph: graph, mutation: b.Mutation}
	a.epochs = append(a.epochs, prev)
	a.status = ActorRunning
	if isStop {
		a.isStopping = true
	}
	return movedFrom, moved
}

// Collect pops the oldest outstanding barrier, which must be the given one.
// Collecting any other epoch means the actor answered barriers out of order
// and the bookkeeping is corrupt.
func (a *InflightActorState) Collect(prevEpoch protocol.Epoch) (issuedBarrier, CollectResult) {
	if a.status != ActorRunning || len(a.epochs) == 0 {
		panic(fmt.Sprintf("actor %d collected %s while %s", a.actorID, prevEpoch, a.status))
	}
	if oldest := a.epochs[0]; oldest != prevEpoch {
		panic(fmt.Sprintf("actor %d collected %s but %s is oldest outstanding", a.actorID, prevEpoch, oldest))
	}
	entry := a.inflight[prevEpoch]
	delete(a.inflight, prevEpoch)
	a.epochs = a.epochs[1:]
	if len(a.epochs) > 0 {
		return entry, CollectRemain
	}
	if a.isStopping {
		return entry, CollectRemove
	}
	a.status = ActorPending
	a.pendingGraph = entry.graph
	a.pendingPrevEpoch = prevEpoch
	return entry, CollectBecamePending
}

// HasIssued reports whether the given prev epoch is still outstanding.
func (a *InflightActorState) HasIssued(prevEpoch protocol.Epoch) bool {
	_, ok := a.inflight[prevEpoch]
	return ok
}

// OutstandingEpochs lists the issued-but-uncollected prev epochs ascending.
// Issue order is ascending, so the copy already is.
func (a *InflightActorState) OutstandingEpochs() []protocol.Epoch {
	out := make([]protocol.Epoch, len(a.epochs))
	copy(out, a.epochs)
	return out
}

func (a *InflightActorState) Status() ActorStatus {
	return a.status
}

func (a *InflightActorState) IsStopping() bool {
	return a.isStopping
}
