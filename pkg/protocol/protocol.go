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

// Package protocol defines the data model shared by the barrier coordinator
// and the per-worker barrier state machine: epochs, barriers, mutations and
// the payloads of the abstract worker RPC surface. Everything here is pure
// data so that both halves of the protocol can be tested deterministically.
package protocol

import (
	"fmt"
	"sort"

	"github.com/lf-edge/oort/pkg/timex"
)

type (
	// ActorID identifies one scheduled instance of one operator.
	ActorID uint32
	// WorkerID identifies a worker process hosting actors.
	WorkerID uint32
	// FragmentID identifies a logical operator stage (a set of parallel actors).
	FragmentID uint32
	// TableID identifies a state table owned by a streaming job.
	TableID uint32
	// SlotID identifies one parallel resource slot on a worker.
	SlotID uint32
	// PartialGraphID scopes barrier tracking to a subset of the actor graph.
	PartialGraphID uint32
)

// JobID equals the id of the job's primary state table.
type JobID = TableID

// GlobalGraphID is the partial graph of the steady-state global barrier flow.
const GlobalGraphID PartialGraphID = 1<<32 - 1

// Epoch is a monotonically increasing logical timestamp. The high bits carry
// physical milliseconds, the low EpochSeqBits carry a sequence number so that
// multiple epochs can be minted within one millisecond.
type Epoch uint64

const EpochSeqBits = 16

// EpochFromPhysical builds the smallest epoch for the given physical time.
func EpochFromPhysical(millis int64) Epoch {
	return Epoch(uint64(millis) << EpochSeqBits)
}

// Physical returns the wall-clock milliseconds encoded in the epoch.
func (e Epoch) Physical() int64 {
	return int64(e >> EpochSeqBits)
}

func (e Epoch) String() string {
	return fmt.Sprintf("%d(%d.%d)", uint64(e), e.Physical(), uint64(e)&(1<<EpochSeqBits-1))
}

// NextEpoch mints an epoch strictly greater than prev, preferring the current
// physical time and falling back to prev+1 when the clock has not advanced
// (or has gone backwards).
func NextEpoch(prev Epoch) Epoch {
	e := EpochFromPhysical(timex.GetNowInMilli())
	if e <= prev {
		e = prev + 1
	}
	return e
}

// EpochPair is the (prev, curr] range a barrier closes. Prev < Curr always.
type EpochPair struct {
	Prev Epoch
	Curr Epoch
}

// NextEpochPair advances from the given in-flight prev epoch.
func NextEpochPair(prev Epoch) EpochPair {
	return EpochPair{Prev: prev, Curr: NextEpoch(prev)}
}

// BarrierKind classifies what collecting a barrier does to storage.
type BarrierKind int

const (
	// KindInitial is the first barrier after bootstrap or recovery. No data
	// precedes it, so it neither seals nor syncs anything.
	KindInitial BarrierKind = iota
	// KindBarrier advances the readable epoch without a durable commit.
	KindBarrier
	// KindCheckpoint triggers a durable storage commit when collected.
	KindCheckpoint
)

var kindNames = map[BarrierKind]string{
	KindInitial:    "initial",
	KindBarrier:    "barrier",
	KindCheckpoint: "checkpoint",
}

func (k BarrierKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k BarrierKind) IsCheckpoint() bool {
	return k == KindCheckpoint
}

// Barrier is the control message injected into every actor's input stream.
type Barrier struct {
	Epoch    EpochPair
	Mutation Mutation
	Kind     BarrierKind
	// PrevEpochsToCommit lists, for a checkpoint barrier, its own prev epoch
	// plus every non-checkpoint prev epoch folded into this commit, ascending.
	PrevEpochsToCommit []Epoch
}

// AllStopActors returns the actors stopped by this barrier's mutation, nil if
// none. Combined mutations are searched in order.
func (b *Barrier) AllStopActors() []ActorID {
	return mutationStopActors(b.Mutation)
}

func mutationStopActors(m Mutation) []ActorID {
	switch m := m.(type) {
	case *StopMutation:
		return m.Actors
	case *UpdateMutation:
		return m.DroppedActors
	case *CombinedMutation:
		var all []ActorID
		for _, inner := range m.Mutations {
			all = append(all, mutationStopActors(inner)...)
		}
		return all
	default:
		return nil
	}
}

// IsPause reports whether the barrier pauses the graph on injection.
func (b *Barrier) IsPause() bool {
	switch m := b.Mutation.(type) {
	case *PauseMutation:
		return true
	case *AddMutation:
		return m.Pause
	default:
		return false
	}
}

// PausedReason explains why barrier injection of data flow is paused.
type PausedReason int

const (
	NotPaused PausedReason = iota
	// PausedManual is requested by the user through the admin surface.
	PausedManual
	// PausedConfigChange guards an online reconfiguration such as scaling.
	PausedConfigChange
)

var pausedReasonNames = map[PausedReason]string{
	NotPaused:          "not_paused",
	PausedManual:       "manual",
	PausedConfigChange: "config_change",
}

func (r PausedReason) String() string {
	if n, ok := pausedReasonNames[r]; ok {
		return n
	}
	return fmt.Sprintf("paused(%d)", int(r))
}

// SSTableInfo describes one synced SST produced by a worker for an epoch.
// The coordinator forwards these to the storage engine's commit.
type SSTableInfo struct {
	ObjectID uint64
	TableIDs []TableID
	FileSize uint64
	Epoch    Epoch
	WorkerID WorkerID
}

// WorkerSlot pins one parallel slot on one worker. Actor migration depends
// on the total order Less defines.
type WorkerSlot struct {
	WorkerID WorkerID
	ID       SlotID
}

func (s WorkerSlot) Less(o WorkerSlot) bool {
	if s.WorkerID != o.WorkerID {
		return s.WorkerID < o.WorkerID
	}
	return s.ID < o.ID
}

func (s WorkerSlot) String() string {
	return fmt.Sprintf("%d:%d", uint32(s.WorkerID), uint32(s.ID))
}

// SortWorkerSlots orders slots in place by worker then slot index.
func SortWorkerSlots(slots []WorkerSlot) {
	sort.Slice(slots, func(i, j int) bool { return slots[i].Less(slots[j]) })
}
