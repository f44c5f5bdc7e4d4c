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
	"time"

	"github.com/lf-edge/oort/pkg/protocol"
	"github.com/lf-edge/oort/pkg/timex"
)

type NodeState int

const (
	NodeInFlight NodeState = iota
	NodeCompleted
)

// EpochNode is one in-flight barrier awaiting collection. Nodes live in the
// control queue from injection until their epoch is drained in order.
type EpochNode struct {
	EnqueueTime time.Time
	State       NodeState
	Resp        protocol.BarrierCompleteResponse
	Command     *CommandContext
	Notifiers   []*Notifier
}

// ActorStatus describes how an actor relates to the barrier being resolved.
type ActorStatus int

const (
	// ActorInactive actors belong to a table whose first barrier has not
	// completed yet.
	ActorInactive ActorStatus = iota
	// ActorRunning actors are part of the committed streaming graph.
	ActorRunning
)

// CheckpointControl owns the in-flight barrier queue and the topology
// overlays of commands that have been injected but not yet collected. The
// overlays let later concurrent barriers resolve against the graph as it
// will look once the earlier barriers land.
type CheckpointControl struct {
	queue  []*EpochNode
	byPrev map[protocol.Epoch]*EpochNode

	creatingTables map[protocol.TableID]bool
	droppingTables map[protocol.TableID]bool
	addingActors   map[protocol.ActorID]protocol.WorkerID
	removingActors map[protocol.ActorID]bool
}

func NewCheckpointControl() *CheckpointControl {
	return &CheckpointControl{
		byPrev:         make(map[protocol.Epoch]*EpochNode),
		creatingTables: make(map[protocol.TableID]bool),
		droppingTables: make(map[protocol.TableID]bool),
		addingActors:   make(map[protocol.ActorID]protocol.WorkerID),
		removingActors: make(map[protocol.ActorID]bool),
	}
}

// CanInjectBarrier reports whether another barrier may enter the pipeline.
// Injection stops while the in-flight window is full or while a barrier that
// pauses injection is still awaiting collection.
func (c *CheckpointControl) CanInjectBarrier(window int) bool {
	if c.InFlightCount() >= window {
		return false
	}
	for i, node := range c.queue {
		if commandShouldPauseInject(node.Command.Command) {
			if i != len(c.queue)-1 {
				panic(fmt.Sprintf("inject-pausing barrier %s is not the newest in flight", node.Command.Epoch.Prev))
			}
			return false
		}
	}
	return true
}

// EnqueueCommand appends an injected barrier to the queue. Epochs must
// arrive strictly ascending and nothing may be enqueued behind a barrier
// that pauses injection.
func (c *CheckpointControl) EnqueueCommand(cmd *CommandContext, notifiers []*Notifier) {
	prev := cmd.Epoch.Prev
	if _, ok := c.byPrev[prev]; ok {
		panic(fmt.Sprintf("barrier %s is already in flight", prev))
	}
	if n := len(c.queue); n > 0 {
		last := c.queue[n-1]
		if last.Command.Epoch.Prev >= prev {
			panic(fmt.Sprintf("barrier %s enqueued after %s", prev, last.Command.Epoch.Prev))
		}
		if commandShouldPauseInject(last.Command.Command) {
			panic(fmt.Sprintf("barrier %s enqueued behind inject-pausing barrier %s", prev, last.Command.Epoch.Prev))
		}
	}
	node := &EpochNode{
		EnqueueTime: timex.GetNow(),
		State:       NodeInFlight,
		Command:     cmd,
		Notifiers:   notifiers,
	}
	c.queue = append(c.queue, node)
	c.byPrev[prev] = node
}

// BarrierCompleted records a collected barrier and pops the contiguous run
// of completed barriers from the front of the queue, oldest first. Barriers
// completing out of order stay queued until every earlier one lands. The
// bool is false when prevEpoch is not in flight, which happens for stale
// responses that survived a recovery.
func (c *CheckpointControl) BarrierCompleted(prevEpoch protocol.Epoch, resp protocol.BarrierCompleteResponse) ([]*EpochNode, bool) {
	node, ok := c.byPrev[prevEpoch]
	if !ok {
		return nil, false
	}
	if node.State == NodeCompleted {
		panic(fmt.Sprintf("barrier %s completed twice", prevEpoch))
	}
	node.State = NodeCompleted
	node.Resp = resp
	var out []*EpochNode
	for len(c.queue) > 0 && c.queue[0].State == NodeCompleted {
		head := c.queue[0]
		c.queue = c.queue[1:]
		delete(c.byPrev, head.Command.Epoch.Prev)
		c.removeOverlay(head.Command.Command)
		out = append(out, head)
	}
	return out, true
}

// BarrierFailed drains every in-flight barrier so their notifiers can be
// failed, and discards all overlays. The caller rebuilds state via recovery.
func (c *CheckpointControl) BarrierFailed() []*EpochNode {
	out := c.queue
	c.queue = nil
	c.byPrev = make(map[protocol.Epoch]*EpochNode)
	c.creatingTables = make(map[protocol.TableID]bool)
	c.droppingTables = make(map[protocol.TableID]bool)
	c.addingActors = make(map[protocol.ActorID]protocol.WorkerID)
	c.removingActors = make(map[protocol.ActorID]bool)
	return out
}

// PreResolve applies the overlays that must be visible to the command's own
// barrier resolution: tables and actors the command brings into being.
func (c *CheckpointControl) PreResolve(cmd Command) {
	for _, table := range commandTablesToCreate(cmd) {
		if c.creatingTables[table] {
			panic(fmt.Sprintf("table %d is already being created", table))
		}
		c.creatingTables[table] = true
	}
	for _, p := range commandActorsToCreate(cmd) {
		if _, ok := c.addingActors[p.Actor.ActorID]; ok {
			panic(fmt.Sprintf("actor %d is already being added", p.Actor.ActorID))
		}
		c.addingActors[p.Actor.ActorID] = p.Slot.WorkerID
	}
}

// PostResolve applies the overlays that must stay invisible to the command's
// own barrier but bind every later one: tables and actors the command
// removes. The command's barrier still reaches the actors it stops.
func (c *CheckpointControl) PostResolve(cmd Command) {
	for _, table := range commandTablesToDrop(cmd) {
		if c.droppingTables[table] {
			panic(fmt.Sprintf("table %d is already being dropped", table))
		}
		c.droppingTables[table] = true
	}
	for _, actor := range commandActorsToRemove(cmd) {
		if c.removingActors[actor] {
			panic(fmt.Sprintf("actor %d is already being removed", actor))
		}
		c.removingActors[actor] = true
	}
}

// removeOverlay undoes PreResolve and PostResolve once the command's barrier
// has been collected and its effects are durable in the catalog.
func (c *CheckpointControl) removeOverlay(cmd Command) {
	for _, table := range commandTablesToCreate(cmd) {
		if !c.creatingTables[table] {
			panic(fmt.Sprintf("creating table %d vanished from overlay", table))
		}
		delete(c.creatingTables, table)
	}
	for _, p := range commandActorsToCreate(cmd) {
		if _, ok := c.addingActors[p.Actor.ActorID]; !ok {
			panic(fmt.Sprintf("added actor %d vanished from overlay", p.Actor.ActorID))
		}
		delete(c.addingActors, p.Actor.ActorID)
	}
	for _, table := range commandTablesToDrop(cmd) {
		if !c.droppingTables[table] {
			panic(fmt.Sprintf("dropping table %d vanished from overlay", table))
		}
		delete(c.droppingTables, table)
	}
	for _, actor := range commandActorsToRemove(cmd) {
		if !c.removingActors[actor] {
			panic(fmt.Sprintf("removed actor %d vanished from overlay", actor))
		}
		delete(c.removingActors, actor)
	}
}

// IsCreatingTable reports whether a create for this table is in flight.
func (c *CheckpointControl) IsCreatingTable(table protocol.TableID) bool {
	return c.creatingTables[table]
}

// IsDroppingTable reports whether a drop for this table is in flight.
func (c *CheckpointControl) IsDroppingTable(table protocol.TableID) bool {
	return c.droppingTables[table]
}

// AddingActors exposes the placements of actors whose creating barrier is
// still in flight.
func (c *CheckpointControl) AddingActors() map[protocol.ActorID]protocol.WorkerID {
	return c.addingActors
}

// CanActorSendOrCollect decides whether an actor takes part in the barrier
// being resolved. Actors being removed by an in-flight command are excluded;
// inactive actors are included only while their creating command is in
// flight, since that command's barrier is what activates them.
func (c *CheckpointControl) CanActorSendOrCollect(status ActorStatus, actor protocol.ActorID) bool {
	if c.removingActors[actor] {
		return false
	}
	switch status {
	case ActorInactive:
		_, adding := c.addingActors[actor]
		return adding
	case ActorRunning:
		return true
	default:
		panic(fmt.Sprintf("unknown actor status %d", status))
	}
}

// InFlightCount is the number of barriers injected but not yet collected.
func (c *CheckpointControl) InFlightCount() int {
	n := 0
	for _, node := range c.queue {
		if node.State == NodeInFlight {
			n++
		}
	}
	return n
}

// TotalCount is the number of queued barriers, collected or not.
func (c *CheckpointControl) TotalCount() int {
	return len(c.queue)
}

// ContainsEpoch reports whether prevEpoch identifies an in-flight barrier.
func (c *CheckpointControl) ContainsEpoch(prevEpoch protocol.Epoch) bool {
	_, ok := c.byPrev[prevEpoch]
	return ok
}
