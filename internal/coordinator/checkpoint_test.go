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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lf-edge/oort/internal/catalog"
	"github.com/lf-edge/oort/pkg/protocol"
)

func testCmdCtx(prev, curr protocol.Epoch, cmd Command) *CommandContext {
	return &CommandContext{
		Info:    &InflightActorInfo{ByWorker: map[protocol.WorkerID][]protocol.ActorID{}},
		Epoch:   protocol.EpochPair{Prev: prev, Curr: curr},
		Kind:    protocol.KindBarrier,
		Command: cmd,
	}
}

func TestCanInjectBarrierWindow(t *testing.T) {
	c := NewCheckpointControl()
	assert.True(t, c.CanInjectBarrier(2))

	c.EnqueueCommand(testCmdCtx(100, 200, CommandPlain{}), nil)
	assert.True(t, c.CanInjectBarrier(2))
	c.EnqueueCommand(testCmdCtx(200, 300, CommandPlain{}), nil)
	assert.False(t, c.CanInjectBarrier(2))
	assert.Equal(t, 2, c.InFlightCount())

	// Collecting the oldest reopens the window.
	nodes, ok := c.BarrierCompleted(100, protocol.BarrierCompleteResponse{})
	require.True(t, ok)
	require.Len(t, nodes, 1)
	assert.True(t, c.CanInjectBarrier(2))
	assert.Equal(t, 1, c.InFlightCount())
}

func TestCanInjectBarrierPausedByCommand(t *testing.T) {
	c := NewCheckpointControl()
	c.EnqueueCommand(testCmdCtx(100, 200, CommandPause{Reason: protocol.PausedManual}), nil)
	// Window has room but the in-flight pause blocks injection.
	assert.False(t, c.CanInjectBarrier(10))
	assert.Panics(t, func() {
		c.EnqueueCommand(testCmdCtx(200, 300, CommandPlain{}), nil)
	})

	_, ok := c.BarrierCompleted(100, protocol.BarrierCompleteResponse{})
	require.True(t, ok)
	assert.True(t, c.CanInjectBarrier(10))
}

func TestBarrierCompletedDrainsContiguousPrefix(t *testing.T) {
	c := NewCheckpointControl()
	c.EnqueueCommand(testCmdCtx(100, 200, CommandPlain{}), nil)
	c.EnqueueCommand(testCmdCtx(200, 300, CommandPlain{}), nil)
	c.EnqueueCommand(testCmdCtx(300, 400, CommandPlain{}), nil)

	// The middle epoch completing first drains nothing.
	nodes, ok := c.BarrierCompleted(200, protocol.BarrierCompleteResponse{})
	require.True(t, ok)
	assert.Empty(t, nodes)
	assert.True(t, c.ContainsEpoch(200))

	// The oldest completing releases both in epoch order.
	nodes, ok = c.BarrierCompleted(100, protocol.BarrierCompleteResponse{})
	require.True(t, ok)
	require.Len(t, nodes, 2)
	assert.Equal(t, protocol.Epoch(100), nodes[0].Command.Epoch.Prev)
	assert.Equal(t, protocol.Epoch(200), nodes[1].Command.Epoch.Prev)
	assert.False(t, c.ContainsEpoch(100))
	assert.False(t, c.ContainsEpoch(200))
	assert.True(t, c.ContainsEpoch(300))
}

func TestBarrierCompletedUnknownEpoch(t *testing.T) {
	c := NewCheckpointControl()
	// Stale responses surviving a recovery resolve to not-found, not a panic.
	nodes, ok := c.BarrierCompleted(100, protocol.BarrierCompleteResponse{})
	assert.False(t, ok)
	assert.Empty(t, nodes)
}

func TestEnqueueCommandOrderingPanics(t *testing.T) {
	c := NewCheckpointControl()
	c.EnqueueCommand(testCmdCtx(200, 300, CommandPlain{}), nil)
	assert.Panics(t, func() {
		c.EnqueueCommand(testCmdCtx(100, 200, CommandPlain{}), nil)
	})
	assert.Panics(t, func() {
		c.EnqueueCommand(testCmdCtx(200, 300, CommandPlain{}), nil)
	})
}

func TestBarrierFailedDrainsEverything(t *testing.T) {
	c := NewCheckpointControl()
	create := &CommandCreateStreamingJob{Info: StreamJobInfo{Bundle: catalog.JobBundle{
		Job: catalog.Job{ID: 1, TableIDs: []protocol.TableID{1}},
		Actors: []catalog.ActorPlacement{
			{Actor: protocol.StreamActor{ActorID: 11}, JobID: 1, Slot: protocol.WorkerSlot{WorkerID: 1}},
		},
	}}}
	c.PreResolve(create)
	c.PostResolve(create)
	c.EnqueueCommand(testCmdCtx(100, 200, create), nil)
	c.EnqueueCommand(testCmdCtx(200, 300, CommandPlain{}), nil)

	nodes := c.BarrierFailed()
	require.Len(t, nodes, 2)
	assert.Equal(t, 0, c.TotalCount())
	assert.False(t, c.ContainsEpoch(100))
	assert.False(t, c.IsCreatingTable(1))
	assert.Empty(t, c.AddingActors())
}

func TestOverlayDuplicatePanics(t *testing.T) {
	c := NewCheckpointControl()
	create := &CommandCreateStreamingJob{Info: StreamJobInfo{Bundle: catalog.JobBundle{
		Job: catalog.Job{ID: 1, TableIDs: []protocol.TableID{7}},
		Actors: []catalog.ActorPlacement{
			{Actor: protocol.StreamActor{ActorID: 11}, JobID: 1, Slot: protocol.WorkerSlot{WorkerID: 1}},
		},
	}}}
	c.PreResolve(create)
	assert.Panics(t, func() { c.PreResolve(create) })

	drop := &CommandDropStreamingJobs{
		JobIDs:       []protocol.JobID{2},
		TableIDs:     []protocol.TableID{9},
		ActorsToDrop: []protocol.ActorID{21},
	}
	c.PostResolve(drop)
	assert.Panics(t, func() { c.PostResolve(drop) })
}

func TestCanActorSendOrCollect(t *testing.T) {
	c := NewCheckpointControl()
	create := &CommandCreateStreamingJob{Info: StreamJobInfo{Bundle: catalog.JobBundle{
		Job: catalog.Job{ID: 1, TableIDs: []protocol.TableID{1}},
		Actors: []catalog.ActorPlacement{
			{Actor: protocol.StreamActor{ActorID: 11}, JobID: 1, Slot: protocol.WorkerSlot{WorkerID: 1}},
		},
	}}}
	drop := &CommandDropStreamingJobs{
		JobIDs:       []protocol.JobID{2},
		ActorsToDrop: []protocol.ActorID{21},
	}
	c.PreResolve(create)
	c.PostResolve(drop)

	// An inactive actor participates only while its create is in flight.
	assert.True(t, c.CanActorSendOrCollect(ActorInactive, 11))
	assert.False(t, c.CanActorSendOrCollect(ActorInactive, 99))
	// Removal excludes the actor regardless of status.
	assert.False(t, c.CanActorSendOrCollect(ActorRunning, 21))
	assert.True(t, c.CanActorSendOrCollect(ActorRunning, 33))
}
