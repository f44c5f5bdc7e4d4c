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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lf-edge/oort/internal/storage"
	"github.com/lf-edge/oort/pkg/protocol"
)

func mkInject(id string, b *protocol.Barrier, graph protocol.PartialGraphID, send, collect []protocol.ActorID, tables ...protocol.TableID) *protocol.InjectBarrierRequest {
	return &protocol.InjectBarrierRequest{
		RequestID:         id,
		Barrier:           *b,
		ActorIDsToSend:    send,
		ActorIDsToCollect: collect,
		TableIDsToSync:    tables,
		PartialGraphID:    graph,
	}
}

func awaitCompletion(t *testing.T, m *ManagedBarrierState) *CompletedEpoch {
	t.Helper()
	select {
	case c := <-m.Completions():
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no completion within 5s")
		return nil
	}
}

// gatedEngine delays Sync until the per-epoch gate closes so tests can
// steer which checkpoint finishes first.
type gatedEngine struct {
	*storage.MemoryEngine
	gates map[protocol.Epoch]chan struct{}
}

func (g *gatedEngine) Sync(ctx context.Context, epoch protocol.Epoch, tables []protocol.TableID) (*storage.SyncResult, error) {
	if gate, ok := g.gates[epoch]; ok {
		<-gate
	}
	return g.MemoryEngine.Sync(ctx, epoch, tables)
}

func TestCompletionsSurfaceInEpochOrder(t *testing.T) {
	gates := map[protocol.Epoch]chan struct{}{
		100: make(chan struct{}),
		200: make(chan struct{}),
	}
	eng := &gatedEngine{MemoryEngine: storage.NewMemoryEngine(), gates: gates}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManagedBarrierState(ctx, 1, eng)

	graph := protocol.GlobalGraphID
	m.InjectBarrier(mkInject("a", mkBarrier(100, 200, protocol.KindCheckpoint, nil), graph, []protocol.ActorID{1}, []protocol.ActorID{1}, 7))
	m.InjectBarrier(mkInject("b", mkBarrier(200, 300, protocol.KindCheckpoint, nil), graph, []protocol.ActorID{1}, []protocol.ActorID{1}, 7))

	m.Collect(1, protocol.EpochPair{Prev: 100, Curr: 200})
	m.Collect(1, protocol.EpochPair{Prev: 200, Curr: 300})

	// The younger checkpoint finishes syncing first, yet it must not
	// surface before the older one.
	close(gates[200])
	select {
	case c := <-m.Completions():
		t.Fatalf("epoch %s surfaced ahead of its predecessor", c.PrevEpoch)
	case <-time.After(100 * time.Millisecond):
	}
	close(gates[100])

	first := awaitCompletion(t, m)
	assert.Equal(t, protocol.Epoch(100), first.PrevEpoch)
	require.NoError(t, first.Err)
	assert.True(t, m.PopCompletedEpoch(graph, 100))

	second := awaitCompletion(t, m)
	assert.Equal(t, protocol.Epoch(200), second.PrevEpoch)
	require.NoError(t, second.Err)
	assert.True(t, m.PopCompletedEpoch(graph, 200))
}

func TestIncrementalActorSets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManagedBarrierState(ctx, 1, storage.NewMemoryEngine())
	graph := protocol.GlobalGraphID

	m.InjectBarrier(mkInject("a", mkBarrier(100, 200, protocol.KindBarrier, nil), graph, []protocol.ActorID{1, 2}, []protocol.ActorID{1, 2}))
	assert.False(t, m.Collect(1, protocol.EpochPair{Prev: 100, Curr: 200}))
	assert.False(t, m.Collect(2, protocol.EpochPair{Prev: 100, Curr: 200}))
	c := awaitCompletion(t, m)
	assert.Equal(t, protocol.Epoch(100), c.PrevEpoch)
	assert.True(t, m.PopCompletedEpoch(graph, 100))

	// Actor 3 joins mid-stream and sees its first barrier here.
	m.InjectBarrier(mkInject("b", mkBarrier(200, 300, protocol.KindBarrier, nil), graph, []protocol.ActorID{1, 2, 3}, []protocol.ActorID{1, 2, 3}))
	assert.False(t, m.Collect(3, protocol.EpochPair{Prev: 200, Curr: 300}))
	assert.False(t, m.Collect(1, protocol.EpochPair{Prev: 200, Curr: 300}))
	assert.False(t, m.Collect(2, protocol.EpochPair{Prev: 200, Curr: 300}))
	c = awaitCompletion(t, m)
	assert.Equal(t, protocol.Epoch(200), c.PrevEpoch)
	assert.True(t, m.PopCompletedEpoch(graph, 200))

	m.InjectBarrier(mkInject("c", mkBarrier(300, 400, protocol.KindBarrier, nil), graph, []protocol.ActorID{3}, []protocol.ActorID{3}))
	assert.False(t, m.Collect(3, protocol.EpochPair{Prev: 300, Curr: 400}))
	c = awaitCompletion(t, m)
	assert.Equal(t, protocol.Epoch(300), c.PrevEpoch)
	assert.True(t, m.PopCompletedEpoch(graph, 300))
}

func TestStopActorLeavesGraph(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManagedBarrierState(ctx, 1, storage.NewMemoryEngine())
	graph := protocol.GlobalGraphID

	m.InjectBarrier(mkInject("a", mkBarrier(100, 200, protocol.KindBarrier, nil), graph, []protocol.ActorID{1, 2}, []protocol.ActorID{1, 2}))
	stop := &protocol.StopMutation{Actors: []protocol.ActorID{2}}
	m.InjectBarrier(mkInject("b", mkBarrier(200, 300, protocol.KindBarrier, stop), graph, []protocol.ActorID{1, 2}, []protocol.ActorID{1, 2}))

	assert.False(t, m.Collect(1, protocol.EpochPair{Prev: 100, Curr: 200}))
	assert.False(t, m.Collect(2, protocol.EpochPair{Prev: 100, Curr: 200}))
	assert.Equal(t, protocol.Epoch(100), awaitCompletion(t, m).PrevEpoch)
	assert.True(t, m.PopCompletedEpoch(graph, 100))

	assert.False(t, m.Collect(1, protocol.EpochPair{Prev: 200, Curr: 300}))
	// Collecting its last outstanding barrier removes the stopping actor.
	assert.True(t, m.Collect(2, protocol.EpochPair{Prev: 200, Curr: 300}))
	assert.Equal(t, protocol.Epoch(200), awaitCompletion(t, m).PrevEpoch)
	assert.True(t, m.PopCompletedEpoch(graph, 200))
	assert.Empty(t, m.EpochsAwaitOnActor(2))

	// The survivor keeps going without the stopped actor.
	m.InjectBarrier(mkInject("c", mkBarrier(300, 400, protocol.KindBarrier, nil), graph, []protocol.ActorID{1}, []protocol.ActorID{1}))
	assert.False(t, m.Collect(1, protocol.EpochPair{Prev: 300, Curr: 400}))
	assert.Equal(t, protocol.Epoch(300), awaitCompletion(t, m).PrevEpoch)
}

func TestCollectBeforeInjectIsStashed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManagedBarrierState(ctx, 1, storage.NewMemoryEngine())

	// The collect message for a remote-fed actor can beat the inject RPC.
	assert.False(t, m.Collect(5, protocol.EpochPair{Prev: 100, Curr: 200}))

	m.InjectBarrier(mkInject("a", mkBarrier(100, 200, protocol.KindBarrier, nil), protocol.GlobalGraphID, nil, []protocol.ActorID{5}))
	c := awaitCompletion(t, m)
	assert.Equal(t, protocol.Epoch(100), c.PrevEpoch)
	assert.True(t, m.PopCompletedEpoch(protocol.GlobalGraphID, 100))
}

func TestManagedInvariantsPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManagedBarrierState(ctx, 1, storage.NewMemoryEngine())
	graph := protocol.GlobalGraphID

	m.InjectBarrier(mkInject("a", mkBarrier(100, 200, protocol.KindBarrier, nil), graph, []protocol.ActorID{1}, []protocol.ActorID{1}))
	m.InjectBarrier(mkInject("b", mkBarrier(200, 300, protocol.KindBarrier, nil), graph, []protocol.ActorID{1}, []protocol.ActorID{1}))

	// Oldest outstanding barrier first.
	require.Panics(t, func() { m.Collect(1, protocol.EpochPair{Prev: 200, Curr: 300}) })

	// Re-injecting an in-flight epoch corrupts bookkeeping.
	require.Panics(t, func() {
		m.InjectBarrier(mkInject("c", mkBarrier(200, 300, protocol.KindBarrier, nil), graph, nil, []protocol.ActorID{1}))
	})
}

func TestPopCompletedEpochAfterReset(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManagedBarrierState(ctx, 1, storage.NewMemoryEngine())

	m.InjectBarrier(mkInject("a", mkBarrier(100, 200, protocol.KindBarrier, nil), protocol.GlobalGraphID, nil, []protocol.ActorID{1}))
	m.Reset()

	// A completion raced out by a retired graph is dropped, not fatal.
	assert.False(t, m.PopCompletedEpoch(protocol.GlobalGraphID, 100))
	assert.Empty(t, m.EpochsAwaitOnActor(1))
}
