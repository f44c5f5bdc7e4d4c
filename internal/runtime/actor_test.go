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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lf-edge/oort/pkg/protocol"
)

func mkBarrier(prev, curr protocol.Epoch, kind protocol.BarrierKind, m protocol.Mutation) *protocol.Barrier {
	return &protocol.Barrier{
		Epoch:    protocol.EpochPair{Prev: prev, Curr: curr},
		Mutation: m,
		Kind:     kind,
	}
}

func TestActorLifecycle(t *testing.T) {
	a := newInflightActorState(1)
	assert.Equal(t, ActorNotStarted, a.Status())

	_, moved := a.IssueBarrier(1, mkBarrier(100, 200, protocol.KindBarrier, nil), false)
	assert.False(t, moved)
	assert.Equal(t, ActorRunning, a.Status())
	assert.True(t, a.HasIssued(100))

	_, moved = a.IssueBarrier(1, mkBarrier(200, 300, protocol.KindBarrier, nil), false)
	assert.False(t, moved)
	assert.Equal(t, []protocol.Epoch{100, 200}, a.OutstandingEpochs())

	_, res := a.Collect(100)
	assert.Equal(t, CollectRemain, res)
	assert.Equal(t, ActorRunning, a.Status())

	entry, res := a.Collect(200)
	assert.Equal(t, CollectBecamePending, res)
	assert.Equal(t, ActorPending, a.Status())
	assert.Equal(t, protocol.PartialGraphID(1), entry.graph)

	// A re-issue on a different partial graph signals the move.
	from, moved := a.IssueBarrier(2, mkBarrier(300, 400, protocol.KindBarrier, nil), false)
	assert.True(t, moved)
	assert.Equal(t, protocol.PartialGraphID(1), from)
	assert.Equal(t, ActorRunning, a.Status())
}

func TestActorStopRemoval(t *testing.T) {
	a := newInflightActorState(2)
	a.IssueBarrier(1, mkBarrier(100, 200, protocol.KindBarrier, nil), false)
	a.IssueBarrier(1, mkBarrier(200, 300, protocol.KindBarrier, &protocol.StopMutation{Actors: []protocol.ActorID{2}}), true)
	assert.True(t, a.IsStopping())

	_, res := a.Collect(100)
	assert.Equal(t, CollectRemain, res)
	_, res = a.Collect(200)
	assert.Equal(t, CollectRemove, res)
}

func TestActorInvariantsPanic(t *testing.T) {
	a := newInflightActorState(3)
	a.IssueBarrier(1, mkBarrier(100, 200, protocol.KindBarrier, nil), false)

	require.Panics(t, func() {
		a.IssueBarrier(1, mkBarrier(100, 200, protocol.KindBarrier, nil), false)
	})
	require.Panics(t, func() {
		a.IssueBarrier(1, mkBarrier(50, 80, protocol.KindBarrier, nil), false)
	})

	a.IssueBarrier(1, mkBarrier(200, 300, protocol.KindBarrier, nil), false)
	// Barriers must be collected oldest first.
	require.Panics(t, func() { a.Collect(200) })

	b := newInflightActorState(4)
	require.Panics(t, func() { b.Collect(100) })
}
