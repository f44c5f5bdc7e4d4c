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

package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lf-edge/oort/pkg/timex"
)

func TestNextEpoch(t *testing.T) {
	timex.Set(1700000000000)
	e1 := NextEpoch(0)
	assert.Equal(t, int64(1700000000000), e1.Physical())

	// Same millisecond, so only the sequence part may advance.
	e2 := NextEpoch(e1)
	assert.Equal(t, e1+1, e2)
	assert.Equal(t, e1.Physical(), e2.Physical())

	timex.Add(time.Millisecond)
	e3 := NextEpoch(e2)
	assert.Greater(t, e3, e2)
	assert.Equal(t, int64(1700000000001), e3.Physical())

	// Clock going backwards still yields a strictly greater epoch.
	timex.Set(1600000000000)
	e4 := NextEpoch(e3)
	assert.Equal(t, e3+1, e4)
}

func TestNextEpochPair(t *testing.T) {
	timex.Set(1700000000000)
	p := NextEpochPair(0)
	require.Less(t, p.Prev, p.Curr)
	p2 := NextEpochPair(p.Curr)
	assert.Equal(t, p.Curr, p2.Prev)
	assert.Greater(t, p2.Curr, p2.Prev)
}

func TestBarrierStopActors(t *testing.T) {
	tests := []struct {
		name     string
		mutation Mutation
		expected []ActorID
	}{
		{
			name:     "stop",
			mutation: &StopMutation{Actors: []ActorID{1, 2}},
			expected: []ActorID{1, 2},
		},
		{
			name:     "update drops",
			mutation: &UpdateMutation{DroppedActors: []ActorID{7}},
			expected: []ActorID{7},
		},
		{
			name: "combined",
			mutation: &CombinedMutation{Mutations: []Mutation{
				&PauseMutation{Reason: PausedConfigChange},
				&StopMutation{Actors: []ActorID{3}},
				&UpdateMutation{DroppedActors: []ActorID{4, 5}},
			}},
			expected: []ActorID{3, 4, 5},
		},
		{
			name:     "no stops",
			mutation: &ResumeMutation{Reason: PausedManual},
			expected: nil,
		},
		{
			name:     "nil mutation",
			mutation: nil,
			expected: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Barrier{Mutation: tt.mutation}
			assert.Equal(t, tt.expected, b.AllStopActors())
		})
	}
}

func TestBarrierIsPause(t *testing.T) {
	assert.True(t, (&Barrier{Mutation: &PauseMutation{Reason: PausedManual}}).IsPause())
	assert.True(t, (&Barrier{Mutation: &AddMutation{Pause: true}}).IsPause())
	assert.False(t, (&Barrier{Mutation: &AddMutation{}}).IsPause())
	assert.False(t, (&Barrier{Mutation: &ResumeMutation{}}).IsPause())
	assert.False(t, (&Barrier{}).IsPause())
}

func TestKindAndReasonNames(t *testing.T) {
	assert.Equal(t, "initial", KindInitial.String())
	assert.Equal(t, "barrier", KindBarrier.String())
	assert.Equal(t, "checkpoint", KindCheckpoint.String())
	assert.True(t, KindCheckpoint.IsCheckpoint())
	assert.False(t, KindBarrier.IsCheckpoint())

	assert.Equal(t, "not_paused", NotPaused.String())
	assert.Equal(t, "manual", PausedManual.String())
	assert.Equal(t, "config_change", PausedConfigChange.String())
}

func TestMergeCompleteResponses(t *testing.T) {
	merged := MergeCompleteResponses([]BarrierCompleteResponse{
		{
			PrevEpoch:  100,
			WorkerID:   1,
			SyncedSSTs: []SSTableInfo{{ObjectID: 10, Epoch: 100}},
		},
		{
			PrevEpoch:         100,
			WorkerID:          2,
			SyncedSSTs:        []SSTableInfo{{ObjectID: 11, Epoch: 100}},
			CreateJobProgress: []CreateJobProgress{{BackfillActorID: 9, Done: true}},
		},
	})
	assert.Equal(t, Epoch(100), merged.PrevEpoch)
	require.Len(t, merged.SyncedSSTs, 2)
	assert.Equal(t, uint64(10), merged.SyncedSSTs[0].ObjectID)
	assert.Equal(t, uint64(11), merged.SyncedSSTs[1].ObjectID)
	require.Len(t, merged.CreateJobProgress, 1)
	assert.True(t, merged.CreateJobProgress[0].Done)
}
