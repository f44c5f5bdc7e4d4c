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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lf-edge/oort/pkg/protocol"
)

func TestPopOrDefaultCheckpointCadence(t *testing.T) {
	s := NewScheduledBarriers(3)
	// Every third barrier is a checkpoint; in between the tick default is a
	// plain barrier.
	for i := 0; i < 2; i++ {
		sched, kind := s.PopOrDefault()
		require.NotNil(t, sched)
		assert.IsType(t, CommandPlain{}, sched.Command)
		assert.Equal(t, protocol.KindBarrier, kind)
	}
	_, kind := s.PopOrDefault()
	assert.Equal(t, protocol.KindCheckpoint, kind)
	_, kind = s.PopOrDefault()
	assert.Equal(t, protocol.KindBarrier, kind)
}

func TestPopOrDefaultCommandForcesCheckpoint(t *testing.T) {
	s := NewScheduledBarriers(100)
	s.MustScheduleNoWait(&CommandDropStreamingJobs{JobIDs: []protocol.JobID{1}})
	sched, kind := s.PopOrDefault()
	require.NotNil(t, sched)
	assert.Equal(t, protocol.KindCheckpoint, kind)
	// The cadence counter resets after a forced checkpoint.
	_, kind = s.PopOrDefault()
	assert.Equal(t, protocol.KindBarrier, kind)
}

func TestForceCheckpointInNextBarrier(t *testing.T) {
	s := NewScheduledBarriers(100)
	s.ForceCheckpointInNextBarrier()
	_, kind := s.PopOrDefault()
	assert.Equal(t, protocol.KindCheckpoint, kind)
	_, kind = s.PopOrDefault()
	assert.Equal(t, protocol.KindBarrier, kind)
}

func TestScheduleBehindPauseRejected(t *testing.T) {
	s := NewScheduledBarriers(10)
	require.NoError(t, s.Schedule(CommandPause{Reason: protocol.PausedManual}))
	assert.Error(t, s.Schedule(CommandPlain{}))
	// Popping the pause reopens the queue.
	sched, _ := s.PopOrDefault()
	require.IsType(t, CommandPause{}, sched.Command)
	assert.NoError(t, s.Schedule(CommandPlain{}))
}

func TestBlockedQueueAbortsAndReopens(t *testing.T) {
	s := NewScheduledBarriers(10)
	n := NewNotifier()
	require.NoError(t, s.Schedule(CommandFlush{}, n))
	s.AbortAndMarkBlocked("worker 2 lost")

	assert.Error(t, n.AwaitFinished(context.Background()))
	reason, blocked := s.Blocked()
	assert.True(t, blocked)
	assert.Equal(t, "worker 2 lost", reason)

	sched, _ := s.PopOrDefault()
	assert.Nil(t, sched)

	s.MarkReady()
	_, blocked = s.Blocked()
	assert.False(t, blocked)
	sched, _ = s.PopOrDefault()
	assert.NotNil(t, sched)
}

func TestPrePopDropCancels(t *testing.T) {
	s := NewScheduledBarriers(10)
	s.MustScheduleNoWait(CommandFlush{})
	s.MustScheduleNoWait(&CommandDropStreamingJobs{JobIDs: []protocol.JobID{1}})
	s.MustScheduleNoWait(&CommandCancelStreamingJob{JobID: 2})
	s.MustScheduleNoWait(CommandPlain{})

	out := s.PrePopDropCancels()
	require.Len(t, out, 2)
	assert.IsType(t, &CommandDropStreamingJobs{}, out[0].Command)
	assert.IsType(t, &CommandCancelStreamingJob{}, out[1].Command)
	// The rest stays queued in order.
	assert.Equal(t, 2, s.QueueLen())
	sched, _ := s.PopOrDefault()
	assert.IsType(t, CommandFlush{}, sched.Command)
}
