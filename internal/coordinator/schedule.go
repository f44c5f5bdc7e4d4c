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
	"sync"

	"github.com/lf-edge/oort/pkg/errorx"
	"github.com/lf-edge/oort/pkg/protocol"
)

// Scheduled is one command waiting to be carried by a barrier, along with
// the notifiers observing its lifecycle.
type Scheduled struct {
	Command    Command
	Notifiers  []*Notifier
	Checkpoint bool
}

// ScheduledBarriers is the hand-off queue between command producers (REST
// handlers, recovery) and the coordinator loop. Producers may enqueue from
// any goroutine; only the coordinator pops.
type ScheduledBarriers struct {
	mu     sync.Mutex
	queue  []*Scheduled
	signal chan struct{}

	blocked       bool
	blockedReason string

	checkpointFrequency int
	numSinceCheckpoint  int
	forceCheckpoint     bool
}

func NewScheduledBarriers(checkpointFrequency int) *ScheduledBarriers {
	return &ScheduledBarriers{
		signal:              make(chan struct{}, 1),
		checkpointFrequency: checkpointFrequency,
	}
}

// Schedule enqueues a command. Nothing may queue behind a command that
// pauses injection, since no later barrier can be built until it lands.
// Scheduling is allowed while the queue is blocked for recovery; the
// command simply waits for the queue to reopen.
func (s *ScheduledBarriers) Schedule(cmd Command, notifiers ...*Notifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.queue); n > 0 && commandShouldPauseInject(s.queue[n-1].Command) {
		return errorx.NewWithCode(errorx.GENERAL_ERR,
			fmt.Sprintf("cannot schedule %s behind an injection-pausing command", cmd))
	}
	s.queue = append(s.queue, &Scheduled{
		Command:    cmd,
		Notifiers:  notifiers,
		Checkpoint: commandNeedCheckpoint(cmd),
	})
	s.notifyLocked()
	return nil
}

// MustScheduleNoWait enqueues a command nobody waits on.
func (s *ScheduledBarriers) MustScheduleNoWait(cmd Command) {
	if err := s.Schedule(cmd); err != nil {
		panic(err)
	}
}

// Signal fires when a command may be waiting to be popped.
func (s *ScheduledBarriers) Signal() <-chan struct{} {
	return s.signal
}

// PopOrDefault hands the coordinator the next command, substituting a plain
// barrier when nothing is queued, and decides the barrier kind from the
// checkpoint cadence. Returns nil while the queue is blocked for recovery.
func (s *ScheduledBarriers) PopOrDefault() (*Scheduled, protocol.BarrierKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocked {
		return nil, protocol.KindBarrier
	}
	var sched *Scheduled
	if len(s.queue) > 0 {
		sched = s.queue[0]
		s.queue = s.queue[1:]
		if len(s.queue) > 0 {
			s.notifyLocked()
		}
	} else {
		sched = &Scheduled{Command: CommandPlain{}}
	}
	kind := protocol.KindBarrier
	if s.forceCheckpoint || sched.Checkpoint || s.numSinceCheckpoint+1 >= s.checkpointFrequency {
		kind = protocol.KindCheckpoint
		s.forceCheckpoint = false
		s.numSinceCheckpoint = 0
	} else {
		s.numSinceCheckpoint++
	}
	return sched, kind
}

// AbortAndMarkBlocked fails every queued command and closes the pop side
// until MarkReady. Called when the coordinator enters recovery.
func (s *ScheduledBarriers) AbortAndMarkBlocked(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked = true
	s.blockedReason = reason
	for _, sched := range s.queue {
		err := errorx.NewWithCode(errorx.RecoveryErr,
			fmt.Sprintf("command %s aborted: %s", sched.Command, reason))
		for _, n := range sched.Notifiers {
			n.NotifyFailed(err)
		}
	}
	s.queue = nil
}

// MarkReady reopens the pop side after recovery succeeds.
func (s *ScheduledBarriers) MarkReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked = false
	s.blockedReason = ""
	if len(s.queue) > 0 {
		s.notifyLocked()
	}
}

// Blocked reports whether the queue is closed for recovery and why.
func (s *ScheduledBarriers) Blocked() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockedReason, s.blocked
}

// PrePopDropCancels extracts every queued drop and cancel command so
// recovery can apply them directly instead of restoring jobs that are
// already condemned.
func (s *ScheduledBarriers) PrePopDropCancels() []*Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Scheduled
	kept := s.queue[:0]
	for _, sched := range s.queue {
		switch sched.Command.(type) {
		case *CommandDropStreamingJobs, *CommandCancelStreamingJob:
			out = append(out, sched)
		default:
			kept = append(kept, sched)
		}
	}
	s.queue = kept
	return out
}

// ForceCheckpointInNextBarrier upgrades the next barrier to a checkpoint
// regardless of cadence.
func (s *ScheduledBarriers) ForceCheckpointInNextBarrier() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceCheckpoint = true
}

// SetCheckpointFrequency changes the checkpoint cadence, effective from the
// next barrier.
func (s *ScheduledBarriers) SetCheckpointFrequency(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpointFrequency = n
}

// CheckpointFrequency returns the current cadence.
func (s *ScheduledBarriers) CheckpointFrequency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpointFrequency
}

// QueueLen is the number of commands waiting to be popped.
func (s *ScheduledBarriers) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *ScheduledBarriers) notifyLocked() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}
