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
	"sort"

	"github.com/lf-edge/oort/internal/catalog"
	"github.com/lf-edge/oort/pkg/protocol"
)

// Command is the closed set of intents a barrier can carry. A command is pure
// data: what it changes is derived by the command* functions below, each of
// which switches exhaustively so that a new variant must visit every
// consumption site.
type Command interface {
	isCommand()
	String() string
}

func (CommandPlain) isCommand()                  {}
func (CommandFlush) isCommand()                  {}
func (CommandPause) isCommand()                  {}
func (CommandResume) isCommand()                 {}
func (*CommandDropStreamingJobs) isCommand()     {}
func (*CommandCreateStreamingJob) isCommand()    {}
func (*CommandCancelStreamingJob) isCommand()    {}
func (*CommandRescheduleFragment) isCommand()    {}
func (*CommandReplaceTable) isCommand()          {}
func (*CommandSourceSplitAssignment) isCommand() {}
func (*CommandThrottle) isCommand()              {}
func (*CommandCreateSubscription) isCommand()    {}
func (*CommandDropSubscription) isCommand()      {}

// CommandPlain is the tick default: a barrier with no effect.
type CommandPlain struct{}

func (CommandPlain) String() string { return "plain" }

// CommandFlush forces a barrier now; with Checkpoint set it also forces a
// durable commit.
type CommandFlush struct {
	Checkpoint bool
}

func (CommandFlush) String() string { return "flush" }

type CommandPause struct {
	Reason protocol.PausedReason
}

func (c CommandPause) String() string { return fmt.Sprintf("pause(%s)", c.Reason) }

type CommandResume struct {
	Reason protocol.PausedReason
}

func (c CommandResume) String() string { return fmt.Sprintf("resume(%s)", c.Reason) }

// CommandDropStreamingJobs stops the actors of created jobs and retires their
// state tables.
type CommandDropStreamingJobs struct {
	JobIDs       []protocol.JobID
	TableIDs     []protocol.TableID
	ActorsToDrop []protocol.ActorID
}

func (c *CommandDropStreamingJobs) String() string {
	return fmt.Sprintf("drop_jobs(%v)", c.JobIDs)
}

// StreamJobInfo bundles everything a new job's first barrier needs: the
// catalog bundle, the dispatcher hookups on upstream actors and the initial
// source splits.
type StreamJobInfo struct {
	Bundle      catalog.JobBundle
	Dispatchers map[protocol.ActorID][]protocol.Dispatcher
	Splits      map[protocol.ActorID][]protocol.SplitAssignment
}

// CommandCreateStreamingJob starts a job. SinkIntoTable, when set, folds a
// table replacement into the same barrier so that sink and replacement become
// visible atomically.
type CommandCreateStreamingJob struct {
	Info          StreamJobInfo
	SinkIntoTable *CommandReplaceTable
}

func (c *CommandCreateStreamingJob) String() string {
	return fmt.Sprintf("create_job(%d)", c.Info.Bundle.Job.ID)
}

// CommandCancelStreamingJob aborts a job that is still creating.
type CommandCancelStreamingJob struct {
	JobID        protocol.JobID
	TableIDs     []protocol.TableID
	ActorsToDrop []protocol.ActorID
}

func (c *CommandCancelStreamingJob) String() string {
	return fmt.Sprintf("cancel_job(%d)", c.JobID)
}

// Reschedule moves one fragment's parallelism: which actors join, which
// leave, and the rewiring this forces on neighboring fragments.
type Reschedule struct {
	AddedActors       []protocol.ActorID
	RemovedActors     []protocol.ActorID
	NewPlacements     []catalog.ActorPlacement
	VnodeBitmaps      map[protocol.ActorID][]byte
	ActorSplits       map[protocol.ActorID][]protocol.SplitAssignment
	DispatcherUpdates []protocol.DispatcherUpdate
	MergeUpdates      []protocol.MergeUpdate
}

type CommandRescheduleFragment struct {
	Reschedules map[protocol.FragmentID]Reschedule
}

func (c *CommandRescheduleFragment) String() string {
	return fmt.Sprintf("reschedule(%d fragments)", len(c.Reschedules))
}

// CommandReplaceTable swaps a job's fragment graph for a new one at a single
// barrier.
type CommandReplaceTable struct {
	OldJobID          protocol.JobID
	OldTableIDs       []protocol.TableID
	NewBundle         catalog.JobBundle
	DispatcherUpdates []protocol.DispatcherUpdate
	MergeUpdates      []protocol.MergeUpdate
	DroppedActors     []protocol.ActorID
}

func (c *CommandReplaceTable) String() string {
	return fmt.Sprintf("replace_table(%d->%d)", c.OldJobID, c.NewBundle.Job.ID)
}

type CommandSourceSplitAssignment struct {
	Splits map[protocol.ActorID][]protocol.SplitAssignment
}

func (c *CommandSourceSplitAssignment) String() string {
	return fmt.Sprintf("split_assignment(%d actors)", len(c.Splits))
}

type CommandThrottle struct {
	JobID protocol.JobID
	Rates map[protocol.ActorID]*uint32
}

func (c *CommandThrottle) String() string { return fmt.Sprintf("throttle(%d)", c.JobID) }

type CommandCreateSubscription struct {
	SubscriberID uint32
	UpstreamJob  protocol.JobID
}

func (c *CommandCreateSubscription) String() string {
	return fmt.Sprintf("create_subscription(%d on %d)", c.SubscriberID, c.UpstreamJob)
}

type CommandDropSubscription struct {
	SubscriberID uint32
	UpstreamJob  protocol.JobID
}

func (c *CommandDropSubscription) String() string {
	return fmt.Sprintf("drop_subscription(%d on %d)", c.SubscriberID, c.UpstreamJob)
}

// commandMutation derives the mutation the command's barrier carries. It is a
// pure function of the command and the current pause state: calling it twice
// yields the same result, and pause/resume collapse to nil when they would
// not change the state.
func commandMutation(cmd Command, current protocol.PausedReason) protocol.Mutation {
	switch c := cmd.(type) {
	case CommandPlain, CommandFlush:
		return nil
	case commandRecover:
		return &protocol.AddMutation{
			ActorSplits: c.splits,
			Pause:       c.paused != protocol.NotPaused,
			PauseReason: c.paused,
		}
	case CommandPause:
		if current != protocol.NotPaused {
			return nil
		}
		return &protocol.PauseMutation{Reason: c.Reason}
	case CommandResume:
		if current != c.Reason {
			return nil
		}
		return &protocol.ResumeMutation{Reason: c.Reason}
	case *CommandDropStreamingJobs:
		return &protocol.StopMutation{Actors: c.ActorsToDrop}
	case *CommandCancelStreamingJob:
		return &protocol.StopMutation{Actors: c.ActorsToDrop}
	case *CommandCreateStreamingJob:
		add := &protocol.AddMutation{
			AddedDispatchers: c.Info.Dispatchers,
			AddedActors:      bundleActorIDs(c.Info.Bundle),
			ActorSplits:      c.Info.Splits,
			Pause:            current != protocol.NotPaused,
			PauseReason:      current,
		}
		if c.SinkIntoTable == nil {
			return add
		}
		return &protocol.CombinedMutation{Mutations: []protocol.Mutation{
			add,
			replaceMutation(c.SinkIntoTable),
		}}
	case *CommandRescheduleFragment:
		return rescheduleMutation(c.Reschedules)
	case *CommandReplaceTable:
		return &protocol.CombinedMutation{Mutations: []protocol.Mutation{
			&protocol.AddMutation{AddedActors: bundleActorIDs(c.NewBundle)},
			replaceMutation(c),
		}}
	case *CommandSourceSplitAssignment:
		return &protocol.SourceChangeSplitMutation{ActorSplits: c.Splits}
	case *CommandThrottle:
		return &protocol.ThrottleMutation{Rates: c.Rates}
	case *CommandCreateSubscription:
		return &protocol.AddMutation{
			SubscriptionsToAdd: []protocol.SubscriptionUpstreamInfo{
				{SubscriberID: c.SubscriberID, UpstreamJob: c.UpstreamJob},
			},
		}
	case *CommandDropSubscription:
		return &protocol.DropSubscriptionsMutation{
			Infos: []protocol.SubscriptionUpstreamInfo{
				{SubscriberID: c.SubscriberID, UpstreamJob: c.UpstreamJob},
			},
		}
	default:
		panic(fmt.Sprintf("unhandled command %T", cmd))
	}
}

func replaceMutation(c *CommandReplaceTable) *protocol.UpdateMutation {
	return &protocol.UpdateMutation{
		DispatcherUpdates: c.DispatcherUpdates,
		MergeUpdates:      c.MergeUpdates,
		DroppedActors:     c.DroppedActors,
	}
}

type dispatcherKey struct {
	actor      protocol.ActorID
	dispatcher uint64
}

type mergeKey struct {
	actor    protocol.ActorID
	fragment protocol.FragmentID
}

// rescheduleMutation folds per-fragment reschedules into one update mutation.
// Update keys must be unique across fragments; a duplicate means the plan was
// computed wrong and continuing would corrupt the graph. Merge updates
// targeting actors removed by the same plan are dropped, the actor will not
// exist to apply them.
func rescheduleMutation(reschedules map[protocol.FragmentID]Reschedule) *protocol.UpdateMutation {
	removed := make(map[protocol.ActorID]bool)
	for _, r := range reschedules {
		for _, id := range r.RemovedActors {
			removed[id] = true
		}
	}

	fragments := make([]protocol.FragmentID, 0, len(reschedules))
	for id := range reschedules {
		fragments = append(fragments, id)
	}
	sort.Slice(fragments, func(i, j int) bool { return fragments[i] < fragments[j] })

	out := &protocol.UpdateMutation{
		VnodeBitmaps: make(map[protocol.ActorID][]byte),
		ActorSplits:  make(map[protocol.ActorID][]protocol.SplitAssignment),
	}
	dispatcherSeen := make(map[dispatcherKey]bool)
	mergeSeen := make(map[mergeKey]bool)
	for _, fragID := range fragments {
		r := reschedules[fragID]
		for _, du := range r.DispatcherUpdates {
			k := dispatcherKey{actor: du.ActorID, dispatcher: du.DispatcherID}
			if dispatcherSeen[k] {
				panic(fmt.Sprintf("duplicate dispatcher update for actor %d dispatcher %d", du.ActorID, du.DispatcherID))
			}
			dispatcherSeen[k] = true
			out.DispatcherUpdates = append(out.DispatcherUpdates, du)
		}
		for _, mu := range r.MergeUpdates {
			if removed[mu.ActorID] {
				continue
			}
			k := mergeKey{actor: mu.ActorID, fragment: mu.UpstreamFragment}
			if mergeSeen[k] {
				panic(fmt.Sprintf("duplicate merge update for actor %d upstream fragment %d", mu.ActorID, mu.UpstreamFragment))
			}
			mergeSeen[k] = true
			out.MergeUpdates = append(out.MergeUpdates, mu)
		}
		for id, bitmap := range r.VnodeBitmaps {
			if _, ok := out.VnodeBitmaps[id]; ok {
				panic(fmt.Sprintf("duplicate vnode bitmap for actor %d", id))
			}
			out.VnodeBitmaps[id] = bitmap
		}
		for id, splits := range r.ActorSplits {
			out.ActorSplits[id] = splits
		}
		out.DroppedActors = append(out.DroppedActors, r.RemovedActors...)
	}
	sort.Slice(out.DroppedActors, func(i, j int) bool { return out.DroppedActors[i] < out.DroppedActors[j] })
	return out
}

func bundleActorIDs(b catalog.JobBundle) []protocol.ActorID {
	ids := make([]protocol.ActorID, 0, len(b.Actors))
	for _, a := range b.Actors {
		ids = append(ids, a.Actor.ActorID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// commandNeedCheckpoint reports whether the command's barrier must be a
// checkpoint regardless of the checkpoint frequency.
func commandNeedCheckpoint(cmd Command) bool {
	switch c := cmd.(type) {
	case CommandFlush:
		return c.Checkpoint
	case *CommandDropStreamingJobs, *CommandCreateStreamingJob, *CommandCancelStreamingJob,
		*CommandRescheduleFragment, *CommandReplaceTable,
		*CommandCreateSubscription, *CommandDropSubscription:
		return true
	default:
		return false
	}
}

// commandShouldPauseInject reports whether the command demands exclusive
// pause-for-injection. At most one such command may sit in the checkpoint
// queue and it must be the last one.
func commandShouldPauseInject(cmd Command) bool {
	_, ok := cmd.(CommandPause)
	return ok
}

// commandNextPausedReason folds the command into the pause state. Pause only
// takes effect from not-paused; resume only lifts a pause of the same reason.
func commandNextPausedReason(cmd Command, current protocol.PausedReason) protocol.PausedReason {
	switch c := cmd.(type) {
	case CommandPause:
		if current == protocol.NotPaused {
			return c.Reason
		}
		return current
	case CommandResume:
		if current == c.Reason {
			return protocol.NotPaused
		}
		return current
	default:
		return current
	}
}

// commandActorsToCreate lists the placements that must be announced and built
// on workers before the command's barrier is injected.
func commandActorsToCreate(cmd Command) []catalog.ActorPlacement {
	switch c := cmd.(type) {
	case *CommandCreateStreamingJob:
		out := append([]catalog.ActorPlacement(nil), c.Info.Bundle.Actors...)
		if c.SinkIntoTable != nil {
			out = append(out, c.SinkIntoTable.NewBundle.Actors...)
		}
		return out
	case *CommandRescheduleFragment:
		fragments := make([]protocol.FragmentID, 0, len(c.Reschedules))
		for id := range c.Reschedules {
			fragments = append(fragments, id)
		}
		sort.Slice(fragments, func(i, j int) bool { return fragments[i] < fragments[j] })
		var out []catalog.ActorPlacement
		for _, id := range fragments {
			out = append(out, c.Reschedules[id].NewPlacements...)
		}
		return out
	case *CommandReplaceTable:
		return append([]catalog.ActorPlacement(nil), c.NewBundle.Actors...)
	default:
		return nil
	}
}

// commandActorsToRemove lists the actors the command's barrier stops.
func commandActorsToRemove(cmd Command) []protocol.ActorID {
	switch c := cmd.(type) {
	case *CommandDropStreamingJobs:
		return c.ActorsToDrop
	case *CommandCancelStreamingJob:
		return c.ActorsToDrop
	case *CommandRescheduleFragment:
		var out []protocol.ActorID
		for _, r := range c.Reschedules {
			out = append(out, r.RemovedActors...)
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out
	case *CommandReplaceTable:
		return c.DroppedActors
	default:
		return nil
	}
}

func commandTablesToCreate(cmd Command) []protocol.TableID {
	switch c := cmd.(type) {
	case *CommandCreateStreamingJob:
		out := append([]protocol.TableID(nil), c.Info.Bundle.Job.TableIDs...)
		if c.SinkIntoTable != nil {
			out = append(out, c.SinkIntoTable.NewBundle.Job.TableIDs...)
		}
		return out
	case *CommandReplaceTable:
		return c.NewBundle.Job.TableIDs
	default:
		return nil
	}
}

func commandTablesToDrop(cmd Command) []protocol.TableID {
	switch c := cmd.(type) {
	case *CommandDropStreamingJobs:
		return c.TableIDs
	case *CommandCancelStreamingJob:
		return c.TableIDs
	case *CommandReplaceTable:
		return c.OldTableIDs
	default:
		return nil
	}
}
