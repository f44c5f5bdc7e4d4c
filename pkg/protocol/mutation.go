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

// Mutation is the closed set of graph changes a barrier can carry. Consumers
// switch exhaustively on the concrete type; adding a variant must visit every
// switch, which the unexported marker method enforces at compile time for
// external packages.
type Mutation interface {
	isMutation()
}

func (*StopMutation) isMutation()              {}
func (*UpdateMutation) isMutation()            {}
func (*AddMutation) isMutation()               {}
func (*SourceChangeSplitMutation) isMutation() {}
func (*PauseMutation) isMutation()             {}
func (*ResumeMutation) isMutation()            {}
func (*ThrottleMutation) isMutation()          {}
func (*DropSubscriptionsMutation) isMutation() {}
func (*CombinedMutation) isMutation()          {}

// StopMutation removes the listed actors once the barrier passes them.
type StopMutation struct {
	Actors []ActorID
}

// Dispatcher describes how one actor routes output to downstream actors.
type Dispatcher struct {
	DispatcherID     uint64
	Type             DispatcherType
	DownstreamActors []ActorID
	HashMapping      []ActorID
}

// DispatcherType enumerates output routing strategies.
type DispatcherType int

const (
	DispatcherHash DispatcherType = iota
	DispatcherBroadcast
	DispatcherSimple
	DispatcherNoShuffle
)

// DispatcherUpdate rewrites the downstream set of one dispatcher on one actor.
type DispatcherUpdate struct {
	ActorID           ActorID
	DispatcherID      uint64
	AddedDownstream   []ActorID
	RemovedDownstream []ActorID
	HashMapping       []ActorID
}

// MergeUpdate rewrites the upstream set of one merge input on one actor.
type MergeUpdate struct {
	ActorID             ActorID
	UpstreamFragment    FragmentID
	NewUpstreamFragment *FragmentID
	AddedUpstream       []ActorID
	RemovedUpstream     []ActorID
}

// UpdateMutation applies a reschedule: dispatcher and merge rewrites plus
// actor moves and drops, all taking effect at one barrier.
type UpdateMutation struct {
	DispatcherUpdates []DispatcherUpdate
	MergeUpdates      []MergeUpdate
	VnodeBitmaps      map[ActorID][]byte
	DroppedActors     []ActorID
	ActorSplits       map[ActorID][]SplitAssignment
}

// SplitAssignment binds one source split to an actor.
type SplitAssignment struct {
	SplitID string
}

// AddMutation introduces new actors and their dispatcher hookups. Pause marks
// the graph paused from this barrier on, used when the job starts against a
// paused graph.
type AddMutation struct {
	AddedDispatchers   map[ActorID][]Dispatcher
	AddedActors        []ActorID
	ActorSplits        map[ActorID][]SplitAssignment
	Pause              bool
	PauseReason        PausedReason
	SubscriptionsToAdd []SubscriptionUpstreamInfo
}

// SourceChangeSplitMutation reassigns source splits without topology change.
type SourceChangeSplitMutation struct {
	ActorSplits map[ActorID][]SplitAssignment
}

// PauseMutation halts data flow; barriers continue to pass.
type PauseMutation struct {
	Reason PausedReason
}

// ResumeMutation lifts a pause previously installed with the same reason.
type ResumeMutation struct {
	Reason PausedReason
}

// ThrottleMutation adjusts per-actor rate limits. A nil rate removes the
// limit for that actor.
type ThrottleMutation struct {
	Rates map[ActorID]*uint32
}

// SubscriptionUpstreamInfo names one subscription on one upstream job.
type SubscriptionUpstreamInfo struct {
	SubscriberID uint32
	UpstreamJob  JobID
}

// DropSubscriptionsMutation retires change-log subscriptions.
type DropSubscriptionsMutation struct {
	Infos []SubscriptionUpstreamInfo
}

// CombinedMutation carries several mutations on one barrier, applied in order.
type CombinedMutation struct {
	Mutations []Mutation
}
