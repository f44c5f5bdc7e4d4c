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

// InjectBarrierRequest asks a worker to deliver one barrier. ActorIDsToSend
// are the actors whose local input the worker injects the barrier into;
// ActorIDsToCollect are the actors the worker must hear the barrier back from
// before reporting completion.
type InjectBarrierRequest struct {
	RequestID         string
	Barrier           Barrier
	ActorIDsToSend    []ActorID
	ActorIDsToCollect []ActorID
	TableIDsToSync    []TableID
	PartialGraphID    PartialGraphID
}

// BarrierCompleteResponse reports that a worker finished collecting and, for
// checkpoint barriers, syncing one barrier.
type BarrierCompleteResponse struct {
	RequestID         string
	WorkerID          WorkerID
	PrevEpoch         Epoch
	SyncedSSTs        []SSTableInfo
	CreateJobProgress []CreateJobProgress
}

// MergeCompleteResponses folds responses from several workers for the same
// prev epoch into one, concatenating SSTs and progress reports.
func MergeCompleteResponses(resps []BarrierCompleteResponse) BarrierCompleteResponse {
	var merged BarrierCompleteResponse
	for i, r := range resps {
		if i == 0 {
			merged.PrevEpoch = r.PrevEpoch
		}
		merged.SyncedSSTs = append(merged.SyncedSSTs, r.SyncedSSTs...)
		merged.CreateJobProgress = append(merged.CreateJobProgress, r.CreateJobProgress...)
	}
	return merged
}

// CreateJobProgress carries per-actor backfill progress piggybacked on a
// barrier completion.
type CreateJobProgress struct {
	BackfillActorID ActorID
	Done            bool
	ConsumedEpoch   Epoch
	ConsumedRows    uint64
}

// ActorInfo locates one actor on one worker for peer wiring.
type ActorInfo struct {
	ActorID  ActorID
	WorkerID WorkerID
	Host     string
	Port     int
}

// StreamActor is the build blueprint of one actor: identity, stage and
// routing. Workers turn these into running actors. JobID names the state
// table the actor writes, which equals the id of the owning job.
type StreamActor struct {
	ActorID        ActorID
	FragmentID     FragmentID
	JobID          JobID
	Dispatchers    []Dispatcher
	UpstreamActors map[FragmentID][]ActorID
	VnodeBitmap    []byte
}
