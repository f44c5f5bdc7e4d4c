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
	"sort"

	"github.com/lf-edge/oort/internal/catalog"
	"github.com/lf-edge/oort/pkg/protocol"
)

// InflightActorInfo is the per-barrier topology snapshot: which actors each
// worker must send the barrier to and collect it from. Two consecutive
// barriers may see different snapshots when jobs are being created or torn
// down in between.
type InflightActorInfo struct {
	// ByWorker maps a worker to its resolved actors, ascending.
	ByWorker map[protocol.WorkerID][]protocol.ActorID
}

// ResolveInflightActorInfo computes the actor set for the next barrier from
// the durable catalog plus the in-flight overlays tracked by ctl. Catalog
// actors belonging to a table still being created resolve as inactive so
// that concurrent barriers skip them until their first barrier completes.
func ResolveInflightActorInfo(cat *catalog.Catalog, ctl *CheckpointControl) *InflightActorInfo {
	byWorker := make(map[protocol.WorkerID][]protocol.ActorID)
	seen := make(map[protocol.ActorID]bool)
	for workerID, actors := range cat.StreamActorsByWorker() {
		for _, sa := range actors {
			status := ActorRunning
			if ctl.IsCreatingTable(protocol.TableID(sa.JobID)) {
				status = ActorInactive
			}
			if !ctl.CanActorSendOrCollect(status, sa.ActorID) {
				continue
			}
			byWorker[workerID] = append(byWorker[workerID], sa.ActorID)
			seen[sa.ActorID] = true
		}
	}
	for actorID, workerID := range ctl.AddingActors() {
		if seen[actorID] {
			continue
		}
		if !ctl.CanActorSendOrCollect(ActorInactive, actorID) {
			continue
		}
		byWorker[workerID] = append(byWorker[workerID], actorID)
	}
	for workerID := range byWorker {
		ids := byWorker[workerID]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return &InflightActorInfo{ByWorker: byWorker}
}

// Workers returns the workers holding at least one resolved actor, ascending.
func (i *InflightActorInfo) Workers() []protocol.WorkerID {
	out := make([]protocol.WorkerID, 0, len(i.ByWorker))
	for id := range i.ByWorker {
		out = append(out, id)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Empty reports whether no worker has any actor to carry the barrier.
func (i *InflightActorInfo) Empty() bool {
	for _, actors := range i.ByWorker {
		if len(actors) > 0 {
			return false
		}
	}
	return true
}

// TotalActors counts the resolved actors across all workers.
func (i *InflightActorInfo) TotalActors() int {
	n := 0
	for _, actors := range i.ByWorker {
		n += len(actors)
	}
	return n
}
