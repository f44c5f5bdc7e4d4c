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

// Package cluster tracks worker membership and the parallel slots workers
// contribute. Recovery diffs the active slots against the slots actors still
// occupy to find workers that left.
package cluster

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lf-edge/oort/internal/conf"
	"github.com/lf-edge/oort/pkg/errorx"
	"github.com/lf-edge/oort/pkg/protocol"
)

type WorkerState int

const (
	WorkerRunning WorkerState = iota
	WorkerExpired
)

var workerStateNames = map[WorkerState]string{
	WorkerRunning: "running",
	WorkerExpired: "expired",
}

func (s WorkerState) String() string {
	if n, ok := workerStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Worker is one registered worker process and its slot count.
type Worker struct {
	ID    protocol.WorkerID
	Addr  string
	Slots int
	State WorkerState
}

// Registry is the authoritative worker membership list. All reads hand out
// copies; mutation happens only through the registry methods.
type Registry struct {
	mu      sync.RWMutex
	workers map[protocol.WorkerID]*Worker
	nextID  protocol.WorkerID
}

func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[protocol.WorkerID]*Worker),
	}
}

// Register adds a worker and assigns its id. Ids are never reused so that an
// expired worker's slots stay distinguishable from a rejoined one's.
func (r *Registry) Register(addr string, slots int) Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	w := &Worker{
		ID:    r.nextID,
		Addr:  addr,
		Slots: slots,
		State: WorkerRunning,
	}
	r.workers[w.ID] = w
	conf.Log.Infof("worker %d registered at %s with %d slots", w.ID, addr, slots)
	return *w
}

// Expire marks a worker lost. Its slots disappear from the active set while
// actors may still reference them, which is what recovery migrates away.
func (r *Registry) Expire(id protocol.WorkerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return errorx.NewWithCode(errorx.NOT_FOUND, fmt.Sprintf("worker %d is not registered", id))
	}
	w.State = WorkerExpired
	conf.Log.Infof("worker %d expired", id)
	return nil
}

func (r *Registry) Remove(id protocol.WorkerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[id]; !ok {
		return errorx.NewWithCode(errorx.NOT_FOUND, fmt.Sprintf("worker %d is not registered", id))
	}
	delete(r.workers, id)
	return nil
}

func (r *Registry) Worker(id protocol.WorkerID) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok {
		return Worker{}, false
	}
	return *w, true
}

// Workers returns all registered workers sorted by id.
func (r *Registry) Workers() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	sortWorkers(out)
	return out
}

// ActiveWorkers returns the running workers sorted by id.
func (r *Registry) ActiveWorkers() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		if w.State == WorkerRunning {
			out = append(out, *w)
		}
	}
	sortWorkers(out)
	return out
}

// ActiveSlots enumerates the slots of running workers in migration order.
func (r *Registry) ActiveSlots() []protocol.WorkerSlot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []protocol.WorkerSlot
	for _, w := range r.workers {
		if w.State != WorkerRunning {
			continue
		}
		for i := 0; i < w.Slots; i++ {
			out = append(out, protocol.WorkerSlot{WorkerID: w.ID, ID: protocol.SlotID(i)})
		}
	}
	protocol.SortWorkerSlots(out)
	return out
}

func sortWorkers(ws []Worker) {
	sort.Slice(ws, func(i, j int) bool { return ws[i].ID < ws[j].ID })
}
