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

// Package catalog persists streaming job topology: which jobs exist, their
// fragments, and where every actor runs. The coordinator resolves barrier
// targets from this plus its transient overlay sets, and recovery rewrites
// placements here when workers move.
package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/lf-edge/oort/internal/conf"
	"github.com/lf-edge/oort/internal/pkg/store"
	"github.com/lf-edge/oort/pkg/errorx"
	"github.com/lf-edge/oort/pkg/kv"
	"github.com/lf-edge/oort/pkg/protocol"
)

type JobState int

const (
	// JobCreating means the job's actors run but its first checkpoint barrier
	// chain has not finished backfill. Foreground creating jobs are dirty
	// state for recovery.
	JobCreating JobState = iota
	JobCreated
)

var jobStateNames = map[JobState]string{
	JobCreating: "creating",
	JobCreated:  "created",
}

func (s JobState) String() string {
	if n, ok := jobStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type CreateType int

const (
	// CreateForeground jobs block their caller until backfill finishes and
	// are dropped wholesale when recovery interrupts them.
	CreateForeground CreateType = iota
	// CreateBackground jobs survive recovery, their backfill progress is
	// restored from the meta store.
	CreateBackground
)

// Job is one streaming job. Its id doubles as the id of its primary state
// table.
type Job struct {
	ID         protocol.JobID
	Name       string
	State      JobState
	CreateType CreateType
	TableIDs   []protocol.TableID
}

// Fragment is one operator stage of a job.
type Fragment struct {
	ID        protocol.FragmentID
	JobID     protocol.JobID
	Actors    []protocol.ActorID
	Upstreams []protocol.FragmentID
}

// ActorPlacement binds one actor blueprint to the slot it runs on.
type ActorPlacement struct {
	Actor  protocol.StreamActor
	JobID  protocol.JobID
	Slot   protocol.WorkerSlot
	Splits []protocol.SplitAssignment
}

// JobBundle is the unit of persistence: one job with all its fragments and
// placements, stored under the job id.
type JobBundle struct {
	Job       Job
	Fragments []Fragment
	Actors    []ActorPlacement
}

// Catalog is the in-memory index over the persisted job bundles. Every
// mutation rewrites the owning bundle in the kv store before returning.
type Catalog struct {
	mu     sync.RWMutex
	db     kv.KeyValue
	jobs   map[protocol.JobID]*Job
	frags  map[protocol.FragmentID]*Fragment
	actors map[protocol.ActorID]*ActorPlacement
}

func New() (*Catalog, error) {
	db, err := store.GetKV("jobs")
	if err != nil {
		return nil, fmt.Errorf("cannot initialize store for the job catalog: %v", err)
	}
	return NewWithStore(db)
}

// NewWithStore builds a catalog over the given kv table and loads the
// persisted bundles.
func NewWithStore(db kv.KeyValue) (*Catalog, error) {
	c := &Catalog{
		db:     db,
		jobs:   make(map[protocol.JobID]*Job),
		frags:  make(map[protocol.FragmentID]*Fragment),
		actors: make(map[protocol.ActorID]*ActorPlacement),
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) load() error {
	keys, err := c.db.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		var b JobBundle
		ok, err := c.db.Get(k, &b)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		c.index(&b)
	}
	conf.Log.Infof("catalog loaded %d jobs", len(c.jobs))
	return nil
}

func (c *Catalog) index(b *JobBundle) {
	job := b.Job
	c.jobs[job.ID] = &job
	for i := range b.Fragments {
		f := b.Fragments[i]
		c.frags[f.ID] = &f
	}
	for i := range b.Actors {
		a := b.Actors[i]
		c.actors[a.Actor.ActorID] = &a
	}
}

func jobKey(id protocol.JobID) string {
	return strconv.FormatUint(uint64(id), 10)
}

// persistJob rewrites the bundle of one indexed job. Caller holds the lock.
func (c *Catalog) persistJob(id protocol.JobID) error {
	job, ok := c.jobs[id]
	if !ok {
		return errorx.NewWithCode(errorx.NOT_FOUND, fmt.Sprintf("job %d is not in the catalog", id))
	}
	b := JobBundle{Job: *job}
	for _, f := range c.frags {
		if f.JobID == id {
			b.Fragments = append(b.Fragments, *f)
		}
	}
	sort.Slice(b.Fragments, func(i, j int) bool { return b.Fragments[i].ID < b.Fragments[j].ID })
	for _, a := range c.actors {
		if a.JobID == id {
			b.Actors = append(b.Actors, *a)
		}
	}
	sort.Slice(b.Actors, func(i, j int) bool { return b.Actors[i].Actor.ActorID < b.Actors[j].Actor.ActorID })
	return c.db.Set(jobKey(id), b)
}

// CreateJob persists a new job bundle in Creating state.
func (c *Catalog) CreateJob(b JobBundle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[b.Job.ID]; ok {
		return fmt.Errorf("job %d already exists", b.Job.ID)
	}
	b.Job.State = JobCreating
	c.index(&b)
	if err := c.persistJob(b.Job.ID); err != nil {
		return err
	}
	conf.Log.Infof("job %d (%s) created with %d actors", b.Job.ID, b.Job.Name, len(b.Actors))
	return nil
}

// MarkCreated flips a job to Created once its backfill finished at a
// checkpoint.
func (c *Catalog) MarkCreated(id protocol.JobID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return errorx.NewWithCode(errorx.NOT_FOUND, fmt.Sprintf("job %d is not in the catalog", id))
	}
	job.State = JobCreated
	return c.persistJob(id)
}

func (c *Catalog) Job(id protocol.JobID) (Job, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	j, ok := c.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Jobs lists all jobs sorted by id.
func (c *Catalog) Jobs() []Job {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Job, 0, len(c.jobs))
	for _, j := range c.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// JobActors lists the actor ids of one job sorted ascending.
func (c *Catalog) JobActors(id protocol.JobID) []protocol.ActorID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []protocol.ActorID
	for _, a := range c.actors {
		if a.JobID == id {
			out = append(out, a.Actor.ActorID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DropJobs removes the given jobs with their fragments and placements.
// Unknown ids are ignored so that drops replayed by recovery stay idempotent.
func (c *Catalog) DropJobs(ids []protocol.JobID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if _, ok := c.jobs[id]; !ok {
			continue
		}
		if err := c.dropJob(id); err != nil {
			return err
		}
	}
	return nil
}

// dropJob removes one job. Caller holds the lock.
func (c *Catalog) dropJob(id protocol.JobID) error {
	for fid, f := range c.frags {
		if f.JobID == id {
			delete(c.frags, fid)
		}
	}
	for aid, a := range c.actors {
		if a.JobID == id {
			delete(c.actors, aid)
		}
	}
	delete(c.jobs, id)
	if err := c.db.Delete(jobKey(id)); err != nil {
		if code, ok := errorx.GetErrorCode(err); !ok || code != errorx.NOT_FOUND {
			return err
		}
	}
	dropProgress(id)
	conf.Log.Infof("job %d dropped", id)
	return nil
}

// CleanDirtyJobs drops every foreground job still in Creating state. Their
// creation was interrupted before the first complete checkpoint, so nothing
// durable may survive. Returns the cleaned ids.
func (c *Catalog) CleanDirtyJobs() ([]protocol.JobID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var dirty []protocol.JobID
	for id, j := range c.jobs {
		if j.State == JobCreating && j.CreateType == CreateForeground {
			dirty = append(dirty, id)
		}
	}
	sort.Slice(dirty, func(i, j int) bool { return dirty[i] < dirty[j] })
	for _, id := range dirty {
		if err := c.dropJob(id); err != nil {
			return nil, err
		}
		conf.Log.Infof("dirty job %d cleaned", id)
	}
	return dirty, nil
}

// CreatingJobs lists jobs still backfilling, sorted by id.
func (c *Catalog) CreatingJobs() []Job {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Job
	for _, j := range c.jobs {
		if j.State == JobCreating {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActorsByWorker groups all placed actors by the worker that hosts them.
func (c *Catalog) ActorsByWorker() map[protocol.WorkerID][]protocol.ActorID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[protocol.WorkerID][]protocol.ActorID)
	for _, a := range c.actors {
		out[a.Slot.WorkerID] = append(out[a.Slot.WorkerID], a.Actor.ActorID)
	}
	for _, ids := range out {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return out
}

// StreamActorsByWorker returns the build blueprints grouped by worker, the
// payload recovery pushes with BuildActors.
func (c *Catalog) StreamActorsByWorker() map[protocol.WorkerID][]protocol.StreamActor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[protocol.WorkerID][]protocol.StreamActor)
	for _, a := range c.actors {
		out[a.Slot.WorkerID] = append(out[a.Slot.WorkerID], a.Actor)
	}
	for _, actors := range out {
		sort.Slice(actors, func(i, j int) bool { return actors[i].ActorID < actors[j].ActorID })
	}
	return out
}

// ActorSplits snapshots the split assignment of every placed actor.
func (c *Catalog) ActorSplits() map[protocol.ActorID][]protocol.SplitAssignment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[protocol.ActorID][]protocol.SplitAssignment)
	for id, a := range c.actors {
		if len(a.Splits) > 0 {
			out[id] = a.Splits
		}
	}
	return out
}

// UpdateSplits rewrites split assignments after a source change barrier.
func (c *Catalog) UpdateSplits(splits map[protocol.ActorID][]protocol.SplitAssignment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	touched := make(map[protocol.JobID]bool)
	for id, s := range splits {
		a, ok := c.actors[id]
		if !ok {
			continue
		}
		a.Splits = s
		touched[a.JobID] = true
	}
	for id := range touched {
		if err := c.persistJob(id); err != nil {
			return err
		}
	}
	return nil
}

// TableIDs collects the state tables of every job, the set a checkpoint
// must sync.
func (c *Catalog) TableIDs() []protocol.TableID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []protocol.TableID
	for _, j := range c.jobs {
		out = append(out, j.TableIDs...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// InuseSlots lists the distinct slots actors still occupy, in migration
// order. Recovery diffs this against the cluster's active slots.
func (c *Catalog) InuseSlots() []protocol.WorkerSlot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[protocol.WorkerSlot]bool)
	var out []protocol.WorkerSlot
	for _, a := range c.actors {
		if !seen[a.Slot] {
			seen[a.Slot] = true
			out = append(out, a.Slot)
		}
	}
	protocol.SortWorkerSlots(out)
	return out
}

// MoveActors rewrites placements according to a migration plan mapping
// expired slots to replacement slots. Returns how many actors moved per
// target worker.
func (c *Catalog) MoveActors(plan map[protocol.WorkerSlot]protocol.WorkerSlot) (map[protocol.WorkerID]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	moved := make(map[protocol.WorkerID]int)
	touched := make(map[protocol.JobID]bool)
	for _, a := range c.actors {
		to, ok := plan[a.Slot]
		if !ok {
			continue
		}
		a.Slot = to
		moved[to.WorkerID]++
		touched[a.JobID] = true
	}
	for id := range touched {
		if err := c.persistJob(id); err != nil {
			return nil, err
		}
	}
	return moved, nil
}

// RemoveActors deletes placements without dropping their jobs, used by
// reschedules that shrink a fragment.
func (c *Catalog) RemoveActors(ids []protocol.ActorID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	touched := make(map[protocol.JobID]bool)
	for _, id := range ids {
		a, ok := c.actors[id]
		if !ok {
			continue
		}
		touched[a.JobID] = true
		if f, ok := c.frags[a.Actor.FragmentID]; ok {
			f.Actors = removeActorID(f.Actors, id)
		}
		delete(c.actors, id)
	}
	for id := range touched {
		if err := c.persistJob(id); err != nil {
			return err
		}
	}
	return nil
}

// AddActors inserts placements into an existing job, used by reschedules
// that grow a fragment.
func (c *Catalog) AddActors(placements []ActorPlacement) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	touched := make(map[protocol.JobID]bool)
	for i := range placements {
		a := placements[i]
		if _, ok := c.jobs[a.JobID]; !ok {
			return errorx.NewWithCode(errorx.NOT_FOUND, fmt.Sprintf("job %d is not in the catalog", a.JobID))
		}
		c.actors[a.Actor.ActorID] = &a
		if f, ok := c.frags[a.Actor.FragmentID]; ok {
			f.Actors = append(f.Actors, a.Actor.ActorID)
			sort.Slice(f.Actors, func(i, j int) bool { return f.Actors[i] < f.Actors[j] })
		}
		touched[a.JobID] = true
	}
	for id := range touched {
		if err := c.persistJob(id); err != nil {
			return err
		}
	}
	return nil
}

func removeActorID(ids []protocol.ActorID, id protocol.ActorID) []protocol.ActorID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
