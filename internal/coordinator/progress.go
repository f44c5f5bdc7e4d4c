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
	"strconv"

	"github.com/lf-edge/oort/internal/catalog"
	"github.com/lf-edge/oort/metrics"
	"github.com/lf-edge/oort/pkg/protocol"
)

// jobProgress tracks how far one creating job's backfill actors have come.
type jobProgress struct {
	job       catalog.Job
	done      map[protocol.ActorID]bool
	consumed  map[protocol.ActorID]uint64
	doneCount int
}

func (p *jobProgress) percentage() float64 {
	if len(p.done) == 0 {
		return 100
	}
	return float64(p.doneCount) / float64(len(p.done)) * 100
}

// CreateJobTracker follows the backfill progress of creating jobs across
// barriers. A job is finished once every one of its actors has reported
// done; the coordinator makes the finish durable at the next checkpoint.
// Only the coordinator loop touches the tracker.
type CreateJobTracker struct {
	jobs     map[protocol.JobID]*jobProgress
	actorJob map[protocol.ActorID]protocol.JobID
}

func NewCreateJobTracker() *CreateJobTracker {
	return &CreateJobTracker{
		jobs:     make(map[protocol.JobID]*jobProgress),
		actorJob: make(map[protocol.ActorID]protocol.JobID),
	}
}

// AddJob starts tracking a creating job over the given backfill actors.
func (t *CreateJobTracker) AddJob(job catalog.Job, actors []protocol.ActorID) {
	p := &jobProgress{
		job:      job,
		done:     make(map[protocol.ActorID]bool, len(actors)),
		consumed: make(map[protocol.ActorID]uint64, len(actors)),
	}
	for _, actor := range actors {
		p.done[actor] = false
		t.actorJob[actor] = job.ID
	}
	t.jobs[job.ID] = p
	metrics.SetJobProgress(strconv.FormatUint(uint64(job.ID), 10), p.percentage())
}

// SeedConsumedRows restores persisted row counts after a recovery so that
// reported progress does not regress.
func (t *CreateJobTracker) SeedConsumedRows(jobID protocol.JobID, rows map[protocol.ActorID]uint64) {
	p, ok := t.jobs[jobID]
	if !ok {
		return
	}
	for actor, consumed := range rows {
		if _, tracked := p.done[actor]; tracked {
			p.consumed[actor] = consumed
		}
	}
}

// Apply folds one barrier's per-actor progress reports into the tracker and
// returns the jobs that became fully done at this barrier. Reports from
// actors of already finished jobs are ignored. Background job rows are
// persisted so progress survives a coordinator restart.
func (t *CreateJobTracker) Apply(reports []protocol.CreateJobProgress) ([]protocol.JobID, error) {
	var finished []protocol.JobID
	for _, r := range reports {
		jobID, ok := t.actorJob[r.BackfillActorID]
		if !ok {
			continue
		}
		p := t.jobs[jobID]
		p.consumed[r.BackfillActorID] = r.ConsumedRows
		if r.Done && !p.done[r.BackfillActorID] {
			p.done[r.BackfillActorID] = true
			p.doneCount++
		}
		if p.job.CreateType == catalog.CreateBackground {
			if err := catalog.SaveActorProgress(jobID, r.BackfillActorID, r.ConsumedRows); err != nil {
				return nil, err
			}
		}
		metrics.SetJobProgress(strconv.FormatUint(uint64(jobID), 10), p.percentage())
		if p.doneCount == len(p.done) {
			finished = append(finished, jobID)
			t.remove(jobID)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i] < finished[j] })
	return finished, nil
}

// AbortJobs drops tracking for jobs that are being cancelled or dropped
// while still creating.
func (t *CreateJobTracker) AbortJobs(ids []protocol.JobID) {
	for _, id := range ids {
		if _, ok := t.jobs[id]; ok {
			t.remove(id)
		}
	}
}

// Tracking reports whether the job is still being tracked.
func (t *CreateJobTracker) Tracking(id protocol.JobID) bool {
	_, ok := t.jobs[id]
	return ok
}

func (t *CreateJobTracker) remove(id protocol.JobID) {
	p := t.jobs[id]
	for actor := range p.done {
		delete(t.actorJob, actor)
	}
	delete(t.jobs, id)
	metrics.RemoveJobProgress(strconv.FormatUint(uint64(id), 10))
}

// DDLProgress is one creating job's progress as shown to administrators.
type DDLProgress struct {
	JobID      protocol.JobID     `json:"jobId"`
	Name       string             `json:"name"`
	CreateType catalog.CreateType `json:"createType"`
	Percentage float64            `json:"percentage"`
}

// Progress snapshots every tracked job, ascending by job id.
func (t *CreateJobTracker) Progress() []DDLProgress {
	out := make([]DDLProgress, 0, len(t.jobs))
	for id, p := range t.jobs {
		out = append(out, DDLProgress{
			JobID:      id,
			Name:       p.job.Name,
			CreateType: p.job.CreateType,
			Percentage: p.percentage(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}
