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

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/lf-edge/oort/internal/catalog"
	"github.com/lf-edge/oort/internal/coordinator"
	"github.com/lf-edge/oort/pkg/errorx"
	"github.com/lf-edge/oort/pkg/protocol"
)

type jobRequest struct {
	Name        string `json:"name"`
	Parallelism int    `json:"parallelism"`
	CreateType  string `json:"createType"`
}

type jobInfo struct {
	ID         protocol.JobID     `json:"id"`
	Name       string             `json:"name"`
	State      string             `json:"state"`
	CreateType string             `json:"createType"`
	Actors     int                `json:"actors"`
	TableIDs   []protocol.TableID `json:"tableIds"`
}

func toJobInfo(j catalog.Job) jobInfo {
	ct := "foreground"
	if j.CreateType == catalog.CreateBackground {
		ct = "background"
	}
	return jobInfo{
		ID:         j.ID,
		Name:       j.Name,
		State:      j.State.String(),
		CreateType: ct,
		Actors:     len(cat.JobActors(j.ID)),
		TableIDs:   j.TableIDs,
	}
}

// planJob lays one new single-fragment job over the active worker slots,
// round-robin. Identifiers are derived from the job id, so a job and its
// actors can be told apart in logs at a glance.
func planJob(req jobRequest) (catalog.JobBundle, error) {
	slots := registry.ActiveSlots()
	if len(slots) == 0 {
		return catalog.JobBundle{}, errorx.NewWithCode(errorx.WorkerErr, "no active worker slots to place the job on")
	}
	var id protocol.JobID = 1
	for _, j := range cat.Jobs() {
		if j.ID >= id {
			id = j.ID + 1
		}
	}
	ct := catalog.CreateForeground
	if req.CreateType == "background" {
		ct = catalog.CreateBackground
	}
	b := catalog.JobBundle{
		Job: catalog.Job{
			ID:         id,
			Name:       req.Name,
			CreateType: ct,
			TableIDs:   []protocol.TableID{protocol.TableID(id)},
		},
		Fragments: []catalog.Fragment{
			{ID: protocol.FragmentID(id * 10), JobID: id},
		},
	}
	base := protocol.ActorID(id * 100)
	for i := 0; i < req.Parallelism; i++ {
		actorID := base + protocol.ActorID(i)
		b.Fragments[0].Actors = append(b.Fragments[0].Actors, actorID)
		b.Actors = append(b.Actors, catalog.ActorPlacement{
			Actor: protocol.StreamActor{ActorID: actorID, FragmentID: b.Fragments[0].ID, JobID: id},
			JobID: id,
			Slot:  slots[i%len(slots)],
		})
	}
	return b, nil
}

func jobsHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	switch r.Method {
	case http.MethodGet:
		jobs := cat.Jobs()
		infos := make([]jobInfo, 0, len(jobs))
		for _, j := range jobs {
			infos = append(infos, toJobInfo(j))
		}
		jsonResponse(infos, w, logger)
	case http.MethodPost:
		req := jobRequest{Parallelism: 1}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handleError(w, err, "Invalid body: Error decoding the job request", logger)
			return
		}
		if req.Name == "" {
			handleError(w, errorx.NewWithCode(errorx.JobErr, "job name is required"), "create job error", logger)
			return
		}
		if req.Parallelism <= 0 {
			handleError(w, errorx.NewWithCode(errorx.JobErr, "parallelism must be positive"), "create job error", logger)
			return
		}
		bundle, err := planJob(req)
		if err != nil {
			handleError(w, err, "create job error", logger)
			return
		}
		if err := cat.CreateJob(bundle); err != nil {
			handleError(w, err, "create job error", logger)
			return
		}
		cmd := &coordinator.CommandCreateStreamingJob{Info: coordinator.StreamJobInfo{Bundle: bundle}}
		if bundle.Job.CreateType == catalog.CreateBackground {
			// Background jobs return as soon as the first barrier passed;
			// backfill continues behind the scenes and /ddl/progress tracks
			// it.
			n := coordinator.NewNotifier()
			if err := coord.Schedule(cmd, n); err != nil {
				handleError(w, err, "create job error", logger)
				return
			}
			ctx, cancel := requestContext(r)
			defer cancel()
			if err := n.AwaitCollected(ctx); err != nil {
				handleError(w, err, "create job error", logger)
				return
			}
		} else if err := scheduleAndWait(r, cmd); err != nil {
			handleError(w, err, "create job error", logger)
			return
		}
		job, _ := cat.Job(bundle.Job.ID)
		w.WriteHeader(http.StatusCreated)
		jsonResponse(toJobInfo(job), w, logger)
	}
}

func jobIDFromRequest(r *http.Request) (protocol.JobID, error) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["id"], 10, 32)
	if err != nil {
		return 0, errorx.NewWithCode(errorx.JobErr, fmt.Sprintf("invalid job id %q", vars["id"]))
	}
	return protocol.JobID(id), nil
}

func jobHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	id, err := jobIDFromRequest(r)
	if err != nil {
		handleError(w, err, "job command error", logger)
		return
	}
	job, ok := cat.Job(id)
	if !ok {
		handleError(w, errorx.NewWithCode(errorx.NOT_FOUND, fmt.Sprintf("job %d is not found", id)), "job command error", logger)
		return
	}
	switch r.Method {
	case http.MethodGet:
		jsonResponse(toJobInfo(job), w, logger)
	case http.MethodDelete:
		if job.State != catalog.JobCreated {
			handleError(w, errorx.NewWithCode(errorx.JobErr, fmt.Sprintf("job %d is still creating, cancel it instead", id)), "drop job error", logger)
			return
		}
		cmd := &coordinator.CommandDropStreamingJobs{
			JobIDs:       []protocol.JobID{id},
			TableIDs:     job.TableIDs,
			ActorsToDrop: cat.JobActors(id),
		}
		if err := scheduleAndWait(r, cmd); err != nil {
			handleError(w, err, "drop job error", logger)
			return
		}
		w.Write([]byte(fmt.Sprintf("job %d is dropped", id)))
	}
}

func jobCancelHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	id, err := jobIDFromRequest(r)
	if err != nil {
		handleError(w, err, "cancel job error", logger)
		return
	}
	job, ok := cat.Job(id)
	if !ok {
		handleError(w, errorx.NewWithCode(errorx.NOT_FOUND, fmt.Sprintf("job %d is not found", id)), "cancel job error", logger)
		return
	}
	if job.State != catalog.JobCreating {
		handleError(w, errorx.NewWithCode(errorx.JobErr, fmt.Sprintf("job %d is already created, drop it instead", id)), "cancel job error", logger)
		return
	}
	cmd := &coordinator.CommandCancelStreamingJob{
		JobID:        id,
		TableIDs:     job.TableIDs,
		ActorsToDrop: cat.JobActors(id),
	}
	if err := scheduleAndWait(r, cmd); err != nil {
		handleError(w, err, "cancel job error", logger)
		return
	}
	w.Write([]byte(fmt.Sprintf("job %d is cancelled", id)))
}

type workerInfo struct {
	ID    protocol.WorkerID `json:"id"`
	Addr  string            `json:"addr"`
	Slots int               `json:"slots"`
	State string            `json:"state"`
}

type workerRequest struct {
	Slots int `json:"slots"`
}

func workersHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	switch r.Method {
	case http.MethodGet:
		ws := registry.Workers()
		infos := make([]workerInfo, 0, len(ws))
		for _, cw := range ws {
			infos = append(infos, workerInfo{ID: cw.ID, Addr: cw.Addr, Slots: cw.Slots, State: cw.State.String()})
		}
		jsonResponse(infos, w, logger)
	case http.MethodPost:
		req := workerRequest{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handleError(w, err, "Invalid body: Error decoding the worker request", logger)
			return
		}
		if req.Slots <= 0 {
			handleError(w, errorx.NewWithCode(errorx.WorkerErr, "slots must be positive"), "add worker error", logger)
			return
		}
		cw, err := addLocalWorker(req.Slots)
		if err != nil {
			handleError(w, err, "add worker error", logger)
			return
		}
		w.WriteHeader(http.StatusCreated)
		jsonResponse(workerInfo{ID: cw.ID, Addr: cw.Addr, Slots: cw.Slots, State: cw.State.String()}, w, logger)
	}
}
