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

package catalog

import (
	"fmt"
	"strconv"

	"github.com/lf-edge/oort/internal/conf"
	"github.com/lf-edge/oort/internal/pkg/store"
	"github.com/lf-edge/oort/pkg/protocol"
)

// Backfill progress lives in one kv table per creating job so that dropping
// the job drops the table with it. Keys are actor ids, values the consumed
// row count.

func progressTable(id protocol.JobID) string {
	return fmt.Sprintf("progress/%d", id)
}

// SaveActorProgress persists the consumed row count of one backfill actor.
func SaveActorProgress(id protocol.JobID, actor protocol.ActorID, consumedRows uint64) error {
	db, err := store.GetKV(progressTable(id))
	if err != nil {
		return err
	}
	return db.Set(strconv.FormatUint(uint64(actor), 10), strconv.FormatUint(consumedRows, 10))
}

// LoadProgress restores the per-actor consumed row counts of one job.
func LoadProgress(id protocol.JobID) (map[protocol.ActorID]uint64, error) {
	db, err := store.GetKV(progressTable(id))
	if err != nil {
		return nil, err
	}
	all, err := db.All()
	if err != nil {
		return nil, err
	}
	out := make(map[protocol.ActorID]uint64, len(all))
	for k, v := range all {
		actor, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			conf.Log.Warnf("skip malformed progress key %s of job %d", k, id)
			continue
		}
		rows, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			conf.Log.Warnf("skip malformed progress value %s of job %d", v, id)
			continue
		}
		out[protocol.ActorID(actor)] = rows
	}
	return out, nil
}

// dropProgress removes the progress table of a dropped job. Failures only
// warn, a stale progress table is harmless.
func dropProgress(id protocol.JobID) {
	if err := store.DropKV(progressTable(id)); err != nil {
		conf.Log.Warnf("drop progress store of job %d: %v", id, err)
	}
}

// DropAllProgress removes every per-job progress table.
func DropAllProgress() error {
	return store.DropRefKVs("progress")
}
