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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lf-edge/oort/internal/catalog"
	"github.com/lf-edge/oort/pkg/protocol"
)

func TestTrackerFinishesWhenAllActorsDone(t *testing.T) {
	tr := NewCreateJobTracker()
	tr.AddJob(catalog.Job{ID: 1, Name: "mv"}, []protocol.ActorID{100, 101})

	finished, err := tr.Apply([]protocol.CreateJobProgress{
		{BackfillActorID: 100, Done: true, ConsumedRows: 10},
	})
	require.NoError(t, err)
	assert.Empty(t, finished)
	assert.True(t, tr.Tracking(1))

	// A repeated done report from the same actor does not double count.
	finished, err = tr.Apply([]protocol.CreateJobProgress{
		{BackfillActorID: 100, Done: true, ConsumedRows: 12},
	})
	require.NoError(t, err)
	assert.Empty(t, finished)

	finished, err = tr.Apply([]protocol.CreateJobProgress{
		{BackfillActorID: 101, Done: true, ConsumedRows: 20},
	})
	require.NoError(t, err)
	assert.Equal(t, []protocol.JobID{1}, finished)
	assert.False(t, tr.Tracking(1))

	// Reports for a finished job are ignored.
	finished, err = tr.Apply([]protocol.CreateJobProgress{
		{BackfillActorID: 100, Done: true},
	})
	require.NoError(t, err)
	assert.Empty(t, finished)
}

func TestTrackerPercentage(t *testing.T) {
	tr := NewCreateJobTracker()
	tr.AddJob(catalog.Job{ID: 1, Name: "mv"}, []protocol.ActorID{100, 101, 102, 103})

	progress := tr.Progress()
	require.Len(t, progress, 1)
	assert.Equal(t, float64(0), progress[0].Percentage)

	_, err := tr.Apply([]protocol.CreateJobProgress{
		{BackfillActorID: 100, Done: true},
		{BackfillActorID: 101, Done: true},
	})
	require.NoError(t, err)
	progress = tr.Progress()
	require.Len(t, progress, 1)
	assert.Equal(t, float64(50), progress[0].Percentage)
}

func TestTrackerProgressOrderedByJob(t *testing.T) {
	tr := NewCreateJobTracker()
	tr.AddJob(catalog.Job{ID: 2, Name: "b"}, []protocol.ActorID{200})
	tr.AddJob(catalog.Job{ID: 1, Name: "a"}, []protocol.ActorID{100})

	progress := tr.Progress()
	require.Len(t, progress, 2)
	assert.Equal(t, protocol.JobID(1), progress[0].JobID)
	assert.Equal(t, protocol.JobID(2), progress[1].JobID)
}

func TestTrackerAbortJobs(t *testing.T) {
	tr := NewCreateJobTracker()
	tr.AddJob(catalog.Job{ID: 1, Name: "mv"}, []protocol.ActorID{100})
	tr.AbortJobs([]protocol.JobID{1, 99})
	assert.False(t, tr.Tracking(1))

	finished, err := tr.Apply([]protocol.CreateJobProgress{
		{BackfillActorID: 100, Done: true},
	})
	require.NoError(t, err)
	assert.Empty(t, finished)
}

func TestTrackerBackgroundJobPersistsProgress(t *testing.T) {
	setupStore(t)
	tr := NewCreateJobTracker()
	tr.AddJob(catalog.Job{ID: 7, Name: "bg", CreateType: catalog.CreateBackground}, []protocol.ActorID{700, 701})

	_, err := tr.Apply([]protocol.CreateJobProgress{
		{BackfillActorID: 700, Done: false, ConsumedRows: 42},
	})
	require.NoError(t, err)

	rows, err := catalog.LoadProgress(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), rows[700])

	// A fresh tracker seeded from the persisted rows keeps the counts.
	tr2 := NewCreateJobTracker()
	tr2.AddJob(catalog.Job{ID: 7, Name: "bg", CreateType: catalog.CreateBackground}, []protocol.ActorID{700, 701})
	tr2.SeedConsumedRows(7, rows)
	assert.True(t, tr2.Tracking(7))
}
