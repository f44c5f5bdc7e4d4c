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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lf-edge/oort/internal/catalog"
	"github.com/lf-edge/oort/internal/cluster"
	"github.com/lf-edge/oort/internal/pkg/store"
	"github.com/lf-edge/oort/internal/pkg/store/definition"
	"github.com/lf-edge/oort/internal/storage"
	"github.com/lf-edge/oort/pkg/protocol"
)

func setupStore(t *testing.T) {
	t.Helper()
	err := store.Setup(definition.Config{
		Type: "sqlite",
		Sqlite: definition.SqliteConfig{
			Path: t.TempDir(),
			Name: "coordinator.db",
		},
	})
	require.NoError(t, err)
}

func testParams() SystemParams {
	return SystemParams{
		BarrierIntervalMs:   50,
		CheckpointFrequency: 1,
		InFlightBarrierNums: 10,
		EnableRecovery:      true,
	}
}

func placedBundle(id protocol.JobID, slots []protocol.WorkerSlot) catalog.JobBundle {
	base := protocol.ActorID(id * 100)
	b := catalog.JobBundle{
		Job: catalog.Job{
			ID:       id,
			Name:     "mv",
			TableIDs: []protocol.TableID{protocol.TableID(id)},
		},
		Fragments: []catalog.Fragment{
			{ID: protocol.FragmentID(id * 10), JobID: id},
		},
	}
	for i, slot := range slots {
		actorID := base + protocol.ActorID(i)
		b.Fragments[0].Actors = append(b.Fragments[0].Actors, actorID)
		b.Actors = append(b.Actors, catalog.ActorPlacement{
			Actor: protocol.StreamActor{ActorID: actorID, FragmentID: b.Fragments[0].ID, JobID: id},
			JobID: id,
			Slot:  slot,
		})
	}
	return b
}

func TestMigrateActorsMovesExpiredSlots(t *testing.T) {
	setupStore(t)
	cat, err := catalog.New()
	require.NoError(t, err)
	reg := cluster.NewRegistry()
	w1 := reg.Register("w1", 2)
	w2 := reg.Register("w2", 2)

	require.NoError(t, cat.CreateJob(placedBundle(1, []protocol.WorkerSlot{
		{WorkerID: w1.ID, ID: 0},
		{WorkerID: w1.ID, ID: 1},
		{WorkerID: w2.ID, ID: 0},
		{WorkerID: w2.ID, ID: 1},
	})))
	require.NoError(t, cat.MarkCreated(1))

	c := New(cat, reg, storage.NewMemoryEngine(), NewClientPool(), testParams())
	defer c.cancel()

	// Nothing expired yet: migration is a no-op.
	require.NoError(t, c.migrateActors())
	assert.ElementsMatch(t, []protocol.WorkerSlot{
		{WorkerID: w1.ID, ID: 0}, {WorkerID: w1.ID, ID: 1},
		{WorkerID: w2.ID, ID: 0}, {WorkerID: w2.ID, ID: 1},
	}, cat.InuseSlots())

	require.NoError(t, reg.Expire(w2.ID))
	w3 := reg.Register("w3", 2)
	require.NoError(t, c.migrateActors())

	// Expired slots are consumed ascending against free ones ascending, so
	// the mapping is reproducible.
	assert.ElementsMatch(t, []protocol.WorkerSlot{
		{WorkerID: w1.ID, ID: 0}, {WorkerID: w1.ID, ID: 1},
		{WorkerID: w3.ID, ID: 0}, {WorkerID: w3.ID, ID: 1},
	}, cat.InuseSlots())
}

func TestGenerateMigrationPlanIsStableAcrossRetries(t *testing.T) {
	setupStore(t)
	cat, err := catalog.New()
	require.NoError(t, err)
	reg := cluster.NewRegistry()
	w1 := reg.Register("w1", 1)
	w2 := reg.Register("w2", 2)

	require.NoError(t, cat.CreateJob(placedBundle(1, []protocol.WorkerSlot{
		{WorkerID: w1.ID, ID: 0},
		{WorkerID: w2.ID, ID: 0},
		{WorkerID: w2.ID, ID: 1},
	})))
	require.NoError(t, cat.MarkCreated(1))
	require.NoError(t, reg.Expire(w2.ID))
	w3 := reg.Register("w3", 4)

	c := New(cat, reg, storage.NewMemoryEngine(), NewClientPool(), testParams())
	defer c.cancel()

	expired := []protocol.WorkerSlot{
		{WorkerID: w2.ID, ID: 0},
		{WorkerID: w2.ID, ID: 1},
	}
	plan, err := c.generateMigrationPlan(expired)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, protocol.WorkerSlot{WorkerID: w3.ID, ID: 0}, plan[expired[0]])
	assert.Equal(t, protocol.WorkerSlot{WorkerID: w3.ID, ID: 1}, plan[expired[1]])

	// A retry before the move applies must produce the identical plan even
	// though more free slots exist now.
	reg.Register("w4", 4)
	again, err := c.generateMigrationPlan(expired)
	require.NoError(t, err)
	assert.Equal(t, plan, again)
}

func TestPreApplyDropCancelDropsQueuedJobs(t *testing.T) {
	setupStore(t)
	cat, err := catalog.New()
	require.NoError(t, err)
	reg := cluster.NewRegistry()
	w1 := reg.Register("w1", 2)

	require.NoError(t, cat.CreateJob(placedBundle(1, []protocol.WorkerSlot{{WorkerID: w1.ID, ID: 0}})))
	require.NoError(t, cat.MarkCreated(1))

	c := New(cat, reg, storage.NewMemoryEngine(), NewClientPool(), testParams())
	defer c.cancel()

	n := NewNotifier()
	require.NoError(t, c.sched.Schedule(CommandFlush{}))
	require.NoError(t, c.sched.Schedule(&CommandDropStreamingJobs{JobIDs: []protocol.JobID{1}}, n))

	assert.True(t, c.preApplyDropCancel())
	// The drop bypassed its barrier and is already durable.
	_, ok := cat.Job(1)
	assert.False(t, ok)
	require.NoError(t, n.AwaitFinished(context.Background()))
	// Unrelated commands stay queued.
	assert.Equal(t, 1, c.sched.QueueLen())
	assert.False(t, c.preApplyDropCancel())
}
