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

package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lf-edge/oort/pkg/protocol"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	w1 := r.Register("local-0", 2)
	w2 := r.Register("local-1", 1)
	require.Equal(t, protocol.WorkerID(1), w1.ID)
	require.Equal(t, protocol.WorkerID(2), w2.ID)

	ws := r.Workers()
	require.Len(t, ws, 2)
	assert.Equal(t, "local-0", ws[0].Addr)

	slots := r.ActiveSlots()
	assert.Equal(t, []protocol.WorkerSlot{
		{WorkerID: 1, ID: 0},
		{WorkerID: 1, ID: 1},
		{WorkerID: 2, ID: 0},
	}, slots)

	require.NoError(t, r.Expire(w1.ID))
	assert.Equal(t, []protocol.WorkerSlot{{WorkerID: 2, ID: 0}}, r.ActiveSlots())
	assert.Len(t, r.ActiveWorkers(), 1)
	assert.Len(t, r.Workers(), 2)

	got, ok := r.Worker(w1.ID)
	require.True(t, ok)
	assert.Equal(t, WorkerExpired, got.State)

	require.NoError(t, r.Remove(w1.ID))
	assert.Len(t, r.Workers(), 1)
	require.Error(t, r.Remove(w1.ID))
	require.Error(t, r.Expire(w1.ID))

	// Ids are never reused after a removal.
	w3 := r.Register("local-2", 1)
	assert.Equal(t, protocol.WorkerID(3), w3.ID)
}
