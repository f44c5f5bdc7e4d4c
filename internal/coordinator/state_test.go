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

	"github.com/lf-edge/oort/pkg/protocol"
)

func TestNextEpochPairAdvances(t *testing.T) {
	s := NewBarrierManagerState(0, protocol.NotPaused)
	var last protocol.Epoch
	for i := 0; i < 100; i++ {
		pair := s.NextEpochPair()
		assert.Equal(t, last, pair.Prev)
		require.Greater(t, pair.Curr, pair.Prev)
		last = pair.Curr
	}
	assert.Equal(t, last, s.InFlightPrevEpoch())
}

func TestFoldPrevEpochs(t *testing.T) {
	s := NewBarrierManagerState(0, protocol.NotPaused)
	// Non-checkpoint barriers accumulate; the next checkpoint commits them
	// all, ascending, ending with its own prev epoch.
	assert.Nil(t, s.FoldPrevEpochs(protocol.KindBarrier, 100))
	assert.Nil(t, s.FoldPrevEpochs(protocol.KindBarrier, 200))
	got := s.FoldPrevEpochs(protocol.KindCheckpoint, 300)
	assert.Equal(t, []protocol.Epoch{100, 200, 300}, got)
	// The fold starts over after a checkpoint.
	got = s.FoldPrevEpochs(protocol.KindCheckpoint, 400)
	assert.Equal(t, []protocol.Epoch{400}, got)
}

func TestPausedReasonRoundTrip(t *testing.T) {
	s := NewBarrierManagerState(0, protocol.NotPaused)
	assert.Equal(t, protocol.NotPaused, s.PausedReason())
	s.SetPausedReason(protocol.PausedManual)
	assert.Equal(t, protocol.PausedManual, s.PausedReason())
}
