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
	"fmt"

	"github.com/lf-edge/oort/pkg/protocol"
)

// BarrierManagerState is the tiny mutable core of the coordinator: the curr
// epoch of the last injected barrier, which becomes the prev epoch of the
// next one, the pause state barriers are minted under, and the non-checkpoint
// prev epochs the next checkpoint folds into its commit. Owned by the event
// loop; recovery replaces it wholesale.
type BarrierManagerState struct {
	inFlightPrevEpoch protocol.Epoch
	pausedReason      protocol.PausedReason
	pendingPrevEpochs []protocol.Epoch
}

func NewBarrierManagerState(prevEpoch protocol.Epoch, paused protocol.PausedReason) *BarrierManagerState {
	return &BarrierManagerState{
		inFlightPrevEpoch: prevEpoch,
		pausedReason:      paused,
	}
}

// NextEpochPair mints the epoch pair of the next barrier and advances the
// in-flight prev epoch to its curr.
func (s *BarrierManagerState) NextEpochPair() protocol.EpochPair {
	pair := protocol.NextEpochPair(s.inFlightPrevEpoch)
	if pair.Curr <= pair.Prev {
		panic(fmt.Sprintf("epoch went backwards: %s after %s", pair.Curr, pair.Prev))
	}
	s.inFlightPrevEpoch = pair.Curr
	return pair
}

// InFlightPrevEpoch is the prev epoch the next barrier will carry.
func (s *BarrierManagerState) InFlightPrevEpoch() protocol.Epoch {
	return s.inFlightPrevEpoch
}

// FoldPrevEpochs accumulates non-checkpoint prev epochs and hands them all,
// ascending and ending with prev itself, to the checkpoint that commits them.
func (s *BarrierManagerState) FoldPrevEpochs(kind protocol.BarrierKind, prev protocol.Epoch) []protocol.Epoch {
	if !kind.IsCheckpoint() {
		s.pendingPrevEpochs = append(s.pendingPrevEpochs, prev)
		return nil
	}
	out := append(s.pendingPrevEpochs, prev)
	s.pendingPrevEpochs = nil
	return out
}

func (s *BarrierManagerState) PausedReason() protocol.PausedReason {
	return s.pausedReason
}

func (s *BarrierManagerState) SetPausedReason(r protocol.PausedReason) {
	s.pausedReason = r
}
