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

// CommandContext binds one command to the epoch pair, topology snapshot and
// pause state it was resolved against. Everything here is deterministic data:
// resolving the same command against the same state yields an identical
// barrier, which is what makes the pipeline replayable in tests.
type CommandContext struct {
	Info               *InflightActorInfo
	Epoch              protocol.EpochPair
	Kind               protocol.BarrierKind
	PrevEpochsToCommit []protocol.Epoch
	Command            Command
	PrevPausedReason   protocol.PausedReason
	TableIDsToSync     []protocol.TableID
	TraceID            string
}

// Barrier builds the wire barrier this context describes.
func (c *CommandContext) Barrier() protocol.Barrier {
	return protocol.Barrier{
		Epoch:              c.Epoch,
		Mutation:           commandMutation(c.Command, c.PrevPausedReason),
		Kind:               c.Kind,
		PrevEpochsToCommit: c.PrevEpochsToCommit,
	}
}

// NextPausedReason is the pause state the graph is in once this barrier is
// injected.
func (c *CommandContext) NextPausedReason() protocol.PausedReason {
	return commandNextPausedReason(c.Command, c.PrevPausedReason)
}

// MustPreInject checks the invariants every outgoing barrier must satisfy.
// A violation means barrier construction itself is broken.
func (c *CommandContext) MustPreInject() {
	if c.Epoch.Prev >= c.Epoch.Curr {
		panic(fmt.Sprintf("barrier %s has prev epoch at or beyond curr %s", c.Epoch.Prev, c.Epoch.Curr))
	}
	if c.Kind.IsCheckpoint() {
		n := len(c.PrevEpochsToCommit)
		if n == 0 || c.PrevEpochsToCommit[n-1] != c.Epoch.Prev {
			panic(fmt.Sprintf("checkpoint %s does not commit its own prev epoch", c.Epoch.Prev))
		}
	} else if len(c.PrevEpochsToCommit) != 0 {
		panic(fmt.Sprintf("%s barrier %s carries commit epochs", c.Kind, c.Epoch.Prev))
	}
}
