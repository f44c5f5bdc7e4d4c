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

package runtime

import (
	"context"
	"strconv"

	"github.com/lf-edge/oort/internal/storage"
	"github.com/lf-edge/oort/pkg/infra"
	"github.com/lf-edge/oort/pkg/protocol"
)

// actorRunner is the in-process stand-in for a dataflow actor. Real operator
// execution lives outside this module; the runner honors exactly the barrier
// contract: consume the barrier channel in order, flush one state row for the
// closing epoch, then ack collection with a progress report.
type actorRunner struct {
	actor        protocol.StreamActor
	mgr          *LocalBarrierManager
	store        storage.StateStore
	barriers     <-chan *protocol.Barrier
	consumedRows uint64
}

// buildRunner wires one blueprint to a runner goroutine. A panic or error in
// the runner surfaces as an actor failure, never as a process crash: executor
// trouble is recoverable, only bookkeeping corruption is fatal.
func (w *Worker) buildRunner(bp protocol.StreamActor) *actorSender {
	ctx, cancel := context.WithCancel(w.ctx)
	ch := make(chan *protocol.Barrier, barrierChanCap)
	r := &actorRunner{
		actor:    bp,
		mgr:      w.mgr,
		store:    w.store,
		barriers: ch,
	}
	go func() {
		if err := infra.SafeRun(func() error { return r.run(ctx) }); err != nil {
			w.mgr.NotifyFailure(bp.ActorID, err)
		}
	}()
	return &actorSender{ch: ch, cancel: cancel}
}

func (r *actorRunner) run(ctx context.Context) error {
	key := []byte(strconv.FormatUint(uint64(r.actor.ActorID), 10))
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-r.barriers:
			stop := r.stoppedBy(b)
			// No data precedes an Initial barrier, so nothing is flushed for
			// its prev epoch.
			if b.Kind != protocol.KindInitial {
				r.consumedRows++
				value := []byte(strconv.FormatUint(uint64(b.Epoch.Prev), 10))
				if err := r.store.Ingest(b.Epoch.Prev, r.actor.JobID, key, value); err != nil {
					return err
				}
			}
			r.mgr.Collect(r.actor.ActorID, b.Epoch, &protocol.CreateJobProgress{
				BackfillActorID: r.actor.ActorID,
				Done:            true,
				ConsumedEpoch:   b.Epoch.Prev,
				ConsumedRows:    r.consumedRows,
			})
			if stop {
				return nil
			}
		}
	}
}

func (r *actorRunner) stoppedBy(b *protocol.Barrier) bool {
	for _, id := range b.AllStopActors() {
		if id == r.actor.ActorID {
			return true
		}
	}
	return false
}
