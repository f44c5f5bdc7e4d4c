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
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pingcap/failpoint"

	"github.com/lf-edge/oort/internal/conf"
	"github.com/lf-edge/oort/pkg/errorx"
	"github.com/lf-edge/oort/pkg/infra"
	"github.com/lf-edge/oort/pkg/protocol"
)

// WorkerClient is the abstract RPC surface of one worker. The embedded
// deployment backs it with an in-process loopback; a networked deployment
// would put a transport behind the same methods.
type WorkerClient interface {
	// InjectBarrier returns once the worker durably queued the barrier for
	// its actors, not once processing finished.
	InjectBarrier(ctx context.Context, req *protocol.InjectBarrierRequest) error
	// AwaitBarrierComplete returns once the worker collected the barrier from
	// every requested actor and its storage sync for the epoch surfaced.
	AwaitBarrierComplete(ctx context.Context, prevEpoch protocol.Epoch) (*protocol.BarrierCompleteResponse, error)
	ForceStopActors(ctx context.Context) error
	UpdateActors(ctx context.Context, infos []protocol.ActorInfo) error
	BuildActors(ctx context.Context, actors []protocol.StreamActor) error
}

// ClientPool hands out the client of one registered worker.
type ClientPool struct {
	mu      sync.RWMutex
	clients map[protocol.WorkerID]WorkerClient
}

func NewClientPool() *ClientPool {
	return &ClientPool{clients: make(map[protocol.WorkerID]WorkerClient)}
}

func (p *ClientPool) Register(id protocol.WorkerID, c WorkerClient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[id] = c
}

func (p *ClientPool) Remove(id protocol.WorkerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, id)
}

func (p *ClientPool) Client(id protocol.WorkerID) (WorkerClient, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[id]
	if !ok {
		return nil, errorx.NewTransportErr(fmt.Sprintf("no client for worker %d", id))
	}
	return c, nil
}

// completion is the single message a barrier's collection round reports back
// to the coordinator loop, successful or not.
type completion struct {
	prevEpoch protocol.Epoch
	resp      protocol.BarrierCompleteResponse
	err       error
}

// injectBarrierToWorkers fans the inject RPC out to every worker with a
// non-empty collect set and waits for all of them. Workers the barrier does
// not touch are skipped entirely. Returns the workers a collection round must
// await. Any single failure fails the whole injection.
func (c *Coordinator) injectBarrierToWorkers(ctx context.Context, cmdCtx *CommandContext) ([]protocol.WorkerID, error) {
	failpoint.Inject("injectBarrierErr", func() {
		failpoint.Return(nil, errorx.NewInjectErr("injectBarrierErr failpoint"))
	})
	barrier := cmdCtx.Barrier()
	tableIDs := cmdCtx.TableIDsToSync
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		firstErr    error
		needCollect []protocol.WorkerID
	)
	for _, workerID := range cmdCtx.Info.Workers() {
		actors := cmdCtx.Info.ByWorker[workerID]
		if len(actors) == 0 {
			continue
		}
		needCollect = append(needCollect, workerID)
		client, err := c.pool.Client(workerID)
		if err != nil {
			return nil, err
		}
		req := &protocol.InjectBarrierRequest{
			RequestID:         uuid.New().String(),
			Barrier:           barrier,
			ActorIDsToSend:    actors,
			ActorIDsToCollect: actors,
			TableIDsToSync:    tableIDs,
			PartialGraphID:    protocol.GlobalGraphID,
		}
		wg.Add(1)
		go func(id protocol.WorkerID) {
			defer wg.Done()
			err := infra.SafeRun(func() error { return client.InjectBarrier(ctx, req) })
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = errorx.NewInjectErr(fmt.Sprintf("inject %s into worker %d: %v", barrier.Epoch.Prev, id, err))
				}
				mu.Unlock()
			}
		}(workerID)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return needCollect, nil
}

// collectBarrier awaits the completion of one barrier on every injected
// worker and reports one merged completion to the loop. Runs as its own
// goroutine per in-flight barrier; a slow worker stalls only its own epoch.
func (c *Coordinator) collectBarrier(ctx context.Context, prevEpoch protocol.Epoch, workers []protocol.WorkerID) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		resps    []*protocol.BarrierCompleteResponse
	)
	for _, workerID := range workers {
		client, err := c.pool.Client(workerID)
		if err != nil {
			mu.Lock()
			firstErr = err
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(id protocol.WorkerID) {
			defer wg.Done()
			var resp *protocol.BarrierCompleteResponse
			err := infra.SafeRun(func() error {
				var err error
				resp, err = client.AwaitBarrierComplete(ctx, prevEpoch)
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = errorx.NewTransportErr(fmt.Sprintf("collect %s from worker %d: %v", prevEpoch, id, err))
				}
				return
			}
			resps = append(resps, resp)
		}(workerID)
	}
	wg.Wait()
	comp := completion{prevEpoch: prevEpoch}
	if firstErr != nil {
		comp.err = firstErr
	} else {
		all := make([]protocol.BarrierCompleteResponse, 0, len(resps))
		for _, r := range resps {
			all = append(all, *r)
		}
		comp.resp = protocol.MergeCompleteResponses(all)
		comp.resp.PrevEpoch = prevEpoch
	}
	select {
	case c.completionCh <- comp:
	case <-ctx.Done():
		conf.Log.Warnf("completion of %s dropped: coordinator stopped", prevEpoch)
	}
}

// preApplyCreate announces and builds the actors a command creates before its
// barrier is injected, so the barrier finds them ready to collect.
func (c *Coordinator) preApplyCreate(ctx context.Context, cmd Command) error {
	placements := commandActorsToCreate(cmd)
	if len(placements) == 0 {
		return nil
	}
	byWorker := make(map[protocol.WorkerID][]protocol.StreamActor)
	infos := make([]protocol.ActorInfo, 0, len(placements))
	for _, p := range placements {
		byWorker[p.Slot.WorkerID] = append(byWorker[p.Slot.WorkerID], p.Actor)
		info := protocol.ActorInfo{ActorID: p.Actor.ActorID, WorkerID: p.Slot.WorkerID}
		if w, ok := c.workers.Worker(p.Slot.WorkerID); ok {
			info.Host = w.Addr
		}
		infos = append(infos, info)
	}
	for workerID, actors := range byWorker {
		client, err := c.pool.Client(workerID)
		if err != nil {
			return err
		}
		if err := client.UpdateActors(ctx, infos); err != nil {
			return errorx.NewTransportErr(fmt.Sprintf("update actors on worker %d: %v", workerID, err))
		}
		if err := client.BuildActors(ctx, actors); err != nil {
			return errorx.NewTransportErr(fmt.Sprintf("build actors on worker %d: %v", workerID, err))
		}
	}
	return nil
}
