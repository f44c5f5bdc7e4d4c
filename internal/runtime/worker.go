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
	"fmt"
	"sort"

	"github.com/lf-edge/oort/internal/conf"
	"github.com/lf-edge/oort/internal/storage"
	"github.com/lf-edge/oort/pkg/protocol"
)

const (
	opQueueCap     = 64
	eventQueueCap  = 1024
	barrierChanCap = 64
)

type collectEvent struct {
	actorID  protocol.ActorID
	epoch    protocol.EpochPair
	progress *protocol.CreateJobProgress
}

type failureEvent struct {
	actorID protocol.ActorID
	err     error
}

type awaitResult struct {
	resp *protocol.BarrierCompleteResponse
	err  error
}

// actorSender is one barrier delivery endpoint. Built actors own a runner
// goroutine; externally registered senders carry a nil cancel.
type actorSender struct {
	ch     chan *protocol.Barrier
	cancel context.CancelFunc
}

// Worker hosts a set of actors and their barrier bookkeeping behind one event
// loop. The loop alone touches the managed state, the sender registry and the
// await bookkeeping; exported methods funnel closures through the ops channel.
// The loop runs without a panic guard: a bookkeeping invariant violation must
// crash the process, not be logged and carried on with.
type Worker struct {
	id    protocol.WorkerID
	store storage.StateStore
	state *ManagedBarrierState
	mgr   *LocalBarrierManager

	ops       chan func()
	collectCh chan collectEvent
	failureCh chan failureEvent

	senders         map[protocol.ActorID]*actorSender
	infos           map[protocol.ActorID]protocol.ActorInfo
	requestIDs      map[protocol.Epoch]string
	pendingProgress map[protocol.Epoch][]protocol.CreateJobProgress
	awaiters        map[protocol.Epoch]chan awaitResult
	results         map[protocol.Epoch]awaitResult
	mutationWaiters map[protocol.Epoch][]chan protocol.Mutation

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker starts the barrier event loop of one worker over its own state
// store instance.
func NewWorker(ctx context.Context, id protocol.WorkerID, store storage.StateStore) *Worker {
	wctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		id:              id,
		store:           store,
		ops:             make(chan func(), opQueueCap),
		collectCh:       make(chan collectEvent, eventQueueCap),
		failureCh:       make(chan failureEvent, eventQueueCap),
		senders:         make(map[protocol.ActorID]*actorSender),
		infos:           make(map[protocol.ActorID]protocol.ActorInfo),
		requestIDs:      make(map[protocol.Epoch]string),
		pendingProgress: make(map[protocol.Epoch][]protocol.CreateJobProgress),
		awaiters:        make(map[protocol.Epoch]chan awaitResult),
		results:         make(map[protocol.Epoch]awaitResult),
		mutationWaiters: make(map[protocol.Epoch][]chan protocol.Mutation),
		ctx:             wctx,
		cancel:          cancel,
	}
	w.state = NewManagedBarrierState(wctx, id, store)
	w.mgr = &LocalBarrierManager{w: w}
	go w.run()
	return w
}

func (w *Worker) ID() protocol.WorkerID {
	return w.id
}

// Manager is the handle actors use to ack barriers and report failures.
func (w *Worker) Manager() *LocalBarrierManager {
	return w.mgr
}

func (w *Worker) Stop() {
	w.cancel()
}

func (w *Worker) run() {
	conf.Log.Infof("worker %d barrier loop started", w.id)
	for {
		// Completed epochs and actor acks outrank new operations so that the
		// pipeline drains before it grows.
		select {
		case c := <-w.state.Completions():
			w.handleCompletion(c)
			continue
		default:
		}
		select {
		case ev := <-w.collectCh:
			w.handleCollect(ev)
			continue
		default:
		}
		select {
		case <-w.ctx.Done():
			conf.Log.Infof("worker %d barrier loop stopped", w.id)
			return
		case c := <-w.state.Completions():
			w.handleCompletion(c)
		case ev := <-w.collectCh:
			w.handleCollect(ev)
		case f := <-w.failureCh:
			w.handleFailure(f)
		case op := <-w.ops:
			op()
		}
	}
}

// do runs fn on the event loop and waits for it to finish.
func (w *Worker) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}
	select {
	case w.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return fmt.Errorf("worker %d stopped", w.id)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return fmt.Errorf("worker %d stopped", w.id)
	}
}

// InjectBarrier accepts one barrier for this worker's actors. It returns once
// the barrier is queued on every target actor; collection is awaited
// separately so a slow worker never blocks the next injection elsewhere.
func (w *Worker) InjectBarrier(ctx context.Context, req *protocol.InjectBarrierRequest) error {
	var opErr error
	if err := w.do(ctx, func() { opErr = w.handleInject(req) }); err != nil {
		return err
	}
	return opErr
}

// AwaitBarrierComplete blocks until the given prev epoch completed on this
// worker and returns the merged per-actor results.
func (w *Worker) AwaitBarrierComplete(ctx context.Context, prevEpoch protocol.Epoch) (*protocol.BarrierCompleteResponse, error) {
	reply := make(chan awaitResult, 1)
	if err := w.do(ctx, func() { w.handleAwait(prevEpoch, reply) }); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.ctx.Done():
		return nil, fmt.Errorf("worker %d stopped", w.id)
	}
}

// ForceStopActors unconditionally stops every actor and discards all barrier
// and staged storage state. Recovery calls this before rebuilding the graph.
func (w *Worker) ForceStopActors(ctx context.Context) error {
	return w.do(ctx, w.handleReset)
}

// UpdateActors announces actor placements before they are built.
func (w *Worker) UpdateActors(ctx context.Context, infos []protocol.ActorInfo) error {
	return w.do(ctx, func() {
		for _, info := range infos {
			w.infos[info.ActorID] = info
		}
	})
}

// BuildActors turns blueprints into running actors. Every blueprint must have
// been announced through UpdateActors first.
func (w *Worker) BuildActors(ctx context.Context, actors []protocol.StreamActor) error {
	var opErr error
	if err := w.do(ctx, func() { opErr = w.handleBuild(actors) }); err != nil {
		return err
	}
	return opErr
}

// DropActors stops actors and drops their bookkeeping outside the
// stop-barrier path.
func (w *Worker) DropActors(ctx context.Context, ids []protocol.ActorID) error {
	return w.do(ctx, func() {
		for _, id := range ids {
			w.dropSender(id)
			w.state.RemoveActor(id)
		}
	})
}

// RemovePartialGraph retires a graph once nothing is in flight on it.
func (w *Worker) RemovePartialGraph(ctx context.Context, graphID protocol.PartialGraphID) error {
	var opErr error
	if err := w.do(ctx, func() { opErr = w.state.RemovePartialGraph(graphID) }); err != nil {
		return err
	}
	return opErr
}

func (w *Worker) handleInject(req *protocol.InjectBarrierRequest) error {
	for _, id := range req.ActorIDsToSend {
		s, ok := w.senders[id]
		if !ok {
			return fmt.Errorf("worker %d has no actor %d to inject %s into", w.id, id, req.Barrier.Epoch.Prev)
		}
		if len(s.ch) == cap(s.ch) {
			return fmt.Errorf("worker %d actor %d has %d barriers backed up", w.id, id, len(s.ch))
		}
	}
	w.state.InjectBarrier(req)
	w.requestIDs[req.Barrier.Epoch.Prev] = req.RequestID
	b := req.Barrier
	for _, id := range req.ActorIDsToSend {
		w.senders[id].ch <- &b
	}
	if waiters, ok := w.mutationWaiters[b.Epoch.Prev]; ok {
		for _, ch := range waiters {
			ch <- b.Mutation
		}
		delete(w.mutationWaiters, b.Epoch.Prev)
	}
	conf.Log.Debugf("worker %d queued %s barrier %s for %d actors", w.id, b.Kind, b.Epoch.Prev, len(req.ActorIDsToSend))
	return nil
}

func (w *Worker) handleCollect(ev collectEvent) {
	if ev.progress != nil {
		w.pendingProgress[ev.epoch.Prev] = append(w.pendingProgress[ev.epoch.Prev], *ev.progress)
	}
	if removed := w.state.Collect(ev.actorID, ev.epoch); removed {
		w.dropSender(ev.actorID)
	}
}

func (w *Worker) handleCompletion(c *CompletedEpoch) {
	if !w.state.PopCompletedEpoch(c.GraphID, c.PrevEpoch) {
		conf.Log.Warnf("worker %d dropped completion %s from retired graph %d", w.id, c.PrevEpoch, c.GraphID)
		return
	}
	if c.Err != nil {
		conf.Log.Errorf("worker %d failed epoch %s: %v", w.id, c.PrevEpoch, c.Err)
		w.finishEpoch(c.PrevEpoch, awaitResult{err: fmt.Errorf("worker %d epoch %s: %v", w.id, c.PrevEpoch, c.Err)})
		return
	}
	resp := &protocol.BarrierCompleteResponse{
		RequestID: w.requestIDs[c.PrevEpoch],
		WorkerID:  w.id,
		PrevEpoch: c.PrevEpoch,
	}
	if c.Result != nil {
		resp.SyncedSSTs = c.Result.UncommittedSSTs
		for i := range resp.SyncedSSTs {
			resp.SyncedSSTs[i].WorkerID = w.id
		}
	}
	if progress := w.pendingProgress[c.PrevEpoch]; len(progress) > 0 {
		sort.Slice(progress, func(i, j int) bool { return progress[i].BackfillActorID < progress[j].BackfillActorID })
		resp.CreateJobProgress = progress
	}
	conf.Log.Debugf("worker %d completed %s barrier %s with %d ssts", w.id, c.Kind, c.PrevEpoch, len(resp.SyncedSSTs))
	w.finishEpoch(c.PrevEpoch, awaitResult{resp: resp})
}

func (w *Worker) handleFailure(f failureEvent) {
	conf.Log.Errorf("worker %d actor %d failed: %v", w.id, f.actorID, f.err)
	err := fmt.Errorf("actor %d on worker %d: %v", f.actorID, w.id, f.err)
	epochs := w.state.EpochsAwaitOnActor(f.actorID)
	for _, prev := range epochs {
		w.finishEpoch(prev, awaitResult{err: err})
	}
	w.dropSender(f.actorID)
	w.state.RemoveActor(f.actorID)
}

// finishEpoch hands the final result of one epoch to its awaiter, or parks it
// until AwaitBarrierComplete asks.
func (w *Worker) finishEpoch(prevEpoch protocol.Epoch, r awaitResult) {
	delete(w.requestIDs, prevEpoch)
	delete(w.pendingProgress, prevEpoch)
	if ch, ok := w.awaiters[prevEpoch]; ok {
		delete(w.awaiters, prevEpoch)
		ch <- r
		return
	}
	w.results[prevEpoch] = r
}

func (w *Worker) handleAwait(prevEpoch protocol.Epoch, reply chan awaitResult) {
	if r, ok := w.results[prevEpoch]; ok {
		delete(w.results, prevEpoch)
		reply <- r
		return
	}
	if _, ok := w.awaiters[prevEpoch]; ok {
		reply <- awaitResult{err: fmt.Errorf("epoch %s is already awaited on worker %d", prevEpoch, w.id)}
		return
	}
	w.awaiters[prevEpoch] = reply
}

func (w *Worker) handleReset() {
	for id := range w.senders {
		w.dropSender(id)
	}
	w.state.Reset()
	w.infos = make(map[protocol.ActorID]protocol.ActorInfo)
	w.requestIDs = make(map[protocol.Epoch]string)
	w.pendingProgress = make(map[protocol.Epoch][]protocol.CreateJobProgress)
	for prev, ch := range w.awaiters {
		ch <- awaitResult{err: fmt.Errorf("worker %d was reset while %s was in flight", w.id, prev)}
	}
	w.awaiters = make(map[protocol.Epoch]chan awaitResult)
	w.results = make(map[protocol.Epoch]awaitResult)
	for _, waiters := range w.mutationWaiters {
		for _, ch := range waiters {
			close(ch)
		}
	}
	w.mutationWaiters = make(map[protocol.Epoch][]chan protocol.Mutation)
	conf.Log.Infof("worker %d reset: all actors stopped, staged state dropped", w.id)
}

func (w *Worker) handleBuild(actors []protocol.StreamActor) error {
	for _, bp := range actors {
		if _, ok := w.senders[bp.ActorID]; ok {
			return fmt.Errorf("actor %d is already built on worker %d", bp.ActorID, w.id)
		}
		if _, ok := w.infos[bp.ActorID]; !ok {
			return fmt.Errorf("actor %d was not announced to worker %d", bp.ActorID, w.id)
		}
	}
	for _, bp := range actors {
		w.senders[bp.ActorID] = w.buildRunner(bp)
	}
	conf.Log.Infof("worker %d built %d actors", w.id, len(actors))
	return nil
}

func (w *Worker) dropSender(actorID protocol.ActorID) {
	s, ok := w.senders[actorID]
	if !ok {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	delete(w.senders, actorID)
}

// LocalBarrierManager is the actor-facing handle of one worker. Runners call
// Collect and NotifyFailure; test harnesses can register raw senders and read
// a barrier's mutation before its inject request lands.
type LocalBarrierManager struct {
	w *Worker
}

// Collect acknowledges one barrier for one actor, optionally piggybacking a
// backfill progress report.
func (m *LocalBarrierManager) Collect(actorID protocol.ActorID, epoch protocol.EpochPair, progress *protocol.CreateJobProgress) {
	select {
	case m.w.collectCh <- collectEvent{actorID: actorID, epoch: epoch, progress: progress}:
	case <-m.w.ctx.Done():
	}
}

// NotifyFailure reports an actor error. Every epoch still awaiting the actor
// fails; the coordinator turns that into a recovery round.
func (m *LocalBarrierManager) NotifyFailure(actorID protocol.ActorID, err error) {
	select {
	case m.w.failureCh <- failureEvent{actorID: actorID, err: err}:
	case <-m.w.ctx.Done():
	}
}

// RegisterSender attaches an externally driven barrier channel for one actor.
// The channel must be buffered since the worker loop never blocks on actors.
func (m *LocalBarrierManager) RegisterSender(ctx context.Context, actorID protocol.ActorID, ch chan *protocol.Barrier) error {
	if cap(ch) == 0 {
		return fmt.Errorf("sender channel for actor %d must be buffered", actorID)
	}
	var opErr error
	if err := m.w.do(ctx, func() {
		if _, ok := m.w.senders[actorID]; ok {
			opErr = fmt.Errorf("actor %d already has a sender on worker %d", actorID, m.w.id)
			return
		}
		m.w.senders[actorID] = &actorSender{ch: ch}
	}); err != nil {
		return err
	}
	return opErr
}

// ReadBarrierMutation returns the mutation of the given barrier, waiting for
// the inject request when the barrier arrived through the dataflow first.
func (m *LocalBarrierManager) ReadBarrierMutation(ctx context.Context, epoch protocol.EpochPair) (protocol.Mutation, error) {
	reply := make(chan protocol.Mutation, 1)
	if err := m.w.do(ctx, func() {
		if mu, ok := m.w.state.BarrierMutation(epoch.Prev); ok {
			reply <- mu
			return
		}
		m.w.mutationWaiters[epoch.Prev] = append(m.w.mutationWaiters[epoch.Prev], reply)
	}); err != nil {
		return nil, err
	}
	select {
	case mu, ok := <-reply:
		if !ok {
			return nil, fmt.Errorf("worker %d was reset before %s was issued", m.w.id, epoch.Prev)
		}
		return mu, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.w.ctx.Done():
		return nil, fmt.Errorf("worker %d stopped", m.w.id)
	}
}
