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

	"github.com/lf-edge/oort/pkg/protocol"
)

// Notifier reports the three milestones of one scheduled command: its barrier
// was injected, its barrier was collected, and its effects became durable.
// Each channel fires at most once; callers that only care about the end state
// wait on AwaitFinished.
type Notifier struct {
	injected  chan protocol.EpochPair
	collected chan error
	finished  chan error
}

func NewNotifier() *Notifier {
	return &Notifier{
		injected:  make(chan protocol.EpochPair, 1),
		collected: make(chan error, 1),
		finished:  make(chan error, 1),
	}
}

func (n *Notifier) NotifyInjected(epoch protocol.EpochPair) {
	select {
	case n.injected <- epoch:
	default:
	}
}

func (n *Notifier) NotifyCollected(err error) {
	select {
	case n.collected <- err:
	default:
	}
}

func (n *Notifier) NotifyFinished(err error) {
	select {
	case n.finished <- err:
	default:
	}
}

// NotifyFailed closes out every milestone with the same error.
func (n *Notifier) NotifyFailed(err error) {
	n.NotifyCollected(err)
	n.NotifyFinished(err)
}

// AwaitInjected blocks until the command's barrier entered the pipeline.
func (n *Notifier) AwaitInjected(ctx context.Context) (protocol.EpochPair, error) {
	select {
	case e := <-n.injected:
		return e, nil
	case <-ctx.Done():
		return protocol.EpochPair{}, ctx.Err()
	}
}

// AwaitCollected blocks until every worker collected the command's barrier.
func (n *Notifier) AwaitCollected(ctx context.Context) error {
	select {
	case err := <-n.collected:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitFinished blocks until the command's effects are durable, which for a
// non-checkpoint barrier means the next checkpoint commit.
func (n *Notifier) AwaitFinished(ctx context.Context) error {
	select {
	case err := <-n.finished:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
