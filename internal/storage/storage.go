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

// Package storage holds the state-store engines that barriers checkpoint.
// The worker half buffers writes per epoch and turns sealed checkpoint
// epochs into synced SSTs. The coordinator half commits those SSTs and
// tracks the committed/current epoch watermark the whole system recovers
// from.
package storage

import (
	"context"
	"fmt"
	"path"

	"github.com/lf-edge/oort/internal/conf"
	"github.com/lf-edge/oort/pkg/protocol"
)

// SyncResult is what a worker hands back for one synced checkpoint epoch.
type SyncResult struct {
	UncommittedSSTs []protocol.SSTableInfo
	SyncSize        uint64
}

// StateStore is the worker half of the engine. Epochs must be sealed in
// strictly ascending order and only sealed checkpoint epochs may be synced.
type StateStore interface {
	// Ingest buffers one row under the given in-flight epoch.
	Ingest(epoch protocol.Epoch, table protocol.TableID, key, value []byte) error
	// SealEpoch freezes the epoch buffer. Panics if epochs are sealed out
	// of order.
	SealEpoch(epoch protocol.Epoch, isCheckpoint bool)
	// Sync makes a sealed checkpoint epoch durable and reports the SSTs it
	// produced.
	Sync(ctx context.Context, epoch protocol.Epoch, tableIDs []protocol.TableID) (*SyncResult, error)
	// Reset drops all buffered and sealed-but-unsynced epochs.
	Reset()
}

// MetaStore is the coordinator half of the engine. CommitEpoch must be
// called with strictly ascending epochs.
type MetaStore interface {
	CommitEpoch(ctx context.Context, epoch protocol.Epoch, ssts []protocol.SSTableInfo) error
	UpdateCurrentEpoch(epoch protocol.Epoch)
	CommittedEpoch() protocol.Epoch
	CurrentEpoch() protocol.Epoch
}

// Engine bundles both halves for the embedded deployment where workers and
// the coordinator share one process.
type Engine interface {
	StateStore
	MetaStore
	Close() error
}

// GetEngine opens one engine instance. Workers and the coordinator each get
// their own instance, told apart by name, so sealing on one never races
// sealing on another.
func GetEngine(c *conf.OortConf, name string) (Engine, error) {
	switch c.Storage.Type {
	case "", "memory":
		return NewMemoryEngine(), nil
	case "pebble":
		dir := c.Storage.Pebble.Path
		if dir == "" {
			dataDir, err := conf.GetDataLoc()
			if err != nil {
				return nil, err
			}
			dir = path.Join(dataDir, "state")
		}
		return NewPebbleEngine(path.Join(dir, name), c.Storage.Pebble.SyncWrites)
	default:
		return nil, fmt.Errorf("unknown storage engine type %s", c.Storage.Type)
	}
}
