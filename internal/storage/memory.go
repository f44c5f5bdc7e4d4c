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

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lf-edge/oort/pkg/errorx"
	"github.com/lf-edge/oort/pkg/protocol"
)

type epochBuffer struct {
	tables       map[protocol.TableID]map[string][]byte
	size         uint64
	isCheckpoint bool
	sealed       bool
}

func newEpochBuffer() *epochBuffer {
	return &epochBuffer{tables: make(map[protocol.TableID]map[string][]byte)}
}

// MemoryEngine keeps all state in process memory. It is the default engine
// for tests and standalone runs and enforces the same ordering rules as the
// durable engines.
type MemoryEngine struct {
	mu sync.Mutex

	buffers    map[protocol.Epoch]*epochBuffer
	maxSealed  protocol.Epoch
	data       map[protocol.TableID]map[string][]byte
	nextObject uint64

	committedEpoch protocol.Epoch
	currentEpoch   protocol.Epoch
}

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		buffers: make(map[protocol.Epoch]*epochBuffer),
		data:    make(map[protocol.TableID]map[string][]byte),
	}
}

func (e *MemoryEngine) Ingest(epoch protocol.Epoch, table protocol.TableID, key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	buf, ok := e.buffers[epoch]
	if !ok {
		buf = newEpochBuffer()
		e.buffers[epoch] = buf
	}
	if buf.sealed {
		return errorx.NewStorageErr(fmt.Sprintf("ingest into sealed epoch %s", epoch))
	}
	rows, ok := buf.tables[table]
	if !ok {
		rows = make(map[string][]byte)
		buf.tables[table] = rows
	}
	rows[string(key)] = value
	buf.size += uint64(len(key) + len(value))
	return nil
}

func (e *MemoryEngine) SealEpoch(epoch protocol.Epoch, isCheckpoint bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch <= e.maxSealed {
		panic(fmt.Sprintf("seal epoch %s out of order, last sealed %s", epoch, e.maxSealed))
	}
	e.maxSealed = epoch
	buf, ok := e.buffers[epoch]
	if !ok {
		buf = newEpochBuffer()
		e.buffers[epoch] = buf
	}
	buf.sealed = true
	buf.isCheckpoint = isCheckpoint
}

func (e *MemoryEngine) Sync(ctx context.Context, epoch protocol.Epoch, tableIDs []protocol.TableID) (*SyncResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	buf, ok := e.buffers[epoch]
	if !ok {
		// An epoch with no writes still syncs to an empty result.
		if epoch > e.maxSealed {
			return nil, errorx.NewStorageErr(fmt.Sprintf("sync of unsealed epoch %s", epoch))
		}
		return &SyncResult{}, nil
	}
	if !buf.sealed {
		return nil, errorx.NewStorageErr(fmt.Sprintf("sync of unsealed epoch %s", epoch))
	}
	if !buf.isCheckpoint {
		return nil, errorx.NewStorageErr(fmt.Sprintf("sync of non checkpoint epoch %s", epoch))
	}

	// Collect every staged epoch up to and including the checkpoint, oldest
	// first so later writes of a key win.
	staged := make([]protocol.Epoch, 0, len(e.buffers))
	for se := range e.buffers {
		if se <= epoch {
			staged = append(staged, se)
		}
	}
	sort.Slice(staged, func(i, j int) bool { return staged[i] < staged[j] })

	var (
		size   uint64
		tables []protocol.TableID
		seen   = make(map[protocol.TableID]bool)
	)
	for _, se := range staged {
		sb := e.buffers[se]
		for table, rows := range sb.tables {
			dst, ok := e.data[table]
			if !ok {
				dst = make(map[string][]byte)
				e.data[table] = dst
			}
			for k, v := range rows {
				dst[k] = v
			}
			if !seen[table] {
				seen[table] = true
				tables = append(tables, table)
			}
		}
		size += sb.size
		delete(e.buffers, se)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i] < tables[j] })

	res := &SyncResult{SyncSize: size}
	if size > 0 {
		e.nextObject++
		res.UncommittedSSTs = []protocol.SSTableInfo{{
			ObjectID: e.nextObject,
			TableIDs: tables,
			FileSize: size,
			Epoch:    epoch,
		}}
	}
	return res, nil
}

func (e *MemoryEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffers = make(map[protocol.Epoch]*epochBuffer)
	e.maxSealed = 0
}

func (e *MemoryEngine) CommitEpoch(ctx context.Context, epoch protocol.Epoch, ssts []protocol.SSTableInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch <= e.committedEpoch {
		return errorx.NewStorageErr(fmt.Sprintf("commit epoch %s not ascending, committed %s", epoch, e.committedEpoch))
	}
	e.committedEpoch = epoch
	if epoch > e.currentEpoch {
		e.currentEpoch = epoch
	}
	return nil
}

func (e *MemoryEngine) UpdateCurrentEpoch(epoch protocol.Epoch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch > e.currentEpoch {
		e.currentEpoch = epoch
	}
}

func (e *MemoryEngine) CommittedEpoch() protocol.Epoch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.committedEpoch
}

func (e *MemoryEngine) CurrentEpoch() protocol.Epoch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentEpoch
}

// Get reads a synced row back. Test helper.
func (e *MemoryEngine) Get(table protocol.TableID, key []byte) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rows, ok := e.data[table]
	if !ok {
		return nil, false
	}
	v, ok := rows[string(key)]
	return v, ok
}

func (e *MemoryEngine) Close() error {
	return nil
}
