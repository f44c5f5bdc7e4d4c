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
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/lf-edge/oort/internal/conf"
	"github.com/lf-edge/oort/pkg/errorx"
	"github.com/lf-edge/oort/pkg/protocol"
)

// committedEpochKey is the manifest row the committed watermark survives
// restarts under. Row keys live in a separate keyspace prefixed with 's'.
var (
	committedEpochKey = []byte("m:committed_epoch")
	currentEpochKey   = []byte("m:current_epoch")
)

type stagedEpoch struct {
	batch        *pebble.Batch
	tables       map[protocol.TableID]bool
	size         uint64
	isCheckpoint bool
	sealed       bool
}

// PebbleEngine stages one pebble batch per in-flight epoch. Sealing freezes
// the batch, syncing a checkpoint applies all staged batches up to it with
// WAL durability.
type PebbleEngine struct {
	mu sync.Mutex
	db *pebble.DB

	staged     map[protocol.Epoch]*stagedEpoch
	maxSealed  protocol.Epoch
	nextObject uint64
	writeOpts  *pebble.WriteOptions

	committedEpoch protocol.Epoch
	currentEpoch   protocol.Epoch
}

func NewPebbleEngine(dir string, syncWrites bool) (*PebbleEngine, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state dir: %w", err)
		}
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	conf.Log.Infof("use pebble state store at %s", dir)
	e := &PebbleEngine{
		db:        db,
		staged:    make(map[protocol.Epoch]*stagedEpoch),
		writeOpts: pebble.NoSync,
	}
	if syncWrites {
		e.writeOpts = pebble.Sync
	}
	if err := e.loadEpochs(); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *PebbleEngine) loadEpochs() error {
	for _, k := range [][]byte{committedEpochKey, currentEpochKey} {
		data, closer, err := e.db.Get(k)
		if err != nil {
			if err == pebble.ErrNotFound {
				continue
			}
			return err
		}
		v := protocol.Epoch(binary.BigEndian.Uint64(data))
		closer.Close()
		if string(k) == string(committedEpochKey) {
			e.committedEpoch = v
		} else {
			e.currentEpoch = v
		}
	}
	if e.currentEpoch < e.committedEpoch {
		e.currentEpoch = e.committedEpoch
	}
	return nil
}

func rowKey(table protocol.TableID, key []byte) []byte {
	k := make([]byte, 0, 6+len(key))
	k = append(k, 's', ':')
	k = binary.BigEndian.AppendUint32(k, uint32(table))
	return append(k, key...)
}

func (e *PebbleEngine) Ingest(epoch protocol.Epoch, table protocol.TableID, key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.staged[epoch]
	if !ok {
		st = &stagedEpoch{
			batch:  e.db.NewBatch(),
			tables: make(map[protocol.TableID]bool),
		}
		e.staged[epoch] = st
	}
	if st.sealed {
		return errorx.NewStorageErr(fmt.Sprintf("ingest into sealed epoch %s", epoch))
	}
	if err := st.batch.Set(rowKey(table, key), value, nil); err != nil {
		return errorx.NewStorageErr(err.Error())
	}
	st.tables[table] = true
	st.size += uint64(len(key) + len(value))
	return nil
}

func (e *PebbleEngine) SealEpoch(epoch protocol.Epoch, isCheckpoint bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch <= e.maxSealed {
		panic(fmt.Sprintf("seal epoch %s out of order, last sealed %s", epoch, e.maxSealed))
	}
	e.maxSealed = epoch
	st, ok := e.staged[epoch]
	if !ok {
		st = &stagedEpoch{
			batch:  e.db.NewBatch(),
			tables: make(map[protocol.TableID]bool),
		}
		e.staged[epoch] = st
	}
	st.sealed = true
	st.isCheckpoint = isCheckpoint
}

func (e *PebbleEngine) Sync(ctx context.Context, epoch protocol.Epoch, tableIDs []protocol.TableID) (*SyncResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.staged[epoch]
	if !ok {
		if epoch > e.maxSealed {
			return nil, errorx.NewStorageErr(fmt.Sprintf("sync of unsealed epoch %s", epoch))
		}
		return &SyncResult{}, nil
	}
	if !st.sealed {
		return nil, errorx.NewStorageErr(fmt.Sprintf("sync of unsealed epoch %s", epoch))
	}
	if !st.isCheckpoint {
		return nil, errorx.NewStorageErr(fmt.Sprintf("sync of non checkpoint epoch %s", epoch))
	}

	stagedEpochs := make([]protocol.Epoch, 0, len(e.staged))
	for se := range e.staged {
		if se <= epoch {
			stagedEpochs = append(stagedEpochs, se)
		}
	}
	sort.Slice(stagedEpochs, func(i, j int) bool { return stagedEpochs[i] < stagedEpochs[j] })

	var (
		size   uint64
		tables []protocol.TableID
		seen   = make(map[protocol.TableID]bool)
	)
	for _, se := range stagedEpochs {
		sb := e.staged[se]
		// The checkpoint batch is the only one that pays the WAL fsync.
		opts := pebble.NoSync
		if se == epoch {
			opts = e.writeOpts
		}
		if err := e.db.Apply(sb.batch, opts); err != nil {
			return nil, errorx.NewStorageErr(fmt.Sprintf("apply epoch %s: %v", se, err))
		}
		sb.batch.Close()
		for table := range sb.tables {
			if !seen[table] {
				seen[table] = true
				tables = append(tables, table)
			}
		}
		size += sb.size
		delete(e.staged, se)
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

func (e *PebbleEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.staged {
		st.batch.Close()
	}
	e.staged = make(map[protocol.Epoch]*stagedEpoch)
	e.maxSealed = 0
}

func (e *PebbleEngine) CommitEpoch(ctx context.Context, epoch protocol.Epoch, ssts []protocol.SSTableInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch <= e.committedEpoch {
		return errorx.NewStorageErr(fmt.Sprintf("commit epoch %s not ascending, committed %s", epoch, e.committedEpoch))
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(epoch))
	if err := e.db.Set(committedEpochKey, buf[:], pebble.Sync); err != nil {
		return errorx.NewStorageErr(fmt.Sprintf("persist committed epoch %s: %v", epoch, err))
	}
	e.committedEpoch = epoch
	if epoch > e.currentEpoch {
		e.currentEpoch = epoch
	}
	return nil
}

func (e *PebbleEngine) UpdateCurrentEpoch(epoch protocol.Epoch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch <= e.currentEpoch {
		return
	}
	e.currentEpoch = epoch
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(epoch))
	if err := e.db.Set(currentEpochKey, buf[:], pebble.NoSync); err != nil {
		conf.Log.Warnf("persist current epoch %s: %v", epoch, err)
	}
}

func (e *PebbleEngine) CommittedEpoch() protocol.Epoch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.committedEpoch
}

func (e *PebbleEngine) CurrentEpoch() protocol.Epoch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentEpoch
}

// Get reads a synced row back.
func (e *PebbleEngine) Get(table protocol.TableID, key []byte) ([]byte, bool, error) {
	data, closer, err := e.db.Get(rowKey(table, key))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	v := make([]byte, len(data))
	copy(v, data)
	closer.Close()
	return v, true, nil
}

func (e *PebbleEngine) Close() error {
	e.Reset()
	return e.db.Close()
}
