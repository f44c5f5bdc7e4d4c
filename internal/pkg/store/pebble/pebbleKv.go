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

//go:build pebble || !core

package pebble

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	kvEncoding "github.com/lf-edge/oort/internal/pkg/store/encoding"
	"github.com/lf-edge/oort/pkg/errorx"
	"github.com/lf-edge/oort/pkg/kv"
)

type pebbleKvStore struct {
	database Database
	table    string
}

func createPebbleKvStore(database Database, table string) (kv.KeyValue, error) {
	return &pebbleKvStore{
		database: database,
		table:    table,
	}, nil
}

func (p *pebbleKvStore) key(k string) []byte {
	return []byte(fmt.Sprintf("%s:%s", p.table, k))
}

func (p *pebbleKvStore) Setnx(key string, value interface{}) error {
	return p.database.Apply(func(db *pebble.DB) error {
		k := p.key(key)
		_, closer, err := db.Get(k)
		if err == nil {
			closer.Close()
			return fmt.Errorf("item %s already exists", key)
		} else if !errors.Is(err, pebble.ErrNotFound) {
			return err
		}

		b, err := kvEncoding.Encode(value)
		if err != nil {
			return err
		}

		return db.Set(k, b, pebble.Sync)
	})
}

func (p *pebbleKvStore) Set(key string, value interface{}) error {
	return p.database.Apply(func(db *pebble.DB) error {
		b, err := kvEncoding.Encode(value)
		if err != nil {
			return err
		}

		return db.Set(p.key(key), b, pebble.Sync)
	})
}

func (p *pebbleKvStore) Get(key string, value interface{}) (bool, error) {
	var found bool
	err := p.database.Apply(func(db *pebble.DB) error {
		k := p.key(key)
		data, closer, err := db.Get(k)
		if err != nil {
			if errors.Is(err, pebble.ErrNotFound) {
				found = false
				return nil
			}

			return err
		}
		defer closer.Close()

		if err = kvEncoding.Decode(data, value); err != nil {
			return err
		}

		found = true
		return nil
	})

	return found, err
}

func (p *pebbleKvStore) Delete(key string) error {
	return p.database.Apply(func(db *pebble.DB) error {
		k := p.key(key)
		_, closer, err := db.Get(k)
		if err != nil {
			return errorx.NewWithCode(errorx.NOT_FOUND, fmt.Sprintf("%s is not found", key))
		}
		closer.Close()
		return db.Delete(k, pebble.Sync)
	})
}

func (p *pebbleKvStore) Keys() ([]string, error) {
	var keys []string
	err := p.database.Apply(func(db *pebble.DB) error {
		iter, err := db.NewIter(nil)
		if err != nil {
			return err
		}
		defer iter.Close()

		prefix := []byte(p.table + ":")
		for iter.First(); iter.Valid(); iter.Next() {
			k := iter.Key()
			if !bytes.HasPrefix(k, prefix) {
				continue
			}

			keys = append(keys, string(k[len(prefix):]))
		}

		return nil
	})

	return keys, err
}

func (p *pebbleKvStore) All() (map[string]string, error) {
	all := make(map[string]string)
	err := p.database.Apply(func(db *pebble.DB) error {
		iter, err := db.NewIter(nil)
		if err != nil {
			return err
		}
		defer iter.Close()

		prefix := []byte(p.table + ":")
		for iter.First(); iter.Valid(); iter.Next() {
			k := iter.Key()
			v := iter.Value()
			if !bytes.HasPrefix(k, prefix) {
				continue
			}

			var val string
			if err = kvEncoding.Decode(v, &val); err != nil {
				return err
			}

			all[string(k[len(prefix):])] = val
		}

		return nil
	})

	return all, err
}

func (p *pebbleKvStore) Clean() error {
	return p.Drop()
}

func (p *pebbleKvStore) Drop() error {
	return p.database.Apply(func(db *pebble.DB) error {
		iter, err := db.NewIter(nil)
		if err != nil {
			return err
		}
		defer iter.Close()

		batch := db.NewBatch()
		prefix := []byte(p.table + ":")
		for iter.First(); iter.Valid(); iter.Next() {
			k := iter.Key()
			if bytes.HasPrefix(k, prefix) {
				batch.Delete(k, pebble.Sync)
			}
		}

		return db.Apply(batch, pebble.Sync)
	})
}
