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

package store

import (
	"fmt"
	"strings"
	"sync"

	"github.com/lf-edge/oort/internal/pkg/store/definition"
	"github.com/lf-edge/oort/internal/pkg/store/sql"
	"github.com/lf-edge/oort/pkg/kv"
)

type StoreCreator func(conf definition.Config, name string) (definition.StoreBuilder, error)

var (
	storeBuilders = map[string]StoreCreator{
		"sqlite": sql.BuildStores,
	}
	globalStores *stores = nil
)

type stores struct {
	kv        map[string]kv.KeyValue
	mu        sync.Mutex
	kvBuilder definition.StoreBuilder
}

func newStores(c definition.Config, name string) (*stores, error) {
	databaseType := c.Type
	if builder, ok := storeBuilders[databaseType]; ok {
		kvBuilder, err := builder(c, name)
		if err != nil {
			return nil, err
		} else {
			return &stores{
				kv:        make(map[string]kv.KeyValue),
				mu:        sync.Mutex{},
				kvBuilder: kvBuilder,
			}, nil
		}
	} else {
		return nil, fmt.Errorf("unknown database type: %s", databaseType)
	}
}

func (s *stores) GetKV(table string) (kv.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ks, contains := s.kv[table]; contains {
		return ks, nil
	}
	ks, err := s.kvBuilder.CreateStore(table)
	if err != nil {
		return nil, err
	}
	s.kv[table] = ks
	return ks, nil
}

func (s *stores) DropKV(table string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ks, contains := s.kv[table]; contains {
		_ = ks.Drop()
		delete(s.kv, table)
	}
}

func (s *stores) DropRefKVs(tablePrefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for table, ks := range s.kv {
		if strings.HasPrefix(table, tablePrefix) {
			_ = ks.Drop()
			delete(s.kv, table)
		}
	}
}

func GetKV(table string) (kv.KeyValue, error) {
	if globalStores == nil {
		return nil, fmt.Errorf("global stores are not initialized")
	}
	return globalStores.GetKV(table)
}

func DropKV(table string) error {
	if globalStores == nil {
		return fmt.Errorf("global stores are not initialized")
	}
	globalStores.DropKV(table)
	return nil
}

func DropRefKVs(tablePrefix string) error {
	if globalStores == nil {
		return fmt.Errorf("global stores are not initialized")
	}
	globalStores.DropRefKVs(tablePrefix)
	return nil
}
