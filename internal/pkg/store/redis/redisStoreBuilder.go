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

//go:build redisdb || !core

package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/lf-edge/oort/internal/pkg/store/definition"
	"github.com/lf-edge/oort/pkg/kv"
)

type StoreBuilder struct {
	database *redis.Client
}

func NewStoreBuilder(redis *redis.Client) StoreBuilder {
	return StoreBuilder{
		database: redis,
	}
}

func (b StoreBuilder) CreateStore(table string) (kv.KeyValue, error) {
	return createRedisKvStore(b.database, table)
}

func BuildStores(c definition.Config, name string) (definition.StoreBuilder, error) {
	client := NewRedisFromConf(c)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return NewStoreBuilder(client), nil
}
