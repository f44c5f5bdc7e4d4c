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
	"github.com/lf-edge/oort/internal/conf"
	"github.com/lf-edge/oort/internal/pkg/store/definition"
)

const defaultDbName = "oort.db"

func SetupDefault() error {
	dir, err := conf.GetDataLoc()
	if err != nil {
		return err
	}

	c := definition.Config{
		Type:  "sqlite",
		Redis: definition.RedisConfig{},
		Sqlite: definition.SqliteConfig{
			Path: dir,
			Name: "",
		},
	}

	return Setup(c)
}

func SetupWithOortConfig(oc *conf.OortConf) error {
	dir, err := conf.GetDataLoc()
	if err != nil {
		return err
	}
	c := definition.Config{
		Type: oc.Store.Type,
		Redis: definition.RedisConfig{
			Host:     oc.Store.Redis.Host,
			Port:     oc.Store.Redis.Port,
			Password: oc.Store.Redis.Password,
			Timeout:  oc.Store.Redis.Timeout,
		},
		Sqlite: definition.SqliteConfig{
			Path: dir,
			Name: oc.Store.Sqlite.Name,
		},
		Pebble: definition.PebbleConfig{
			Path: dir,
			Name: "meta.pebble",
		},
	}
	return Setup(c)
}

func Setup(config definition.Config) error {
	s, err := newStores(config, defaultDbName)
	if err != nil {
		return err
	}
	globalStores = s
	return nil
}
