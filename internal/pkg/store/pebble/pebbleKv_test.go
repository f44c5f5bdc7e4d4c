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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lf-edge/oort/internal/pkg/store/definition"
	"github.com/lf-edge/oort/internal/pkg/store/test/common"
	"github.com/lf-edge/oort/pkg/kv"
)

const (
	PebbleKvDBPath = "test_pebble"
	PebbleKvTable  = "test"
)

func TestPebbleGetSetDelete(t *testing.T) {
	ks, db, abs := setupPebbleKv()
	defer cleanPebbleKv(db, abs)

	require.NoError(t, ks.Set("pk1", "pv1"))

	var val string
	ok, err := ks.Get("pk1", &val)
	require.True(t, ok)
	require.NoError(t, err)
	require.Equal(t, "pv1", val)

	require.NoError(t, ks.Set("pk1", "pv2"))
	ok, err = ks.Get("pk1", &val)
	require.True(t, ok)
	require.NoError(t, err)
	require.Equal(t, "pv2", val)

	require.NoError(t, ks.Delete("pk1"))
	ok, err = ks.Get("pk1", &val)
	require.False(t, ok)
	require.NoError(t, err)
}

func TestPebbleKvSetnx(t *testing.T) {
	ks, db, abs := setupPebbleKv()
	defer cleanPebbleKv(db, abs)

	common.TestKvSetnx(ks, t)
}

func TestPebbleKvSet(t *testing.T) {
	ks, db, abs := setupPebbleKv()
	defer cleanPebbleKv(db, abs)

	common.TestKvSet(ks, t)
}

func TestPebbleKvGet(t *testing.T) {
	ks, db, abs := setupPebbleKv()
	defer cleanPebbleKv(db, abs)

	common.TestKvGet(ks, t)
}

func TestPebbleKvSetGet(t *testing.T) {
	ks, db, abs := setupPebbleKv()
	defer cleanPebbleKv(db, abs)

	common.TestKvSetGet(ks, t)
}

func TestPebbleKvDelete(t *testing.T) {
	ks, db, abs := setupPebbleKv()
	defer cleanPebbleKv(db, abs)

	common.TestKvDelete(ks, t)
}

func TestPebbleKvKeys(t *testing.T) {
	ks, db, abs := setupPebbleKv()
	defer cleanPebbleKv(db, abs)

	common.TestKvKeys(10, ks, t)
}

func TestPebbleKvAll(t *testing.T) {
	ks, db, abs := setupPebbleKv()
	defer cleanPebbleKv(db, abs)

	common.TestKvAll(10, ks, t)
}

func TestPebbleKvClean(t *testing.T) {
	ks, db, abs := setupPebbleKv()
	defer cleanPebbleKv(db, abs)

	common.TestKvClean(ks, t)
}

func setupPebbleKv() (kv.KeyValue, definition.Database, string) {
	absPath, err := filepath.Abs(PebbleKvDBPath)
	if err != nil {
		panic(err)
	}

	err = deletePebbleIfExists(absPath)
	if err != nil {
		panic(err)
	}

	config := definition.Config{
		Type: "pebble",
		Pebble: definition.PebbleConfig{
			Path: absPath,
			Name: "kv.pebble",
		},
	}

	db, err := NewPebbleDatabase(config, "kv.pebble")
	if err != nil {
		panic(err)
	}

	err = db.Connect()
	if err != nil {
		panic(err)
	}

	builder := NewStoreBuilder(db.(Database))
	store, err := builder.CreateStore(PebbleKvTable)
	if err != nil {
		panic(err)
	}

	return store, db, absPath
}

func deletePebbleIfExists(path string) error {
	return os.RemoveAll(path)
}

func cleanPebbleKv(db definition.Database, abs string) {
	_ = db.Disconnect()
	_ = deletePebbleIfExists(abs)
}
