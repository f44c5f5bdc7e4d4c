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

package common

import (
	"fmt"
	"reflect"
	"sort"
	"testing"

	"github.com/lf-edge/oort/pkg/errorx"
	"github.com/lf-edge/oort/pkg/kv"
)

func TestKvSetnx(ks kv.KeyValue, t *testing.T) {
	if err := ks.Setnx("foo", "bar"); nil != err {
		t.Error(err)
	}

	if err := ks.Setnx("foo", "bar1"); nil == err {
		t.Errorf("Can't overwrite an existing item")
	}
}

func TestKvSet(ks kv.KeyValue, t *testing.T) {
	if err := ks.Set("foo", "bar"); nil != err {
		t.Error(err)
	}

	if err := ks.Set("foo", "bar1"); nil != err {
		t.Errorf("Set should overwrite an existing record")
	}
}

func TestKvGet(ks kv.KeyValue, t *testing.T) {
	if err := ks.Setnx("foo", "bar"); nil != err {
		t.Error(err)
	}

	var v string
	if ok, _ := ks.Get("foo", &v); ok {
		if !reflect.DeepEqual("bar", v) {
			t.Error("expect:bar", "get:", v)
		}
	} else {
		t.Errorf("Should find the foo key")
	}

	if ok, _ := ks.Get("key-not-there", &v); ok {
		t.Errorf("Should not find the missing key")
	}
}

func TestKvSetGet(ks kv.KeyValue, t *testing.T) {
	if err := ks.Set("foo", "bar"); nil != err {
		t.Error(err)
	}
	if err := ks.Set("foo", "bar2"); nil != err {
		t.Error(err)
	}

	var v string
	if ok, _ := ks.Get("foo", &v); ok {
		if !reflect.DeepEqual("bar2", v) {
			t.Error("expect:bar2", "get:", v)
		}
	} else {
		t.Errorf("Should find the foo key")
	}
}

func TestKvDelete(ks kv.KeyValue, t *testing.T) {
	if err := ks.Setnx("foo", "bar"); nil != err {
		t.Error(err)
	}
	if err := ks.Delete("foo"); nil != err {
		t.Error(err)
	}
	err := ks.Delete("foo")
	if err == nil {
		t.Errorf("Delete of a missing key should fail")
	}
	if code, ok := errorx.GetErrorCode(err); !ok || code != errorx.NOT_FOUND {
		t.Errorf("Delete of a missing key should return NOT_FOUND, got %v", err)
	}
}

func TestKvKeys(length int, ks kv.KeyValue, t *testing.T) {
	expected := make([]string, 0)
	for i := 0; i < length; i++ {
		key := fmt.Sprintf("key-%d", i)
		value := fmt.Sprintf("value-%d", i)
		if err := ks.Setnx(key, value); err != nil {
			t.Errorf("It should be set")
		}
		expected = append(expected, key)
	}

	keys, err := ks.Keys()
	if err != nil {
		t.Errorf("Failed to get keys: %s.", err)
	}
	if !reflect.DeepEqual(length, len(keys)) {
		t.Errorf("expect: %d, got: %d", length, len(keys))
	}
	sort.Strings(keys)
	sort.Strings(expected)
	if !reflect.DeepEqual(keys, expected) {
		t.Errorf("Keys do not match expected %s != %s", keys, expected)
	}
}

func TestKvAll(length int, ks kv.KeyValue, t *testing.T) {
	expected := make(map[string]string)
	for i := 0; i < length; i++ {
		key := fmt.Sprintf("key-%d", i)
		value := fmt.Sprintf("value-%d", i)
		if err := ks.Setnx(key, value); err != nil {
			t.Errorf("It should be set")
		}
		expected[key] = value
	}

	all, err := ks.All()
	if err != nil {
		t.Errorf("Failed to get all: %s.", err)
	}
	if !reflect.DeepEqual(expected, all) {
		t.Errorf("All does not match expected %v != %v", all, expected)
	}
}

func TestKvClean(ks kv.KeyValue, t *testing.T) {
	if err := ks.Setnx("foo", "bar"); nil != err {
		t.Error(err)
	}
	if err := ks.Clean(); nil != err {
		t.Error(err)
	}
	keys, err := ks.Keys()
	if err != nil {
		t.Errorf("Failed to get keys: %s.", err)
	}
	if len(keys) != 0 {
		t.Errorf("expect no keys after clean, got: %d", len(keys))
	}
}
