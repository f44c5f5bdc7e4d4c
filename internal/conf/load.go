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

package conf

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const Separator = "__"

func LoadConfig(c interface{}) error {
	return LoadConfigByName(ConfFileName, c)
}

func LoadConfigByName(name string, c interface{}) error {
	dir, err := GetConfLoc()
	if err != nil {
		return err
	}
	p := path.Join(dir, name)
	return LoadConfigFromPath(p, c)
}

// LoadConfigFromPath reads a yaml file into c. Environment variables named
// <FILE>__<SECTION>__<KEY> override file values.
func LoadConfigFromPath(p string, c interface{}) error {
	prefix := getPrefix(p)
	b, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	configMap := make(map[string]interface{})
	err = yaml.Unmarshal(b, &configMap)
	if err != nil {
		return err
	}
	configs := normalize(configMap)
	err = process(configs, os.Environ(), prefix)
	if err != nil {
		return err
	}
	return mapstructure.Decode(configs, c)
}

func getPrefix(p string) string {
	_, file := path.Split(p)
	return strings.ToUpper(strings.TrimSuffix(file, filepath.Ext(file)))
}

func process(configMap map[string]interface{}, variables []string, prefix string) error {
	for _, e := range variables {
		if !strings.HasPrefix(e, prefix) {
			continue
		}
		pair := strings.SplitN(e, "=", 2)
		if len(pair) != 2 {
			return fmt.Errorf("wrong format of variable")
		}
		keys := nameToKeys(trimPrefix(pair[0], prefix))
		handle(configMap, keys, pair[1])
		printableK := strings.Join(keys, ".")
		printableV := pair[1]
		if strings.Contains(strings.ToLower(printableK), "password") {
			printableV = "*"
		}
		Log.Infof("Set config '%s.%s' to '%s' by environment variable", strings.ToLower(prefix), printableK, printableV)
	}
	return nil
}

func handle(conf map[string]interface{}, keysLeft []string, val string) {
	key := getConfigKey(keysLeft[0])
	if len(keysLeft) == 1 {
		conf[key] = getValueType(val)
	} else if len(keysLeft) >= 2 {
		if v, ok := conf[key]; ok {
			if casted, castSuccess := v.(map[string]interface{}); castSuccess {
				handle(casted, keysLeft[1:], val)
			} else {
				panic("not expected type")
			}
		} else {
			next := make(map[string]interface{})
			conf[key] = next
			handle(next, keysLeft[1:], val)
		}
	}
}

func trimPrefix(key string, prefix string) string {
	p := fmt.Sprintf("%s%s", prefix, Separator)
	return strings.TrimPrefix(key, p)
}

func nameToKeys(key string) []string {
	return strings.Split(strings.ToLower(key), Separator)
}

func getConfigKey(key string) string {
	return strings.ToLower(key)
}

func getValueType(val string) interface{} {
	val = strings.Trim(val, " ")
	if strings.HasPrefix(val, "[") && strings.HasSuffix(val, "]") {
		val = strings.ReplaceAll(val, "[", "")
		val = strings.ReplaceAll(val, "]", "")
		vals := strings.Split(val, ",")
		var ret []interface{}
		for _, v := range vals {
			if i, err := strconv.ParseInt(v, 10, 64); err == nil {
				ret = append(ret, i)
			} else if b, err := strconv.ParseBool(v); err == nil {
				ret = append(ret, b)
			} else if f, err := strconv.ParseFloat(v, 64); err == nil {
				ret = append(ret, f)
			} else {
				ret = append(ret, v)
			}
		}
		return ret
	} else if i, err := strconv.ParseInt(val, 10, 64); err == nil {
		return i
	} else if b, err := strconv.ParseBool(val); err == nil {
		return b
	} else if f, err := strconv.ParseFloat(val, 64); err == nil {
		return f
	}
	return val
}

func normalize(m map[string]interface{}) map[string]interface{} {
	res := make(map[string]interface{})
	for k, v := range m {
		lowered := strings.ToLower(k)
		if casted, success := v.(map[string]interface{}); success {
			node := normalize(casted)
			res[lowered] = node
		} else {
			res[lowered] = v
		}
	}
	return res
}
