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

package coordinator

import (
	"fmt"

	"github.com/lf-edge/oort/internal/conf"
	"github.com/lf-edge/oort/internal/pkg/store"
	"github.com/lf-edge/oort/pkg/errorx"
)

const (
	paramsTable = "params"
	paramsKey   = "system"
)

// SystemParams are the knobs adjustable at runtime. They seed from the
// yaml config on first boot and persist across restarts; later PATCHes win
// over the config file.
type SystemParams struct {
	BarrierIntervalMs    int  `json:"barrierIntervalMs"`
	CheckpointFrequency  int  `json:"checkpointFrequency"`
	InFlightBarrierNums  int  `json:"inFlightBarrierNums"`
	EnableRecovery       bool `json:"enableRecovery"`
	PauseOnNextBootstrap bool `json:"pauseOnNextBootstrap"`
}

func (p SystemParams) validate() error {
	if p.BarrierIntervalMs <= 0 {
		return errorx.NewWithCode(errorx.ConfKeyError, "barrierIntervalMs must be positive")
	}
	if p.CheckpointFrequency <= 0 {
		return errorx.NewWithCode(errorx.ConfKeyError, "checkpointFrequency must be positive")
	}
	if p.InFlightBarrierNums <= 0 {
		return errorx.NewWithCode(errorx.ConfKeyError, "inFlightBarrierNums must be positive")
	}
	return nil
}

func defaultParams(bc *conf.BarrierConf) SystemParams {
	return SystemParams{
		BarrierIntervalMs:    bc.IntervalMs,
		CheckpointFrequency:  bc.CheckpointFrequency,
		InFlightBarrierNums:  bc.InFlightNums,
		EnableRecovery:       bc.EnableRecovery,
		PauseOnNextBootstrap: bc.PauseOnNextBootstrap,
	}
}

// LoadSystemParams returns the persisted params, seeding them from the config
// defaults on first boot.
func LoadSystemParams(bc *conf.BarrierConf) (SystemParams, error) {
	db, err := store.GetKV(paramsTable)
	if err != nil {
		return SystemParams{}, fmt.Errorf("cannot initialize store for system params: %v", err)
	}
	var p SystemParams
	ok, err := db.Get(paramsKey, &p)
	if err != nil {
		return SystemParams{}, err
	}
	if !ok {
		p = defaultParams(bc)
		if err := db.Set(paramsKey, p); err != nil {
			return SystemParams{}, err
		}
		conf.Log.Infof("system params seeded from config: %+v", p)
	}
	return p, nil
}

func saveSystemParams(p SystemParams) error {
	db, err := store.GetKV(paramsTable)
	if err != nil {
		return err
	}
	return db.Set(paramsKey, p)
}

// clearPauseOnBootstrap resets the one-shot bootstrap pause flag after it has
// taken effect.
func clearPauseOnBootstrap() error {
	db, err := store.GetKV(paramsTable)
	if err != nil {
		return err
	}
	var p SystemParams
	ok, err := db.Get(paramsKey, &p)
	if err != nil || !ok {
		return err
	}
	if !p.PauseOnNextBootstrap {
		return nil
	}
	p.PauseOnNextBootstrap = false
	return db.Set(paramsKey, p)
}
