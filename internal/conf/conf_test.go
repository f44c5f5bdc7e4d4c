// Copyright 2025 EMQ Technologies Co., Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package conf

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrierConfValidate(t *testing.T) {
	tests := []struct {
		s      *BarrierConf
		e      *BarrierConf
		hasErr bool
	}{
		{
			s: &BarrierConf{
				IntervalMs:          250,
				CheckpointFrequency: 5,
				InFlightNums:        2,
				EnableRecovery:      true,
			},
			e: &BarrierConf{
				IntervalMs:          250,
				CheckpointFrequency: 5,
				InFlightNums:        2,
				EnableRecovery:      true,
			},
		},
		{
			s: &BarrierConf{},
			e: &BarrierConf{
				IntervalMs:          1000,
				CheckpointFrequency: 1,
				InFlightNums:        10000,
			},
			hasErr: true,
		},
		{
			s: &BarrierConf{
				IntervalMs:          -100,
				CheckpointFrequency: 1,
				InFlightNums:        1,
			},
			e: &BarrierConf{
				IntervalMs:          1000,
				CheckpointFrequency: 1,
				InFlightNums:        1,
			},
			hasErr: true,
		},
	}
	for i, tt := range tests {
		err := tt.s.Validate()
		if tt.hasErr {
			assert.Error(t, err, "case %d", i)
		} else {
			assert.NoError(t, err, "case %d", i)
		}
		assert.Equal(t, tt.e, tt.s, "case %d", i)
	}
}

func TestRecoveryConfValidate(t *testing.T) {
	tests := []struct {
		s      *RecoveryConf
		e      *RecoveryConf
		hasErr bool
	}{
		{
			s: &RecoveryConf{RetryInitialMs: 20, RetryMaxMs: 5000},
			e: &RecoveryConf{RetryInitialMs: 20, RetryMaxMs: 5000},
		},
		{
			s:      &RecoveryConf{},
			e:      &RecoveryConf{RetryInitialMs: 20, RetryMaxMs: 5000},
			hasErr: true,
		},
		{
			s:      &RecoveryConf{RetryInitialMs: 100, RetryMaxMs: 50},
			e:      &RecoveryConf{RetryInitialMs: 100, RetryMaxMs: 100},
			hasErr: true,
		},
	}
	for i, tt := range tests {
		err := tt.s.Validate()
		if tt.hasErr {
			assert.Error(t, err, "case %d", i)
		} else {
			assert.NoError(t, err, "case %d", i)
		}
		assert.Equal(t, tt.e, tt.s, "case %d", i)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	p := path.Join(dir, "oort.yaml")
	content := []byte("basic:\n  restPort: 7280\nbarrier:\n  intervalMs: 500\n  enableRecovery: true\n")
	require.NoError(t, os.WriteFile(p, content, 0o644))

	t.Setenv("OORT__BARRIER__INTERVALMS", "250")
	t.Setenv("OORT__BASIC__DEBUG", "true")
	t.Setenv("OORT__STORE__REDIS__PASSWORD", "secret")

	c := &OortConf{Barrier: &BarrierConf{}}
	require.NoError(t, LoadConfigFromPath(p, c))
	assert.Equal(t, 250, c.Barrier.IntervalMs)
	assert.True(t, c.Barrier.EnableRecovery)
	assert.True(t, c.Basic.Debug)
	assert.Equal(t, 7280, c.Basic.RestPort)
	assert.Equal(t, "secret", c.Store.Redis.Password)
}

func TestLoadConfigMissingFile(t *testing.T) {
	c := &OortConf{}
	err := LoadConfigFromPath(path.Join(t.TempDir(), "nothere.yaml"), c)
	assert.Error(t, err)
}
