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
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"
)

const ConfFileName = "oort.yaml"

var (
	Config    *OortConf
	IsTesting bool
)

type tlsConf struct {
	Certfile string `yaml:"certfile"`
	Keyfile  string `yaml:"keyfile"`
}

// BarrierConf paces the global barrier flow. These values seed the adjustable
// system params at first boot.
type BarrierConf struct {
	IntervalMs           int  `json:"intervalMs" yaml:"intervalMs"`
	CheckpointFrequency  int  `json:"checkpointFrequency" yaml:"checkpointFrequency"`
	InFlightNums         int  `json:"inFlightNums" yaml:"inFlightNums"`
	EnableRecovery       bool `json:"enableRecovery" yaml:"enableRecovery"`
	PauseOnNextBootstrap bool `json:"pauseOnNextBootstrap" yaml:"pauseOnNextBootstrap"`
}

// Validate the configuration and reset to the default value for invalid values.
func (bc *BarrierConf) Validate() error {
	var errs error
	if bc.IntervalMs <= 0 {
		bc.IntervalMs = 1000
		Log.Warnf("barrier intervalMs is less than or equal to 0, set to 1000")
		errs = errors.Join(errs, errors.New("invalidIntervalMs:intervalMs must be positive"))
	}
	if bc.CheckpointFrequency <= 0 {
		bc.CheckpointFrequency = 1
		Log.Warnf("checkpointFrequency is less than or equal to 0, set to 1")
		errs = errors.Join(errs, errors.New("invalidCheckpointFrequency:checkpointFrequency must be positive"))
	}
	if bc.InFlightNums <= 0 {
		bc.InFlightNums = 10000
		Log.Warnf("inFlightNums is less than or equal to 0, set to 10000")
		errs = errors.Join(errs, errors.New("invalidInFlightNums:inFlightNums must be positive"))
	}
	return errs
}

// RecoveryConf shapes the retry backoff of recovery rounds. Recovery itself
// never gives up, the backoff only spaces the attempts.
type RecoveryConf struct {
	RetryInitialMs int `json:"retryInitialMs" yaml:"retryInitialMs"`
	RetryMaxMs     int `json:"retryMaxMs" yaml:"retryMaxMs"`
}

func (rc *RecoveryConf) Validate() error {
	var errs error
	if rc.RetryInitialMs <= 0 {
		rc.RetryInitialMs = 20
		Log.Warnf("recovery retryInitialMs is less than or equal to 0, set to 20")
		errs = errors.Join(errs, errors.New("invalidRetryInitialMs:retryInitialMs must be positive"))
	}
	if rc.RetryMaxMs <= 0 {
		rc.RetryMaxMs = 5000
		Log.Warnf("recovery retryMaxMs is less than or equal to 0, set to 5000")
		errs = errors.Join(errs, errors.New("invalidRetryMaxMs:retryMaxMs must be positive"))
	}
	if rc.RetryMaxMs < rc.RetryInitialMs {
		rc.RetryMaxMs = rc.RetryInitialMs
		Log.Warnf("recovery retryMaxMs is less than retryInitialMs, set to %d", rc.RetryInitialMs)
		errs = errors.Join(errs, errors.New("retryMaxMsTooSmall:retryMaxMs must be greater than or equal to retryInitialMs"))
	}
	return errs
}

type OortConf struct {
	Basic struct {
		Debug          bool     `yaml:"debug"`
		ConsoleLog     bool     `yaml:"consoleLog"`
		FileLog        bool     `yaml:"fileLog"`
		RotateTime     int      `yaml:"rotateTime"`
		MaxAge         int      `yaml:"maxAge"`
		RestIp         string   `yaml:"restIp"`
		RestPort       int      `yaml:"restPort"`
		RestTls        *tlsConf `yaml:"restTls"`
		Prometheus     bool     `yaml:"prometheus"`
		PrometheusPort int      `yaml:"prometheusPort"`
		MetricsDump    struct {
			Enable        bool `yaml:"enable"`
			RetainedHours int  `yaml:"retainedHours"`
		} `yaml:"metricsDump"`
	}
	Barrier  *BarrierConf
	Recovery *RecoveryConf
	Cluster  struct {
		Workers        int `yaml:"workers"`
		SlotsPerWorker int `yaml:"slotsPerWorker"`
	}
	Store struct {
		Type  string `yaml:"type"`
		Redis struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			Password string `yaml:"password"`
			Timeout  int    `yaml:"timeout"`
		}
		Sqlite struct {
			Name string `yaml:"name"`
		}
	}
	Storage struct {
		Type   string `yaml:"type"`
		Pebble struct {
			Path       string `yaml:"path"`
			SyncWrites bool   `yaml:"syncWrites"`
		}
	}
}

func InitConf() {
	cpath, err := GetConfLoc()
	if err != nil {
		panic(err)
	}
	oc := OortConf{
		Barrier: &BarrierConf{
			IntervalMs:          1000,
			CheckpointFrequency: 1,
			InFlightNums:        10000,
			EnableRecovery:      true,
		},
		Recovery: &RecoveryConf{
			RetryInitialMs: 20,
			RetryMaxMs:     5000,
		},
	}

	err = LoadConfigFromPath(path.Join(cpath, ConfFileName), &oc)
	if err != nil {
		Log.Fatal(err)
		panic(err)
	}
	Config = &oc
	if 0 == len(Config.Basic.RestIp) {
		Config.Basic.RestIp = "0.0.0.0"
	}
	if Config.Basic.RestPort <= 0 || Config.Basic.RestPort > 65535 {
		Log.Warnf("invalid restPort configuration %d, set to 7280", Config.Basic.RestPort)
		Config.Basic.RestPort = 7280
	}

	if Config.Basic.Debug {
		Log.SetLevel(logrus.DebugLevel)
	}

	if Config.Basic.FileLog {
		logDir, err := GetLoc(logDir)
		if err != nil {
			Log.Fatal(err)
		}

		file := path.Join(logDir, logFileName)
		logWriter, err := rotatelogs.New(
			file+".%Y-%m-%d_%H-%M-%S",
			rotatelogs.WithLinkName(file),
			rotatelogs.WithRotationTime(time.Hour*time.Duration(Config.Basic.RotateTime)),
			rotatelogs.WithMaxAge(time.Hour*time.Duration(Config.Basic.MaxAge)),
		)

		if err != nil {
			fmt.Println("Failed to init log file settings..." + err.Error())
			Log.Infof("Failed to log to file, using default stderr.")
		} else if Config.Basic.ConsoleLog {
			mw := io.MultiWriter(os.Stdout, logWriter)
			Log.SetOutput(mw)
		} else if !Config.Basic.ConsoleLog {
			Log.SetOutput(logWriter)
		}
	} else if Config.Basic.ConsoleLog {
		Log.SetOutput(os.Stdout)
	}

	if Config.Store.Type == "" {
		Config.Store.Type = "sqlite"
	}
	if Config.Store.Sqlite.Name == "" {
		Config.Store.Sqlite.Name = "oort.db"
	}
	if Config.Store.Type == "redis" && Config.Store.Redis.Port == 0 {
		Config.Store.Redis.Port = 6379
	}
	if Config.Storage.Type == "" {
		Config.Storage.Type = "memory"
	}
	if Config.Cluster.Workers <= 0 {
		Config.Cluster.Workers = 1
	}
	if Config.Cluster.SlotsPerWorker <= 0 {
		Config.Cluster.SlotsPerWorker = 4
	}
	if Config.Basic.MetricsDump.RetainedHours <= 0 {
		Config.Basic.MetricsDump.RetainedHours = 72
	}

	if Config.Barrier == nil {
		Config.Barrier = &BarrierConf{}
	}
	_ = Config.Barrier.Validate()
	if Config.Recovery == nil {
		Config.Recovery = &RecoveryConf{}
	}
	_ = Config.Recovery.Validate()
}

func init() {
	InitLogger()
}
