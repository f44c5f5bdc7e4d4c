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

// Package timex wraps the process clock so that epoch minting and barrier
// scheduling run against a mock in tests and the wall clock otherwise.
package timex

import (
	"os"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	Clock     clock.Clock
	IsTesting bool
)

func init() {
	for _, arg := range os.Args {
		if strings.HasPrefix(arg, "-test.") {
			IsTesting = true
			break
		}
	}
	InitClock()
}

func InitClock() {
	if IsTesting {
		Clock = clock.NewMock()
	} else {
		Clock = clock.New()
	}
}

// GetTicker drives the periodic barrier schedule. For Mock
func GetTicker(duration time.Duration) *clock.Ticker {
	return Clock.Ticker(duration)
}

func GetTimer(duration time.Duration) *clock.Timer {
	return Clock.Timer(duration)
}

func After(duration time.Duration) <-chan time.Time {
	return Clock.After(duration)
}

func Sleep(duration time.Duration) {
	Clock.Sleep(duration)
}

// GetNowInMilli is the physical-time source of epochs.
func GetNowInMilli() int64 {
	return Clock.Now().UnixMilli()
}

func GetNow() time.Time {
	return Clock.Now()
}

// Mock time, only use in test

func Set(t int64) {
	if IsTesting {
		Clock.(*clock.Mock).Set(time.UnixMilli(t))
	}
}

func SetNow(t time.Time) {
	if IsTesting {
		Clock.(*clock.Mock).Set(t)
	}
}

func Add(d time.Duration) {
	if IsTesting {
		Clock.(*clock.Mock).Add(d)
	}
}
