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

package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RecoveryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oort",
		Subsystem: "recovery",
		Name:      "counter",
		Help:      "counter of recovery rounds",
	}, []string{LblStatusType})

	RecoveryDurationHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "oort",
		Subsystem: "recovery",
		Name:      "duration_ms",
		Buckets:   prometheus.ExponentialBuckets(10, 2, 16), // 10ms ~ 5min
		Help:      "hist of recovery round duration",
	})

	WorkerMigrationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oort",
		Subsystem: "recovery",
		Name:      "migrated_actors",
		Help:      "counter of actors moved off expired workers",
	}, []string{LblWorkerType})
)

func RegisterRecovery() {
	prometheus.MustRegister(RecoveryCounter)
	prometheus.MustRegister(RecoveryDurationHist)
	prometheus.MustRegister(WorkerMigrationCounter)
}

func IncRecovery(err error) {
	RecoveryCounter.WithLabelValues(GetStatusValue(err)).Inc()
}

func ObserveRecoveryDuration(durationMs int64) {
	RecoveryDurationHist.Observe(float64(durationMs))
}

func AddMigratedActors(worker string, count int) {
	WorkerMigrationCounter.WithLabelValues(worker).Add(float64(count))
}
