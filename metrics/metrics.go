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

const (
	LblKindType   = "kind"
	LblStatusType = "status"
	LblJobIDType  = "job"
	LblWorkerType = "worker"

	LblException = "err"
	LblSuccess   = "success"
)

func GetStatusValue(err error) string {
	if err == nil {
		return LblSuccess
	}
	return LblException
}

var (
	BarrierInjectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oort",
		Subsystem: "barrier",
		Name:      "injected",
		Help:      "counter of injected barriers",
	}, []string{LblKindType})

	BarrierCompletedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oort",
		Subsystem: "barrier",
		Name:      "completed",
		Help:      "counter of completed barriers",
	}, []string{LblKindType, LblStatusType})

	InFlightBarrierGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "oort",
		Subsystem: "barrier",
		Name:      "in_flight",
		Help:      "gauge of barriers between injection and completion",
	})

	BarrierLatencyHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "oort",
		Subsystem: "barrier",
		Name:      "latency_ms",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 16), // 1ms ~ 32s
		Help:      "hist of barrier inject to commit latency",
	}, []string{LblKindType})

	CommittedEpochGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "oort",
		Subsystem: "epoch",
		Name:      "committed_ms",
		Help:      "gauge of the physical time of the last committed epoch",
	})

	JobProgressGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "oort",
		Subsystem: "job",
		Name:      "progress",
		Help:      "gauge of job backfill progress in percentage",
	}, []string{LblJobIDType})
)

func init() {
	RegisterRecovery()
	prometheus.MustRegister(BarrierInjectedCounter)
	prometheus.MustRegister(BarrierCompletedCounter)
	prometheus.MustRegister(InFlightBarrierGauge)
	prometheus.MustRegister(BarrierLatencyHist)
	prometheus.MustRegister(CommittedEpochGauge)
	prometheus.MustRegister(JobProgressGauge)
}

func IncBarrierInjected(kind string) {
	BarrierInjectedCounter.WithLabelValues(kind).Inc()
}

func IncBarrierCompleted(kind string, err error) {
	BarrierCompletedCounter.WithLabelValues(kind, GetStatusValue(err)).Inc()
}

func SetInFlightBarrier(count int) {
	InFlightBarrierGauge.Set(float64(count))
}

func ObserveBarrierLatency(kind string, latencyMs int64) {
	BarrierLatencyHist.WithLabelValues(kind).Observe(float64(latencyMs))
}

func SetCommittedEpoch(physicalMs int64) {
	CommittedEpochGauge.Set(float64(physicalMs))
}

func SetJobProgress(jobID string, percentage float64) {
	JobProgressGauge.WithLabelValues(jobID).Set(percentage)
}

func RemoveJobProgress(jobID string) {
	JobProgressGauge.DeleteLabelValues(jobID)
}
