/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exposes the verification engine's Prometheus metrics:
// attempt lifecycle, points awarded, level changes, saga compensations,
// and QR token consumption outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "verification"

// Metrics bundles every counter/histogram/gauge the orchestrator emits.
type Metrics struct {
	AttemptsStartedTotal   *prometheus.CounterVec
	AttemptsCompletedTotal *prometheus.CounterVec
	AttemptsFailedTotal    *prometheus.CounterVec
	AttemptDuration        *prometheus.HistogramVec

	PointsAwardedTotal *prometheus.CounterVec
	LevelChangesTotal  *prometheus.CounterVec

	CompensationsTotal *prometheus.CounterVec
	QrConsumeTotal     *prometheus.CounterVec

	ActiveInstances prometheus.Gauge
}

// NewMetrics registers every metric against the global default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers every metric against registerer,
// letting tests use a fresh prometheus.NewRegistry() per example instead
// of sharing the global default.
func NewMetricsWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsStartedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_started_total",
			Help:      "Total verification attempts started, by method.",
		}, []string{"method"}),
		AttemptsCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_completed_total",
			Help:      "Total verification attempts that reached a completion, by method.",
		}, []string{"method"}),
		AttemptsFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_failed_total",
			Help:      "Total verification attempts that failed, by method and failure kind.",
		}, []string{"method", "failure_kind"}),
		AttemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Wall-clock time from attempt start to its terminal outcome, by method.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}, []string{"method"}),
		PointsAwardedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_awarded_total",
			Help:      "Total trust points awarded, by method.",
		}, []string{"method"}),
		LevelChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_changes_total",
			Help:      "Total trust level transitions, by from/to level.",
		}, []string{"from", "to"}),
		CompensationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_compensations_total",
			Help:      "Total saga compensation runs, by step reached and outcome.",
		}, []string{"step", "outcome"}),
		QrConsumeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qr_consume_total",
			Help:      "Total QR token consumption attempts, by outcome.",
		}, []string{"outcome"}),
		ActiveInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_orchestrator_instances",
			Help:      "Number of subject orchestrator instances currently resident in this process.",
		}),
	}

	registerer.MustRegister(
		m.AttemptsStartedTotal,
		m.AttemptsCompletedTotal,
		m.AttemptsFailedTotal,
		m.AttemptDuration,
		m.PointsAwardedTotal,
		m.LevelChangesTotal,
		m.CompensationsTotal,
		m.QrConsumeTotal,
		m.ActiveInstances,
	)
	return m
}
