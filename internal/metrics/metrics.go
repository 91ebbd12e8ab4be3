// Copyright (c) 2026 John Earle
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

// Package metrics defines the Prometheus metrics exported by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion outcomes
var (
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Total number of inbound messages by outcome",
		},
		[]string{"outcome"},
	)

	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_duration_seconds",
			Help:    "Time spent processing one inbound message",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"mode"},
	)

	SecurityRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_security_rejections_total",
			Help: "Total number of messages rejected by the security gate",
		},
		[]string{"kind"},
	)

	RoutingRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_routing_rejections_total",
			Help: "Total number of messages rejected by routing",
		},
		[]string{"reason"},
	)

	CategoryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_category_total",
			Help: "Total number of stored messages by display category",
		},
		[]string{"category"},
	)
)

// Suppression
var (
	SuppressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_suppressions_total",
			Help: "Total number of recipient suppressions recorded",
		},
		[]string{"reason"},
	)

	SuppressionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_suppression_failures_total",
			Help: "Total number of suppression attempts that failed",
		},
	)
)

// Background processing
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_jobs_total",
			Help: "Total number of queued ingestion jobs by result",
		},
		[]string{"result"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_queue_depth",
			Help: "Number of jobs waiting in a queue",
		},
		[]string{"queue"},
	)

	ForwardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_forwards_total",
			Help: "Total number of external alias forwards by result",
		},
		[]string{"result"},
	)
)
