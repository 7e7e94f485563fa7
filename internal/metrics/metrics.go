// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

// Package metrics exposes Prometheus instrumentation for the reconciliation
// engine: event outcomes, projection transaction behavior, ledger outbox
// depth, and ingest endpoint latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconciliation outcomes

	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_events_processed_total",
			Help: "Total number of invoice events processed, by outcome",
		},
		[]string{"outcome"}, // "reconciled", "discarded", "failed"
	)

	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tally_reconcile_duration_seconds",
			Help:    "End-to-end duration of a single event reconciliation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	AmountRegressions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_amount_regressions_total",
			Help: "Total number of events reporting a cumulative amount below the stored value",
		},
		[]string{"field"}, // "paid", "refunded"
	)

	// Projection store

	StoreTxnRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_store_txn_retries_total",
			Help: "Total number of transaction retries due to write conflicts",
		},
		[]string{"operation"},
	)

	StoreTxnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tally_store_txn_duration_seconds",
			Help:    "Duration of projection store transactions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Revenue ledger

	LedgerApplications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_ledger_applications_total",
			Help: "Total number of ledger delta applications, by result",
		},
		[]string{"result"}, // "applied", "skipped", "failed"
	)

	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tally_outbox_pending_entries",
			Help: "Current number of unapplied ledger outbox entries",
		},
	)

	OutboxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_outbox_retries_total",
			Help: "Total number of outbox entry retry attempts",
		},
	)

	OutboxDeadLettered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_outbox_dead_lettered_total",
			Help: "Total number of outbox entries abandoned after exhausting retries",
		},
	)

	// Ingest endpoint

	IngestRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_ingest_requests_total",
			Help: "Total number of ingest HTTP requests, by status code",
		},
		[]string{"status_code"},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tally_ingest_request_duration_seconds",
			Help:    "Ingest HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)
)

// RecordReconcile records one reconciliation with its outcome and duration.
func RecordReconcile(outcome string, duration time.Duration) {
	EventsProcessed.WithLabelValues(outcome).Inc()
	ReconcileDuration.Observe(duration.Seconds())
}

// RecordStoreTxn records a store transaction duration for an operation.
func RecordStoreTxn(operation string, duration time.Duration) {
	StoreTxnDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTxnRetry records a conflict retry for an operation.
func RecordTxnRetry(operation string) {
	StoreTxnRetries.WithLabelValues(operation).Inc()
}
