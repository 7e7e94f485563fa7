// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

package service

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/avenview/tally/internal/config"
	"github.com/avenview/tally/internal/logging"
	"github.com/avenview/tally/internal/metrics"
	"github.com/avenview/tally/internal/reconcile"
	"github.com/avenview/tally/internal/store"
)

// maxOutboxBackoff caps the per-entry exponential backoff.
const maxOutboxBackoff = 5 * time.Minute

// OutboxService drains the ledger outbox: deltas whose invoice write
// committed but whose ledger increment has not yet applied. Each scan
// re-applies eligible entries using the delta stored at commit time; the
// store's atomic apply-and-delete makes a concurrent or repeated
// application a no-op.
//
// A circuit breaker around the store call stops a persistently failing
// ledger from burning the retry budget of every entry at once.
type OutboxService struct {
	store   *store.Store
	cfg     config.OutboxConfig
	breaker *gobreaker.CircuitBreaker[reconcile.LedgerApplyResult]
}

// NewOutboxService creates the retry loop service.
func NewOutboxService(st *store.Store, cfg config.OutboxConfig) *OutboxService {
	breaker := gobreaker.NewCircuitBreaker[reconcile.LedgerApplyResult](gobreaker.Settings{
		Name:    "ledger-apply",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return &OutboxService{store: st, cfg: cfg, breaker: breaker}
}

// Serve implements suture.Service: scan, apply, sleep, repeat.
func (s *OutboxService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

// drain applies every eligible pending entry once.
func (s *OutboxService) drain(ctx context.Context) {
	entries, err := s.store.PendingOutbox(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("outbox scan failed")
		return
	}
	metrics.OutboxPending.Set(float64(len(entries)))
	if len(entries) == 0 {
		return
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !s.eligible(entry, now) {
			continue
		}
		s.apply(ctx, entry, now)
	}
}

// eligible applies per-entry exponential backoff: base * 2^attempts,
// capped at maxOutboxBackoff.
func (s *OutboxService) eligible(entry *store.OutboxEntry, now time.Time) bool {
	if entry.Attempts == 0 || entry.LastAttemptAt == nil {
		return true
	}
	backoff := s.cfg.RetryBackoff << uint(entry.Attempts)
	if backoff <= 0 || backoff > maxOutboxBackoff {
		backoff = maxOutboxBackoff
	}
	return now.After(entry.LastAttemptAt.Add(backoff))
}

func (s *OutboxService) apply(ctx context.Context, entry *store.OutboxEntry, now time.Time) {
	ref := entry.Ref()

	if entry.Attempts >= s.cfg.MaxAttempts {
		// Abandon the delta, loudly: the amount below is owed to the
		// period bucket and needs manual reconciliation.
		logging.Error().
			Str("tenant_id", entry.TenantID).
			Str("external_invoice_id", entry.ExternalInvoiceID).
			Str("period_key", entry.PeriodKey).
			Str("net_delta", entry.Net().String()).
			Int("attempts", entry.Attempts).
			Str("last_error", entry.LastError).
			Msg("outbox entry dead-lettered after exhausting retries")
		metrics.OutboxDeadLettered.Inc()
		if err := s.store.DeleteOutboxEntry(ctx, ref); err != nil {
			logging.Error().Err(err).Str("entry_id", entry.EntryID).Msg("failed to remove dead-lettered entry")
		}
		return
	}

	metrics.OutboxRetries.Inc()
	result, err := s.breaker.Execute(func() (reconcile.LedgerApplyResult, error) {
		return s.store.ApplyLedgerDelta(ctx, ref)
	})
	if err != nil {
		logging.Warn().Err(err).
			Str("entry_id", entry.EntryID).
			Str("external_invoice_id", entry.ExternalInvoiceID).
			Int("attempts", entry.Attempts+1).
			Msg("ledger application retry failed")
		metrics.LedgerApplications.WithLabelValues("failed").Inc()
		if recErr := s.store.RecordOutboxFailure(ctx, ref, err.Error(), now); recErr != nil {
			logging.Error().Err(recErr).Str("entry_id", entry.EntryID).Msg("failed to record outbox failure")
		}
		return
	}

	if result.Applied {
		logging.Info().
			Str("tenant_id", entry.TenantID).
			Str("external_invoice_id", entry.ExternalInvoiceID).
			Str("period_key", result.PeriodKey).
			Str("net_delta", result.Net.String()).
			Msg("deferred ledger delta applied")
		metrics.LedgerApplications.WithLabelValues("applied").Inc()
	}
}

// String identifies the service in supervisor logs.
func (s *OutboxService) String() string {
	return "outbox-retry"
}
