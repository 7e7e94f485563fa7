// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

// Command tallyd runs the billing reconciliation daemon: it ingests
// validated payment-provider invoice events over HTTP and maintains the
// invoice, client-summary, and revenue-ledger projections.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/thejerf/suture/v4"

	"github.com/avenview/tally/internal/config"
	"github.com/avenview/tally/internal/ingest"
	"github.com/avenview/tally/internal/logging"
	"github.com/avenview/tally/internal/reconcile"
	"github.com/avenview/tally/internal/service"
	"github.com/avenview/tally/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("configuration load failed")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	st, err := store.Open(store.Config{
		Path:          cfg.Store.Path,
		SyncWrites:    cfg.Store.SyncWrites,
		GCRatio:       cfg.Store.GCRatio,
		CloseTimeout:  cfg.Store.CloseTimeout,
		TxnMaxRetries: cfg.Store.TxnMaxRetries,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("projection store open failed")
	}

	orchestrator := reconcile.NewOrchestrator(st, reconcile.SystemClock{})
	handler := ingest.NewHandler(orchestrator, st, cfg.Ingest)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	supervisor := suture.New("tallyd", suture.Spec{
		EventHook: func(ev suture.Event) {
			logging.Warn().
				Str("event", ev.String()).
				Msg("supervisor event")
		},
	})
	supervisor.Add(service.NewHTTPService(server, cfg.Server.ShutdownTimeout))
	supervisor.Add(service.NewOutboxService(st, cfg.Outbox))
	supervisor.Add(service.NewGCService(st, cfg.Store.GCInterval))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("store_path", cfg.Store.Path).
		Msg("tallyd starting")

	err = supervisor.Serve(ctx)
	if err != nil && err != context.Canceled {
		logging.Error().Err(err).Msg("supervisor exited with error")
	}

	if err := st.Close(); err != nil {
		logging.Error().Err(err).Msg("store close failed")
		os.Exit(1)
	}

	logging.Info().Msg("tallyd stopped")
}
