// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

// Package ingest provides the HTTP surface of the reconciliation engine:
// the validated invoice-event endpoint the webhook collaborator posts to,
// a read-only ledger endpoint for reporting, and health/metrics.
//
// Signature verification happens upstream; by the time a request reaches
// this package it carries an already-verified, de-duplicated provider
// event.
package ingest

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avenview/tally/internal/config"
	"github.com/avenview/tally/internal/logging"
	"github.com/avenview/tally/internal/metrics"
	"github.com/avenview/tally/internal/reconcile"
	"github.com/avenview/tally/internal/store"
)

// Handler serves the ingest API.
type Handler struct {
	orchestrator *reconcile.Orchestrator
	store        *store.Store
	cfg          config.IngestConfig
}

// NewHandler creates a Handler over the orchestrator and store.
func NewHandler(orchestrator *reconcile.Orchestrator, st *store.Store, cfg config.IngestConfig) *Handler {
	return &Handler{orchestrator: orchestrator, store: st, cfg: cfg}
}

// Router builds the chi router with the full middleware stack.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if h.cfg.RateLimitRequests > 0 {
			r.Use(httprate.LimitByIP(h.cfg.RateLimitRequests, h.cfg.RateLimitWindow))
		}
		r.Post("/events/invoice", h.InvoiceEvent)
		r.Get("/tenants/{tenantID}/ledger", h.Ledger)
	})

	return r
}

// InvoiceEvent ingests one validated payment-provider invoice event.
// POST /v1/events/invoice
//
// Responses:
//   - 200: event folded into the projections, or acknowledged-and-
//     discarded for unfixably incomplete metadata (retrying would not
//     help the provider)
//   - 400: body is not a structurally valid event
//   - 500: the projection transaction did not commit; the provider should
//     redeliver, which is safe by idempotency
func (h *Handler) InvoiceEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	processingID := uuid.New().String()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		h.respondError(w, start, http.StatusBadRequest, "INVALID_REQUEST", "failed to read request body")
		return
	}
	defer r.Body.Close()

	var event reconcile.Event
	if err := json.Unmarshal(body, &event); err != nil {
		h.respondError(w, start, http.StatusBadRequest, "INVALID_PAYLOAD", "failed to parse event JSON")
		return
	}

	if err := event.Validate(); err != nil {
		h.respondError(w, start, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	result, err := h.orchestrator.Reconcile(r.Context(), &event)
	if err != nil {
		// Transient store failure: fail the acknowledgment so the
		// provider retries the whole event.
		logging.Error().Err(err).
			Str("processing_id", processingID).
			Str("external_invoice_id", event.ExternalInvoiceID).
			Msg("reconciliation failed")
		h.respondError(w, start, http.StatusInternalServerError, "RECONCILE_FAILED", "event could not be processed")
		return
	}

	h.respondJSON(w, start, http.StatusOK, result)
}

// Ledger returns the revenue buckets for a tenant, optionally filtered to
// one client via ?client=.
// GET /v1/tenants/{tenantID}/ledger
func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tenantID := chi.URLParam(r, "tenantID")
	clientID := r.URL.Query().Get("client")

	entries, err := h.store.ListLedger(r.Context(), tenantID, clientID)
	if err != nil {
		if errors.Is(err, store.ErrMissingKey) {
			h.respondError(w, start, http.StatusBadRequest, "INVALID_REQUEST", "tenant id is required")
			return
		}
		logging.Error().Err(err).Str("tenant_id", tenantID).Msg("ledger listing failed")
		h.respondError(w, start, http.StatusInternalServerError, "LEDGER_READ_FAILED", "ledger could not be read")
		return
	}

	h.respondJSON(w, start, http.StatusOK, map[string]interface{}{
		"tenant_id": tenantID,
		"entries":   entries,
	})
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, time.Now(), http.StatusOK, map[string]string{"status": "ok"})
}

// errorResponse is the wire shape of an error reply.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, start time.Time, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Warn().Err(err).Msg("failed to encode response")
	}
	recordRequest(status, start)
}

func (h *Handler) respondError(w http.ResponseWriter, start time.Time, status int, code, message string) {
	h.respondJSON(w, start, status, &errorResponse{Code: code, Message: message})
}

func recordRequest(status int, start time.Time) {
	metrics.IngestRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
}
