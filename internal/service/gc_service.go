// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

package service

import (
	"context"
	"time"

	"github.com/avenview/tally/internal/logging"
	"github.com/avenview/tally/internal/store"
)

// GCService periodically runs the store's value-log garbage collection.
// Badger reclaims space only when asked; without this loop the value log
// grows unbounded under steady webhook traffic.
type GCService struct {
	store    *store.Store
	interval time.Duration
}

// NewGCService creates the garbage collection service.
func NewGCService(st *store.Store, interval time.Duration) *GCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GCService{store: st, interval: interval}
}

// Serve implements suture.Service.
func (s *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.store.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("store GC run failed")
			}
		}
	}
}

// String identifies the service in supervisor logs.
func (s *GCService) String() string {
	return "store-gc"
}
