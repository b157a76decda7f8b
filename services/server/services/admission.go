// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/springqna/springqna/services/server/observability"
)

// AdmissionGuard bounds how many RAG executions (retrieve + generate) run at
// once. Requests that cannot obtain a slot within the wait window are
// rejected with RagOverloadedError instead of queueing behind the model.
type AdmissionGuard struct {
	sem         *semaphore.Weighted
	waitTimeout time.Duration
	retryAfter  time.Duration
}

// NewAdmissionGuard creates a guard with maxConcurrency slots. Concurrency
// is floored at 1 and the wait timeout at 100ms so a misconfigured guard
// still admits work.
func NewAdmissionGuard(maxConcurrency int, waitTimeout, retryAfter time.Duration) *AdmissionGuard {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if waitTimeout < 100*time.Millisecond {
		waitTimeout = 100 * time.Millisecond
	}
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	return &AdmissionGuard{
		sem:         semaphore.NewWeighted(int64(maxConcurrency)),
		waitTimeout: waitTimeout,
		retryAfter:  retryAfter,
	}
}

// Acquire obtains an execution slot, waiting at most the configured timeout.
// On success the returned release function must be called exactly once. A
// timed-out wait returns RagOverloadedError; a canceled caller context
// returns the context error unchanged so it is not misreported as overload.
func (g *AdmissionGuard) Acquire(ctx context.Context) (release func(), err error) {
	waitCtx, cancel := context.WithTimeout(ctx, g.waitTimeout)
	defer cancel()

	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("RAG admission rejected", "waitTimeout", g.waitTimeout)
		observability.RecordAdmissionRejected()
		return nil, &RagOverloadedError{RetryAfter: g.retryAfter}
	}

	return func() { g.sem.Release(1) }, nil
}

// RetryAfter reports the client backoff hint used for 503 responses.
func (g *AdmissionGuard) RetryAfter() time.Duration {
	return g.retryAfter
}
