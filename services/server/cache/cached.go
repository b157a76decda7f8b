// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache fronts the synchronous RAG path with a Redis answer cache
// and stampede control.
//
// A request walks the tiers in order:
//
//  1. Raw-question key (only when the request has no history)
//  2. Canonical key (rewrite + normalize)
//  3. In-process singleflight on the canonical key
//  4. Distributed lock; the lock owner double-checks the cache, computes
//     inside an admission slot, and commits atomically
//  5. Lock losers poll the canonical key until the owner's commit lands
//
// Redis failures never fail a request: reads degrade to misses and an
// unreachable lock store degrades to computing without the cache.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/springqna/springqna/services/server/datatypes"
	"github.com/springqna/springqna/services/server/observability"
	"github.com/springqna/springqna/services/server/services"
)

var cacheTracer = otel.Tracer("springqna.cache")

// Options carries the cache tuning knobs.
type Options struct {
	// PipelineVersion becomes part of every answer key.
	PipelineVersion string
	// AnswerTTL is the lifetime of a cached answer.
	AnswerTTL time.Duration
	// LockTTL bounds how long an owner may hold the compute lock.
	LockTTL time.Duration
	// LockWait bounds how long lock losers poll for the owner's result.
	LockWait time.Duration
	// LockPoll is the polling interval while waiting.
	LockPoll time.Duration
}

func (o Options) withDefaults() Options {
	if o.PipelineVersion == "" {
		o.PipelineVersion = "1"
	}
	if o.AnswerTTL <= 0 {
		o.AnswerTTL = time.Hour
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 2 * time.Minute
	}
	if o.LockWait <= 0 {
		o.LockWait = time.Minute
	}
	if o.LockPoll < 10*time.Millisecond {
		o.LockPoll = 10 * time.Millisecond
	}
	return o
}

// CachedRAGService wraps RAGService.Answer with the tiered cache. Streaming
// is never cached and keeps going straight to the RAG service.
type CachedRAGService struct {
	rag       *services.RAGService
	store     *Store
	admission *services.AdmissionGuard
	flight    singleflight.Group
	opts      Options
}

// NewCachedRAGService creates the cache front. The admission guard must be
// the same instance the RAG service uses so cached and uncached requests
// share one concurrency budget. Panics on nil dependencies.
func NewCachedRAGService(rag *services.RAGService, store *Store, admission *services.AdmissionGuard, opts Options) *CachedRAGService {
	if rag == nil {
		panic("NewCachedRAGService: rag service cannot be nil")
	}
	if store == nil {
		panic("NewCachedRAGService: store cannot be nil")
	}
	if admission == nil {
		panic("NewCachedRAGService: admission guard cannot be nil")
	}

	return &CachedRAGService{
		rag:       rag,
		store:     store,
		admission: admission,
		opts:      opts.withDefaults(),
	}
}

// Answer serves one question through the cache tiers.
//
// # Description
//
//	The raw key is consulted only for history-free requests; with history
//	the same question text can mean something else, so only the canonical
//	(rewrite + normalize) key is safe. On a full miss the canonical key
//	also serializes computation: one in-process flight per key, one lock
//	owner per deployment, everyone else polls for the committed answer.
//
// Errors are the same set RAGService.Answer produces, plus
// CacheWaitTimeoutError when a lock loser never saw the owner's commit.
func (s *CachedRAGService) Answer(ctx context.Context, question string, history []datatypes.HistoryMessage) (*datatypes.RagResponse, error) {
	ctx, span := cacheTracer.Start(ctx, "CachedRAGService.Answer")
	defer span.End()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, &services.ValidationError{Message: "message is required"}
	}
	hasHistory := len(history) > 0
	historyMessages := services.MapHistory(history)
	span.SetAttributes(attribute.Int("history_turns", len(history)))

	rawKey := AnswerKey(s.opts.PipelineVersion, QuestionHash(question))
	if !hasHistory {
		if resp, ok := s.store.GetAnswer(ctx, rawKey); ok {
			observability.RecordCacheHit("raw")
			slog.Info("[CacheHit]", "phase", "raw", "key", rawKey)
			return resp, nil
		}
	}

	canonicalQuery := s.rag.BuildSearchQuery(ctx, question, historyMessages)
	canonicalKey := AnswerKey(s.opts.PipelineVersion, QuestionHash(canonicalQuery))

	if resp, ok := s.store.GetAnswer(ctx, canonicalKey); ok {
		observability.RecordCacheHit("canonical")
		slog.Info("[CacheHit]", "phase", "canonical", "key", canonicalKey)
		return resp, nil
	}

	// Identical in-flight questions share one execution. The closure runs
	// only for the first caller; everyone else waits on the channel, so a
	// canceled waiter stops waiting without canceling the owner.
	owner := false
	ch := s.flight.DoChan(canonicalKey, func() (any, error) {
		owner = true
		slog.Info("[InFlightRegister]", "key", canonicalKey)
		return s.computeOrWait(ctx, question, canonicalQuery, historyMessages, hasHistory, rawKey, canonicalKey)
	})

	select {
	case res := <-ch:
		if !owner {
			observability.RecordSingleflightJoin()
			slog.Info("[InFlightJoin]", "key", canonicalKey, "action", "awaited_inflight_result")
		}
		if res.Err != nil {
			span.RecordError(res.Err)
			return nil, res.Err
		}
		if !owner {
			observability.RecordCacheHit("singleflight")
		}
		return res.Val.(*datatypes.RagResponse), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// computeOrWait is the singleflight body: take the distributed lock and
// compute, or poll for the result of whoever holds it.
func (s *CachedRAGService) computeOrWait(ctx context.Context, question, canonicalQuery string, historyMessages []datatypes.Message, hasHistory bool, rawKey, canonicalKey string) (*datatypes.RagResponse, error) {
	lockKey := LockKey(canonicalKey)
	slog.Info("[LockAttempt]", "key", canonicalKey)

	token, acquired, err := s.store.AcquireLock(ctx, lockKey, s.opts.LockTTL)
	if err != nil {
		// Redis is unreachable. Computing without the cache beats polling
		// a dead store until the wait deadline.
		slog.Warn("Answer cache unavailable, computing directly", "key", canonicalKey, "error", err)
		observability.RecordCacheMiss()
		return s.compute(ctx, question, canonicalQuery, historyMessages)
	}

	if !acquired {
		observability.RecordLockOutcome("miss")
		slog.Info("[LockMiss]", "key", canonicalKey, "action", "poll_cache_until_ready")
		return s.pollForResult(ctx, canonicalKey)
	}

	// Released on every exit path; a no-op once the atomic commit already
	// deleted the lock.
	defer s.store.ReleaseLock(ctx, lockKey, token)
	observability.RecordLockOutcome("acquired")
	slog.Info("[LockAcquired]", "key", canonicalKey)

	if resp, ok := s.store.GetAnswer(ctx, canonicalKey); ok {
		observability.RecordCacheHit("after_lock")
		slog.Info("[CacheHitAfterLock]", "key", canonicalKey)
		return resp, nil
	}

	result, err := s.compute(ctx, question, canonicalQuery, historyMessages)
	if err != nil {
		return nil, err
	}
	observability.RecordCacheMiss()

	rawTarget := ""
	if !hasHistory && rawKey != canonicalKey {
		rawTarget = rawKey
	}
	committed, err := s.store.CommitIfOwner(ctx, lockKey, token, canonicalKey, rawTarget, result, s.opts.AnswerTTL)
	switch {
	case err != nil:
		observability.RecordCacheCommit("error")
		slog.Warn("[CacheSetAtomicError]", "key", canonicalKey, "error", err)
	case committed:
		observability.RecordCacheCommit("success")
		slog.Info("[CacheSetAtomicSuccess]", "rawKey", rawKey, "canonicalKey", canonicalKey)
	default:
		observability.RecordCacheCommit("owner_mismatch")
		slog.Info("[CacheSetAtomicSkippedOwnerMismatch]", "key", canonicalKey)
	}

	return result, nil
}

// compute runs the RAG pipeline inside an admission slot. The slot covers
// only retrieve + generate, not the cache commit.
func (s *CachedRAGService) compute(ctx context.Context, question, canonicalQuery string, historyMessages []datatypes.Message) (*datatypes.RagResponse, error) {
	release, err := s.admission.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	result, err := s.rag.AnswerWithSearchQuery(ctx, question, canonicalQuery, historyMessages)
	release()
	return result, err
}

// pollForResult waits for the lock owner's commit to appear under the
// canonical key, giving up after the configured wait window.
func (s *CachedRAGService) pollForResult(ctx context.Context, canonicalKey string) (*datatypes.RagResponse, error) {
	deadline := time.Now().Add(s.opts.LockWait)
	for time.Now().Before(deadline) {
		if resp, ok := s.store.GetAnswer(ctx, canonicalKey); ok {
			observability.RecordCacheHit("after_wait")
			slog.Info("[CacheHitAfterWait]", "key", canonicalKey)
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.opts.LockPoll):
		}
	}

	observability.RecordLockOutcome("wait_timeout")
	return nil, &services.CacheWaitTimeoutError{Key: canonicalKey}
}
