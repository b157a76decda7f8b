// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/springqna/springqna/services/server/datatypes"
)

// =============================================================================
// Keys
// =============================================================================

// QuestionHash returns the SHA-256 hex digest of the query text.
func QuestionHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// AnswerKey builds the cache key for an answer. The pipeline version is part
// of the key so a prompt or pipeline change invalidates old entries by
// construction.
func AnswerKey(pipeVersion, qhash string) string {
	return fmt.Sprintf("ans:p%s:%s", pipeVersion, qhash)
}

// LockKey builds the distributed lock key guarding one answer key.
func LockKey(answerKey string) string {
	return fmt.Sprintf("lock:%s", answerKey)
}

// =============================================================================
// Lua Scripts
// =============================================================================

// releaseLockScript deletes the lock only while we still own it.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
else
  return 0
end
`)

// commitAndReleaseScript writes the answer and releases the lock in one
// atomic step. The write happens only if the lock still carries our token;
// a second SET covers the raw-question key when ARGV[4] is '1'.
var commitAndReleaseScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current ~= ARGV[1] then
  return 0
end

redis.call('SET', KEYS[2], ARGV[2], 'EX', tonumber(ARGV[3]))

if ARGV[4] == '1' then
  redis.call('SET', KEYS[3], ARGV[2], 'EX', tonumber(ARGV[3]))
end

redis.call('DEL', KEYS[1])
return 1
`)

// =============================================================================
// Store
// =============================================================================

// NewRedisClient builds a client from a redis:// URL.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Store wraps the Redis operations the answer cache needs. Read and write
// failures are logged and reported as misses; only lock acquisition
// distinguishes "held by someone else" from "Redis unreachable" because the
// caller reacts differently to the two.
type Store struct {
	client redis.UniversalClient
}

// NewStore creates a Store. Panics on a nil client so wiring bugs die at
// startup.
func NewStore(client redis.UniversalClient) *Store {
	if client == nil {
		panic("NewStore: redis client cannot be nil")
	}
	return &Store{client: client}
}

// GetAnswer fetches and decodes a cached answer. Any miss, Redis error, or
// undecodable payload reports ok=false.
func (s *Store) GetAnswer(ctx context.Context, key string) (*datatypes.RagResponse, bool) {
	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Error("[RedisGetError]", "key", key, "error", err)
		}
		return nil, false
	}

	var resp datatypes.RagResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		slog.Error("[RedisGetError]", "key", key, "error", err)
		return nil, false
	}
	if resp.Sources == nil {
		resp.Sources = make([]datatypes.SourceDocument, 0)
	}
	return &resp, true
}

// AcquireLock tries to take the lock with a fresh owner token.
//
// # Outputs
//
//	token - The owner token; empty unless acquired.
//	acquired - True when this caller now holds the lock.
//	err - Non-nil when Redis itself failed, so the caller can fall back to
//	      computing without the cache instead of polling a dead store.
func (s *Store) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (token string, acquired bool, err error) {
	token = uuid.NewString()
	ok, err := s.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		slog.Error("[RedisLockAcquireError]", "key", lockKey, "error", err)
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock deletes the lock if it still carries our token. Safe to call
// after an atomic commit already removed it.
func (s *Store) ReleaseLock(ctx context.Context, lockKey, token string) {
	if err := releaseLockScript.Run(ctx, s.client, []string{lockKey}, token).Err(); err != nil {
		slog.Error("[RedisLockReleaseError]", "key", lockKey, "error", err)
	}
}

// CommitIfOwner atomically writes the answer under canonicalKey (and rawKey
// when non-empty), then releases the lock, but only while the lock still
// carries the expected token.
//
// # Outputs
//
//	committed - True when the owner check passed and the write happened.
//	err - Non-nil when Redis failed; the answer is still served, just not
//	      cached.
func (s *Store) CommitIfOwner(ctx context.Context, lockKey, token, canonicalKey, rawKey string, value *datatypes.RagResponse, ttl time.Duration) (committed bool, err error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to encode cached answer: %w", err)
	}

	writeRaw := "0"
	rawTarget := canonicalKey
	if rawKey != "" {
		writeRaw = "1"
		rawTarget = rawKey
	}

	result, err := commitAndReleaseScript.Run(ctx, s.client,
		[]string{lockKey, canonicalKey, rawTarget},
		token, payload, int(ttl.Seconds()), writeRaw,
	).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}
