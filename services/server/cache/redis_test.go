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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/springqna/springqna/services/server/datatypes"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewStore(client)
}

func TestQuestionHash(t *testing.T) {
	assert.Equal(t,
		"0dabaacd2434bd089928993ea946f8326e54308113b71821004c7931118046bc",
		QuestionHash("spring-boot 자동 설정"))
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		QuestionHash(""))
}

func TestKeyBuilders(t *testing.T) {
	key := AnswerKey("2", "abc123")
	assert.Equal(t, "ans:p2:abc123", key)
	assert.Equal(t, "lock:ans:p2:abc123", LockKey(key))
}

func TestStore_GetAnswer(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	_, ok := store.GetAnswer(ctx, "missing")
	assert.False(t, ok)

	require.NoError(t, mr.Set("good", `{"answer":"답변","sources":[{"index":1,"source_url":"u","page_content":"c"}]}`))
	resp, ok := store.GetAnswer(ctx, "good")
	require.True(t, ok)
	assert.Equal(t, "답변", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, 1, resp.Sources[0].Index)

	require.NoError(t, mr.Set("corrupt", "not json"))
	_, ok = store.GetAnswer(ctx, "corrupt")
	assert.False(t, ok)

	// Entries written with null sources still decode to an empty array.
	require.NoError(t, mr.Set("nullsources", `{"answer":"a","sources":null}`))
	resp, ok = store.GetAnswer(ctx, "nullsources")
	require.True(t, ok)
	require.NotNil(t, resp.Sources)
	assert.Len(t, resp.Sources, 0)
}

func TestStore_AcquireLock(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	token, acquired, err := store.AcquireLock(ctx, "lock:k", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	assert.NotEmpty(t, token)

	// Held locks are reported as a miss, not an error.
	_, acquired, err = store.AcquireLock(ctx, "lock:k", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	// Expiry frees the lock.
	mr.FastForward(2 * time.Minute)
	_, acquired, err = store.AcquireLock(ctx, "lock:k", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestStore_AcquireLock_RedisDown(t *testing.T) {
	mr, store := newTestStore(t)
	mr.Close()

	_, acquired, err := store.AcquireLock(context.Background(), "lock:k", time.Minute)
	assert.Error(t, err)
	assert.False(t, acquired)
}

func TestStore_ReleaseLock_OnlyOwnerDeletes(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	token, acquired, err := store.AcquireLock(ctx, "lock:k", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	store.ReleaseLock(ctx, "lock:k", "someone-else")
	assert.True(t, mr.Exists("lock:k"))

	store.ReleaseLock(ctx, "lock:k", token)
	assert.False(t, mr.Exists("lock:k"))
}

func TestStore_CommitIfOwner(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()
	value := datatypes.NewRagResponse("답변", nil)

	token, acquired, err := store.AcquireLock(ctx, "lock:ans", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	committed, err := store.CommitIfOwner(ctx, "lock:ans", token, "ans:canonical", "ans:raw", value, time.Hour)
	require.NoError(t, err)
	assert.True(t, committed)

	// Both keys carry the payload with a TTL; the lock is gone.
	assert.True(t, mr.Exists("ans:canonical"))
	assert.True(t, mr.Exists("ans:raw"))
	assert.False(t, mr.Exists("lock:ans"))
	assert.Greater(t, mr.TTL("ans:canonical"), time.Duration(0))

	resp, ok := store.GetAnswer(ctx, "ans:raw")
	require.True(t, ok)
	assert.Equal(t, "답변", resp.Answer)
}

func TestStore_CommitIfOwner_SkipsRawKeyWhenEmpty(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	token, acquired, err := store.AcquireLock(ctx, "lock:ans", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	committed, err := store.CommitIfOwner(ctx, "lock:ans", token, "ans:canonical", "", datatypes.NewRagResponse("a", nil), time.Hour)
	require.NoError(t, err)
	assert.True(t, committed)
	assert.True(t, mr.Exists("ans:canonical"))
	assert.False(t, mr.Exists("lock:ans"))
}

func TestStore_CommitIfOwner_OwnerMismatchIsNoOp(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("lock:ans", "foreign-token"))

	committed, err := store.CommitIfOwner(ctx, "lock:ans", "my-token", "ans:canonical", "ans:raw", datatypes.NewRagResponse("a", nil), time.Hour)
	require.NoError(t, err)
	assert.False(t, committed)
	assert.False(t, mr.Exists("ans:canonical"))
	assert.False(t, mr.Exists("ans:raw"))
	// The foreign lock survives.
	assert.True(t, mr.Exists("lock:ans"))
}

func TestNewRedisClient(t *testing.T) {
	client, err := NewRedisClient("redis://localhost:6379/0")
	require.NoError(t, err)
	require.NotNil(t, client)
	client.Close()

	_, err = NewRedisClient("not a url")
	assert.Error(t, err)
}

func TestNewStore_PanicsOnNilClient(t *testing.T) {
	assert.Panics(t, func() { NewStore(nil) })
}
