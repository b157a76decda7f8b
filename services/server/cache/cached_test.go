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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/springqna/springqna/services/llm"
	"github.com/springqna/springqna/services/server/datatypes"
	"github.com/springqna/springqna/services/server/query"
	"github.com/springqna/springqna/services/server/retrieval"
	"github.com/springqna/springqna/services/server/services"
)

// cacheMockLLM answers every chat with a fixed string. The optional delay
// keeps a computation in flight long enough for concurrency tests.
type cacheMockLLM struct {
	answer string
	delay  time.Duration
	calls  atomic.Int32
}

func (m *cacheMockLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	m.calls.Add(1)
	return m.answer, nil
}

func (m *cacheMockLLM) Chat(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (string, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.calls.Add(1)
	return m.answer, nil
}

func (m *cacheMockLLM) ChatStream(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams, callback llm.StreamCallback) error {
	m.calls.Add(1)
	if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: m.answer}); err != nil {
		return err
	}
	return callback(llm.StreamEvent{Type: llm.StreamEventDone})
}

type cacheMockRetriever struct {
	passages []retrieval.Passage
	calls    atomic.Int32
}

func (m *cacheMockRetriever) Retrieve(ctx context.Context, q string) ([]retrieval.Passage, error) {
	m.calls.Add(1)
	return m.passages, nil
}

type cachedFixture struct {
	mr       *miniredis.Miniredis
	svc      *CachedRAGService
	llm      *cacheMockLLM
	rewrite  *cacheMockLLM
	retrieve *cacheMockRetriever
}

func newCachedFixture(t *testing.T, opts Options) *cachedFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	llmMock := &cacheMockLLM{answer: "계산된 답변 [1]"}
	rewriteMock := &cacheMockLLM{answer: "다시 쓴 검색어"}
	retrieveMock := &cacheMockRetriever{passages: []retrieval.Passage{
		{Content: "문서 내용", SourceURL: "https://docs.spring.io/doc", Score: 0.9},
	}}

	guard := services.NewAdmissionGuard(4, time.Second, time.Second)
	rag := services.NewRAGService(retrieveMock, llmMock, query.NewRewriter(rewriteMock), guard)

	return &cachedFixture{
		mr:       mr,
		svc:      NewCachedRAGService(rag, NewStore(client), guard, opts),
		llm:      llmMock,
		rewrite:  rewriteMock,
		retrieve: retrieveMock,
	}
}

func TestCachedRAGService_ComputesOnceThenServesFromCache(t *testing.T) {
	f := newCachedFixture(t, Options{PipelineVersion: "1"})
	ctx := context.Background()
	question := "Spring Boot 자동 설정"

	first, err := f.svc.Answer(ctx, question, nil)
	require.NoError(t, err)
	assert.Equal(t, "계산된 답변 [1]", first.Answer)
	require.Len(t, first.Sources, 1)
	assert.Equal(t, int32(1), f.llm.calls.Load())

	// The commit wrote both the raw and the canonical key and dropped the
	// lock.
	rawKey := AnswerKey("1", QuestionHash(question))
	canonicalKey := AnswerKey("1", QuestionHash("spring-boot 자동 설정"))
	assert.NotEqual(t, rawKey, canonicalKey)
	assert.True(t, f.mr.Exists(rawKey))
	assert.True(t, f.mr.Exists(canonicalKey))
	assert.False(t, f.mr.Exists(LockKey(canonicalKey)))

	// Same text again: raw-tier hit, no new compute.
	second, err := f.svc.Answer(ctx, question, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, first.Sources, second.Sources)
	assert.Equal(t, int32(1), f.llm.calls.Load())

	// A variant that normalizes to the same canonical query also hits.
	third, err := f.svc.Answer(ctx, "SpringBoot   자동 설정", nil)
	require.NoError(t, err)
	assert.Equal(t, first.Answer, third.Answer)
	assert.Equal(t, int32(1), f.llm.calls.Load())
}

func TestCachedRAGService_HistoryBypassesRawTier(t *testing.T) {
	f := newCachedFixture(t, Options{PipelineVersion: "1"})
	ctx := context.Background()
	question := "배치 재시작 방법"

	_, err := f.svc.Answer(ctx, question, nil)
	require.NoError(t, err)
	require.Equal(t, int32(1), f.llm.calls.Load())

	// With history the cached raw entry for the identical text must not be
	// trusted; the rewritten canonical query misses and recomputes.
	history := []datatypes.HistoryMessage{
		{Role: "human", Content: "스프링 배치란?"},
		{Role: "ai", Content: "배치 프레임워크입니다."},
	}
	_, err = f.svc.Answer(ctx, question, history)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.llm.calls.Load())
	assert.Equal(t, int32(1), f.rewrite.calls.Load())
}

func TestCachedRAGService_EmptyQuestion(t *testing.T) {
	f := newCachedFixture(t, Options{})

	_, err := f.svc.Answer(context.Background(), "   ", nil)

	assert.True(t, services.IsValidationError(err))
	assert.Empty(t, f.mr.Keys())
}

func TestCachedRAGService_RedisDownStillAnswers(t *testing.T) {
	f := newCachedFixture(t, Options{})
	f.mr.Close()

	resp, err := f.svc.Answer(context.Background(), "질문", nil)

	require.NoError(t, err)
	assert.Equal(t, "계산된 답변 [1]", resp.Answer)
	assert.Equal(t, int32(1), f.llm.calls.Load())
}

func TestCachedRAGService_LockLoserGetsCommittedAnswer(t *testing.T) {
	f := newCachedFixture(t, Options{PipelineVersion: "1", LockWait: 2 * time.Second, LockPoll: 10 * time.Millisecond})
	ctx := context.Background()

	// "테스트 질문" normalizes to itself, so the canonical key is knowable
	// up front.
	canonicalKey := AnswerKey("1", QuestionHash("테스트 질문"))
	require.NoError(t, f.mr.Set(LockKey(canonicalKey), "foreign-owner"))

	type answerResult struct {
		resp *datatypes.RagResponse
		err  error
	}
	done := make(chan answerResult, 1)
	go func() {
		resp, err := f.svc.Answer(ctx, "테스트 질문", nil)
		done <- answerResult{resp, err}
	}()

	// Let the request reach the polling loop, then commit on its behalf.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, f.mr.Set(canonicalKey, `{"answer":"캐시된 답변","sources":[]}`))

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "캐시된 답변", res.resp.Answer)
	assert.Equal(t, int32(0), f.llm.calls.Load())
}

func TestCachedRAGService_LockWaitTimeout(t *testing.T) {
	f := newCachedFixture(t, Options{PipelineVersion: "1", LockWait: 60 * time.Millisecond, LockPoll: 10 * time.Millisecond})

	canonicalKey := AnswerKey("1", QuestionHash("테스트 질문"))
	require.NoError(t, f.mr.Set(LockKey(canonicalKey), "foreign-owner"))

	_, err := f.svc.Answer(context.Background(), "테스트 질문", nil)

	require.True(t, services.IsCacheWaitTimeoutError(err))
	var timeout *services.CacheWaitTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, canonicalKey, timeout.Key)
	assert.Equal(t, int32(0), f.llm.calls.Load())
}

func TestCachedRAGService_ConcurrentRequestsComputeOnce(t *testing.T) {
	f := newCachedFixture(t, Options{})
	f.llm.delay = 100 * time.Millisecond
	ctx := context.Background()

	var wg sync.WaitGroup
	answers := make([]string, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.svc.Answer(ctx, "동시 질문", nil)
			if resp != nil {
				answers[i] = resp.Answer
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, answers[0], answers[1])
	// Whether the second request joined the flight or hit the fresh cache
	// entry, only one computation ran.
	assert.Equal(t, int32(1), f.llm.calls.Load())
}

func TestNewCachedRAGService_Defaults(t *testing.T) {
	f := newCachedFixture(t, Options{})

	assert.Equal(t, "1", f.svc.opts.PipelineVersion)
	assert.Equal(t, time.Hour, f.svc.opts.AnswerTTL)
	assert.Equal(t, 2*time.Minute, f.svc.opts.LockTTL)
	assert.Equal(t, time.Minute, f.svc.opts.LockWait)
	assert.Equal(t, 10*time.Millisecond, f.svc.opts.LockPoll)
}

func TestNewCachedRAGService_PanicsOnNilDependencies(t *testing.T) {
	f := newCachedFixture(t, Options{})
	guard := services.NewAdmissionGuard(1, time.Second, time.Second)

	assert.Panics(t, func() { NewCachedRAGService(nil, f.svc.store, guard, Options{}) })
	assert.Panics(t, func() { NewCachedRAGService(f.svc.rag, nil, guard, Options{}) })
	assert.Panics(t, func() { NewCachedRAGService(f.svc.rag, f.svc.store, nil, Options{}) })
}
