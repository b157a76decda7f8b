// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides the business logic behind the chat endpoints.
//
// This package contains service structs that encapsulate business logic,
// separating it from HTTP handlers. Services are responsible for:
//   - Orchestrating retrieval, prompt assembly, and model calls
//   - Applying admission control around expensive generation work
//   - Mapping failures onto the package's error taxonomy
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors
//   - Composable: Services can call other services
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/springqna/springqna/services/llm"
	"github.com/springqna/springqna/services/server/datatypes"
	"github.com/springqna/springqna/services/server/query"
	"github.com/springqna/springqna/services/server/retrieval"
)

// ragTracer is the OpenTelemetry tracer for RAGService operations.
var ragTracer = otel.Tracer("springqna.services.rag")

// =============================================================================
// Interfaces
// =============================================================================

// StreamEmitter receives the events of one streamed RAG answer in order:
// zero or more Chunk calls, then exactly one Answer call whose content is
// the byte-for-byte concatenation of all chunks, then exactly one Sources
// call. A non-nil return from any method aborts the stream.
//
// Implementations translate events onto a transport (SSE frames, websocket
// messages); they must not reorder or buffer across calls.
type StreamEmitter interface {
	// Chunk delivers one incremental answer fragment.
	Chunk(content string) error

	// Answer delivers the complete answer text after all chunks.
	Answer(content string) error

	// Sources delivers the numbered source documents, after the answer.
	Sources(sources []datatypes.SourceDocument) error
}

// =============================================================================
// RAGService
// =============================================================================

// RAGService answers questions over the indexed Spring documentation:
// retrieve top passages for the search-side query, ground the model in a
// numbered context block, and return or stream the answer with its sources.
//
// Two queries flow through each request. Retrieval and cache keys use the
// canonical search query (history-aware rewrite plus normalization); the
// model answers the question exactly as the user typed it.
//
// There are no retries and no fallbacks anywhere in this path. A failed
// retrieval or generation surfaces one typed error and the request is over.
type RAGService struct {
	retriever retrieval.Retriever
	llmClient llm.LLMClient
	rewriter  *query.Rewriter
	admission *AdmissionGuard
}

// NewRAGService creates a RAGService with the provided dependencies.
// Panics if any dependency is nil so wiring bugs die at startup.
func NewRAGService(
	retriever retrieval.Retriever,
	llmClient llm.LLMClient,
	rewriter *query.Rewriter,
	admission *AdmissionGuard,
) *RAGService {
	if retriever == nil {
		panic("NewRAGService: retriever cannot be nil")
	}
	if llmClient == nil {
		panic("NewRAGService: llmClient cannot be nil")
	}
	if rewriter == nil {
		panic("NewRAGService: rewriter cannot be nil")
	}
	if admission == nil {
		panic("NewRAGService: admission guard cannot be nil")
	}

	return &RAGService{
		retriever: retriever,
		llmClient: llmClient,
		rewriter:  rewriter,
		admission: admission,
	}
}

// BuildSearchQuery exposes the rewrite+normalize step so the cache layer can
// compute its canonical key once and reuse it for the actual retrieval.
func (s *RAGService) BuildSearchQuery(ctx context.Context, question string, history []datatypes.Message) string {
	return s.rewriter.BuildSearchQuery(ctx, question, history)
}

// =============================================================================
// Synchronous Answering
// =============================================================================

// Answer produces a complete RAG answer for one question.
//
// The processing flow is:
//  1. Map wire history onto the internal conversation vocabulary
//  2. Build the canonical search query (rewrite + normalize)
//  3. Acquire an admission slot
//  4. Retrieve passages, assemble the grounded prompt, call the model
//
// Errors are ValidationError, RagOverloadedError, RetrievalError, or
// GenerationError.
func (s *RAGService) Answer(ctx context.Context, question string, history []datatypes.HistoryMessage) (*datatypes.RagResponse, error) {
	ctx, span := ragTracer.Start(ctx, "RAGService.Answer")
	defer span.End()

	question = strings.TrimSpace(question)
	if question == "" {
		err := &ValidationError{Message: "message is required"}
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty question")
		return nil, err
	}

	historyMessages := MapHistory(history)
	searchQuery := s.rewriter.BuildSearchQuery(ctx, question, historyMessages)

	release, err := s.admission.Acquire(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "admission rejected")
		return nil, err
	}
	defer release()

	return s.answerWithSearchQuery(ctx, question, searchQuery, historyMessages)
}

// AnswerWithSearchQuery runs retrieval and generation with a precomputed
// canonical query. The cache layer calls this inside its own admission slot
// and singleflight bookkeeping, so this method does not acquire a slot.
func (s *RAGService) AnswerWithSearchQuery(ctx context.Context, question, searchQuery string, history []datatypes.Message) (*datatypes.RagResponse, error) {
	return s.answerWithSearchQuery(ctx, question, searchQuery, history)
}

func (s *RAGService) answerWithSearchQuery(ctx context.Context, question, searchQuery string, history []datatypes.Message) (*datatypes.RagResponse, error) {
	ctx, span := ragTracer.Start(ctx, "RAGService.answerWithSearchQuery")
	defer span.End()
	span.SetAttributes(
		attribute.String("rag.search_query", searchQuery),
		attribute.Int("rag.history_turns", len(history)),
	)

	passages, err := s.retriever.Retrieve(ctx, searchQuery)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, &RetrievalError{Err: err}
	}
	span.SetAttributes(attribute.Int("rag.passages", len(passages)))
	slog.Info("Retrieved passages", "count", len(passages), "query", searchQuery)

	messages := BuildPromptMessages(
		BuildRAGSystemPrompt(BuildContextBlock(passages)),
		history,
		question,
	)

	answer, err := s.llmClient.Chat(ctx, messages, llm.GenerationParams{
		Temperature: llm.Float32Ptr(0),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, &GenerationError{Err: err}
	}

	span.SetAttributes(attribute.Int("rag.answer_bytes", len(answer)))
	return datatypes.NewRagResponse(answer, BuildSources(passages)), nil
}

// =============================================================================
// Streaming Answering
// =============================================================================

// AnswerStream is Answer with incremental delivery. Events arrive on emit in
// the order the StreamEmitter contract requires; the admission slot is held
// for the whole stream since the model generates for its full duration.
//
// An error before the first Chunk call means nothing was written and the
// caller can still send an ordinary error response. An error after that
// means the stream died mid-flight; the caller must terminate the connection
// without a done sentinel.
func (s *RAGService) AnswerStream(ctx context.Context, question string, history []datatypes.HistoryMessage, emit StreamEmitter) error {
	ctx, span := ragTracer.Start(ctx, "RAGService.AnswerStream")
	defer span.End()

	question = strings.TrimSpace(question)
	if question == "" {
		err := &ValidationError{Message: "message is required"}
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty question")
		return err
	}

	historyMessages := MapHistory(history)
	searchQuery := s.rewriter.BuildSearchQuery(ctx, question, historyMessages)

	release, err := s.admission.Acquire(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "admission rejected")
		return err
	}
	defer release()

	passages, err := s.retriever.Retrieve(ctx, searchQuery)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return &RetrievalError{Err: err}
	}
	span.SetAttributes(attribute.Int("rag.passages", len(passages)))
	slog.Info("Retrieved passages", "count", len(passages), "query", searchQuery)

	messages := BuildPromptMessages(
		BuildRAGSystemPrompt(BuildContextBlock(passages)),
		historyMessages,
		question,
	)

	var accumulated strings.Builder
	err = s.llmClient.ChatStream(ctx, messages, llm.GenerationParams{
		Temperature: llm.Float32Ptr(0),
	}, func(event llm.StreamEvent) error {
		if event.Type != llm.StreamEventToken || event.Content == "" {
			return nil
		}
		accumulated.WriteString(event.Content)
		return emit.Chunk(event.Content)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return &GenerationError{Err: err}
	}

	// The answer event restates the full text; equality with the chunk
	// concatenation is a contract, so it comes from the same builder.
	if err := emit.Answer(accumulated.String()); err != nil {
		span.RecordError(err)
		return err
	}
	if err := emit.Sources(BuildSources(passages)); err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(attribute.Int("rag.answer_bytes", accumulated.Len()))
	return nil
}
