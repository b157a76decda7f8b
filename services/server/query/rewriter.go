// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/springqna/springqna/services/llm"
	"github.com/springqna/springqna/services/server/datatypes"
)

var queryTracer = otel.Tracer("springqna.query")

// rewriteInstruction asks the model for a single standalone line suitable
// for vector search, with conversation context folded in and nothing else
// in the output.
const rewriteInstruction = "아래 대화 기록과 마지막 사용자 질문을 참고하여, " +
	"벡터 DB 검색에 사용할 독립적인 한 줄 쿼리를 생성하세요.\n" +
	"대화 맥락을 반영해 질문의 의도를 명확히 드러내야 합니다.\n" +
	"쿼리 문장만 출력하고 다른 말은 절대 하지 마세요."

// Rewriter turns a follow-up question into a standalone search query using
// the chat backend.
type Rewriter struct {
	client llm.LLMClient
}

// NewRewriter creates a Rewriter. Panics on a nil client so wiring bugs die
// at startup.
func NewRewriter(client llm.LLMClient) *Rewriter {
	if client == nil {
		panic("NewRewriter: client cannot be nil")
	}
	return &Rewriter{client: client}
}

// Rewrite generates the standalone form of question given prior turns.
// History must already use the internal role vocabulary (user/assistant).
// Callers skip this for first questions; without history there is no
// context to fold in.
func (r *Rewriter) Rewrite(ctx context.Context, question string, history []datatypes.Message) (string, error) {
	ctx, span := queryTracer.Start(ctx, "Rewriter.Rewrite")
	defer span.End()

	messages := make([]datatypes.Message, 0, len(history)+2)
	messages = append(messages, datatypes.Message{Role: datatypes.RoleSystem, Content: rewriteInstruction})
	messages = append(messages, history...)
	messages = append(messages, datatypes.Message{Role: datatypes.RoleUser, Content: question})

	rewritten, err := r.client.Chat(ctx, messages, llm.GenerationParams{
		Temperature: llm.Float32Ptr(0),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rewrite failed")
		return "", fmt.Errorf("query rewrite failed: %w", err)
	}

	rewritten = strings.TrimSpace(rewritten)
	slog.Info("[QueryRewrite]", "original", question, "rewritten", rewritten)
	return rewritten, nil
}

// BuildSearchQuery returns the query used for cache keys and retrieval.
// With history the question is first rewritten into a standalone form;
// rewrite failures and empty rewrites fall back to the raw question. The
// result is normalized, and when normalization strips everything the
// unnormalized query is returned so retrieval still has something to work
// with.
func (r *Rewriter) BuildSearchQuery(ctx context.Context, question string, history []datatypes.Message) string {
	searchQuery := strings.TrimSpace(question)
	if len(history) > 0 {
		rewritten, err := r.Rewrite(ctx, question, history)
		if err != nil {
			slog.Warn("Query rewrite failed, using raw question", "error", err)
		} else if rewritten != "" {
			searchQuery = rewritten
		}
	}

	normalized := Normalize(searchQuery)
	slog.Info("[QueryNormalize]", "raw", searchQuery, "normalized", normalized)
	if normalized == "" {
		return searchQuery
	}
	return normalized
}
