// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/springqna/springqna/services/server/datatypes"
)

var ragTracer = otel.Tracer("springqna.handlers.rag")

// RAGAnswerer produces one complete RAG answer. Both the plain RAGService
// and the cache-fronted CachedRAGService satisfy it, so deployments without
// Redis wire the service in directly.
type RAGAnswerer interface {
	Answer(ctx context.Context, question string, history []datatypes.HistoryMessage) (*datatypes.RagResponse, error)
}

// HandleRAGChat answers a question over the indexed documentation and
// returns the answer together with its numbered sources.
func HandleRAGChat(rag RAGAnswerer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := ragTracer.Start(c.Request.Context(), "HandleRAGChat")
		defer span.End()

		var req datatypes.ChatRequest
		if !bindChatRequest(c, &req) {
			span.SetStatus(codes.Error, "invalid request")
			return
		}

		resp, err := rag.Answer(ctx, req.Message, req.History)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}
