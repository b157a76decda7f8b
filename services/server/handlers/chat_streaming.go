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
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/springqna/springqna/services/server/datatypes"
	"github.com/springqna/springqna/services/server/observability"
	"github.com/springqna/springqna/services/server/services"
)

var streamTracer = otel.Tracer("springqna.handlers.stream")

// AnswerStreamer produces one streamed answer through a StreamEmitter.
// Satisfied by *services.RAGService and *services.AgentService.
type AnswerStreamer interface {
	AnswerStream(ctx context.Context, question string, history []datatypes.HistoryMessage, emit services.StreamEmitter) error
}

// =============================================================================
// StreamEmitter Adapter
// =============================================================================

// sseStreamEmitter adapts an SSEWriter to the services.StreamEmitter
// contract and keeps the per-stream bookkeeping the handler needs: whether
// any bytes went out (decides error handling strategy) and when the first
// chunk left (time-to-first-token metric).
type sseStreamEmitter struct {
	writer   SSEWriter
	endpoint string
	start    time.Time
	wroteAny bool
	ttftDone bool
}

func newSSEStreamEmitter(writer SSEWriter, endpoint string) *sseStreamEmitter {
	return &sseStreamEmitter{
		writer:   writer,
		endpoint: endpoint,
		start:    time.Now(),
	}
}

// Chunk forwards one answer fragment and records first-token latency once.
func (e *sseStreamEmitter) Chunk(content string) error {
	if !e.ttftDone {
		e.ttftDone = true
		observability.RecordTimeToFirstToken(e.endpoint, time.Since(e.start).Seconds())
	}
	e.wroteAny = true
	return e.writer.WriteChunk(content)
}

// Answer forwards the complete answer event.
func (e *sseStreamEmitter) Answer(content string) error {
	e.wroteAny = true
	return e.writer.WriteAnswer(content)
}

// Sources forwards the sources event.
func (e *sseStreamEmitter) Sources(sources []datatypes.SourceDocument) error {
	e.wroteAny = true
	return e.writer.WriteSources(sources)
}

var _ services.StreamEmitter = (*sseStreamEmitter)(nil)

// =============================================================================
// Streaming Handlers
// =============================================================================

// HandleRAGChatStream streams a RAG answer as server-sent events: chunk
// events as the model generates, then one answer event, one sources event,
// and the [DONE] sentinel. Streams are never cached.
func HandleRAGChatStream(rag AnswerStreamer) gin.HandlerFunc {
	return streamChat(rag, "HandleRAGChatStream")
}

// streamChat is the shared streaming request flow.
//
// Error handling has two regimes, split at the first emitted event:
//   - Before any event: the client gets an ordinary JSON error response
//     (400 validation, 503 overload with Retry-After, 500 otherwise).
//   - After the first event: the connection terminates without a [DONE]
//     sentinel. The missing sentinel is the failure signal; no error
//     payload is invented mid-stream.
func streamChat(streamer AnswerStreamer, spanName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := streamTracer.Start(c.Request.Context(), spanName)
		defer span.End()

		var req datatypes.ChatRequest
		if !bindChatRequest(c, &req) {
			span.SetStatus(codes.Error, "invalid request")
			return
		}

		endpoint := c.FullPath()
		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "streaming unsupported")
			clearSSEHeaders(c)
			writeServiceError(c, err)
			return
		}

		emitter := newSSEStreamEmitter(writer, endpoint)
		observability.StreamStarted(endpoint)
		status := "completed"
		defer func() {
			observability.StreamEnded(endpoint, status, time.Since(emitter.start).Seconds())
		}()

		if err := streamer.AnswerStream(ctx, req.Message, req.History, emitter); err != nil {
			status = "aborted"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())

			if !emitter.wroteAny && !c.Writer.Written() {
				// Nothing sent yet: a normal error response is still possible.
				clearSSEHeaders(c)
				writeServiceError(c, err)
				return
			}
			// Mid-stream failure: terminate without the [DONE] sentinel.
			observability.RecordHTTPError(endpoint, errorCode(err))
			slog.Error("Stream aborted mid-flight", "endpoint", endpoint, "error", err)
			return
		}

		if err := writer.WriteDone(); err != nil {
			status = "aborted"
			span.RecordError(err)
			slog.Warn("Failed to write done sentinel", "endpoint", endpoint, "error", err)
		}
	}
}

// clearSSEHeaders removes the streaming headers so an error response goes
// out as plain JSON. Only valid while the response is unwritten.
func clearSSEHeaders(c *gin.Context) {
	c.Writer.Header().Del("Content-Type")
	c.Writer.Header().Del("Cache-Control")
	c.Writer.Header().Del("Connection")
	c.Writer.Header().Del("X-Accel-Buffering")
}
