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
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/springqna/springqna/services/server/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes the streaming chat wire format: one `data: <json>` frame
// per event, blank-line terminated, flushed immediately, closed by the
// literal `data: [DONE]` sentinel frame.
//
// # Description
//
// SSEWriter abstracts event serialization and writing, separating the wire
// format from HTTP response mechanics so streaming handlers are testable
// against a recorder. The frame sequence of a completed stream is:
//
//	data: {"type":"chunk","content":"..."}     (zero or more)
//	data: {"type":"answer","content":"..."}    (exactly one)
//	data: {"type":"sources","sources":[...]}   (exactly one)
//	data: [DONE]
//
// A stream that ends without the [DONE] frame failed; clients must not
// treat silence as completion, since transport truncation is otherwise
// indistinguishable from a finished answer.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Writes are serialized
// internally so frames never interleave.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before the first write
//   - The underlying ResponseWriter supports http.Flusher
type SSEWriter interface {
	// WriteChunk writes one incremental answer fragment.
	WriteChunk(content string) error

	// WriteAnswer writes the complete answer after all chunks.
	WriteAnswer(content string) error

	// WriteSources writes the numbered source documents.
	WriteSources(sources []datatypes.SourceDocument) error

	// WriteDone writes the terminal [DONE] sentinel frame.
	WriteDone() error
}

// =============================================================================
// Implementation
// =============================================================================

// sseWriter implements SSEWriter over an http.ResponseWriter.
type sseWriter struct {
	mu      sync.Mutex
	writer  http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter wraps a ResponseWriter for SSE output.
//
// # Outputs
//
//   - SSEWriter: Ready to write frames.
//   - error: Non-nil if the ResponseWriter does not support flushing.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{writer: w, flusher: flusher}, nil
}

// writeFrame serializes payload and writes one data frame, flushing so the
// client sees the event before the next model fragment arrives.
func (w *sseWriter) writeFrame(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// WriteChunk writes one incremental answer fragment.
func (w *sseWriter) WriteChunk(content string) error {
	return w.writeFrame(datatypes.NewChunkEvent(content))
}

// WriteAnswer writes the complete answer after all chunks.
func (w *sseWriter) WriteAnswer(content string) error {
	return w.writeFrame(datatypes.NewAnswerEvent(content))
}

// WriteSources writes the numbered source documents.
func (w *sseWriter) WriteSources(sources []datatypes.SourceDocument) error {
	return w.writeFrame(datatypes.NewSourcesEvent(sources))
}

// WriteDone writes the terminal sentinel. The payload is the raw string
// [DONE], not JSON; it is the only authoritative end-of-stream signal.
func (w *sseWriter) WriteDone() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", datatypes.DoneSentinel); err != nil {
		return fmt.Errorf("write done sentinel: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures response headers for SSE streaming.
//
// Must be called before any response body is written. X-Accel-Buffering
// disables proxy buffering so chunks reach the client as they are emitted.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
