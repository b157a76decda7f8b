// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// =============================================================================
// Streaming Event Types
// =============================================================================

// Event type discriminators carried in the "type" field of every SSE data
// payload. A completed stream is: zero or more chunk events, exactly one
// answer event, exactly one sources event, then the DoneSentinel line.
const (
	StreamEventChunk   = "chunk"
	StreamEventAnswer  = "answer"
	StreamEventSources = "sources"
)

// DoneSentinel is the literal data payload of the final SSE frame. It is the
// only authoritative end-of-stream signal; a stream that terminates without
// it must be treated as failed by clients.
const DoneSentinel = "[DONE]"

// ChunkEvent carries one incremental answer fragment. Concatenating the
// Content of every chunk in emission order reproduces the final answer
// byte-for-byte.
type ChunkEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// AnswerEvent carries the complete final answer after all chunks.
type AnswerEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// SourcesEvent carries the numbered source documents backing the answer.
// Sources always marshals as an array, [] when nothing was retrieved.
type SourcesEvent struct {
	Type    string           `json:"type"`
	Sources []SourceDocument `json:"sources"`
}

// NewChunkEvent builds a chunk event for one answer fragment.
func NewChunkEvent(content string) ChunkEvent {
	return ChunkEvent{Type: StreamEventChunk, Content: content}
}

// NewAnswerEvent builds the final answer event.
func NewAnswerEvent(content string) AnswerEvent {
	return AnswerEvent{Type: StreamEventAnswer, Content: content}
}

// NewSourcesEvent builds the sources event, normalizing nil to [].
func NewSourcesEvent(sources []SourceDocument) SourcesEvent {
	if sources == nil {
		sources = make([]SourceDocument, 0)
	}
	return SourcesEvent{Type: StreamEventSources, Sources: sources}
}
