// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response types for the QnA server.
//
// This file contains the chat request surface shared by every chat endpoint
// (example, project chat, RAG sync and streaming, agent). For RAG response
// types see rag.go; for SSE event types see stream.go.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message or
	// history entry. Byte length, not rune count, so oversized multi-byte
	// payloads cannot slip past the limit.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxHistoryMessages is the maximum number of prior turns a request
	// may carry. Clients are expected to truncate older turns.
	MaxHistoryMessages = 100
)

// History roles accepted on the wire. Anything else fails validation.
const (
	HistoryRoleHuman = "human"
	HistoryRoleAI    = "ai"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes reports whether a string field fits within
// MaxMessageContentBytes.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Chat Request Types
// =============================================================================

// HistoryMessage is one prior conversation turn as sent by the client.
//
// # Fields
//
//   - Role: "human" for user turns, "ai" for model turns. Other values are
//     rejected rather than silently dropped so a malformed client fails loudly.
//   - Content: The turn text, limited to 32KB.
type HistoryMessage struct {
	Role    string `json:"role" validate:"required,oneof=human ai"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// ChatRequest is the request body shared by all chat endpoints.
//
// # Description
//
// Carries the new user message plus optional prior turns in chronological
// order. History order is preserved verbatim when the prompt is assembled;
// the server never reorders or deduplicates turns.
//
// # Examples
//
//	{
//	    "message": "Spring Security란 무엇인가요?",
//	    "history": [
//	        {"role": "human", "content": "스프링이 뭐야?"},
//	        {"role": "ai", "content": "Spring은 자바 애플리케이션 프레임워크입니다."}
//	    ]
//	}
//
// # Limitations
//
//   - Message content limited to 32KB
//   - Maximum 100 history entries per request
type ChatRequest struct {
	Message string           `json:"message" validate:"required,maxbytes"`
	History []HistoryMessage `json:"history" validate:"omitempty,max=100,dive"`
}

// Validate validates the ChatRequest fields.
//
// Uses go-playground/validator tags plus the custom maxbytes validator.
// Call after binding the JSON body; a non-nil error means the request must
// be rejected with 400 before any upstream call is made.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// ChatResponse is the response body for non-RAG chat endpoints.
type ChatResponse struct {
	Answer string `json:"answer"`
}
