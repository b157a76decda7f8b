// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Error Types
// =============================================================================
//
// Every failure in the serve path maps to exactly one of these types so
// handlers can pick a status code without string matching. None of them
// trigger retries; a failed request reports its single error and stops.

// ValidationError is returned when a request fails validation before any
// upstream call is made. Handlers map it to HTTP 400.
type ValidationError struct {
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RetrievalError wraps a vector store failure. The underlying error names
// the backend. Handlers map it to HTTP 500.
type RetrievalError struct {
	Err error
}

// Error implements the error interface.
func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed: %v", e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// IsRetrievalError checks if an error is a RetrievalError.
func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}

// GenerationError wraps an LLM backend failure, for both full completions
// and streams that die before finishing. Handlers map it to HTTP 500 when
// no bytes have been written; mid-stream the connection just terminates.
type GenerationError struct {
	Err error
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *GenerationError) Unwrap() error {
	return e.Err
}

// IsGenerationError checks if an error is a GenerationError.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

// RagOverloadedError is returned when a request cannot obtain a generation
// slot within the admission wait window. Handlers map it to HTTP 503 with a
// Retry-After header, before any stream bytes.
type RagOverloadedError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RagOverloadedError) Error() string {
	return fmt.Sprintf("rag overloaded, retry after %s", e.RetryAfter)
}

// IsRagOverloadedError checks if an error is a RagOverloadedError.
func IsRagOverloadedError(err error) bool {
	var oe *RagOverloadedError
	return errors.As(err, &oe)
}

// CacheWaitTimeoutError is returned when a request lost the answer lock and
// the owner's result never appeared in the cache within the wait window.
// Handlers map it to HTTP 503.
type CacheWaitTimeoutError struct {
	Key string
}

// Error implements the error interface.
func (e *CacheWaitTimeoutError) Error() string {
	return fmt.Sprintf("cache wait timeout key=%s", e.Key)
}

// IsCacheWaitTimeoutError checks if an error is a CacheWaitTimeoutError.
func IsCacheWaitTimeoutError(err error) bool {
	var ce *CacheWaitTimeoutError
	return errors.As(err, &ce)
}

// AgentDisabledError is returned when the agent endpoint is called but the
// deployment has no web search configured. Handlers map it to HTTP 503.
type AgentDisabledError struct {
	Reason string
}

// Error implements the error interface.
func (e *AgentDisabledError) Error() string {
	return fmt.Sprintf("agent disabled: %s", e.Reason)
}

// IsAgentDisabledError checks if an error is an AgentDisabledError.
func IsAgentDisabledError(err error) bool {
	var ae *AgentDisabledError
	return errors.As(err, &ae)
}
