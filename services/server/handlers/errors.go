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
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/springqna/springqna/services/server/observability"
	"github.com/springqna/springqna/services/server/services"
)

// Error codes reported on the errors_total metric.
const (
	errCodeValidation       = "validation"
	errCodeRetrieval        = "retrieval"
	errCodeGeneration       = "generation"
	errCodeOverloaded       = "overloaded"
	errCodeCacheWaitTimeout = "cache_wait_timeout"
	errCodeAgentDisabled    = "agent_disabled"
	errCodeInternal         = "internal"
)

// errorCode maps a service error onto its metric code.
func errorCode(err error) string {
	switch {
	case services.IsValidationError(err):
		return errCodeValidation
	case services.IsRetrievalError(err):
		return errCodeRetrieval
	case services.IsGenerationError(err):
		return errCodeGeneration
	case services.IsRagOverloadedError(err):
		return errCodeOverloaded
	case services.IsCacheWaitTimeoutError(err):
		return errCodeCacheWaitTimeout
	case services.IsAgentDisabledError(err):
		return errCodeAgentDisabled
	default:
		return errCodeInternal
	}
}

// writeServiceError maps a service error onto a single HTTP error response.
//
// Status mapping:
//   - ValidationError: 400, the request never reached an upstream service
//   - RagOverloadedError: 503 with a Retry-After header
//   - CacheWaitTimeoutError, AgentDisabledError: 503
//   - RetrievalError, GenerationError, anything else: 500
//
// There is exactly one error response per failed request; nothing here
// retries or degrades to a partial answer.
func writeServiceError(c *gin.Context, err error) {
	code := errorCode(err)
	observability.RecordHTTPError(c.FullPath(), code)

	switch code {
	case errCodeValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errCodeOverloaded:
		var retryAfter int64 = 1
		var oe *services.RagOverloadedError
		if errors.As(err, &oe) {
			if secs := int64(oe.RetryAfter.Seconds()); secs > 1 {
				retryAfter = secs
			}
		}
		c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service is handling too many requests, retry shortly"})
	case errCodeCacheWaitTimeout:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "timed out waiting for an in-flight answer, retry shortly"})
	case errCodeAgentDisabled:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		slog.Error("Request failed", "endpoint", c.FullPath(), "code", code, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
